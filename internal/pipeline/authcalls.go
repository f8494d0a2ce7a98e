package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/pageflow/internal/auth"
)

// tokenResponse is the body of both /auth/login and /auth/refresh. The
// refresh response may omit refreshToken, meaning the old one stays valid.
type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// NewRefreshFunc returns the raw call against POST /auth/refresh. It uses a
// bare client on purpose: the refresh endpoint must never pass through the
// pipeline's own 401 interceptor, or an invalid refresh token would recurse.
func NewRefreshFunc(baseURL string) auth.RefreshFunc {
	client := &http.Client{Timeout: 15 * time.Second}
	baseURL = strings.TrimRight(baseURL, "/")
	return func(ctx context.Context, refreshToken string) (auth.Credential, error) {
		body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
		if err != nil {
			return auth.Credential{}, fmt.Errorf("marshal refresh request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/auth/refresh", bytes.NewReader(body))
		if err != nil {
			return auth.Credential{}, fmt.Errorf("build refresh request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return auth.Credential{}, &NetworkError{Err: err}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return auth.Credential{}, &NetworkError{Err: err}
		}
		if resp.StatusCode != http.StatusOK {
			return auth.Credential{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		}
		var tokens tokenResponse
		if err := json.Unmarshal(data, &tokens); err != nil {
			return auth.Credential{}, fmt.Errorf("decode refresh response: %w", err)
		}
		if tokens.AccessToken == "" {
			return auth.Credential{}, fmt.Errorf("refresh response missing access token")
		}
		return auth.Credential{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}, nil
	}
}

// Login authenticates with email/password. It runs unauthenticated, so a 401
// here is just a wrong password, not a trigger for the refresh machinery.
func Login(ctx context.Context, baseURL, email, password string) (auth.Credential, error) {
	client := &http.Client{Timeout: 15 * time.Second}
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return auth.Credential{}, fmt.Errorf("marshal login request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return auth.Credential{}, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return auth.Credential{}, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return auth.Credential{}, &NetworkError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return auth.Credential{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	var tokens tokenResponse
	if err := json.Unmarshal(data, &tokens); err != nil {
		return auth.Credential{}, fmt.Errorf("decode login response: %w", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return auth.Credential{}, fmt.Errorf("login response missing tokens")
	}
	return auth.Credential{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}, nil
}
