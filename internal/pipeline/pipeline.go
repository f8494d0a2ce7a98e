// Package pipeline is the authenticated HTTP path every other component
// sends through: it attaches the bearer token on the way out and, on a 401,
// refreshes the credential once and resends exactly once.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/user/pageflow/internal/auth"
)

// ErrUnauthenticated is terminal for a single request: the one
// refresh-and-retry attempt was spent and the server still said 401.
var ErrUnauthenticated = errors.New("unauthenticated")

// NetworkError is a transport-level failure. Transient; retrying is the
// caller's call.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// StatusError is any non-2xx response that is not handled by the auth
// interceptor. It passes through to the caller unchanged.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Body)
}

// Refresher yields a fresh credential, refreshing at most once in flight.
type Refresher interface {
	EnsureFresh(ctx context.Context) (auth.Credential, error)
}

// Pipeline sends authenticated JSON requests against a base URL.
type Pipeline struct {
	baseURL   string
	client    *http.Client
	streamer  *http.Client
	store     *auth.Store
	refresher Refresher
}

// New creates a Pipeline. The streaming client carries no overall timeout so
// long-lived event streams are not cut off mid-subscription.
func New(baseURL string, store *auth.Store, refresher Refresher) *Pipeline {
	return &Pipeline{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 30 * time.Second},
		streamer:  &http.Client{},
		store:     store,
		refresher: refresher,
	}
}

type requestOptions struct {
	query         url.Values
	subjectHeader bool
}

// RequestOption configures a single request.
type RequestOption func(*requestOptions)

// WithQuery adds a query parameter.
func WithQuery(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.query == nil {
			o.query = url.Values{}
		}
		o.query.Set(key, value)
	}
}

// WithSubjectHeader adds X-User-Id with the current subject id, for
// endpoints that scope by user without requiring the bearer token.
func WithSubjectHeader() RequestOption {
	return func(o *requestOptions) { o.subjectHeader = true }
}

// Do sends a JSON request and decodes a 2xx response body into out (when out
// is non-nil). It returns the response status code alongside any error, so
// callers that need to distinguish 200 from 202 can.
//
// On a 401 the pipeline refreshes the credential and resends exactly once; a
// second 401 surfaces as ErrUnauthenticated, never another refresh. A 401
// received when no token was attached passes through as a StatusError.
func (p *Pipeline) Do(ctx context.Context, method, path string, body any, out any, opts ...RequestOption) (int, error) {
	options := requestOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
	}

	token := ""
	if cred, ok := p.store.Get(); ok {
		token = cred.AccessToken
	}

	resp, err := p.roundTrip(ctx, method, path, payload, token, options)
	if err != nil {
		return 0, err
	}

	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		resp.Body.Close()
		cred, err := p.refresher.EnsureFresh(ctx)
		if err != nil {
			return http.StatusUnauthorized, err
		}
		slog.Debug("retrying request with rotated credential", "method", method, "path", path)
		resp, err = p.roundTrip(ctx, method, path, payload, cred.AccessToken, options)
		if err != nil {
			return 0, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			return http.StatusUnauthorized, ErrUnauthenticated
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, &NetworkError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// Stream opens a long-lived text/event-stream GET. The caller owns the
// response body. The same single refresh-and-retry rule applies to the
// handshake.
func (p *Pipeline) Stream(ctx context.Context, path string, opts ...RequestOption) (io.ReadCloser, error) {
	options := requestOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	token := ""
	if cred, ok := p.store.Get(); ok {
		token = cred.AccessToken
	}

	resp, err := p.openStream(ctx, path, token, options)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		resp.Body.Close()
		cred, err := p.refresher.EnsureFresh(ctx)
		if err != nil {
			return nil, err
		}
		resp, err = p.openStream(ctx, path, cred.AccessToken, options)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			return nil, ErrUnauthenticated
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return resp.Body, nil
}

func (p *Pipeline) roundTrip(ctx context.Context, method, path string, payload []byte, token string, options requestOptions) (*http.Response, error) {
	req, err := p.newRequest(ctx, method, path, payload, token, options)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	return resp, nil
}

func (p *Pipeline) openStream(ctx context.Context, path string, token string, options requestOptions) (*http.Response, error) {
	req, err := p.newRequest(ctx, http.MethodGet, path, nil, token, options)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := p.streamer.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	return resp, nil
}

func (p *Pipeline) newRequest(ctx context.Context, method, path string, payload []byte, token string, options requestOptions) (*http.Request, error) {
	u := p.baseURL + path
	if len(options.query) > 0 {
		u += "?" + options.query.Encode()
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if options.subjectHeader {
		if sid, ok := p.store.SubjectID(); ok {
			req.Header.Set("X-User-Id", string(sid))
		}
	}
	return req, nil
}
