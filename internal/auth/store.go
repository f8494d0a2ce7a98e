package auth

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/pageflow/internal/types"
)

// Credential is the access/refresh token pair for the current session.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Store holds the single current credential. At most one credential is
// current at a time; Set replaces it atomically. When a path is configured
// the pair is persisted there so a restart can resume the session.
//
// Listeners registered with Subscribe are notified on every change: a non-nil
// credential for set/rotate, nil for clear. This is how a silent refresh
// becomes visible to live consumers (e.g. the push channel) without a
// restart.
type Store struct {
	mu        sync.RWMutex
	cred      *Credential
	path      string
	listeners []func(*Credential)
}

// NewStore creates a Store. path may be empty for a memory-only store.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads a previously persisted credential. A missing file is not an
// error; the store just starts empty.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return err
	}
	if cred.AccessToken == "" || cred.RefreshToken == "" {
		return nil
	}
	s.mu.Lock()
	s.cred = &cred
	s.mu.Unlock()
	return nil
}

// Get returns the current credential, if any.
func (s *Store) Get() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return Credential{}, false
	}
	return *s.cred, true
}

// Set replaces the current credential and notifies listeners.
func (s *Store) Set(cred Credential) {
	s.mu.Lock()
	s.cred = &cred
	listeners := append([](func(*Credential))(nil), s.listeners...)
	s.mu.Unlock()

	s.persist(&cred)
	for _, fn := range listeners {
		fn(&cred)
	}
}

// Clear drops the current credential, removes the persisted copy, and
// notifies listeners with nil.
func (s *Store) Clear() {
	s.mu.Lock()
	had := s.cred != nil
	s.cred = nil
	listeners := append([](func(*Credential))(nil), s.listeners...)
	s.mu.Unlock()

	s.persist(nil)
	if !had {
		return
	}
	for _, fn := range listeners {
		fn(nil)
	}
}

// Subscribe registers a listener for credential changes. Listeners are
// invoked outside the store's lock and must not call Set or Clear.
func (s *Store) Subscribe(fn func(*Credential)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SubjectID decodes the subject from the current access token.
func (s *Store) SubjectID() (types.SubjectID, bool) {
	cred, ok := s.Get()
	if !ok {
		return "", false
	}
	claims, ok := DecodeClaims(cred.AccessToken)
	if !ok {
		return "", false
	}
	return claims.SubjectID, true
}

// persist writes or removes the on-disk copy. Persistence failures are
// logged, not surfaced: the in-memory credential is already authoritative.
func (s *Store) persist(cred *Credential) {
	if s.path == "" {
		return
	}
	if cred == nil {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove persisted credential", "error", err)
		}
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		slog.Warn("failed to create credential directory", "error", err)
		return
	}
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		slog.Warn("failed to marshal credential", "error", err)
		return
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		slog.Warn("failed to write credential", "error", err)
		return
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		slog.Warn("failed to rename credential file", "error", err)
	}
}
