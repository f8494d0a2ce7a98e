// Package notify keeps the in-memory notification list and reconciles it
// against the server's notification endpoints.
package notify

import (
	"sort"
	"sync"

	"github.com/user/pageflow/internal/types"
)

// defaultWindow caps how many notifications stay in memory; older entries
// remain server-side only.
const defaultWindow = 20

// Store is the ordered in-memory notification collection plus the unread
// counter. Insertion is a set-like upsert keyed by event id, so overlapping
// reconcile and push delivery can never create duplicates; on a conflict the
// most recent write wins, status included.
type Store struct {
	mu     sync.Mutex
	items  []types.Notification // newest first by CreatedAt
	unread int
	window int
}

// NewStore creates a Store with the default in-memory window.
func NewStore() *Store {
	return &Store{window: defaultWindow}
}

// Reconcile replaces local state with a server snapshot. unread < 0 means
// "compute from the snapshot" for callers that could not fetch the counter.
func (s *Store) Reconcile(items []types.Notification, unread int) {
	sorted := append([]types.Notification(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	// De-duplicate by event id, keeping the first (newest) occurrence.
	seen := make(map[types.EventID]bool, len(sorted))
	deduped := sorted[:0]
	for _, n := range sorted {
		if seen[n.EventID] {
			continue
		}
		seen[n.EventID] = true
		deduped = append(deduped, n)
	}
	if len(deduped) > s.window {
		deduped = deduped[:s.window]
	}
	if unread < 0 {
		unread = 0
		for _, n := range deduped {
			if n.Status == types.NotificationUnread {
				unread++
			}
		}
	}

	s.mu.Lock()
	s.items = deduped
	s.unread = unread
	s.mu.Unlock()
}

// Insert upserts a notification. Returns true when the event id was new.
// A duplicate id replaces the existing entry in place of its list position
// being recomputed: the new entry is prepended, so the freshest write is
// also the most visible.
func (s *Store) Insert(n types.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := true
	for i, existing := range s.items {
		if existing.EventID == n.EventID {
			if existing.Status == types.NotificationUnread {
				s.unread--
			}
			s.items = append(s.items[:i], s.items[i+1:]...)
			fresh = false
			break
		}
	}

	s.items = append([]types.Notification{n}, s.items...)
	if len(s.items) > s.window {
		dropped := s.items[s.window:]
		for _, d := range dropped {
			if d.Status == types.NotificationUnread {
				s.unread--
			}
		}
		s.items = s.items[:s.window]
	}
	if n.Status == types.NotificationUnread {
		s.unread++
	}
	return fresh
}

// MarkRead flips a notification to read. Returns false if the id is unknown
// or already read.
func (s *Store) MarkRead(id types.EventID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].EventID == id {
			if s.items[i].Status == types.NotificationRead {
				return false
			}
			s.items[i].Status = types.NotificationRead
			s.unread--
			return true
		}
	}
	return false
}

// Delete removes a notification. Returns false if the id is unknown.
func (s *Store) Delete(id types.EventID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].EventID == id {
			if s.items[i].Status == types.NotificationUnread {
				s.unread--
			}
			s.items = append(s.items[:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

// List returns a copy of the notifications, newest first.
func (s *Store) List() []types.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Notification(nil), s.items...)
}

// Unread returns the unread counter.
func (s *Store) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// SetUnread restores the counter; used to roll back an optimistic update
// after a failed server confirmation.
func (s *Store) SetUnread(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unread = n
}
