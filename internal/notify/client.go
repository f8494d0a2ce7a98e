package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/user/pageflow/internal/pipeline"
	"github.com/user/pageflow/internal/types"
)

// ErrNoSubject means there is no authenticated subject to scope the
// notification endpoints by.
var ErrNoSubject = errors.New("no authenticated subject")

// Client talks to the notification REST endpoints and keeps the store in
// step. Mutations are optimistic: memory first, then the server confirm;
// on failure only the unread counter rolls back (deleted items are not
// re-inserted).
type Client struct {
	pipe    *pipeline.Pipeline
	store   *Store
	subject func() (types.SubjectID, bool)
}

// NewClient creates a Client. subject resolves the current subject id from
// the credential store.
func NewClient(pipe *pipeline.Pipeline, store *Store, subject func() (types.SubjectID, bool)) *Client {
	return &Client{pipe: pipe, store: store, subject: subject}
}

// Reconcile replaces local state with the server's snapshot: the newest page
// of notifications plus the authoritative unread count.
func (c *Client) Reconcile(ctx context.Context) error {
	sid, ok := c.subject()
	if !ok {
		return ErrNoSubject
	}

	var page types.NotificationPage
	_, err := c.pipe.Do(ctx, http.MethodGet, "/notifications/"+string(sid), nil, &page,
		pipeline.WithQuery("limit", strconv.Itoa(defaultWindow)),
		pipeline.WithQuery("offset", "0"),
	)
	if err != nil {
		return fmt.Errorf("fetch notifications: %w", err)
	}

	unread := -1
	var count types.UnreadCountEnvelope
	if _, err := c.pipe.Do(ctx, http.MethodGet, "/notifications/"+string(sid)+"/unread-count", nil, &count); err == nil {
		unread = count.Data.Count
	}

	c.store.Reconcile(page.Data.Notifications, unread)
	return nil
}

// MarkRead marks a notification read, optimistically.
func (c *Client) MarkRead(ctx context.Context, id types.EventID) error {
	sid, ok := c.subject()
	if !ok {
		return ErrNoSubject
	}
	before := c.store.Unread()
	if !c.store.MarkRead(id) {
		return nil
	}
	_, err := c.pipe.Do(ctx, http.MethodPut, "/notifications/"+string(id)+"/read", nil, nil,
		pipeline.WithQuery("user_id", string(sid)))
	if err != nil {
		c.store.SetUnread(before)
		return fmt.Errorf("confirm read: %w", err)
	}
	return nil
}

// Delete removes a notification, optimistically.
func (c *Client) Delete(ctx context.Context, id types.EventID) error {
	sid, ok := c.subject()
	if !ok {
		return ErrNoSubject
	}
	before := c.store.Unread()
	if !c.store.Delete(id) {
		return nil
	}
	_, err := c.pipe.Do(ctx, http.MethodDelete, "/notifications/"+string(id), nil, nil,
		pipeline.WithQuery("user_id", string(sid)))
	if err != nil {
		c.store.SetUnread(before)
		return fmt.Errorf("confirm delete: %w", err)
	}
	return nil
}
