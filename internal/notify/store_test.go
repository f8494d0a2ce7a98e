package notify

import (
	"fmt"
	"testing"
	"time"

	"github.com/user/pageflow/internal/types"
)

func notification(id string, status types.NotificationStatus, age time.Duration) types.Notification {
	return types.Notification{
		EventID:     types.EventID(id),
		ServiceType: "page_generation",
		Title:       "title " + id,
		Status:      status,
		CreatedAt:   time.Now().Add(-age),
	}
}

func TestInsertDeduplicatesByEventID(t *testing.T) {
	store := NewStore()

	first := notification("e1", types.NotificationUnread, time.Minute)
	if !store.Insert(first) {
		t.Error("first insert should report a fresh entry")
	}

	// Same event delivered again (reconcile + push overlap), now read.
	dup := first
	dup.Status = types.NotificationRead
	if store.Insert(dup) {
		t.Error("duplicate insert should not report a fresh entry")
	}

	items := store.List()
	if len(items) != 1 {
		t.Fatalf("list holds %d entries, want 1", len(items))
	}
	// Most recent write wins, status included.
	if items[0].Status != types.NotificationRead {
		t.Errorf("status = %s, want read from the later write", items[0].Status)
	}
	if store.Unread() != 0 {
		t.Errorf("unread = %d, want 0", store.Unread())
	}
}

func TestInsertOrdersNewestFirst(t *testing.T) {
	store := NewStore()
	store.Insert(notification("old", types.NotificationUnread, time.Hour))
	store.Insert(notification("new", types.NotificationUnread, 0))

	items := store.List()
	if items[0].EventID != "new" || items[1].EventID != "old" {
		t.Errorf("order = %s, %s", items[0].EventID, items[1].EventID)
	}
	if store.Unread() != 2 {
		t.Errorf("unread = %d", store.Unread())
	}
}

func TestInsertCapsWindow(t *testing.T) {
	store := NewStore()
	for i := 0; i < defaultWindow+5; i++ {
		store.Insert(notification(fmt.Sprintf("e%d", i), types.NotificationUnread, time.Duration(i)*time.Second))
	}
	if got := len(store.List()); got != defaultWindow {
		t.Errorf("list holds %d entries, want %d", got, defaultWindow)
	}
	if store.Unread() != defaultWindow {
		t.Errorf("unread = %d, want %d (dropped entries uncounted)", store.Unread(), defaultWindow)
	}
}

func TestMarkReadAndDelete(t *testing.T) {
	store := NewStore()
	store.Insert(notification("e1", types.NotificationUnread, 0))
	store.Insert(notification("e2", types.NotificationUnread, 0))

	if !store.MarkRead("e1") {
		t.Error("MarkRead should succeed for an unread entry")
	}
	if store.MarkRead("e1") {
		t.Error("MarkRead should be a no-op the second time")
	}
	if store.MarkRead("ghost") {
		t.Error("MarkRead should fail for an unknown id")
	}
	if store.Unread() != 1 {
		t.Errorf("unread = %d, want 1", store.Unread())
	}

	if !store.Delete("e2") {
		t.Error("Delete should succeed")
	}
	if store.Delete("e2") {
		t.Error("Delete should be a no-op the second time")
	}
	if store.Unread() != 0 {
		t.Errorf("unread = %d, want 0 after deleting the unread entry", store.Unread())
	}
	if len(store.List()) != 1 {
		t.Errorf("list holds %d entries", len(store.List()))
	}
}

func TestReconcileReplacesState(t *testing.T) {
	store := NewStore()
	store.Insert(notification("local", types.NotificationUnread, 0))

	snapshot := []types.Notification{
		notification("s1", types.NotificationUnread, time.Minute),
		notification("s2", types.NotificationRead, time.Hour),
		notification("s1", types.NotificationRead, time.Minute), // server-side duplicate
	}
	store.Reconcile(snapshot, 1)

	items := store.List()
	if len(items) != 2 {
		t.Fatalf("list holds %d entries, want 2 (deduped)", len(items))
	}
	if items[0].EventID != "s1" || items[1].EventID != "s2" {
		t.Errorf("order = %s, %s", items[0].EventID, items[1].EventID)
	}
	if store.Unread() != 1 {
		t.Errorf("unread = %d, want server-reported 1", store.Unread())
	}
}

func TestReconcileComputesUnreadWhenUnknown(t *testing.T) {
	store := NewStore()
	store.Reconcile([]types.Notification{
		notification("a", types.NotificationUnread, 0),
		notification("b", types.NotificationUnread, time.Minute),
		notification("c", types.NotificationRead, time.Hour),
	}, -1)
	if store.Unread() != 2 {
		t.Errorf("unread = %d, want computed 2", store.Unread())
	}
}
