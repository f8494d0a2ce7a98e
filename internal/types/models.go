// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// NotificationStatus is the read state of a notification.
type NotificationStatus string

const (
	NotificationUnread NotificationStatus = "unread"
	NotificationRead   NotificationStatus = "read"
)

// Notification is one server-delivered event, received either over the push
// stream or from the startup reconciliation fetch.
type Notification struct {
	EventID     EventID            `json:"eventId"`
	ServiceType string             `json:"serviceType"`
	Severity    string             `json:"severity"`
	Title       string             `json:"title"`
	Body        string             `json:"body"`
	Status      NotificationStatus `json:"status"`
	CreatedAt   time.Time          `json:"createdAt"`
	ActionURL   string             `json:"actionUrl,omitempty"`
	DataURL     string             `json:"dataUrl,omitempty"`
	TaskID      JobID              `json:"taskId,omitempty"`
}

// GenerateRequest is the body of a page-generation call. Prompt drives the
// generation; the remaining fields scope it to a product page.
type GenerateRequest struct {
	Prompt    string          `json:"prompt"`
	PageType  string          `json:"pageType,omitempty"`
	ProductID string          `json:"productId,omitempty"`
	Options   json.RawMessage `json:"options,omitempty"`
}

// GenerateResult is the payload of a completed generation, whether it arrived
// synchronously, from a status poll, or via a push notification.
type GenerateResult struct {
	HTMLList      []string        `json:"htmlList,omitempty"`
	ResultPayload json.RawMessage `json:"resultPayload,omitempty"`
}

// GenerateEnvelope is the response body of the generate endpoint. The server
// answers 200 with result fields populated for synchronous completion, or 202
// with TaskID set for asynchronous acceptance; the status code disambiguates.
type GenerateEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		GenerateResult
		TaskID JobID `json:"taskId,omitempty"`
		// EstimatedCompletionTime is the server's guess, in seconds, at how
		// long the accepted task will take.
		EstimatedCompletionTime int64 `json:"estimatedCompletionTime,omitempty"`
	} `json:"data"`
	Message string `json:"message,omitempty"`
}

// TaskState is the server-reported state of an accepted generation task.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskProcessing TaskState = "processing"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
)

// StatusEnvelope is the response body of the task-status endpoint.
type StatusEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		Status        TaskState       `json:"status"`
		Progress      int             `json:"progress,omitempty"`
		ResultPayload json.RawMessage `json:"resultPayload,omitempty"`
		HTMLList      []string        `json:"htmlList,omitempty"`
		Message       string          `json:"message,omitempty"`
	} `json:"data"`
}

// NotificationPage is the response body of the notification list endpoint.
type NotificationPage struct {
	Success bool `json:"success"`
	Data    struct {
		Notifications []Notification `json:"notifications"`
		Total         int            `json:"total"`
	} `json:"data"`
}

// UnreadCountEnvelope is the response body of the unread-count endpoint.
type UnreadCountEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		Count int `json:"count"`
	} `json:"data"`
}
