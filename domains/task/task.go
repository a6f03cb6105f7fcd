package task

import (
	"context"
	"time"
)

type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusError      Status = "ERROR"
)

// Task is one pending recipient returned by the Task API poll endpoint.
type Task struct {
	ID              string         `json:"id"`
	BatchID         string         `json:"batchId"`
	PhoneNumber     string         `json:"phoneNumber"`
	Message         any            `json:"message"`
	QuotedMessageID string         `json:"quotedMessageId,omitempty"`
	Variables       map[string]any `json:"variables,omitempty"`
	Contact         map[string]any `json:"contact,omitempty"`
}

type Result struct {
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

type StatusUpdate struct {
	Status Status  `json:"status"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// IClient is the HTTP collaborator owning per-recipient task records.
// NextPending returns pkg/error.NotFoundError when the batch has no pending
// task left.
type IClient interface {
	UpdateStatus(ctx context.Context, taskID string, update StatusUpdate) error
	NextPending(ctx context.Context, batchID string) (*Task, error)
}
