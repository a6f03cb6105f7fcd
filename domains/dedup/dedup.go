package dedup

import (
	"context"
	"time"
)

// Record is the cached evidence that a recipient was already handled for a
// given task or batch. Records expire with the cache TTL (7 days).
type Record struct {
	ProcessedAt time.Time `json:"processedAt"`
	Failed      bool      `json:"failed,omitempty"`
	MessageID   string    `json:"messageId,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// IGuard is the at-most-once gate keyed by (agentID, scopeID, phoneNumber).
// MarkProcessed uses a create-if-absent write: losing the race to a concurrent
// delivery of the same job is benign and must not surface as an error.
// MarkFailed overwrites unconditionally; it is only called once retries are
// exhausted.
type IGuard interface {
	IsProcessed(ctx context.Context, agentID, scopeID, phone string) (bool, error)
	MarkProcessed(ctx context.Context, agentID, scopeID, phone, messageID string) error
	MarkFailed(ctx context.Context, agentID, scopeID, phone, errMsg string) error
}
