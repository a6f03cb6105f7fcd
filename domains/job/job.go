package job

import (
	"context"
	"encoding/json"
	"time"
)

type Class string

const (
	ClassBroadcast Class = "broadcast"
	ClassMailcast  Class = "mailcast"
)

// Headers that may override the body fields of a SendJob. Header wins when
// present so producers can re-route a payload without rewriting it.
const (
	HeaderAgentID = "Agent-Id"
	HeaderBatchID = "Batch-Id"
)

// SendJob is one queued per-recipient delivery, produced externally and
// consumed from the durable subjects broadcasts.<agentID> / mailcasts.<agentID>.
type SendJob struct {
	CompanyID       string         `json:"companyId"`
	AgentID         string         `json:"agentId"`
	TaskID          string         `json:"taskId"`
	BatchID         string         `json:"batchId,omitempty"`
	PhoneNumber     string         `json:"phoneNumber"`
	Message         any            `json:"message"`
	QuotedMessageID string         `json:"quotedMessageId,omitempty"`
	Variables       map[string]any `json:"variables,omitempty"`
	Contact         map[string]any `json:"contact,omitempty"`
}

// DedupScope is the campaign-or-task identifier used in the dedup key.
// Broadcast jobs dedup per batch, mailcast jobs per task.
func (j SendJob) DedupScope(class Class) string {
	if class == ClassBroadcast && j.BatchID != "" {
		return j.BatchID
	}
	return j.TaskID
}

// DeadLetter is the immutable snapshot published for a permanently failed job.
type DeadLetter struct {
	ID             string          `json:"id"`
	Subject        string          `json:"subject"`
	MessageType    string          `json:"messageType"`
	Payload        json.RawMessage `json:"payload"`
	Error          string          `json:"error"`
	Deliveries     uint64          `json:"deliveries"`
	StreamSequence uint64          `json:"streamSequence"`
	CompanyID      string          `json:"companyId,omitempty"`
	AgentID        string          `json:"agentId,omitempty"`
	TaskID         string          `json:"taskId,omitempty"`
	BatchID        string          `json:"batchId,omitempty"`
	PhoneNumber    string          `json:"phoneNumber,omitempty"`
	FailedAt       time.Time       `json:"failedAt"`
}

// StreamMessage is one delivery of a durable-stream message. Ack marks the
// job settled; an unacked message is redelivered after the consumer ack-wait,
// which doubles as the retry backoff.
type StreamMessage interface {
	Data() []byte
	Subject() string
	Header(key string) string
	Deliveries() uint64
	StreamSequence() uint64
	Ack() error
}

type IPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}
