package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	domainJob "github.com/AzielCF/az-cast/domains/job"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DeadLetterPublisher packages permanently failed jobs with their failure
// context and republishes them on the per-agent DLQ subject.
type DeadLetterPublisher struct {
	agentID   string
	publisher domainJob.IPublisher
}

func NewDeadLetterPublisher(agentID string, publisher domainJob.IPublisher) *DeadLetterPublisher {
	return &DeadLetterPublisher{agentID: agentID, publisher: publisher}
}

// Subject returns the DLQ subject for a job class. Broadcast failures get
// their own sub-subject so campaign tooling can filter them.
func (p *DeadLetterPublisher) Subject(class domainJob.Class) string {
	if class == domainJob.ClassBroadcast {
		return fmt.Sprintf("dlq.broadcasts.%s", p.agentID)
	}
	return fmt.Sprintf("dlq.%s", p.agentID)
}

// Publish writes the dead-letter record. The caller must not ack the original
// message unless this returns nil: a lost dead letter means a lost failure
// trace, so the job stays on the stream for another attempt at dead-lettering.
func (p *DeadLetterPublisher) Publish(ctx context.Context, msg domainJob.StreamMessage, parsed *domainJob.SendJob, class domainJob.Class, cause error) error {
	payload := json.RawMessage(msg.Data())
	if !json.Valid(payload) {
		// Malformed originals still need a trace; keep them as a JSON string.
		quoted, err := json.Marshal(string(msg.Data()))
		if err != nil {
			return fmt.Errorf("failed to quote dead-letter payload: %w", err)
		}
		payload = quoted
	}

	record := domainJob.DeadLetter{
		ID:             uuid.NewString(),
		Subject:        msg.Subject(),
		MessageType:    string(class),
		Payload:        payload,
		Error:          cause.Error(),
		Deliveries:     msg.Deliveries(),
		StreamSequence: msg.StreamSequence(),
		FailedAt:       time.Now().UTC(),
	}
	if parsed != nil {
		record.CompanyID = parsed.CompanyID
		record.AgentID = parsed.AgentID
		record.TaskID = parsed.TaskID
		record.BatchID = parsed.BatchID
		record.PhoneNumber = parsed.PhoneNumber
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	if err := p.publisher.Publish(ctx, p.Subject(class), encoded); err != nil {
		return fmt.Errorf("failed to publish dead letter: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"dlq_id":   record.ID,
		"subject":  record.Subject,
		"task_id":  record.TaskID,
		"batch_id": record.BatchID,
	}).Warn("[DLQ] Job dead-lettered")
	return nil
}
