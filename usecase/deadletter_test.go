package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	domainJob "github.com/AzielCF/az-cast/domains/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadLetterSubjects(t *testing.T) {
	p := NewDeadLetterPublisher(testAgentID, &fakePublisher{})

	assert.Equal(t, "dlq.broadcasts.agent-1", p.Subject(domainJob.ClassBroadcast))
	assert.Equal(t, "dlq.agent-1", p.Subject(domainJob.ClassMailcast))
}

func TestDeadLetterPublishRecord(t *testing.T) {
	publisher := &fakePublisher{}
	p := NewDeadLetterPublisher(testAgentID, publisher)

	job := broadcastJob()
	msg := jobMsg(t, job, 2)
	err := p.Publish(context.Background(), msg, &job, domainJob.ClassBroadcast, errors.New("send timeout"))
	require.NoError(t, err)

	require.Len(t, publisher.published, 1)
	assert.Equal(t, "dlq.broadcasts.agent-1", publisher.published[0].subject)

	var record domainJob.DeadLetter
	require.NoError(t, json.Unmarshal(publisher.published[0].data, &record))
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, msg.Subject(), record.Subject)
	assert.Equal(t, "broadcast", record.MessageType)
	assert.Equal(t, msg.Data(), []byte(record.Payload))
	assert.Equal(t, "send timeout", record.Error)
	assert.Equal(t, uint64(2), record.Deliveries)
	assert.Equal(t, uint64(42), record.StreamSequence)
	assert.Equal(t, job.AgentID, record.AgentID)
	assert.Equal(t, job.TaskID, record.TaskID)
	assert.Equal(t, job.BatchID, record.BatchID)
	assert.Equal(t, job.PhoneNumber, record.PhoneNumber)
	assert.False(t, record.FailedAt.IsZero())
}

func TestDeadLetterPublishWithoutParsedJob(t *testing.T) {
	publisher := &fakePublisher{}
	p := NewDeadLetterPublisher(testAgentID, publisher)
	msg := &fakeMsg{data: []byte("{not json"), subject: "broadcasts.agent-1", deliveries: 1}

	err := p.Publish(context.Background(), msg, nil, domainJob.ClassBroadcast, errors.New("malformed payload"))
	require.NoError(t, err)

	var record domainJob.DeadLetter
	require.NoError(t, json.Unmarshal(publisher.published[0].data, &record))
	assert.Empty(t, record.TaskID)
	assert.Empty(t, record.BatchID)
	var original string
	require.NoError(t, json.Unmarshal(record.Payload, &original))
	assert.Equal(t, "{not json", original)
}

func TestDeadLetterPublishFailurePropagates(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("stream unavailable")}
	p := NewDeadLetterPublisher(testAgentID, publisher)

	job := broadcastJob()
	msg := jobMsg(t, job, 1)
	err := p.Publish(context.Background(), msg, &job, domainJob.ClassBroadcast, errors.New("send timeout"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish dead letter")
}
