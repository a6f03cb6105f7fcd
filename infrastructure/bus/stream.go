package bus

import (
	"errors"

	domainJob "github.com/AzielCF/az-cast/domains/job"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrSourceClosed is returned by Next once the iterator was stopped.
var ErrSourceClosed = errors.New("message source closed")

// streamMessage adapts a jetstream.Msg to the domain StreamMessage interface.
type streamMessage struct {
	msg  jetstream.Msg
	meta *jetstream.MsgMetadata
}

func wrapMessage(msg jetstream.Msg) domainJob.StreamMessage {
	meta, err := msg.Metadata()
	if err != nil {
		meta = &jetstream.MsgMetadata{}
	}
	return &streamMessage{msg: msg, meta: meta}
}

func (m *streamMessage) Data() []byte    { return m.msg.Data() }
func (m *streamMessage) Subject() string { return m.msg.Subject() }

func (m *streamMessage) Header(key string) string {
	if m.msg.Headers() == nil {
		return ""
	}
	return m.msg.Headers().Get(key)
}

func (m *streamMessage) Deliveries() uint64     { return m.meta.NumDelivered }
func (m *streamMessage) StreamSequence() uint64 { return m.meta.Sequence.Stream }
func (m *streamMessage) Ack() error             { return m.msg.Ack() }

// MessageSource pulls messages from a durable consumer one at a time. Stop
// unblocks a pending Next, which then reports ErrSourceClosed.
type MessageSource struct {
	msgs jetstream.MessagesContext
}

func NewMessageSource(cons jetstream.Consumer) (*MessageSource, error) {
	msgs, err := cons.Messages()
	if err != nil {
		return nil, err
	}
	return &MessageSource{msgs: msgs}, nil
}

func (s *MessageSource) Next() (domainJob.StreamMessage, error) {
	msg, err := s.msgs.Next()
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
			return nil, ErrSourceClosed
		}
		return nil, err
	}
	return wrapMessage(msg), nil
}

func (s *MessageSource) Stop() {
	s.msgs.Stop()
}
