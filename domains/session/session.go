package session

import (
	"context"
	"time"
)

type SendResponse struct {
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ISession is the send capability of one live WhatsApp Web session. The
// implementation must tolerate concurrent SendText calls from independent
// consumer loops.
type ISession interface {
	SendText(ctx context.Context, phone, text, quotedMessageID string) (SendResponse, error)
}

// IProvider abstracts the module-level "current socket". Current returns nil
// while the session is reloading or logged out; callers are expected to leave
// work unacknowledged and let redelivery retry.
type IProvider interface {
	Current() ISession
	IsConnected() bool
}
