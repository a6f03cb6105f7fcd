package whatsapp

import (
	"context"
	"fmt"
	"strings"

	"github.com/AzielCF/az-cast/config"
	domainSession "github.com/AzielCF/az-cast/domains/session"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

// session is the send capability handed out by Provider.Current. whatsmeow
// serializes sends internally, so concurrent SendText calls from independent
// loops are safe.
type session struct {
	client *whatsmeow.Client
}

func (s *session) SendText(ctx context.Context, phone, text, quotedMessageID string) (domainSession.SendResponse, error) {
	recipient := phone
	if !strings.Contains(recipient, "@") {
		recipient = recipient + config.WhatsappTypeUser
	}

	jid, err := types.ParseJID(recipient)
	if err != nil {
		return domainSession.SendResponse{}, fmt.Errorf("invalid JID %s: %w", recipient, err)
	}

	msg := &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(text),
		},
	}
	if quotedMessageID != "" {
		msg.ExtendedTextMessage.ContextInfo = &waE2E.ContextInfo{
			StanzaID:      proto.String(quotedMessageID),
			Participant:   proto.String(jid.String()),
			QuotedMessage: &waE2E.Message{Conversation: proto.String("")}, // Minimal quote
		}
	}

	resp, err := s.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return domainSession.SendResponse{}, err
	}

	return domainSession.SendResponse{
		MessageID: resp.ID,
		Timestamp: resp.Timestamp,
	}, nil
}
