package usecase

import (
	"context"
	"encoding/json"

	domainCampaign "github.com/AzielCF/az-cast/domains/campaign"
	domainCommand "github.com/AzielCF/az-cast/domains/command"
	"github.com/sirupsen/logrus"
)

// CommandReply is returned on the reply subject when the producer asked for
// one.
type CommandReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// CommandHandler applies campaign commands from the per-agent command
// subject.
type CommandHandler struct {
	campaigns domainCampaign.ICampaignStore
}

func NewCommandHandler(campaigns domainCampaign.ICampaignStore) *CommandHandler {
	return &CommandHandler{campaigns: campaigns}
}

// Handle parses and executes one command, returning the encoded reply.
func (h *CommandHandler) Handle(ctx context.Context, data []byte) []byte {
	cmd, err := domainCommand.Parse(data)
	if err != nil {
		logrus.WithError(err).Warn("[CMD] Rejected command")
		return h.reply(CommandReply{Success: false, Error: err.Error()})
	}

	log := logrus.WithField("batch_id", cmd.Batch())
	switch c := cmd.(type) {
	case domainCommand.StartCampaign:
		err = h.campaigns.Start(ctx, c.BatchID, c.Total, c.RateLimit)
	case domainCommand.PauseCampaign:
		err = h.campaigns.Pause(ctx, c.BatchID, c.Reason)
	case domainCommand.ResumeCampaign:
		err = h.campaigns.Resume(ctx, c.BatchID)
	case domainCommand.CancelCampaign:
		err = h.campaigns.Cancel(ctx, c.BatchID)
	}

	if err != nil {
		log.WithError(err).Warn("[CMD] Command failed")
		return h.reply(CommandReply{Success: false, Error: err.Error()})
	}
	log.Infof("[CMD] Applied %T", cmd)
	return h.reply(CommandReply{Success: true})
}

func (h *CommandHandler) reply(r CommandReply) []byte {
	payload, err := json.Marshal(r)
	if err != nil {
		return []byte(`{"success":false}`)
	}
	return payload
}
