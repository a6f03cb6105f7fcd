package command

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AzielCF/az-cast/domains/campaign"
)

// Command is the typed union of campaign commands. The wire format is a JSON
// envelope with a string action; Parse converts it into a concrete variant so
// handlers dispatch exhaustively instead of switching on raw strings.
type Command interface {
	Batch() string
	isCommand()
}

type StartCampaign struct {
	BatchID   string
	Total     int
	RateLimit *campaign.RateLimit
}

type PauseCampaign struct {
	BatchID string
	Reason  string
}

type ResumeCampaign struct {
	BatchID string
}

type CancelCampaign struct {
	BatchID string
}

func (c StartCampaign) Batch() string  { return c.BatchID }
func (c PauseCampaign) Batch() string  { return c.BatchID }
func (c ResumeCampaign) Batch() string { return c.BatchID }
func (c CancelCampaign) Batch() string { return c.BatchID }

func (StartCampaign) isCommand()  {}
func (PauseCampaign) isCommand()  {}
func (ResumeCampaign) isCommand() {}
func (CancelCampaign) isCommand() {}

type envelope struct {
	Action    string              `json:"action"`
	BatchID   string              `json:"batchId"`
	Total     int                 `json:"total,omitempty"`
	RateLimit *campaign.RateLimit `json:"rateLimit,omitempty"`
	Reason    string              `json:"reason,omitempty"`
}

func Parse(data []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid command payload: %w", err)
	}
	if env.BatchID == "" {
		return nil, fmt.Errorf("command %q is missing batchId", env.Action)
	}

	switch strings.ToUpper(env.Action) {
	case "START_BROADCAST", "START":
		return StartCampaign{BatchID: env.BatchID, Total: env.Total, RateLimit: env.RateLimit}, nil
	case "PAUSE_BROADCAST", "PAUSE":
		reason := env.Reason
		if reason == "" {
			reason = campaign.PauseReasonUser
		}
		return PauseCampaign{BatchID: env.BatchID, Reason: reason}, nil
	case "RESUME_BROADCAST", "RESUME":
		return ResumeCampaign{BatchID: env.BatchID}, nil
	case "CANCEL_BROADCAST", "CANCEL":
		return CancelCampaign{BatchID: env.BatchID}, nil
	default:
		return nil, fmt.Errorf("unknown command action: %q", env.Action)
	}
}
