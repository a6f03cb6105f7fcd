package campaign

import (
	"context"
	"time"
)

type Status string

const (
	StatusScheduled  Status = "SCHEDULED"
	StatusStarting   Status = "STARTING"
	StatusProcessing Status = "PROCESSING"
	StatusPaused     Status = "PAUSED"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusFailed     Status = "FAILED"
)

// Pause reasons recorded alongside StatusPaused.
const (
	PauseReasonUser          = "USER_REQUEST"
	PauseReasonError         = "ERROR"
	PauseReasonDisconnection = "AUTO_PAUSE_DISCONNECTION"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

type RateLimit struct {
	MessagesPerSecond float64 `json:"messagesPerSecond"`
}

// State is one campaign (broadcast batch) owned by a single agent. It lives in
// the versioned campaign bucket under key "<agentID>.<batchID>"; every write is
// conditioned on the revision last read.
type State struct {
	AgentID     string     `json:"agentId"`
	BatchID     string     `json:"batchId"`
	Status      Status     `json:"status"`
	Total       int        `json:"total"`
	Completed   int        `json:"completed"`
	Failed      int        `json:"failed"`
	Processed   int        `json:"processed"`
	RateLimit   *RateLimit `json:"rateLimit,omitempty"`
	PauseReason string     `json:"pauseReason,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	PausedAt    *time.Time `json:"pausedAt,omitempty"`
	ResumedAt   *time.Time `json:"resumedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// derivedTransitions is the legal set for automatic status changes driven by
// progress counters. Anything else derived is discarded, which guards against
// racing updates deriving a nonsensical jump.
var derivedTransitions = map[Status][]Status{
	StatusStarting:   {StatusProcessing},
	StatusProcessing: {StatusProcessing, StatusCompleted, StatusFailed},
}

// commandTransitions is the legal set for explicit user/system commands.
var commandTransitions = map[Status][]Status{
	StatusScheduled:  {StatusStarting, StatusCancelled},
	StatusStarting:   {StatusProcessing, StatusPaused, StatusCancelled},
	StatusProcessing: {StatusPaused, StatusCancelled},
	StatusPaused:     {StatusProcessing, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range commandTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func canDerive(from, to Status) bool {
	for _, s := range derivedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RecordOutcome applies one job outcome to the counters and re-derives the
// status. PAUSED and CANCELLED are sticky: counters still move, the status
// does not. failureRateThreshold is the fraction of failed jobs above which a
// fully processed campaign is marked FAILED instead of COMPLETED.
func (s *State) RecordOutcome(failed bool, failureRateThreshold float64, now time.Time) {
	if s.Total > 0 && s.Processed >= s.Total {
		// Every recipient is already accounted for; a late duplicate outcome
		// must not push the counters past the batch size.
		return
	}
	if failed {
		s.Failed++
	} else {
		s.Completed++
	}
	s.Processed = s.Completed + s.Failed

	if s.Status == StatusPaused || s.Status == StatusCancelled {
		return
	}

	derived, ok := s.derive(failureRateThreshold)
	if !ok || !canDerive(s.Status, derived) {
		return
	}
	if derived.IsTerminal() && s.CompletedAt == nil {
		s.CompletedAt = &now
	}
	s.Status = derived
}

func (s *State) derive(failureRateThreshold float64) (Status, bool) {
	switch {
	case s.Processed == 0:
		return "", false
	case s.Total <= 0 || s.Processed < s.Total:
		return StatusProcessing, true
	default:
		failureRate := float64(s.Failed) / float64(s.Total)
		if failureRate > failureRateThreshold {
			return StatusFailed, true
		}
		return StatusCompleted, true
	}
}

// Change is one mutation observed on the campaign bucket.
type Change struct {
	BatchID string
	State   *State
	Deleted bool
}

type ICampaignStore interface {
	Get(ctx context.Context, batchID string) (*State, error)
	Start(ctx context.Context, batchID string, total int, rateLimit *RateLimit) error
	Pause(ctx context.Context, batchID, reason string) error
	Resume(ctx context.Context, batchID string) error
	Cancel(ctx context.Context, batchID string) error
	RecordOutcome(ctx context.Context, batchID string, failed bool) error
	PauseAllActive(ctx context.Context, reason string) (int, error)
	Watch(ctx context.Context) (<-chan Change, error)
}
