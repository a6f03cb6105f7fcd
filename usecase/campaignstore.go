package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/AzielCF/az-cast/config"
	domainCampaign "github.com/AzielCF/az-cast/domains/campaign"
	domainKV "github.com/AzielCF/az-cast/domains/kv"
	pkgError "github.com/AzielCF/az-cast/pkg/error"
	"github.com/AzielCF/az-cast/pkg/optimistic"
	"github.com/sirupsen/logrus"
)

// CampaignStore is the single source of truth for per-batch campaign state.
// It lives in a versioned KV bucket; every mutation is a revision-conditioned
// read-modify-write with bounded retry.
type CampaignStore struct {
	agentID              string
	kv                   domainKV.IStore
	maxAttempts          int
	failureRateThreshold float64
	now                  func() time.Time
}

func NewCampaignStore(agentID string, store domainKV.IStore) domainCampaign.ICampaignStore {
	return &CampaignStore{
		agentID:              agentID,
		kv:                   store,
		maxAttempts:          config.StateUpdateMaxAttempts,
		failureRateThreshold: config.FailureRateThreshold,
		now:                  time.Now,
	}
}

func (s *CampaignStore) key(batchID string) string {
	return fmt.Sprintf("%s.%s", s.agentID, batchID)
}

func (s *CampaignStore) Get(ctx context.Context, batchID string) (*domainCampaign.State, error) {
	value, _, err := s.kv.Get(ctx, s.key(batchID))
	if err != nil {
		return nil, err
	}
	var state domainCampaign.State
	if err := json.Unmarshal(value, &state); err != nil {
		return nil, fmt.Errorf("corrupt campaign state for batch %s: %w", batchID, err)
	}
	return &state, nil
}

// update runs one optimistic read-modify-write cycle for the batch. mutate
// may return optimistic.ErrNoChange to skip the write.
func (s *CampaignStore) update(ctx context.Context, batchID string, mutate func(*domainCampaign.State) error) error {
	return optimistic.Update(ctx, s.maxAttempts,
		func(ctx context.Context) (*domainCampaign.State, uint64, error) {
			value, revision, err := s.kv.Get(ctx, s.key(batchID))
			if err != nil {
				return nil, 0, err
			}
			var state domainCampaign.State
			if err := json.Unmarshal(value, &state); err != nil {
				return nil, 0, fmt.Errorf("corrupt campaign state for batch %s: %w", batchID, err)
			}
			return &state, revision, nil
		},
		func(state *domainCampaign.State) (*domainCampaign.State, error) {
			if err := mutate(state); err != nil {
				return nil, err
			}
			return state, nil
		},
		func(ctx context.Context, state *domainCampaign.State, revision uint64) error {
			value, err := json.Marshal(state)
			if err != nil {
				return err
			}
			return s.kv.Update(ctx, s.key(batchID), value, revision)
		},
	)
}

// Start creates the campaign entry when missing, or moves an existing
// SCHEDULED entry to STARTING.
func (s *CampaignStore) Start(ctx context.Context, batchID string, total int, rateLimit *domainCampaign.RateLimit) error {
	_, _, err := s.kv.Get(ctx, s.key(batchID))
	if pkgError.IsNotFound(err) {
		now := s.now().UTC()
		state := domainCampaign.State{
			AgentID:   s.agentID,
			BatchID:   batchID,
			Status:    domainCampaign.StatusStarting,
			Total:     total,
			RateLimit: rateLimit,
			StartedAt: &now,
		}
		value, err := json.Marshal(state)
		if err != nil {
			return err
		}
		if err := s.kv.Create(ctx, s.key(batchID), value); err != nil {
			return fmt.Errorf("failed to create campaign %s: %w", batchID, err)
		}
		return nil
	}
	if err != nil {
		return err
	}

	return s.update(ctx, batchID, func(state *domainCampaign.State) error {
		if !domainCampaign.CanTransition(state.Status, domainCampaign.StatusStarting) {
			return fmt.Errorf("cannot start campaign %s from status %s", batchID, state.Status)
		}
		now := s.now().UTC()
		state.Status = domainCampaign.StatusStarting
		if total > 0 {
			state.Total = total
		}
		if rateLimit != nil {
			state.RateLimit = rateLimit
		}
		state.StartedAt = &now
		return nil
	})
}

func (s *CampaignStore) Pause(ctx context.Context, batchID, reason string) error {
	return s.update(ctx, batchID, func(state *domainCampaign.State) error {
		if state.Status == domainCampaign.StatusPaused {
			return optimistic.ErrNoChange
		}
		if !domainCampaign.CanTransition(state.Status, domainCampaign.StatusPaused) {
			return fmt.Errorf("cannot pause campaign %s from status %s", batchID, state.Status)
		}
		now := s.now().UTC()
		state.Status = domainCampaign.StatusPaused
		state.PauseReason = reason
		state.PausedAt = &now
		return nil
	})
}

func (s *CampaignStore) Resume(ctx context.Context, batchID string) error {
	return s.update(ctx, batchID, func(state *domainCampaign.State) error {
		if !domainCampaign.CanTransition(state.Status, domainCampaign.StatusProcessing) {
			return fmt.Errorf("cannot resume campaign %s from status %s", batchID, state.Status)
		}
		now := s.now().UTC()
		state.Status = domainCampaign.StatusProcessing
		state.PauseReason = ""
		state.ResumedAt = &now
		return nil
	})
}

func (s *CampaignStore) Cancel(ctx context.Context, batchID string) error {
	return s.update(ctx, batchID, func(state *domainCampaign.State) error {
		if state.Status.IsTerminal() {
			return fmt.Errorf("cannot cancel campaign %s in terminal status %s", batchID, state.Status)
		}
		now := s.now().UTC()
		state.Status = domainCampaign.StatusCancelled
		state.CancelledAt = &now
		return nil
	})
}

// RecordOutcome moves the progress counters after one job settled and applies
// the derived-status rules. Failures here are logged, never escalated: a
// missed counter increment must not block message delivery.
func (s *CampaignStore) RecordOutcome(ctx context.Context, batchID string, failed bool) error {
	err := s.update(ctx, batchID, func(state *domainCampaign.State) error {
		state.RecordOutcome(failed, s.failureRateThreshold, s.now().UTC())
		return nil
	})
	if err != nil {
		if pkgError.IsNotFound(err) {
			// State may have been expired or cleaned up independently of the
			// jobs still in flight.
			logrus.WithField("batch_id", batchID).Warn("[CAMPAIGN] Progress update skipped, state not found")
			return nil
		}
		logrus.WithError(err).WithField("batch_id", batchID).Warn("[CAMPAIGN] Progress update dropped")
	}
	return nil
}

// PauseAllActive pauses every campaign of this agent that is currently
// sending (STARTING or PROCESSING). Returns how many were paused.
func (s *CampaignStore) PauseAllActive(ctx context.Context, reason string) (int, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list campaigns: %w", err)
	}

	prefix := s.agentID + "."
	paused := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		batchID := strings.TrimPrefix(key, prefix)

		state, err := s.Get(ctx, batchID)
		if err != nil {
			logrus.WithError(err).WithField("batch_id", batchID).Warn("[CAMPAIGN] Skipping unreadable campaign during bulk pause")
			continue
		}
		if state.Status != domainCampaign.StatusStarting && state.Status != domainCampaign.StatusProcessing {
			continue
		}
		if err := s.Pause(ctx, batchID, reason); err != nil {
			logrus.WithError(err).WithField("batch_id", batchID).Warn("[CAMPAIGN] Failed to pause campaign")
			continue
		}
		paused++
	}
	return paused, nil
}

// Watch streams state changes for this agent's campaigns.
func (s *CampaignStore) Watch(ctx context.Context) (<-chan domainCampaign.Change, error) {
	entries, err := s.kv.Watch(ctx, s.agentID+".*")
	if err != nil {
		return nil, err
	}

	out := make(chan domainCampaign.Change)
	go func() {
		defer close(out)
		for entry := range entries {
			change := domainCampaign.Change{
				BatchID: strings.TrimPrefix(entry.Key, s.agentID+"."),
				Deleted: entry.Deleted,
			}
			if !entry.Deleted {
				var state domainCampaign.State
				if err := json.Unmarshal(entry.Value, &state); err != nil {
					logrus.WithError(err).WithField("key", entry.Key).Warn("[CAMPAIGN] Ignoring corrupt watch entry")
					continue
				}
				change.State = &state
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
