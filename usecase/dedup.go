package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AzielCF/az-cast/config"
	domainDedup "github.com/AzielCF/az-cast/domains/dedup"
	"github.com/AzielCF/az-cast/infrastructure/valkey"
	"github.com/sirupsen/logrus"
)

type dedupGuard struct {
	cache *valkey.Client
	ttl   time.Duration
}

// NewDedupGuard returns the cache-backed at-most-once gate for processed
// recipients.
func NewDedupGuard(cache *valkey.Client) domainDedup.IGuard {
	return &dedupGuard{cache: cache, ttl: config.DedupTTL}
}

func (g *dedupGuard) key(agentID, scopeID, phone string) string {
	return g.cache.Key("dedup", agentID, scopeID, phone)
}

func (g *dedupGuard) IsProcessed(ctx context.Context, agentID, scopeID, phone string) (bool, error) {
	_, found, err := g.cache.Get(ctx, g.key(agentID, scopeID, phone))
	if err != nil {
		return false, fmt.Errorf("dedup lookup failed: %w", err)
	}
	return found, nil
}

func (g *dedupGuard) MarkProcessed(ctx context.Context, agentID, scopeID, phone, messageID string) error {
	record := domainDedup.Record{
		ProcessedAt: time.Now().UTC(),
		MessageID:   messageID,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	created, err := g.cache.SetNX(ctx, g.key(agentID, scopeID, phone), string(payload), g.ttl)
	if err != nil {
		return fmt.Errorf("dedup mark failed: %w", err)
	}
	if !created {
		// A concurrent delivery of the same job won the race. Benign.
		logrus.WithFields(logrus.Fields{
			"agent_id": agentID,
			"scope_id": scopeID,
			"phone":    phone,
		}).Info("[DEDUP] Record already claimed by concurrent delivery")
	}
	return nil
}

func (g *dedupGuard) MarkFailed(ctx context.Context, agentID, scopeID, phone, errMsg string) error {
	record := domainDedup.Record{
		ProcessedAt: time.Now().UTC(),
		Failed:      true,
		Error:       errMsg,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return g.cache.Set(ctx, g.key(agentID, scopeID, phone), string(payload), g.ttl)
}
