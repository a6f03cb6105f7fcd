package usecase

import (
	"context"
	"time"

	"github.com/AzielCF/az-cast/config"
	domainCampaign "github.com/AzielCF/az-cast/domains/campaign"
	domainSession "github.com/AzielCF/az-cast/domains/session"
	"github.com/sirupsen/logrus"
)

// ConnectionMonitor samples session liveness and auto-pauses every active
// campaign when the link drops. Only the connected->disconnected edge
// triggers the bulk pause; staying disconnected does not repeat it.
type ConnectionMonitor struct {
	provider  domainSession.IProvider
	campaigns domainCampaign.ICampaignStore
	interval  time.Duration

	wasConnected bool
}

func NewConnectionMonitor(provider domainSession.IProvider, campaigns domainCampaign.ICampaignStore) *ConnectionMonitor {
	return &ConnectionMonitor{
		provider:  provider,
		campaigns: campaigns,
		interval:  config.LivenessProbeInterval,
	}
}

func (m *ConnectionMonitor) Run(ctx context.Context) {
	m.wasConnected = m.provider.IsConnected()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll runs one liveness sample.
func (m *ConnectionMonitor) Poll(ctx context.Context) {
	connected := m.provider.IsConnected()
	defer func() { m.wasConnected = connected }()

	if !m.wasConnected || connected {
		return
	}

	logrus.Warn("[MONITOR] Session lost, pausing active campaigns")
	paused, err := m.campaigns.PauseAllActive(ctx, domainCampaign.PauseReasonDisconnection)
	if err != nil {
		logrus.WithError(err).Error("[MONITOR] Bulk pause failed")
		return
	}
	if paused > 0 {
		logrus.WithField("paused", paused).Info("[MONITOR] Campaigns auto-paused")
	}
}
