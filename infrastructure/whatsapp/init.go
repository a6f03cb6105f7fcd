package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/AzielCF/az-cast/config"
	domainSession "github.com/AzielCF/az-cast/domains/session"
	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// InitWaDB opens the whatsmeow session store (sqlite3 by default, postgres
// when the URI says so).
func InitWaDB(ctx context.Context, dbURI string) (*sqlstore.Container, error) {
	dbLog := waLog.Stdout("Database", config.WhatsappLogLevel, true)
	var container *sqlstore.Container
	var err error
	if strings.HasPrefix(dbURI, "postgres:") {
		container, err = sqlstore.New(ctx, "postgres", dbURI, dbLog)
	} else {
		container, err = sqlstore.New(ctx, "sqlite3", dbURI, dbLog)
	}
	if err != nil {
		return nil, fmt.Errorf("database initialization error: %w", err)
	}
	return container, nil
}

// Provider owns the single whatsmeow client for this agent and exposes it
// through the domain session interfaces. All consumers go through Current()
// instead of holding the client directly, so a reload swaps the session
// underneath them atomically.
type Provider struct {
	mu        sync.RWMutex
	client    *whatsmeow.Client
	container *sqlstore.Container
}

func NewProvider(ctx context.Context, container *sqlstore.Container) (*Provider, error) {
	p := &Provider{container: container}
	if err := p.Reload(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload rebuilds the client from the first stored device. Used at startup
// and whenever the session needs to be re-established from scratch.
func (p *Provider) Reload(ctx context.Context) error {
	device, err := p.container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get device: %w", err)
	}
	if device == nil {
		return fmt.Errorf("no device found in session store")
	}

	client := whatsmeow.NewClient(device, waLog.Stdout("Client", config.WhatsappLogLevel, true))
	client.EnableAutoReconnect = true
	client.AutoTrustIdentity = true
	client.AddEventHandler(p.handleEvent)

	p.mu.Lock()
	old := p.client
	p.client = client
	p.mu.Unlock()

	if old != nil && old.IsConnected() {
		old.Disconnect()
	}
	return nil
}

func (p *Provider) Connect() error {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil {
		return fmt.Errorf("no client to connect")
	}
	return client.Connect()
}

func (p *Provider) Disconnect() {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client != nil && client.IsConnected() {
		client.Disconnect()
	}
}

// Current returns the live send capability, or nil while the link is down or
// the device is logged out. Callers treat nil as "leave the job unacked and
// let redelivery retry".
func (p *Provider) Current() domainSession.ISession {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil || !client.IsConnected() || !client.IsLoggedIn() {
		return nil
	}
	return &session{client: client}
}

func (p *Provider) IsConnected() bool {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	return client != nil && client.IsConnected() && client.IsLoggedIn()
}

func (p *Provider) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		logrus.Info("[WA] Session connected")
	case *events.Disconnected:
		logrus.Warn("[WA] Session disconnected")
	case *events.StreamReplaced:
		logrus.Warn("[WA] Stream replaced by another connection")
	case *events.LoggedOut:
		logrus.WithField("reason", evt.Reason).Warn("[WA] Device logged out")
	}
}
