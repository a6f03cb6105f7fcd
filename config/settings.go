package config

import (
	"time"
)

var (
	AppVersion = "v1.2.0"
	AppPort    = "3000"
	AppDebug   = false
	AppOs      = "AzielCf"

	// Tenant identity. Every durable subject, KV key and dedup key is scoped
	// by AgentID; jobs addressed to another agent are acked and dropped.
	AgentID   = ""
	CompanyID = ""

	PathStorages = "storages"

	// WhatsApp session store (whatsmeow sqlstore).
	DBURI            = "file:storages/whatsapp.db?_foreign_keys=on"
	WhatsappLogLevel = "ERROR"
	WhatsappTypeUser = "@s.whatsapp.net"

	// Message bus.
	NatsURL                = "nats://localhost:4222"
	BroadcastStream        = "BROADCASTS"
	MailcastStream         = "MAILCASTS"
	DeadLetterStream       = "DLQ"
	CampaignBucket         = "campaigns"
	// Broadcast send retries are handled by dead-lettering, not redelivery,
	// so MaxDeliver stays unlimited: redelivery after the ack-wait is the
	// backoff for jobs deliberately left unacked (paused campaign, no live
	// session, failed dead-letter publish).
	BroadcastAckWait       = 60 * time.Second
	BroadcastMaxDeliver    = -1
	MailcastAckWait        = 30 * time.Second
	MailcastMaxDeliver     = 5
	MailcastMaxAttempts    = 3
	ConsumerRestartDelay   = 5 * time.Second
	StateUpdateMaxAttempts = 5

	// Dedup cache.
	ValkeyAddress   = "localhost:6379"
	ValkeyPassword  = ""
	ValkeyDB        = 0
	ValkeyKeyPrefix = "azcast"
	DedupTTL        = 7 * 24 * time.Hour

	// Task API collaborator.
	TaskAPIBaseURL = "http://localhost:8090"
	TaskAPIAuthKey = ""
	TaskAPITimeout = 10 * time.Second

	// Send pacing. Broadcast jobs sleep a random delay in [SendDelayMin,
	// SendDelayMax] unless the campaign carries an explicit rate limit.
	SendDelayMin = 2 * time.Second
	SendDelayMax = 5 * time.Second

	// Campaign health thresholds.
	FailureRateThreshold        = 0.10
	RollingFailureRateThreshold = 0.50
	RollingFailureMinProcessed  = 5

	// Connection monitor poll interval.
	LivenessProbeInterval = 5 * time.Second
)
