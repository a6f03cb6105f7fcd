package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	globalConfig "github.com/AzielCF/az-cast/config"
	domainJob "github.com/AzielCF/az-cast/domains/job"
	"github.com/AzielCF/az-cast/infrastructure/bus"
	"github.com/AzielCF/az-cast/infrastructure/taskapi"
	"github.com/AzielCF/az-cast/infrastructure/valkey"
	"github.com/AzielCF/az-cast/infrastructure/whatsapp"
	uiRest "github.com/AzielCF/az-cast/ui/rest"
	"github.com/AzielCF/az-cast/usecase"
	"github.com/gofiber/fiber/v2"
	natslib "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the messaging agent",
	Run:   runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runAgent(_ *cobra.Command, _ []string) {
	if globalConfig.AgentID == "" {
		logrus.Fatal("[APP] AGENT_ID is required")
	}
	agentID := globalConfig.AgentID

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(globalConfig.PathStorages, 0o755); err != nil {
		logrus.Fatalf("[APP] failed to prepare storage folder: %v", err)
	}

	// WhatsApp session
	container, err := whatsapp.InitWaDB(ctx, globalConfig.DBURI)
	if err != nil {
		logrus.Fatalf("[APP] failed to open session store: %v", err)
	}
	provider, err := whatsapp.NewProvider(ctx, container)
	if err != nil {
		logrus.Fatalf("[APP] failed to init session provider: %v", err)
	}
	if err := provider.Connect(); err != nil {
		// Jobs stay unacked while the link is down, so this is not fatal.
		logrus.WithError(err).Warn("[APP] WhatsApp connect failed, will rely on auto-reconnect")
	}
	defer provider.Disconnect()

	// Dedup cache
	cache, err := valkey.NewClient(valkey.Config{
		Address:   globalConfig.ValkeyAddress,
		Password:  globalConfig.ValkeyPassword,
		DB:        globalConfig.ValkeyDB,
		KeyPrefix: globalConfig.ValkeyKeyPrefix,
	})
	if err != nil {
		logrus.Fatalf("[APP] failed to connect to valkey: %v", err)
	}
	defer cache.Close()

	// Message bus
	busClient, err := bus.Connect(globalConfig.NatsURL, "az-cast-"+agentID)
	if err != nil {
		logrus.Fatalf("[APP] failed to connect to nats: %v", err)
	}
	defer busClient.Close()

	broadcastStream, err := busClient.EnsureStream(ctx, globalConfig.BroadcastStream, []string{"broadcasts.>"})
	if err != nil {
		logrus.Fatalf("[APP] broadcast stream setup failed: %v", err)
	}
	mailcastStream, err := busClient.EnsureStream(ctx, globalConfig.MailcastStream, []string{"mailcasts.>"})
	if err != nil {
		logrus.Fatalf("[APP] mailcast stream setup failed: %v", err)
	}
	if _, err := busClient.EnsureStream(ctx, globalConfig.DeadLetterStream, []string{"dlq.>"}); err != nil {
		logrus.Fatalf("[APP] dead-letter stream setup failed: %v", err)
	}
	bucket, err := busClient.EnsureKeyValue(ctx, globalConfig.CampaignBucket)
	if err != nil {
		logrus.Fatalf("[APP] campaign bucket setup failed: %v", err)
	}

	// Use cases
	campaigns := usecase.NewCampaignStore(agentID, bus.NewKVStore(bucket))
	dedupGuard := usecase.NewDedupGuard(cache)
	tasks := taskapi.NewClient(taskapi.Config{
		BaseURL: globalConfig.TaskAPIBaseURL,
		AuthKey: globalConfig.TaskAPIAuthKey,
		Timeout: globalConfig.TaskAPITimeout,
	})
	dlq := usecase.NewDeadLetterPublisher(agentID, busClient)

	broadcastDispatcher := usecase.NewDispatcher(domainJob.ClassBroadcast, agentID, provider, dedupGuard, campaigns, tasks, dlq)
	mailcastDispatcher := usecase.NewDispatcher(domainJob.ClassMailcast, agentID, provider, dedupGuard, campaigns, tasks, dlq)

	broadcastFactory := sourceFactory(busClient, broadcastStream, jetstream.ConsumerConfig{
		Durable:       "broadcast-" + agentID,
		FilterSubject: fmt.Sprintf("broadcasts.%s", agentID),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       globalConfig.BroadcastAckWait,
		MaxDeliver:    globalConfig.BroadcastMaxDeliver,
	})
	mailcastFactory := sourceFactory(busClient, mailcastStream, jetstream.ConsumerConfig{
		Durable:       "mailcast-" + agentID,
		FilterSubject: fmt.Sprintf("mailcasts.%s", agentID),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       globalConfig.MailcastAckWait,
		MaxDeliver:    globalConfig.MailcastMaxDeliver,
	})

	// Fail fast on broken consumer definitions before starting the loops.
	for name, factory := range map[string]usecase.SourceFactory{
		"broadcast": broadcastFactory,
		"mailcast":  mailcastFactory,
	} {
		source, err := factory(ctx)
		if err != nil {
			logrus.Fatalf("[APP] %s consumer setup failed: %v", name, err)
		}
		source.Stop()
	}

	orchestrator := usecase.NewOrchestrator(agentID, campaigns, tasks, provider)
	monitor := usecase.NewConnectionMonitor(provider, campaigns)
	commands := usecase.NewCommandHandler(campaigns)

	commandSub, err := busClient.Subscribe(fmt.Sprintf("commands.%s", agentID), func(msg *natslib.Msg) {
		reply := commands.Handle(ctx, msg.Data)
		if msg.Reply != "" {
			if err := msg.Respond(reply); err != nil {
				logrus.WithError(err).Warn("[CMD] Failed to send command reply")
			}
		}
	})
	if err != nil {
		logrus.Fatalf("[APP] command subscription failed: %v", err)
	}
	defer func() { _ = commandSub.Unsubscribe() }()

	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); broadcastDispatcher.Run(ctx, broadcastFactory) }()
	go func() { defer wg.Done(); mailcastDispatcher.Run(ctx, mailcastFactory) }()
	go func() {
		defer wg.Done()
		if err := orchestrator.Run(ctx); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Error("[APP] Orchestrator stopped")
		}
	}()
	go func() { defer wg.Done(); monitor.Run(ctx) }()

	// Ops surface
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	uiRest.InitHealth(app, provider)
	go func() {
		if err := app.Listen(":" + globalConfig.AppPort); err != nil {
			logrus.WithError(err).Error("[APP] REST server stopped")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"agent_id": agentID,
		"version":  globalConfig.AppVersion,
	}).Info("[APP] Agent running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logrus.Info("[APP] Shutting down...")
	shutdownErr := false
	cancel()
	orchestrator.StopCurrent()
	wg.Wait()
	if err := app.Shutdown(); err != nil {
		logrus.WithError(err).Error("[APP] REST shutdown failed")
		shutdownErr = true
	}

	logrus.Info("[APP] Application stopped cleanly.")
	if shutdownErr {
		os.Exit(1)
	}
}

// sourceFactory builds a SourceFactory bound to one stream + consumer
// definition; EnsureConsumer keeps re-opening idempotent across restarts.
func sourceFactory(client *bus.Client, stream jetstream.Stream, cfg jetstream.ConsumerConfig) usecase.SourceFactory {
	return func(ctx context.Context) (usecase.MessageSource, error) {
		cons, err := client.EnsureConsumer(ctx, stream, cfg)
		if err != nil {
			return nil, err
		}
		return bus.NewMessageSource(cons)
	}
}
