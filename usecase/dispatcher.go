package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/AzielCF/az-cast/config"
	domainCampaign "github.com/AzielCF/az-cast/domains/campaign"
	domainDedup "github.com/AzielCF/az-cast/domains/dedup"
	domainJob "github.com/AzielCF/az-cast/domains/job"
	domainSession "github.com/AzielCF/az-cast/domains/session"
	domainTask "github.com/AzielCF/az-cast/domains/task"
	pkgError "github.com/AzielCF/az-cast/pkg/error"
	"github.com/AzielCF/az-cast/pkg/variables"
	"github.com/AzielCF/az-cast/validations"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// MessageSource yields one stream delivery per Next call. Stop unblocks a
// pending Next.
type MessageSource interface {
	Next() (domainJob.StreamMessage, error)
	Stop()
}

// SourceFactory opens a fresh MessageSource, called once per consumer
// (re)start.
type SourceFactory func(ctx context.Context) (MessageSource, error)

// Dispatcher drives queued send jobs of one class through
// validation -> dedup -> state check -> send -> settle. The acknowledgement of
// a message is the unit of durability: a job is only acked once its outcome
// (success, permanent drop or dead-letter publish) is recorded.
type Dispatcher struct {
	agentID   string
	class     domainJob.Class
	provider  domainSession.IProvider
	dedup     domainDedup.IGuard
	campaigns domainCampaign.ICampaignStore
	tasks     domainTask.IClient
	dlq       *DeadLetterPublisher

	maxAttempts  int
	delayMin     time.Duration
	delayMax     time.Duration
	restartDelay time.Duration

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	// sleep is replaced in tests to skip real delays.
	sleep func(ctx context.Context, d time.Duration)
}

func NewDispatcher(
	class domainJob.Class,
	agentID string,
	provider domainSession.IProvider,
	dedup domainDedup.IGuard,
	campaigns domainCampaign.ICampaignStore,
	tasks domainTask.IClient,
	dlq *DeadLetterPublisher,
) *Dispatcher {
	return &Dispatcher{
		agentID:      agentID,
		class:        class,
		provider:     provider,
		dedup:        dedup,
		campaigns:    campaigns,
		tasks:        tasks,
		dlq:          dlq,
		maxAttempts:  config.MailcastMaxAttempts,
		delayMin:     config.SendDelayMin,
		delayMax:     config.SendDelayMax,
		restartDelay: config.ConsumerRestartDelay,
		limiters:     make(map[string]*rate.Limiter),
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Run consumes until ctx is cancelled. A broken source or a panic inside the
// consume loop logs and restarts the consumer after a fixed delay.
func (d *Dispatcher) Run(ctx context.Context, factory SourceFactory) {
	for ctx.Err() == nil {
		source, err := factory(ctx)
		if err != nil {
			logrus.WithError(err).WithField("class", d.class).Error("[DISPATCH] Failed to open message source")
			d.sleep(ctx, d.restartDelay)
			continue
		}

		d.consume(ctx, source)
		if ctx.Err() != nil {
			return
		}

		logrus.WithField("class", d.class).Warnf("[DISPATCH] Consumer stopped unexpectedly, restarting in %v", d.restartDelay)
		d.sleep(ctx, d.restartDelay)
	}
}

func (d *Dispatcher) consume(ctx context.Context, source MessageSource) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("class", d.class).Errorf("[DISPATCH] Recovered from panic in consumer loop: %v", r)
		}
	}()

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			source.Stop()
		case <-stopped:
		}
	}()

	for {
		msg, err := source.Next()
		if err != nil {
			if ctx.Err() == nil {
				logrus.WithError(err).WithField("class", d.class).Error("[DISPATCH] Message source failed")
			}
			return
		}
		d.Handle(ctx, msg)
	}
}

// Handle settles one delivery. It never returns an error: every outcome is
// expressed through ack/no-ack, dead-lettering and the best-effort side
// effects.
func (d *Dispatcher) Handle(ctx context.Context, msg domainJob.StreamMessage) {
	var parsed domainJob.SendJob
	if err := json.Unmarshal(msg.Data(), &parsed); err != nil {
		// Malformed payloads cannot succeed on retry.
		d.deadLetterAndAck(ctx, msg, nil, fmt.Errorf("malformed payload: %w", err))
		return
	}

	// Routing headers win over body fields when present.
	if v := msg.Header(domainJob.HeaderAgentID); v != "" {
		parsed.AgentID = v
	}
	if v := msg.Header(domainJob.HeaderBatchID); v != "" {
		parsed.BatchID = v
	}

	if err := validations.ValidateSendJob(&parsed, d.class); err != nil {
		d.deadLetterAndAck(ctx, msg, &parsed, fmt.Errorf("invalid payload: %w", err))
		return
	}

	log := logrus.WithFields(logrus.Fields{
		"class":    d.class,
		"task_id":  parsed.TaskID,
		"batch_id": parsed.BatchID,
		"phone":    parsed.PhoneNumber,
	})

	// Another tenant's job: ack so it is not redelivered here, drop silently.
	if parsed.AgentID != d.agentID {
		log.WithField("agent_id", parsed.AgentID).Debug("[DISPATCH] Dropping job for different agent")
		d.ack(msg)
		return
	}

	scope := parsed.DedupScope(d.class)
	processed, err := d.dedup.IsProcessed(ctx, parsed.AgentID, scope, parsed.PhoneNumber)
	if err != nil {
		// Transient cache trouble: leave unacked, redelivery retries.
		log.WithError(err).Warn("[DISPATCH] Dedup lookup failed, leaving job for redelivery")
		return
	}
	if processed {
		log.Debug("[DISPATCH] Duplicate delivery, already processed")
		d.ack(msg)
		return
	}

	var state *domainCampaign.State
	if d.class == domainJob.ClassBroadcast {
		state, err = d.campaigns.Get(ctx, parsed.BatchID)
		switch {
		case pkgError.IsNotFound(err):
			// Campaign state can expire independently of queued jobs.
			log.Warn("[DISPATCH] Campaign state missing, continuing anyway")
			state = nil
		case err != nil:
			log.WithError(err).Warn("[DISPATCH] Campaign state unreadable, leaving job for redelivery")
			return
		case state.Status == domainCampaign.StatusCancelled || state.Status.IsTerminal():
			log.WithField("status", state.Status).Info("[DISPATCH] Campaign over, dropping job")
			d.ack(msg)
			return
		case state.Status == domainCampaign.StatusPaused:
			// No ack: the consumer ack-wait doubles as the pause backoff.
			log.Debug("[DISPATCH] Campaign paused, leaving job for redelivery")
			return
		}
	}

	sess := d.provider.Current()
	if sess == nil {
		log.Warn("[DISPATCH] No live session, leaving job for redelivery")
		return
	}

	d.waitBeforeSend(ctx, state)
	if ctx.Err() != nil {
		return
	}

	text := renderMessage(&parsed)
	resp, err := sess.SendText(ctx, parsed.PhoneNumber, text, parsed.QuotedMessageID)
	if err != nil {
		d.handleSendFailure(ctx, msg, &parsed, err, log)
		return
	}

	if err := d.dedup.MarkProcessed(ctx, parsed.AgentID, scope, parsed.PhoneNumber, resp.MessageID); err != nil {
		log.WithError(err).Warn("[DISPATCH] Failed to write dedup record")
	}
	if d.class == domainJob.ClassBroadcast {
		_ = d.campaigns.RecordOutcome(ctx, parsed.BatchID, false)
	}
	d.updateTask(ctx, parsed.TaskID, domainTask.StatusUpdate{
		Status: domainTask.StatusCompleted,
		Result: &domainTask.Result{MessageID: resp.MessageID, Timestamp: resp.Timestamp},
	})

	log.WithField("message_id", resp.MessageID).Info("[DISPATCH] Message sent")
	d.ack(msg)
}

// handleSendFailure applies the class-specific retry policy.
func (d *Dispatcher) handleSendFailure(ctx context.Context, msg domainJob.StreamMessage, parsed *domainJob.SendJob, cause error, log *logrus.Entry) {
	log.WithError(cause).Error("[DISPATCH] Send failed")

	if d.class == domainJob.ClassBroadcast {
		// Broadcast never redelivers: first failure goes straight to the DLQ.
		if err := d.dlq.Publish(ctx, msg, parsed, d.class, cause); err != nil {
			// Leave unacked so the whole failure handling retries from scratch.
			log.WithError(err).Error("[DISPATCH] Dead-letter publish failed, leaving job for redelivery")
			return
		}
		_ = d.campaigns.RecordOutcome(ctx, parsed.BatchID, true)
		d.updateTask(ctx, parsed.TaskID, domainTask.StatusUpdate{Status: domainTask.StatusError, Error: cause.Error()})
		d.ack(msg)
		return
	}

	// Mailcast: bounded redelivery before giving up.
	if msg.Deliveries() < uint64(d.maxAttempts) {
		log.WithFields(logrus.Fields{
			"attempt":      msg.Deliveries(),
			"max_attempts": d.maxAttempts,
		}).Warn("[DISPATCH] Leaving job for redelivery")
		d.updateTask(ctx, parsed.TaskID, domainTask.StatusUpdate{Status: domainTask.StatusProcessing})
		return
	}

	if err := d.dlq.Publish(ctx, msg, parsed, d.class, cause); err != nil {
		log.WithError(err).Error("[DISPATCH] Dead-letter publish failed, leaving job for redelivery")
		return
	}
	if err := d.dedup.MarkFailed(ctx, parsed.AgentID, parsed.DedupScope(d.class), parsed.PhoneNumber, cause.Error()); err != nil {
		log.WithError(err).Warn("[DISPATCH] Failed to write failed dedup record")
	}
	d.updateTask(ctx, parsed.TaskID, domainTask.StatusUpdate{Status: domainTask.StatusError, Error: cause.Error()})
	d.ack(msg)
}

// deadLetterAndAck handles permanent payload errors for both classes.
func (d *Dispatcher) deadLetterAndAck(ctx context.Context, msg domainJob.StreamMessage, parsed *domainJob.SendJob, cause error) {
	logrus.WithError(cause).WithField("subject", msg.Subject()).Error("[DISPATCH] Permanent payload error")
	if err := d.dlq.Publish(ctx, msg, parsed, d.class, cause); err != nil {
		logrus.WithError(err).Error("[DISPATCH] Dead-letter publish failed, leaving job for redelivery")
		return
	}
	d.ack(msg)
}

// waitBeforeSend paces broadcast sends: an explicit campaign rate limit wins,
// otherwise a randomized jitter keeps the provider from throttling us.
func (d *Dispatcher) waitBeforeSend(ctx context.Context, state *domainCampaign.State) {
	if d.class != domainJob.ClassBroadcast {
		return
	}
	if state != nil && state.RateLimit != nil && state.RateLimit.MessagesPerSecond > 0 {
		_ = d.limiter(state.BatchID, state.RateLimit.MessagesPerSecond).Wait(ctx)
		return
	}
	jitter := d.delayMin
	if d.delayMax > d.delayMin {
		jitter += time.Duration(rand.Int63n(int64(d.delayMax - d.delayMin)))
	}
	d.sleep(ctx, jitter)
}

func (d *Dispatcher) limiter(batchID string, messagesPerSecond float64) *rate.Limiter {
	d.limitersMu.Lock()
	defer d.limitersMu.Unlock()
	limiter, ok := d.limiters[batchID]
	if !ok || limiter.Limit() != rate.Limit(messagesPerSecond) {
		limiter = rate.NewLimiter(rate.Limit(messagesPerSecond), 1)
		d.limiters[batchID] = limiter
	}
	return limiter
}

// updateTask is best effort: a failed status report never blocks or reverses
// the acknowledgement decision.
func (d *Dispatcher) updateTask(ctx context.Context, taskID string, update domainTask.StatusUpdate) {
	if err := d.tasks.UpdateStatus(ctx, taskID, update); err != nil {
		logrus.WithError(err).WithField("task_id", taskID).Warn("[DISPATCH] Task status update failed")
	}
}

func (d *Dispatcher) ack(msg domainJob.StreamMessage) {
	if err := msg.Ack(); err != nil {
		logrus.WithError(err).Warn("[DISPATCH] Ack failed")
	}
}

// renderMessage merges contact fields under explicit variables and renders
// the template. Structured messages keep their shape; the text field (or the
// JSON encoding as a fallback) becomes the outbound body.
func renderMessage(job *domainJob.SendJob) string {
	vars := variables.Merge(job.Contact, job.Variables)
	switch m := job.Message.(type) {
	case string:
		return variables.ApplyString(m, vars)
	case map[string]any:
		rendered := variables.Apply(m, vars)
		if obj, ok := rendered.(map[string]any); ok {
			if text, ok := obj["text"].(string); ok {
				return text
			}
		}
		encoded, err := json.Marshal(rendered)
		if err != nil {
			return fmt.Sprint(rendered)
		}
		return string(encoded)
	default:
		return variables.ApplyString(fmt.Sprint(m), vars)
	}
}
