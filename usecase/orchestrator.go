package usecase

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AzielCF/az-cast/config"
	domainCampaign "github.com/AzielCF/az-cast/domains/campaign"
	domainJob "github.com/AzielCF/az-cast/domains/job"
	domainSession "github.com/AzielCF/az-cast/domains/session"
	domainTask "github.com/AzielCF/az-cast/domains/task"
	pkgError "github.com/AzielCF/az-cast/pkg/error"
	"github.com/sirupsen/logrus"
)

// batchLoop is one running pull loop. stop is the cooperative flag checked
// between recipients; done closes once the loop has fully exited.
type batchLoop struct {
	batchID string
	stop    atomic.Bool
	done    chan struct{}
}

// Orchestrator keeps at most one batch processing loop alive per agent,
// driven by watched campaign state changes. The loop pulls pending recipient
// tasks from the Task API and funnels them through the same send/record path
// the dispatcher uses.
type Orchestrator struct {
	agentID   string
	campaigns domainCampaign.ICampaignStore
	tasks     domainTask.IClient
	provider  domainSession.IProvider

	delayMin         time.Duration
	delayMax         time.Duration
	rollingThreshold float64
	rollingMin       int

	mu      sync.Mutex
	current *batchLoop

	sleep func(ctx context.Context, d time.Duration)
}

func NewOrchestrator(
	agentID string,
	campaigns domainCampaign.ICampaignStore,
	tasks domainTask.IClient,
	provider domainSession.IProvider,
) *Orchestrator {
	return &Orchestrator{
		agentID:          agentID,
		campaigns:        campaigns,
		tasks:            tasks,
		provider:         provider,
		delayMin:         config.SendDelayMin,
		delayMax:         config.SendDelayMax,
		rollingThreshold: config.RollingFailureRateThreshold,
		rollingMin:       config.RollingFailureMinProcessed,
		sleep:            sleepCtx,
	}
}

// Run consumes campaign state changes until ctx is cancelled or the watch
// channel closes.
func (o *Orchestrator) Run(ctx context.Context) error {
	changes, err := o.campaigns.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch campaigns: %w", err)
	}

	logrus.Info("[ORCH] Watching campaign state changes")
	for change := range changes {
		o.HandleChange(ctx, change)
	}

	o.StopCurrent()
	return ctx.Err()
}

// HandleChange reconciles the running loop against one observed state change.
func (o *Orchestrator) HandleChange(ctx context.Context, change domainCampaign.Change) {
	if change.Deleted || change.State == nil || change.State.Status != domainCampaign.StatusProcessing {
		o.stopIfRunning(change.BatchID)
		return
	}

	o.mu.Lock()
	if o.current != nil && o.current.batchID == change.BatchID {
		// Already driving this batch.
		o.mu.Unlock()
		return
	}
	previous := o.current
	o.mu.Unlock()

	if previous != nil {
		// A different batch went active; stop the old loop first.
		o.stopLoop(previous)
	}

	loop := &batchLoop{batchID: change.BatchID, done: make(chan struct{})}
	o.mu.Lock()
	o.current = loop
	o.mu.Unlock()

	logrus.WithField("batch_id", change.BatchID).Info("[ORCH] Starting batch loop")
	go o.runBatch(ctx, loop)
}

func (o *Orchestrator) stopIfRunning(batchID string) {
	o.mu.Lock()
	loop := o.current
	o.mu.Unlock()
	if loop != nil && loop.batchID == batchID {
		o.stopLoop(loop)
	}
}

// StopCurrent stops whatever loop is running; used at shutdown.
func (o *Orchestrator) StopCurrent() {
	o.mu.Lock()
	loop := o.current
	o.mu.Unlock()
	if loop != nil {
		o.stopLoop(loop)
	}
}

// stopLoop is cooperative: the flag is observed between recipients, so an
// in-flight send completes before the loop exits.
func (o *Orchestrator) stopLoop(loop *batchLoop) {
	loop.stop.Store(true)
	<-loop.done
	o.mu.Lock()
	if o.current == loop {
		o.current = nil
	}
	o.mu.Unlock()
}

func (o *Orchestrator) runBatch(ctx context.Context, loop *batchLoop) {
	defer close(loop.done)
	defer func() {
		// Let a later PROCESSING notification restart a naturally finished
		// batch.
		o.mu.Lock()
		if o.current == loop {
			o.current = nil
		}
		o.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("batch_id", loop.batchID).Errorf("[ORCH] Recovered from panic in batch loop: %v", r)
			o.pause(ctx, loop.batchID, domainCampaign.PauseReasonError)
		}
	}()

	sent, failed := 0, 0
	for !loop.stop.Load() && ctx.Err() == nil {
		if !o.provider.IsConnected() {
			logrus.WithField("batch_id", loop.batchID).Warn("[ORCH] Session down, pausing batch")
			o.pause(ctx, loop.batchID, domainCampaign.PauseReasonDisconnection)
			return
		}

		t, err := o.tasks.NextPending(ctx, loop.batchID)
		if pkgError.IsNotFound(err) {
			logrus.WithField("batch_id", loop.batchID).Info("[ORCH] Batch drained, loop done")
			return
		}
		if err != nil {
			logrus.WithError(err).WithField("batch_id", loop.batchID).Error("[ORCH] Task poll failed, pausing batch")
			o.pause(ctx, loop.batchID, domainCampaign.PauseReasonError)
			return
		}

		if o.processTask(ctx, loop.batchID, t) {
			sent++
		} else {
			failed++
		}

		// A single recipient failure does not abort the batch, but a rolling
		// failure rate above the threshold does.
		processed := sent + failed
		if processed >= o.rollingMin && float64(failed)/float64(processed) > o.rollingThreshold {
			logrus.WithFields(logrus.Fields{
				"batch_id":  loop.batchID,
				"processed": processed,
				"failed":    failed,
			}).Error("[ORCH] Failure rate too high, pausing batch")
			o.pause(ctx, loop.batchID, domainCampaign.PauseReasonError)
			return
		}

		jitter := o.delayMin
		if o.delayMax > o.delayMin {
			jitter += time.Duration(rand.Int63n(int64(o.delayMax - o.delayMin)))
		}
		o.sleep(ctx, jitter)
	}
}

// processTask sends one recipient and records the outcome. Returns true on
// success.
func (o *Orchestrator) processTask(ctx context.Context, batchID string, t *domainTask.Task) bool {
	log := logrus.WithFields(logrus.Fields{
		"batch_id": batchID,
		"task_id":  t.ID,
		"phone":    t.PhoneNumber,
	})

	sess := o.provider.Current()
	if sess == nil {
		log.Warn("[ORCH] No live session for recipient")
		o.recordFailure(ctx, batchID, t.ID, "no live session")
		return false
	}

	text := renderMessage(&domainJob.SendJob{
		Message:   t.Message,
		Variables: t.Variables,
		Contact:   t.Contact,
	})

	resp, err := sess.SendText(ctx, t.PhoneNumber, text, t.QuotedMessageID)
	if err != nil {
		log.WithError(err).Error("[ORCH] Send failed")
		o.recordFailure(ctx, batchID, t.ID, err.Error())
		return false
	}

	_ = o.campaigns.RecordOutcome(ctx, batchID, false)
	if err := o.tasks.UpdateStatus(ctx, t.ID, domainTask.StatusUpdate{
		Status: domainTask.StatusCompleted,
		Result: &domainTask.Result{MessageID: resp.MessageID, Timestamp: resp.Timestamp},
	}); err != nil {
		log.WithError(err).Warn("[ORCH] Task status update failed")
	}
	log.WithField("message_id", resp.MessageID).Info("[ORCH] Message sent")
	return true
}

func (o *Orchestrator) recordFailure(ctx context.Context, batchID, taskID, errMsg string) {
	_ = o.campaigns.RecordOutcome(ctx, batchID, true)
	if err := o.tasks.UpdateStatus(ctx, taskID, domainTask.StatusUpdate{
		Status: domainTask.StatusError,
		Error:  errMsg,
	}); err != nil {
		logrus.WithError(err).WithField("task_id", taskID).Warn("[ORCH] Task status update failed")
	}
}

func (o *Orchestrator) pause(ctx context.Context, batchID, reason string) {
	if err := o.campaigns.Pause(ctx, batchID, reason); err != nil {
		logrus.WithError(err).WithField("batch_id", batchID).Warn("[ORCH] Failed to pause batch")
	}
}
