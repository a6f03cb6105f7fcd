package usecase

import (
	"context"
	"fmt"
	"sync"

	domainCampaign "github.com/AzielCF/az-cast/domains/campaign"
	domainKV "github.com/AzielCF/az-cast/domains/kv"
	domainSession "github.com/AzielCF/az-cast/domains/session"
	domainTask "github.com/AzielCF/az-cast/domains/task"
	pkgError "github.com/AzielCF/az-cast/pkg/error"
	"github.com/AzielCF/az-cast/pkg/optimistic"
)

// fakeKV is an in-memory versioned bucket. conflicts rejects that many Update
// calls with ErrConflict before letting writes through.
type fakeKV struct {
	mu        sync.Mutex
	entries   map[string]domainKV.Entry
	nextRev   uint64
	conflicts int
	writes    int
	watchCh   chan domainKV.Entry
}

func newFakeKV() *fakeKV {
	return &fakeKV{entries: map[string]domainKV.Entry{}, watchCh: make(chan domainKV.Entry, 16)}
}

func (f *fakeKV) put(key string, value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRev++
	f.entries[key] = domainKV.Entry{Key: key, Value: value, Revision: f.nextRev}
}

func (f *fakeKV) Get(_ context.Context, key string) ([]byte, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[key]
	if !ok {
		return nil, 0, pkgError.NotFoundError("key not found: " + key)
	}
	return entry.Value, entry.Revision, nil
}

func (f *fakeKV) Create(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[key]; ok {
		return fmt.Errorf("key already exists: %w", optimistic.ErrConflict)
	}
	f.nextRev++
	f.writes++
	f.entries[key] = domainKV.Entry{Key: key, Value: value, Revision: f.nextRev}
	return nil
}

func (f *fakeKV) Update(_ context.Context, key string, value []byte, revision uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflicts > 0 {
		f.conflicts--
		return fmt.Errorf("wrong last revision: %w", optimistic.ErrConflict)
	}
	entry, ok := f.entries[key]
	if !ok {
		return pkgError.NotFoundError("key not found: " + key)
	}
	if entry.Revision != revision {
		return fmt.Errorf("wrong last revision: %w", optimistic.ErrConflict)
	}
	f.nextRev++
	f.writes++
	f.entries[key] = domainKV.Entry{Key: key, Value: value, Revision: f.nextRev}
	return nil
}

func (f *fakeKV) Keys(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.entries))
	for key := range f.entries {
		keys = append(keys, key)
	}
	return keys, nil
}

func (f *fakeKV) Watch(_ context.Context, _ string) (<-chan domainKV.Entry, error) {
	return f.watchCh, nil
}

type sendCall struct {
	phone  string
	text   string
	quoted string
}

// fakeSession records sends; errs is consumed one error per call, a nil entry
// means that call succeeds.
type fakeSession struct {
	mu    sync.Mutex
	calls []sendCall
	errs  []error
}

func (s *fakeSession) SendText(_ context.Context, phone, text, quoted string) (domainSession.SendResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sendCall{phone: phone, text: text, quoted: quoted})
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return domainSession.SendResponse{}, err
		}
	}
	return domainSession.SendResponse{MessageID: fmt.Sprintf("MSG-%d", len(s.calls))}, nil
}

func (s *fakeSession) sendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fakeProvider struct {
	mu        sync.Mutex
	session   domainSession.ISession
	connected bool
}

func (p *fakeProvider) Current() domainSession.ISession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

func (p *fakeProvider) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakeProvider) setConnected(connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = connected
}

type fakeDedup struct {
	mu        sync.Mutex
	processed map[string]bool
	failed    map[string]string
	lookupErr error
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{processed: map[string]bool{}, failed: map[string]string{}}
}

func dedupKey(agentID, scopeID, phone string) string {
	return agentID + "/" + scopeID + "/" + phone
}

func (d *fakeDedup) IsProcessed(_ context.Context, agentID, scopeID, phone string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lookupErr != nil {
		return false, d.lookupErr
	}
	return d.processed[dedupKey(agentID, scopeID, phone)], nil
}

func (d *fakeDedup) MarkProcessed(_ context.Context, agentID, scopeID, phone, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.processed[dedupKey(agentID, scopeID, phone)] = true
	return nil
}

func (d *fakeDedup) MarkFailed(_ context.Context, agentID, scopeID, phone, errMsg string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.processed[dedupKey(agentID, scopeID, phone)] = true
	d.failed[dedupKey(agentID, scopeID, phone)] = errMsg
	return nil
}

type recordedUpdate struct {
	taskID string
	update domainTask.StatusUpdate
}

// fakeTasks pops pending tasks in order and reports NotFound once drained.
type fakeTasks struct {
	mu      sync.Mutex
	pending []*domainTask.Task
	pollErr error
	updates []recordedUpdate
}

func (t *fakeTasks) UpdateStatus(_ context.Context, taskID string, update domainTask.StatusUpdate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updates = append(t.updates, recordedUpdate{taskID: taskID, update: update})
	return nil
}

func (t *fakeTasks) NextPending(_ context.Context, batchID string) (*domainTask.Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pollErr != nil {
		return nil, t.pollErr
	}
	if len(t.pending) == 0 {
		return nil, pkgError.NotFoundError("no pending task for batch " + batchID)
	}
	next := t.pending[0]
	t.pending = t.pending[1:]
	return next, nil
}

func (t *fakeTasks) updatesFor(taskID string) []domainTask.StatusUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domainTask.StatusUpdate
	for _, u := range t.updates {
		if u.taskID == taskID {
			out = append(out, u.update)
		}
	}
	return out
}

type publishedMsg struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMsg
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, publishedMsg{subject: subject, data: data})
	return nil
}

type outcomeCall struct {
	batchID string
	failed  bool
}

type pauseCall struct {
	batchID string
	reason  string
}

type startCall struct {
	batchID   string
	total     int
	rateLimit *domainCampaign.RateLimit
}

// fakeCampaigns is an in-memory ICampaignStore recording every mutation.
type fakeCampaigns struct {
	mu            sync.Mutex
	states        map[string]*domainCampaign.State
	getErr        error
	cmdErr        error
	outcomes      []outcomeCall
	starts        []startCall
	pauses        []pauseCall
	resumes       []string
	cancels       []string
	pauseAllCalls []string
	changes       chan domainCampaign.Change
}

func newFakeCampaigns() *fakeCampaigns {
	return &fakeCampaigns{
		states:  map[string]*domainCampaign.State{},
		changes: make(chan domainCampaign.Change, 16),
	}
}

func (c *fakeCampaigns) Get(_ context.Context, batchID string) (*domainCampaign.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	state, ok := c.states[batchID]
	if !ok {
		return nil, pkgError.NotFoundError("campaign not found: " + batchID)
	}
	copied := *state
	return &copied, nil
}

func (c *fakeCampaigns) Start(_ context.Context, batchID string, total int, rateLimit *domainCampaign.RateLimit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts = append(c.starts, startCall{batchID: batchID, total: total, rateLimit: rateLimit})
	return c.cmdErr
}

func (c *fakeCampaigns) Pause(_ context.Context, batchID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pauses = append(c.pauses, pauseCall{batchID: batchID, reason: reason})
	return c.cmdErr
}

func (c *fakeCampaigns) Resume(_ context.Context, batchID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumes = append(c.resumes, batchID)
	return c.cmdErr
}

func (c *fakeCampaigns) Cancel(_ context.Context, batchID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels = append(c.cancels, batchID)
	return c.cmdErr
}

func (c *fakeCampaigns) RecordOutcome(_ context.Context, batchID string, failed bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, outcomeCall{batchID: batchID, failed: failed})
	return nil
}

func (c *fakeCampaigns) PauseAllActive(_ context.Context, reason string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pauseAllCalls = append(c.pauseAllCalls, reason)
	return 1, nil
}

func (c *fakeCampaigns) Watch(_ context.Context) (<-chan domainCampaign.Change, error) {
	return c.changes, nil
}

func (c *fakeCampaigns) pauseCalls() []pauseCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]pauseCall(nil), c.pauses...)
}

func (c *fakeCampaigns) outcomeCalls() []outcomeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]outcomeCall(nil), c.outcomes...)
}

// fakeMsg is one stream delivery with controllable metadata.
type fakeMsg struct {
	mu         sync.Mutex
	data       []byte
	subject    string
	headers    map[string]string
	deliveries uint64
	sequence   uint64
	acked      bool
}

func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Subject() string { return m.subject }

func (m *fakeMsg) Header(key string) string {
	return m.headers[key]
}

func (m *fakeMsg) Deliveries() uint64     { return m.deliveries }
func (m *fakeMsg) StreamSequence() uint64 { return m.sequence }

func (m *fakeMsg) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = true
	return nil
}

func (m *fakeMsg) isAcked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked
}
