package sched

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gammazero/deque"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/vtc-sched/sched/telemetry"
	"github.com/inference-sim/vtc-sched/sched/trace"
)

// Scheduler drives VTC scheduling one tick at a time. It exclusively owns the
// request queue, the counter ledger, and the progress fields of every
// accepted request.
//
// Submit and Abort may be called from any goroutine; they only append to
// intake buffers. Tick, Run and RunTrace must be called from a single
// goroutine. Intake is drained once at the start of each tick, so work
// submitted while a tick is in flight affects the following tick.
type Scheduler struct {
	cfg      Config
	cost     CostModel
	tracker  *CounterTracker
	queue    *RequestQueue
	former   BatchFormation
	engine   ExecutionEngine
	capacity CapacityProvider

	// intake, guarded by mu
	mu       sync.Mutex
	tick     int64
	arrivals deque.Deque[*Request]
	aborts   deque.Deque[string]
	rejected deque.Deque[*Request]
	known    map[string]bool

	retired  map[string]bool // ids of requests that reached done
	metrics  *Metrics
	recorder *telemetry.Recorder
	trace    *trace.SchedulingTrace
}

// Option configures optional Scheduler collaborators.
type Option func(*Scheduler)

// WithRecorder exports scheduler state to Prometheus through r.
func WithRecorder(r *telemetry.Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithTrace records scheduling decisions into st.
func WithTrace(st *trace.SchedulingTrace) Option {
	return func(s *Scheduler) { s.trace = st }
}

// New validates cfg and creates a Scheduler bound to an engine and a capacity provider.
func New(cfg Config, engine ExecutionEngine, capacity CapacityProvider, opts ...Option) (*Scheduler, error) {
	if engine == nil {
		panic("New: engine must not be nil")
	}
	if capacity == nil {
		panic("New: capacity must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	cost := NewCostModel(cfg.Cost)
	tracker, err := NewCounterTracker(cost, cfg.Fairness, !cfg.Chunked())
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		cfg:      cfg,
		cost:     cost,
		tracker:  tracker,
		queue:    NewRequestQueue(),
		former:   NewBatchFormation(cfg.Policy, cost),
		engine:   engine,
		capacity: capacity,
		known:    make(map[string]bool),
		retired:  make(map[string]bool),
		metrics:  NewMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TickResult describes what happened in one tick.
type TickResult struct {
	Tick      int64
	Batch     *Batch
	Report    *CompletionReport  // nil when the batch was empty
	Accepted  []*Request         // arrivals linearized into the queue this tick
	Finished  []*Request         // requests that reached done through the report
	Aborted   []*Request         // requests removed by Abort
	Preempted []*Request         // partial prefills displaced this tick
	Charges   map[string]float64 // weighted counter increase per client
}

// Submit hands a new request to the scheduler. The request is linearized into
// the queue at the start of the next tick.
//
// Returns ErrInvalidRequest for malformed or duplicate requests. With the
// basic vtc policy, a prompt longer than the per-iteration token budget can
// never be admitted: the request is marked done and failed, and
// ErrPromptExceedsBudget is returned.
func (s *Scheduler) Submit(req *Request) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if req.ID == "" || req.ClientID == "" {
		return fmt.Errorf("%w: request id and client id are required (id=%q client=%q)", ErrInvalidRequest, req.ID, req.ClientID)
	}
	if req.PromptTokens <= 0 || req.MaxOutputTokens < 0 {
		return fmt.Errorf("%w: request %s has prompt=%d max_output=%d", ErrInvalidRequest, req.ID, req.PromptTokens, req.MaxOutputTokens)
	}
	if req.Phase != PhaseWaiting || req.PrefilledTokens != 0 || req.GeneratedTokens != 0 {
		return fmt.Errorf("%w: request %s must be new (phase=%s)", ErrInvalidRequest, req.ID, req.Phase)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.known[req.ID] {
		return fmt.Errorf("%w: duplicate request id %s", ErrInvalidRequest, req.ID)
	}
	s.known[req.ID] = true

	if !s.cfg.Chunked() && req.PromptTokens > s.cfg.Batch.MaxTokensPerIteration {
		reason := fmt.Sprintf("prompt of %d tokens exceeds max tokens per iteration %d", req.PromptTokens, s.cfg.Batch.MaxTokensPerIteration)
		req.fail(s.tick, reason)
		s.rejected.PushBack(req)
		logrus.Warnf("[tick %07d] rejected %s: %s", s.tick, req.ID, reason)
		return fmt.Errorf("%w: request %s: %s", ErrPromptExceedsBudget, req.ID, reason)
	}
	s.arrivals.PushBack(req)
	return nil
}

// Abort requests removal of an outstanding request at the start of the next
// tick. The client's counter is left unchanged. Unknown ids are ignored.
func (s *Scheduler) Abort(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborts.PushBack(requestID)
}

// CurrentTick returns the number of the next tick to run.
func (s *Scheduler) CurrentTick() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// HasWork reports whether any request is outstanding or buffered.
// Must be called from the scheduler goroutine: the request queue is read
// without holding the intake lock.
func (s *Scheduler) HasWork() bool {
	s.mu.Lock()
	buffered := s.arrivals.Len() > 0 || s.aborts.Len() > 0 || s.rejected.Len() > 0
	s.mu.Unlock()
	return buffered || s.queue.Len() > 0
}

// Tracker returns the fairness ledger. Callers must not mutate it while the scheduler runs.
func (s *Scheduler) Tracker() *CounterTracker {
	return s.tracker
}

// Queue returns the request queue. Callers must not mutate it while the scheduler runs.
func (s *Scheduler) Queue() *RequestQueue {
	return s.queue
}

// Config returns the effective configuration (defaults applied).
func (s *Scheduler) Config() Config {
	return s.cfg
}

// Metrics returns run statistics, with per-client weights and absolute
// counters refreshed from the ledger.
func (s *Scheduler) Metrics() *Metrics {
	for _, acct := range s.tracker.Accounts() {
		c := s.metrics.Client(acct.ClientID)
		c.Weight = acct.Weight
		c.Counter = acct.Counter + s.tracker.RebaseOffset()
	}
	return s.metrics
}

// drainIntake takes ownership of everything submitted before this tick.
func (s *Scheduler) drainIntake() (tick int64, arrivals []*Request, aborts []string, rejected []*Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.arrivals.Len() > 0 {
		arrivals = append(arrivals, s.arrivals.PopFront())
	}
	for s.aborts.Len() > 0 {
		aborts = append(aborts, s.aborts.PopFront())
	}
	for s.rejected.Len() > 0 {
		rejected = append(rejected, s.rejected.PopFront())
	}
	return s.tick, arrivals, aborts, rejected
}

func (s *Scheduler) advanceTick() {
	s.mu.Lock()
	s.tick++
	s.mu.Unlock()
}

// Tick runs one scheduling iteration: linearize intake, form a batch, run it
// on the engine, and apply the completion report.
//
// An engine error or a protocol violation in the report is returned without
// applying any progress or charges for the batch. Requests admitted into that
// batch stay eligible for later ticks.
func (s *Scheduler) Tick(ctx context.Context) (*TickResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tick, arrivals, aborts, rejected := s.drainIntake()
	defer s.advanceTick()

	result := &TickResult{Tick: tick}
	s.applyRejections(tick, rejected)
	s.applyArrivals(tick, arrivals, result)
	s.applyAborts(tick, aborts, result)

	formed := s.former.FormBatch(BatchContext{
		Queue:          s.queue,
		Tracker:        s.tracker,
		Capacity:       s.capacity,
		MaxBatchSize:   s.cfg.Batch.MaxBatchSize,
		MaxTokens:      s.cfg.Batch.MaxTokensPerIteration,
		MaxChunkTokens: s.cfg.Batch.MaxChunkTokens,
		Tick:           tick,
	})
	result.Batch = formed.Batch
	result.Preempted = formed.Preempted
	s.recordFormation(tick, formed)

	if formed.Batch.IsEmpty() {
		s.metrics.IdleTicks++
		s.publishState()
		return result, nil
	}

	report, err := s.engine.RunBatch(ctx, formed.Batch)
	if err != nil {
		s.rollback(formed.Batch)
		return nil, fmt.Errorf("tick %d: engine: %w", tick, err)
	}
	if err := s.validateReport(formed.Batch, report); err != nil {
		s.rollback(formed.Batch)
		return nil, fmt.Errorf("tick %d: %w", tick, err)
	}
	result.Report = report

	result.Charges = s.tracker.OnBatchCompletion(formed.Batch, report)
	result.Finished = s.applyReport(tick, formed.Batch, report)

	s.metrics.Ticks++
	s.metrics.Clock += report.StepTime
	s.recorder.ObserveBatch(formed.Batch.Len(), formed.Batch.TotalTokens())

	s.maybeRebase(tick)
	s.publishState()
	return result, nil
}

func (s *Scheduler) applyRejections(tick int64, rejected []*Request) {
	for _, req := range rejected {
		s.retired[req.ID] = true
		s.metrics.FailedRequests++
		s.metrics.Client(req.ClientID).Failed++
		s.recorder.IncRequests(req.ClientID, telemetry.OutcomeRejected)
		if s.trace.Enabled() {
			s.trace.RecordAdmission(trace.AdmissionRecord{
				RequestID: req.ID, ClientID: req.ClientID, Tick: tick, Admitted: false, Reason: req.FailureReason,
			})
		}
	}
}

func (s *Scheduler) applyArrivals(tick int64, arrivals []*Request, result *TickResult) {
	for _, req := range arrivals {
		s.queue.Add(req)
		lift := s.tracker.OnArrival(req)
		result.Accepted = append(result.Accepted, req)
		logrus.Infof("[tick %07d] accepted %s from client %s (prompt=%d, max_output=%d)", tick, req.ID, req.ClientID, req.PromptTokens, req.MaxOutputTokens)
		if s.trace.Enabled() {
			s.trace.RecordAdmission(trace.AdmissionRecord{
				RequestID: req.ID, ClientID: req.ClientID, Tick: tick, Admitted: true, Lift: lift,
			})
		}
	}
	if n := s.queue.Len(); n > s.metrics.PeakQueueDepth {
		s.metrics.PeakQueueDepth = n
	}
}

func (s *Scheduler) applyAborts(tick int64, aborts []string, result *TickResult) {
	for _, id := range aborts {
		req := s.queue.Remove(id)
		if req == nil {
			logrus.Warnf("[tick %07d] abort of unknown or finished request %s ignored", tick, id)
			continue
		}
		s.tracker.OnRequestDone(req)
		req.fail(tick, "aborted")
		s.retired[req.ID] = true
		if r, ok := s.engine.(Releaser); ok {
			r.Release(req.ID)
		}
		s.metrics.AbortedRequests++
		s.metrics.Client(req.ClientID).Aborted++
		s.recorder.IncRequests(req.ClientID, telemetry.OutcomeAborted)
		result.Aborted = append(result.Aborted, req)
		logrus.Infof("[tick %07d] aborted %s", tick, req.ID)
	}
}

func (s *Scheduler) recordFormation(tick int64, formed BatchResult) {
	s.metrics.Preemptions += len(formed.Preempted)
	s.recorder.AddPreemptions(len(formed.Preempted))
	if !s.trace.Enabled() {
		return
	}
	for _, sel := range formed.Selections {
		s.trace.RecordSelection(trace.SelectionRecord{
			RequestID: sel.Request.ID, ClientID: sel.Request.ClientID, Tick: tick, Counter: sel.Counter, Tokens: sel.Tokens,
		})
	}
	for _, req := range formed.Preempted {
		s.trace.RecordPreemption(trace.PreemptionRecord{
			RequestID: req.ID, ClientID: req.ClientID, Tick: tick, PrefilledTokens: req.PrefilledTokens,
		})
	}
}

// rollback lets the engine undo a batch whose report will not be applied.
func (s *Scheduler) rollback(batch *Batch) {
	if r, ok := s.engine.(Rollbacker); ok {
		r.Rollback(batch)
	}
}

// validateReport checks the whole report against the batch before anything is applied.
func (s *Scheduler) validateReport(batch *Batch, report *CompletionReport) error {
	if report == nil {
		return fmt.Errorf("%w: nil completion report", ErrProtocolViolation)
	}
	seen := make(map[string]bool, len(report.Entries))
	for _, e := range report.Entries {
		if seen[e.RequestID] {
			return fmt.Errorf("%w: duplicate report entry for %s", ErrProtocolViolation, e.RequestID)
		}
		seen[e.RequestID] = true

		entry, ok := batch.Entry(e.RequestID)
		if !ok {
			switch {
			case s.retired[e.RequestID]:
				return fmt.Errorf("%w: report references already-done request %s", ErrProtocolViolation, e.RequestID)
			case s.queue.byID[e.RequestID] != nil:
				return fmt.Errorf("%w: report references request %s which is not in the batch", ErrProtocolViolation, e.RequestID)
			default:
				return fmt.Errorf("%w: report references unknown request %s", ErrProtocolViolation, e.RequestID)
			}
		}
		req := entry.Request
		if req.IsDone() {
			return fmt.Errorf("%w: report references already-done request %s", ErrProtocolViolation, e.RequestID)
		}
		if e.PrefillTokens < 0 || e.DecodeTokens < 0 {
			return fmt.Errorf("%w: negative token counts for %s", ErrProtocolViolation, e.RequestID)
		}

		switch entry.Kind {
		case EntryPrefill:
			if e.DecodeTokens != 0 {
				return fmt.Errorf("%w: prefill entry %s reported %d decode tokens", ErrProtocolViolation, e.RequestID, e.DecodeTokens)
			}
			if e.PrefillTokens > entry.Tokens {
				return fmt.Errorf("%w: %s prefilled %d tokens, only %d assigned", ErrProtocolViolation, e.RequestID, e.PrefillTokens, entry.Tokens)
			}
			if !s.cfg.Chunked() && e.PrefillTokens != entry.Tokens {
				return fmt.Errorf("%w: %s prefilled %d of %d tokens, partial prefill is not allowed by policy %s",
					ErrProtocolViolation, e.RequestID, e.PrefillTokens, entry.Tokens, s.cfg.Policy)
			}
			if e.Finished && req.PrefilledTokens+e.PrefillTokens < req.PromptTokens {
				return fmt.Errorf("%w: %s reported finished with prefill incomplete", ErrProtocolViolation, e.RequestID)
			}
		case EntryDecode:
			if e.PrefillTokens != 0 || e.DecodeTokens > 1 {
				return fmt.Errorf("%w: decode entry %s reported prefill=%d decode=%d", ErrProtocolViolation, e.RequestID, e.PrefillTokens, e.DecodeTokens)
			}
		}
	}
	return nil
}

// applyReport advances progress and phases; returns the requests that finished.
func (s *Scheduler) applyReport(tick int64, batch *Batch, report *CompletionReport) []*Request {
	var finished []*Request
	for _, e := range report.Entries {
		entry, _ := batch.Entry(e.RequestID)
		req := entry.Request

		req.PrefilledTokens += e.PrefillTokens
		req.GeneratedTokens += e.DecodeTokens

		client := s.metrics.Client(req.ClientID)
		client.PrefillTokens += e.PrefillTokens
		client.DecodeTokens += e.DecodeTokens
		s.metrics.TotalPrefillTokens += e.PrefillTokens
		s.metrics.TotalDecodeTokens += e.DecodeTokens
		s.recorder.AddServedTokens(req.ClientID, string(EntryPrefill), e.PrefillTokens)
		s.recorder.AddServedTokens(req.ClientID, string(EntryDecode), e.DecodeTokens)

		if req.Phase == PhasePrefilling && req.RemainingPrefill() == 0 {
			req.advancePhase(PhaseDecoding)
			req.FirstTokenTick = tick
		}
		if req.Phase == PhaseDecoding && (e.Finished || req.GeneratedTokens >= req.MaxOutputTokens) {
			s.finish(tick, req)
			finished = append(finished, req)
		}
	}
	return finished
}

func (s *Scheduler) finish(tick int64, req *Request) {
	req.advancePhase(PhaseDone)
	req.FinishedTick = tick
	s.queue.Remove(req.ID)
	s.tracker.OnRequestDone(req)
	s.retired[req.ID] = true
	if r, ok := s.engine.(Releaser); ok {
		r.Release(req.ID)
	}

	client := s.metrics.Client(req.ClientID)
	client.Completed++
	client.TTFTSum += req.FirstTokenTick - req.ArrivalTick
	client.ServiceCost += s.cost.RequestServiceCost(req.PromptTokens, req.GeneratedTokens)
	s.metrics.CompletedRequests++
	s.recorder.IncRequests(req.ClientID, telemetry.OutcomeFinished)
	logrus.Infof("[tick %07d] finished %s (client %s, arrival tick %d)", tick, req.ID, req.ClientID, req.ArrivalTick)
}

func (s *Scheduler) maybeRebase(tick int64) {
	threshold := s.cfg.Fairness.RebaseThreshold
	if threshold <= 0 {
		return
	}
	minActive, ok := s.tracker.GlobalMinActive()
	if !ok || minActive <= threshold {
		return
	}
	offset := s.tracker.Rebase()
	s.metrics.Rebases++
	s.recorder.IncRebase()
	if s.trace.Enabled() {
		s.trace.RecordRebase(trace.RebaseRecord{Tick: tick, Offset: offset})
	}
	logrus.Infof("[tick %07d] rebased counters by %.3f", tick, offset)
}

func (s *Scheduler) publishState() {
	if s.recorder == nil {
		return
	}
	for _, phase := range []Phase{PhaseWaiting, PhasePrefilling, PhaseDecoding} {
		s.recorder.SetQueueDepth(string(phase), s.queue.CountPhase(phase))
	}
	for _, acct := range s.tracker.Accounts() {
		s.recorder.SetCounter(acct.ClientID, acct.Counter+s.tracker.RebaseOffset())
	}
}

// Run ticks until no work remains, maxTicks ticks ran (maxTicks <= 0 means
// no limit), or ctx is done.
func (s *Scheduler) Run(ctx context.Context, maxTicks int64) error {
	for ran := int64(0); maxTicks <= 0 || ran < maxTicks; ran++ {
		if !s.HasWork() {
			return nil
		}
		if _, err := s.Tick(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RunTrace replays pre-generated arrivals: each request is submitted at the
// start of the tick matching its ArrivalTick. When nothing is outstanding the
// tick counter jumps to the next arrival. Requests rejected for exceeding the
// token budget are counted as failed and the replay continues; any other
// Submit error aborts the run.
func (s *Scheduler) RunTrace(ctx context.Context, requests []*Request, maxTicks int64) error {
	pending := make([]*Request, len(requests))
	copy(pending, requests)
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].ArrivalTick < pending[j].ArrivalTick
	})

	next := 0
	for ran := int64(0); maxTicks <= 0 || ran < maxTicks; ran++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.HasWork() {
			if next == len(pending) {
				return nil
			}
			s.fastForward(pending[next].ArrivalTick)
		}
		now := s.CurrentTick()
		for next < len(pending) && pending[next].ArrivalTick <= now {
			if err := s.Submit(pending[next]); err != nil && !isRejection(err) {
				return err
			}
			next++
		}
		if _, err := s.Tick(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) fastForward(tick int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tick > s.tick {
		s.tick = tick
	}
}

func isRejection(err error) bool {
	return errors.Is(err, ErrPromptExceedsBudget)
}
