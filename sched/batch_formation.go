package sched

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// BatchFormation encapsulates the batch composition strategy for one tick.
// Implementations move admitted requests from waiting to prefilling but do
// NOT charge counters, advance progress, or call the engine. Those are
// Scheduler concerns handled after FormBatch returns.
type BatchFormation interface {
	FormBatch(ctx BatchContext) BatchResult
}

// BatchContext provides the inputs for batch formation.
type BatchContext struct {
	Queue          *RequestQueue
	Tracker        *CounterTracker
	Capacity       CapacityProvider
	MaxBatchSize   int64
	MaxTokens      int64 // per-iteration token budget
	MaxChunkTokens int64 // per-request prefill chunk limit (chunked formation only)
	Tick           int64
}

// Selection records one fairness decision made while forming a batch.
type Selection struct {
	Request *Request
	Counter float64 // counter (projected, for chunked formation) at selection time
	Tokens  int64
}

// BatchResult describes the outcome of batch formation.
type BatchResult struct {
	Batch      *Batch
	Selections []Selection // prefill admissions in selection order
	Preempted  []*Request  // partially prefilled requests displaced this tick
	TokensLeft int64       // unused token budget
}

// VTCBatchFormation is the basic VTC strategy: decode steps first, then whole
// prompts from the lowest-counter clients. A prefill is admitted only if the
// entire prompt fits the remaining budget.
type VTCBatchFormation struct{}

func (v *VTCBatchFormation) FormBatch(ctx BatchContext) BatchResult {
	batch := NewBatch(ctx.Tick)
	result := BatchResult{Batch: batch}
	mem := newMemoryBudget(ctx.Capacity)
	tokenBudget := ctx.MaxTokens

	decodePass(ctx, batch, &tokenBudget, &mem)

	// A prefilling request with no progress was admitted into a batch whose
	// report was never applied; it is retried like a waiting one.
	inBatch := make(map[string]bool)
	waiting := func(r *Request) bool {
		if inBatch[r.ID] {
			return false
		}
		unstarted := r.Phase == PhaseWaiting || (r.Phase == PhasePrefilling && r.PrefilledTokens == 0)
		return unstarted && r.PromptTokens <= ctx.MaxTokens
	}
	counterOf := func(r *Request) float64 {
		return ctx.Tracker.Counter(r.ClientID)
	}

	for int64(batch.Len()) < ctx.MaxBatchSize && tokenBudget > 0 {
		next := ctx.Queue.SelectNext(waiting, counterOf)
		if next == nil {
			break
		}
		// The fairness winner is deferred whole rather than skipped: admitting
		// a later, smaller prompt would let it jump ahead of a lower counter.
		if next.PromptTokens > tokenBudget {
			logrus.Debugf("[tick %07d] prefill of %s (%d tokens) deferred, %d tokens left", ctx.Tick, next.ID, next.PromptTokens, tokenBudget)
			break
		}
		if !mem.reserve(next, next.PromptTokens) {
			logrus.Warnf("[tick %07d] memory exhausted, deferring prefill of %s", ctx.Tick, next.ID)
			break
		}
		result.Selections = append(result.Selections, Selection{Request: next, Counter: counterOf(next), Tokens: next.PromptTokens})
		admitPrefill(ctx, batch, next, next.PromptTokens)
		inBatch[next.ID] = true
		tokenBudget -= next.PromptTokens
	}

	result.TokensLeft = tokenBudget
	return result
}

// VTCSarathiBatchFormation is the chunked VTC strategy: decode steps first,
// then bounded prefill chunks. Every chunk boundary re-selects the lowest
// projected counter, where the projection adds the hypothetical charge of
// chunks already admitted this tick. A request gets at most one chunk per tick.
type VTCSarathiBatchFormation struct {
	cost CostModel
}

func (v *VTCSarathiBatchFormation) FormBatch(ctx BatchContext) BatchResult {
	batch := NewBatch(ctx.Tick)
	result := BatchResult{Batch: batch}
	mem := newMemoryBudget(ctx.Capacity)
	tokenBudget := ctx.MaxTokens

	decodePass(ctx, batch, &tokenBudget, &mem)

	pending := make(map[string]float64) // client -> weighted charge admitted this tick
	inBatch := make(map[string]bool)
	eligible := func(r *Request) bool {
		if inBatch[r.ID] {
			return false
		}
		switch r.Phase {
		case PhaseWaiting:
			return true
		case PhasePrefilling:
			return r.RemainingPrefill() > 0
		default:
			return false
		}
	}
	projected := func(r *Request) float64 {
		return ctx.Tracker.Counter(r.ClientID) + pending[r.ClientID]
	}

	admittedPrefill := false
	for int64(batch.Len()) < ctx.MaxBatchSize && tokenBudget > 0 {
		next := ctx.Queue.SelectNext(eligible, projected)
		if next == nil {
			break
		}
		chunk := min(tokenBudget, next.RemainingPrefill())
		if ctx.MaxChunkTokens > 0 {
			chunk = min(chunk, ctx.MaxChunkTokens)
		}
		chunk = mem.maxTokensFor(next, chunk)
		if chunk <= 0 {
			logrus.Warnf("[tick %07d] memory exhausted, deferring prefill chunk of %s", ctx.Tick, next.ID)
			break
		}
		mem.reserve(next, chunk)

		result.Selections = append(result.Selections, Selection{Request: next, Counter: projected(next), Tokens: chunk})
		admitPrefill(ctx, batch, next, chunk)
		inBatch[next.ID] = true
		admittedPrefill = true
		pending[next.ClientID] += v.cost.PrefillTokenCost(chunk) / ctx.Tracker.Weight(next.ClientID)
		tokenBudget -= chunk
	}

	if admittedPrefill {
		for _, r := range ctx.Queue.Items() {
			if r.Phase == PhasePrefilling && r.RemainingPrefill() > 0 && !inBatch[r.ID] {
				result.Preempted = append(result.Preempted, r)
			}
		}
	}

	result.TokensLeft = tokenBudget
	return result
}

// decodePass adds one decode step for every decoding request, in arrival
// order, until the batch, the token budget, or memory runs out.
func decodePass(ctx BatchContext, batch *Batch, tokenBudget *int64, mem *memoryBudget) {
	for _, req := range ctx.Queue.Decoding() {
		if int64(batch.Len()) >= ctx.MaxBatchSize {
			logrus.Warnf("[tick %07d] batch full, deferring remaining decode steps to next tick", ctx.Tick)
			return
		}
		if *tokenBudget <= 0 {
			logrus.Warnf("[tick %07d] token budget exhausted, deferring remaining decode steps to next tick", ctx.Tick)
			return
		}
		if !mem.reserve(req, 1) {
			logrus.Debugf("[tick %07d] no free block for decode step of %s", ctx.Tick, req.ID)
			continue
		}
		batch.Entries = append(batch.Entries, BatchEntry{Request: req, Tokens: 1, Kind: EntryDecode})
		*tokenBudget--
	}
}

func admitPrefill(ctx BatchContext, batch *Batch, req *Request, tokens int64) {
	if req.Phase == PhaseWaiting {
		req.advancePhase(PhasePrefilling)
		req.ScheduledTick = ctx.Tick
	}
	logrus.Debugf("[tick %07d] admit %s (client %s): %d prefill tokens", ctx.Tick, req.ID, req.ClientID, tokens)
	batch.Entries = append(batch.Entries, BatchEntry{Request: req, Tokens: tokens, Kind: EntryPrefill})
}

// NewBatchFormation creates the BatchFormation for a policy name.
// Valid names: "vtc" (default), "vtc-sarathi".
// Panics on unrecognized names.
func NewBatchFormation(policy string, cost CostModel) BatchFormation {
	if !IsValidPolicy(policy) {
		panic(fmt.Sprintf("unknown policy %q", policy))
	}
	switch policy {
	case "", PolicyVTC:
		return &VTCBatchFormation{}
	case PolicyVTCSarathi:
		return &VTCSarathiBatchFormation{cost: cost}
	default:
		panic(fmt.Sprintf("unhandled policy %q", policy))
	}
}
