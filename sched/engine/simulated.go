package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/vtc-sched/sched"
)

// Simulated is an ExecutionEngine that completes every assigned token,
// allocates KV blocks for them, and reports a modeled step time. A request
// finishes once it has generated MaxOutputTokens tokens (immediately after
// prefill when MaxOutputTokens is 0).
//
// Simulated reads request fields but never writes them.
type Simulated struct {
	alloc   *BlockAllocator
	latency *LatencyModel
	steps   int64
	clock   int64 // µs

	// footprints held before the last batch ran, for Rollback
	lastBatch *sched.Batch
	prevHeld  map[string]int64
}

// NewSimulated creates a simulated engine over alloc. A nil latency model
// reports zero step times.
func NewSimulated(alloc *BlockAllocator, latency *LatencyModel) *Simulated {
	if alloc == nil {
		panic("NewSimulated: alloc must not be nil")
	}
	return &Simulated{alloc: alloc, latency: latency}
}

// Allocator returns the block allocator backing this engine. It is the
// scheduler's CapacityProvider.
func (e *Simulated) Allocator() *BlockAllocator {
	return e.alloc
}

// Steps returns the number of batches run.
func (e *Simulated) Steps() int64 {
	return e.steps
}

// Clock returns the accumulated step time in µs.
func (e *Simulated) Clock() int64 {
	return e.clock
}

// RunBatch executes batch and reports per-request progress.
//
// Each request's footprint is set to its processed tokens plus the tokens
// assigned in this batch, so running a batch again after its report was
// discarded does not allocate twice. If any allocation fails, every footprint
// changed by the batch is restored before the error is returned.
func (e *Simulated) RunBatch(ctx context.Context, batch *sched.Batch) (*sched.CompletionReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.lastBatch = batch
	e.prevHeld = make(map[string]int64, batch.Len())

	report := &sched.CompletionReport{Entries: make([]sched.CompletionEntry, 0, batch.Len())}
	var prefillTokens, decodeTokens int64
	var finished []string

	for _, entry := range batch.Entries {
		req := entry.Request
		e.prevHeld[req.ID] = e.alloc.HeldTokens(req.ID)
		if !e.alloc.Resize(req.ID, req.ProcessedTokens()+entry.Tokens) {
			free := e.alloc.FreeBlocks()
			e.Rollback(batch)
			return nil, fmt.Errorf("simulated engine: cannot allocate %d tokens for %s (%d free blocks)", entry.Tokens, req.ID, free)
		}
		done := sched.CompletionEntry{RequestID: req.ID}
		switch entry.Kind {
		case sched.EntryPrefill:
			done.PrefillTokens = entry.Tokens
			done.Finished = req.RemainingPrefill() == entry.Tokens && req.MaxOutputTokens == 0
			prefillTokens += entry.Tokens
		case sched.EntryDecode:
			done.DecodeTokens = 1
			done.Finished = req.GeneratedTokens+1 >= req.MaxOutputTokens
			decodeTokens++
		default:
			e.Rollback(batch)
			return nil, fmt.Errorf("simulated engine: unknown entry kind %q for %s", entry.Kind, req.ID)
		}
		if done.Finished {
			finished = append(finished, req.ID)
		}
		report.Entries = append(report.Entries, done)
	}

	if e.latency != nil {
		report.StepTime = e.latency.StepTime(prefillTokens, decodeTokens, batch.Len())
	}
	for _, id := range finished {
		e.alloc.Release(id)
	}
	e.steps++
	e.clock += report.StepTime
	logrus.Debugf("[tick %07d] engine step: %d entries, prefill=%d decode=%d, %d µs, %d/%d blocks used",
		batch.Tick, batch.Len(), prefillTokens, decodeTokens, report.StepTime, e.alloc.UsedBlocks(), e.alloc.TotalBlocks())
	return report, nil
}

// Rollback restores the block footprints held before batch ran, including
// those of requests released as finished. Only the most recent batch can be
// rolled back; any other batch is ignored.
func (e *Simulated) Rollback(batch *sched.Batch) {
	if batch == nil || batch != e.lastBatch {
		return
	}
	// shrink before growing so restored footprints always fit
	for _, shrinking := range []bool{true, false} {
		for id, held := range e.prevHeld {
			if (held < e.alloc.HeldTokens(id)) != shrinking {
				continue
			}
			if !e.alloc.Resize(id, held) {
				logrus.Errorf("[tick %07d] rollback: cannot restore %d tokens for %s", batch.Tick, held, id)
			}
		}
	}
	logrus.Debugf("[tick %07d] engine step rolled back, %d/%d blocks used", batch.Tick, e.alloc.UsedBlocks(), e.alloc.TotalBlocks())
	e.lastBatch = nil
	e.prevHeld = nil
}

// Release frees the blocks held by a request the scheduler dropped.
func (e *Simulated) Release(requestID string) {
	e.alloc.Release(requestID)
}
