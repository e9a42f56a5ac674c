package sched

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeCapacity is a CapacityProvider with a fixed free pool.
type fakeCapacity struct {
	free      int64
	blockSize int64
}

func (f *fakeCapacity) FreeBlocks() int64 { return f.free }
func (f *fakeCapacity) BlockSize() int64  { return f.blockSize }

func ampleCapacity() *fakeCapacity {
	return &fakeCapacity{free: 1 << 30, blockSize: 16}
}

// completingEngine completes every assigned token. A request finishes when
// its output target is reached. tamper, when set, rewrites the report before
// it is returned.
type completingEngine struct {
	batches    []*Batch
	released   []string
	rolledBack []*Batch
	failNext   bool
	tamper     func(*Batch, *CompletionReport)
}

func (e *completingEngine) RunBatch(_ context.Context, batch *Batch) (*CompletionReport, error) {
	e.batches = append(e.batches, batch)
	if e.failNext {
		e.failNext = false
		return nil, errors.New("device lost")
	}
	report := &CompletionReport{StepTime: 100}
	for _, entry := range batch.Entries {
		req := entry.Request
		done := CompletionEntry{RequestID: req.ID}
		if entry.Kind == EntryPrefill {
			done.PrefillTokens = entry.Tokens
			done.Finished = req.RemainingPrefill() == entry.Tokens && req.MaxOutputTokens == 0
		} else {
			done.DecodeTokens = 1
			done.Finished = req.GeneratedTokens+1 >= req.MaxOutputTokens
		}
		report.Entries = append(report.Entries, done)
	}
	if e.tamper != nil {
		e.tamper(batch, report)
	}
	return report, nil
}

func (e *completingEngine) Release(requestID string) {
	e.released = append(e.released, requestID)
}

func (e *completingEngine) Rollback(batch *Batch) {
	e.rolledBack = append(e.rolledBack, batch)
}

// testConfig returns a small configuration for the given policy.
func testConfig(policy string) Config {
	cfg := DefaultConfig()
	cfg.Policy = policy
	cfg.Batch = BatchConfig{MaxBatchSize: 64, MaxTokensPerIteration: 100, MaxChunkTokens: 40}
	return cfg
}

func newTestScheduler(t *testing.T, cfg Config, opts ...Option) (*Scheduler, *completingEngine) {
	t.Helper()
	eng := &completingEngine{}
	s, err := New(cfg, eng, ampleCapacity(), opts...)
	require.NoError(t, err)
	return s, eng
}

// setCounter overwrites a client's counter in place.
func setCounter(tr *CounterTracker, clientID string, v float64) {
	tr.accounts[tr.accountIndex(clientID)].Counter = v
	tr.recomputeMin()
}

// completeAll builds a report that completes every entry of batch without finishing anything.
func completeAll(batch *Batch) *CompletionReport {
	report := &CompletionReport{}
	for _, e := range batch.Entries {
		done := CompletionEntry{RequestID: e.Request.ID}
		if e.Kind == EntryPrefill {
			done.PrefillTokens = e.Tokens
		} else {
			done.DecodeTokens = e.Tokens
		}
		report.Entries = append(report.Entries, done)
	}
	return report
}

func tickN(t *testing.T, s *Scheduler, n int) []*TickResult {
	t.Helper()
	var results []*TickResult
	for i := 0; i < n; i++ {
		res, err := s.Tick(context.Background())
		require.NoError(t, err)
		results = append(results, res)
	}
	return results
}
