package sched

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entrySummary struct {
	ID     string
	Kind   EntryKind
	Tokens int64
}

func summarize(b *Batch) []entrySummary {
	var out []entrySummary
	for _, e := range b.Entries {
		out = append(out, entrySummary{ID: e.Request.ID, Kind: e.Kind, Tokens: e.Tokens})
	}
	return out
}

func selectionIDs(res BatchResult) []string {
	var out []string
	for _, s := range res.Selections {
		out = append(out, s.Request.ID)
	}
	return out
}

func newFormationTracker(t *testing.T, chargeOnArrival bool) *CounterTracker {
	t.Helper()
	tr, err := NewCounterTracker(NewCostModel(DefaultConfig().Cost), FairnessConfig{}, chargeOnArrival)
	require.NoError(t, err)
	return tr
}

func formationContext(q *RequestQueue, tr *CounterTracker, maxTokens, maxChunk int64) BatchContext {
	return BatchContext{
		Queue:          q,
		Tracker:        tr,
		Capacity:       ampleCapacity(),
		MaxBatchSize:   64,
		MaxTokens:      maxTokens,
		MaxChunkTokens: maxChunk,
		Tick:           7,
	}
}

func decodingRequest(id, client string, arrival, prompt, output int64) *Request {
	req := NewRequest(id, client, arrival, prompt, output)
	req.Phase = PhaseDecoding
	req.PrefilledTokens = prompt
	return req
}

func TestVTCFormBatch_DecodesBeforePrefill(t *testing.T) {
	// GIVEN a decoding request from a high-counter client and a waiting one from a low-counter client
	q := NewRequestQueue()
	tr := newFormationTracker(t, true)
	setCounter(tr, "A", 500)
	setCounter(tr, "B", 0)
	q.Add(NewRequest("w", "B", 1, 10, 4))
	q.Add(decodingRequest("d", "A", 0, 10, 4))

	// WHEN a batch is formed
	res := (&VTCBatchFormation{}).FormBatch(formationContext(q, tr, 100, 0))

	// THEN the decode step comes first regardless of counters
	want := []entrySummary{
		{ID: "d", Kind: EntryDecode, Tokens: 1},
		{ID: "w", Kind: EntryPrefill, Tokens: 10},
	}
	if diff := cmp.Diff(want, summarize(res.Batch)); diff != "" {
		t.Errorf("batch mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int64(89), res.TokensLeft)
	assert.Equal(t, PhasePrefilling, q.Items()[0].Phase)
	assert.Equal(t, int64(7), q.Items()[0].ScheduledTick)
}

func TestVTCFormBatch_LowestCounterFirst(t *testing.T) {
	q := NewRequestQueue()
	tr := newFormationTracker(t, true)
	setCounter(tr, "A", 20)
	setCounter(tr, "B", 5)
	setCounter(tr, "C", 10)
	q.Add(NewRequest("a1", "A", 0, 10, 1))
	q.Add(NewRequest("b1", "B", 1, 10, 1))
	q.Add(NewRequest("c1", "C", 2, 10, 1))

	res := (&VTCBatchFormation{}).FormBatch(formationContext(q, tr, 100, 0))

	assert.Equal(t, []string{"b1", "c1", "a1"}, selectionIDs(res))
	assert.Equal(t, 5.0, res.Selections[0].Counter)
}

func TestVTCFormBatch_DefersWinnerInsteadOfSkipping(t *testing.T) {
	// GIVEN client A (counter 0) with two 60-token prompts and client B (counter 10) with a 10-token prompt
	q := NewRequestQueue()
	tr := newFormationTracker(t, true)
	setCounter(tr, "A", 0)
	setCounter(tr, "B", 10)
	q.Add(NewRequest("a1", "A", 0, 60, 1))
	q.Add(NewRequest("a2", "A", 1, 60, 1))
	q.Add(NewRequest("b1", "B", 2, 10, 1))

	// WHEN a batch is formed with a 100-token budget
	res := (&VTCBatchFormation{}).FormBatch(formationContext(q, tr, 100, 0))

	// THEN a2 does not fit the 40 remaining tokens and B is not admitted ahead of it
	assert.Equal(t, []string{"a1"}, selectionIDs(res))
	assert.Equal(t, int64(40), res.TokensLeft)
	b1, _ := q.Get("b1")
	assert.Equal(t, PhaseWaiting, b1.Phase)
}

func TestVTCFormBatch_NeverAdmissiblePromptIsNotSelected(t *testing.T) {
	q := NewRequestQueue()
	tr := newFormationTracker(t, true)
	setCounter(tr, "A", 0)
	setCounter(tr, "B", 50)
	q.Add(NewRequest("huge", "A", 0, 200, 1))
	q.Add(NewRequest("b1", "B", 1, 10, 1))

	res := (&VTCBatchFormation{}).FormBatch(formationContext(q, tr, 100, 0))

	assert.Equal(t, []string{"b1"}, selectionIDs(res))
}

func TestVTCFormBatch_BatchSizeLimit(t *testing.T) {
	q := NewRequestQueue()
	tr := newFormationTracker(t, true)
	for i, id := range []string{"r1", "r2", "r3"} {
		q.Add(NewRequest(id, "A", int64(i), 5, 1))
	}
	ctx := formationContext(q, tr, 100, 0)
	ctx.MaxBatchSize = 2

	res := (&VTCBatchFormation{}).FormBatch(ctx)

	assert.Equal(t, 2, res.Batch.Len())
	assert.Equal(t, []string{"r1", "r2"}, selectionIDs(res))
}

func TestVTCFormBatch_RetriesPrefillWithoutProgress(t *testing.T) {
	// GIVEN a request admitted in an earlier tick whose report was never applied
	q := NewRequestQueue()
	tr := newFormationTracker(t, true)
	req := NewRequest("r", "A", 0, 30, 1)
	req.Phase = PhasePrefilling
	req.ScheduledTick = 3
	q.Add(req)

	res := (&VTCBatchFormation{}).FormBatch(formationContext(q, tr, 100, 0))

	// THEN it is admitted again and keeps its first scheduling tick
	assert.Equal(t, []string{"r"}, selectionIDs(res))
	assert.Equal(t, int64(3), req.ScheduledTick)
}

func TestSarathiFormBatch_ProjectedCountersInterleaveClients(t *testing.T) {
	// GIVEN A at counter 0 with two 40-token prompts and B at counter 30 with one
	q := NewRequestQueue()
	tr := newFormationTracker(t, false)
	setCounter(tr, "A", 0)
	setCounter(tr, "B", 30)
	q.Add(NewRequest("a1", "A", 0, 40, 1))
	q.Add(NewRequest("a2", "A", 1, 40, 1))
	q.Add(NewRequest("b1", "B", 2, 40, 1))
	former := NewBatchFormation(PolicyVTCSarathi, NewCostModel(DefaultConfig().Cost))

	// WHEN a 120-token batch is formed with 40-token chunks
	res := former.FormBatch(formationContext(q, tr, 120, 40))

	// THEN A's first chunk raises its projected counter to 40, so B goes next
	assert.Equal(t, []string{"a1", "b1", "a2"}, selectionIDs(res))
	var counters []float64
	for _, s := range res.Selections {
		counters = append(counters, s.Counter)
	}
	assert.Equal(t, []float64{0, 30, 40}, counters)
	// AND the ledger itself is untouched by formation
	assert.Equal(t, 0.0, tr.Counter("A"))
	assert.Equal(t, int64(0), res.TokensLeft)
}

func TestSarathiFormBatch_OneChunkPerRequestPerTick(t *testing.T) {
	q := NewRequestQueue()
	tr := newFormationTracker(t, false)
	q.Add(NewRequest("long", "A", 0, 500, 1))
	former := NewBatchFormation(PolicyVTCSarathi, NewCostModel(DefaultConfig().Cost))

	res := former.FormBatch(formationContext(q, tr, 100, 40))

	want := []entrySummary{{ID: "long", Kind: EntryPrefill, Tokens: 40}}
	if diff := cmp.Diff(want, summarize(res.Batch)); diff != "" {
		t.Errorf("batch mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int64(60), res.TokensLeft)
}

func TestSarathiFormBatch_PreemptsPartialPrefill(t *testing.T) {
	// GIVEN P partially prefilled (40/100) with counter 100 and Q waiting with counter 0
	q := NewRequestQueue()
	tr := newFormationTracker(t, false)
	setCounter(tr, "P", 100)
	setCounter(tr, "Q", 0)
	p := NewRequest("p", "P", 0, 100, 1)
	p.Phase = PhasePrefilling
	p.PrefilledTokens = 40
	q.Add(p)
	q.Add(NewRequest("q", "Q", 1, 100, 1))
	former := NewBatchFormation(PolicyVTCSarathi, NewCostModel(DefaultConfig().Cost))

	// WHEN the 50-token budget goes to Q
	res := former.FormBatch(formationContext(q, tr, 50, 50))

	// THEN P is recorded as preempted and keeps its progress
	assert.Equal(t, []string{"q"}, selectionIDs(res))
	require.Len(t, res.Preempted, 1)
	assert.Equal(t, "p", res.Preempted[0].ID)
	assert.Equal(t, int64(40), p.PrefilledTokens)
	assert.Equal(t, PhasePrefilling, p.Phase)
}

func TestSarathiFormBatch_PartialPrefillResumesInHeldBlocks(t *testing.T) {
	q := NewRequestQueue()
	tr := newFormationTracker(t, false)
	p := NewRequest("p", "P", 0, 100, 1)
	p.Phase = PhasePrefilling
	p.PrefilledTokens = 40
	q.Add(p)
	ctx := formationContext(q, tr, 50, 50)
	ctx.Capacity = &fakeCapacity{free: 0, blockSize: 16}

	res := NewBatchFormation(PolicyVTCSarathi, NewCostModel(DefaultConfig().Cost)).FormBatch(ctx)

	// 40 held tokens fill 3 blocks, leaving room for 8 more
	want := []entrySummary{{ID: "p", Kind: EntryPrefill, Tokens: 8}}
	if diff := cmp.Diff(want, summarize(res.Batch)); diff != "" {
		t.Errorf("batch mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, res.Preempted)
}

func TestSarathiFormBatch_ChunkShrinksToFreeMemory(t *testing.T) {
	q := NewRequestQueue()
	tr := newFormationTracker(t, false)
	q.Add(NewRequest("r", "A", 0, 100, 1))
	ctx := formationContext(q, tr, 100, 40)
	ctx.Capacity = &fakeCapacity{free: 2, blockSize: 16}

	res := NewBatchFormation(PolicyVTCSarathi, NewCostModel(DefaultConfig().Cost)).FormBatch(ctx)

	want := []entrySummary{{ID: "r", Kind: EntryPrefill, Tokens: 32}}
	if diff := cmp.Diff(want, summarize(res.Batch)); diff != "" {
		t.Errorf("batch mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodePass_SkipsRequestWithoutBlockAndContinues(t *testing.T) {
	// GIVEN one free block: d1 and d2 sit on a block boundary, d3 has room in its last block
	q := NewRequestQueue()
	tr := newFormationTracker(t, false)
	q.Add(decodingRequest("d1", "A", 0, 16, 4))
	q.Add(decodingRequest("d2", "B", 1, 16, 4))
	q.Add(decodingRequest("d3", "C", 2, 10, 4))
	ctx := formationContext(q, tr, 100, 40)
	ctx.Capacity = &fakeCapacity{free: 1, blockSize: 16}

	res := NewBatchFormation(PolicyVTCSarathi, NewCostModel(DefaultConfig().Cost)).FormBatch(ctx)

	want := []entrySummary{
		{ID: "d1", Kind: EntryDecode, Tokens: 1},
		{ID: "d3", Kind: EntryDecode, Tokens: 1},
	}
	if diff := cmp.Diff(want, summarize(res.Batch)); diff != "" {
		t.Errorf("batch mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodePass_StopsAtTokenBudget(t *testing.T) {
	q := NewRequestQueue()
	tr := newFormationTracker(t, true)
	for i, id := range []string{"d1", "d2", "d3"} {
		q.Add(decodingRequest(id, "A", int64(i), 8, 4))
	}

	res := (&VTCBatchFormation{}).FormBatch(formationContext(q, tr, 2, 0))

	assert.Equal(t, 2, res.Batch.CountKind(EntryDecode))
	assert.Equal(t, int64(0), res.TokensLeft)
}

func TestNewBatchFormation_UnknownPolicyPanics(t *testing.T) {
	assert.Panics(t, func() { NewBatchFormation("round-robin", CostModel{}) })
	assert.IsType(t, &VTCBatchFormation{}, NewBatchFormation("", CostModel{}))
}

func TestVTCFormBatch_AdmitsEachRequestOnce(t *testing.T) {
	// GIVEN one low-counter client with three waiting prompts and room for all of them
	q := NewRequestQueue()
	tr := newFormationTracker(t, true)
	setCounter(tr, "A", 0)
	setCounter(tr, "B", 100)
	for _, id := range []string{"a1", "a2", "a3"} {
		q.Add(NewRequest(id, "A", 0, 10, 2))
	}

	// WHEN a batch is formed
	res := (&VTCBatchFormation{}).FormBatch(formationContext(q, tr, 100, 0))

	// THEN each prompt appears exactly once
	want := []entrySummary{
		{ID: "a1", Kind: EntryPrefill, Tokens: 10},
		{ID: "a2", Kind: EntryPrefill, Tokens: 10},
		{ID: "a3", Kind: EntryPrefill, Tokens: 10},
	}
	if diff := cmp.Diff(want, summarize(res.Batch)); diff != "" {
		t.Errorf("batch mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"a1", "a2", "a3"}, selectionIDs(res))
	assert.Equal(t, int64(70), res.TokensLeft)
}
