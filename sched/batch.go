// batch.go
//
// Defines the Batch handed to the execution engine each tick and the
// CompletionReport the engine returns.

package sched

// EntryKind distinguishes prefill work from a decode step inside a batch.
type EntryKind string

const (
	EntryPrefill EntryKind = "prefill"
	EntryDecode  EntryKind = "decode"
)

// BatchEntry is one request's slice of work in a batch.
type BatchEntry struct {
	Request *Request
	Tokens  int64 // tokens assigned this tick: prompt chunk size for prefill, 1 for decode
	Kind    EntryKind
}

// Batch represents the requests processed together in one scheduling tick.
// A request appears at most once.
type Batch struct {
	Tick    int64
	Entries []BatchEntry
}

// NewBatch creates an empty Batch for the given tick.
func NewBatch(tick int64) *Batch {
	return &Batch{Tick: tick}
}

// Len returns the number of entries in the batch.
func (b *Batch) Len() int {
	return len(b.Entries)
}

// IsEmpty reports whether the batch holds no work.
func (b *Batch) IsEmpty() bool {
	return len(b.Entries) == 0
}

// TotalTokens returns the sum of tokens assigned across all entries.
func (b *Batch) TotalTokens() int64 {
	var total int64
	for _, e := range b.Entries {
		total += e.Tokens
	}
	return total
}

// CountKind returns the number of entries of the given kind.
func (b *Batch) CountKind(kind EntryKind) int {
	n := 0
	for _, e := range b.Entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Entry returns the entry for requestID, or false when the request is not in the batch.
func (b *Batch) Entry(requestID string) (BatchEntry, bool) {
	for _, e := range b.Entries {
		if e.Request.ID == requestID {
			return e, true
		}
	}
	return BatchEntry{}, false
}

func (b *Batch) contains(requestID string) bool {
	_, ok := b.Entry(requestID)
	return ok
}

// CompletionEntry reports what one request actually did during a tick.
type CompletionEntry struct {
	RequestID     string
	PrefillTokens int64 // prompt tokens prefilled this tick
	DecodeTokens  int64 // output tokens generated this tick
	Finished      bool  // the request produced its last token
}

// CompletionReport is returned by the execution engine for one batch.
type CompletionReport struct {
	Entries  []CompletionEntry
	StepTime int64 // wall time the step took, in microseconds (informational)
}
