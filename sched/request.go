// Defines the Request struct that models an individual inference request seen by the scheduler.
// Tracks owning client, prompt/output lengths, prefill progress, and the phase state machine.

package sched

import (
	"fmt"
)

// Phase represents the lifecycle phase of a request.
// Transitions are monotone: waiting -> prefilling -> decoding -> done.
// Any phase may jump directly to done (finish, abort, admission failure).
type Phase string

const (
	PhaseWaiting    Phase = "waiting"
	PhasePrefilling Phase = "prefilling"
	PhaseDecoding   Phase = "decoding"
	PhaseDone       Phase = "done"
)

var phaseOrder = map[Phase]int{
	PhaseWaiting:    0,
	PhasePrefilling: 1,
	PhaseDecoding:   2,
	PhaseDone:       3,
}

type Request struct {
	ID       string // Unique identifier for the request
	ClientID string // Owning client (tenant); selects the fairness account

	ArrivalTick     int64 // Tick at which the request entered the scheduler
	PromptTokens    int64 // Total prompt length
	MaxOutputTokens int64 // Target output length; 0 means the request finishes with its prefill

	PrefilledTokens int64 // Prompt tokens already prefilled (never decreases)
	GeneratedTokens int64 // Output tokens generated so far

	Phase         Phase  // waiting, prefilling, decoding, done
	Failed        bool   // Set when the request was rejected or aborted instead of finishing
	FailureReason string // Human-readable reason when Failed

	ScheduledTick  int64 // Tick the request first entered a batch (-1 until scheduled)
	FirstTokenTick int64 // Tick the prefill completed (-1 until then)
	FinishedTick   int64 // Tick the request reached done (-1 until then)
}

// NewRequest creates a waiting Request.
// Panics if promptTokens is not positive or maxOutputTokens is negative.
func NewRequest(id, clientID string, arrivalTick, promptTokens, maxOutputTokens int64) *Request {
	if promptTokens <= 0 {
		panic(fmt.Sprintf("NewRequest: promptTokens must be > 0, got %d", promptTokens))
	}
	if maxOutputTokens < 0 {
		panic(fmt.Sprintf("NewRequest: maxOutputTokens must be >= 0, got %d", maxOutputTokens))
	}
	return &Request{
		ID:              id,
		ClientID:        clientID,
		ArrivalTick:     arrivalTick,
		PromptTokens:    promptTokens,
		MaxOutputTokens: maxOutputTokens,
		Phase:           PhaseWaiting,
		ScheduledTick:   -1,
		FirstTokenTick:  -1,
		FinishedTick:    -1,
	}
}

// RemainingPrefill returns the number of prompt tokens not yet prefilled.
func (req *Request) RemainingPrefill() int64 {
	return req.PromptTokens - req.PrefilledTokens
}

// ProcessedTokens returns the number of tokens resident in the KV cache for this request.
func (req *Request) ProcessedTokens() int64 {
	return req.PrefilledTokens + req.GeneratedTokens
}

// IsDone reports whether the request reached its terminal phase.
func (req *Request) IsDone() bool {
	return req.Phase == PhaseDone
}

// advancePhase moves the request to next. Panics on a regression, which would
// mean the scheduler lost track of progress.
func (req *Request) advancePhase(next Phase) {
	if phaseOrder[next] < phaseOrder[req.Phase] {
		panic(fmt.Sprintf("advancePhase: request %s cannot move from %s to %s", req.ID, req.Phase, next))
	}
	req.Phase = next
}

// fail marks the request as done without finishing its work.
func (req *Request) fail(tick int64, reason string) {
	req.Failed = true
	req.FailureReason = reason
	req.Phase = PhaseDone
	req.FinishedTick = tick
}

// This method returns a human-readable string representation of a Request.
func (req Request) String() string {
	return fmt.Sprintf("Request: (ID: %s, Client: %s, Phase: %s, Prefilled: %d/%d, Generated: %d/%d, ArrivalTick: %d)",
		req.ID, req.ClientID, req.Phase, req.PrefilledTokens, req.PromptTokens, req.GeneratedTokens, req.MaxOutputTokens, req.ArrivalTick)
}
