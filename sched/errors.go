package sched

import "errors"

var (
	// ErrInvalidConfig is returned when scheduler configuration fails validation.
	ErrInvalidConfig = errors.New("invalid scheduler config")
	// ErrInvalidWeight is returned for a client weight that is zero or negative.
	ErrInvalidWeight = errors.New("client weight must be > 0")
	// ErrInvalidRequest is returned by Submit for malformed or duplicate requests.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrPromptExceedsBudget is a fatal admission error: the basic scheduler can
	// never fit the whole prompt into one iteration.
	ErrPromptExceedsBudget = errors.New("prompt exceeds max tokens per iteration")
	// ErrProtocolViolation is returned when a completion report does not match the submitted batch.
	ErrProtocolViolation = errors.New("execution engine protocol violation")
)
