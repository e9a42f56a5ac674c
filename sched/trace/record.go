// Package trace provides scheduling decision-trace recording for fairness analysis.
// It has no dependency on sched/ and stores plain data types only.
package trace

// AdmissionRecord captures a Submit decision.
type AdmissionRecord struct {
	RequestID string  `yaml:"request_id"`
	ClientID  string  `yaml:"client_id"`
	Tick      int64   `yaml:"tick"`
	Admitted  bool    `yaml:"admitted"`
	Reason    string  `yaml:"reason,omitempty"`
	Lift      float64 `yaml:"lift,omitempty"` // counter increase applied by the lift rule
}

// SelectionRecord captures one lowest-counter pick made while forming a batch.
type SelectionRecord struct {
	RequestID string  `yaml:"request_id"`
	ClientID  string  `yaml:"client_id"`
	Tick      int64   `yaml:"tick"`
	Counter   float64 `yaml:"counter"` // counter used for the decision (projected for chunked formation)
	Tokens    int64   `yaml:"tokens"`
}

// PreemptionRecord captures a partially prefilled request displaced for a tick.
type PreemptionRecord struct {
	RequestID       string `yaml:"request_id"`
	ClientID        string `yaml:"client_id"`
	Tick            int64  `yaml:"tick"`
	PrefilledTokens int64  `yaml:"prefilled_tokens"` // progress kept across the preemption
}

// RebaseRecord captures a counter rebase.
type RebaseRecord struct {
	Tick   int64   `yaml:"tick"`
	Offset float64 `yaml:"offset"`
}
