package trace

import (
	"io"

	"gopkg.in/yaml.v3"
)

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures admissions, selections, preemptions and rebases.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SchedulingTrace collects decision records during a scheduler run.
type SchedulingTrace struct {
	Config      TraceConfig        `yaml:"-"`
	Admissions  []AdmissionRecord  `yaml:"admissions"`
	Selections  []SelectionRecord  `yaml:"selections"`
	Preemptions []PreemptionRecord `yaml:"preemptions"`
	Rebases     []RebaseRecord     `yaml:"rebases"`
}

// NewSchedulingTrace creates a SchedulingTrace ready for recording.
func NewSchedulingTrace(config TraceConfig) *SchedulingTrace {
	return &SchedulingTrace{
		Config:      config,
		Admissions:  make([]AdmissionRecord, 0),
		Selections:  make([]SelectionRecord, 0),
		Preemptions: make([]PreemptionRecord, 0),
		Rebases:     make([]RebaseRecord, 0),
	}
}

// Enabled reports whether records should be collected. Safe on a nil trace.
func (st *SchedulingTrace) Enabled() bool {
	return st != nil && st.Config.Level == TraceLevelDecisions
}

// RecordAdmission appends an admission decision record.
func (st *SchedulingTrace) RecordAdmission(record AdmissionRecord) {
	st.Admissions = append(st.Admissions, record)
}

// RecordSelection appends a selection record.
func (st *SchedulingTrace) RecordSelection(record SelectionRecord) {
	st.Selections = append(st.Selections, record)
}

// RecordPreemption appends a preemption record.
func (st *SchedulingTrace) RecordPreemption(record PreemptionRecord) {
	st.Preemptions = append(st.Preemptions, record)
}

// RecordRebase appends a rebase record.
func (st *SchedulingTrace) RecordRebase(record RebaseRecord) {
	st.Rebases = append(st.Rebases, record)
}

// WriteYAML encodes the trace as YAML.
func (st *SchedulingTrace) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(st); err != nil {
		return err
	}
	return enc.Close()
}
