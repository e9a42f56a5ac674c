package trace

// TraceSummary aggregates statistics from a SchedulingTrace.
type TraceSummary struct {
	TotalAdmissions      int
	AdmittedCount        int
	RejectedCount        int
	TotalSelections      int
	TotalPreemptions     int
	TotalRebases         int
	SelectedTokens       map[string]int64 // client ID -> prefill tokens selected
	SelectionsByClient   map[string]int   // client ID -> number of selections
	PreemptionsByRequest map[string]int
}

// Summarize computes aggregate statistics from a SchedulingTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SchedulingTrace) *TraceSummary {
	summary := &TraceSummary{
		SelectedTokens:       make(map[string]int64),
		SelectionsByClient:   make(map[string]int),
		PreemptionsByRequest: make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalAdmissions = len(st.Admissions)
	for _, a := range st.Admissions {
		if a.Admitted {
			summary.AdmittedCount++
		} else {
			summary.RejectedCount++
		}
	}

	summary.TotalSelections = len(st.Selections)
	for _, s := range st.Selections {
		summary.SelectionsByClient[s.ClientID]++
		summary.SelectedTokens[s.ClientID] += s.Tokens
	}

	summary.TotalPreemptions = len(st.Preemptions)
	for _, p := range st.Preemptions {
		summary.PreemptionsByRequest[p.RequestID]++
	}

	summary.TotalRebases = len(st.Rebases)
	return summary
}
