// Tracks scheduler-wide and per-client statistics such as served tokens,
// request outcomes, final counters, and fairness of the delivered service.

package sched

import (
	"fmt"
	"io"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ClientStats aggregates one client's service over a run.
type ClientStats struct {
	ClientID      string
	Weight        float64
	PrefillTokens int64   // prompt tokens served
	DecodeTokens  int64   // output tokens served
	ServiceCost   float64 // unamortized service of finished requests (prompt and output)
	Completed     int
	Failed        int // rejected at admission
	Aborted       int
	TTFTSum       int64   // sum over finished requests of (first token tick - arrival tick)
	Counter       float64 // absolute virtual counter at the end of the run
}

// NormalizedService returns ServiceCost divided by the client's weight.
func (c *ClientStats) NormalizedService() float64 {
	if c.Weight <= 0 {
		return 0
	}
	return c.ServiceCost / c.Weight
}

// Metrics aggregates statistics about a scheduler run for final reporting.
type Metrics struct {
	Ticks              int64 // ticks that submitted a batch
	IdleTicks          int64 // ticks with nothing to schedule
	Clock              int64 // sum of engine step times (µs)
	CompletedRequests  int
	FailedRequests     int
	AbortedRequests    int
	TotalPrefillTokens int64
	TotalDecodeTokens  int64
	Preemptions        int
	Rebases            int
	PeakQueueDepth     int

	Clients map[string]*ClientStats
}

// NewMetrics creates an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{Clients: make(map[string]*ClientStats)}
}

// Client returns the stats for clientID, creating them on first use.
func (m *Metrics) Client(clientID string) *ClientStats {
	c, ok := m.Clients[clientID]
	if !ok {
		c = &ClientStats{ClientID: clientID}
		m.Clients[clientID] = c
	}
	return c
}

// sortedClients returns client stats ordered by client ID.
func (m *Metrics) sortedClients() []*ClientStats {
	out := make([]*ClientStats, 0, len(m.Clients))
	for _, c := range m.Clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// ServiceByClient returns each client's weight-normalized service.
func (m *Metrics) ServiceByClient() map[string]float64 {
	out := make(map[string]float64, len(m.Clients))
	for id, c := range m.Clients {
		out[id] = c.NormalizedService()
	}
	return out
}

// JainFairnessIndex returns Jain's index over weight-normalized service:
// (Σx)² / (n·Σx²). 1.0 means perfectly proportional service; 1/n means one
// client received everything. Returns 1 when there is no service to compare.
func (m *Metrics) JainFairnessIndex() float64 {
	x := make([]float64, 0, len(m.Clients))
	for _, c := range m.sortedClients() {
		x = append(x, c.NormalizedService())
	}
	if len(x) == 0 {
		return 1
	}
	sumSq := floats.Dot(x, x)
	if sumSq == 0 {
		return 1
	}
	sum := floats.Sum(x)
	return sum * sum / (float64(len(x)) * sumSq)
}

// CounterSpread returns max - min of the final absolute counters.
func (m *Metrics) CounterSpread() float64 {
	if len(m.Clients) == 0 {
		return 0
	}
	counters := make([]float64, 0, len(m.Clients))
	for _, c := range m.sortedClients() {
		counters = append(counters, c.Counter)
	}
	return floats.Max(counters) - floats.Min(counters)
}

// Print writes aggregated metrics at the end of a run.
func (m *Metrics) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Scheduler Metrics ===")
	fmt.Fprintf(w, "Ticks                : %d (%d idle)\n", m.Ticks, m.IdleTicks)
	fmt.Fprintf(w, "Engine Time          : %.3f s\n", float64(m.Clock)/1e6)
	fmt.Fprintf(w, "Completed Requests   : %d\n", m.CompletedRequests)
	fmt.Fprintf(w, "Failed Requests      : %d\n", m.FailedRequests)
	fmt.Fprintf(w, "Aborted Requests     : %d\n", m.AbortedRequests)
	fmt.Fprintf(w, "Prefill Tokens       : %d\n", m.TotalPrefillTokens)
	fmt.Fprintf(w, "Decode Tokens        : %d\n", m.TotalDecodeTokens)
	fmt.Fprintf(w, "Preemptions          : %d\n", m.Preemptions)
	fmt.Fprintf(w, "Rebases              : %d\n", m.Rebases)
	fmt.Fprintf(w, "Peak Queue Depth     : %d\n", m.PeakQueueDepth)

	clients := m.sortedClients()
	if len(clients) == 0 {
		return
	}
	normalized := make([]float64, 0, len(clients))
	fmt.Fprintln(w, "--- Per Client ---")
	for _, c := range clients {
		avgTTFT := 0.0
		if c.Completed > 0 {
			avgTTFT = float64(c.TTFTSum) / float64(c.Completed)
		}
		fmt.Fprintf(w, "%-12s weight=%-6.2f prefill=%-8d decode=%-8d done=%-5d failed=%-3d aborted=%-3d ttft=%.2f ticks counter=%.2f\n",
			c.ClientID, c.Weight, c.PrefillTokens, c.DecodeTokens, c.Completed, c.Failed, c.Aborted, avgTTFT, c.Counter)
		normalized = append(normalized, c.NormalizedService())
	}
	mean, std := stat.MeanStdDev(normalized, nil)
	if len(normalized) < 2 {
		std = 0
	}
	fmt.Fprintf(w, "Normalized Service   : mean=%.2f stddev=%.2f\n", mean, std)
	fmt.Fprintf(w, "Jain Fairness Index  : %.4f\n", m.JainFairnessIndex())
	fmt.Fprintf(w, "Counter Spread       : %.2f\n", m.CounterSpread())
}
