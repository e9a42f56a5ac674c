package sched

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func metricsWith(services map[string]float64) *Metrics {
	m := NewMetrics()
	for id, svc := range services {
		c := m.Client(id)
		c.Weight = 1
		c.ServiceCost = svc
	}
	return m
}

func TestJainFairnessIndex(t *testing.T) {
	tests := []struct {
		name     string
		services map[string]float64
		want     float64
	}{
		{"no clients", nil, 1},
		{"equal service", map[string]float64{"A": 10, "B": 10}, 1},
		{"one client starved", map[string]float64{"A": 10, "B": 0}, 0.5},
		{"no service yet", map[string]float64{"A": 0, "B": 0}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, metricsWith(tt.services).JainFairnessIndex(), 1e-9)
		})
	}
}

func TestJainFairnessIndex_NormalizesByWeight(t *testing.T) {
	// A has twice B's weight and received twice B's service: perfectly fair.
	m := NewMetrics()
	a, b := m.Client("A"), m.Client("B")
	a.Weight, a.ServiceCost = 2, 200
	b.Weight, b.ServiceCost = 1, 100

	assert.InDelta(t, 1.0, m.JainFairnessIndex(), 1e-9)
	assert.Equal(t, map[string]float64{"A": 100, "B": 100}, m.ServiceByClient())
}

func TestCounterSpread(t *testing.T) {
	m := NewMetrics()
	assert.Equal(t, 0.0, m.CounterSpread())
	m.Client("A").Counter = 5
	m.Client("B").Counter = 20
	m.Client("C").Counter = 12
	assert.Equal(t, 15.0, m.CounterSpread())
}

func TestMetricsPrint(t *testing.T) {
	var buf bytes.Buffer
	NewMetrics().Print(&buf)
	assert.Contains(t, buf.String(), "=== Scheduler Metrics ===")
	assert.NotContains(t, buf.String(), "Per Client")

	buf.Reset()
	m := metricsWith(map[string]float64{"A": 10, "B": 30})
	m.CompletedRequests = 2
	m.Print(&buf)
	out := buf.String()
	assert.Contains(t, out, "Completed Requests   : 2")
	assert.Contains(t, out, "--- Per Client ---")
	assert.Contains(t, out, "Jain Fairness Index  : 0.8000")
}
