package workload

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWorkloadSpec_ValidYAML(t *testing.T) {
	yamlData := `
seed: 7
aggregate_rate: 1.5
horizon: 1000
clients:
  - id: A
    rate_fraction: 0.5
    arrival:
      process: gamma
      cv: 2.0
    input_distribution:
      type: constant
      params:
        value: 128
    output_distribution:
      type: empirical
      params:
        "16": 0.5
        "32": 0.5
  - id: B
    rate_fraction: 0.5
    arrival:
      process: poisson
    input_distribution:
      type: exponential
      params:
        mean: 200
    output_distribution:
      type: constant
      params:
        value: 0
client_assignment:
  type: binomial
  activation_rate: 0.3
  arrival:
    process: poisson
`
	path := filepath.Join(t.TempDir(), "workload.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0644))

	spec, err := LoadWorkloadSpec(path)
	require.NoError(t, err)
	require.NoError(t, spec.Validate())

	assert.Equal(t, int64(7), spec.Seed)
	assert.Len(t, spec.Clients, 2)
	assert.Equal(t, AssignmentBinomial, spec.AssignmentType())
	assert.Equal(t, 2.0, *spec.Clients[0].Arrival.CV)
}

func TestParseWorkloadSpec_UnknownField_Rejected(t *testing.T) {
	_, err := ParseWorkloadSpec([]byte("seed: 1\naggregate_rat: 2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aggregate_rat")
}

func TestWorkloadSpec_Validate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*WorkloadSpec)
		wantMsg string
	}{
		{"no clients", func(s *WorkloadSpec) { s.Clients = nil }, "at least one client"},
		{"zero rate", func(s *WorkloadSpec) { s.AggregateRate = 0 }, "aggregate_rate"},
		{"no horizon or count", func(s *WorkloadSpec) { s.Horizon = 0 }, "horizon or num_requests"},
		{"duplicate id", func(s *WorkloadSpec) { s.Clients[1].ID = "A" }, "duplicate id"},
		{"empty id", func(s *WorkloadSpec) { s.Clients[0].ID = "" }, "id is required"},
		{"bad process", func(s *WorkloadSpec) { s.Clients[0].Arrival.Process = "burst" }, "unknown arrival process"},
		{"bad dist", func(s *WorkloadSpec) { s.Clients[0].InputDist.Type = "zipf" }, "unknown distribution type"},
		{"binomial rate above one", func(s *WorkloadSpec) {
			s.Assignment = &AssignmentSpec{Type: AssignmentBinomial, ActivationRate: 1.5, Arrival: ArrivalSpec{Process: "poisson"}}
		}, "activation_rate"},
		{"binomial three clients", func(s *WorkloadSpec) {
			s.Clients = append(s.Clients, s.Clients[0])
			s.Clients[2].ID = "C"
			s.Assignment = &AssignmentSpec{Type: AssignmentBinomial, ActivationRate: 0.5, Arrival: ArrivalSpec{Process: "poisson"}}
		}, "exactly 2 clients"},
		{"unknown assignment", func(s *WorkloadSpec) { s.Assignment = &AssignmentSpec{Type: "zipf"} }, "unknown type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := twoClientSpec()
			tt.mutate(spec)
			err := spec.Validate()
			require.Error(t, err)
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}
