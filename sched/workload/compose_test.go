package workload

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constantClient(id string, fraction float64) ClientSpec {
	return ClientSpec{
		ID:           id,
		RateFraction: fraction,
		Arrival:      ArrivalSpec{Process: "poisson"},
		InputDist:    DistSpec{Type: "constant", Params: map[string]float64{"value": 32}},
		OutputDist:   DistSpec{Type: "constant", Params: map[string]float64{"value": 4}},
	}
}

func TestComposeSpecs_PreservesAbsoluteRates(t *testing.T) {
	// GIVEN a 2 req/tick spec split 3:1 and a 1 req/tick single-client spec
	a := &WorkloadSpec{Seed: 9, AggregateRate: 2, Horizon: 100, Clients: []ClientSpec{constantClient("A", 3), constantClient("B", 1)}}
	b := &WorkloadSpec{Seed: 1, AggregateRate: 1, Horizon: 400, Clients: []ClientSpec{constantClient("C", 0.5)}}

	// WHEN composed
	merged, err := ComposeSpecs([]*WorkloadSpec{a, b})

	// THEN each client keeps its absolute rate within the 3 req/tick total
	require.NoError(t, err)
	assert.Equal(t, 3.0, merged.AggregateRate)
	assert.Equal(t, int64(400), merged.Horizon)
	assert.Equal(t, int64(9), merged.Seed)
	require.Len(t, merged.Clients, 3)
	assert.InDelta(t, 0.5, merged.Clients[0].RateFraction, 1e-9)
	assert.InDelta(t, 1.0/6, merged.Clients[1].RateFraction, 1e-9)
	assert.InDelta(t, 1.0/3, merged.Clients[2].RateFraction, 1e-9)
	assert.Equal(t, 3.0, a.Clients[0].RateFraction, "inputs are not modified")
}

func TestComposeSpecs_RequestCap(t *testing.T) {
	a := &WorkloadSpec{AggregateRate: 1, NumRequests: 10, Clients: []ClientSpec{constantClient("A", 1)}}
	b := &WorkloadSpec{AggregateRate: 1, NumRequests: 5, Clients: []ClientSpec{constantClient("B", 1)}}
	merged, err := ComposeSpecs([]*WorkloadSpec{a, b})
	require.NoError(t, err)
	assert.Equal(t, int64(15), merged.NumRequests)

	c := &WorkloadSpec{AggregateRate: 1, Horizon: 50, Clients: []ClientSpec{constantClient("C", 1)}}
	merged, err = ComposeSpecs([]*WorkloadSpec{a, c})
	require.NoError(t, err)
	assert.Equal(t, int64(0), merged.NumRequests)
	assert.Equal(t, int64(50), merged.Horizon)
}

func TestComposeSpecs_Errors(t *testing.T) {
	_, err := ComposeSpecs(nil)
	assert.Error(t, err)

	a := &WorkloadSpec{AggregateRate: 1, Horizon: 10, Clients: []ClientSpec{constantClient("A", 1)}}
	dup := &WorkloadSpec{AggregateRate: 1, Horizon: 10, Clients: []ClientSpec{constantClient("A", 1)}}
	_, err = ComposeSpecs([]*WorkloadSpec{a, dup})
	assert.ErrorContains(t, err, "duplicate id")

	binomial := &WorkloadSpec{
		AggregateRate: 1, Horizon: 10,
		Clients:    []ClientSpec{constantClient("X", 1), constantClient("Y", 1)},
		Assignment: &AssignmentSpec{Type: AssignmentBinomial, ActivationRate: 0.5, Arrival: ArrivalSpec{Process: "poisson"}},
	}
	_, err = ComposeSpecs([]*WorkloadSpec{a, binomial})
	assert.ErrorContains(t, err, "binomial")
}

func TestWorkloadSpec_WriteYAMLParsesBack(t *testing.T) {
	spec := &WorkloadSpec{Seed: 3, AggregateRate: 1.5, Horizon: 80, Clients: []ClientSpec{constantClient("A", 1)}}

	var buf bytes.Buffer
	require.NoError(t, spec.WriteYAML(&buf))
	parsed, err := ParseWorkloadSpec(buf.Bytes())

	require.NoError(t, err)
	assert.Equal(t, spec, parsed)
}
