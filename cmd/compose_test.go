package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/vtc-sched/sched/workload"
)

func TestComposeWorkloads_WritesMergedSpec(t *testing.T) {
	// GIVEN the small two-client workload and a single-client one
	other := writeFile(t, "other.yaml", `
aggregate_rate: 0.5
horizon: 1000
clients:
  - id: C
    rate_fraction: 1
    arrival:
      process: constant
    input_distribution:
      type: constant
      params:
        value: 16
    output_distribution:
      type: constant
      params:
        value: 1
`)
	var out bytes.Buffer

	// WHEN composed
	require.NoError(t, composeWorkloads([]string{smallWorkload(t), other}, &out))

	// THEN the output is a valid spec holding all three clients
	merged, err := workload.ParseWorkloadSpec(out.Bytes())
	require.NoError(t, err)
	require.NoError(t, merged.Validate())
	assert.Len(t, merged.Clients, 3)
	assert.Equal(t, 1.0, merged.AggregateRate)
	assert.Equal(t, int64(0), merged.NumRequests, "only one input had a request cap")
}

func TestComposeWorkloads_Errors(t *testing.T) {
	assert.Error(t, composeWorkloads(nil, &bytes.Buffer{}))
	assert.Error(t, composeWorkloads([]string{"/does/not/exist.yaml"}, &bytes.Buffer{}))
}
