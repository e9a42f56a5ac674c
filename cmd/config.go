package cmd

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/vtc-sched/sched"
	"github.com/inference-sim/vtc-sched/sched/engine"
	"github.com/inference-sim/vtc-sched/sched/workload"
)

// EngineConfig configures the simulated engine and its KV block pool.
type EngineConfig struct {
	TotalKVBlocks int64                `yaml:"total_kv_blocks"`
	BlockSize     int64                `yaml:"block_size"`
	Latency       engine.LatencyCoeffs `yaml:"latency"`
}

// RunConfig is the full --config file: scheduler settings plus the simulated engine.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type RunConfig struct {
	Scheduler sched.Config `yaml:"scheduler"`
	Engine    EngineConfig `yaml:"engine"`
}

// DefaultRunConfig returns the configuration used when no --config is given.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Scheduler: sched.DefaultConfig(),
		Engine: EngineConfig{
			TotalKVBlocks: 8192,
			BlockSize:     16,
			Latency:       engine.DefaultLatencyCoeffs(),
		},
	}
}

// LoadRunConfig parses a YAML run configuration. Sections or fields missing
// from the file keep their DefaultRunConfig values; unknown keys are rejected.
func LoadRunConfig(path string) (RunConfig, error) {
	cfg := DefaultRunConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Validate checks the scheduler and engine settings.
func (c RunConfig) Validate() error {
	if err := c.Scheduler.Validate(); err != nil {
		return err
	}
	if c.Engine.TotalKVBlocks <= 0 {
		return fmt.Errorf("engine.total_kv_blocks must be > 0, got %d", c.Engine.TotalKVBlocks)
	}
	if c.Engine.BlockSize <= 0 {
		return fmt.Errorf("engine.block_size must be > 0, got %d", c.Engine.BlockSize)
	}
	if _, err := engine.NewLatencyModel(c.Engine.Latency); err != nil {
		return err
	}
	return nil
}

// DefaultWorkload is a two-client workload where client A sends three times
// as many requests as client B, used when no --workload is given.
func DefaultWorkload() *workload.WorkloadSpec {
	return &workload.WorkloadSpec{
		Seed:          42,
		AggregateRate: 0.5,
		Horizon:       2000,
		Clients: []workload.ClientSpec{
			{
				ID:           "A",
				RateFraction: 0.75,
				Arrival:      workload.ArrivalSpec{Process: "poisson"},
				InputDist:    workload.DistSpec{Type: "gaussian", Params: map[string]float64{"mean": 256, "std_dev": 64, "min": 16, "max": 1024}},
				OutputDist:   workload.DistSpec{Type: "exponential", Params: map[string]float64{"mean": 64}},
			},
			{
				ID:           "B",
				RateFraction: 0.25,
				Arrival:      workload.ArrivalSpec{Process: "poisson"},
				InputDist:    workload.DistSpec{Type: "gaussian", Params: map[string]float64{"mean": 256, "std_dev": 64, "min": 16, "max": 1024}},
				OutputDist:   workload.DistSpec{Type: "exponential", Params: map[string]float64{"mean": 64}},
			},
		},
	}
}

func loadWorkload(path string) (*workload.WorkloadSpec, error) {
	if path == "" {
		return DefaultWorkload(), nil
	}
	return workload.LoadWorkloadSpec(path)
}
