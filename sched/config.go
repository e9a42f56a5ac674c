package sched

import (
	"fmt"
	"math"
	"sort"
)

// Scheduling policy names.
const (
	PolicyVTC        = "vtc"         // basic VTC: whole-prompt admission, charge on arrival
	PolicyVTCSarathi = "vtc-sarathi" // chunked prefill with chunk-granularity preemption
)

var validPolicies = map[string]bool{
	"":               true, // empty defaults to vtc
	PolicyVTC:        true,
	PolicyVTCSarathi: true,
}

// IsValidPolicy returns true if name is a recognized scheduling policy.
func IsValidPolicy(name string) bool {
	return validPolicies[name]
}

// ValidPolicyNames returns the recognized non-empty policy names, sorted.
func ValidPolicyNames() []string {
	names := make([]string, 0, len(validPolicies))
	for name := range validPolicies {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// BatchConfig groups batch composition limits.
type BatchConfig struct {
	MaxBatchSize          int64 `yaml:"max_batch_size"`           // max requests per batch
	MaxTokensPerIteration int64 `yaml:"max_tokens_per_iteration"` // max new tokens across the batch
	MaxChunkTokens        int64 `yaml:"max_chunk_tokens"`         // max prefill chunk per request per tick (vtc-sarathi only)
}

// CostConfig groups the service cost constants.
type CostConfig struct {
	UnitPrefillCost    float64            `yaml:"unit_prefill_cost"`
	UnitDecodeCost     float64            `yaml:"unit_decode_cost"`
	DecodeAmortization DecodeAmortization `yaml:"decode_amortization"`
}

// FairnessConfig groups the per-client fairness parameters.
type FairnessConfig struct {
	Weights         map[string]float64 `yaml:"weights"`          // client id -> weight (> 0)
	DefaultWeight   float64            `yaml:"default_weight"`   // weight for clients absent from Weights
	RebaseThreshold float64            `yaml:"rebase_threshold"` // rebase when min active counter exceeds this; 0 disables
}

// Config is the full scheduler configuration. It is read once at construction.
type Config struct {
	Policy   string         `yaml:"policy"`
	Batch    BatchConfig    `yaml:"batch"`
	Cost     CostConfig     `yaml:"cost"`
	Fairness FairnessConfig `yaml:"fairness"`
}

// DefaultConfig returns a basic VTC configuration with the default cost constants.
func DefaultConfig() Config {
	return Config{
		Policy: PolicyVTC,
		Batch: BatchConfig{
			MaxBatchSize:          256,
			MaxTokensPerIteration: 2048,
			MaxChunkTokens:        512,
		},
		Cost: CostConfig{
			UnitPrefillCost:    1.0,
			UnitDecodeCost:     2.0,
			DecodeAmortization: AmortizeDecodeOnly,
		},
		Fairness: FairnessConfig{
			Weights:       map[string]float64{},
			DefaultWeight: 1.0,
		},
	}
}

// withDefaults fills zero-valued optional fields.
func (c Config) withDefaults() Config {
	if c.Policy == "" {
		c.Policy = PolicyVTC
	}
	if c.Cost.DecodeAmortization == "" {
		c.Cost.DecodeAmortization = AmortizeDecodeOnly
	}
	if c.Fairness.DefaultWeight == 0 {
		c.Fairness.DefaultWeight = 1.0
	}
	return c
}

// Chunked reports whether the configured policy splits prefills into chunks.
func (c Config) Chunked() bool {
	return c.Policy == PolicyVTCSarathi
}

// Validate checks the configuration. Zero-valued optional fields are accepted
// and defaulted by the scheduler constructor.
func (c Config) Validate() error {
	c = c.withDefaults()
	if !IsValidPolicy(c.Policy) {
		return fmt.Errorf("%w: unknown policy %q (valid: %v)", ErrInvalidConfig, c.Policy, ValidPolicyNames())
	}
	if c.Batch.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: max_batch_size must be > 0, got %d", ErrInvalidConfig, c.Batch.MaxBatchSize)
	}
	if c.Batch.MaxTokensPerIteration <= 0 {
		return fmt.Errorf("%w: max_tokens_per_iteration must be > 0, got %d", ErrInvalidConfig, c.Batch.MaxTokensPerIteration)
	}
	if c.Chunked() && c.Batch.MaxChunkTokens <= 0 {
		return fmt.Errorf("%w: max_chunk_tokens must be > 0 for policy %q, got %d", ErrInvalidConfig, c.Policy, c.Batch.MaxChunkTokens)
	}
	if c.Batch.MaxChunkTokens < 0 {
		return fmt.Errorf("%w: max_chunk_tokens must be >= 0, got %d", ErrInvalidConfig, c.Batch.MaxChunkTokens)
	}
	if !isFiniteNonNegative(c.Cost.UnitPrefillCost) || c.Cost.UnitPrefillCost == 0 {
		return fmt.Errorf("%w: unit_prefill_cost must be a finite value > 0, got %v", ErrInvalidConfig, c.Cost.UnitPrefillCost)
	}
	if !isFiniteNonNegative(c.Cost.UnitDecodeCost) {
		return fmt.Errorf("%w: unit_decode_cost must be a finite value >= 0, got %v", ErrInvalidConfig, c.Cost.UnitDecodeCost)
	}
	if !IsValidDecodeAmortization(string(c.Cost.DecodeAmortization)) {
		return fmt.Errorf("%w: unknown decode_amortization %q", ErrInvalidConfig, c.Cost.DecodeAmortization)
	}
	if c.Fairness.DefaultWeight <= 0 || math.IsNaN(c.Fairness.DefaultWeight) || math.IsInf(c.Fairness.DefaultWeight, 0) {
		return fmt.Errorf("%w: default_weight %v", ErrInvalidWeight, c.Fairness.DefaultWeight)
	}
	for client, w := range c.Fairness.Weights {
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: client %q has weight %v", ErrInvalidWeight, client, w)
		}
	}
	if !isFiniteNonNegative(c.Fairness.RebaseThreshold) {
		return fmt.Errorf("%w: rebase_threshold must be a finite value >= 0, got %v", ErrInvalidConfig, c.Fairness.RebaseThreshold)
	}
	return nil
}

func isFiniteNonNegative(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
