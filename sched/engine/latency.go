package engine

import (
	"fmt"
	"math"
)

// LatencyCoeffs holds the regression coefficients of the step-time model.
type LatencyCoeffs struct {
	// BetaCoeffs estimate step time in µs: beta0 + beta1*prefillTokens + beta2*decodeTokens.
	BetaCoeffs []float64 `yaml:"beta_coeffs"`
	// AlphaCoeffs estimate per-batch overheads in µs: alpha0 (fixed scheduling
	// overhead) + alpha1*entries.
	AlphaCoeffs []float64 `yaml:"alpha_coeffs"`
}

// DefaultLatencyCoeffs returns coefficients in the range fitted for a 7B model on one GPU.
func DefaultLatencyCoeffs() LatencyCoeffs {
	return LatencyCoeffs{
		BetaCoeffs:  []float64{6910.42, 17.67, 2.84},
		AlphaCoeffs: []float64{1601.35, 3.51},
	}
}

// LatencyModel estimates how long the engine takes to run one batch.
type LatencyModel struct {
	betaCoeffs  []float64
	alphaCoeffs []float64
}

// NewLatencyModel validates coeffs and creates a LatencyModel.
// Returns an error if a coefficient slice is too short or contains NaN/Inf.
func NewLatencyModel(coeffs LatencyCoeffs) (*LatencyModel, error) {
	if len(coeffs.BetaCoeffs) < 3 {
		return nil, fmt.Errorf("latency model: BetaCoeffs requires at least 3 elements, got %d", len(coeffs.BetaCoeffs))
	}
	if len(coeffs.AlphaCoeffs) < 2 {
		return nil, fmt.Errorf("latency model: AlphaCoeffs requires at least 2 elements, got %d", len(coeffs.AlphaCoeffs))
	}
	if err := validateCoeffs("BetaCoeffs", coeffs.BetaCoeffs); err != nil {
		return nil, err
	}
	if err := validateCoeffs("AlphaCoeffs", coeffs.AlphaCoeffs); err != nil {
		return nil, err
	}
	return &LatencyModel{betaCoeffs: coeffs.BetaCoeffs, alphaCoeffs: coeffs.AlphaCoeffs}, nil
}

// StepTime returns the estimated step time in µs for a batch with the given
// prefill and decode token totals and number of entries.
func (m *LatencyModel) StepTime(prefillTokens, decodeTokens int64, entries int) int64 {
	var t float64
	t += m.betaCoeffs[0]
	t += m.betaCoeffs[1] * float64(prefillTokens)
	t += m.betaCoeffs[2] * float64(decodeTokens)
	t += m.alphaCoeffs[0]
	t += m.alphaCoeffs[1] * float64(entries)
	return int64(t)
}

// validateCoeffs checks for NaN or Inf in a coefficient slice.
func validateCoeffs(name string, coeffs []float64) error {
	for i, c := range coeffs {
		if math.IsNaN(c) {
			return fmt.Errorf("latency model: %s[%d] is NaN", name, i)
		}
		if math.IsInf(c, 0) {
			return fmt.Errorf("latency model: %s[%d] is Inf", name, i)
		}
	}
	return nil
}
