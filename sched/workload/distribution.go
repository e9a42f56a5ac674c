package workload

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
)

// LengthSampler generates token count samples.
type LengthSampler interface {
	// Sample returns a token count no smaller than the sampler's floor.
	Sample(rng *rand.Rand) int64
}

// floorAt clamps a rounded sample to lo. NaN and Inf map to lo.
func floorAt(val float64, lo int64) int64 {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return lo
	}
	return max(int64(math.Round(val)), lo)
}

// GaussianSampler produces clamped Gaussian token lengths.
type GaussianSampler struct {
	mean, stdDev float64
	min, max     int64
	floor        int64
}

func (s *GaussianSampler) Sample(rng *rand.Rand) int64 {
	if s.min == s.max {
		return max(s.min, s.floor)
	}
	val := rng.NormFloat64()*s.stdDev + s.mean
	clamped := math.Min(float64(s.max), math.Max(float64(s.min), val))
	return floorAt(clamped, s.floor)
}

// ExponentialSampler produces exponentially-distributed token lengths.
type ExponentialSampler struct {
	mean  float64
	floor int64
}

func (s *ExponentialSampler) Sample(rng *rand.Rand) int64 {
	return floorAt(rng.ExpFloat64()*s.mean, s.floor)
}

// ParetoLogNormalSampler is a mixture of Pareto and LogNormal distributions.
// With probability mixWeight, draw from Pareto(alpha, xm); otherwise LogNormal(mu, sigma).
type ParetoLogNormalSampler struct {
	alpha     float64
	xm        float64
	mu        float64
	sigma     float64
	mixWeight float64
	floor     int64
}

func (s *ParetoLogNormalSampler) Sample(rng *rand.Rand) int64 {
	var val float64
	if rng.Float64() < s.mixWeight {
		u := rng.Float64()
		if u == 0 {
			u = math.SmallestNonzeroFloat64
		}
		val = s.xm / math.Pow(u, 1.0/s.alpha)
	} else {
		val = math.Exp(s.mu + s.sigma*rng.NormFloat64())
	}
	return floorAt(val, s.floor)
}

// EmpiricalPDFSampler samples from an empirical probability distribution
// using inverse CDF via binary search.
type EmpiricalPDFSampler struct {
	values []int64
	cdf    []float64
	floor  int64
}

// NewEmpiricalPDFSampler creates a sampler from a PDF map (token_count → probability).
// Probabilities are normalized; non-positive entries are dropped.
func NewEmpiricalPDFSampler(pdf map[int64]float64) *EmpiricalPDFSampler {
	keys := make([]int64, 0, len(pdf))
	totalProb := 0.0
	for k, p := range pdf {
		if p > 0 {
			keys = append(keys, k)
			totalProb += p
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	values := make([]int64, 0, len(keys))
	cdf := make([]float64, 0, len(keys))
	cumulative := 0.0
	for _, k := range keys {
		cumulative += pdf[k] / totalProb
		values = append(values, k)
		cdf = append(cdf, cumulative)
	}
	if len(cdf) > 0 {
		cdf[len(cdf)-1] = 1.0
	}
	return &EmpiricalPDFSampler{values: values, cdf: cdf}
}

func (s *EmpiricalPDFSampler) Sample(rng *rand.Rand) int64 {
	if len(s.values) == 0 {
		return s.floor
	}
	if len(s.values) == 1 {
		return max(s.values[0], s.floor)
	}
	idx := sort.SearchFloat64s(s.cdf, rng.Float64())
	if idx >= len(s.values) {
		idx = len(s.values) - 1
	}
	return max(s.values[idx], s.floor)
}

// ConstantSampler always returns the same value.
type ConstantSampler struct {
	value int64
}

func (s *ConstantSampler) Sample(_ *rand.Rand) int64 {
	return s.value
}

// requireParam checks that all required keys exist in a params map.
func requireParam(params map[string]float64, keys ...string) error {
	for _, k := range keys {
		if _, ok := params[k]; !ok {
			return fmt.Errorf("distribution requires parameter %q", k)
		}
	}
	return nil
}

// NewLengthSampler creates a LengthSampler from a DistSpec. Samples are
// never smaller than floor (1 for prompts, 0 for outputs).
func NewLengthSampler(spec DistSpec, floor int64) (LengthSampler, error) {
	switch spec.Type {
	case "gaussian":
		if err := requireParam(spec.Params, "mean", "std_dev", "min", "max"); err != nil {
			return nil, err
		}
		s := &GaussianSampler{
			mean:   spec.Params["mean"],
			stdDev: spec.Params["std_dev"],
			min:    int64(spec.Params["min"]),
			max:    int64(spec.Params["max"]),
			floor:  floor,
		}
		if s.min > s.max {
			return nil, fmt.Errorf("gaussian min %d exceeds max %d", s.min, s.max)
		}
		return s, nil

	case "exponential":
		if err := requireParam(spec.Params, "mean"); err != nil {
			return nil, err
		}
		return &ExponentialSampler{mean: spec.Params["mean"], floor: floor}, nil

	case "pareto_lognormal":
		if err := requireParam(spec.Params, "alpha", "xm", "mu", "sigma", "mix_weight"); err != nil {
			return nil, err
		}
		return &ParetoLogNormalSampler{
			alpha:     spec.Params["alpha"],
			xm:        spec.Params["xm"],
			mu:        spec.Params["mu"],
			sigma:     spec.Params["sigma"],
			mixWeight: spec.Params["mix_weight"],
			floor:     floor,
		}, nil

	case "constant":
		if err := requireParam(spec.Params, "value"); err != nil {
			return nil, err
		}
		return &ConstantSampler{value: max(int64(spec.Params["value"]), floor)}, nil

	case "empirical":
		pdf := make(map[int64]float64, len(spec.Params))
		for k, v := range spec.Params {
			tokenCount, err := strconv.ParseInt(k, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("empirical PDF key %q is not an integer: %w", k, err)
			}
			pdf[tokenCount] = v
		}
		s := NewEmpiricalPDFSampler(pdf)
		if len(s.values) == 0 {
			return nil, fmt.Errorf("empirical distribution has no valid bins")
		}
		s.floor = floor
		return s, nil

	default:
		return nil, fmt.Errorf("unknown distribution type %q", spec.Type)
	}
}
