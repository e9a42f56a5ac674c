package workload

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// ComposeSpecs merges several fixed-assignment specs into one. Client lists
// are concatenated, aggregate rates summed, and rate fractions renormalized so
// each client keeps its absolute rate. The merged seed is the first spec's;
// the horizon is the longest one. A request cap survives only when every spec
// has one.
func ComposeSpecs(specs []*WorkloadSpec) (*WorkloadSpec, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("at least one spec required")
	}

	merged := &WorkloadSpec{Seed: specs[0].Seed}
	capped := true
	for i, s := range specs {
		if s.AssignmentType() != AssignmentFixed {
			return nil, fmt.Errorf("spec %d: %s client assignment cannot be composed", i, s.AssignmentType())
		}
		var fractions float64
		for _, c := range s.Clients {
			fractions += c.RateFraction
		}
		if fractions <= 0 {
			return nil, fmt.Errorf("spec %d: rate fractions must sum to a positive value", i)
		}
		for _, c := range s.Clients {
			// absolute rate for now; normalized below
			c.RateFraction = s.AggregateRate * c.RateFraction / fractions
			merged.Clients = append(merged.Clients, c)
		}
		merged.AggregateRate += s.AggregateRate
		merged.Horizon = max(merged.Horizon, s.Horizon)
		if s.NumRequests <= 0 {
			capped = false
		}
		merged.NumRequests += s.NumRequests
	}
	if !capped {
		merged.NumRequests = 0
	}
	for i := range merged.Clients {
		merged.Clients[i].RateFraction /= merged.AggregateRate
	}

	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("composed spec: %w", err)
	}
	return merged, nil
}

// WriteYAML encodes the spec as YAML.
func (s *WorkloadSpec) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return err
	}
	return enc.Close()
}
