// Package workload generates multi-client request streams for the scheduler.
// Arrival ticks, prompt lengths and output lengths are drawn from per-client
// distributions described in a YAML WorkloadSpec.
package workload

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// WorkloadSpec is the top-level workload configuration.
// Loaded from YAML via LoadWorkloadSpec(path).
type WorkloadSpec struct {
	Seed          int64           `yaml:"seed"`
	Clients       []ClientSpec    `yaml:"clients"`
	AggregateRate float64         `yaml:"aggregate_rate"`         // requests per tick across all clients
	Horizon       int64           `yaml:"horizon"`                // last arrival tick (exclusive)
	NumRequests   int64           `yaml:"num_requests,omitempty"` // 0 = unlimited (use horizon only)
	Assignment    *AssignmentSpec `yaml:"client_assignment,omitempty"`
}

// ClientSpec defines a single client's workload behavior.
type ClientSpec struct {
	ID           string      `yaml:"id"`
	RateFraction float64     `yaml:"rate_fraction"`
	Arrival      ArrivalSpec `yaml:"arrival"`
	InputDist    DistSpec    `yaml:"input_distribution"`
	OutputDist   DistSpec    `yaml:"output_distribution"`
}

// ArrivalSpec configures the inter-arrival time process.
type ArrivalSpec struct {
	Process string   `yaml:"process"`
	CV      *float64 `yaml:"cv,omitempty"`
}

// DistSpec parameterizes a token length distribution.
type DistSpec struct {
	Type   string             `yaml:"type"`
	Params map[string]float64 `yaml:"params,omitempty"`
}

// AssignmentSpec selects how arrivals are attributed to clients.
//
//   - fixed: every client has its own arrival stream at its share of the
//     aggregate rate (the default when client_assignment is omitted)
//   - binomial: one aggregate stream; each arrival goes to the second client
//     with probability activation_rate and to the first otherwise
type AssignmentSpec struct {
	Type           string      `yaml:"type"`
	ActivationRate float64     `yaml:"activation_rate"`
	Arrival        ArrivalSpec `yaml:"arrival"`
}

const (
	AssignmentFixed    = "fixed"
	AssignmentBinomial = "binomial"
)

var (
	validArrivalProcesses = map[string]bool{
		"poisson": true, "gamma": true, "weibull": true, "constant": true,
	}
	validDistTypes = map[string]bool{
		"gaussian": true, "exponential": true, "pareto_lognormal": true, "empirical": true, "constant": true,
	}
	validAssignments = map[string]bool{
		"": true, AssignmentFixed: true, AssignmentBinomial: true,
	}
)

// LoadWorkloadSpec reads and parses a YAML workload specification file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadWorkloadSpec(path string) (*WorkloadSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workload spec: %w", err)
	}
	return ParseWorkloadSpec(data)
}

// ParseWorkloadSpec parses a YAML workload specification.
func ParseWorkloadSpec(data []byte) (*WorkloadSpec, error) {
	var spec WorkloadSpec
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parsing workload spec: %w", err)
	}
	return &spec, nil
}

// AssignmentType returns the effective client assignment type.
func (s *WorkloadSpec) AssignmentType() string {
	if s.Assignment == nil || s.Assignment.Type == "" {
		return AssignmentFixed
	}
	return s.Assignment.Type
}

// Validate checks that all fields in the spec are valid.
func (s *WorkloadSpec) Validate() error {
	if err := validateFinitePositive("aggregate_rate", s.AggregateRate); err != nil {
		return err
	}
	if s.Horizon <= 0 && s.NumRequests <= 0 {
		return fmt.Errorf("horizon or num_requests must be positive")
	}
	if s.Horizon < 0 || s.NumRequests < 0 {
		return fmt.Errorf("horizon and num_requests must be non-negative, got %d and %d", s.Horizon, s.NumRequests)
	}
	if len(s.Clients) == 0 {
		return fmt.Errorf("at least one client required")
	}
	seen := make(map[string]bool, len(s.Clients))
	for i := range s.Clients {
		c := &s.Clients[i]
		if err := validateClient(c, i); err != nil {
			return err
		}
		if seen[c.ID] {
			return fmt.Errorf("client[%d]: duplicate id %q", i, c.ID)
		}
		seen[c.ID] = true
	}
	if s.Assignment != nil {
		if err := validateAssignment(s.Assignment, len(s.Clients)); err != nil {
			return err
		}
	}
	return nil
}

func validateAssignment(a *AssignmentSpec, clients int) error {
	if !validAssignments[a.Type] {
		return fmt.Errorf("client_assignment: unknown type %q; valid: fixed, binomial", a.Type)
	}
	if a.Type != AssignmentBinomial {
		return nil
	}
	if clients != 2 {
		return fmt.Errorf("client_assignment: binomial requires exactly 2 clients, got %d", clients)
	}
	if math.IsNaN(a.ActivationRate) || a.ActivationRate < 0 || a.ActivationRate > 1 {
		return fmt.Errorf("client_assignment: activation_rate must be in [0, 1], got %f", a.ActivationRate)
	}
	return validateArrival("client_assignment.arrival", &a.Arrival)
}

func validateClient(c *ClientSpec, idx int) error {
	prefix := fmt.Sprintf("client[%d]", idx)
	if c.ID == "" {
		return fmt.Errorf("%s: id is required", prefix)
	}
	if err := validateFinitePositive(prefix+".rate_fraction", c.RateFraction); err != nil {
		return err
	}
	if err := validateArrival(prefix+".arrival", &c.Arrival); err != nil {
		return err
	}
	if err := validateDistSpec(prefix+".input_distribution", &c.InputDist); err != nil {
		return err
	}
	return validateDistSpec(prefix+".output_distribution", &c.OutputDist)
}

func validateArrival(prefix string, a *ArrivalSpec) error {
	if !validArrivalProcesses[a.Process] {
		return fmt.Errorf("%s: unknown arrival process %q; valid: poisson, gamma, weibull, constant", prefix, a.Process)
	}
	if a.CV == nil {
		return nil
	}
	if err := validateFinitePositive(prefix+".cv", *a.CV); err != nil {
		return err
	}
	if a.Process == "weibull" && (*a.CV < 0.01 || *a.CV > 10.4) {
		return fmt.Errorf("%s: weibull CV must be in [0.01, 10.4], got %f", prefix, *a.CV)
	}
	return nil
}

func validateDistSpec(prefix string, d *DistSpec) error {
	if !validDistTypes[d.Type] {
		return fmt.Errorf("%s: unknown distribution type %q; valid: gaussian, exponential, pareto_lognormal, empirical, constant", prefix, d.Type)
	}
	for name, val := range d.Params {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Errorf("%s.params.%s must be a finite number, got %f", prefix, name, val)
		}
	}
	return nil
}

func validateFinitePositive(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%s must be a finite number, got %f", name, val)
	}
	if val <= 0 {
		return fmt.Errorf("%s must be positive, got %f", name, val)
	}
	return nil
}
