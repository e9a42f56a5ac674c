package workload

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/vtc-sched/sched"
)

// clientSamplers holds the per-client length samplers and RNG.
type clientSamplers struct {
	id     string
	input  LengthSampler
	output LengthSampler
	rng    *rand.Rand
}

// arrival is a generated request before ids are assigned.
type arrival struct {
	at     float64 // fractional tick
	client int
	input  int64
	output int64
}

// GenerateRequests creates a request sequence from a WorkloadSpec.
// Deterministic given the same spec (including its seed).
// Returns waiting requests sorted by ArrivalTick with sequential IDs.
func GenerateRequests(spec *WorkloadSpec) ([]*sched.Request, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workload spec: %w", err)
	}

	prng := sched.NewPartitionedRNG(sched.NewRunKey(spec.Seed))
	workloadRNG := prng.ForSubsystem(sched.SubsystemWorkload)

	samplers := make([]clientSamplers, len(spec.Clients))
	for i := range spec.Clients {
		c := &spec.Clients[i]
		input, err := NewLengthSampler(c.InputDist, 1)
		if err != nil {
			return nil, fmt.Errorf("client %q input distribution: %w", c.ID, err)
		}
		output, err := NewLengthSampler(c.OutputDist, 0)
		if err != nil {
			return nil, fmt.Errorf("client %q output distribution: %w", c.ID, err)
		}
		samplers[i] = clientSamplers{
			id:     c.ID,
			input:  input,
			output: output,
			rng:    rand.New(rand.NewSource(workloadRNG.Int63())),
		}
	}

	horizon := float64(spec.Horizon)
	if spec.Horizon <= 0 {
		horizon = math.Inf(1)
	}
	limit := spec.NumRequests

	var arrivals []arrival
	switch spec.AssignmentType() {
	case AssignmentBinomial:
		assigner, err := NewBinomialAssigner(spec.Assignment.ActivationRate, prng.ForSubsystem(sched.SubsystemAssignment))
		if err != nil {
			return nil, err
		}
		gaps := NewArrivalSampler(spec.Assignment.Arrival, spec.AggregateRate)
		arrivals = stream(gaps, workloadRNG, assigner, samplers, horizon, limit)
	default:
		rates := normalizeRateFractions(spec.Clients, spec.AggregateRate)
		for i := range spec.Clients {
			gaps := NewArrivalSampler(spec.Clients[i].Arrival, rates[i])
			arrivals = append(arrivals, stream(gaps, samplers[i].rng, &FixedAssigner{index: i}, samplers, horizon, limit)...)
		}
	}

	// stable sort keeps client order for ties
	sort.SliceStable(arrivals, func(i, j int) bool { return arrivals[i].at < arrivals[j].at })
	if limit > 0 && int64(len(arrivals)) > limit {
		arrivals = arrivals[:limit]
	}

	requests := make([]*sched.Request, len(arrivals))
	for i, a := range arrivals {
		requests[i] = sched.NewRequest(fmt.Sprintf("request_%d", i), samplers[a.client].id, int64(a.at), a.input, a.output)
	}
	logrus.Debugf("generated %d requests for %d clients (%s assignment)", len(requests), len(spec.Clients), spec.AssignmentType())
	return requests, nil
}

// stream draws arrivals from one gap process until the horizon or limit.
func stream(gaps ArrivalSampler, gapRNG *rand.Rand, assigner ClientAssigner, samplers []clientSamplers, horizon float64, limit int64) []arrival {
	var out []arrival
	t := 0.0
	for limit <= 0 || int64(len(out)) < limit {
		t += gaps.SampleGap(gapRNG)
		if t >= horizon {
			break
		}
		idx := assigner.NextClient()
		s := &samplers[idx]
		out = append(out, arrival{
			at:     t,
			client: idx,
			input:  s.input.Sample(s.rng),
			output: s.output.Sample(s.rng),
		})
	}
	return out
}

// normalizeRateFractions splits aggregateRate across clients in proportion to their rate fractions.
func normalizeRateFractions(clients []ClientSpec, aggregateRate float64) []float64 {
	total := 0.0
	for _, c := range clients {
		total += c.RateFraction
	}
	rates := make([]float64, len(clients))
	for i, c := range clients {
		rates[i] = aggregateRate * c.RateFraction / total
	}
	return rates
}
