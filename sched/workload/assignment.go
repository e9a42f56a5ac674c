package workload

import (
	"fmt"
	"math/rand"
)

// ClientAssigner decides which client an arrival on a shared stream belongs to.
type ClientAssigner interface {
	// NextClient returns an index into WorkloadSpec.Clients.
	NextClient() int
}

// FixedAssigner attributes every arrival to the same client.
type FixedAssigner struct {
	index int
}

func (a *FixedAssigner) NextClient() int {
	return a.index
}

// BinomialAssigner picks client 1 with probability activationRate and client 0 otherwise.
type BinomialAssigner struct {
	activationRate float64
	rng            *rand.Rand
}

// NewBinomialAssigner creates a BinomialAssigner. activationRate must be in [0, 1].
func NewBinomialAssigner(activationRate float64, rng *rand.Rand) (*BinomialAssigner, error) {
	if activationRate < 0 || activationRate > 1 {
		return nil, fmt.Errorf("activation rate must be in [0, 1], got %f", activationRate)
	}
	return &BinomialAssigner{activationRate: activationRate, rng: rng}, nil
}

func (a *BinomialAssigner) NextClient() int {
	if a.rng.Float64() < a.activationRate {
		return 1
	}
	return 0
}
