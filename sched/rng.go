package sched

import (
	"hash/fnv"
	"math/rand"
)

// RunKey identifies a reproducible run. Two runs with the same RunKey and
// identical configuration and workload produce identical schedules.
type RunKey int64

// NewRunKey creates a RunKey from a seed value.
func NewRunKey(seed int64) RunKey {
	return RunKey(seed)
}

const (
	// SubsystemWorkload draws request lengths and arrival gaps.
	// Uses the master seed directly so --seed maps to a known workload.
	SubsystemWorkload = "workload"

	// SubsystemAssignment draws which clients are active in an assignment round.
	SubsystemAssignment = "assignment"
)

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation:
//   - SubsystemWorkload: the master seed
//   - any other subsystem: master seed XOR fnv1a64(name)
//
// Thread-safety: NOT thread-safe.
type PartitionedRNG struct {
	key        RunKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a RunKey.
func NewPartitionedRNG(key RunKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns the RNG for the named subsystem, creating it on first use.
// Repeated calls with the same name return the same instance.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	seed := int64(p.key)
	if name != SubsystemWorkload {
		seed ^= fnv1a64(name)
	}
	rng := rand.New(rand.NewSource(seed))
	p.subsystems[name] = rng
	return rng
}

// Key returns the RunKey this PartitionedRNG was created from.
func (p *PartitionedRNG) Key() RunKey {
	return p.key
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
