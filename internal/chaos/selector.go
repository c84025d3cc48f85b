package chaos

import (
	"math/rand"
	"sync"
	"time"
)

// Selector picks the next spec to attempt. ok is false when nothing is eligible.
type Selector interface {
	Select(r *Registry) (spec FaultSpec, ok bool)
}

// WeightedRandomSelector picks a spec with probability proportional to its weight.
type WeightedRandomSelector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewWeightedRandomSelector(seed int64) *WeightedRandomSelector {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &WeightedRandomSelector{rng: rand.New(rand.NewSource(seed))}
}

func (s *WeightedRandomSelector) Select(r *Registry) (FaultSpec, bool) {
	specs := r.List()
	if len(specs) == 0 {
		return FaultSpec{}, false
	}

	var total float64
	for _, spec := range specs {
		total += spec.Weight
	}

	s.mu.Lock()
	roll := s.rng.Float64() * total
	s.mu.Unlock()

	for _, spec := range specs {
		roll -= spec.Weight
		if roll < 0 {
			return spec, true
		}
	}
	return specs[len(specs)-1], true
}

// RoundRobinSelector walks the catalogue in registration order. The cursor
// tracks names so that filtered views still advance fairly.
type RoundRobinSelector struct {
	mu   sync.Mutex
	last string
}

func NewRoundRobinSelector() *RoundRobinSelector {
	return &RoundRobinSelector{}
}

func (s *RoundRobinSelector) Select(r *Registry) (FaultSpec, bool) {
	specs := r.List()
	if len(specs) == 0 {
		return FaultSpec{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := 0
	for i, spec := range specs {
		if spec.Name == s.last {
			next = (i + 1) % len(specs)
			break
		}
	}
	s.last = specs[next].Name
	return specs[next], true
}

// NewSelector maps a configured strategy name to a Selector.
func NewSelector(strategy string, seed int64) Selector {
	if strategy == "round_robin" {
		return NewRoundRobinSelector()
	}
	return NewWeightedRandomSelector(seed)
}
