package cluster

import (
	"math/rand/v2"
	"sync"

	"golang.org/x/exp/slices"
)

// Selector picks the ordered candidate list for one logical call.
//
// Ranking uses the effective score of a node:
//
//	score = weight × policy.Factor(consecutive failures)
//
// so a failing heavy node sinks below a healthy light one instead of being
// preferred forever. Nodes scoring 0 are never picked by single or
// controlled_querying selection.
//
// Selection itself is pure over the health snapshot it is given. The only
// state a Selector owns is its random source and the round-robin counters,
// both guarded by mu.
type Selector struct {
	rng      *rand.Rand // nil means the goroutine-safe global source
	current  map[string]float64
	strategy SingleStrategy
	policy   HealthPolicy
	mu       sync.Mutex
}

// NewSelector builds a selector. A nil rng uses the global random source;
// pass a seeded one for reproducible draws.
func NewSelector(rng *rand.Rand, strategy SingleStrategy, policy HealthPolicy) *Selector {
	if strategy == "" {
		strategy = StrategyWeightedRandom
	}
	return &Selector{
		rng:      rng,
		current:  make(map[string]float64),
		strategy: strategy,
		policy:   policy,
	}
}

// Score returns the effective score of a node given its health record.
func (s *Selector) Score(n NodeConfig, h NodeHealth) float64 {
	return n.Weight * s.policy.Factor(h.ConsecutiveFails)
}

// Select returns at most maxNodes distinct nodes in the order they should be
// tried. health is a snapshot keyed by NodeConfig.Key; missing entries count
// as zero failures.
func (s *Selector) Select(nodes []NodeConfig, health map[string]NodeHealth, mode NodeQueryMode, maxNodes int) ([]NodeConfig, error) {
	return s.SelectWithLoad(nodes, health, nil, mode, maxNodes)
}

// SelectWithLoad is Select with every effective score further multiplied by
// LoadFactor(load[key]). A nil map, or a node missing from it, leaves the
// score unchanged. Broadcast order ignores load.
func (s *Selector) SelectWithLoad(nodes []NodeConfig, health map[string]NodeHealth, load map[string]float64, mode NodeQueryMode, maxNodes int) ([]NodeConfig, error) {
	if len(nodes) == 0 {
		return nil, configErrorf("no nodes to select from")
	}
	if maxNodes < 1 {
		return nil, configErrorf("max_nodes_to_query must be at least 1, got %d", maxNodes)
	}

	type ranked struct {
		node  NodeConfig
		score float64
	}
	candidates := make([]ranked, 0, len(nodes))
	total := 0.0
	for _, n := range nodes {
		score := s.Score(n, health[n.Key()])
		if cost, ok := load[n.Key()]; ok {
			score *= LoadFactor(cost)
		}
		if score > 0 {
			candidates = append(candidates, ranked{node: n, score: score})
			total += score
		}
	}
	if len(candidates) == 0 {
		return nil, configErrorf("no node has a positive effective score")
	}

	switch mode {
	case ModeBroadcast:
		limit := min(maxNodes, len(nodes))
		return slices.Clone(nodes[:limit]), nil

	case ModeSingle:
		var chosen NodeConfig
		if s.strategy == StrategyRoundRobin {
			keys := make([]string, len(candidates))
			scores := make([]float64, len(candidates))
			for i, c := range candidates {
				keys[i], scores[i] = c.node.Key(), c.score
			}
			chosen = candidates[s.smoothRoundRobin(keys, scores, total)].node
		} else {
			target := s.draw() * total
			chosen = candidates[len(candidates)-1].node
			for _, c := range candidates {
				if target < c.score {
					chosen = c.node
					break
				}
				target -= c.score
			}
		}
		return []NodeConfig{chosen}, nil

	case ModeControlledQuerying:
		// Stable sort keeps configuration order among equal scores.
		slices.SortStableFunc(candidates, func(a, b ranked) int {
			switch {
			case a.score > b.score:
				return -1
			case a.score < b.score:
				return 1
			}
			return 0
		})
		limit := min(maxNodes, len(candidates))
		out := make([]NodeConfig, 0, limit)
		for _, c := range candidates[:limit] {
			out = append(out, c.node)
		}
		return out, nil
	}
	return nil, configErrorf("unknown query mode %q", mode)
}

func (s *Selector) draw() float64 {
	if s.rng == nil {
		return rand.Float64()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// smoothRoundRobin is the nginx-style smooth weighted round robin: every
// candidate gains its score, the largest wins and pays back the total.
// Over total picks each node is chosen in proportion to its score without
// bursts.
func (s *Selector) smoothRoundRobin(keys []string, scores []float64, total float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := -1
	for i, key := range keys {
		s.current[key] += scores[i]
		if best < 0 || s.current[key] > s.current[keys[best]] {
			best = i
		}
	}
	s.current[keys[best]] -= total
	return best
}
