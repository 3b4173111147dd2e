package cluster

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weighted(weights ...float64) []NodeConfig {
	names := []string{"http://n0", "http://n1", "http://n2", "http://n3", "http://n4"}
	nodes := make([]NodeConfig, len(weights))
	for i, w := range weights {
		nodes[i] = NodeConfig{BaseURL: names[i], Name: names[i], Weight: w}
	}
	return nodes
}

func seeded() *rand.Rand {
	return rand.New(rand.NewPCG(42, 1024))
}

// TestSelectSingleBoundary verifies that a lone positive-weight node is always
// chosen in single mode.
func TestSelectSingleBoundary(t *testing.T) {
	nodes := weighted(1, 0, 0)
	for _, strategy := range []SingleStrategy{StrategyWeightedRandom, StrategyRoundRobin} {
		s := NewSelector(seeded(), strategy, DefaultHealthPolicy())
		for i := 0; i < 1000; i++ {
			got, err := s.Select(nodes, nil, ModeSingle, 3)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "http://n0", got[0].BaseURL, "strategy %s", strategy)
		}
	}
}

// TestSelectSingleWeightedShare draws 10000 times over weights 3:1:1 and
// expects shares near 0.6/0.2/0.2.
func TestSelectSingleWeightedShare(t *testing.T) {
	nodes := weighted(3, 1, 1)
	s := NewSelector(seeded(), StrategyWeightedRandom, DefaultHealthPolicy())

	const draws = 10000
	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		got, err := s.Select(nodes, nil, ModeSingle, 1)
		require.NoError(t, err)
		counts[got[0].BaseURL]++
	}

	assert.InDelta(t, 0.6, float64(counts["http://n0"])/draws, 0.03)
	assert.InDelta(t, 0.2, float64(counts["http://n1"])/draws, 0.03)
	assert.InDelta(t, 0.2, float64(counts["http://n2"])/draws, 0.03)
}

// TestSelectSingleRoundRobin checks the smooth interleaving for 3:1:1.
func TestSelectSingleRoundRobin(t *testing.T) {
	nodes := weighted(3, 1, 1)
	s := NewSelector(nil, StrategyRoundRobin, DefaultHealthPolicy())

	var got []string
	for i := 0; i < 10; i++ {
		sel, err := s.Select(nodes, nil, ModeSingle, 1)
		require.NoError(t, err)
		got = append(got, sel[0].BaseURL)
	}

	cycle := []string{"http://n0", "http://n1", "http://n0", "http://n2", "http://n0"}
	assert.Equal(t, append(cycle, cycle...), got)
}

// TestSelectControlledRanking verifies that three consecutive failures rank a
// node strictly below an equal-weight healthy node.
func TestSelectControlledRanking(t *testing.T) {
	nodes := weighted(1, 1)
	health := map[string]NodeHealth{
		"http://n0": {ConsecutiveFails: 3},
		"http://n1": {},
	}
	s := NewSelector(nil, StrategyWeightedRandom, DefaultHealthPolicy())

	got, err := s.Select(nodes, health, ModeControlledQuerying, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "http://n1", got[0].BaseURL)
	assert.Equal(t, "http://n0", got[1].BaseURL)
	assert.Less(t, s.Score(nodes[0], health["http://n0"]), s.Score(nodes[1], health["http://n1"]))
}

// TestSelectControlledOrdering covers weight ordering, ties and the cap.
func TestSelectControlledOrdering(t *testing.T) {
	s := NewSelector(nil, StrategyWeightedRandom, DefaultHealthPolicy())

	tests := []struct {
		name     string
		nodes    []NodeConfig
		health   map[string]NodeHealth
		maxNodes int
		want     []string
	}{
		{
			name:     "descending weight",
			nodes:    weighted(1, 5, 3),
			maxNodes: 3,
			want:     []string{"http://n1", "http://n2", "http://n0"},
		},
		{
			name:     "ties keep configuration order",
			nodes:    weighted(2, 2, 2),
			maxNodes: 3,
			want:     []string{"http://n0", "http://n1", "http://n2"},
		},
		{
			name:     "capped by max nodes",
			nodes:    weighted(1, 5, 3),
			maxNodes: 2,
			want:     []string{"http://n1", "http://n2"},
		},
		{
			name:     "zero weight excluded",
			nodes:    weighted(0, 1, 2),
			maxNodes: 3,
			want:     []string{"http://n2", "http://n1"},
		},
		{
			name:     "failing heavy node sinks",
			nodes:    weighted(4, 1),
			health:   map[string]NodeHealth{"http://n0": {ConsecutiveFails: 3}},
			maxNodes: 2,
			want:     []string{"http://n1", "http://n0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Select(tt.nodes, tt.health, ModeControlledQuerying, tt.maxNodes)
			require.NoError(t, err)
			var urls []string
			for _, n := range got {
				urls = append(urls, n.BaseURL)
			}
			assert.Equal(t, tt.want, urls)
		})
	}
}

// TestSelectBroadcast returns nodes in configuration order, zero weights
// included.
func TestSelectBroadcast(t *testing.T) {
	nodes := weighted(0, 3, 1)
	s := NewSelector(nil, StrategyWeightedRandom, DefaultHealthPolicy())

	got, err := s.Select(nodes, nil, ModeBroadcast, len(nodes))
	require.NoError(t, err)
	assert.Equal(t, nodes, got)

	got[0].Name = "mutated"
	assert.Equal(t, "http://n0", nodes[0].Name)
}

// TestSelectErrors covers every input that must fail with a
// *ConfigurationError.
func TestSelectErrors(t *testing.T) {
	zeroFloor := HealthPolicy{Decay: 0.5, Floor: 0, UnhealthyAfter: 2}
	tests := []struct {
		name     string
		policy   HealthPolicy
		nodes    []NodeConfig
		health   map[string]NodeHealth
		mode     NodeQueryMode
		maxNodes int
	}{
		{"no nodes", DefaultHealthPolicy(), nil, nil, ModeSingle, 1},
		{"zero max", DefaultHealthPolicy(), weighted(1), nil, ModeSingle, 0},
		{"all zero weight", DefaultHealthPolicy(), weighted(0, 0), nil, ModeControlledQuerying, 2},
		{
			"all unhealthy with zero floor", zeroFloor, weighted(1, 1),
			map[string]NodeHealth{"http://n0": {ConsecutiveFails: 2}, "http://n1": {ConsecutiveFails: 5}},
			ModeSingle, 1,
		},
		{"unknown mode", DefaultHealthPolicy(), weighted(1), nil, NodeQueryMode("random"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSelector(nil, StrategyWeightedRandom, tt.policy)
			_, err := s.Select(tt.nodes, tt.health, tt.mode, tt.maxNodes)
			var cfgErr *ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestParseQueryMode(t *testing.T) {
	for in, want := range map[string]NodeQueryMode{
		"":                     ModeControlledQuerying,
		"single":               ModeSingle,
		"BROADCAST":            ModeBroadcast,
		" controlled_querying": ModeControlledQuerying,
	} {
		got, err := ParseQueryMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseQueryMode("fastest")
	assert.Error(t, err)
}
