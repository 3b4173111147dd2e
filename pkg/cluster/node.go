package cluster

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// NodeConfig describes one Alloy server. It is immutable once handed to a
// Manager; runtime health lives in HealthState, never here.
type NodeConfig struct {
	BaseURL string   `json:"base_url" yaml:"base_url" toml:"base_url"`
	Name    string   `json:"name,omitempty" yaml:"name,omitempty" toml:"name"`
	Weight  float64  `json:"weight" yaml:"weight" toml:"weight"`
	Tags    []string `json:"tags,omitempty" yaml:"tags,omitempty" toml:"tags"`
}

// NodeFromURL returns a node with weight 1 and the URL as its name.
func NodeFromURL(baseURL string) NodeConfig {
	return NodeConfig{BaseURL: baseURL, Weight: 1}
}

// Key is the identity used for health and registry bookkeeping.
func (n NodeConfig) Key() string {
	return strings.TrimRight(n.BaseURL, "/")
}

// Label returns Name, or the base URL when no name was configured.
func (n NodeConfig) Label() string {
	if n.Name != "" {
		return n.Name
	}
	return n.Key()
}

// Accepts reports whether the node's static tags allow a call. Tags naming an
// operation restrict which operations the node receives; any other tag is a
// model id and restricts which models it is asked for. Untagged nodes accept
// everything.
func (n NodeConfig) Accepts(op Operation, modelID string) bool {
	var ops, models []string
	for _, tag := range n.Tags {
		if isOperation(tag) {
			ops = append(ops, tag)
		} else {
			models = append(models, tag)
		}
	}
	if len(ops) > 0 && !slices.Contains(ops, string(op)) {
		return false
	}
	return len(models) == 0 || modelID == "" || slices.Contains(models, modelID)
}

func (n NodeConfig) String() string {
	if n.Name != "" && n.Name != n.Key() {
		return fmt.Sprintf("%s (%s)", n.Name, n.Key())
	}
	return n.Key()
}

// Operation names one logical call on the manager.
type Operation string

const (
	OpImage  Operation = "image"
	OpChat   Operation = "chat"
	OpAudio  Operation = "audio"
	OpModels Operation = "models"
)

func isOperation(s string) bool {
	switch Operation(s) {
	case OpImage, OpChat, OpAudio, OpModels:
		return true
	}
	return false
}

// NodeQueryMode is the strategy the selector uses to pick candidates.
type NodeQueryMode string

const (
	// ModeSingle always queries exactly one node.
	ModeSingle NodeQueryMode = "single"
	// ModeControlledQuerying tries up to max_nodes_to_query nodes ranked by
	// effective score, stopping at the first success.
	ModeControlledQuerying NodeQueryMode = "controlled_querying"
	// ModeBroadcast targets every node in configuration order.
	ModeBroadcast NodeQueryMode = "broadcast"
)

// ParseQueryMode accepts the mode names used in config files and flags.
func ParseQueryMode(s string) (NodeQueryMode, error) {
	switch mode := NodeQueryMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case ModeSingle, ModeControlledQuerying, ModeBroadcast:
		return mode, nil
	case "":
		return ModeControlledQuerying, nil
	}
	return "", configErrorf("unknown query mode %q", s)
}

// SingleStrategy picks how ModeSingle chooses its one node.
type SingleStrategy string

const (
	// StrategyWeightedRandom samples proportionally to effective score.
	StrategyWeightedRandom SingleStrategy = "weighted"
	// StrategyRoundRobin cycles through nodes with smooth weighted round robin.
	StrategyRoundRobin SingleStrategy = "round_robin"
)

// ParseSingleStrategy accepts "weighted" (default) or "round_robin".
func ParseSingleStrategy(s string) (SingleStrategy, error) {
	switch st := SingleStrategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyWeightedRandom, StrategyRoundRobin:
		return st, nil
	case "":
		return StrategyWeightedRandom, nil
	}
	return "", configErrorf("unknown single-node strategy %q", s)
}

// validateNodes enforces the construction invariants: at least one node,
// non-empty unique base URLs, non-negative weights, one positive weight.
func validateNodes(nodes []NodeConfig) ([]NodeConfig, error) {
	if len(nodes) == 0 {
		return nil, configErrorf("at least one node is required")
	}

	out := make([]NodeConfig, 0, len(nodes))
	seen := make(map[string]int, len(nodes))
	positive := false
	for i, n := range nodes {
		key := n.Key()
		if key == "" {
			return nil, configErrorf("node %d: base_url is empty", i)
		}
		if prev, dup := seen[key]; dup {
			return nil, configErrorf("node %d: base_url %s duplicates node %d", i, key, prev)
		}
		if n.Weight < 0 {
			return nil, configErrorf("node %s: weight %v is negative", key, n.Weight)
		}
		seen[key] = i
		positive = positive || n.Weight > 0

		n.BaseURL = key
		if n.Name == "" {
			n.Name = key
		}
		n.Tags = slices.Clone(n.Tags)
		out = append(out, n)
	}
	if !positive {
		return nil, configErrorf("at least one node must have a positive weight")
	}
	return out, nil
}
