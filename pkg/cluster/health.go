// Package cluster provides multi-node dispatch for Alloy clients.
// This file implements the per-manager runtime health state of every node.
package cluster

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// Node health status values.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthPolicy turns consecutive failures into a score multiplier.
//
// The factor is 1 for a node with no recent failures and Decay^fails after
// that, never below Floor. With Floor <= 0 a node that reached UnhealthyAfter
// failures scores 0 and drops out of weighted selection entirely.
type HealthPolicy struct {
	Decay          float64 // multiplier per consecutive failure, in (0, 1)
	Floor          float64 // smallest factor a failing node can reach
	UnhealthyAfter int     // consecutive failures before status becomes unhealthy
}

// DefaultHealthPolicy halves the score per failure, floors it at 0.05 and
// flags a node unhealthy after 3 consecutive failures.
func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{Decay: 0.5, Floor: 0.05, UnhealthyAfter: 3}
}

func (p HealthPolicy) validate() error {
	if p.Decay <= 0 || p.Decay >= 1 {
		return configErrorf("health decay %v must be in (0, 1)", p.Decay)
	}
	if p.Floor < 0 || p.Floor > 1 {
		return configErrorf("health floor %v must be in [0, 1]", p.Floor)
	}
	if p.UnhealthyAfter < 1 {
		return configErrorf("unhealthy_after %d must be at least 1", p.UnhealthyAfter)
	}
	return nil
}

// Factor returns the health multiplier for a node with the given number of
// consecutive failures.
func (p HealthPolicy) Factor(consecutiveFails int) float64 {
	if consecutiveFails <= 0 {
		return 1
	}
	if p.Floor <= 0 && consecutiveFails >= p.UnhealthyAfter {
		return 0
	}
	return math.Max(math.Pow(p.Decay, float64(consecutiveFails)), p.Floor)
}

// NodeHealth is the transient health record of one node.
type NodeHealth struct {
	LastSuccess      time.Time // zero until the first successful call
	LastFailure      time.Time // zero until the first failed call
	Key              string    // node base URL
	Name             string    // node label
	Status           string    // unknown, healthy, degraded or unhealthy
	LastError        string    // text of the most recent failure
	ConsecutiveFails int
	Successes        int64
	Failures         int64
	InFlight         int // calls currently dispatched to the node
}

// HealthState tracks every configured node of one manager. It holds exactly
// one record per node from construction on; records are never added or
// removed afterwards. Safe for concurrent use.
type HealthState struct {
	nodes       map[string]*NodeHealth
	policy      HealthPolicy
	logger      *slog.Logger
	now         func() time.Time
	onUnhealthy func(key string)
	mu          sync.RWMutex
}

// NewHealthState creates a record in status unknown for each node.
func NewHealthState(nodes []NodeConfig, policy HealthPolicy, logger *slog.Logger) *HealthState {
	if logger == nil {
		logger = slog.Default()
	}
	h := &HealthState{
		nodes:  make(map[string]*NodeHealth, len(nodes)),
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
	for _, n := range nodes {
		h.nodes[n.Key()] = &NodeHealth{Key: n.Key(), Name: n.Label(), Status: StatusUnknown}
	}
	return h
}

// SetOnUnhealthy registers a callback fired, in its own goroutine, when a node
// transitions into the unhealthy status.
func (h *HealthState) SetOnUnhealthy(callback func(key string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onUnhealthy = callback
}

// Begin marks a call as in flight on the node.
func (h *HealthState) Begin(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n, ok := h.nodes[key]; ok {
		n.InFlight++
	}
}

// Abort releases an in-flight call without judging the node, used when the
// caller gave up rather than the node failing.
func (h *HealthState) Abort(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n, ok := h.nodes[key]; ok && n.InFlight > 0 {
		n.InFlight--
	}
}

// RecordSuccess resets the failure streak of a node and releases its
// in-flight slot if one was taken with Begin.
func (h *HealthState) RecordSuccess(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, ok := h.nodes[key]
	if !ok {
		return
	}
	if n.InFlight > 0 {
		n.InFlight--
	}
	if n.Status == StatusUnhealthy {
		h.logger.Info("node recovered", "node", n.Name, "after_failures", n.ConsecutiveFails)
	}
	n.Status = StatusHealthy
	n.ConsecutiveFails = 0
	n.Successes++
	n.LastSuccess = h.now()
}

// RecordFailure extends the failure streak of a node and releases its
// in-flight slot if one was taken with Begin.
func (h *HealthState) RecordFailure(key string, cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, ok := h.nodes[key]
	if !ok {
		return
	}
	if n.InFlight > 0 {
		n.InFlight--
	}
	n.ConsecutiveFails++
	n.Failures++
	n.LastFailure = h.now()
	if cause != nil {
		n.LastError = cause.Error()
	}

	if n.ConsecutiveFails < h.policy.UnhealthyAfter {
		n.Status = StatusDegraded
		return
	}
	previous := n.Status
	n.Status = StatusUnhealthy
	if previous != StatusUnhealthy {
		h.logger.Warn("node marked unhealthy",
			"node", n.Name, "consecutive_failures", n.ConsecutiveFails, "error", n.LastError)
		if h.onUnhealthy != nil {
			go h.onUnhealthy(key)
		}
	}
}

// Get returns a copy of one node's record, or nil for an unknown key.
func (h *HealthState) Get(key string) *NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n, ok := h.nodes[key]
	if !ok {
		return nil
	}
	c := *n
	return &c
}

// Snapshot returns copies of every record keyed by node base URL.
func (h *HealthState) Snapshot() map[string]NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]NodeHealth, len(h.nodes))
	for key, n := range h.nodes {
		out[key] = *n
	}
	return out
}

// IsHealthy reports whether the node's last recorded call succeeded.
func (h *HealthState) IsHealthy(key string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n, ok := h.nodes[key]
	return ok && n.Status == StatusHealthy
}

// Policy returns the decay policy the state was built with.
func (h *HealthState) Policy() HealthPolicy {
	return h.policy
}
