package cluster

import (
	"github.com/dreamware/alloy/pkg/alloy"
)

// Load cost weights. Active requests dominate, a model that cannot run
// requests concurrently makes each one count ten times, and the allocation
// status only separates otherwise idle nodes.
const (
	serialRequestCost = 10.0
	inFlightNodeCost  = 0.1
	unknownStatusCost = 1.5
	deallocatedCost   = 1.0
	queuedCost        = 4.0
)

// LoadCost estimates how busy a node is for one model. model is the node's
// last listed entry for it and known reports whether one exists; inFlight is
// the number of calls this manager currently has outstanding on the node.
// An idle node with the model allocated costs 0.
func LoadCost(model alloy.Model, known bool, inFlight int) float64 {
	if !known {
		return float64(inFlight)*(1+inFlightNodeCost) + unknownStatusCost
	}

	load := float64(model.ActiveRequests + inFlight)
	if !model.SupportsConcurrentRequests {
		load *= serialRequestCost
	}

	var status float64
	switch model.AllocationStatus {
	case alloy.AllocationAllocated:
	case alloy.AllocationDeallocated:
		status = deallocatedCost
	case alloy.AllocationQueue:
		status = queuedCost
	default:
		status = unknownStatusCost
	}
	return load + status + float64(inFlight)*inFlightNodeCost
}

// LoadFactor turns a load cost into a score multiplier in (0, 1].
func LoadFactor(cost float64) float64 {
	if cost <= 0 {
		return 1
	}
	return 1 / (1 + cost)
}

// loadCosts prices every pool node for modelID from the registry and the
// in-flight counts of a health snapshot.
func (m *Manager) loadCosts(pool []NodeConfig, modelID string, health map[string]NodeHealth) map[string]float64 {
	costs := make(map[string]float64, len(pool))
	for _, n := range pool {
		model, known := m.registry.Model(n.Key(), modelID)
		costs[n.Key()] = LoadCost(model, known && model.IsSupported, health[n.Key()].InFlight)
	}
	return costs
}
