package cluster

import (
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/alloy/pkg/alloy"
)

// nodeIndex is what one node reported in its last successful /models call.
type nodeIndex struct {
	refreshedAt time.Time
	lastError   string
	models      map[string]alloy.Model
	indexed     bool
}

// ModelRegistry remembers which models every node serves. Until a node has
// answered /models at least once it is treated as able to serve anything.
// Safe for concurrent use; all returned data is copied.
type ModelRegistry struct {
	nodes map[string]*nodeIndex
	mu    sync.RWMutex
}

// NewModelRegistry creates an empty index slot per node.
func NewModelRegistry(nodes []NodeConfig) *ModelRegistry {
	r := &ModelRegistry{nodes: make(map[string]*nodeIndex, len(nodes))}
	for _, n := range nodes {
		r.nodes[n.Key()] = &nodeIndex{}
	}
	return r
}

// Update replaces a node's index with a fresh /models response.
func (r *ModelRegistry) Update(key string, resp *alloy.ModelsResponse, at time.Time) {
	models := indexModels(resp)

	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.nodes[key]
	if !ok {
		return
	}
	idx.models = models
	idx.refreshedAt = at
	idx.lastError = ""
	idx.indexed = true
}

// MarkError keeps the previous index but records why the refresh failed.
func (r *ModelRegistry) MarkError(key string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.nodes[key]; ok && err != nil {
		idx.lastError = err.Error()
	}
}

// Serves reports whether a node may serve modelID: true when the node has
// never been indexed, otherwise true only if its index lists the model as
// supported.
func (r *ModelRegistry) Serves(key, modelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.nodes[key]
	if !ok {
		return false
	}
	if !idx.indexed || modelID == "" {
		return true
	}
	m, ok := idx.models[modelID]
	return ok && m.IsSupported
}

// Model returns a node's last known entry for modelID.
func (r *ModelRegistry) Model(key, modelID string) (alloy.Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.nodes[key]
	if !ok || !idx.indexed {
		return alloy.Model{}, false
	}
	m, ok := idx.models[modelID]
	return m, ok
}

// RefreshedAt returns when a node's index was last replaced, and the error of
// the latest failed refresh if any.
func (r *ModelRegistry) RefreshedAt(key string) (time.Time, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.nodes[key]
	if !ok {
		return time.Time{}, ""
	}
	return idx.refreshedAt, idx.lastError
}

// SupportedCount returns how many supported models a node reported.
func (r *ModelRegistry) SupportedCount(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.nodes[key]
	if !ok {
		return 0
	}
	count := 0
	for _, m := range idx.models {
		if m.IsSupported {
			count++
		}
	}
	return count
}

// indexModels flattens a grouped listing into model id → model. The first
// listing of an id wins; a later listing only fills in missing capabilities.
func indexModels(resp *alloy.ModelsResponse) map[string]alloy.Model {
	models := make(map[string]alloy.Model)
	if resp == nil {
		return models
	}
	for _, modality := range alloy.Modalities {
		for _, m := range resp.Category(modality) {
			existing, ok := models[m.ModelID]
			if !ok {
				existing = cloneModel(m)
			} else if len(existing.Capabilities) == 0 && len(m.Capabilities) > 0 {
				existing.Capabilities = slices.Clone(m.Capabilities)
			}
			models[m.ModelID] = existing
		}
	}
	return models
}

func cloneModel(m alloy.Model) alloy.Model {
	m.Capabilities = slices.Clone(m.Capabilities)
	return m
}
