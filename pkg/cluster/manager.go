package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/alloy/pkg/alloy"
)

// Defaults applied by New.
const (
	DefaultMaxNodesToQuery = 2
	DefaultMaxParallel     = 16
	DefaultCallTimeout     = alloy.DefaultTimeout
)

// ClientFactory builds the single-node client for one configured node.
type ClientFactory func(node NodeConfig, timeout time.Duration) alloy.Client

// DefaultClientFactory talks to the node over HTTP.
func DefaultClientFactory(node NodeConfig, timeout time.Duration) alloy.Client {
	return alloy.NewHTTPClient(node.BaseURL, timeout)
}

type options struct {
	rng         *rand.Rand
	logger      *slog.Logger
	factory     ClientFactory
	mode        NodeQueryMode
	strategy    SingleStrategy
	merge       MergePolicy
	health      HealthPolicy
	callTimeout time.Duration
	maxNodes    int
	maxParallel int
	loadAware   bool
	refresh     bool
}

// Option configures a Manager.
type Option func(*options)

// WithMode sets the query mode. The default is controlled_querying.
func WithMode(mode NodeQueryMode) Option {
	return func(o *options) { o.mode = mode }
}

// WithMaxNodesToQuery caps how many candidates one short-circuit call tries.
func WithMaxNodesToQuery(n int) Option {
	return func(o *options) { o.maxNodes = n }
}

// WithCallTimeout bounds every individual node call.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// WithClientFactory replaces the HTTP client used for every node.
func WithClientFactory(f ClientFactory) Option {
	return func(o *options) { o.factory = f }
}

// WithRand makes weighted selection draw from rng.
func WithRand(rng *rand.Rand) Option {
	return func(o *options) { o.rng = rng }
}

// WithSingleStrategy picks how single mode chooses its node.
func WithSingleStrategy(s SingleStrategy) Option {
	return func(o *options) { o.strategy = s }
}

// WithHealthPolicy replaces the failure decay policy.
func WithHealthPolicy(p HealthPolicy) Option {
	return func(o *options) { o.health = p }
}

// WithMergePolicy sets how duplicate models are merged.
func WithMergePolicy(p MergePolicy) Option {
	return func(o *options) { o.merge = p }
}

// WithMaxParallel bounds the concurrent /models calls of one fan-out.
func WithMaxParallel(n int) Option {
	return func(o *options) { o.maxParallel = n }
}

// WithLoadAware ranks nodes by load as well as weight and health: for calls
// naming a model, each effective score is multiplied by LoadFactor of the
// node's LoadCost, built from the model registry and the in-flight count.
func WithLoadAware() Option {
	return func(o *options) { o.loadAware = true }
}

// WithRefreshBeforeDispatch re-reads /models from every eligible node before
// each image, chat or audio call, so selection sees current load. The refresh
// updates the model registry only; node health is recorded by the call itself.
func WithRefreshBeforeDispatch() Option {
	return func(o *options) { o.refresh = true }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Manager dispatches Alloy calls across a fixed set of nodes. It implements
// alloy.Client, so it can stand in wherever a single-node client is used.
//
// Thread-safe: all methods may be called concurrently. Each Manager owns its
// own health state; two managers over the same nodes never share it.
type Manager struct {
	clients     map[string]alloy.Client
	health      *HealthState
	registry    *ModelRegistry
	selector    *Selector
	logger      *slog.Logger
	mode        NodeQueryMode
	merge       MergePolicy
	nodes       []NodeConfig
	callTimeout time.Duration
	maxNodes    int
	maxParallel int
	loadAware   bool
	refresh     bool

	refresher refresher
}

var _ alloy.Client = (*Manager)(nil)

// New validates the configuration and builds a manager. It never touches the
// network; every invalid setting is reported as a *ConfigurationError.
//
// Parameters:
//   - nodes: Ordered node list; order breaks score ties and drives broadcast
//   - opts: Optional settings, see the With* functions
//
// Example:
//
//	m, err := cluster.New([]cluster.NodeConfig{
//	    {BaseURL: "http://gpu-a:8000", Weight: 3},
//	    {BaseURL: "http://gpu-b:8000", Weight: 1},
//	}, cluster.WithMode(cluster.ModeControlledQuerying))
func New(nodes []NodeConfig, opts ...Option) (*Manager, error) {
	o := options{
		mode:        ModeControlledQuerying,
		strategy:    StrategyWeightedRandom,
		merge:       MergeFirstSeen,
		health:      DefaultHealthPolicy(),
		callTimeout: DefaultCallTimeout,
		maxNodes:    DefaultMaxNodesToQuery,
		maxParallel: DefaultMaxParallel,
		factory:     DefaultClientFactory,
	}
	for _, opt := range opts {
		opt(&o)
	}

	validated, err := validateNodes(nodes)
	if err != nil {
		return nil, err
	}
	mode, err := ParseQueryMode(string(o.mode))
	if err != nil {
		return nil, err
	}
	strategy, err := ParseSingleStrategy(string(o.strategy))
	if err != nil {
		return nil, err
	}
	merge, err := ParseMergePolicy(string(o.merge))
	if err != nil {
		return nil, err
	}
	if err := o.health.validate(); err != nil {
		return nil, err
	}
	if o.maxNodes < 1 {
		return nil, configErrorf("max_nodes_to_query must be at least 1, got %d", o.maxNodes)
	}
	if o.maxParallel < 1 {
		return nil, configErrorf("max_parallel must be at least 1, got %d", o.maxParallel)
	}
	if o.callTimeout <= 0 {
		return nil, configErrorf("call timeout must be positive, got %v", o.callTimeout)
	}
	if o.factory == nil {
		return nil, configErrorf("client factory is nil")
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	m := &Manager{
		nodes:       validated,
		clients:     make(map[string]alloy.Client, len(validated)),
		health:      NewHealthState(validated, o.health, o.logger),
		registry:    NewModelRegistry(validated),
		selector:    NewSelector(o.rng, strategy, o.health),
		logger:      o.logger,
		mode:        mode,
		merge:       merge,
		callTimeout: o.callTimeout,
		maxNodes:    o.maxNodes,
		maxParallel: o.maxParallel,
		loadAware:   o.loadAware,
		refresh:     o.refresh,
	}
	for _, n := range validated {
		m.clients[n.Key()] = o.factory(n, o.callTimeout)
	}
	return m, nil
}

// Image generates images on the first candidate that succeeds.
func (m *Manager) Image(ctx context.Context, req *alloy.ImageRequest) (*alloy.ImageResponse, error) {
	return dispatch(ctx, m, OpImage, req.ModelID, req.Timeout, func(ctx context.Context, c alloy.Client) (*alloy.ImageResponse, error) {
		return c.Image(ctx, req)
	})
}

// Chat runs a chat completion on the first candidate that succeeds.
func (m *Manager) Chat(ctx context.Context, req *alloy.ChatRequest) (*alloy.ChatResponse, error) {
	return dispatch(ctx, m, OpChat, req.Model, 0, func(ctx context.Context, c alloy.Client) (*alloy.ChatResponse, error) {
		return c.Chat(ctx, req)
	})
}

// Audio synthesises speech on the first candidate that succeeds.
func (m *Manager) Audio(ctx context.Context, req *alloy.AudioRequest) (*alloy.AudioResponse, error) {
	return dispatch(ctx, m, OpAudio, req.ModelID, req.Timeout, func(ctx context.Context, c alloy.Client) (*alloy.AudioResponse, error) {
		return c.Audio(ctx, req)
	})
}

// Models queries every eligible node concurrently and merges the listings in
// candidate order. Failed nodes are left out; only when every node fails is
// an *AllNodesFailedError returned.
func (m *Manager) Models(ctx context.Context) (*alloy.ModelsResponse, error) {
	log := m.logger.With("request_id", uuid.NewString(), "op", OpModels)

	pool, err := m.pool(OpModels, "")
	if err != nil {
		return nil, err
	}
	candidates, err := m.selector.Select(pool, m.health.Snapshot(), ModeBroadcast, len(pool))
	if err != nil {
		return nil, err
	}

	responses, failures := m.fanOut(ctx, candidates, true, log)
	successes := make([]*alloy.ModelsResponse, 0, len(responses))
	for _, resp := range responses {
		if resp != nil {
			successes = append(successes, resp)
		}
	}
	if len(successes) == 0 {
		return nil, &AllNodesFailedError{Op: OpModels, Failures: failures, Err: ctx.Err()}
	}
	if len(failures) > 0 {
		log.Warn("partial model listing", "succeeded", len(successes), "failed", len(failures))
	}
	return mergeModels(successes, m.merge), nil
}

// Refresh re-reads /models from the named nodes, or from every node when no
// name is given, updating the model registry and health state. Names match
// either NodeConfig.Name or the base URL; a node named twice is refreshed
// once. It returns an *AllNodesFailedError
// only when every refreshed node failed.
func (m *Manager) Refresh(ctx context.Context, names ...string) error {
	targets := m.nodes
	if len(names) > 0 {
		targets = make([]NodeConfig, 0, len(names))
		seen := make(map[string]bool, len(names))
		for _, name := range names {
			n, ok := m.lookup(name)
			if !ok {
				return configErrorf("unknown node %q", name)
			}
			if seen[n.Key()] {
				continue
			}
			seen[n.Key()] = true
			targets = append(targets, n)
		}
	}

	log := m.logger.With("request_id", uuid.NewString(), "op", "refresh")
	responses, failures := m.fanOut(ctx, targets, true, log)
	for _, resp := range responses {
		if resp != nil {
			return nil
		}
	}
	return &AllNodesFailedError{Op: OpModels, Failures: failures, Err: ctx.Err()}
}

// NodeStatus is a point-in-time view of one node for diagnostics.
type NodeStatus struct {
	RefreshedAt  time.Time
	RefreshError string
	Node         NodeConfig
	Health       NodeHealth
	Score        float64 // weight × health factor
	Models       int     // supported models in the last index
}

// Health returns the status of every node in configuration order.
func (m *Manager) Health() []NodeStatus {
	snapshot := m.health.Snapshot()
	out := make([]NodeStatus, 0, len(m.nodes))
	for _, n := range m.nodes {
		h := snapshot[n.Key()]
		refreshed, refreshErr := m.registry.RefreshedAt(n.Key())
		out = append(out, NodeStatus{
			Node:         n,
			Health:       h,
			Score:        m.selector.Score(n, h),
			Models:       m.registry.SupportedCount(n.Key()),
			RefreshedAt:  refreshed,
			RefreshError: refreshErr,
		})
	}
	return out
}

// Nodes returns a copy of the validated node list.
func (m *Manager) Nodes() []NodeConfig {
	out := make([]NodeConfig, len(m.nodes))
	copy(out, m.nodes)
	return out
}

// Mode returns the configured query mode.
func (m *Manager) Mode() NodeQueryMode {
	return m.mode
}

// HealthState exposes the runtime health records, mainly for callbacks such
// as SetOnUnhealthy.
func (m *Manager) HealthState() *HealthState {
	return m.health
}

// dispatch runs one short-circuit call: candidates are tried strictly in
// selection order, one at a time, and the first success is returned.
//
// Implementation:
//  1. Narrow the node set by tags and the model registry, refreshing the
//     registry first when configured to
//  2. Select ordered candidates from a health snapshot, priced by load when
//     load-aware
//  3. Call each candidate under its own timeout, recording the outcome
//  4. Stop early, without penalising the node, if the caller's context ends
//
// A non-zero timeout replaces the manager's call timeout for every attempt.
func dispatch[T any](ctx context.Context, m *Manager, op Operation, modelID string, timeout time.Duration, call func(context.Context, alloy.Client) (T, error)) (T, error) {
	var zero T
	log := m.logger.With("request_id", uuid.NewString(), "op", op, "model", modelID)

	pool, err := m.pool(op, modelID)
	if err != nil {
		return zero, err
	}
	if m.refresh {
		m.fanOut(ctx, pool, false, log)
		if pool, err = m.pool(op, modelID); err != nil {
			return zero, err
		}
	}

	limit := m.maxNodes
	if m.mode == ModeBroadcast {
		limit = len(pool)
	}
	snapshot := m.health.Snapshot()
	var load map[string]float64
	if m.loadAware {
		load = m.loadCosts(pool, modelID, snapshot)
	}
	candidates, err := m.selector.SelectWithLoad(pool, snapshot, load, m.mode, limit)
	if err != nil {
		return zero, err
	}

	if timeout <= 0 {
		timeout = m.callTimeout
	}

	failures := make([]NodeFailure, 0, len(candidates))
	for i, node := range candidates {
		if err := ctx.Err(); err != nil {
			return zero, &AllNodesFailedError{Op: op, Failures: failures, Err: err}
		}

		key := node.Key()
		log.Debug("dispatching", "node", node.Label(), "attempt", i+1, "of", len(candidates))
		m.health.Begin(key)
		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		out, err := call(callCtx, m.clients[key])
		cancel()

		if err == nil {
			m.health.RecordSuccess(key)
			log.Debug("node succeeded", "node", node.Label(), "duration", time.Since(start))
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			m.health.Abort(key)
			failures = append(failures, NodeFailure{Node: node, Err: fmt.Errorf("%w: %w", ctxErr, err)})
			return zero, &AllNodesFailedError{Op: op, Failures: failures, Err: ctxErr}
		}

		m.health.RecordFailure(key, err)
		log.Warn("node call failed", "node", node.Label(), "duration", time.Since(start), "error", err)
		failures = append(failures, NodeFailure{Node: node, Err: err})
	}
	return zero, &AllNodesFailedError{Op: op, Failures: failures}
}

// fanOut calls /models on every target concurrently. The returned responses
// are indexed like targets (nil for a failure); failures keep target order.
// With track unset only the model registry is updated, not node health.
func (m *Manager) fanOut(ctx context.Context, targets []NodeConfig, track bool, log *slog.Logger) ([]*alloy.ModelsResponse, []NodeFailure) {
	responses := make([]*alloy.ModelsResponse, len(targets))
	errs := make([]error, len(targets))

	var g errgroup.Group
	g.SetLimit(m.maxParallel)
	for i, node := range targets {
		g.Go(func() error {
			responses[i], errs[i] = m.fetchModels(ctx, node, track, log)
			return nil
		})
	}
	_ = g.Wait()

	var failures []NodeFailure
	for i, err := range errs {
		if err != nil {
			failures = append(failures, NodeFailure{Node: targets[i], Err: err})
		}
	}
	return responses, failures
}

func (m *Manager) fetchModels(ctx context.Context, node NodeConfig, track bool, log *slog.Logger) (*alloy.ModelsResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := node.Key()
	if track {
		m.health.Begin(key)
	}
	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	resp, err := m.clients[key].Models(callCtx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if track {
				m.health.Abort(key)
			}
			return nil, fmt.Errorf("%w: %w", ctxErr, err)
		}
		if track {
			m.health.RecordFailure(key, err)
		}
		m.registry.MarkError(key, err)
		log.Warn("model listing failed", "node", node.Label(), "error", err)
		return nil, err
	}
	if resp == nil {
		resp = &alloy.ModelsResponse{}
	}
	if track {
		m.health.RecordSuccess(key)
	}
	m.registry.Update(key, resp, time.Now())
	return resp, nil
}

// pool returns the nodes eligible for a call. Static tags are a hard
// restriction: when no node accepts the call it fails with a
// *ConfigurationError. The model registry only narrows that set further; if
// it would leave nothing, every tag-accepted node is kept so a stale index can
// never make a call impossible.
func (m *Manager) pool(op Operation, modelID string) ([]NodeConfig, error) {
	tagged := make([]NodeConfig, 0, len(m.nodes))
	for _, n := range m.nodes {
		if n.Accepts(op, modelID) {
			tagged = append(tagged, n)
		}
	}
	if len(tagged) == 0 {
		if modelID == "" {
			return nil, configErrorf("no node accepts %s calls", op)
		}
		return nil, configErrorf("no node accepts %s calls for model %q", op, modelID)
	}
	if op == OpModels {
		return tagged, nil
	}

	served := make([]NodeConfig, 0, len(tagged))
	for _, n := range tagged {
		if m.registry.Serves(n.Key(), modelID) {
			served = append(served, n)
		}
	}
	if len(served) == 0 {
		return tagged, nil
	}
	return served, nil
}

func (m *Manager) lookup(name string) (NodeConfig, bool) {
	key := NodeConfig{BaseURL: name}.Key()
	for _, n := range m.nodes {
		if n.Name == name || n.Key() == key {
			return n, true
		}
	}
	return NodeConfig{}, false
}
