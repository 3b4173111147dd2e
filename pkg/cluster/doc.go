// Package cluster spreads Alloy inference calls over several servers ("nodes"),
// choosing where each call goes, falling back when a node fails, and merging
// model listings from every node into one view.
//
// # Overview
//
// A Manager is built once from an ordered list of NodeConfig values and then
// used exactly like a single-node alloy.Client. Each logical call (image,
// chat, audio or models) asks the Selector for an ordered candidate list,
// dispatches to those candidates and records every outcome in the manager's
// HealthState. Nothing is shared between managers, so several independent
// managers can live in one process.
//
//	┌──────────────────────────────────────────┐
//	│                 MANAGER                  │
//	├──────────────────────────────────────────┤
//	│  pool()      tags + ModelRegistry filter │
//	│     │                                    │
//	│     ▼                                    │
//	│  Selector    single / controlled /       │
//	│     │        broadcast over scores       │
//	│     ▼                                    │
//	│  dispatch    sequential, first success   │
//	│  fanOut      concurrent, merged          │
//	│     │                                    │
//	│     ▼                                    │
//	│  HealthState  per-node failure streaks   │
//	└──────────────────────────────────────────┘
//
// # Query Modes
//
//	single               one node, weighted random or smooth round robin
//	controlled_querying  up to max_nodes_to_query nodes, best score first
//	broadcast            every node in configuration order
//
// Models always uses broadcast selection because every listing is needed.
//
// # Effective Score
//
// Candidates are ranked by
//
//	score = weight × HealthPolicy.Factor(consecutive failures)
//
// With the default policy the factor halves with each consecutive failure and
// never drops below 0.05, so a heavy node that keeps failing sinks below a
// light healthy one but is still tried eventually and can recover. A policy
// with Floor 0 removes a node from selection once it reaches UnhealthyAfter
// failures; when every node is in that state selection fails with a
// *ConfigurationError.
//
// WithLoadAware multiplies the score of a call naming a model by
//
//	LoadFactor(LoadCost(listed model entry, local in-flight calls))
//
// so a node with many active requests, a model that only runs one request at
// a time, or a model still queued for allocation ranks below an idle node.
// WithRefreshBeforeDispatch re-reads every eligible listing before each call
// so the load figures are current.
//
// # Failure Handling
//
// Image, Chat and Audio try candidates one at a time, each under its own
// timeout, and return the first success. A failed node is recorded and the
// next candidate is tried; a node is never tried twice in one call. When
// every candidate fails the caller receives an *AllNodesFailedError listing
// each node and its error in the order they were tried:
//
//	resp, err := m.Chat(ctx, req)
//	var failed *cluster.AllNodesFailedError
//	if errors.As(err, &failed) {
//	    for _, f := range failed.Failures {
//	        log.Printf("%s: %v", f.Node.Label(), f.Err)
//	    }
//	}
//
// A per-node timeout counts against that node. Cancellation of the caller's
// own context does not: the in-flight node is released without a penalty and
// the error satisfies errors.Is(err, context.Canceled).
//
// Models queries every candidate concurrently, leaves failed nodes out and
// merges the rest in candidate order. MergeFirstSeen keeps the first entry of
// a duplicated model id; MergeCombine folds duplicates together.
//
// # Model Registry
//
// Every successful listing is indexed per node. Calls naming a model skip
// nodes whose index lacks it; nodes that were never indexed stay eligible,
// and if the index rules out every node the registry filter is dropped.
// Static tags are never dropped: a call no node's tags accept fails with a
// *ConfigurationError.
// StartRefresher keeps the index fresh in the background.
//
// # Thread Safety
//
// Manager, Selector, HealthState and ModelRegistry are safe for concurrent
// use. NodeConfig values are immutable after New and are shared freely.
package cluster
