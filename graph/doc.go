// Package graph runs a directed acyclic graph of named nodes with status
// gating. A node declares the nodes it needs; the driver starts a node
// once all of its needs reached a terminal status, runs it when every
// predecessor succeeded (or failed but is tolerant via ContinueOnError),
// and records it as skipped otherwise. Nodes that become ready together
// run concurrently.
//
// Data passes between nodes only as named string outputs: a NodeFunc
// returns a map of outputs and reads its predecessors' outputs (and the
// run's operator inputs, under the reserved InputsNode name) from the
// Outputs view it receives.
//
// Matrix nodes set Units instead of Run: the node expands into
// independent units consumed by a bounded worker pool. Every unit is
// attempted even when siblings fail; the node's aggregate error joins the
// failed units, so the node is fail-open per unit and fail-closed as a
// whole.
//
// Optional pre/post hooks (Observer) surround the run, each node, and
// each unit, for history persistence, metrics, and logging. Pass
// RunOptions{Observer: myObserver} to Run; combine observers with
// MultiObserver.
//
// For operations that can fail transiently (e.g. a registry copy), mark
// the error with TransientErr and wrap the call in WithRetries(ctx, n,
// fn); non-transient errors are never retried.
package graph
