package graph

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a node within one run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// InputsNode is the pseudo-node under which the run's operator-supplied
// inputs are exposed to every node's Outputs view.
const InputsNode = "inputs"

// Outputs is the read view of named string outputs produced by completed
// nodes (and the run inputs under InputsNode), keyed by node name.
type Outputs map[string]map[string]string

// Get returns the named output of a node, or "" and false if the node has
// not produced it.
func (o Outputs) Get(node, name string) (string, bool) {
	vals, ok := o[node]
	if !ok {
		return "", false
	}
	v, ok := vals[name]
	return v, ok
}

// MustGet returns the named output of a node or an error naming both. Use
// in NodeFuncs that cannot run without a predecessor's output.
func (o Outputs) MustGet(node, name string) (string, error) {
	v, ok := o.Get(node, name)
	if !ok {
		return "", fmt.Errorf("output %s/%s not available", node, name)
	}
	return v, nil
}

// snapshot returns a shallow copy. Per-node output maps are never mutated
// after being recorded, so sharing them is safe.
func (o Outputs) snapshot() Outputs {
	out := make(Outputs, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// NodeFunc runs a node's work. It receives the outputs of completed
// predecessors and returns this node's named outputs (may be nil).
type NodeFunc func(ctx context.Context, outs Outputs) (map[string]string, error)

// Unit is one independent unit of work within a matrix node. Units run in
// parallel on the node's worker pool; one unit's failure does not stop the
// others from being attempted.
type Unit struct {
	Name string
	Run  func(ctx context.Context) error
}

// UnitsFunc expands a matrix node into its units for this run, typically
// from predecessor outputs (e.g. one unit per registry and tag).
type UnitsFunc func(ctx context.Context, outs Outputs) ([]Unit, error)

// Node is a named vertex in the graph. Exactly one of Run or Units should
// be set; if Units is set the node is a matrix node and Run is ignored.
// A node starts only after every name in Needs reached a terminal status;
// it runs only if each predecessor succeeded or is marked ContinueOnError.
type Node struct {
	Name  string
	Needs []string

	// ContinueOnError marks the node tolerant: its failure is recorded
	// but does not fail the run or skip its dependents.
	ContinueOnError bool

	Run   NodeFunc
	Units UnitsFunc

	// Workers bounds the matrix worker pool for this node.
	// 0 means the driver default.
	Workers int
}

// Graph is a named directed acyclic graph of nodes.
type Graph struct {
	Name string

	nodes  []*Node
	byName map[string]*Node
}

// New returns an empty graph with the given name.
func New(name string) *Graph {
	return &Graph{Name: name, byName: make(map[string]*Node)}
}

// Add registers a node. Node names must be unique and must not collide
// with the reserved InputsNode name.
func (g *Graph) Add(n *Node) error {
	if n == nil || n.Name == "" {
		return fmt.Errorf("graph %q: node name required", g.Name)
	}
	if n.Name == InputsNode {
		return fmt.Errorf("graph %q: node name %q is reserved", g.Name, InputsNode)
	}
	if _, exists := g.byName[n.Name]; exists {
		return fmt.Errorf("graph %q: duplicate node %q", g.Name, n.Name)
	}
	if n.Run == nil && n.Units == nil {
		return fmt.Errorf("graph %q: node %q has neither Run nor Units", g.Name, n.Name)
	}
	g.nodes = append(g.nodes, n)
	g.byName[n.Name] = n
	return nil
}

// Node returns the node with the given name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.byName[name]
	return n, ok
}

// Nodes returns the nodes in registration order.
func (g *Graph) Nodes() []*Node { return g.nodes }

// Validate checks that every declared edge points at a registered node and
// that the graph has no cycles.
func (g *Graph) Validate() error {
	for _, n := range g.nodes {
		for _, need := range n.Needs {
			if need == n.Name {
				return fmt.Errorf("graph %q: node %q depends on itself", g.Name, n.Name)
			}
			if _, ok := g.byName[need]; !ok {
				return fmt.Errorf("graph %q: node %q needs unknown node %q", g.Name, n.Name, need)
			}
		}
	}
	// Cycle check: DFS with colors (0 unvisited, 1 on stack, 2 done).
	color := make(map[string]int, len(g.nodes))
	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case 1:
			return fmt.Errorf("graph %q: cycle through node %q", g.Name, name)
		case 2:
			return nil
		}
		color[name] = 1
		for _, need := range g.byName[name].Needs {
			if err := visit(need); err != nil {
				return err
			}
		}
		color[name] = 2
		return nil
	}
	for _, n := range g.nodes {
		if err := visit(n.Name); err != nil {
			return err
		}
	}
	return nil
}

// UnitResult records one matrix unit's outcome.
type UnitResult struct {
	Name     string
	Err      error
	Duration time.Duration
}

// NodeResult records one node's outcome within a run.
type NodeResult struct {
	Name     string
	Status   Status
	Err      error
	Duration time.Duration
	Outputs  map[string]string
	Units    []UnitResult
}

// RunResult is the outcome of one graph run.
type RunResult struct {
	RunID string
	Graph string
	Nodes map[string]*NodeResult
}

// Status returns the recorded status of a node, or StatusPending if the
// node has no result yet.
func (r *RunResult) Status(node string) Status {
	if res, ok := r.Nodes[node]; ok {
		return res.Status
	}
	return StatusPending
}

// Failed reports whether any node failed, including tolerant ones.
func (r *RunResult) Failed() bool {
	for _, res := range r.Nodes {
		if res.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Summary renders a one-line-per-node status table for posting back to
// the operator.
func (r *RunResult) Summary(order []*Node) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s (%s)\n", r.RunID, r.Graph)
	for _, n := range order {
		res, ok := r.Nodes[n.Name]
		if !ok {
			fmt.Fprintf(&b, "  %-22s %s\n", n.Name, StatusPending)
			continue
		}
		switch {
		case res.Err != nil:
			fmt.Fprintf(&b, "  %-22s %-9s %v (%s)\n", res.Name, res.Status, res.Err, res.Duration.Round(time.Millisecond))
		case res.Status == StatusSkipped:
			fmt.Fprintf(&b, "  %-22s %s\n", res.Name, res.Status)
		default:
			fmt.Fprintf(&b, "  %-22s %-9s (%s)\n", res.Name, res.Status, res.Duration.Round(time.Millisecond))
		}
		for _, u := range res.Units {
			if u.Err != nil {
				fmt.Fprintf(&b, "    %-20s failed: %v\n", u.Name, u.Err)
			}
		}
	}
	return b.String()
}
