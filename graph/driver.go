package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Observer provides pre/post hooks for run, node, and unit execution so
// callers can persist history, export metrics, or log. Hook errors fail
// the run (before hooks) or surface as the node error (after hooks) but
// never mask an execution error.
type Observer interface {
	BeforeRun(ctx context.Context, runID, graphName string, inputs map[string]string) error
	AfterRun(ctx context.Context, runID string, result *RunResult, err error) error
	BeforeNode(ctx context.Context, runID, node string) error
	AfterNode(ctx context.Context, runID string, res *NodeResult) error
	AfterUnit(ctx context.Context, runID, node string, unit UnitResult) error
}

// RunOptions attaches an Observer and optional RunID to a run. If Observer
// is set and RunID is empty, a new UUID is generated.
type RunOptions struct {
	Observer Observer
	RunID    string

	// Workers is the default matrix worker pool size for nodes that do
	// not set their own. 0 means DefaultWorkers.
	Workers int
}

// DefaultWorkers bounds matrix parallelism when neither the node nor the
// run options set one.
const DefaultWorkers = 4

// Run executes the graph: nodes start when all their declared
// predecessors reached a terminal status, run when every predecessor
// succeeded (or failed but is tolerant), and are skipped otherwise. Nodes
// that are ready at the same time run concurrently. Returns the RunResult
// and the first non-tolerated node error, if any. Skipped nodes are not
// errors by themselves.
func (g *Graph) Run(ctx context.Context, inputs map[string]string, opts *RunOptions) (*RunResult, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &RunOptions{}
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	obs := opts.Observer

	result := &RunResult{
		RunID: runID,
		Graph: g.Name,
		Nodes: make(map[string]*NodeResult, len(g.nodes)),
	}
	outs := Outputs{InputsNode: inputs}

	if obs != nil {
		if err := obs.BeforeRun(ctx, runID, g.Name, inputs); err != nil {
			return nil, fmt.Errorf("before run: %w", err)
		}
	}
	runErr := g.walk(ctx, runID, outs, result, obs, opts)
	if obs != nil {
		if postErr := obs.AfterRun(ctx, runID, result, runErr); postErr != nil {
			if runErr == nil {
				runErr = fmt.Errorf("after run: %w", postErr)
			}
		}
	}
	return result, runErr
}

// walk drives the graph wave by wave: every node whose predecessors are
// terminal is dispatched, concurrently with its ready siblings.
func (g *Graph) walk(ctx context.Context, runID string, outs Outputs, result *RunResult, obs Observer, opts *RunOptions) error {
	var firstErr error
	for len(result.Nodes) < len(g.nodes) {
		ready := g.ready(result)
		if len(ready) == 0 {
			// Validate rules out cycles, so this only happens if a
			// terminal status was recorded inconsistently.
			return fmt.Errorf("graph %q: no runnable node among %d remaining", g.Name, len(g.nodes)-len(result.Nodes))
		}

		// Record skips before dispatching the wave so the result map is
		// only written concurrently under the mutex below.
		var runnable []*Node
		for _, n := range ready {
			if skip := g.shouldSkip(n, result); skip {
				res := &NodeResult{Name: n.Name, Status: StatusSkipped}
				result.Nodes[n.Name] = res
				if obs != nil {
					if err := obs.AfterNode(ctx, runID, res); err != nil && firstErr == nil {
						firstErr = fmt.Errorf("after node %q: %w", n.Name, err)
					}
				}
				continue
			}
			runnable = append(runnable, n)
		}

		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, n := range runnable {
			// Each node reads its own snapshot: outs is written below as
			// siblings complete, and a node must only see outputs of nodes
			// that were terminal when its wave started.
			view := outs.snapshot()
			wg.Add(1)
			go func(n *Node) {
				defer wg.Done()
				res := g.runNode(ctx, runID, n, view, obs, opts)
				mu.Lock()
				defer mu.Unlock()
				result.Nodes[n.Name] = res
				if res.Status == StatusSucceeded && res.Outputs != nil {
					outs[n.Name] = res.Outputs
				}
				if res.Err != nil && !n.ContinueOnError && firstErr == nil {
					firstErr = fmt.Errorf("node %q: %w", n.Name, res.Err)
				}
			}(n)
		}
		wg.Wait()
	}
	return firstErr
}

// ready returns nodes with no result whose needs all have a terminal
// status.
func (g *Graph) ready(result *RunResult) []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if _, done := result.Nodes[n.Name]; done {
			continue
		}
		all := true
		for _, need := range n.Needs {
			if _, ok := result.Nodes[need]; !ok {
				all = false
				break
			}
		}
		if all {
			out = append(out, n)
		}
	}
	return out
}

// shouldSkip reports whether a ready node must be skipped because a
// predecessor failed without ContinueOnError, or was itself skipped.
func (g *Graph) shouldSkip(n *Node, result *RunResult) bool {
	for _, need := range n.Needs {
		res := result.Nodes[need]
		pred := g.byName[need]
		switch res.Status {
		case StatusSkipped:
			return true
		case StatusFailed:
			if pred == nil || !pred.ContinueOnError {
				return true
			}
		}
	}
	return false
}

func (g *Graph) runNode(ctx context.Context, runID string, n *Node, outs Outputs, obs Observer, opts *RunOptions) *NodeResult {
	res := &NodeResult{Name: n.Name, Status: StatusRunning}
	if obs != nil {
		if err := obs.BeforeNode(ctx, runID, n.Name); err != nil {
			res.Status = StatusFailed
			res.Err = fmt.Errorf("before node: %w", err)
			return res
		}
	}
	start := time.Now()
	if n.Units != nil {
		res.Units, res.Err = g.runMatrix(ctx, runID, n, outs, obs, opts)
	} else {
		res.Outputs, res.Err = n.Run(ctx, outs)
	}
	res.Duration = time.Since(start)
	if res.Err != nil {
		res.Status = StatusFailed
	} else {
		res.Status = StatusSucceeded
	}
	if obs != nil {
		if postErr := obs.AfterNode(ctx, runID, res); postErr != nil && res.Err == nil {
			res.Status = StatusFailed
			res.Err = fmt.Errorf("after node: %w", postErr)
		}
	}
	return res
}

// runMatrix expands the node into units and runs them on a bounded worker
// pool. Every unit is attempted regardless of sibling failures; the
// aggregate error joins each failed unit.
func (g *Graph) runMatrix(ctx context.Context, runID string, n *Node, outs Outputs, obs Observer, opts *RunOptions) ([]UnitResult, error) {
	units, err := n.Units(ctx, outs)
	if err != nil {
		return nil, fmt.Errorf("expand units: %w", err)
	}
	workers := n.Workers
	if workers <= 0 {
		workers = opts.Workers
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if workers > len(units) {
		workers = len(units)
	}

	results := make([]UnitResult, len(units))
	work := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				u := units[i]
				start := time.Now()
				err := u.Run(ctx)
				results[i] = UnitResult{Name: u.Name, Err: err, Duration: time.Since(start)}
				if obs != nil {
					_ = obs.AfterUnit(ctx, runID, n.Name, results[i])
				}
			}
		}()
	}
	for i := range units {
		work <- i
	}
	close(work)
	wg.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, r.Err))
		}
	}
	return results, errors.Join(errs...)
}
