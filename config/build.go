package config

import (
	"context"
	"fmt"
	"time"

	"github.com/relpipe/relpipe/graph"
)

// Apply applies the node overrides from the config to an assembled graph.
// Unknown node names are an error so a typo in the config cannot silently
// leave a node on its defaults.
func Apply(g *graph.Graph, refs []NodeRef) error {
	for _, ref := range refs {
		n, ok := g.Node(ref.Name)
		if !ok {
			return fmt.Errorf("config: no node %q in graph %s", ref.Name, g.Name)
		}
		if ref.ContinueOnError {
			n.ContinueOnError = true
		}
		if ref.Workers > 0 {
			n.Workers = ref.Workers
		}
		if ref.Timeout > 0 {
			withTimeout(n, ref.Timeout.Duration())
		}
	}
	return nil
}

// withTimeout wraps the node's entry points so every execution runs under
// a deadline.
func withTimeout(n *graph.Node, d time.Duration) {
	if run := n.Run; run != nil {
		n.Run = func(ctx context.Context, outs graph.Outputs) (map[string]string, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return run(ctx, outs)
		}
	}
	if units := n.Units; units != nil {
		n.Units = func(ctx context.Context, outs graph.Outputs) ([]graph.Unit, error) {
			out, err := units(ctx, outs)
			if err != nil {
				return nil, err
			}
			for i := range out {
				run := out[i].Run
				out[i].Run = func(ctx context.Context) error {
					ctx, cancel := context.WithTimeout(ctx, d)
					defer cancel()
					return run(ctx)
				}
			}
			return out, nil
		}
	}
}
