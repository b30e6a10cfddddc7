package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// hookObserver lets each test override only the hooks it cares about.
type hookObserver struct {
	mu        sync.Mutex
	beforeRun func(ctx context.Context, runID, graphName string, inputs map[string]string) error
	afterRun  func(ctx context.Context, runID string, result *RunResult, err error) error
	beforeNode func(ctx context.Context, runID, node string) error
	afterNode  func(ctx context.Context, runID string, res *NodeResult) error
	afterUnit  func(ctx context.Context, runID, node string, unit UnitResult) error
}

func (h *hookObserver) BeforeRun(ctx context.Context, runID, graphName string, inputs map[string]string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.beforeRun != nil {
		return h.beforeRun(ctx, runID, graphName, inputs)
	}
	return nil
}

func (h *hookObserver) AfterRun(ctx context.Context, runID string, result *RunResult, err error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.afterRun != nil {
		return h.afterRun(ctx, runID, result, err)
	}
	return nil
}

func (h *hookObserver) BeforeNode(ctx context.Context, runID, node string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.beforeNode != nil {
		return h.beforeNode(ctx, runID, node)
	}
	return nil
}

func (h *hookObserver) AfterNode(ctx context.Context, runID string, res *NodeResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.afterNode != nil {
		return h.afterNode(ctx, runID, res)
	}
	return nil
}

func (h *hookObserver) AfterUnit(ctx context.Context, runID, node string, unit UnitResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.afterUnit != nil {
		return h.afterUnit(ctx, runID, node, unit)
	}
	return nil
}

func mustAdd(t *testing.T, g *Graph, nodes ...*Node) {
	t.Helper()
	for _, n := range nodes {
		if err := g.Add(n); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRun_OrderRespectsNeeds(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	var order []string
	record := func(name string) NodeFunc {
		return func(ctx context.Context, outs Outputs) (map[string]string, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}
	g := New("ordered")
	mustAdd(t, g,
		&Node{Name: "check", Run: record("check")},
		&Node{Name: "publish", Needs: []string{"check"}, Run: record("publish")},
		&Node{Name: "smoke", Needs: []string{"publish"}, Run: record("smoke")},
	)
	result, err := g.Run(ctx, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"check", "publish", "smoke"}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Errorf("order: got %v, want %v", order, want)
	}
	for _, name := range want {
		if result.Status(name) != StatusSucceeded {
			t.Errorf("%s: status %s", name, result.Status(name))
		}
	}
}

func TestRun_OutputsFlowToDependents(t *testing.T) {
	ctx := context.Background()
	var seen string
	g := New("outputs")
	mustAdd(t, g,
		&Node{Name: "derive", Run: func(ctx context.Context, outs Outputs) (map[string]string, error) {
			v, err := outs.MustGet(InputsNode, "version")
			if err != nil {
				return nil, err
			}
			return map[string]string{"major": v[:3]}, nil
		}},
		&Node{Name: "use", Needs: []string{"derive"}, Run: func(ctx context.Context, outs Outputs) (map[string]string, error) {
			seen, _ = outs.Get("derive", "major")
			return nil, nil
		}},
	)
	if _, err := g.Run(ctx, map[string]string{"version": "1.9.3"}, nil); err != nil {
		t.Fatal(err)
	}
	if seen != "1.9" {
		t.Errorf("dependent saw %q, want 1.9", seen)
	}
}

func TestRun_FailureSkipsDependents(t *testing.T) {
	ctx := context.Background()
	errBoom := errors.New("boom")
	ran := map[string]bool{}
	var mu sync.Mutex
	mark := func(name string, err error) NodeFunc {
		return func(ctx context.Context, outs Outputs) (map[string]string, error) {
			mu.Lock()
			ran[name] = true
			mu.Unlock()
			return nil, err
		}
	}
	g := New("gated")
	mustAdd(t, g,
		&Node{Name: "a", Run: mark("a", errBoom)},
		&Node{Name: "b", Needs: []string{"a"}, Run: mark("b", nil)},
		&Node{Name: "c", Needs: []string{"b"}, Run: mark("c", nil)},
	)
	result, err := g.Run(ctx, nil, nil)
	if err == nil || !errors.Is(err, errBoom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if ran["b"] || ran["c"] {
		t.Error("dependents of a failed node must not run")
	}
	if result.Status("b") != StatusSkipped || result.Status("c") != StatusSkipped {
		t.Errorf("b=%s c=%s, want skipped", result.Status("b"), result.Status("c"))
	}
}

func TestRun_ContinueOnError_TolerantNodeDoesNotGate(t *testing.T) {
	ctx := context.Background()
	ranAfter := false
	g := New("tolerant")
	mustAdd(t, g,
		&Node{Name: "flaky", ContinueOnError: true, Run: func(ctx context.Context, outs Outputs) (map[string]string, error) {
			return nil, errors.New("tolerated")
		}},
		&Node{Name: "after", Needs: []string{"flaky"}, Run: func(ctx context.Context, outs Outputs) (map[string]string, error) {
			ranAfter = true
			return nil, nil
		}},
	)
	result, err := g.Run(ctx, nil, nil)
	if err != nil {
		t.Fatalf("tolerant failure should not fail the run: %v", err)
	}
	if !ranAfter {
		t.Error("dependent of tolerant node should run")
	}
	if result.Status("flaky") != StatusFailed {
		t.Errorf("flaky status: %s, want failed", result.Status("flaky"))
	}
	if !result.Failed() {
		t.Error("Failed() should still report the tolerated failure")
	}
}

func TestRun_Matrix_AllUnitsAttempted(t *testing.T) {
	ctx := context.Background()
	errUnit := errors.New("unit failed")
	var mu sync.Mutex
	attempted := map[string]bool{}
	g := New("matrix")
	mustAdd(t, g, &Node{
		Name:    "fanout",
		Workers: 2,
		Units: func(ctx context.Context, outs Outputs) ([]Unit, error) {
			var units []Unit
			for _, name := range []string{"u0", "u1", "u2", "u3"} {
				name := name
				units = append(units, Unit{Name: name, Run: func(ctx context.Context) error {
					mu.Lock()
					attempted[name] = true
					mu.Unlock()
					if name == "u1" {
						return errUnit
					}
					return nil
				}})
			}
			return units, nil
		},
	})
	result, err := g.Run(ctx, nil, nil)
	if err == nil || !errors.Is(err, errUnit) {
		t.Fatalf("aggregate should fail: %v", err)
	}
	if len(attempted) != 4 {
		t.Errorf("all units should be attempted despite u1 failing: %v", attempted)
	}
	res := result.Nodes["fanout"]
	if res.Status != StatusFailed {
		t.Errorf("node status: %s", res.Status)
	}
	failed := 0
	for _, u := range res.Units {
		if u.Err != nil {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("unit failures: got %d, want 1", failed)
	}
}

func TestRun_Matrix_AfterUnitHook(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	var units []string
	obs := &hookObserver{
		afterUnit: func(ctx context.Context, runID, node string, unit UnitResult) error {
			mu.Lock()
			units = append(units, node+"/"+unit.Name)
			mu.Unlock()
			return nil
		},
	}
	g := New("hooked")
	mustAdd(t, g, &Node{
		Name: "fanout",
		Units: func(ctx context.Context, outs Outputs) ([]Unit, error) {
			return []Unit{
				{Name: "a", Run: func(ctx context.Context) error { return nil }},
				{Name: "b", Run: func(ctx context.Context) error { return nil }},
			}, nil
		},
	})
	if _, err := g.Run(ctx, nil, &RunOptions{Observer: obs}); err != nil {
		t.Fatal(err)
	}
	if len(units) != 2 {
		t.Errorf("AfterUnit calls: got %v", units)
	}
}

func TestRun_ObserverOrderAndRunID(t *testing.T) {
	ctx := context.Background()
	var order []string
	var runIDSeen string
	obs := &hookObserver{
		beforeRun: func(ctx context.Context, runID, graphName string, inputs map[string]string) error {
			runIDSeen = runID
			order = append(order, "BeforeRun:"+graphName)
			return nil
		},
		afterRun: func(ctx context.Context, runID string, result *RunResult, err error) error {
			order = append(order, "AfterRun")
			return nil
		},
		beforeNode: func(ctx context.Context, runID, node string) error {
			order = append(order, "BeforeNode:"+node)
			return nil
		},
		afterNode: func(ctx context.Context, runID string, res *NodeResult) error {
			order = append(order, fmt.Sprintf("AfterNode:%s:%s", res.Name, res.Status))
			return nil
		},
	}
	g := New("observed")
	mustAdd(t, g,
		&Node{Name: "one", Run: noop},
		&Node{Name: "two", Needs: []string{"one"}, Run: noop},
	)
	if _, err := g.Run(ctx, nil, &RunOptions{Observer: obs}); err != nil {
		t.Fatal(err)
	}
	if runIDSeen == "" {
		t.Error("expected runID to be generated")
	}
	want := []string{
		"BeforeRun:observed",
		"BeforeNode:one", "AfterNode:one:succeeded",
		"BeforeNode:two", "AfterNode:two:succeeded",
		"AfterRun",
	}
	if len(order) != len(want) {
		t.Fatalf("hooks: got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d]: got %q, want %q", i, order[i], want[i])
		}
	}
}

func TestRun_ExplicitRunID(t *testing.T) {
	ctx := context.Background()
	var runIDSeen string
	obs := &hookObserver{
		beforeRun: func(ctx context.Context, runID, graphName string, inputs map[string]string) error {
			runIDSeen = runID
			return nil
		},
	}
	g := New("g")
	mustAdd(t, g, &Node{Name: "a", Run: noop})
	if _, err := g.Run(ctx, nil, &RunOptions{Observer: obs, RunID: "release-42"}); err != nil {
		t.Fatal(err)
	}
	if runIDSeen != "release-42" {
		t.Errorf("runID: got %q", runIDSeen)
	}
}

func TestRun_SkippedChainRecorded(t *testing.T) {
	ctx := context.Background()
	g := New("chain")
	mustAdd(t, g,
		&Node{Name: "a", Run: func(ctx context.Context, outs Outputs) (map[string]string, error) {
			return nil, errors.New("fail")
		}},
		&Node{Name: "b", Needs: []string{"a"}, Run: noop},
		&Node{Name: "c", Needs: []string{"b"}, Run: noop},
		&Node{Name: "d", Run: noop}, // independent of the failing chain
	)
	result, err := g.Run(ctx, nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if result.Status("d") != StatusSucceeded {
		t.Errorf("independent node should still run, got %s", result.Status("d"))
	}
	if result.Status("b") != StatusSkipped || result.Status("c") != StatusSkipped {
		t.Error("transitive dependents should be skipped")
	}
	if len(result.Nodes) != 4 {
		t.Errorf("all nodes should have a terminal result, got %d", len(result.Nodes))
	}
}

func TestRun_Summary(t *testing.T) {
	ctx := context.Background()
	g := New("sum")
	mustAdd(t, g,
		&Node{Name: "ok", Run: noop},
		&Node{Name: "bad", Run: func(ctx context.Context, outs Outputs) (map[string]string, error) {
			return nil, errors.New("exploded")
		}},
	)
	result, _ := g.Run(ctx, nil, nil)
	s := result.Summary(g.Nodes())
	for _, want := range []string{"ok", "succeeded", "bad", "failed", "exploded"} {
		if !strings.Contains(s, want) {
			t.Errorf("summary missing %q:\n%s", want, s)
		}
	}
}

func TestRun_NoObserverNoPanic(t *testing.T) {
	ctx := context.Background()
	g := New("bare")
	mustAdd(t, g, &Node{Name: "a", Run: noop})
	start := time.Now()
	result, err := g.Run(ctx, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.RunID == "" {
		t.Error("run should get an ID even without an observer")
	}
	if result.Nodes["a"].Duration < 0 || time.Since(start) < 0 {
		t.Error("duration should be recorded")
	}
}

// Nodes dispatched in the same wave read a stable snapshot of the output
// map: a sibling completing mid-wave must neither race with those reads
// nor leak its outputs into them.
func TestRun_SameWaveOutputsIsolated(t *testing.T) {
	ctx := context.Background()
	g := New("wave")
	produced := make(chan struct{})
	mustAdd(t, g,
		&Node{Name: "producer", Run: func(ctx context.Context, outs Outputs) (map[string]string, error) {
			close(produced)
			return map[string]string{"artifact": "a1"}, nil
		}},
		&Node{Name: "sibling", Run: func(ctx context.Context, outs Outputs) (map[string]string, error) {
			<-produced
			// Keep reading while the driver records the producer's result.
			deadline := time.Now().Add(20 * time.Millisecond)
			for time.Now().Before(deadline) {
				if _, ok := outs.Get("producer", "artifact"); ok {
					return nil, errors.New("saw a same-wave sibling's output")
				}
				time.Sleep(time.Millisecond)
			}
			return nil, nil
		}},
		&Node{Name: "consumer", Needs: []string{"producer"}, Run: func(ctx context.Context, outs Outputs) (map[string]string, error) {
			// The next wave does see the recorded output.
			if _, err := outs.MustGet("producer", "artifact"); err != nil {
				return nil, err
			}
			return nil, nil
		}},
	)
	result, err := g.Run(ctx, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []string{"producer", "sibling", "consumer"} {
		if result.Status(n) != StatusSucceeded {
			t.Errorf("%s: %s (%v)", n, result.Status(n), result.Nodes[n].Err)
		}
	}
}
