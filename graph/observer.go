package graph

import (
	"context"
	"log"
)

// MultiObserver combines observers; each hook calls every observer in
// order and returns the first error.
func MultiObserver(observers ...Observer) Observer {
	return multiObserver(observers)
}

type multiObserver []Observer

func (m multiObserver) BeforeRun(ctx context.Context, runID, graphName string, inputs map[string]string) error {
	for _, o := range m {
		if err := o.BeforeRun(ctx, runID, graphName, inputs); err != nil {
			return err
		}
	}
	return nil
}

func (m multiObserver) AfterRun(ctx context.Context, runID string, result *RunResult, err error) error {
	for _, o := range m {
		if hookErr := o.AfterRun(ctx, runID, result, err); hookErr != nil {
			return hookErr
		}
	}
	return nil
}

func (m multiObserver) BeforeNode(ctx context.Context, runID, node string) error {
	for _, o := range m {
		if err := o.BeforeNode(ctx, runID, node); err != nil {
			return err
		}
	}
	return nil
}

func (m multiObserver) AfterNode(ctx context.Context, runID string, res *NodeResult) error {
	for _, o := range m {
		if err := o.AfterNode(ctx, runID, res); err != nil {
			return err
		}
	}
	return nil
}

func (m multiObserver) AfterUnit(ctx context.Context, runID, node string, unit UnitResult) error {
	for _, o := range m {
		if err := o.AfterUnit(ctx, runID, node, unit); err != nil {
			return err
		}
	}
	return nil
}

// LogObserver writes run, node, and unit transitions to the given logger.
// Intended for CLI use; library code should stay silent.
type LogObserver struct {
	Logger *log.Logger
}

func (l *LogObserver) BeforeRun(ctx context.Context, runID, graphName string, inputs map[string]string) error {
	l.Logger.Printf("run %s: %s starting (version=%s)", runID, graphName, inputs["version"])
	return nil
}

func (l *LogObserver) AfterRun(ctx context.Context, runID string, result *RunResult, err error) error {
	if err != nil {
		l.Logger.Printf("run %s: failed: %v", runID, err)
		return nil
	}
	l.Logger.Printf("run %s: finished", runID)
	return nil
}

func (l *LogObserver) BeforeNode(ctx context.Context, runID, node string) error {
	l.Logger.Printf("run %s: %s running", runID, node)
	return nil
}

func (l *LogObserver) AfterNode(ctx context.Context, runID string, res *NodeResult) error {
	if res.Err != nil {
		l.Logger.Printf("run %s: %s %s: %v", runID, res.Name, res.Status, res.Err)
		return nil
	}
	l.Logger.Printf("run %s: %s %s (%s)", runID, res.Name, res.Status, res.Duration.Round(1e6))
	return nil
}

func (l *LogObserver) AfterUnit(ctx context.Context, runID, node string, unit UnitResult) error {
	if unit.Err != nil {
		l.Logger.Printf("run %s: %s[%s] failed: %v", runID, node, unit.Name, unit.Err)
	}
	return nil
}
