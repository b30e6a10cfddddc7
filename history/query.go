package history

import (
	"context"
	"database/sql"
	"time"
)

// Run is one recorded release run.
type Run struct {
	RunID      string
	Graph      string
	Version    string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// NodeRecord is one node's recorded outcome within a run.
type NodeRecord struct {
	Node     string
	Status   string
	Error    string
	Duration time.Duration
}

// UnitRecord is one matrix unit's recorded outcome.
type UnitRecord struct {
	Node     string
	Unit     string
	Error    string
	Duration time.Duration
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, graph, COALESCE(version, ''), status, COALESCE(error, ''),
		       started_at, finished_at
		FROM release_run ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.RunID, &r.Graph, &r.Version, &r.Status, &r.Error, &r.StartedAt, &finished); err != nil {
			return nil, err
		}
		// In-flight runs have no finish time yet.
		if finished.Valid {
			r.FinishedAt = finished.Time
		} else {
			r.FinishedAt = r.StartedAt
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Nodes returns the node outcomes of one run.
func (s *Store) Nodes(ctx context.Context, runID string) ([]NodeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node, status, COALESCE(error, ''), COALESCE(duration_ms, 0)
		FROM release_run_node WHERE run_id = ? ORDER BY node`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []NodeRecord
	for rows.Next() {
		var n NodeRecord
		var ms int64
		if err := rows.Scan(&n.Node, &n.Status, &n.Error, &ms); err != nil {
			return nil, err
		}
		n.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, n)
	}
	return out, rows.Err()
}

// Units returns the matrix unit outcomes of one run.
func (s *Store) Units(ctx context.Context, runID string) ([]UnitRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node, unit, COALESCE(error, ''), COALESCE(duration_ms, 0)
		FROM release_run_unit WHERE run_id = ? ORDER BY node, unit`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UnitRecord
	for rows.Next() {
		var u UnitRecord
		var ms int64
		if err := rows.Scan(&u.Node, &u.Unit, &u.Error, &ms); err != nil {
			return nil, err
		}
		u.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, u)
	}
	return out, rows.Err()
}

// LastRun returns the most recent run, or sql.ErrNoRows if none exists.
func (s *Store) LastRun(ctx context.Context) (Run, error) {
	runs, err := s.Runs(ctx, 1)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, sql.ErrNoRows
	}
	return runs[0], nil
}
