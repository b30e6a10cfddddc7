// Package history persists release runs to SQLite so operators can audit
// what was promoted, when, and what failed. It plugs into the graph driver
// as an Observer.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/relpipe/relpipe/graph"
)

// Store records run, node, and unit outcomes.
type Store struct {
	db *sql.DB
}

var _ graph.Observer = (*Store)(nil)

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?_loc=auto")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// WAL so a query tool can read while a release is writing.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS release_run (
		run_id TEXT PRIMARY KEY,
		graph TEXT NOT NULL,
		version TEXT,
		status TEXT NOT NULL,
		error TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS release_run_node (
		run_id TEXT NOT NULL,
		node TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		duration_ms INTEGER,
		finished_at DATETIME,
		PRIMARY KEY (run_id, node)
	);

	CREATE TABLE IF NOT EXISTS release_run_unit (
		run_id TEXT NOT NULL,
		node TEXT NOT NULL,
		unit TEXT NOT NULL,
		error TEXT,
		duration_ms INTEGER,
		finished_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_run_started ON release_run(started_at);
	CREATE INDEX IF NOT EXISTS idx_unit_run ON release_run_unit(run_id, node);
	`
	_, err := s.db.Exec(schema)
	return err
}

// BeforeRun opens the run row.
func (s *Store) BeforeRun(ctx context.Context, runID, graphName string, inputs map[string]string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO release_run (run_id, graph, version, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		runID, graphName, inputs["version"], string(graph.StatusRunning), time.Now())
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// AfterRun closes the run row with the final status.
func (s *Store) AfterRun(ctx context.Context, runID string, result *graph.RunResult, runErr error) error {
	status := graph.StatusSucceeded
	errText := ""
	if runErr != nil {
		status = graph.StatusFailed
		errText = runErr.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE release_run SET status = ?, error = ?, finished_at = ?
		WHERE run_id = ?`,
		string(status), errText, time.Now(), runID)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	return nil
}

// BeforeNode marks the node running.
func (s *Store) BeforeNode(ctx context.Context, runID, node string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO release_run_node (run_id, node, status)
		VALUES (?, ?, ?)
		ON CONFLICT (run_id, node) DO UPDATE SET status = excluded.status`,
		runID, node, string(graph.StatusRunning))
	if err != nil {
		return fmt.Errorf("record node start: %w", err)
	}
	return nil
}

// AfterNode records the node's terminal status. Skipped nodes arrive here
// without a BeforeNode, so this upserts.
func (s *Store) AfterNode(ctx context.Context, runID string, res *graph.NodeResult) error {
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO release_run_node (run_id, node, status, error, duration_ms, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, node) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			duration_ms = excluded.duration_ms,
			finished_at = excluded.finished_at`,
		runID, res.Name, string(res.Status), errText, res.Duration.Milliseconds(), time.Now())
	if err != nil {
		return fmt.Errorf("record node finish: %w", err)
	}
	return nil
}

// AfterUnit appends one matrix unit outcome.
func (s *Store) AfterUnit(ctx context.Context, runID, node string, unit graph.UnitResult) error {
	errText := ""
	if unit.Err != nil {
		errText = unit.Err.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO release_run_unit (run_id, node, unit, error, duration_ms, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, node, unit.Name, errText, unit.Duration.Milliseconds(), time.Now())
	if err != nil {
		return fmt.Errorf("record unit: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
