// Package report persists run parameters and per-entry scores in sqlite so
// past runs can be listed and compared after the process exits.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/matthewyakubiw/qml-main/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs(
	run_id      TEXT PRIMARY KEY,
	started     REAL NOT NULL,
	lat_rows    INTEGER NOT NULL,
	lat_cols    INTEGER NOT NULL,
	samples     INTEGER NOT NULL,
	shots       INTEGER NOT NULL,
	seed        INTEGER NOT NULL,
	delta       REAL NOT NULL,
	mom_groups  INTEGER NOT NULL,
	folds       INTEGER NOT NULL,
	test_frac   REAL NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	elapsed_ms  INTEGER
);
CREATE TABLE IF NOT EXISTS scores(
	run_id      TEXT NOT NULL,
	entry       INTEGER NOT NULL,
	i           INTEGER NOT NULL,
	j           INTEGER NOT NULL,
	kernel      TEXT NOT NULL,
	family      TEXT NOT NULL,
	c           REAL NOT NULL,
	cv_rmse     REAL NOT NULL,
	test_rmse   REAL NOT NULL,
	train_size  INTEGER NOT NULL,
	test_size   INTEGER NOT NULL,
	PRIMARY KEY (run_id, kernel, entry)
);`

// Run is one row of the runs table.
type Run struct {
	Params    types.RunParams
	Started   time.Time
	Status    string
	ElapsedMs int64
}

// KernelSummary aggregates one kernel's scores within a run.
type KernelSummary struct {
	Kernel   string
	Entries  int
	MeanCV   float64
	MeanTest float64
}

// Store is the sqlite score store. Safe for concurrent use.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes writes; sqlite allows one writer
}

// Open opens (creating if needed) the store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("report: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("report: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SaveRun records the parameters of a starting run. Saving the same run twice
// replaces the earlier row.
func (s *Store) SaveRun(p types.RunParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT OR REPLACE INTO runs
		(run_id, started, lat_rows, lat_cols, samples, shots, seed, delta, mom_groups, folds, test_frac)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.RunID, float64(time.Now().UnixNano())/1e9, p.Rows, p.Cols, p.Samples, p.Shots,
		int64(p.Seed), p.Delta, p.Groups, p.Folds, p.TestFrac)
	if err != nil {
		return fmt.Errorf("report: save run %s: %w", p.RunID, err)
	}
	slog.Debug("[REPORT] run saved", "run_id", p.RunID)
	return nil
}

// FinishRun marks a run with its final status and elapsed time.
func (s *Store) FinishRun(runID, status string, elapsed time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE runs SET status = ?, elapsed_ms = ? WHERE run_id = ?`,
		status, elapsed.Milliseconds(), runID)
	if err != nil {
		return fmt.Errorf("report: finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("report: finish run %s: no such run", runID)
	}
	return nil
}

// RecordScore stores the winning model of one (entry, kernel) pair.
//
// Expectations:
//   - Re-recording the same (run, kernel, entry) replaces the earlier score
//   - Safe to call from concurrent pipeline jobs
func (s *Store) RecordScore(e types.EntryScored) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT OR REPLACE INTO scores
		(run_id, entry, i, j, kernel, family, c, cv_rmse, test_rmse, train_size, test_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Entry, e.I, e.J, e.Kernel, e.Family, e.C, e.CVRMSE, e.TestRMSE, e.TrainSize, e.TestSize)
	if err != nil {
		return fmt.Errorf("report: record score %s/%s/%d: %w", e.RunID, e.Kernel, e.Entry, err)
	}
	return nil
}

// ListRuns returns every run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, started, lat_rows, lat_cols, samples, shots, seed,
		delta, mom_groups, folds, test_frac, status, COALESCE(elapsed_ms, 0)
		FROM runs ORDER BY started DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("report: list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r       Run
			started float64
			seed    int64
		)
		if err := rows.Scan(&r.Params.RunID, &started, &r.Params.Rows, &r.Params.Cols, &r.Params.Samples,
			&r.Params.Shots, &seed, &r.Params.Delta, &r.Params.Groups, &r.Params.Folds, &r.Params.TestFrac,
			&r.Status, &r.ElapsedMs); err != nil {
			return nil, fmt.Errorf("report: scan run: %w", err)
		}
		r.Params.Seed = uint64(seed)
		sec := int64(started)
		r.Started = time.Unix(sec, int64((started-float64(sec))*1e9))
		out = append(out, r)
	}
	return out, rows.Err()
}

// Scores returns every score of a run ordered by kernel, then entry.
func (s *Store) Scores(ctx context.Context, runID string) ([]types.EntryScored, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entry, i, j, kernel, family, c, cv_rmse, test_rmse,
		train_size, test_size FROM scores WHERE run_id = ? ORDER BY kernel, entry`, runID)
	if err != nil {
		return nil, fmt.Errorf("report: scores %s: %w", runID, err)
	}
	defer rows.Close()

	var out []types.EntryScored
	for rows.Next() {
		e := types.EntryScored{RunID: runID}
		if err := rows.Scan(&e.Entry, &e.I, &e.J, &e.Kernel, &e.Family, &e.C, &e.CVRMSE, &e.TestRMSE,
			&e.TrainSize, &e.TestSize); err != nil {
			return nil, fmt.Errorf("report: scan score: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Summaries aggregates a run's scores per kernel, ordered by mean test RMSE.
func (s *Store) Summaries(ctx context.Context, runID string) ([]KernelSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kernel, COUNT(*), AVG(cv_rmse), AVG(test_rmse)
		FROM scores WHERE run_id = ? GROUP BY kernel ORDER BY AVG(test_rmse), kernel`, runID)
	if err != nil {
		return nil, fmt.Errorf("report: summaries %s: %w", runID, err)
	}
	defer rows.Close()

	var out []KernelSummary
	for rows.Next() {
		var k KernelSummary
		if err := rows.Scan(&k.Kernel, &k.Entries, &k.MeanCV, &k.MeanTest); err != nil {
			return nil, fmt.Errorf("report: scan summary: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
