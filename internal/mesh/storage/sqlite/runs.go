package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/visualmesh/internal/timeutil"
)

// ErrRunNotFound is returned when a run ID is not in the database.
var ErrRunNotFound = errors.New("run not found")

// Run is one pipeline execution recorded in the runs table.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Config     json.RawMessage
	Stats      json.RawMessage // nil until finished
	Error      string          // empty for successful runs
}

// Finished reports whether Finish has been called for the run.
func (r *Run) Finished() bool { return r.FinishedAt != nil }

// RunStore manages persistence for pipeline runs.
type RunStore struct {
	db    *DB
	clock timeutil.Clock
}

// NewRunStore creates a RunStore backed by db. A nil clock uses the wall
// clock.
func NewRunStore(db *DB, clock timeutil.Clock) *RunStore {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &RunStore{db: db, clock: clock}
}

// Start records a new run with the given configuration snapshot. An empty
// configJSON is stored as an empty object.
func (s *RunStore) Start(ctx context.Context, configJSON []byte) (*Run, error) {
	if len(configJSON) == 0 {
		configJSON = []byte("{}")
	}
	if !json.Valid(configJSON) {
		return nil, fmt.Errorf("run config is not valid JSON")
	}
	run := &Run{
		ID:        uuid.New().String(),
		StartedAt: s.clock.Now().UTC(),
		Config:    json.RawMessage(configJSON),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, config_json) VALUES (?, ?, ?)`,
		run.ID, run.StartedAt.UnixNano(), string(configJSON))
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// Finish records the outcome of run. stats is stored as JSON; runErr, if
// non-nil, is stored as the run's error message.
func (s *RunStore) Finish(ctx context.Context, run *Run, stats any, runErr error) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal run stats: %w", err)
	}
	finished := s.clock.Now().UTC()
	var errText sql.NullString
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, stats_json = ?, error = ? WHERE run_id = ?`,
		finished.UnixNano(), string(statsJSON), errText, run.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}

	run.FinishedAt = &finished
	run.Stats = json.RawMessage(statsJSON)
	run.Error = errText.String
	return nil
}

// Get loads the run with the given ID.
func (s *RunStore) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, started_at, finished_at, config_json, stats_json, error FROM runs WHERE run_id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// List returns up to limit runs, most recent first. A limit below 1 returns
// every run.
func (s *RunStore) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit < 1 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, started_at, finished_at, config_json, stats_json, error
		 FROM runs ORDER BY started_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		run        Run
		started    int64
		finished   sql.NullInt64
		configJSON string
		statsJSON  sql.NullString
		errText    sql.NullString
	)
	if err := sc.Scan(&run.ID, &started, &finished, &configJSON, &statsJSON, &errText); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.StartedAt = time.Unix(0, started).UTC()
	if finished.Valid {
		t := time.Unix(0, finished.Int64).UTC()
		run.FinishedAt = &t
	}
	run.Config = json.RawMessage(configJSON)
	if statsJSON.Valid {
		run.Stats = json.RawMessage(statsJSON.String)
	}
	run.Error = errText.String
	return &run, nil
}
