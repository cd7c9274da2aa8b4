package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kansa/internal/model"
)

// CreateRun inserts a new review run in pending state.
func (db *DB) CreateRun(ctx context.Context, run *model.Run) error {
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("storage: encode run config: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO runs (id, customer_id, config, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.CustomerID, cfg, string(run.Status), run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, customer_id, config, status, decision, summary, context, created_at, completed_at
		 FROM runs WHERE id = $1`, id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("storage: run %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs ordered by creation time descending, newest first,
// with the total count for pagination.
func (db *DB) ListRuns(ctx context.Context, limit, offset int) ([]model.Run, int, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count runs: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, customer_id, config, status, decision, summary, context, created_at, completed_at
		 FROM runs ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, total, rows.Err()
}

// MarkRunRunning transitions a run from pending to running. The status
// guard in the WHERE clause makes double execution a visible error instead
// of a silent overwrite.
func (db *DB) MarkRunRunning(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE runs SET status = $1 WHERE id = $2 AND status = $3`,
		string(model.RunStatusRunning), id, string(model.RunStatusPending))
	if err != nil {
		return fmt.Errorf("storage: mark run running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: run not found or not pending: %s", id)
	}
	return nil
}

// CompleteRun records the terminal status, decision, summary, and frozen
// run context. Only a running run can complete.
func (db *DB) CompleteRun(ctx context.Context, id uuid.UUID, status model.RunStatus,
	decision *model.Decision, summary, frozen map[string]any) error {

	if !status.Terminal() {
		return fmt.Errorf("storage: %q is not a terminal status", status)
	}

	var decisionStr *string
	if decision != nil {
		s := string(*decision)
		decisionStr = &s
	}
	if summary == nil {
		summary = map[string]any{}
	}
	if frozen == nil {
		frozen = map[string]any{}
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE runs SET status = $1, decision = $2, summary = $3, context = $4, completed_at = $5
		 WHERE id = $6 AND status = $7`,
		string(status), decisionStr, summary, frozen, time.Now().UTC(),
		id, string(model.RunStatusRunning))
	if err != nil {
		return fmt.Errorf("storage: complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: run not found or not running: %s", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.Run, error) {
	var run model.Run
	var cfg []byte
	var status string
	var decision *string

	if err := row.Scan(&run.ID, &run.CustomerID, &cfg, &status, &decision,
		&run.Summary, &run.Context, &run.CreatedAt, &run.CompletedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(cfg, &run.Config); err != nil {
		return nil, fmt.Errorf("decode run config: %w", err)
	}
	run.Status = model.RunStatus(status)
	if decision != nil {
		d := model.Decision(*decision)
		run.Decision = &d
	}
	return &run, nil
}
