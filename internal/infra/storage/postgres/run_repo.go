package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/trminhdn/signalflow/internal/core/domain"
)

// RunRepo implements storage.RunRepository using PostgreSQL.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new PostgreSQL run repository.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// SaveRun saves a run report to the database.
func (r *RunRepo) SaveRun(ctx context.Context, run *domain.RunReport) error {
	var sentiment, recommendation, risk []byte
	var err error
	if run.Sentiment != nil {
		if sentiment, err = json.Marshal(run.Sentiment); err != nil {
			return fmt.Errorf("failed to marshal sentiment: %w", err)
		}
	}
	if run.Recommendation != nil {
		if recommendation, err = json.Marshal(run.Recommendation); err != nil {
			return fmt.Errorf("failed to marshal recommendation: %w", err)
		}
	}
	if run.Risk != nil {
		if risk, err = json.Marshal(run.Risk); err != nil {
			return fmt.Errorf("failed to marshal risk: %w", err)
		}
	}

	query := `
		INSERT INTO runs (id, symbols, started_at, finished_at, steps_done, skipped, skip_reason, sentiment, recommendation, risk, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		pq.StringArray(run.Symbols),
		run.StartedAt,
		run.FinishedAt,
		int(run.StepsDone),
		run.Skipped,
		run.SkipReason,
		sentiment,
		recommendation,
		risk,
		run.Err,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

type runRow struct {
	ID             string         `db:"id"`
	Symbols        pq.StringArray `db:"symbols"`
	StartedAt      time.Time      `db:"started_at"`
	FinishedAt     time.Time      `db:"finished_at"`
	StepsDone      int            `db:"steps_done"`
	Skipped        bool           `db:"skipped"`
	SkipReason     string         `db:"skip_reason"`
	Sentiment      []byte         `db:"sentiment"`
	Recommendation []byte         `db:"recommendation"`
	Risk           []byte         `db:"risk"`
	Err            string         `db:"error"`
}

func (row *runRow) toDomain() (*domain.RunReport, error) {
	run := &domain.RunReport{
		ID:         row.ID,
		Symbols:    []string(row.Symbols),
		StartedAt:  row.StartedAt,
		FinishedAt: row.FinishedAt,
		StepsDone:  domain.RunStep(row.StepsDone),
		Skipped:    row.Skipped,
		SkipReason: row.SkipReason,
		Err:        row.Err,
	}

	if len(row.Sentiment) > 0 {
		if err := json.Unmarshal(row.Sentiment, &run.Sentiment); err != nil {
			return nil, fmt.Errorf("corrupt sentiment for run %s: %w", row.ID, err)
		}
	}
	if len(row.Recommendation) > 0 {
		if err := json.Unmarshal(row.Recommendation, &run.Recommendation); err != nil {
			return nil, fmt.Errorf("corrupt recommendation for run %s: %w", row.ID, err)
		}
	}
	if len(row.Risk) > 0 {
		if err := json.Unmarshal(row.Risk, &run.Risk); err != nil {
			return nil, fmt.Errorf("corrupt risk for run %s: %w", row.ID, err)
		}
	}
	return run, nil
}

// RecentRuns retrieves the most recent runs, newest first.
func (r *RunRepo) RecentRuns(ctx context.Context, limit int) ([]*domain.RunReport, error) {
	query := `
		SELECT id, symbols, started_at, finished_at, steps_done, skipped, skip_reason, sentiment, recommendation, risk, error
		FROM runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	var rows []runRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to select recent runs: %w", err)
	}

	runs := make([]*domain.RunReport, 0, len(rows))
	for i := range rows {
		run, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// DeleteRunsBefore removes runs started before the cutoff.
func (r *RunRepo) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}
	return res.RowsAffected()
}
