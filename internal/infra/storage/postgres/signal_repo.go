package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/trminhdn/signalflow/internal/core/domain"
)

// SignalRepo implements storage.SignalRepository using PostgreSQL.
type SignalRepo struct {
	db *DB
}

// NewSignalRepo creates a new PostgreSQL signal repository.
func NewSignalRepo(db *DB) *SignalRepo {
	return &SignalRepo{db: db}
}

// SaveBatch saves the signals produced by one run.
func (r *SignalRepo) SaveBatch(ctx context.Context, signals []domain.TradingSignal) error {
	if len(signals) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO signals (id, symbol, action, confidence, reasoning, target_price, stop_loss, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sig := range signals {
		_, err := stmt.ExecContext(ctx,
			sig.ID,
			sig.Symbol,
			string(sig.Action),
			sig.Confidence,
			sig.Reasoning,
			sig.TargetPrice,
			sig.StopLoss,
			sig.GeneratedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save signal %s: %w", sig.ID, err)
		}
	}

	return tx.Commit()
}

type signalRow struct {
	ID          string    `db:"id"`
	Symbol      string    `db:"symbol"`
	Action      string    `db:"action"`
	Confidence  float64   `db:"confidence"`
	Reasoning   string    `db:"reasoning"`
	TargetPrice float64   `db:"target_price"`
	StopLoss    float64   `db:"stop_loss"`
	GeneratedAt time.Time `db:"generated_at"`
}

func (row *signalRow) toDomain() domain.TradingSignal {
	return domain.TradingSignal{
		ID:          row.ID,
		Symbol:      row.Symbol,
		Action:      domain.SignalAction(row.Action),
		Confidence:  row.Confidence,
		Reasoning:   row.Reasoning,
		TargetPrice: row.TargetPrice,
		StopLoss:    row.StopLoss,
		GeneratedAt: row.GeneratedAt,
	}
}

// LatestBySymbol retrieves a symbol's most recent signals, newest first.
func (r *SignalRepo) LatestBySymbol(ctx context.Context, symbol string, limit int) ([]domain.TradingSignal, error) {
	query := `
		SELECT id, symbol, action, confidence, reasoning, target_price, stop_loss, generated_at
		FROM signals
		WHERE symbol = $1
		ORDER BY generated_at DESC
		LIMIT $2
	`

	var rows []signalRow
	if err := r.db.SelectContext(ctx, &rows, query, symbol, limit); err != nil {
		return nil, fmt.Errorf("failed to select signals for %s: %w", symbol, err)
	}

	signals := make([]domain.TradingSignal, 0, len(rows))
	for i := range rows {
		signals = append(signals, rows[i].toDomain())
	}
	return signals, nil
}

// DeleteSignalsBefore removes signals generated before the cutoff.
func (r *SignalRepo) DeleteSignalsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM signals WHERE generated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old signals: %w", err)
	}
	return res.RowsAffected()
}
