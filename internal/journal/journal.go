// Package journal persists closed trades and swarm reports to sqlite. It
// is a downstream consumer: the swarm core works identically with or
// without it, and journal failures never propagate into agent cycles.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/swarmlab/apiary/internal/database"
	"github.com/swarmlab/apiary/internal/domain"
	"github.com/swarmlab/apiary/internal/swarm"
	"github.com/swarmlab/apiary/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS closed_trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	direction TEXT NOT NULL,
	size REAL NOT NULL,
	entry_price REAL NOT NULL,
	owner_agent TEXT NOT NULL,
	opened_at TIMESTAMP NOT NULL,
	closed_at TIMESTAMP NOT NULL,
	realized_pnl REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_closed_trades_symbol ON closed_trades(symbol);

CREATE TABLE IF NOT EXISTS swarm_reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	generated_at TIMESTAMP NOT NULL,
	uptime_seconds REAL NOT NULL,
	total_attempted INTEGER NOT NULL,
	total_succeeded INTEGER NOT NULL,
	success_rate REAL NOT NULL,
	total_pnl REAL NOT NULL,
	agents TEXT NOT NULL
);
`

// ClosedTrade is one journal row.
type ClosedTrade struct {
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Direction   string    `json:"direction"`
	Size        float64   `json:"size"`
	EntryPrice  float64   `json:"entry_price"`
	OwnerAgent  string    `json:"owner_agent"`
	OpenedAt    time.Time `json:"opened_at"`
	ClosedAt    time.Time `json:"closed_at"`
	RealizedPnL float64   `json:"realized_pnl"`
}

// Journal is a write-mostly trade journal on an audit-grade sqlite file.
type Journal struct {
	db  *database.DB
	log zerolog.Logger
}

// New opens (or creates) the journal at the given path.
func New(path string, log zerolog.Logger) (*Journal, error) {
	db, err := database.New(database.Config{
		Path:    path,
		Profile: database.ProfileLedger,
		Name:    "journal",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	// The schema is several statements; apply it atomically so a partial
	// failure leaves no half-created tables behind.
	err = db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(schema)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply journal schema: %w", err)
	}

	jlog := logger.Component(log, "journal")
	jlog.Debug().Str("path", db.Path()).Msg("Journal opened")

	return &Journal{db: db, log: jlog}, nil
}

// Health pings the journal database and verifies file integrity.
func (j *Journal) Health(ctx context.Context) error {
	return j.db.HealthCheck(ctx)
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordClosedTrade implements domain.TradeRecorder.
func (j *Journal) RecordClosedTrade(ctx context.Context, pos *domain.Position, realizedPnL float64, closedAt time.Time) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO closed_trades
			(order_id, symbol, direction, size, entry_price, owner_agent, opened_at, closed_at, realized_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pos.OrderID, pos.Symbol, string(pos.Direction), pos.Size, pos.EntryPrice,
		pos.OwnerAgent, pos.OpenedAt, closedAt, realizedPnL,
	)
	if err != nil {
		return fmt.Errorf("failed to journal closed trade %s: %w", pos.OrderID, err)
	}

	j.log.Debug().Str("order_id", pos.OrderID).Float64("pnl", realizedPnL).Msg("Trade journaled")
	return nil
}

// RecordReport journals a swarm report, typically the final one at stop.
func (j *Journal) RecordReport(ctx context.Context, r *swarm.Report) error {
	agents, err := json.Marshal(r.Agents)
	if err != nil {
		return fmt.Errorf("failed to marshal agent reports: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO swarm_reports
			(generated_at, uptime_seconds, total_attempted, total_succeeded, success_rate, total_pnl, agents)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.GeneratedAt, r.Uptime.Seconds(), r.TotalAttempted, r.TotalSucceeded,
		r.SuccessRate, r.TotalPnL, string(agents),
	)
	if err != nil {
		return fmt.Errorf("failed to journal swarm report: %w", err)
	}

	j.log.Info().Uint64("total_attempted", r.TotalAttempted).Msg("Swarm report journaled")
	return nil
}

// ClosedTrades returns the most recent journal rows, newest first.
func (j *Journal) ClosedTrades(ctx context.Context, limit int) ([]ClosedTrade, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT order_id, symbol, direction, size, entry_price, owner_agent, opened_at, closed_at, realized_pnl
		FROM closed_trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed trades: %w", err)
	}
	defer rows.Close()

	var out []ClosedTrade
	for rows.Next() {
		var t ClosedTrade
		if err := rows.Scan(&t.OrderID, &t.Symbol, &t.Direction, &t.Size, &t.EntryPrice,
			&t.OwnerAgent, &t.OpenedAt, &t.ClosedAt, &t.RealizedPnL); err != nil {
			return nil, fmt.Errorf("failed to scan closed trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Checkpoint truncates the WAL. Called from the maintenance scheduler.
func (j *Journal) Checkpoint() error {
	return j.db.WALCheckpoint()
}
