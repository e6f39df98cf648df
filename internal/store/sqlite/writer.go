// Package sqlite persists signal and risk assessment history for the HTTP
// API. One writer owns the database; each cycle commits in a single
// transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"crypto-signal-backend/internal/model"
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // e.g. "data/signals.db"
}

// Writer is a single-connection SQLite writer with per-cycle transactions.
type Writer struct {
	db *sql.DB

	// OnCommit, when set, observes the latency of each cycle commit.
	OnCommit func(time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database in WAL mode and ensures the schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS signals (
			symbol       TEXT    NOT NULL,
			timeframe    TEXT    NOT NULL,
			generated_at INTEGER NOT NULL,
			direction    TEXT    NOT NULL,
			confidence   REAL    NOT NULL,
			entry_price  REAL    NOT NULL,
			stop_loss    REAL    NOT NULL,
			take_profit  REAL    NOT NULL,
			regime       TEXT    NOT NULL,
			data_quality TEXT    NOT NULL,
			payload      TEXT    NOT NULL,
			PRIMARY KEY (symbol, timeframe, generated_at)
		);
		CREATE INDEX IF NOT EXISTS idx_signals_symbol_ts
			ON signals (symbol, generated_at DESC);

		CREATE TABLE IF NOT EXISTS risk_assessments (
			symbol        TEXT    NOT NULL,
			timeframe     TEXT    NOT NULL,
			assessed_at   INTEGER NOT NULL,
			var95         REAL    NOT NULL,
			sharpe        REAL    NOT NULL,
			max_drawdown  REAL    NOT NULL,
			position_size REAL    NOT NULL,
			payload       TEXT    NOT NULL,
			PRIMARY KEY (symbol, timeframe, assessed_at)
		);

		CREATE TABLE IF NOT EXISTS cycles (
			symbol     TEXT    NOT NULL,
			started_at INTEGER NOT NULL,
			agreement  REAL    NOT NULL,
			confidence REAL    NOT NULL,
			signals    INTEGER NOT NULL,
			errors     INTEGER NOT NULL,
			PRIMARY KEY (symbol, started_at)
		);
	`)
	return err
}

// Publish writes every signal of a cycle plus the cycle summary row in one
// transaction. Satisfies the scheduler's Sink.
func (w *Writer) Publish(ctx context.Context, result *model.CycleResult) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO signals
			(symbol, timeframe, generated_at, direction, confidence,
			 entry_price, stop_loss, take_profit, regime, data_quality, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, sig := range result.Signals {
		if _, err := stmt.ExecContext(ctx,
			sig.Symbol, string(sig.Timeframe), sig.GeneratedAt.Unix(),
			string(sig.Direction), sig.Confidence,
			sig.EntryPrice, sig.StopLoss, sig.TakeProfit,
			string(sig.Regime), string(sig.DataQuality), string(sig.JSON()),
		); err != nil {
			return fmt.Errorf("sqlite insert signal %s: %w", sig.Key(), err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO cycles
			(symbol, started_at, agreement, confidence, signals, errors)
		VALUES (?, ?, ?, ?, ?, ?)`,
		result.Symbol, result.Snapshot.FetchedAt.Unix(),
		result.Agreement, result.Confidence,
		len(result.Signals), len(result.Errors),
	); err != nil {
		return fmt.Errorf("sqlite insert cycle %s: %w", result.Symbol, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	if w.OnCommit != nil {
		w.OnCommit(time.Since(start))
	}
	log.Printf("[sqlite] committed %d signals for %s in %v",
		len(result.Signals), result.Symbol, time.Since(start))
	return nil
}

// SaveRiskAssessment persists one on-demand risk assessment.
func (w *Writer) SaveRiskAssessment(ctx context.Context, ra *model.RiskAssessment) error {
	payload, err := json.Marshal(ra)
	if err != nil {
		return fmt.Errorf("marshal risk assessment: %w", err)
	}
	if _, err := w.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO risk_assessments
			(symbol, timeframe, assessed_at, var95, sharpe, max_drawdown, position_size, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ra.Symbol, string(ra.Timeframe), ra.ComputedAt.Unix(),
		ra.ValueAtRisk95, ra.SharpeRatio, ra.MaxDrawdown, ra.PositionSize, string(payload),
	); err != nil {
		return fmt.Errorf("sqlite insert risk assessment: %w", err)
	}
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
