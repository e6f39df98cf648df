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

// Reader provides read-only access to signal and risk history.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// SignalHistory returns up to limit signals for one (symbol, timeframe),
// newest first. The full signal is rehydrated from the stored payload.
func (r *Reader) SignalHistory(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Signal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT payload FROM signals
		WHERE symbol = ? AND timeframe = ?
		ORDER BY generated_at DESC
		LIMIT ?`, symbol, string(tf), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query signals: %w", err)
	}
	defer rows.Close()

	var signals []model.Signal
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("sqlite scan signal: %w", err)
		}
		var sig model.Signal
		if err := json.Unmarshal([]byte(payload), &sig); err != nil {
			log.Printf("[sqlite-reader] bad signal payload for %s %s: %v", symbol, tf, err)
			continue
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// LatestRiskAssessment returns the newest stored assessment for a
// (symbol, timeframe), or (nil, nil) when none exists.
func (r *Reader) LatestRiskAssessment(ctx context.Context, symbol string, tf model.Timeframe) (*model.RiskAssessment, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, `
		SELECT payload FROM risk_assessments
		WHERE symbol = ? AND timeframe = ?
		ORDER BY assessed_at DESC
		LIMIT 1`, symbol, string(tf)).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite query risk assessment: %w", err)
	}

	var ra model.RiskAssessment
	if err := json.Unmarshal([]byte(payload), &ra); err != nil {
		return nil, fmt.Errorf("unmarshal risk assessment: %w", err)
	}
	return &ra, nil
}

// CycleSummary is one row of the cycles table.
type CycleSummary struct {
	Symbol     string    `json:"symbol"`
	StartedAt  time.Time `json:"started_at"`
	Agreement  float64   `json:"agreement"`
	Confidence float64   `json:"confidence"`
	Signals    int       `json:"signals"`
	Errors     int       `json:"errors"`
}

// RecentCycles returns the newest cycle summaries across all symbols.
func (r *Reader) RecentCycles(ctx context.Context, limit int) ([]CycleSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, started_at, agreement, confidence, signals, errors
		FROM cycles
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query cycles: %w", err)
	}
	defer rows.Close()

	var cycles []CycleSummary
	for rows.Next() {
		var c CycleSummary
		var ts int64
		if err := rows.Scan(&c.Symbol, &ts, &c.Agreement, &c.Confidence, &c.Signals, &c.Errors); err != nil {
			return nil, fmt.Errorf("sqlite scan cycle: %w", err)
		}
		c.StartedAt = time.Unix(ts, 0).UTC()
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// Close closes the database.
func (r *Reader) Close() error {
	return r.db.Close()
}
