// Package api serves the REST surface of the signal engine: latest signals
// with decay applied at read time, signal history, on-demand risk
// assessments, and the manual calculation trigger.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"crypto-signal-backend/internal/confluence"
	"crypto-signal-backend/internal/model"
	"crypto-signal-backend/internal/risk"
	"crypto-signal-backend/internal/scheduler"
	"crypto-signal-backend/internal/store/sqlite"
)

// staleAfter marks a served signal stale when it is older than two full
// cycle intervals.
const staleAfter = 8 * time.Minute

// SignalReader serves the latest signals, normally Redis-backed.
type SignalReader interface {
	LatestSignal(ctx context.Context, symbol string, tf model.Timeframe) (*model.Signal, error)
	LatestSignals(ctx context.Context, symbol string, tfs []model.Timeframe) (map[model.Timeframe]model.Signal, error)
}

// HistoryReader serves persisted history, normally SQLite-backed.
type HistoryReader interface {
	SignalHistory(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Signal, error)
	LatestRiskAssessment(ctx context.Context, symbol string, tf model.Timeframe) (*model.RiskAssessment, error)
	RecentCycles(ctx context.Context, limit int) ([]sqlite.CycleSummary, error)
}

// RiskSaver persists computed assessments. Saves are fire and forget.
type RiskSaver interface {
	SaveRiskAssessment(ctx context.Context, ra *model.RiskAssessment) error
}

// CandleSource fetches candles for on-demand risk assessment.
type CandleSource interface {
	Klines(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error)
}

// Trigger starts a calculation cycle, subject to the scheduler's guards.
type Trigger interface {
	Trigger(ctx context.Context) error
}

// Deps wires the router to its collaborators.
type Deps struct {
	Signals    SignalReader
	History    HistoryReader
	Candles    CandleSource
	Risk       *risk.Service
	RiskStore  RiskSaver // optional
	Trigger    Trigger
	Timeframes []model.Timeframe
}

// NewRouter builds the API mux.
func NewRouter(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/api/v1/signals", deps.handleSignals)
	mux.HandleFunc("/api/v1/signals/history", deps.handleHistory)
	mux.HandleFunc("/api/v1/risk", deps.handleRisk)
	mux.HandleFunc("/api/v1/calculate", deps.handleCalculate)
	mux.HandleFunc("/api/v1/cycles", deps.handleCycles)

	return mux
}

// handleSignals serves the latest signal per timeframe for one symbol.
// Confidence decays with signal age so a consumer never sees a stale
// conviction presented as fresh.
func (d *Deps) handleSignals(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	tfs := d.Timeframes
	if tfParam := r.URL.Query().Get("tf"); tfParam != "" {
		tf := model.Timeframe(tfParam)
		if !tf.Valid() {
			writeError(w, http.StatusBadRequest, "unknown timeframe "+tfParam)
			return
		}
		tfs = []model.Timeframe{tf}
	}

	signals, err := d.Signals.LatestSignals(r.Context(), symbol, tfs)
	if err != nil {
		log.Printf("[api] latest signals %s: %v", symbol, err)
		writeError(w, http.StatusBadGateway, "signal store unavailable")
		return
	}

	now := time.Now()
	out := make([]model.Signal, 0, len(signals))
	for tf, sig := range signals {
		age := now.Sub(sig.GeneratedAt)
		sig.Confidence = confluence.DecayConfidence(sig.Confidence, tf, age)
		sig.Stale = age > staleAfter
		out = append(out, sig)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":  symbol,
		"signals": out,
	})
}

func (d *Deps) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	tf := model.Timeframe(r.URL.Query().Get("tf"))
	if symbol == "" || !tf.Valid() {
		writeError(w, http.StatusBadRequest, "symbol and a valid tf are required")
		return
	}
	limit := queryInt(r, "limit", 50, 500)

	signals, err := d.History.SignalHistory(r.Context(), symbol, tf, limit)
	if err != nil {
		log.Printf("[api] history %s %s: %v", symbol, tf, err)
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":  symbol,
		"tf":      tf,
		"signals": signals,
	})
}

// handleRisk computes (or serves the cached) Monte-Carlo assessment for the
// latest signal of a (symbol, timeframe).
func (d *Deps) handleRisk(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	tf := model.Timeframe(r.URL.Query().Get("tf"))
	if symbol == "" || !tf.Valid() {
		writeError(w, http.StatusBadRequest, "symbol and a valid tf are required")
		return
	}

	sig, err := d.Signals.LatestSignal(r.Context(), symbol, tf)
	if err != nil {
		log.Printf("[api] risk lookup %s %s: %v", symbol, tf, err)
		writeError(w, http.StatusBadGateway, "signal store unavailable")
		return
	}
	if sig == nil {
		writeError(w, http.StatusNotFound, "no signal for "+symbol+" "+string(tf))
		return
	}

	candles, err := d.Candles.Klines(r.Context(), symbol, tf, 200)
	if err != nil {
		log.Printf("[api] risk candles %s %s: %v", symbol, tf, err)
		// A stale persisted assessment beats an error while upstream is down.
		if stale := d.persistedAssessment(r.Context(), symbol, tf); stale != nil {
			writeJSON(w, http.StatusOK, stale)
			return
		}
		writeError(w, http.StatusBadGateway, "market data unavailable")
		return
	}

	assessment, err := d.Risk.Assess(candles, sig)
	if err != nil {
		log.Printf("[api] risk assess %s %s: %v", symbol, tf, err)
		writeError(w, http.StatusUnprocessableEntity, "assessment failed: "+err.Error())
		return
	}

	if d.RiskStore != nil {
		saved := assessment
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := d.RiskStore.SaveRiskAssessment(ctx, &saved); err != nil {
				log.Printf("[api] save risk assessment %s: %v", saved.Symbol, err)
			}
		}()
	}
	writeJSON(w, http.StatusOK, assessment)
}

func (d *Deps) persistedAssessment(ctx context.Context, symbol string, tf model.Timeframe) *model.RiskAssessment {
	ra, err := d.History.LatestRiskAssessment(ctx, symbol, tf)
	if err != nil {
		log.Printf("[api] persisted assessment %s %s: %v", symbol, tf, err)
		return nil
	}
	return ra
}

// handleCalculate is the manual trigger. It obeys the same overlap and rate
// guards as the cron path; guarded rejections come back as 429.
func (d *Deps) handleCalculate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	err := d.Trigger.Trigger(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
	case errors.Is(err, scheduler.ErrCycleInProgress), errors.Is(err, scheduler.ErrTooSoon):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		log.Printf("[api] manual trigger: %v", err)
		writeError(w, http.StatusInternalServerError, "cycle failed")
	}
}

func (d *Deps) handleCycles(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20, 200)
	cycles, err := d.History.RecentCycles(r.Context(), limit)
	if err != nil {
		log.Printf("[api] cycles: %v", err)
		writeError(w, http.StatusInternalServerError, "cycle query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cycles": cycles})
}

func queryInt(r *http.Request, key string, def, max int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
