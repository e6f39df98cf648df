package notification

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"crypto-signal-backend/internal/model"
)

// SignalAlerter turns high-confidence signals into alerts. It satisfies the
// scheduler's Sink and suppresses repeats: a (symbol, timeframe) alerts
// again only when its direction changes.
type SignalAlerter struct {
	notifier  Notifier
	threshold float64

	mu   sync.Mutex
	last map[string]model.Direction
}

// NewSignalAlerter creates an alerter that fires at or above threshold
// confidence. NEUTRAL and insufficient-data signals never alert.
func NewSignalAlerter(notifier Notifier, threshold float64) *SignalAlerter {
	return &SignalAlerter{
		notifier:  notifier,
		threshold: threshold,
		last:      make(map[string]model.Direction),
	}
}

// Publish scans a cycle result and sends one alert per newly flipped
// high-confidence signal.
func (a *SignalAlerter) Publish(ctx context.Context, result *model.CycleResult) error {
	tfs := make([]model.Timeframe, 0, len(result.Signals))
	for tf := range result.Signals {
		tfs = append(tfs, tf)
	}
	sort.Slice(tfs, func(i, j int) bool { return tfs[i].Duration() < tfs[j].Duration() })

	var firstErr error
	for _, tf := range tfs {
		sig := result.Signals[tf]
		if !a.shouldAlert(&sig) {
			continue
		}
		if err := a.notifier.Send(ctx, buildAlert(&sig)); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("alert %s: %w", sig.Key(), err)
		}
	}
	return firstErr
}

func (a *SignalAlerter) shouldAlert(sig *model.Signal) bool {
	if sig.Direction == model.DirectionNeutral ||
		sig.DataQuality != model.DataFull ||
		sig.Confidence < a.threshold {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	key := sig.Key()
	if a.last[key] == sig.Direction {
		return false
	}
	a.last[key] = sig.Direction
	return true
}

func buildAlert(sig *model.Signal) Alert {
	level := AlertInfo
	if sig.Confidence >= 90 {
		level = AlertWarning
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("%s %s %s (%.0f%%)", sig.Symbol, sig.Timeframe, sig.Direction, sig.Confidence),
		Message: fmt.Sprintf("entry %.2f, stop %.2f, target %.2f, regime %s",
			sig.EntryPrice, sig.StopLoss, sig.TakeProfit, sig.Regime),
	}
}
