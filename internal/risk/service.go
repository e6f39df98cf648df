package risk

import (
	"sync"
	"time"

	"crypto-signal-backend/internal/model"
)

// ServiceConfig configures on-demand risk assessment.
type ServiceConfig struct {
	Balance    float64       // account balance used for position sizing
	RiskPct    float64       // per-trade risk fraction, e.g. 0.01
	Iterations int           // Monte-Carlo paths
	CacheTTL   time.Duration // how long an assessment stays fresh
}

// Service computes RiskAssessments on demand with a short-lived cache.
// Assessments are derived data: they live for one CacheTTL and are then
// recomputed from the current signal and candle history.
type Service struct {
	mu    sync.Mutex
	cfg   ServiceConfig
	cache map[string]cachedAssessment
	now   func() time.Time
}

type cachedAssessment struct {
	assessment model.RiskAssessment
	expires    time.Time
}

// NewService creates a risk assessment service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Iterations <= 0 {
		cfg.Iterations = DefaultIterations
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	return &Service{
		cfg:   cfg,
		cache: make(map[string]cachedAssessment),
		now:   time.Now,
	}
}

// Assess returns the risk assessment for a signal, recomputing when the
// cached entry has expired.
func (s *Service) Assess(candles []model.Candle, sig *model.Signal) (model.RiskAssessment, error) {
	key := sig.Key()

	s.mu.Lock()
	if entry, ok := s.cache[key]; ok && s.now().Before(entry.expires) {
		s.mu.Unlock()
		return entry.assessment, nil
	}
	s.mu.Unlock()

	assessment, err := MonteCarlo(candles, sig, MonteCarloParams{Iterations: s.cfg.Iterations})
	if err != nil {
		return assessment, err
	}

	stopDistance := sig.EntryPrice - sig.StopLoss
	if stopDistance < 0 {
		stopDistance = -stopDistance
	}
	if stopDistance > 0 {
		if size, err := PositionSize(s.cfg.Balance, s.cfg.RiskPct, stopDistance); err == nil {
			assessment.PositionSize = size
		}
	}
	assessment.ComputedAt = s.now()

	s.mu.Lock()
	s.cache[key] = cachedAssessment{assessment: assessment, expires: s.now().Add(s.cfg.CacheTTL)}
	s.mu.Unlock()

	return assessment, nil
}
