package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto-signal-backend/config"
	"crypto-signal-backend/internal/api"
	"crypto-signal-backend/internal/confluence"
	"crypto-signal-backend/internal/coordinator"
	"crypto-signal-backend/internal/gateway"
	"crypto-signal-backend/internal/logger"
	"crypto-signal-backend/internal/marketdata/binance"
	"crypto-signal-backend/internal/metrics"
	"crypto-signal-backend/internal/model"
	"crypto-signal-backend/internal/notification"
	"crypto-signal-backend/internal/pricecache"
	"crypto-signal-backend/internal/risk"
	"crypto-signal-backend/internal/scheduler"
	redisstore "crypto-signal-backend/internal/store/redis"
	sqlitestore "crypto-signal-backend/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("signal-engine", slog.LevelInfo)

	cfg, err := config.Load(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatalf("[signalengine] config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[signalengine] config: %v", err)
	}
	log.Printf("[signalengine] symbols: %v, cycle interval: %s", cfg.Symbols, cfg.Engine.CycleInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics()

	// Market data: Binance spot REST for candles and 24hr tickers.
	var exchangeOpts []binance.Option
	if cfg.Binance.BaseURL != "" {
		exchangeOpts = append(exchangeOpts, binance.WithBaseURL(cfg.Binance.BaseURL))
	}
	exchange := binance.New(exchangeOpts...)

	cache := pricecache.New(&meteredProvider{inner: exchange, m: m}, pricecache.Config{
		Freshness:       cfg.Engine.PriceFreshness,
		MinRefetch:      cfg.Engine.MinRefetch,
		RefreshInterval: cfg.Engine.CycleInterval,
	})
	cache.OnDedup = func(string) { m.FetchDedupHits.Inc() }
	go cache.Run(ctx)

	engine := confluence.NewEngine(nil)
	coord := coordinator.New(exchange, cache, engine, coordinator.Config{
		Workers:     cfg.Engine.Workers,
		CandleLimit: cfg.Engine.CandleLimit,
	})

	// Stores. Redis serves the hot path, SQLite the durable history.
	redisWriter, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatalf("[signalengine] redis writer: %v", err)
	}
	defer redisWriter.Close()
	redisWriter.OnWrite = func(d time.Duration) { m.RedisWriteDur.Observe(d.Seconds()) }
	redisWriter.OnBreakerChange = func(_, to redisstore.State) {
		m.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			m.RedisCircuitBreakerTrips.Inc()
		}
	}

	redisReader, err := redisstore.NewReader(redisstore.ReaderConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatalf("[signalengine] redis reader: %v", err)
	}
	defer redisReader.Close()

	sqliteWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.Database.SQLitePath})
	if err != nil {
		log.Fatalf("[signalengine] sqlite writer: %v", err)
	}
	defer sqliteWriter.Close()
	sqliteWriter.OnCommit = func(d time.Duration) { m.SQLiteCommitDur.Observe(d.Seconds()) }

	sqliteReader, err := sqlitestore.NewReader(cfg.Database.SQLitePath)
	if err != nil {
		log.Fatalf("[signalengine] sqlite reader: %v", err)
	}
	defer sqliteReader.Close()

	riskSvc := risk.NewService(risk.ServiceConfig{
		Balance:    cfg.Risk.Balance,
		RiskPct:    cfg.Risk.RiskPct,
		Iterations: cfg.Risk.MCIterations,
		CacheTTL:   cfg.Risk.CacheTTL,
	})

	// Alerts go to every configured channel, the log when there is none.
	var backends []notification.Notifier
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
		log.Println("[signalengine] telegram alerts enabled")
	}
	if cfg.Webhook.URL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.Webhook.URL))
		log.Printf("[signalengine] webhook alerts enabled: %s", cfg.Webhook.URL)
	}
	var notifier notification.Notifier
	switch len(backends) {
	case 0:
		notifier = notification.NewLogNotifier()
	case 1:
		notifier = backends[0]
	default:
		notifier = notification.NewFanout(backends...)
	}
	alerter := notification.NewSignalAlerter(notifier, cfg.Engine.HighConfidence)

	health := metrics.NewHealthStatus(cfg.Symbols)

	sinks := []scheduler.Sink{
		redisWriter,
		sqliteWriter,
		alerter,
		&metricsSink{m: m, health: health},
	}
	sched := scheduler.New(&instrumentedRunner{inner: coord, m: m}, sinks, scheduler.Config{
		Interval: cfg.Engine.CycleInterval,
		MinGap:   cfg.Engine.MinCycleGap,
		Symbols:  cfg.Symbols,
	})
	sched.OnReject = func(reason string) { m.CycleRejections.WithLabelValues(reason).Inc() }
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("[signalengine] scheduler: %v", err)
	}

	// WebSocket gateway fed by the Redis signal pubsub.
	hub := gateway.NewHub()
	hub.OnBroadcast = func() { m.WSBroadcasts.Inc() }
	hub.OnSendFailure = func() { m.WSSendFailures.Inc() }
	hub.OnClientCount = func(n int) { m.WSClients.Set(float64(n)) }
	go gateway.RunPubSub(ctx, hub, redisReader)

	gw := gateway.NewServer(cfg.HTTP.GatewayAddr, hub)
	gw.Start()

	apiSrv := &http.Server{
		Addr: cfg.HTTP.APIAddr,
		Handler: api.NewRouter(api.Deps{
			Signals:    redisReader,
			History:    sqliteReader,
			Candles:    exchange,
			Risk:       riskSvc,
			RiskStore:  sqliteWriter,
			Trigger:    sched,
			Timeframes: model.AllTimeframes,
		}),
	}
	go func() {
		log.Printf("[signalengine] api listening on %s", cfg.HTTP.APIAddr)
		if err := apiSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[signalengine] api server: %v", err)
		}
	}()

	health.StartLivenessChecker(ctx, redisWriter.Client(), sqliteWriter.DB(), 15*time.Second)
	metricsSrv := metrics.NewServer(cfg.HTTP.MetricsAddr, health)
	metricsSrv.Start()

	// Warm the caches with one cycle shortly after boot instead of waiting
	// out the first cron interval.
	go func() {
		time.Sleep(2 * time.Second)
		if err := sched.Trigger(ctx); err != nil {
			log.Printf("[signalengine] initial cycle: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[signalengine] shutting down...")
	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	apiSrv.Shutdown(shutdownCtx)
	gw.Stop(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	log.Println("[signalengine] bye")
}

// meteredProvider counts upstream ticker fetches and their failures.
type meteredProvider struct {
	inner pricecache.Provider
	m     *metrics.Metrics
}

func (p *meteredProvider) CurrentPrice(ctx context.Context, symbol string) (model.PriceSnapshot, error) {
	p.m.UpstreamFetches.Inc()
	snap, err := p.inner.CurrentPrice(ctx, symbol)
	if err != nil {
		p.m.PriceFetchErrors.Inc()
	}
	return snap, err
}

// instrumentedRunner times each cycle around the coordinator.
type instrumentedRunner struct {
	inner *coordinator.Coordinator
	m     *metrics.Metrics
}

func (r *instrumentedRunner) RunCycle(ctx context.Context, symbol string) (*model.CycleResult, error) {
	start := time.Now()
	result, err := r.inner.RunCycle(ctx, symbol)
	if err == nil {
		r.m.CyclesTotal.Inc()
		r.m.CycleDur.Observe(time.Since(start).Seconds())
	}
	return result, err
}

// metricsSink records per-cycle outcomes as a scheduler sink.
type metricsSink struct {
	m      *metrics.Metrics
	health *metrics.HealthStatus
}

func (s *metricsSink) Publish(ctx context.Context, result *model.CycleResult) error {
	for _, sig := range result.Signals {
		s.m.SignalsTotal.WithLabelValues(string(sig.Direction)).Inc()
	}
	for tf := range result.Errors {
		s.m.TimeframeErrors.WithLabelValues(string(tf)).Inc()
	}
	s.m.AgreementScore.Set(result.Agreement)
	s.health.SetLastCycleTime(time.Now())
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
