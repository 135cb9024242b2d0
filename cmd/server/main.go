// Package main is the entry point for the vnquant trading system: it
// wires the market-data ingestion pipeline, the agent decision
// pipeline, the order management layer and the HTTP status surface,
// then runs them until a shutdown signal arrives.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/hoangvu/vnquant/internal/clients/ssi"
	"github.com/hoangvu/vnquant/internal/config"
	"github.com/hoangvu/vnquant/internal/database"
	"github.com/hoangvu/vnquant/internal/domain"
	"github.com/hoangvu/vnquant/internal/events"
	"github.com/hoangvu/vnquant/internal/modules/agents"
	"github.com/hoangvu/vnquant/internal/modules/ingestion"
	"github.com/hoangvu/vnquant/internal/modules/marketstore"
	"github.com/hoangvu/vnquant/internal/modules/portfolio"
	"github.com/hoangvu/vnquant/internal/modules/risk"
	"github.com/hoangvu/vnquant/internal/modules/trading"
	"github.com/hoangvu/vnquant/internal/notify"
	"github.com/hoangvu/vnquant/internal/reliability"
	"github.com/hoangvu/vnquant/internal/resilience"
	"github.com/hoangvu/vnquant/internal/scheduler"
	"github.com/hoangvu/vnquant/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := newLogger("info")
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := newLogger(cfg.LogLevel)
	log.Info().Bool("dry_run", cfg.DryRun).Msg("Starting vnquant")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Databases. The order log gets the durable profile, the tick
	// store the high-volume one.
	tradingDB, err := openDatabase(cfg.TradingDBPath, database.ProfileLedger, "trading")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open trading database")
	}
	defer tradingDB.Close()

	marketDB, err := openDatabase(cfg.MarketDBPath, database.ProfileMarket, "market")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open market database")
	}
	defer marketDB.Close()

	bus := events.NewBus(log)

	// Repositories.
	orders := trading.NewOrderRepository(tradingDB, log)
	idem := trading.NewIdempotencyRepository(tradingDB, log)
	snapshots := agents.NewSnapshotRepository(tradingDB, log)
	ticks := marketstore.NewTickRepository(marketDB, log)

	// Broker adapter behind the resilience fabric.
	breaker := resilience.NewCircuitBreaker("ssi_rest", 5, 30*time.Second, log)
	broker := ssi.NewClient(ssi.Config{
		BaseURL:   cfg.SSI.BaseURL,
		AuthURL:   cfg.SSI.AuthURL,
		AccountID: cfg.SSI.AccountID,
		Creds: ssi.Credentials{
			ConsumerID:     cfg.SSI.ConsumerID,
			ConsumerSecret: cfg.SSI.ConsumerSecret,
			PrivateKey:     cfg.SSI.PrivateKey,
		},
	}, breaker, resilience.DefaultRetryPolicy(), log)

	signer := ssi.NewRequestSigner(cfg.SSI.ConsumerID, cfg.SSI.ConsumerSecret)
	stream := ssi.NewMarketWebSocket(cfg.SSI.WSURL, signer, log)

	symbols := make([]domain.Symbol, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols = append(symbols, domain.Symbol(s))
	}
	pipeline := ingestion.NewPipeline(stream, ticks, ingestion.NewBuffer(ingestion.DefaultBufferCapacity), bus, cfg.FlushInterval, symbols, log)

	// Trading layer.
	pf := portfolio.NewService(broker, portfolio.DefaultMaxAge, log)
	limits := risk.NewLimitsStore(domain.RiskLimits{
		MaxPositionPct:      decimal.NewFromFloat(cfg.Risk.MaxPositionPct),
		MaxConcentrationPct: decimal.NewFromFloat(cfg.Risk.MaxConcentrationPct),
		DailyLossLimitPct:   decimal.NewFromFloat(cfg.Risk.DailyLossLimitPct),
		KillSwitch:          cfg.Risk.KillSwitch,
	}, bus, log)
	orderSvc := trading.NewOrderService(broker, orders, idem, pf, limits, bus, cfg.DryRun, log)
	syncer := trading.NewStatusSynchronizer(broker, orders, bus, cfg.SyncInterval, log)

	// Agent pipeline. No external fundamentals provider is configured,
	// so the screener is pinned to the WATCH_SYMBOLS universe and the
	// fundamental stage runs on price data alone.
	var fin domain.FinancialData = noFinancials{log: log}
	screener := agents.NewScreener(fin, ticks, log)
	technical := agents.NewTechnicalAnalyzer(ticks, log)
	fundamental := agents.NewFundamentalAnalyzer(nil, fin, log)
	riskAgent := agents.NewRiskAgent(ticks, limits, log)
	executor := agents.NewExecutor(orderSvc, log)
	supervisor := agents.NewSupervisor(pf, screener, technical, fundamental, riskAgent, executor, snapshots, bus, log)

	trigger := &pipelineTrigger{sup: supervisor, cfg: agents.RunConfig{DryRun: cfg.DryRun, Watchlist: symbols}}

	// Scheduled jobs.
	exporter := marketstore.NewExporter(ticks, cfg.ParquetDir, log)

	var backuper scheduler.Backuper
	if cfg.Backup.Enabled {
		store, err := reliability.NewObjectStore(context.Background(), reliability.ObjectStoreConfig{
			EndpointURL:     cfg.Backup.EndpointURL,
			Region:          cfg.Backup.Region,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
			Bucket:          cfg.Backup.Bucket,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize backup object store")
		}
		backuper = reliability.NewBackupService(store,
			[]*database.DB{tradingDB, marketDB},
			cfg.ParquetDir, "", cfg.Backup.RetentionDays, log)
	}

	location, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load exchange time zone")
	}
	calendar := risk.NewCalendar(risk.VietnamHolidays2026())
	sched := scheduler.New(location, calendar, trigger, idem, exporter, backuper, log)
	if err := sched.Register(scheduler.Specs{
		Pipeline: cfg.Cron.Pipeline,
		Prune:    cfg.Cron.Prune,
		Export:   cfg.Cron.Export,
		Backup:   cfg.Cron.Backup,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register scheduled jobs")
	}

	srv := server.New(server.Config{
		Log:         log,
		Port:        cfg.Port,
		CORSOrigins: cfg.CORSOrigins,
		TradingDB:   tradingDB,
		MarketDB:    marketDB,
		Pipeline:    pipeline,
		Orders:      orders,
		Runs:        snapshots,
		Breakers:    []*resilience.CircuitBreaker{breaker},
		Trigger:     trigger,
		Bus:         bus,
		GeneralTier: resilience.TierConfig{PerSecond: cfg.GeneralTier.PerSecond, Burst: cfg.GeneralTier.Burst},
		TriggerTier: resilience.TierConfig{PerSecond: cfg.TriggerTier.PerSecond, Burst: cfg.TriggerTier.Burst},
	})

	notify.BridgeEvents(bus, notify.NewLogNotifier(log))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return srv.Start() })
	log.Info().Int("port", cfg.Port).Msg("HTTP server started")

	if len(symbols) > 0 {
		g.Go(func() error { return pipeline.Run(runCtx) })
	} else {
		log.Warn().Msg("No WATCH_SYMBOLS configured, market ingestion disabled")
	}

	g.Go(func() error {
		syncer.Run(runCtx)
		return nil
	})

	sched.Start()
	log.Info().Msg("Scheduler started")

	<-runCtx.Done()
	log.Info().Msg("Shutting down")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Background worker exited with error")
	}

	log.Info().Msg("Stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}

func openDatabase(path string, profile database.Profile, name string) (*database.DB, error) {
	db, err := database.New(database.Config{Path: path, Profile: profile, Name: name})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// pipelineTrigger adapts the supervisor to the single-method trigger
// interfaces of the scheduler and the HTTP server.
type pipelineTrigger struct {
	sup *agents.Supervisor
	cfg agents.RunConfig
}

func (t *pipelineTrigger) TriggerRun(ctx context.Context) (string, error) {
	state, err := t.sup.Execute(ctx, t.cfg)
	return state.RunID, err
}

// noFinancials stands in when no fundamentals provider is configured.
// With a pinned run watchlist the screener never asks for the
// universe; statements come back empty, which the downstream agents
// treat as a missing-data warning rather than a failure.
type noFinancials struct {
	log zerolog.Logger
}

func (n noFinancials) Universe(ctx context.Context) ([]domain.Symbol, error) {
	n.log.Warn().Msg("No fundamentals provider configured, screener universe is empty")
	return nil, nil
}

func (n noFinancials) Statements(ctx context.Context, symbol domain.Symbol, periods int) ([]domain.FinancialStatement, error) {
	return nil, nil
}
