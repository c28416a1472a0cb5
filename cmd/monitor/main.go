package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"solana-forensics/config"
	httpHandler "solana-forensics/internal/adapter/http/handler"
	"solana-forensics/internal/adapter/http/middleware"
	"solana-forensics/internal/adapter/notify"
	solanaAdapter "solana-forensics/internal/adapter/solana"
	pgStorage "solana-forensics/internal/adapter/storage/postgres"
	redisStorage "solana-forensics/internal/adapter/storage/redis"
	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports"
	"solana-forensics/internal/service"
	"solana-forensics/pkg/logger"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	recentCacheTTL  = 24 * time.Hour
	shutdownTimeout = 10 * time.Second
	busBuffer       = 256
)

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	loader, err := config.NewLoader(os.Getenv("SFE_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg, err := loader.Config()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	if err := solanaAdapter.ValidateAddresses(cfg.Solana.WatchedAddresses); err != nil {
		log.Fatal().Err(err).Msg("Invalid watched address")
	}

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Int("watched", len(cfg.Solana.WatchedAddresses)).
		Msg("Starting Solana forensics monitor")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, loader, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Monitor stopped with error")
	}
	log.Info().Msg("Monitor exited")
}

func run(ctx context.Context, loader *config.Loader, cfg *config.Config, log zerolog.Logger) error {
	detection := config.NewDetectionStore(cfg.Detection)

	var (
		evidenceRepo ports.EvidenceRepository
		alertRepo    ports.AlertRepository
		auditRepo    ports.AuditRepository
		checkers     []ports.HealthChecker
	)
	if cfg.Database.Enabled {
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		if err := pgStorage.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
		log.Info().Msg("PostgreSQL connected")

		evidenceRepo = pgStorage.NewEvidenceRepo(pool)
		alertRepo = pgStorage.NewAlertRepo(pool)
		auditRepo = pgStorage.NewAuditRepo(pool)
		checkers = append(checkers, pgStorage.NewHealthCheck(pool))
	}

	var (
		rdb       *goredis.Client
		rateStore *redisStorage.RateLimitStore
		cache     ports.RecentTxCache = service.NewRecentTxCache(cfg.Detection.RecentCacheSize)
	)
	if cfg.Redis.Enabled {
		var err error
		rdb, err = redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		log.Info().Msg("Redis connected")

		cache = redisStorage.NewRecentTxCache(rdb, cfg.Detection.RecentCacheSize, recentCacheTTL)
		rateStore = redisStorage.NewRateLimitStore(rdb)
		checkers = append(checkers, redisStorage.NewHealthCheck(rdb))
	}

	var producer sarama.SyncProducer
	if slices.Contains(cfg.Notify.Channels, notify.ChannelKafka) {
		p, err := notify.NewKafkaProducer(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer p.Close()
		producer = p
	}

	channels, err := notify.Build(cfg.Notify, cfg.Kafka, notify.Deps{
		Redis:      rdb,
		HTTPClient: &http.Client{Timeout: cfg.Notify.ChannelTimeout},
		Kafka:      producer,
		Log:        logger.Component(log, "notify"),
	})
	if err != nil {
		return fmt.Errorf("build notification channels: %w", err)
	}
	dispatcher := service.NewAlertDispatcher(channels, cfg.Notify.ChannelTimeout, logger.Component(log, "dispatcher"))
	log.Info().Strs("channels", dispatcher.Channels()).Msg("Alert channels ready")

	// Core services
	trail := service.NewAuditTrail(auditRepo, cfg.Audit.Retention(), logger.Component(log, "audit"))
	ledger := service.NewEvidenceLedger(evidenceRepo, trail, logger.Component(log, "evidence"))
	alerts := service.NewAlertService(alertRepo, dispatcher, trail, logger.Component(log, "alerts"))
	exports := service.NewExportService(ledger, trail, logger.Component(log, "exports"))

	rpc := solanaAdapter.NewRPCClient(cfg.Solana, logger.Component(log, "rpc"))
	tracer := service.NewFlowTracer(rpc, detection, logger.Component(log, "tracer"))
	traces := service.NewTraceService(tracer, ledger, trail, cfg.Solana.Timeout, logger.Component(log, "traces"))

	engine := service.NewRuleEngine(service.DefaultFieldRegistry(), detection, logger.Component(log, "rules"))
	if err := service.RegisterDefaultRules(engine); err != nil {
		return fmt.Errorf("register default rules: %w", err)
	}
	rules := service.NewRuleService(engine, trail, logger.Component(log, "rules"))

	bus := service.NewEventBus(logger.Component(log, "bus"))
	monitor := service.NewMonitor(engine, traces, cache, bus, trail, detection, logger.Component(log, "monitor")).
		WithSinks(ledger, alerts)

	loader.WatchDetection(detection,
		func(old, next *config.Detection) { monitor.ApplyDetection(ctx, old, next) },
		func(err error) { log.Error().Err(err).Msg("Detection reload rejected, keeping previous thresholds") },
	)

	tokens := service.NewJWTTokenService(cfg.Auth.JWT.Secret, cfg.Auth.JWT.Expiry, cfg.Auth.JWT.Issuer)
	auth := service.NewAuthService(cfg.Auth.Investigators, service.NewArgon2HashService(), tokens, trail)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		AuthSvc:        auth,
		TokenSvc:       tokens,
		Alerts:         alerts,
		Evidence:       ledger,
		Audit:          trail,
		Exports:        exports,
		Traces:         traces,
		Rules:          rules,
		Monitor:        monitor,
		RateLimitStore: rateStore,
		RateLimit:      cfg.Server.RateLimit,
		BusinessHours: middleware.BusinessHours{
			Start: cfg.Auth.BusinessHoursStart,
			End:   cfg.Auth.BusinessHoursEnd,
		},
		HealthCheckers: checkers,
		Logger:         log,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	poller := solanaAdapter.NewPoller(rpc, cfg.Solana.WatchedAddresses,
		func(ctx context.Context, address string, tx domain.Transaction) error {
			_, err := monitor.HandleTransaction(ctx, address, tx)
			return err
		},
		detection, logger.Component(log, "poller"))

	g, gctx := errgroup.WithContext(ctx)

	evidenceEvents := bus.Subscribe("evidence", busBuffer, service.EventEvidence)
	alertEvents := bus.Subscribe("alerts", busBuffer, service.EventAlert)
	g.Go(func() error { return ignoreCanceled(service.Consume(gctx, evidenceEvents, ledger.IngestEvidence)) })
	g.Go(func() error { return ignoreCanceled(service.Consume(gctx, alertEvents, alerts.IngestAlert)) })

	g.Go(func() error { return ignoreCanceled(poller.Run(gctx)) })

	if cfg.Solana.WSURL != "" && len(cfg.Solana.WatchedAddresses) > 0 {
		sub := solanaAdapter.NewAccountSubscriber(cfg.Solana.WSURL, cfg.Solana.WatchedAddresses,
			func(address string) { poller.Trigger() },
			solanaAdapter.SubscriberConfig{Commitment: cfg.Solana.Commitment},
			logger.Component(log, "subscriber"))
		g.Go(func() error { return ignoreCanceled(sub.Run(gctx)) })
	}

	if cfg.Audit.PruneInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.Audit.PruneInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case now := <-ticker.C:
					n, err := trail.Prune(gctx, now)
					if err != nil {
						log.Warn().Err(err).Msg("Audit retention prune failed")
						continue
					}
					if n > 0 {
						log.Info().Int64("removed", n).Msg("Audit retention pruned")
					}
				}
			}
		})
	}

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		bus.Close()
		return nil
	})

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
