package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sifan077/KrunkLink/config"
	"github.com/sifan077/KrunkLink/internal/app/command"
	apprepository "github.com/sifan077/KrunkLink/internal/app/repository"
	appserver "github.com/sifan077/KrunkLink/internal/app/server"
	appservice "github.com/sifan077/KrunkLink/internal/app/service"
	"github.com/sifan077/KrunkLink/internal/http/util"
	"github.com/sifan077/KrunkLink/internal/infra/krunker"
	"github.com/sifan077/KrunkLink/internal/infra/logger"
	infraNATS "github.com/sifan077/KrunkLink/internal/infra/nats"
	infraPostgres "github.com/sifan077/KrunkLink/internal/infra/postgres"
	infraPrometheus "github.com/sifan077/KrunkLink/internal/infra/prometheus"
	infraRedis "github.com/sifan077/KrunkLink/internal/infra/redis"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	pageLinkTTL     = time.Hour
)

func main() {
	logCfg := logger.ConfigFromEnv(os.Getenv)
	log := logger.MustInit(logCfg)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, logCfg.Development); err != nil {
		log.Error("KrunkLink exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	log.Info("KrunkLink stopped")
}

func run(ctx context.Context, log *zap.Logger, isDev bool) (err error) {
	start := time.Now()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log.Info("Configuration loaded successfully",
		zap.String("postgres_host", cfg.Postgres.Host),
		zap.Int("postgres_port", cfg.Postgres.Port),
		zap.String("postgres_db", cfg.Postgres.Database),
		zap.String("redis_host", cfg.Redis.Host),
		zap.Int("redis_port", cfg.Redis.Port),
		zap.String("nats_url", infraNATS.URL(cfg.NATS)),
		zap.String("krunker_base_url", cfg.Krunker.BaseURL),
		zap.Duration("verification_ttl", cfg.Verification.TTL),
		zap.Int("verification_max_attempts", cfg.Verification.MaxAttempts),
	)

	gormDB, err := infraPostgres.NewGorm(cfg.Postgres)
	if err != nil {
		return err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, sqlDB.Close()) }()

	if err := infraPostgres.AutoMigrate(ctx, gormDB); err != nil {
		return err
	}

	pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Info("Connected to Postgres successfully")

	redisClient, err := infraRedis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()
	log.Info("Connected to Redis successfully")

	natsConn, js, err := infraNATS.Connect(cfg.NATS, logger.Named("nats"))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, natsConn.Drain()) }()
	log.Info("Connected to NATS successfully", zap.Bool("jetstream_ready", js != nil))

	if err := appservice.EnsureStream(js); err != nil {
		return err
	}

	registry := prom.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := infraPrometheus.NewMetrics(registry)
	if err != nil {
		return err
	}

	challengeRepo := apprepository.NewChallengeRepository(gormDB)
	linkRepo := apprepository.NewLinkRepository(gormDB)
	eventRepo := apprepository.NewVerificationEventRepository(gormDB)

	krunkerClient := krunker.NewClient(cfg.Krunker, nil)

	verifier := appservice.NewVerificationService(appservice.VerificationDeps{
		Logger:     logger.Named("verification"),
		Challenges: challengeRepo,
		Links:      linkRepo,
		Evidence:   krunkerClient,
		Codes:      appservice.NewCodeGenerator(cfg.Verification.CodePrefix, cfg.Verification.CodeLength),
		Events:     appservice.NewEventPublisher(js),
		Metrics:    metrics,
		Options: appservice.VerificationOptions{
			TTL:         cfg.Verification.TTL,
			MaxAttempts: cfg.Verification.MaxAttempts,
			PostLimit:   cfg.Krunker.PostLimit,
		},
	})

	consumer := appservice.NewEventConsumer(js, logger.Named("events"), eventRepo)
	if err := consumer.Start(); err != nil {
		return err
	}
	defer consumer.Stop()

	sweeper := appservice.NewChallengeSweeper(logger.Named("sweeper"), challengeRepo, metrics, cfg.Verification.SweepInterval)
	sweeper.Start()
	defer sweeper.Stop()

	signer := util.NewTokenSigner([]byte(cfg.Server.PageSecret), pageLinkTTL)
	pages := util.NewPageLinks(cfg.Server.PublicBaseURL, signer)

	router := command.NewRouter(command.Deps{
		Logger:   logger.Named("commands"),
		Verifier: verifier,
		Profiles: krunkerClient,
		Pages:    pages,
		Metrics:  metrics,
	})

	listener := command.NewListener(natsConn, cfg.NATS.CommandSubject, router, logger.Named("commands"))
	if err := listener.Start(); err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, listener.Stop()) }()

	var pageSigner *util.TokenSigner
	if cfg.Server.PageSecret != "" {
		pageSigner = signer
	}

	server := appserver.New(appserver.Dependencies{
		Logger:         logger.Named("http"),
		Postgres:       pool,
		Redis:          redisClient,
		NATS:           natsConn,
		Verifier:       verifier,
		Events:         eventRepo,
		Commands:       router,
		Pages:          pages,
		Signer:         pageSigner,
		MaxAttempts:    cfg.Verification.MaxAttempts,
		Limiter:        infraRedis.NewWindowLimiter(redisClient, cfg.Server.RateWindow),
		RateLimit:      cfg.Server.RateLimit,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	log.Info("KrunkLink started", logger.Elapsed(start))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Starting HTTP server", zap.String("addr", cfg.Server.Addr))
		return server.Listen(cfg.Server.Addr)
	})

	var promServer *http.Server
	if !isDev {
		promServer = infraPrometheus.NewServer(cfg.Prometheus, registry)
		g.Go(func() error {
			log.Info("Starting Prometheus metrics server", zap.Int("port", cfg.Prometheus.Port))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	} else {
		log.Info("Skipping Prometheus metrics server in development mode")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		shutdownErr := server.Shutdown(shutdownCtx)
		if promServer != nil {
			shutdownErr = multierr.Append(shutdownErr, promServer.Shutdown(shutdownCtx))
		}
		return shutdownErr
	})

	return g.Wait()
}
