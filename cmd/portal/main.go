// Package main is the entry point for the RunFerry portal API server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/runferry/portal/internal/access"
	"github.com/runferry/portal/internal/config"
	"github.com/runferry/portal/internal/fleet"
	"github.com/runferry/portal/internal/novaposhta"
	"github.com/runferry/portal/internal/observability"
	"github.com/runferry/portal/internal/profile"
	"github.com/runferry/portal/internal/repair"
	"github.com/runferry/portal/internal/settings"
	"github.com/runferry/portal/internal/transport"
	"github.com/runferry/portal/internal/upstream"
	"github.com/runferry/portal/internal/verification"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	envFile := flag.String("env-file", ".env", "optional dotenv file with secrets")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "env file error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "runferry-portal", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Shared connections.
	var pool *pgxpool.Pool
	if cfg.UsesDriver(config.DriverPostgres) {
		if pool, err = openPostgres(ctx, cfg.Storage.Postgres); err != nil {
			logger.Error("postgres initialization failed", zap.Error(err))
			return 1
		}
		defer pool.Close()
		logger.Info("postgres connected")
	}
	var rdb *redis.Client
	if cfg.UsesDriver(config.DriverRedis) {
		if rdb, err = openRedis(ctx, cfg.Storage.Redis); err != nil {
			logger.Error("redis initialization failed", zap.Error(err))
			return 1
		}
		defer rdb.Close()
		logger.Info("redis connected")
	}

	// Upstream clients.
	newUpstream := func(id string) *upstream.Client {
		return upstream.New(id, cfg.Services[id],
			upstream.WithRecorder(metrics),
			upstream.WithLogger(logger),
		)
	}
	repairClient := repair.NewClient(newUpstream(config.ServiceRepair), repair.WithLogger(logger))
	npClient := novaposhta.NewClient(newUpstream(config.ServiceNovaPoshta), cfg.NovaPoshta, metrics, novaposhta.WithLogger(logger))
	hsClient := settings.NewHSClient(newUpstream(config.ServiceSettingsHS), cfg.Settings.PushPath)

	// Domain services.
	verificationSvc, err := buildVerification(cfg, rdb, repairClient, newUpstream(config.ServiceTurboSMS), metrics, logger)
	if err != nil {
		logger.Error("verification initialization failed", zap.Error(err))
		return 1
	}

	var settingsStore settings.ValuesStore = settings.NewMemoryStore()
	if cfg.Settings.Store.Driver == config.DriverPostgres {
		settingsStore = settings.NewPgStore(pool)
	}
	settingsOpts := []settings.Option{
		settings.WithRecorder(metrics),
		settings.WithCacheRecorder(metrics),
		settings.WithLogger(logger),
	}
	if hsClient.CanPush() {
		settingsOpts = append(settingsOpts, settings.WithPusher(hsClient))
	} else {
		logger.Warn("settings push path not configured, values are stored locally only")
	}
	settingsSvc := settings.NewService(hsClient, settingsStore, cfg.Settings, settingsOpts...)

	var fleetStore fleet.Store = fleet.NewMemoryStore()
	if cfg.Fleet.Store.Driver == config.DriverPostgres {
		fleetStore = fleet.NewPgStore(pool)
	}
	if cfg.Fleet.SeedFile != "" {
		boats, distributors, err := fleet.Seed(ctx, fleetStore, cfg.Fleet.SeedFile)
		if err != nil {
			logger.Error("fleet seed failed", zap.Error(err))
			return 1
		}
		logger.Info("fleet seeded", zap.Int("boats", boats), zap.Int("distributors", distributors))
	}

	policy := access.DefaultRolePolicy()
	if cfg.Access.PolicyFile != "" {
		if policy, err = access.LoadRolePolicy(cfg.Access.PolicyFile); err != nil {
			logger.Error("access policy load failed", zap.Error(err))
			return 1
		}
	}

	// Fleet changes invalidate the resolver cache, and the resolver reads
	// ownership through the fleet service.
	var resolver *access.Resolver
	fleetSvc := fleet.NewService(fleetStore, cfg.Fleet,
		fleet.WithInvalidator(fleet.InvalidatorFunc(func(subjectID, boatID string) {
			resolver.Invalidate(subjectID, boatID)
		})),
		fleet.WithRecorder(metrics),
		fleet.WithLogger(logger),
	)
	resolver = access.NewResolver(fleetSvc, cfg.Access, access.WithPolicy(policy), access.WithRecorder(metrics))

	purger, err := fleet.NewPurger(fleetSvc, cfg.Fleet.SharePurgeSchedule, logger)
	if err != nil {
		logger.Error("share purge scheduler failed", zap.Error(err))
		return 1
	}

	var profileStore profile.Store = profile.NewMemoryStore()
	if cfg.Profile.Store.Driver == config.DriverPostgres {
		profileStore = profile.NewPgStore(pool)
	}
	profileSvc := profile.NewService(profileStore, profile.WithLogger(logger))

	// HTTP.
	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
	if err := jwks.Prefetch(ctx); err != nil {
		// Readiness stays red until a later request loads the keys.
		logger.Warn("identity keys prefetch failed", zap.Error(err))
	}

	readiness := observability.ReadinessChecks{IdentityKeysLoaded: jwks.Loaded}
	if pool != nil {
		readiness.Postgres = observability.PingFunc(pool.Ping)
	}
	if rdb != nil {
		readiness.Redis = observability.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	deps := transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Readiness:    readiness,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Capabilities: resolver,
		Verification: verificationSvc,
		Settings:     settingsSvc,
		Repair:       repairClient,
		NovaPoshta:   npClient,
		Fleet:        fleetSvc,
		Profile:      profileSvc,
	}
	if cfg.Observability.Metrics.Enabled {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      transport.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	purger.Start()
	go reloadPolicyOnHangup(ctx, policy, logger)

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("verification_provider", cfg.Verification.Provider),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := purger.Stop(shutdownCtx); err != nil {
		logger.Error("share purge shutdown error", zap.Error(err))
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildVerification selects the code store and the delivery provider.
func buildVerification(cfg *config.Config, rdb *redis.Client, portal *repair.Client, turbo *upstream.Client, metrics *observability.Metrics, logger *zap.Logger) (*verification.Service, error) {
	tokens, err := verification.NewTokens(config.Secret(cfg.Verification.TokenSecretEnv), cfg.Verification.TokenTTL)
	if err != nil {
		return nil, err
	}
	if config.Secret(cfg.Verification.TokenSecretEnv) == "" {
		logger.Warn("phone token secret not set, tokens will not survive a restart",
			zap.String("env", cfg.Verification.TokenSecretEnv))
	}

	var store verification.CodeStore = verification.NewMemoryStore()
	if cfg.Verification.Store.Driver == config.DriverRedis {
		store = verification.NewRedisStore(rdb)
	}

	opts := []verification.Option{
		verification.WithRecorder(metrics),
		verification.WithLogger(logger),
	}
	var sender verification.Sender = verification.NewLogSender(logger)

	provider := cfg.Verification.Provider
	if provider == config.ProviderAuto {
		provider = config.ProviderLog
		if turbo.HasCredentials() && cfg.Services[config.ServiceTurboSMS].BaseURL != "" {
			provider = config.ProviderTurboSMS
		}
	}
	switch provider {
	case config.ProviderTurboSMS:
		sender = verification.NewTurboSMS(turbo, cfg.Verification.SenderName)
	case config.ProviderPortal:
		opts = append(opts, verification.WithCodeIssuer(portal))
	case config.ProviderLog:
		logger.Warn("SMS delivery disabled, verification codes are only logged")
	}
	cfg.Verification.Provider = provider

	return verification.NewService(store, sender, tokens, cfg.Verification, opts...), nil
}

func openPostgres(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	dsn := config.Secret(cfg.DSNEnv)
	if dsn == "" {
		return nil, fmt.Errorf("postgres: %s environment variable not set", cfg.DSNEnv)
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse DSN: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

func openRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	addr := config.Secret(cfg.AddrEnv)
	if addr == "" {
		return nil, fmt.Errorf("redis: %s environment variable not set", cfg.AddrEnv)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.Secret(cfg.PasswordEnv),
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

// reloadPolicyOnHangup re-reads the role policy file on SIGHUP.
func reloadPolicyOnHangup(ctx context.Context, policy *access.RolePolicy, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := policy.Sync(); err != nil {
				logger.Error("access policy reload failed", zap.Error(err))
				continue
			}
			logger.Info("access policy reloaded")
		}
	}
}
