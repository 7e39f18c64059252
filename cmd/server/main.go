package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"trustcore/internal/audit"
	"trustcore/internal/audit/alert"
	audithandler "trustcore/internal/audit/handler"
	auditjsonl "trustcore/internal/audit/store/jsonl"
	auditmemory "trustcore/internal/audit/store/memory"
	auditpostgres "trustcore/internal/audit/store/postgres"
	"trustcore/internal/auth/device"
	authhandler "trustcore/internal/auth/handler"
	"trustcore/internal/auth/ports"
	authservice "trustcore/internal/auth/service"
	"trustcore/internal/auth/store/activity"
	"trustcore/internal/auth/store/lockout"
	"trustcore/internal/auth/store/revocation"
	"trustcore/internal/auth/store/user"
	"trustcore/internal/auth/token"
	"trustcore/internal/platform/config"
	"trustcore/internal/platform/httpserver"
	"trustcore/internal/platform/kafka"
	"trustcore/internal/platform/logger"
	platformpg "trustcore/internal/platform/postgres"
	platformredis "trustcore/internal/platform/redis"
	"trustcore/internal/platform/tracing"
	ratelimithandler "trustcore/internal/ratelimit/handler"
	ratelimitmw "trustcore/internal/ratelimit/middleware"
	ratelimitports "trustcore/internal/ratelimit/ports"
	ratelimitsvc "trustcore/internal/ratelimit/service"
	"trustcore/internal/ratelimit/store/window"
	"trustcore/internal/risk"
	riskhandler "trustcore/internal/risk/handler"
	"trustcore/internal/risk/store/baseline"
	httptransport "trustcore/internal/transport/http"
	"trustcore/pkg/platform/circuit"
)

const purgeInterval = 10 * time.Minute

// infra holds the shared connections. Any of them may be nil when the
// deployment does not configure it.
type infra struct {
	redis    *platformredis.Client
	db       *sql.DB
	producer *kafka.Producer
}

// purger is implemented by revocation lists that keep expired rows around.
type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)
	if cfg.UsesDevSigningKey() {
		log.Warn("using the development JWT signing key; set JWT_SIGNING_KEY in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Error("failed to flush traces", "error", err)
		}
	}()

	deps, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.close(log)

	trail, closeAuditStore, err := buildAuditTrail(cfg, deps, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeAuditStore(); err != nil {
			log.Error("failed to close audit store", "error", err)
		}
	}()

	limiter, err := buildRateLimiter(ctx, cfg, deps, trail, log)
	if err != nil {
		return err
	}

	riskService, err := buildRiskService(ctx, cfg, deps, trail, log)
	if err != nil {
		return err
	}

	revocations, err := buildRevocationList(cfg, deps)
	if err != nil {
		return err
	}
	auth, err := buildAuthService(ctx, cfg, deps, revocations, riskService, trail, log)
	if err != nil {
		return err
	}

	router := httptransport.NewRouter(httptransport.Config{
		AdminToken: cfg.Server.AdminToken,
		Limiter:    ratelimitmw.New(limiter, log),
		Validator:  auth,
		Recorder:   trail,
		Checks:     healthChecks(deps),
		Logger:     log,
	}, httptransport.Handlers{
		Audit:     audithandler.New(trail, log),
		RateLimit: ratelimithandler.New(limiter, log),
		Auth:      authhandler.New(auth, log),
		Risk:      riskhandler.New(riskService, log),
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	// The trail outlives the HTTP server so in-flight requests can still
	// record; it gets its own context and is stopped through Close.
	trailCtx, cancelTrail := context.WithCancel(context.Background())
	defer cancelTrail()
	trailDone := make(chan error, 1)
	go func() { trailDone <- trail.Run(trailCtx) }()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting trustcore", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		if err := trail.Close(shutdownCtx); err != nil {
			log.Error("audit trail did not drain", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		reloadOnHangup(gctx, cfg.Risk.ReferenceFile, riskService, log)
		return nil
	})

	if p, ok := revocations.(purger); ok {
		g.Go(func() error {
			purgeRevocations(gctx, p, log)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	cancelTrail()
	if err := <-trailDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Error("audit trail stopped with error", "error", err)
	}
	return nil
}

func connect(ctx context.Context, cfg *config.Config, log *slog.Logger) (*infra, error) {
	deps := &infra{}
	var err error

	deps.redis, err = platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	deps.db, err = platformpg.Open(ctx, cfg.Postgres)
	if err != nil {
		deps.close(log)
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if deps.db != nil {
		if err := platformpg.Migrate(ctx, deps.db, log); err != nil {
			deps.close(log)
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
	}

	deps.producer, err = kafka.NewProducer(ctx, cfg.Kafka)
	if err != nil {
		deps.close(log)
		return nil, fmt.Errorf("connect kafka: %w", err)
	}
	return deps, nil
}

func (d *infra) close(log *slog.Logger) {
	if d.producer != nil {
		d.producer.Close()
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			log.Error("failed to close postgres", "error", err)
		}
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			log.Error("failed to close redis", "error", err)
		}
	}
}

func healthChecks(d *infra) map[string]httptransport.HealthCheck {
	checks := map[string]httptransport.HealthCheck{}
	if d.redis != nil {
		checks["redis"] = d.redis.Health
	}
	if d.db != nil {
		checks["postgres"] = d.db.PingContext
	}
	return checks
}

func buildAuditTrail(cfg *config.Config, d *infra, log *slog.Logger) (*audit.Trail, func() error, error) {
	var store audit.Store
	closeStore := func() error { return nil }
	switch cfg.Audit.Store {
	case "postgres":
		store = auditpostgres.New(d.db)
	case "memory":
		log.Warn("audit trail is in memory; events are lost on restart")
		store = auditmemory.NewInMemoryStore()
	default:
		s, err := auditjsonl.Open(cfg.Audit.Dir, cfg.Audit.RotateInterval)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit segments: %w", err)
		}
		store, closeStore = s, s.Close
	}

	spool, err := audit.NewSpool(cfg.Audit.SpoolPath)
	if err != nil {
		_ = closeStore()
		return nil, nil, fmt.Errorf("open audit spool: %w", err)
	}

	var alerter audit.Alerter = alert.NewLogAlerter(log)
	if d.producer != nil {
		alerter = alert.Fanout{alerter, alert.NewKafkaAlerter(d.producer)}
	}

	return audit.New(store, spool,
		audit.WithLogger(log),
		audit.WithAlerter(alerter),
		audit.WithQueueSize(cfg.Audit.QueueSize),
		audit.WithEnqueueTimeout(cfg.Audit.EnqueueTimeout),
	), closeStore, nil
}

func buildRateLimiter(ctx context.Context, cfg *config.Config, d *infra, recorder ratelimitports.AuditRecorder, log *slog.Logger) (*ratelimitsvc.Service, error) {
	var windows ratelimitports.WindowStore
	if cfg.RateLimit.Store == "redis" && d.redis != nil {
		windows = window.NewRedisStore(d.redis.Client)
	} else {
		log.WarnContext(ctx, "rate limit windows are in memory; budgets are per instance")
		mem := window.NewInMemoryStore()
		go mem.RunSweeper(ctx, time.Minute)
		windows = mem
	}

	return ratelimitsvc.New(windows, ratelimitsvc.LimitsFromConfig(cfg.RateLimit),
		ratelimitsvc.WithLogger(log),
		ratelimitsvc.WithAuditRecorder(recorder),
		ratelimitsvc.WithBreaker(circuit.New("ratelimit", circuit.WithFailureThreshold(cfg.RateLimit.BreakerThreshold))),
	)
}

func buildRiskService(ctx context.Context, cfg *config.Config, d *infra, recorder risk.AuditRecorder, log *slog.Logger) (*risk.Service, error) {
	ref := risk.DefaultReferenceData()
	if cfg.Risk.ReferenceFile != "" {
		loaded, err := risk.LoadReferenceFile(cfg.Risk.ReferenceFile)
		if err != nil {
			return nil, fmt.Errorf("load risk reference data: %w", err)
		}
		ref = loaded
	} else {
		log.WarnContext(ctx, "no RISK_REFERENCE_FILE set; screening is held for review")
	}

	var baselines risk.BaselineStore
	if d.redis != nil {
		baselines = baseline.NewRedisStore(d.redis.Client)
	} else {
		baselines = baseline.NewInMemoryStore()
	}

	log.InfoContext(ctx, "risk reference data loaded", "screening_entries", ref.EntryCount())
	return risk.NewService(risk.NewReferenceHolder(ref),
		risk.WithLogger(log),
		risk.WithBaselineStore(baselines),
		risk.WithAuditRecorder(recorder),
		risk.WithFingerprinter(device.NewService(true)),
		risk.WithBudget(cfg.Risk.Budget),
	), nil
}

func buildRevocationList(cfg *config.Config, d *infra) (ports.RevocationList, error) {
	switch cfg.Auth.RevocationStore {
	case "redis":
		if d.redis == nil {
			return nil, errors.New("redis revocation list needs REDIS_URL")
		}
		return revocation.NewRedisTRL(d.redis.Client), nil
	case "postgres":
		return revocation.NewPostgresTRL(d.db), nil
	default:
		return revocation.NewInMemoryTRL(nil), nil
	}
}

func buildAuthService(
	ctx context.Context,
	cfg *config.Config,
	d *infra,
	revocations ports.RevocationList,
	evaluator ports.RiskEvaluator,
	recorder ports.AuditRecorder,
	log *slog.Logger,
) (*authservice.Service, error) {
	users := user.New()
	if cfg.Auth.UsersFile != "" {
		if err := users.LoadFile(ctx, cfg.Auth.UsersFile); err != nil {
			return nil, fmt.Errorf("load users: %w", err)
		}
	}
	log.InfoContext(ctx, "credential store ready", "users", users.Count())

	var lockouts ports.LockoutStore = lockout.New()
	var active ports.ActivityStore = activity.NewInMemoryStore()
	if d.redis != nil {
		lockouts = lockout.NewRedisStore(d.redis.Client)
		active = activity.NewRedisStore(d.redis.Client)
	}

	tokens := token.NewManager(cfg.Auth.SigningKey, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	return authservice.New(tokens, revocations, lockouts, users,
		authservice.Config{
			LockoutThreshold: cfg.Auth.LockoutThreshold,
			LockoutCooldown:  cfg.Auth.LockoutCooldown,
			FailureWindow:    cfg.Auth.FailureWindow,
		},
		authservice.WithLogger(log),
		authservice.WithAuditRecorder(recorder),
		authservice.WithRiskEvaluator(evaluator),
		authservice.WithActivityStore(active),
	)
}

// reloadOnHangup re-reads the risk reference file on SIGHUP. A file that
// fails to parse leaves the current data in place.
func reloadOnHangup(ctx context.Context, path string, svc *risk.Service, log *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if path == "" {
				log.WarnContext(ctx, "SIGHUP ignored: no RISK_REFERENCE_FILE set")
				continue
			}
			ref, err := risk.LoadReferenceFile(path)
			if err != nil {
				log.ErrorContext(ctx, "risk reference reload rejected", "error", err)
				continue
			}
			svc.Reload(ref)
			log.InfoContext(ctx, "risk reference data reloaded", "screening_entries", ref.EntryCount())
		}
	}
}

func purgeRevocations(ctx context.Context, p purger, log *slog.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PurgeExpired(ctx)
			if err != nil {
				log.WarnContext(ctx, "failed to purge expired revocations", "error", err)
				continue
			}
			if n > 0 {
				log.DebugContext(ctx, "purged expired revocations", "count", n)
			}
		}
	}
}
