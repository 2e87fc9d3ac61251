package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"arbiter/internal/decision"
	"arbiter/internal/decision/handler"
	decisionmetrics "arbiter/internal/decision/metrics"
	httpapi "arbiter/internal/http"
	"arbiter/internal/ledger"
	ledgermemory "arbiter/internal/ledger/memory"
	"arbiter/internal/ledger/sqlstore"
	"arbiter/internal/platform/config"
	"arbiter/internal/platform/httpserver"
	"arbiter/internal/platform/kafka"
	"arbiter/internal/platform/logger"
	"arbiter/internal/platform/metrics"
	"arbiter/internal/platform/redis"
	"arbiter/internal/policy/loader"
	policymetrics "arbiter/internal/policy/metrics"
	"arbiter/internal/ratelimit"
	sig "arbiter/internal/signal"
	"arbiter/internal/signal/adapters/history"
	"arbiter/internal/signal/adapters/identity"
	"arbiter/internal/signal/adapters/oracle"
	"arbiter/internal/signal/adapters/screening"
	"arbiter/internal/signal/adapters/velocity"
	"arbiter/pkg/platform/circuit"
	"arbiter/pkg/platform/middleware/admin"
)

// main wires the stores, adapters and services, then runs the HTTP server
// until SIGINT or SIGTERM.
func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.Server.UsesDevSigningKey() {
		log.Warn("operator tokens use the development signing key; set ARBITER_JWT_SIGNING_KEY")
	}

	checks := map[string]httpapi.HealthChecker{}
	decisionMetrics := decisionmetrics.New()

	policies := loader.New(loader.NewFileSource(cfg.Policy.Dir),
		loader.WithLogger(log),
		loader.WithMetrics(policymetrics.New()),
		loader.WithAlertAfter(cfg.Policy.AlertAfter),
	)
	report, err := policies.ReloadAll(ctx)
	if err != nil {
		return fmt.Errorf("initial policy load: %w", err)
	}
	for _, verr := range report.Errors {
		log.Error("policy failed validation at startup", "error", verr)
	}
	log.Info("policies loaded", "loaded", report.Reloaded, "dir", cfg.Policy.Dir)

	watcher := loader.NewWatcher(policies, cfg.Policy.Dir,
		loader.WithPollInterval(cfg.Policy.PollInterval),
		loader.WithWatcherLogger(log),
	)
	go func() {
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("policy watcher stopped", "error", err)
		}
	}()

	store, closeStore, err := openLedgerStore(ctx, cfg.Database, checks)
	if err != nil {
		return err
	}
	defer closeStore()
	auditLedger := ledger.New(store,
		ledger.WithLogger(log),
		ledger.WithObserver(decisionMetrics),
	)

	screener, err := newScreener(cfg.Sanctions, log)
	if err != nil {
		return err
	}
	ownership, err := loadOracle(cfg.OwnershipFile)
	if err != nil {
		return err
	}
	identities, err := loadIdentities(cfg.IdentityFile)
	if err != nil {
		return err
	}

	var velocityStore sig.VelocityStore = velocity.NewMemory()
	var limitStore ratelimit.Store
	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rc != nil {
		defer rc.Close()
		velocityStore = velocity.NewRedis(rc.Client)
		limitStore = ratelimit.NewRedisStore(rc.Client)
		checks["redis"] = rc
	} else {
		mem := ratelimit.NewMemoryStore()
		go sweepRateLimits(ctx, mem, cfg.RateLimit.Window)
		limitStore = mem
	}
	limiter := ratelimit.New(limitStore, cfg.RateLimit.Limit, cfg.RateLimit.Window,
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(ratelimit.NewMetrics()),
	)

	evaluators := sig.NewSet(sig.Deps{
		Identity: identities,
		Screener: screener,
		Oracle:   ownership,
		Velocity: velocityStore,
		History:  history.NewLedger(auditLedger),
	})

	opts := []decision.Option{
		decision.WithLogger(log),
		decision.WithMetrics(decisionMetrics),
		decision.WithVelocityRecorder(velocityStore),
		decision.WithRunner(sig.NewRunner(sig.WithLogger(log), sig.WithObserver(decisionMetrics))),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, kafka.WithLogger(log))
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			producer.Close(closeCtx)
		}()
		if err := producer.EnsureTopic(ctx, 6, 1); err != nil {
			log.Warn("could not ensure record topic", "topic", cfg.Kafka.Topic, "error", err)
		}
		opts = append(opts, decision.WithPublisher(producer))
		checks["kafka"] = producer
	}
	service := decision.NewService(policies, evaluators, auditLedger, opts...)

	router := httpapi.NewRouter(httpapi.RouterDeps{
		Decisions:       handler.New(service, log),
		RequireOperator: admin.RequireOperator(admin.NewVerifier(cfg.Server.JWTSigningKey), log),
		RateLimit:       limiter.Handler,
		TrustProxy:      cfg.RateLimit.TrustProxy,
		Metrics:         metrics.New(),
		Checks:          checks,
		Logger:          log,
	})
	srv := httpserver.New(cfg.Server.Addr, router)
	return httpserver.Serve(ctx, srv, cfg.Server.ShutdownTimeout, log)
}

func sweepRateLimits(ctx context.Context, store *ratelimit.MemoryStore, window time.Duration) {
	if window <= 0 {
		return
	}
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.Sweep(window)
		}
	}
}

func openLedgerStore(ctx context.Context, cfg config.DatabaseConfig, checks map[string]httpapi.HealthChecker) (ledger.Store, func(), error) {
	if cfg.URL == "" {
		return ledgermemory.New(), func() {}, nil
	}
	store, err := sqlstore.Open(ctx, sqlstore.Driver(cfg.Driver), cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit ledger: %w", err)
	}
	checks["ledger"] = store
	return store, func() { _ = store.Close() }, nil
}

func newScreener(cfg config.SanctionsConfig, log *slog.Logger) (sig.Screener, error) {
	if cfg.URL != "" {
		return screening.NewHTTPScreener(cfg.URL,
			screening.WithRateLimit(cfg.RPS, cfg.Burst),
			screening.WithBreaker(circuit.New("sanctions")),
			screening.WithLogger(log),
		), nil
	}
	if cfg.Lists == "" {
		return screening.NewListScreener(nil), nil
	}
	lists, err := screening.LoadListFile(cfg.Lists)
	if err != nil {
		return nil, fmt.Errorf("load sanctions lists: %w", err)
	}
	return lists, nil
}

func loadOracle(path string) (*oracle.File, error) {
	if path == "" {
		return oracle.Empty(), nil
	}
	f, err := oracle.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load ownership file: %w", err)
	}
	return f, nil
}

func loadIdentities(path string) (*identity.Directory, error) {
	if path == "" {
		return identity.Empty(), nil
	}
	d, err := identity.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load identity file: %w", err)
	}
	return d, nil
}
