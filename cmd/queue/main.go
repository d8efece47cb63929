package main

import (
	"context"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/example/nextup/internal/platform/analytics"
	"github.com/example/nextup/internal/platform/auth"
	"github.com/example/nextup/internal/platform/config"
	"github.com/example/nextup/internal/platform/db"
	"github.com/example/nextup/internal/platform/httpserver"
	"github.com/example/nextup/internal/platform/logging"
	"github.com/example/nextup/internal/platform/natsconn"
	"github.com/example/nextup/internal/platform/run"
	queueconfig "github.com/example/nextup/internal/queue/config"
	"github.com/example/nextup/internal/queue/content"
	"github.com/example/nextup/internal/queue/handlers"
	"github.com/example/nextup/internal/queue/idempotency"
	"github.com/example/nextup/internal/queue/service"
	"github.com/example/nextup/internal/queue/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	queueCfg, err := queueconfig.Load()
	if err != nil {
		log.Error("queue config", zap.Error(err))
		run.Exit(1)
	}

	isProd := config.IsProd()

	pool, closePool := initPool(log, queueCfg.DatabaseURL, isProd)
	if closePool != nil {
		defer closePool()
	}

	var st store.Store
	if pool != nil {
		st = store.NewPostgresStore(pool)
	} else {
		log.Warn("running with in-memory queue store (development only)")
		st = store.NewInMemoryStore()
	}

	gate, err := idempotency.New(queueCfg.RedisDSN, queueCfg.DatabaseURL, queueCfg.IdempotencyWindow, isProd)
	if err != nil {
		log.Error("idempotency gate", zap.Error(err))
		run.Exit(1)
	}
	log.Info("idempotency gate initialised",
		zap.Bool("redis", queueCfg.RedisDSN != ""),
		zap.Bool("postgres", queueCfg.DatabaseURL != ""),
		zap.Duration("window", queueCfg.IdempotencyWindow),
	)

	events := initAnalytics(log, queueCfg.NATSURL, isProd)

	svc := service.New(st, gate, events, log, queueCfg.OpTimeout)
	cc := content.NewClient(queueCfg.ContentBaseURL, queueCfg.OpTimeout)
	h := handlers.New(svc, cc, log)

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{ReadyFunc: readyCheck(pool)})
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(auth.JWTVerifier{Secret: []byte(queueCfg.JWTSecret)}))
		h.Mount(r)
	})

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		return srv.Start(log)
	})

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}

// initPool opens the Postgres pool for the queue store. Production requires
// a working connection; development degrades to the in-memory store.
func initPool(log *zap.Logger, dsn string, isProd bool) (*pgxpool.Pool, func()) {
	if dsn == "" {
		if isProd {
			log.Error("DATABASE_URL is required in production")
			_ = log.Sync()
			os.Exit(1)
		}
		return nil, nil
	}

	pool, err := db.Open(context.Background(), dsn)
	if err != nil {
		if isProd {
			log.Error("postgres unreachable in production", zap.Error(err))
			_ = log.Sync()
			os.Exit(1)
		}
		log.Warn("postgres unavailable, falling back to in-memory store", zap.Error(err))
		return nil, nil
	}

	log.Info("postgres connected for queue store")
	return pool, pool.Close
}

// initAnalytics connects to NATS JetStream. Outside production a missing
// broker degrades to the no-op publisher.
func initAnalytics(log *zap.Logger, natsURL string, isProd bool) *analytics.Publisher {
	nc, err := natsconn.Connect(natsconn.Options{URL: natsURL})
	if err != nil {
		if isProd {
			log.Error("NATS is required in production", zap.Error(err))
			_ = log.Sync()
			os.Exit(1)
		}
		log.Warn("NATS unavailable, queue events will not be published", zap.Error(err))
		return analytics.New(nil, log)
	}

	js, err := nc.JetStream()
	if err != nil {
		log.Warn("jetstream unavailable, queue events will not be published", zap.Error(err))
		return analytics.New(nil, log)
	}
	return analytics.New(js, log)
}

func readyCheck(pool *pgxpool.Pool) func() error {
	if pool == nil {
		return nil
	}
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Ping(ctx)
	}
}
