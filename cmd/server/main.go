// Command server wires the distribution ledger with its infrastructure and
// exposes the ops HTTP surface. Business operations are invoked in-process by
// the embedding application; nothing domain-facing is served here.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"lanfiasave/internal/audit"
	"lanfiasave/internal/ledger"
	"lanfiasave/internal/ledger/lock"
	ledgermetrics "lanfiasave/internal/ledger/metrics"
	"lanfiasave/internal/notification"
	"lanfiasave/internal/ops"
	"lanfiasave/internal/platform/config"
	"lanfiasave/internal/platform/httpserver"
	"lanfiasave/internal/platform/logger"
	"lanfiasave/internal/platform/postgres"
	platformredis "lanfiasave/internal/platform/redis"
	"lanfiasave/internal/registry"
	"lanfiasave/internal/withdrawal"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store     ledger.Store
		runner    ledger.TxRunner
		reg       registry.Registry
		checkers  []ops.HealthChecker
		auditSink audit.Store
	)

	if cfg.PostgresURL != "" {
		pool, err := postgres.Connect(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres connect failed")
		}
		defer pool.Close()
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("schema bootstrap failed")
		}
		store = ledger.NewPostgresStore(pool)
		runner = postgres.NewTxRunner(pool)
		reg = registry.NewPostgresRegistry(pool)
		checkers = append(checkers, poolHealth{pool})

		auditStore, err := audit.OpenPostgres(cfg.PostgresURL)
		if err != nil {
			log.Fatal().Err(err).Msg("audit store open failed")
		}
		defer auditStore.Close()
		auditSink = auditStore
	} else {
		log.Warn().Msg("no postgres configured, running with in-memory stores")
		store = ledger.NewInMemoryStore()
		runner = ledger.NewMemoryTxRunner()
		reg = registry.NewInMemoryRegistry()
		auditSink = audit.NewInMemoryStore()
	}

	distLock := lock.DistributionLock(lock.Noop{})
	redisClient, err := platformredis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connect failed")
	}
	if redisClient != nil {
		defer redisClient.Close()
		distLock = lock.NewRedisLock(redisClient.Client)
		checkers = append(checkers, redisClient)
	}

	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := audit.NewKafkaPublisher(ctx, cfg.KafkaBrokers)
		if err != nil {
			log.Fatal().Err(err).Msg("kafka audit publisher failed")
		}
		defer kafka.Close()
		auditSink = teeAuditStore{auditSink, kafka}
	}

	inbox := make(chan audit.Event, 256)
	worker := audit.NewWorker(auditSink, inbox, log)
	recorder := inboxRecorder{inbox: inbox}

	m := ledgermetrics.New()
	sink := notification.NewLogSink(log)

	ledgerSvc := ledger.NewService(store, runner, reg, sink,
		ledger.WithLock(distLock),
		ledger.WithMetrics(m),
		ledger.WithRecorder(recorder),
		ledger.WithLogger(log),
	)
	_ = withdrawal.NewService(store,
		withdrawal.WithMetrics(m),
		withdrawal.WithRecorder(recorder),
		withdrawal.WithLogger(log),
	)
	_ = ledgerSvc // invoked in-process by the embedding application

	srv := httpserver.New(cfg.Addr, ops.NewRouter(checkers...))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("starting ops server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := worker.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
	log.Info().Msg("shutdown complete")
}

// poolHealth adapts a pgx pool to the ops health contract.
type poolHealth struct {
	pool *pgxpool.Pool
}

func (p poolHealth) Health(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// inboxRecorder feeds audit events to the background worker without blocking
// ledger operations. A full inbox drops the event.
type inboxRecorder struct {
	inbox chan<- audit.Event
}

func (r inboxRecorder) Emit(_ context.Context, event audit.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case r.inbox <- event:
		return nil
	default:
		return errors.New("audit inbox full, event dropped")
	}
}

// teeAuditStore appends to the database store and mirrors to Kafka. Reads are
// served by the database store.
type teeAuditStore struct {
	primary audit.Store
	mirror  audit.Store
}

func (t teeAuditStore) Append(ctx context.Context, event audit.Event) error {
	if err := t.primary.Append(ctx, event); err != nil {
		return err
	}
	return t.mirror.Append(ctx, event)
}

func (t teeAuditStore) ListByDonation(ctx context.Context, donationID string) ([]audit.Event, error) {
	return t.primary.ListByDonation(ctx, donationID)
}
