package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"consentry/internal/audit"
	"consentry/internal/jwtauth"
	"consentry/internal/platform/config"
	"consentry/internal/platform/httpserver"
	"consentry/internal/platform/logger"
	platformredis "consentry/internal/platform/redis"
	registryhandler "consentry/internal/registry/handler"
	registrymetrics "consentry/internal/registry/metrics"
	registryservice "consentry/internal/registry/service"
	registrystore "consentry/internal/registry/store"
)

// main wires storage, the audit pipeline, and the HTTP surface, then runs
// the server lifecycle. Business rules live in internal/registry.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		regStore   registrystore.Store
		auditStore audit.Store
		storeTx    registryservice.StoreTx
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		if err := registrystore.EnsureSchema(ctx, db); err != nil {
			return err
		}
		if err := audit.EnsureSchema(ctx, db); err != nil {
			return err
		}
		regStore = registrystore.NewPostgres(db)
		auditStore = audit.NewPostgresStore(db)
		storeTx = newRegistryPostgresTx(db)
		log.Info("using postgres storage")
	} else {
		mem := registrystore.NewInMemory()
		regStore = mem
		storeTx = registryservice.NewInMemoryStoreTx(mem)

		redisClient, err := platformredis.New(cfg.Redis)
		if err != nil {
			return err
		}
		if redisClient != nil {
			defer redisClient.Close()
			auditStore = audit.NewRedisStore(redisClient.Client, audit.DefaultStream)
			log.Info("using in-memory registry with redis audit stream")
		} else {
			auditStore = audit.NewInMemoryStore()
			log.Info("using in-memory storage")
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	var publisher *audit.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		defer sink.Close()

		inbox := make(chan audit.Event, cfg.AuditBuffer)
		publisher = audit.NewPublisherWithSink(auditStore, inbox)
		worker := audit.NewWorker(sink, inbox, log)
		g.Go(func() error { return worker.Run(ctx) })
		log.Info("audit fan-out to kafka enabled", "topic", cfg.Kafka.Topic)
	} else {
		publisher = audit.NewPublisher(auditStore)
	}

	registry := registryservice.New(regStore, storeTx, publisher,
		registryservice.WithLogger(log),
		registryservice.WithMetrics(registrymetrics.New()),
	)

	tokens := jwtauth.NewService(cfg.JWTSigningKey, "consentry")
	handler := registryhandler.New(registry, publisher, tokens, log)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	handler.Register(router)

	srv := httpserver.New(cfg.Addr, router)

	g.Go(func() error {
		log.Info("starting consentry", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
