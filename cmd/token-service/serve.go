package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medcare/token-service/internal/booking"
	"medcare/token-service/internal/config"
	"medcare/token-service/internal/httpapi"
	"medcare/token-service/internal/logging"
	"medcare/token-service/internal/metrics"
	"medcare/token-service/internal/queue"
	"medcare/token-service/internal/realtime"
	"medcare/token-service/internal/store"
	"medcare/token-service/internal/store/memory"
	"medcare/token-service/internal/store/postgres"
	"medcare/token-service/internal/store/redisstore"
	"medcare/token-service/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const serviceName = "token-service"

// backend bundles the stores and push feed selected by QUEUE_BACKEND.
type backend struct {
	queues       store.QueueStore
	appointments store.AppointmentStore
	bookings     store.BookingStore
	directory    store.DirectoryStore
	source       queue.Source
	close        func()
}

func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger, m *metrics.QueueMetrics) (backend, error) {
	switch cfg.QueueBackend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return backend{}, fmt.Errorf("db connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return backend{}, fmt.Errorf("db ping: %w", err)
		}
		st := postgres.NewStore(pool)
		return backend{
			queues:       st,
			appointments: st,
			bookings:     st,
			directory:    st,
			source:       postgres.NewNotifySource(cfg.DatabaseURL, logger),
			close:        pool.Close,
		}, nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return backend{}, fmt.Errorf("redis ping: %w", err)
		}
		// Redis keeps only the queue counters; bookings and the directory stay in process.
		local := memory.NewStore(memory.Options{SeedDemoData: cfg.SeedDemoData})
		queues := redisstore.NewStore(client)
		return backend{
			queues:       queues,
			appointments: local,
			bookings:     store.SplitBooking{Queues: queues, Appointments: local},
			directory:    local,
			source:       redisstore.NewPubSubSource(client, logger),
			close:        func() { _ = client.Close() },
		}, nil
	default:
		st := memory.NewStore(memory.Options{SeedDemoData: cfg.SeedDemoData})
		return backend{
			queues:       st,
			appointments: st,
			bookings:     st,
			directory:    st,
			source: queue.NewSimulatedSource(st, queue.SimulationOptions{
				Interval:    cfg.SimulationInterval,
				Probability: cfg.SimulationProbability,
				Logger:      logger,
				Metrics:     m,
			}),
			close: func() {},
		}, nil
	}
}

func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

type app struct {
	handler http.Handler
	tracker *queue.Tracker
	hub     *realtime.Hub
}

func buildApp(cfg config.Config, b backend, logger *zap.Logger, registry *prometheus.Registry, queueMetrics *metrics.QueueMetrics) app {
	tracker := queue.NewTracker(b.queues, queue.TrackerOptions{
		Source:  b.source,
		Logger:  logger,
		Metrics: queueMetrics,
	})
	allocator := queue.NewAllocator(b.queues, tracker, logger, queueMetrics)
	bookings := booking.NewService(allocator, b.bookings, tracker, b.appointments, b.directory, logger)
	handler := httpapi.NewHandler(httpapi.Dependencies{
		Allocator: allocator,
		Tracker:   tracker,
		Bookings:  bookings,
		Directory: b.directory,
		Logger:    logger,
	})
	hub := realtime.New(tracker, logger)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:   cfg.RateLimitPerMinute,
		IPBurst:       cfg.RateLimitBurst,
		UserPerMinute: cfg.UserRateLimitPerMinute,
		UserBurst:     cfg.UserRateLimitBurst,
	}, logger)

	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/realtime/", hub.Handler("/realtime"))

	httpMetrics := metrics.NewHTTPMetrics(registry)
	return app{
		handler: otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, httpMetrics, limiter.Middleware(mux)), serviceName),
		tracker: tracker,
		hub:     hub,
	}
}

func runServer(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	shutdownTelemetry, err := telemetry.Setup(context.Background(), telemetry.Options{
		ServiceName: serviceName,
		Environment: cfg.Env,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		SampleRatio: cfg.TraceSampleRatio,
	}, logger)
	if err != nil {
		logger.Warn("otel exporter disabled", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	registry := newRegistry()
	queueMetrics := metrics.NewQueueMetrics(registry)

	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	b, err := openBackend(connectCtx, cfg, logger, queueMetrics)
	cancel()
	if err != nil {
		return err
	}
	defer b.close()

	a := buildApp(cfg, b, logger, registry, queueMetrics)
	defer a.tracker.Close()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("token-service listening",
			zap.String("addr", server.Addr),
			zap.String("backend", cfg.QueueBackend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-stop:
	}

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	logger.Info("token-service stopped", zap.Int("realtime_clients", a.hub.ClientCount()))
	return nil
}
