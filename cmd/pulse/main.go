package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lalithlochan/orderpulse/internal/api"
	"github.com/lalithlochan/orderpulse/internal/backend"
	"github.com/lalithlochan/orderpulse/internal/circuitbreaker"
	"github.com/lalithlochan/orderpulse/internal/config"
	"github.com/lalithlochan/orderpulse/internal/dedup"
	"github.com/lalithlochan/orderpulse/internal/metrics"
	"github.com/lalithlochan/orderpulse/internal/notify"
	"github.com/lalithlochan/orderpulse/internal/observ"
	"github.com/lalithlochan/orderpulse/internal/reconciler"
	"github.com/lalithlochan/orderpulse/internal/redis"
	"github.com/lalithlochan/orderpulse/internal/session"
	"github.com/lalithlochan/orderpulse/internal/sink"
	"github.com/lalithlochan/orderpulse/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting orderpulse",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("backend_url", cfg.BackendURL),
		zap.String("socket_url", cfg.SocketURL),
		zap.String("user_id", cfg.UserID),
	)

	ctx := context.Background()

	// Redis keeps notifications across restarts and throttles chat sends
	var persister notify.Persister
	var rateLimiter *redis.RateLimiter
	if cfg.PersistenceEnabled() {
		redisClient, err := redis.New(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, notifications will not persist",
				zap.Error(err),
				zap.String("host", cfg.RedisHost),
			)
		} else {
			defer redisClient.Close()
			persister = redis.NewNotificationPersister(redisClient, cfg.UserID, logger)
			rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
				Limit:  cfg.SendRateLimit,
				Window: 1 * time.Minute,
			})
		}
	}

	// Backend REST client behind one breaker
	backendBreaker := circuitbreaker.New(circuitbreaker.BackendConfig(), logger)
	platform := circuitbreaker.NewProtectedBackend(backend.NewClient(backend.Config{
		BaseURL:   cfg.BackendURL,
		AuthToken: cfg.AuthToken,
	}, logger), backendBreaker)

	// Notification side effects
	breakers := []*circuitbreaker.CircuitBreaker{backendBreaker}
	sinks := []sink.Named{sink.NewLogSink(logger)}

	if cfg.WebhookURL != "" {
		ps := circuitbreaker.NewProtectedSink(
			sink.NewWebhookSink(sink.WebhookConfig{
				URL:     cfg.WebhookURL,
				Timeout: time.Duration(cfg.WebhookTimeout) * time.Second,
			}, logger),
			circuitbreaker.New(circuitbreaker.DefaultConfig("webhook"), logger),
			logger,
		)
		sinks = append(sinks, ps)
		breakers = append(breakers, ps.Breaker())
	}

	if cfg.SNSTopicARN != "" {
		snsSink, err := sink.NewSNSSink(ctx, sink.SNSConfig{
			TopicARN: cfg.SNSTopicARN,
			Region:   cfg.AWSRegion,
			UserID:   cfg.UserID,
		}, logger)
		if err != nil {
			logger.Warn("SNS sink unavailable, push fan-out disabled", zap.Error(err))
		} else {
			ps := circuitbreaker.NewProtectedSink(snsSink,
				circuitbreaker.New(circuitbreaker.DefaultConfig("sns"), logger), logger)
			sinks = append(sinks, ps)
			breakers = append(breakers, ps.Breaker())
		}
	}

	if cfg.SQSQueueURL != "" {
		sqsSink, err := sink.NewSQSSink(ctx, sink.SQSConfig{
			QueueURL: cfg.SQSQueueURL,
			Region:   cfg.AWSRegion,
			UserID:   cfg.UserID,
		}, logger)
		if err != nil {
			logger.Warn("SQS sink unavailable, notifications will not be enqueued", zap.Error(err))
		} else {
			ps := circuitbreaker.NewProtectedSink(sqsSink,
				circuitbreaker.New(circuitbreaker.DefaultConfig("sqs"), logger), logger)
			sinks = append(sinks, ps)
			breakers = append(breakers, ps.Breaker())
		}
	}

	fanout := sink.NewMultiSink(logger, sinks...)

	logger.Info("initialized notification sinks",
		zap.Int("sinks", fanout.Len()),
		zap.Bool("persistence_enabled", persister != nil),
		zap.Bool("webhook_enabled", cfg.WebhookURL != ""),
		zap.Bool("sns_enabled", cfg.SNSTopicARN != ""),
		zap.Bool("sqs_enabled", cfg.SQSQueueURL != ""),
	)

	store := notify.NewStore(logger, persister, fanout)
	defer store.Flush()

	// Real-time transport, room bootstrap, and order poller
	adapter := transport.NewAdapter(
		transport.NewStompDialer(cfg.HeartBeat),
		platform,
		transport.Config{ReconnectDelay: cfg.ReconnectDelay, HeartBeat: cfg.HeartBeat},
		logger,
	)
	boot := session.NewBootstrap(platform, adapter, store, dedup.NewLedger(dedup.MaxFingerprints), cfg.UserID, logger)
	poller := reconciler.New(platform, store, cfg.UserID, reconciler.Config{PollInterval: cfg.PollInterval}, logger)

	sess := session.New(session.Config{
		SocketURL: cfg.SocketURL,
		UserID:    cfg.UserID,
	}, adapter, boot, poller, store, logger)

	sess.Login(ctx)
	defer sess.Logout()

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	handler := api.NewHandler(logger, store, boot, adapter, cfg.UserID, breakers...)
	r.Route("/v1", func(r chi.Router) {
		handler.Routes(r, api.RateLimitMiddleware(rateLimiter, logger, api.RoomKeyFunc))
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
