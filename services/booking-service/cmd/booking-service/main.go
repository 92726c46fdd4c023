package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/shopbook/libs/auth"
	"github.com/md-rashed-zaman/shopbook/libs/config"
	"github.com/md-rashed-zaman/shopbook/libs/db"
	"github.com/md-rashed-zaman/shopbook/libs/httpx"
	"github.com/md-rashed-zaman/shopbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/shopbook/libs/otel"
	"github.com/md-rashed-zaman/shopbook/libs/runtime"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/consumer"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/email"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/invite"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/review"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(healthcheck())
	}

	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext(context.Background())
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		panic(err)
	}

	pool, err := db.OpenWithOptions(ctx, cfg.DatabaseURL, db.Options{MaxConns: cfg.DBMaxConns})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := storage.Migrate(ctx, pool); err != nil {
			logger.Error("schema migration failed", "err", err)
			panic(err)
		}
		logger.Info("schema migrated")
	}

	outboxRepo := outbox.NewRepository(pool)
	store := storage.NewPostgres(pool, outboxRepo)

	engine := availability.NewEngine(store, availability.Config{
		Step:     cfg.SlotStep,
		LeadTime: cfg.LeadTime,
		Buffer:   cfg.Buffer,
		Location: cfg.Location,
	}, logger)
	signer, err := invite.NewSigner(cfg.InviteSecret)
	if err != nil {
		logger.Error("review invite signer init failed", "err", err)
		panic(err)
	}
	invites := invite.NewService(store, signer, cfg.InviteTTL, logger)
	api := handlers.NewAPI(handlers.Deps{
		Store:     store,
		Engine:    engine,
		Booking:   booking.NewCoordinator(store, engine, logger),
		Lifecycle: lifecycle.NewManager(store, logger),
		Invites:   invites,
		Reviews:   review.NewResolver(store, invites, review.Config{AutoPublish: cfg.AutoPublish}, logger),
		Logger:    logger,
	})

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
		Retention: 7 * 24 * time.Hour,
	})
	go outboxPublisher.Run(ctx)

	var sender email.Sender
	if cfg.SMTPHost != "" {
		sender = email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom)
	} else {
		logger.Warn("SMTP_HOST not set; review invite emails are disabled")
		sender = email.NewLogSender(logger)
	}
	mailer := notify.NewInviteMailer(store, invites, sender, cfg.ReviewLinkBase, logger)
	if topic := strings.TrimSpace(cfg.CompletedTopic); topic != "" && len(kafkax.SplitBrokers(cfg.KafkaBrokers)) > 0 {
		eventConsumer := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
			Topic:   topic,
		}, mailer.Handle)
		go eventConsumer.Run(ctx)
	}

	if err := startGrpcServer(ctx, logger, cfg.GRPCPort, pool); err != nil {
		logger.Error("grpc server init failed", "err", err)
		panic(err)
	}

	publicMW, closeLimiter := rateLimiter(cfg, logger)
	defer closeLimiter()

	var jwks *auth.JWKSClient
	if cfg.JWKSURL != "" {
		jwks = auth.NewJWKSClient(cfg.JWKSURL, cfg.JWKSTTL)
	}

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if len(kafkax.SplitBrokers(cfg.KafkaBrokers)) > 0 {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	api.Register(mux, handlers.NewAuthenticator(cfg.JWTSecret, jwks), publicMW)

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: parseList(cfg.CORSOrigins),
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id", "Idempotency-Key", "X-Idempotency-Key"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(cfg.BodyLimit),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// rateLimiter guards the public routes. Redis keeps the window shared across replicas; without it
// each instance counts on its own.
func rateLimiter(cfg serviceConfig, logger *slog.Logger) (httpx.Middleware, func()) {
	if cfg.RedisAddr == "" {
		rl := httpx.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
		logger.Info("rate limiting enabled (in-memory)", "per_minute", cfg.RateLimitPerMinute)
		return rl.Middleware(), func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	rl := httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, "booking-rl")
	logger.Info("rate limiting enabled (redis)", "per_minute", cfg.RateLimitPerMinute, "redis_addr", cfg.RedisAddr)
	return rl.Middleware(logger, cfg.RateLimitFailOpen), func() { _ = rdb.Close() }
}

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
