package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"livestock-track/docs"
	"livestock-track/internal/config"
	"livestock-track/internal/database"
	"livestock-track/internal/event"
	"livestock-track/internal/handler"
	"livestock-track/internal/middleware"
	"livestock-track/internal/notify"
	"livestock-track/internal/repository"
	"livestock-track/internal/router"
	"livestock-track/internal/service"
)

type App struct {
	server          *http.Server
	shutdownTimeout time.Duration
	cleanupFuncs    []func()
}

// stores holds the persistence backends selected by configuration.
type stores struct {
	users  service.UserStore
	ledger service.RevocationLedger
	redis  *redis.Client
}

func New(cfg *config.Config) (*App, error) {
	ctx := context.Background()
	a := &App{shutdownTimeout: cfg.ShutdownTimeout}

	st, err := a.openStores(ctx, cfg)
	if err != nil {
		a.cleanup()
		return nil, err
	}

	tokens, err := service.NewTokenIssuer(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize token issuer: %w", err)
	}

	notifier, err := a.buildNotifier(cfg)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize notifier: %w", err)
	}

	authService, err := service.NewAuthService(st.users, st.ledger, tokens, notifier, service.AuthConfig{
		FrontendURL:          cfg.FrontendURL,
		VerificationTokenTTL: cfg.VerificationTokenTTL,
		ResetTokenTTL:        cfg.ResetTokenTTL,
		BcryptCost:           cfg.BcryptCost,
	})
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize auth service: %w", err)
	}

	if cfg.AdminEmail != "" {
		if err := authService.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			a.cleanup()
			return nil, fmt.Errorf("failed to ensure admin account: %w", err)
		}
	}

	var limiter middleware.Limiter = middleware.NewMemoryLimiter()
	if cfg.RateLimit.Driver == config.RateLimitDriverRedis {
		limiter = middleware.NewRedisLimiter(st.redis, "")
	}

	appRouter := router.New(cfg, middleware.NewAuthMiddleware(authService), limiter, router.Handlers{
		Auth: handler.NewAuthHandler(authService),
		User: handler.NewUserHandler(authService),
		Docs: handler.NewDocsHandler(docs.OpenAPI),
	})

	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return a, nil
}

func (a *App) openStores(ctx context.Context, cfg *config.Config) (stores, error) {
	var st stores

	if cfg.UsesRedis() {
		client, err := database.NewRedis(ctx, database.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS:      cfg.Redis.TLS,
		})
		if err != nil {
			return st, fmt.Errorf("failed to connect to redis: %w", err)
		}
		st.redis = client
		a.cleanupFuncs = append(a.cleanupFuncs, func() { _ = client.Close() })
	}

	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		slog.Info("connecting to PostgreSQL")
		db, err := database.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return st, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.cleanupFuncs = append(a.cleanupFuncs, db.Close)

		if err := db.EnsureSchema(ctx); err != nil {
			return st, fmt.Errorf("failed to ensure database schema: %w", err)
		}

		st.users = repository.NewUserRepository(db.Pool)
		st.ledger = repository.NewRevocationRepository(db.Pool)

	case config.StoreDriverMongo:
		slog.Info("connecting to MongoDB")
		mdb, err := database.NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return st, fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		a.cleanupFuncs = append(a.cleanupFuncs, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mdb.Close(closeCtx)
		})

		if err := mdb.EnsureIndexes(ctx); err != nil {
			return st, fmt.Errorf("failed to ensure mongodb indexes: %w", err)
		}

		st.users = repository.NewMongoUserRepository(mdb.Database)
		st.ledger = repository.NewMongoRevocationRepository(mdb.Database)

	default:
		slog.Warn("using in-memory credential store, data is lost on restart")
		st.users = repository.NewMemoryUserRepository()
		st.ledger = repository.NewMemoryRevocationRepository()
	}

	switch cfg.RevocationDriver {
	case config.RevocationDriverRedis:
		st.ledger = repository.NewRedisRevocationRepository(st.redis)
	case config.RevocationDriverMemory:
		st.ledger = repository.NewMemoryRevocationRepository()
	}

	slog.Info("stores ready", "store", cfg.StoreDriver, "revocation", cfg.RevocationDriver)
	return st, nil
}

func (a *App) buildNotifier(cfg *config.Config) (notify.Notifier, error) {
	switch cfg.Notify.Transport {
	case config.NotifyTransportAMQP:
		sealer, err := notify.NewLinkSealer(cfg.Notify.SecretKey)
		if err != nil {
			return nil, err
		}
		publisher, err := notify.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Queue, sealer)
		if err != nil {
			return nil, err
		}
		a.cleanupFuncs = append(a.cleanupFuncs, func() { _ = publisher.Close() })
		return publisher, nil

	case config.NotifyTransportKafka:
		sealer, err := notify.NewLinkSealer(cfg.Notify.SecretKey)
		if err != nil {
			return nil, err
		}
		publisher, err := notify.NewKafkaPublisher(KafkaConfig(cfg), sealer)
		if err != nil {
			return nil, err
		}
		a.cleanupFuncs = append(a.cleanupFuncs, func() { _ = publisher.Close() })
		return publisher, nil

	case config.NotifyTransportLog:
		return notify.LogNotifier{}, nil
	}

	sender, err := notify.NewSMTPSender(SMTPConfig(cfg))
	if err != nil {
		return nil, err
	}

	bus := event.NewBus(cfg.Notify.BufferSize)
	worker := notify.NewWorker(bus, notify.NewDeliverer(sender), cfg.SMTP.SendTimeout+cfg.SMTP.DialTimeout)
	workerCtx, cancel := context.WithCancel(context.Background())
	go worker.Run(workerCtx)
	a.cleanupFuncs = append(a.cleanupFuncs, cancel)

	return notify.NewAsyncNotifier(bus), nil
}

// SMTPConfig maps the EMAIL_* settings onto the sender.
func SMTPConfig(cfg *config.Config) notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:        cfg.SMTP.Host,
		Port:        cfg.SMTP.Port,
		Username:    cfg.SMTP.Username,
		Password:    cfg.SMTP.Password,
		From:        cfg.SMTP.From,
		DialTimeout: cfg.SMTP.DialTimeout,
		SendTimeout: cfg.SMTP.SendTimeout,
	}
}

func KafkaConfig(cfg *config.Config) notify.KafkaConfig {
	return notify.KafkaConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topic,
		GroupID:  cfg.Kafka.GroupID,
		Username: cfg.Kafka.Username,
		Password: cfg.Kafka.Password,
	}
}

// cleanup releases resources in reverse order of acquisition.
func (a *App) cleanup() {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}
	a.cleanupFuncs = nil
}

func (a *App) Handler() http.Handler {
	return a.server.Handler
}

func (a *App) Run() error {
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-serveErr:
		a.cleanup()
		return fmt.Errorf("server failed: %w", err)
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	shutdownErr := a.server.Shutdown(ctx)
	a.cleanup()
	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("server stopped")
	return nil
}
