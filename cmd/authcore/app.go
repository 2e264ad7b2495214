package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nkiryanov/authcore/internal/db"
	"github.com/nkiryanov/authcore/internal/handlers"
	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/policy"
	"github.com/nkiryanov/authcore/internal/repository"
	"github.com/nkiryanov/authcore/internal/repository/dynamo"
	"github.com/nkiryanov/authcore/internal/repository/postgres"
	"github.com/nkiryanov/authcore/internal/repository/redis"
	"github.com/nkiryanov/authcore/internal/service/auth"
	"github.com/nkiryanov/authcore/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/authcore/internal/service/notify"
	"github.com/nkiryanov/authcore/internal/service/sweeper"
)

const (
	shutdownTimeout   = 5 * time.Second
	redisKeyPrefix    = "blacklist:"
	readHeaderTimeout = 5 * time.Second
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	sweeper *sweeper.Sweeper
	logger  logger.Logger

	// Called in reverse order on Close
	closers []func() error
}

func NewServerApp(ctx context.Context, c *Config) (_ *ServerApp, err error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	app := &ServerApp{ListenAddr: c.ListenAddr, logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	app.closers = append(app.closers, func() error { pool.Close(); return nil })

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	blacklist, err := app.blacklist(ctx, c, storage)
	if err != nil {
		return nil, err
	}
	ledger, err := app.ledger(ctx, c, storage)
	if err != nil {
		return nil, err
	}
	publisher, err := app.publisher(c, logger)
	if err != nil {
		return nil, err
	}

	// Initialize services
	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		AccessSecret:  c.AccessSecret,
		RefreshSecret: c.RefreshSecret,
		Alg:           c.JWTAlgorithm,
		AccessTTL:     c.AccessTTL,
		RefreshTTL:    c.RefreshTTL,
		VerifyTTL:     c.VerifyTTL,
	}, ledger)
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}
	hasher, err := auth.NewBcryptHasher(c.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("error while creating password hasher. Err: %w", err)
	}
	authService, err := auth.NewService(auth.Config{
		StoreTimeout: c.StoreTimeout,
		Hasher:       hasher,
		Publisher:    publisher,
		Logger:       logger,
	}, tokenManager, storage.User(), blacklist)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	app.sweeper = sweeper.New(c.SweepInterval, blacklist, ledger, logger)
	app.Handler = handlers.NewRouter(authService, policy.DefaultTable(), logger, c.Environment)

	return app, nil
}

func (s *ServerApp) blacklist(ctx context.Context, c *Config, storage *postgres.Storage) (repository.BlacklistRepo, error) {
	if c.BlacklistBackend != BackendRedis {
		return storage.Blacklist(), nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})
	s.closers = append(s.closers, client.Close)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("error while connecting to redis. Err: %w", err)
	}

	s.logger.Info("Using redis blacklist", "address", c.RedisAddr)
	return redis.NewBlacklistRepo(client, redisKeyPrefix), nil
}

func (s *ServerApp) ledger(ctx context.Context, c *Config, storage *postgres.Storage) (repository.RefreshTokenRepo, error) {
	if c.LedgerBackend != BackendDynamoDB {
		return storage.Refresh(), nil
	}

	client, err := dynamo.NewClient(ctx, dynamo.ClientConfig{Region: c.DynamoRegion, Endpoint: c.DynamoEndpoint})
	if err != nil {
		return nil, fmt.Errorf("error while creating dynamodb client. Err: %w", err)
	}
	if err := dynamo.EnsureTable(ctx, client, c.DynamoTable); err != nil {
		return nil, fmt.Errorf("error while preparing dynamodb table. Err: %w", err)
	}

	s.logger.Info("Using dynamodb refresh token ledger", "table", c.DynamoTable)
	return dynamo.NewRefreshTokenRepo(client, c.DynamoTable), nil
}

func (s *ServerApp) publisher(c *Config, l logger.Logger) (notify.Publisher, error) {
	if len(c.KafkaBrokers) == 0 {
		return notify.NewLogPublisher(l), nil
	}

	p, err := notify.NewKafkaPublisher(c.KafkaBrokers, c.KafkaTopic)
	if err != nil {
		return nil, fmt.Errorf("error while creating kafka publisher. Err: %w", err)
	}
	s.closers = append(s.closers, p.Close)

	return p, nil
}

// Run starts http server and sweeper, stops both gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting server", "address", s.ListenAddr)
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(timeoutCtx)
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
			err = httpServer.Close()
		}
		s.logger.Info("HTTP server stopped")
		return err
	})

	g.Go(func() error {
		<-s.sweeper.Run(gctx)
		return nil
	})

	return g.Wait()
}

// Close releases connections opened by the app
func (s *ServerApp) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}
