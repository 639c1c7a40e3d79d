package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"ledger-service/internal/config"
	hgrpc "ledger-service/internal/handler/grpc"
	hrest "ledger-service/internal/handler/rest"
	"ledger-service/internal/pub"
	"ledger-service/internal/repository"
	"ledger-service/internal/repository/memory"
	"ledger-service/internal/usecase"
	"ledger-service/pkg/cache"
	"ledger-service/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

const shutdownTimeout = 10 * time.Second

// openStore returns the configured store and a close func.
func openStore(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (repository.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store, state is lost on restart")
		return memory.NewStore(), func() {}, nil

	case config.StoreDriverPostgres:
		dbpool, err := config.ConnectDB(ctx, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		store := repository.NewPostgresStore(dbpool)
		if cfg.MigrateOnStart {
			if err := store.Migrate(ctx); err != nil {
				dbpool.Close()
				return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
			}
			logger.Info("database schema up to date")
		}
		logger.Info("database connected",
			zap.Int32("max_conns", dbpool.Config().MaxConns),
		)
		return store, dbpool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Run wires the ledger and serves REST and gRPC until ctx is cancelled.
func Run(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) error {
	logger.Info("starting ledger service",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("grpc_addr", cfg.GRPCAddr),
		zap.String("store", cfg.StoreDriver),
	)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// --- Redis client ---
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPass,
		DB:           cfg.RedisDB,
		PoolSize:     50,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	defer rdb.Close()

	var (
		cacheService *cache.CacheService
		txEvents     *pub.TransactionEventPublisher
	)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, caching and transaction events disabled", zap.Error(err))
	} else {
		cacheService = cache.NewCacheServiceFromClient(rdb, logger)
		txEvents = pub.NewTransactionEventPublisher(rdb, logger)
		logger.Info("redis connected", zap.String("addr", cfg.RedisAddr), zap.Int("db", cfg.RedisDB))
	}
	registerCacheMetrics(cacheService)

	// --- Kafka writer ---
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Compression:  kafka.Snappy,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("confirmation events not delivered", zap.Int("count", len(messages)), zap.Error(err))
			}
		},
	}
	defer writer.Close()
	logger.Info("kafka writer initialized",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaTopic),
	)

	publisher := pub.NewPublisher(txEvents, pub.NewConfirmationPublisher(writer, logger))

	// --- Usecases ---
	gen := utils.NewReferenceGenerator()
	accountUC := usecase.NewAccountUsecase(store, gen, cfg.AccountPolicy, logger)
	movementUC := usecase.NewMovementUsecase(store, gen, cfg.CancelWindow, logger)
	ledgerUC := usecase.NewLedgerUsecase(store)
	confirmationUC := usecase.NewConfirmationUsecase(store, gen, cacheService, publisher, cfg.CacheTTL, logger)
	bankingUC := usecase.NewBankingUsecase(movementUC, confirmationUC, cacheService, publisher, cfg.CacheTTL, logger)

	// --- REST ---
	restHandler := hrest.NewLedgerRestHandler(accountUC, bankingUC, ledgerUC, confirmationUC, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           restHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// --- gRPC ---
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(hgrpc.UnaryInterceptor(logger)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 15 * time.Minute,
			Time:              5 * time.Minute,
			Timeout:           1 * time.Minute,
		}),
	)
	hgrpc.RegisterLedgerServiceServer(grpcServer, hgrpc.NewLedgerGRPCHandler(bankingUC, confirmationUC, logger))
	healthServer := health.NewServer()
	healthServer.SetServingStatus(hgrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("REST server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return err
	})

	return g.Wait()
}

// registerCacheMetrics exposes the cache hit and miss counters. A nil cache
// reports zero.
func registerCacheMetrics(c *cache.CacheService) {
	hits := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "ledger_cache_hits_total",
		Help: "Cache lookups served from redis",
	}, func() float64 {
		h, _ := c.Stats()
		return float64(h)
	})
	misses := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "ledger_cache_misses_total",
		Help: "Cache lookups that missed",
	}, func() float64 {
		_, m := c.Stats()
		return float64(m)
	})
	for _, col := range []prometheus.Collector{hits, misses} {
		if err := prometheus.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}
