package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/movra/payout-manager/internal/config"
	"github.com/movra/payout-manager/internal/handler"
	"github.com/movra/payout-manager/internal/kafka"
	"github.com/movra/payout-manager/internal/ledger"
	"github.com/movra/payout-manager/internal/metrics"
	"github.com/movra/payout-manager/internal/provider"
	"github.com/movra/payout-manager/internal/rabbitmq"
	"github.com/movra/payout-manager/internal/repository"
	"github.com/movra/payout-manager/internal/rpc"
	"github.com/movra/payout-manager/internal/service"
	"github.com/movra/payout-manager/internal/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"gorm.io/gorm"

	payoutgrpc "github.com/movra/payout-manager/internal/grpc"
)

const serviceName = "payout-manager"

// payoutStore is implemented by both the gorm and the in-memory repository
type payoutStore interface {
	repository.PayoutRepository
	repository.CashFlowPostingRepository
	repository.Transactor
}

type dependencies struct {
	ledger   ledger.Client
	parties  provider.PartyDirectory
	deposits provider.DepositIssuer
	conns    []io.Closer

	// set in simulated mode so the ledger can be reached over gRPC too
	simulatedLedger *ledger.SimulatedLedger
}

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup logger
	logger := setupLogger(cfg)
	defer logger.Sync()

	logger.Info("Starting Payout Manager",
		zap.String("environment", cfg.Environment),
		zap.Int("httpPort", cfg.HTTPPort),
		zap.Int("grpcPort", cfg.GRPCPort),
		zap.String("providerType", cfg.ProviderType),
	)

	failureMode, err := service.ParseDepositFailureMode(cfg.DepositFailureMode)
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	tracer, err := tracing.Setup(context.Background(), tracing.Config{
		ServiceName:  serviceName,
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRatio:  cfg.TraceSampleRatio,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to setup tracing", zap.Error(err))
	}

	// Storage
	store, db := setupStore(cfg, logger)
	redisClient := setupRedis(cfg, logger)
	sources := repository.NewRedisRepository(redisClient)

	// Collaborators
	deps := setupDependencies(cfg, redisClient, sources, logger)

	publisher, publisherCloser := setupPublisher(cfg, logger)

	appMetrics := metrics.NewMetrics("payout_manager", prometheus.DefaultRegisterer)
	saga := service.NewLedgerSaga(deps.ledger, store, appMetrics, logger)

	payoutService := service.NewPayoutService(service.Dependencies{
		Payouts:    store,
		Postings:   store,
		Transactor: store,
		Saga:       saga,
		Parties:    deps.parties,
		Deposits:   deps.deposits,
		Publisher:  publisher,
		Metrics:    appMetrics,
		Logger:     logger,
	}, service.WithDepositFailureMode(failureMode))

	sourceService := service.NewSourceService(sources, appMetrics, logger)

	// Setup Gin router
	router := setupRouter(cfg, logger, payoutService, readinessChecks(db, redisClient))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	grpcServer := setupGRPCServer(payoutService, deps.simulatedLedger, logger)

	// Start servers
	startServers(cfg, httpServer, grpcServer, logger)

	// Start source change consumer
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	var consumer *kafka.Consumer
	consumerDone := make(chan struct{})
	if cfg.SourceConsumer {
		consumer = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:  cfg.KafkaBrokerList(),
			Topic:    cfg.KafkaTopicSources,
			GroupID:  cfg.KafkaConsumerGroup,
			Throttle: cfg.SourceThrottle,
		}, sourceService, logger)

		go func() {
			defer close(consumerDone)
			if err := consumer.Start(consumerCtx); err != nil {
				logger.Error("Kafka consumer stopped", zap.Error(err))
			}
		}()
	} else {
		close(consumerDone)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down servers...")

	stopConsumer()
	<-consumerDone
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Error("Kafka consumer close error", zap.Error(err))
		}
	}

	shutdownServers(httpServer, grpcServer, logger)

	if publisherCloser != nil {
		if err := publisherCloser.Close(); err != nil {
			logger.Error("Publisher close error", zap.Error(err))
		}
	}
	for _, conn := range deps.conns {
		if err := conn.Close(); err != nil {
			logger.Error("Client connection close error", zap.Error(err))
		}
	}
	if err := redisClient.Close(); err != nil {
		logger.Error("Redis close error", zap.Error(err))
	}
	if db != nil {
		if err := repository.CloseDB(db); err != nil {
			logger.Error("Database close error", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tracer.Shutdown(ctx)

	logger.Info("Servers stopped")
}

func setupLogger(cfg *config.Config) *zap.Logger {
	var logger *zap.Logger
	var err error

	if cfg.IsProduction() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		panic(err)
	}

	return logger
}

func setupStore(cfg *config.Config, logger *zap.Logger) (payoutStore, *gorm.DB) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, payouts are kept in memory")
		return repository.NewMemoryRepository(), nil
	}

	db, err := repository.NewDB(repository.DBConfig{
		DSN:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}

	logger.Info("Connected to database")
	return repository.NewGormRepository(db), db
}

func setupRedis(cfg *config.Config, logger *zap.Logger) *redis.Client {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// Test Redis connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis connection failed, source projection and party cache degraded", zap.Error(err))
	} else {
		logger.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))
	}

	return redisClient
}

func setupDependencies(cfg *config.Config, redisClient *redis.Client, sources repository.SourceRepository, logger *zap.Logger) dependencies {
	resolver := provider.NewSourceResolver(sources, cfg.DefaultDepositSourceID, logger)
	retryPolicy := ledger.RetryPolicy{
		MaxAttempts:     cfg.RetryMaxAttempts,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      2,
	}

	switch cfg.ProviderType {
	case "grpc":
		ledgerConn := dial(cfg.LedgerAddr, logger)
		partyConn := dial(cfg.PartyAddr, logger)
		depositConn := dial(cfg.DepositAddr, logger)

		parties := provider.NewGRPCPartyDirectory(partyConn, cfg.PartyTimeout, provider.BreakerConfig{
			MaxRequests:         uint32(cfg.BreakerMaxRequests),
			Interval:            cfg.BreakerInterval,
			Timeout:             cfg.BreakerTimeout,
			ConsecutiveFailures: uint32(cfg.BreakerFailures),
		}, logger)

		return dependencies{
			ledger:   ledger.NewRetryingClient(ledger.NewGRPCClient(ledgerConn, cfg.LedgerTimeout), retryPolicy, ledger.IsUnavailable, logger),
			parties:  provider.NewCachedPartyDirectory(parties, redisClient, cfg.PartyCacheTTL, logger),
			deposits: provider.NewRetryingDepositIssuer(provider.NewGRPCDepositIssuer(depositConn, cfg.DepositTimeout, resolver, logger), retryPolicy, logger),
			conns:    []io.Closer{ledgerConn, partyConn, depositConn},
		}

	default:
		if cfg.ProviderType != "simulated" {
			logger.Info("Unknown provider type, defaulting to simulated",
				zap.String("configured", cfg.ProviderType),
			)
		}

		party := provider.DefaultSimulatedParty()
		balances := make(map[int64]int64, len(party.Shops))
		for _, shop := range party.Shops {
			balances[shop.Account.Settlement] = cfg.SimulatedBalance
		}
		simulated := ledger.NewSimulatedLedger(balances, cfg.SimulatedFailureRate)
		parties := provider.NewSimulatedPartyDirectory(provider.SimulatedFees{
			SystemSettlementAccount: 1,
			FeeBasisPoints:          100,
		}, party)

		return dependencies{
			ledger:          ledger.NewRetryingClient(simulated, retryPolicy, ledger.IsUnavailable, logger),
			parties:         parties,
			deposits:        provider.NewRetryingDepositIssuer(provider.NewSimulatedDepositIssuer(cfg.SimulatedFailureRate, cfg.SimulatedLatency, resolver), retryPolicy, logger),
			simulatedLedger: simulated,
		}
	}
}

func dial(addr string, logger *zap.Logger) *grpc.ClientConn {
	conn, err := rpc.Dial(addr)
	if err != nil {
		logger.Fatal("Failed to create client connection", zap.String("addr", addr), zap.Error(err))
	}
	return conn
}

func setupPublisher(cfg *config.Config, logger *zap.Logger) (service.EventPublisher, io.Closer) {
	switch cfg.PublisherType {
	case "kafka":
		producer := kafka.NewProducer(cfg.KafkaBrokerList(), cfg.KafkaTopicPayouts, cfg.KafkaWriteTimeout, logger)
		logger.Info("Publishing payout changes to Kafka", zap.String("topic", cfg.KafkaTopicPayouts))
		return producer, producer

	case "rabbitmq":
		publisher, err := rabbitmq.NewPublisher(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Fatal("Failed to setup RabbitMQ publisher", zap.Error(err))
		}
		logger.Info("Publishing payout changes to RabbitMQ", zap.String("exchange", rabbitmq.ExchangeName))
		return publisher, publisher

	default:
		logger.Warn("Payout change notifications disabled", zap.String("publisherType", cfg.PublisherType))
		return nil, nil
	}
}

func readinessChecks(db *gorm.DB, redisClient *redis.Client) map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	}
	if db != nil {
		checks["database"] = func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	return checks
}

func setupRouter(cfg *config.Config, logger *zap.Logger, payouts handler.PayoutManager, checks map[string]handler.ReadinessCheck) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	httpHandler := handler.NewHTTPHandler(payouts, checks, logger)
	httpHandler.SetupRoutes(router)

	// Metrics endpoint
	if cfg.MetricsEnabled {
		router.GET(cfg.MetricsEndpoint, gin.WrapH(promhttp.Handler()))
	}

	return router
}

func setupGRPCServer(payouts payoutgrpc.PayoutManager, simulatedLedger *ledger.SimulatedLedger, logger *zap.Logger) *grpc.Server {
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(payoutgrpc.LoggingInterceptor(logger)))

	payoutgrpc.RegisterPayoutManagementServer(grpcServer, payoutgrpc.NewPayoutServer(payouts))

	if simulatedLedger != nil {
		ledger.RegisterServer(grpcServer, simulatedLedger)
	}

	// Register health check service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(payoutgrpc.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable reflection for grpcurl
	reflection.Register(grpcServer)

	return grpcServer
}

func startServers(cfg *config.Config, httpServer *http.Server, grpcServer *grpc.Server, logger *zap.Logger) {
	// Start HTTP server
	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Start gRPC server
	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
		if err != nil {
			logger.Fatal("Failed to listen for gRPC", zap.Error(err))
		}

		logger.Info("Starting gRPC server", zap.Int("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()
}

func shutdownServers(httpServer *http.Server, grpcServer *grpc.Server, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Gracefully stop gRPC server
	grpcServer.GracefulStop()
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
