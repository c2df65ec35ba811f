package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/jobpay/internal/api/handler"
	"github.com/cuongbtq/jobpay/internal/api/router"
	"github.com/cuongbtq/jobpay/internal/booking"
	"github.com/cuongbtq/jobpay/internal/config"
	"github.com/cuongbtq/jobpay/internal/events"
	"github.com/cuongbtq/jobpay/internal/gateway"
	"github.com/cuongbtq/jobpay/internal/handshake"
	"github.com/cuongbtq/jobpay/internal/payment"
	"github.com/cuongbtq/jobpay/internal/payout"
	"github.com/cuongbtq/jobpay/internal/quote"
	"github.com/cuongbtq/jobpay/internal/ratelimit"
	"github.com/cuongbtq/jobpay/internal/reconcile"
	"github.com/cuongbtq/jobpay/internal/security"
	"github.com/cuongbtq/jobpay/internal/storage"
	"github.com/cuongbtq/jobpay/internal/storage/memory"
	"github.com/cuongbtq/jobpay/migrations"
	"github.com/cuongbtq/jobpay/shared/logger"
	"github.com/cuongbtq/jobpay/shared/postgresql"
	"github.com/cuongbtq/jobpay/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize storage
	var (
		store    storage.Store
		dbClient *postgresql.Client
	)
	if cfg.Database.UsesPostgres() {
		dbClient, err = initPostgreSQL(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		store = storage.NewStorage(dbClient.GetDB(), appLogger.Logger)
		appLogger.Info("Database connection established")
	} else {
		store = memory.New()
		appLogger.Warn("Using in-memory storage, data is lost on restart")
	}

	// Initialize RabbitMQ client
	var (
		publisher    events.Publisher = events.Discard{}
		rabbitClient *rabbitmq.Client
	)
	if cfg.RabbitMQ.IsEnabled() {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		publisher = events.NewBrokerPublisher(rabbitClient, appLogger.Logger)
		appLogger.Info("RabbitMQ connection established")
	} else {
		appLogger.Warn("RabbitMQ disabled, payment events are not published")
	}

	deps, err := initDependencies(cfg, appLogger.Logger, store, publisher)
	if err != nil {
		return err
	}
	if dbClient != nil {
		deps.Database = dbClient
	}

	// Initialize router
	r := initRouter(cfg.App.Environment, deps)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		appLogger.Error("Server failed to start",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)

	// Cleanup function to close all resources
	cleanup := func() {
		cancel()
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	defer cleanup()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL connects to PostgreSQL and applies pending migrations
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	client, err := postgresql.NewClient(dbConfig, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	applied, err := client.Migrate(ctx, migrations.FS)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Info("Database schema is up to date", slog.Int("applied", len(applied)))

	return client, nil
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		DeadLetterExchange: cfg.Queue.DeadLetterExchange,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initDependencies builds the payment core services over store
func initDependencies(cfg *config.Config, logger *slog.Logger, store storage.Store, publisher events.Publisher) (*handler.Dependencies, error) {
	feePercent, err := cfg.Payment.FeePercentDecimal()
	if err != nil {
		return nil, err
	}
	maxTipRatio, err := cfg.Payment.MaxTipRatioDecimal()
	if err != nil {
		return nil, err
	}
	tolerance, err := cfg.Payment.DisputeToleranceDecimal()
	if err != nil {
		return nil, err
	}
	maxAmount, err := cfg.Gateway.MaxAmountDecimal()
	if err != nil {
		return nil, err
	}

	gw := gateway.NewHTTPClient(gateway.Config{
		BaseURL:        cfg.Gateway.BaseURL,
		SecretKey:      cfg.Gateway.SecretKey,
		CallbackURL:    cfg.Gateway.CallbackURL,
		DefaultRegion:  cfg.Gateway.DefaultRegion,
		Currencies:     cfg.Gateway.Currencies,
		MaxAmount:      maxAmount,
		ConnectTimeout: cfg.Gateway.ConnectTimeout,
		Timeout:        cfg.Gateway.Timeout,
		VerifyRetries:  cfg.Gateway.VerifyRetries,
		RetryDelay:     cfg.Gateway.RetryInterval,
		BackoffMult:    cfg.Gateway.BackoffMultiplier,
	}, logger)

	paymentCfg := payment.DefaultConfig()
	paymentCfg.FeePercent = feePercent
	paymentCfg.MaxTipRatio = maxTipRatio
	paymentCfg.DisputeTolerance = tolerance
	paymentCfg.MaxAmount = maxAmount
	if cfg.Payment.DefaultCurrency != "" {
		paymentCfg.DefaultCurrency = cfg.Payment.DefaultCurrency
	}

	handshakeCfg := handshake.DefaultConfig()
	if cfg.Handshake.CodeLength > 0 {
		handshakeCfg.CodeLength = cfg.Handshake.CodeLength
	}
	if cfg.Handshake.CodeTTL > 0 {
		handshakeCfg.CodeTTL = cfg.Handshake.CodeTTL
	}
	if cfg.Handshake.BillingIncrement > 0 {
		handshakeCfg.BillingIncrement = cfg.Handshake.BillingIncrement
	}

	var limiter ratelimit.Limiter = ratelimit.Unlimited{}
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewFixedWindow(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}

	payouts := payout.NewRouter(store, gw, payout.Config{
		FeePercent:    feePercent,
		DefaultRegion: cfg.Gateway.DefaultRegion,
	}, logger)
	engine := reconcile.NewEngine(store, payouts, publisher, logger)

	return &handler.Dependencies{
		Logger:              logger,
		Jobs:                booking.NewService(store, logger),
		Quotes:              quote.NewService(store, quote.Config{MaxTotal: maxAmount}, logger),
		Handshake:           handshake.NewManager(store, security.SelectHasher(logger), handshakeCfg, logger),
		Payments:            payment.NewService(store, gw, paymentCfg, logger),
		Payouts:             payouts,
		Webhooks:            reconcile.NewWebhookProcessor(store, engine, cfg.Webhook.Secret, cfg.Webhook.CacheSize, logger),
		Verifier:            reconcile.NewVerifier(gw, engine, logger),
		RateLimiter:         limiter,
		WebhookMaxBodyBytes: cfg.Webhook.MaxBodyBytes,
	}, nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Setup router
	return router.SetupRouter(deps)
}
