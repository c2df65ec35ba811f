package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Environment variables that override secrets from the config file
const (
	EnvGatewaySecretKey     = "GATEWAY_SECRET_KEY"
	EnvGatewayWebhookSecret = "GATEWAY_WEBHOOK_SECRET"
	EnvDatabasePassword     = "DATABASE_PASSWORD"
	EnvRabbitMQPassword     = "RABBITMQ_PASSWORD"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Payment   PaymentConfig   `yaml:"payment"`
	Handshake HandshakeConfig `yaml:"handshake"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Webhook   WebhookConfig   `yaml:"webhook"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	// Driver is "postgres" (default) or "memory" for local runs without a database.
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Enabled    *bool            `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// IsEnabled reports whether the broker should be used. It defaults to true.
func (r RabbitMQConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
	// DeadLetterExchange receives messages the worker rejects without requeue.
	DeadLetterExchange string `yaml:"dead_letter_exchange"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	MaxJobs           int           `yaml:"max_jobs"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// GatewayConfig holds the payment gateway client settings
type GatewayConfig struct {
	BaseURL           string        `yaml:"base_url"`
	SecretKey         string        `yaml:"secret_key"`
	CallbackURL       string        `yaml:"callback_url"`
	DefaultRegion     string        `yaml:"default_region"`
	Currencies        []string      `yaml:"currencies"`
	MaxAmount         string        `yaml:"max_amount"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	Timeout           time.Duration `yaml:"timeout"`
	VerifyRetries     int           `yaml:"verify_retries"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// PaymentConfig holds fee and submission rules. Amounts are decimal strings.
type PaymentConfig struct {
	FeePercent       string `yaml:"fee_percent"`
	MaxTipRatio      string `yaml:"max_tip_ratio"`
	DisputeTolerance string `yaml:"dispute_tolerance"`
	DefaultCurrency  string `yaml:"default_currency"`
}

// HandshakeConfig holds start/end code settings
type HandshakeConfig struct {
	CodeLength       int           `yaml:"code_length"`
	CodeTTL          time.Duration `yaml:"code_ttl"`
	BillingIncrement time.Duration `yaml:"billing_increment"`
}

// RateLimitConfig holds the fixed-window limits of public endpoints
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// WebhookConfig holds inbound gateway webhook settings
type WebhookConfig struct {
	Secret       string `yaml:"secret"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
	CacheSize    uint   `yaml:"cache_size"`
}

// Load reads and parses the configuration file, then applies secret
// overrides from the environment.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnv()
	return &config, nil
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		EnvGatewaySecretKey:     &c.Gateway.SecretKey,
		EnvGatewayWebhookSecret: &c.Webhook.Secret,
		EnvDatabasePassword:     &c.Database.Password,
		EnvRabbitMQPassword:     &c.RabbitMQ.Password,
	}
	for env, field := range overrides {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*field = v
		}
	}
}

// UsesPostgres reports whether the configured driver is PostgreSQL.
func (d DatabaseConfig) UsesPostgres() bool {
	return d.Driver == "" || d.Driver == DriverPostgres
}

// Validate checks if the configuration is valid for the API service
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway base_url is required")
	}

	if c.Gateway.SecretKey == "" {
		return fmt.Errorf("gateway secret_key is required (or set %s)", EnvGatewaySecretKey)
	}

	if c.Webhook.Secret == "" {
		return fmt.Errorf("webhook secret is required (or set %s)", EnvGatewayWebhookSecret)
	}

	if _, err := c.Gateway.MaxAmountDecimal(); err != nil {
		return err
	}

	if err := c.Payment.validate(); err != nil {
		return err
	}

	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate_limit requests and window must be greater than 0 when enabled")
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if !c.RabbitMQ.IsEnabled() {
		return fmt.Errorf("rabbitmq must be enabled for the worker service")
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if err := c.Payment.validate(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.MaxJobs <= 0 {
		return fmt.Errorf("worker max_jobs must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "", DriverPostgres:
	case DriverMemory:
		return nil
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if !c.RabbitMQ.IsEnabled() {
		return nil
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

// MaxAmountDecimal parses max_amount. Empty means no upper bound.
func (g GatewayConfig) MaxAmountDecimal() (decimal.Decimal, error) {
	return parseDecimal("gateway max_amount", g.MaxAmount, decimal.Zero)
}

func (p PaymentConfig) validate() error {
	fee, err := p.FeePercentDecimal()
	if err != nil {
		return err
	}
	if fee.IsNegative() || fee.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("payment fee_percent must be between 0 and 100")
	}

	ratio, err := p.MaxTipRatioDecimal()
	if err != nil {
		return err
	}
	if ratio.IsNegative() {
		return fmt.Errorf("payment max_tip_ratio must not be negative")
	}

	tolerance, err := p.DisputeToleranceDecimal()
	if err != nil {
		return err
	}
	if tolerance.IsNegative() {
		return fmt.Errorf("payment dispute_tolerance must not be negative")
	}

	return nil
}

// FeePercentDecimal returns the platform commission percent, 15 when unset.
func (p PaymentConfig) FeePercentDecimal() (decimal.Decimal, error) {
	return parseDecimal("payment fee_percent", p.FeePercent, decimal.NewFromInt(15))
}

// MaxTipRatioDecimal returns the tip cap as a share of the quote, 0.5 when unset.
func (p PaymentConfig) MaxTipRatioDecimal() (decimal.Decimal, error) {
	return parseDecimal("payment max_tip_ratio", p.MaxTipRatio, decimal.RequireFromString("0.5"))
}

// DisputeToleranceDecimal returns the shortfall allowed without a reason, 0 when unset.
func (p PaymentConfig) DisputeToleranceDecimal() (decimal.Decimal, error) {
	return parseDecimal("payment dispute_tolerance", p.DisputeTolerance, decimal.Zero)
}

func parseDecimal(name, value string, fallback decimal.Decimal) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return d, nil
}
