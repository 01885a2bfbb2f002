package internal

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Commission    CommissionConfig    `mapstructure:"commission"`
	Poller        PollerConfig        `mapstructure:"poller"`
	Replay        ReplayConfig        `mapstructure:"replay"`
	Messaging     MessagingConfig     `mapstructure:"messaging"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

// SecurityConfig verifies operator tokens issued by the external auth system.
// Only the public key is held here; token issuance lives elsewhere.
type SecurityConfig struct {
	JWTPublicKey       string `mapstructure:"jwt_public_key"`
	OperatorPermission string `mapstructure:"operator_permission"`
}

type PaymentConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`

	// WebhookToken is the shared secret the gateway sends with every webhook.
	// Empty accepts unauthenticated deliveries.
	WebhookToken string `mapstructure:"webhook_token"`
}

type CommissionConfig struct {
	Async               bool   `mapstructure:"async"`
	MaxWorkers          int    `mapstructure:"max_workers"`
	JobQueueSize        int    `mapstructure:"job_queue_size"`
	MinTransferAmount   string `mapstructure:"min_transfer_amount"`
	TransferDescription string `mapstructure:"transfer_description"`
}

type PollerConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxTimeout time.Duration `mapstructure:"max_timeout"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type ReplayConfig struct {
	MaxRetries int             `mapstructure:"max_retries"`
	Backoff    []time.Duration `mapstructure:"backoff"`
	BatchSize  int             `mapstructure:"batch_size"`
}

type MessagingConfig struct {
	RabbitMQURL string `mapstructure:"rabbitmq_url"`
	Queue       string `mapstructure:"queue"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfigFromEnv builds the configuration for container deployments where no
// config file is mounted.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_PORT", 8080),
			BaseURL:           getEnv("HTTP_BASE_URL", ""),
			AllowedOrigins:    getEnv("HTTP_ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_WRITE_TIMEOUT", 45*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DB_SOURCE", ""),
		},
		Security: SecurityConfig{
			JWTPublicKey:       getEnv("JWT_PUBLIC_KEY", ""),
			OperatorPermission: getEnv("OPERATOR_PERMISSION", "manage_payments"),
		},
		Payment: PaymentConfig{
			BaseURL:      getEnv("PAYMENT_GATEWAY_URL", ""),
			APIKey:       getEnv("PAYMENT_GATEWAY_API_KEY", ""),
			Timeout:      getEnvAsDuration("PAYMENT_GATEWAY_TIMEOUT", 10*time.Second),
			WebhookToken: getEnv("PAYMENT_WEBHOOK_TOKEN", ""),
		},
		Commission: CommissionConfig{
			Async:               getEnv("COMMISSION_ASYNC", "true") == "true",
			MaxWorkers:          getEnvAsInt("COMMISSION_MAX_WORKERS", 4),
			JobQueueSize:        getEnvAsInt("COMMISSION_JOB_QUEUE_SIZE", 100),
			MinTransferAmount:   getEnv("COMMISSION_MIN_TRANSFER_AMOUNT", "10.00"),
			TransferDescription: getEnv("COMMISSION_TRANSFER_DESCRIPTION", "Affiliate commission"),
		},
		Poller: PollerConfig{
			Interval:   getEnvAsDuration("POLLER_INTERVAL", time.Second),
			Timeout:    getEnvAsDuration("POLLER_TIMEOUT", 15*time.Second),
			MaxTimeout: getEnvAsDuration("POLLER_MAX_TIMEOUT", 30*time.Second),
			StaleAfter: getEnvAsDuration("POLLER_STALE_AFTER", 2*time.Second),
		},
		Replay: ReplayConfig{
			MaxRetries: getEnvAsInt("REPLAY_MAX_RETRIES", 5),
			Backoff:    DefaultReplayBackoff(),
			BatchSize:  getEnvAsInt("REPLAY_BATCH_SIZE", 10),
		},
		Messaging: MessagingConfig{
			RabbitMQURL: getEnv("RABBITMQ_URL", ""),
			Queue:       getEnv("RABBITMQ_QUEUE", "payment.status_changed"),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
	return cfg
}

// DefaultReplayBackoff is the wait before each successive replay attempt.
func DefaultReplayBackoff() []time.Duration {
	return []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute, time.Hour, 6 * time.Hour}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Payment.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("payment config: %v", err))
	}

	if err := c.Commission.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("commission config: %v", err))
	}

	if err := c.Poller.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("poller config: %v", err))
	}

	if err := c.Replay.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("replay config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	if c.JWTPublicKey == "" {
		// operator endpoints stay disabled
		return nil
	}
	if _, err := c.GetPublicKey(); err != nil {
		return fmt.Errorf("invalid JWT public key: %w", err)
	}
	return nil
}

func (c *SecurityConfig) GetPublicKey() (*rsa.PublicKey, error) {
	keyData, err := base64.StdEncoding.DecodeString(c.JWTPublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	return jwt.ParseRSAPublicKeyFromPEM(keyData)
}

func (c *PaymentConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	return nil
}

func (c *CommissionConfig) Validate() error {
	if c.MinTransferAmount == "" {
		return nil
	}
	if _, err := c.MinTransfer(); err != nil {
		return fmt.Errorf("invalid min_transfer_amount: %w", err)
	}
	return nil
}

// MinTransfer parses the minimum transfer amount; zero disables the check.
func (c *CommissionConfig) MinTransfer() (decimal.Decimal, error) {
	if c.MinTransferAmount == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(c.MinTransferAmount)
}

func (c *PollerConfig) Validate() error {
	if c.Interval < 0 || c.Timeout < 0 {
		return errors.New("interval and timeout must not be negative")
	}
	if c.MaxTimeout > 0 && c.Timeout > c.MaxTimeout {
		return errors.New("timeout cannot exceed max_timeout")
	}
	return nil
}

func (c *ReplayConfig) Validate() error {
	if c.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}
	for _, d := range c.Backoff {
		if d < 0 {
			return errors.New("backoff durations must not be negative")
		}
	}
	return nil
}
