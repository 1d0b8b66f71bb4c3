package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cassiomorais/payments-capture/internal/scheduler"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Runtime config sources
const (
	RuntimeStatic = "static"
	RuntimeRedis  = "redis"
)

var validate = validator.New()

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Store         StoreConfig         `mapstructure:"store"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Mongo         MongoConfig         `mapstructure:"mongo"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Pool          PoolConfig          `mapstructure:"pool"`
	Capture       CaptureConfig       `mapstructure:"capture"`
	Provider      ProviderConfig      `mapstructure:"provider"`
	Runtime       RuntimeConfig       `mapstructure:"runtime"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	InstanceID    string              `mapstructure:"instance_id" validate:"required"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AdminEnabled    bool          `mapstructure:"admin_enabled"`
	AdminRateLimit  int           `mapstructure:"admin_rate_limit" validate:"gte=0"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=postgres mongo memory"`
	// SeedIntents pre-loads the memory store with demo intents.
	SeedIntents int `mapstructure:"seed_intents" validate:"gte=0"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	ConnectRetries  uint          `mapstructure:"connect_retries"`
}

type MongoConfig struct {
	URI            string `mapstructure:"uri"`
	Database       string `mapstructure:"database"`
	Collection     string `mapstructure:"collection"`
	ConnectRetries uint   `mapstructure:"connect_retries"`
}

type RedisConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// PoolConfig sizes the provider worker pool. MaxWorkers is the boot value;
// the resize job replaces it from the runtime source.
type PoolConfig struct {
	Name       string `mapstructure:"name" validate:"required"`
	MaxWorkers int    `mapstructure:"max_workers" validate:"gte=1"`
	QueueSize  int    `mapstructure:"queue_size" validate:"gte=1"`
}

type CaptureConfig struct {
	Cron                string        `mapstructure:"cron" validate:"required"`
	ResolveCron         string        `mapstructure:"resolve_cron" validate:"required"`
	ResizeCron          string        `mapstructure:"resize_cron" validate:"required"`
	HeartbeatCron       string        `mapstructure:"heartbeat_cron" validate:"required"`
	MonitorCron         string        `mapstructure:"monitor_cron" validate:"required"`
	RelayCron           string        `mapstructure:"relay_cron" validate:"required"`
	EligibleAge         time.Duration `mapstructure:"eligible_age"`
	StuckAge            time.Duration `mapstructure:"stuck_age"`
	BatchLimit          int           `mapstructure:"batch_limit" validate:"gte=1"`
	MaxAttempts         int           `mapstructure:"max_attempts" validate:"gte=1"`
	TickLockTTL         time.Duration `mapstructure:"tick_lock_ttl"`
	OutcomeWriteTimeout time.Duration `mapstructure:"outcome_write_timeout"`

	// HaltOnInconsistency stops the process on a capture the store could
	// not record, instead of only alerting.
	HaltOnInconsistency bool `mapstructure:"halt_on_inconsistency"`
}

type ProviderConfig struct {
	Name                    string        `mapstructure:"name" validate:"required"`
	Country                 string        `mapstructure:"country" validate:"required,len=2"`
	Timeout                 time.Duration `mapstructure:"timeout"`
	Latency                 time.Duration `mapstructure:"latency"`
	DeclineRate             float64       `mapstructure:"decline_rate" validate:"gte=0,lte=1"`
	TransientRate           float64       `mapstructure:"transient_rate" validate:"gte=0,lte=1"`
	CircuitBreakerThreshold uint32        `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
}

type RuntimeConfig struct {
	Source    string `mapstructure:"source" validate:"oneof=static redis"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format" validate:"omitempty,oneof=json console"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CAPTURE")
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/payments-capture")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			for _, fe := range ve {
				errs = append(errs, fmt.Errorf("%s failed %q validation", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must be positive"))
	}

	switch c.Store.Driver {
	case DriverPostgres:
		if c.Database.Host == "" {
			errs = append(errs, fmt.Errorf("database.host is required"))
		}
		if c.Database.Port <= 0 {
			errs = append(errs, fmt.Errorf("database.port must be positive"))
		}
	case DriverMongo:
		if c.Mongo.URI == "" {
			errs = append(errs, fmt.Errorf("mongo.uri is required"))
		}
	}

	if (c.Runtime.Source == RuntimeRedis || c.Capture.TickLockTTL > 0) && !c.Redis.Enabled {
		errs = append(errs, fmt.Errorf("redis.enabled is required by runtime.source=redis and capture.tick_lock_ttl"))
	}
	if c.Redis.Enabled && c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}

	if c.Capture.EligibleAge < 0 {
		errs = append(errs, fmt.Errorf("capture.eligible_age must not be negative"))
	}
	if c.Capture.StuckAge <= 0 {
		errs = append(errs, fmt.Errorf("capture.stuck_age must be positive"))
	}
	if c.Provider.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("provider.timeout must be positive"))
	}
	if c.Provider.Timeout > 0 && c.Capture.StuckAge > 0 && c.Capture.StuckAge <= c.Provider.Timeout {
		errs = append(errs, fmt.Errorf("capture.stuck_age must exceed provider.timeout"))
	}

	for name, spec := range map[string]string{
		"capture.cron":           c.Capture.Cron,
		"capture.resolve_cron":   c.Capture.ResolveCron,
		"capture.resize_cron":    c.Capture.ResizeCron,
		"capture.heartbeat_cron": c.Capture.HeartbeatCron,
		"capture.monitor_cron":   c.Capture.MonitorCron,
		"capture.relay_cron":     c.Capture.RelayCron,
	} {
		if spec == "" {
			continue
		}
		if _, err := scheduler.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	env := os.Getenv("ENV")
	if (env == "production" || env == "prod") && c.Store.Driver == DriverPostgres && c.Database.Password == "" {
		errs = append(errs, fmt.Errorf("database.password required in production"))
	}
	if (env == "production" || env == "prod") && c.Store.Driver == DriverMemory {
		errs = append(errs, fmt.Errorf("store.driver=memory is not allowed in production"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "5s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.admin_enabled", true)
	v.SetDefault("server.admin_rate_limit", 120)
	v.SetDefault("server.cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.cors.allow_credentials", false)

	v.SetDefault("store.driver", DriverPostgres)
	v.SetDefault("store.seed_intents", 0)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "payments")
	v.SetDefault("database.database", "payments")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.connect_retries", 5)

	// Mongo defaults
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "payments")
	v.SetDefault("mongo.collection", "payment_intents")
	v.SetDefault("mongo.connect_retries", 5)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Pool defaults
	v.SetDefault("pool.name", "stripe")
	v.SetDefault("pool.max_workers", 10)
	v.SetDefault("pool.queue_size", 500)

	// Capture defaults
	v.SetDefault("capture.cron", "*/30 * * * * *")
	v.SetDefault("capture.resolve_cron", "0 */5 * * * *")
	v.SetDefault("capture.resize_cron", "*/30 * * * * *")
	v.SetDefault("capture.heartbeat_cron", "0 */1 * * * *")
	v.SetDefault("capture.monitor_cron", "*/15 * * * * *")
	v.SetDefault("capture.relay_cron", "*/2 * * * * *")
	v.SetDefault("capture.eligible_age", "2m")
	v.SetDefault("capture.stuck_age", "15m")
	v.SetDefault("capture.batch_limit", 200)
	v.SetDefault("capture.max_attempts", 5)
	v.SetDefault("capture.tick_lock_ttl", "0s")
	v.SetDefault("capture.outcome_write_timeout", "5s")
	v.SetDefault("capture.halt_on_inconsistency", false)

	// Provider defaults
	v.SetDefault("provider.name", "stripe")
	v.SetDefault("provider.country", "US")
	v.SetDefault("provider.timeout", "10s")
	v.SetDefault("provider.latency", "200ms")
	v.SetDefault("provider.decline_rate", 0.02)
	v.SetDefault("provider.transient_rate", 0.05)
	v.SetDefault("provider.circuit_breaker_threshold", 10)
	v.SetDefault("provider.circuit_breaker_timeout", "30s")

	// Runtime defaults
	v.SetDefault("runtime.source", RuntimeStatic)
	v.SetDefault("runtime.key_prefix", "capture:runtime")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_tracing", false)

	v.SetDefault("instance_id", "capture-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL is the URL form golang-migrate expects.
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
