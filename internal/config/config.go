package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"

	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"

	PushModeWebSocket = "websocket"
	PushModeWebhook   = "webhook"

	DispatchModeSync  = "sync"
	DispatchModeQueue = "queue"
)

type Config struct {
	DatabaseDSN  string `env:"DATABASE_DSN"`
	StoreBackend string `env:"STORE_BACKEND,default=postgres"`
	RedisURL     string `env:"REDIS_URL"`
	RabbitMQURL  string `env:"RABBITMQ_URL"`
	JWTSecret    string `env:"JWT_SECRET,required=true"`
	APIPort      int    `env:"API_PORT,default=8080"`
	WSPort       int    `env:"WS_PORT,default=8081"`
	LogLevel     string `env:"LOG_LEVEL,default=info"`

	MaxRetries          int  `env:"MAX_RETRIES,default=3"`
	AllowCrossRecipient bool `env:"ALLOW_CROSS_RECIPIENT,default=true"`

	RateLimitPerWindow int           `env:"RATE_LIMIT_PER_WINDOW,default=100"`
	RateLimitWindow    time.Duration `env:"RATE_LIMIT_WINDOW,default=60s"`
	RateLimitBackend   string        `env:"RATE_LIMIT_BACKEND,default=memory"`

	BreakerFailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD,default=5"`
	BreakerOpenDuration     time.Duration `env:"BREAKER_OPEN_DURATION,default=30s"`

	RetrySweepInterval     time.Duration `env:"RETRY_SWEEP_INTERVAL,default=5m"`
	RetrySweepLimit        int           `env:"RETRY_SWEEP_LIMIT,default=100"`
	RetryBackoffBase       time.Duration `env:"RETRY_BACKOFF_BASE,default=1s"`
	RetryBackoffMultiplier float64       `env:"RETRY_BACKOFF_MULTIPLIER,default=2"`
	RetryBackoffMax        time.Duration `env:"RETRY_BACKOFF_MAX,default=1h"`

	RetentionPeriod time.Duration `env:"RETENTION_PERIOD,default=720h"`
	CleanupSchedule string        `env:"CLEANUP_SCHEDULE,default=0 3 * * *"`

	PushTimeout    time.Duration `env:"PUSH_TIMEOUT,default=5s"`
	PushMode       string        `env:"PUSH_MODE,default=websocket"`
	PushWebhookURL string        `env:"PUSH_WEBHOOK_URL"`

	DispatchMode      string `env:"DISPATCH_MODE,default=sync"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=4"`

	CacheSize int           `env:"CACHE_SIZE,default=1000"`
	CacheTTL  time.Duration `env:"CACHE_TTL,default=60m"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the rules that span more than one variable.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case StoreBackendPostgres:
		if c.DatabaseDSN == "" {
			errs = append(errs, errors.New("DATABASE_DSN is required when STORE_BACKEND=postgres"))
		}
	case StoreBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.RateLimitBackend {
	case RateLimitBackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required when RATE_LIMIT_BACKEND=redis"))
		}
	case RateLimitBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.RateLimitBackend))
	}

	switch c.PushMode {
	case PushModeWebhook:
		if c.PushWebhookURL == "" {
			errs = append(errs, errors.New("PUSH_WEBHOOK_URL is required when PUSH_MODE=webhook"))
		}
	case PushModeWebSocket:
	default:
		errs = append(errs, fmt.Errorf("unknown PUSH_MODE %q", c.PushMode))
	}

	switch c.DispatchMode {
	case DispatchModeQueue:
		if c.RabbitMQURL == "" {
			errs = append(errs, errors.New("RABBITMQ_URL is required when DISPATCH_MODE=queue"))
		}
		if c.WorkerConcurrency <= 0 {
			errs = append(errs, errors.New("WORKER_CONCURRENCY must be positive"))
		}
	case DispatchModeSync:
	default:
		errs = append(errs, fmt.Errorf("unknown DISPATCH_MODE %q", c.DispatchMode))
	}

	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("MAX_RETRIES must not be negative"))
	}
	if c.RateLimitPerWindow <= 0 || c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_WINDOW and RATE_LIMIT_WINDOW must be positive"))
	}
	if c.BreakerFailureThreshold <= 0 || c.BreakerOpenDuration <= 0 {
		errs = append(errs, errors.New("BREAKER_FAILURE_THRESHOLD and BREAKER_OPEN_DURATION must be positive"))
	}
	if c.RetryBackoffMultiplier < 1 {
		errs = append(errs, errors.New("RETRY_BACKOFF_MULTIPLIER must be at least 1"))
	}
	if c.RetrySweepInterval <= 0 || c.PushTimeout <= 0 {
		errs = append(errs, errors.New("RETRY_SWEEP_INTERVAL and PUSH_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}
