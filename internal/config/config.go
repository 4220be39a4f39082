package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	AppEnv        string `env:"APP_ENV,notEmpty"`
	APIAddr       string `env:"API_ADDR,notEmpty"`
	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	JWTSigningKey string `env:"JWT_SIGNING_KEY,notEmpty"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	// Queue holds the name used for the delay set and ready list keys.
	Queue             string        `env:"QUEUE_NAME" envDefault:"jobs"`
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	MaxAttempts       int           `env:"MAX_ATTEMPTS" envDefault:"10"`
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	DequeueBlock      time.Duration `env:"DEQUEUE_BLOCK" envDefault:"5s"`
	PromoteBatch      int64         `env:"PROMOTE_BATCH" envDefault:"200"`
	TokenGrace        time.Duration `env:"TOKEN_GRACE" envDefault:"168h"`
	LeaderLockID      int64         `env:"LEADER_LOCK_ID" envDefault:"42"`
}

// Load reads .env (when present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, errors.Wrap(err, "parse env")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.WorkerConcurrency < 1 {
		return errors.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.WorkerConcurrency)
	}
	if c.MaxAttempts < 1 {
		return errors.Errorf("MAX_ATTEMPTS must be positive, got %d", c.MaxAttempts)
	}
	if c.PromoteBatch < 1 {
		return errors.Errorf("PROMOTE_BATCH must be positive, got %d", c.PromoteBatch)
	}
	if c.PollInterval <= 0 {
		return errors.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if len(c.JWTSigningKey) < 16 {
		return errors.New("JWT_SIGNING_KEY must be at least 16 bytes")
	}
	return nil
}

func (c Config) Production() bool { return c.AppEnv == "production" }
