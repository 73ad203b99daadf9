package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN            string `env:"DATABASE_DSN,required=true"`
	RedisURL               string `env:"REDIS_URL,required=true"`
	RabbitMQURL            string `env:"RABBITMQ_URL,required=true"`
	EmailWebhookURL        string `env:"EMAIL_WEBHOOK_URL"`
	EmailRatePerSec        int    `env:"EMAIL_RATE_PER_SEC,default=50"`
	EmailWorkerConcurrency int    `env:"EMAIL_WORKER_CONCURRENCY,default=8"`
	PushTimeoutMillis      int    `env:"PUSH_TIMEOUT_MS,default=3000"`
	BulkDispatchWorkers    int    `env:"BULK_DISPATCH_WORKERS,default=16"`
	APIPort                int    `env:"API_PORT,default=8080"`
	LogLevel               string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// EmailEnabled reports whether a deferred email channel is configured. The
// core keeps working without one; undeliverable notifications then wait for
// reconnect reconciliation only.
func (c *Config) EmailEnabled() bool {
	return c != nil && c.EmailWebhookURL != ""
}
