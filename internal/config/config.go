package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

// Redirect handling modes for the browser redirect channel.
const (
	RedirectModeTrust  = "trust"
	RedirectModeVerify = "verify"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	GatewayBaseURL          string `env:"GATEWAY_BASE_URL,required=true"`
	GatewayMerchantID       string `env:"GATEWAY_MERCHANT_ID,required=true"`
	GatewaySaltKey          string `env:"GATEWAY_SALT_KEY,required=true"`
	GatewaySaltIndex        int    `env:"GATEWAY_SALT_INDEX,default=1"`
	GatewayTimeoutMS        int    `env:"GATEWAY_TIMEOUT_MS,default=10000"`
	GatewayStatusRatePerSec int    `env:"GATEWAY_STATUS_RATE_PER_SEC,default=20"`

	WebhookUsername string `env:"WEBHOOK_USERNAME,required=true"`
	WebhookPassword string `env:"WEBHOOK_PASSWORD,required=true"`

	PublicBaseURL string `env:"PUBLIC_BASE_URL,default=http://localhost:8080"`
	FrontendURL   string `env:"FRONTEND_URL,default=http://localhost:3000"`
	RedirectMode  string `env:"REDIRECT_MODE,default=trust"`

	ReconcileIntervalSec int `env:"RECONCILE_INTERVAL_SEC,default=30"`
	ReconcileMinAgeSec   int `env:"RECONCILE_MIN_AGE_SEC,default=60"`
	ReconcileBatchSize   int `env:"RECONCILE_BATCH_SIZE,default=100"`
	WorkerConcurrency    int `env:"WORKER_CONCURRENCY,default=4"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.RedirectMode = strings.ToLower(strings.TrimSpace(c.RedirectMode))
	switch c.RedirectMode {
	case RedirectModeTrust, RedirectModeVerify:
	default:
		return fmt.Errorf("invalid REDIRECT_MODE %q", c.RedirectMode)
	}

	for name, raw := range map[string]string{
		"GATEWAY_BASE_URL": c.GatewayBaseURL,
		"PUBLIC_BASE_URL":  c.PublicBaseURL,
		"FRONTEND_URL":     c.FrontendURL,
	} {
		if _, err := url.ParseRequestURI(strings.TrimSpace(raw)); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if c.GatewaySaltIndex < 1 {
		return fmt.Errorf("GATEWAY_SALT_INDEX must be >= 1")
	}
	return nil
}

func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutMS) * time.Millisecond
}

func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalSec) * time.Second
}

func (c *Config) ReconcileMinAge() time.Duration {
	return time.Duration(c.ReconcileMinAgeSec) * time.Second
}

// TrustRedirect reports whether a browser redirect may mark a payment paid without asking the gateway.
func (c *Config) TrustRedirect() bool {
	return c.RedirectMode == RedirectModeTrust
}
