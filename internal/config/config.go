package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverCache   = "cache"
	DriverWebhook = "webhook"
)

type Config struct {
	ServerPort string
	RedisURL   string
	// NATSURL is optional; when empty, transition events stay on the
	// in-process bus and the auth lifecycle subscriber is not started.
	NATSURL   string
	JWTSecret string

	Driver       string // cache | webhook
	TTL          time.Duration
	AwayAfter    time.Duration
	DefaultGuard string
	// StoreTimeout bounds every store round trip.
	StoreTimeout time.Duration
	// HeartbeatThrottle is the minimum interval between accepted
	// heartbeats per identity on the HTTP route.
	HeartbeatThrottle time.Duration

	Webhook WebhookConfig
}

type WebhookConfig struct {
	URL             string
	Secret          string
	Timeout         time.Duration
	Retries         int
	SignatureHeader string
	Algo            string
	SendOnOnline    bool
	SendOnOffline   bool
	SendOnHeartbeat bool
	SendOnAway      bool
	Headers         map[string]string
}

func LoadConfig() (*Config, error) {
	ttl, err := getEnvSeconds("PRESENCE_TTL", 120)
	if err != nil {
		return nil, err
	}
	awayAfter, err := getEnvSeconds("PRESENCE_AWAY_AFTER", 90)
	if err != nil {
		return nil, err
	}
	storeTimeout, err := getEnvSeconds("STORE_TIMEOUT", 2)
	if err != nil {
		return nil, err
	}
	throttle, err := getEnvSeconds("PRESENCE_HEARTBEAT_THROTTLE", 30)
	if err != nil {
		return nil, err
	}
	webhookTimeout, err := getEnvSeconds("PRESENCE_WEBHOOK_TIMEOUT", 3)
	if err != nil {
		return nil, err
	}
	webhookRetries, err := getEnvInt("PRESENCE_WEBHOOK_RETRIES", 1)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServerPort:        getEnv("SERVER_PORT", "8080"),
		RedisURL:          os.Getenv("REDIS_URL"),
		NATSURL:           os.Getenv("NATS_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		Driver:            getEnv("PRESENCE_DRIVER", DriverCache),
		TTL:               ttl,
		AwayAfter:         awayAfter,
		DefaultGuard:      getEnv("PRESENCE_DEFAULT_GUARD", "web"),
		StoreTimeout:      storeTimeout,
		HeartbeatThrottle: throttle,
		Webhook: WebhookConfig{
			URL:             os.Getenv("PRESENCE_WEBHOOK_URL"),
			Secret:          os.Getenv("PRESENCE_WEBHOOK_SECRET"),
			Timeout:         webhookTimeout,
			Retries:         webhookRetries,
			SignatureHeader: getEnv("PRESENCE_WEBHOOK_SIGNATURE_HEADER", "X-Presence-Signature"),
			Algo:            getEnv("PRESENCE_WEBHOOK_ALGO", "sha256"),
			SendOnOnline:    getEnvBool("PRESENCE_WEBHOOK_SEND_ON_ONLINE", true),
			SendOnOffline:   getEnvBool("PRESENCE_WEBHOOK_SEND_ON_OFFLINE", true),
			SendOnHeartbeat: getEnvBool("PRESENCE_WEBHOOK_SEND_ON_HEARTBEAT", false),
			SendOnAway:      getEnvBool("PRESENCE_WEBHOOK_SEND_ON_AWAY", true),
			Headers:         parseHeaders(os.Getenv("PRESENCE_WEBHOOK_HEADERS")),
		},
	}

	// Validate required fields. AwayAfter > TTL is deliberately not
	// rejected: it collapses the away state (records expire before they
	// age into away), which is a policy choice, not an error.
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.Driver != DriverCache && cfg.Driver != DriverWebhook {
		return nil, fmt.Errorf("unknown PRESENCE_DRIVER %q", cfg.Driver)
	}
	if cfg.Driver == DriverWebhook {
		if cfg.Webhook.URL == "" {
			return nil, errors.New("PRESENCE_WEBHOOK_URL is required for the webhook driver")
		}
		if cfg.Webhook.Secret == "" {
			return nil, errors.New("PRESENCE_WEBHOOK_SECRET is required for the webhook driver")
		}
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return value, nil
}

func getEnvSeconds(key string, defaultValue int) (time.Duration, error) {
	value, err := getEnvInt(key, defaultValue)
	if err != nil {
		return 0, err
	}
	return time.Duration(value) * time.Second, nil
}

func getEnvBool(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return defaultValue
	}
	return value
}

// parseHeaders turns "Name=value,Other=value" into a header map.
func parseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" {
			continue
		}
		headers[name] = value
	}
	return headers
}
