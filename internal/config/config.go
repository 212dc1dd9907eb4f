package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Backend
	BackendURL string
	SocketURL  string
	UserID     string
	AuthToken  string

	// Sync timing
	PollInterval   time.Duration
	ReconnectDelay time.Duration
	HeartBeat      time.Duration

	// Redis config; RedisHost empty disables persistence and send throttling
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Sinks
	WebhookURL     string
	WebhookTimeout int // seconds
	SNSTopicARN    string
	SQSQueueURL    string
	AWSRegion      string

	// Local API
	SendRateLimit int // messages per room per minute
	CORSOrigins   []string
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		BackendURL: "http://localhost:8081",
		SocketURL:  "ws://localhost:8081/ws",

		PollInterval:   5 * time.Second,
		ReconnectDelay: 5 * time.Second,
		HeartBeat:      4 * time.Second,

		RedisPort: 6379,

		WebhookTimeout: 10,
		AWSRegion:      "us-east-1",

		SendRateLimit: 30,
		CORSOrigins:   []string{"http://localhost:3000"},
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Backend
	if url := os.Getenv("BACKEND_URL"); url != "" {
		cfg.BackendURL = strings.TrimRight(url, "/")
	}

	if url := os.Getenv("SOCKET_URL"); url != "" {
		cfg.SocketURL = url
	}

	cfg.UserID = os.Getenv("USER_ID")
	if cfg.UserID == "" {
		return nil, fmt.Errorf("USER_ID is required")
	}

	cfg.AuthToken = os.Getenv("AUTH_TOKEN")

	// Sync timing
	sec, err := intEnv("POLL_INTERVAL_SEC", int(cfg.PollInterval/time.Second))
	if err != nil {
		return nil, err
	}
	if sec <= 0 {
		return nil, fmt.Errorf("invalid POLL_INTERVAL_SEC: must be positive")
	}
	cfg.PollInterval = time.Duration(sec) * time.Second

	sec, err = intEnv("RECONNECT_DELAY_SEC", int(cfg.ReconnectDelay/time.Second))
	if err != nil {
		return nil, err
	}
	if sec <= 0 {
		return nil, fmt.Errorf("invalid RECONNECT_DELAY_SEC: must be positive")
	}
	cfg.ReconnectDelay = time.Duration(sec) * time.Second

	ms, err := intEnv("HEARTBEAT_MS", int(cfg.HeartBeat/time.Millisecond))
	if err != nil {
		return nil, err
	}
	cfg.HeartBeat = time.Duration(ms) * time.Millisecond

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	// Sinks
	cfg.WebhookURL = os.Getenv("WEBHOOK_URL")

	if cfg.WebhookTimeout, err = intEnv("WEBHOOK_TIMEOUT", cfg.WebhookTimeout); err != nil {
		return nil, err
	}

	cfg.SNSTopicARN = os.Getenv("SNS_TOPIC_ARN")
	cfg.SQSQueueURL = os.Getenv("SQS_QUEUE_URL")

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	// Local API
	if cfg.SendRateLimit, err = intEnv("SEND_RATE_LIMIT", cfg.SendRateLimit); err != nil {
		return nil, err
	}

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	return cfg, nil
}

// PersistenceEnabled reports whether a Redis host was configured.
func (c *Config) PersistenceEnabled() bool {
	return c.RedisHost != ""
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
