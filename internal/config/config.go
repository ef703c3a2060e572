package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	ServerURL string
	WSURL     string
	Token     string

	ReconnectMaxAttempts int
	ReconnectBaseDelay   time.Duration
	DialTimeout          time.Duration
	WriteTimeout         time.Duration
	PingInterval         time.Duration
	NoticeTTL            time.Duration

	HTTPTimeout  time.Duration
	HTTPRetryMax int

	RedisURL    string
	DatabaseURL string
	MessagesDir string

	UnicodeBoard bool
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ReconnectMaxAttempts: 5,
		ReconnectBaseDelay:   time.Second,
		DialTimeout:          10 * time.Second,
		WriteTimeout:         5 * time.Second,
		PingInterval:         30 * time.Second,
		NoticeTTL:            5 * time.Second,
		HTTPTimeout:          10 * time.Second,
		HTTPRetryMax:         3,
	}

	cfg.ServerURL = strings.TrimRight(strings.TrimSpace(os.Getenv("CHESS_SERVER_URL")), "/")
	cfg.WSURL = strings.TrimRight(strings.TrimSpace(os.Getenv("CHESS_WS_URL")), "/")
	cfg.Token = strings.TrimSpace(os.Getenv("CHESS_TOKEN"))

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if v := strings.TrimSpace(os.Getenv("RECONNECT_MAX_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.ReconnectMaxAttempts = n
		}
	}
	cfg.ReconnectBaseDelay = envDuration("RECONNECT_BASE_DELAY_MS", time.Millisecond, cfg.ReconnectBaseDelay)
	cfg.DialTimeout = envDuration("DIAL_TIMEOUT_SEC", time.Second, cfg.DialTimeout)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT_SEC", time.Second, cfg.WriteTimeout)
	cfg.PingInterval = envDuration("PING_INTERVAL_SEC", time.Second, cfg.PingInterval)
	cfg.NoticeTTL = envDuration("NOTICE_TTL_SEC", time.Second, cfg.NoticeTTL)
	cfg.HTTPTimeout = envDuration("HTTP_TIMEOUT_SEC", time.Second, cfg.HTTPTimeout)
	if v := strings.TrimSpace(os.Getenv("HTTP_RETRY_MAX")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPRetryMax = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("UNICODE_BOARD")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.UnicodeBoard = b
		}
	}

	if cfg.ServerURL == "" {
		return nil, errors.New("CHESS_SERVER_URL is required")
	}
	if u, err := url.Parse(cfg.ServerURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("CHESS_SERVER_URL must be an http(s) URL: %q", cfg.ServerURL)
	}
	if cfg.Token == "" {
		return nil, errors.New("CHESS_TOKEN is required")
	}
	return cfg, nil
}

// envDuration reads a positive integer count of unit from key.
func envDuration(key string, unit time.Duration, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * unit
}
