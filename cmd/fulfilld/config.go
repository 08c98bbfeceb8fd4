package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/openstall/fulfill/dispatch"
	"github.com/openstall/fulfill/rungate"
)

// envConfig is the daemon's environment surface. Values are read once at
// startup and passed to components as immutable configuration.
type envConfig struct {
	ListenAddr string
	DBPath     string
	RoutesFile string

	// Trust: a shared service secret, or a caller registry in the
	// database when the secret is unset.
	ServiceSecret string

	AdapterVariant string

	AllowStartedTakeover bool
	StaleMinutes         int

	DispatchTimeout  time.Duration
	MaxRedirects     int
	MaxResponseBytes int64
}

func loadEnvConfig() (envConfig, error) {
	cfg := envConfig{
		ListenAddr:       envOr("LISTEN_ADDR", ":8402"),
		DBPath:           envOr("DB_PATH", "fulfill.db"),
		RoutesFile:       os.Getenv("ROUTES_FILE"),
		ServiceSecret:    os.Getenv("SERVICE_KEY"),
		AdapterVariant:   envOr("ADAPTER_VARIANT", "acknowledge"),
		StaleMinutes:     int(rungate.DefaultStaleAfter / time.Minute),
		DispatchTimeout:  dispatch.DefaultTimeout,
		MaxRedirects:     dispatch.DefaultMaxRedirects,
		MaxResponseBytes: dispatch.DefaultMaxResponseBytes,
	}

	var err error
	if cfg.AllowStartedTakeover, err = envBool("ALLOW_STARTED_TAKEOVER", false); err != nil {
		return cfg, err
	}
	if cfg.StaleMinutes, err = envInt("STALE_MINUTES", cfg.StaleMinutes); err != nil {
		return cfg, err
	}
	timeoutMs, err := envInt("DISPATCH_TIMEOUT_MS", int(cfg.DispatchTimeout/time.Millisecond))
	if err != nil {
		return cfg, err
	}
	cfg.DispatchTimeout = time.Duration(timeoutMs) * time.Millisecond
	if cfg.MaxRedirects, err = envInt("MAX_REDIRECTS", cfg.MaxRedirects); err != nil {
		return cfg, err
	}
	maxBytes, err := envInt("MAX_RESPONSE_BYTES", int(cfg.MaxResponseBytes))
	if err != nil {
		return cfg, err
	}
	cfg.MaxResponseBytes = int64(maxBytes)

	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envBool(name string, fallback bool) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", name, err)
	}
	return parsed, nil
}

func envInt(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", name, err)
	}
	return parsed, nil
}
