package config

import (
	"errors"
	"fmt"
	"github.com/joho/godotenv"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	defaultBackendURL   = "http://localhost:5000"
	defaultPollInterval = time.Second
	defaultListenAddr   = ":8080"
	defaultLogLevel     = "info"
	defaultLogStyle     = "development"
)

// Config defines fields used to wire txdesk components
type Config struct {
	BackendURL   string
	PollInterval time.Duration
	// HTTPTimeout of zero means requests to the backend never time out
	HTTPTimeout time.Duration
	ListenAddr  string
	// JournalDir of empty string disables the batch journal
	JournalDir string
	Log        LogConfig
}

type LogConfig struct {
	Level string
	Style string
}

// Load reads provided env files (".env" when none given) into the process environment
// and builds Config from it. Missing env files are not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}

	for _, f := range envFiles {
		err := godotenv.Load(f)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	return FromEnv()
}

// FromEnv builds Config from TXDESK_* environment variables applying defaults
func FromEnv() (*Config, error) {
	pollInterval, err := durationEnv("TXDESK_POLL_INTERVAL", defaultPollInterval)
	if err != nil {
		return nil, err
	}

	httpTimeout, err := durationEnv("TXDESK_HTTP_TIMEOUT", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		BackendURL:   getenv("TXDESK_BACKEND_URL", defaultBackendURL),
		PollInterval: pollInterval,
		HTTPTimeout:  httpTimeout,
		ListenAddr:   getenv("TXDESK_LISTEN_ADDR", defaultListenAddr),
		JournalDir:   os.Getenv("TXDESK_JOURNAL_DIR"),
		Log: LogConfig{
			Level: getenv("TXDESK_LOG_LEVEL", defaultLogLevel),
			Style: getenv("TXDESK_LOG_STYLE", defaultLogStyle),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that can not be used to build components
func (c *Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil {
		return fmt.Errorf("TXDESK_BACKEND_URL is not a valid URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("TXDESK_BACKEND_URL must use http or https scheme, got %q", c.BackendURL)
	}

	if c.PollInterval <= 0 {
		return errors.New("TXDESK_POLL_INTERVAL must be positive")
	}

	if c.HTTPTimeout < 0 {
		return errors.New("TXDESK_HTTP_TIMEOUT can not be negative")
	}

	switch c.Log.Style {
	case "development", "production":
	default:
		return fmt.Errorf("TXDESK_LOG_STYLE must be development or production, got %q", c.Log.Style)
	}

	return nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 1s or 500ms: %w", key, err)
	}

	return d, nil
}

func getenv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
