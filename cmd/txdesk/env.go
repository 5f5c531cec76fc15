package main

import (
	"errors"
	"fmt"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"net/http"
	"txdesk/internal/api"
	"txdesk/internal/config"
	"txdesk/internal/render"
	"txdesk/internal/review"
	"txdesk/internal/storage/journal"
)

var errJournalDisabled = errors.New("batch journal is disabled, set TXDESK_JOURNAL_DIR")

// env holds components shared by all commands
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	client *api.Client
	out    *render.Text
}

func newEnv(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return nil, err
	}

	if backend := c.String("backend"); backend != "" {
		cfg.BackendURL = backend
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	var options []api.Option
	if cfg.HTTPTimeout > 0 {
		options = append(options, api.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))
	}

	client, err := api.NewClient(logger.Named("api"), cfg.BackendURL, options...)
	if err != nil {
		return nil, err
	}

	return &env{
		cfg:    cfg,
		logger: logger,
		client: client,
		out:    render.NewText(c.App.Writer),
	}, nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	switch cfg.Style {
	case "production":
		zapConfig = zap.NewProductionConfig()
	default:
		zapConfig = zap.NewDevelopmentConfig()
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("TXDESK_LOG_LEVEL is not a log level: %w", err)
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func (e *env) close() {
	_ = e.logger.Sync()
}

func (e *env) viewer() (*review.Viewer, error) {
	return review.NewViewer(e.logger.Named("review"), e.client)
}

// openJournal returns nil journal when TXDESK_JOURNAL_DIR is not set
func (e *env) openJournal() (*journal.Journal, error) {
	if e.cfg.JournalDir == "" {
		return nil, nil
	}
	return journal.Open(e.logger, e.cfg.JournalDir)
}

// failure turns err into the message a user sees
func failure(err error) error {
	return errors.New(render.Failure(err).Message)
}
