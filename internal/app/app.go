package app

import (
	"io"
	"log/slog"

	"github.com/vk/batchflow/internal/engine"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config

	engineOverride engine.Engine
	batchClient    engine.Client
}

// Option customizes an App, mainly for tests and embedders.
type Option func(*App)

// WithEngine substitutes the execution engine outright.
func WithEngine(e engine.Engine) Option {
	return func(a *App) { a.engineOverride = e }
}

// WithBatchClient supplies the remote batch API client used when the
// aws_batch engine is selected.
func WithBatchClient(c engine.Client) Option {
	return func(a *App) { a.batchClient = c }
}

// NewApp constructs the application with its own isolated logger.
func NewApp(outW io.Writer, config *Config, opts ...Option) *App {
	a := &App{
		outW:   outW,
		logger: newLogger(config.LogLevel, config.LogFormat, outW),
		config: config,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}
