package app

import (
	"errors"
	"fmt"
	"time"
)

// Engine selector values.
const (
	EngineDocker = "docker"
	EngineBatch  = "aws_batch"
)

// Config holds everything an App instance needs to run one pipeline.
type Config struct {
	PipelinePath string
	SamplesPath  string
	OutputRoot   string
	ScratchRoot  string

	Engine       string
	Queue        string
	JobRole      string
	S3Endpoint   string
	PollInterval time.Duration

	Workers  int
	Threads  int
	MemoryMB int

	LogFormat string
	LogLevel  string
}

// NewConfig validates a Config and applies defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.PipelinePath == "" {
		return nil, errors.New("PipelinePath is a required configuration field and cannot be empty")
	}
	if cfg.SamplesPath == "" {
		return nil, errors.New("SamplesPath is a required configuration field and cannot be empty")
	}
	if cfg.OutputRoot == "" {
		return nil, errors.New("OutputRoot is a required configuration field and cannot be empty")
	}
	switch cfg.Engine {
	case "":
		cfg.Engine = EngineDocker
	case EngineDocker, EngineBatch:
	default:
		return nil, fmt.Errorf("unknown engine '%s', expected '%s' or '%s'", cfg.Engine, EngineDocker, EngineBatch)
	}
	if cfg.Engine == EngineBatch && cfg.Queue == "" {
		return nil, errors.New("the aws_batch engine requires a job queue")
	}
	if cfg.ScratchRoot == "" {
		cfg.ScratchRoot = "/tmp/batchflow-scratch"
	}
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.Threads < 1 {
		cfg.Threads = 4
	}
	if cfg.MemoryMB < 1 {
		cfg.MemoryMB = 8000
	}
	return &cfg, nil
}
