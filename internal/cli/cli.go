package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vk/batchflow/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated Config, a
// boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	flagSet := flag.NewFlagSet("batchflow", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
batchflow - declarative container pipelines for batch compute.

Usage:
  batchflow [options] --pipeline PIPELINE.hcl --samples SAMPLES.csv --output OUTPUT_ROOT

Options:
`)
		flagSet.PrintDefaults()
	}

	pipelineFlag := flagSet.String("pipeline", "", "Path to the pipeline definition (.hcl).")
	samplesFlag := flagSet.String("samples", "", "Path to the sample sheet (.csv or .tsv).")
	outputFlag := flagSet.String("output", "", "Output root: a directory or an s3:// prefix.")
	scratchFlag := flagSet.String("scratch", "", "Host directory for per-task scratch sandboxes.")
	engineFlag := flagSet.String("engine", app.EngineDocker, "Execution engine: 'docker' or 'aws_batch'.")
	queueFlag := flagSet.String("queue", "", "Batch job queue (aws_batch engine).")
	jobRoleFlag := flagSet.String("job-role", "", "Execution role ARN for batch jobs.")
	s3EndpointFlag := flagSet.String("s3-endpoint", "", "Object store endpoint for s3:// locations.")
	pollFlag := flagSet.Duration("poll-interval", 15*time.Second, "Remote job poll interval.")
	workersFlag := flagSet.Int("workers", 4, "Number of concurrent workers for the executor.")
	threadsFlag := flagSet.Int("threads", 4, "Default thread count passed to steps as {param.threads}.")
	memoryFlag := flagSet.Int("memory-mb", 8000, "Default memory ceiling passed to steps as {param.memory_mb}.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	if *pipelineFlag == "" && *samplesFlag == "" && flagSet.NArg() == 0 {
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}
	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	config, err := app.NewConfig(app.Config{
		PipelinePath: *pipelineFlag,
		SamplesPath:  *samplesFlag,
		OutputRoot:   *outputFlag,
		ScratchRoot:  *scratchFlag,
		Engine:       strings.ToLower(*engineFlag),
		Queue:        *queueFlag,
		JobRole:      *jobRoleFlag,
		S3Endpoint:   *s3EndpointFlag,
		PollInterval: *pollFlag,
		Workers:      *workersFlag,
		Threads:      *threadsFlag,
		MemoryMB:     *memoryFlag,
		LogFormat:    logFormat,
		LogLevel:     logLevel,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	return config, false, nil
}
