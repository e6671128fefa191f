package app

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/vk/batchflow/internal/ctxlog"
	"github.com/vk/batchflow/internal/engine"
	"github.com/vk/batchflow/internal/executor"
	"github.com/vk/batchflow/internal/objectstore"
	"github.com/vk/batchflow/internal/pipeline"
	"github.com/vk/batchflow/internal/samplesheet"
	"github.com/vk/batchflow/internal/target"
	"github.com/vk/batchflow/internal/workflow"
)

// Run executes the configured pipeline against the configured sample sheet.
// The returned error is non-nil iff any terminal task did not complete.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	logger := a.logger

	sheet, err := samplesheet.Load(a.config.SamplesPath)
	if err != nil {
		return fmt.Errorf("loading sample sheet: %w", err)
	}
	logger.Info("Sample sheet loaded.", "path", a.config.SamplesPath, "samples", len(sheet.Rows))

	p, err := pipeline.Load(a.config.PipelinePath)
	if err != nil {
		return fmt.Errorf("loading pipeline: %w", err)
	}
	logger.Info("Pipeline loaded.", "pipeline", p.Name, "steps", len(p.Steps))

	store, err := a.buildStore(sheet)
	if err != nil {
		return err
	}
	eng, err := a.buildEngine()
	if err != nil {
		return err
	}

	plan, err := workflow.Build(ctx, p, sheet, workflow.Config{
		OutputRoot:  a.config.OutputRoot,
		ScratchRoot: a.config.ScratchRoot,
		Engine:      eng,
		Store:       store,
		Queue:       a.config.Queue,
		JobRole:     a.config.JobRole,
		Params: map[string]string{
			"threads":   strconv.Itoa(a.config.Threads),
			"memory_mb": strconv.Itoa(a.config.MemoryMB),
		},
	})
	if err != nil {
		return fmt.Errorf("building task graph: %w", err)
	}

	report := executor.New(plan, a.config.Workers).Run(ctx)
	a.printReport(report)
	return report.Err()
}

// buildStore returns the remote object store, or nil when the run touches
// no remote location at all.
func (a *App) buildStore(sheet *samplesheet.Sheet) (target.Store, error) {
	remote := target.IsRemote(a.config.OutputRoot)
	for _, row := range sheet.Rows {
		if target.IsRemote(row.Path) {
			remote = true
		}
	}
	if !remote {
		return nil, nil
	}
	if a.config.S3Endpoint == "" {
		return nil, fmt.Errorf("run references s3:// locations but no object store endpoint is configured")
	}
	return objectstore.NewHTTP(a.config.S3Endpoint), nil
}

func (a *App) buildEngine() (engine.Engine, error) {
	if a.engineOverride != nil {
		return a.engineOverride, nil
	}
	switch a.config.Engine {
	case EngineBatch:
		if a.batchClient == nil {
			return nil, fmt.Errorf("the aws_batch engine requires a batch API client")
		}
		return engine.NewBatch(a.batchClient, a.config.PollInterval), nil
	default:
		return engine.NewDocker(), nil
	}
}

// printReport writes the per-task verdict table to the app's output writer.
func (a *App) printReport(report *executor.Report) {
	names := make([]string, 0, len(report.Results))
	for name := range report.Results {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		res := report.Results[name]
		fmt.Fprintf(a.outW, "%-12s %s\n", res.Status, name)
		if res.Status == executor.StatusFailed {
			if res.Err != nil {
				fmt.Fprintf(a.outW, "             error: %v\n", res.Err)
			}
			if res.Log != "" {
				for _, line := range strings.Split(strings.TrimRight(res.Log, "\n"), "\n") {
					fmt.Fprintf(a.outW, "             | %s\n", line)
				}
			}
		}
	}
}
