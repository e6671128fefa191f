package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vk/batchflow/internal/ctxlog"
)

// JobState is the remote backend's view of a submitted job.
type JobState string

const (
	JobSubmitted JobState = "SUBMITTED"
	JobRunning   JobState = "RUNNING"
	JobSucceeded JobState = "SUCCEEDED"
	JobFailed    JobState = "FAILED"
)

// JobDetail is a snapshot of a remote job returned by Client.DescribeJob.
type JobDetail struct {
	State    JobState
	ExitCode int
	Reason   string
	Log      string
}

// Client is the remote batch service API. Implementations talk to the real
// backend; tests substitute a fake.
type Client interface {
	SubmitJob(ctx context.Context, spec *JobSpec) (jobID string, err error)
	DescribeJob(ctx context.Context, jobID string) (*JobDetail, error)
	TerminateJob(ctx context.Context, jobID, reason string) error
}

// Batch submits jobs to a remote batch service and polls them to completion.
// Transient submission and describe failures are retried with exponential
// backoff before they convert into execution errors.
type Batch struct {
	client       Client
	pollInterval time.Duration
	maxElapsed   time.Duration
}

// NewBatch returns a remote batch engine polling at the given interval.
func NewBatch(client Client, pollInterval time.Duration) *Batch {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	return &Batch{
		client:       client,
		pollInterval: pollInterval,
		maxElapsed:   2 * time.Minute,
	}
}

func (b *Batch) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = b.maxElapsed
	return backoff.WithContext(bo, ctx)
}

// Run submits the job and polls until the backend reports a terminal state.
// Cancelling the context best-effort terminates the remote job.
func (b *Batch) Run(ctx context.Context, spec *JobSpec) (*JobResult, error) {
	logger := ctxlog.FromContext(ctx).With("job", spec.Name, "queue", spec.Queue)

	var jobID string
	submit := func() error {
		var err error
		jobID, err = b.client.SubmitJob(ctx, spec)
		if err != nil {
			logger.Warn("Job submission attempt failed, will retry.", "error", err)
		}
		return err
	}
	if err := backoff.Retry(submit, b.newBackOff(ctx)); err != nil {
		return nil, fmt.Errorf("submitting job '%s': %w", spec.Name, err)
	}
	logger.Info("▶️ Submitted batch job", "jobID", jobID)

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Warn("Run cancelled, terminating remote job.", "jobID", jobID)
			// Detach from the cancelled context for the termination call.
			termCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if termErr := b.client.TerminateJob(termCtx, jobID, "run cancelled"); termErr != nil {
				logger.Error("Failed to terminate remote job.", "jobID", jobID, "error", termErr)
			}
			cancel()
			return nil, ctx.Err()
		case <-ticker.C:
		}

		detail, err := b.describe(ctx, jobID, logger)
		if err != nil {
			return nil, fmt.Errorf("polling job '%s' (%s): %w", spec.Name, jobID, err)
		}

		switch detail.State {
		case JobSucceeded:
			logger.Info("✅ Batch job succeeded", "jobID", jobID)
			return &JobResult{ExitCode: 0, Log: detail.Log}, nil
		case JobFailed:
			logger.Warn("Batch job failed.", "jobID", jobID, "reason", detail.Reason, "exitCode", detail.ExitCode)
			exit := detail.ExitCode
			if exit == 0 {
				// The backend can fail a job before the container runs.
				exit = 1
			}
			return &JobResult{ExitCode: exit, Log: detail.Log}, nil
		default:
			logger.Debug("Job still in flight.", "jobID", jobID, "state", detail.State)
		}
	}
}

func (b *Batch) describe(ctx context.Context, jobID string, logger *slog.Logger) (*JobDetail, error) {
	var detail *JobDetail
	op := func() error {
		var err error
		detail, err = b.client.DescribeJob(ctx, jobID)
		if err != nil {
			logger.Warn("Describe attempt failed, will retry.", "jobID", jobID, "error", err)
		}
		return err
	}
	if err := backoff.Retry(op, b.newBackOff(ctx)); err != nil {
		return nil, err
	}
	return detail, nil
}
