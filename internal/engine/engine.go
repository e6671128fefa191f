// Package engine runs container jobs. The Engine interface hides whether a
// job executes on the local Docker daemon or on a remote batch service; the
// container executor builds a JobSpec and waits for a JobResult either way.
package engine

import "context"

// Mount declares a host path made visible inside the container.
type Mount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// JobSpec describes one container invocation. Everything here is passed
// opaquely to the backing execution service.
type JobSpec struct {
	// Name identifies the job in logs and in the remote backend.
	Name string
	// Image is the container image reference.
	Image string
	// Command is the fully resolved argument vector. No shell is involved.
	Command []string
	// CPUs and MemoryMB are resource hints for the backend.
	CPUs     int
	MemoryMB int
	// Mounts are bind-mounted into the container.
	Mounts []Mount
	// Queue is the remote batch queue identifier; ignored by local engines.
	Queue string
	// JobRole is the execution role/credential identifier for remote
	// backends; ignored by local engines.
	JobRole string
}

// JobResult is the outcome of a finished job.
type JobResult struct {
	ExitCode int
	// Log holds the combined output stream, bounded by the engine.
	Log string
}

// Engine executes a job to completion. Run blocks until the job finishes,
// the context is cancelled, or submission fails permanently. A non-zero
// exit is reported through JobResult, not through the error.
type Engine interface {
	Run(ctx context.Context, spec *JobSpec) (*JobResult, error)
}
