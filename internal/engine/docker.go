package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/vk/batchflow/internal/ctxlog"
)

// maxLogBytes caps the captured combined output per job.
const maxLogBytes = 1 << 20

// Docker runs jobs synchronously on the local Docker daemon.
type Docker struct {
	// Binary is the docker client executable, overridable for tests.
	Binary string
}

// NewDocker returns a local Docker engine.
func NewDocker() *Docker {
	return &Docker{Binary: "docker"}
}

// Run invokes `docker run` and blocks until the container exits. The
// combined output stream is captured into the result.
func (d *Docker) Run(ctx context.Context, spec *JobSpec) (*JobResult, error) {
	logger := ctxlog.FromContext(ctx).With("job", spec.Name, "image", spec.Image)

	args := []string{"run", "--rm"}
	if spec.CPUs > 0 {
		args = append(args, fmt.Sprintf("--cpus=%d", spec.CPUs))
	}
	if spec.MemoryMB > 0 {
		args = append(args, fmt.Sprintf("--memory=%dm", spec.MemoryMB))
	}
	for _, m := range spec.Mounts {
		vol := m.HostPath + ":" + m.ContainerPath
		if m.ReadOnly {
			vol += ":ro"
		}
		args = append(args, "-v", vol)
	}
	args = append(args, spec.Image)
	args = append(args, spec.Command...)

	logger.Info("▶️ Running container locally")
	logger.Debug("Docker invocation assembled.", "args", args)

	cmd := exec.CommandContext(ctx, d.Binary, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	log := truncateLog(out.Bytes())

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logger.Warn("Container exited non-zero.", "exitCode", exitErr.ExitCode())
			return &JobResult{ExitCode: exitErr.ExitCode(), Log: log}, nil
		}
		return nil, fmt.Errorf("running container '%s': %w", spec.Name, err)
	}

	logger.Info("✅ Container finished")
	return &JobResult{ExitCode: 0, Log: log}, nil
}

func truncateLog(b []byte) string {
	if len(b) > maxLogBytes {
		return string(b[len(b)-maxLogBytes:])
	}
	return string(b)
}
