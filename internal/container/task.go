package container

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/vk/batchflow/internal/ctxlog"
	"github.com/vk/batchflow/internal/engine"
	"github.com/vk/batchflow/internal/target"
)

// State tracks one container task attempt through its lifecycle.
type State int32

const (
	Pending State = iota
	ResolvingInputs
	Running
	Publishing
	Complete
	Failed
)

// String returns the state's wire name.
func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case ResolvingInputs:
		return "RESOLVING_INPUTS"
	case Running:
		return "RUNNING"
	case Publishing:
		return "PUBLISHING"
	case Complete:
		return "COMPLETE"
	case Failed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// sandboxPath is where the per-invocation scratch directory appears inside
// the container.
const sandboxPath = "/scratch"

// Task runs one command inside a container image. It implements task.Task.
//
// Inputs that are already local are used in place; remote inputs are
// materialized into a scratch directory unique to this invocation. Outputs
// are written under the same scratch directory and published to their
// target locations only after the command exits zero and every output file
// is verified non-empty.
type Task struct {
	TaskName    string
	Image       string
	Command     *Template
	Params      map[string]string
	CPUs        int
	MemoryMB    int
	Mounts      []engine.Mount
	Queue       string
	JobRole     string
	ScratchRoot string
	Engine      engine.Engine

	In  map[string]target.Target
	Out map[string]target.Target

	// LastLog holds the combined output of the most recent attempt, for
	// failure reporting.
	LastLog string

	state State
}

// Name implements task.Task.
func (t *Task) Name() string { return t.TaskName }

// Inputs implements task.Task.
func (t *Task) Inputs() map[string]target.Target { return t.In }

// Outputs implements task.Task.
func (t *Task) Outputs() map[string]target.Target { return t.Out }

// State returns the attempt's current lifecycle state.
func (t *Task) State() State { return t.state }

// Run implements the container execution protocol. The scratch directory
// is removed on every exit path once publication or failure handling is
// finished.
func (t *Task) Run(ctx context.Context) (err error) {
	logger := ctxlog.FromContext(ctx).With("task", t.TaskName, "image", t.Image)

	scratch := filepath.Join(t.ScratchRoot, t.TaskName+"-"+uuid.NewString())
	if err := os.MkdirAll(filepath.Join(scratch, "in"), 0o755); err != nil {
		t.state = Failed
		return fmt.Errorf("creating scratch dir for '%s': %w", t.TaskName, err)
	}
	if err := os.MkdirAll(filepath.Join(scratch, "out"), 0o755); err != nil {
		t.state = Failed
		return fmt.Errorf("creating scratch dir for '%s': %w", t.TaskName, err)
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			logger.Warn("Failed to remove scratch directory.", "scratch", scratch, "error", rmErr)
		}
	}()
	logger.Debug("Scratch directory allocated.", "scratch", scratch)

	t.state = ResolvingInputs
	values, outPaths, inputMounts, err := t.resolve(ctx, scratch)
	if err != nil {
		t.state = Failed
		return err
	}

	args, err := t.Command.Render(values, collectLists(values))
	if err != nil {
		t.state = Failed
		return fmt.Errorf("rendering command for '%s': %w", t.TaskName, err)
	}

	t.state = Running
	spec := &engine.JobSpec{
		Name:     t.TaskName,
		Image:    t.Image,
		Command:  args,
		CPUs:     t.CPUs,
		MemoryMB: t.MemoryMB,
		Queue:    t.Queue,
		JobRole:  t.JobRole,
		Mounts: append(append([]engine.Mount{
			{HostPath: scratch, ContainerPath: sandboxPath},
		}, inputMounts...), t.Mounts...),
	}
	result, err := t.Engine.Run(ctx, spec)
	if err != nil {
		t.state = Failed
		return fmt.Errorf("executing '%s': %w", t.TaskName, err)
	}
	t.LastLog = result.Log
	if result.ExitCode != 0 {
		t.state = Failed
		return fmt.Errorf("task '%s' exited with code %d", t.TaskName, result.ExitCode)
	}

	t.state = Publishing
	if err := t.publish(ctx, outPaths, logger); err != nil {
		t.state = Failed
		return err
	}

	t.state = Complete
	logger.Debug("Container task complete.")
	return nil
}

// resolve maps every input and output slot to a concrete path, downloading
// remote inputs into scratch. It returns the placeholder value map for
// command rendering, the host-side path of each output slot, and read-only
// mounts making already-local inputs visible inside the container.
//
// Scratch paths are partitioned per slot: two targets sharing a basename
// must never land on the same path.
func (t *Task) resolve(ctx context.Context, scratch string) (map[string]string, map[string]string, []engine.Mount, error) {
	logger := ctxlog.FromContext(ctx).With("task", t.TaskName)
	values := make(map[string]string)
	var inputMounts []engine.Mount
	mounted := make(map[string]struct{})

	for slot, in := range t.In {
		if localPath, ok := in.LocalPath(); ok {
			// Local inputs are used in place. Only the file itself is
			// exposed to the container, never its siblings.
			values[KindInput+"."+slot] = localPath
			if _, dup := mounted[localPath]; !dup {
				mounted[localPath] = struct{}{}
				inputMounts = append(inputMounts, engine.Mount{
					HostPath:      localPath,
					ContainerPath: localPath,
					ReadOnly:      true,
				})
			}
			continue
		}
		base := filepath.Base(in.URI())
		hostPath := filepath.Join(scratch, "in", slot, base)
		if err := os.MkdirAll(filepath.Dir(hostPath), 0o755); err != nil {
			return nil, nil, nil, fmt.Errorf("creating input dir for '%s' of '%s': %w", slot, t.TaskName, err)
		}
		logger.Debug("Materializing remote input.", "slot", slot, "uri", in.URI())
		if err := download(ctx, in, hostPath); err != nil {
			return nil, nil, nil, fmt.Errorf("materializing input '%s' of '%s': %w", slot, t.TaskName, err)
		}
		values[KindInput+"."+slot] = filepath.Join(sandboxPath, "in", slot, base)
	}

	outPaths := make(map[string]string, len(t.Out))
	for slot, out := range t.Out {
		base := filepath.Base(out.URI())
		if err := os.MkdirAll(filepath.Join(scratch, "out", slot), 0o755); err != nil {
			return nil, nil, nil, fmt.Errorf("creating output dir for '%s' of '%s': %w", slot, t.TaskName, err)
		}
		outPaths[slot] = filepath.Join(scratch, "out", slot, base)
		values[KindOutput+"."+slot] = filepath.Join(sandboxPath, "out", slot, base)
	}

	for name, v := range t.Params {
		values[KindParam+"."+name] = v
	}

	return values, outPaths, inputMounts, nil
}

// publish uploads every verified output to its target. Outputs that are
// missing or empty after a zero exit fail the task before anything is
// published, so a half-successful command never memoizes as complete.
func (t *Task) publish(ctx context.Context, outPaths map[string]string, logger *slog.Logger) error {
	for slot, hostPath := range outPaths {
		info, err := os.Stat(hostPath)
		if err != nil {
			return fmt.Errorf("output '%s' of '%s' missing after run: %w", slot, t.TaskName, err)
		}
		if info.Size() == 0 {
			return fmt.Errorf("output '%s' of '%s' is empty after run", slot, t.TaskName)
		}
	}

	for slot, hostPath := range outPaths {
		out := t.Out[slot]
		logger.Debug("Publishing output.", "slot", slot, "uri", out.URI())
		if err := upload(ctx, hostPath, out); err != nil {
			return fmt.Errorf("publishing output '%s' of '%s': %w", slot, t.TaskName, err)
		}
	}
	return nil
}

// collectLists groups indexed input slots ("contigs.0", "contigs.1", ...)
// into ordered collections keyed by their base placeholder, so a fan-in
// command can expand {input.contigs} into every per-sample path.
func collectLists(values map[string]string) map[string][]string {
	type indexed struct {
		idx  int
		path string
	}
	grouped := make(map[string][]indexed)
	for key, v := range values {
		base, suffix, ok := splitIndexed(key)
		if !ok {
			continue
		}
		grouped[base] = append(grouped[base], indexed{idx: suffix, path: v})
	}

	lists := make(map[string][]string, len(grouped))
	for base, items := range grouped {
		sort.Slice(items, func(i, j int) bool { return items[i].idx < items[j].idx })
		paths := make([]string, len(items))
		for i, it := range items {
			paths[i] = it.path
		}
		lists[base] = paths
	}
	return lists
}

// splitIndexed splits "input.contigs.3" into ("input.contigs", 3, true).
func splitIndexed(key string) (string, int, bool) {
	dot := strings.LastIndex(key, ".")
	if dot < 0 {
		return "", 0, false
	}
	idx, err := strconv.Atoi(key[dot+1:])
	if err != nil {
		return "", 0, false
	}
	return key[:dot], idx, true
}

func download(ctx context.Context, in target.Target, hostPath string) error {
	r, err := in.Open(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.Create(hostPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func upload(ctx context.Context, hostPath string, out target.Target) error {
	f, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := out.Create(ctx)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
