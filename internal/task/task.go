// Package task defines the unit of work the engine schedules. A task
// declares named input and output targets; the dependency graph is derived
// entirely from which task produces the targets another task consumes.
package task

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/batchflow/internal/target"
)

// Task is a node in the execution graph.
//
// Inputs and Outputs are bound once during graph construction and must be
// pure: no I/O beyond URI construction, and identical parameters always
// yield identical output locations. That determinism is what makes
// existence-based memoization safe across runs.
type Task interface {
	// Name returns the task's unique identity within a run.
	Name() string

	// Inputs returns the targets this task consumes, keyed by slot name.
	Inputs() map[string]target.Target

	// Outputs returns the targets this task produces, keyed by slot name.
	Outputs() map[string]target.Target

	// Run performs the task's work. On return with nil error every
	// declared output must exist; on error none may be left published.
	Run(ctx context.Context) error
}

// Complete reports whether every declared output of t already exists.
// The scheduler treats a complete task as a no-op.
func Complete(ctx context.Context, t Task) (bool, error) {
	outs := t.Outputs()
	if len(outs) == 0 {
		return false, nil
	}
	for slot, out := range outs {
		ok, err := out.Exists(ctx)
		if err != nil {
			return false, fmt.Errorf("checking output '%s' of task '%s': %w", slot, t.Name(), err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// SlotNames returns the sorted slot names of a target map, for stable
// logging and deterministic iteration.
func SlotNames(m map[string]target.Target) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Func is an in-process task. It covers local glue steps and test doubles;
// container work uses the container package instead.
type Func struct {
	TaskName string
	In       map[string]target.Target
	Out      map[string]target.Target
	RunFn    func(ctx context.Context) error
}

// Name implements Task.
func (f *Func) Name() string { return f.TaskName }

// Inputs implements Task.
func (f *Func) Inputs() map[string]target.Target { return f.In }

// Outputs implements Task.
func (f *Func) Outputs() map[string]target.Target { return f.Out }

// Run implements Task.
func (f *Func) Run(ctx context.Context) error {
	if f.RunFn == nil {
		return nil
	}
	return f.RunFn(ctx)
}
