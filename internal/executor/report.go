package executor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vk/batchflow/internal/container"
)

// TaskResult is one task's disposition in the final report.
type TaskResult struct {
	Name   string
	Status Status
	// Err is set for failed tasks.
	Err error
	// Log holds captured command output for failed container tasks.
	Log string
}

// Report summarizes a finished run.
type Report struct {
	Results   map[string]TaskResult
	Terminals []string
}

func newReport(e *Executor) *Report {
	r := &Report{
		Results:   make(map[string]TaskResult, len(e.nodes)),
		Terminals: e.plan.Terminals,
	}
	for name, n := range e.nodes {
		res := TaskResult{Name: name}
		switch nodeState(n.state.Load()) {
		case stateDone:
			if n.skipped {
				res.Status = StatusSkipped
			} else {
				res.Status = StatusComplete
			}
		case stateFailed:
			res.Status = StatusFailed
			res.Err = n.err
			if ct, ok := n.task.(*container.Task); ok {
				res.Log = ct.LastLog
			}
		default:
			res.Status = StatusUnreachable
			res.Err = n.err
		}
		r.Results[name] = res
	}
	return r
}

// Succeeded reports whether a status counts as satisfied.
func (s Status) Succeeded() bool {
	return s == StatusComplete || s == StatusSkipped
}

// Failed returns the sorted names of failed tasks.
func (r *Report) Failed() []string {
	return r.withStatus(StatusFailed)
}

// Unreachable returns the sorted names of abandoned tasks.
func (r *Report) Unreachable() []string {
	return r.withStatus(StatusUnreachable)
}

func (r *Report) withStatus(s Status) []string {
	var names []string
	for name, res := range r.Results {
		if res.Status == s {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Err returns a non-nil error iff any terminal task is not satisfied. This
// is the run's overall verdict: the process exits non-zero on it.
func (r *Report) Err() error {
	var unsatisfied []string
	for _, name := range r.Terminals {
		if res, ok := r.Results[name]; !ok || !res.Status.Succeeded() {
			unsatisfied = append(unsatisfied, name)
		}
	}
	if len(unsatisfied) == 0 {
		return nil
	}
	sort.Strings(unsatisfied)
	return fmt.Errorf("run failed: terminal tasks not complete: %s (failed: %s; unreachable: %s)",
		strings.Join(unsatisfied, ", "),
		strings.Join(r.Failed(), ", "),
		strings.Join(r.Unreachable(), ", "))
}
