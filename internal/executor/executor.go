// Package executor drives a task graph to completion with a bounded worker
// pool. Ready tasks are dispatched as their producers finish; tasks whose
// outputs already exist are skipped, which is the engine's cross-run reuse
// mechanism.
package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vk/batchflow/internal/ctxlog"
	"github.com/vk/batchflow/internal/task"
	"github.com/vk/batchflow/internal/workflow"
)

// Status is a task's terminal disposition within one run.
type Status string

const (
	// StatusComplete marks a task that ran and published every output.
	StatusComplete Status = "COMPLETE"
	// StatusSkipped marks a task whose outputs already existed.
	StatusSkipped Status = "SKIPPED"
	// StatusFailed marks a task whose execution failed.
	StatusFailed Status = "FAILED"
	// StatusUnreachable marks a task abandoned because an upstream
	// producer failed.
	StatusUnreachable Status = "UNREACHABLE"
)

type nodeState int32

const (
	statePending nodeState = iota
	stateRunning
	stateDone
	stateFailed
	stateUnreachable
)

// node wraps one task with the executor's bookkeeping.
type node struct {
	name     string
	task     task.Task
	state    atomic.Int32
	err      error
	skipped  bool // outputs already existed
	depCount atomic.Int32
	skipOnce sync.Once
}

// Executor runs one plan. It is single-use.
type Executor struct {
	plan       *workflow.Plan
	numWorkers int

	nodes map[string]*node
	wg    sync.WaitGroup
}

// New returns an executor over the given plan with the given worker count.
func New(plan *workflow.Plan, numWorkers int) *Executor {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Executor{plan: plan, numWorkers: numWorkers}
}

// Run executes the whole graph and returns the per-task report. Workers
// stop picking up new tasks once ctx is cancelled; in-flight tasks observe
// the cancellation through their own context use.
func (e *Executor) Run(ctx context.Context) *Report {
	logger := ctxlog.FromContext(ctx)

	e.nodes = make(map[string]*node, len(e.plan.Tasks))
	for name, t := range e.plan.Tasks {
		e.nodes[name] = &node{name: name, task: t}
	}
	for name, n := range e.nodes {
		deps, _ := e.plan.Graph.Dependencies(name)
		n.depCount.Store(int32(len(deps)))
	}

	if len(e.nodes) == 0 {
		logger.Warn("Plan is empty, nothing to execute.")
		return newReport(e)
	}

	readyChan := make(chan *node, len(e.nodes))
	rootCount := 0
	for _, n := range e.nodes {
		if n.depCount.Load() == 0 {
			readyChan <- n
			rootCount++
		}
	}
	logger.Debug("Executor initialized.", "nodes", len(e.nodes), "roots", rootCount, "workers", e.numWorkers)

	e.wg.Add(len(e.nodes))

	logger.Info("🚀 Starting concurrent execution", "workers", e.numWorkers)
	for i := 0; i < e.numWorkers; i++ {
		go e.worker(ctx, readyChan, i)
	}

	e.wg.Wait()
	close(readyChan)
	logger.Info("🏁 Execution finished")

	return newReport(e)
}

// worker is the core processing loop for a single concurrent worker.
func (e *Executor) worker(ctx context.Context, readyChan chan *node, workerID int) {
	logger := ctxlog.FromContext(ctx)

	for n := range readyChan {
		workerLogger := logger.With("workerID", workerID, "task", n.name)

		// A node can reach the ready channel after an upstream failure
		// already marked it unreachable; its accounting is settled.
		if n.state.Load() != int32(statePending) {
			continue
		}

		if ctx.Err() != nil {
			n.skipOnce.Do(func() {
				workerLogger.Warn("Context cancelled, abandoning task.")
				n.state.Store(int32(stateUnreachable))
				n.err = ctx.Err()
				e.wg.Done()
				e.markDependentsUnreachable(ctx, n)
			})
			continue
		}

		// Memoization: outputs that already exist make the task a no-op.
		complete, err := task.Complete(ctx, n.task)
		if err != nil {
			workerLogger.Error("Completion check failed.", "error", err)
			e.fail(ctx, n, err)
			continue
		}
		if complete {
			workerLogger.Info("⏭️ Outputs already satisfied, skipping", "task", n.name)
			n.skipped = true
			e.succeed(ctx, n, readyChan)
			continue
		}

		workerLogger.Debug("Worker picked up task for execution.")
		n.state.Store(int32(stateRunning))
		workerLogger.Info("▶️ Starting task")

		if err := n.task.Run(ctx); err != nil {
			workerLogger.Error("Task execution failed.", "error", err)
			e.fail(ctx, n, err)
			continue
		}

		workerLogger.Info("✅ Finished task")
		e.succeed(ctx, n, readyChan)
	}
}

// succeed marks a node done and unlocks any dependents whose producers have
// all finished.
func (e *Executor) succeed(ctx context.Context, n *node, readyChan chan *node) {
	logger := ctxlog.FromContext(ctx)
	n.state.Store(int32(stateDone))

	dependents, err := e.plan.Graph.Dependents(n.name)
	if err != nil {
		logger.Error("Failed to get dependents for completed task.", "task", n.name, "error", err)
	} else {
		for _, depName := range dependents {
			dep := e.nodes[depName]
			if dep.depCount.Add(-1) == 0 {
				logger.Debug("Unlocking dependent task.", "task", depName)
				readyChan <- dep
			}
		}
	}
	e.wg.Done()
}

// fail marks a node failed and abandons its transitive dependents. A
// failure never cancels siblings: independent subtrees keep running.
func (e *Executor) fail(ctx context.Context, n *node, err error) {
	n.state.Store(int32(stateFailed))
	n.err = err
	e.markDependentsUnreachable(ctx, n)
	e.wg.Done()
}

// markDependentsUnreachable recursively abandons every downstream task.
func (e *Executor) markDependentsUnreachable(ctx context.Context, n *node) {
	logger := ctxlog.FromContext(ctx)
	dependents, err := e.plan.Graph.Dependents(n.name)
	if err != nil {
		logger.Error("Failed to get dependents.", "task", n.name, "error", err)
		return
	}
	for _, depName := range dependents {
		dep := e.nodes[depName]
		dep.skipOnce.Do(func() {
			logger.Warn("Task unreachable due to upstream failure.", "task", depName, "failedDependency", n.name)
			dep.state.Store(int32(stateUnreachable))
			e.wg.Done()
			e.markDependentsUnreachable(ctx, dep)
		})
	}
}
