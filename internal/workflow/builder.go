// Package workflow turns a pipeline definition and a sample sheet into an
// executable task graph: one chain of container tasks per sample row, fanned
// in by aggregate tasks that consume every chain's output.
package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vk/batchflow/internal/container"
	"github.com/vk/batchflow/internal/ctxlog"
	"github.com/vk/batchflow/internal/dag"
	"github.com/vk/batchflow/internal/engine"
	"github.com/vk/batchflow/internal/pipeline"
	"github.com/vk/batchflow/internal/samplesheet"
	"github.com/vk/batchflow/internal/target"
	"github.com/vk/batchflow/internal/task"
)

// Config carries the run-level settings every task shares.
type Config struct {
	// OutputRoot is the location all output path templates resolve under;
	// a local directory or an s3:// prefix.
	OutputRoot string
	// ScratchRoot is the host directory scratch sandboxes are created in.
	ScratchRoot string
	// Engine executes container jobs.
	Engine engine.Engine
	// Store backs remote targets.
	Store target.Store
	// Queue and JobRole are forwarded to remote batch jobs.
	Queue   string
	JobRole string
	// Params are run-level command parameters (threads, memory and the
	// like), overridable per step in the pipeline definition.
	Params map[string]string
}

// Plan is a constructed, validated task graph ready for execution.
type Plan struct {
	Graph     *dag.Graph
	Tasks     map[string]task.Task
	Terminals []string
}

// loadPrefix names the external tasks that stand in for sample source files.
const loadPrefix = "load."

// Build instantiates the task graph. All configuration errors surface here,
// before a single task runs; on error no partial plan is returned.
func Build(ctx context.Context, p *pipeline.Pipeline, sheet *samplesheet.Sheet, cfg Config) (*Plan, error) {
	logger := ctxlog.FromContext(ctx).With("pipeline", p.Name)

	if len(sheet.Rows) == 0 {
		logger.Warn("Sample sheet has zero rows, nothing to build.")
		return &Plan{Graph: dag.New(), Tasks: map[string]task.Task{}}, nil
	}

	b := &builder{
		pipeline: p,
		sheet:    sheet,
		cfg:      cfg,
		graph:    dag.New(),
		tasks:    make(map[string]task.Task),
	}

	b.addLoadTasks()
	if err := b.addSampleChains(); err != nil {
		return nil, err
	}
	if err := b.addAggregates(); err != nil {
		return nil, err
	}

	if err := b.graph.DetectCycles(); err != nil {
		return nil, fmt.Errorf("validating dependency graph: %w", err)
	}

	plan := &Plan{Graph: b.graph, Tasks: b.tasks, Terminals: b.graph.Terminals()}
	logger.Debug("Plan constructed.",
		"tasks", len(plan.Tasks), "samples", len(sheet.Rows), "terminals", len(plan.Terminals))
	return plan, nil
}

type builder struct {
	pipeline *pipeline.Pipeline
	sheet    *samplesheet.Sheet
	cfg      Config
	graph    *dag.Graph
	tasks    map[string]task.Task
}

// addLoadTasks creates one external task per sample row. A load task does
// no work; it fails the run early when a declared source file is absent.
func (b *builder) addLoadTasks() {
	for _, row := range b.sheet.Rows {
		src := target.Parse(row.Path, b.cfg.Store)
		name := loadPrefix + row.Sample
		b.tasks[name] = &task.Func{
			TaskName: name,
			Out:      map[string]target.Target{"file": src},
			RunFn: func(ctx context.Context) error {
				ok, err := src.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("source file '%s' does not exist", src.URI())
				}
				return nil
			},
		}
		b.graph.AddNode(name)
	}
}

func (b *builder) addSampleChains() error {
	for _, step := range b.pipeline.Steps {
		if step.Aggregate {
			continue
		}
		for _, row := range b.sheet.Rows {
			if err := b.addStepTask(step, row); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *builder) addStepTask(step *pipeline.Step, row samplesheet.Row) error {
	name := step.Name + "." + row.Sample

	params := b.mergeParams(step)
	params["sample"] = row.Sample

	outs := make(map[string]target.Target, len(step.Outputs))
	for _, out := range step.Outputs {
		uri := joinURI(b.cfg.OutputRoot, strings.ReplaceAll(out.Path, "{sample}", row.Sample))
		outs[out.Name] = target.Parse(uri, b.cfg.Store)
	}

	ct := b.newContainerTask(name, step, params, outs)
	b.tasks[name] = ct
	b.graph.AddNode(name)

	for _, in := range step.Inputs {
		producer, outputSlot, tgt, err := b.resolveBinding(in, row.Sample)
		if err != nil {
			return fmt.Errorf("binding input '%s' of task '%s': %w", in.Name, name, err)
		}
		ct.In[in.Name] = tgt
		if err := b.graph.AddEdge(dag.Edge{
			Consumer: name, InputSlot: in.Name,
			Producer: producer, OutputSlot: outputSlot,
		}); err != nil {
			return err
		}
	}

	return b.checkPlaceholders(ct)
}

// addAggregates instantiates fan-in tasks after every per-sample chain
// exists, binding collection inputs in sample-sheet row order.
func (b *builder) addAggregates() error {
	for _, step := range b.pipeline.Steps {
		if !step.Aggregate {
			continue
		}
		name := step.Name

		params := b.mergeParams(step)

		outs := make(map[string]target.Target, len(step.Outputs))
		for _, out := range step.Outputs {
			outs[out.Name] = target.Parse(joinURI(b.cfg.OutputRoot, out.Path), b.cfg.Store)
		}

		ct := b.newContainerTask(name, step, params, outs)
		b.tasks[name] = ct
		b.graph.AddNode(name)

		for _, in := range step.Inputs {
			producerName, outputSlot, ok := strings.Cut(in.From, ".")
			if !ok {
				return fmt.Errorf("aggregate '%s' input '%s' has malformed binding '%s'", name, in.Name, in.From)
			}
			producerStep := b.pipeline.Step(producerName)
			if producerStep == nil {
				return fmt.Errorf("aggregate '%s' references unknown step '%s'", name, producerName)
			}

			if producerStep.Aggregate {
				// Aggregate-to-aggregate is an ordinary scalar binding.
				producerTask := b.tasks[producerName].(*container.Task)
				ct.In[in.Name] = producerTask.Out[outputSlot]
				if err := b.graph.AddEdge(dag.Edge{
					Consumer: name, InputSlot: in.Name,
					Producer: producerName, OutputSlot: outputSlot,
				}); err != nil {
					return err
				}
				continue
			}

			// Collect the per-sample outputs in row order. Downstream
			// commands receive them as an expanded list; the order is for
			// reproducible logging only.
			for i, row := range b.sheet.Rows {
				producer := producerName + "." + row.Sample
				producerTask, ok := b.tasks[producer].(*container.Task)
				if !ok {
					return fmt.Errorf("aggregate '%s' references missing task '%s'", name, producer)
				}
				slot := fmt.Sprintf("%s.%d", in.Name, i)
				ct.In[slot] = producerTask.Out[outputSlot]
				if err := b.graph.AddEdge(dag.Edge{
					Consumer: name, InputSlot: slot,
					Producer: producer, OutputSlot: outputSlot,
				}); err != nil {
					return err
				}
			}
		}

		if err := b.checkPlaceholders(ct); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) newContainerTask(name string, step *pipeline.Step, params map[string]string, outs map[string]target.Target) *container.Task {
	mounts := make([]engine.Mount, 0, len(step.Mounts))
	for _, m := range step.Mounts {
		mounts = append(mounts, engine.Mount{
			HostPath:      m.Host,
			ContainerPath: m.Container,
			ReadOnly:      m.ReadOnly,
		})
	}
	return &container.Task{
		TaskName:    name,
		Image:       step.Image,
		Command:     container.NewTemplate(step.Command...),
		Params:      params,
		CPUs:        step.CPUs,
		MemoryMB:    step.MemoryMB,
		Mounts:      mounts,
		Queue:       b.cfg.Queue,
		JobRole:     b.cfg.JobRole,
		ScratchRoot: b.cfg.ScratchRoot,
		Engine:      b.cfg.Engine,
		In:          make(map[string]target.Target),
		Out:         outs,
	}
}

// resolveBinding maps a per-sample input declaration onto the producing
// task, its output slot and the bound target.
func (b *builder) resolveBinding(in pipeline.Input, sample string) (producer, outputSlot string, tgt target.Target, err error) {
	if in.From == pipeline.SamplesSource {
		producer = loadPrefix + sample
		loadTask, ok := b.tasks[producer]
		if !ok {
			return "", "", nil, fmt.Errorf("no load task for sample '%s'", sample)
		}
		return producer, "file", loadTask.Outputs()["file"], nil
	}

	producerName, outputSlot, ok := strings.Cut(in.From, ".")
	if !ok {
		return "", "", nil, fmt.Errorf("malformed binding '%s'", in.From)
	}
	producer = producerName + "." + sample
	producerTask, ok := b.tasks[producer].(*container.Task)
	if !ok {
		return "", "", nil, fmt.Errorf("unresolved producer task '%s'", producer)
	}
	tgt, ok = producerTask.Out[outputSlot]
	if !ok {
		return "", "", nil, fmt.Errorf("producer '%s' has no output '%s'", producer, outputSlot)
	}
	return producer, outputSlot, tgt, nil
}

// checkPlaceholders verifies at build time that every command placeholder
// will resolve at run time, so unresolved placeholders abort the run before
// any task executes.
func (b *builder) checkPlaceholders(ct *container.Task) error {
	inputs := make(map[string]struct{})
	collections := make(map[string]struct{})
	for slot := range ct.In {
		inputs[slot] = struct{}{}
		if base, ok := indexedBase(slot); ok {
			inputs[base] = struct{}{}
			collections[base] = struct{}{}
		}
	}

	// A collection expands into one argument per element, which only works
	// when the placeholder is the whole argument.
	for _, arg := range ct.Command.Args() {
		for _, ph := range container.ArgPlaceholders(arg) {
			kind, name, _ := strings.Cut(ph, ".")
			if kind != container.KindInput {
				continue
			}
			if _, isColl := collections[name]; isColl && arg != "{"+ph+"}" {
				return fmt.Errorf("task '%s': collection input '%s' must be the entire command argument, got %q",
					ct.TaskName, name, arg)
			}
		}
	}

	for _, ph := range ct.Command.Placeholders() {
		kind, name, _ := strings.Cut(ph, ".")
		switch kind {
		case container.KindInput:
			if _, ok := inputs[name]; !ok {
				return fmt.Errorf("task '%s': command references unbound input '%s'", ct.TaskName, name)
			}
		case container.KindOutput:
			if _, ok := ct.Out[name]; !ok {
				return fmt.Errorf("task '%s': command references undeclared output '%s'", ct.TaskName, name)
			}
		case container.KindParam:
			if _, ok := ct.Params[name]; !ok {
				return fmt.Errorf("task '%s': command references undefined parameter '%s'", ct.TaskName, name)
			}
		}
	}
	return nil
}

// indexedBase splits a collection slot ("annotations.3") into its base name.
func indexedBase(slot string) (string, bool) {
	dot := strings.LastIndex(slot, ".")
	if dot < 0 {
		return "", false
	}
	if _, err := strconv.Atoi(slot[dot+1:]); err != nil {
		return "", false
	}
	return slot[:dot], true
}

func (b *builder) mergeParams(step *pipeline.Step) map[string]string {
	params := make(map[string]string, len(b.cfg.Params)+len(step.Params))
	for k, v := range b.cfg.Params {
		params[k] = v
	}
	for k, v := range step.Params {
		params[k] = v
	}
	return params
}

// joinURI appends a relative path to the output root without mangling
// remote URI schemes.
func joinURI(root, rel string) string {
	if target.IsRemote(root) {
		return strings.TrimRight(root, "/") + "/" + strings.TrimLeft(rel, "/")
	}
	return filepath.Join(root, rel)
}
