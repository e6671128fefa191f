// Package pipeline loads declarative pipeline definitions from HCL. A
// pipeline names the container steps applied to every sample (fan-out) and
// the aggregate steps that merge results across samples (fan-in).
package pipeline

// SamplesSource is the reserved input binding that attaches a step to the
// per-sample source file from the sample sheet.
const SamplesSource = "samples"

// Input binds a named input slot to an upstream output.
type Input struct {
	Name string
	// From is either SamplesSource or "<step>.<output>".
	From string
}

// Output declares a named output slot with a path template relative to the
// run's output root. Step outputs may use {sample}; aggregate outputs may not.
type Output struct {
	Name string
	Path string
}

// Mount is an extra host directory made visible inside the container.
type Mount struct {
	Host      string
	Container string
	ReadOnly  bool
}

// Step is one container invocation template, instantiated per sample for
// plain steps and once per run for aggregates.
type Step struct {
	Name     string
	Image    string
	Command  []string
	CPUs     int
	MemoryMB int
	Params   map[string]string
	Inputs   []Input
	Outputs  []Output
	Mounts   []Mount

	// Aggregate marks a fan-in step whose inputs collect an output across
	// every sample.
	Aggregate bool
}

// Pipeline is a fully validated pipeline definition.
type Pipeline struct {
	Name  string
	Steps []*Step
}

// Step returns the named step, or nil.
func (p *Pipeline) Step(name string) *Step {
	for _, s := range p.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}
