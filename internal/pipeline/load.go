package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// HCL schema types. These mirror the on-disk block structure and are
// translated into the validated model after decoding.

type fileSchema struct {
	Pipelines []*pipelineSchema `hcl:"pipeline,block"`
}

type pipelineSchema struct {
	Name       string        `hcl:"name,label"`
	Steps      []*stepSchema `hcl:"step,block"`
	Aggregates []*stepSchema `hcl:"aggregate,block"`
}

type stepSchema struct {
	Name     string            `hcl:"name,label"`
	Image    string            `hcl:"image"`
	Command  []string          `hcl:"command"`
	CPUs     *int              `hcl:"cpus,optional"`
	MemoryMB *int              `hcl:"memory_mb,optional"`
	Params   map[string]string `hcl:"params,optional"`
	Inputs   []*inputSchema    `hcl:"input,block"`
	Outputs  []*outputSchema   `hcl:"output,block"`
	Mounts   []*mountSchema    `hcl:"mount,block"`
}

type inputSchema struct {
	Name string `hcl:"name,label"`
	From string `hcl:"from"`
}

type outputSchema struct {
	Name string `hcl:"name,label"`
	Path string `hcl:"path"`
}

type mountSchema struct {
	Host      string  `hcl:"host"`
	Container string  `hcl:"container"`
	Mode      *string `hcl:"mode,optional"`
}

// Load parses and validates one pipeline definition file. Files holding
// multiple pipeline blocks are rejected; a pipeline is the unit of a run.
func Load(path string) (*Pipeline, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing pipeline file '%s': %w", path, diags)
	}
	return decode(file.Body, path)
}

// LoadSource parses a pipeline from an in-memory HCL document.
func LoadSource(src, filename string) (*Pipeline, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL([]byte(src), filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing pipeline '%s': %w", filename, diags)
	}
	return decode(file.Body, filename)
}

func decode(body hcl.Body, filename string) (*Pipeline, error) {
	evalCtx, remain, err := localsContext(body)
	if err != nil {
		return nil, fmt.Errorf("decoding locals in '%s': %w", filename, err)
	}

	var raw fileSchema
	if diags := gohcl.DecodeBody(remain, evalCtx, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("decoding pipeline '%s': %w", filename, diags)
	}
	if len(raw.Pipelines) == 0 {
		return nil, fmt.Errorf("no pipeline block found in '%s'", filename)
	}
	if len(raw.Pipelines) > 1 {
		return nil, fmt.Errorf("'%s' declares %d pipelines, expected exactly one", filename, len(raw.Pipelines))
	}

	p := translate(raw.Pipelines[0])
	if err := validate(p); err != nil {
		return nil, fmt.Errorf("invalid pipeline '%s': %w", p.Name, err)
	}
	return p, nil
}

// localsContext evaluates every top-level locals block and exposes the
// values to the rest of the file as local.<name>. Locals are constants;
// they may not reference each other.
func localsContext(body hcl.Body) (*hcl.EvalContext, hcl.Body, error) {
	content, remain, diags := body.PartialContent(&hcl.BodySchema{
		Blocks: []hcl.BlockHeaderSchema{{Type: "locals"}},
	})
	if diags.HasErrors() {
		return nil, nil, diags
	}

	vals := make(map[string]cty.Value)
	for _, block := range content.Blocks {
		attrs, diags := block.Body.JustAttributes()
		if diags.HasErrors() {
			return nil, nil, diags
		}
		for name, attr := range attrs {
			if _, dup := vals[name]; dup {
				return nil, nil, fmt.Errorf("local value '%s' defined twice", name)
			}
			v, diags := attr.Expr.Value(nil)
			if diags.HasErrors() {
				return nil, nil, diags
			}
			vals[name] = v
		}
	}

	evalCtx := &hcl.EvalContext{Variables: map[string]cty.Value{}}
	if len(vals) > 0 {
		evalCtx.Variables["local"] = cty.ObjectVal(vals)
	}
	return evalCtx, remain, nil
}

func translate(raw *pipelineSchema) *Pipeline {
	p := &Pipeline{Name: raw.Name}
	for _, s := range raw.Steps {
		p.Steps = append(p.Steps, translateStep(s, false))
	}
	for _, s := range raw.Aggregates {
		p.Steps = append(p.Steps, translateStep(s, true))
	}
	return p
}

func translateStep(raw *stepSchema, aggregate bool) *Step {
	s := &Step{
		Name:      raw.Name,
		Image:     raw.Image,
		Command:   raw.Command,
		Params:    raw.Params,
		Aggregate: aggregate,
	}
	if raw.CPUs != nil {
		s.CPUs = *raw.CPUs
	}
	if raw.MemoryMB != nil {
		s.MemoryMB = *raw.MemoryMB
	}
	for _, in := range raw.Inputs {
		s.Inputs = append(s.Inputs, Input{Name: in.Name, From: in.From})
	}
	for _, out := range raw.Outputs {
		s.Outputs = append(s.Outputs, Output{Name: out.Name, Path: out.Path})
	}
	for _, m := range raw.Mounts {
		mode := "rw"
		if m.Mode != nil {
			mode = *m.Mode
		}
		s.Mounts = append(s.Mounts, Mount{
			Host:      m.Host,
			Container: m.Container,
			ReadOnly:  strings.EqualFold(mode, "ro"),
		})
	}
	return s
}

var commandPlaceholderRe = regexp.MustCompile(`\{(input|output)\.([A-Za-z0-9_]+)\}`)

func validate(p *Pipeline) error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("pipeline declares no steps")
	}

	steps := make(map[string]*Step, len(p.Steps))
	for _, s := range p.Steps {
		if _, dup := steps[s.Name]; dup {
			return fmt.Errorf("duplicate step name '%s'", s.Name)
		}
		steps[s.Name] = s
	}

	for _, s := range p.Steps {
		if s.Image == "" {
			return fmt.Errorf("step '%s' has no container image", s.Name)
		}
		if len(s.Command) == 0 {
			return fmt.Errorf("step '%s' has no command", s.Name)
		}
		if len(s.Outputs) == 0 {
			return fmt.Errorf("step '%s' declares no outputs, it could never memoize", s.Name)
		}

		if err := validateSlots(s); err != nil {
			return err
		}
		if err := validateBindings(s, steps); err != nil {
			return err
		}
		if err := validateOutputPaths(s); err != nil {
			return err
		}
		if err := validateCommandPlaceholders(s); err != nil {
			return err
		}
	}
	return nil
}

func validateSlots(s *Step) error {
	seen := make(map[string]struct{})
	for _, in := range s.Inputs {
		if _, dup := seen[in.Name]; dup {
			return fmt.Errorf("step '%s' declares input '%s' twice", s.Name, in.Name)
		}
		seen[in.Name] = struct{}{}
	}
	seen = make(map[string]struct{})
	for _, out := range s.Outputs {
		if _, dup := seen[out.Name]; dup {
			return fmt.Errorf("step '%s' declares output '%s' twice", s.Name, out.Name)
		}
		seen[out.Name] = struct{}{}
	}
	return nil
}

func validateBindings(s *Step, steps map[string]*Step) error {
	for _, in := range s.Inputs {
		if in.From == SamplesSource {
			if s.Aggregate {
				return fmt.Errorf("aggregate '%s' cannot bind input '%s' to '%s'", s.Name, in.Name, SamplesSource)
			}
			continue
		}
		producerName, outputSlot, ok := strings.Cut(in.From, ".")
		if !ok {
			return fmt.Errorf("step '%s' input '%s' has malformed binding '%s', expected '%s' or '<step>.<output>'",
				s.Name, in.Name, in.From, SamplesSource)
		}
		producer, ok := steps[producerName]
		if !ok {
			return fmt.Errorf("step '%s' input '%s' references unknown step '%s'", s.Name, in.Name, producerName)
		}
		if producer == s {
			return fmt.Errorf("step '%s' cannot consume its own output", s.Name)
		}
		if producer.Aggregate && !s.Aggregate {
			return fmt.Errorf("per-sample step '%s' cannot consume aggregate '%s'", s.Name, producerName)
		}
		found := false
		for _, out := range producer.Outputs {
			if out.Name == outputSlot {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("step '%s' input '%s' references output '%s' not declared by step '%s'",
				s.Name, in.Name, outputSlot, producerName)
		}
	}
	return nil
}

var outputPlaceholderRe = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

func validateOutputPaths(s *Step) error {
	for _, out := range s.Outputs {
		for _, m := range outputPlaceholderRe.FindAllStringSubmatch(out.Path, -1) {
			switch m[1] {
			case "sample":
				if s.Aggregate {
					return fmt.Errorf("aggregate '%s' output '%s' may not use {sample}", s.Name, out.Name)
				}
			default:
				return fmt.Errorf("step '%s' output '%s' uses unknown placeholder {%s}", s.Name, out.Name, m[1])
			}
		}
		if !s.Aggregate && !strings.Contains(out.Path, "{sample}") {
			return fmt.Errorf("step '%s' output '%s' must include {sample} so per-sample outputs cannot collide", s.Name, out.Name)
		}
	}
	return nil
}

func validateCommandPlaceholders(s *Step) error {
	inputs := make(map[string]struct{}, len(s.Inputs))
	for _, in := range s.Inputs {
		inputs[in.Name] = struct{}{}
	}
	outputs := make(map[string]struct{}, len(s.Outputs))
	for _, out := range s.Outputs {
		outputs[out.Name] = struct{}{}
	}

	for _, arg := range s.Command {
		for _, m := range commandPlaceholderRe.FindAllStringSubmatch(arg, -1) {
			kind, name := m[1], m[2]
			switch kind {
			case "input":
				if _, ok := inputs[name]; !ok {
					return fmt.Errorf("step '%s' command references undeclared input '%s'", s.Name, name)
				}
			case "output":
				if _, ok := outputs[name]; !ok {
					return fmt.Errorf("step '%s' command references undeclared output '%s'", s.Name, name)
				}
			}
		}
	}
	return nil
}
