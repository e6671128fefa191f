package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const assemblyHCL = `
pipeline "assembly" {
  step "assemble" {
    image   = "quay.io/example/metaspades:v3.11.1"
    command = ["run_metaspades.py",
               "--input", "{input.reads}",
               "--output", "{output.contigs}",
               "--threads", "{param.threads}"]
    cpus      = 8
    memory_mb = 64000

    input "reads" { from = "samples" }
    output "contigs" { path = "assembly/{sample}.fasta.gz" }

    mount {
      host      = "/docker_scratch"
      container = "/mnt/scratch"
      mode      = "ro"
    }
  }

  aggregate "summarize" {
    image   = "quay.io/example/checkm:1.0"
    command = ["summarize.py", "--out", "{output.report}"]
    input "contigs" { from = "assemble.contigs" }
    output "report" { path = "summary/report.tsv" }
  }
}
`

func TestLoadSource_ValidPipeline(t *testing.T) {
	t.Parallel()
	p, err := LoadSource(assemblyHCL, "assembly.hcl")
	require.NoError(t, err)
	require.Equal(t, "assembly", p.Name)
	require.Len(t, p.Steps, 2)

	assemble := p.Step("assemble")
	require.NotNil(t, assemble)
	require.False(t, assemble.Aggregate)
	require.Equal(t, 8, assemble.CPUs)
	require.Equal(t, 64000, assemble.MemoryMB)
	require.Equal(t, []Input{{Name: "reads", From: "samples"}}, assemble.Inputs)
	require.Len(t, assemble.Mounts, 1)
	require.True(t, assemble.Mounts[0].ReadOnly)

	summarize := p.Step("summarize")
	require.NotNil(t, summarize)
	require.True(t, summarize.Aggregate)
	require.Equal(t, "assemble.contigs", summarize.Inputs[0].From)
}

func TestLoadSource_DuplicateStepName(t *testing.T) {
	t.Parallel()
	src := `
pipeline "p" {
  step "a" {
    image = "img"
    command = ["x"]
    output "o" { path = "a/{sample}.txt" }
  }
  step "a" {
    image = "img"
    command = ["x"]
    output "o" { path = "b/{sample}.txt" }
  }
}
`
	_, err := LoadSource(src, "p.hcl")
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate step name 'a'")
}

func TestLoadSource_UnknownProducerStep(t *testing.T) {
	t.Parallel()
	src := `
pipeline "p" {
  step "a" {
    image = "img"
    command = ["x", "{input.i}"]
    input "i" { from = "ghost.out" }
    output "o" { path = "a/{sample}.txt" }
  }
}
`
	_, err := LoadSource(src, "p.hcl")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown step 'ghost'")
}

func TestLoadSource_CommandReferencesUndeclaredSlot(t *testing.T) {
	t.Parallel()
	src := `
pipeline "p" {
  step "a" {
    image = "img"
    command = ["x", "{input.reads}"]
    output "o" { path = "a/{sample}.txt" }
  }
}
`
	_, err := LoadSource(src, "p.hcl")
	require.Error(t, err)
	require.Contains(t, err.Error(), "undeclared input 'reads'")
}

func TestLoadSource_AggregateMayNotUseSamplePlaceholder(t *testing.T) {
	t.Parallel()
	src := `
pipeline "p" {
  step "a" {
    image = "img"
    command = ["x"]
    output "o" { path = "a/{sample}.txt" }
  }
  aggregate "agg" {
    image = "img"
    command = ["y"]
    input "xs" { from = "a.o" }
    output "r" { path = "agg/{sample}.txt" }
  }
}
`
	_, err := LoadSource(src, "p.hcl")
	require.Error(t, err)
	require.Contains(t, err.Error(), "may not use {sample}")
}

func TestLoadSource_StepOutputMustFanOutPerSample(t *testing.T) {
	t.Parallel()
	src := `
pipeline "p" {
  step "a" {
    image = "img"
    command = ["x"]
    output "o" { path = "a/shared.txt" }
  }
}
`
	_, err := LoadSource(src, "p.hcl")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must include {sample}")
}

func TestLoadSource_StepCannotConsumeAggregate(t *testing.T) {
	t.Parallel()
	src := `
pipeline "p" {
  step "a" {
    image = "img"
    command = ["x"]
    output "o" { path = "a/{sample}.txt" }
  }
  aggregate "agg" {
    image = "img"
    command = ["y"]
    input "xs" { from = "a.o" }
    output "r" { path = "agg/report.txt" }
  }
  step "b" {
    image = "img"
    command = ["z", "{input.r}"]
    input "r" { from = "agg.r" }
    output "o" { path = "b/{sample}.txt" }
  }
}
`
	_, err := LoadSource(src, "p.hcl")
	require.Error(t, err)
	require.Contains(t, err.Error(), "cannot consume aggregate")
}

func TestLoad_ShippedPipelines(t *testing.T) {
	t.Parallel()

	paths, err := filepath.Glob(filepath.Join("..", "..", "pipelines", "*.hcl"))
	require.NoError(t, err)
	require.NotEmpty(t, paths, "expected shipped pipeline definitions under pipelines/")

	for _, path := range paths {
		p, loadErr := Load(path)
		require.NoError(t, loadErr, "shipped pipeline %s must validate", path)
		require.NotEmpty(t, p.Steps)
	}
}

func TestLoadSource_Locals(t *testing.T) {
	t.Parallel()
	src := `
locals {
  image   = "quay.io/example/prokka:1.14"
  gff_dir = "annotation"
}

pipeline "p" {
  step "annotate" {
    image = local.image
    command = ["annotate.py", "--in", "{input.genome}", "--out", "{output.gff}"]
    input "genome" { from = "samples" }
    output "gff" { path = "${local.gff_dir}/{sample}.gff.gz" }
  }
}
`
	p, err := LoadSource(src, "p.hcl")
	require.NoError(t, err)
	require.Equal(t, "quay.io/example/prokka:1.14", p.Steps[0].Image)
	require.Equal(t, "annotation/{sample}.gff.gz", p.Steps[0].Outputs[0].Path)
}

func TestLoadSource_DuplicateLocal(t *testing.T) {
	t.Parallel()
	src := `
locals { image = "a" }
locals { image = "b" }

pipeline "p" {
  step "s" {
    image = local.image
    command = ["x"]
    output "o" { path = "s/{sample}.txt" }
  }
}
`
	_, err := LoadSource(src, "p.hcl")
	require.Error(t, err)
	require.Contains(t, err.Error(), "defined twice")
}

func TestLoadSource_UnknownLocal(t *testing.T) {
	t.Parallel()
	src := `
pipeline "p" {
  step "s" {
    image = local.missing
    command = ["x"]
    output "o" { path = "s/{sample}.txt" }
  }
}
`
	_, err := LoadSource(src, "p.hcl")
	require.Error(t, err)
}
