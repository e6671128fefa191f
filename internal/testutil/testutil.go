// Package testutil holds shared doubles and helpers for the engine's tests.
package testutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vk/batchflow/internal/engine"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements io.Writer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements fmt.Stringer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// MemStore is an in-memory target.Store double.
type MemStore struct {
	mu      sync.Mutex
	Objects map[string][]byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{Objects: make(map[string][]byte)}
}

// Put seeds an object directly, as if written by an earlier run.
func (s *MemStore) Put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Objects[key] = data
}

// Head implements target.Store.
func (s *MemStore) Head(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.Objects[key]
	return ok, nil
}

// Download implements target.Store.
func (s *MemStore) Download(ctx context.Context, key string, w io.Writer) error {
	s.mu.Lock()
	data, ok := s.Objects[key]
	s.mu.Unlock()
	if !ok {
		return errors.New("no such key: " + key)
	}
	_, err := w.Write(data)
	return err
}

// Upload implements target.Store.
func (s *MemStore) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Objects[key] = data
	return nil
}

// ScriptedEngine is an engine.Engine double that records job specs and lets
// the test script each job's behavior. By default it touches every path
// under the job's /scratch/out mount so output verification passes.
type ScriptedEngine struct {
	mu    sync.Mutex
	Specs []*engine.JobSpec

	// OnRun, when set, fully controls the job outcome. The scratch
	// argument is the host path bind-mounted at /scratch.
	OnRun func(ctx context.Context, spec *engine.JobSpec, scratch string) (*engine.JobResult, error)

	// Content is written into each expected output file when OnRun is nil.
	Content []byte
}

// Run implements engine.Engine.
func (e *ScriptedEngine) Run(ctx context.Context, spec *engine.JobSpec) (*engine.JobResult, error) {
	e.mu.Lock()
	e.Specs = append(e.Specs, spec)
	e.mu.Unlock()

	scratch := ""
	for _, m := range spec.Mounts {
		if m.ContainerPath == "/scratch" {
			scratch = m.HostPath
			break
		}
	}

	if e.OnRun != nil {
		return e.OnRun(ctx, spec, scratch)
	}

	content := e.Content
	if content == nil {
		content = []byte("ok\n")
	}
	return touchOutputs(spec, scratch, content)
}

// TouchOutputs writes placeholder content into every output path named in
// the job's command, simulating a well-behaved container.
func TouchOutputs(spec *engine.JobSpec, scratch string) (*engine.JobResult, error) {
	return touchOutputs(spec, scratch, []byte("ok\n"))
}

func touchOutputs(spec *engine.JobSpec, scratch string, content []byte) (*engine.JobResult, error) {
	for _, arg := range spec.Command {
		if !strings.HasPrefix(arg, "/scratch/out/") {
			continue
		}
		hostPath := filepath.Join(scratch, strings.TrimPrefix(arg, "/scratch/"))
		if err := writeFile(hostPath, content); err != nil {
			return nil, err
		}
	}
	return &engine.JobResult{ExitCode: 0}, nil
}

// SpecFor returns the recorded spec for the named job, if any.
func (e *ScriptedEngine) SpecFor(name string) (*engine.JobSpec, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.Specs {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}
