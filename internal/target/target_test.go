package target

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store double for exercising Object targets.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	headErr error
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) Head(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headErr != nil {
		return false, s.headErr
	}
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memStore) Download(ctx context.Context, key string, w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return errors.New("no such key: " + key)
	}
	_, err := w.Write(data)
	return err
}

func (s *memStore) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func TestParse_SchemeSelectsTargetKind(t *testing.T) {
	t.Parallel()
	store := newMemStore()

	remote := Parse("s3://bucket/reads/S1.fastq.gz", store)
	_, ok := remote.(*Object)
	require.True(t, ok, "s3 URI should produce an Object target")

	local := Parse("/data/reads/S1.fastq.gz", store)
	_, ok = local.(*File)
	require.True(t, ok, "plain path should produce a File target")
}

func TestFile_ExistsIsLazy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.fasta")
	f := NewFile(path)

	ok, err := f.Exists(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	// Written behind the target's back, e.g. by a previous run.
	require.NoError(t, os.WriteFile(path, []byte(">contig1\nACGT\n"), 0o644))

	ok, err = f.Exists(ctx)
	require.NoError(t, err)
	require.True(t, ok, "existence must be re-checked, never cached")
}

func TestFile_CreateIsAtomic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "out.gff")
	f := NewFile(path)

	w, err := f.Create(ctx)
	require.NoError(t, err)
	_, err = w.Write([]byte("##gff-version 3\n"))
	require.NoError(t, err)

	// Not visible until Close.
	ok, err := f.Exists(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, w.Close())

	ok, err = f.Exists(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	r, err := f.Open(ctx)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "##gff-version 3\n", string(data))
}

func TestObject_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	obj := NewObject("s3://bucket/assembly/S1.fasta.gz", store)

	ok, err := obj.Exists(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	w, err := obj.Create(ctx)
	require.NoError(t, err)
	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	ok, err = obj.Exists(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	var buf bytes.Buffer
	require.NoError(t, obj.Materialize(ctx, &buf))
	require.Equal(t, "payload", buf.String())
}

func TestObject_HeadTransportFailureIsAnError(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.headErr = errors.New("connection refused")
	obj := NewObject("s3://bucket/k", store)

	_, err := obj.Exists(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection refused")
}
