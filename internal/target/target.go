// Package target provides handles to storage locations. A Target stands in
// for a build artifact: a task is complete exactly when every one of its
// output targets exists, so existence is the engine's only completion signal.
package target

import (
	"context"
	"io"
	"strings"
)

// Target is a handle to a single storage location, local or remote.
//
// A Target's URI is fixed at construction time and is a pure function of
// task parameters, never of execution-time side effects. Existence is
// queried lazily on every call so that objects written by an earlier run,
// or by another process, are detected.
type Target interface {
	// URI returns the opaque location identifier for this target.
	URI() string

	// Exists reports whether the underlying location holds an object.
	// A missing object is (false, nil); only transport or permission
	// failures return an error.
	Exists(ctx context.Context) (bool, error)

	// Open acquires a reader for the target's content.
	Open(ctx context.Context) (io.ReadCloser, error)

	// Create acquires a writer for the target's content. The write is
	// atomic: the target does not exist until Close returns nil.
	Create(ctx context.Context) (io.WriteCloser, error)

	// LocalPath returns the concrete filesystem path and true when the
	// target is directly readable on the local host.
	LocalPath() (string, bool)
}

// Store is the pluggable remote backend behind Object targets.
type Store interface {
	// Head reports whether the object at key exists.
	Head(ctx context.Context, key string) (bool, error)

	// Download streams the object at key into w.
	Download(ctx context.Context, key string, w io.Writer) error

	// Upload writes size bytes from r to the object at key.
	Upload(ctx context.Context, key string, r io.Reader, size int64) error
}

// remoteScheme is the URI prefix that selects an Object target.
const remoteScheme = "s3://"

// Parse maps a URI onto a concrete Target. URIs with the s3:// scheme
// become Object targets backed by store; everything else is treated as a
// local filesystem path.
func Parse(uri string, store Store) Target {
	if strings.HasPrefix(uri, remoteScheme) {
		return NewObject(uri, store)
	}
	return NewFile(uri)
}

// IsRemote reports whether uri names a remote object rather than a local path.
func IsRemote(uri string) bool {
	return strings.HasPrefix(uri, remoteScheme)
}
