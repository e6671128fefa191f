package target

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
)

// Object is a Target backed by a remote object store.
type Object struct {
	uri   string
	store Store
}

// NewObject returns a Target for the given remote URI backed by store.
func NewObject(uri string, store Store) *Object {
	return &Object{uri: uri, store: store}
}

// URI returns the remote object URI.
func (o *Object) URI() string { return o.uri }

// LocalPath never succeeds for an object target; callers materialize the
// object into scratch space instead.
func (o *Object) LocalPath() (string, bool) { return "", false }

// Key returns the store key portion of the URI (scheme stripped).
func (o *Object) Key() string {
	return strings.TrimPrefix(o.uri, remoteScheme)
}

// Exists issues a HEAD against the backing store on every call.
func (o *Object) Exists(ctx context.Context) (bool, error) {
	ok, err := o.store.Head(ctx, o.Key())
	if err != nil {
		return false, fmt.Errorf("head %s: %w", o.uri, err)
	}
	return ok, nil
}

// Open streams the remote object. The full download completes before the
// reader is handed back so that the store connection is released promptly.
func (o *Object) Open(ctx context.Context) (io.ReadCloser, error) {
	var buf bytes.Buffer
	if err := o.store.Download(ctx, o.Key(), &buf); err != nil {
		return nil, fmt.Errorf("download %s: %w", o.uri, err)
	}
	return io.NopCloser(&buf), nil
}

// Create buffers writes locally and uploads the object on Close. Nothing is
// visible at the remote location until the upload succeeds.
func (o *Object) Create(ctx context.Context) (io.WriteCloser, error) {
	return &objectWriter{ctx: ctx, obj: o}, nil
}

// Materialize copies the remote object into w, typically a scratch file.
func (o *Object) Materialize(ctx context.Context, w io.Writer) error {
	if err := o.store.Download(ctx, o.Key(), w); err != nil {
		return fmt.Errorf("materialize %s: %w", o.uri, err)
	}
	return nil
}

// Publish uploads size bytes from r to the object's final location.
func (o *Object) Publish(ctx context.Context, r io.Reader, size int64) error {
	if err := o.store.Upload(ctx, o.Key(), r, size); err != nil {
		return fmt.Errorf("publish %s: %w", o.uri, err)
	}
	return nil
}

type objectWriter struct {
	ctx context.Context
	obj *Object
	buf bytes.Buffer
}

func (w *objectWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *objectWriter) Close() error {
	return w.obj.Publish(w.ctx, &w.buf, int64(w.buf.Len()))
}
