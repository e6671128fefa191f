// Package objectstore implements the target.Store contract against an
// S3-compatible HTTP endpoint. Objects are addressed as
// <endpoint>/<bucket>/<key>, which is the path-style layout every
// S3-compatible gateway accepts.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/vk/batchflow/internal/ctxlog"
)

// HTTP is a Store backed by plain HTTP calls: HEAD for existence, GET for
// download, PUT for upload.
type HTTP struct {
	endpoint string
	client   *http.Client
}

// NewHTTP returns a store rooted at the given endpoint URL.
func NewHTTP(endpoint string) *HTTP {
	return &HTTP{
		endpoint: strings.TrimRight(endpoint, "/"),
		// One shared client so all transfers reuse TCP connections.
		client: &http.Client{},
	}
}

func (s *HTTP) objectURL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.endpoint + "/" + strings.Join(parts, "/")
}

// Head reports whether the object at key exists. A 404 is a clean miss;
// every other non-2xx status is a transport failure.
func (s *HTTP) Head(ctx context.Context, key string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.objectURL(key), nil)
	if err != nil {
		return false, fmt.Errorf("build HEAD request for '%s': %w", key, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("HEAD '%s': %w", key, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, fmt.Errorf("HEAD '%s' returned unexpected status: %s", key, resp.Status)
	}
}

// Download streams the object at key into w.
func (s *HTTP) Download(ctx context.Context, key string, w io.Writer) error {
	logger := ctxlog.FromContext(ctx).With("key", key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(key), nil)
	if err != nil {
		return fmt.Errorf("build GET request for '%s': %w", key, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET '%s': %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET '%s' failed with status: %s", key, resp.Status)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return fmt.Errorf("stream '%s': %w", key, err)
	}
	logger.Debug("Downloaded object.", "bytes", n)
	return nil
}

// Upload writes size bytes from r to the object at key.
func (s *HTTP) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	logger := ctxlog.FromContext(ctx).With("key", key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.objectURL(key), r)
	if err != nil {
		return fmt.Errorf("build PUT request for '%s': %w", key, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = size

	logger.Debug("Uploading object.", "bytes", size, "contentType", contentType)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("PUT '%s': %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("PUT '%s' failed with status: %s", key, resp.Status)
	}
	return nil
}
