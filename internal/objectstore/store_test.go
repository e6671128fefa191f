package objectstore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeGateway is a minimal S3-style HTTP server for store tests.
func fakeGateway(t *testing.T) (*httptest.Server, *sync.Map) {
	t.Helper()
	var objects sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		switch r.Method {
		case http.MethodHead:
			if _, ok := objects.Load(key); !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
		case http.MethodGet:
			data, ok := objects.Load(key)
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(data.([]byte))
		case http.MethodPut:
			data, err := io.ReadAll(r.Body)
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			objects.Store(key, data)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &objects
}

func TestHTTP_HeadDistinguishesMissingFromError(t *testing.T) {
	t.Parallel()
	srv, objects := fakeGateway(t)
	store := NewHTTP(srv.URL)
	ctx := context.Background()

	ok, err := store.Head(ctx, "bucket/reads/S1.fastq.gz")
	require.NoError(t, err)
	require.False(t, ok)

	objects.Store("/bucket/reads/S1.fastq.gz", []byte("x"))

	ok, err = store.Head(ctx, "bucket/reads/S1.fastq.gz")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHTTP_UploadThenDownload(t *testing.T) {
	t.Parallel()
	srv, _ := fakeGateway(t)
	store := NewHTTP(srv.URL)
	ctx := context.Background()

	payload := []byte(">S1 contig\nACGTACGT\n")
	require.NoError(t, store.Upload(ctx, "bucket/assembly/S1.fasta", bytes.NewReader(payload), int64(len(payload))))

	var buf bytes.Buffer
	require.NoError(t, store.Download(ctx, "bucket/assembly/S1.fasta", &buf))
	require.Equal(t, payload, buf.Bytes())
}

func TestHTTP_DownloadMissingObjectFails(t *testing.T) {
	t.Parallel()
	srv, _ := fakeGateway(t)
	store := NewHTTP(srv.URL)

	var buf bytes.Buffer
	err := store.Download(context.Background(), "bucket/nope", &buf)
	require.Error(t, err)
}
