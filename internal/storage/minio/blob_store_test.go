package minio

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeS3 serves just enough of the S3 API for single PUT and GET.
type fakeS3 struct {
	mu   sync.Mutex
	puts []string
	objs map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		_, _ = io.Copy(io.Discard, r.Body)
		f.puts = append(f.puts, r.URL.Path)
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		body, ok := f.objs[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+
				`<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message>`+
				`<Key>`+r.URL.Path+`</Key><BucketName>shots</BucketName></Error>`)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("Last-Modified", time.Unix(1700000000, 0).UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = io.WriteString(w, body)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T, fake *fakeS3) *BlobStore {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	store, err := New(Config{
		Endpoint:  u.Host,
		Bucket:    "shots",
		AccessKey: "access",
		SecretKey: "secret",
		Region:    "us-east-1",
	})
	require.NoError(t, err)
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Bucket: "shots"})
	require.Error(t, err)
	_, err = New(Config{Endpoint: "localhost:9000"})
	require.Error(t, err)
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	fake := &fakeS3{objs: map[string]string{}}
	store := newTestStore(t, fake)

	uri, err := store.PutObject(context.Background(), "screenshots/a.png", "image/png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	require.Equal(t, "s3://shots/screenshots/a.png", uri)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Equal(t, []string{"/shots/screenshots/a.png"}, fake.puts)
}

func TestGetObject(t *testing.T) {
	t.Parallel()

	fake := &fakeS3{objs: map[string]string{"/shots/screenshots/a.png": "png-bytes"}}
	store := newTestStore(t, fake)

	rc, err := store.GetObject(context.Background(), "screenshots/a.png")
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "png-bytes", string(data))

	_, err = store.GetObject(context.Background(), "screenshots/missing.png")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSizedReader(t *testing.T) {
	t.Parallel()

	r, n, err := sizedReader(bytes.NewReader([]byte("abc")))
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "abc", string(data))

	_, n, err = sizedReader(strings.NewReader("hello"))
	require.NoError(t, err)
	require.Equal(t, int64(5), n)
}
