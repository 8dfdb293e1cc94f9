package memory

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "screenshots/page.png", "image/png", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://screenshots/page.png", uri)

	payload[0] = 'C'
	rc, err := store.GetObject(context.Background(), "screenshots/page.png")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "content", string(got))
	require.Equal(t, 1, store.Len())
}

func TestBlobStoreGetMissing(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.GetObject(context.Background(), "missing.png")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.PutObject(context.Background(), "", "image/png", bytes.NewReader(nil))
	require.Error(t, err)
}
