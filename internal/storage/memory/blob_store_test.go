package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"ok":true}`)
	uri, err := store.PutObject(context.Background(), "/results/job-1.json", "application/json", payload)
	require.NoError(t, err)
	assert.Equal(t, "memory://results/job-1.json", uri)

	payload[0] = '['
	stored, contentType, ok := store.Object("results/job-1.json")
	require.True(t, ok)
	assert.Equal(t, `{"ok":true}`, string(stored))
	assert.Equal(t, "application/json", contentType)

	stored[0] = '['
	again, _, _ := store.Object("results/job-1.json")
	assert.Equal(t, byte('{'), again[0])
}

func TestBlobStoreOverwriteAndMissing(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	_, err := store.PutObject(ctx, "a.json", "", []byte("1"))
	require.NoError(t, err)
	_, err = store.PutObject(ctx, "a.json", "", []byte("2"))
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())

	data, _, ok := store.Object("a.json")
	require.True(t, ok)
	assert.Equal(t, "2", string(data))

	_, _, ok = store.Object("missing.json")
	assert.False(t, ok)

	_, err = store.PutObject(ctx, "  ", "", nil)
	assert.Error(t, err)
}
