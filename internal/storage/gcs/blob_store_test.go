package gcs

import (
	"context"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "results"})
	require.Error(t, err)

	client, err := NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{Bucket: " "})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "results"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "", "application/json", []byte("{}"))
	require.Error(t, err)
}

func TestURI(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "gs://bucket/results/job.json", URI("bucket", "results/job.json"))
	assert.Equal(t, "gs://bucket/job.json", URI("bucket", "/job.json"))
}

func TestCastagnoliChecksum(t *testing.T) {
	t.Parallel()

	// Standard CRC-32C check value.
	assert.Equal(t, uint32(0xE3069283), crc32.Checksum([]byte("123456789"), castagnoli))
}
