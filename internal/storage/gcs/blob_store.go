// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Config names the bucket results are archived to.
type Config struct {
	Bucket string
}

// BlobStore archives scrape results in a GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// NewClient opens a storage client. Without options it uses application default
// credentials; STORAGE_EMULATOR_HOST is honored by the client library.
func NewClient(ctx context.Context, opts ...option.ClientOption) (*storage.Client, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return client, nil
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// PutObject uploads a scrape result and returns its gs:// URI. The upload carries a
// CRC32C so GCS rejects a body corrupted in transit.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "/")
	if path == "" {
		return "", errors.New("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CRC32C = crc32.Checksum(data, castagnoli)
	writer.SendCRC32C = true
	// Results are small; one chunk avoids a resumable upload session.
	writer.ChunkSize = 0

	_, writeErr := writer.Write(data)
	closeErr := writer.Close()
	switch {
	case writeErr != nil:
		return "", fmt.Errorf("upload %s: %w", URI(s.bucket, path), errors.Join(writeErr, closeErr))
	case closeErr != nil:
		return "", fmt.Errorf("finalize %s: %w", URI(s.bucket, path), closeErr)
	}
	return URI(s.bucket, path), nil
}

// URI formats the gs:// location of an object.
func URI(bucket, path string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, strings.TrimPrefix(path, "/"))
}
