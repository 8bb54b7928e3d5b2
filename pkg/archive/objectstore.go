package archive

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
)

// ObjectStore opens writers for objects in a bucket. It is satisfied by the
// GCS adapter below and by in-memory fakes in tests.
type ObjectStore interface {
	NewWriter(ctx context.Context, bucket, object string) io.WriteCloser
}

// gcsObjectStore wraps a *storage.Client to satisfy ObjectStore.
type gcsObjectStore struct {
	client *storage.Client
}

// NewGCSObjectStore makes a Cloud Storage client usable as an ObjectStore.
func NewGCSObjectStore(client *storage.Client) ObjectStore {
	if client == nil {
		return nil
	}
	return &gcsObjectStore{client: client}
}

// NewWriter returns a *storage.Writer for the object. Nothing is uploaded
// until the writer is closed.
func (s *gcsObjectStore) NewWriter(ctx context.Context, bucket, object string) io.WriteCloser {
	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/json"
	return w
}
