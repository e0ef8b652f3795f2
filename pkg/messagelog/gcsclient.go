package messagelog

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
)

// --- GCS Client Abstraction Interfaces ---

// GCSClient abstracts the top-level *storage.Client.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle abstracts a *storage.BucketHandle.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

// GCSObjectHandle abstracts a *storage.ObjectHandle.
type GCSObjectHandle interface {
	NewWriter(ctx context.Context) GCSWriter
}

// GCSWriter abstracts a *storage.Writer.
type GCSWriter interface {
	io.WriteCloser
}

// --- Adapters to wrap the concrete Google Cloud Storage client ---

type gcsClientAdapter struct {
	client *storage.Client
}

// NewGCSClientAdapter makes a *storage.Client conform to GCSClient.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketHandleAdapter struct {
	handle *storage.BucketHandle
}

func (a *gcsBucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Object(name)}
}

type gcsObjectHandleAdapter struct {
	handle *storage.ObjectHandle
}

func (a *gcsObjectHandleAdapter) NewWriter(ctx context.Context) GCSWriter {
	w := a.handle.NewWriter(ctx)
	w.ContentType = "application/x-ndjson"
	w.ContentEncoding = "gzip"
	return w
}
