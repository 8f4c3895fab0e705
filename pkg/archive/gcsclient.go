package archive

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
)

// The archiver only ever writes objects, so it talks to GCS through the
// narrow write-path interfaces below. Tests substitute in-memory doubles;
// production wraps the real client with NewGCSClientAdapter.

// GCSClient is the slice of *storage.Client the archiver needs.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle resolves object handles within one bucket.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

// GCSObjectHandle opens a writer for a single object.
type GCSObjectHandle interface {
	NewWriter(ctx context.Context) GCSWriter
}

// GCSWriter is the object write stream. Close commits the upload.
type GCSWriter interface {
	io.WriteCloser
}

// NewGCSClientAdapter wraps a real *storage.Client in the GCSClient interface.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

type gcsClientAdapter struct {
	client *storage.Client
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
	return a.handle.NewWriter(ctx)
}
