package archive

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

// --- Mock GCS Client Components ---

// mockGCSWriter writes to an in-memory buffer.
type mockGCSWriter struct {
	buf    bytes.Buffer
	closed bool
}

func (m *mockGCSWriter) Write(p []byte) (n int, err error) {
	if m.closed {
		return 0, errors.New("write on closed writer")
	}
	return m.buf.Write(p)
}

func (m *mockGCSWriter) Close() error {
	if m.closed {
		return errors.New("already closed")
	}
	m.closed = true
	return nil
}

func (m *mockGCSWriter) Bytes() []byte { return m.buf.Bytes() }

type mockGCSObjectHandle struct {
	writer *mockGCSWriter
}

func (m *mockGCSObjectHandle) NewWriter(_ context.Context) GCSWriter {
	if m.writer == nil {
		m.writer = &mockGCSWriter{}
	}
	return m.writer
}

// mockGCSBucketHandle stores created objects in a map.
type mockGCSBucketHandle struct {
	sync.Mutex
	objects map[string]*mockGCSObjectHandle
}

func (m *mockGCSBucketHandle) Object(name string) GCSObjectHandle {
	m.Lock()
	defer m.Unlock()
	if m.objects == nil {
		m.objects = make(map[string]*mockGCSObjectHandle)
	}
	if _, ok := m.objects[name]; !ok {
		m.objects[name] = &mockGCSObjectHandle{}
	}
	return m.objects[name]
}

type mockGCSClient struct {
	bucket *mockGCSBucketHandle
}

func newMockGCSClient() *mockGCSClient {
	return &mockGCSClient{bucket: &mockGCSBucketHandle{}}
}

func (m *mockGCSClient) Bucket(_ string) GCSBucketHandle {
	return m.bucket
}
