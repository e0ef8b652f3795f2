package messagelog_test

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/illmade-knight/go-busrelay/pkg/messagelog"
	"github.com/illmade-knight/go-busrelay/pkg/types"
)

// --- Mock GCS Client Components ---

type mockGCSWriter struct {
	buf    bytes.Buffer
	closed bool
	fail   bool
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
	if m.fail {
		return errors.New("simulated GCS close error")
	}
	return nil
}

type mockGCSObjectHandle struct {
	writer *mockGCSWriter
	fail   bool
}

func (m *mockGCSObjectHandle) NewWriter(_ context.Context) messagelog.GCSWriter {
	if m.writer == nil {
		m.writer = &mockGCSWriter{fail: m.fail}
	}
	return m.writer
}

type mockGCSBucketHandle struct {
	mu      sync.Mutex
	objects map[string]*mockGCSObjectHandle
	fail    bool
}

func (m *mockGCSBucketHandle) Object(name string) messagelog.GCSObjectHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string]*mockGCSObjectHandle)
	}
	if _, ok := m.objects[name]; !ok {
		m.objects[name] = &mockGCSObjectHandle{fail: m.fail}
	}
	return m.objects[name]
}

type mockGCSClient struct {
	bucket *mockGCSBucketHandle
}

func newMockGCSClient(fail bool) *mockGCSClient {
	return &mockGCSClient{bucket: &mockGCSBucketHandle{fail: fail}}
}

func (m *mockGCSClient) Bucket(_ string) messagelog.GCSBucketHandle {
	return m.bucket
}

// --- Mock BigQuery inserter ---

type mockInserter struct {
	mu      sync.Mutex
	batches [][]*messagelog.Record
	err     error
	closed  bool
}

func (m *mockInserter) InsertBatch(_ context.Context, items []*messagelog.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, items)
	return nil
}

func (m *mockInserter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockInserter) getBatches() [][]*messagelog.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches
}

// --- Mock message logger ---

type recordingLogger struct {
	entities []string
	closed   bool
	closeErr error
}

func (r *recordingLogger) LogMessage(_ context.Context, entity string, _ *types.ReceivedMessage) {
	r.entities = append(r.entities, entity)
}

func (r *recordingLogger) Close(context.Context) error {
	r.closed = true
	return r.closeErr
}

func testMessage(id string, body string) *types.ReceivedMessage {
	return &types.ReceivedMessage{
		PublishMessage: types.PublishMessage{
			ID:         id,
			Payload:    []byte(body),
			Attributes: map[string]string{"source": "test"},
		},
	}
}
