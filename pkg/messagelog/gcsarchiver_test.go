package messagelog_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/illmade-knight/go-busrelay/pkg/messagelog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGCSArchiver_Validation(t *testing.T) {
	_, err := messagelog.NewGCSArchiver(nil, messagelog.GCSArchiverConfig{BucketName: "b"}, zerolog.Nop())
	assert.Error(t, err)

	_, err = messagelog.NewGCSArchiver(newMockGCSClient(false), messagelog.GCSArchiverConfig{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestGCSArchiver_UploadsOnBatchSizeAndClose(t *testing.T) {
	// Arrange
	ctx := context.Background()
	client := newMockGCSClient(false)
	archiver, err := messagelog.NewGCSArchiver(client, messagelog.GCSArchiverConfig{
		BucketName:   "relay-archive",
		ObjectPrefix: "messages",
		BatchSize:    2,
	}, zerolog.Nop())
	require.NoError(t, err)

	// Act
	archiver.LogMessage(ctx, "orders", testMessage("msg-1", "one"))
	archiver.LogMessage(ctx, "orders", testMessage("msg-2", "two"))
	archiver.LogMessage(ctx, "orders", testMessage("msg-3", "three"))

	// Assert: the first two were uploaded as soon as the batch filled.
	client.bucket.mu.Lock()
	require.Len(t, client.bucket.objects, 1)
	client.bucket.mu.Unlock()

	require.NoError(t, archiver.Close(ctx))

	client.bucket.mu.Lock()
	defer client.bucket.mu.Unlock()
	require.Len(t, client.bucket.objects, 2)

	var ids []string
	for name, obj := range client.bucket.objects {
		assert.True(t, strings.HasPrefix(name, "messages/"), "unexpected object name %s", name)
		assert.True(t, strings.HasSuffix(name, ".jsonl.gz"))
		require.True(t, obj.writer.closed)

		gz, err := gzip.NewReader(bytes.NewReader(obj.writer.buf.Bytes()))
		require.NoError(t, err)
		content, err := io.ReadAll(gz)
		require.NoError(t, err)
		for _, line := range bytes.Split(bytes.TrimSpace(content), []byte("\n")) {
			var rec messagelog.Record
			require.NoError(t, json.Unmarshal(line, &rec))
			ids = append(ids, rec.MessageID)
		}
	}
	assert.ElementsMatch(t, []string{"msg-1", "msg-2", "msg-3"}, ids)
}

func TestGCSArchiver_CloseWithNothingBuffered(t *testing.T) {
	client := newMockGCSClient(false)
	archiver, err := messagelog.NewGCSArchiver(client, messagelog.GCSArchiverConfig{BucketName: "b"}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, archiver.Close(context.Background()))
	assert.Empty(t, client.bucket.objects)
}

func TestGCSArchiver_CloseReportsUploadError(t *testing.T) {
	client := newMockGCSClient(true)
	archiver, err := messagelog.NewGCSArchiver(client, messagelog.GCSArchiverConfig{BucketName: "b", BatchSize: 10}, zerolog.Nop())
	require.NoError(t, err)

	archiver.LogMessage(context.Background(), "orders", testMessage("msg-1", "one"))
	err = archiver.Close(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to close GCS object writer")
}
