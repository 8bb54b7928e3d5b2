package archive_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/illmade-knight/go-gateway-batcher/pkg/archive"
	"github.com/illmade-knight/go-gateway-batcher/pkg/framecodec"
	"github.com/illmade-knight/go-gateway-batcher/pkg/messagepipeline"
	"github.com/illmade-knight/go-gateway-batcher/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockWriter is an in-memory object writer.
type mockWriter struct {
	buf      bytes.Buffer
	closed   bool
	closeErr error
}

func (m *mockWriter) Write(p []byte) (int, error) {
	if m.closed {
		return 0, errors.New("write on closed writer")
	}
	return m.buf.Write(p)
}

func (m *mockWriter) Close() error {
	if m.closed {
		return errors.New("already closed")
	}
	m.closed = true
	return m.closeErr
}

// mockStore records every object written, keyed by bucket/object.
type mockStore struct {
	mu       sync.Mutex
	objects  map[string]*mockWriter
	closeErr error
}

func (m *mockStore) NewWriter(_ context.Context, bucket, object string) io.WriteCloser {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string]*mockWriter)
	}
	w := &mockWriter{closeErr: m.closeErr}
	m.objects[bucket+"/"+object] = w
	return w
}

func frame(mac string) types.GatewayMessage {
	return types.GatewayMessage{
		Properties: types.NewProperties(
			types.Property{Key: types.PropMacAddress, Value: mac},
			types.Property{Key: types.PropBatched, Value: true},
		),
		Content: []byte(`[{"content":[1,2]}]`),
	}
}

func TestFrameArchiver_ArchivesFramesAndForwards(t *testing.T) {
	store := &mockStore{}
	bus := messagepipeline.NewInMemoryBus(10)
	archiver, err := archive.NewFrameArchiver(store, bus, archive.Config{BucketName: "frames", ObjectPrefix: "gateway"}, zerolog.Nop())
	require.NoError(t, err)

	original := frame("01:01:01")
	require.NoError(t, archiver.Publish(context.Background(), original))

	unbatched := types.GatewayMessage{
		Properties: types.NewProperties(types.Property{Key: types.PropMacAddress, Value: "01:01:01"}),
		Content:    []byte("raw"),
	}
	require.NoError(t, archiver.Publish(context.Background(), unbatched))

	require.Len(t, bus.Published(), 2, "everything is forwarded")
	require.Len(t, store.objects, 1, "only the frame is archived")

	for name, w := range store.objects {
		assert.True(t, strings.HasPrefix(name, "frames/gateway/01:01:01/"))
		assert.True(t, strings.HasSuffix(name, ".json.gz"))
		assert.True(t, w.closed)

		gz, err := gzip.NewReader(&w.buf)
		require.NoError(t, err)
		data, err := io.ReadAll(gz)
		require.NoError(t, err)
		stored, err := framecodec.DecodeMessage(data)
		require.NoError(t, err)
		assert.True(t, original.Equal(stored))
	}
}

func TestFrameArchiver_ArchiveAll(t *testing.T) {
	store := &mockStore{}
	bus := messagepipeline.NewInMemoryBus(10)
	archiver, err := archive.NewFrameArchiver(store, bus, archive.Config{BucketName: "b", ArchiveAll: true}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, archiver.Publish(context.Background(), types.GatewayMessage{Content: []byte("x")}))
	require.Len(t, store.objects, 1)
	for name := range store.objects {
		assert.True(t, strings.HasPrefix(name, "b/unidentified/"))
	}
}

func TestFrameArchiver_UploadFailureStillForwards(t *testing.T) {
	store := &mockStore{closeErr: errors.New("bucket not found")}
	bus := messagepipeline.NewInMemoryBus(10)
	archiver, err := archive.NewFrameArchiver(store, bus, archive.Config{BucketName: "b"}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, archiver.Publish(context.Background(), frame("aa")))
	assert.Len(t, bus.Published(), 1)
}

func TestFrameArchiver_ForwardErrorIsReturned(t *testing.T) {
	forwardErr := errors.New("bus down")
	next := messagepipeline.PublisherFunc(func(context.Context, types.GatewayMessage) error { return forwardErr })
	archiver, err := archive.NewFrameArchiver(&mockStore{}, next, archive.Config{BucketName: "b"}, zerolog.Nop())
	require.NoError(t, err)

	assert.ErrorIs(t, archiver.Publish(context.Background(), frame("aa")), forwardErr)
}

func TestFrameArchiver_ObjectName(t *testing.T) {
	archiver, err := archive.NewFrameArchiver(&mockStore{}, messagepipeline.NewInMemoryBus(1), archive.Config{BucketName: "b", ObjectPrefix: "p"}, zerolog.Nop())
	require.NoError(t, err)

	byDevice := types.NewProperties(types.Property{Key: types.PropDeviceID, Value: "dev-1"})
	assert.Equal(t, "p/dev-1/id.json.gz", archiver.ObjectName(byDevice, "id"))
	assert.Equal(t, "p/unidentified/id.json.gz", archiver.ObjectName(nil, "id"))
}

func TestNewFrameArchiver_Validation(t *testing.T) {
	bus := messagepipeline.NewInMemoryBus(1)
	_, err := archive.NewFrameArchiver(nil, bus, archive.Config{BucketName: "b"}, zerolog.Nop())
	assert.Error(t, err)
	_, err = archive.NewFrameArchiver(&mockStore{}, nil, archive.Config{BucketName: "b"}, zerolog.Nop())
	assert.Error(t, err)
	_, err = archive.NewFrameArchiver(&mockStore{}, bus, archive.Config{}, zerolog.Nop())
	assert.Error(t, err)
}
