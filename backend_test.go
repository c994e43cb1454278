package celamqp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/switchkit/celamqp/cel"
)

// Mock Publisher
type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	args := m.Called(ctx, exchange, routingKey, body)
	return args.Error(0)
}

func (m *mockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// fakeSource hands out a fixed sequence of publishers.
type fakeSource struct {
	mu         sync.Mutex
	publishers []Publisher
	err        error
	opened     []string
}

func (s *fakeSource) Open(ctx context.Context, name string) (Publisher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opened = append(s.opened, name)
	if s.err != nil {
		return nil, s.err
	}

	pub := s.publishers[0]
	if len(s.publishers) > 1 {
		s.publishers = s.publishers[1:]
	}
	return pub, nil
}

func writeBackendConfig(t *testing.T, path, connection, queue, exchange string) {
	t.Helper()
	content := fmt.Sprintf(`
connections:
  default:
    url: amqp://localhost:5672/
  billing:
    url: amqp://broker:5672/
cel:
  connection: %q
  queue: %q
  exchange: %q
`, connection, queue, exchange)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func testRecord() *cel.Record {
	return &cel.Record{
		EventType: cel.Answer,
		UniqueID:  "1552555613.42",
		LinkedID:  "1552555613.42",
		Extension: "100",
		EventTime: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
	}
}

func TestNewBackend(t *testing.T) {
	t.Run("requires a connection source", func(t *testing.T) {
		_, err := NewBackend("cel_amqp.yaml", nil)
		assert.Error(t, err)
	})

	t.Run("defaults and options", func(t *testing.T) {
		b, err := NewBackend("cel_amqp.yaml", &fakeSource{})
		require.NoError(t, err)
		assert.Equal(t, BackendName, b.Name())

		b, err = NewBackend("cel_amqp.yaml", &fakeSource{}, WithBackendName("AMQP-alt"))
		require.NoError(t, err)
		assert.Equal(t, "AMQP-alt", b.Name())
	})
}

func TestBackendLoad(t *testing.T) {
	t.Run("installs the first snapshot", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cel_amqp.yaml")
		writeBackendConfig(t, path, "billing", "call_events", "telephony")

		pub := &mockPublisher{}
		source := &fakeSource{publishers: []Publisher{pub}}
		b, err := NewBackend(path, source)
		require.NoError(t, err)

		require.NoError(t, b.Load(context.Background()))

		status := b.Status()
		assert.True(t, status.Loaded)
		assert.Equal(t, "billing", status.Connection)
		assert.Equal(t, "call_events", status.Queue)
		assert.Equal(t, "telephony", status.Exchange)
		assert.Equal(t, []string{"billing"}, source.opened)
	})

	t.Run("declines to load on missing file", func(t *testing.T) {
		source := &fakeSource{publishers: []Publisher{&mockPublisher{}}}
		b, err := NewBackend(filepath.Join(t.TempDir(), "missing.yaml"), source)
		require.NoError(t, err)

		assert.Error(t, b.Load(context.Background()))
		assert.False(t, b.Status().Loaded)
		assert.Empty(t, source.opened)
	})

	t.Run("declines to load when connection acquisition fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cel_amqp.yaml")
		writeBackendConfig(t, path, "default", "asterisk_cel", "")

		source := &fakeSource{err: fmt.Errorf("broker unreachable")}
		b, err := NewBackend(path, source)
		require.NoError(t, err)

		err = b.Load(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "could not get AMQP connection")
		assert.False(t, b.Status().Loaded)
	})
}

func TestBackendHandleEvent(t *testing.T) {
	t.Run("publishes the formatted document to the configured routing", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cel_amqp.yaml")
		writeBackendConfig(t, path, "default", "asterisk_cel", "telephony")

		pub := &mockPublisher{}
		pub.On("Publish", mock.Anything, "telephony", "asterisk_cel", mock.Anything).Return(nil)

		b, err := NewBackend(path, &fakeSource{publishers: []Publisher{pub}})
		require.NoError(t, err)
		require.NoError(t, b.Load(context.Background()))

		require.NoError(t, b.HandleEvent(context.Background(), testRecord()))

		pub.AssertExpectations(t)
		body := pub.Calls[0].Arguments[3].([]byte)
		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &doc))
		assert.Equal(t, "ANSWER", doc["event_name"])
		assert.Equal(t, "1552555613.42", doc["unique_id"])
	})

	t.Run("fails when backend is not loaded", func(t *testing.T) {
		b, err := NewBackend("cel_amqp.yaml", &fakeSource{})
		require.NoError(t, err)

		err = b.HandleEvent(context.Background(), testRecord())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not loaded")
	})

	t.Run("drops the event on formatting error without publishing", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cel_amqp.yaml")
		writeBackendConfig(t, path, "default", "asterisk_cel", "")

		pub := &mockPublisher{}
		b, err := NewBackend(path, &fakeSource{publishers: []Publisher{pub}})
		require.NoError(t, err)
		require.NoError(t, b.Load(context.Background()))

		rec := testRecord()
		rec.EventType = cel.EventType(999)

		err = b.HandleEvent(context.Background(), rec)
		require.Error(t, err)
		assert.ErrorIs(t, err, cel.ErrUnknownEventType)
		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("returns publish failures to the caller", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cel_amqp.yaml")
		writeBackendConfig(t, path, "default", "asterisk_cel", "")

		pub := &mockPublisher{}
		pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(fmt.Errorf("write failure"))

		b, err := NewBackend(path, &fakeSource{publishers: []Publisher{pub}})
		require.NoError(t, err)
		require.NoError(t, b.Load(context.Background()))

		err = b.HandleEvent(context.Background(), testRecord())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to publish")
	})
}

func TestBackendReload(t *testing.T) {
	t.Run("swaps in the new snapshot and closes the old publisher", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cel_amqp.yaml")
		writeBackendConfig(t, path, "default", "asterisk_cel", "")

		oldPub := &mockPublisher{}
		oldPub.On("Close").Return(nil)
		newPub := &mockPublisher{}

		b, err := NewBackend(path, &fakeSource{publishers: []Publisher{oldPub, newPub}})
		require.NoError(t, err)
		require.NoError(t, b.Load(context.Background()))

		writeBackendConfig(t, path, "billing", "call_events", "telephony")
		require.NoError(t, b.Reload(context.Background()))

		status := b.Status()
		assert.Equal(t, "billing", status.Connection)
		assert.Equal(t, "call_events", status.Queue)
		assert.Equal(t, "telephony", status.Exchange)
		oldPub.AssertCalled(t, "Close")
	})

	t.Run("keeps the previous snapshot when the new config is invalid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cel_amqp.yaml")
		writeBackendConfig(t, path, "default", "asterisk_cel", "")

		pub := &mockPublisher{}
		pub.On("Publish", mock.Anything, "", "asterisk_cel", mock.Anything).Return(nil)

		b, err := NewBackend(path, &fakeSource{publishers: []Publisher{pub}})
		require.NoError(t, err)
		require.NoError(t, b.Load(context.Background()))

		writeBackendConfig(t, path, "nonexistent", "asterisk_cel", "")
		require.Error(t, b.Reload(context.Background()))

		// Old generation stays active and keeps publishing.
		status := b.Status()
		assert.True(t, status.Loaded)
		assert.Equal(t, "default", status.Connection)
		assert.NoError(t, b.HandleEvent(context.Background(), testRecord()))
		pub.AssertNotCalled(t, "Close")
	})

	t.Run("keeps the previous snapshot when connection acquisition fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cel_amqp.yaml")
		writeBackendConfig(t, path, "default", "asterisk_cel", "")

		pub := &mockPublisher{}
		source := &fakeSource{publishers: []Publisher{pub}}

		b, err := NewBackend(path, source)
		require.NoError(t, err)
		require.NoError(t, b.Load(context.Background()))

		source.mu.Lock()
		source.err = fmt.Errorf("broker unreachable")
		source.mu.Unlock()

		require.Error(t, b.Reload(context.Background()))
		assert.True(t, b.Status().Loaded)
		pub.AssertNotCalled(t, "Close")
	})
}

func TestBackendUnload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cel_amqp.yaml")
	writeBackendConfig(t, path, "default", "asterisk_cel", "")

	pub := &mockPublisher{}
	pub.On("Close").Return(nil)

	b, err := NewBackend(path, &fakeSource{publishers: []Publisher{pub}})
	require.NoError(t, err)
	require.NoError(t, b.Load(context.Background()))

	require.NoError(t, b.Unload())
	assert.False(t, b.Status().Loaded)
	pub.AssertCalled(t, "Close")

	// Unloading twice is a no-op.
	assert.NoError(t, b.Unload())

	err = b.HandleEvent(context.Background(), testRecord())
	assert.Error(t, err)
}

// recordingPublisher captures every (exchange, routingKey) pair it is asked
// to publish.
type recordingPublisher struct {
	mu    sync.Mutex
	pairs [][2]string
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pairs = append(p.pairs, [2]string{exchange, routingKey})
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestBackendSnapshotConsistencyUnderReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cel_amqp.yaml")
	writeBackendConfig(t, path, "default", "queue-a", "ex-a")

	pub := &recordingPublisher{}
	b, err := NewBackend(path, &fakeSource{publishers: []Publisher{pub}})
	require.NoError(t, err)
	require.NoError(t, b.Load(context.Background()))

	configA := []byte("connections:\n  default:\n    url: amqp://localhost:5672/\ncel:\n  queue: queue-a\n  exchange: ex-a\n")
	configB := []byte("connections:\n  default:\n    url: amqp://localhost:5672/\ncel:\n  queue: queue-b\n  exchange: ex-b\n")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			content := configA
			if i%2 == 0 {
				content = configB
			}
			if err := os.WriteFile(path, content, 0o644); err != nil {
				return
			}
			_ = b.Reload(context.Background())
		}
	}()

	for i := 0; i < 200; i++ {
		_ = b.HandleEvent(context.Background(), testRecord())
	}
	<-done

	// Every publish must have used one complete snapshot: the exchange and
	// routing key always belong to the same configuration generation.
	pub.mu.Lock()
	defer pub.mu.Unlock()
	for _, pair := range pub.pairs {
		ok := (pair[0] == "ex-a" && pair[1] == "queue-a") ||
			(pair[0] == "ex-b" && pair[1] == "queue-b")
		assert.True(t, ok, "mixed snapshot observed: exchange=%q routingKey=%q", pair[0], pair[1])
	}
}
