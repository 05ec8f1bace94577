package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingWriter collects written payloads.
type recordingWriter struct {
	mu     sync.Mutex
	writes []string
	err    error
}

func (w *recordingWriter) Write(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.writes = append(w.writes, string(data))
	return nil
}

func (w *recordingWriter) Writes() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.writes...)
}

func TestMailbox_PushAndPump(t *testing.T) {
	m := NewMailbox("peer", 4)
	require.NoError(t, m.Push([]byte("hello\n")))
	require.NoError(t, m.Push([]byte("world\n")))
	require.NoError(t, m.Close())

	w := &recordingWriter{}
	require.NoError(t, m.Pump(context.Background(), w))
	assert.Equal(t, []string{"hello\n", "world\n"}, w.Writes())
}

func TestMailbox_PushClosed(t *testing.T) {
	m := NewMailbox("peer", 4)
	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())
	assert.ErrorIs(t, m.Push([]byte("fail")), ErrMailboxClosed)
}

func TestMailbox_PushFull(t *testing.T) {
	m := NewMailbox("peer", 1)
	require.NoError(t, m.Push([]byte("first")))
	err := m.Push([]byte("overflow"))
	assert.ErrorIs(t, err, ErrMailboxFull)
	assert.Equal(t, 1, m.Pending())
}

func TestMailbox_CloseIdempotent(t *testing.T) {
	m := NewMailbox("peer", 4)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())
}

func TestMailbox_DefaultSize(t *testing.T) {
	m := NewMailbox("peer", 0)
	for i := 0; i < 64; i++ {
		require.NoError(t, m.Push([]byte("x")))
	}
	assert.ErrorIs(t, m.Push([]byte("x")), ErrMailboxFull)
}

func TestMailbox_PumpStopsOnWriteError(t *testing.T) {
	m := NewMailbox("peer", 4)
	require.NoError(t, m.Push([]byte("x")))

	boom := errors.New("broken pipe")
	err := m.Pump(context.Background(), &recordingWriter{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestMailbox_PumpStopsOnCancel(t *testing.T) {
	m := NewMailbox("peer", 4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- m.Pump(ctx, &recordingWriter{})
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not stop after cancel")
	}
}

func TestMailbox_ConcurrentPushAndClose(t *testing.T) {
	m := NewMailbox("peer", 8)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Push([]byte("x"))
		}()
	}
	require.NoError(t, m.Close())
	wg.Wait()
	assert.True(t, m.IsClosed())
}
