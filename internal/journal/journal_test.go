package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/islemulti/internal/observability"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *memSink) Append(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, events...)
	return nil
}

func (s *memSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	r.Record(Event{Kind: KindJoin})
}

func TestRecorder_FillsIDAndTime(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink, 4, zaptest.NewLogger(t), nil)
	r.Record(Event{Kind: KindConnect, ConnID: "127.0.0.1:5000"})

	ev := <-r.events
	assert.NotEqual(t, uuid.Nil, ev.ID)
	assert.False(t, ev.At.IsZero())
	assert.Equal(t, KindConnect, ev.Kind)
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	metrics := observability.NewMetrics()
	r := NewRecorder(&memSink{}, 1, zaptest.NewLogger(t), metrics)
	r.Record(Event{Kind: KindJoin})
	r.Record(Event{Kind: KindMove})

	assert.Equal(t, int64(1), metrics.Snapshot()["journal_dropped"])
}

func TestRecorder_RunWritesInOrder(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink, 16, zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	for _, k := range []Kind{KindConnect, KindJoin, KindMove, KindDisconnect} {
		r.Record(Event{Kind: k, Name: "Alice"})
	}

	require.Eventually(t, func() bool { return len(sink.Events()) == 4 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	var kinds []Kind
	for _, ev := range sink.Events() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []Kind{KindConnect, KindJoin, KindMove, KindDisconnect}, kinds)
}

func TestRecorder_FlushesOnCancel(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink, 16, zaptest.NewLogger(t), nil)
	r.Record(Event{Kind: KindJoin})
	r.Record(Event{Kind: KindMove})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))
	assert.Len(t, sink.Events(), 2)
}

func TestRecorder_SinkErrorDoesNotStopRun(t *testing.T) {
	sink := &memSink{err: errors.New("database unavailable")}
	r := NewRecorder(sink, 16, zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.Record(Event{Kind: KindJoin})
	require.Eventually(t, func() bool { return len(r.events) == 0 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
