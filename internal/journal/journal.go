// Package journal records session lifecycle events to an external sink
// without slowing down the connection handlers.
package journal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/islemulti/internal/game/entity"
	"github.com/cory-johannsen/islemulti/internal/observability"
)

// Kind classifies a journal event.
type Kind string

const (
	KindConnect    Kind = "connect"
	KindJoin       Kind = "join"
	KindMove       Kind = "move"
	KindDisconnect Kind = "disconnect"
)

// maxBatch bounds the number of events handed to the sink in one call.
const maxBatch = 128

// flushTimeout bounds the final flush after Run's context is cancelled.
const flushTimeout = 5 * time.Second

// Event is one recorded session occurrence.
type Event struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	ConnID    string
	Kind      Kind
	Name      string
	Position  entity.Position
	Direction entity.Direction
	At        time.Time
}

// Sink stores batches of events. Append must not retain the slice.
type Sink interface {
	Append(ctx context.Context, events []Event) error
}

// Recorder queues events in memory and writes them to a Sink from a single
// background goroutine. A nil *Recorder discards everything.
type Recorder struct {
	sink    Sink
	events  chan Event
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewRecorder creates a Recorder that buffers up to bufferSize events.
//
// Precondition: sink and logger must be non-nil; bufferSize must be >= 1.
// Postcondition: Returns a Recorder; events are only written once Run is started.
func NewRecorder(sink Sink, bufferSize int, logger *zap.Logger, metrics *observability.Metrics) *Recorder {
	return &Recorder{
		sink:    sink,
		events:  make(chan Event, bufferSize),
		logger:  logger,
		metrics: metrics,
	}
}

// Record enqueues ev without blocking. ID and At are filled in when zero.
// The event is dropped when the buffer is full.
func (r *Recorder) Record(ev Event) {
	if r == nil {
		return
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case r.events <- ev:
	default:
		r.metrics.JournalDropped()
	}
}

// Run writes queued events to the sink until ctx is cancelled, then flushes
// what is still queued.
//
// Postcondition: Returns nil once ctx is done and the final flush has been attempted.
func (r *Recorder) Run(ctx context.Context) error {
	batch := make([]Event, 0, maxBatch)
	for {
		select {
		case <-ctx.Done():
			r.flush(batch[:0])
			return nil
		case ev := <-r.events:
			batch = append(batch[:0], ev)
			batch = r.drain(batch)
			r.write(ctx, batch)
		}
	}
}

// drain appends already-queued events to batch without blocking.
func (r *Recorder) drain(batch []Event) []Event {
	for len(batch) < maxBatch {
		select {
		case ev := <-r.events:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

func (r *Recorder) flush(batch []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		batch = r.drain(batch[:0])
		if len(batch) == 0 {
			return
		}
		r.write(ctx, batch)
	}
}

func (r *Recorder) write(ctx context.Context, batch []Event) {
	if err := r.sink.Append(ctx, batch); err != nil {
		r.logger.Warn("writing journal events",
			zap.Int("count", len(batch)),
			zap.Error(err),
		)
	}
}
