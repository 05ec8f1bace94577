package session

import (
	"go.uber.org/zap"

	"github.com/cory-johannsen/islemulti/internal/observability"
)

// Broadcaster delivers payloads to registered outbound handles. Delivery is
// best effort: a failing handle is skipped and never fails the broadcast.
type Broadcaster struct {
	registry *Registry
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewBroadcaster creates a Broadcaster over registry.
//
// Precondition: registry and logger must be non-nil; metrics may be nil.
func NewBroadcaster(registry *Registry, logger *zap.Logger, metrics *observability.Metrics) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		logger:   logger,
		metrics:  metrics,
	}
}

// Broadcast pushes payload to every registered handle except exclude.
// An empty exclude delivers to all handles.
//
// Postcondition: Returns the number of handles that accepted the payload.
func (b *Broadcaster) Broadcast(payload []byte, exclude ConnID) int {
	return b.Deliver(payload, b.registry.Handles(exclude))
}

// Deliver pushes payload to each handle in handles.
//
// Postcondition: Returns the number of handles that accepted the payload.
func (b *Broadcaster) Deliver(payload []byte, handles []Outbound) int {
	delivered := 0
	for _, h := range handles {
		if err := h.Push(payload); err != nil {
			b.logger.Debug("dropping broadcast to peer",
				zap.String("remote_addr", string(h.ID())),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	b.metrics.Broadcast(delivered, len(handles)-delivered)
	return delivered
}
