// Package handlers implements the per-connection command loop shared by every
// transport.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/islemulti/internal/frontend/transport"
	"github.com/cory-johannsen/islemulti/internal/game/session"
	"github.com/cory-johannsen/islemulti/internal/journal"
	"github.com/cory-johannsen/islemulti/internal/observability"
	"github.com/cory-johannsen/islemulti/internal/protocol"
)

// drainTimeout bounds how long queued payloads are flushed after the peer
// closes its side of the connection.
const drainTimeout = 5 * time.Second

// ErrProtocolViolation is returned by HandleSession when the client sent a
// command that terminates the connection.
var ErrProtocolViolation = errors.New("protocol violation")

// GameHandler reads protocol lines from a client, applies them to the shared
// registry and relays the resulting events to the other clients.
type GameHandler struct {
	registry    *session.Registry
	broadcaster *session.Broadcaster
	journal     *journal.Recorder
	queueSize   int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// NewGameHandler creates a GameHandler.
//
// Precondition: registry, broadcaster and logger must be non-nil. recorder and
// metrics may be nil. queueSize bounds each client's pending outbound payloads.
// Postcondition: Returns a GameHandler ready to serve connections.
func NewGameHandler(
	registry *session.Registry,
	broadcaster *session.Broadcaster,
	recorder *journal.Recorder,
	queueSize int,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *GameHandler {
	return &GameHandler{
		registry:    registry,
		broadcaster: broadcaster,
		journal:     recorder,
		queueSize:   queueSize,
		logger:      logger,
		metrics:     metrics,
	}
}

// connState is what one HandleSession call knows about its client.
type connState struct {
	id        session.ConnID
	sessionID uuid.UUID
	mailbox   *session.Mailbox
	logger    *zap.Logger
}

// HandleSession runs the command loop for conn until the client disconnects,
// ctx is cancelled, or the client violates the protocol.
//
// Precondition: conn must be open.
// Postcondition: The client's session is removed from the registry and conn is
// closed. Returns nil on a clean disconnect, ctx.Err() on cancellation,
// ErrProtocolViolation (wrapped) on a fatal command, or a wrapped read error.
func (h *GameHandler) HandleSession(ctx context.Context, conn transport.Stream) error {
	st := &connState{
		id:        session.ConnID(conn.RemoteAddr().String()),
		sessionID: uuid.New(),
	}
	st.logger = h.logger.With(
		zap.String("remote_addr", string(st.id)),
		zap.String("session_id", st.sessionID.String()),
	)
	st.mailbox = session.NewMailbox(st.id, h.queueSize)

	var closing atomic.Bool
	peerClosed := false
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		if err := st.mailbox.Pump(ctx, conn); err != nil && !closing.Load() && ctx.Err() == nil {
			st.logger.Warn("outbound write failed, closing connection", zap.Error(err))
			_ = conn.Close()
		}
	}()
	stopAfter := context.AfterFunc(ctx, func() { _ = conn.Close() })

	h.journal.Record(journal.Event{SessionID: st.sessionID, ConnID: string(st.id), Kind: journal.KindConnect})

	defer func() {
		stopAfter()
		closing.Store(true)
		if h.registry.Remove(st.id) {
			st.logger.Debug("session removed")
		}
		_ = st.mailbox.Close()
		if peerClosed {
			// The peer may have half-closed; let queued replies reach it.
			select {
			case <-pumpDone:
			case <-time.After(drainTimeout):
			}
		}
		_ = conn.Close()
		<-pumpDone
		h.journal.Record(journal.Event{SessionID: st.sessionID, ConnID: string(st.id), Kind: journal.KindDisconnect})
	}()

	for {
		raw, err := conn.ReadLine()
		if err != nil {
			if errors.Is(err, transport.ErrLineTooLong) {
				st.logger.Debug("discarding oversized line")
				continue
			}
			if errors.Is(err, io.EOF) {
				peerClosed = true
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if closing.Load() {
				return nil
			}
			st.logger.Warn("reading from client", zap.Error(err))
			return fmt.Errorf("reading from %s: %w", st.id, err)
		}

		if err := h.dispatch(st, protocol.Parse(protocol.Decode(raw))); err != nil {
			return err
		}
	}
}

// dispatch applies one parsed command.
//
// Postcondition: Returns a non-nil error only when the connection must be closed.
func (h *GameHandler) dispatch(st *connState, cmd protocol.Command) error {
	h.metrics.CommandHandled()

	switch c := cmd.(type) {
	case protocol.Ping:
		if err := st.mailbox.Push(protocol.Pong); err != nil {
			st.logger.Debug("queueing pong", zap.Error(err))
		}

	case protocol.Join:
		peers := h.registry.Register(st.id, session.NewSession(c.Name), st.mailbox)
		event := protocol.Joined(c.Name)
		h.broadcaster.Deliver(event, peers)
		st.logger.Info(string(event[:len(event)-1]), zap.String("name", c.Name))
		h.journal.Record(journal.Event{
			SessionID: st.sessionID,
			ConnID:    string(st.id),
			Kind:      journal.KindJoin,
			Name:      c.Name,
		})

	case protocol.Move:
		sess, peers, ok := h.registry.Update(st.id, func(s *session.Session) {
			s.Position = c.Position
			s.Direction = c.Direction
		})
		if !ok {
			st.logger.Debug("move before join ignored")
			return nil
		}
		event := protocol.Moved(sess.Name, sess.Position, sess.Direction)
		h.broadcaster.Deliver(event, peers)
		st.logger.Info(string(event[:len(event)-1]), zap.String("name", sess.Name))
		h.journal.Record(journal.Event{
			SessionID: st.sessionID,
			ConnID:    string(st.id),
			Kind:      journal.KindMove,
			Name:      sess.Name,
			Position:  sess.Position,
			Direction: sess.Direction,
		})

	case protocol.MoveArity:
		h.metrics.ProtocolViolation()
		st.logger.Info("closing connection on malformed move", zap.Int("fields", c.Fields))
		return fmt.Errorf("move with %d fields: %w", c.Fields, ErrProtocolViolation)

	case protocol.MoveInvalid:
		st.logger.Debug("ignoring move with invalid number", zap.String("args", c.Args))

	case protocol.Unknown:
		st.logger.Debug("ignoring unrecognised line", zap.String("line", c.Line))
	}
	return nil
}
