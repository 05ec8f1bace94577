// Package ws serves the line protocol over WebSocket so browser clients share
// the registry with TCP clients. The same HTTP server exposes health and
// metrics endpoints.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/islemulti/internal/config"
	"github.com/cory-johannsen/islemulti/internal/frontend/transport"
	"github.com/cory-johannsen/islemulti/internal/observability"
)

const shutdownTimeout = 5 * time.Second

// Gateway accepts WebSocket upgrades and runs a SessionHandler for each one.
type Gateway struct {
	cfg      config.WebSocketConfig
	limits   config.ListenerConfig
	handler  transport.SessionHandler
	logger   *zap.Logger
	metrics  *observability.Metrics
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
	conns  map[*Conn]struct{}
}

// NewGateway creates a Gateway. limits supplies the framing and timeout
// settings shared with the TCP listener.
//
// Precondition: handler and logger must be non-nil; metrics may be nil.
// Postcondition: Returns a Gateway ready to be started with ListenAndServe.
func NewGateway(
	cfg config.WebSocketConfig,
	limits config.ListenerConfig,
	handler transport.SessionHandler,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		cfg:     cfg,
		limits:  limits,
		handler: handler,
		logger:  logger,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  limits.ReadBufferSize,
			WriteBufferSize: limits.ReadBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[*Conn]struct{}),
	}
	g.server = &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

// Handler returns the HTTP routes served by the gateway.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+g.cfg.Path, g.serveWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(g.metrics.Snapshot()); err != nil {
			g.logger.Debug("writing metrics", zap.Error(err))
		}
	})
	return mux
}

// ListenAndServe binds the configured address and serves until Stop is called.
//
// Postcondition: Returns a wrapped error if binding fails; nil after Stop.
func (g *Gateway) ListenAndServe() error {
	ln, err := net.Listen("tcp", g.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.cfg.Addr(), err)
	}
	g.mu.Lock()
	g.addr = ln.Addr()
	g.mu.Unlock()

	g.logger.Info("websocket gateway listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("path", g.cfg.Path),
	)

	if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving websocket gateway: %w", err)
	}
	return nil
}

// Addr returns the bound address, or empty string if not yet listening.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.addr == nil {
		return ""
	}
	return g.addr.String()
}

func (g *Gateway) serveWS(w http.ResponseWriter, r *http.Request) {
	raw, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	conn := NewConn(raw, g.limits)
	if !g.track(conn) {
		_ = conn.Close()
		return
	}
	defer g.wg.Done()
	defer g.untrack(conn)
	defer conn.Close()

	start := time.Now()
	addr := conn.RemoteAddr().String()
	g.metrics.ConnectionOpened()
	defer g.metrics.ConnectionClosed()
	g.logger.Info("client connected", zap.String("remote_addr", addr))

	err = g.handler.HandleSession(g.ctx, conn)
	fields := []zap.Field{
		zap.String("remote_addr", addr),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	g.logger.Info("client disconnected", fields...)
}

// track registers conn as live. It returns false once Stop has begun.
func (g *Gateway) track(conn *Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ctx.Err() != nil {
		return false
	}
	g.conns[conn] = struct{}{}
	g.wg.Add(1)
	return true
}

func (g *Gateway) untrack(conn *Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, conn)
}

// Stop shuts down the HTTP server, closes every WebSocket connection and
// waits for their handlers to return.
//
// Postcondition: All connections are closed and handler goroutines have exited.
func (g *Gateway) Stop() {
	g.mu.Lock()
	g.cancel()
	for conn := range g.conns {
		_ = conn.Close()
	}
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := g.server.Shutdown(ctx); err != nil {
		g.logger.Warn("shutting down websocket gateway", zap.Error(err))
	}
	g.wg.Wait()

	g.logger.Info("websocket gateway stopped")
}
