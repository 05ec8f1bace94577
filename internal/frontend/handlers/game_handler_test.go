package handlers

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/islemulti/internal/frontend/transport"
	"github.com/cory-johannsen/islemulti/internal/game/entity"
	"github.com/cory-johannsen/islemulti/internal/game/session"
	"github.com/cory-johannsen/islemulti/internal/journal"
	"github.com/cory-johannsen/islemulti/internal/observability"
)

// fakeStream feeds scripted reads to the handler and records its writes.
// Closing the reads channel simulates the peer hanging up.
type fakeStream struct {
	addr     net.Addr
	reads    chan readResult
	closed   chan struct{}
	once     sync.Once
	mu       sync.Mutex
	writes   []string
	writeErr error
	// strict rejects writes once the stream is closed, like a real socket.
	strict bool
}

type readResult struct {
	line []byte
	err  error
}

func newFakeStream(addr string) *fakeStream {
	tcpAddr, _ := net.ResolveTCPAddr("tcp", addr)
	return &fakeStream{
		addr:   tcpAddr,
		reads:  make(chan readResult, 32),
		closed: make(chan struct{}),
	}
}

func (f *fakeStream) send(line string) { f.reads <- readResult{line: []byte(line)} }

func (f *fakeStream) hangUp() { close(f.reads) }

func (f *fakeStream) ReadLine() ([]byte, error) {
	select {
	case r, ok := <-f.reads:
		if !ok {
			return nil, io.EOF
		}
		return r.line, r.err
	case <-f.closed:
		return nil, net.ErrClosed
	}
}

func (f *fakeStream) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	if f.strict && f.IsClosed() {
		return net.ErrClosed
	}
	f.writes = append(f.writes, string(data))
	return nil
}

func (f *fakeStream) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeStream) RemoteAddr() net.Addr { return f.addr }

func (f *fakeStream) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) IsClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

var _ transport.Stream = (*fakeStream)(nil)

// peer is an outbound handle registered directly in the registry.
type peer struct {
	id     session.ConnID
	mu     sync.Mutex
	pushes []string
}

func (p *peer) ID() session.ConnID { return p.id }

func (p *peer) Push(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, string(data))
	return nil
}

func (p *peer) Pushes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.pushes...)
}

type fixture struct {
	handler  *GameHandler
	registry *session.Registry
	metrics  *observability.Metrics
}

func newFixture(t *testing.T, recorder *journal.Recorder) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	registry := session.NewRegistry()
	metrics := observability.NewMetrics()
	broadcaster := session.NewBroadcaster(registry, logger, metrics)
	return &fixture{
		handler:  NewGameHandler(registry, broadcaster, recorder, 8, logger, metrics),
		registry: registry,
		metrics:  metrics,
	}
}

// addPeer registers an already joined peer under id.
func (f *fixture) addPeer(id, name string) *peer {
	p := &peer{id: session.ConnID(id)}
	f.registry.Register(p.id, session.NewSession(name), p)
	return p
}

// run starts HandleSession for stream and returns a channel with its result.
func (f *fixture) run(ctx context.Context, stream transport.Stream) <-chan error {
	done := make(chan error, 1)
	go func() { done <- f.handler.HandleSession(ctx, stream) }()
	return done
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("HandleSession did not return")
		return nil
	}
}

func TestHandleSession_PingRepliesToSenderOnly(t *testing.T) {
	f := newFixture(t, nil)
	other := f.addPeer("10.0.0.2:4000", "Bob")
	stream := newFakeStream("10.0.0.1:5000")

	done := f.run(context.Background(), stream)
	stream.send("ping")
	stream.send("pingpong")
	stream.hangUp()
	require.NoError(t, waitResult(t, done))

	assert.Equal(t, []string{"pong\n", "pong\n"}, stream.Writes())
	assert.Empty(t, other.Pushes())
	assert.Equal(t, 1, f.registry.Len(), "ping must not register the sender")
}

func TestHandleSession_RepliesFlushedBeforeCloseOnEOF(t *testing.T) {
	f := newFixture(t, nil)
	stream := newFakeStream("10.0.0.1:5000")
	stream.strict = true

	done := f.run(context.Background(), stream)
	stream.send("ping")
	stream.send("ping")
	stream.hangUp()
	require.NoError(t, waitResult(t, done))

	assert.Equal(t, []string{"pong\n", "pong\n"}, stream.Writes())
	assert.True(t, stream.IsClosed())
}

func TestHandleSession_JoinNotifiesPeersNotSender(t *testing.T) {
	f := newFixture(t, nil)
	bob := f.addPeer("10.0.0.2:4000", "Bob")
	stream := newFakeStream("10.0.0.1:5000")

	done := f.run(context.Background(), stream)
	stream.send("join:Alice")
	require.Eventually(t, func() bool { return f.registry.Len() == 2 }, time.Second, 5*time.Millisecond)

	sess, ok := f.registry.Session("10.0.0.1:5000")
	require.True(t, ok)
	assert.Equal(t, "Alice", sess.Name)
	assert.Equal(t, entity.DefaultCharacter, sess.Character)

	stream.hangUp()
	require.NoError(t, waitResult(t, done))

	assert.Equal(t, []string{"Alice joined the game\n"}, bob.Pushes())
	assert.Empty(t, stream.Writes())
}

func TestHandleSession_MoveUpdatesAndBroadcasts(t *testing.T) {
	f := newFixture(t, nil)
	bob := f.addPeer("10.0.0.2:4000", "Bob")
	stream := newFakeStream("10.0.0.1:5000")

	done := f.run(context.Background(), stream)
	stream.send("join:Alice")
	stream.send("move:1,2,3,0,0,1")
	require.Eventually(t, func() bool { return len(bob.Pushes()) == 2 }, time.Second, 5*time.Millisecond)

	sess, ok := f.registry.Session("10.0.0.1:5000")
	require.True(t, ok)
	assert.Equal(t, entity.NewPosition(1, 2, 3), sess.Position)
	assert.Equal(t, entity.NewDirection(0, 0, 1), sess.Direction)

	stream.hangUp()
	require.NoError(t, waitResult(t, done))
	assert.Equal(t, "Alice moved to (1, 2, 3), dir (0, 0, 1)\n", bob.Pushes()[1])
	assert.Empty(t, stream.Writes())
}

func TestHandleSession_MoveBeforeJoinIgnored(t *testing.T) {
	f := newFixture(t, nil)
	bob := f.addPeer("10.0.0.2:4000", "Bob")
	stream := newFakeStream("10.0.0.1:5000")

	done := f.run(context.Background(), stream)
	stream.send("move:1,2,3,0,0,1")
	stream.send("ping")
	stream.hangUp()
	require.NoError(t, waitResult(t, done))

	assert.Empty(t, bob.Pushes())
	assert.Equal(t, []string{"pong\n"}, stream.Writes(), "connection stays usable")
	assert.Equal(t, 1, f.registry.Len())
}

func TestHandleSession_MoveWrongArityClosesConnection(t *testing.T) {
	f := newFixture(t, nil)
	bob := f.addPeer("10.0.0.2:4000", "Bob")
	stream := newFakeStream("10.0.0.1:5000")

	done := f.run(context.Background(), stream)
	stream.send("join:Bob2")
	stream.send("move:1,2")
	err := waitResult(t, done)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProtocolViolation))
	assert.True(t, stream.IsClosed())
	assert.Equal(t, []string{"Bob2 joined the game\n"}, bob.Pushes(), "no move broadcast")
	_, ok := f.registry.Session("10.0.0.1:5000")
	assert.False(t, ok)
	assert.Equal(t, int64(1), f.metrics.Snapshot()["protocol_violations"])
}

func TestHandleSession_InvalidNumberKeepsSession(t *testing.T) {
	f := newFixture(t, nil)
	bob := f.addPeer("10.0.0.2:4000", "Bob")
	stream := newFakeStream("10.0.0.1:5000")

	done := f.run(context.Background(), stream)
	stream.send("join:Alice")
	stream.send("move:1,2,3,0,0,1")
	stream.send("move:9,9,abc,0,0,0")
	stream.send("move:9,9,9,0,0,inf")
	stream.send("ping")
	require.Eventually(t, func() bool { return len(stream.Writes()) == 1 }, time.Second, 5*time.Millisecond)

	sess, ok := f.registry.Session("10.0.0.1:5000")
	require.True(t, ok)
	assert.Equal(t, entity.NewPosition(1, 2, 3), sess.Position)
	assert.Equal(t, entity.NewDirection(0, 0, 1), sess.Direction)

	stream.hangUp()
	require.NoError(t, waitResult(t, done))
	assert.Len(t, bob.Pushes(), 2)
}

func TestHandleSession_UnknownAndOversizedLinesIgnored(t *testing.T) {
	f := newFixture(t, nil)
	stream := newFakeStream("10.0.0.1:5000")

	done := f.run(context.Background(), stream)
	stream.send("")
	stream.send("hello")
	stream.reads <- readResult{err: transport.ErrLineTooLong}
	stream.send("ping")
	stream.hangUp()
	require.NoError(t, waitResult(t, done))

	assert.Equal(t, []string{"pong\n"}, stream.Writes())
}

func TestHandleSession_DuplicateNamesRegisterIndependently(t *testing.T) {
	f := newFixture(t, nil)
	s1 := newFakeStream("10.0.0.1:5000")
	s2 := newFakeStream("10.0.0.1:5001")

	d1 := f.run(context.Background(), s1)
	d2 := f.run(context.Background(), s2)
	s1.send("join:Sam")
	require.Eventually(t, func() bool { return f.registry.Len() == 1 }, time.Second, 5*time.Millisecond)
	s2.send("join:Sam")
	require.Eventually(t, func() bool { return f.registry.Len() == 2 }, time.Second, 5*time.Millisecond)

	for id, sess := range f.registry.Sessions() {
		assert.Equal(t, "Sam", sess.Name, "session %s", id)
	}
	require.Eventually(t, func() bool { return len(s1.Writes()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Sam joined the game\n", s1.Writes()[0])

	s1.hangUp()
	s2.hangUp()
	require.NoError(t, waitResult(t, d1))
	require.NoError(t, waitResult(t, d2))
	assert.Empty(t, s2.Writes())
	assert.Zero(t, f.registry.Len())
}

func TestHandleSession_DisconnectRemovesWithoutBroadcast(t *testing.T) {
	f := newFixture(t, nil)
	bob := f.addPeer("10.0.0.2:4000", "Bob")
	stream := newFakeStream("10.0.0.1:5000")

	done := f.run(context.Background(), stream)
	stream.send("join:Alice")
	stream.hangUp()
	require.NoError(t, waitResult(t, done))

	assert.Equal(t, 1, f.registry.Len())
	assert.Equal(t, []string{"Alice joined the game\n"}, bob.Pushes())
}

func TestHandleSession_WriteFailureClosesConnection(t *testing.T) {
	f := newFixture(t, nil)
	stream := newFakeStream("10.0.0.1:5000")
	stream.writeErr = errors.New("broken pipe")

	done := f.run(context.Background(), stream)
	stream.send("join:Alice")
	stream.send("ping")

	err := waitResult(t, done)
	require.Error(t, err)
	assert.True(t, errors.Is(err, net.ErrClosed))
	assert.Zero(t, f.registry.Len())
}

func TestHandleSession_ContextCancelled(t *testing.T) {
	f := newFixture(t, nil)
	stream := newFakeStream("10.0.0.1:5000")

	ctx, cancel := context.WithCancel(context.Background())
	done := f.run(ctx, stream)
	stream.send("join:Alice")
	require.Eventually(t, func() bool { return f.registry.Len() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	err := waitResult(t, done)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, stream.IsClosed())
	assert.Zero(t, f.registry.Len())
}

// memSink collects journal events.
type memSink struct {
	mu     sync.Mutex
	events []journal.Event
}

func (s *memSink) Append(_ context.Context, events []journal.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *memSink) Kinds() []journal.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]journal.Kind, 0, len(s.events))
	for _, ev := range s.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func TestHandleSession_RecordsJournal(t *testing.T) {
	sink := &memSink{}
	recorder := journal.NewRecorder(sink, 32, zaptest.NewLogger(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = recorder.Run(ctx) }()

	f := newFixture(t, recorder)
	stream := newFakeStream("10.0.0.1:5000")
	done := f.run(context.Background(), stream)
	stream.send("join:Alice")
	stream.send("move:1,2,3,0,0,1")
	stream.send("move:1,2,3")
	require.Error(t, waitResult(t, done))

	require.Eventually(t, func() bool { return len(sink.Kinds()) == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []journal.Kind{
		journal.KindConnect, journal.KindJoin, journal.KindMove, journal.KindDisconnect,
	}, sink.Kinds())
}
