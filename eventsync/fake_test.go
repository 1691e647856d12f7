package eventsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeServer answers the handshake in memory. reject, when set, is sent
// instead of a welcome.
type fakeServer struct {
	mu       sync.Mutex
	dials    int
	dialErr  error
	reject   *ErrorPayload
	channels chan *fakeChannel
}

func newFakeServer() *fakeServer {
	return &fakeServer{channels: make(chan *fakeChannel, 16)}
}

func (s *fakeServer) Dial(_ context.Context, _, _ string) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++
	if s.dialErr != nil {
		return nil, s.dialErr
	}
	ch := &fakeChannel{
		reject: s.reject,
		in:     make(chan Envelope, 64),
		out:    make(chan Envelope, 64),
		closed: make(chan struct{}),
	}
	s.channels <- ch
	return ch, nil
}

// hangingTransport never completes a dial; it reports each attempt on
// dialing and returns once ctx is done.
type hangingTransport struct {
	dialing chan struct{}
}

func (h hangingTransport) Dial(ctx context.Context, _, _ string) (Channel, error) {
	h.dialing <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *fakeServer) setDialErr(err error) {
	s.mu.Lock()
	s.dialErr = err
	s.mu.Unlock()
}

func (s *fakeServer) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

func (s *fakeServer) nextChannel(t *testing.T) *fakeChannel {
	t.Helper()
	select {
	case ch := <-s.channels:
		return ch
	case <-time.After(waitFor):
		t.Fatal("no channel dialed")
		return nil
	}
}

type fakeChannel struct {
	reject *ErrorPayload
	in     chan Envelope // server to client
	out    chan Envelope // client to server, hello excluded

	mu         sync.Mutex
	failErr    error
	writeDelay time.Duration
	closed     chan struct{}
	once    sync.Once
}

func (c *fakeChannel) Read(ctx context.Context) (Envelope, error) {
	select {
	case env := <-c.in:
		return env, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.failErr != nil {
			return Envelope{}, c.failErr
		}
		return Envelope{}, NewError(ErrorTransport, "closed")
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (c *fakeChannel) Write(_ context.Context, env Envelope) error {
	select {
	case <-c.closed:
		return NewError(ErrorTransport, "closed")
	default:
	}
	if env.Type == TypeHello {
		if c.reject != nil {
			reply, _ := NewEnvelope(TypeError, "", c.reject)
			c.in <- reply
			return nil
		}
		reply, _ := NewEnvelope(TypeWelcome, "", WelcomePayload{SessionID: "s-1", UserID: "u-1"})
		c.in <- reply
		return nil
	}
	c.mu.Lock()
	delay := c.writeDelay
	c.mu.Unlock()
	time.Sleep(delay)
	c.out <- env
	return nil
}

// slowWrites delays every later non-handshake write by d.
func (c *fakeChannel) slowWrites(d time.Duration) {
	c.mu.Lock()
	c.writeDelay = d
	c.mu.Unlock()
}

func (c *fakeChannel) Close(string) error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fail simulates the server dropping the connection with err.
func (c *fakeChannel) fail(err error) {
	c.mu.Lock()
	c.failErr = err
	c.mu.Unlock()
	_ = c.Close("")
}

func (c *fakeChannel) push(t *testing.T, typ, roomID string, payload any) {
	t.Helper()
	env, err := NewEnvelope(typ, roomID, payload)
	require.NoError(t, err)
	c.in <- env
}

// sent returns the next envelope the client wrote.
func (c *fakeChannel) sent(t *testing.T) Envelope {
	t.Helper()
	select {
	case env := <-c.out:
		return env
	case <-time.After(waitFor):
		t.Fatal("nothing sent")
		return Envelope{}
	}
}

// sentRoom returns the next control message and its room.
func (c *fakeChannel) sentRoom(t *testing.T) (string, string) {
	t.Helper()
	env := c.sent(t)
	var p RoomPayload
	require.NoError(t, env.Decode(&p))
	return env.Type, p.RoomID
}

func (c *fakeChannel) assertQuiet(t *testing.T) {
	t.Helper()
	select {
	case env := <-c.out:
		t.Fatalf("unexpected %s sent", env.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.URL = "ws://fake"
	cfg.ReconnectInterval = time.Millisecond
	cfg.MaxReconnectDelay = 5 * time.Millisecond
	cfg.MaxReconnectTries = 3
	return cfg
}

type recorder struct {
	mu     sync.Mutex
	states []StateEvent
	errs   []error
}

func record(c *Client) *recorder {
	r := &recorder{}
	c.OnStateChange(func(ev StateEvent) {
		r.mu.Lock()
		r.states = append(r.states, ev)
		r.mu.Unlock()
	})
	c.OnError(func(err error) {
		r.mu.Lock()
		r.errs = append(r.errs, err)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) transitions() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnectionState, 0, len(r.states))
	for _, ev := range r.states {
		out = append(out, ev.NewState)
	}
	return out
}
