package eventsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Client owns the persistent channel for one authenticated session and
// drives its connect/disconnect/reconnect lifecycle.
type Client struct {
	cfg        Config
	logger     Logger
	transport  Transport
	dispatcher *Dispatcher
	rooms      *RoomRegistry

	mu       sync.Mutex
	state    ConnectionState
	identity Identity
	session  Session
	run      *run // nil while disconnected
	link     *link

	lmu            sync.Mutex
	nextListener   uint64
	stateListeners map[uint64]func(StateEvent)
	errorListeners map[uint64]func(error)
}

// run spans one Connect..Close session, including reconnects.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// link is the live channel plus its loops.
type link struct {
	ch      Channel
	writeCh chan writeReq
	cancel  context.CancelFunc
	done    <-chan struct{}
}

type writeReq struct {
	env    Envelope
	result chan error
}

// Option configures a Client.
type Option func(*Client)

// WithLogger overrides the no-op logger.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDispatcher injects a shared dispatcher.
func WithDispatcher(d *Dispatcher) Option {
	return func(c *Client) {
		if d != nil {
			c.dispatcher = d
		}
	}
}

// WithTransport replaces the WebSocket transport.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		if t != nil {
			c.transport = t
		}
	}
}

// NewClient constructs a client with provided config.
// Use DefaultConfig() as a starting point and modify as needed.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:            cfg,
		logger:         noopLogger{},
		stateListeners: make(map[uint64]func(StateEvent)),
		errorListeners: make(map[uint64]func(error)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = wsTransport{cfg: cfg}
	}
	if c.dispatcher == nil {
		c.dispatcher = NewDispatcher(c.logger)
	}
	c.rooms = newRoomRegistry(c, c.logger)
	return c
}

// Dispatcher returns the dispatcher inbound broadcasts are routed through.
func (c *Client) Dispatcher() *Dispatcher { return c.dispatcher }

// Rooms returns the membership registry.
func (c *Client) Rooms() *RoomRegistry { return c.rooms }

// Subscribe is shorthand for Dispatcher().Subscribe.
func (c *Client) Subscribe(roomID, msgType string, fn Handler) *Subscription {
	return c.dispatcher.Subscribe(roomID, msgType, fn)
}

// Join is shorthand for Rooms().Join.
func (c *Client) Join(ctx context.Context, roomID string) error { return c.rooms.Join(ctx, roomID) }

// Leave is shorthand for Rooms().Leave.
func (c *Client) Leave(ctx context.Context, roomID string) error { return c.rooms.Leave(ctx, roomID) }

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the current session.
func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session
	s.State = c.state
	return s
}

// OnStateChange registers fn for state transitions.
func (c *Client) OnStateChange(fn func(StateEvent)) (unsubscribe func()) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.nextListener++
	id := c.nextListener
	c.stateListeners[id] = fn
	return func() {
		c.lmu.Lock()
		delete(c.stateListeners, id)
		c.lmu.Unlock()
	}
}

// OnError registers fn for errors that are not returned to a caller:
// terminal connectivity loss, auth rejection, room operation failures and
// server protocol errors.
func (c *Client) OnError(fn func(error)) (unsubscribe func()) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.nextListener++
	id := c.nextListener
	c.errorListeners[id] = fn
	return func() {
		c.lmu.Lock()
		delete(c.errorListeners, id)
		c.lmu.Unlock()
	}
}

// Connect dials the server, performs the handshake and starts the loops.
// It returns nil without doing anything while a session is already
// connecting, connected or reconnecting.
func (c *Client) Connect(ctx context.Context, id Identity) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if id.Token == "" {
		return NewError(ErrorAuth, "missing token")
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{ctx: runCtx, cancel: cancel}
	c.identity = id
	c.run = r
	c.state = StateConnecting
	c.mu.Unlock()
	c.emitState(StateDisconnected, StateConnecting, nil)

	// Close aborts a handshake in progress.
	dialCtx, dialCancel := context.WithCancel(ctx)
	stop := context.AfterFunc(runCtx, dialCancel)
	ch, welcome, err := c.dial(dialCtx)
	stop()
	dialCancel()
	if err != nil {
		c.mu.Lock()
		current := c.run == r
		if current {
			c.state = StateDisconnected
			c.run = nil
		}
		c.mu.Unlock()
		cancel()
		if !current {
			return WrapError(ErrorTransport, "client closed during connect", err)
		}
		c.emitState(StateConnecting, StateDisconnected, err)
		return err
	}
	if !c.start(r, ch, welcome) {
		return NewError(ErrorTransport, "client closed during connect")
	}
	if id.Logout != nil {
		go c.watchLogout(runCtx, id.Logout)
	}
	return nil
}

// Close shuts down the channel. Room membership is kept and replayed on
// the next Connect.
func (c *Client) Close() error {
	c.mu.Lock()
	old := c.state
	r := c.run
	l := c.link
	c.run = nil
	c.link = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if r != nil {
		r.cancel()
	}
	var err error
	if l != nil {
		l.cancel()
		err = l.ch.Close("client close")
	}
	if old != StateDisconnected {
		c.emitState(old, StateDisconnected, nil)
	}
	return err
}

// Logout closes the session and forgets membership and identity.
func (c *Client) Logout() error {
	err := c.Close()
	c.rooms.reset()
	c.mu.Lock()
	c.identity = Identity{}
	c.session = Session{}
	c.mu.Unlock()
	c.logger.Info("logged out", nil)
	return err
}

// SendChat publishes a chat message to a room.
func (c *Client) SendChat(ctx context.Context, roomID string, msg ChatPayload) error {
	msg.RoomID = roomID
	env, err := NewEnvelope(TypeChatMessage, roomID, msg)
	if err != nil {
		return err
	}
	return c.send(ctx, env)
}

func (c *Client) watchLogout(ctx context.Context, logout <-chan struct{}) {
	select {
	case <-logout:
		_ = c.Logout()
	case <-ctx.Done():
	}
}

// dial opens a channel and performs the hello/welcome handshake.
func (c *Client) dial(ctx context.Context) (Channel, WelcomePayload, error) {
	c.mu.Lock()
	token := c.identity.Token
	c.mu.Unlock()

	dialCtx := ctx
	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}

	ch, err := c.transport.Dial(dialCtx, c.cfg.URL, token)
	if err != nil {
		return nil, WelcomePayload{}, err
	}
	welcome, err := handshake(dialCtx, ch, token)
	if err != nil {
		_ = ch.Close("handshake error")
		return nil, WelcomePayload{}, err
	}
	return ch, welcome, nil
}

func handshake(ctx context.Context, ch Channel, token string) (WelcomePayload, error) {
	hello, err := NewEnvelope(TypeHello, "", HelloPayload{Protocol: ProtocolVersion, Token: token})
	if err != nil {
		return WelcomePayload{}, err
	}
	if err := ch.Write(ctx, hello); err != nil {
		return WelcomePayload{}, err
	}
	reply, err := ch.Read(ctx)
	if err != nil {
		return WelcomePayload{}, err
	}
	switch reply.Type {
	case TypeWelcome:
		var w WelcomePayload
		if len(reply.Payload) > 0 {
			if err := reply.Decode(&w); err != nil {
				return WelcomePayload{}, err
			}
		}
		return w, nil
	case TypeError:
		var p ErrorPayload
		if err := reply.Decode(&p); err != nil {
			return WelcomePayload{}, err
		}
		perr := FromProtocolError(&p)
		if perr.Code == ErrorUnauthorized || perr.Code == ErrorAccessDenied {
			return WelcomePayload{}, WrapError(ErrorAuth, "handshake rejected", perr)
		}
		return WelcomePayload{}, WrapError(ErrorTransport, "handshake failed", perr)
	default:
		return WelcomePayload{}, NewError(ErrorInvalidMessage, "unexpected handshake reply "+reply.Type)
	}
}

// start installs ch as the live channel, starts the loops and replays
// membership. It reports false if the session was closed meanwhile.
func (c *Client) start(r *run, ch Channel, welcome WelcomePayload) bool {
	loopCtx, loopCancel := context.WithCancel(r.ctx)

	c.mu.Lock()
	if c.run != r || r.ctx.Err() != nil {
		c.mu.Unlock()
		loopCancel()
		_ = ch.Close("client closed")
		return false
	}
	l := &link{
		ch:      ch,
		writeCh: make(chan writeReq, 16),
		cancel:  loopCancel,
		done:    loopCtx.Done(),
	}
	c.link = l
	c.session = Session{SessionID: welcome.SessionID, UserID: welcome.UserID}
	if c.session.UserID == "" {
		c.session.UserID = c.identity.UserID
	}
	old := c.state
	c.state = StateConnected
	c.mu.Unlock()

	go c.readLoop(loopCtx, l)
	go c.writeLoop(loopCtx, l)

	c.logger.Info("connected", map[string]any{"session": welcome.SessionID})
	c.emitState(old, StateConnected, nil)
	c.rooms.replay(loopCtx)
	return true
}

func (c *Client) connected() bool {
	return c.State() == StateConnected
}

func (c *Client) send(ctx context.Context, env Envelope) error {
	c.mu.Lock()
	l := c.link
	st := c.state
	c.mu.Unlock()
	if st != StateConnected || l == nil {
		return NewError(ErrorNotConnected, "not connected")
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	req := writeReq{env: env, result: make(chan error, 1)}
	select {
	case l.writeCh <- req:
	case <-l.done:
		return NewError(ErrorTransport, "connection lost")
	case <-ctx.Done():
		return ctx.Err()
	}
	// Once queued the frame is written regardless of ctx; the outcome is
	// bounded by WriteTimeout and the link lifetime.
	select {
	case err := <-req.result:
		return err
	case <-l.done:
		select {
		case err := <-req.result:
			return err
		default:
		}
		return NewError(ErrorTransport, "connection lost")
	}
}

func (c *Client) readLoop(ctx context.Context, l *link) {
	for {
		env, err := l.ch.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("read loop exit", map[string]any{"error": err.Error()})
			c.lost(l, err)
			return
		}
		c.route(ctx, l, env)
	}
}

func (c *Client) writeLoop(ctx context.Context, l *link) {
	for {
		select {
		case req := <-l.writeCh:
			err := l.ch.Write(ctx, req.env)
			req.result <- err
			if err != nil {
				c.logger.Warn("write loop exit", map[string]any{"error": err.Error()})
				c.lost(l, err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// route handles one inbound envelope on the read goroutine.
func (c *Client) route(ctx context.Context, l *link, env Envelope) {
	if env.Type == TypeError {
		var p ErrorPayload
		if err := env.Decode(&p); err != nil {
			c.emitError(err)
			return
		}
		switch {
		case p.Op == TypeJoinRoom || p.Op == TypeLeaveRoom:
			c.rooms.rejected(ctx, p)
		case ParseErrorCode(p.Code) == ErrorUnauthorized:
			c.lost(l, WrapError(ErrorAuth, "session rejected", FromProtocolError(&p)))
		default:
			c.emitError(FromProtocolError(&p))
		}
		return
	}
	if env.RoomID != "" && !c.rooms.IsMember(env.RoomID) {
		c.logger.Debug("dropping broadcast for non-member room", map[string]any{"room": env.RoomID, "type": env.Type})
		return
	}
	c.dispatcher.Dispatch(env)
}

// lost tears down l after an unexpected failure and either reconnects or
// gives up. Only the first report for a given link acts.
func (c *Client) lost(l *link, cause error) {
	c.mu.Lock()
	if c.link != l || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.link = nil
	r := c.run
	auth := IsAuthError(cause)
	next := StateReconnecting
	if auth || !c.cfg.AutoReconnect {
		next = StateDisconnected
		c.run = nil
	}
	if auth {
		c.session = Session{}
	}
	c.state = next
	c.mu.Unlock()

	l.cancel()
	_ = l.ch.Close("connection lost")
	c.emitState(StateConnected, next, cause)

	if next == StateDisconnected {
		r.cancel()
		if !auth {
			cause = WrapError(ErrorTransport, "connection lost", cause)
		}
		c.emitError(cause)
		return
	}
	go c.reconnect(r)
}

// reconnect retries the handshake with exponential backoff until it
// succeeds, the attempts run out, auth is rejected or the run is closed.
func (c *Client) reconnect(r *run) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectInterval
	b.MaxInterval = c.cfg.MaxReconnectDelay
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Reset()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxReconnectTries; attempt++ {
		delay := b.NextBackOff()
		timer := time.NewTimer(delay)
		select {
		case <-r.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		c.logger.Info("reconnecting", map[string]any{"attempt": attempt, "delay": delay.String()})
		ch, welcome, err := c.dial(r.ctx)
		if err == nil {
			c.start(r, ch, welcome)
			return
		}
		lastErr = err
		c.logger.Warn("reconnect attempt failed", map[string]any{"attempt": attempt, "error": err.Error()})
		if IsAuthError(err) || r.ctx.Err() != nil {
			break
		}
	}
	if r.ctx.Err() != nil {
		return
	}
	if !IsAuthError(lastErr) {
		lastErr = WrapError(ErrorTransport, fmt.Sprintf("reconnect failed after %d attempts", c.cfg.MaxReconnectTries), lastErr)
	}
	c.giveUp(r, lastErr)
}

func (c *Client) giveUp(r *run, err error) {
	c.mu.Lock()
	if c.run != r || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.run = nil
	if IsAuthError(err) {
		c.session = Session{}
	}
	c.mu.Unlock()
	r.cancel()
	c.emitState(StateReconnecting, StateDisconnected, err)
	c.emitError(err)
}

func (c *Client) emitState(old, next ConnectionState, err error) {
	c.lmu.Lock()
	fns := make([]func(StateEvent), 0, len(c.stateListeners))
	for _, fn := range c.stateListeners {
		fns = append(fns, fn)
	}
	c.lmu.Unlock()
	ev := StateEvent{OldState: old, NewState: next, Error: err}
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Client) emitError(err error) {
	if err == nil {
		return
	}
	c.logger.Error("eventsync error", map[string]any{"error": err.Error()})
	c.lmu.Lock()
	fns := make([]func(error), 0, len(c.errorListeners))
	for _, fn := range c.errorListeners {
		fns = append(fns, fn)
	}
	c.lmu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}
