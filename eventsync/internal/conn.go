package internal

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Subprotocol is offered on every upgrade request.
const Subprotocol = "eventsync.v1"

// maxMessageSize bounds one inbound frame. Entity snapshots with embedded
// ratings and members exceed the library default of 32KiB.
const maxMessageSize = 1 << 20

// DialOptions configures Dial.
type DialOptions struct {
	Token        string // sent as a bearer token on the upgrade request
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Conn is a JSON message stream over one WebSocket with per-message timeouts.
type Conn struct {
	ws   *websocket.Conn
	opts DialOptions
}

// Dial opens a WebSocket. The returned response is non-nil whenever the
// server answered the upgrade request, including on a rejected upgrade.
func Dial(ctx context.Context, url string, opts DialOptions) (*Conn, *http.Response, error) {
	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}
	ws, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader:   header,
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return nil, resp, err
	}
	ws.SetReadLimit(maxMessageSize)
	return &Conn{ws: ws, opts: opts}, resp, nil
}

func (c *Conn) Read(ctx context.Context, v any) error {
	ctx, cancel := bounded(ctx, c.opts.ReadTimeout)
	defer cancel()
	return wsjson.Read(ctx, c.ws, v)
}

func (c *Conn) Write(ctx context.Context, v any) error {
	ctx, cancel := bounded(ctx, c.opts.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.ws, v)
}

// Close performs the closing handshake with a normal-closure status.
func (c *Conn) Close(reason string) error {
	return c.ws.Close(websocket.StatusNormalClosure, reason)
}

func bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
