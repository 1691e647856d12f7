package eventsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/coder/websocket"

	"github.com/vovakirdan/eventsync-sdk/eventsync-sdk-go/eventsync/internal"
)

// Channel is one live bidirectional connection to the server.
type Channel interface {
	Read(ctx context.Context) (Envelope, error)
	Write(ctx context.Context, env Envelope) error
	Close(reason string) error
}

// Transport opens channels. The default dials a WebSocket; tests inject
// an in-memory implementation. token may be checked at the transport level
// in addition to the hello handshake.
type Transport interface {
	Dial(ctx context.Context, url, token string) (Channel, error)
}

type wsTransport struct {
	cfg Config
}

func (t wsTransport) Dial(ctx context.Context, rawURL, token string) (Channel, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, WrapError(ErrorInvalidConfig, "invalid URL", err)
	}
	conn, resp, err := internal.Dial(ctx, u.String(), internal.DialOptions{
		Token:        token,
		ReadTimeout:  t.cfg.ReadTimeout,
		WriteTimeout: t.cfg.WriteTimeout,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, WrapError(ErrorAuth, fmt.Sprintf("upgrade rejected with status %d", resp.StatusCode), err)
		}
		return nil, WrapError(ErrorTransport, "dial failed", err)
	}
	return &wsChannel{conn: conn}, nil
}

type wsChannel struct {
	conn *internal.Conn
}

func (c *wsChannel) Read(ctx context.Context) (Envelope, error) {
	var env Envelope
	if err := c.conn.Read(ctx, &env); err != nil {
		return Envelope{}, classifyReadError(err)
	}
	return env, nil
}

func (c *wsChannel) Write(ctx context.Context, env Envelope) error {
	if err := c.conn.Write(ctx, env); err != nil {
		return WrapError(ErrorTransport, "write failed", err)
	}
	return nil
}

func (c *wsChannel) Close(reason string) error {
	return c.conn.Close(reason)
}

// classifyReadError maps a read failure onto the error taxonomy. A
// policy-violation close means the server revoked the session.
func classifyReadError(err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusPolicyViolation:
		return WrapError(ErrorAuth, "session revoked by server", err)
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return WrapError(ErrorTransport, "server closed connection", err)
	}
	if errors.Is(err, io.EOF) {
		return WrapError(ErrorTransport, "connection closed", err)
	}
	return WrapError(ErrorTransport, "read failed", err)
}
