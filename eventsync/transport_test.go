package eventsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/eventsync-sdk/eventsync-sdk-go/eventsync/internal"
)

// wsServer accepts one session, answers the handshake and then runs fn.
func wsServer(t *testing.T, fn func(ctx context.Context, conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer revoked" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{internal.Subprotocol}})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		var hello Envelope
		if err := wsjson.Read(ctx, conn, &hello); err != nil {
			return
		}
		var p HelloPayload
		if err := hello.Decode(&p); err != nil || p.Token != "secret" {
			reply, _ := NewEnvelope(TypeError, "", ErrorPayload{Code: "unauthorized", Message: "bad token"})
			_ = wsjson.Write(ctx, conn, reply)
			return
		}
		welcome, _ := NewEnvelope(TypeWelcome, "", WelcomePayload{SessionID: "ws-1", UserID: "u-ws"})
		if err := wsjson.Write(ctx, conn, welcome); err != nil {
			return
		}
		fn(ctx, conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func wsConfig(url string) Config {
	cfg := testConfig()
	cfg.URL = url
	cfg.HandshakeTimeout = 2 * time.Second
	return cfg
}

func TestWebSocketSession(t *testing.T) {
	url := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		var join Envelope
		if err := wsjson.Read(ctx, conn, &join); err != nil {
			return
		}
		var p RoomPayload
		_ = join.Decode(&p)
		update, _ := NewEnvelope(TypeEntityUpdated, p.RoomID, map[string]any{"id": 42, "participantCount": 5})
		_ = wsjson.Write(ctx, conn, update)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	})

	c := NewClient(wsConfig(url))
	defer c.Close()
	got := make(chan Envelope, 1)
	c.Subscribe("event:42", TypeEntityUpdated, func(env Envelope) { got <- env })

	require.NoError(t, c.Connect(context.Background(), Identity{Token: "secret"}))
	assert.Equal(t, "ws-1", c.Session().SessionID)
	require.NoError(t, c.Join(context.Background(), "event:42"))

	select {
	case env := <-got:
		assert.Equal(t, "event:42", env.RoomID)
		assert.JSONEq(t, `{"id":42,"participantCount":5}`, string(env.Payload))
	case <-time.After(waitFor):
		t.Fatal("broadcast not delivered")
	}
}

func TestWebSocketHandshakeRejected(t *testing.T) {
	url := wsServer(t, func(context.Context, *websocket.Conn) {})

	c := NewClient(wsConfig(url))
	err := c.Connect(context.Background(), Identity{Token: "wrong"})

	assert.True(t, IsAuthError(err))
	assert.Equal(t, StateDisconnected, c.State())
}

func TestWebSocketUpgradeUnauthorized(t *testing.T) {
	url := wsServer(t, func(context.Context, *websocket.Conn) {})

	c := NewClient(wsConfig(url))
	err := c.Connect(context.Background(), Identity{Token: "revoked"})

	assert.True(t, IsAuthError(err))
}

func TestWebSocketPolicyCloseIsAuthLoss(t *testing.T) {
	url := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		_ = conn.Close(websocket.StatusPolicyViolation, "token revoked")
	})

	c := NewClient(wsConfig(url))
	rec := record(c)
	require.NoError(t, c.Connect(context.Background(), Identity{Token: "secret"}))

	require.Eventually(t, func() bool { return len(rec.errors()) == 1 }, waitFor, tick)
	assert.True(t, IsAuthError(rec.errors()[0]))
	assert.Equal(t, StateDisconnected, c.State())
}
