package eventsync

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseErrorCode(t *testing.T) {
	tests := []struct {
		in   string
		want ErrorCode
	}{
		{"unauthorized", ErrorUnauthorized},
		{"access_denied", ErrorAccessDenied},
		{"room_not_found", ErrorRoomNotFound},
		{"rate_limited", ErrorRateLimited},
		{"something_new", ErrorUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseErrorCode(tt.in)
			assert.Equal(t, tt.want, got)
			if tt.want != ErrorUnknown {
				assert.Equal(t, tt.in, got.String())
			}
		})
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		auth      bool
		transport bool
		protocol  bool
		retryable bool
	}{
		{"transport", NewError(ErrorTransport, "reset"), false, true, false, true},
		{"not connected", ErrNotConnected, false, true, false, true},
		{"auth", NewError(ErrorAuth, "expired"), true, false, false, false},
		{"server unauthorized", FromProtocolError(&ErrorPayload{Code: "unauthorized"}), true, false, true, false},
		{"rate limited", FromProtocolError(&ErrorPayload{Code: "rate_limited"}), false, false, true, true},
		{"mutation", WrapError(ErrorMutation, "join event failed", errors.New("500")), false, false, false, true},
		{"cache load", NewError(ErrorCacheLoad, "load"), false, false, false, true},
		{"wrapped by fmt", fmt.Errorf("dial: %w", NewError(ErrorAuth, "401")), true, false, false, false},
		{"plain", errors.New("plain"), false, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.auth, IsAuthError(tt.err), "auth")
			assert.Equal(t, tt.transport, IsTransportError(tt.err), "transport")
			assert.Equal(t, tt.protocol, IsProtocolError(tt.err), "protocol")
			assert.Equal(t, tt.retryable, IsRetryable(tt.err), "retryable")
		})
	}
}

func TestSyncErrorIsAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError(ErrorTransport, "dial failed", cause)

	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrAuth)
	assert.Contains(t, err.Error(), "transport_error")
}

func TestSyncErrorRoom(t *testing.T) {
	err := &SyncError{Code: ErrorRoomOperation, Message: "joinRoom rejected", RoomID: "event:3"}

	assert.Equal(t, "room_operation_error: joinRoom rejected (room event:3)", err.Error())
}
