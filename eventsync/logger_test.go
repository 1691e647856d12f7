package eventsync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapLogger(zap.New(core))

	l.Warn("reconnect attempt failed", map[string]any{
		"attempt": 2,
		"error":   errors.New("refused"),
	})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "reconnect attempt failed", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.EqualValues(t, 2, fields["attempt"])
	assert.Equal(t, "refused", fields["error"])
}

func TestZapLoggerNil(t *testing.T) {
	assert.Equal(t, NopLogger(), NewZapLogger(nil))
}

func TestDispatcherLogsPanics(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	d := NewDispatcher(NewZapLogger(zap.New(core)))
	d.Subscribe("event:1", TypeChatMessage, func(Envelope) { panic("bad handler") })

	d.Dispatch(mustEnvelope(t, TypeChatMessage, "event:1", ChatPayload{Body: "hi"}))

	assert.Equal(t, 1, logs.FilterMessage("subscriber panicked").Len())
}
