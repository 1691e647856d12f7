package eventsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomIDs(t *testing.T) {
	assert.Equal(t, "event:42", EventRoom(42))
	assert.Equal(t, "team:7", TeamRoom(7))
	assert.Equal(t, "user:3", UserRoom(3))
}

func TestParseRoom(t *testing.T) {
	r, err := ParseRoom("team:7")
	require.NoError(t, err)
	assert.Equal(t, Room{ID: "team:7", Kind: KindTeam, EntityID: 7}, r)

	for _, bad := range []string{"", "42", "venue:1", "event:", "event:x"} {
		_, err := ParseRoom(bad)
		assert.Error(t, err, bad)
	}
}
