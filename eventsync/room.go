package eventsync

import (
	"fmt"
	"strconv"
	"strings"
)

// Room is a logical broadcast channel scoped to one entity.
type Room struct {
	ID       string
	Kind     EntityKind
	EntityID int64
}

// EventRoom returns the room id for an event.
func EventRoom(id int64) string { return roomID(KindEvent, id) }

// TeamRoom returns the room id for a team.
func TeamRoom(id int64) string { return roomID(KindTeam, id) }

// UserRoom returns the room id for a user.
func UserRoom(id int64) string { return roomID(KindUser, id) }

func roomID(kind EntityKind, id int64) string {
	return string(kind) + ":" + strconv.FormatInt(id, 10)
}

// ParseRoom splits a room id of the form "<kind>:<id>".
func ParseRoom(id string) (Room, error) {
	kind, rest, ok := strings.Cut(id, ":")
	if !ok {
		return Room{}, fmt.Errorf("room %q: missing kind prefix", id)
	}
	switch EntityKind(kind) {
	case KindEvent, KindTeam, KindUser:
	default:
		return Room{}, fmt.Errorf("room %q: unknown kind %q", id, kind)
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return Room{}, fmt.Errorf("room %q: %w", id, err)
	}
	return Room{ID: id, Kind: EntityKind(kind), EntityID: n}, nil
}
