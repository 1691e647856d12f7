package eventsync

import "encoding/json"

// EntityKind names the kind of entity a broadcast snapshot describes.
type EntityKind string

const (
	KindEvent EntityKind = "event"
	KindTeam  EntityKind = "team"
	KindUser  EntityKind = "user"
)

// EntityRef identifies an entity; entityDeleted carries only this.
type EntityRef struct {
	ID   int64      `json:"id"`
	Kind EntityKind `json:"kind,omitempty"`
}

// MemberPayload is carried by memberJoined and memberLeft. Entity holds the
// updated snapshot of the event or team when the server includes it.
type MemberPayload struct {
	UserID   string          `json:"userId"`
	Username string          `json:"username,omitempty"`
	Kind     EntityKind      `json:"kind,omitempty"`
	Entity   json.RawMessage `json:"entity,omitempty"`
}

// RatingPayload is carried by ratingAdded.
type RatingPayload struct {
	EventID int64           `json:"eventId"`
	UserID  string          `json:"userId"`
	Score   int             `json:"score"`
	Comment string          `json:"comment,omitempty"`
	Entity  json.RawMessage `json:"entity,omitempty"`
}
