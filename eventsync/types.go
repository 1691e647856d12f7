package eventsync

import (
	"encoding/json"
	"time"
)

const (
	ProtocolVersion = 1

	// Handshake.
	TypeHello   = "hello"
	TypeWelcome = "welcome"
	TypeError   = "error"

	// Inbound broadcasts.
	TypeEntityCreated = "entityCreated"
	TypeEntityUpdated = "entityUpdated"
	TypeEntityDeleted = "entityDeleted"
	TypeMemberJoined  = "memberJoined"
	TypeMemberLeft    = "memberLeft"
	TypeChatMessage   = "chatMessage"
	TypeRatingAdded   = "ratingAdded"

	// Outbound control messages.
	TypeJoinRoom  = "joinRoom"
	TypeLeaveRoom = "leaveRoom"
)

// InboundTypes lists every broadcast type a room can carry.
var InboundTypes = []string{
	TypeEntityCreated,
	TypeEntityUpdated,
	TypeEntityDeleted,
	TypeMemberJoined,
	TypeMemberLeft,
	TypeChatMessage,
	TypeRatingAdded,
}

// Envelope is the unit of exchange in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope encodes payload and stamps the envelope with the current time.
func NewEnvelope(typ, roomID string, payload any) (Envelope, error) {
	env := Envelope{Type: typ, RoomID: roomID, Timestamp: time.Now().UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, WrapError(ErrorSerialization, "failed to marshal "+typ+" payload", err)
		}
		env.Payload = raw
	}
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return NewError(ErrorSerialization, "empty "+e.Type+" payload")
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return WrapError(ErrorSerialization, "failed to unmarshal "+e.Type+" payload", err)
	}
	return nil
}

// HelloPayload initiates the session.
type HelloPayload struct {
	Protocol int    `json:"protocol"`
	Token    string `json:"token"`
}

// WelcomePayload acknowledges the handshake.
type WelcomePayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// RoomPayload is carried by joinRoom and leaveRoom.
type RoomPayload struct {
	RoomID string `json:"roomId"`
	Ref    string `json:"ref,omitempty"`
}

// ChatPayload is a chat message in both directions. The server echoes
// SenderID and Timestamp unchanged, which is what deduplication keys on.
type ChatPayload struct {
	ID        int64     `json:"id,omitempty"`
	RoomID    string    `json:"roomId"`
	SenderID  string    `json:"senderId"`
	Sender    string    `json:"sender,omitempty"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload describes a protocol error. Op and RoomID are set when a
// room operation was rejected.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Op      string `json:"op,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
	Ref     string `json:"ref,omitempty"`
}

func (e *ErrorPayload) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}
