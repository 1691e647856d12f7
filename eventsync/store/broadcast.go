package store

import (
	"encoding/json"

	"github.com/vovakirdan/eventsync-sdk/eventsync-sdk-go/eventsync"
	"github.com/vovakirdan/eventsync-sdk/eventsync-sdk-go/eventsync/rest"
)

// handle reconciles one broadcast for room. It runs on the dispatcher's
// goroutine, in transport order for the room.
func (s *Store) handle(room eventsync.Room, env eventsync.Envelope) {
	var err error
	switch env.Type {
	case eventsync.TypeEntityCreated, eventsync.TypeEntityUpdated:
		err = s.applySnapshot(room, "", env.Payload)
	case eventsync.TypeEntityDeleted:
		err = s.applyDelete(room, env)
	case eventsync.TypeMemberJoined, eventsync.TypeMemberLeft:
		err = s.applyMember(room, env)
	case eventsync.TypeRatingAdded:
		err = s.applyRating(room, env)
	case eventsync.TypeChatMessage:
		err = s.applyChat(env)
	}
	if err != nil {
		s.logger.Warn("broadcast not applied", map[string]any{
			"room":  env.RoomID,
			"type":  env.Type,
			"error": err.Error(),
		})
	}
}

// kindFor picks the entity kind of a snapshot: an explicit kind wins, then
// the room's kind. User rooms carry events unless told otherwise.
func kindFor(room eventsync.Room, explicit eventsync.EntityKind) eventsync.EntityKind {
	if explicit != "" {
		return explicit
	}
	if room.Kind == eventsync.KindTeam {
		return eventsync.KindTeam
	}
	return eventsync.KindEvent
}

// applySnapshot replaces the local entity with raw wholesale.
func (s *Store) applySnapshot(room eventsync.Room, kind eventsync.EntityKind, raw json.RawMessage) error {
	if kind == "" {
		var probe struct {
			Kind eventsync.EntityKind `json:"kind"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return err
		}
		kind = probe.Kind
	}
	switch kindFor(room, kind) {
	case eventsync.KindTeam:
		var t rest.Team
		if err := json.Unmarshal(raw, &t); err != nil {
			return err
		}
		s.putTeam(t)
	default:
		var e rest.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		s.putEvent(e)
	}
	return nil
}

func (s *Store) applyDelete(room eventsync.Room, env eventsync.Envelope) error {
	var ref eventsync.EntityRef
	if err := env.Decode(&ref); err != nil {
		return err
	}
	kind := kindFor(room, ref.Kind)
	key := entityKey{kind, ref.ID}

	s.mu.Lock()
	change := ChangeEventDeleted
	if kind == eventsync.KindTeam {
		delete(s.teams, ref.ID)
		change = ChangeTeamDeleted
	} else {
		delete(s.events, ref.ID)
	}
	s.bumpLocked(key)
	s.mu.Unlock()

	s.publish(Change{Kind: change, Entity: kind, ID: ref.ID, RoomID: env.RoomID})
	return nil
}

func (s *Store) applyMember(room eventsync.Room, env eventsync.Envelope) error {
	var p eventsync.MemberPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	if len(p.Entity) > 0 {
		if err := s.applySnapshot(room, kindFor(room, p.Kind), p.Entity); err != nil {
			return err
		}
	}
	s.publish(Change{Kind: ChangeMember, Entity: room.Kind, ID: room.EntityID, RoomID: env.RoomID, UserID: p.UserID})
	return nil
}

func (s *Store) applyRating(room eventsync.Room, env eventsync.Envelope) error {
	var p eventsync.RatingPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	if len(p.Entity) > 0 {
		if err := s.applySnapshot(room, eventsync.KindEvent, p.Entity); err != nil {
			return err
		}
	}
	s.publish(Change{Kind: ChangeRating, Entity: eventsync.KindEvent, ID: p.EventID, RoomID: env.RoomID, UserID: p.UserID})
	return nil
}

func (s *Store) applyChat(env eventsync.Envelope) error {
	var p eventsync.ChatPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	m := ChatMessage{
		ID:        p.ID,
		RoomID:    env.RoomID,
		SenderID:  p.SenderID,
		Sender:    p.Sender,
		Body:      p.Body,
		Timestamp: p.Timestamp,
	}
	s.mu.Lock()
	added := s.appendChatLocked(m)
	s.mu.Unlock()
	if added {
		s.publish(Change{Kind: ChangeChat, RoomID: env.RoomID, UserID: p.SenderID})
	}
	return nil
}
