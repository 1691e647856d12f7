package store

import "github.com/vovakirdan/eventsync-sdk/eventsync-sdk-go/eventsync"

// ChangeKind says what part of the store changed.
type ChangeKind int

const (
	ChangeEvent ChangeKind = iota
	ChangeEventList
	ChangeEventDeleted
	ChangeTeam
	ChangeTeamDeleted
	ChangeChat
	ChangeMember
	ChangeRating
	ChangeRollback // an optimistic mutation failed and was undone; Err says why
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeEvent:
		return "event"
	case ChangeEventList:
		return "event_list"
	case ChangeEventDeleted:
		return "event_deleted"
	case ChangeTeam:
		return "team"
	case ChangeTeamDeleted:
		return "team_deleted"
	case ChangeChat:
		return "chat"
	case ChangeMember:
		return "member"
	case ChangeRating:
		return "rating"
	case ChangeRollback:
		return "rollback"
	default:
		return "unknown"
	}
}

// Change is delivered to store subscribers after state changed.
type Change struct {
	Kind       ChangeKind
	Entity     eventsync.EntityKind
	ID         int64
	RoomID     string
	UserID     string // member and rating notifications
	Optimistic bool   // tentative local apply, not yet confirmed
	Err        error
}

// Subscribe registers fn for every change. fn runs on the goroutine that
// made the change and must not block.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.listeners[id] = fn
	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

func (s *Store) publish(c Change) {
	s.lmu.Lock()
	fns := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}
