// Package store keeps the local view of events, teams and chat transcripts.
//
// User actions are applied to the view immediately and reconciled when the
// authoritative answer arrives: a success replaces the entity wholesale, a
// failure restores the snapshot taken before the action. Broadcasts from
// the server always replace the local entity, pending guesses included.
// Chat transcripts are the exception: they only ever grow, deduplicated by
// sender and timestamp.
package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vovakirdan/eventsync-sdk/eventsync-sdk-go/eventsync"
	"github.com/vovakirdan/eventsync-sdk/eventsync-sdk-go/eventsync/rest"
)

// API is the query/command API. *rest.Client implements it.
type API interface {
	ListEvents(ctx context.Context) ([]rest.Event, error)
	GetEvent(ctx context.Context, id int64) (rest.Event, error)
	JoinEvent(ctx context.Context, id int64) (rest.Event, error)
	LeaveEvent(ctx context.Context, id int64) (rest.Event, error)
	SubmitRating(ctx context.Context, eventID int64, req rest.RatingRequest) (rest.Event, error)
	GetTeam(ctx context.Context, id int64) (rest.Team, error)
	CreateTeam(ctx context.Context, req rest.CreateTeamRequest) (rest.Team, error)
	UpdateTeam(ctx context.Context, id int64, req rest.UpdateTeamRequest) (rest.Team, error)
	GetMessages(ctx context.Context, roomID string, limit int, before *int64) (*rest.MessagesResponse, error)
}

// Conn is the persistent channel. *eventsync.Client implements it. A Join
// that returns an error must leave no membership behind.
type Conn interface {
	Subscribe(roomID, msgType string, fn eventsync.Handler) *eventsync.Subscription
	Join(ctx context.Context, roomID string) error
	Leave(ctx context.Context, roomID string) error
	SendChat(ctx context.Context, roomID string, msg eventsync.ChatPayload) error
	Session() eventsync.Session
}

// ChatMessage is one transcript entry. Pending is set between an
// optimistic append and the server echo.
type ChatMessage struct {
	ID        int64
	RoomID    string
	SenderID  string
	Sender    string
	Body      string
	Timestamp time.Time
	Pending   bool
}

func (m ChatMessage) sameAs(o ChatMessage) bool {
	return m.SenderID == o.SenderID && m.Timestamp.Equal(o.Timestamp)
}

type entityKey struct {
	kind eventsync.EntityKind
	id   int64
}

// Store is the optimistic local state.
type Store struct {
	api    API
	conn   Conn
	logger eventsync.Logger
	now    func() time.Time

	mu          sync.Mutex
	events      map[int64]rest.Event
	teams       map[int64]rest.Team
	currentEvt  int64
	activeTeam  int64
	transcripts map[string][]ChatMessage
	versions    map[entityKey]uint64 // bumped on every write to an entity
	clock       uint64
	tempID      int64 // provisional ids for teams being created, counting down

	lmu       sync.Mutex
	nextSub   uint64
	listeners map[uint64]func(Change)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l eventsync.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now for optimistic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty store.
func New(api API, conn Conn, opts ...Option) *Store {
	s := &Store{
		api:         api,
		conn:        conn,
		logger:      eventsync.NopLogger(),
		now:         time.Now,
		events:      make(map[int64]rest.Event),
		teams:       make(map[int64]rest.Team),
		transcripts: make(map[string][]ChatMessage),
		versions:    make(map[entityKey]uint64),
		listeners:   make(map[uint64]func(Change)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events returns the event list ordered by start time.
func (s *Store) Events() []rest.Event {
	s.mu.Lock()
	out := make([]rest.Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b rest.Event) int {
		if c := a.StartsAt.Compare(b.StartsAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Event returns one event.
func (s *Store) Event(id int64) (rest.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	return e, ok
}

// CurrentEvent returns the event whose room is open or that was last loaded.
func (s *Store) CurrentEvent() (rest.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[s.currentEvt]
	return e, ok && s.currentEvt != 0
}

// Team returns one team.
func (s *Store) Team(id int64) (rest.Team, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[id]
	return t, ok
}

// ActiveTeam returns the team whose room is open, that was last loaded or created.
func (s *Store) ActiveTeam() (rest.Team, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[s.activeTeam]
	return t, ok && s.activeTeam != 0
}

// Transcript returns a copy of the chat transcript for roomID.
func (s *Store) Transcript(roomID string) []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.transcripts[roomID])
}

// OpenRoom subscribes to every broadcast type of roomID and joins it.
// Opening an event room makes it the current event; a team room makes it
// the active team. The returned close function detaches the subscribers
// before leaving, so no later broadcast for the room reaches the store.
func (s *Store) OpenRoom(ctx context.Context, roomID string) (closeRoom func(context.Context) error, err error) {
	room, err := eventsync.ParseRoom(roomID)
	if err != nil {
		return nil, err
	}

	subs := make([]*eventsync.Subscription, 0, len(eventsync.InboundTypes))
	for _, typ := range eventsync.InboundTypes {
		subs = append(subs, s.conn.Subscribe(roomID, typ, func(env eventsync.Envelope) {
			s.handle(room, env)
		}))
	}
	detach := func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}

	var focus *int64
	switch room.Kind {
	case eventsync.KindEvent:
		focus = &s.currentEvt
	case eventsync.KindTeam:
		focus = &s.activeTeam
	}
	var prev int64
	s.mu.Lock()
	if focus != nil {
		prev = *focus
		*focus = room.EntityID
	}
	s.mu.Unlock()

	if err := s.conn.Join(ctx, roomID); err != nil {
		detach()
		s.mu.Lock()
		if focus != nil && *focus == room.EntityID {
			*focus = prev
		}
		s.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			detach()
			err = s.conn.Leave(ctx, roomID)
		})
		return err
	}, nil
}

// LoadEvents replaces the event list with the server's.
func (s *Store) LoadEvents(ctx context.Context) error {
	events, err := s.api.ListEvents(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for id := range s.events {
		s.bumpLocked(entityKey{eventsync.KindEvent, id})
	}
	clear(s.events)
	for _, e := range events {
		s.events[e.ID] = e
		s.bumpLocked(entityKey{eventsync.KindEvent, e.ID})
	}
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeEventList, Entity: eventsync.KindEvent})
	return nil
}

// LoadEvent fetches one event and makes it current.
func (s *Store) LoadEvent(ctx context.Context, id int64) (rest.Event, error) {
	e, err := s.api.GetEvent(ctx, id)
	if err != nil {
		return rest.Event{}, err
	}
	s.mu.Lock()
	s.currentEvt = e.ID
	s.mu.Unlock()
	s.putEvent(e)
	return e, nil
}

// LoadTeam fetches one team and makes it active.
func (s *Store) LoadTeam(ctx context.Context, id int64) (rest.Team, error) {
	t, err := s.api.GetTeam(ctx, id)
	if err != nil {
		return rest.Team{}, err
	}
	s.mu.Lock()
	s.activeTeam = t.ID
	s.mu.Unlock()
	s.putTeam(t)
	return t, nil
}

// LoadTranscript merges up to limit messages of history into the transcript.
func (s *Store) LoadTranscript(ctx context.Context, roomID string, limit int) error {
	resp, err := s.api.GetMessages(ctx, roomID, limit, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, m := range resp.Messages {
		s.appendChatLocked(ChatMessage{
			ID:        m.ID,
			RoomID:    roomID,
			SenderID:  m.SenderID,
			Sender:    m.Sender,
			Body:      m.Body,
			Timestamp: m.Timestamp,
		})
	}
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeChat, RoomID: roomID})
	return nil
}

// putEvent replaces an event snapshot wholesale.
func (s *Store) putEvent(e rest.Event) {
	s.mu.Lock()
	s.events[e.ID] = e
	s.bumpLocked(entityKey{eventsync.KindEvent, e.ID})
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeEvent, Entity: eventsync.KindEvent, ID: e.ID})
}

// putTeam replaces a team snapshot wholesale.
func (s *Store) putTeam(t rest.Team) {
	s.mu.Lock()
	s.teams[t.ID] = t
	s.bumpLocked(entityKey{eventsync.KindTeam, t.ID})
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeTeam, Entity: eventsync.KindTeam, ID: t.ID})
}

func (s *Store) bumpLocked(k entityKey) uint64 {
	s.clock++
	s.versions[k] = s.clock
	return s.clock
}

// appendChatLocked inserts m in timestamp order unless an entry with the
// same sender and timestamp exists. A server copy replaces a pending one.
func (s *Store) appendChatLocked(m ChatMessage) bool {
	t := s.transcripts[m.RoomID]
	for i := range t {
		if !t[i].sameAs(m) {
			continue
		}
		if t[i].Pending && !m.Pending {
			t[i] = m
			return true
		}
		return false
	}
	idx := len(t)
	for idx > 0 && t[idx-1].Timestamp.After(m.Timestamp) {
		idx--
	}
	s.transcripts[m.RoomID] = slices.Insert(t, idx, m)
	return true
}
