package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/eventsync-sdk/eventsync-sdk-go/eventsync"
	"github.com/vovakirdan/eventsync-sdk/eventsync-sdk-go/eventsync/rest"
)

// fakeAPI answers from fixed snapshots. inFlight runs while a command is
// outstanding, before the answer is returned.
type fakeAPI struct {
	events   map[int64]rest.Event
	teams    map[int64]rest.Team
	messages []rest.MessageInfo
	err      error
	inFlight func()
	nextTeam int64
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		events:   make(map[int64]rest.Event),
		teams:    make(map[int64]rest.Team),
		nextTeam: 100,
	}
}

func (a *fakeAPI) answer() error {
	if a.inFlight != nil {
		a.inFlight()
	}
	return a.err
}

func (a *fakeAPI) ListEvents(context.Context) ([]rest.Event, error) {
	if a.err != nil {
		return nil, a.err
	}
	out := make([]rest.Event, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e)
	}
	return out, nil
}

func (a *fakeAPI) GetEvent(_ context.Context, id int64) (rest.Event, error) {
	if a.err != nil {
		return rest.Event{}, a.err
	}
	return a.events[id], nil
}

func (a *fakeAPI) JoinEvent(_ context.Context, id int64) (rest.Event, error) {
	if err := a.answer(); err != nil {
		return rest.Event{}, err
	}
	e := a.events[id]
	e.Joined = true
	e.ParticipantCount++
	a.events[id] = e
	return e, nil
}

func (a *fakeAPI) LeaveEvent(_ context.Context, id int64) (rest.Event, error) {
	if err := a.answer(); err != nil {
		return rest.Event{}, err
	}
	e := a.events[id]
	e.Joined = false
	e.ParticipantCount--
	a.events[id] = e
	return e, nil
}

func (a *fakeAPI) SubmitRating(_ context.Context, id int64, req rest.RatingRequest) (rest.Event, error) {
	if err := a.answer(); err != nil {
		return rest.Event{}, err
	}
	e := a.events[id]
	e.Ratings = append(e.Ratings, rest.Rating{UserID: "u-1", Score: req.Score, Comment: req.Comment})
	e.AverageRating = averageScore(e.Ratings)
	a.events[id] = e
	return e, nil
}

func (a *fakeAPI) GetTeam(_ context.Context, id int64) (rest.Team, error) {
	if a.err != nil {
		return rest.Team{}, a.err
	}
	return a.teams[id], nil
}

func (a *fakeAPI) CreateTeam(_ context.Context, req rest.CreateTeamRequest) (rest.Team, error) {
	if err := a.answer(); err != nil {
		return rest.Team{}, err
	}
	a.nextTeam++
	t := rest.Team{ID: a.nextTeam, EventID: req.EventID, Name: req.Name, OwnerID: "u-1"}
	a.teams[t.ID] = t
	return t, nil
}

func (a *fakeAPI) UpdateTeam(_ context.Context, id int64, req rest.UpdateTeamRequest) (rest.Team, error) {
	if err := a.answer(); err != nil {
		return rest.Team{}, err
	}
	t := a.teams[id]
	if req.Name != nil {
		t.Name = *req.Name
	}
	a.teams[id] = t
	return t, nil
}

func (a *fakeAPI) GetMessages(context.Context, string, int, *int64) (*rest.MessagesResponse, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &rest.MessagesResponse{Messages: a.messages}, nil
}

// fakeConn routes broadcasts through a real dispatcher.
type fakeConn struct {
	d       *eventsync.Dispatcher
	sendErr error
	joinErr error
	onLeave func(roomID string)

	mu     sync.Mutex
	joined []string
	left   []string
	chats  []eventsync.ChatPayload
}

func newFakeConn() *fakeConn {
	return &fakeConn{d: eventsync.NewDispatcher(nil)}
}

func (c *fakeConn) Subscribe(roomID, msgType string, fn eventsync.Handler) *eventsync.Subscription {
	return c.d.Subscribe(roomID, msgType, fn)
}

func (c *fakeConn) Join(_ context.Context, roomID string) error {
	if c.joinErr != nil {
		return c.joinErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = append(c.joined, roomID)
	return nil
}

func (c *fakeConn) Leave(_ context.Context, roomID string) error {
	if c.onLeave != nil {
		c.onLeave(roomID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.left = append(c.left, roomID)
	return nil
}

func (c *fakeConn) SendChat(_ context.Context, _ string, msg eventsync.ChatPayload) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats = append(c.chats, msg)
	return nil
}

func (c *fakeConn) Session() eventsync.Session {
	return eventsync.Session{SessionID: "s-1", UserID: "u-1", State: eventsync.StateConnected}
}

func (c *fakeConn) broadcast(t *testing.T, typ, roomID string, payload any) {
	t.Helper()
	env, err := eventsync.NewEnvelope(typ, roomID, payload)
	require.NoError(t, err)
	c.d.Dispatch(env)
}

var epoch = time.Date(2026, 3, 14, 18, 30, 0, 123456789, time.UTC)

func newTestStore(t *testing.T) (*Store, *fakeAPI, *fakeConn, *[]Change) {
	t.Helper()
	api := newFakeAPI()
	conn := newFakeConn()
	s := New(api, conn, WithClock(func() time.Time { return epoch }))
	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })
	return s, api, conn, &changes
}

func kinds(changes []Change) []ChangeKind {
	out := make([]ChangeKind, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.Kind)
	}
	return out
}
