package store

import (
	"context"
	"slices"
	"time"

	"github.com/vovakirdan/eventsync-sdk/eventsync-sdk-go/eventsync"
	"github.com/vovakirdan/eventsync-sdk/eventsync-sdk-go/eventsync/rest"
)

// JoinEvent marks the caller as a participant of event id.
func (s *Store) JoinEvent(ctx context.Context, id int64) error {
	return mutate(ctx, s, "join event", eventsync.KindEvent, s.events, id,
		func(e *rest.Event) {
			if !e.Joined {
				e.Joined = true
				e.ParticipantCount++
			}
		},
		func(ctx context.Context) (rest.Event, error) { return s.api.JoinEvent(ctx, id) },
		func(e rest.Event) int64 { return e.ID },
	)
}

// LeaveEvent removes the caller from the participants of event id.
func (s *Store) LeaveEvent(ctx context.Context, id int64) error {
	return mutate(ctx, s, "leave event", eventsync.KindEvent, s.events, id,
		func(e *rest.Event) {
			if e.Joined {
				e.Joined = false
				e.ParticipantCount = max(0, e.ParticipantCount-1)
			}
		},
		func(ctx context.Context) (rest.Event, error) { return s.api.LeaveEvent(ctx, id) },
		func(e rest.Event) int64 { return e.ID },
	)
}

// SubmitRating rates event id.
func (s *Store) SubmitRating(ctx context.Context, eventID int64, score int, comment string) error {
	me := s.conn.Session().UserID
	now := s.now().UTC()
	return mutate(ctx, s, "submit rating", eventsync.KindEvent, s.events, eventID,
		func(e *rest.Event) {
			e.Ratings = append(slices.Clone(e.Ratings), rest.Rating{
				UserID:    me,
				Score:     score,
				Comment:   comment,
				CreatedAt: now,
			})
			e.AverageRating = averageScore(e.Ratings)
		},
		func(ctx context.Context) (rest.Event, error) {
			return s.api.SubmitRating(ctx, eventID, rest.RatingRequest{Score: score, Comment: comment})
		},
		func(e rest.Event) int64 { return e.ID },
	)
}

// UpdateTeam renames or re-describes team id.
func (s *Store) UpdateTeam(ctx context.Context, id int64, req rest.UpdateTeamRequest) error {
	return mutate(ctx, s, "update team", eventsync.KindTeam, s.teams, id,
		func(t *rest.Team) {
			if req.Name != nil {
				t.Name = *req.Name
			}
			if req.Description != nil {
				t.Description = *req.Description
			}
		},
		func(ctx context.Context) (rest.Team, error) { return s.api.UpdateTeam(ctx, id, req) },
		func(t rest.Team) int64 { return t.ID },
	)
}

// CreateTeam shows the new team as active under a provisional negative id
// until the server assigns the real one.
func (s *Store) CreateTeam(ctx context.Context, req rest.CreateTeamRequest) (rest.Team, error) {
	me := s.conn.Session().UserID

	s.mu.Lock()
	s.tempID--
	tmp := s.tempID
	prevActive := s.activeTeam
	s.teams[tmp] = rest.Team{
		ID:          tmp,
		EventID:     req.EventID,
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     me,
		Members:     []rest.TeamMember{{UserID: me}},
	}
	s.activeTeam = tmp
	s.bumpLocked(entityKey{eventsync.KindTeam, tmp})
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeTeam, Entity: eventsync.KindTeam, ID: tmp, Optimistic: true})

	team, err := s.api.CreateTeam(ctx, req)

	s.mu.Lock()
	delete(s.teams, tmp)
	delete(s.versions, entityKey{eventsync.KindTeam, tmp})
	if err != nil {
		if s.activeTeam == tmp {
			s.activeTeam = prevActive
		}
		s.mu.Unlock()
		return rest.Team{}, s.fail("create team", eventsync.KindTeam, tmp, err)
	}
	if s.activeTeam == tmp {
		s.activeTeam = team.ID
	}
	s.mu.Unlock()
	s.putTeam(team)
	return team, nil
}

// SendChat appends the message to the transcript and sends it. The server
// echo carries the same sender and timestamp and collapses into this entry;
// a send failure removes it.
func (s *Store) SendChat(ctx context.Context, roomID, body string) (ChatMessage, error) {
	me := s.conn.Session().UserID
	m := ChatMessage{
		RoomID:    roomID,
		SenderID:  me,
		Body:      body,
		Timestamp: s.now().UTC().Truncate(time.Millisecond),
		Pending:   true,
	}

	s.mu.Lock()
	s.appendChatLocked(m)
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeChat, RoomID: roomID, UserID: me, Optimistic: true})

	err := s.conn.SendChat(ctx, roomID, eventsync.ChatPayload{
		SenderID:  me,
		Body:      body,
		Timestamp: m.Timestamp,
	})
	if err == nil {
		return m, nil
	}

	s.mu.Lock()
	t := s.transcripts[roomID]
	if i := slices.IndexFunc(t, m.sameAs); i >= 0 && t[i].Pending {
		s.transcripts[roomID] = slices.Delete(t, i, i+1)
	}
	s.mu.Unlock()
	return ChatMessage{}, s.fail("send chat", "", 0, err, roomID)
}

// mutate runs one optimistic mutation against the snapshot map m:
// snapshot, tentative apply, authoritative call, then wholesale replace on
// success or restore on failure. Entities not loaded yet skip the
// tentative step.
func mutate[T any](
	ctx context.Context,
	s *Store,
	op string,
	kind eventsync.EntityKind,
	m map[int64]T,
	id int64,
	apply func(*T),
	call func(context.Context) (T, error),
	idOf func(T) int64,
) error {
	key := entityKey{kind, id}

	s.mu.Lock()
	prev, had := m[id]
	var ver uint64
	if had {
		next := prev
		apply(&next)
		m[id] = next
		ver = s.bumpLocked(key)
	}
	s.mu.Unlock()
	if had {
		s.publish(Change{Kind: changeFor(kind), Entity: kind, ID: id, Optimistic: true})
	}

	resp, err := call(ctx)
	if err != nil {
		if had {
			s.mu.Lock()
			if s.versions[key] == ver {
				m[id] = prev
				s.bumpLocked(key)
			} else {
				s.logger.Debug("rollback skipped, entity superseded", map[string]any{"op": op, "id": id})
			}
			s.mu.Unlock()
		}
		return s.fail(op, kind, id, err)
	}

	rid := idOf(resp)
	s.mu.Lock()
	m[rid] = resp
	s.bumpLocked(entityKey{kind, rid})
	s.mu.Unlock()
	s.publish(Change{Kind: changeFor(kind), Entity: kind, ID: rid})
	return nil
}

func changeFor(kind eventsync.EntityKind) ChangeKind {
	if kind == eventsync.KindTeam {
		return ChangeTeam
	}
	return ChangeEvent
}

// fail wraps err as a mutation error and tells subscribers about the rollback.
func (s *Store) fail(op string, kind eventsync.EntityKind, id int64, err error, room ...string) error {
	merr := &eventsync.SyncError{Code: eventsync.ErrorMutation, Message: op + " failed", Wrapped: err}
	if len(room) > 0 {
		merr.RoomID = room[0]
	}
	s.logger.Warn("mutation rolled back", map[string]any{"op": op, "id": id, "error": err.Error()})
	s.publish(Change{Kind: ChangeRollback, Entity: kind, ID: id, RoomID: merr.RoomID, Err: merr})
	return merr
}

func averageScore(rs []rest.Rating) float64 {
	if len(rs) == 0 {
		return 0
	}
	sum := 0
	for _, r := range rs {
		sum += r.Score
	}
	return float64(sum) / float64(len(rs))
}
