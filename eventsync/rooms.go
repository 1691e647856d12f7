package eventsync

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// roomConn is the part of Client the registry needs.
type roomConn interface {
	connected() bool
	send(ctx context.Context, env Envelope) error
	emitError(err error)
}

type opKey struct {
	op     string
	roomID string
}

// RoomRegistry is the set of rooms the client should be in. It is the
// source of truth for what is active: after every (re)connect it replays a
// join for each member room, whatever the transport did meanwhile.
type RoomRegistry struct {
	conn   roomConn
	logger Logger

	mu      sync.Mutex
	seq     uint64
	members map[string]uint64 // room id -> join order
	retried map[opKey]bool    // ops already retried once after a rejection
}

func newRoomRegistry(conn roomConn, logger Logger) *RoomRegistry {
	return &RoomRegistry{
		conn:    conn,
		logger:  logger,
		members: make(map[string]uint64),
		retried: make(map[opKey]bool),
	}
}

// Join records membership of roomID and tells the server if connected.
// Joining a room twice is a no-op. While disconnected the join is sent on
// the next connect. If the join could not be queued at all (ctx done) the
// membership is dropped again and the error returned.
func (r *RoomRegistry) Join(ctx context.Context, roomID string) error {
	if roomID == "" {
		return NewError(ErrorBadRequest, "empty room id")
	}
	r.mu.Lock()
	if _, ok := r.members[roomID]; ok {
		r.mu.Unlock()
		return nil
	}
	r.seq++
	seq := r.seq
	r.members[roomID] = seq
	delete(r.retried, opKey{TypeJoinRoom, roomID})
	r.mu.Unlock()

	if err := r.sendOp(ctx, TypeJoinRoom, roomID); err != nil {
		r.mu.Lock()
		if r.members[roomID] == seq {
			delete(r.members, roomID)
		}
		r.mu.Unlock()
		return err
	}
	r.logger.Debug("joined room", map[string]any{"room": roomID})
	return nil
}

// Leave drops membership of roomID and tells the server if connected.
// Leaving a room that is not a member sends nothing. A leave that could not
// be queued restores the membership.
func (r *RoomRegistry) Leave(ctx context.Context, roomID string) error {
	r.mu.Lock()
	seq, ok := r.members[roomID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.members, roomID)
	delete(r.retried, opKey{TypeJoinRoom, roomID})
	delete(r.retried, opKey{TypeLeaveRoom, roomID})
	r.mu.Unlock()

	if err := r.sendOp(ctx, TypeLeaveRoom, roomID); err != nil {
		r.mu.Lock()
		if _, rejoined := r.members[roomID]; !rejoined {
			r.members[roomID] = seq
		}
		r.mu.Unlock()
		return err
	}
	r.logger.Debug("left room", map[string]any{"room": roomID})
	return nil
}

// IsMember reports whether roomID is in the membership set.
func (r *RoomRegistry) IsMember(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[roomID]
	return ok
}

// Members returns the member rooms in join order.
func (r *RoomRegistry) Members() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orderedLocked()
}

func (r *RoomRegistry) orderedLocked() []string {
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b string) int {
		return cmp.Compare(r.members[a], r.members[b])
	})
	return out
}

// sendOp sends a control message if connected. Transport failures are not
// returned: membership is already recorded and the next connect replays it.
func (r *RoomRegistry) sendOp(ctx context.Context, op, roomID string) error {
	if !r.conn.connected() {
		return nil
	}
	env, err := NewEnvelope(op, "", RoomPayload{RoomID: roomID, Ref: uuid.NewString()})
	if err != nil {
		return err
	}
	if err := r.conn.send(ctx, env); err != nil {
		if IsTransportError(err) {
			r.logger.Debug("control message deferred", map[string]any{"op": op, "room": roomID, "error": err.Error()})
			return nil
		}
		return err
	}
	return nil
}

// replay re-issues a join for every member room. Called on every
// transition into StateConnected.
func (r *RoomRegistry) replay(ctx context.Context) {
	r.mu.Lock()
	rooms := r.orderedLocked()
	clear(r.retried)
	r.mu.Unlock()

	if len(rooms) > 0 {
		r.logger.Info("replaying room membership", map[string]any{"rooms": len(rooms)})
	}
	for _, id := range rooms {
		if err := r.sendOp(ctx, TypeJoinRoom, id); err != nil {
			r.logger.Warn("replay join failed", map[string]any{"room": id, "error": err.Error()})
		}
	}
}

// rejected handles a server rejection of a join or leave. The first
// rejection is retried silently; the second is surfaced. A join that stays
// rejected is removed from the set.
func (r *RoomRegistry) rejected(ctx context.Context, p ErrorPayload) {
	key := opKey{op: p.Op, roomID: p.RoomID}

	r.mu.Lock()
	_, member := r.members[p.RoomID]
	if (p.Op == TypeJoinRoom && !member) || (p.Op == TypeLeaveRoom && member) {
		// superseded by a later local join/leave
		delete(r.retried, key)
		r.mu.Unlock()
		return
	}
	if !r.retried[key] {
		r.retried[key] = true
		r.mu.Unlock()
		r.logger.Warn("room operation rejected, retrying", map[string]any{"op": p.Op, "room": p.RoomID, "code": p.Code})
		if err := r.sendOp(ctx, p.Op, p.RoomID); err != nil {
			r.logger.Warn("room operation retry failed", map[string]any{"op": p.Op, "room": p.RoomID, "error": err.Error()})
		}
		return
	}
	delete(r.retried, key)
	if p.Op == TypeJoinRoom {
		delete(r.members, p.RoomID)
	}
	r.mu.Unlock()

	r.conn.emitError(&SyncError{
		Code:    ErrorRoomOperation,
		Message: p.Op + " rejected",
		RoomID:  p.RoomID,
		Wrapped: FromProtocolError(&p),
	})
}

// reset forgets all membership without sending anything.
func (r *RoomRegistry) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.members)
	clear(r.retried)
}
