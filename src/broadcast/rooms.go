// Package broadcast implements the room registry: join/leave/emit/disconnect
// over named rooms, plus the gorilla/websocket transport and optional
// cross-replica replication built on top of it.
package broadcast

import (
	"sync"

	"overlaycore/src/metrics"
)

// SessionID identifies one live connection. google/uuid values rather than
// raw *websocket.Conn pointers, so Registry can be exercised and tested
// without a live socket.
type SessionID string

// Sender delivers one named event to one session. *connSender (server.go)
// is the gorilla/websocket-backed implementation; tests use fakes.
type Sender interface {
	Send(event string, payload any) error
}

// Registry holds room membership: which sessions are in which rooms, and
// how to reach each session. All public methods are safe for concurrent
// use. Emit snapshots the target room under lock and delivers outside it,
// so a slow session never blocks Join/Leave/Disconnect or other callers
// waiting on the lock. Delivery to a room's sessions is sequential within
// one Emit call: a Send that blocks delays the sessions after it, and a
// Send that fails does not stop delivery to the rest.
type Registry struct {
	mu       sync.Mutex
	sessions map[SessionID]Sender
	rooms    map[string]map[SessionID]struct{}
	joined   map[SessionID]map[string]struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[SessionID]Sender),
		rooms:    make(map[string]map[SessionID]struct{}),
		joined:   make(map[SessionID]map[string]struct{}),
	}
}

// Register records how to reach session, independent of room membership —
// a session must be reachable for the `joined`/`error` replies even before
// (or when) no join ever succeeds.
func (r *Registry) Register(session SessionID, sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session] = sender
	metrics.ActiveSessions.Inc()
}

// Join adds session to room. Idempotent. session must have been
// Register'd first.
func (r *Registry) Join(session SessionID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[SessionID]struct{})
		r.rooms[room] = members
	}
	members[session] = struct{}{}

	rooms, ok := r.joined[session]
	if !ok {
		rooms = make(map[string]struct{})
		r.joined[session] = rooms
	}
	rooms[room] = struct{}{}
}

// Leave removes session from room. Idempotent.
func (r *Registry) Leave(session SessionID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(session, room)
}

func (r *Registry) leaveLocked(session SessionID, room string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, session)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if rooms, ok := r.joined[session]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.joined, session)
		}
	}
}

// Disconnect removes session from every room it had joined and forgets how
// to reach it. Pending emits already snapshotted before Disconnect runs are
// delivered or dropped independently of it.
func (r *Registry) Disconnect(session SessionID) {
	r.mu.Lock()
	_, existed := r.sessions[session]
	rooms := r.joined[session]
	for room := range rooms {
		if members, ok := r.rooms[room]; ok {
			delete(members, session)
			if len(members) == 0 {
				delete(r.rooms, room)
			}
		}
	}
	delete(r.joined, session)
	delete(r.sessions, session)
	r.mu.Unlock()

	if existed {
		metrics.ActiveSessions.Dec()
	}
}

// RoomsOf lists every room session currently belongs to.
func (r *Registry) RoomsOf(session SessionID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := r.joined[session]
	out := make([]string, 0, len(rooms))
	for room := range rooms {
		out = append(out, room)
	}
	return out
}

// Emit delivers event/payload to every session currently in room. Delivery
// to a single session is FIFO with respect to other Emit calls that race
// this one only if the caller serializes them; across sessions there is no
// ordering guarantee. A delivery error is logged by the caller (server.go)
// and does not stop fan-out to other sessions.
func (r *Registry) Emit(room, event string, payload any) []error {
	r.mu.Lock()
	members := r.rooms[room]
	targets := make([]Sender, 0, len(members))
	for session := range members {
		if sender, ok := r.sessions[session]; ok {
			targets = append(targets, sender)
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, sender := range targets {
		if err := sender.Send(event, payload); err != nil {
			errs = append(errs, err)
			metrics.BroadcastEmitTotal.WithLabelValues(event, "error").Inc()
			continue
		}
		metrics.BroadcastEmitTotal.WithLabelValues(event, "success").Inc()
	}
	return errs
}

// EmitTo delivers event/payload to exactly one session, used for the
// join-response `joined`/`error` events which target only the joining
// session. It works whether or not session has joined any room yet, as
// long as it has been Register'd.
func (r *Registry) EmitTo(session SessionID, event string, payload any) error {
	r.mu.Lock()
	sender, ok := r.sessions[session]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return sender.Send(event, payload)
}
