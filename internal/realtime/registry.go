package realtime

import (
	"log"
	"sync"

	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

// Broadcaster is the emission surface the rest of the application sees.
// REST handlers, services and the background worker all push events
// through it without knowing about sockets.
type Broadcaster interface {
	// BroadcastToOrder delivers an event to every session currently
	// joined to the order's room, except sessions of the excluded users.
	BroadcastToOrder(orderID utils.SixID, envelope *Envelope, exclude ...utils.SixID)
	// SendToUser delivers an event to every session the user has open,
	// joined to a room or not.
	SendToUser(userID utils.SixID, envelope *Envelope)
}

// session is one live websocket connection. The registry owns room
// membership; the gateway owns the connection itself.
type session struct {
	userID utils.SixID
	send   chan *Envelope

	closeOnce sync.Once
}

// close shuts the send channel exactly once. The gateway's write pump
// exits when the channel drains.
func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.send)
	})
}

// enqueue attempts a non-blocking delivery. A full queue means the
// client is not reading; the session is cut rather than letting one
// slow consumer stall a room.
func (s *session) enqueue(envelope *Envelope) bool {
	select {
	case s.send <- envelope:
		return true
	default:
		return false
	}
}

// Registry tracks which sessions are joined to which order rooms, and
// all sessions per user. All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[utils.SixID]map[*session]struct{} // orderID -> sessions
	users    map[utils.SixID]map[*session]struct{} // userID -> sessions
	sessions map[*session]map[utils.SixID]struct{} // session -> joined orderIDs
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[utils.SixID]map[*session]struct{}),
		users:    make(map[utils.SixID]map[*session]struct{}),
		sessions: make(map[*session]map[utils.SixID]struct{}),
	}
}

// register adds a freshly authenticated session.
func (r *Registry) register(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.users[s.userID] == nil {
		r.users[s.userID] = make(map[*session]struct{})
	}
	r.users[s.userID][s] = struct{}{}
	r.sessions[s] = make(map[utils.SixID]struct{})
}

// unregister removes a session from every room and from the user index,
// then closes its send channel. Safe to call more than once.
func (r *Registry) unregister(s *session) {
	r.mu.Lock()
	for orderID := range r.sessions[s] {
		r.removeFromRoomLocked(orderID, s)
	}
	delete(r.sessions, s)
	if peers := r.users[s.userID]; peers != nil {
		delete(peers, s)
		if len(peers) == 0 {
			delete(r.users, s.userID)
		}
	}
	r.mu.Unlock()

	s.close()
}

// join adds the session to an order room. Authorization has already
// happened in the gateway; the registry is bookkeeping only.
func (r *Registry) join(s *session, orderID utils.SixID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, known := r.sessions[s]; !known {
		return // already unregistered, ignore the late join
	}
	if r.rooms[orderID] == nil {
		r.rooms[orderID] = make(map[*session]struct{})
	}
	r.rooms[orderID][s] = struct{}{}
	r.sessions[s][orderID] = struct{}{}
}

// leave removes the session from one order room.
func (r *Registry) leave(s *session, orderID utils.SixID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeFromRoomLocked(orderID, s)
	if joined := r.sessions[s]; joined != nil {
		delete(joined, orderID)
	}
}

func (r *Registry) removeFromRoomLocked(orderID utils.SixID, s *session) {
	if room := r.rooms[orderID]; room != nil {
		delete(room, s)
		if len(room) == 0 {
			delete(r.rooms, orderID)
		}
	}
}

// RoomSize returns the number of sessions joined to an order room.
func (r *Registry) RoomSize(orderID utils.SixID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[orderID])
}

// BroadcastToOrder implements Broadcaster.
func (r *Registry) BroadcastToOrder(orderID utils.SixID, envelope *Envelope, exclude ...utils.SixID) {
	r.mu.RLock()
	targets := r.collectRoomLocked(orderID, exclude)
	r.mu.RUnlock()

	r.deliver(targets, envelope)
}

// SendToUser implements Broadcaster.
func (r *Registry) SendToUser(userID utils.SixID, envelope *Envelope) {
	r.mu.RLock()
	targets := make([]*session, 0, len(r.users[userID]))
	for s := range r.users[userID] {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	r.deliver(targets, envelope)
}

func (r *Registry) collectRoomLocked(orderID utils.SixID, exclude []utils.SixID) []*session {
	room := r.rooms[orderID]
	targets := make([]*session, 0, len(room))
	for s := range room {
		skip := false
		for _, ex := range exclude {
			if s.userID == ex {
				skip = true
				break
			}
		}
		if !skip {
			targets = append(targets, s)
		}
	}
	return targets
}

// deliver enqueues outside the lock so a full send queue never blocks
// the registry. Sessions that refuse the event are unregistered.
func (r *Registry) deliver(targets []*session, envelope *Envelope) {
	for _, s := range targets {
		if !s.enqueue(envelope) {
			log.Printf("Dropping slow websocket session for user %s", s.userID.String())
			r.unregister(s)
		}
	}
}
