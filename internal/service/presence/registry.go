package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatlink-backend/internal/protocol"
	"chatlink-backend/pkg/metrics"
)

// Conn is one live transport session bound to a user identity. The WebSocket
// layer implements it; the core only needs identity and an ordered send.
type Conn interface {
	ID() uuid.UUID
	UserID() uuid.UUID
	Send(ev *protocol.Event) error
}

// Relay forwards events to sibling nodes holding handles for the same users.
// Implementations must not block on delivery.
type Relay interface {
	PublishToUser(ctx context.Context, userID uuid.UUID, ev *protocol.Event)
	PublishPresence(ctx context.Context)
}

// TransitionHandler is invoked after a user's online/offline membership
// actually changes, exactly once per transition. Called without registry
// locks held.
type TransitionHandler func(userID uuid.UUID, online bool)

// Registry maps user identities to their live connection handles. It is the
// authoritative source of presence: online means at least one live handle.
// Mutations for different users proceed independently; per-user updates are
// atomic under the registry lock.
type Registry struct {
	mu             sync.RWMutex
	conns          map[uuid.UUID]map[uuid.UUID]Conn
	pendingOffline map[uuid.UUID]*time.Timer

	graceDelay   time.Duration
	onTransition TransitionHandler
	relay        Relay
}

// NewRegistry creates a connection registry. graceDelay absorbs rapid
// reconnects before an offline transition is published; zero disables the
// grace window.
func NewRegistry(graceDelay time.Duration) *Registry {
	return &Registry{
		conns:          make(map[uuid.UUID]map[uuid.UUID]Conn),
		pendingOffline: make(map[uuid.UUID]*time.Timer),
		graceDelay:     graceDelay,
	}
}

// SetTransitionHandler installs the presence transition callback. Must be
// called before the registry starts receiving connections.
func (r *Registry) SetTransitionHandler(h TransitionHandler) {
	r.onTransition = h
}

// SetRelay installs the cross-node relay. Optional; single-node deployments
// run without one.
func (r *Registry) SetRelay(relay Relay) {
	r.relay = relay
}

// Register adds a handle to the user's live set. Idempotent per handle.
// The user's first live handle triggers an online transition unless the user
// is inside the offline grace window of a previous disconnect.
func (r *Registry) Register(conn Conn) {
	userID := conn.UserID()

	r.mu.Lock()
	handles, ok := r.conns[userID]
	if !ok {
		handles = make(map[uuid.UUID]Conn)
		r.conns[userID] = handles
	}
	if _, dup := handles[conn.ID()]; dup {
		r.mu.Unlock()
		return
	}

	wasOnline := len(handles) > 0
	handles[conn.ID()] = conn

	cameOnline := false
	if !wasOnline {
		if timer, pending := r.pendingOffline[userID]; pending {
			// Reconnect within the grace window: the user never went
			// offline publicly, so no transition fires either way.
			timer.Stop()
			delete(r.pendingOffline, userID)
		} else {
			cameOnline = true
		}
	}
	r.mu.Unlock()

	metrics.WSConnectionsActive.Inc()
	if cameOnline {
		metrics.UsersOnline.Inc()
		if r.onTransition != nil {
			r.onTransition(userID, true)
		}
	}
}

// Unregister removes a handle. Unknown handles are no-ops, never errors.
// Removing the user's last handle schedules an offline transition after the
// grace delay; a reconnect in the meantime cancels it.
func (r *Registry) Unregister(conn Conn) {
	userID := conn.UserID()

	r.mu.Lock()
	handles, ok := r.conns[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, exists := handles[conn.ID()]; !exists {
		r.mu.Unlock()
		return
	}

	delete(handles, conn.ID())
	nowEmpty := len(handles) == 0
	if nowEmpty {
		delete(r.conns, userID)
	}

	immediate := false
	if nowEmpty {
		if r.graceDelay <= 0 {
			immediate = true
		} else {
			r.scheduleOfflineLocked(userID)
		}
	}
	r.mu.Unlock()

	metrics.WSConnectionsActive.Dec()
	if immediate {
		metrics.UsersOnline.Dec()
		if r.onTransition != nil {
			r.onTransition(userID, false)
		}
	}
}

// scheduleOfflineLocked arms the grace timer for a user whose last handle
// just closed. Caller must hold the write lock.
func (r *Registry) scheduleOfflineLocked(userID uuid.UUID) {
	if timer, pending := r.pendingOffline[userID]; pending {
		timer.Stop()
	}
	r.pendingOffline[userID] = time.AfterFunc(r.graceDelay, func() {
		r.mu.Lock()
		if _, pending := r.pendingOffline[userID]; !pending {
			r.mu.Unlock()
			return
		}
		delete(r.pendingOffline, userID)
		if len(r.conns[userID]) > 0 {
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()

		metrics.UsersOnline.Dec()
		if r.onTransition != nil {
			r.onTransition(userID, false)
		}
	})
}

// IsOnline reports whether the user has at least one live handle
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// HandlesFor returns the user's live handles, possibly empty
func (r *Registry) HandlesFor(userID uuid.UUID) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]Conn, 0, len(r.conns[userID]))
	for _, conn := range r.conns[userID] {
		handles = append(handles, conn)
	}
	return handles
}

// OnlineIDs returns a snapshot of every user with at least one live handle
func (r *Registry) OnlineIDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(r.conns))
	for userID, handles := range r.conns {
		if len(handles) > 0 {
			ids = append(ids, userID)
		}
	}
	return ids
}

// Conns returns a snapshot of every live handle across all users
func (r *Registry) Conns() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]Conn, 0)
	for _, handles := range r.conns {
		for _, conn := range handles {
			all = append(all, conn)
		}
	}
	return all
}

// DeliverLocal sends an event to every local handle of the user and returns
// the number of handles reached. Send failures are counted, not propagated:
// a slow or dead consumer never blocks routing.
func (r *Registry) DeliverLocal(userID uuid.UUID, ev *protocol.Event) int {
	delivered := 0
	for _, conn := range r.HandlesFor(userID) {
		if err := conn.Send(ev); err != nil {
			metrics.EventsDroppedTotal.WithLabelValues("send_failed").Inc()
			continue
		}
		delivered++
	}
	if delivered > 0 {
		metrics.EventsDeliveredTotal.WithLabelValues(ev.Type).Add(float64(delivered))
	}
	return delivered
}

// DeliverToUser fans an event out to the user's local handles and relays it
// to sibling nodes
func (r *Registry) DeliverToUser(ctx context.Context, userID uuid.UUID, ev *protocol.Event) int {
	delivered := r.DeliverLocal(userID, ev)
	if r.relay != nil {
		r.relay.PublishToUser(ctx, userID, ev)
	}
	return delivered
}

// Broadcast sends an event to every local handle
func (r *Registry) Broadcast(ev *protocol.Event) {
	delivered := 0
	for _, conn := range r.Conns() {
		if err := conn.Send(ev); err != nil {
			metrics.EventsDroppedTotal.WithLabelValues("send_failed").Inc()
			continue
		}
		delivered++
	}
	if delivered > 0 {
		metrics.EventsDeliveredTotal.WithLabelValues(ev.Type).Add(float64(delivered))
	}
}
