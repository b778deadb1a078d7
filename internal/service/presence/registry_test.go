package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatlink-backend/internal/protocol"
)

// fakeConn records every event sent to it
type fakeConn struct {
	id     uuid.UUID
	userID uuid.UUID

	mu     sync.Mutex
	events []*protocol.Event
	fail   bool
}

func newFakeConn(userID uuid.UUID) *fakeConn {
	return &fakeConn{id: uuid.New(), userID: userID}
}

func (c *fakeConn) ID() uuid.UUID     { return c.id }
func (c *fakeConn) UserID() uuid.UUID { return c.userID }

func (c *fakeConn) Send(ev *protocol.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return assert.AnError
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) received() []*protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*protocol.Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *fakeConn) countType(eventType string) int {
	n := 0
	for _, ev := range c.received() {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

// transitionRecorder captures presence transitions
type transitionRecorder struct {
	mu     sync.Mutex
	online []uuid.UUID
	offline []uuid.UUID
}

func (t *transitionRecorder) handle(userID uuid.UUID, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if online {
		t.online = append(t.online, userID)
	} else {
		t.offline = append(t.offline, userID)
	}
}

func (t *transitionRecorder) counts() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.online), len(t.offline)
}

func TestRegistry_IsOnlineTracksHandleSet(t *testing.T) {
	reg := NewRegistry(0)
	userID := uuid.New()

	assert.False(t, reg.IsOnline(userID))
	assert.Empty(t, reg.HandlesFor(userID))

	c1 := newFakeConn(userID)
	c2 := newFakeConn(userID)

	reg.Register(c1)
	assert.True(t, reg.IsOnline(userID))

	reg.Register(c2)
	assert.True(t, reg.IsOnline(userID))
	assert.Len(t, reg.HandlesFor(userID), 2)

	reg.Unregister(c1)
	assert.True(t, reg.IsOnline(userID))

	reg.Unregister(c2)
	assert.False(t, reg.IsOnline(userID))
	assert.Empty(t, reg.HandlesFor(userID))
}

func TestRegistry_RegisterIdempotentPerHandle(t *testing.T) {
	reg := NewRegistry(0)
	rec := &transitionRecorder{}
	reg.SetTransitionHandler(rec.handle)

	conn := newFakeConn(uuid.New())
	reg.Register(conn)
	reg.Register(conn)

	online, offline := rec.counts()
	assert.Equal(t, 1, online)
	assert.Equal(t, 0, offline)
	assert.Len(t, reg.HandlesFor(conn.UserID()), 1)
}

func TestRegistry_TransitionOncePerMembershipChange(t *testing.T) {
	reg := NewRegistry(0)
	rec := &transitionRecorder{}
	reg.SetTransitionHandler(rec.handle)

	userID := uuid.New()
	c1 := newFakeConn(userID)
	c2 := newFakeConn(userID)

	reg.Register(c1)
	reg.Register(c2) // second device, no transition

	online, offline := rec.counts()
	require.Equal(t, 1, online)
	require.Equal(t, 0, offline)

	reg.Unregister(c1) // still online, no transition
	online, offline = rec.counts()
	require.Equal(t, 1, online)
	require.Equal(t, 0, offline)

	reg.Unregister(c2) // last handle gone
	online, offline = rec.counts()
	assert.Equal(t, 1, online)
	assert.Equal(t, 1, offline)
}

func TestRegistry_UnknownHandleIsNoOp(t *testing.T) {
	reg := NewRegistry(0)
	rec := &transitionRecorder{}
	reg.SetTransitionHandler(rec.handle)

	assert.NotPanics(t, func() {
		reg.Unregister(newFakeConn(uuid.New()))
	})

	online, offline := rec.counts()
	assert.Equal(t, 0, online)
	assert.Equal(t, 0, offline)
}

func TestRegistry_GraceAbsorbsRapidReconnect(t *testing.T) {
	reg := NewRegistry(100 * time.Millisecond)
	rec := &transitionRecorder{}
	reg.SetTransitionHandler(rec.handle)

	userID := uuid.New()
	c1 := newFakeConn(userID)
	reg.Register(c1)
	reg.Unregister(c1)

	// Reconnect within the grace window
	c2 := newFakeConn(userID)
	reg.Register(c2)

	time.Sleep(250 * time.Millisecond)

	online, offline := rec.counts()
	assert.Equal(t, 1, online, "reconnect must not fire a second online transition")
	assert.Equal(t, 0, offline, "reconnect within grace must suppress the offline transition")
	assert.True(t, reg.IsOnline(userID))
}

func TestRegistry_GraceExpiryFiresOffline(t *testing.T) {
	reg := NewRegistry(50 * time.Millisecond)
	rec := &transitionRecorder{}
	reg.SetTransitionHandler(rec.handle)

	conn := newFakeConn(uuid.New())
	reg.Register(conn)
	reg.Unregister(conn)

	assert.Eventually(t, func() bool {
		_, offline := rec.counts()
		return offline == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRegistry_DeliverLocalSkipsFailedSends(t *testing.T) {
	reg := NewRegistry(0)
	userID := uuid.New()

	healthy := newFakeConn(userID)
	broken := newFakeConn(userID)
	broken.fail = true

	reg.Register(healthy)
	reg.Register(broken)

	delivered := reg.DeliverLocal(userID, protocol.NewError("TEST", "probe"))

	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, healthy.countType(protocol.EventError))
}
