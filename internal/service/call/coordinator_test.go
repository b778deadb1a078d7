package call

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatlink-backend/internal/domain"
	"chatlink-backend/internal/protocol"
	"chatlink-backend/internal/service/presence"
	apperrors "chatlink-backend/pkg/errors"
)

type fakeConn struct {
	id     uuid.UUID
	userID uuid.UUID

	mu     sync.Mutex
	events []*protocol.Event
}

func newFakeConn(userID uuid.UUID) *fakeConn {
	return &fakeConn{id: uuid.New(), userID: userID}
}

func (c *fakeConn) ID() uuid.UUID     { return c.id }
func (c *fakeConn) UserID() uuid.UUID { return c.userID }

func (c *fakeConn) Send(ev *protocol.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) lastOfType(eventType string) *protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Type == eventType {
			return c.events[i]
		}
	}
	return nil
}

func (c *fakeConn) countType(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

type fakeBlocks struct {
	blocked bool
}

func (f *fakeBlocks) ExistsBetween(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return f.blocked, nil
}

type callFixture struct {
	reg   *presence.Registry
	coord *Coordinator

	caller, callee         uuid.UUID
	callerConn, calleeConn *fakeConn
}

func newCallFixture(t *testing.T, ringTimeout time.Duration) *callFixture {
	t.Helper()
	f := &callFixture{
		reg:    presence.NewRegistry(0),
		caller: uuid.New(),
		callee: uuid.New(),
	}
	f.coord = NewCoordinator(f.reg, nil, ringTimeout, nil)
	f.callerConn = newFakeConn(f.caller)
	f.calleeConn = newFakeConn(f.callee)
	f.reg.Register(f.callerConn)
	f.reg.Register(f.calleeConn)
	return f
}

func (f *callFixture) invite(t *testing.T) *domain.CallSession {
	t.Helper()
	sess, err := f.coord.Invite(context.Background(), f.callerConn.ID(), f.caller, f.callee,
		json.RawMessage(`{"sdp":"offer"}`), domain.CallerMeta{Name: "Caller"})
	require.NoError(t, err)
	return sess
}

func TestCoordinator_InviteRingsCallee(t *testing.T) {
	f := newCallFixture(t, 0)

	sess := f.invite(t)
	assert.Equal(t, domain.CallPhaseInvited, sess.Phase)
	assert.NotEqual(t, uuid.Nil, sess.CallID)

	ring := f.calleeConn.lastOfType(protocol.EventCallInvite)
	require.NotNil(t, ring)
	assert.Equal(t, sess.CallID, ring.CallID)
	assert.Equal(t, f.caller, ring.From)
	assert.Equal(t, "Caller", ring.CallerName)
	assert.JSONEq(t, `{"sdp":"offer"}`, string(ring.Offer))
}

func TestCoordinator_InviteOfflineCallee(t *testing.T) {
	f := newCallFixture(t, 0)
	f.reg.Unregister(f.calleeConn)

	_, err := f.coord.Invite(context.Background(), f.callerConn.ID(), f.caller, f.callee, nil, domain.CallerMeta{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCalleeOffline))
}

func TestCoordinator_InviteSelf(t *testing.T) {
	f := newCallFixture(t, 0)

	_, err := f.coord.Invite(context.Background(), f.callerConn.ID(), f.caller, f.caller, nil, domain.CallerMeta{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
}

func TestCoordinator_InviteBlockedPair(t *testing.T) {
	reg := presence.NewRegistry(0)
	coord := NewCoordinator(reg, &fakeBlocks{blocked: true}, 0, nil)
	caller, callee := uuid.New(), uuid.New()
	reg.Register(newFakeConn(callee))

	_, err := coord.Invite(context.Background(), uuid.New(), caller, callee, nil, domain.CallerMeta{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBlocked))
}

func TestCoordinator_SimultaneousInviteSecondLoses(t *testing.T) {
	f := newCallFixture(t, 0)
	f.invite(t)

	// The reverse-direction invite maps to the same pair entry
	_, err := f.coord.Invite(context.Background(), f.calleeConn.ID(), f.callee, f.caller, nil, domain.CallerMeta{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAlreadyInCall))
}

func TestCoordinator_BusyUserCannotBeInvited(t *testing.T) {
	f := newCallFixture(t, 0)
	f.invite(t)

	third := uuid.New()
	thirdConn := newFakeConn(third)
	f.reg.Register(thirdConn)

	_, err := f.coord.Invite(context.Background(), thirdConn.ID(), third, f.callee, nil, domain.CallerMeta{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAlreadyInCall))
}

func TestCoordinator_AcceptForwardsAnswer(t *testing.T) {
	f := newCallFixture(t, 0)
	sess := f.invite(t)

	answer := json.RawMessage(`{"sdp":"answer"}`)
	require.NoError(t, f.coord.Accept(context.Background(), f.calleeConn.ID(), f.callee, sess.CallID, answer))

	got := f.callerConn.lastOfType(protocol.EventCallAccept)
	require.NotNil(t, got)
	assert.Equal(t, sess.CallID, got.CallID)
	assert.JSONEq(t, string(answer), string(got.Answer))

	live, ok := f.coord.SessionFor(f.caller)
	require.True(t, ok)
	assert.Equal(t, domain.CallPhaseConnecting, live.Phase)
}

func TestCoordinator_AcceptByCallerRefused(t *testing.T) {
	f := newCallFixture(t, 0)
	sess := f.invite(t)

	err := f.coord.Accept(context.Background(), f.callerConn.ID(), f.caller, sess.CallID, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
}

func TestCoordinator_SecondAnswerAlreadyHandled(t *testing.T) {
	f := newCallFixture(t, 0)
	sess := f.invite(t)

	phone := f.calleeConn
	laptop := newFakeConn(f.callee)
	f.reg.Register(laptop)

	require.NoError(t, f.coord.Accept(context.Background(), phone.ID(), f.callee, sess.CallID, nil))

	err := f.coord.Accept(context.Background(), laptop.ID(), f.callee, sess.CallID, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAlreadyHandled))

	err = f.coord.Decline(context.Background(), f.callee, sess.CallID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAlreadyHandled))
}

func TestCoordinator_DeclineTearsDownAndNotifiesCaller(t *testing.T) {
	f := newCallFixture(t, 0)
	sess := f.invite(t)

	require.NoError(t, f.coord.Decline(context.Background(), f.callee, sess.CallID))

	got := f.callerConn.lastOfType(protocol.EventCallDecline)
	require.NotNil(t, got)
	assert.Equal(t, sess.CallID, got.CallID)

	_, ok := f.coord.SessionFor(f.caller)
	assert.False(t, ok, "declined session must be gone")

	err := f.coord.ExchangeCandidate(context.Background(), f.caller, sess.CallID, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNoSuchCall))
}

func TestCoordinator_CandidateExchangeActivates(t *testing.T) {
	f := newCallFixture(t, 0)
	sess := f.invite(t)
	require.NoError(t, f.coord.Accept(context.Background(), f.calleeConn.ID(), f.callee, sess.CallID, nil))

	candidate := json.RawMessage(`{"candidate":"udp 1"}`)
	require.NoError(t, f.coord.ExchangeCandidate(context.Background(), f.caller, sess.CallID, candidate))

	got := f.calleeConn.lastOfType(protocol.EventICECandidate)
	require.NotNil(t, got)
	assert.JSONEq(t, string(candidate), string(got.Candidate))

	live, ok := f.coord.SessionFor(f.caller)
	require.True(t, ok)
	assert.Equal(t, domain.CallPhaseActive, live.Phase)
}

func TestCoordinator_CandidateFromOutsiderRefused(t *testing.T) {
	f := newCallFixture(t, 0)
	sess := f.invite(t)

	err := f.coord.ExchangeCandidate(context.Background(), uuid.New(), sess.CallID, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
}

func TestCoordinator_EndFromEitherSide(t *testing.T) {
	f := newCallFixture(t, 0)
	sess := f.invite(t)
	require.NoError(t, f.coord.Accept(context.Background(), f.calleeConn.ID(), f.callee, sess.CallID, nil))

	require.NoError(t, f.coord.End(context.Background(), f.caller, sess.CallID))

	got := f.calleeConn.lastOfType(protocol.EventCallEnd)
	require.NotNil(t, got)
	assert.Equal(t, string(domain.CallEndHangup), got.Reason)

	// Pair is free again
	_, err := f.coord.Invite(context.Background(), f.calleeConn.ID(), f.callee, f.caller, nil, domain.CallerMeta{})
	assert.NoError(t, err)
}

func TestCoordinator_EndUnknownCallIsNoOp(t *testing.T) {
	f := newCallFixture(t, 0)

	assert.NoError(t, f.coord.End(context.Background(), f.caller, uuid.New()))
}

func TestCoordinator_EndTwiceIsNoOp(t *testing.T) {
	f := newCallFixture(t, 0)
	sess := f.invite(t)

	require.NoError(t, f.coord.End(context.Background(), f.caller, sess.CallID))
	assert.NoError(t, f.coord.End(context.Background(), f.callee, sess.CallID))
}

func TestCoordinator_RingTimeoutNotifiesBoth(t *testing.T) {
	f := newCallFixture(t, 30*time.Millisecond)
	sess := f.invite(t)

	assert.Eventually(t, func() bool {
		_, ok := f.coord.SessionFor(f.caller)
		return !ok
	}, time.Second, 5*time.Millisecond)

	// The caller settles as if declined, tagged with the timeout code
	callerNotice := f.callerConn.lastOfType(protocol.EventCallDecline)
	require.NotNil(t, callerNotice)
	assert.Equal(t, string(apperrors.ErrCodeCallTimeout), callerNotice.Code)
	assert.Equal(t, sess.CallID, callerNotice.CallID)

	calleeEnd := f.calleeConn.lastOfType(protocol.EventCallEnd)
	require.NotNil(t, calleeEnd, "the callee's ring must be stopped")
	assert.Equal(t, string(apperrors.ErrCodeCallTimeout), calleeEnd.Code)
}

func TestCoordinator_AcceptBeatsRingTimeout(t *testing.T) {
	f := newCallFixture(t, 80*time.Millisecond)
	sess := f.invite(t)

	require.NoError(t, f.coord.Accept(context.Background(), f.calleeConn.ID(), f.callee, sess.CallID, nil))
	time.Sleep(150 * time.Millisecond)

	live, ok := f.coord.SessionFor(f.caller)
	require.True(t, ok, "accepted call must survive the ring deadline")
	assert.Equal(t, domain.CallPhaseConnecting, live.Phase)
	assert.Zero(t, f.callerConn.countType(protocol.EventCallEnd))
	assert.Zero(t, f.callerConn.countType(protocol.EventCallDecline))
}

func TestCoordinator_DisconnectOfSignalingHandleEndsCall(t *testing.T) {
	f := newCallFixture(t, 0)
	sess := f.invite(t)
	require.NoError(t, f.coord.Accept(context.Background(), f.calleeConn.ID(), f.callee, sess.CallID, nil))

	f.reg.Unregister(f.calleeConn)
	f.coord.HandleDisconnect(f.calleeConn.ID(), f.callee)

	got := f.callerConn.lastOfType(protocol.EventCallEnd)
	require.NotNil(t, got)
	assert.Equal(t, string(apperrors.ErrCodeConnectionLost), got.Code)

	_, ok := f.coord.SessionFor(f.caller)
	assert.False(t, ok)
}

func TestCoordinator_DisconnectOfIdleHandleKeepsCall(t *testing.T) {
	f := newCallFixture(t, 0)
	sess := f.invite(t)
	require.NoError(t, f.coord.Accept(context.Background(), f.calleeConn.ID(), f.callee, sess.CallID, nil))

	// A second device of the callee drops; the signaling handle is intact
	laptop := newFakeConn(f.callee)
	f.reg.Register(laptop)
	f.reg.Unregister(laptop)
	f.coord.HandleDisconnect(laptop.ID(), f.callee)

	_, ok := f.coord.SessionFor(f.caller)
	assert.True(t, ok, "call must survive a non-signaling handle drop")
	assert.Zero(t, f.callerConn.countType(protocol.EventCallEnd))
}

func TestCoordinator_DisconnectWithoutCallIsNoOp(t *testing.T) {
	f := newCallFixture(t, 0)

	assert.NotPanics(t, func() {
		f.coord.HandleDisconnect(uuid.New(), uuid.New())
	})
}
