package call

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatlink-backend/internal/domain"
	"chatlink-backend/internal/protocol"
	"chatlink-backend/internal/service/presence"
	apperrors "chatlink-backend/pkg/errors"
	"chatlink-backend/pkg/metrics"
)

// BlockChecker answers block-relation lookups before an invite rings
type BlockChecker interface {
	ExistsBetween(ctx context.Context, a, b uuid.UUID) (bool, error)
}

// session is the coordinator's mutable record of one call. The connection
// IDs pin which transport handle each side is signaling on, so a dropped
// handle can be matched back to its call.
type session struct {
	domain.CallSession

	callerConnID uuid.UUID
	calleeConnID uuid.UUID
	ringTimer    *time.Timer
}

// Coordinator brokers call signaling between exactly two peers. It owns the
// session table, enforces the at-most-one-session-per-pair invariant, and
// relays opaque SDP and candidate payloads without inspecting them.
type Coordinator struct {
	reg    *presence.Registry
	blocks BlockChecker
	log    *zap.Logger

	ringTimeout time.Duration

	mu     sync.Mutex
	byPair map[domain.PairKey]*session
	byCall map[uuid.UUID]domain.PairKey
	byUser map[uuid.UUID]domain.PairKey
}

// NewCoordinator creates a call coordinator. blocks may be nil, in which
// case invites are not block-checked.
func NewCoordinator(reg *presence.Registry, blocks BlockChecker, ringTimeout time.Duration, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		reg:         reg,
		blocks:      blocks,
		log:         log,
		ringTimeout: ringTimeout,
		byPair:      make(map[domain.PairKey]*session),
		byCall:      make(map[uuid.UUID]domain.PairKey),
		byUser:      make(map[uuid.UUID]domain.PairKey),
	}
}

// Invite opens a call session and rings the callee. The session ID is minted
// here and stays stable for the whole call; both parties reference it in
// every later signaling frame.
func (c *Coordinator) Invite(ctx context.Context, callerConnID, callerID, calleeID uuid.UUID, offer json.RawMessage, meta domain.CallerMeta) (*domain.CallSession, error) {
	if callerID == calleeID {
		metrics.CallSignalRejectedTotal.WithLabelValues("invite", string(apperrors.ErrCodeInvalidInput)).Inc()
		return nil, apperrors.InvalidInputError("cannot call yourself")
	}

	if c.blocks != nil {
		blocked, err := c.blocks.ExistsBetween(ctx, callerID, calleeID)
		if err != nil {
			return nil, apperrors.DatabaseError(err)
		}
		if blocked {
			metrics.CallSignalRejectedTotal.WithLabelValues("invite", string(apperrors.ErrCodeBlocked)).Inc()
			return nil, apperrors.BlockedError()
		}
	}

	if !c.reg.IsOnline(calleeID) {
		metrics.CallSignalRejectedTotal.WithLabelValues("invite", string(apperrors.ErrCodeCalleeOffline)).Inc()
		return nil, apperrors.CalleeOfflineError()
	}

	pair := domain.NewPairKey(callerID, calleeID)

	c.mu.Lock()
	if _, exists := c.byPair[pair]; exists {
		// The pair already has a live session. Under a simultaneous invite
		// the first writer wins and the loser lands here.
		c.mu.Unlock()
		metrics.CallSignalRejectedTotal.WithLabelValues("invite", string(apperrors.ErrCodeAlreadyInCall)).Inc()
		return nil, apperrors.AlreadyInCallError()
	}
	if _, busy := c.byUser[callerID]; busy {
		c.mu.Unlock()
		metrics.CallSignalRejectedTotal.WithLabelValues("invite", string(apperrors.ErrCodeAlreadyInCall)).Inc()
		return nil, apperrors.AlreadyInCallError()
	}
	if _, busy := c.byUser[calleeID]; busy {
		c.mu.Unlock()
		metrics.CallSignalRejectedTotal.WithLabelValues("invite", string(apperrors.ErrCodeAlreadyInCall)).Inc()
		return nil, apperrors.AlreadyInCallError()
	}

	sess := &session{
		CallSession: domain.CallSession{
			CallID:    uuid.New(),
			CallerID:  callerID,
			CalleeID:  calleeID,
			Phase:     domain.CallPhaseInvited,
			Offer:     offer,
			StartedAt: time.Now().UTC(),
		},
		callerConnID: callerConnID,
	}
	c.byPair[pair] = sess
	c.byCall[sess.CallID] = pair
	c.byUser[callerID] = pair
	c.byUser[calleeID] = pair

	if c.ringTimeout > 0 {
		callID := sess.CallID
		sess.ringTimer = time.AfterFunc(c.ringTimeout, func() {
			c.expireRing(callID)
		})
	}
	snapshot := sess.CallSession
	c.mu.Unlock()

	metrics.CallSessionsActive.Inc()

	c.reg.DeliverToUser(ctx, calleeID, &protocol.Event{
		Type:         protocol.EventCallInvite,
		CallID:       snapshot.CallID,
		From:         callerID,
		To:           calleeID,
		CallerName:   meta.Name,
		CallerAvatar: meta.Avatar,
		Offer:        offer,
	})

	c.log.Info("call invited",
		zap.String("call_id", snapshot.CallID.String()),
		zap.String("caller_id", callerID.String()),
		zap.String("callee_id", calleeID.String()))
	return &snapshot, nil
}

// Accept answers a ringing call and forwards the callee's answer payload to
// the caller. Only the callee may accept, and only while the session is
// still ringing; a second answer from another device gets AlreadyHandled.
func (c *Coordinator) Accept(ctx context.Context, calleeConnID, userID, callID uuid.UUID, answer json.RawMessage) error {
	c.mu.Lock()
	sess, err := c.lookupLocked(callID)
	if err != nil {
		c.mu.Unlock()
		metrics.CallSignalRejectedTotal.WithLabelValues("accept", string(apperrors.CodeOf(err))).Inc()
		return err
	}
	if sess.CalleeID != userID {
		c.mu.Unlock()
		metrics.CallSignalRejectedTotal.WithLabelValues("accept", string(apperrors.ErrCodeForbidden)).Inc()
		return apperrors.ForbiddenError("only the callee can accept")
	}
	if sess.Phase != domain.CallPhaseInvited {
		c.mu.Unlock()
		metrics.CallSignalRejectedTotal.WithLabelValues("accept", string(apperrors.ErrCodeAlreadyHandled)).Inc()
		return apperrors.AlreadyHandledError()
	}

	if sess.ringTimer != nil {
		sess.ringTimer.Stop()
		sess.ringTimer = nil
	}
	sess.Phase = domain.CallPhaseConnecting
	sess.calleeConnID = calleeConnID
	callerID := sess.CallerID
	c.mu.Unlock()

	c.reg.DeliverToUser(ctx, callerID, &protocol.Event{
		Type:   protocol.EventCallAccept,
		CallID: callID,
		From:   userID,
		To:     callerID,
		Answer: answer,
	})

	c.log.Info("call accepted", zap.String("call_id", callID.String()))
	return nil
}

// Decline refuses a ringing call and tears the session down. The caller is
// notified so its outgoing-call view can settle.
func (c *Coordinator) Decline(ctx context.Context, userID, callID uuid.UUID) error {
	c.mu.Lock()
	sess, err := c.lookupLocked(callID)
	if err != nil {
		c.mu.Unlock()
		metrics.CallSignalRejectedTotal.WithLabelValues("decline", string(apperrors.CodeOf(err))).Inc()
		return err
	}
	if sess.CalleeID != userID {
		c.mu.Unlock()
		metrics.CallSignalRejectedTotal.WithLabelValues("decline", string(apperrors.ErrCodeForbidden)).Inc()
		return apperrors.ForbiddenError("only the callee can decline")
	}
	if sess.Phase != domain.CallPhaseInvited {
		c.mu.Unlock()
		metrics.CallSignalRejectedTotal.WithLabelValues("decline", string(apperrors.ErrCodeAlreadyHandled)).Inc()
		return apperrors.AlreadyHandledError()
	}

	callerID := sess.CallerID
	c.teardownLocked(sess, domain.CallPhaseDeclined, domain.CallEndDeclined)
	c.mu.Unlock()

	metrics.CallOutcomesTotal.WithLabelValues("declined").Inc()

	c.reg.DeliverToUser(ctx, callerID, &protocol.Event{
		Type:   protocol.EventCallDecline,
		CallID: callID,
		From:   userID,
		To:     callerID,
	})

	c.log.Info("call declined", zap.String("call_id", callID.String()))
	return nil
}

// ExchangeCandidate forwards an ICE candidate to the other participant. The
// first candidate exchanged after acceptance marks the session active.
func (c *Coordinator) ExchangeCandidate(ctx context.Context, userID, callID uuid.UUID, candidate json.RawMessage) error {
	c.mu.Lock()
	sess, err := c.lookupLocked(callID)
	if err != nil {
		c.mu.Unlock()
		metrics.CallSignalRejectedTotal.WithLabelValues("candidate", string(apperrors.CodeOf(err))).Inc()
		return err
	}
	if !sess.Involves(userID) {
		c.mu.Unlock()
		metrics.CallSignalRejectedTotal.WithLabelValues("candidate", string(apperrors.ErrCodeForbidden)).Inc()
		return apperrors.ForbiddenError("not a participant of this call")
	}
	if sess.Phase == domain.CallPhaseConnecting {
		sess.Phase = domain.CallPhaseActive
	}
	other := sess.OtherParty(userID)
	c.mu.Unlock()

	c.reg.DeliverToUser(ctx, other, &protocol.Event{
		Type:      protocol.EventICECandidate,
		CallID:    callID,
		From:      userID,
		To:        other,
		Candidate: candidate,
	})
	return nil
}

// End hangs up a call from either side at any non-terminal phase. Ending an
// absent or already-ended call is a no-op: hangups race teardown constantly
// and the losing side must not see an error.
func (c *Coordinator) End(ctx context.Context, userID, callID uuid.UUID) error {
	c.mu.Lock()
	sess, err := c.lookupLocked(callID)
	if err != nil {
		c.mu.Unlock()
		c.log.Debug("end for unknown call ignored", zap.String("call_id", callID.String()))
		return nil
	}
	if !sess.Involves(userID) {
		c.mu.Unlock()
		metrics.CallSignalRejectedTotal.WithLabelValues("end", string(apperrors.ErrCodeForbidden)).Inc()
		return apperrors.ForbiddenError("not a participant of this call")
	}

	other := sess.OtherParty(userID)
	c.teardownLocked(sess, domain.CallPhaseEnded, domain.CallEndHangup)
	c.mu.Unlock()

	metrics.CallOutcomesTotal.WithLabelValues("hangup").Inc()

	c.reg.DeliverToUser(ctx, other, &protocol.Event{
		Type:   protocol.EventCallEnd,
		CallID: callID,
		From:   userID,
		To:     other,
		Reason: string(domain.CallEndHangup),
	})

	c.log.Info("call ended", zap.String("call_id", callID.String()))
	return nil
}

// HandleDisconnect reacts to a transport handle closing. The session ends
// only when the lost handle was the one the user signaled on, or when the
// user has no live handles left at all.
func (c *Coordinator) HandleDisconnect(connID, userID uuid.UUID) {
	c.mu.Lock()
	pair, ok := c.byUser[userID]
	if !ok {
		c.mu.Unlock()
		return
	}
	sess := c.byPair[pair]

	signalingConn := sess.callerConnID
	if sess.CalleeID == userID {
		signalingConn = sess.calleeConnID
	}
	if signalingConn != connID && c.reg.IsOnline(userID) {
		// A secondary device dropped; the call continues
		c.mu.Unlock()
		return
	}

	callID := sess.CallID
	other := sess.OtherParty(userID)
	wasRinging := sess.Phase == domain.CallPhaseInvited
	c.teardownLocked(sess, domain.CallPhaseFailed, domain.CallEndDisconnected)
	c.mu.Unlock()

	metrics.CallOutcomesTotal.WithLabelValues("disconnected").Inc()

	c.reg.DeliverToUser(context.Background(), other, &protocol.Event{
		Type:   protocol.EventCallEnd,
		CallID: callID,
		From:   userID,
		To:     other,
		Code:   string(apperrors.ErrCodeConnectionLost),
		Reason: string(domain.CallEndDisconnected),
	})

	c.log.Info("call torn down after disconnect",
		zap.String("call_id", callID.String()),
		zap.Bool("was_ringing", wasRinging))
}

// SessionFor returns a copy of the user's live session state, if any
func (c *Coordinator) SessionFor(userID uuid.UUID) (*domain.CallSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pair, ok := c.byUser[userID]
	if !ok {
		return nil, false
	}
	snapshot := c.byPair[pair].CallSession
	return &snapshot, true
}

// expireRing fires when the ring period passes without an answer
func (c *Coordinator) expireRing(callID uuid.UUID) {
	c.mu.Lock()
	sess, err := c.lookupLocked(callID)
	if err != nil || sess.Phase != domain.CallPhaseInvited {
		c.mu.Unlock()
		return
	}
	callerID, calleeID := sess.CallerID, sess.CalleeID
	c.teardownLocked(sess, domain.CallPhaseEnded, domain.CallEndTimeout)
	c.mu.Unlock()

	metrics.CallOutcomesTotal.WithLabelValues("timeout").Inc()

	// The caller's outgoing view settles the same way a decline would; the
	// callee's ring stops with an explicit timeout notice.
	c.reg.DeliverToUser(context.Background(), callerID, &protocol.Event{
		Type:   protocol.EventCallDecline,
		CallID: callID,
		From:   calleeID,
		To:     callerID,
		Code:   string(apperrors.ErrCodeCallTimeout),
		Reason: string(domain.CallEndTimeout),
	})
	c.reg.DeliverToUser(context.Background(), calleeID, &protocol.Event{
		Type:   protocol.EventCallEnd,
		CallID: callID,
		Code:   string(apperrors.ErrCodeCallTimeout),
		Reason: string(domain.CallEndTimeout),
	})

	c.log.Info("call ring expired", zap.String("call_id", callID.String()))
}

// lookupLocked resolves a call ID to its live session. Caller holds the lock.
func (c *Coordinator) lookupLocked(callID uuid.UUID) (*session, error) {
	pair, ok := c.byCall[callID]
	if !ok {
		return nil, apperrors.NoSuchCallError()
	}
	return c.byPair[pair], nil
}

// teardownLocked marks the session terminal and drops every index entry.
// Caller holds the lock.
func (c *Coordinator) teardownLocked(sess *session, phase domain.CallPhase, reason domain.CallEndReason) {
	if sess.ringTimer != nil {
		sess.ringTimer.Stop()
		sess.ringTimer = nil
	}
	now := time.Now().UTC()
	sess.Phase = phase
	sess.EndReason = reason
	sess.EndedAt = &now

	pair := domain.NewPairKey(sess.CallerID, sess.CalleeID)
	delete(c.byPair, pair)
	delete(c.byCall, sess.CallID)
	delete(c.byUser, sess.CallerID)
	delete(c.byUser, sess.CalleeID)

	metrics.CallSessionsActive.Dec()
}
