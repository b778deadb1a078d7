package domain

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CallPhase is the lifecycle phase of a call session
type CallPhase string

const (
	// CallPhaseInvited covers the ring period: callee sees it as ringing,
	// caller as awaiting answer
	CallPhaseInvited CallPhase = "invited"
	// CallPhaseConnecting means the callee accepted and the answer was
	// forwarded; the peers are exchanging candidates
	CallPhaseConnecting CallPhase = "connecting"
	// CallPhaseActive means candidates have flowed and media is assumed up
	CallPhaseActive CallPhase = "active"

	// Terminal phases
	CallPhaseEnded    CallPhase = "ended"
	CallPhaseDeclined CallPhase = "declined"
	CallPhaseFailed   CallPhase = "failed"
)

// Terminal reports whether the phase destroys the session
func (p CallPhase) Terminal() bool {
	switch p {
	case CallPhaseEnded, CallPhaseDeclined, CallPhaseFailed:
		return true
	}
	return false
}

// CallEndReason annotates a terminal transition
type CallEndReason string

const (
	CallEndHangup       CallEndReason = "hangup"
	CallEndDeclined     CallEndReason = "declined"
	CallEndTimeout      CallEndReason = "timeout"
	CallEndDisconnected CallEndReason = "disconnected"
)

// CallSession is the server-side state of one call between exactly two
// peers. The CallID is minted at invite time and stays stable across
// connection churn; it is never derived from transport identifiers.
type CallSession struct {
	CallID    uuid.UUID       `json:"call_id"`
	CallerID  uuid.UUID       `json:"caller_id"`
	CalleeID  uuid.UUID       `json:"callee_id"`
	Phase     CallPhase       `json:"phase"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	EndReason CallEndReason   `json:"end_reason,omitempty"`
}

// OtherParty returns the opposite participant of the session
func (s *CallSession) OtherParty(userID uuid.UUID) uuid.UUID {
	if s.CallerID == userID {
		return s.CalleeID
	}
	return s.CallerID
}

// Involves reports whether the user is one of the two participants
func (s *CallSession) Involves(userID uuid.UUID) bool {
	return s.CallerID == userID || s.CalleeID == userID
}

// PairKey identifies the unordered participant pair of a call. At most one
// active session exists per key; canonical ordering makes both invite
// directions map to the same entry, which is what resolves the
// simultaneous-invite race.
type PairKey struct {
	Lo uuid.UUID
	Hi uuid.UUID
}

// NewPairKey builds the canonical key for two user IDs
func NewPairKey(a, b uuid.UUID) PairKey {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return PairKey{Lo: a, Hi: b}
}

// CallerMeta is the caller identity forwarded with an invite so the callee
// can render the incoming-call view without a directory lookup.
type CallerMeta struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}
