package domain

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// TargetKind discriminates the two conversation target variants.
type TargetKind int

const (
	TargetDirect TargetKind = iota
	TargetGroup
)

// Target is a tagged conversation target: either a single peer or a group.
// Consumers switch on Kind exhaustively; the unused ID field is Nil.
type Target struct {
	Kind    TargetKind
	PeerID  uuid.UUID
	GroupID uuid.UUID
}

// DirectTarget builds a direct-conversation target
func DirectTarget(peerID uuid.UUID) Target {
	return Target{Kind: TargetDirect, PeerID: peerID}
}

// GroupTarget builds a group-conversation target
func GroupTarget(groupID uuid.UUID) Target {
	return Target{Kind: TargetGroup, GroupID: groupID}
}

// ID returns the identifier the target points at
func (t Target) ID() uuid.UUID {
	if t.Kind == TargetGroup {
		return t.GroupID
	}
	return t.PeerID
}

// conversationNamespace seeds deterministic direct-conversation IDs
var conversationNamespace = uuid.MustParse("9f2c1a4e-5d37-4b8a-92e0-6c1f30d8b7a1")

// DirectConversationID derives a stable conversation ID for an unordered
// user pair, so both participants address the same message partition.
func DirectConversationID(a, b uuid.UUID) uuid.UUID {
	lo, hi := a, b
	if bytes.Compare(hi[:], lo[:]) < 0 {
		lo, hi = hi, lo
	}
	return uuid.NewSHA1(conversationNamespace, append(lo[:], hi[:]...))
}

// ConversationID resolves the message partition key for a target from the
// perspective of the given sender.
func (t Target) ConversationID(senderID uuid.UUID) uuid.UUID {
	switch t.Kind {
	case TargetGroup:
		return t.GroupID
	default:
		return DirectConversationID(senderID, t.PeerID)
	}
}

// Group is a named conversation with an explicit membership set.
// Invariant: the membership set is non-empty while the group exists and a
// member appears at most once.
type Group struct {
	GroupID   uuid.UUID   `json:"group_id"`
	Name      string      `json:"name"`
	AdminID   uuid.UUID   `json:"admin_id"`
	MemberIDs []uuid.UUID `json:"member_ids"`
	CreatedAt time.Time   `json:"created_at"`
}

// HasMember reports whether the user belongs to the group
func (g *Group) HasMember(userID uuid.UUID) bool {
	for _, id := range g.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}
