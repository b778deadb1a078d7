// Package protocol defines the event envelope exchanged over a client's
// persistent connection. One flat struct with optional fields keeps the
// codec trivial; consumers dispatch on Type.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types, server to client
const (
	EventPresenceSnapshot = "presenceSnapshot"
	EventMessage          = "message"
	EventChatCleared      = "chatCleared"
	EventAck              = "ack"
	EventError            = "error"
)

// Event types, bidirectional
const (
	EventTypingStart  = "typingStart"
	EventTypingStop   = "typingStop"
	EventCallInvite   = "callInvite"
	EventCallAccept   = "callAccept"
	EventCallDecline  = "callDecline"
	EventCallEnd      = "callEnd"
	EventICECandidate = "iceCandidate"
)

// Event types, client to server
const (
	EventJoinGroup  = "joinGroup"
	EventLeaveGroup = "leaveGroup"
)

// MessagePayload is the routed copy of a persisted chat message
type MessagePayload struct {
	ID            uuid.UUID `json:"id"`
	SenderID      uuid.UUID `json:"sender_id"`
	TargetID      uuid.UUID `json:"target_id"`
	IsGroup       bool      `json:"is_group,omitempty"`
	Text          string    `json:"text,omitempty"`
	AttachmentRef string    `json:"attachment_ref,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Event is the wire envelope for every frame on the event stream
type Event struct {
	Type string `json:"type"`

	// Sender/recipient user IDs where the type needs them. UUID fields are
	// arrays, so json never elides them; a zero value reads as "not set".
	From uuid.UUID `json:"from"`
	To   uuid.UUID `json:"to"`

	// Conversation addressing for typing and clear notices
	TargetID uuid.UUID `json:"target_id"`
	IsGroup  bool      `json:"is_group,omitempty"`
	GroupID  uuid.UUID `json:"group_id"`

	// presenceSnapshot
	UserIDs []uuid.UUID `json:"user_ids,omitempty"`

	// message
	Message *MessagePayload `json:"message,omitempty"`

	// Call signaling. Offer/answer/candidate payloads are opaque to the
	// server; only the two peers interpret them.
	CallID       uuid.UUID       `json:"call_id"`
	CallerName   string          `json:"caller_name,omitempty"`
	CallerAvatar string          `json:"caller_avatar,omitempty"`
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`

	// error frames
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`

	// Origin is the node that first published the event on the relay;
	// receivers skip their own publications
	Origin uuid.UUID `json:"origin"`

	Timestamp time.Time `json:"timestamp"`
}

// Encode marshals the event for the wire
func (e *Event) Encode() ([]byte, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return json.Marshal(e)
}

// Decode parses a wire frame into an event
func Decode(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("malformed event frame: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("event frame missing type")
	}
	return &ev, nil
}

// NewError builds an error frame answering a refused client event
func NewError(code, reason string) *Event {
	return &Event{
		Type:      EventError,
		Code:      code,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

// NewPresenceSnapshot builds a full online-set broadcast frame
func NewPresenceSnapshot(online []uuid.UUID) *Event {
	return &Event{
		Type:      EventPresenceSnapshot,
		UserIDs:   online,
		Timestamp: time.Now().UTC(),
	}
}

// NewMessageEvent wraps a routed message copy
func NewMessageEvent(m *MessagePayload) *Event {
	return &Event{
		Type:      EventMessage,
		Message:   m,
		Timestamp: time.Now().UTC(),
	}
}
