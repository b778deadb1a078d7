// Package client holds the connection-side session state a frontend keeps
// while attached to the event stream: the online set, per-conversation
// message lists, typing flags, and the call state machine. The store is
// driven purely by applied events and local user actions, so it can back any
// rendering surface.
package client

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"chatlink-backend/internal/protocol"
	"chatlink-backend/pkg/constants"
	apperrors "chatlink-backend/pkg/errors"
)

// NotificationIntent asks the embedding surface to start or stop an
// attention signal. The store decides when; the surface decides how.
type NotificationIntent string

const (
	IntentRingStart NotificationIntent = "ring_start"
	IntentRingStop  NotificationIntent = "ring_stop"
	IntentMessage   NotificationIntent = "message"
)

// Notifier receives notification intents. Called without store locks held.
type Notifier func(intent NotificationIntent)

// CallState mirrors the client's view of the single call it can be in
type CallState string

const (
	CallIdle    CallState = "idle"
	CallDialing CallState = "dialing"
	CallRinging CallState = "ringing"
	CallActive  CallState = "active"
)

// Call is the client-side call record
type Call struct {
	State      CallState
	CallID     uuid.UUID
	PeerID     uuid.UUID
	PeerName   string
	PeerAvatar string
	Incoming   bool
}

// Conversation is the session-local view of one message thread
type Conversation struct {
	ID       uuid.UUID
	Messages []*protocol.MessagePayload
	Unread   int
	Typing   bool

	seen map[uuid.UUID]struct{}
}

// Change describes a store mutation for subscribers. Subscribers re-read the
// store on receipt; the change only says what area moved.
type Change string

const (
	ChangePresence     Change = "presence"
	ChangeConversation Change = "conversation"
	ChangeCall         Change = "call"
)

// Store is the session state container. All methods are safe for concurrent
// use; the event loop applies frames while the rendering side reads.
type Store struct {
	mu sync.Mutex

	online        map[uuid.UUID]bool
	conversations map[uuid.UUID]*Conversation
	selected      uuid.UUID
	pendingSends  map[uuid.UUID]struct{}
	call          Call

	typingExpiry time.Duration
	typingTimers map[uuid.UUID]*time.Timer

	notifier Notifier
	subs     map[int]chan Change
	nextSub  int
}

// Option configures a Store
type Option func(*Store)

// WithTypingExpiry overrides how long a typing flag survives without a
// refreshing frame
func WithTypingExpiry(d time.Duration) Option {
	return func(s *Store) { s.typingExpiry = d }
}

// WithNotifier installs the notification-intent sink
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// NewStore creates an empty session store
func NewStore(opts ...Option) *Store {
	s := &Store{
		online:        make(map[uuid.UUID]bool),
		conversations: make(map[uuid.UUID]*Conversation),
		pendingSends:  make(map[uuid.UUID]struct{}),
		call:          Call{State: CallIdle},
		typingExpiry:  constants.TypingExpiry,
		typingTimers:  make(map[uuid.UUID]*time.Timer),
		subs:          make(map[int]chan Change),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers a change listener. The returned cancel function
// releases it. Slow subscribers miss coalesced changes, never block appliers.
func (s *Store) Subscribe() (<-chan Change, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Change, 16)
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
}

func (s *Store) notifyLocked(change Change) {
	for _, ch := range s.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

// Apply folds one incoming event into the session state. Unknown event types
// are ignored so newer servers stay compatible with older sessions.
func (s *Store) Apply(ev *protocol.Event) {
	var intents []NotificationIntent

	s.mu.Lock()
	switch ev.Type {
	case protocol.EventPresenceSnapshot:
		s.online = make(map[uuid.UUID]bool, len(ev.UserIDs))
		for _, id := range ev.UserIDs {
			s.online[id] = true
		}
		s.notifyLocked(ChangePresence)

	case protocol.EventMessage:
		if ev.Message != nil && s.appendLocked(ev.Message) {
			if s.conversationKey(ev.Message) != s.selected {
				intents = append(intents, IntentMessage)
			}
			s.notifyLocked(ChangeConversation)
		}

	case protocol.EventChatCleared:
		conv := s.conversationLocked(ev.TargetID)
		conv.Messages = nil
		conv.Unread = 0
		conv.seen = make(map[uuid.UUID]struct{})
		s.notifyLocked(ChangeConversation)

	case protocol.EventTypingStart:
		s.setTypingLocked(ev.TargetID, true)
		s.notifyLocked(ChangeConversation)

	case protocol.EventTypingStop:
		s.setTypingLocked(ev.TargetID, false)
		s.notifyLocked(ChangeConversation)

	case protocol.EventCallInvite:
		if s.call.State == CallIdle {
			s.call = Call{
				State:      CallRinging,
				CallID:     ev.CallID,
				PeerID:     ev.From,
				PeerName:   ev.CallerName,
				PeerAvatar: ev.CallerAvatar,
				Incoming:   true,
			}
			intents = append(intents, IntentRingStart)
			s.notifyLocked(ChangeCall)
		}

	case protocol.EventCallAccept:
		if s.call.State == CallDialing && s.call.CallID == ev.CallID {
			s.call.State = CallActive
			s.notifyLocked(ChangeCall)
		}

	case protocol.EventCallDecline:
		if s.call.CallID == ev.CallID && s.call.State != CallIdle {
			s.call = Call{State: CallIdle}
			intents = append(intents, IntentRingStop)
			s.notifyLocked(ChangeCall)
		}

	case protocol.EventCallEnd:
		if s.call.CallID == ev.CallID && s.call.State != CallIdle {
			wasRinging := s.call.State == CallRinging
			s.call = Call{State: CallIdle}
			if wasRinging {
				intents = append(intents, IntentRingStop)
			}
			s.notifyLocked(ChangeCall)
		}
	}
	notifier := s.notifier
	s.mu.Unlock()

	if notifier != nil {
		for _, intent := range intents {
			notifier(intent)
		}
	}
}

// appendLocked adds a message to its conversation unless the ID was already
// seen. Duplicate frames from relayed delivery collapse here.
func (s *Store) appendLocked(m *protocol.MessagePayload) bool {
	conv := s.conversationLocked(s.conversationKey(m))
	if _, dup := conv.seen[m.ID]; dup {
		return false
	}
	conv.seen[m.ID] = struct{}{}
	conv.Messages = append(conv.Messages, m)
	if conv.ID != s.selected {
		conv.Unread++
	}
	return true
}

// conversationKey picks the thread a message belongs to from the session's
// perspective: the group for group traffic, the sender for direct traffic.
func (s *Store) conversationKey(m *protocol.MessagePayload) uuid.UUID {
	if m.IsGroup {
		return m.TargetID
	}
	return m.SenderID
}

func (s *Store) conversationLocked(id uuid.UUID) *Conversation {
	conv, ok := s.conversations[id]
	if !ok {
		conv = &Conversation{ID: id, seen: make(map[uuid.UUID]struct{})}
		s.conversations[id] = conv
	}
	return conv
}

func (s *Store) setTypingLocked(convID uuid.UUID, active bool) {
	conv := s.conversationLocked(convID)
	conv.Typing = active

	if timer, ok := s.typingTimers[convID]; ok {
		timer.Stop()
		delete(s.typingTimers, convID)
	}
	if active {
		// A stuck indicator clears itself when no refreshing frame arrives
		s.typingTimers[convID] = time.AfterFunc(s.typingExpiry, func() {
			s.mu.Lock()
			delete(s.typingTimers, convID)
			if conv, ok := s.conversations[convID]; ok && conv.Typing {
				conv.Typing = false
				s.notifyLocked(ChangeConversation)
			}
			s.mu.Unlock()
		})
	}
}

// SelectConversation focuses a thread, resetting its unread counter. Typing
// indicators on both the previously focused thread and the new one are
// discarded: they describe a view the user just left or has not watched yet.
func (s *Store) SelectConversation(convID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.selected
	s.selected = convID

	s.clearTypingLocked(previous)
	s.clearTypingLocked(convID)

	s.conversationLocked(convID).Unread = 0
	s.notifyLocked(ChangeConversation)
}

// clearTypingLocked drops a thread's typing flag and disarms its expiry timer
func (s *Store) clearTypingLocked(convID uuid.UUID) {
	if timer, ok := s.typingTimers[convID]; ok {
		timer.Stop()
		delete(s.typingTimers, convID)
	}
	if conv, ok := s.conversations[convID]; ok {
		conv.Typing = false
	}
}

// Selected returns the focused conversation ID, Nil when none
func (s *Store) Selected() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// BeginSend records an in-flight outbound message. Nothing is rendered as
// delivered until the server's stored copy comes back through AckSend.
func (s *Store) BeginSend() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := uuid.New()
	s.pendingSends[token] = struct{}{}
	return token
}

// AckSend resolves a pending send with the server's acknowledged copy and
// appends it to the right thread
func (s *Store) AckSend(token uuid.UUID, m *protocol.MessagePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pendingSends, token)

	conv := s.conversationLocked(m.TargetID)
	if _, dup := conv.seen[m.ID]; dup {
		return
	}
	conv.seen[m.ID] = struct{}{}
	conv.Messages = append(conv.Messages, m)
	s.notifyLocked(ChangeConversation)
}

// FailSend drops a pending send whose request errored; the thread never saw
// the message, so nothing is reverted
func (s *Store) FailSend(token uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pendingSends, token)
}

// PendingSends reports how many outbound messages await acknowledgment
func (s *Store) PendingSends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingSends)
}

// StartOutgoingCall moves the call state to dialing before the server has
// answered the invite. If the invite is refused the caller reverts through
// OutgoingCallRefused.
func (s *Store) StartOutgoingCall(peerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.call.State != CallIdle {
		return apperrors.AlreadyInCallError()
	}
	s.call = Call{State: CallDialing, PeerID: peerID}
	s.notifyLocked(ChangeCall)
	return nil
}

// ConfirmOutgoingCall binds the server-minted call ID to the dialing state
func (s *Store) ConfirmOutgoingCall(callID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.call.State == CallDialing {
		s.call.CallID = callID
	}
}

// OutgoingCallRefused reverts the optimistic dialing state after the server
// refused the invite
func (s *Store) OutgoingCallRefused() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.call.State == CallDialing {
		s.call = Call{State: CallIdle}
		s.notifyLocked(ChangeCall)
	}
}

// EndCall resets the call state after a local hangup, accept-side teardown,
// or decline
func (s *Store) EndCall() {
	var stopRing bool
	s.mu.Lock()
	if s.call.State == CallRinging {
		stopRing = true
	}
	s.call = Call{State: CallIdle}
	s.notifyLocked(ChangeCall)
	notifier := s.notifier
	s.mu.Unlock()

	if stopRing && notifier != nil {
		notifier(IntentRingStop)
	}
}

// AcceptIncomingCall moves a ringing call to active after the local user
// answered; the ring notification stops
func (s *Store) AcceptIncomingCall() (Call, error) {
	s.mu.Lock()
	if s.call.State != CallRinging {
		s.mu.Unlock()
		return Call{}, apperrors.NoSuchCallError()
	}
	s.call.State = CallActive
	snapshot := s.call
	s.notifyLocked(ChangeCall)
	notifier := s.notifier
	s.mu.Unlock()

	if notifier != nil {
		notifier(IntentRingStop)
	}
	return snapshot, nil
}

// CurrentCall returns a copy of the call state
func (s *Store) CurrentCall() Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call
}

// IsOnline reports the last presence snapshot's verdict for a user
func (s *Store) IsOnline(userID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[userID]
}

// OnlineCount returns the size of the last presence snapshot
func (s *Store) OnlineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.online)
}

// ConversationView returns copies of a thread's messages plus its flags
func (s *Store) ConversationView(convID uuid.UUID) (messages []*protocol.MessagePayload, unread int, typing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[convID]
	if !ok {
		return nil, 0, false
	}
	messages = make([]*protocol.MessagePayload, len(conv.Messages))
	copy(messages, conv.Messages)
	return messages, conv.Unread, conv.Typing
}
