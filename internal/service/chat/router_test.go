package chat

import (
	"context"
	"sync"
	"testing"

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

func (c *fakeConn) received() []*protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*protocol.Event, len(c.events))
	copy(out, c.events)
	return out
}

type fakeMessageStore struct {
	mu      sync.Mutex
	saved   []*domain.Message
	saveErr error
	deleted []uuid.UUID
}

func (s *fakeMessageStore) Save(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, msg)
	return nil
}

func (s *fakeMessageStore) GetByConversation(_ context.Context, conversationID uuid.UUID, bucket, limit int, _ []byte) ([]*domain.Message, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Message
	for i := len(s.saved) - 1; i >= 0 && len(out) < limit; i-- {
		if s.saved[i].ConversationID == conversationID && s.saved[i].Bucket == bucket {
			out = append(out, s.saved[i])
		}
	}
	return out, nil, nil
}

func (s *fakeMessageStore) DeleteConversation(_ context.Context, conversationID uuid.UUID, _ []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, conversationID)
	kept := s.saved[:0]
	for _, m := range s.saved {
		if m.ConversationID != conversationID {
			kept = append(kept, m)
		}
	}
	s.saved = kept
	return nil
}

func (s *fakeMessageStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type fakeBlockStore struct {
	mu      sync.Mutex
	pairs   map[domain.PairKey]bool
	lookups int
}

func newFakeBlockStore() *fakeBlockStore {
	return &fakeBlockStore{pairs: make(map[domain.PairKey]bool)}
}

func (s *fakeBlockStore) block(a, b uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[domain.NewPairKey(a, b)] = true
}

func (s *fakeBlockStore) ExistsBetween(_ context.Context, a, b uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	return s.pairs[domain.NewPairKey(a, b)], nil
}

type fakeGroupStore struct {
	mu     sync.Mutex
	groups map[uuid.UUID]*domain.Group
}

func newFakeGroupStore() *fakeGroupStore {
	return &fakeGroupStore{groups: make(map[uuid.UUID]*domain.Group)}
}

func (s *fakeGroupStore) add(g *domain.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.GroupID] = g
}

func (s *fakeGroupStore) GetByID(_ context.Context, groupID uuid.UUID) (*domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups[groupID], nil
}

type routerFixture struct {
	reg      *presence.Registry
	messages *fakeMessageStore
	blocks   *fakeBlockStore
	groups   *fakeGroupStore
	router   *Router
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	f := &routerFixture{
		reg:      presence.NewRegistry(0),
		messages: &fakeMessageStore{},
		blocks:   newFakeBlockStore(),
		groups:   newFakeGroupStore(),
	}
	f.router = NewRouter(f.reg, f.messages, f.blocks, f.groups, nil)
	return f
}

func messagesOf(conn *fakeConn) []*protocol.MessagePayload {
	var out []*protocol.MessagePayload
	for _, ev := range conn.received() {
		if ev.Type == protocol.EventMessage {
			out = append(out, ev.Message)
		}
	}
	return out
}

func TestRouter_DirectDeliversToRecipientOnly(t *testing.T) {
	f := newRouterFixture(t)
	sender, recipient := uuid.New(), uuid.New()

	senderConn := newFakeConn(sender)
	recipientConn := newFakeConn(recipient)
	f.reg.Register(senderConn)
	f.reg.Register(recipientConn)

	msg, err := f.router.RouteDirect(context.Background(), sender, recipient, &domain.MessageCreate{Text: "hi"})
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, 1, f.messages.count())
	assert.Empty(t, messagesOf(senderConn), "sender handles must not be echoed")

	got := messagesOf(recipientConn)
	require.Len(t, got, 1)
	assert.Equal(t, msg.MessageID, got[0].ID)
	assert.Equal(t, sender, got[0].SenderID)
	assert.Equal(t, "hi", got[0].Text)
}

func TestRouter_DirectMultiDeviceGetsSameMessageID(t *testing.T) {
	f := newRouterFixture(t)
	sender, recipient := uuid.New(), uuid.New()

	phone := newFakeConn(recipient)
	laptop := newFakeConn(recipient)
	f.reg.Register(phone)
	f.reg.Register(laptop)

	msg, err := f.router.RouteDirect(context.Background(), sender, recipient, &domain.MessageCreate{Text: "hello"})
	require.NoError(t, err)

	for _, conn := range []*fakeConn{phone, laptop} {
		got := messagesOf(conn)
		require.Len(t, got, 1)
		assert.Equal(t, msg.MessageID, got[0].ID)
	}
}

func TestRouter_DirectBlockedEitherDirection(t *testing.T) {
	for name, swap := range map[string]bool{"blocker sends": false, "blocked sends": true} {
		t.Run(name, func(t *testing.T) {
			f := newRouterFixture(t)
			a, b := uuid.New(), uuid.New()
			f.blocks.block(a, b)

			sender, recipient := a, b
			if swap {
				sender, recipient = b, a
			}
			recipientConn := newFakeConn(recipient)
			f.reg.Register(recipientConn)

			msg, err := f.router.RouteDirect(context.Background(), sender, recipient, &domain.MessageCreate{Text: "x"})
			assert.Nil(t, msg)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBlocked))
			assert.Zero(t, f.messages.count(), "refused sends must not be persisted")
			assert.Empty(t, messagesOf(recipientConn))
		})
	}
}

func TestRouter_DirectEmptyMessageRejected(t *testing.T) {
	f := newRouterFixture(t)

	msg, err := f.router.RouteDirect(context.Background(), uuid.New(), uuid.New(), &domain.MessageCreate{})
	assert.Nil(t, msg)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	assert.Zero(t, f.messages.count())
}

func TestRouter_DirectPersistFailureStopsFanout(t *testing.T) {
	f := newRouterFixture(t)
	f.messages.saveErr = assert.AnError
	recipient := uuid.New()
	recipientConn := newFakeConn(recipient)
	f.reg.Register(recipientConn)

	msg, err := f.router.RouteDirect(context.Background(), uuid.New(), recipient, &domain.MessageCreate{Text: "x"})
	assert.Nil(t, msg)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabase))
	assert.Empty(t, messagesOf(recipientConn))
}

func TestRouter_DirectOrderingPerHandle(t *testing.T) {
	f := newRouterFixture(t)
	sender, recipient := uuid.New(), uuid.New()
	recipientConn := newFakeConn(recipient)
	f.reg.Register(recipientConn)

	var sent []uuid.UUID
	for i := 0; i < 5; i++ {
		msg, err := f.router.RouteDirect(context.Background(), sender, recipient, &domain.MessageCreate{Text: "n"})
		require.NoError(t, err)
		sent = append(sent, msg.MessageID)
	}

	got := messagesOf(recipientConn)
	require.Len(t, got, len(sent))
	for i, payload := range got {
		assert.Equal(t, sent[i], payload.ID, "delivery must preserve send order")
	}
}

func TestRouter_GroupFansOutToMembersExceptSender(t *testing.T) {
	f := newRouterFixture(t)
	sender, member, outsider := uuid.New(), uuid.New(), uuid.New()
	group := &domain.Group{
		GroupID:   uuid.New(),
		AdminID:   sender,
		MemberIDs: []uuid.UUID{sender, member},
	}
	f.groups.add(group)

	senderConn := newFakeConn(sender)
	memberConn := newFakeConn(member)
	outsiderConn := newFakeConn(outsider)
	f.reg.Register(senderConn)
	f.reg.Register(memberConn)
	f.reg.Register(outsiderConn)

	msg, err := f.router.RouteGroup(context.Background(), sender, group.GroupID, &domain.MessageCreate{Text: "all"})
	require.NoError(t, err)

	assert.Empty(t, messagesOf(senderConn))
	assert.Empty(t, messagesOf(outsiderConn), "non-members must not receive group traffic")

	got := messagesOf(memberConn)
	require.Len(t, got, 1)
	assert.Equal(t, msg.MessageID, got[0].ID)
	assert.True(t, got[0].IsGroup)
	assert.Equal(t, group.GroupID, got[0].TargetID)
}

func TestRouter_GroupRejectsNonMemberSender(t *testing.T) {
	f := newRouterFixture(t)
	member := uuid.New()
	group := &domain.Group{GroupID: uuid.New(), AdminID: member, MemberIDs: []uuid.UUID{member}}
	f.groups.add(group)

	msg, err := f.router.RouteGroup(context.Background(), uuid.New(), group.GroupID, &domain.MessageCreate{Text: "x"})
	assert.Nil(t, msg)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotMember))
	assert.Zero(t, f.messages.count())
}

func TestRouter_GroupUnknownGroup(t *testing.T) {
	f := newRouterFixture(t)

	msg, err := f.router.RouteGroup(context.Background(), uuid.New(), uuid.New(), &domain.MessageCreate{Text: "x"})
	assert.Nil(t, msg)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeGroupNotFound))
}

func TestRouter_TypingDirect(t *testing.T) {
	f := newRouterFixture(t)
	sender, peer := uuid.New(), uuid.New()
	peerConn := newFakeConn(peer)
	f.reg.Register(peerConn)

	require.NoError(t, f.router.RouteTyping(context.Background(), sender, domain.DirectTarget(peer), true))
	require.NoError(t, f.router.RouteTyping(context.Background(), sender, domain.DirectTarget(peer), false))

	events := peerConn.received()
	require.Len(t, events, 2)
	assert.Equal(t, protocol.EventTypingStart, events[0].Type)
	assert.Equal(t, protocol.EventTypingStop, events[1].Type)
	assert.Equal(t, sender, events[0].From)
	assert.Equal(t, sender, events[0].TargetID)
	assert.Zero(t, f.messages.count(), "typing must never be persisted")
}

func TestRouter_TypingBlockedDroppedSilently(t *testing.T) {
	f := newRouterFixture(t)
	sender, peer := uuid.New(), uuid.New()
	f.blocks.block(peer, sender)
	peerConn := newFakeConn(peer)
	f.reg.Register(peerConn)

	err := f.router.RouteTyping(context.Background(), sender, domain.DirectTarget(peer), true)
	assert.NoError(t, err, "blocked typing is dropped, not refused")
	assert.Empty(t, peerConn.received())
}

func TestRouter_TypingGroupCarriesGroupAddressing(t *testing.T) {
	f := newRouterFixture(t)
	sender, member := uuid.New(), uuid.New()
	group := &domain.Group{GroupID: uuid.New(), AdminID: sender, MemberIDs: []uuid.UUID{sender, member}}
	f.groups.add(group)

	memberConn := newFakeConn(member)
	f.reg.Register(memberConn)

	require.NoError(t, f.router.RouteTyping(context.Background(), sender, domain.GroupTarget(group.GroupID), true))

	events := memberConn.received()
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventTypingStart, events[0].Type)
	assert.True(t, events[0].IsGroup)
	assert.Equal(t, group.GroupID, events[0].GroupID)
	assert.Equal(t, group.GroupID, events[0].TargetID)
}

func TestRouter_BlockLookupCached(t *testing.T) {
	f := newRouterFixture(t)
	sender, recipient := uuid.New(), uuid.New()

	for i := 0; i < 3; i++ {
		_, err := f.router.RouteDirect(context.Background(), sender, recipient, &domain.MessageCreate{Text: "n"})
		require.NoError(t, err)
	}

	f.blocks.mu.Lock()
	lookups := f.blocks.lookups
	f.blocks.mu.Unlock()
	assert.Equal(t, 1, lookups, "repeat sends must hit the cache")
}

func TestRouter_InvalidateBlockForcesLookup(t *testing.T) {
	f := newRouterFixture(t)
	sender, recipient := uuid.New(), uuid.New()

	_, err := f.router.RouteDirect(context.Background(), sender, recipient, &domain.MessageCreate{Text: "a"})
	require.NoError(t, err)

	f.blocks.block(sender, recipient)
	f.router.InvalidateBlock(sender, recipient)

	_, err = f.router.RouteDirect(context.Background(), sender, recipient, &domain.MessageCreate{Text: "b"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBlocked))
}

func TestRouter_ChatClearedDirect(t *testing.T) {
	f := newRouterFixture(t)
	sender, peer := uuid.New(), uuid.New()
	peerConn := newFakeConn(peer)
	f.reg.Register(peerConn)

	require.NoError(t, f.router.RouteChatCleared(context.Background(), sender, domain.DirectTarget(peer)))

	events := peerConn.received()
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventChatCleared, events[0].Type)
	assert.Equal(t, sender, events[0].From)
}
