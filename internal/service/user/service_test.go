package user

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatlink-backend/internal/domain"
	apperrors "chatlink-backend/pkg/errors"
)

type fakeStore struct {
	users map[uuid.UUID]*domain.User
}

func (s *fakeStore) GetByID(_ context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.users[userID], nil
}

func (s *fakeStore) List(_ context.Context, excludeID uuid.UUID, _, _ int) ([]*domain.User, error) {
	var out []*domain.User
	for _, u := range s.users {
		if u.UserID != excludeID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeStore) Search(_ context.Context, term string, _ int) ([]*domain.User, error) {
	var out []*domain.User
	for _, u := range s.users {
		if len(u.Username) >= len(term) && u.Username[:len(term)] == term {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeBlocks struct {
	edges map[[2]uuid.UUID]bool
}

func (b *fakeBlocks) Block(_ context.Context, blockerID, blockedID uuid.UUID) error {
	b.edges[[2]uuid.UUID{blockerID, blockedID}] = true
	return nil
}

func (b *fakeBlocks) Unblock(_ context.Context, blockerID, blockedID uuid.UUID) error {
	delete(b.edges, [2]uuid.UUID{blockerID, blockedID})
	return nil
}

func (b *fakeBlocks) ListBlocked(_ context.Context, blockerID uuid.UUID, _, _ int) ([]*domain.BlockedRelation, error) {
	var out []*domain.BlockedRelation
	for edge := range b.edges {
		if edge[0] == blockerID {
			out = append(out, &domain.BlockedRelation{BlockerID: edge[0], BlockedID: edge[1]})
		}
	}
	return out, nil
}

type fakeOnline struct {
	online map[uuid.UUID]bool
}

func (o *fakeOnline) IsOnline(userID uuid.UUID) bool { return o.online[userID] }

type invalidationRecorder struct {
	calls int
}

func (r *invalidationRecorder) InvalidateBlock(_, _ uuid.UUID) { r.calls++ }

func seedUser(store *fakeStore, username string) uuid.UUID {
	id := uuid.New()
	store.users[id] = &domain.User{UserID: id, Username: username, DisplayName: username}
	return id
}

func newFixture() (*Service, *fakeStore, *fakeBlocks, *fakeOnline, *invalidationRecorder) {
	store := &fakeStore{users: make(map[uuid.UUID]*domain.User)}
	blocks := &fakeBlocks{edges: make(map[[2]uuid.UUID]bool)}
	online := &fakeOnline{online: make(map[uuid.UUID]bool)}
	recorder := &invalidationRecorder{}
	return NewService(store, blocks, online, recorder, nil), store, blocks, online, recorder
}

func TestService_GetUnknownUser(t *testing.T) {
	svc, _, _, _, _ := newFixture()

	_, err := svc.Get(context.Background(), uuid.New())

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUserNotFound))
}

func TestService_ContactsCarryOnlineFlags(t *testing.T) {
	svc, store, _, online, _ := newFixture()
	me := seedUser(store, "me")
	alice := seedUser(store, "alice")
	seedUser(store, "bob")
	online.online[alice] = true

	contacts, err := svc.Contacts(context.Background(), me, 50, 0)

	require.NoError(t, err)
	assert.Len(t, contacts, 2, "requester is excluded")
	for _, contact := range contacts {
		assert.Equal(t, contact.UserID == alice, contact.Online)
	}
}

func TestService_SearchRequiresTerm(t *testing.T) {
	svc, _, _, _, _ := newFixture()

	_, err := svc.Search(context.Background(), "", 10)

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingField))
}

func TestService_BlockSelfRefused(t *testing.T) {
	svc, store, _, _, _ := newFixture()
	me := seedUser(store, "me")

	err := svc.Block(context.Background(), me, me)

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
}

func TestService_BlockUnknownTargetRefused(t *testing.T) {
	svc, store, _, _, _ := newFixture()
	me := seedUser(store, "me")

	err := svc.Block(context.Background(), me, uuid.New())

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUserNotFound))
}

func TestService_BlockInvalidatesCachedLookups(t *testing.T) {
	svc, store, blocks, _, recorder := newFixture()
	me := seedUser(store, "me")
	other := seedUser(store, "other")

	require.NoError(t, svc.Block(context.Background(), me, other))
	assert.Equal(t, 1, recorder.calls)
	assert.True(t, blocks.edges[[2]uuid.UUID{me, other}])

	require.NoError(t, svc.Unblock(context.Background(), me, other))
	assert.Equal(t, 2, recorder.calls)
	assert.False(t, blocks.edges[[2]uuid.UUID{me, other}])
}

func TestService_BlockedListsOwnEdgesOnly(t *testing.T) {
	svc, store, _, _, _ := newFixture()
	me := seedUser(store, "me")
	other := seedUser(store, "other")
	third := seedUser(store, "third")
	require.NoError(t, svc.Block(context.Background(), me, other))
	require.NoError(t, svc.Block(context.Background(), third, me))

	relations, err := svc.Blocked(context.Background(), me, 50, 0)

	require.NoError(t, err)
	require.Len(t, relations, 1)
	assert.Equal(t, other, relations[0].BlockedID)
}
