package chat

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatlink-backend/internal/domain"
	"chatlink-backend/internal/protocol"
	apperrors "chatlink-backend/pkg/errors"
)

func newServiceFixture(t *testing.T) (*routerFixture, *Service) {
	t.Helper()
	f := newRouterFixture(t)
	return f, NewService(f.router, nil)
}

func TestService_SendDirectRejectsSelf(t *testing.T) {
	_, svc := newServiceFixture(t)
	userID := uuid.New()

	msg, err := svc.SendDirect(context.Background(), userID, userID, &domain.MessageCreate{Text: "me"})
	assert.Nil(t, msg)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
}

func TestService_DirectHistoryReturnsNewestFirst(t *testing.T) {
	f, svc := newServiceFixture(t)
	a, b := uuid.New(), uuid.New()

	var sent []uuid.UUID
	for i := 0; i < 3; i++ {
		msg, err := svc.SendDirect(context.Background(), a, b, &domain.MessageCreate{Text: "n"})
		require.NoError(t, err)
		sent = append(sent, msg.MessageID)
	}

	history, _, err := svc.DirectHistory(context.Background(), b, a, 10, nil)
	require.NoError(t, err)
	require.Len(t, history, 3)
	// Both participants address the same partition, newest first
	assert.Equal(t, sent[2], history[0].MessageID)
	assert.Equal(t, sent[0], history[2].MessageID)
	_ = f
}

func TestService_GroupHistoryRequiresMembership(t *testing.T) {
	f, svc := newServiceFixture(t)
	member := uuid.New()
	group := &domain.Group{GroupID: uuid.New(), AdminID: member, MemberIDs: []uuid.UUID{member}}
	f.groups.add(group)

	_, _, err := svc.GroupHistory(context.Background(), uuid.New(), group.GroupID, 10, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotMember))
}

func TestService_ClearDirectWipesAndNotifies(t *testing.T) {
	f, svc := newServiceFixture(t)
	a, b := uuid.New(), uuid.New()

	_, err := svc.SendDirect(context.Background(), a, b, &domain.MessageCreate{Text: "gone"})
	require.NoError(t, err)

	peerConn := newFakeConn(b)
	f.reg.Register(peerConn)

	require.NoError(t, svc.ClearDirect(context.Background(), a, b))

	history, _, err := svc.DirectHistory(context.Background(), a, b, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, history)

	var cleared int
	for _, ev := range peerConn.received() {
		if ev.Type == protocol.EventChatCleared {
			cleared++
		}
	}
	assert.Equal(t, 1, cleared)
}

func TestService_ClearGroupAdminOnly(t *testing.T) {
	f, svc := newServiceFixture(t)
	admin, member := uuid.New(), uuid.New()
	group := &domain.Group{GroupID: uuid.New(), AdminID: admin, MemberIDs: []uuid.UUID{admin, member}}
	f.groups.add(group)

	err := svc.ClearGroup(context.Background(), member, group.GroupID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	assert.NoError(t, svc.ClearGroup(context.Background(), admin, group.GroupID))
}
