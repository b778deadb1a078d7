package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatlink-backend/internal/domain"
	"chatlink-backend/internal/protocol"
	"chatlink-backend/internal/service/call"
	"chatlink-backend/internal/service/chat"
	"chatlink-backend/internal/service/presence"
)

type noopMessages struct{}

func (noopMessages) Save(context.Context, *domain.Message) error { return nil }
func (noopMessages) GetByConversation(context.Context, uuid.UUID, int, int, []byte) ([]*domain.Message, []byte, error) {
	return nil, nil, nil
}
func (noopMessages) DeleteConversation(context.Context, uuid.UUID, []int) error { return nil }

type noopBlocks struct{}

func (noopBlocks) ExistsBetween(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}

type noopGroups struct{}

func (noopGroups) GetByID(context.Context, uuid.UUID) (*domain.Group, error) { return nil, nil }

type noopMembership struct{}

func (noopMembership) Join(context.Context, uuid.UUID, uuid.UUID) error  { return nil }
func (noopMembership) Leave(context.Context, uuid.UUID, uuid.UUID) error { return nil }

func newStreamServer(t *testing.T, userID uuid.UUID) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := presence.NewRegistry(0)
	router := chat.NewRouter(reg, noopMessages{}, noopBlocks{}, noopGroups{}, nil)
	coord := call.NewCoordinator(reg, noopBlocks{}, time.Minute, nil)
	hub := NewHub(reg, router, coord, noopMembership{}, nil)

	engine := gin.New()
	engine.GET("/ws", func(c *gin.Context) {
		c.Set("user_id", userID)
		hub.ServeWS(c)
	})

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv
}

func dialStream(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://localhost:3000"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *protocol.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	ev, err := protocol.Decode(data)
	require.NoError(t, err)
	return ev
}

func TestServeWS_ConnectingHandleGetsPresenceSnapshot(t *testing.T) {
	userID := uuid.New()
	srv := newStreamServer(t, userID)

	conn := dialStream(t, srv)

	ev := readEvent(t, conn)
	assert.Equal(t, protocol.EventPresenceSnapshot, ev.Type)
	assert.Contains(t, ev.UserIDs, userID)
}

func TestServeWS_SecondDeviceGetsPresenceSnapshot(t *testing.T) {
	userID := uuid.New()
	srv := newStreamServer(t, userID)

	first := dialStream(t, srv)
	readEvent(t, first)

	// A second device triggers no membership transition, so nothing else
	// would ever push it the online set
	second := dialStream(t, srv)
	ev := readEvent(t, second)
	assert.Equal(t, protocol.EventPresenceSnapshot, ev.Type)
	assert.Contains(t, ev.UserIDs, userID)
}
