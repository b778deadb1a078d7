package ws

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatlink-backend/internal/domain"
	"chatlink-backend/internal/protocol"
	"chatlink-backend/internal/service/call"
	"chatlink-backend/internal/service/chat"
	"chatlink-backend/internal/service/presence"
	"chatlink-backend/pkg/constants"
	apperrors "chatlink-backend/pkg/errors"
	"chatlink-backend/pkg/logger"
	"chatlink-backend/pkg/metrics"
)

// GroupMembership is the slice of the group service the event stream needs
// for join/leave frames
type GroupMembership interface {
	Join(ctx context.Context, userID, groupID uuid.UUID) error
	Leave(ctx context.Context, userID, groupID uuid.UUID) error
}

// Hub owns the WebSocket event stream: it upgrades connections, binds them
// into the registry, and dispatches inbound frames to the router and the
// call coordinator. Message sending stays on the HTTP surface; the stream
// carries receipts, typing, presence, and signaling.
type Hub struct {
	reg    *presence.Registry
	router *chat.Router
	coord  *call.Coordinator
	groups GroupMembership
	bridge *Bridge

	// Concurrency limit for simultaneous connections
	maxConnections int
	semaphore      chan struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		for allowed := range allowedOrigins() {
			if origin == allowed {
				return true
			}
		}
		return false
	},
}

// allowedOrigins reads the origin allow-list from the environment
func allowedOrigins() map[string]struct{} {
	raw := os.Getenv("ALLOWED_ORIGINS")
	if raw == "" {
		raw = "http://localhost:3000,http://localhost:5173"
	}
	out := make(map[string]struct{})
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out[origin] = struct{}{}
		}
	}
	return out
}

// NewHub creates the event-stream hub. bridge may be nil on single-node
// deployments.
func NewHub(reg *presence.Registry, router *chat.Router, coord *call.Coordinator, groups GroupMembership, bridge *Bridge) *Hub {
	maxConns := 1000
	if val := os.Getenv("WS_MAX_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			maxConns = n
		}
	}

	return &Hub{
		reg:            reg,
		router:         router,
		coord:          coord,
		groups:         groups,
		bridge:         bridge,
		maxConnections: maxConns,
		semaphore:      make(chan struct{}, maxConns),
	}
}

// Client is one upgraded connection bound to an authenticated user. It
// implements the registry's Conn: an ordered, non-blocking send queue per
// handle.
type Client struct {
	id          uuid.UUID
	userID      uuid.UUID
	displayName string
	avatarURL   string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

// ID returns the handle identifier
func (c *Client) ID() uuid.UUID { return c.id }

// UserID returns the bound user identity
func (c *Client) UserID() uuid.UUID { return c.userID }

// Send queues an event for delivery on this handle. A full queue means the
// consumer stopped draining; the event is dropped and the error lets the
// caller count it.
func (c *Client) Send(ev *protocol.Event) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return apperrors.ConnectionLostError()
	case c.send <- data:
		return nil
	default:
		return apperrors.ConnectionLostError()
	}
}

// ServeWS upgrades an authenticated request onto the event stream
func (h *Hub) ServeWS(c *gin.Context) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user identity"})
		return
	}
	displayName := c.GetString("display_name")
	avatarURL := c.GetString("avatar_url")

	select {
	case h.semaphore <- struct{}{}:
	default:
		metrics.WSConnectionsRejectedTotal.Inc()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		logger.Log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		id:          uuid.New(),
		userID:      userID,
		displayName: displayName,
		avatarURL:   avatarURL,
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, constants.ClientSendBuffer),
		done:        make(chan struct{}),
	}

	if h.bridge != nil {
		h.bridge.EnsureSubscribed(userID)
	}
	h.reg.Register(client)

	// A handle joining an already-online user sees no membership transition
	// and would wait on the next global one for its presence view; hand the
	// current online set straight to the new handle instead.
	client.Send(protocol.NewPresenceSnapshot(h.reg.OnlineIDs()))

	go client.writePump()
	go client.readPump()
}

// teardown runs exactly once when either pump exits
func (c *Client) teardown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.reg.Unregister(c)
		c.hub.coord.HandleDisconnect(c.id, c.userID)
		if c.hub.bridge != nil && !c.hub.reg.IsOnline(c.userID) {
			c.hub.bridge.Release(c.userID)
		}
		c.conn.Close()
		<-c.hub.semaphore
	})
}

// readPump reads frames serially, so one connection's events apply in the
// order they arrived
func (c *Client) readPump() {
	defer c.teardown()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Debug("websocket closed unexpectedly",
					zap.String("conn_id", c.id.String()),
					zap.Error(err))
			}
			return
		}

		ev, err := protocol.Decode(data)
		if err != nil {
			c.Send(protocol.NewError(string(apperrors.ErrCodeInvalidInput), "malformed frame"))
			continue
		}
		c.dispatch(ev)
	}
}

// dispatch routes one inbound frame. Refusals go back as error frames on the
// same handle; the stream itself stays up.
func (c *Client) dispatch(ev *protocol.Event) {
	ctx := context.Background()

	var err error
	switch ev.Type {
	case protocol.EventTypingStart:
		err = c.hub.router.RouteTyping(ctx, c.userID, c.targetOf(ev), true)
	case protocol.EventTypingStop:
		err = c.hub.router.RouteTyping(ctx, c.userID, c.targetOf(ev), false)

	case protocol.EventCallInvite:
		var sess *domain.CallSession
		sess, err = c.hub.coord.Invite(ctx, c.id, c.userID, ev.To, ev.Offer, domain.CallerMeta{
			Name:   c.displayName,
			Avatar: c.avatarURL,
		})
		if err == nil {
			// Ack carries the minted call ID back to the dialing side
			c.Send(&protocol.Event{Type: protocol.EventAck, CallID: sess.CallID})
		}
	case protocol.EventCallAccept:
		err = c.hub.coord.Accept(ctx, c.id, c.userID, ev.CallID, ev.Answer)
	case protocol.EventCallDecline:
		err = c.hub.coord.Decline(ctx, c.userID, ev.CallID)
	case protocol.EventCallEnd:
		err = c.hub.coord.End(ctx, c.userID, ev.CallID)
	case protocol.EventICECandidate:
		err = c.hub.coord.ExchangeCandidate(ctx, c.userID, ev.CallID, ev.Candidate)

	case protocol.EventJoinGroup:
		err = c.hub.groups.Join(ctx, c.userID, ev.GroupID)
	case protocol.EventLeaveGroup:
		err = c.hub.groups.Leave(ctx, c.userID, ev.GroupID)

	default:
		err = apperrors.InvalidInputError("unsupported frame type: " + ev.Type)
	}

	if err != nil {
		appErr := apperrors.GetAppError(err)
		c.Send(protocol.NewError(string(appErr.Code), appErr.Message))
	}
}

// targetOf resolves the conversation target of a typing frame
func (c *Client) targetOf(ev *protocol.Event) domain.Target {
	if ev.IsGroup {
		return domain.GroupTarget(ev.GroupID)
	}
	return domain.DirectTarget(ev.TargetID)
}

// writePump drains the send queue and keeps the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval * 9 / 10)
	defer func() {
		ticker.Stop()
		c.teardown()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
