package presence

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatlink-backend/internal/service/presence"
	"chatlink-backend/pkg/response"
)

// ClusterView reads the merged online set across nodes. Nil means this node
// answers from its local registry only.
type ClusterView interface {
	GetOnlineUsers(ctx context.Context) ([]uuid.UUID, error)
}

// Handler serves presence reads over HTTP. The live snapshot also rides the
// event stream; this endpoint exists for pollers and cold starts.
type Handler struct {
	reg     *presence.Registry
	cluster ClusterView
}

// NewHandler creates a presence handler. cluster may be nil.
func NewHandler(reg *presence.Registry, cluster ClusterView) *Handler {
	return &Handler{reg: reg, cluster: cluster}
}

// Online returns the set of online user IDs
// GET /v1/presence/online
func (h *Handler) Online(c *gin.Context) {
	if _, exists := c.Get("user_id"); !exists {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	ids := h.onlineIDs(c.Request.Context())
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	response.Success(c, http.StatusOK, gin.H{
		"online": out,
		"count":  len(out),
	})
}

// Status reports whether one user is online
// GET /v1/presence/:userID
func (h *Handler) Status(c *gin.Context) {
	if _, exists := c.Get("user_id"); !exists {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	userID, err := uuid.Parse(c.Param("userID"))
	if err != nil {
		response.ValidationError(c, "Invalid userID")
		return
	}

	online := h.reg.IsOnline(userID)
	if !online && h.cluster != nil {
		for _, id := range h.onlineIDs(c.Request.Context()) {
			if id == userID {
				online = true
				break
			}
		}
	}
	response.Success(c, http.StatusOK, gin.H{
		"user_id": userID.String(),
		"online":  online,
	})
}

// onlineIDs prefers the cluster-wide mirror and falls back to the local
// registry when the mirror is unavailable
func (h *Handler) onlineIDs(ctx context.Context) []uuid.UUID {
	if h.cluster != nil {
		if ids, err := h.cluster.GetOnlineUsers(ctx); err == nil {
			return ids
		}
	}
	return h.reg.OnlineIDs()
}
