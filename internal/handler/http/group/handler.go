package group

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatlink-backend/internal/service/group"
	"chatlink-backend/pkg/response"
)

// Handler handles group HTTP requests
type Handler struct {
	groupService *group.Service
}

// NewHandler creates a new group handler
func NewHandler(groupService *group.Service) *Handler {
	return &Handler{groupService: groupService}
}

// CreateGroupRequest represents a group creation request
type CreateGroupRequest struct {
	Name      string   `json:"name" binding:"required"`
	MemberIDs []string `json:"member_ids"`
}

// Create makes a new group with the requester as admin
// POST /v1/groups
func (h *Handler) Create(c *gin.Context) {
	adminID, ok := currentUser(c)
	if !ok {
		return
	}

	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	memberIDs := make([]uuid.UUID, 0, len(req.MemberIDs))
	for _, raw := range req.MemberIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.ValidationError(c, "Invalid member ID: "+raw)
			return
		}
		memberIDs = append(memberIDs, id)
	}

	created, err := h.groupService.Create(c.Request.Context(), adminID, req.Name, memberIDs)
	if err != nil {
		response.FromAppError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, created)
}

// List returns the requester's groups
// GET /v1/groups
func (h *Handler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	groups, err := h.groupService.ListForUser(c.Request.Context(), userID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, groups)
}

// Get returns one group with its membership set
// GET /v1/groups/:groupID
func (h *Handler) Get(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	groupID, ok := pathUUID(c, "groupID")
	if !ok {
		return
	}

	found, err := h.groupService.Get(c.Request.Context(), groupID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, found)
}

// Join adds the requester to a group
// POST /v1/groups/:groupID/join
func (h *Handler) Join(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	groupID, ok := pathUUID(c, "groupID")
	if !ok {
		return
	}

	if err := h.groupService.Join(c.Request.Context(), userID, groupID); err != nil {
		response.FromAppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"joined": true})
}

// Leave removes the requester from a group
// POST /v1/groups/:groupID/leave
func (h *Handler) Leave(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	groupID, ok := pathUUID(c, "groupID")
	if !ok {
		return
	}

	if err := h.groupService.Leave(c.Request.Context(), userID, groupID); err != nil {
		response.FromAppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"left": true})
}

// Delete removes a group entirely, admin only
// DELETE /v1/groups/:groupID
func (h *Handler) Delete(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	groupID, ok := pathUUID(c, "groupID")
	if !ok {
		return
	}

	if err := h.groupService.Delete(c.Request.Context(), userID, groupID); err != nil {
		response.FromAppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.ValidationError(c, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
