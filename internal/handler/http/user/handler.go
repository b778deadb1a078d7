package user

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatlink-backend/internal/service/user"
	"chatlink-backend/pkg/response"
)

// Handler handles user directory HTTP requests
type Handler struct {
	userService *user.Service
}

// NewHandler creates a new user handler
func NewHandler(userService *user.Service) *Handler {
	return &Handler{userService: userService}
}

// Contacts lists the directory with online flags
// GET /v1/users?limit=50&offset=0
func (h *Handler) Contacts(c *gin.Context) {
	requesterID, ok := currentUser(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	contacts, err := h.userService.Contacts(c.Request.Context(), requesterID, limit, offset)
	if err != nil {
		response.FromAppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, contacts)
}

// Search finds users by name prefix
// GET /v1/users/search?q=term&limit=20
func (h *Handler) Search(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	contacts, err := h.userService.Search(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		response.FromAppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, contacts)
}

// Get returns one user profile
// GET /v1/users/:userID
func (h *Handler) Get(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	userID, ok := pathUUID(c, "userID")
	if !ok {
		return
	}

	profile, err := h.userService.Get(c.Request.Context(), userID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, profile)
}

// Block creates a block edge toward another user
// POST /v1/users/:userID/block
func (h *Handler) Block(c *gin.Context) {
	blockerID, ok := currentUser(c)
	if !ok {
		return
	}
	targetID, ok := pathUUID(c, "userID")
	if !ok {
		return
	}

	if err := h.userService.Block(c.Request.Context(), blockerID, targetID); err != nil {
		response.FromAppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"blocked": true})
}

// Unblock removes a block edge
// DELETE /v1/users/:userID/block
func (h *Handler) Unblock(c *gin.Context) {
	blockerID, ok := currentUser(c)
	if !ok {
		return
	}
	targetID, ok := pathUUID(c, "userID")
	if !ok {
		return
	}

	if err := h.userService.Unblock(c.Request.Context(), blockerID, targetID); err != nil {
		response.FromAppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"unblocked": true})
}

// Blocked lists the requester's block relations
// GET /v1/users/blocked
func (h *Handler) Blocked(c *gin.Context) {
	blockerID, ok := currentUser(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	relations, err := h.userService.Blocked(c.Request.Context(), blockerID, limit, offset)
	if err != nil {
		response.FromAppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, relations)
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
