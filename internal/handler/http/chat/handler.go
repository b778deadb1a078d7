package chat

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatlink-backend/internal/domain"
	"chatlink-backend/internal/service/chat"
	"chatlink-backend/pkg/constants"
	"chatlink-backend/pkg/response"
)

// Handler handles message HTTP requests. Sending goes through HTTP so the
// sender gets a synchronous acknowledgment with the stored copy; delivery to
// recipients rides the event stream.
type Handler struct {
	chatService *chat.Service
}

// NewHandler creates a new chat handler
func NewHandler(chatService *chat.Service) *Handler {
	return &Handler{chatService: chatService}
}

// SendMessageRequest represents a send message request
type SendMessageRequest struct {
	Text          string `json:"text"`
	AttachmentRef string `json:"attachment_ref"`
}

// HistoryQuery represents query parameters for listing messages
type HistoryQuery struct {
	Limit     int    `form:"limit"`
	PageState string `form:"page_state"` // Base64 encoded
}

// SendDirect handles sending a direct message
// POST /v1/messages/direct/:userID
func (h *Handler) SendDirect(c *gin.Context) {
	senderID, ok := currentUser(c)
	if !ok {
		return
	}
	recipientID, ok := pathUUID(c, "userID")
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	msg, err := h.chatService.SendDirect(c.Request.Context(), senderID, recipientID, &domain.MessageCreate{
		Text:          req.Text,
		AttachmentRef: req.AttachmentRef,
	})
	if err != nil {
		response.FromAppError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, msg)
}

// SendGroup handles sending a group message
// POST /v1/messages/group/:groupID
func (h *Handler) SendGroup(c *gin.Context) {
	senderID, ok := currentUser(c)
	if !ok {
		return
	}
	groupID, ok := pathUUID(c, "groupID")
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	msg, err := h.chatService.SendGroup(c.Request.Context(), senderID, groupID, &domain.MessageCreate{
		Text:          req.Text,
		AttachmentRef: req.AttachmentRef,
	})
	if err != nil {
		response.FromAppError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, msg)
}

// DirectHistory retrieves direct conversation messages, newest first
// GET /v1/messages/direct/:userID?limit=50&page_state=base64
func (h *Handler) DirectHistory(c *gin.Context) {
	requesterID, ok := currentUser(c)
	if !ok {
		return
	}
	peerID, ok := pathUUID(c, "userID")
	if !ok {
		return
	}

	limit, pageState, ok := historyParams(c)
	if !ok {
		return
	}

	messages, next, err := h.chatService.DirectHistory(c.Request.Context(), requesterID, peerID, limit, pageState)
	if err != nil {
		response.FromAppError(c, err)
		return
	}
	respondHistory(c, messages, next)
}

// GroupHistory retrieves group conversation messages, members only
// GET /v1/messages/group/:groupID?limit=50&page_state=base64
func (h *Handler) GroupHistory(c *gin.Context) {
	requesterID, ok := currentUser(c)
	if !ok {
		return
	}
	groupID, ok := pathUUID(c, "groupID")
	if !ok {
		return
	}

	limit, pageState, ok := historyParams(c)
	if !ok {
		return
	}

	messages, next, err := h.chatService.GroupHistory(c.Request.Context(), requesterID, groupID, limit, pageState)
	if err != nil {
		response.FromAppError(c, err)
		return
	}
	respondHistory(c, messages, next)
}

// ClearDirect wipes the direct conversation with a peer
// DELETE /v1/messages/direct/:userID
func (h *Handler) ClearDirect(c *gin.Context) {
	requesterID, ok := currentUser(c)
	if !ok {
		return
	}
	peerID, ok := pathUUID(c, "userID")
	if !ok {
		return
	}

	if err := h.chatService.ClearDirect(c.Request.Context(), requesterID, peerID); err != nil {
		response.FromAppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"cleared": true})
}

// ClearGroup wipes a group conversation, admin only
// DELETE /v1/messages/group/:groupID
func (h *Handler) ClearGroup(c *gin.Context) {
	requesterID, ok := currentUser(c)
	if !ok {
		return
	}
	groupID, ok := pathUUID(c, "groupID")
	if !ok {
		return
	}

	if err := h.chatService.ClearGroup(c.Request.Context(), requesterID, groupID); err != nil {
		response.FromAppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"cleared": true})
}

func historyParams(c *gin.Context) (int, []byte, bool) {
	var query HistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.ValidationError(c, err.Error())
		return 0, nil, false
	}

	if query.Limit <= 0 {
		query.Limit = constants.HistoryPageLimit
	}
	if query.Limit > constants.HistoryPageLimit*2 {
		query.Limit = constants.HistoryPageLimit * 2
	}

	var pageState []byte
	if query.PageState != "" {
		var err error
		pageState, err = base64.StdEncoding.DecodeString(query.PageState)
		if err != nil {
			response.ValidationError(c, "Invalid page state")
			return 0, nil, false
		}
	}
	return query.Limit, pageState, true
}

func respondHistory(c *gin.Context, messages []*domain.Message, next []byte) {
	payload := gin.H{"messages": messages}
	if len(next) > 0 {
		payload["next_page_state"] = base64.StdEncoding.EncodeToString(next)
	}
	response.Success(c, http.StatusOK, payload)
}

// currentUser pulls the authenticated user from the request context
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
