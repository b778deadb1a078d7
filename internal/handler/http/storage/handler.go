package storage

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatlink-backend/internal/service/storage"
	"chatlink-backend/pkg/constants"
	"chatlink-backend/pkg/response"
)

// Handler handles attachment HTTP requests
type Handler struct {
	storageService *storage.Service
}

// NewHandler creates a new storage handler
func NewHandler(storageService *storage.Service) *Handler {
	return &Handler{storageService: storageService}
}

// Upload stores an attachment from a multipart form and returns its reference
// POST /v1/attachments (multipart field "file")
func (h *Handler) Upload(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, constants.MaxAttachmentSize+1024)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.ValidationError(c, "Missing file")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.InternalError(c, "Failed to read file")
		return
	}
	defer file.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	attachment, err := h.storageService.Upload(c.Request.Context(), userID, fileHeader.Filename, contentType, file, fileHeader.Size)
	if err != nil {
		response.FromAppError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, attachment)
}

// DownloadURL issues a fresh presigned URL for an attachment reference
// GET /v1/attachments/url?ref=attachments/...
func (h *Handler) DownloadURL(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}

	ref := c.Query("ref")
	if ref == "" {
		response.ValidationError(c, "Missing ref")
		return
	}

	url, err := h.storageService.DownloadURL(c.Request.Context(), ref)
	if err != nil {
		response.FromAppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"url": url})
}

// Delete removes an attachment the requester uploaded
// DELETE /v1/attachments?ref=attachments/...
func (h *Handler) Delete(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	ref := c.Query("ref")
	if ref == "" {
		response.ValidationError(c, "Missing ref")
		return
	}

	if err := h.storageService.Delete(c.Request.Context(), userID, ref); err != nil {
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
