package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"

	"chatlink-backend/pkg/constants"
	apperrors "chatlink-backend/pkg/errors"
)

// Attachment is the stored reference returned to the sender; the ref string
// travels inside messages and resolves to a download URL on demand
type Attachment struct {
	Ref         string `json:"ref"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
}

// Service stores message attachments in the object store and issues
// time-limited download URLs
type Service struct {
	client *MinioClient
	bucket string
	log    *zap.Logger
}

// NewService creates the attachment service and makes sure the bucket exists
func NewService(ctx context.Context, client *MinioClient, bucket string, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := client.EnsureBucket(ctx, bucket); err != nil {
		return nil, fmt.Errorf("attachment bucket unavailable: %w", err)
	}
	return &Service{client: client, bucket: bucket, log: log}, nil
}

// Upload stores an attachment under a collision-free object name and returns
// its reference plus a first download URL
func (s *Service) Upload(ctx context.Context, userID uuid.UUID, filename, contentType string, reader io.Reader, size int64) (*Attachment, error) {
	if size <= 0 {
		return nil, apperrors.ValidationError("attachment is empty")
	}
	if size > constants.MaxAttachmentSize {
		return nil, apperrors.ValidationError("attachment exceeds the size limit")
	}

	base := sanitizeFilename(filename)
	ref := fmt.Sprintf("attachments/%s/%s-%s", userID, uuid.New(), base)

	_, err := s.client.Upload(ctx, s.bucket, ref, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, apperrors.StorageError(err)
	}

	url, err := s.DownloadURL(ctx, ref)
	if err != nil {
		return nil, err
	}

	s.log.Info("attachment stored",
		zap.String("ref", ref),
		zap.Int64("size", size))
	return &Attachment{
		Ref:         ref,
		Name:        base,
		ContentType: contentType,
		Size:        size,
		URL:         url,
	}, nil
}

// DownloadURL issues a presigned URL for an attachment reference
func (s *Service) DownloadURL(ctx context.Context, ref string) (string, error) {
	if !strings.HasPrefix(ref, "attachments/") {
		return "", apperrors.InvalidInputError("not an attachment reference")
	}

	u, err := s.client.PresignedGet(ctx, s.bucket, ref, constants.AttachmentURLExpiry)
	if err != nil {
		return "", apperrors.StorageError(err)
	}
	return u.String(), nil
}

// Delete removes a stored attachment. Only the uploader's prefix matches.
func (s *Service) Delete(ctx context.Context, userID uuid.UUID, ref string) error {
	prefix := fmt.Sprintf("attachments/%s/", userID)
	if !strings.HasPrefix(ref, prefix) {
		return apperrors.ForbiddenError("attachment belongs to another user")
	}

	if err := s.client.Delete(ctx, s.bucket, ref, minio.RemoveObjectOptions{}); err != nil {
		return apperrors.StorageError(err)
	}
	return nil
}

// sanitizeFilename strips path components and oddball characters from a
// client-supplied name
func sanitizeFilename(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "file"
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
