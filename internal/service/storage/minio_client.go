package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"chatlink-backend/pkg/logger"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int

const (
	CircuitBreakerClosed CircuitBreakerState = iota
	CircuitBreakerHalfOpen
	CircuitBreakerOpen
)

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	MaxFailures  int
	Timeout      time.Duration
	ResetTimeout time.Duration
}

// DefaultCircuitBreakerConfig returns default circuit breaker settings
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxFailures:  5,
		Timeout:      10 * time.Second,
		ResetTimeout: 30 * time.Second,
	}
}

// MinioClient wraps the MinIO client with a circuit breaker so object-store
// trouble fails fast instead of stalling the request path
type MinioClient struct {
	client *minio.Client
	config *CircuitBreakerConfig

	mu          sync.Mutex
	state       CircuitBreakerState
	failures    int
	lastFailure time.Time
}

// NewMinioClient creates a MinIO client with circuit breaking
func NewMinioClient(endpoint, accessKey, secretKey string, useSSL bool) (*MinioClient, error) {
	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinioClient{
		client: minioClient,
		config: DefaultCircuitBreakerConfig(),
		state:  CircuitBreakerClosed,
	}, nil
}

// Upload stores an object
func (c *MinioClient) Upload(ctx context.Context, bucketName, objectName string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if err := c.allow(); err != nil {
		return minio.UploadInfo{}, err
	}

	uploadCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	info, err := c.client.PutObject(uploadCtx, bucketName, objectName, reader, size, opts)
	c.observe(err)
	if err != nil {
		return minio.UploadInfo{}, fmt.Errorf("upload failed: %w", err)
	}
	return info, nil
}

// PresignedGet issues a time-limited download URL
func (c *MinioClient) PresignedGet(ctx context.Context, bucketName, objectName string, expiry time.Duration) (*url.URL, error) {
	if err := c.allow(); err != nil {
		return nil, err
	}

	u, err := c.client.PresignedGetObject(ctx, bucketName, objectName, expiry, url.Values{})
	c.observe(err)
	if err != nil {
		return nil, fmt.Errorf("presign failed: %w", err)
	}
	return u, nil
}

// Delete removes an object
func (c *MinioClient) Delete(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	if err := c.allow(); err != nil {
		return err
	}

	deleteCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	err := c.client.RemoveObject(deleteCtx, bucketName, objectName, opts)
	c.observe(err)
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	return nil
}

// EnsureBucket creates the bucket if it does not exist yet
func (c *MinioClient) EnsureBucket(ctx context.Context, bucketName string) error {
	exists, err := c.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := c.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// allow gates an operation on the breaker state, letting one probe through
// after the reset timeout
func (c *MinioClient) allow() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == CircuitBreakerOpen {
		if time.Since(c.lastFailure) < c.config.ResetTimeout {
			return errors.New("object store circuit breaker is open")
		}
		c.state = CircuitBreakerHalfOpen
	}
	return nil
}

// observe records the outcome of an operation
func (c *MinioClient) observe(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		c.failures = 0
		c.state = CircuitBreakerClosed
		c.lastFailure = time.Time{}
		return
	}

	c.failures++
	c.lastFailure = time.Now()
	logger.Log.Warn("object store operation failed",
		zap.Error(err),
		zap.Int("failures", c.failures))

	if c.failures >= c.config.MaxFailures {
		c.state = CircuitBreakerOpen
		logger.Log.Warn("object store circuit breaker opened",
			zap.Int("failures", c.failures))
	}
}

// State returns the current circuit breaker state
func (c *MinioClient) State() CircuitBreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
