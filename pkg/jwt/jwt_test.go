package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewJWTManager(t *testing.T) {
	secret := "test-secret-key-for-testing-purposes"
	accessExpiry := 15 * time.Minute

	manager := NewJWTManager(secret, accessExpiry)

	assert.NotNil(t, manager)
	assert.Equal(t, secret, manager.secretKey)
	assert.Equal(t, accessExpiry, manager.accessTokenDuration)
}

func TestGenerateAccessToken(t *testing.T) {
	manager := NewJWTManager("test-secret", 15*time.Minute)
	userID := uuid.New()

	token, err := manager.GenerateAccessToken(userID, "testuser", "Test User")

	assert.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestValidateToken_ValidToken(t *testing.T) {
	manager := NewJWTManager("test-secret", 15*time.Minute)
	userID := uuid.New()

	token, err := manager.GenerateAccessToken(userID, "testuser", "Test User")
	assert.NoError(t, err)

	claims, err := manager.ValidateToken(token)

	assert.NoError(t, err)
	assert.NotNil(t, claims)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "testuser", claims.Username)
	assert.Equal(t, "Test User", claims.DisplayName)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	manager := NewJWTManager("test-secret", 15*time.Minute)
	other := NewJWTManager("another-secret", 15*time.Minute)
	userID := uuid.New()

	token, err := manager.GenerateAccessToken(userID, "testuser", "Test User")
	assert.NoError(t, err)

	claims, err := other.ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestValidateToken_ExpiredToken(t *testing.T) {
	manager := NewJWTManager("test-secret", -1*time.Minute)
	userID := uuid.New()

	token, err := manager.GenerateAccessToken(userID, "testuser", "Test User")
	assert.NoError(t, err)

	claims, err := manager.ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
	assert.True(t, IsTokenExpired(token))
}

func TestExtractUserID(t *testing.T) {
	manager := NewJWTManager("test-secret", 15*time.Minute)
	userID := uuid.New()

	token, err := manager.GenerateAccessToken(userID, "testuser", "Test User")
	assert.NoError(t, err)

	extracted, err := manager.ExtractUserID(token)

	assert.NoError(t, err)
	assert.Equal(t, userID, extracted)
}
