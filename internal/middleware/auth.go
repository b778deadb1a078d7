package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"chatlink-backend/pkg/jwt"
	"chatlink-backend/pkg/response"
)

// AuthMiddleware validates the bearer token and stores the caller's identity
// in the Gin context for handlers downstream. The WebSocket endpoint also
// accepts the token as a query parameter because browsers cannot set headers
// on WebSocket upgrades.
func AuthMiddleware(jwtManager *jwt.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			response.Unauthorized(c, "Authorization required")
			c.Abort()
			return
		}

		claims, err := jwtManager.ValidateToken(tokenString)
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Set("display_name", claims.DisplayName)
		c.Set("avatar_url", claims.AvatarURL)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}
