package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/franckalain/fruitbeast/internal/models"
)

const userIDKey = "userID"

// Middleware attaches the acting user id to the request. Browsers cannot set
// headers on websocket upgrades, so ?token= is accepted too.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.cfg.Enabled {
			c.Set(userIDKey, models.DemoUserID)
			c.Next()
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		uid, err := s.Authenticate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(userIDKey, uid)
		c.Next()
	}
}

// UserID returns the user attached by Middleware
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
