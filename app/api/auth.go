package api

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lysyi3m/rss-tag/app/database"
)

const (
	ctxWorkerOwner   = "worker_owner"
	ctxWorkerTokenID = "worker_token_id"
)

// HashToken returns the stored form of a worker token secret.
func HashToken(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// NewWorkerToken creates a token row for owner and returns it with its secret.
// Only the hash of the secret is ever stored.
func NewWorkerToken(owner, name string) (database.WorkerToken, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return database.WorkerToken{}, "", fmt.Errorf("failed to generate token: %w", err)
	}
	secret := "rtw_" + hex.EncodeToString(buf)

	return database.WorkerToken{
		ID:        uuid.NewString(),
		Owner:     owner,
		Name:      name,
		TokenHash: HashToken(secret),
	}, secret, nil
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}

// authMiddleware creates authentication middleware for the admin API
func authMiddleware(apiAccessKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get API key from X-API-Key header
		providedKey := c.GetHeader("X-API-Key")

		// Also check Authorization header with Bearer prefix
		if providedKey == "" {
			providedKey = bearerToken(c)
		}

		if providedKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "API key required",
				"message": "Provide API key in X-API-Key header or Authorization: Bearer <key>",
			})
			return
		}

		if providedKey != apiAccessKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid API key",
				"message": "The provided API key is not valid",
			})
			return
		}

		c.Next()
	}
}

// workerAuthMiddleware resolves a bearer worker token to its owner.
func workerAuthMiddleware(tokens database.TokenRepositoryInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := bearerToken(c)
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "worker token required"})
			return
		}

		token, err := tokens.GetActiveTokenByHash(c.Request.Context(), HashToken(secret))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Database error"})
			return
		}
		if token == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid worker token"})
			return
		}

		c.Set(ctxWorkerOwner, token.Owner)
		c.Set(ctxWorkerTokenID, token.ID)
		c.Next()
	}
}
