package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload issued by the auth layer of the wider backend.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// tokenLifetime matches the auth layer's token expiry.
const tokenLifetime = 24 * time.Hour

// GenerateToken signs a JWT for the given user. The auth layer of the wider
// backend issues these at login; tests use it to mint callers.
func GenerateToken(secret, userID, email string) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenLifetime)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "lira-backend",
		},
		UserID: userID,
		Email:  email,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// contextKeyUserID is the gin context key the auth middleware sets.
const contextKeyUserID = "user_id"

// Auth returns a middleware that verifies the Bearer token and stores the
// caller's user id in the request context. The caller's role is not taken
// from the token; privileged handlers re-check it against the user store.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "authorization token required"})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "bearer token malformed"})
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid || claims.UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid token"})
			return
		}

		c.Set(contextKeyUserID, claims.UserID)
		c.Next()
	}
}

// callerID returns the authenticated user id set by Auth.
func callerID(c *gin.Context) string {
	id, _ := c.Get(contextKeyUserID)
	if s, ok := id.(string); ok {
		return s
	}
	return ""
}

// RequestLogger injects the logger into the request context and logs one
// line per request.
func RequestLogger(log *clog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := clog.WithLogger(c.Request.Context(), log)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		log.With(
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		).Info("request")
	}
}
