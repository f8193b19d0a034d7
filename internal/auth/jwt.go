// Package auth provides a thin JWT wrapper for the job surface: a token
// issuer/validator and a gin middleware that enforces it when enabled.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/beamforge/beamforge/internal/config"
)

// Claims identifies the caller a token was issued to.
type Claims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// Manager issues and validates HMAC-signed job-surface tokens.
type Manager struct {
	cfg config.AuthConfig
}

// NewManager builds a Manager from cfg. Issue/Validate are safe to call even
// when cfg.Enabled is false, though callers typically gate on it via
// RequireAuth instead.
func NewManager(cfg config.AuthConfig) *Manager {
	return &Manager{cfg: cfg}
}

// Issue mints a token for clientID, valid for cfg.TokenExpiry.
func (m *Manager) Issue(clientID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.TokenExpiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.cfg.Secret))
}

// IssueWithSecret verifies secret against clientID's registered bcrypt hash
// and, on success, issues it a token. Used by the job surface's token
// exchange endpoint so a caller never needs to hold a long-lived JWT.
func (m *Manager) IssueWithSecret(clientID, secret string) (string, error) {
	hash, ok := m.cfg.Clients[clientID]
	if !ok {
		return "", fmt.Errorf("unknown client %q", clientID)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return "", fmt.Errorf("invalid secret for client %q", clientID)
	}
	return m.Issue(clientID)
}

// Validate parses and verifies tokenString, returning its claims.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(m.cfg.Secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// clientIDKey is the gin context key RequireAuth stores the validated
// client id under.
const clientIDKey = "beamforge.client_id"

// RequireAuth is a gin middleware enforcing a valid bearer token. It is a
// no-op (always calls Next) when auth is disabled in configuration.
func (m *Manager) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.cfg.Enabled {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := m.Validate(strings.TrimPrefix(header, prefix))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(clientIDKey, claims.ClientID)
		c.Next()
	}
}

// ClientID returns the authenticated client id stored by RequireAuth, or
// "" if the request was unauthenticated (auth disabled).
func ClientID(c *gin.Context) string {
	v, _ := c.Get(clientIDKey)
	id, _ := v.(string)
	return id
}
