package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// AuthorizationHeader is the header key for authorization.
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the prefix for bearer tokens.
	BearerPrefix = "Bearer "
	// StoreIDHeader identifies a public storefront caller.
	StoreIDHeader = "X-Store-ID"
	// AccountIDKey is the context key for the account ID.
	AccountIDKey = "account_id"
	// StoreIDKey is the context key for the storefront store ID.
	StoreIDKey = "store_id"
)

// Claims represents the bearer token claims.
type Claims struct {
	jwt.RegisteredClaims
	AccountID uuid.UUID `json:"account_id"`
}

// TokenVerifier validates a bearer token and returns its claims.
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier creates a new token verifier.
func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses and validates a token string.
func (v *TokenVerifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.AccountID == uuid.Nil {
		return nil, fmt.Errorf("token missing account id")
	}
	return claims, nil
}

// Auth returns a middleware that validates bearer tokens and sets
// account_id in the request context.
func Auth(verifier *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(AccountIDKey, claims.AccountID)
		c.Next()
	}
}

// StoreAuth returns a middleware for the unauthenticated storefront flow.
// It requires the store identifier header and exposes it in the context.
func StoreAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		storeID := strings.TrimSpace(c.GetHeader(StoreIDHeader))
		if storeID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "store identifier required"})
			return
		}
		c.Set(StoreIDKey, storeID)
		c.Next()
	}
}

// AccountID returns the authenticated account ID from the context,
// or uuid.Nil when the request is unauthenticated.
func AccountID(c *gin.Context) uuid.UUID {
	val, exists := c.Get(AccountIDKey)
	if !exists {
		return uuid.Nil
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader(AuthorizationHeader)
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(header, BearerPrefix) {
		return ""
	}
	return strings.TrimPrefix(header, BearerPrefix)
}
