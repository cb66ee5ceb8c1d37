package middleware

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/walletmvp/backend/internal/services"
)

type contextKey string

const userIDKey contextKey = "userID"

// WithUserID returns ctx carrying the authenticated user id.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the user id placed by Auth.Middleware.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok && id > 0
}

// Auth validates HS256 bearer tokens and consults a redis blacklist of
// revoked tokens when redis is available.
type Auth struct {
	secret []byte
	redis  *redis.Client
}

func NewAuth(secret string, client *redis.Client) *Auth {
	return &Auth{secret: []byte(secret), redis: client}
}

func blacklistKey(token string) string {
	return fmt.Sprintf("blacklist:%s", token)
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) string {
	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			services.SendErrorResponse(w, "Authorization header required", http.StatusUnauthorized, nil)
			return
		}
		token := BearerToken(r)
		if token == "" {
			services.SendErrorResponse(w, "Invalid authorization header format", http.StatusUnauthorized, nil)
			return
		}

		userID, err := a.validateToken(token)
		if err != nil {
			log.Printf("[AUTH] token rejected: %v", err)
			services.SendErrorResponse(w, "Invalid token", http.StatusUnauthorized, nil)
			return
		}
		if a.revoked(r.Context(), token) {
			services.SendErrorResponse(w, "Token has been revoked", http.StatusUnauthorized, nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// Revoke blacklists token for ttl.
func (a *Auth) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if a.redis == nil || token == "" {
		return nil
	}
	return a.redis.Set(ctx, blacklistKey(token), "1", ttl).Err()
}

func (a *Auth) revoked(ctx context.Context, token string) bool {
	if a.redis == nil {
		return false
	}
	n, err := a.redis.Exists(ctx, blacklistKey(token)).Result()
	if err != nil {
		// Fails open.
		log.Printf("[AUTH] blacklist lookup failed: %v", err)
		return false
	}
	return n > 0
}

func (a *Auth) validateToken(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, err
	}
	if !token.Valid {
		return 0, errors.New("token invalid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errors.New("unexpected claims type")
	}
	raw, ok := claims["user_id"].(float64)
	if !ok || raw <= 0 {
		return 0, errors.New("user_id claim missing")
	}
	return int64(raw), nil
}
