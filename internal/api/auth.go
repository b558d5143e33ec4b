package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pushbridge/internal/identity"
)

// Claims is the bearer token payload. Admin grants the administrator
// capability required by the admin-only endpoints.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Admin  bool   `json:"admin,omitempty"`
}

// GenerateToken signs a bearer token for out-of-band provisioning (setup
// tooling, tests).
func GenerateToken(secret, userID string, admin bool, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "pushbridge",
		},
		UserID: userID,
		Admin:  admin,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

type caller struct {
	userID string
	admin  bool
}

type callerKeyType struct{}

var callerKey callerKeyType

func callerFrom(r *http.Request) caller {
	c, _ := r.Context().Value(callerKey).(caller)
	return c
}

// authenticate verifies the bearer token and stores the caller identity in
// the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		raw, found := strings.CutPrefix(auth, "Bearer ")
		if !found || strings.TrimSpace(raw) == "" {
			writeError(w, http.StatusUnauthorized, "bearer token required")
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (any, error) {
			return []byte(s.secret()), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		id, _ := identity.CanonicalUserID(claims.UserID)
		c := caller{userID: id, admin: claims.Admin}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, c)))
	})
}

// requireAdmin guards admin-only endpoints.
func requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !callerFrom(r).admin {
			writeError(w, http.StatusForbidden, "administrator capability required")
			return
		}
		next(w, r)
	}
}

// canActFor reports whether the caller may act for the target user:
// themselves, or any user when they hold the administrator capability.
func canActFor(r *http.Request, targetUserID string) bool {
	c := callerFrom(r)
	if c.admin {
		return true
	}
	id, ok := identity.CanonicalUserID(targetUserID)
	return ok && c.userID != "" && c.userID == id
}
