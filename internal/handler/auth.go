package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/bandscore/internal/model"
)

const (
	adminUsername = "admin"
	roleAdmin     = "admin"
)

// Claims are the bearer token claims issued by the auth service.
type Claims struct {
	Sub  string `json:"sub"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// identify verifies the bearer token and stores the caller identity in the
// request context. Without a configured secret every request passes anonymously.
func (h *Handler) identify(next http.Handler) http.Handler {
	secret := []byte(h.config.JWTSecret)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(secret) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, "missing bearer", http.StatusUnauthorized)
			return
		}
		token, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), &Claims{},
			func(t *jwt.Token) (any, error) { return secret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		)
		if err != nil || !token.Valid {
			slog.Warn("rejected bearer token", "error", err)
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		c, _ := token.Claims.(*Claims)
		if c == nil || c.Sub == "" {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}

		ctx := model.ContextWithIdentity(r.Context(), &model.Identity{Subject: c.Sub, Role: c.Role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// canAccess reports whether the caller may read or change an attempt.
func canAccess(r *http.Request, a *model.Attempt) bool {
	id := model.IdentityFromContext(r.Context())
	if id == nil {
		return true
	}
	return id.Role == roleAdmin || id.Subject == a.UserID
}

// requireAdmin checks HTTP basic credentials against the stored admin hash.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash, err := h.store.AdminPasswordHash()
		if err != nil {
			slog.Error("failed to read admin hash", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if hash == "" {
			http.Error(w, "admin access disabled", http.StatusForbidden)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(adminUsername)) != 1 ||
			bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="bandscore"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
