// Package middleware holds the HTTP middleware shared by the portal and admin
// routes: web-tier identity and the admin audit trail.
package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/PortNumber53/show-association/backend/internal/models"
	"github.com/PortNumber53/show-association/backend/internal/store"
)

// Headers set by the web tier after it authenticates a user.
const (
	HeaderInternalSecret = "X-Internal-Secret"
	HeaderMemberID       = "X-Member-ID"
)

type contextKey string

const memberKey contextKey = "member"

// MemberLoader looks up the member named by the identity header.
type MemberLoader interface {
	GetMemberByID(ctx context.Context, id int64) (*models.Member, error)
}

// WithMember returns a copy of ctx carrying m.
func WithMember(ctx context.Context, m *models.Member) context.Context {
	return context.WithValue(ctx, memberKey, m)
}

// MemberFromContext returns the member stored by Identity, if any.
func MemberFromContext(ctx context.Context) (*models.Member, bool) {
	m, ok := ctx.Value(memberKey).(*models.Member)
	return m, ok && m != nil
}

func secretMatches(r *http.Request, secret string) bool {
	got := r.Header.Get(HeaderInternalSecret)
	return secret != "" && subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}

// RequireInternalSecret admits only requests carrying the web tier's shared secret.
func RequireInternalSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !secretMatches(r, secret) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Identity trusts the member id forwarded by the web tier once the shared
// secret matches, and loads that member into the request context.
func Identity(secret string, members MemberLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !secretMatches(r, secret) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderMemberID)), 10, 64)
			if err != nil || id <= 0 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			m, err := members.GetMemberByID(r.Context(), id)
			if err != nil {
				if errors.Is(err, store.ErrMemberNotFound) {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				log.Printf("[identity] load member %d: %v", id, err)
				http.Error(w, "something went wrong, please try again", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithMember(r.Context(), m)))
		})
	}
}

// RequireAdmin rejects members without the admin role. It must run after Identity.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, ok := MemberFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !m.IsAdmin() {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
