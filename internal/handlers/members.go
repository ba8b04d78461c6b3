package handlers

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/PortNumber53/show-association/backend/internal/models"
)

// MemberSyncStore creates or refreshes member rows for authenticated accounts.
type MemberSyncStore interface {
	UpsertMember(ctx context.Context, email, firstName, lastName string) (*models.Member, error)
}

type memberSyncRequest struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
}

// SyncMember accepts an authenticated account forwarded by the web tier and
// returns the matching member row, creating it on first login. The response id
// is what the web tier sends back as X-Member-ID.
func SyncMember(store MemberSyncStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req memberSyncRequest
		if !decodeValid(w, r, &req) {
			return
		}

		m, err := store.UpsertMember(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)), req.FirstName, req.LastName)
		if err != nil {
			log.Printf("SyncMember: failed to upsert member: %v", err)
			writeError(w, r, err)
			return
		}

		log.Printf("SyncMember: synced member %d", m.ID)
		writeJSON(w, http.StatusOK, m)
	}
}
