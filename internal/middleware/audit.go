package middleware

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/PortNumber53/show-association/backend/internal/models"
)

// AuditStore persists admin audit entries.
type AuditStore interface {
	CreateAuditEntry(ctx context.Context, entry models.AuditEntry) error
}

// AuditTracker records every admin request to the audit log.
type AuditTracker struct {
	store AuditStore
	// record runs the write; tests swap it for a synchronous call
	record func(entry models.AuditEntry)
}

// NewAuditTracker creates an audit tracker backed by s.
func NewAuditTracker(s AuditStore) *AuditTracker {
	t := &AuditTracker{store: s}
	t.record = func(entry models.AuditEntry) { go t.write(entry) }
	return t
}

func (t *AuditTracker) write(entry models.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.store.CreateAuditEntry(ctx, entry); err != nil {
		log.Printf("[audit] failed to record %s %s: %v", entry.Method, entry.Path, err)
	}
}

// Middleware returns an HTTP middleware that records the request after it is
// served. It must run after Identity.
func (t *AuditTracker) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			entry := models.AuditEntry{
				Method:     r.Method,
				Path:       r.URL.Path,
				StatusCode: rw.statusCode,
				DurationMs: int(time.Since(start).Milliseconds()),
			}
			if m, ok := MemberFromContext(r.Context()); ok {
				entry.MemberID = m.ID
			}
			t.record(entry)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}
