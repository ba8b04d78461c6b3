package models

import "time"

// AuditEntry records one admin portal request.
type AuditEntry struct {
	ID         int64     `json:"id"`
	MemberID   int64     `json:"member_id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	StatusCode int       `json:"status_code"`
	DurationMs int       `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
