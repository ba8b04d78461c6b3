package models

import (
	"strings"
	"time"
)

// MemberRole controls access to the admin portal.
type MemberRole string

const (
	MemberRoleMember MemberRole = "member"
	MemberRoleAdmin  MemberRole = "admin"
)

// MembershipStatus is the lifecycle state of a member's association membership.
type MembershipStatus string

const (
	MembershipStatusPending   MembershipStatus = "pending"
	MembershipStatusActive    MembershipStatus = "active"
	MembershipStatusExpired   MembershipStatus = "expired"
	MembershipStatusSuspended MembershipStatus = "suspended"
)

// Valid reports whether s is one of the known membership statuses.
func (s MembershipStatus) Valid() bool {
	switch s {
	case MembershipStatusPending, MembershipStatusActive, MembershipStatusExpired, MembershipStatusSuspended:
		return true
	}
	return false
}

// Member is a profile plus the membership fields mutated by fulfillment.
type Member struct {
	ID               int64            `json:"id"`
	Email            string           `json:"email"`
	FirstName        string           `json:"first_name"`
	LastName         string           `json:"last_name"`
	Phone            *string          `json:"phone,omitempty"`
	Role             MemberRole       `json:"role"`
	MembershipType   *string          `json:"membership_type,omitempty"`
	MembershipStatus MembershipStatus `json:"membership_status"`
	MembershipStart  *time.Time       `json:"membership_start,omitempty"`
	MembershipExpiry *time.Time       `json:"membership_expiry,omitempty"`
	StripeCustomerID *string          `json:"stripe_customer_id,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// FullName joins first and last name, skipping empty parts.
func (m *Member) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(m.FirstName) + " " + strings.TrimSpace(m.LastName))
}

// IsAdmin reports whether the member may use the admin portal.
func (m *Member) IsAdmin() bool {
	return m != nil && m.Role == MemberRoleAdmin
}

// HasHeldMembership is true once a membership has been activated at least once,
// which makes the next membership purchase a renewal.
func (m *Member) HasHeldMembership() bool {
	return m.MembershipStatus == MembershipStatusActive || m.MembershipStatus == MembershipStatusExpired
}

// MembershipActivation carries the fields written when a membership payment succeeds.
type MembershipActivation struct {
	MemberID         int64
	MembershipType   string
	Start            time.Time
	Expiry           *time.Time
	StripeCustomerID string
}
