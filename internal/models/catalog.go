package models

import "time"

// MembershipType is an admin-managed membership tier.
type MembershipType struct {
	ID          int64   `json:"id"`
	Slug        string  `json:"slug"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	PriceCents  int64   `json:"price_cents"`
	// DurationMonths is nil for lifetime tiers.
	DurationMonths *int      `json:"duration_months,omitempty"`
	IsActive       bool      `json:"is_active"`
	SortOrder      int       `json:"sort_order"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsLifetime reports whether the tier never expires.
func (t *MembershipType) IsLifetime() bool {
	return t.DurationMonths == nil
}

// ExpiryFrom returns the membership expiry for a purchase starting on start,
// or nil for lifetime tiers. Only the calendar date of start is used.
func (t *MembershipType) ExpiryFrom(start time.Time) *time.Time {
	if t.DurationMonths == nil {
		return nil
	}
	day := DateOnly(start)
	expiry := day.AddDate(0, *t.DurationMonths, 0)
	return &expiry
}

// DateOnly truncates t to midnight UTC of its UTC calendar date.
func DateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Show is a horse show members can enter.
type Show struct {
	ID            int64       `json:"id"`
	Name          string      `json:"name"`
	Location      string      `json:"location"`
	StartDate     time.Time   `json:"start_date"`
	EndDate       time.Time   `json:"end_date"`
	EntryDeadline *time.Time  `json:"entry_deadline,omitempty"`
	Description   *string     `json:"description,omitempty"`
	IsPublished   bool        `json:"is_published"`
	Classes       []ShowClass `json:"classes,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// AcceptsEntries reports whether new draft entries can still be created at now.
func (s *Show) AcceptsEntries(now time.Time) bool {
	if !s.IsPublished {
		return false
	}
	if s.EntryDeadline != nil && now.After(*s.EntryDeadline) {
		return false
	}
	return true
}

// ShowClass is a priced class within a show.
type ShowClass struct {
	ID          int64     `json:"id"`
	ShowID      int64     `json:"show_id"`
	ClassNumber string    `json:"class_number"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	FeeCents    int64     `json:"fee_cents"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Sponsor is listed on the public site.
type Sponsor struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Level      string    `json:"level"`
	WebsiteURL *string   `json:"website_url,omitempty"`
	LogoURL    *string   `json:"logo_url,omitempty"`
	IsActive   bool      `json:"is_active"`
	SortOrder  int       `json:"sort_order"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FeeType is an ancillary fee item (stall, shavings, office fee...) sold through checkout.
type FeeType struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	MaxQuantity int       `json:"max_quantity"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
