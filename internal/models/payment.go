package models

import "time"

// PaymentType identifies which domain effect a payment fulfills.
type PaymentType string

const (
	PaymentTypeMembershipDues    PaymentType = "membership_dues"
	PaymentTypeMembershipRenewal PaymentType = "membership_renewal"
	PaymentTypeEntryFees         PaymentType = "entry_fees"
	PaymentTypeAdditionalFees    PaymentType = "additional_fees"
)

// Valid reports whether t is a known payment type.
func (t PaymentType) Valid() bool {
	switch t {
	case PaymentTypeMembershipDues, PaymentTypeMembershipRenewal, PaymentTypeEntryFees, PaymentTypeAdditionalFees:
		return true
	}
	return false
}

// IsMembership is true for dues and renewals.
func (t PaymentType) IsMembership() bool {
	return t == PaymentTypeMembershipDues || t == PaymentTypeMembershipRenewal
}

// PaymentStatus is the linear status of a payment row.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Payment is one checkout session's money movement. Rows are never deleted.
type Payment struct {
	ID                    int64         `json:"id"`
	MemberID              *int64        `json:"member_id,omitempty"`
	GuestName             *string       `json:"guest_name,omitempty"`
	GuestEmail            *string       `json:"guest_email,omitempty"`
	AmountCents           int64         `json:"amount_cents"`
	Currency              string        `json:"currency"`
	PaymentType           PaymentType   `json:"payment_type"`
	Status                PaymentStatus `json:"status"`
	StripeSessionID       string        `json:"stripe_session_id"`
	StripePaymentIntentID *string       `json:"stripe_payment_intent_id,omitempty"`
	Description           *string       `json:"description,omitempty"`
	RefundedAt            *time.Time    `json:"refunded_at,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// PaymentFilter narrows admin payment listings.
type PaymentFilter struct {
	Status   PaymentStatus
	MemberID int64
	Limit    int
	Offset   int
}
