package models

import "time"

// FeePurchaseStatus tracks a purchased fee line.
type FeePurchaseStatus string

const (
	FeePurchaseStatusPending   FeePurchaseStatus = "pending"
	FeePurchaseStatusFulfilled FeePurchaseStatus = "fulfilled"
	FeePurchaseStatusRefunded  FeePurchaseStatus = "refunded"
	FeePurchaseStatusCancelled FeePurchaseStatus = "cancelled"
)

// FeePurchase is one fee type bought in a checkout, with its unit price snapshot.
type FeePurchase struct {
	ID             int64             `json:"id"`
	PaymentID      *int64            `json:"payment_id,omitempty"`
	FeeTypeID      int64             `json:"fee_type_id"`
	FeeName        string            `json:"fee_name"`
	Quantity       int               `json:"quantity"`
	UnitPriceCents int64             `json:"unit_price_cents"`
	TotalCents     int64             `json:"total_cents"`
	MemberID       *int64            `json:"member_id,omitempty"`
	GuestName      *string           `json:"guest_name,omitempty"`
	GuestEmail     *string           `json:"guest_email,omitempty"`
	GuestReference *string           `json:"guest_reference,omitempty"`
	Status         FeePurchaseStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
