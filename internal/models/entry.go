package models

import "time"

// EntryStatus is the lifecycle of a show entry.
type EntryStatus string

const (
	EntryStatusDraft          EntryStatus = "draft"
	EntryStatusPendingPayment EntryStatus = "pending_payment"
	EntryStatusConfirmed      EntryStatus = "confirmed"
	EntryStatusCancelled      EntryStatus = "cancelled"
	EntryStatusRefunded       EntryStatus = "refunded"
)

// ShowEntry is a horse/rider pair entered into a show. Only drafts are mutable.
type ShowEntry struct {
	ID         int64            `json:"id"`
	ShowID     int64            `json:"show_id"`
	MemberID   int64            `json:"member_id"`
	HorseName  string           `json:"horse_name"`
	RiderName  string           `json:"rider_name"`
	Status     EntryStatus      `json:"status"`
	TotalCents int64            `json:"total_cents"`
	PaymentID  *int64           `json:"payment_id,omitempty"`
	Classes    []ShowEntryClass `json:"classes"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// IsDraft reports whether the entry can still be edited or checked out.
func (e *ShowEntry) IsDraft() bool {
	return e.Status == EntryStatusDraft
}

// ShowEntryClass is an immutable fee snapshot of a class selected for an entry.
type ShowEntryClass struct {
	ID          int64  `json:"id"`
	EntryID     int64  `json:"entry_id"`
	ShowClassID int64  `json:"show_class_id"`
	ClassName   string `json:"class_name"`
	FeeCents    int64  `json:"fee_cents"`
}

// SnapshotClasses copies the current class fees into entry rows and returns them
// with their total.
func SnapshotClasses(classes []ShowClass) ([]ShowEntryClass, int64) {
	snap := make([]ShowEntryClass, 0, len(classes))
	var total int64
	for _, c := range classes {
		snap = append(snap, ShowEntryClass{
			ShowClassID: c.ID,
			ClassName:   c.Name,
			FeeCents:    c.FeeCents,
		})
		total += c.FeeCents
	}
	return snap, total
}
