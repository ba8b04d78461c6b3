package checkout

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PortNumber53/show-association/backend/internal/models"
)

// Session metadata keys. The webhook rebuilds the purchase from these alone.
const (
	metaPaymentType    = "payment_type"
	metaMemberID       = "member_id"
	metaGuestEmail     = "guest_email"
	metaGuestName      = "guest_name"
	metaGuestReference = "guest_reference"
	metaMembershipSlug = "membership_slug"
	metaDurationMonths = "duration_months"
	metaShowID         = "show_id"
	metaEntryIDs       = "entry_ids"
	metaFeeItems       = "fee_items"
)

// FeeLine is a fee type bought at a snapshotted unit price.
type FeeLine struct {
	FeeTypeID      int64
	Name           string
	Quantity       int
	UnitPriceCents int64
}

// Intent is what a checkout session pays for.
type Intent struct {
	PaymentType    models.PaymentType
	MemberID       int64
	GuestEmail     string
	GuestName      string
	GuestReference string
	MembershipSlug string
	Term           Term
	ShowID         int64
	EntryIDs       []int64
	FeeItems       []FeeLine
}

// IsGuest reports whether the purchaser has no member account.
func (i Intent) IsGuest() bool {
	return i.MemberID == 0
}

// Metadata encodes the intent as provider session metadata.
func (i Intent) Metadata() map[string]string {
	md := map[string]string{metaPaymentType: string(i.PaymentType)}
	if i.MemberID != 0 {
		md[metaMemberID] = strconv.FormatInt(i.MemberID, 10)
	} else {
		md[metaGuestEmail] = i.GuestEmail
		md[metaGuestName] = i.GuestName
	}
	if i.GuestReference != "" {
		md[metaGuestReference] = i.GuestReference
	}

	switch {
	case i.PaymentType.IsMembership():
		md[metaMembershipSlug] = i.MembershipSlug
		if t := i.Term.String(); t != "" {
			md[metaDurationMonths] = t
		}
	case i.PaymentType == models.PaymentTypeEntryFees:
		md[metaShowID] = strconv.FormatInt(i.ShowID, 10)
		md[metaEntryIDs] = joinIDs(i.EntryIDs)
	case i.PaymentType == models.PaymentTypeAdditionalFees:
		parts := make([]string, len(i.FeeItems))
		for n, f := range i.FeeItems {
			parts[n] = fmt.Sprintf("%d:%d:%d", f.FeeTypeID, f.Quantity, f.UnitPriceCents)
		}
		md[metaFeeItems] = strings.Join(parts, ",")
	}
	return md
}

// ParseIntent decodes session metadata written by Metadata.
func ParseIntent(md map[string]string) (Intent, error) {
	var in Intent
	in.PaymentType = models.PaymentType(md[metaPaymentType])
	if !in.PaymentType.Valid() {
		return in, fmt.Errorf("metadata: unknown payment_type %q", md[metaPaymentType])
	}

	if raw := md[metaMemberID]; raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return in, fmt.Errorf("metadata: invalid member_id %q", raw)
		}
		in.MemberID = id
	} else {
		in.GuestEmail = md[metaGuestEmail]
		in.GuestName = md[metaGuestName]
		if in.GuestEmail == "" {
			return in, errors.New("metadata: neither member_id nor guest_email present")
		}
	}
	in.GuestReference = md[metaGuestReference]

	switch {
	case in.PaymentType.IsMembership():
		if in.MemberID == 0 {
			return in, errors.New("metadata: membership purchase without member_id")
		}
		in.MembershipSlug = md[metaMembershipSlug]
		if in.MembershipSlug == "" {
			return in, errors.New("metadata: missing membership_slug")
		}
		term, err := ParseTerm(md[metaDurationMonths])
		if err != nil {
			return in, err
		}
		in.Term = term
	case in.PaymentType == models.PaymentTypeEntryFees:
		showID, err := strconv.ParseInt(md[metaShowID], 10, 64)
		if err != nil {
			return in, fmt.Errorf("metadata: invalid show_id %q", md[metaShowID])
		}
		in.ShowID = showID
		if in.EntryIDs, err = splitIDs(md[metaEntryIDs]); err != nil {
			return in, err
		}
	case in.PaymentType == models.PaymentTypeAdditionalFees:
		items, err := parseFeeItems(md[metaFeeItems])
		if err != nil {
			return in, err
		}
		in.FeeItems = items
	}
	return in, nil
}

const lifetimeTerm = "lifetime"

// Term is the membership length sold at checkout. The zero value is unknown,
// and the tier's current duration applies.
type Term struct {
	Months   int
	Lifetime bool
}

// TermOf snapshots a tier's duration.
func TermOf(t *models.MembershipType) Term {
	if t.DurationMonths == nil {
		return Term{Lifetime: true}
	}
	return Term{Months: *t.DurationMonths}
}

// Known reports whether the term was recorded at checkout.
func (t Term) Known() bool {
	return t.Lifetime || t.Months > 0
}

// ExpiryFrom returns the expiry for a membership starting on start, or nil
// for lifetime terms.
func (t Term) ExpiryFrom(start time.Time) *time.Time {
	if t.Lifetime {
		return nil
	}
	months := t.Months
	return (&models.MembershipType{DurationMonths: &months}).ExpiryFrom(start)
}

func (t Term) String() string {
	switch {
	case t.Lifetime:
		return lifetimeTerm
	case t.Months > 0:
		return strconv.Itoa(t.Months)
	}
	return ""
}

// ParseTerm reads a term written by Term.String. An empty value is the
// unknown term.
func ParseTerm(raw string) (Term, error) {
	switch raw {
	case "":
		return Term{}, nil
	case lifetimeTerm:
		return Term{Lifetime: true}, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return Term{}, fmt.Errorf("metadata: invalid duration_months %q", raw)
	}
	return Term{Months: n}, nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func splitIDs(raw string) ([]int64, error) {
	if raw == "" {
		return nil, errors.New("metadata: missing entry_ids")
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("metadata: invalid entry id %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseFeeItems(raw string) ([]FeeLine, error) {
	if raw == "" {
		return nil, errors.New("metadata: missing fee_items")
	}
	var items []FeeLine
	for _, part := range strings.Split(raw, ",") {
		f := strings.Split(part, ":")
		if len(f) != 3 {
			return nil, fmt.Errorf("metadata: malformed fee item %q", part)
		}
		id, err1 := strconv.ParseInt(f[0], 10, 64)
		qty, err2 := strconv.Atoi(f[1])
		unit, err3 := strconv.ParseInt(f[2], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, fmt.Errorf("metadata: malformed fee item %q", part)
		}
		items = append(items, FeeLine{FeeTypeID: id, Quantity: qty, UnitPriceCents: unit})
	}
	return items, nil
}

// metadataFromPayload reads a metadata map back out of a job payload, where a
// database round trip has turned it into map[string]interface{}.
func metadataFromPayload(v interface{}) map[string]string {
	out := map[string]string{}
	switch m := v.(type) {
	case map[string]string:
		for k, val := range m {
			out[k] = val
		}
	case map[string]interface{}:
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}
