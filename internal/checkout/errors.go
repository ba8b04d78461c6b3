package checkout

import (
	"errors"
	"fmt"

	"github.com/PortNumber53/show-association/backend/internal/stripe"
	"github.com/PortNumber53/show-association/backend/internal/validate"
)

var (
	// ErrEntriesUnavailable is returned when any requested entry is missing, not
	// owned by the member, not a draft, or has nothing to pay for.
	ErrEntriesUnavailable = errors.New("entries not available for checkout")
	// ErrRefundNotAllowed is returned for refunds of payments that are not succeeded.
	ErrRefundNotAllowed = errors.New("only succeeded payments can be refunded")
	// ErrMissingPaymentIntent is returned for refunds of payments without a provider payment intent.
	ErrMissingPaymentIntent = errors.New("payment has no provider payment intent")
)

// ProviderError wraps a failed payment provider call.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("stripe: %s", stripe.ErrorMessage(e.Err))
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// FulfillmentError means money moved but the entitlement was not granted. The
// repair has been queued; the caller must still see the failure.
type FulfillmentError struct {
	PaymentID int64
	SessionID string
	Err       error
}

func (e *FulfillmentError) Error() string {
	return fmt.Sprintf("fulfillment failed for payment %d (session %s): %v", e.PaymentID, e.SessionID, e.Err)
}

func (e *FulfillmentError) Unwrap() error {
	return e.Err
}

func invalid(format string, args ...any) error {
	return &validate.Error{Message: fmt.Sprintf(format, args...)}
}
