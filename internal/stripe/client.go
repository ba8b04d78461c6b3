package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	stripeapi "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"
)

// Checkout event types the backend reacts to.
const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventCheckoutExpired        = "checkout.session.expired"
	EventCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncFailed    = "checkout.session.async_payment_failed"
)

// Checkout session payment statuses.
const (
	PaymentStatusPaid              = "paid"
	PaymentStatusUnpaid            = "unpaid"
	PaymentStatusNoPaymentRequired = "no_payment_required"
)

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// LineItem is one priced row of a one-time checkout.
type LineItem struct {
	Name            string
	UnitAmountCents int64
	Quantity        int64
}

// SessionRequest describes a one-time payment checkout session.
type SessionRequest struct {
	Currency      string
	LineItems     []LineItem
	SuccessURL    string
	CancelURL     string
	CustomerID    string
	CustomerEmail string
	Metadata      map[string]string
}

// Session is the created hosted checkout page.
type Session struct {
	ID  string
	URL string
}

// CheckoutSession is the subset of a webhook checkout session the backend reads.
type CheckoutSession struct {
	ID              string
	PaymentIntentID string
	CustomerID      string
	CustomerEmail   string
	AmountTotal     int64
	PaymentStatus   string
	Metadata        map[string]string
}

// Event is a verified webhook event.
type Event struct {
	ID      string
	Type    string
	Session *CheckoutSession
}

// Client wraps the stripe-go API client with the account's webhook secret.
type Client struct {
	api           *client.API
	webhookSecret string
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	apiURL string
}

// WithAPIURL points the client at a different API host, used against stripe-mock
// or an httptest server.
func WithAPIURL(url string) Option {
	return func(o *clientOptions) {
		o.apiURL = url
	}
}

// NewClient creates a new Stripe API client
func NewClient(secretKey, webhookSecret string, opts ...Option) *Client {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	api := &client.API{}
	if o.apiURL == "" {
		api.Init(secretKey, nil)
	} else {
		backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, &stripeapi.BackendConfig{
			URL:               stripeapi.String(o.apiURL),
			MaxNetworkRetries: stripeapi.Int64(0),
		})
		api.Init(secretKey, &stripeapi.Backends{API: backend, Connect: backend, Uploads: backend})
	}

	return &Client{api: api, webhookSecret: webhookSecret}
}

// CreateCheckoutSession creates a payment-mode checkout session with inline
// price data, so catalog prices never need to exist on the Stripe side.
func (c *Client) CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error) {
	params := &stripeapi.CheckoutSessionParams{
		Mode:       stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		SuccessURL: stripeapi.String(req.SuccessURL),
		CancelURL:  stripeapi.String(req.CancelURL),
	}
	params.Context = ctx

	for _, item := range req.LineItems {
		params.LineItems = append(params.LineItems, &stripeapi.CheckoutSessionLineItemParams{
			PriceData: &stripeapi.CheckoutSessionLineItemPriceDataParams{
				Currency: stripeapi.String(req.Currency),
				ProductData: &stripeapi.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripeapi.String(item.Name),
				},
				UnitAmount: stripeapi.Int64(item.UnitAmountCents),
			},
			Quantity: stripeapi.Int64(item.Quantity),
		})
	}

	switch {
	case req.CustomerID != "":
		params.Customer = stripeapi.String(req.CustomerID)
	case req.CustomerEmail != "":
		params.CustomerEmail = stripeapi.String(req.CustomerEmail)
	}

	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if sess.ID == "" {
		return nil, fmt.Errorf("create checkout session: missing session ID in response")
	}
	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

// CreateRefund fully refunds a payment intent. The idempotency key makes a
// retried refund for the same payment return the original refund.
func (c *Client) CreateRefund(ctx context.Context, paymentIntentID, idempotencyKey string) (string, error) {
	params := &stripeapi.RefundParams{
		PaymentIntent: stripeapi.String(paymentIntentID),
	}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}

	refund, err := c.api.Refunds.New(params)
	if err != nil {
		return "", fmt.Errorf("create refund: %w", err)
	}
	return refund.ID, nil
}

// CreateCustomer creates a customer for a member and tags it with the member id.
func (c *Client) CreateCustomer(ctx context.Context, email, name string, memberID int64) (string, error) {
	params := &stripeapi.CustomerParams{
		Email: stripeapi.String(email),
		Name:  stripeapi.String(name),
	}
	params.Context = ctx
	params.AddMetadata("member_id", strconv.FormatInt(memberID, 10))

	cus, err := c.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return cus.ID, nil
}

// ConstructEvent verifies the Stripe-Signature header against the webhook
// secret and decodes the event. Checkout session events carry the decoded
// session; other event types have a nil Session. The endpoint's API version
// may differ from the library's; only the session fields read here matter.
func (c *Client) ConstructEvent(payload []byte, signature string) (*Event, error) {
	if c.webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	switch out.Type {
	case EventCheckoutCompleted, EventCheckoutExpired, EventCheckoutAsyncSucceeded, EventCheckoutAsyncFailed:
		var sess stripeapi.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		out.Session = toCheckoutSession(&sess)
	}
	return out, nil
}

func toCheckoutSession(sess *stripeapi.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:            sess.ID,
		AmountTotal:   sess.AmountTotal,
		PaymentStatus: string(sess.PaymentStatus),
		CustomerEmail: sess.CustomerEmail,
		Metadata:      sess.Metadata,
	}
	if sess.PaymentIntent != nil {
		out.PaymentIntentID = sess.PaymentIntent.ID
	}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	if out.CustomerEmail == "" && sess.CustomerDetails != nil {
		out.CustomerEmail = sess.CustomerDetails.Email
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	return out
}

// ErrorMessage returns the provider's message for a failed API call, or the
// plain error text for anything else.
func ErrorMessage(err error) string {
	var stripeErr *stripeapi.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return stripeErr.Msg
	}
	return err.Error()
}
