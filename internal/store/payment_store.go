package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/PortNumber53/show-association/backend/internal/models"
)

var (
	// ErrPaymentNotFound is returned when a payment lookup misses.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentExists is returned when a payment for the session id is already recorded.
	ErrPaymentExists = errors.New("payment already recorded for session")
)

// PaymentStore provides database operations for payments and fee purchases.
type PaymentStore struct {
	db *sql.DB
}

// NewPaymentStore creates a new PaymentStore instance
func NewPaymentStore(db *sql.DB) (*PaymentStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &PaymentStore{db: db}, nil
}

const paymentColumns = `id, member_id, guest_name, guest_email, amount_cents, currency, payment_type,
	status, stripe_session_id, stripe_payment_intent_id, description, refunded_at, created_at, updated_at`

func scanPayment(row rowScanner) (*models.Payment, error) {
	var p models.Payment
	if err := row.Scan(&p.ID, &p.MemberID, &p.GuestName, &p.GuestEmail, &p.AmountCents, &p.Currency,
		&p.PaymentType, &p.Status, &p.StripeSessionID, &p.StripePaymentIntentID, &p.Description,
		&p.RefundedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePayment inserts a payment keyed by its checkout session id. When a row for
// the session already exists nothing is written and ErrPaymentExists is returned.
func (s *PaymentStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO payments (member_id, guest_name, guest_email, amount_cents, currency, payment_type,
		                      status, stripe_session_id, stripe_payment_intent_id, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (stripe_session_id) DO NOTHING
		RETURNING id, created_at, updated_at`,
		p.MemberID, p.GuestName, p.GuestEmail, p.AmountCents, p.Currency, p.PaymentType,
		p.Status, p.StripeSessionID, p.StripePaymentIntentID, p.Description,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPaymentExists
		}
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// GetPaymentByID returns a payment by id.
func (s *PaymentStore) GetPaymentByID(ctx context.Context, id int64) (*models.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// GetPaymentBySessionID returns the payment recorded for a checkout session.
func (s *PaymentStore) GetPaymentBySessionID(ctx context.Context, sessionID string) (*models.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE stripe_session_id = $1`, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment by session: %w", err)
	}
	return p, nil
}

// MarkPaymentSucceeded transitions the session's pending payment to succeeded and
// stores the payment intent id. The bool is false when no pending row matched,
// meaning another delivery already performed the transition or no row exists.
func (s *PaymentStore) MarkPaymentSucceeded(ctx context.Context, sessionID, paymentIntentID string) (*models.Payment, bool, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx, `
		UPDATE payments
		SET status = 'succeeded',
		    stripe_payment_intent_id = COALESCE(NULLIF($2, ''), stripe_payment_intent_id),
		    updated_at = now()
		WHERE stripe_session_id = $1 AND status = 'pending'
		RETURNING `+paymentColumns, sessionID, paymentIntentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("mark payment succeeded: %w", err)
	}
	return p, true, nil
}

// MarkPaymentFailed transitions a pending payment to failed (abandoned session).
func (s *PaymentStore) MarkPaymentFailed(ctx context.Context, sessionID string) (*models.Payment, bool, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx, `
		UPDATE payments
		SET status = 'failed', updated_at = now()
		WHERE stripe_session_id = $1 AND status = 'pending'
		RETURNING `+paymentColumns, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("mark payment failed: %w", err)
	}
	return p, true, nil
}

// MarkPaymentRefunded transitions a succeeded payment to refunded.
func (s *PaymentStore) MarkPaymentRefunded(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET status = 'refunded', refunded_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'succeeded'`, id)
	if err != nil {
		return false, fmt.Errorf("mark payment refunded: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListPayments returns payments newest first.
func (s *PaymentStore) ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, error) {
	limit := filter.Limit
	if limit <= 0 || limit > defaultPageSize {
		limit = defaultPageSize
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = 0 OR member_id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		string(filter.Status), filter.MemberID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// --- fee purchases ---

const feePurchaseColumns = `id, payment_id, fee_type_id, fee_name, quantity, unit_price_cents, total_cents,
	member_id, guest_name, guest_email, guest_reference, status, created_at, updated_at`

// CreateFeePurchases inserts the fee lines of one checkout in a single transaction.
func (s *PaymentStore) CreateFeePurchases(ctx context.Context, purchases []models.FeePurchase) error {
	if len(purchases) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fee purchases tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := range purchases {
		fp := &purchases[i]
		if fp.Status == "" {
			fp.Status = models.FeePurchaseStatusPending
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO fee_purchases (payment_id, fee_type_id, fee_name, quantity, unit_price_cents, total_cents,
			                           member_id, guest_name, guest_email, guest_reference, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id, created_at, updated_at`,
			fp.PaymentID, fp.FeeTypeID, fp.FeeName, fp.Quantity, fp.UnitPriceCents, fp.TotalCents,
			fp.MemberID, fp.GuestName, fp.GuestEmail, fp.GuestReference, fp.Status,
		).Scan(&fp.ID, &fp.CreatedAt, &fp.UpdatedAt); err != nil {
			return fmt.Errorf("insert fee purchase: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fee purchases tx: %w", err)
	}
	return nil
}

// CountFeePurchasesForPayment returns how many fee lines are linked to a payment.
func (s *PaymentStore) CountFeePurchasesForPayment(ctx context.Context, paymentID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fee_purchases WHERE payment_id = $1`, paymentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count fee purchases: %w", err)
	}
	return n, nil
}

func (s *PaymentStore) setFeePurchaseStatus(ctx context.Context, paymentID int64, to models.FeePurchaseStatus, from ...models.FeePurchaseStatus) (int64, error) {
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE fee_purchases
		SET status = $2, updated_at = now()
		WHERE payment_id = $1 AND status = ANY($3)`,
		paymentID, string(to), pq.Array(allowed))
	if err != nil {
		return 0, fmt.Errorf("set fee purchases %s: %w", to, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// FulfillFeePurchases marks the pending fee lines of a payment fulfilled.
func (s *PaymentStore) FulfillFeePurchases(ctx context.Context, paymentID int64) (int64, error) {
	return s.setFeePurchaseStatus(ctx, paymentID, models.FeePurchaseStatusFulfilled, models.FeePurchaseStatusPending)
}

// RefundFeePurchases marks the fee lines of a refunded payment refunded.
func (s *PaymentStore) RefundFeePurchases(ctx context.Context, paymentID int64) (int64, error) {
	return s.setFeePurchaseStatus(ctx, paymentID, models.FeePurchaseStatusRefunded,
		models.FeePurchaseStatusPending, models.FeePurchaseStatusFulfilled)
}

// CancelFeePurchases marks the pending fee lines of an abandoned checkout cancelled.
func (s *PaymentStore) CancelFeePurchases(ctx context.Context, paymentID int64) (int64, error) {
	return s.setFeePurchaseStatus(ctx, paymentID, models.FeePurchaseStatusCancelled, models.FeePurchaseStatusPending)
}

// ListFeePurchasesForMember returns a member's fee purchases, newest first.
func (s *PaymentStore) ListFeePurchasesForMember(ctx context.Context, memberID int64) ([]models.FeePurchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+feePurchaseColumns+`
		FROM fee_purchases
		WHERE member_id = $1
		ORDER BY created_at DESC, id DESC`, memberID)
	if err != nil {
		return nil, fmt.Errorf("list fee purchases: %w", err)
	}
	defer rows.Close()

	var purchases []models.FeePurchase
	for rows.Next() {
		var fp models.FeePurchase
		if err := rows.Scan(&fp.ID, &fp.PaymentID, &fp.FeeTypeID, &fp.FeeName, &fp.Quantity, &fp.UnitPriceCents,
			&fp.TotalCents, &fp.MemberID, &fp.GuestName, &fp.GuestEmail, &fp.GuestReference, &fp.Status,
			&fp.CreatedAt, &fp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan fee purchase: %w", err)
		}
		purchases = append(purchases, fp)
	}
	return purchases, rows.Err()
}
