package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PortNumber53/show-association/backend/internal/models"
)

const defaultPageSize = 200

// ErrMemberNotFound is returned when no member matches the lookup.
var ErrMemberNotFound = errors.New("member not found")

// ErrMembershipSuperseded is returned when an activation would shorten the
// active membership the member already holds.
var ErrMembershipSuperseded = errors.New("membership already runs longer")

// Store provides database-backed accessors for members and the admin audit log.
type Store struct {
	db *sql.DB
}

// New creates a Store using the provided sql.DB connection.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const memberColumns = `id, email, first_name, last_name, phone, role, membership_type,
	membership_status, membership_start, membership_expiry, stripe_customer_id,
	created_at, updated_at`

func scanMember(row rowScanner) (*models.Member, error) {
	var m models.Member
	if err := row.Scan(
		&m.ID, &m.Email, &m.FirstName, &m.LastName, &m.Phone, &m.Role, &m.MembershipType,
		&m.MembershipStatus, &m.MembershipStart, &m.MembershipExpiry, &m.StripeCustomerID,
		&m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMemberByID returns the member with the given id.
func (s *Store) GetMemberByID(ctx context.Context, id int64) (*models.Member, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id)
	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("store: get member %d: %w", id, err)
	}
	return m, nil
}

// GetMemberByEmail looks a member up case-insensitively by email.
func (s *Store) GetMemberByEmail(ctx context.Context, email string) (*models.Member, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE LOWER(email) = LOWER($1) LIMIT 1`,
		strings.TrimSpace(email))
	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("store: get member by email: %w", err)
	}
	return m, nil
}

// UpsertMember creates the member row for an authenticated account, or refreshes
// the name on the existing row matched by email. Role and membership fields are
// never touched here.
func (s *Store) UpsertMember(ctx context.Context, email, firstName, lastName string) (*models.Member, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO members (email, first_name, last_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (LOWER(email)) DO UPDATE
		SET first_name = CASE WHEN EXCLUDED.first_name = '' THEN members.first_name ELSE EXCLUDED.first_name END,
		    last_name = CASE WHEN EXCLUDED.last_name = '' THEN members.last_name ELSE EXCLUDED.last_name END,
		    updated_at = now()
		RETURNING `+memberColumns,
		strings.TrimSpace(email), strings.TrimSpace(firstName), strings.TrimSpace(lastName))
	m, err := scanMember(row)
	if err != nil {
		return nil, fmt.Errorf("store: upsert member: %w", err)
	}
	return m, nil
}

// ListMembers returns members ordered by last name, optionally filtered by status.
func (s *Store) ListMembers(ctx context.Context, status models.MembershipStatus, limit, offset int) ([]models.Member, error) {
	if limit <= 0 || limit > defaultPageSize {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE ($1 = '' OR membership_status = $1)
		ORDER BY last_name ASC, first_name ASC, id ASC
		LIMIT $2 OFFSET $3`, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list members: %w", err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan member: %w", err)
		}
		members = append(members, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate members: %w", err)
	}
	return members, nil
}

// UpdateMemberProfile updates the self-service profile fields.
func (s *Store) UpdateMemberProfile(ctx context.Context, id int64, firstName, lastName string, phone *string) (*models.Member, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE members
		SET first_name = $2, last_name = $3, phone = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+memberColumns, id, firstName, lastName, phone)
	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("store: update member profile: %w", err)
	}
	return m, nil
}

// UpdateMembershipStatus is the explicit admin decision path (suspend, revoke,
// reinstate). Fulfillment never calls it.
func (s *Store) UpdateMembershipStatus(ctx context.Context, id int64, status models.MembershipStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE members SET membership_status = $2, updated_at = now() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("store: update membership status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// SetStripeCustomerID stores the provider customer id for the member.
func (s *Store) SetStripeCustomerID(ctx context.Context, memberID int64, customerID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE members SET stripe_customer_id = $2, updated_at = now() WHERE id = $1`,
		memberID, customerID)
	if err != nil {
		return fmt.Errorf("store: set stripe customer id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// ActivateMembership writes the fields of a fulfilled membership purchase. An
// active membership is only replaced by one that ends no earlier, so a late
// retry of an older purchase cannot roll back a renewal. Lifetime memberships
// are only replaced by lifetime ones.
func (s *Store) ActivateMembership(ctx context.Context, a models.MembershipActivation) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE members
		SET membership_type = $2,
		    membership_status = 'active',
		    membership_start = $3,
		    membership_expiry = $4,
		    stripe_customer_id = COALESCE(NULLIF($5, ''), stripe_customer_id),
		    updated_at = now()
		WHERE id = $1
		  AND (membership_status <> 'active'
		       OR $4::date IS NULL
		       OR membership_expiry <= $4::date)`,
		a.MemberID, a.MembershipType, a.Start, a.Expiry, a.StripeCustomerID)
	if err != nil {
		return fmt.Errorf("store: activate membership for member %d: %w", a.MemberID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM members WHERE id = $1)`, a.MemberID).Scan(&exists); err != nil {
		return fmt.Errorf("store: activate membership for member %d: %w", a.MemberID, err)
	}
	if !exists {
		return ErrMemberNotFound
	}
	return ErrMembershipSuperseded
}

// ExpireLapsedMemberships marks active memberships whose expiry date is before
// asOf as expired and returns how many rows changed. Lifetime memberships have no
// expiry and are never touched.
func (s *Store) ExpireLapsedMemberships(ctx context.Context, asOf time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE members
		SET membership_status = 'expired', updated_at = now()
		WHERE membership_status = 'active'
		  AND membership_expiry IS NOT NULL
		  AND membership_expiry < $1`, models.DateOnly(asOf))
	if err != nil {
		return 0, fmt.Errorf("store: expire lapsed memberships: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CreateAuditEntry records an admin request.
func (s *Store) CreateAuditEntry(ctx context.Context, entry models.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_audit_log (member_id, method, path, status_code, duration_ms)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.MemberID, entry.Method, entry.Path, entry.StatusCode, entry.DurationMs)
	if err != nil {
		return fmt.Errorf("store: create audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries returns the most recent admin requests.
func (s *Store) ListAuditEntries(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 || limit > defaultPageSize {
		limit = defaultPageSize
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, member_id, method, path, status_code, duration_ms, created_at
		FROM admin_audit_log
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.MemberID, &e.Method, &e.Path, &e.StatusCode, &e.DurationMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
