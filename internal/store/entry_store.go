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
	// ErrEntryNotFound is returned when a show entry lookup misses.
	ErrEntryNotFound = errors.New("show entry not found")
	// ErrEntryNotEditable is returned when a write targets an entry that is no
	// longer a draft owned by the caller.
	ErrEntryNotEditable = errors.New("show entry is not an editable draft")
)

// EntryStore provides database operations for show entries and their class snapshots.
type EntryStore struct {
	db *sql.DB
}

// NewEntryStore creates a new EntryStore instance
func NewEntryStore(db *sql.DB) (*EntryStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &EntryStore{db: db}, nil
}

const entryColumns = `id, show_id, member_id, horse_name, rider_name, status, total_cents, payment_id,
	created_at, updated_at`

func (s *EntryStore) queryEntries(ctx context.Context, query string, args ...any) ([]models.ShowEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query show entries: %w", err)
	}
	defer rows.Close()

	var entries []models.ShowEntry
	for rows.Next() {
		var e models.ShowEntry
		if err := rows.Scan(&e.ID, &e.ShowID, &e.MemberID, &e.HorseName, &e.RiderName, &e.Status,
			&e.TotalCents, &e.PaymentID, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan show entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate show entries: %w", err)
	}
	rows.Close()

	if err := s.attachClasses(ctx, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *EntryStore) attachClasses(ctx context.Context, entries []models.ShowEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]int64, len(entries))
	index := make(map[int64]int, len(entries))
	for i := range entries {
		ids[i] = entries[i].ID
		index[entries[i].ID] = i
		entries[i].Classes = []models.ShowEntryClass{}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entry_id, show_class_id, class_name, fee_cents
		FROM show_entry_classes
		WHERE entry_id = ANY($1)
		ORDER BY entry_id ASC, id ASC`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query show entry classes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c models.ShowEntryClass
		if err := rows.Scan(&c.ID, &c.EntryID, &c.ShowClassID, &c.ClassName, &c.FeeCents); err != nil {
			return fmt.Errorf("scan show entry class: %w", err)
		}
		if i, ok := index[c.EntryID]; ok {
			entries[i].Classes = append(entries[i].Classes, c)
		}
	}
	return rows.Err()
}

// GetEntry returns one entry with its classes.
func (s *EntryStore) GetEntry(ctx context.Context, id int64) (*models.ShowEntry, error) {
	entries, err := s.queryEntries(ctx, `SELECT `+entryColumns+` FROM show_entries WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrEntryNotFound
	}
	return &entries[0], nil
}

// GetEntriesByIDs returns the requested entries with classes; missing ids are absent.
func (s *EntryStore) GetEntriesByIDs(ctx context.Context, ids []int64) ([]models.ShowEntry, error) {
	return s.queryEntries(ctx, `
		SELECT `+entryColumns+`
		FROM show_entries
		WHERE id = ANY($1)
		ORDER BY id ASC`, pq.Array(ids))
}

// ListEntriesForMember returns a member's entries, newest first.
func (s *EntryStore) ListEntriesForMember(ctx context.Context, memberID int64) ([]models.ShowEntry, error) {
	return s.queryEntries(ctx, `
		SELECT `+entryColumns+`
		FROM show_entries
		WHERE member_id = $1
		ORDER BY created_at DESC, id DESC`, memberID)
}

// ListEntriesForShow returns every entry of a show for the admin portal.
func (s *EntryStore) ListEntriesForShow(ctx context.Context, showID int64) ([]models.ShowEntry, error) {
	return s.queryEntries(ctx, `
		SELECT `+entryColumns+`
		FROM show_entries
		WHERE show_id = $1
		ORDER BY created_at ASC, id ASC`, showID)
}

func insertEntryClasses(ctx context.Context, tx *sql.Tx, entryID int64, classes []models.ShowEntryClass) error {
	for i := range classes {
		c := &classes[i]
		c.EntryID = entryID
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO show_entry_classes (entry_id, show_class_id, class_name, fee_cents)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			entryID, c.ShowClassID, c.ClassName, c.FeeCents,
		).Scan(&c.ID); err != nil {
			return fmt.Errorf("insert show entry class: %w", err)
		}
	}
	return nil
}

// CreateDraftEntry inserts a draft entry with its class snapshots in one transaction.
func (s *EntryStore) CreateDraftEntry(ctx context.Context, e *models.ShowEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create entry tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	e.Status = models.EntryStatusDraft
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO show_entries (show_id, member_id, horse_name, rider_name, status, total_cents)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		e.ShowID, e.MemberID, e.HorseName, e.RiderName, e.Status, e.TotalCents,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return fmt.Errorf("insert show entry: %w", err)
	}

	if err := insertEntryClasses(ctx, tx, e.ID, e.Classes); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create entry tx: %w", err)
	}
	return nil
}

// UpdateDraftEntry replaces the horse, rider and class selection of a draft the
// member owns. Non-draft entries are immutable.
func (s *EntryStore) UpdateDraftEntry(ctx context.Context, e *models.ShowEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update entry tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := tx.QueryRowContext(ctx, `
		UPDATE show_entries
		SET horse_name = $3, rider_name = $4, total_cents = $5, updated_at = now()
		WHERE id = $1 AND member_id = $2 AND status = 'draft'
		RETURNING show_id, status, created_at, updated_at`,
		e.ID, e.MemberID, e.HorseName, e.RiderName, e.TotalCents,
	).Scan(&e.ShowID, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrEntryNotEditable
		}
		return fmt.Errorf("update show entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM show_entry_classes WHERE entry_id = $1`, e.ID); err != nil {
		return fmt.Errorf("clear show entry classes: %w", err)
	}
	if err := insertEntryClasses(ctx, tx, e.ID, e.Classes); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update entry tx: %w", err)
	}
	return nil
}

// CancelDraftEntry cancels a draft the member owns.
func (s *EntryStore) CancelDraftEntry(ctx context.Context, memberID, entryID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE show_entries
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND member_id = $2 AND status = 'draft'`, entryID, memberID)
	if err != nil {
		return fmt.Errorf("cancel show entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEntryNotEditable
	}
	return nil
}

// ReserveEntries moves the member's draft entries to pending_payment before a
// checkout session is created and returns the ids it moved. Entries that are no
// longer drafts are left alone, so two concurrent checkouts cannot both take
// the same entry.
func (s *EntryStore) ReserveEntries(ctx context.Context, memberID int64, entryIDs []int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE show_entries
		SET status = 'pending_payment', updated_at = now()
		WHERE id = ANY($1) AND member_id = $2 AND status = 'draft'
		RETURNING id`,
		pq.Array(entryIDs), memberID)
	if err != nil {
		return nil, fmt.Errorf("reserve entries: %w", err)
	}
	defer rows.Close()

	var reserved []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan reserved entry: %w", err)
		}
		reserved = append(reserved, id)
	}
	return reserved, rows.Err()
}

// ReleaseReservedEntries returns reserved entries that were never linked to a
// payment back to draft.
func (s *EntryStore) ReleaseReservedEntries(ctx context.Context, entryIDs []int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE show_entries
		SET status = 'draft', updated_at = now()
		WHERE id = ANY($1) AND payment_id IS NULL AND status = 'pending_payment'`,
		pq.Array(entryIDs))
	if err != nil {
		return 0, fmt.Errorf("release reserved entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// AttachPayment links pending entries to a payment recorded after the fact.
func (s *EntryStore) AttachPayment(ctx context.Context, entryIDs []int64, paymentID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE show_entries
		SET payment_id = $2, updated_at = now()
		WHERE id = ANY($1) AND payment_id IS NULL AND status IN ('draft', 'pending_payment')`,
		pq.Array(entryIDs), paymentID)
	if err != nil {
		return 0, fmt.Errorf("attach payment to entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ConfirmEntries marks the entries paid by paymentID as confirmed. entryIDs from
// the checkout metadata cover entries whose payment link was never written.
func (s *EntryStore) ConfirmEntries(ctx context.Context, paymentID int64, entryIDs []int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE show_entries
		SET status = 'confirmed', payment_id = $1, updated_at = now()
		WHERE (payment_id = $1 OR (payment_id IS NULL AND id = ANY($2)))
		  AND status IN ('draft', 'pending_payment')`,
		paymentID, pq.Array(entryIDs))
	if err != nil {
		return 0, fmt.Errorf("confirm entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RefundEntriesForPayment marks every entry of a refunded payment as refunded.
func (s *EntryStore) RefundEntriesForPayment(ctx context.Context, paymentID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE show_entries
		SET status = 'refunded', updated_at = now()
		WHERE payment_id = $1 AND status <> 'refunded'`, paymentID)
	if err != nil {
		return 0, fmt.Errorf("refund entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ReleaseEntries returns entries of an abandoned checkout to draft so they can be
// checked out again.
func (s *EntryStore) ReleaseEntries(ctx context.Context, paymentID int64, entryIDs []int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE show_entries
		SET status = 'draft', payment_id = NULL, updated_at = now()
		WHERE (payment_id = $1 OR (payment_id IS NULL AND id = ANY($2)))
		  AND status = 'pending_payment'`,
		paymentID, pq.Array(entryIDs))
	if err != nil {
		return 0, fmt.Errorf("release entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
