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
	// ErrMembershipTypeNotFound is returned when a membership tier lookup misses.
	ErrMembershipTypeNotFound = errors.New("membership type not found")
	// ErrShowNotFound is returned when a show lookup misses.
	ErrShowNotFound = errors.New("show not found")
	// ErrShowClassNotFound is returned when a show class lookup misses.
	ErrShowClassNotFound = errors.New("show class not found")
	// ErrSponsorNotFound is returned when a sponsor lookup misses.
	ErrSponsorNotFound = errors.New("sponsor not found")
	// ErrFeeTypeNotFound is returned when a fee type lookup misses.
	ErrFeeTypeNotFound = errors.New("fee type not found")
	// ErrCatalogConflict is returned when a write collides with a unique key or a
	// delete targets a row other records still reference.
	ErrCatalogConflict = errors.New("catalog item conflicts with existing records")
)

// isConstraintViolation reports unique (23505) and foreign key (23503) violations.
func isConstraintViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" || pqErr.Code == "23503"
	}
	return false
}

// CatalogStore provides database operations for the admin-managed priced catalog:
// membership tiers, shows and their classes, sponsors, and additional fee types.
type CatalogStore struct {
	db *sql.DB
}

// NewCatalogStore creates a new CatalogStore instance
func NewCatalogStore(db *sql.DB) (*CatalogStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &CatalogStore{db: db}, nil
}

// --- membership types ---

const membershipTypeColumns = `id, slug, name, description, price_cents, duration_months,
	is_active, sort_order, created_at, updated_at`

func scanMembershipType(row rowScanner) (*models.MembershipType, error) {
	var t models.MembershipType
	if err := row.Scan(&t.ID, &t.Slug, &t.Name, &t.Description, &t.PriceCents, &t.DurationMonths,
		&t.IsActive, &t.SortOrder, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListMembershipTypes returns tiers in display order. When activeOnly is set,
// retired tiers are skipped.
func (s *CatalogStore) ListMembershipTypes(ctx context.Context, activeOnly bool) ([]models.MembershipType, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+membershipTypeColumns+`
		FROM membership_types
		WHERE ($1 = FALSE OR is_active = TRUE)
		ORDER BY sort_order ASC, price_cents ASC`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list membership types: %w", err)
	}
	defer rows.Close()

	var types []models.MembershipType
	for rows.Next() {
		t, err := scanMembershipType(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership type: %w", err)
		}
		types = append(types, *t)
	}
	return types, rows.Err()
}

// GetMembershipTypeBySlug returns a tier by slug, active or not.
func (s *CatalogStore) GetMembershipTypeBySlug(ctx context.Context, slug string) (*models.MembershipType, error) {
	t, err := scanMembershipType(s.db.QueryRowContext(ctx,
		`SELECT `+membershipTypeColumns+` FROM membership_types WHERE slug = $1`, slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMembershipTypeNotFound
		}
		return nil, fmt.Errorf("get membership type by slug: %w", err)
	}
	return t, nil
}

// CreateMembershipType inserts a tier and fills in its id and timestamps.
func (s *CatalogStore) CreateMembershipType(ctx context.Context, t *models.MembershipType) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO membership_types (slug, name, description, price_cents, duration_months, is_active, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		t.Slug, t.Name, t.Description, t.PriceCents, t.DurationMonths, t.IsActive, t.SortOrder,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrCatalogConflict
		}
		return fmt.Errorf("create membership type: %w", err)
	}
	return nil
}

// UpdateMembershipType overwrites a tier. Existing payments keep their amounts.
func (s *CatalogStore) UpdateMembershipType(ctx context.Context, t *models.MembershipType) error {
	err := s.db.QueryRowContext(ctx, `
		UPDATE membership_types
		SET slug = $2, name = $3, description = $4, price_cents = $5, duration_months = $6,
		    is_active = $7, sort_order = $8, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		t.ID, t.Slug, t.Name, t.Description, t.PriceCents, t.DurationMonths, t.IsActive, t.SortOrder,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMembershipTypeNotFound
		}
		if isConstraintViolation(err) {
			return ErrCatalogConflict
		}
		return fmt.Errorf("update membership type: %w", err)
	}
	return nil
}

// DeleteMembershipType removes a tier. Members keep the slug they bought.
func (s *CatalogStore) DeleteMembershipType(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "membership_types", id, ErrMembershipTypeNotFound)
}

// --- shows ---

const showColumns = `id, name, location, start_date, end_date, entry_deadline, description,
	is_published, created_at, updated_at`

func scanShow(row rowScanner) (*models.Show, error) {
	var sh models.Show
	if err := row.Scan(&sh.ID, &sh.Name, &sh.Location, &sh.StartDate, &sh.EndDate, &sh.EntryDeadline,
		&sh.Description, &sh.IsPublished, &sh.CreatedAt, &sh.UpdatedAt); err != nil {
		return nil, err
	}
	return &sh, nil
}

// ListShows returns shows ordered by start date. publishedOnly limits the list to
// what the public site may see.
func (s *CatalogStore) ListShows(ctx context.Context, publishedOnly bool) ([]models.Show, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+showColumns+`
		FROM shows
		WHERE ($1 = FALSE OR is_published = TRUE)
		ORDER BY start_date ASC, id ASC`, publishedOnly)
	if err != nil {
		return nil, fmt.Errorf("list shows: %w", err)
	}
	defer rows.Close()

	var shows []models.Show
	for rows.Next() {
		sh, err := scanShow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan show: %w", err)
		}
		shows = append(shows, *sh)
	}
	return shows, rows.Err()
}

// GetShowByID returns a show without its classes.
func (s *CatalogStore) GetShowByID(ctx context.Context, id int64) (*models.Show, error) {
	sh, err := scanShow(s.db.QueryRowContext(ctx, `SELECT `+showColumns+` FROM shows WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrShowNotFound
		}
		return nil, fmt.Errorf("get show: %w", err)
	}
	return sh, nil
}

// CreateShow inserts a show.
func (s *CatalogStore) CreateShow(ctx context.Context, sh *models.Show) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO shows (name, location, start_date, end_date, entry_deadline, description, is_published)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		sh.Name, sh.Location, sh.StartDate, sh.EndDate, sh.EntryDeadline, sh.Description, sh.IsPublished,
	).Scan(&sh.ID, &sh.CreatedAt, &sh.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create show: %w", err)
	}
	return nil
}

// UpdateShow overwrites a show's fields.
func (s *CatalogStore) UpdateShow(ctx context.Context, sh *models.Show) error {
	err := s.db.QueryRowContext(ctx, `
		UPDATE shows
		SET name = $2, location = $3, start_date = $4, end_date = $5, entry_deadline = $6,
		    description = $7, is_published = $8, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		sh.ID, sh.Name, sh.Location, sh.StartDate, sh.EndDate, sh.EntryDeadline, sh.Description, sh.IsPublished,
	).Scan(&sh.CreatedAt, &sh.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrShowNotFound
		}
		return fmt.Errorf("update show: %w", err)
	}
	return nil
}

// DeleteShow removes a show and its classes. Shows with entries cannot be deleted
// (foreign key); unpublish them instead.
func (s *CatalogStore) DeleteShow(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "shows", id, ErrShowNotFound)
}

// --- show classes ---

const showClassColumns = `id, show_id, class_number, name, description, fee_cents, is_active,
	created_at, updated_at`

func scanShowClass(row rowScanner) (*models.ShowClass, error) {
	var c models.ShowClass
	if err := row.Scan(&c.ID, &c.ShowID, &c.ClassNumber, &c.Name, &c.Description, &c.FeeCents,
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *CatalogStore) queryShowClasses(ctx context.Context, query string, args ...any) ([]models.ShowClass, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list show classes: %w", err)
	}
	defer rows.Close()

	var classes []models.ShowClass
	for rows.Next() {
		c, err := scanShowClass(rows)
		if err != nil {
			return nil, fmt.Errorf("scan show class: %w", err)
		}
		classes = append(classes, *c)
	}
	return classes, rows.Err()
}

// ListShowClasses returns the classes of a show.
func (s *CatalogStore) ListShowClasses(ctx context.Context, showID int64, activeOnly bool) ([]models.ShowClass, error) {
	return s.queryShowClasses(ctx, `
		SELECT `+showClassColumns+`
		FROM show_classes
		WHERE show_id = $1 AND ($2 = FALSE OR is_active = TRUE)
		ORDER BY class_number ASC, id ASC`, showID, activeOnly)
}

// GetShowClassesByIDs returns the requested classes of one show. Missing ids are
// simply absent from the result.
func (s *CatalogStore) GetShowClassesByIDs(ctx context.Context, showID int64, ids []int64) ([]models.ShowClass, error) {
	return s.queryShowClasses(ctx, `
		SELECT `+showClassColumns+`
		FROM show_classes
		WHERE show_id = $1 AND id = ANY($2)
		ORDER BY class_number ASC, id ASC`, showID, pq.Array(ids))
}

// CreateShowClass inserts a class.
func (s *CatalogStore) CreateShowClass(ctx context.Context, c *models.ShowClass) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO show_classes (show_id, class_number, name, description, fee_cents, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		c.ShowID, c.ClassNumber, c.Name, c.Description, c.FeeCents, c.IsActive,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create show class: %w", err)
	}
	return nil
}

// UpdateShowClass overwrites a class. Entries keep the fee they snapshotted.
func (s *CatalogStore) UpdateShowClass(ctx context.Context, c *models.ShowClass) error {
	err := s.db.QueryRowContext(ctx, `
		UPDATE show_classes
		SET class_number = $3, name = $4, description = $5, fee_cents = $6, is_active = $7, updated_at = now()
		WHERE id = $1 AND show_id = $2
		RETURNING created_at, updated_at`,
		c.ID, c.ShowID, c.ClassNumber, c.Name, c.Description, c.FeeCents, c.IsActive,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrShowClassNotFound
		}
		return fmt.Errorf("update show class: %w", err)
	}
	return nil
}

// DeleteShowClass removes a class.
func (s *CatalogStore) DeleteShowClass(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "show_classes", id, ErrShowClassNotFound)
}

// --- sponsors ---

const sponsorColumns = `id, name, level, website_url, logo_url, is_active, sort_order, created_at, updated_at`

// ListSponsors returns sponsors in display order.
func (s *CatalogStore) ListSponsors(ctx context.Context, activeOnly bool) ([]models.Sponsor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sponsorColumns+`
		FROM sponsors
		WHERE ($1 = FALSE OR is_active = TRUE)
		ORDER BY sort_order ASC, name ASC`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list sponsors: %w", err)
	}
	defer rows.Close()

	var sponsors []models.Sponsor
	for rows.Next() {
		var sp models.Sponsor
		if err := rows.Scan(&sp.ID, &sp.Name, &sp.Level, &sp.WebsiteURL, &sp.LogoURL, &sp.IsActive,
			&sp.SortOrder, &sp.CreatedAt, &sp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan sponsor: %w", err)
		}
		sponsors = append(sponsors, sp)
	}
	return sponsors, rows.Err()
}

// CreateSponsor inserts a sponsor.
func (s *CatalogStore) CreateSponsor(ctx context.Context, sp *models.Sponsor) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sponsors (name, level, website_url, logo_url, is_active, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		sp.Name, sp.Level, sp.WebsiteURL, sp.LogoURL, sp.IsActive, sp.SortOrder,
	).Scan(&sp.ID, &sp.CreatedAt, &sp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create sponsor: %w", err)
	}
	return nil
}

// UpdateSponsor overwrites a sponsor.
func (s *CatalogStore) UpdateSponsor(ctx context.Context, sp *models.Sponsor) error {
	err := s.db.QueryRowContext(ctx, `
		UPDATE sponsors
		SET name = $2, level = $3, website_url = $4, logo_url = $5, is_active = $6, sort_order = $7,
		    updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		sp.ID, sp.Name, sp.Level, sp.WebsiteURL, sp.LogoURL, sp.IsActive, sp.SortOrder,
	).Scan(&sp.CreatedAt, &sp.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSponsorNotFound
		}
		return fmt.Errorf("update sponsor: %w", err)
	}
	return nil
}

// DeleteSponsor removes a sponsor.
func (s *CatalogStore) DeleteSponsor(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "sponsors", id, ErrSponsorNotFound)
}

// --- additional fee types ---

const feeTypeColumns = `id, name, description, price_cents, max_quantity, is_active, created_at, updated_at`

func (s *CatalogStore) queryFeeTypes(ctx context.Context, query string, args ...any) ([]models.FeeType, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list fee types: %w", err)
	}
	defer rows.Close()

	var fees []models.FeeType
	for rows.Next() {
		var f models.FeeType
		if err := rows.Scan(&f.ID, &f.Name, &f.Description, &f.PriceCents, &f.MaxQuantity, &f.IsActive,
			&f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan fee type: %w", err)
		}
		fees = append(fees, f)
	}
	return fees, rows.Err()
}

// ListFeeTypes returns fee types by name.
func (s *CatalogStore) ListFeeTypes(ctx context.Context, activeOnly bool) ([]models.FeeType, error) {
	return s.queryFeeTypes(ctx, `
		SELECT `+feeTypeColumns+`
		FROM additional_fee_types
		WHERE ($1 = FALSE OR is_active = TRUE)
		ORDER BY name ASC`, activeOnly)
}

// GetFeeTypesByIDs returns the requested fee types; missing ids are absent.
func (s *CatalogStore) GetFeeTypesByIDs(ctx context.Context, ids []int64) ([]models.FeeType, error) {
	return s.queryFeeTypes(ctx, `
		SELECT `+feeTypeColumns+`
		FROM additional_fee_types
		WHERE id = ANY($1)
		ORDER BY id ASC`, pq.Array(ids))
}

// CreateFeeType inserts a fee type.
func (s *CatalogStore) CreateFeeType(ctx context.Context, f *models.FeeType) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO additional_fee_types (name, description, price_cents, max_quantity, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		f.Name, f.Description, f.PriceCents, f.MaxQuantity, f.IsActive,
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create fee type: %w", err)
	}
	return nil
}

// UpdateFeeType overwrites a fee type. Purchases keep their unit price snapshot.
func (s *CatalogStore) UpdateFeeType(ctx context.Context, f *models.FeeType) error {
	err := s.db.QueryRowContext(ctx, `
		UPDATE additional_fee_types
		SET name = $2, description = $3, price_cents = $4, max_quantity = $5, is_active = $6, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		f.ID, f.Name, f.Description, f.PriceCents, f.MaxQuantity, f.IsActive,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrFeeTypeNotFound
		}
		return fmt.Errorf("update fee type: %w", err)
	}
	return nil
}

// DeleteFeeType removes a fee type.
func (s *CatalogStore) DeleteFeeType(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "additional_fee_types", id, ErrFeeTypeNotFound)
}

// deleteByID deletes one row from a catalog table. table is always a constant
// from this file, never user input.
func (s *CatalogStore) deleteByID(ctx context.Context, table string, id int64, notFound error) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrCatalogConflict
		}
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound
	}
	return nil
}
