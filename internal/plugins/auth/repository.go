package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/keyxmakerx/bidhouse/internal/database"
)

// IdentityRepository defines the data access contract for identities.
// All SQL lives in the concrete implementation -- no SQL leaks out.
// Every Find method returns (nil, nil) when nothing matches.
type IdentityRepository interface {
	Create(ctx context.Context, identity *Identity) error
	FindByID(ctx context.Context, id string) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)

	// UpdateRegistration overwrites the role and the pending registration
	// code. A nil code clears both code columns.
	UpdateRegistration(ctx context.Context, id string, role Role, code *PendingCode) error

	// MarkVerified flips the verified flag and clears the registration code.
	MarkVerified(ctx context.Context, id string) error

	// SetResetCode overwrites the pending reset code. A nil code clears it.
	SetResetCode(ctx context.Context, id string, code *PendingCode) error

	// ConsumeResetCode clears the reset code only if it still equals code.
	// Returns false when another request consumed or replaced it first.
	ConsumeResetCode(ctx context.Context, id, code string) (bool, error)

	UpdateBan(ctx context.Context, id string, banned bool, reason string, until *time.Time) error
	Delete(ctx context.Context, id string) error
}

// ProfileRepository defines the data access contract for the three profile
// tables. The role selects the table; callers never name tables.
// Every Find method returns (nil, nil) when nothing matches.
type ProfileRepository interface {
	Create(ctx context.Context, p Profile) error
	Update(ctx context.Context, p Profile) error
	FindByIdentity(ctx context.Context, identityID string, role Role) (Profile, error)

	// FindByUsername looks up a bidder profile. Several unverified sign-ups
	// may share a username; a verified owner wins, then the latest update.
	FindByUsername(ctx context.Context, username string) (*ProfileMatch, error)

	// ListByUsername returns every bidder profile holding username, in
	// FindByUsername order.
	ListByUsername(ctx context.Context, username string) ([]ProfileMatch, error)

	// FindByContact looks up a profile of the given role by contact number,
	// preferring a verified owner like FindByUsername.
	FindByContact(ctx context.Context, role Role, contact string) (*ProfileMatch, error)

	UpdatePassword(ctx context.Context, identityID string, role Role, passwordHash string) error
	DeleteByIdentity(ctx context.Context, identityID string, role Role) error
}

// Store groups the identity and profile repositories so workflows can run a
// multi-table change in one transaction.
type Store interface {
	Identities() IdentityRepository
	Profiles() ProfileRepository

	// WithinTx runs fn against a Store bound to a single transaction.
	// Calling WithinTx on a transactional Store reuses the transaction.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// sqlStore implements Store with MariaDB.
type sqlStore struct {
	db   *sql.DB
	q    database.DBTX
	inTx bool
}

// NewStore creates a Store backed by the given DB pool.
func NewStore(db *sql.DB) Store {
	return &sqlStore{db: db, q: db}
}

func (s *sqlStore) Identities() IdentityRepository { return NewIdentityRepository(s.q) }
func (s *sqlStore) Profiles() ProfileRepository    { return NewProfileRepository(s.q) }

func (s *sqlStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	return database.WithTx(ctx, s.db, func(ctx context.Context, tx database.DBTX) error {
		return fn(ctx, &sqlStore{db: s.db, q: tx, inTx: true})
	})
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// --- Identities ---

// identityRepository implements IdentityRepository with hand-written
// MariaDB queries.
type identityRepository struct {
	q database.DBTX
}

// NewIdentityRepository creates an identity repository on a pool or a
// transaction.
func NewIdentityRepository(q database.DBTX) IdentityRepository {
	return &identityRepository{q: q}
}

const identityColumns = `id, email, role, verified,
	registration_code, registration_expires_at, reset_code, reset_expires_at,
	is_banned, ban_reason, banned_until, created_at, updated_at`

func scanIdentity(row rowScanner) (*Identity, error) {
	var (
		ident              Identity
		regCode, resetCode sql.NullString
		regExp, resetExp   sql.NullTime
		banReason          sql.NullString
		bannedUntil        sql.NullTime
	)
	err := row.Scan(
		&ident.ID, &ident.Email, &ident.Role, &ident.Verified,
		&regCode, &regExp, &resetCode, &resetExp,
		&ident.Banned, &banReason, &bannedUntil, &ident.CreatedAt, &ident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	ident.Registration = pendingFromColumns(regCode, regExp)
	ident.Reset = pendingFromColumns(resetCode, resetExp)
	ident.BanReason = banReason.String
	if bannedUntil.Valid {
		t := bannedUntil.Time.UTC()
		ident.BannedUntil = &t
	}
	return &ident, nil
}

// pendingFromColumns rebuilds a pending code. A half-populated pair counts
// as no pending code.
func pendingFromColumns(code sql.NullString, expires sql.NullTime) *PendingCode {
	if !code.Valid || code.String == "" || !expires.Valid {
		return nil
	}
	return &PendingCode{Code: code.String, ExpiresAt: expires.Time.UTC()}
}

// pendingToColumns splits a pending code into nullable column values.
func pendingToColumns(code *PendingCode) (any, any) {
	if code == nil {
		return nil, nil
	}
	return code.Code, code.ExpiresAt.UTC()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Create inserts a new identity row.
func (r *identityRepository) Create(ctx context.Context, identity *Identity) error {
	now := time.Now().UTC()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = now

	regCode, regExp := pendingToColumns(identity.Registration)
	resetCode, resetExp := pendingToColumns(identity.Reset)

	query := `INSERT INTO identities (` + identityColumns + `)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.q.ExecContext(ctx, query,
		identity.ID, identity.Email, identity.Role, identity.Verified,
		regCode, regExp, resetCode, resetExp,
		identity.Banned, nullableString(identity.BanReason), nullableTime(identity.BannedUntil),
		identity.CreatedAt, identity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting identity: %w", err)
	}
	return nil
}

// FindByID retrieves an identity by its UUID.
func (r *identityRepository) FindByID(ctx context.Context, id string) (*Identity, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = ?`, id)
	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying identity by id: %w", err)
	}
	return identity, nil
}

// FindByEmail retrieves an identity by email. Emails are stored lowercased,
// so callers must normalize before calling.
func (r *identityRepository) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE email = ?`, email)
	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying identity by email: %w", err)
	}
	return identity, nil
}

// UpdateRegistration overwrites role and pending registration code.
func (r *identityRepository) UpdateRegistration(ctx context.Context, id string, role Role, code *PendingCode) error {
	c, exp := pendingToColumns(code)
	query := `UPDATE identities
	          SET role = ?, registration_code = ?, registration_expires_at = ?, updated_at = ?
	          WHERE id = ?`
	return r.execOne(ctx, "updating registration code", query, role, c, exp, time.Now().UTC(), id)
}

// MarkVerified sets verified and clears the registration code in one write.
func (r *identityRepository) MarkVerified(ctx context.Context, id string) error {
	query := `UPDATE identities
	          SET verified = TRUE, registration_code = NULL, registration_expires_at = NULL, updated_at = ?
	          WHERE id = ?`
	return r.execOne(ctx, "marking identity verified", query, time.Now().UTC(), id)
}

// SetResetCode overwrites the pending reset code.
func (r *identityRepository) SetResetCode(ctx context.Context, id string, code *PendingCode) error {
	c, exp := pendingToColumns(code)
	query := `UPDATE identities
	          SET reset_code = ?, reset_expires_at = ?, updated_at = ?
	          WHERE id = ?`
	return r.execOne(ctx, "setting reset code", query, c, exp, time.Now().UTC(), id)
}

// ConsumeResetCode clears the reset code guarded by its current value so
// two concurrent replace requests cannot both succeed.
func (r *identityRepository) ConsumeResetCode(ctx context.Context, id, code string) (bool, error) {
	query := `UPDATE identities
	          SET reset_code = NULL, reset_expires_at = NULL, updated_at = ?
	          WHERE id = ? AND reset_code = ?`
	result, err := r.q.ExecContext(ctx, query, time.Now().UTC(), id, code)
	if err != nil {
		return false, fmt.Errorf("consuming reset code: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consuming reset code: %w", err)
	}
	return n == 1, nil
}

// UpdateBan sets the permanent ban flag, its reason and the ban window.
func (r *identityRepository) UpdateBan(ctx context.Context, id string, banned bool, reason string, until *time.Time) error {
	query := `UPDATE identities
	          SET is_banned = ?, ban_reason = ?, banned_until = ?, updated_at = ?
	          WHERE id = ?`
	return r.execOne(ctx, "updating ban", query, banned, nullableString(reason), nullableTime(until), time.Now().UTC(), id)
}

// Delete removes an identity. Its profile goes with it via ON DELETE CASCADE.
func (r *identityRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM identities WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting identity: %w", err)
	}
	return nil
}

// errNoRowsAffected marks an update that matched no identity.
var errNoRowsAffected = errors.New("no rows affected")

// execOne runs an update that must hit exactly one row.
func (r *identityRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, errNoRowsAffected)
	}
	return nil
}

// --- Profiles ---

// profileRepository implements ProfileRepository with hand-written MariaDB
// queries over bidder_profiles, merchant_profiles and operator_profiles.
type profileRepository struct {
	q database.DBTX
}

// NewProfileRepository creates a profile repository on a pool or a
// transaction.
func NewProfileRepository(q database.DBTX) ProfileRepository {
	return &profileRepository{q: q}
}

const (
	baseProfileColumns     = `p.id, p.identity_id, p.full_name, p.contact, p.password_hash, p.created_at, p.updated_at`
	bidderProfileColumns   = baseProfileColumns + `, p.username`
	merchantProfileColumns = baseProfileColumns + `, p.business_name, p.onboarding_status, p.onboarding_attempts, p.rule_violations, p.suspended_until`
)

// profileTable returns the table and select list for a role. The role is
// always one of the constants, never request input.
func profileTable(role Role) (table, columns string, err error) {
	switch role {
	case RoleBidder:
		return "bidder_profiles", bidderProfileColumns, nil
	case RoleMerchant:
		return "merchant_profiles", merchantProfileColumns, nil
	case RoleOperator:
		return "operator_profiles", baseProfileColumns, nil
	}
	return "", "", fmt.Errorf("no profile table for role %q", role)
}

// scanProfile scans one profile row of the given role. extra receives any
// columns selected after the profile columns.
func scanProfile(role Role, row rowScanner, extra ...any) (Profile, error) {
	var (
		base ProfileBase
		hash sql.NullString
	)
	dest := []any{&base.ID, &base.IdentityID, &base.FullName, &base.Contact, &hash, &base.CreatedAt, &base.UpdatedAt}

	var (
		p      Profile
		finish func()
	)
	switch role {
	case RoleBidder:
		b := &BidderProfile{}
		dest = append(dest, &b.Username)
		p = b
	case RoleMerchant:
		m := &MerchantProfile{}
		var suspended sql.NullTime
		dest = append(dest, &m.BusinessName, &m.Onboarding, &m.OnboardingAttempts, &m.RuleViolations, &suspended)
		finish = func() {
			if suspended.Valid {
				t := suspended.Time.UTC()
				m.SuspendedUntil = &t
			}
		}
		p = m
	case RoleOperator:
		p = &OperatorProfile{}
	default:
		return nil, fmt.Errorf("no profile kind for role %q", role)
	}

	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	base.PasswordHash = hash.String
	*p.Base() = base
	if finish != nil {
		finish()
	}
	return p, nil
}

// Create inserts a profile into its role's table.
func (r *profileRepository) Create(ctx context.Context, p Profile) error {
	b := p.Base()
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	var err error
	switch v := p.(type) {
	case *BidderProfile:
		_, err = r.q.ExecContext(ctx,
			`INSERT INTO bidder_profiles (id, identity_id, full_name, contact, password_hash, created_at, updated_at, username)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.IdentityID, b.FullName, b.Contact, b.PasswordHash, b.CreatedAt, b.UpdatedAt, v.Username,
		)
	case *MerchantProfile:
		_, err = r.q.ExecContext(ctx,
			`INSERT INTO merchant_profiles (id, identity_id, full_name, contact, password_hash, created_at, updated_at,
			                                business_name, onboarding_status, onboarding_attempts, rule_violations, suspended_until)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.IdentityID, b.FullName, b.Contact, nullableString(b.PasswordHash), b.CreatedAt, b.UpdatedAt,
			v.BusinessName, v.Onboarding, v.OnboardingAttempts, v.RuleViolations, nullableTime(v.SuspendedUntil),
		)
	case *OperatorProfile:
		_, err = r.q.ExecContext(ctx,
			`INSERT INTO operator_profiles (id, identity_id, full_name, contact, password_hash, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.IdentityID, b.FullName, b.Contact, b.PasswordHash, b.CreatedAt, b.UpdatedAt,
		)
	}
	if err != nil {
		return fmt.Errorf("inserting %s profile: %w", p.Role(), err)
	}
	return nil
}

// Update rewrites every mutable column of a profile, matched by its id.
func (r *profileRepository) Update(ctx context.Context, p Profile) error {
	b := p.Base()
	b.UpdatedAt = time.Now().UTC()

	var err error
	switch v := p.(type) {
	case *BidderProfile:
		_, err = r.q.ExecContext(ctx,
			`UPDATE bidder_profiles SET full_name = ?, contact = ?, password_hash = ?, username = ?, updated_at = ?
			 WHERE id = ?`,
			b.FullName, b.Contact, b.PasswordHash, v.Username, b.UpdatedAt, b.ID,
		)
	case *MerchantProfile:
		_, err = r.q.ExecContext(ctx,
			`UPDATE merchant_profiles SET full_name = ?, contact = ?, password_hash = ?, business_name = ?,
			        onboarding_status = ?, onboarding_attempts = ?, rule_violations = ?, suspended_until = ?, updated_at = ?
			 WHERE id = ?`,
			b.FullName, b.Contact, nullableString(b.PasswordHash), v.BusinessName,
			v.Onboarding, v.OnboardingAttempts, v.RuleViolations, nullableTime(v.SuspendedUntil), b.UpdatedAt, b.ID,
		)
	case *OperatorProfile:
		_, err = r.q.ExecContext(ctx,
			`UPDATE operator_profiles SET full_name = ?, contact = ?, password_hash = ?, updated_at = ?
			 WHERE id = ?`,
			b.FullName, b.Contact, b.PasswordHash, b.UpdatedAt, b.ID,
		)
	}
	if err != nil {
		return fmt.Errorf("updating %s profile: %w", p.Role(), err)
	}
	return nil
}

// FindByIdentity retrieves the profile of the given role owned by an identity.
func (r *profileRepository) FindByIdentity(ctx context.Context, identityID string, role Role) (Profile, error) {
	table, columns, err := profileTable(role)
	if err != nil {
		return nil, err
	}
	row := r.q.QueryRowContext(ctx, `SELECT `+columns+` FROM `+table+` p WHERE p.identity_id = ?`, identityID)
	p, err := scanProfile(role, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying %s profile by identity: %w", role, err)
	}
	return p, nil
}

// FindByUsername retrieves a bidder profile by username.
func (r *profileRepository) FindByUsername(ctx context.Context, username string) (*ProfileMatch, error) {
	return r.findMatch(ctx, RoleBidder, "username", username)
}

// ListByUsername retrieves all bidder profiles holding a username.
func (r *profileRepository) ListByUsername(ctx context.Context, username string) ([]ProfileMatch, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+bidderProfileColumns+`, i.verified
		 FROM bidder_profiles p
		 JOIN identities i ON i.id = p.identity_id
		 WHERE p.username = ?
		 ORDER BY i.verified DESC, p.updated_at DESC`,
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("listing bidder profiles by username: %w", err)
	}
	defer rows.Close()

	var matches []ProfileMatch
	for rows.Next() {
		var verified bool
		p, err := scanProfile(RoleBidder, rows, &verified)
		if err != nil {
			return nil, fmt.Errorf("scanning bidder profile: %w", err)
		}
		matches = append(matches, ProfileMatch{Profile: p, OwnerVerified: verified})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bidder profiles: %w", err)
	}
	return matches, nil
}

// FindByContact retrieves a profile of the given role by contact number.
func (r *profileRepository) FindByContact(ctx context.Context, role Role, contact string) (*ProfileMatch, error) {
	return r.findMatch(ctx, role, "contact", contact)
}

// findMatch runs a natural-key lookup joined with the owning identity.
// column is always a literal from this file.
func (r *profileRepository) findMatch(ctx context.Context, role Role, column, value string) (*ProfileMatch, error) {
	table, columns, err := profileTable(role)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + columns + `, i.verified
	          FROM ` + table + ` p
	          JOIN identities i ON i.id = p.identity_id
	          WHERE p.` + column + ` = ?
	          ORDER BY i.verified DESC, p.updated_at DESC
	          LIMIT 1`

	var verified bool
	p, err := scanProfile(role, r.q.QueryRowContext(ctx, query, value), &verified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying %s profile by %s: %w", role, column, err)
	}
	return &ProfileMatch{Profile: p, OwnerVerified: verified}, nil
}

// UpdatePassword replaces the password hash on an identity's profile.
func (r *profileRepository) UpdatePassword(ctx context.Context, identityID string, role Role, passwordHash string) error {
	table, _, err := profileTable(role)
	if err != nil {
		return err
	}
	result, err := r.q.ExecContext(ctx,
		`UPDATE `+table+` SET password_hash = ?, updated_at = ? WHERE identity_id = ?`,
		passwordHash, time.Now().UTC(), identityID,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("updating password: %w", errNoRowsAffected)
	}
	return nil
}

// DeleteByIdentity removes an identity's profile of the given role.
func (r *profileRepository) DeleteByIdentity(ctx context.Context, identityID string, role Role) error {
	table, _, err := profileTable(role)
	if err != nil {
		return err
	}
	if _, err := r.q.ExecContext(ctx, `DELETE FROM `+table+` WHERE identity_id = ?`, identityID); err != nil {
		return fmt.Errorf("deleting %s profile: %w", role, err)
	}
	return nil
}
