// Package postgres implements storage.Store backed by PostgreSQL.
//
// Uniqueness lives in schema constraints (authority name, per-issuer serial
// number), so concurrent issuance across processes cannot collide. The
// cascade on authority deletion is a recursive walk inside one transaction
// because the issuer reference is polymorphic and cannot use a foreign key.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jsenecal/FastPKI/storage"
)

// Store implements storage.Store backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// NewStore returns a Store backed by the given pgx connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewStoreFromDSN creates a connection pool from a DSN string, ensures the
// schema exists, and returns a new Store.
func NewStoreFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewStore(pool), nil
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// isUniqueViolation reports whether err is a violation of the named
// constraint (PostgreSQL error class 23505).
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

const authorityColumns = `id, name, description, subject_dn, key_bits, valid_days,
	created_at, updated_at, private_key_pem, certificate_pem, crl_number`

func (s *Store) CreateAuthority(ctx context.Context, a *storage.Authority) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO authorities (`+authorityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.Name, a.Description, a.SubjectDN, a.KeyBits, a.ValidDays,
		a.CreatedAt.UTC(), a.UpdatedAt.UTC(), a.PrivateKeyPEM, a.CertificatePEM, a.CRLNumber,
	)
	if isUniqueViolation(err, "authorities_name_key") {
		return storage.ErrDuplicateName
	}
	if err != nil {
		return fmt.Errorf("creating authority: %w", err)
	}
	return nil
}

func scanAuthority(row pgx.Row) (*storage.Authority, error) {
	var a storage.Authority
	err := row.Scan(
		&a.ID, &a.Name, &a.Description, &a.SubjectDN, &a.KeyBits, &a.ValidDays,
		&a.CreatedAt, &a.UpdatedAt, &a.PrivateKeyPEM, &a.CertificatePEM, &a.CRLNumber,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) GetAuthority(ctx context.Context, id string) (*storage.Authority, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+authorityColumns+` FROM authorities WHERE id = $1`, id)
	a, err := scanAuthority(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("authority %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting authority: %w", err)
	}
	return a, nil
}

func (s *Store) ListAuthorities(ctx context.Context) ([]*storage.Authority, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+authorityColumns+` FROM authorities ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing authorities: %w", err)
	}
	defer rows.Close()

	var out []*storage.Authority
	for rows.Next() {
		a, err := scanAuthority(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning authority: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateAuthority(ctx context.Context, a *storage.Authority) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE authorities SET
			name = $1, description = $2, subject_dn = $3, key_bits = $4, valid_days = $5,
			updated_at = $6, private_key_pem = $7, certificate_pem = $8, crl_number = $9
		WHERE id = $10`,
		a.Name, a.Description, a.SubjectDN, a.KeyBits, a.ValidDays,
		a.UpdatedAt.UTC(), a.PrivateKeyPEM, a.CertificatePEM, a.CRLNumber, a.ID,
	)
	if err != nil {
		return fmt.Errorf("updating authority: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("authority %s: %w", a.ID, storage.ErrNotFound)
	}
	return nil
}

// NextCRLNumber increments the counter in a single UPDATE, so the database
// serializes concurrent callers.
func (s *Store) NextCRLNumber(ctx context.Context, id string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		UPDATE authorities SET crl_number = crl_number + 1, updated_at = $1
		WHERE id = $2 RETURNING crl_number`,
		time.Now().UTC(), id,
	).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("authority %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing crl number: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteAuthority(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `DELETE FROM authorities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting authority: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("authority %s: %w", id, storage.ErrNotFound)
	}

	kind, ids := storage.RefAuthority, []string{id}
	for len(ids) > 0 {
		if _, err := tx.Exec(ctx, `
			DELETE FROM revocations WHERE issuer_kind = $1 AND issuer_id = ANY($2)`,
			kind, ids); err != nil {
			return fmt.Errorf("deleting revocations: %w", err)
		}

		rows, err := tx.Query(ctx, `
			DELETE FROM certificates WHERE issuer_kind = $1 AND issuer_id = ANY($2)
			RETURNING id`, kind, ids)
		if err != nil {
			return fmt.Errorf("deleting certificates: %w", err)
		}
		var next []string
		for rows.Next() {
			var certID string
			if err := rows.Scan(&certID); err != nil {
				rows.Close()
				return err
			}
			next = append(next, certID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		kind, ids = storage.RefCertificate, next
	}

	return tx.Commit(ctx)
}

const certColumns = `id, common_name, subject_dn, role, key_bits, valid_days, status,
	created_at, updated_at, private_key_pem, certificate_pem,
	serial_number, not_before, not_after, revoked_at, issuer_kind, issuer_id`

func (s *Store) CreateCertificate(ctx context.Context, c *storage.Certificate) error {
	var revokedAt *time.Time
	if c.RevokedAt != nil {
		t := c.RevokedAt.UTC()
		revokedAt = &t
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO certificates (`+certColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		c.ID, c.CommonName, c.SubjectDN, c.Role, c.KeyBits, c.ValidDays, c.Status,
		c.CreatedAt.UTC(), c.UpdatedAt.UTC(), c.PrivateKeyPEM, c.CertificatePEM,
		c.SerialNumber, c.NotBefore.UTC(), c.NotAfter.UTC(), revokedAt,
		c.Issuer.Kind, c.Issuer.ID,
	)
	if isUniqueViolation(err, "certificates_issuer_kind_issuer_id_serial_number_key") {
		return storage.ErrDuplicateSerial
	}
	if err != nil {
		return fmt.Errorf("creating certificate: %w", err)
	}
	return nil
}

func scanCertificate(row pgx.Row) (*storage.Certificate, error) {
	var c storage.Certificate
	var revokedAt *time.Time
	err := row.Scan(
		&c.ID, &c.CommonName, &c.SubjectDN, &c.Role, &c.KeyBits, &c.ValidDays, &c.Status,
		&c.CreatedAt, &c.UpdatedAt, &c.PrivateKeyPEM, &c.CertificatePEM,
		&c.SerialNumber, &c.NotBefore, &c.NotAfter, &revokedAt,
		&c.Issuer.Kind, &c.Issuer.ID,
	)
	if err != nil {
		return nil, err
	}
	c.RevokedAt = revokedAt
	return &c, nil
}

func (s *Store) GetCertificate(ctx context.Context, id string) (*storage.Certificate, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+certColumns+` FROM certificates WHERE id = $1`, id)
	c, err := scanCertificate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("certificate %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting certificate: %w", err)
	}
	return c, nil
}

func (s *Store) ListCertificates(ctx context.Context, issuer *storage.IssuerRef) ([]*storage.Certificate, error) {
	query := `SELECT ` + certColumns + ` FROM certificates`
	var args []any
	if issuer != nil {
		query += ` WHERE issuer_kind = $1 AND issuer_id = $2`
		args = append(args, issuer.Kind, issuer.ID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing certificates: %w", err)
	}
	defer rows.Close()

	var out []*storage.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning certificate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCertificate(ctx context.Context, c *storage.Certificate) error {
	var revokedAt *time.Time
	if c.RevokedAt != nil {
		t := c.RevokedAt.UTC()
		revokedAt = &t
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE certificates SET
			common_name = $1, subject_dn = $2, role = $3, key_bits = $4, valid_days = $5,
			status = $6, updated_at = $7, private_key_pem = $8, certificate_pem = $9,
			serial_number = $10, not_before = $11, not_after = $12, revoked_at = $13,
			issuer_kind = $14, issuer_id = $15
		WHERE id = $16`,
		c.CommonName, c.SubjectDN, c.Role, c.KeyBits, c.ValidDays,
		c.Status, c.UpdatedAt.UTC(), c.PrivateKeyPEM, c.CertificatePEM,
		c.SerialNumber, c.NotBefore.UTC(), c.NotAfter.UTC(), revokedAt,
		c.Issuer.Kind, c.Issuer.ID, c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating certificate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("certificate %s: %w", c.ID, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) CreateRevocation(ctx context.Context, r *storage.RevocationRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO revocations (id, serial_number, revoked_at, reason, issuer_kind, issuer_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.SerialNumber, r.RevokedAt.UTC(), r.Reason, r.Issuer.Kind, r.Issuer.ID, r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating revocation record: %w", err)
	}
	return nil
}

func (s *Store) ListRevocations(ctx context.Context, issuer storage.IssuerRef) ([]*storage.RevocationRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, serial_number, revoked_at, reason, issuer_kind, issuer_id, created_at
		FROM revocations WHERE issuer_kind = $1 AND issuer_id = $2
		ORDER BY created_at`, issuer.Kind, issuer.ID)
	if err != nil {
		return nil, fmt.Errorf("listing revocations: %w", err)
	}
	defer rows.Close()

	var out []*storage.RevocationRecord
	for rows.Next() {
		var r storage.RevocationRecord
		if err := rows.Scan(&r.ID, &r.SerialNumber, &r.RevokedAt, &r.Reason,
			&r.Issuer.Kind, &r.Issuer.ID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning revocation record: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
