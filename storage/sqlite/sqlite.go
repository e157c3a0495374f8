// Package sqlite provides a SQLite-backed implementation of storage.Store.
// Uniqueness constraints live in the schema, so concurrent issuance under
// the same issuer cannot produce duplicate serials even across processes.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jsenecal/FastPKI/storage"
)

// Store implements storage.Store backed by a SQLite database.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens (and migrates) a SQLite database at the given path.
// Use ":memory:" for an in-memory database.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error, column string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") &&
		strings.Contains(err.Error(), column)
}

func (s *Store) CreateAuthority(ctx context.Context, a *storage.Authority) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO authorities (
			id, name, description, subject_dn, key_bits, valid_days,
			created_at, updated_at, private_key_pem, certificate_pem, crl_number
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Description, a.SubjectDN, a.KeyBits, a.ValidDays,
		a.CreatedAt.UTC(), a.UpdatedAt.UTC(), a.PrivateKeyPEM, a.CertificatePEM, a.CRLNumber,
	)
	if isUniqueViolation(err, "authorities.name") {
		return storage.ErrDuplicateName
	}
	if err != nil {
		return fmt.Errorf("creating authority: %w", err)
	}
	return nil
}

func scanAuthority(row interface{ Scan(...any) error }) (*storage.Authority, error) {
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

const authorityColumns = `id, name, description, subject_dn, key_bits, valid_days,
	created_at, updated_at, private_key_pem, certificate_pem, crl_number`

func (s *Store) GetAuthority(ctx context.Context, id string) (*storage.Authority, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+authorityColumns+` FROM authorities WHERE id = ?`, id)
	a, err := scanAuthority(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("authority %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting authority: %w", err)
	}
	return a, nil
}

func (s *Store) ListAuthorities(ctx context.Context) ([]*storage.Authority, error) {
	rows, err := s.db.QueryContext(ctx,
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
	res, err := s.db.ExecContext(ctx, `
		UPDATE authorities SET
			name = ?, description = ?, subject_dn = ?, key_bits = ?, valid_days = ?,
			updated_at = ?, private_key_pem = ?, certificate_pem = ?, crl_number = ?
		WHERE id = ?`,
		a.Name, a.Description, a.SubjectDN, a.KeyBits, a.ValidDays,
		a.UpdatedAt.UTC(), a.PrivateKeyPEM, a.CertificatePEM, a.CRLNumber, a.ID,
	)
	if err != nil {
		return fmt.Errorf("updating authority: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("authority %s: %w", a.ID, storage.ErrNotFound)
	}
	return nil
}

// NextCRLNumber increments the counter in a single UPDATE, so the database
// serializes concurrent callers.
func (s *Store) NextCRLNumber(ctx context.Context, id string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE authorities SET crl_number = crl_number + 1, updated_at = ?
		WHERE id = ? RETURNING crl_number`,
		time.Now().UTC(), id,
	).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("authority %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing crl number: %w", err)
	}
	return n, nil
}

// DeleteAuthority removes the authority and cascades through intermediate
// certificates in a single transaction. The issuer reference is polymorphic,
// so the cascade is a recursive walk rather than a foreign-key cascade.
func (s *Store) DeleteAuthority(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM authorities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting authority: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("authority %s: %w", id, storage.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM revocations WHERE issuer_kind = ? AND issuer_id = ?`,
		storage.RefAuthority, id); err != nil {
		return fmt.Errorf("deleting revocations: %w", err)
	}

	kind, ids := storage.RefAuthority, []string{id}
	for len(ids) > 0 {
		placeholders := strings.Repeat("?,", len(ids)-1) + "?"
		args := make([]any, 0, len(ids)+1)
		args = append(args, kind)
		for _, i := range ids {
			args = append(args, i)
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM certificates
			WHERE issuer_kind = ? AND issuer_id IN (`+placeholders+`)`, args...)
		if err != nil {
			return fmt.Errorf("finding issued certificates: %w", err)
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

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM certificates
			WHERE issuer_kind = ? AND issuer_id IN (`+placeholders+`)`, args...); err != nil {
			return fmt.Errorf("deleting certificates: %w", err)
		}
		for _, certID := range next {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM revocations WHERE issuer_kind = ? AND issuer_id = ?`,
				storage.RefCertificate, certID); err != nil {
				return fmt.Errorf("deleting revocations: %w", err)
			}
		}
		kind, ids = storage.RefCertificate, next
	}

	return tx.Commit()
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO certificates (`+certColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CommonName, c.SubjectDN, c.Role, c.KeyBits, c.ValidDays, c.Status,
		c.CreatedAt.UTC(), c.UpdatedAt.UTC(), c.PrivateKeyPEM, c.CertificatePEM,
		c.SerialNumber, c.NotBefore.UTC(), c.NotAfter.UTC(), revokedAt,
		c.Issuer.Kind, c.Issuer.ID,
	)
	if isUniqueViolation(err, "certificates.serial_number") {
		return storage.ErrDuplicateSerial
	}
	if err != nil {
		return fmt.Errorf("creating certificate: %w", err)
	}
	return nil
}

func scanCertificate(row interface{ Scan(...any) error }) (*storage.Certificate, error) {
	var c storage.Certificate
	var revokedAt sql.NullTime
	err := row.Scan(
		&c.ID, &c.CommonName, &c.SubjectDN, &c.Role, &c.KeyBits, &c.ValidDays, &c.Status,
		&c.CreatedAt, &c.UpdatedAt, &c.PrivateKeyPEM, &c.CertificatePEM,
		&c.SerialNumber, &c.NotBefore, &c.NotAfter, &revokedAt,
		&c.Issuer.Kind, &c.Issuer.ID,
	)
	if err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		c.RevokedAt = &t
	}
	return &c, nil
}

func (s *Store) GetCertificate(ctx context.Context, id string) (*storage.Certificate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+certColumns+` FROM certificates WHERE id = ?`, id)
	c, err := scanCertificate(row)
	if err == sql.ErrNoRows {
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
		query += ` WHERE issuer_kind = ? AND issuer_id = ?`
		args = append(args, issuer.Kind, issuer.ID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	res, err := s.db.ExecContext(ctx, `
		UPDATE certificates SET
			common_name = ?, subject_dn = ?, role = ?, key_bits = ?, valid_days = ?,
			status = ?, updated_at = ?, private_key_pem = ?, certificate_pem = ?,
			serial_number = ?, not_before = ?, not_after = ?, revoked_at = ?,
			issuer_kind = ?, issuer_id = ?
		WHERE id = ?`,
		c.CommonName, c.SubjectDN, c.Role, c.KeyBits, c.ValidDays,
		c.Status, c.UpdatedAt.UTC(), c.PrivateKeyPEM, c.CertificatePEM,
		c.SerialNumber, c.NotBefore.UTC(), c.NotAfter.UTC(), revokedAt,
		c.Issuer.Kind, c.Issuer.ID, c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating certificate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("certificate %s: %w", c.ID, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) CreateRevocation(ctx context.Context, r *storage.RevocationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revocations (id, serial_number, revoked_at, reason, issuer_kind, issuer_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SerialNumber, r.RevokedAt.UTC(), r.Reason, r.Issuer.Kind, r.Issuer.ID, r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating revocation record: %w", err)
	}
	return nil
}

func (s *Store) ListRevocations(ctx context.Context, issuer storage.IssuerRef) ([]*storage.RevocationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, serial_number, revoked_at, reason, issuer_kind, issuer_id, created_at
		FROM revocations WHERE issuer_kind = ? AND issuer_id = ?
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
