package pki

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jsenecal/FastPKI/storage"
)

// RevokeCertificate marks a certificate revoked and appends a ledger record
// under its immediate issuer. Revoking an already-revoked certificate is not
// an error: the status write is a no-op but a fresh ledger record is still
// appended, so the ledger is an audit trail rather than a set.
func (e *Engine) RevokeCertificate(ctx context.Context, id, reason string) (*storage.Certificate, error) {
	c, err := e.store.GetCertificate(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if c.Status != storage.StatusRevoked {
		c.Status = storage.StatusRevoked
		c.RevokedAt = &now
		c.UpdatedAt = now
		if err := e.store.UpdateCertificate(ctx, c); err != nil {
			return nil, err
		}
	}

	rec := &storage.RevocationRecord{
		ID:           uuid.NewString(),
		SerialNumber: c.SerialNumber,
		RevokedAt:    now,
		Reason:       reason,
		Issuer:       c.Issuer,
		CreatedAt:    now,
	}
	if err := e.store.CreateRevocation(ctx, rec); err != nil {
		return nil, err
	}
	e.logger.Info("certificate revoked", "id", c.ID, "serial", c.SerialNumber, "reason", reason)
	return c, nil
}

// Revocations lists the revocation ledger for an immediate issuer, oldest
// first.
func (e *Engine) Revocations(ctx context.Context, issuer storage.IssuerRef) ([]*storage.RevocationRecord, error) {
	return e.store.ListRevocations(ctx, issuer)
}
