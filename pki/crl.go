package pki

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/jsenecal/FastPKI/storage"
)

// crlValidity is how long a generated CRL advertises itself as fresh.
const crlValidity = 7 * 24 * time.Hour

// GenerateCRL builds and signs a CRL over the authority's revocation ledger.
// Each call bumps the authority's monotonically increasing CRL number. The
// ledger may hold repeated records for one serial; the CRL carries each
// serial once, with its earliest revocation time.
func (e *Engine) GenerateCRL(ctx context.Context, authorityID string) ([]byte, error) {
	a, err := e.store.GetAuthority(ctx, authorityID)
	if err != nil {
		return nil, err
	}
	issuerCert, err := ParseCertificatePEM(a.CertificatePEM)
	if err != nil {
		return nil, err
	}
	signer, err := ParsePrivateKeyPEM(a.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}

	records, err := e.store.ListRevocations(ctx, storage.AuthorityRef(a.ID))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(records))
	var entries []x509.RevocationListEntry
	for _, rec := range records {
		if seen[rec.SerialNumber] {
			continue
		}
		seen[rec.SerialNumber] = true
		serial, ok := new(big.Int).SetString(rec.SerialNumber, 16)
		if !ok {
			return nil, fmt.Errorf("%w: revocation record %s has malformed serial %q", ErrSigning, rec.ID, rec.SerialNumber)
		}
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   serial,
			RevocationTime: rec.RevokedAt,
		})
	}

	// Reserve the number atomically in the store; a failed signing burns a
	// number, which keeps the sequence monotonic under concurrent calls.
	number, err := e.store.NextCRLNumber(ctx, a.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	template := &x509.RevocationList{
		Number:                    big.NewInt(number),
		ThisUpdate:                now,
		NextUpdate:                now.Add(crlValidity),
		RevokedCertificateEntries: entries,
		SignatureAlgorithm:        e.cfg.SignatureAlgorithm,
	}
	der, err := x509.CreateRevocationList(rand.Reader, template, issuerCert, signer)
	if err != nil {
		return nil, fmt.Errorf("%w: creating CRL: %v", ErrSigning, err)
	}
	e.logger.Info("crl generated", "authority", a.ID, "number", number, "entries", len(entries))

	return pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: der}), nil
}
