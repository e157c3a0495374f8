package pki

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/jsenecal/FastPKI/storage"
)

// ocspValidity is how long a generated OCSP response advertises itself as
// fresh.
const ocspValidity = 24 * time.Hour

// ocspReasonCodes maps ledger reason strings onto RFC 5280 CRLReason codes.
// Free-form reasons fall back to unspecified.
var ocspReasonCodes = map[string]int{
	"unspecified":          ocsp.Unspecified,
	"keyCompromise":        ocsp.KeyCompromise,
	"cACompromise":         ocsp.CACompromise,
	"affiliationChanged":   ocsp.AffiliationChanged,
	"superseded":           ocsp.Superseded,
	"cessationOfOperation": ocsp.CessationOfOperation,
	"certificateHold":      ocsp.CertificateHold,
}

// OCSPResponse builds a signed OCSP response for one serial under an
// authority. The authority acts as its own responder. A serial the
// authority never issued yields an "unknown" response rather than an error.
func (e *Engine) OCSPResponse(ctx context.Context, authorityID, serial string) ([]byte, error) {
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

	issuer := storage.AuthorityRef(a.ID)
	certs, err := e.store.ListCertificates(ctx, &issuer)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	template := ocsp.Response{
		Status:     ocsp.Unknown,
		ThisUpdate: now,
		NextUpdate: now.Add(ocspValidity),
	}
	for _, c := range certs {
		if c.SerialNumber != serial {
			continue
		}
		parsed, err := ParseCertificatePEM(c.CertificatePEM)
		if err != nil {
			return nil, err
		}
		template.SerialNumber = parsed.SerialNumber
		if c.Status == storage.StatusRevoked && c.RevokedAt != nil {
			template.Status = ocsp.Revoked
			template.RevokedAt = *c.RevokedAt
			template.RevocationReason = e.revocationReason(ctx, issuer, serial)
		} else {
			template.Status = ocsp.Good
		}
		break
	}
	if template.SerialNumber == nil {
		// Unknown serial: respond anyway so clients get a definitive
		// "unknown" rather than a transport error.
		parsed, ok := new(big.Int).SetString(serial, 16)
		if !ok {
			return nil, fmt.Errorf("%w: malformed serial %q", ErrSigning, serial)
		}
		template.SerialNumber = parsed
	}

	der, err := ocsp.CreateResponse(issuerCert, issuerCert, template, signer)
	if err != nil {
		return nil, fmt.Errorf("%w: creating OCSP response: %v", ErrSigning, err)
	}
	return der, nil
}

// revocationReason looks up the earliest ledger reason for a serial.
func (e *Engine) revocationReason(ctx context.Context, issuer storage.IssuerRef, serial string) int {
	records, err := e.store.ListRevocations(ctx, issuer)
	if err != nil {
		return ocsp.Unspecified
	}
	for _, rec := range records {
		if rec.SerialNumber == serial {
			if code, ok := ocspReasonCodes[rec.Reason]; ok {
				return code
			}
			return ocsp.Unspecified
		}
	}
	return ocsp.Unspecified
}
