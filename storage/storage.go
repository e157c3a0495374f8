// Package storage defines the record store used by the issuance engine. A
// Store holds three record kinds (authorities, certificates, revocation
// records) and enforces the two uniqueness constraints the engine relies on:
// authority names are unique, and serial numbers are unique per issuer.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateName is returned when creating an authority whose name is
	// already taken.
	ErrDuplicateName = errors.New("authority name already exists")

	// ErrDuplicateSerial is returned when creating a certificate whose serial
	// number collides with another certificate under the same issuer.
	ErrDuplicateSerial = errors.New("serial number already exists for issuer")
)

// Store is the record store contract. Each method is a single atomic
// operation against the backing store; DeleteAuthority cascades to every
// certificate whose issuer chain resolves to the deleted authority and to
// the authority's revocation records.
type Store interface {
	CreateAuthority(ctx context.Context, a *Authority) error
	GetAuthority(ctx context.Context, id string) (*Authority, error)
	ListAuthorities(ctx context.Context) ([]*Authority, error)
	UpdateAuthority(ctx context.Context, a *Authority) error
	DeleteAuthority(ctx context.Context, id string) error
	// NextCRLNumber increments the authority's CRL number and returns the
	// new value. The increment is atomic: concurrent callers never observe
	// the same number.
	NextCRLNumber(ctx context.Context, id string) (int64, error)

	CreateCertificate(ctx context.Context, c *Certificate) error
	GetCertificate(ctx context.Context, id string) (*Certificate, error)
	// ListCertificates returns all certificates, or only those issued by
	// issuer when it is non-nil.
	ListCertificates(ctx context.Context, issuer *IssuerRef) ([]*Certificate, error)
	UpdateCertificate(ctx context.Context, c *Certificate) error

	CreateRevocation(ctx context.Context, r *RevocationRecord) error
	ListRevocations(ctx context.Context, issuer IssuerRef) ([]*RevocationRecord, error)
}
