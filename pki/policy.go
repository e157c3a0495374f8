package pki

import (
	"crypto/x509"
	"fmt"

	"github.com/jsenecal/FastPKI/storage"
)

// ExtensionProfile is the set of X.509v3 extensions a certificate role must
// carry. basicConstraints and keyUsage are always marked critical by the Go
// x509 encoder for CA certificates; extendedKeyUsage and the key-identifier
// extensions are non-critical.
type ExtensionProfile struct {
	// CA is the basicConstraints CA flag.
	CA bool
	// KeyUsage is the keyUsage bit set.
	KeyUsage x509.KeyUsage
	// ExtKeyUsage is the extendedKeyUsage list, empty for authorities.
	ExtKeyUsage []x509.ExtKeyUsage
	// AuthorityKeyID indicates whether the certificate carries an
	// authorityKeyIdentifier copied from its issuer's subjectKeyIdentifier.
	// Only self-signed roots omit it.
	AuthorityKeyID bool
}

type profileKey struct {
	role       storage.CertificateRole
	selfSigned bool
}

// extensionProfiles is the single source of truth for the role → extension
// mapping. Issuance code must consume this table rather than assembling
// extensions inline.
var extensionProfiles = map[profileKey]ExtensionProfile{
	{storage.RoleAuthority, true}: {
		CA:       true,
		KeyUsage: x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	},
	{storage.RoleAuthority, false}: {
		CA:             true,
		KeyUsage:       x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		AuthorityKeyID: true,
	},
	{storage.RoleServer, false}: {
		KeyUsage:       x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:    []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		AuthorityKeyID: true,
	},
	{storage.RoleClient, false}: {
		KeyUsage:       x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:    []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		AuthorityKeyID: true,
	},
}

// ProfileFor returns the extension profile for a role. selfSigned is only
// meaningful for the authority role; server and client certificates are
// never self-signed.
func ProfileFor(role storage.CertificateRole, selfSigned bool) (ExtensionProfile, error) {
	p, ok := extensionProfiles[profileKey{role, selfSigned}]
	if !ok {
		return ExtensionProfile{}, fmt.Errorf("no extension profile for role %q (self-signed=%t)", role, selfSigned)
	}
	return p, nil
}
