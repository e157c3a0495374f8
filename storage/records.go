package storage

import "time"

// RefKind discriminates the two record kinds an issuer reference can point
// to. An issuer is either a root authority or another certificate that was
// issued with the authority role (an intermediate).
type RefKind string

const (
	RefAuthority   RefKind = "authority"
	RefCertificate RefKind = "certificate"
)

// IssuerRef is a tagged reference to a certificate's issuer. The zero value
// means "no issuer" (only valid on self-signed authority certificates).
type IssuerRef struct {
	Kind RefKind `json:"kind"`
	ID   string  `json:"id"`
}

// IsZero reports whether the reference is unset.
func (r IssuerRef) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

func (r IssuerRef) String() string {
	return string(r.Kind) + "/" + r.ID
}

// AuthorityRef returns a reference to the authority with the given ID.
func AuthorityRef(id string) IssuerRef {
	return IssuerRef{Kind: RefAuthority, ID: id}
}

// CertificateRef returns a reference to the certificate with the given ID.
func CertificateRef(id string) IssuerRef {
	return IssuerRef{Kind: RefCertificate, ID: id}
}

// CertificateStatus is the lifecycle state of an issued certificate.
type CertificateStatus string

const (
	StatusValid   CertificateStatus = "valid"
	StatusRevoked CertificateStatus = "revoked"
	StatusExpired CertificateStatus = "expired"
)

// CertificateRole determines the extension profile a certificate is issued
// with. Certificates with RoleAuthority may themselves act as issuers.
type CertificateRole string

const (
	RoleAuthority CertificateRole = "authority"
	RoleServer    CertificateRole = "server"
	RoleClient    CertificateRole = "client"
)

// Authority is a self-signed trust anchor. Its certificate's issuer name
// equals its subject name and it carries no issuer reference.
type Authority struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	SubjectDN   string    `json:"subject_dn"`
	KeyBits     int       `json:"key_bits"`
	ValidDays   int       `json:"valid_days"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	PrivateKeyPEM  string `json:"private_key_pem"`
	CertificatePEM string `json:"certificate_pem"`

	// CRLNumber is the monotonic counter for CRLs signed by this authority.
	CRLNumber int64 `json:"crl_number"`
}

// Certificate is a leaf or intermediate certificate issued by an Authority
// or by another certificate holding RoleAuthority.
type Certificate struct {
	ID         string            `json:"id"`
	CommonName string            `json:"common_name"`
	SubjectDN  string            `json:"subject_dn"`
	Role       CertificateRole   `json:"role"`
	KeyBits    int               `json:"key_bits"`
	ValidDays  int               `json:"valid_days"`
	Status     CertificateStatus `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`

	// PrivateKeyPEM is empty when the caller asked for a key-less
	// certificate (CSR-style flow).
	PrivateKeyPEM  string `json:"private_key_pem,omitempty"`
	CertificatePEM string `json:"certificate_pem"`

	SerialNumber string     `json:"serial_number"`
	NotBefore    time.Time  `json:"not_before"`
	NotAfter     time.Time  `json:"not_after"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`

	Issuer IssuerRef `json:"issuer"`
}

// RevocationRecord is one entry in an issuer's revocation ledger. Records
// are immutable once written and are only removed when their owning
// authority is deleted.
type RevocationRecord struct {
	ID           string    `json:"id"`
	SerialNumber string    `json:"serial_number"`
	RevokedAt    time.Time `json:"revoked_at"`
	Reason       string    `json:"reason,omitempty"`
	Issuer       IssuerRef `json:"issuer"`
	CreatedAt    time.Time `json:"created_at"`
}
