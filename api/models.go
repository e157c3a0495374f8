package api

import (
	"time"

	"github.com/jsenecal/FastPKI/storage"
)

// CreateCARequest is the JSON body for POST /cas.
type CreateCARequest struct {
	Name        string `json:"name"`
	SubjectDN   string `json:"subject_dn"`
	Description string `json:"description,omitempty"`
	KeyBits     int    `json:"key_bits,omitempty"`
	ValidDays   int    `json:"valid_days,omitempty"`
}

// CAResponse describes a certificate authority. The private key never
// appears here; it is only reachable through the export surface.
type CAResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	SubjectDN   string    `json:"subject_dn"`
	KeyBits     int       `json:"key_bits"`
	ValidDays   int       `json:"valid_days"`
	Certificate string    `json:"certificate"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListCAsResponse is returned from GET /cas.
type ListCAsResponse struct {
	CAs []CAResponse `json:"cas"`
}

// IssuerRefPayload names a signing entity: an authority or a certificate
// issued with the authority role.
type IssuerRefPayload struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// IssueCertificateRequest is the JSON body for POST /certificates.
type IssueCertificateRequest struct {
	Issuer            IssuerRefPayload `json:"issuer"`
	CommonName        string           `json:"common_name"`
	SubjectDN         string           `json:"subject_dn"`
	Role              string           `json:"role"`
	KeyBits           int              `json:"key_bits,omitempty"`
	ValidDays         int              `json:"valid_days,omitempty"`
	IncludePrivateKey bool             `json:"include_private_key,omitempty"`
}

// CertificateResponse describes an issued certificate.
type CertificateResponse struct {
	ID           string           `json:"id"`
	CommonName   string           `json:"common_name"`
	SubjectDN    string           `json:"subject_dn"`
	Role         string           `json:"role"`
	Status       string           `json:"status"`
	SerialNumber string           `json:"serial_number"`
	Issuer       IssuerRefPayload `json:"issuer"`
	KeyBits      int              `json:"key_bits"`
	ValidDays    int              `json:"valid_days"`
	Certificate  string           `json:"certificate"`
	NotBefore    time.Time        `json:"not_before"`
	NotAfter     time.Time        `json:"not_after"`
	RevokedAt    *time.Time       `json:"revoked_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// ListCertificatesResponse is returned from GET /certificates.
type ListCertificatesResponse struct {
	Certificates []CertificateResponse `json:"certificates"`
}

// RevokeCertificateRequest is the JSON body for POST /certificates/{certID}/revoke.
type RevokeCertificateRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RevocationResponse is one revocation ledger record.
type RevocationResponse struct {
	ID           string           `json:"id"`
	SerialNumber string           `json:"serial_number"`
	Reason       string           `json:"reason,omitempty"`
	Issuer       IssuerRefPayload `json:"issuer"`
	RevokedAt    time.Time        `json:"revoked_at"`
}

// ListRevocationsResponse is returned from GET /certificates/{certID}/revocations.
type ListRevocationsResponse struct {
	Revocations []RevocationResponse `json:"revocations"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}

func caToAPI(a *storage.Authority) CAResponse {
	return CAResponse{
		ID:          a.ID,
		Name:        a.Name,
		Description: a.Description,
		SubjectDN:   a.SubjectDN,
		KeyBits:     a.KeyBits,
		ValidDays:   a.ValidDays,
		Certificate: a.CertificatePEM,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func certToAPI(c *storage.Certificate) CertificateResponse {
	return CertificateResponse{
		ID:           c.ID,
		CommonName:   c.CommonName,
		SubjectDN:    c.SubjectDN,
		Role:         string(c.Role),
		Status:       string(c.Status),
		SerialNumber: c.SerialNumber,
		Issuer:       issuerToAPI(c.Issuer),
		KeyBits:      c.KeyBits,
		ValidDays:    c.ValidDays,
		Certificate:  c.CertificatePEM,
		NotBefore:    c.NotBefore,
		NotAfter:     c.NotAfter,
		RevokedAt:    c.RevokedAt,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func issuerToAPI(ref storage.IssuerRef) IssuerRefPayload {
	return IssuerRefPayload{Kind: string(ref.Kind), ID: ref.ID}
}

func issuerFromAPI(p IssuerRefPayload) storage.IssuerRef {
	return storage.IssuerRef{Kind: storage.RefKind(p.Kind), ID: p.ID}
}
