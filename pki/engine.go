// Package pki implements the certificate issuance and chain-of-trust engine.
// It creates self-signed root authorities, issues subordinate certificates
// (including intermediate authorities), tracks revocation state, and
// resolves issuer chains for export. All state lives in a storage.Store;
// the engine itself is stateless and safe for concurrent use.
package pki

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/jsenecal/FastPKI/storage"
)

// Config carries the process-wide issuance defaults. Values are threaded in
// explicitly at construction; there is no ambient global state.
type Config struct {
	AuthorityKeyBits     int
	AuthorityValidDays   int
	CertificateKeyBits   int
	CertificateValidDays int
	SignatureAlgorithm   x509.SignatureAlgorithm
}

// DefaultConfig returns the stock defaults: 4096-bit authorities valid ten
// years, 2048-bit certificates valid one year, SHA-256 signatures.
func DefaultConfig() Config {
	return Config{
		AuthorityKeyBits:     4096,
		AuthorityValidDays:   3650,
		CertificateKeyBits:   2048,
		CertificateValidDays: 365,
		SignatureAlgorithm:   x509.SHA256WithRSA,
	}
}

// Engine orchestrates key generation, name parsing, extension policy, and
// signing on top of a record store.
type Engine struct {
	store  storage.Store
	cfg    Config
	logger *slog.Logger
	rand   io.Reader
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig overrides the default issuance configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the structured logger for issuance events. If not set, a
// discard-equivalent default logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an Engine over the given store.
func New(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		cfg:   DefaultConfig(),
		rand:  rand.Reader,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	return e
}

// Config returns the engine's issuance configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// IssueAuthorityRequest holds the parameters for creating a root authority.
// KeyBits and ValidDays fall back to the configured defaults when zero.
type IssueAuthorityRequest struct {
	Name        string
	SubjectDN   string
	Description string
	KeyBits     int
	ValidDays   int
}

// IssueAuthority creates a self-signed trust anchor and persists it.
func (e *Engine) IssueAuthority(ctx context.Context, req IssueAuthorityRequest) (*storage.Authority, error) {
	keyBits := req.KeyBits
	if keyBits == 0 {
		keyBits = e.cfg.AuthorityKeyBits
	}
	validDays := req.ValidDays
	if validDays == 0 {
		validDays = e.cfg.AuthorityValidDays
	}

	dn, err := ParseDN(req.SubjectDN)
	if err != nil {
		return nil, err
	}
	if dn.Empty() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSubject, req.SubjectDN)
	}

	kp, err := GenerateKeyPair(keyBits)
	if err != nil {
		return nil, err
	}

	serial, err := e.randomSerial()
	if err != nil {
		return nil, err
	}
	ski, err := subjectKeyID(kp.PrivateKey.Public())
	if err != nil {
		return nil, fmt.Errorf("%w: computing subject key identifier: %v", ErrSigning, err)
	}

	profile, err := ProfileFor(storage.RoleAuthority, true)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               dn.Name(),
		NotBefore:             now,
		NotAfter:              now.AddDate(0, 0, validDays),
		KeyUsage:              profile.KeyUsage,
		BasicConstraintsValid: true,
		IsCA:                  profile.CA,
		SubjectKeyId:          ski,
		SignatureAlgorithm:    e.cfg.SignatureAlgorithm,
	}

	derBytes, err := x509.CreateCertificate(e.rand, template, template, kp.PrivateKey.Public(), kp.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: creating authority certificate: %v", ErrSigning, err)
	}

	a := &storage.Authority{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Description:    req.Description,
		SubjectDN:      req.SubjectDN,
		KeyBits:        keyBits,
		ValidDays:      validDays,
		CreatedAt:      now,
		UpdatedAt:      now,
		PrivateKeyPEM:  string(kp.PrivateKeyPEM),
		CertificatePEM: encodeCertPEM(derBytes),
	}
	if err := e.store.CreateAuthority(ctx, a); err != nil {
		return nil, err
	}
	e.logger.Info("authority issued", "id", a.ID, "name", a.Name, "subject", a.SubjectDN)
	return a, nil
}

// IssueCertificateRequest holds the parameters for issuing a certificate
// under an existing authority or intermediate. KeyBits and ValidDays fall
// back to the configured defaults when zero.
type IssueCertificateRequest struct {
	Issuer     storage.IssuerRef
	CommonName string
	SubjectDN  string
	Role       storage.CertificateRole

	KeyBits   int
	ValidDays int

	// IncludePrivateKey controls whether the generated private key is
	// persisted with the record. A key pair is generated either way: the
	// public key must be bound into the certificate.
	IncludePrivateKey bool
}

// IssueCertificate issues a certificate signed by the referenced issuer.
func (e *Engine) IssueCertificate(ctx context.Context, req IssueCertificateRequest) (*storage.Certificate, error) {
	keyBits := req.KeyBits
	if keyBits == 0 {
		keyBits = e.cfg.CertificateKeyBits
	}
	validDays := req.ValidDays
	if validDays == 0 {
		validDays = e.cfg.CertificateValidDays
	}

	dn, err := ParseDN(req.SubjectDN)
	if err != nil {
		return nil, err
	}
	if dn.Empty() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSubject, req.SubjectDN)
	}

	issuer, err := e.resolveIssuer(ctx, req.Issuer)
	if err != nil {
		return nil, err
	}

	profile, err := ProfileFor(req.Role, false)
	if err != nil {
		return nil, err
	}

	kp, err := GenerateKeyPair(keyBits)
	if err != nil {
		return nil, err
	}
	serial, err := e.randomSerial()
	if err != nil {
		return nil, err
	}
	ski, err := subjectKeyID(kp.PrivateKey.Public())
	if err != nil {
		return nil, fmt.Errorf("%w: computing subject key identifier: %v", ErrSigning, err)
	}

	now := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               dn.Name(),
		NotBefore:             now,
		NotAfter:              now.AddDate(0, 0, validDays),
		KeyUsage:              profile.KeyUsage,
		ExtKeyUsage:           profile.ExtKeyUsage,
		BasicConstraintsValid: true,
		IsCA:                  profile.CA,
		SubjectKeyId:          ski,
		SignatureAlgorithm:    e.cfg.SignatureAlgorithm,
	}
	if profile.AuthorityKeyID {
		template.AuthorityKeyId = issuer.subjectKeyID()
	}

	derBytes, err := x509.CreateCertificate(e.rand, template, issuer.cert, kp.PrivateKey.Public(), issuer.signer)
	if err != nil {
		return nil, fmt.Errorf("%w: creating certificate: %v", ErrSigning, err)
	}

	c := &storage.Certificate{
		ID:             uuid.NewString(),
		CommonName:     req.CommonName,
		SubjectDN:      req.SubjectDN,
		Role:           req.Role,
		KeyBits:        keyBits,
		ValidDays:      validDays,
		Status:         storage.StatusValid,
		CreatedAt:      now,
		UpdatedAt:      now,
		CertificatePEM: encodeCertPEM(derBytes),
		SerialNumber:   fmt.Sprintf("%x", serial),
		NotBefore:      now,
		NotAfter:       template.NotAfter,
		Issuer:         req.Issuer,
	}
	if req.IncludePrivateKey {
		c.PrivateKeyPEM = string(kp.PrivateKeyPEM)
	}
	if err := e.store.CreateCertificate(ctx, c); err != nil {
		return nil, err
	}
	e.logger.Info("certificate issued",
		"id", c.ID, "common_name", c.CommonName, "role", c.Role, "issuer", c.Issuer.String())
	return c, nil
}

// Authority returns an authority by ID.
func (e *Engine) Authority(ctx context.Context, id string) (*storage.Authority, error) {
	return e.store.GetAuthority(ctx, id)
}

// Authorities lists all authorities.
func (e *Engine) Authorities(ctx context.Context) ([]*storage.Authority, error) {
	return e.store.ListAuthorities(ctx)
}

// DeleteAuthority removes an authority and cascades to every certificate
// whose issuer chain resolves to it, as a single atomic store operation.
func (e *Engine) DeleteAuthority(ctx context.Context, id string) error {
	if err := e.store.DeleteAuthority(ctx, id); err != nil {
		return err
	}
	e.logger.Info("authority deleted", "id", id)
	return nil
}

// Certificate returns a certificate by ID. A certificate whose validity
// window has passed reads back with status "expired"; the transition is
// computed lazily and not written back.
func (e *Engine) Certificate(ctx context.Context, id string) (*storage.Certificate, error) {
	c, err := e.store.GetCertificate(ctx, id)
	if err != nil {
		return nil, err
	}
	deriveStatus(c, time.Now())
	return c, nil
}

// Certificates lists certificates, optionally filtered by issuer.
func (e *Engine) Certificates(ctx context.Context, issuer *storage.IssuerRef) ([]*storage.Certificate, error) {
	certs, err := e.store.ListCertificates(ctx, issuer)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for _, c := range certs {
		deriveStatus(c, now)
	}
	return certs, nil
}

// deriveStatus applies the lazy valid → expired transition. Revoked
// certificates stay revoked regardless of expiry.
func deriveStatus(c *storage.Certificate, now time.Time) {
	if c.Status == storage.StatusValid && now.After(c.NotAfter) {
		c.Status = storage.StatusExpired
	}
}

// issuerMaterial is a resolved issuer: its parsed certificate and a signer
// over its private key.
type issuerMaterial struct {
	cert   *x509.Certificate
	signer crypto.Signer
}

// subjectKeyID returns the issuer's SKI, computing it from the issuer's
// public key when the stored certificate predates the extension.
func (m issuerMaterial) subjectKeyID() []byte {
	if len(m.cert.SubjectKeyId) > 0 {
		return m.cert.SubjectKeyId
	}
	ski, err := subjectKeyID(m.cert.PublicKey)
	if err != nil {
		return nil
	}
	return ski
}

// resolveIssuer loads signing material for an issuer reference. The
// reference must point at an Authority or at a certificate issued with the
// authority role; anything else fails with ErrIssuerNotFound.
func (e *Engine) resolveIssuer(ctx context.Context, ref storage.IssuerRef) (*issuerMaterial, error) {
	if ref.IsZero() {
		return nil, fmt.Errorf("%w: empty issuer reference", ErrIssuerNotFound)
	}

	var certPEM, keyPEM string
	switch ref.Kind {
	case storage.RefAuthority:
		a, err := e.store.GetAuthority(ctx, ref.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrIssuerNotFound, ref)
			}
			return nil, err
		}
		certPEM, keyPEM = a.CertificatePEM, a.PrivateKeyPEM
	case storage.RefCertificate:
		c, err := e.store.GetCertificate(ctx, ref.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrIssuerNotFound, ref)
			}
			return nil, err
		}
		if c.Role != storage.RoleAuthority {
			return nil, fmt.Errorf("%w: certificate %s has role %q, not an authority", ErrIssuerNotFound, ref.ID, c.Role)
		}
		if c.PrivateKeyPEM == "" {
			return nil, fmt.Errorf("%w: issuer %s has no private key", ErrSigning, ref)
		}
		certPEM, keyPEM = c.CertificatePEM, c.PrivateKeyPEM
	default:
		return nil, fmt.Errorf("%w: unknown issuer kind %q", ErrIssuerNotFound, ref.Kind)
	}

	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}
	signer, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}
	return &issuerMaterial{cert: cert, signer: signer}, nil
}

// serialNumberLimit bounds random serials to the full 128-bit space.
var serialNumberLimit = new(big.Int).Lsh(big.NewInt(1), 128)

// randomSerial draws a serial uniformly from the full serial-number space.
// Uniqueness per issuer is enforced by the store, not here.
func (e *Engine) randomSerial() (*big.Int, error) {
	serial, err := rand.Int(e.rand, serialNumberLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: generating serial number: %v", ErrSigning, err)
	}
	return serial, nil
}

// pkixPublicKey mirrors the ASN.1 SubjectPublicKeyInfo structure so the key
// identifier can be computed over the subjectPublicKey BIT STRING alone
// (RFC 5280 §4.2.1.2 method 1).
type pkixPublicKey struct {
	Algo      pkix.AlgorithmIdentifier
	BitString asn1.BitString
}

func subjectKeyID(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	var spki pkixPublicKey
	if _, err := asn1.Unmarshal(der, &spki); err != nil {
		return nil, err
	}
	sum := sha1.Sum(spki.BitString.Bytes)
	return sum[:], nil
}
