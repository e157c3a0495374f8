package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// MinKeyBits is the smallest RSA modulus the engine will generate. Requests
// below this fail with ErrWeakKey.
const MinKeyBits = 2048

// KeyPair holds a freshly generated RSA key and its PKCS#8 PEM serialization.
// The PEM is unencrypted; callers needing encryption at rest wrap the store.
type KeyPair struct {
	PrivateKey    *rsa.PrivateKey
	PrivateKeyPEM []byte
}

// GenerateKeyPair creates an RSA key pair of the given strength. Key
// generation is CPU-bound and dominates issuance cost; callers may run
// independent issuance requests concurrently.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	if bits < MinKeyBits {
		return nil, fmt.Errorf("%w: %d bits (minimum %d)", ErrWeakKey, bits, MinKeyBits)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshaling private key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return &KeyPair{PrivateKey: priv, PrivateKeyPEM: pemBytes}, nil
}

// ParsePrivateKeyPEM parses a stored private key. Both PKCS#8 and PKCS#1
// containers are accepted. Malformed key material on an existing record is a
// data-corruption case and surfaces as ErrSigning.
func ParsePrivateKeyPEM(pemData string) (crypto.Signer, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block in private key", ErrSigning)
	}
	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing PKCS#8 key: %v", ErrSigning, err)
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("%w: key type %T cannot sign", ErrSigning, key)
		}
		return signer, nil
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing PKCS#1 key: %v", ErrSigning, err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrSigning, block.Type)
	}
}

// ParseCertificatePEM decodes a stored certificate PEM block.
func ParseCertificatePEM(pemData string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("%w: no certificate PEM block", ErrSigning)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing certificate: %v", ErrSigning, err)
	}
	return cert, nil
}

func encodeCertPEM(derBytes []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes}))
}
