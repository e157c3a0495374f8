package pki

import "errors"

var (
	// ErrWeakKey is returned when a requested key strength is below the
	// minimum the engine will generate.
	ErrWeakKey = errors.New("key strength below safe minimum")

	// ErrMalformedName is returned when a distinguished-name string cannot
	// be parsed.
	ErrMalformedName = errors.New("malformed distinguished name")

	// ErrInvalidSubject is returned when a subject DN parses to an empty
	// name.
	ErrInvalidSubject = errors.New("subject name is empty")

	// ErrIssuerNotFound is returned when an issuer reference does not
	// resolve, or resolves to a certificate that was not issued with the
	// authority role.
	ErrIssuerNotFound = errors.New("issuer not found")

	// ErrChainTooLong is returned when chain resolution exceeds the maximum
	// traversal depth, which can only happen if a cyclic issuer graph was
	// constructed by a bug elsewhere.
	ErrChainTooLong = errors.New("issuer chain exceeds maximum depth")

	// ErrSigning wraps failures from the underlying cryptographic
	// primitives, including malformed key or certificate material on an
	// existing issuer. These are deterministic data-corruption failures and
	// are never retried.
	ErrSigning = errors.New("signing failed")
)
