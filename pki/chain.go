package pki

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jsenecal/FastPKI/storage"
)

// MaxChainDepth caps issuer-chain traversal. Legitimate hierarchies are a
// handful of links deep; hitting the cap means the issuer graph has a cycle.
const MaxChainDepth = 32

// ChainLink is one element of a resolved chain, leaf first.
type ChainLink struct {
	// Kind is the record kind the link was loaded from.
	Kind storage.RefKind
	// ID is the record's identifier.
	ID string
	// SubjectDN is the link's subject as stored.
	SubjectDN string
	// CertificatePEM is the link's certificate.
	CertificatePEM string
}

// ResolveChain walks the issuer chain starting from a certificate or
// authority ID, leaf first, ending at the self-signed root. An authority ID
// resolves to a single-link chain. A dangling issuer reference mid-walk
// terminates the chain at the last resolvable link rather than failing.
func (e *Engine) ResolveChain(ctx context.Context, id string) ([]ChainLink, error) {
	cert, err := e.store.GetCertificate(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		a, aerr := e.store.GetAuthority(ctx, id)
		if aerr != nil {
			return nil, aerr
		}
		return []ChainLink{authorityLink(a)}, nil
	}

	chain := []ChainLink{certificateLink(cert)}
	next := cert.Issuer
	for !next.IsZero() {
		if len(chain) >= MaxChainDepth {
			return nil, fmt.Errorf("%w: %d links starting at %s", ErrChainTooLong, len(chain), id)
		}
		switch next.Kind {
		case storage.RefAuthority:
			a, err := e.store.GetAuthority(ctx, next.ID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return chain, nil
				}
				return nil, err
			}
			return append(chain, authorityLink(a)), nil
		case storage.RefCertificate:
			c, err := e.store.GetCertificate(ctx, next.ID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return chain, nil
				}
				return nil, err
			}
			chain = append(chain, certificateLink(c))
			next = c.Issuer
		default:
			return chain, nil
		}
	}
	return chain, nil
}

// ExportChain renders a resolved chain as concatenated PEM, leaf first.
func (e *Engine) ExportChain(ctx context.Context, id string) (string, error) {
	chain, err := e.ResolveChain(ctx, id)
	if err != nil {
		return "", err
	}
	pems := make([]string, len(chain))
	for i, link := range chain {
		pems[i] = strings.TrimRight(link.CertificatePEM, "\n")
	}
	return strings.Join(pems, "\n") + "\n", nil
}

func certificateLink(c *storage.Certificate) ChainLink {
	return ChainLink{
		Kind:           storage.RefCertificate,
		ID:             c.ID,
		SubjectDN:      c.SubjectDN,
		CertificatePEM: c.CertificatePEM,
	}
}

func authorityLink(a *storage.Authority) ChainLink {
	return ChainLink{
		Kind:           storage.RefAuthority,
		ID:             a.ID,
		SubjectDN:      a.SubjectDN,
		CertificatePEM: a.CertificatePEM,
	}
}
