// Package memory provides a thread-safe in-memory implementation of storage.Store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jsenecal/FastPKI/storage"
)

// Store is a thread-safe in-memory implementation of storage.Store.
// Suitable for testing, demos, and single-process use cases.
type Store struct {
	mu          sync.RWMutex
	authorities map[string]*storage.Authority
	certs       map[string]*storage.Certificate
	revocations []*storage.RevocationRecord
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a new empty in-memory Store.
func NewStore() *Store {
	return &Store{
		authorities: make(map[string]*storage.Authority),
		certs:       make(map[string]*storage.Certificate),
	}
}

func cloneAuthority(a *storage.Authority) *storage.Authority {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

func cloneCertificate(c *storage.Certificate) *storage.Certificate {
	if c == nil {
		return nil
	}
	cp := *c
	if c.RevokedAt != nil {
		t := *c.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp
}

func cloneRevocation(r *storage.RevocationRecord) *storage.RevocationRecord {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

func (s *Store) CreateAuthority(ctx context.Context, a *storage.Authority) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.authorities {
		if existing.Name == a.Name {
			return storage.ErrDuplicateName
		}
	}
	s.authorities[a.ID] = cloneAuthority(a)
	return nil
}

func (s *Store) GetAuthority(ctx context.Context, id string) (*storage.Authority, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.authorities[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneAuthority(a), nil
}

func (s *Store) ListAuthorities(ctx context.Context) ([]*storage.Authority, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*storage.Authority, 0, len(s.authorities))
	for _, a := range s.authorities {
		out = append(out, cloneAuthority(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateAuthority(ctx context.Context, a *storage.Authority) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.authorities[a.ID]; !ok {
		return storage.ErrNotFound
	}
	s.authorities[a.ID] = cloneAuthority(a)
	return nil
}

func (s *Store) NextCRLNumber(ctx context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.authorities[id]
	if !ok {
		return 0, storage.ErrNotFound
	}
	a.CRLNumber++
	a.UpdatedAt = time.Now().UTC()
	return a.CRLNumber, nil
}

// DeleteAuthority removes the authority, every certificate whose issuer
// chain resolves to it (following intermediates), and its revocation
// records, all under a single lock.
func (s *Store) DeleteAuthority(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.authorities[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.authorities, id)

	doomed := map[storage.IssuerRef]bool{storage.AuthorityRef(id): true}
	for {
		grew := false
		for certID, c := range s.certs {
			if doomed[c.Issuer] {
				delete(s.certs, certID)
				doomed[storage.CertificateRef(certID)] = true
				grew = true
			}
		}
		if !grew {
			break
		}
	}

	kept := s.revocations[:0]
	for _, r := range s.revocations {
		if !doomed[r.Issuer] {
			kept = append(kept, r)
		}
	}
	s.revocations = kept
	return nil
}

func (s *Store) CreateCertificate(ctx context.Context, c *storage.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.certs {
		if existing.Issuer == c.Issuer && existing.SerialNumber == c.SerialNumber {
			return storage.ErrDuplicateSerial
		}
	}
	s.certs[c.ID] = cloneCertificate(c)
	return nil
}

func (s *Store) GetCertificate(ctx context.Context, id string) (*storage.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.certs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneCertificate(c), nil
}

func (s *Store) ListCertificates(ctx context.Context, issuer *storage.IssuerRef) ([]*storage.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*storage.Certificate
	for _, c := range s.certs {
		if issuer != nil && c.Issuer != *issuer {
			continue
		}
		out = append(out, cloneCertificate(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateCertificate(ctx context.Context, c *storage.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.certs[c.ID]; !ok {
		return storage.ErrNotFound
	}
	s.certs[c.ID] = cloneCertificate(c)
	return nil
}

func (s *Store) CreateRevocation(ctx context.Context, r *storage.RevocationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revocations = append(s.revocations, cloneRevocation(r))
	return nil
}

func (s *Store) ListRevocations(ctx context.Context, issuer storage.IssuerRef) ([]*storage.RevocationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*storage.RevocationRecord
	for _, r := range s.revocations {
		if r.Issuer == issuer {
			out = append(out, cloneRevocation(r))
		}
	}
	return out, nil
}
