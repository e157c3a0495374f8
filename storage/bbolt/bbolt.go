// Package bbolt provides a BBolt-backed implementation of storage.Store.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jsenecal/FastPKI/storage"
)

var (
	authorityBucket  = []byte("authorities")
	certBucket       = []byte("certificates")
	revocationBucket = []byte("revocations")
)

// Store implements storage.Store backed by a BBolt database. Uniqueness
// checks and cascading deletes run inside a single update transaction, so
// concurrent writers cannot observe intermediate state.
type Store struct {
	db *bbolt.DB
}

var _ storage.Store = (*Store)(nil)

// NewStore returns a Store backed by the given BBolt database.
func NewStore(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{authorityBucket, certBucket, revocationBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreFromFile opens a BBolt database at the given path and returns a new Store.
func NewStoreFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewStore(db)
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func put(b *bbolt.Bucket, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(id), data)
}

func (s *Store) CreateAuthority(ctx context.Context, a *storage.Authority) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(authorityBucket)
		err := b.ForEach(func(_, data []byte) error {
			var existing storage.Authority
			if err := json.Unmarshal(data, &existing); err != nil {
				return err
			}
			if existing.Name == a.Name {
				return storage.ErrDuplicateName
			}
			return nil
		})
		if err != nil {
			return err
		}
		return put(b, a.ID, a)
	})
}

func (s *Store) GetAuthority(ctx context.Context, id string) (*storage.Authority, error) {
	var a storage.Authority
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(authorityBucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("authority %s: %w", id, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListAuthorities(ctx context.Context) ([]*storage.Authority, error) {
	var out []*storage.Authority
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(authorityBucket).ForEach(func(_, data []byte) error {
			var a storage.Authority
			if err := json.Unmarshal(data, &a); err != nil {
				return err
			}
			out = append(out, &a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateAuthority(ctx context.Context, a *storage.Authority) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(authorityBucket)
		if b.Get([]byte(a.ID)) == nil {
			return fmt.Errorf("authority %s: %w", a.ID, storage.ErrNotFound)
		}
		return put(b, a.ID, a)
	})
}

// NextCRLNumber runs the read-increment-write inside one update transaction,
// so concurrent callers are serialized by the single-writer lock.
func (s *Store) NextCRLNumber(ctx context.Context, id string) (int64, error) {
	var n int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(authorityBucket)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("authority %s: %w", id, storage.ErrNotFound)
		}
		var a storage.Authority
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		a.CRLNumber++
		a.UpdatedAt = time.Now().UTC()
		n = a.CRLNumber
		return put(b, id, &a)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) DeleteAuthority(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		ab := tx.Bucket(authorityBucket)
		if ab.Get([]byte(id)) == nil {
			return fmt.Errorf("authority %s: %w", id, storage.ErrNotFound)
		}
		if err := ab.Delete([]byte(id)); err != nil {
			return err
		}

		cb := tx.Bucket(certBucket)
		certs := map[string]*storage.Certificate{}
		err := cb.ForEach(func(_, data []byte) error {
			var c storage.Certificate
			if err := json.Unmarshal(data, &c); err != nil {
				return err
			}
			certs[c.ID] = &c
			return nil
		})
		if err != nil {
			return err
		}

		// Follow intermediate issuers until no new certificate is doomed.
		doomed := map[storage.IssuerRef]bool{storage.AuthorityRef(id): true}
		for {
			grew := false
			for certID, c := range certs {
				if doomed[c.Issuer] {
					if err := cb.Delete([]byte(certID)); err != nil {
						return err
					}
					delete(certs, certID)
					doomed[storage.CertificateRef(certID)] = true
					grew = true
				}
			}
			if !grew {
				break
			}
		}

		rb := tx.Bucket(revocationBucket)
		var drop [][]byte
		err = rb.ForEach(func(k, data []byte) error {
			var r storage.RevocationRecord
			if err := json.Unmarshal(data, &r); err != nil {
				return err
			}
			if doomed[r.Issuer] {
				drop = append(drop, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range drop {
			if err := rb.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) CreateCertificate(ctx context.Context, c *storage.Certificate) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(certBucket)
		err := b.ForEach(func(_, data []byte) error {
			var existing storage.Certificate
			if err := json.Unmarshal(data, &existing); err != nil {
				return err
			}
			if existing.Issuer == c.Issuer && existing.SerialNumber == c.SerialNumber {
				return storage.ErrDuplicateSerial
			}
			return nil
		})
		if err != nil {
			return err
		}
		return put(b, c.ID, c)
	})
}

func (s *Store) GetCertificate(ctx context.Context, id string) (*storage.Certificate, error) {
	var c storage.Certificate
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(certBucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("certificate %s: %w", id, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCertificates(ctx context.Context, issuer *storage.IssuerRef) ([]*storage.Certificate, error) {
	var out []*storage.Certificate
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(certBucket).ForEach(func(_, data []byte) error {
			var c storage.Certificate
			if err := json.Unmarshal(data, &c); err != nil {
				return err
			}
			if issuer != nil && c.Issuer != *issuer {
				return nil
			}
			out = append(out, &c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateCertificate(ctx context.Context, c *storage.Certificate) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(certBucket)
		if b.Get([]byte(c.ID)) == nil {
			return fmt.Errorf("certificate %s: %w", c.ID, storage.ErrNotFound)
		}
		return put(b, c.ID, c)
	})
}

func (s *Store) CreateRevocation(ctx context.Context, r *storage.RevocationRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(revocationBucket), r.ID, r)
	})
}

func (s *Store) ListRevocations(ctx context.Context, issuer storage.IssuerRef) ([]*storage.RevocationRecord, error) {
	var out []*storage.RevocationRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(revocationBucket).ForEach(func(_, data []byte) error {
			var r storage.RevocationRecord
			if err := json.Unmarshal(data, &r); err != nil {
				return err
			}
			if r.Issuer == issuer {
				out = append(out, &r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
