package memory

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jsenecal/FastPKI/storage"
)

func newAuthority(id, name string) *storage.Authority {
	now := time.Now().UTC()
	return &storage.Authority{
		ID:        id,
		Name:      name,
		SubjectDN: "CN=" + name,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newCertificate(id, serial string, issuer storage.IssuerRef) *storage.Certificate {
	now := time.Now().UTC()
	return &storage.Certificate{
		ID:           id,
		CommonName:   id,
		SubjectDN:    "CN=" + id,
		Role:         storage.RoleServer,
		Status:       storage.StatusValid,
		SerialNumber: serial,
		Issuer:       issuer,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestMemoryStore_Authorities(t *testing.T) {
	ctx := t.Context()
	s := NewStore()

	t.Run("CreateAndGet", func(t *testing.T) {
		if err := s.CreateAuthority(ctx, newAuthority("ca-1", "root")); err != nil {
			t.Fatalf("CreateAuthority failed: %v", err)
		}
		got, err := s.GetAuthority(ctx, "ca-1")
		if err != nil {
			t.Fatalf("GetAuthority failed: %v", err)
		}
		if got.Name != "root" {
			t.Errorf("expected name root, got %q", got.Name)
		}

		// Test isolation (cloning)
		got.Name = "mutated"
		got2, _ := s.GetAuthority(ctx, "ca-1")
		if got2.Name == "mutated" {
			t.Error("store should return clones of records")
		}
	})

	t.Run("DuplicateName", func(t *testing.T) {
		err := s.CreateAuthority(ctx, newAuthority("ca-2", "root"))
		if !errors.Is(err, storage.ErrDuplicateName) {
			t.Errorf("expected ErrDuplicateName, got %v", err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := s.GetAuthority(ctx, "nonexistent")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		a, _ := s.GetAuthority(ctx, "ca-1")
		a.CRLNumber = 7
		if err := s.UpdateAuthority(ctx, a); err != nil {
			t.Fatalf("UpdateAuthority failed: %v", err)
		}
		got, _ := s.GetAuthority(ctx, "ca-1")
		if got.CRLNumber != 7 {
			t.Errorf("expected CRLNumber 7, got %d", got.CRLNumber)
		}

		err := s.UpdateAuthority(ctx, newAuthority("ghost", "ghost"))
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		out, err := s.ListAuthorities(ctx)
		if err != nil {
			t.Fatalf("ListAuthorities failed: %v", err)
		}
		if len(out) != 1 {
			t.Errorf("expected 1 authority, got %d", len(out))
		}
	})

	t.Run("NextCRLNumber", func(t *testing.T) {
		before, _ := s.GetAuthority(ctx, "ca-1")
		n, err := s.NextCRLNumber(ctx, "ca-1")
		if err != nil {
			t.Fatalf("NextCRLNumber failed: %v", err)
		}
		if n != before.CRLNumber+1 {
			t.Errorf("expected %d, got %d", before.CRLNumber+1, n)
		}
		after, _ := s.GetAuthority(ctx, "ca-1")
		if after.CRLNumber != n {
			t.Errorf("increment not persisted: %d vs %d", after.CRLNumber, n)
		}

		// Concurrent callers must each draw a distinct number.
		const workers = 16
		numbers := make(chan int64, workers)
		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, err := s.NextCRLNumber(ctx, "ca-1")
				if err != nil {
					t.Errorf("NextCRLNumber failed: %v", err)
				}
				numbers <- got
			}()
		}
		wg.Wait()
		close(numbers)
		seen := map[int64]bool{}
		for got := range numbers {
			if seen[got] {
				t.Errorf("duplicate crl number %d", got)
			}
			seen[got] = true
		}

		if _, err := s.NextCRLNumber(ctx, "ghost"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestMemoryStore_Certificates(t *testing.T) {
	ctx := t.Context()
	s := NewStore()
	issuer := storage.AuthorityRef("ca-1")
	otherIssuer := storage.AuthorityRef("ca-2")

	if err := s.CreateCertificate(ctx, newCertificate("c-1", "aa01", issuer)); err != nil {
		t.Fatalf("CreateCertificate failed: %v", err)
	}

	t.Run("DuplicateSerialSameIssuer", func(t *testing.T) {
		err := s.CreateCertificate(ctx, newCertificate("c-2", "aa01", issuer))
		if !errors.Is(err, storage.ErrDuplicateSerial) {
			t.Errorf("expected ErrDuplicateSerial, got %v", err)
		}
	})

	t.Run("SameSerialOtherIssuer", func(t *testing.T) {
		if err := s.CreateCertificate(ctx, newCertificate("c-3", "aa01", otherIssuer)); err != nil {
			t.Errorf("serial reuse under a different issuer should succeed, got %v", err)
		}
	})

	t.Run("ListFilter", func(t *testing.T) {
		all, err := s.ListCertificates(ctx, nil)
		if err != nil {
			t.Fatalf("ListCertificates failed: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("expected 2 certificates, got %d", len(all))
		}

		filtered, _ := s.ListCertificates(ctx, &issuer)
		if len(filtered) != 1 || filtered[0].ID != "c-1" {
			t.Errorf("expected only c-1 for issuer filter, got %v", filtered)
		}
	})

	t.Run("Update", func(t *testing.T) {
		c, _ := s.GetCertificate(ctx, "c-1")
		now := time.Now().UTC()
		c.Status = storage.StatusRevoked
		c.RevokedAt = &now
		if err := s.UpdateCertificate(ctx, c); err != nil {
			t.Fatalf("UpdateCertificate failed: %v", err)
		}
		got, _ := s.GetCertificate(ctx, "c-1")
		if got.Status != storage.StatusRevoked || got.RevokedAt == nil {
			t.Errorf("revocation state not persisted: %+v", got)
		}
	})
}

func TestMemoryStore_Revocations(t *testing.T) {
	ctx := t.Context()
	s := NewStore()
	issuer := storage.AuthorityRef("ca-1")

	for i, id := range []string{"r-1", "r-2"} {
		rec := &storage.RevocationRecord{
			ID:           id,
			SerialNumber: "aa01",
			Issuer:       issuer,
			RevokedAt:    time.Now().UTC().Add(time.Duration(i) * time.Second),
			CreatedAt:    time.Now().UTC(),
		}
		if err := s.CreateRevocation(ctx, rec); err != nil {
			t.Fatalf("CreateRevocation failed: %v", err)
		}
	}

	out, err := s.ListRevocations(ctx, issuer)
	if err != nil {
		t.Fatalf("ListRevocations failed: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("expected 2 records, got %d", len(out))
	}

	other, _ := s.ListRevocations(ctx, storage.AuthorityRef("ca-2"))
	if len(other) != 0 {
		t.Errorf("expected no records for other issuer, got %d", len(other))
	}
}

func TestMemoryStore_DeleteAuthorityCascades(t *testing.T) {
	ctx := t.Context()
	s := NewStore()

	s.CreateAuthority(ctx, newAuthority("ca-1", "root"))
	s.CreateAuthority(ctx, newAuthority("ca-2", "other"))

	// ca-1 → intermediate → leaf, plus an unrelated cert under ca-2.
	ica := newCertificate("ica", "01", storage.AuthorityRef("ca-1"))
	ica.Role = storage.RoleAuthority
	s.CreateCertificate(ctx, ica)
	s.CreateCertificate(ctx, newCertificate("leaf", "02", storage.CertificateRef("ica")))
	s.CreateCertificate(ctx, newCertificate("bystander", "03", storage.AuthorityRef("ca-2")))
	s.CreateRevocation(ctx, &storage.RevocationRecord{
		ID: "r-1", SerialNumber: "02", Issuer: storage.CertificateRef("ica"),
	})

	if err := s.DeleteAuthority(ctx, "ca-1"); err != nil {
		t.Fatalf("DeleteAuthority failed: %v", err)
	}

	for _, id := range []string{"ica", "leaf"} {
		if _, err := s.GetCertificate(ctx, id); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("certificate %s should be gone, got %v", id, err)
		}
	}
	if _, err := s.GetCertificate(ctx, "bystander"); err != nil {
		t.Errorf("unrelated certificate should survive, got %v", err)
	}
	if recs, _ := s.ListRevocations(ctx, storage.CertificateRef("ica")); len(recs) != 0 {
		t.Errorf("revocations under deleted issuers should be gone, got %d", len(recs))
	}

	if err := s.DeleteAuthority(ctx, "ca-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}
