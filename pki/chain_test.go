package pki_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsenecal/FastPKI/pki"
	"github.com/jsenecal/FastPKI/storage"
	"github.com/jsenecal/FastPKI/storage/memory"
)

func TestResolveChain_ThreeLevels(t *testing.T) {
	e := newTestEngine(t)
	ctx := t.Context()
	root := newTestAuthority(t, e)

	ica, err := e.IssueCertificate(ctx, pki.IssueCertificateRequest{
		Issuer:            storage.AuthorityRef(root.ID),
		CommonName:        "Intermediate",
		SubjectDN:         "CN=Intermediate,O=Acme",
		Role:              storage.RoleAuthority,
		KeyBits:           2048,
		IncludePrivateKey: true,
	})
	require.NoError(t, err)

	leaf, err := e.IssueCertificate(ctx, pki.IssueCertificateRequest{
		Issuer:     storage.CertificateRef(ica.ID),
		CommonName: "leaf.example.com",
		SubjectDN:  "CN=leaf.example.com",
		Role:       storage.RoleServer,
		KeyBits:    2048,
	})
	require.NoError(t, err)

	chain, err := e.ResolveChain(ctx, leaf.ID)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, leaf.ID, chain[0].ID)
	assert.Equal(t, ica.ID, chain[1].ID)
	assert.Equal(t, root.ID, chain[2].ID)
	assert.Equal(t, storage.RefCertificate, chain[0].Kind)
	assert.Equal(t, storage.RefAuthority, chain[2].Kind)
}

func TestResolveChain_AuthorityOnly(t *testing.T) {
	e := newTestEngine(t)
	root := newTestAuthority(t, e)

	chain, err := e.ResolveChain(t.Context(), root.ID)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, root.ID, chain[0].ID)
	assert.Equal(t, storage.RefAuthority, chain[0].Kind)
}

func TestResolveChain_NotFound(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.ResolveChain(t.Context(), "no-such-id")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestResolveChain_DanglingIssuer(t *testing.T) {
	ctx := t.Context()
	store := memory.NewStore()
	e := pki.New(store)
	root := newTestAuthority(t, e)

	leaf, err := e.IssueCertificate(ctx, pki.IssueCertificateRequest{
		Issuer:     storage.AuthorityRef(root.ID),
		CommonName: "leaf",
		SubjectDN:  "CN=leaf",
		Role:       storage.RoleServer,
		KeyBits:    2048,
	})
	require.NoError(t, err)

	// Point the leaf at an issuer that no longer resolves; the walk stops at
	// the last good link instead of failing.
	leaf.Issuer = storage.AuthorityRef("vanished")
	require.NoError(t, store.UpdateCertificate(ctx, leaf))

	chain, err := e.ResolveChain(ctx, leaf.ID)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, leaf.ID, chain[0].ID)
}

func TestResolveChain_CycleCapped(t *testing.T) {
	ctx := t.Context()
	store := memory.NewStore()
	e := pki.New(store)
	root := newTestAuthority(t, e)

	a, err := e.IssueCertificate(ctx, pki.IssueCertificateRequest{
		Issuer:            storage.AuthorityRef(root.ID),
		CommonName:        "A",
		SubjectDN:         "CN=A",
		Role:              storage.RoleAuthority,
		KeyBits:           2048,
		IncludePrivateKey: true,
	})
	require.NoError(t, err)
	b, err := e.IssueCertificate(ctx, pki.IssueCertificateRequest{
		Issuer:            storage.CertificateRef(a.ID),
		CommonName:        "B",
		SubjectDN:         "CN=B",
		Role:              storage.RoleAuthority,
		KeyBits:           2048,
		IncludePrivateKey: true,
	})
	require.NoError(t, err)

	// Corrupt the graph into a cycle A → B → A.
	a.Issuer = storage.CertificateRef(b.ID)
	require.NoError(t, store.UpdateCertificate(ctx, a))

	_, err = e.ResolveChain(ctx, a.ID)
	assert.ErrorIs(t, err, pki.ErrChainTooLong)
}

func TestExportChain(t *testing.T) {
	e := newTestEngine(t)
	ctx := t.Context()
	root := newTestAuthority(t, e)

	leaf, err := e.IssueCertificate(ctx, pki.IssueCertificateRequest{
		Issuer:     storage.AuthorityRef(root.ID),
		CommonName: "leaf",
		SubjectDN:  "CN=leaf",
		Role:       storage.RoleServer,
		KeyBits:    2048,
	})
	require.NoError(t, err)

	bundle, err := e.ExportChain(ctx, leaf.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(bundle, "BEGIN CERTIFICATE"))
	// Leaf first.
	assert.Less(t,
		strings.Index(bundle, strings.TrimSpace(leaf.CertificatePEM)),
		strings.Index(bundle, strings.TrimSpace(root.CertificatePEM)))
	assert.True(t, strings.HasSuffix(bundle, "-----END CERTIFICATE-----\n"))
}
