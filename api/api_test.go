package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsenecal/FastPKI/api"
	"github.com/jsenecal/FastPKI/pki"
	"github.com/jsenecal/FastPKI/storage/memory"
)

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	engine := pki.New(memory.NewStore())
	a := api.New(engine)
	r := chi.NewRouter()
	r.Mount("/api/v1", a.Router())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func createCA(t *testing.T, baseURL, name string) api.CAResponse {
	t.Helper()
	resp := doJSON(t, http.MethodPost, baseURL+"/api/v1/cas", api.CreateCARequest{
		Name:      name,
		SubjectDN: "CN=" + name + ",O=Acme,C=US",
		KeyBits:   2048,
		ValidDays: 30,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var ca api.CAResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ca))
	require.NotEmpty(t, ca.ID)
	return ca
}

func issueCert(t *testing.T, baseURL string, req api.IssueCertificateRequest) api.CertificateResponse {
	t.Helper()
	if req.KeyBits == 0 {
		req.KeyBits = 2048
	}
	resp := doJSON(t, http.MethodPost, baseURL+"/api/v1/certificates", req)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var cert api.CertificateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cert))
	return cert
}

func TestCreateAndListCAs(t *testing.T) {
	srv := setupServer(t)

	ca := createCA(t, srv.URL, "root")
	assert.Equal(t, "CN=root,O=Acme,C=US", ca.SubjectDN)
	assert.Contains(t, ca.Certificate, "BEGIN CERTIFICATE")

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/cas", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list api.ListCAsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.CAs, 1)
	assert.Equal(t, ca.ID, list.CAs[0].ID)
}

func TestCreateCA_DuplicateName(t *testing.T) {
	srv := setupServer(t)
	createCA(t, srv.URL, "root")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/cas", api.CreateCARequest{
		Name:      "root",
		SubjectDN: "CN=other",
		KeyBits:   2048,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCreateCA_InvalidSubject(t *testing.T) {
	srv := setupServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/cas", api.CreateCARequest{
		Name:      "bad",
		SubjectDN: "UID=unknown-only",
		KeyBits:   2048,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestCreateCA_WeakKey(t *testing.T) {
	srv := setupServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/cas", api.CreateCARequest{
		Name:      "weak",
		SubjectDN: "CN=weak",
		KeyBits:   1024,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestIssueAndGetCertificate(t *testing.T) {
	srv := setupServer(t)
	ca := createCA(t, srv.URL, "root")

	cert := issueCert(t, srv.URL, api.IssueCertificateRequest{
		Issuer:     api.IssuerRefPayload{Kind: "authority", ID: ca.ID},
		CommonName: "web.example.com",
		SubjectDN:  "CN=web.example.com",
		Role:       "server",
	})
	assert.Equal(t, "valid", cert.Status)
	assert.NotEmpty(t, cert.SerialNumber)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/certificates/"+cert.ID, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got api.CertificateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, cert.ID, got.ID)
	assert.Equal(t, "server", got.Role)
}

func TestIssueCertificate_BadRole(t *testing.T) {
	srv := setupServer(t)
	ca := createCA(t, srv.URL, "root")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/certificates", api.IssueCertificateRequest{
		Issuer:     api.IssuerRefPayload{Kind: "authority", ID: ca.ID},
		CommonName: "x",
		SubjectDN:  "CN=x",
		Role:       "toaster",
		KeyBits:    2048,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIssueCertificate_UnknownIssuer(t *testing.T) {
	srv := setupServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/certificates", api.IssueCertificateRequest{
		Issuer:     api.IssuerRefPayload{Kind: "authority", ID: "missing"},
		CommonName: "x",
		SubjectDN:  "CN=x",
		Role:       "server",
		KeyBits:    2048,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListCertificates_IssuerFilter(t *testing.T) {
	srv := setupServer(t)
	caA := createCA(t, srv.URL, "root-a")
	caB := createCA(t, srv.URL, "root-b")

	issueCert(t, srv.URL, api.IssueCertificateRequest{
		Issuer:     api.IssuerRefPayload{Kind: "authority", ID: caA.ID},
		CommonName: "a", SubjectDN: "CN=a", Role: "server",
	})
	issueCert(t, srv.URL, api.IssueCertificateRequest{
		Issuer:     api.IssuerRefPayload{Kind: "authority", ID: caB.ID},
		CommonName: "b", SubjectDN: "CN=b", Role: "server",
	})

	resp := doJSON(t, http.MethodGet,
		srv.URL+"/api/v1/certificates?issuer_kind=authority&issuer_id="+caA.ID, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list api.ListCertificatesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Certificates, 1)
	assert.Equal(t, "a", list.Certificates[0].CommonName)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/cas/"+caB.ID+"/certificates", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Certificates, 1)
	assert.Equal(t, "b", list.Certificates[0].CommonName)
}

func TestRevokeCertificate(t *testing.T) {
	srv := setupServer(t)
	ca := createCA(t, srv.URL, "root")
	cert := issueCert(t, srv.URL, api.IssueCertificateRequest{
		Issuer:     api.IssuerRefPayload{Kind: "authority", ID: ca.ID},
		CommonName: "doomed", SubjectDN: "CN=doomed", Role: "client",
	})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/certificates/"+cert.ID+"/revoke",
		api.RevokeCertificateRequest{Reason: "keyCompromise"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var revoked api.CertificateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&revoked))
	assert.Equal(t, "revoked", revoked.Status)
	require.NotNil(t, revoked.RevokedAt)

	// Second revocation succeeds and appends another ledger record.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/certificates/"+cert.ID+"/revoke",
		api.RevokeCertificateRequest{Reason: "keyCompromise"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/certificates/"+cert.ID+"/revocations", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ledger api.ListRevocationsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ledger))
	assert.Len(t, ledger.Revocations, 2)
}

func TestDeleteCA_Cascades(t *testing.T) {
	srv := setupServer(t)
	ca := createCA(t, srv.URL, "root")
	cert := issueCert(t, srv.URL, api.IssueCertificateRequest{
		Issuer:     api.IssuerRefPayload{Kind: "authority", ID: ca.ID},
		CommonName: "leaf", SubjectDN: "CN=leaf", Role: "server",
	})

	resp := doJSON(t, http.MethodDelete, srv.URL+"/api/v1/cas/"+ca.ID, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/cas/"+ca.ID, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/certificates/"+cert.ID, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExportEndpoints(t *testing.T) {
	srv := setupServer(t)
	ca := createCA(t, srv.URL, "root")
	withKey := issueCert(t, srv.URL, api.IssueCertificateRequest{
		Issuer:            api.IssuerRefPayload{Kind: "authority", ID: ca.ID},
		CommonName:        "with-key",
		SubjectDN:         "CN=with-key",
		Role:              "server",
		IncludePrivateKey: true,
	})
	withoutKey := issueCert(t, srv.URL, api.IssueCertificateRequest{
		Issuer:     api.IssuerRefPayload{Kind: "authority", ID: ca.ID},
		CommonName: "without-key",
		SubjectDN:  "CN=without-key",
		Role:       "server",
	})

	body := fetchPEM(t, srv.URL+"/api/v1/export/ca/"+ca.ID)
	assert.Contains(t, body, "BEGIN CERTIFICATE")

	body = fetchPEM(t, srv.URL+"/api/v1/export/ca/"+ca.ID+"/key")
	assert.Contains(t, body, "BEGIN PRIVATE KEY")

	body = fetchPEM(t, srv.URL+"/api/v1/export/certificate/"+withKey.ID)
	assert.Contains(t, body, "BEGIN CERTIFICATE")

	body = fetchPEM(t, srv.URL+"/api/v1/export/certificate/"+withKey.ID+"/key")
	assert.Contains(t, body, "BEGIN PRIVATE KEY")

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/export/certificate/"+withoutKey.ID+"/key", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	body = fetchPEM(t, srv.URL+"/api/v1/export/certificate/"+withKey.ID+"/chain")
	assert.Equal(t, 2, strings.Count(body, "BEGIN CERTIFICATE"))
}

func TestCRLAndOCSP(t *testing.T) {
	srv := setupServer(t)
	ca := createCA(t, srv.URL, "root")
	cert := issueCert(t, srv.URL, api.IssueCertificateRequest{
		Issuer:     api.IssuerRefPayload{Kind: "authority", ID: ca.ID},
		CommonName: "doomed", SubjectDN: "CN=doomed", Role: "server",
	})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/certificates/"+cert.ID+"/revoke",
		api.RevokeCertificateRequest{Reason: "superseded"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := fetchPEM(t, srv.URL+"/api/v1/cas/"+ca.ID+"/crl")
	assert.Contains(t, body, "BEGIN X509 CRL")

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/cas/"+ca.ID+"/ocsp/"+cert.SerialNumber, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/ocsp-response", resp.Header.Get("Content-Type"))
}

func fetchPEM(t *testing.T, url string) string {
	t.Helper()
	resp := doJSON(t, http.MethodGet, url, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-pem-file", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}
