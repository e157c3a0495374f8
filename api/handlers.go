package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jsenecal/FastPKI/pki"
	"github.com/jsenecal/FastPKI/storage"
)

// CreateCA handles POST /cas.
// Creates a self-signed root authority and returns it without key material.
func (a *API) CreateCA(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[CreateCARequest](w, r)
	if !ok {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	ca, err := a.engine.IssueAuthority(r.Context(), pki.IssueAuthorityRequest{
		Name:        req.Name,
		SubjectDN:   req.SubjectDN,
		Description: req.Description,
		KeyBits:     req.KeyBits,
		ValidDays:   req.ValidDays,
	})
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, caToAPI(ca))
}

// ListCAs handles GET /cas.
func (a *API) ListCAs(w http.ResponseWriter, r *http.Request) {
	cas, err := a.engine.Authorities(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	resp := ListCAsResponse{CAs: make([]CAResponse, 0, len(cas))}
	for _, ca := range cas {
		resp.CAs = append(resp.CAs, caToAPI(ca))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCA handles GET /cas/{caID}.
func (a *API) GetCA(w http.ResponseWriter, r *http.Request) {
	ca, err := a.engine.Authority(r.Context(), chi.URLParam(r, "caID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, caToAPI(ca))
}

// DeleteCA handles DELETE /cas/{caID}.
// Removes the authority and every certificate whose issuer chain resolves
// to it.
func (a *API) DeleteCA(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.DeleteAuthority(r.Context(), chi.URLParam(r, "caID")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCACertificates handles GET /cas/{caID}/certificates.
// Lists certificates directly issued by the authority.
func (a *API) ListCACertificates(w http.ResponseWriter, r *http.Request) {
	caID := chi.URLParam(r, "caID")
	if _, err := a.engine.Authority(r.Context(), caID); err != nil {
		mapError(w, err)
		return
	}
	ref := storage.AuthorityRef(caID)
	certs, err := a.engine.Certificates(r.Context(), &ref)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, certListToAPI(certs))
}

// GetCRL handles GET /cas/{caID}/crl.
// Generates a freshly signed CRL over the authority's revocation ledger.
func (a *API) GetCRL(w http.ResponseWriter, r *http.Request) {
	crlPEM, err := a.engine.GenerateCRL(r.Context(), chi.URLParam(r, "caID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writePEM(w, string(crlPEM))
}

// GetOCSP handles GET /cas/{caID}/ocsp/{serial}.
// Returns a signed DER OCSP response for the serial.
func (a *API) GetOCSP(w http.ResponseWriter, r *http.Request) {
	der, err := a.engine.OCSPResponse(r.Context(), chi.URLParam(r, "caID"), chi.URLParam(r, "serial"))
	if err != nil {
		mapError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/ocsp-response")
	w.WriteHeader(http.StatusOK)
	w.Write(der)
}

// IssueCertificate handles POST /certificates.
func (a *API) IssueCertificate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[IssueCertificateRequest](w, r)
	if !ok {
		return
	}

	role := storage.CertificateRole(req.Role)
	switch role {
	case storage.RoleAuthority, storage.RoleServer, storage.RoleClient:
	default:
		writeError(w, http.StatusBadRequest, "role must be 'authority', 'server', or 'client'")
		return
	}

	cert, err := a.engine.IssueCertificate(r.Context(), pki.IssueCertificateRequest{
		Issuer:            issuerFromAPI(req.Issuer),
		CommonName:        req.CommonName,
		SubjectDN:         req.SubjectDN,
		Role:              role,
		KeyBits:           req.KeyBits,
		ValidDays:         req.ValidDays,
		IncludePrivateKey: req.IncludePrivateKey,
	})
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, certToAPI(cert))
}

// ListCertificates handles GET /certificates.
// Accepts optional issuer_kind/issuer_id query parameters.
func (a *API) ListCertificates(w http.ResponseWriter, r *http.Request) {
	var filter *storage.IssuerRef
	if kind := r.URL.Query().Get("issuer_kind"); kind != "" {
		filter = &storage.IssuerRef{
			Kind: storage.RefKind(kind),
			ID:   r.URL.Query().Get("issuer_id"),
		}
	}
	certs, err := a.engine.Certificates(r.Context(), filter)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, certListToAPI(certs))
}

// GetCertificate handles GET /certificates/{certID}.
func (a *API) GetCertificate(w http.ResponseWriter, r *http.Request) {
	cert, err := a.engine.Certificate(r.Context(), chi.URLParam(r, "certID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, certToAPI(cert))
}

// RevokeCertificate handles POST /certificates/{certID}/revoke.
// Revoking an already-revoked certificate succeeds and appends another
// ledger record.
func (a *API) RevokeCertificate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[RevokeCertificateRequest](w, r)
	if !ok {
		return
	}
	cert, err := a.engine.RevokeCertificate(r.Context(), chi.URLParam(r, "certID"), req.Reason)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, certToAPI(cert))
}

// ListRevocations handles GET /certificates/{certID}/revocations.
// Returns the ledger records for this certificate's serial, oldest first.
func (a *API) ListRevocations(w http.ResponseWriter, r *http.Request) {
	cert, err := a.engine.Certificate(r.Context(), chi.URLParam(r, "certID"))
	if err != nil {
		mapError(w, err)
		return
	}
	records, err := a.engine.Revocations(r.Context(), cert.Issuer)
	if err != nil {
		mapError(w, err)
		return
	}
	resp := ListRevocationsResponse{Revocations: []RevocationResponse{}}
	for _, rec := range records {
		if rec.SerialNumber != cert.SerialNumber {
			continue
		}
		resp.Revocations = append(resp.Revocations, RevocationResponse{
			ID:           rec.ID,
			SerialNumber: rec.SerialNumber,
			Reason:       rec.Reason,
			Issuer:       issuerToAPI(rec.Issuer),
			RevokedAt:    rec.RevokedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ExportCACertificate handles GET /export/ca/{caID}.
func (a *API) ExportCACertificate(w http.ResponseWriter, r *http.Request) {
	ca, err := a.engine.Authority(r.Context(), chi.URLParam(r, "caID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writePEM(w, ca.CertificatePEM)
}

// ExportCAKey handles GET /export/ca/{caID}/key.
func (a *API) ExportCAKey(w http.ResponseWriter, r *http.Request) {
	ca, err := a.engine.Authority(r.Context(), chi.URLParam(r, "caID"))
	if err != nil {
		mapError(w, err)
		return
	}
	a.logger.Warn("authority private key exported", "id", ca.ID)
	writePEM(w, ca.PrivateKeyPEM)
}

// ExportCertificate handles GET /export/certificate/{certID}.
func (a *API) ExportCertificate(w http.ResponseWriter, r *http.Request) {
	cert, err := a.engine.Certificate(r.Context(), chi.URLParam(r, "certID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writePEM(w, cert.CertificatePEM)
}

// ExportCertificateKey handles GET /export/certificate/{certID}/key.
// Fails with 404 when the certificate was issued without key retention.
func (a *API) ExportCertificateKey(w http.ResponseWriter, r *http.Request) {
	cert, err := a.engine.Certificate(r.Context(), chi.URLParam(r, "certID"))
	if err != nil {
		mapError(w, err)
		return
	}
	if cert.PrivateKeyPEM == "" {
		writeError(w, http.StatusNotFound, "certificate has no stored private key")
		return
	}
	a.logger.Warn("certificate private key exported", "id", cert.ID)
	writePEM(w, cert.PrivateKeyPEM)
}

// ExportChain handles GET /export/certificate/{certID}/chain.
// Returns the concatenated PEM chain, leaf first, root last.
func (a *API) ExportChain(w http.ResponseWriter, r *http.Request) {
	bundle, err := a.engine.ExportChain(r.Context(), chi.URLParam(r, "certID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writePEM(w, bundle)
}

func certListToAPI(certs []*storage.Certificate) ListCertificatesResponse {
	resp := ListCertificatesResponse{Certificates: make([]CertificateResponse, 0, len(certs))}
	for _, c := range certs {
		resp.Certificates = append(resp.Certificates, certToAPI(c))
	}
	return resp
}
