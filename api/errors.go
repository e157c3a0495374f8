package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jsenecal/FastPKI/pki"
	"github.com/jsenecal/FastPKI/storage"
)

// maxBodySize caps request bodies; every payload here is small JSON.
const maxBodySize = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writePEM(w http.ResponseWriter, pem string) {
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(pem))
}

func decodeJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return v, false
	}
	return v, true
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pki.ErrIssuerNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrDuplicateName):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrDuplicateSerial):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pki.ErrWeakKey),
		errors.Is(err, pki.ErrMalformedName),
		errors.Is(err, pki.ErrInvalidSubject):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, pki.ErrChainTooLong):
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
