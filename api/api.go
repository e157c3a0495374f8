// Package api exposes the issuance engine over REST.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jsenecal/FastPKI/pki"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	engine *pki.Engine
	logger *slog.Logger
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request-level events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// New creates a new API instance over an issuance engine.
func New(engine *pki.Engine, opts ...Option) *API {
	a := &API{engine: engine}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Post("/cas", a.CreateCA)
	r.Get("/cas", a.ListCAs)
	r.Route("/cas/{caID}", func(r chi.Router) {
		r.Get("/", a.GetCA)
		r.Delete("/", a.DeleteCA)
		r.Get("/certificates", a.ListCACertificates)
		r.Get("/crl", a.GetCRL)
		r.Get("/ocsp/{serial}", a.GetOCSP)
	})

	r.Post("/certificates", a.IssueCertificate)
	r.Get("/certificates", a.ListCertificates)
	r.Route("/certificates/{certID}", func(r chi.Router) {
		r.Get("/", a.GetCertificate)
		r.Post("/revoke", a.RevokeCertificate)
		r.Get("/revocations", a.ListRevocations)
	})

	r.Route("/export", func(r chi.Router) {
		r.Get("/ca/{caID}", a.ExportCACertificate)
		r.Get("/ca/{caID}/key", a.ExportCAKey)
		r.Get("/certificate/{certID}", a.ExportCertificate)
		r.Get("/certificate/{certID}/key", a.ExportCertificateKey)
		r.Get("/certificate/{certID}/chain", a.ExportChain)
	})

	return r
}
