// Package health implements the health check endpoint.
package health

import (
	"context"
	"crypto/x509"
	"net/http"
	"time"

	"github.com/cloudflare/cfsmime/api"
	"github.com/cloudflare/cfsmime/log"
)

// checkTimeout bounds the database query of one health check.
var checkTimeout = 5 * time.Second

// HealthResponse reports whether the server can serve requests.
type HealthResponse struct {
	Healthy bool `json:"healthy"`
}

// Pooler is the part of a certificate database the check queries.
type Pooler interface {
	Pools(ctx context.Context) (anchors, intermediates []*x509.Certificate, err error)
}

type healthHandler struct {
	db Pooler
}

// Handle answers healthy when the certificate database responds. A
// failing database is reported in the result, not as an HTTP error.
func (h *healthHandler) Handle(w http.ResponseWriter, r *http.Request) error {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()
	_, _, err := h.db.Pools(ctx)
	if err != nil {
		log.Warningf("health check failed: %v", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	return api.SendResponse(w, &HealthResponse{Healthy: err == nil})
}

// NewHealthCheck returns the health endpoint querying db.
func NewHealthCheck(db Pooler) http.Handler {
	return api.HTTPHandler{
		Handler: &healthHandler{db: db},
		Methods: []string{"GET"},
	}
}
