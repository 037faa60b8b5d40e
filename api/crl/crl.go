// Package crl implements the HTTP handler for importing CRLs.
package crl

import (
	"net/http"
	"time"

	"github.com/cloudflare/cfsmime/api"
	"github.com/cloudflare/cfsmime/certdb"
	"github.com/cloudflare/cfsmime/smime"
)

// Result describes a stored CRL.
type Result struct {
	Issuer     string     `json:"issuer"`
	ThisUpdate time.Time  `json:"this_update"`
	NextUpdate *time.Time `json:"next_update,omitempty"`
	Delta      bool       `json:"delta"`
}

// Describe summarizes rec.
func Describe(rec *certdb.CRLRecord) Result {
	return Result{
		Issuer:     rec.Issuer,
		ThisUpdate: rec.ThisUpdate,
		NextUpdate: rec.NextUpdate.Ptr(),
		Delta:      rec.Delta,
	}
}

// Handler imports CRLs into a certificate database.
type Handler struct {
	sc *smime.Context
}

// NewHandler returns the CRL import endpoint backed by sc.
func NewHandler(sc *smime.Context) http.Handler {
	return api.HTTPHandler{
		Handler: &Handler{sc: sc},
		Methods: []string{"POST"},
	}
}

// Handle accepts a JSON object with the "crl" in PEM or base64 DER form.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) error {
	blob, err := api.ProcessRequestFields(r, "crl")
	if err != nil {
		return err
	}
	der, err := api.DecodeBinary("crl", blob["crl"])
	if err != nil {
		return err
	}
	rec, err := h.sc.ImportCRL(r.Context(), der)
	if err != nil {
		return err
	}
	return api.SendResponse(w, Describe(rec))
}
