// Package verify implements the HTTP handler for the verify command.
package verify

import (
	"net/http"
	"time"

	"github.com/cloudflare/cfsmime/api"
	"github.com/cloudflare/cfsmime/helpers"
	"github.com/cloudflare/cfsmime/smime"
)

// SignerResult describes the outcome for one signer of a message.
type SignerResult struct {
	Subject      string    `json:"subject,omitempty"`
	Emails       []string  `json:"emails,omitempty"`
	Fingerprint  string    `json:"fingerprint,omitempty"`
	SigningTime  time.Time `json:"signing_time,omitempty"`
	Digest       string    `json:"digest"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Chain        []string  `json:"chain,omitempty"`
	Valid        bool      `json:"valid"`
	Error        string    `json:"error,omitempty"`
}

// Describe summarizes sig.
func Describe(sig *smime.Signature) SignerResult {
	res := SignerResult{
		SigningTime: sig.SigningTime,
		Digest:      helpers.DigestName(sig.Digest),
		Valid:       sig.Valid(),
	}
	if sig.Certificate != nil {
		res.Subject = sig.Certificate.Subject.String()
		res.Emails = helpers.EmailAddresses(sig.Certificate)
		res.Fingerprint = helpers.Fingerprint(sig.Certificate)
	}
	for _, alg := range sig.Capabilities {
		res.Capabilities = append(res.Capabilities, alg.String())
	}
	if sig.Bundle != nil {
		for _, cert := range sig.Bundle.Chain {
			res.Chain = append(res.Chain, cert.Subject.String())
		}
	}
	if sig.Err != nil {
		res.Error = sig.Err.Error()
	}
	return res
}

// Handler verifies signed messages against a certificate database.
type Handler struct {
	sc *smime.Context
}

// NewHandler returns the verify endpoint backed by sc.
func NewHandler(sc *smime.Context) http.Handler {
	return api.HTTPHandler{
		Handler: &Handler{sc: sc},
		Methods: []string{"POST"},
	}
}

// Handle accepts a JSON object with the signed "message", PEM or base64
// DER, and the base64 "content" of a detached signature. It responds
// with the result of every signer; an invalid signer is not an HTTP
// error.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) error {
	blob, err := api.ProcessRequestFields(r, "message")
	if err != nil {
		return err
	}
	signed, err := api.DecodeBinary("message", blob["message"])
	if err != nil {
		return err
	}
	var content []byte
	if blob["content"] != "" {
		if content, err = api.DecodeBinary("content", blob["content"]); err != nil {
			return err
		}
	}

	sigs, err := h.sc.Verify(r.Context(), signed, content)
	if err != nil {
		return err
	}
	results := make([]SignerResult, 0, len(sigs))
	for _, sig := range sigs {
		results = append(results, Describe(sig))
	}
	return api.SendResponse(w, results)
}
