// Package dkimverify implements the HTTP handler for DKIM and ARC
// verification.
package dkimverify

import (
	"net/http"
	"strings"
	"time"

	"github.com/cloudflare/cfsmime/api"
	"github.com/cloudflare/cfsmime/dkim"
)

// SignatureResult describes one DKIM-Signature of a message.
type SignatureResult struct {
	Domain     string     `json:"domain"`
	Selector   string     `json:"selector"`
	Identifier string     `json:"identifier"`
	Algorithm  string     `json:"algorithm"`
	Headers    []string   `json:"headers"`
	Time       *time.Time `json:"time,omitempty"`
	Expiration *time.Time `json:"expiration,omitempty"`
	Testing    bool       `json:"testing,omitempty"`
	Valid      bool       `json:"valid"`
	Error      string     `json:"error,omitempty"`
}

// ArcResult describes the ARC chain of a message.
type ArcResult struct {
	Status         dkim.ChainStatus `json:"status"`
	Instance       int              `json:"instance,omitempty"`
	FailedInstance int              `json:"failed_instance,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// Result is the verification report of a message.
type Result struct {
	Signatures []SignatureResult `json:"signatures"`
	ARC        ArcResult         `json:"arc"`
}

// Valid reports whether every signature verified and the ARC chain,
// if any, is intact.
func (r *Result) Valid() bool {
	if r.ARC.Status == dkim.ChainFail {
		return false
	}
	for _, s := range r.Signatures {
		if !s.Valid {
			return false
		}
	}
	return true
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Describe builds the report of the signatures vers and the chain arc.
func Describe(vers []*dkim.Verification, arc *dkim.ArcResult) *Result {
	res := &Result{
		Signatures: make([]SignatureResult, 0, len(vers)),
		ARC:        ArcResult{Status: arc.Status, Instance: arc.Instance, FailedInstance: arc.FailedInstance},
	}
	if arc.Err != nil {
		res.ARC.Error = arc.Err.Error()
	}
	for _, v := range vers {
		s := SignatureResult{
			Domain:     v.Domain,
			Selector:   v.Selector,
			Identifier: v.Identifier,
			Algorithm:  v.Algorithm,
			Headers:    v.HeaderKeys,
			Time:       optionalTime(v.Time),
			Expiration: optionalTime(v.Expiration),
			Testing:    v.Testing,
			Valid:      v.Err == nil,
		}
		if v.Err != nil {
			s.Error = v.Err.Error()
		}
		res.Signatures = append(res.Signatures, s)
	}
	return res
}

// Handler verifies the DKIM signatures and ARC chain of messages.
type Handler struct {
	verifier *dkim.Verifier
}

// NewHandler returns the dkimverify endpoint using v.
func NewHandler(v *dkim.Verifier) http.Handler {
	return api.HTTPHandler{
		Handler: &Handler{verifier: v},
		Methods: []string{"POST"},
	}
}

// Handle accepts a JSON object with the raw RFC 5322 "message" and
// responds with its verification report.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) error {
	blob, err := api.ProcessRequestFields(r, "message")
	if err != nil {
		return err
	}
	msg := blob["message"]
	vers, err := h.verifier.Verify(r.Context(), strings.NewReader(msg))
	if err != nil {
		return err
	}
	arc, err := h.verifier.VerifyArc(r.Context(), strings.NewReader(msg))
	if err != nil {
		return err
	}
	return api.SendResponse(w, Describe(vers, arc))
}
