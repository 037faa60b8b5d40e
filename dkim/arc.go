package dkim

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/log"
	"github.com/emersion/go-msgauth/authres"
	"github.com/jmhodges/clock"
)

// ChainStatus is the validation status of an ARC chain, the cv= tag.
type ChainStatus string

// ARC chain validation statuses, RFC 8617 section 4.1.3.
const (
	ChainNone ChainStatus = "none"
	ChainPass ChainStatus = "pass"
	ChainFail ChainStatus = "fail"
)

// An ArcResult is the outcome of validating the ARC chain of a message.
type ArcResult struct {
	Status ChainStatus
	// Instance is the highest ARC set instance found.
	Instance int
	// FailedInstance is the instance whose validation failed, if any.
	FailedInstance int
	Err            error
}

// arcSet is one instance of the three ARC header fields.
type arcSet struct {
	instance int
	results  *field
	message  *field
	seal     *field
}

func arcFail(instance int, format string, v ...interface{}) error {
	return cferr.Wrap(cferr.DKIMError, cferr.SignatureInvalid,
		fmt.Errorf("ARC set %d: %s", instance, fmt.Sprintf(format, v...)))
}

// fieldInstance returns the i= tag of an ARC header field.
func fieldInstance(f field) (int, error) {
	var v string
	if f.key() == strings.ToLower(ArcResultsHeader) {
		// The instance leads the value, the rest is Authentication-Results syntax.
		head, _, _ := strings.Cut(f.value(), ";")
		name, value, ok := strings.Cut(head, "=")
		if !ok || strings.TrimSpace(name) != "i" {
			return 0, parseFailed("%s: missing i= tag", f.name())
		}
		v = value
	} else {
		tags, err := parseTagList(f.value())
		if err != nil {
			return 0, parseFailed("%s: %v", f.name(), err)
		}
		var ok bool
		if v, ok = tags.get("i"); !ok {
			return 0, parseFailed("%s: missing i= tag", f.name())
		}
	}
	n, err := parseInstance(v)
	if err != nil {
		return 0, parseFailed("%s: %v", f.name(), err)
	}
	return n, nil
}

// collectArcSets returns the ARC sets of m ordered by instance. The sets
// must be complete and numbered from 1 without gaps.
func collectArcSets(m *message) ([]arcSet, error) {
	byInstance := make(map[int]*arcSet)
	for i := range m.header {
		f := &m.header[i]
		var slot **field
		key := f.key()
		switch key {
		case strings.ToLower(ArcResultsHeader), strings.ToLower(ArcMessageHeader), strings.ToLower(ArcSealHeader):
		default:
			continue
		}
		n, err := fieldInstance(*f)
		if err != nil {
			return nil, err
		}
		set, ok := byInstance[n]
		if !ok {
			set = &arcSet{instance: n}
			byInstance[n] = set
		}
		switch key {
		case strings.ToLower(ArcResultsHeader):
			slot = &set.results
		case strings.ToLower(ArcMessageHeader):
			slot = &set.message
		default:
			slot = &set.seal
		}
		if *slot != nil {
			return nil, arcFail(n, "duplicate %s", f.name())
		}
		*slot = f
	}

	sets := make([]arcSet, 0, len(byInstance))
	for _, s := range byInstance {
		sets = append(sets, *s)
	}
	sort.Slice(sets, func(i, j int) bool { return sets[i].instance < sets[j].instance })
	for i, s := range sets {
		if s.instance != i+1 {
			return nil, arcFail(i+1, "missing")
		}
		if s.results == nil || s.message == nil || s.seal == nil {
			return nil, arcFail(s.instance, "incomplete")
		}
	}
	return sets, nil
}

// sealFields returns the fields an ARC-Seal of instance len(sets) signs,
// before the seal itself.
func sealFields(sets []arcSet) []field {
	var fs []field
	for i, s := range sets {
		fs = append(fs, *s.results, *s.message)
		if i < len(sets)-1 {
			fs = append(fs, *s.seal)
		}
	}
	return fs
}

// VerifyArc validates the ARC chain of the message read from r.
func VerifyArc(ctx context.Context, locator PublicKeyLocator, r io.Reader) (*ArcResult, error) {
	v := &Verifier{Locator: locator, Clock: clock.New()}
	return v.VerifyArc(ctx, r)
}

// VerifyArc validates the ARC chain of the message read from r. The
// error is only set when the message cannot be read.
func (v *Verifier) VerifyArc(ctx context.Context, r io.Reader) (*ArcResult, error) {
	if v.Locator == nil || r == nil {
		return nil, cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	m, err := readMessage(r)
	if err != nil {
		return nil, err
	}
	return v.verifyArc(ctx, m), nil
}

func (v *Verifier) verifyArc(ctx context.Context, m *message) *ArcResult {
	sets, err := collectArcSets(m)
	if err != nil {
		return &ArcResult{Status: ChainFail, Err: err}
	}
	if len(sets) == 0 {
		return &ArcResult{Status: ChainNone}
	}
	n := len(sets)
	res := &ArcResult{Status: ChainFail, Instance: n}
	fail := func(instance int, err error) *ArcResult {
		res.FailedInstance = instance
		res.Err = err
		return res
	}

	seals := make([]*signature, n)
	for i, s := range sets {
		seal, err := parseSignature(ArcSealHeader, s.seal.value())
		if err != nil {
			return fail(s.instance, err)
		}
		want := ChainPass
		if i == 0 {
			want = ChainNone
		}
		if ChainStatus(seal.chainStatus) != want {
			return fail(s.instance, arcFail(s.instance, "cv=%s, want %s", seal.chainStatus, want))
		}
		seals[i] = seal
	}

	latest := sets[n-1]
	ams, err := parseSignature(ArcMessageHeader, latest.message.value())
	if err != nil {
		return fail(n, err)
	}
	for _, k := range ams.headerKeys {
		if strings.EqualFold(k, ArcSealHeader) {
			return fail(n, arcFail(n, "%s signs %s", ArcMessageHeader, ArcSealHeader))
		}
	}
	if _, err := v.checkSignature(ctx, m, *latest.message, ams, ""); err != nil {
		return fail(n, err)
	}

	for i := n; i >= 1; i-- {
		if err := ctx.Err(); err != nil {
			return fail(i, err)
		}
		seal := seals[i-1]
		rec, err := v.locate(ctx, seal)
		if err != nil {
			return fail(i, err)
		}
		digest := hashHeaders(sha256.New(), sealFields(sets[:i]), *sets[i-1].seal, Relaxed)
		if err := verifyDigest(rec.PublicKey, digest, seal.sig); err != nil {
			return fail(i, err)
		}
	}
	res.Status = ChainPass
	return res
}

// An ArcSigner adds an ARC set to messages passing through an
// intermediary. The embedded Signer provides the domain, selector, key
// and the fields of the ARC-Message-Signature.
type ArcSigner struct {
	Signer
	// AuthServID identifies the intermediary in ARC-Authentication-Results.
	AuthServID string
	// Verifier validates the chain the message arrives with.
	Verifier *Verifier
}

// NewArcSigner returns an ArcSigner sealing with s and validating
// incoming chains with keys from locator.
func NewArcSigner(s *Signer, authServID string, locator PublicKeyLocator) (*ArcSigner, error) {
	if s == nil || authServID == "" || locator == nil {
		return nil, cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	return &ArcSigner{
		Signer:     *s,
		AuthServID: authServID,
		Verifier:   &Verifier{Locator: locator, Clock: s.Clock},
	}, nil
}

// Seal reads a message and returns the header fields of its next ARC
// set, ARC-Seal first, each terminated by CRLF. results are the
// authentication results the intermediary observed.
func (a *ArcSigner) Seal(ctx context.Context, r io.Reader, results []authres.Result) ([]string, error) {
	m, err := readMessage(r)
	if err != nil {
		return nil, err
	}
	fs, err := a.seal(ctx, m, results)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.raw + "\r\n"
	}
	return out, nil
}

// SealMessage reads a message from r and writes it to w with its next
// ARC set prepended.
func (a *ArcSigner) SealMessage(ctx context.Context, w io.Writer, r io.Reader, results []authres.Result) error {
	m, err := readMessage(r)
	if err != nil {
		return err
	}
	fs, err := a.seal(ctx, m, results)
	if err != nil {
		return err
	}
	m.header = append(fs, m.header...)
	return m.writeTo(w)
}

func (a *ArcSigner) seal(ctx context.Context, m *message, results []authres.Result) ([]field, error) {
	if a.AuthServID == "" {
		return nil, cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}

	cv := ChainNone
	sets, err := collectArcSets(m)
	if err != nil {
		log.Infof("dkim: malformed ARC chain: %v", err)
		cv = ChainFail
	} else if len(sets) > 0 {
		if a.Verifier == nil {
			return nil, cferr.Wrap(cferr.ArgumentError, cferr.NullArgument, fmt.Errorf("no verifier for the existing ARC chain"))
		}
		last, perr := parseSignature(ArcSealHeader, sets[len(sets)-1].seal.value())
		if perr == nil && ChainStatus(last.chainStatus) == ChainFail {
			return nil, cferr.Wrap(cferr.DKIMError, cferr.SignFailed, fmt.Errorf("ARC chain has already failed"))
		}
		res := a.Verifier.verifyArc(ctx, m)
		cv = res.Status
		if res.Err != nil {
			log.Infof("dkim: ARC chain fails at instance %d: %v", res.FailedInstance, res.Err)
		}
	}
	n := len(sets)
	if err != nil {
		n = len(m.all(strings.ToLower(ArcSealHeader)))
	}
	if n >= maxArcInstance {
		return nil, cferr.Wrap(cferr.DKIMError, cferr.SignFailed, fmt.Errorf("ARC chain already has %d sets", n))
	}
	if cv == ChainFail {
		// The seal of a failed chain covers only its own set.
		sets = nil
	}
	instance := strconv.Itoa(n + 1)

	aar := field{raw: ArcResultsHeader + ": i=" + instance + "; " + authres.Format(a.AuthServID, results)}
	ams, err := a.messageSignature(m, ArcMessageHeader, []tag{{"i", instance}})
	if err != nil {
		return nil, err
	}

	alg, err := algorithmFor(a.Key.Public())
	if err != nil {
		return nil, err
	}
	tags := []tag{
		{"i", instance},
		{"a", alg},
		{"cv", string(cv)},
		{"d", a.Domain},
		{"s", a.Selector},
		{"t", strconv.FormatInt(a.now().Unix(), 10)},
	}
	prior := sealFields(append(sets, arcSet{results: &aar, message: &ams}))
	seal, err := buildSignature(a.Key, ArcSealHeader, tags, func(unsigned field) []byte {
		return hashHeaders(sha256.New(), prior, unsigned, Relaxed)
	})
	if err != nil {
		return nil, err
	}
	return []field{seal, ams, aar}, nil
}
