package serve

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudflare/cfsmime/api"
	"github.com/cloudflare/cfsmime/cli"
	"github.com/cloudflare/cfsmime/cli/clitest"
	"github.com/cloudflare/cfsmime/dkim"
	"github.com/cloudflare/cfsmime/dkim/dkimtest"
	"github.com/cloudflare/cfsmime/helpers/testsuite"
	"github.com/stretchr/testify/require"
)

const alice = "alice@example.com"

type server struct {
	*httptest.Server
	c cli.Config
}

func newServer(t *testing.T, zone map[string][]string) *server {
	c := clitest.Config(t)
	if zone != nil {
		c.CFG.DKIM.Resolver = dkimtest.ServeDNS(t, zone)
	}
	sc, err := cli.OpenContext(context.Background(), c)
	require.NoError(t, err)
	t.Cleanup(func() { sc.Close() })

	mux := http.NewServeMux()
	registerHandlers(mux, sc, c.CFG.DKIM)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return &server{Server: ts, c: c}
}

func (s *server) post(t *testing.T, path string, blob map[string]string) (int, api.Response) {
	body, err := json.Marshal(blob)
	require.NoError(t, err)
	resp, err := http.Post(s.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var r api.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&r))
	return resp.StatusCode, r
}

func TestServeMethods(t *testing.T) {
	s := newServer(t, nil)
	for _, path := range []string{"/api/v1/cfsmime/verify", "/api/v1/cfsmime/dkimverify", "/api/v1/cfsmime/crl"} {
		resp, err := http.Get(s.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, path)
	}

	resp, err := http.Get(s.URL + "/api/v1/cfsmime/sign")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeVerify(t *testing.T) {
	s := newServer(t, nil)
	chain := clitest.Identity(t, s.c, alice)

	sc, err := cli.OpenContext(context.Background(), s.c)
	require.NoError(t, err)
	defer sc.Close()
	content := []byte("Content-Type: text/plain\r\n\r\nHello\r\n")
	signed, err := sc.Sign(context.Background(), alice, content, true)
	require.NoError(t, err)

	code, r := s.post(t, "/api/v1/cfsmime/verify", map[string]string{
		"message": string(pem.EncodeToMemory(&pem.Block{Type: "PKCS7", Bytes: signed})),
		"content": base64.StdEncoding.EncodeToString(content),
	})
	require.Equal(t, http.StatusOK, code)
	require.True(t, r.Success)
	results, ok := r.Result.([]interface{})
	require.True(t, ok)
	require.Len(t, results, 1)
	signer := results[0].(map[string]interface{})
	require.Equal(t, true, signer["valid"])
	require.Equal(t, chain[0].Certificate.Subject.String(), signer["subject"])

	// A missing parameter is a bad request.
	code, r = s.post(t, "/api/v1/cfsmime/verify", map[string]string{"content": "aGk="})
	require.Equal(t, http.StatusBadRequest, code)
	require.False(t, r.Success)
	require.Contains(t, r.Errors[0].Message, "message")

	// So is a message that does not parse.
	code, r = s.post(t, "/api/v1/cfsmime/verify", map[string]string{
		"message": base64.StdEncoding.EncodeToString([]byte("garbage")),
	})
	require.Equal(t, http.StatusBadRequest, code)
	require.NotEqual(t, http.StatusBadRequest, r.Errors[0].Code)
}

func TestServeCRL(t *testing.T) {
	s := newServer(t, nil)
	ca, err := testsuite.NewRootCA("Test CRL CA")
	require.NoError(t, err)
	now := time.Now().Truncate(time.Second)
	der, err := ca.CRL(1, now, now.Add(time.Hour), big.NewInt(7))
	require.NoError(t, err)

	code, r := s.post(t, "/api/v1/cfsmime/crl", map[string]string{"crl": base64.StdEncoding.EncodeToString(der)})
	require.Equal(t, http.StatusOK, code)
	res := r.Result.(map[string]interface{})
	require.Equal(t, ca.Certificate.Subject.String(), res["issuer"])
	require.Equal(t, false, res["delta"])

	code, _ = s.post(t, "/api/v1/cfsmime/crl", map[string]string{"crl": "-----BEGIN X509 CRL-----\nnope"})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestServeDKIMVerify(t *testing.T) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	txt, err := dkim.FormatKeyRecord(key.Public())
	require.NoError(t, err)
	s := newServer(t, map[string][]string{"mail._domainkey.example.org.": {txt}})

	msg := "From: alice@example.org\r\nTo: bob@example.net\r\nSubject: Hi\r\n\r\nHello\r\n"
	signer, err := dkim.NewSigner("example.org", "mail", key)
	require.NoError(t, err)
	sig, err := signer.Sign(strings.NewReader(msg))
	require.NoError(t, err)

	code, r := s.post(t, "/api/v1/cfsmime/dkimverify", map[string]string{"message": sig + msg})
	require.Equal(t, http.StatusOK, code)
	res := r.Result.(map[string]interface{})
	sigs := res["signatures"].([]interface{})
	require.Len(t, sigs, 1)
	require.Equal(t, true, sigs[0].(map[string]interface{})["valid"])
	require.Equal(t, string(dkim.ChainNone), res["arc"].(map[string]interface{})["status"])
}

func TestServeHealthAndMetrics(t *testing.T) {
	s := newServer(t, nil)
	resp, err := http.Get(s.URL + "/api/v1/cfsmime/health")
	require.NoError(t, err)
	var r api.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&r))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, map[string]interface{}{"healthy": true}, r.Result)

	resp, err = http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(body), "go_goroutines")
}

func TestServerMainArguments(t *testing.T) {
	require.Error(t, serverMain([]string{"extra"}, cli.Config{}))
}
