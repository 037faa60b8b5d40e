package crl

import (
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudflare/cfsmime/cli/clitest"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/helpers/testsuite"
	"github.com/stretchr/testify/require"
)

func newCRL(t *testing.T) (*testsuite.Identity, []byte) {
	ca, err := testsuite.NewRootCA("Test CRL CA")
	require.NoError(t, err)
	now := time.Now().Truncate(time.Second)
	der, err := ca.CRL(1, now, now.Add(24*time.Hour), big.NewInt(42))
	require.NoError(t, err)
	return ca, der
}

func TestCRLFromFile(t *testing.T) {
	ca, der := newCRL(t)
	c := clitest.Config(t)
	out := clitest.Capture(t)

	file := clitest.WriteFile(t, "ca.crl", pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: der}))
	require.NoError(t, crlMain([]string{file}, c))

	var results []crlResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	require.Len(t, results, 1)
	require.Equal(t, file, results[0].Source)
	require.Equal(t, ca.Certificate.Subject.String(), results[0].Issuer)
	require.NotNil(t, results[0].NextUpdate)
	require.False(t, results[0].Delta)

	// Importing the same CRL again is harmless.
	out.Reset()
	require.NoError(t, crlMain([]string{file}, c))
}

func TestCRLFromDistributionPoint(t *testing.T) {
	_, der := newCRL(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ca.crl" {
			http.NotFound(w, r)
			return
		}
		w.Write(der)
	}))
	defer srv.Close()

	c := clitest.Config(t)
	out := clitest.Capture(t)
	require.NoError(t, crlMain([]string{srv.URL + "/ca.crl"}, c))
	var results []crlResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	require.Len(t, results, 1)

	require.Error(t, crlMain([]string{srv.URL + "/missing.crl"}, c))
	err := crlMain([]string{"ldap://ldap.example.com/cn=CA?certificateRevocationList"}, c)
	require.ErrorIs(t, err, cferr.New(cferr.CRLError, cferr.ReadFailed))
}

func TestCRLErrors(t *testing.T) {
	c := clitest.Config(t)
	clitest.Capture(t)
	require.Error(t, crlMain(nil, c))
	err := crlMain([]string{clitest.WriteFile(t, "garbage.crl", []byte("not a crl"))}, c)
	require.True(t, cferr.IsParse(err), "got %v", err)
}
