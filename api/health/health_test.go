package health

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudflare/cfsmime/api"
	"github.com/stretchr/testify/require"
)

type pooler struct{ err error }

func (p pooler) Pools(ctx context.Context) ([]*x509.Certificate, []*x509.Certificate, error) {
	return nil, nil, p.err
}

func check(t *testing.T, db Pooler) (int, HealthResponse) {
	w := httptest.NewRecorder()
	NewHealthCheck(db).ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/cfsmime/health", nil))
	var r struct {
		api.Response
		Result HealthResponse `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r))
	require.True(t, r.Success)
	return w.Code, r.Result
}

func TestHealthCheck(t *testing.T) {
	code, res := check(t, pooler{})
	require.Equal(t, http.StatusOK, code)
	require.True(t, res.Healthy)

	code, res = check(t, pooler{err: errors.New("database is locked")})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.False(t, res.Healthy)
}
