// Package serve implements the serve command.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cloudflare/cfsmime/api/crl"
	"github.com/cloudflare/cfsmime/api/dkimverify"
	"github.com/cloudflare/cfsmime/api/health"
	"github.com/cloudflare/cfsmime/api/verify"
	"github.com/cloudflare/cfsmime/cli"
	"github.com/cloudflare/cfsmime/config"
	"github.com/cloudflare/cfsmime/dkim"
	"github.com/cloudflare/cfsmime/log"
	"github.com/cloudflare/cfsmime/smime"
	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Usage text of 'cfsmime serve'
var serverUsageText = `cfsmime serve -- set up a HTTP server handling cfsmime requests

Usage of serve:
        cfsmime serve [-address address] [-port port] [-config config]

Endpoints:
        POST /api/v1/cfsmime/verify       verify a signed message
        POST /api/v1/cfsmime/dkimverify   verify DKIM signatures and the ARC chain
        POST /api/v1/cfsmime/crl          import a CRL
        GET  /api/v1/cfsmime/health       check the certificate database
        GET  /metrics                     Prometheus metrics

Flags:
`

// Flags used by 'cfsmime serve'
var serverFlags = []string{"address", "port", "config"}

// keyCacheTTL is how long DKIM keys found in DNS are reused.
const keyCacheTTL = 10 * time.Minute

// registerHandlers instantiates various handlers and associates them to corresponding endpoints.
func registerHandlers(mux *http.ServeMux, sc *smime.Context, cfg *config.DKIM) {
	log.Info("Setting up verify endpoint")
	mux.Handle("/api/v1/cfsmime/verify", verify.NewHandler(sc))

	log.Info("Setting up DKIM verify endpoint")
	v := &dkim.Verifier{
		Locator: dkim.NewCachingLocator(dkim.NewDNSLocator(cfg), keyCacheTTL),
		Clock:   clock.New(),
	}
	mux.Handle("/api/v1/cfsmime/dkimverify", dkimverify.NewHandler(v))

	log.Info("Setting up CRL endpoint")
	mux.Handle("/api/v1/cfsmime/crl", crl.NewHandler(sc))

	log.Info("Setting up health endpoint")
	mux.Handle("/api/v1/cfsmime/health", health.NewHealthCheck(sc.Backend))

	mux.Handle("/metrics", promhttp.Handler())
	log.Info("Handler set up complete.")
}

// serverMain is the command line entry point to the API server. It sets up a
// new HTTP server to handle verify, dkimverify and CRL requests.
func serverMain(args []string, c cli.Config) error {
	// serve doesn't support arguments.
	if len(args) > 0 {
		return errors.New("argument is provided but not defined; please refer to the usage by flag -h")
	}

	sc, err := cli.OpenContext(context.Background(), c)
	if err != nil {
		return err
	}
	defer sc.Close()

	var cfg *config.DKIM
	if c.CFG != nil {
		cfg = c.CFG.DKIM
	}
	mux := http.NewServeMux()
	registerHandlers(mux, sc, cfg)

	addr := fmt.Sprintf("%s:%d", c.Address, c.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info("Now listening on ", addr)
	return srv.ListenAndServe()
}

// Command assembles the definition of Command 'serve'
var Command = &cli.Command{UsageText: serverUsageText, Flags: serverFlags, Main: serverMain}
