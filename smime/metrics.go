package smime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfsmime_operations_total",
			Help: "How many secure MIME operations of each type succeeded or failed.",
		},
		[]string{"operation", "result"},
	)
	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cfsmime_operation_duration_seconds",
			Help:    "How long each secure MIME operation took.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

const (
	opCanSign    = "can_sign"
	opCanEncrypt = "can_encrypt"
	opSign       = "sign"
	opVerify     = "verify"
	opEncrypt    = "encrypt"
	opDecrypt    = "decrypt"
	opImport     = "import"
	opImportCRL  = "import_crl"
)

// observe records the outcome of an operation started at start.
func observe(operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	operations.WithLabelValues(operation, result).Inc()
	operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
