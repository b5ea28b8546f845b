package quickbooks

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	remoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qbo_remote_requests_total",
			Help: "Requests sent to the QuickBooks API by outcome class",
		},
		[]string{"class"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qbo_http_retries_total",
			Help: "Retries of QuickBooks API requests by failure class",
		},
		[]string{"class"},
	)
)

func classLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsUnauthorized(err):
		return "unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrServerError):
		return "server_error"
	case errors.Is(err, ErrNetwork):
		return "network"
	default:
		return "client_error"
	}
}
