package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pairingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qbo_sync_pairing_duration_seconds",
			Help:    "Duration of one account/object type sync",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		},
		[]string{"object_type", "status"},
	)

	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qbo_sync_records_total",
			Help: "Records committed by the sync engine",
		},
		[]string{"object_type"},
	)

	pairingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qbo_sync_pairings_total",
			Help: "Finished pairing syncs by outcome",
		},
		[]string{"object_type", "status"},
	)

	tokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qbo_token_refreshes_total",
			Help: "Access token refreshes by result",
		},
		[]string{"result"},
	)
)
