package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operations counts automation runs by operation and outcome.
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eam_operations_total",
		Help: "Total number of automation operations by outcome",
	}, []string{"operation", "outcome"})

	// OperationDuration tracks how long automation runs take.
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eam_operation_duration_seconds",
		Help:    "Duration of automation operations",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400, 3600},
	}, []string{"operation"})

	// LockBusy counts acquires rejected because another operation held the stack.
	LockBusy = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eam_lock_busy_total",
		Help: "Total number of lease acquisitions rejected as busy",
	})

	// LockRenewals counts keep-alive renewals by result (ok, lost, error).
	LockRenewals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eam_lock_renewals_total",
		Help: "Total number of lease renewals by result",
	}, []string{"result"})

	// AuthAttempts counts authentication attempts by result.
	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eam_auth_attempts_total",
		Help: "Total number of authentication attempts by result",
	}, []string{"result"})

	// BatchItems counts batch items by kind (index, app) and outcome.
	BatchItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eam_batch_items_total",
		Help: "Total number of batch items processed by outcome",
	}, []string{"kind", "outcome"})

	// StoreSweeps counts janitor sweeps.
	StoreSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eam_store_sweeps_total",
		Help: "Total number of expired-record sweeps",
	})

	// StoreSweptRecords counts records removed by the janitor.
	StoreSweptRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eam_store_swept_records_total",
		Help: "Total number of expired records removed by sweeps",
	})
)
