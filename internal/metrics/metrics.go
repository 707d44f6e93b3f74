package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgerOperationsTotal counts ledger operations by action and result
	LedgerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Total number of ledger operations",
		},
		[]string{"action", "result"},
	)

	// SupplyChange tracks the amount of tokens issued and retired
	SupplyChange = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_supply_change_total",
			Help: "Amount of tokens issued or retired",
		},
		[]string{"symbol", "direction"},
	)

	// Supply tracks the current supply per symbol as seen by the reconciler
	Supply = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledger_supply",
			Help: "Current supply by symbol",
		},
		[]string{"symbol"},
	)

	// InvariantViolations counts reconciliation runs that found balances and supply out of step
	InvariantViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_invariant_violations_total",
			Help: "Total number of supply invariant violations detected",
		},
		[]string{"symbol", "kind"},
	)

	// UnitsTotal counts units of execution by result
	UnitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_units_total",
			Help: "Total number of units of execution",
		},
		[]string{"name", "result"},
	)

	// UnitDuration tracks unit processing time
	UnitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_unit_duration_seconds",
			Help:    "Unit of execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"name"},
	)

	// StepsTotal counts scheduled steps by name and result
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_steps_total",
			Help: "Total number of executed steps",
		},
		[]string{"step", "result"},
	)

	// SagaTransitions counts saga state transitions
	SagaTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_saga_transitions_total",
			Help: "Total number of saga state transitions",
		},
		[]string{"kind", "state"},
	)

	// PendingSagas tracks number of non-terminal sagas seen by the last sweep
	PendingSagas = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_pending_sagas",
			Help: "Number of non-terminal sagas by kind",
		},
		[]string{"kind"},
	)

	// EventsRouted counts incoming calls by classification
	EventsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_calls_total",
			Help: "Total number of routed calls by kind",
		},
		[]string{"kind"},
	)

	// EventsConsumed counts events read from external transports
	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_consumed_total",
			Help: "Total number of events consumed from external transports",
		},
		[]string{"topic", "result"},
	)

	// ErrorsTotal counts errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// TransactionsSent counts transactions sent to the EVM staking backend
	TransactionsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evm_transactions_sent_total",
			Help: "Total number of transactions sent",
		},
		[]string{"method", "status"},
	)

	// GasUsed tracks gas used for EVM transactions
	GasUsed = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evm_gas_used",
			Help:    "Gas used for EVM transactions",
			Buckets: []float64{21000, 50000, 100000, 200000, 300000, 500000},
		},
		[]string{"method"},
	)
)
