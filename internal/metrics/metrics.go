package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PrescriptionsIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clinicdesk_prescriptions_issued_total",
			Help: "Prescriptions persisted after successful inventory consumption",
		},
	)

	ConsumptionRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clinicdesk_consumption_rejected_total",
			Help: "Consumption batches rejected because at least one item was short",
		},
	)

	LedgerAdjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicdesk_ledger_adjustments_total",
			Help: "Inventory adjustments written to the ledger",
		},
		[]string{"source"},
	)

	PartialConsumptions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clinicdesk_partial_consumptions_total",
			Help: "Sequential consumption batches that failed after decrementing some items",
		},
	)

	CompensatingDeletes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clinicdesk_prescription_compensating_deletes_total",
			Help: "Prescription headers removed because their lines could not be written",
		},
	)
)

func init() {
	prometheus.MustRegister(
		PrescriptionsIssued,
		ConsumptionRejected,
		LedgerAdjustments,
		PartialConsumptions,
		CompensatingDeletes,
	)
}

// Handler exposes the registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
