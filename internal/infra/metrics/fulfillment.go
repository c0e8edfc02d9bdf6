package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		fulfillmentsTotal,
		inventoryLevel,
		salesState,
		notificationsTotal,
	)
}

var (
	fulfillmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillments_total",
			Help: "Credential assignment attempts by tier and result.",
		},
		[]string{"tier", "result"}, // result: delivered|out_of_stock|invalid_state|error
	)

	inventoryLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inventory_credentials",
			Help: "Credentials waiting in each tier queue.",
		},
		[]string{"tier"},
	)

	salesState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sales_state",
			Help: "1 for the current sales state, 0 otherwise.",
		},
		[]string{"state"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Outbound notifier messages by result.",
		},
		[]string{"result"}, // sent|error|dropped
	)
)

func IncFulfillment(tier, result string) {
	fulfillmentsTotal.WithLabelValues(norm(tier), norm(result)).Inc()
}

func SetInventoryLevel(tier string, n int) {
	inventoryLevel.WithLabelValues(norm(tier)).Set(float64(n))
}

// SetSalesState flips the one-hot sales gauge to current.
func SetSalesState(current string, all ...string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		salesState.WithLabelValues(norm(s)).Set(v)
	}
}

func IncNotification(result string) {
	notificationsTotal.WithLabelValues(norm(result)).Inc()
}
