package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentTransitionsTotal,
		paymentsRevenueTotal,
		lateApprovalsTotal,
		gatewayRequestsTotal,
		gatewayRequestDuration,
		webhookEventsTotal,
	)
}

var (
	paymentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_transitions_total",
			Help: "Payment status changes by target status.",
		},
		[]string{"to"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "Value of fulfilled payments, labeled by tier.",
		},
		[]string{"tier"},
	)

	// Approved at the gateway after the payment was already expired or cancelled locally.
	lateApprovalsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_late_approvals_total",
			Help: "Gateway approvals received for payments in a terminal state.",
		},
	)

	gatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Outbound gateway calls by operation and result.",
		},
		[]string{"op", "result"}, // op: create|status|cancel
	)

	gatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Outbound gateway call latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"op"},
	)

	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_webhook_events_total",
			Help: "Inbound gateway notifications by outcome.",
		},
		[]string{"outcome"}, // applied|ignored|error
	)
)

func IncPaymentTransition(to string) {
	paymentTransitionsTotal.WithLabelValues(norm(to)).Inc()
}

func AddPaymentRevenue(tier string, amount float64) {
	paymentsRevenueTotal.WithLabelValues(norm(tier)).Add(amount)
}

func IncLateApproval() {
	lateApprovalsTotal.Inc()
}

func ObserveGatewayRequest(op string, ok bool, seconds float64) {
	result := "ok"
	if !ok {
		result = "error"
	}
	gatewayRequestsTotal.WithLabelValues(norm(op), result).Inc()
	gatewayRequestDuration.WithLabelValues(norm(op)).Observe(seconds)
}

func IncWebhookEvent(outcome string) {
	webhookEventsTotal.WithLabelValues(norm(outcome)).Inc()
}
