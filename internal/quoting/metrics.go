package quoting

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// QuoteBidPrice tracks the last computed bid target per instrument
	QuoteBidPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quotecore_quote_bid_price",
			Help: "Last computed bid quote price per instrument",
		},
		[]string{"instrument"},
	)

	// QuoteAskPrice tracks the last computed ask target per instrument
	QuoteAskPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quotecore_quote_ask_price",
			Help: "Last computed ask quote price per instrument",
		},
		[]string{"instrument"},
	)

	// QuotesHeld counts quote sides held back by the validator
	QuotesHeld = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotecore_quotes_held_total",
			Help: "Quote sides held back instead of dispatched",
		},
		[]string{"instrument", "side"},
	)

	// ActiveQuoteOrders tracks resting orders currently tracked per side
	ActiveQuoteOrders = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quotecore_active_quote_orders",
			Help: "Resting quote orders currently tracked per instrument side",
		},
		[]string{"instrument", "side"},
	)

	// OrderRequestErrors counts failed submit/replace/cancel round-trips
	OrderRequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotecore_order_request_errors_total",
			Help: "Failed order submit/replace/cancel requests",
		},
		[]string{"instrument", "side", "op"},
	)

	// UpdateRejections counts single-flight rejections of overlapping updates
	UpdateRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotecore_update_rejections_total",
			Help: "Quote updates rejected because a previous update was in flight",
		},
		[]string{"instrument", "side"},
	)
)

// RegisterMetrics registers all quoting collectors with the registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		QuoteBidPrice,
		QuoteAskPrice,
		QuotesHeld,
		ActiveQuoteOrders,
		OrderRequestErrors,
		UpdateRejections,
	)
}
