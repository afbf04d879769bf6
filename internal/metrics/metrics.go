package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordergw_orders_total",
			Help: "Order submissions by outcome",
		},
		[]string{"result"}, // accepted|invalid|conflict|error
	)

	BusDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordergw_bus_deliveries_total",
			Help: "In-process bus handler invocations by topic and outcome",
		},
		[]string{"topic", "result"}, // ok|failed
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordergw_notifications_total",
			Help: "Per-item notification outcomes",
		},
		[]string{"result"}, // sent|skipped|failed
	)

	ReplayedEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ordergw_replayed_events_total",
			Help: "Outbox events driven through the notifier by replay",
		},
	)
)

var registerOnce sync.Once

// MustRegister registers all collectors once; later calls are no-ops.
func MustRegister(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(
			OrdersTotal,
			BusDeliveriesTotal,
			NotificationsTotal,
			ReplayedEventsTotal,
		)
	})
}
