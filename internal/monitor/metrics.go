package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "stale_monitor",
		Name:      "checks_total",
		Help:      "Scan cycles performed.",
	})

	staleFoundTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "stale_monitor",
		Name:      "stale_orders_total",
		Help:      "Orders flagged stale.",
	})

	cancellationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "stale_monitor",
		Name:      "cancellations_total",
		Help:      "Stale orders cancelled on the exchange.",
	})

	recreationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "stale_monitor",
		Name:      "recreations_total",
		Help:      "Replacement orders successfully placed.",
	})
)
