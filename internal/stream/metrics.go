package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dumpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "stream",
		Name:      "dumps_total",
		Help:      "Batch dumps by kind and outcome.",
	}, []string{"kind", "outcome"})

	dumpedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "stream",
		Name:      "dumped_records_total",
		Help:      "Observations written to dump files by kind.",
	}, []string{"kind"})

	sweptFiles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "stream",
		Name:      "swept_files_total",
		Help:      "Dump files removed by the retention sweep.",
	})
)
