package repository

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "repository",
		Name:      "sync_tasks_total",
		Help:      "Write-through sync tasks by repository and outcome.",
	}, []string{"repository", "outcome"})

	resyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "repository",
		Name:      "full_resync_total",
		Help:      "Full resync attempts by repository and outcome.",
	}, []string{"repository", "outcome"})

	fallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "repository",
		Name:      "backend_fallback_total",
		Help:      "Times a configured durable backend fell back to pure memory.",
	}, []string{"repository"})
)
