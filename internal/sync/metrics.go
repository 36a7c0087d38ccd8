package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgersync_sync_runs_total",
		Help: "Push and pull runs by outcome",
	}, []string{"direction", "result"})

	syncRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgersync_sync_rows_total",
		Help: "Rows sent on push or applied on pull, per table",
	}, []string{"direction", "table"})

	syncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgersync_sync_duration_seconds",
		Help:    "Wall time of push and pull runs",
		Buckets: prometheus.DefBuckets,
	}, []string{"direction"})
)

func recordRun(direction string, seconds float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	syncRunsTotal.WithLabelValues(direction, result).Inc()
	syncDuration.WithLabelValues(direction).Observe(seconds)
}

func recordRows(direction string, t Tables) {
	add := func(table string, n int) {
		if n > 0 {
			syncRowsTotal.WithLabelValues(direction, table).Add(float64(n))
		}
	}
	add(TablePayBook, len(t.PayBook.Upserts)+len(t.PayBook.Deletes))
	add(TableCollectBook, len(t.CollectBook.Upserts)+len(t.CollectBook.Deletes))
	add(TableSettlements, len(t.Settlements.Upserts)+len(t.Settlements.Deletes))
}
