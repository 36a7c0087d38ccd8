package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ledgersync_ledger_operations_total",
	Help: "Ledger mutations by operation and result",
}, []string{"operation", "result"})

func observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(op, result).Inc()
}
