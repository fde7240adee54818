package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(ledgerRetriesTotal) }

var ledgerRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ledger_rpc_retries_total",
		Help: "Transient ledger RPC failures that triggered a retry, by method.",
	},
	[]string{"method"},
)

func IncLedgerRetry(method string) {
	ledgerRetriesTotal.WithLabelValues(method).Inc()
}
