package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PickRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "signalengine_pick_runs_total", Help: "Top-pick pipeline runs"},
	)
	PickSymbolsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signalengine_pick_symbols_total", Help: "Symbols evaluated by the pick pipeline, by outcome"},
		[]string{"outcome"},
	)
	StrategyFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signalengine_strategy_failures_total", Help: "Strategy computations that errored or panicked"},
		[]string{"strategy"},
	)
	LedgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signalengine_ledger_ops_total", Help: "Ledger operations, by operation and result"},
		[]string{"op", "result"},
	)
	MarketDataRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signalengine_marketdata_requests_total", Help: "Market data requests, by provider and result"},
		[]string{"provider", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		PickRunsTotal,
		PickSymbolsTotal,
		StrategyFailuresTotal,
		LedgerOpsTotal,
		MarketDataRequestsTotal,
	)
}

// Result maps an error to the "ok"/"error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func Handler() http.Handler {
	return promhttp.Handler()
}
