package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	FetchCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swaps_fetch_cycles_total",
		Help: "Fetch cycles by outcome (committed, failed, discarded)",
	}, []string{"outcome"})

	FetchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "swaps_fetch_latency_seconds",
		Help:    "Duration of one quote fetch cycle",
		Buckets: prometheus.DefBuckets,
	})

	QuotesReceived = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swaps_quotes_received",
		Help: "Quotes returned by the backends in the last cycle",
	})

	GasEstimates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swaps_gas_estimates_total",
		Help: "Gas estimate attempts by result (ok, timeout, error)",
	}, []string{"result"})

	TopSavingsEth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swaps_top_savings_eth",
		Help: "Total savings of the best quote vs the median, in ETH",
	})

	PollingCyclesLeft = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swaps_polling_cycles_left",
		Help: "Poll cycles remaining for the current params",
	})

	BridgeRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swaps_bridge_requests_total",
		Help: "Bridge operations by op and result",
	}, []string{"op", "result"})
)

func init() {
	prometheus.MustRegister(
		FetchCycles,
		FetchLatency,
		QuotesReceived,
		GasEstimates,
		TopSavingsEth,
		PollingCyclesLeft,
		BridgeRequests,
	)
}
