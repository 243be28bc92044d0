// Package metrics keeps counters and latency histograms for probe calls, and
// exports them for Prometheus.
package metrics

import (
	"expvar"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds our collectors. It is separate from the default global
// registry, so importing packages can't pollute our /metrics output.
var Registry = prometheus.NewRegistry()

var (
	checksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netprobe",
			Name:      "checks_total",
			Help:      "Total number of probe calls, by probe and outcome",
		},
		[]string{"probe", "success"},
	)

	checkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "netprobe",
			Name:      "check_duration_seconds",
			Help:      "Wall time of probe calls, including failed ones",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"probe"},
	)
)

// Exported variables for the /debug/vars page.
var stats = struct {
	total  *expvar.Int
	failed *expvar.Int
}{}

func init() {
	stats.total = expvar.NewInt("checks-total")
	stats.failed = expvar.NewInt("checks-failed")

	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	Registry.MustRegister(checksTotal, checkDuration)
}

// Observe records the outcome of a probe call that started at the given
// time.
func Observe(probe string, success bool, start time.Time) {
	stats.total.Add(1)
	if !success {
		stats.failed.Add(1)
	}

	checksTotal.WithLabelValues(probe, strconv.FormatBool(success)).Inc()
	checkDuration.WithLabelValues(probe).Observe(time.Since(start).Seconds())
}

// Handler returns an HTTP handler that serves the metrics in the Prometheus
// exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
