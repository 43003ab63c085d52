// Package monitor exposes the instrument's operational metrics.
package monitor

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rfpm_active_connections",
		Help: "Currently open SCPI sessions",
	})

	TotalConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rfpm_connections_total",
		Help: "Accepted SCPI connections",
	})

	CommandsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rfpm_commands_total",
		Help: "SCPI commands dispatched",
	})

	CommandErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rfpm_command_errors_total",
		Help: "SCPI commands that failed parsing or dispatch",
	})

	SampleTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rfpm_sample_ticks_total",
		Help: "Completed measurement ticks",
	})

	BusTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rfpm_bus_timeouts_total",
		Help: "Bus transactions that hit the deadline",
	})

	HotSwapEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rfpm_hotswap_events_total",
		Help: "Sensor attach/detach transitions",
	})
)

var registerOnce sync.Once

// Register installs the collectors in the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ActiveConnections,
			TotalConnections,
			CommandsProcessed,
			CommandErrors,
			SampleTicks,
			BusTimeouts,
			HotSwapEvents,
		)
	})
}

// StartMetricsServer serves /metrics and /health on the given port.
func StartMetricsServer(port int, log *logrus.Logger) {
	Register()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	log.Infof("metrics listening on %s", addr)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("metrics server error: %v", err)
		}
	}()
}
