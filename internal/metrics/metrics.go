// Package metrics exposes Prometheus collectors for the offline cache lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks lifecycle and fetch counters for every managed app.
//
// All metrics use the offline_hub_ prefix. A nil *Metrics is valid and
// records nothing, so components can be built without a registry in tests.
type Metrics struct {
	// FetchTotal counts intercepted requests by strategy and source
	// (cache, network, fallback, error).
	FetchTotal *prometheus.CounterVec

	// LifecycleTotal counts install/activate runs by mode and result.
	LifecycleTotal *prometheus.CounterVec

	// OfflineDownloadTotal counts downloadOffline batches by result.
	OfflineDownloadTotal *prometheus.CounterVec

	// OfflineDownloadResources counts resources stored by downloadOffline.
	OfflineDownloadResources *prometheus.CounterVec

	// ActiveGeneration reports 1 for the digest currently serving an app.
	ActiveGeneration *prometheus.GaugeVec
}

// New creates offline-hub metrics and registers them with reg.
// Panics if registration fails (expected during initialization only).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_hub_fetch_total",
				Help: "Intercepted requests by app, strategy and source",
			},
			[]string{"app", "strategy", "source"},
		),
		LifecycleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_hub_lifecycle_total",
				Help: "Lifecycle events by app, event, mode and result",
			},
			[]string{"app", "event", "mode", "result"},
		),
		OfflineDownloadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_hub_offline_download_total",
				Help: "downloadOffline batches by app and result",
			},
			[]string{"app", "result"},
		),
		OfflineDownloadResources: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offline_hub_offline_download_resources_total",
				Help: "Resources stored by downloadOffline batches",
			},
			[]string{"app"},
		),
		ActiveGeneration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "offline_hub_active_generation",
				Help: "1 for the manifest digest currently serving an app",
			},
			[]string{"app", "digest"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.FetchTotal,
			m.LifecycleTotal,
			m.OfflineDownloadTotal,
			m.OfflineDownloadResources,
			m.ActiveGeneration,
		)
	}
	return m
}

// ObserveFetch records one intercepted request.
func (m *Metrics) ObserveFetch(app, strategy, source string) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(app, strategy, source).Inc()
}

// ObserveLifecycle records an install or activate run.
func (m *Metrics) ObserveLifecycle(app, event, mode string, err error) {
	if m == nil {
		return
	}
	m.LifecycleTotal.WithLabelValues(app, event, mode, result(err)).Inc()
}

// ObserveOfflineDownload records a downloadOffline batch and its size.
func (m *Metrics) ObserveOfflineDownload(app string, stored int, err error) {
	if m == nil {
		return
	}
	m.OfflineDownloadTotal.WithLabelValues(app, result(err)).Inc()
	if stored > 0 {
		m.OfflineDownloadResources.WithLabelValues(app).Add(float64(stored))
	}
}

// SetActiveGeneration moves the active gauge of app from previous to digest.
func (m *Metrics) SetActiveGeneration(app, previous, digest string) {
	if m == nil {
		return
	}
	if previous != "" && previous != digest {
		m.ActiveGeneration.DeleteLabelValues(app, previous)
	}
	m.ActiveGeneration.WithLabelValues(app, digest).Set(1)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
