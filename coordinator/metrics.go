// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/canonical/cos-lib/roles"
)

const metricsNamespace = "cluster"

// Collector is a prometheus.Collector tracking the coordinator's view
// of its cluster across reconciliation passes.
type Collector struct {
	roleUnits    *prometheus.GaugeVec
	coherent     prometheus.Gauge
	recommended  prometheus.Gauge
	publishes    prometheus.Counter
	skippedPeers prometheus.Counter
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		roleUnits: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "role_units",
				Help:      "Number of worker units serving each role.",
			}, []string{"role"},
		),
		coherent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "coherent",
				Help:      "Whether the cluster satisfies the minimal deployment.",
			},
		),
		recommended: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "recommended",
				Help:      "Whether the cluster meets the recommended deployment.",
			},
		),
		publishes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "config_publishes_total",
				Help:      "Number of configuration broadcasts to the worker relations.",
			},
		),
		skippedPeers: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "skipped_peers_total",
				Help:      "Number of peer databags skipped for malformed content.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (col *Collector) Describe(ch chan<- *prometheus.Desc) {
	col.roleUnits.Describe(ch)
	col.coherent.Describe(ch)
	col.recommended.Describe(ch)
	col.publishes.Describe(ch)
	col.skippedPeers.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (col *Collector) Collect(ch chan<- prometheus.Metric) {
	col.roleUnits.Collect(ch)
	col.coherent.Collect(ch)
	col.recommended.Collect(ch)
	col.publishes.Collect(ch)
	col.skippedPeers.Collect(ch)
}

// observe records one reconciliation pass's view of the cluster.
func (col *Collector) observe(spec roles.Spec, census roles.Census, verdict Verdict) {
	col.roleUnits.Reset()
	for _, role := range spec.Roles {
		col.roleUnits.WithLabelValues(string(role)).Set(0)
	}
	for role, n := range census {
		col.roleUnits.WithLabelValues(string(role)).Set(float64(n))
	}
	col.coherent.Set(gaugeValue(verdict.Coherent))
	if verdict.Recommended != nil {
		col.recommended.Set(gaugeValue(*verdict.Recommended))
	}
}

func gaugeValue(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
