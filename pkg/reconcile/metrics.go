// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type metricsReconcile struct {
	once sync.Once

	runs      *prometheus.CounterVec // outcome=ok|drift
	unmatched *prometheus.GaugeVec   // kind=indexes|views|analyzers
	created   *prometheus.CounterVec // kind=collections|indexes|views|analyzers
}

var rcMetrics metricsReconcile

func (m *metricsReconcile) init() {
	m.once.Do(func() {
		m.runs = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "relengine_reconcile_runs_total", Help: "Verification runs by outcome"}, []string{"outcome"})
		m.unmatched = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "relengine_reconcile_unmatched", Help: "Declared specs without a live counterpart at the last verification"}, []string{"kind"})
		m.created = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "relengine_reconcile_created_total", Help: "Resources created by initialization"}, []string{"kind"})
		prometheus.MustRegister(m.runs, m.unmatched, m.created)
	})
}

func recordReport(r *Report) {
	rcMetrics.init()
	outcome := "ok"
	if !r.OK() {
		outcome = "drift"
	}
	rcMetrics.runs.WithLabelValues(outcome).Inc()
	rcMetrics.unmatched.WithLabelValues("indexes").Set(float64(len(r.Indexes)))
	rcMetrics.unmatched.WithLabelValues("views").Set(float64(len(r.Views)))
	rcMetrics.unmatched.WithLabelValues("analyzers").Set(float64(len(r.Analyzers)))
}

func recordCreated(kind string) { rcMetrics.init(); rcMetrics.created.WithLabelValues(kind).Inc() }
