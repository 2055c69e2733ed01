// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package query

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kbase/relation-engine-sub000/internal/errors"
)

type metricsQuery struct {
	once sync.Once

	queries  *prometheus.CounterVec   // shape, kind
	duration *prometheus.HistogramVec // shape
}

var qMetrics metricsQuery

func (m *metricsQuery) init() {
	m.once.Do(func() {
		m.queries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relengine_queries_total",
			Help: "Query requests by shape and error kind (\"ok\" on success)",
		}, []string{"shape", "kind"})
		m.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relengine_query_seconds",
			Help:    "Query request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"shape"})
		prometheus.MustRegister(m.queries, m.duration)
	})
}

func recordQuery(s shape, err error) {
	qMetrics.init()
	kind := "ok"
	if err != nil {
		kind = errors.KindOf(err).String()
	}
	qMetrics.queries.WithLabelValues(string(s), kind).Inc()
}

func observeQuery(s shape, sec float64) {
	qMetrics.init()
	qMetrics.duration.WithLabelValues(string(s)).Observe(sec)
}
