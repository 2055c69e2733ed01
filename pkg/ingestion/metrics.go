// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsIngestion holds Prometheus metrics for the importer.
type metricsIngestion struct {
	once sync.Once

	// Input lines
	linesRead     prometheus.Counter
	linesEmpty    prometheus.Counter
	linesRejected *prometheus.CounterVec // reason=parse|validation

	// Backend outcome per document
	documents *prometheus.CounterVec // result=created|updated|replaced|ignored|errors

	// Imports
	imports   *prometheus.CounterVec // outcome=ok|failed
	truncates prometheus.Counter

	// Durations
	stageDuration prometheus.Histogram
	loadDuration  prometheus.Histogram
	totalDuration prometheus.Histogram
}

var ingMetrics metricsIngestion

func (m *metricsIngestion) init() {
	m.once.Do(func() {
		m.linesRead = prometheus.NewCounter(prometheus.CounterOpts{Name: "relengine_import_lines_total", Help: "Input lines read by the importer"})
		m.linesEmpty = prometheus.NewCounter(prometheus.CounterOpts{Name: "relengine_import_lines_empty_total", Help: "Blank input lines"})
		m.linesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "relengine_import_lines_rejected_total", Help: "Input lines dropped before loading"}, []string{"reason"})

		m.documents = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "relengine_import_documents_total", Help: "Documents by bulk load outcome"}, []string{"result"})

		m.imports = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "relengine_imports_total", Help: "Import requests by outcome"}, []string{"outcome"})
		m.truncates = prometheus.NewCounter(prometheus.CounterOpts{Name: "relengine_import_truncates_total", Help: "Collections truncated before import"})

		buckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
		m.stageDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "relengine_import_stage_seconds", Help: "Time spent parsing, validating and staging input", Buckets: buckets})
		m.loadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "relengine_import_load_seconds", Help: "Time spent in the bulk load call", Buckets: buckets})
		m.totalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "relengine_import_total_seconds", Help: "Total import duration", Buckets: buckets})

		prometheus.MustRegister(
			m.linesRead, m.linesEmpty, m.linesRejected,
			m.documents,
			m.imports, m.truncates,
			m.stageDuration, m.loadDuration, m.totalDuration,
		)
	})
}

// record helpers - used by the importer for metrics tracking
func recordLine()               { ingMetrics.init(); ingMetrics.linesRead.Inc() }
func recordEmptyLine()          { ingMetrics.init(); ingMetrics.linesEmpty.Inc() }
func recordRejected(why string) { ingMetrics.init(); ingMetrics.linesRejected.WithLabelValues(why).Inc() }
func recordTruncate()           { ingMetrics.init(); ingMetrics.truncates.Inc() }

func recordOutcome(ok bool) {
	ingMetrics.init()
	if ok {
		ingMetrics.imports.WithLabelValues("ok").Inc()
		return
	}
	ingMetrics.imports.WithLabelValues("failed").Inc()
}

func recordResult(r *Result) {
	ingMetrics.init()
	ingMetrics.documents.WithLabelValues("created").Add(float64(r.Created))
	ingMetrics.documents.WithLabelValues("updated").Add(float64(r.Updated))
	ingMetrics.documents.WithLabelValues("replaced").Add(float64(r.Replaced))
	ingMetrics.documents.WithLabelValues("ignored").Add(float64(r.Ignored))
	ingMetrics.documents.WithLabelValues("errors").Add(float64(r.Errors))
}

func observeStage(sec float64) { ingMetrics.init(); ingMetrics.stageDuration.Observe(sec) }
func observeLoad(sec float64)  { ingMetrics.init(); ingMetrics.loadDuration.Observe(sec) }
func observeTotal(sec float64) { ingMetrics.init(); ingMetrics.totalDuration.Observe(sec) }
