// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	requestIDHeader = "X-Request-ID"

	// maxRequestIDBytes bounds caller-supplied request ids; longer ones are
	// replaced.
	maxRequestIDBytes = 128
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.wrote {
		return
	}
	r.status = code
	r.wrote = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wrote {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

// instrument adds the request id, access log and metrics around h and
// renders its error.
func (s *Server) instrument(route string, h handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > maxRequestIDBytes {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		if err := h(rec, r); err != nil {
			s.writeError(rec, r, err)
		}

		elapsed := time.Since(start)
		observeRequest(route, rec.status, elapsed)
		s.logger.Info("http.request",
			"request_id", id,
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", elapsed,
		)
	})
}

type metricsHTTP struct {
	once sync.Once

	requests *prometheus.CounterVec   // route, status
	duration *prometheus.HistogramVec // route
}

var httpMetrics metricsHTTP

func (m *metricsHTTP) init() {
	m.once.Do(func() {
		m.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relengine_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"route", "status"})
		m.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relengine_http_request_seconds",
			Help:    "HTTP request duration by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"})
		prometheus.MustRegister(m.requests, m.duration)
	})
}

func observeRequest(route string, status int, d time.Duration) {
	httpMetrics.init()
	httpMetrics.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	httpMetrics.duration.WithLabelValues(route).Observe(d.Seconds())
}
