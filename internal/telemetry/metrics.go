// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeRetried   = "retried"
)

// PipelineMetrics records processing outcomes and stage latency. A nil
// receiver records nothing.
type PipelineMetrics struct {
	items    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewPipelineMetrics registers the pipeline metrics on reg.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_items_total",
		Help: "Media items that left the pipeline, by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Duration of pipeline stages in seconds.",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"stage"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_provider_calls_in_flight",
		Help: "Provider calls currently holding the admission gate.",
	})
	reg.MustRegister(items, duration, inFlight)
	return &PipelineMetrics{items: items, duration: duration, inFlight: inFlight}
}

func (m *PipelineMetrics) ObserveStage(stage string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(stage)).Observe(d.Seconds())
}

func (m *PipelineMetrics) CountItem(outcome string) {
	if m == nil || m.items == nil {
		return
	}
	m.items.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// GateEntered and GateLeft track admission gate occupancy.
func (m *PipelineMetrics) GateEntered() {
	if m == nil || m.inFlight == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *PipelineMetrics) GateLeft() {
	if m == nil || m.inFlight == nil {
		return
	}
	m.inFlight.Dec()
}

// SearchMetrics records search traffic. A nil receiver records nothing.
type SearchMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewSearchMetrics(reg prometheus.Registerer) *SearchMetrics {
	if reg == nil {
		return &SearchMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "search_requests_total",
		Help: "Search requests by operation and outcome.",
	}, []string{"operation", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "search_latency_seconds",
		Help:    "End to end search latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	reg.MustRegister(requests, latency)
	return &SearchMetrics{requests: requests, latency: latency}
}

func (m *SearchMetrics) Observe(operation, outcome string, d time.Duration) {
	if m == nil || m.requests == nil {
		return
	}
	op := normalizeLabel(operation)
	m.requests.WithLabelValues(op, normalizeLabel(outcome)).Inc()
	m.latency.WithLabelValues(op).Observe(d.Seconds())
}

// MetricsHandler serves the metrics gathered by g.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
