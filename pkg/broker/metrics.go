// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package broker

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the broker's optional Prometheus surface: a tool-call counter
// and duration histogram, an in-flight gauge, a context-pressure gauge, and
// a studio-launch counter, plus an eviction counter for the context window.
type Metrics struct {
	registry *prometheus.Registry

	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolCallsActive  prometheus.Gauge
	contextPressure  prometheus.Gauge
	studioLaunches   *prometheus.CounterVec
	evictionsTotal   *prometheus.CounterVec
}

// NewMetrics constructs and registers the broker's metric collectors
// against a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_tool_calls_total",
			Help: "Total call_tool invocations by tool name and outcome.",
		}, []string{"tool", "status"}),
		toolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "broker_tool_call_duration_seconds",
			Help:    "call_tool handler latency by tool name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		toolCallsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_tool_calls_active",
			Help: "Number of call_tool invocations currently in flight.",
		}),
		contextPressure: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_context_pressure",
			Help: "Current context-window pressure: 0=low 1=medium 2=high 3=critical.",
		}),
		studioLaunches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_studio_launches_total",
			Help: "Total studio launch attempts by outcome.",
		}, []string{"outcome"}),
		evictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_context_evictions_total",
			Help: "Total context items evicted, by triggering strategy.",
		}, []string{"strategy"}),
	}

	reg.MustRegister(
		m.toolCallsTotal, m.toolCallDuration, m.toolCallsActive,
		m.contextPressure, m.studioLaunches, m.evictionsTotal,
	)
	return m
}

// Registry exposes the underlying *prometheus.Registry for a metrics HTTP
// handler to mount.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) observeToolCall(tool, status string, seconds float64) {
	if m == nil {
		return
	}
	m.toolCallsTotal.WithLabelValues(tool, status).Inc()
	m.toolCallDuration.WithLabelValues(tool).Observe(seconds)
}

func (m *Metrics) incActive() {
	if m == nil {
		return
	}
	m.toolCallsActive.Inc()
}

func (m *Metrics) decActive() {
	if m == nil {
		return
	}
	m.toolCallsActive.Dec()
}

func (m *Metrics) setContextPressure(level int) {
	if m == nil {
		return
	}
	m.contextPressure.Set(float64(level))
}

func (m *Metrics) observeStudioLaunch(outcome string) {
	if m == nil {
		return
	}
	m.studioLaunches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeEviction(strategy string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.evictionsTotal.WithLabelValues(strategy).Add(float64(count))
}

func pressureLevel(p string) int {
	switch p {
	case "medium":
		return 1
	case "high":
		return 2
	case "critical":
		return 3
	default:
		return 0
	}
}
