// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package prometheus

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
)

var _ monitoring.MonitorInterface = (*Monitor)(nil)

type Monitor struct {
	service string

	responseTime   *prometheus.HistogramVec
	dependencies   *prometheus.GaugeVec
	runTransitions *prometheus.CounterVec
	observers      prometheus.Gauge
	droppedEvents  *prometheus.CounterVec

	logger logging.LoggerInterface
}

func (m *Monitor) GetService() string {
	return m.service
}

func (m *Monitor) SetResponseTimeMetric(tags map[string]string, value float64) error {
	if m.responseTime == nil {
		return fmt.Errorf("metric not instantiated")
	}

	m.responseTime.With(tags).Observe(value)

	return nil
}

func (m *Monitor) SetDependencyAvailability(tags map[string]string, value float64) error {
	if m.dependencies == nil {
		return fmt.Errorf("metric not instantiated")
	}

	m.dependencies.With(tags).Set(value)

	return nil
}

func (m *Monitor) IncRunTransitions(tags map[string]string) error {
	if m.runTransitions == nil {
		return fmt.Errorf("metric not instantiated")
	}

	m.runTransitions.With(tags).Inc()

	return nil
}

func (m *Monitor) SetObserverCount(value float64) error {
	if m.observers == nil {
		return fmt.Errorf("metric not instantiated")
	}

	m.observers.Set(value)

	return nil
}

func (m *Monitor) IncDroppedEvents(tags map[string]string) error {
	if m.droppedEvents == nil {
		return fmt.Errorf("metric not instantiated")
	}

	m.droppedEvents.With(tags).Inc()

	return nil
}

func (m *Monitor) registerHistograms() {
	m.responseTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_response_time_seconds",
			Help: "http_response_time_seconds",
		},
		[]string{"route", "status"},
	)

	m.register(m.responseTime)
}

func (m *Monitor) registerGauges() {
	m.dependencies = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dependency_available",
			Help: "dependency_available",
		},
		[]string{"component"},
	)

	m.observers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "event_bus_observers",
			Help: "number of live event stream observers",
		},
	)

	m.register(m.dependencies)
	m.register(m.observers)
}

func (m *Monitor) registerCounters() {
	m.runTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_run_transitions_total",
			Help: "task run state transitions by target status",
		},
		[]string{"status"},
	)

	m.droppedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_bus_dropped_events_total",
			Help: "events dropped because an observer buffer was full",
		},
		[]string{"type"},
	)

	m.register(m.runTransitions)
	m.register(m.droppedEvents)
}

func (m *Monitor) register(c prometheus.Collector) {
	if err := prometheus.Register(c); err != nil {
		m.logger.Debugf("metric already registered: %v", err)
	}
}

// NewMonitor creates a new Prometheus-backed monitor and registers its collectors
func NewMonitor(service string, logger logging.LoggerInterface) *Monitor {
	m := new(Monitor)

	m.service = service
	m.logger = logger

	m.registerHistograms()
	m.registerGauges()
	m.registerCounters()

	return m
}
