package observability

import (
	"sort"
	"sync"
	"time"
)

// MetricsClient records in-process counters, gauges, and timers. It keeps a
// small snapshot readable by the health endpoint; exporting to an external
// system is a deployment concern, not a core one.
type MetricsClient struct {
	mu       sync.Mutex
	enabled  bool
	counters map[string]float64
	gauges   map[string]float64
	timers   map[string]timerStats
}

type timerStats struct {
	Count int64
	Total time.Duration
	Max   time.Duration
}

// NewMetricsClient creates a new metrics client
func NewMetricsClient() *MetricsClient {
	return &MetricsClient{
		enabled:  true,
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
		timers:   make(map[string]timerStats),
	}
}

// RecordCounter increments a counter metric
func (m *MetricsClient) RecordCounter(name string, value float64, labels map[string]string) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[keyWithLabels(name, labels)] += value
}

// RecordGauge records a gauge metric
func (m *MetricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[keyWithLabels(name, labels)] = value
}

// RecordTimer records a duration metric
func (m *MetricsClient) RecordTimer(name string, duration time.Duration, labels map[string]string) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := keyWithLabels(name, labels)
	stats := m.timers[key]
	stats.Count++
	stats.Total += duration
	if duration > stats.Max {
		stats.Max = duration
	}
	m.timers[key] = stats
}

// RecordLatency records a latency metric for an operation
func (m *MetricsClient) RecordLatency(operation string, duration time.Duration) {
	m.RecordTimer(operation+"_latency", duration, map[string]string{
		"operation": operation,
	})
}

// CounterValue returns the current value of a counter (zero if unknown)
func (m *MetricsClient) CounterValue(name string, labels map[string]string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[keyWithLabels(name, labels)]
}

func keyWithLabels(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	key := name
	for _, k := range keys {
		key += "|" + k + "=" + labels[k]
	}
	return key
}
