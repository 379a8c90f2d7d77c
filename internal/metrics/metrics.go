package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medremind"

// Metrics holds the dose lifecycle collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	startTime time.Time
	registry  *prometheus.Registry

	dosesTotal          *prometheus.CounterVec
	rolloversTotal      prometheus.Counter
	missedRecorded      prometheus.Counter
	remindersScheduled  *prometheus.CounterVec
	escalationsFired    *prometheus.CounterVec
	escalationsCanceled prometheus.Counter
	pendingDoses        prometheus.Gauge
	requestsTotal       *prometheus.CounterVec
	requestDuration     prometheus.Histogram
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

func New() *Metrics {
	m := &Metrics{
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
		dosesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "doses_total",
			Help:      "Dose resolutions by status and method.",
		}, []string{"status", "method"}),
		rolloversTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollovers_total",
			Help:      "Daily rollovers performed.",
		}),
		missedRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missed_doses_recorded_total",
			Help:      "Missed dose records written by rollover.",
		}),
		remindersScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_scheduled_total",
			Help:      "Reminder scheduling attempts by result (scheduled, quiet_hours, failed).",
		}, []string{"result"}),
		escalationsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_fired_total",
			Help:      "Escalation notifications fired by level.",
		}, []string{"level"}),
		escalationsCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_canceled_total",
			Help:      "Armed escalations canceled before completion.",
		}),
		pendingDoses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_doses",
			Help:      "Dose slots still pending today.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.dosesTotal,
		m.rolloversTotal,
		m.missedRecorded,
		m.remindersScheduled,
		m.escalationsFired,
		m.escalationsCanceled,
		m.pendingDoses,
		m.requestsTotal,
		m.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) RecordDose(status, method string) {
	if m == nil {
		return
	}
	m.dosesTotal.WithLabelValues(status, method).Inc()
}

func (m *Metrics) RecordRollover(missed int) {
	if m == nil {
		return
	}
	m.rolloversTotal.Inc()
	m.missedRecorded.Add(float64(missed))
}

func (m *Metrics) RecordReminder(result string) {
	if m == nil {
		return
	}
	m.remindersScheduled.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordEscalation(level int) {
	if m == nil {
		return
	}
	m.escalationsFired.WithLabelValues(levelLabel(level)).Inc()
}

func (m *Metrics) RecordEscalationCanceled() {
	if m == nil {
		return
	}
	m.escalationsCanceled.Inc()
}

func (m *Metrics) SetPendingDoses(n int) {
	if m == nil {
		return
	}
	m.pendingDoses.Set(float64(n))
}

func (m *Metrics) RecordRequest(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, codeLabel(code)).Inc()
	m.requestDuration.Observe(d.Seconds())
}

// Uptime reports how long the collectors have existed.
func (m *Metrics) Uptime() time.Duration {
	if m == nil {
		return 0
	}
	return time.Since(m.startTime)
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func levelLabel(level int) string {
	switch level {
	case 1:
		return "1"
	case 2:
		return "2"
	case 3:
		return "3"
	default:
		return "other"
	}
}

func codeLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
