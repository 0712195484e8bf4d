// Package metrics holds the prometheus collectors for webhooks, the lead
// engine, collaborator calls and the due scanner.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "leadengine"

// WebhookMetrics exposes counters/histograms for provider webhooks.
type WebhookMetrics struct {
	inboundTotal   *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "inbound_total",
			Help:      "Inbound provider webhooks by provider and status",
		}, []string{"provider", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.webhookLatency)
	return m
}

func (m *WebhookMetrics) ObserveInbound(provider, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(provider, status).Inc()
}

func (m *WebhookMetrics) ObserveLatency(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// EngineMetrics records state machine steps and collaborator calls.
type EngineMetrics struct {
	steps        *prometheus.CounterVec
	triage       *prometheus.CounterVec
	appointments *prometheus.CounterVec
	cadenceSends *prometheus.CounterVec
	suppressions *prometheus.CounterVec
	calls        *prometheus.HistogramVec
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "steps_total",
			Help:      "Lead steps by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		triage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "triage_total",
			Help:      "Triage verdicts by classification and source",
		}, []string{"classification", "source"}),
		appointments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "appointment_extractions_total",
			Help:      "Appointment extractions by classification",
		}, []string{"classification"}),
		cadenceSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "cadence_sends_total",
			Help:      "Cadence and follow-up touches sent",
		}, []string{"plan", "channel"}),
		suppressions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "suppressions_total",
			Help:      "Leads suppressed by reason",
		}, []string{"reason"}),
		calls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "collaborator",
			Name:      "call_seconds",
			Help:      "Collaborator call latency by collaborator and outcome",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collaborator", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.steps, m.triage, m.appointments, m.cadenceSends, m.suppressions, m.calls)
	return m
}

func (m *EngineMetrics) ObserveStep(trigger, outcome string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(trigger, outcome).Inc()
}

func (m *EngineMetrics) ObserveTriage(classification, source string) {
	if m == nil {
		return
	}
	m.triage.WithLabelValues(classification, source).Inc()
}

func (m *EngineMetrics) ObserveAppointment(classification string) {
	if m == nil {
		return
	}
	m.appointments.WithLabelValues(classification).Inc()
}

func (m *EngineMetrics) ObserveCadenceSend(plan, channel string) {
	if m == nil {
		return
	}
	m.cadenceSends.WithLabelValues(plan, channel).Inc()
}

func (m *EngineMetrics) ObserveSuppression(reason string) {
	if m == nil {
		return
	}
	m.suppressions.WithLabelValues(reason).Inc()
}

// ObserveCall satisfies provider.CallObserver.
func (m *EngineMetrics) ObserveCall(collaborator, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(collaborator, outcome).Observe(d.Seconds())
}

// ScannerMetrics tracks due-scan cycles.
type ScannerMetrics struct {
	scans        *prometheus.CounterVec
	due          prometheus.Counter
	leaseSkipped prometheus.Counter
	duration     prometheus.Histogram
}

func NewScannerMetrics(reg prometheus.Registerer) *ScannerMetrics {
	m := &ScannerMetrics{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "scans_total",
			Help:      "Scan cycles by status",
		}, []string{"status"}),
		due: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "due_leads_total",
			Help:      "Leads found due across scans",
		}),
		leaseSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "lease_skipped_total",
			Help:      "Due ticks skipped because another worker held the lead's lease",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "scan_seconds",
			Help:      "Duration of a scan cycle",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.scans, m.due, m.leaseSkipped, m.duration)
	return m
}

func (m *ScannerMetrics) ObserveScan(status string, due int, d time.Duration) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(status).Inc()
	m.due.Add(float64(due))
	m.duration.Observe(d.Seconds())
}

func (m *ScannerMetrics) ObserveLeaseSkipped() {
	if m == nil {
		return
	}
	m.leaseSkipped.Inc()
}
