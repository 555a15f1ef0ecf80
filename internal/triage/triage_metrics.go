package triage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the triage subsystem. All helper
// methods tolerate a nil receiver so wiring metrics stays optional in tests.
type Metrics struct {
	TicksTotal       prometheus.Counter
	RoomsProcessed   prometheus.Counter
	TriggersTotal    *prometheus.CounterVec
	PassDuration     prometheus.Histogram
	IssuesTotal      prometheus.Counter
	DuplicatesTotal  *prometheus.CounterVec
	AlertsTotal      *prometheus.CounterVec
	NotifyFailures   prometheus.Counter
	LLMFailuresTotal *prometheus.CounterVec
	SweepsTotal      prometheus.Counter
	SweepRooms       prometheus.Counter
	PendingRooms     prometheus.Gauge
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poller_ticks_total",
			Help: "Total polling ticks executed.",
		}),
		RoomsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poller_rooms_processed_total",
			Help: "Total room triage passes started.",
		}),
		TriggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poller_triggers_total",
			Help: "Total room triggers by reason.",
		}, []string{"reason"}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "poller_pass_duration_seconds",
			Help:    "Duration of room triage passes in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}),
		IssuesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poller_issues_created_total",
			Help: "Total issue records created.",
		}),
		DuplicatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poller_duplicates_total",
			Help: "Total duplicate issues suppressed by dedup stage.",
		}, []string{"stage"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poller_alerts_sent_total",
			Help: "Total alert notifications sent by level.",
		}, []string{"level"}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poller_notify_failures_total",
			Help: "Total failed notification deliveries.",
		}),
		LLMFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poller_llm_failures_total",
			Help: "Total LLM collaborator failures by stage.",
		}, []string{"stage"}),
		SweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poller_sweeps_total",
			Help: "Total end-of-cycle sweeps executed.",
		}),
		SweepRooms: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poller_sweep_rooms_total",
			Help: "Total rooms flushed by end-of-cycle sweeps.",
		}),
		PendingRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poller_rooms_pending",
			Help: "Rooms with unprocessed messages at last tick.",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.RoomsProcessed,
		m.TriggersTotal,
		m.PassDuration,
		m.IssuesTotal,
		m.DuplicatesTotal,
		m.AlertsTotal,
		m.NotifyFailures,
		m.LLMFailuresTotal,
		m.SweepsTotal,
		m.SweepRooms,
		m.PendingRooms,
	)

	return m
}

// Tick records one polling tick and the current pending-room count.
func (m *Metrics) Tick(pending int) {
	if m == nil {
		return
	}
	m.TicksTotal.Inc()
	m.PendingRooms.Set(float64(pending))
}

// RoomPass records one room triage pass and its trigger reason.
func (m *Metrics) RoomPass(reason TriggerReason, d time.Duration) {
	if m == nil {
		return
	}
	m.RoomsProcessed.Inc()
	m.TriggersTotal.WithLabelValues(string(reason)).Inc()
	m.PassDuration.Observe(d.Seconds())
}

// IssueCreated records one new issue.
func (m *Metrics) IssueCreated() {
	if m == nil {
		return
	}
	m.IssuesTotal.Inc()
}

// Duplicate records a suppressed duplicate by stage.
func (m *Metrics) Duplicate(stage DedupStage) {
	if m == nil {
		return
	}
	m.DuplicatesTotal.WithLabelValues(string(stage)).Inc()
}

// AlertSent records one delivered notification by level.
func (m *Metrics) AlertSent(level AlertLevel) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(string(level)).Inc()
}

// NotifyFailure records one failed notification delivery.
func (m *Metrics) NotifyFailure() {
	if m == nil {
		return
	}
	m.NotifyFailures.Inc()
}

// LLMFailure records one collaborator failure by pipeline stage.
func (m *Metrics) LLMFailure(stage string) {
	if m == nil {
		return
	}
	m.LLMFailuresTotal.WithLabelValues(stage).Inc()
}

// Sweep records one end-of-cycle sweep and the rooms it flushed.
func (m *Metrics) Sweep(rooms int) {
	if m == nil {
		return
	}
	m.SweepsTotal.Inc()
	m.SweepRooms.Add(float64(rooms))
}
