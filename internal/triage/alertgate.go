package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// AlertGate decides whether an issue should page an operator, and at what
// level. Every decision is recorded against a room-scoped dedup key so a
// recurring problem renotifies on a per-level schedule instead of on every
// triage pass, while an escalation to a more severe level cuts through
// immediately. A recorded level never moves down: recurrence at a lower
// level is still the same incident.
type AlertGate struct {
	Events  AlertEventStore
	MinHits int

	// Resend windows per level. P3 reuses the P2 window.
	WindowP0 time.Duration
	WindowP1 time.Duration
	WindowP2 time.Duration

	now func() time.Time
}

// NewAlertGate returns a gate with the given store and windows.
func NewAlertGate(events AlertEventStore, minHits int, p0, p1, p2 time.Duration) *AlertGate {
	return &AlertGate{
		Events:   events,
		MinHits:  minHits,
		WindowP0: p0,
		WindowP1: p1,
		WindowP2: p2,
		now:      time.Now,
	}
}

// ComputeLevel maps an issue's risk and severity to an alert level.
func ComputeLevel(riskScore int, severity Severity) AlertLevel {
	switch {
	case riskScore >= 90 || severity == SeverityS4:
		return LevelP0
	case severity == SeverityS3:
		return LevelP1
	case severity == SeverityS2:
		return LevelP2
	default:
		return LevelP3
	}
}

// Eligible reports whether the issue qualifies for alerting at all.
func Eligible(issue *Issue, risk *RiskAssessment) bool {
	if risk != nil && risk.AlertFlag {
		return true
	}
	if issue.Severity.AtLeast(SeverityS2) {
		return true
	}
	return issue.IsBug && issue.RiskScore >= 80
}

// DedupKey is the identity an alert event is tracked under: the room alone.
// Keying on phenomenon text would let a reworded recurrence mint a fresh
// event and renotify inside the window.
func DedupKey(roomID string) string {
	return roomID
}

// GateDecision is the outcome of one gate evaluation.
type GateDecision struct {
	Notify    bool
	Level     AlertLevel
	Escalated bool
	HitCount  int
	Reason    string // suppression reason when Notify is false
}

// Decide runs the issue through the gate and persists the updated event.
func (g *AlertGate) Decide(ctx context.Context, issue *Issue, risk *RiskAssessment) (*GateDecision, error) {
	level := ComputeLevel(issue.RiskScore, issue.Severity)
	if !Eligible(issue, risk) {
		return &GateDecision{Level: level, Reason: "not_eligible"}, nil
	}

	now := g.now()
	key := DedupKey(issue.RoomID)
	ev, found, err := g.Events.GetByDedupKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("alert gate: load event %s: %w", key, err)
	}

	if !found {
		ev = &AlertEvent{
			ID:          ulid.Make().String(),
			RoomID:      issue.RoomID,
			DedupKey:    key,
			Level:       level,
			HitCount:    1,
			FirstSeenAt: now,
			LastSeenAt:  now,
		}
	} else {
		ev.HitCount++
		ev.LastSeenAt = now
	}

	escalated := level.MoreSevere(ev.Level)
	if escalated {
		ev.Level = level
	}
	// Stored level is sticky; a milder recurrence reports at the stored level.
	level = ev.Level

	decision := &GateDecision{Level: level, Escalated: escalated, HitCount: ev.HitCount}
	switch {
	// Escalation outranks every suppression, min-hits included.
	case escalated:
		decision.Notify = true
	case ev.HitCount < g.MinHits:
		decision.Reason = "below_min_hits"
	case ev.LastSentAt != nil && now.Sub(*ev.LastSentAt) < g.window(level):
		decision.Reason = "within_window"
	default:
		decision.Notify = true
	}
	if decision.Notify {
		sent := now
		ev.LastSentAt = &sent
	}

	if err := g.Events.Put(ctx, ev); err != nil {
		return nil, fmt.Errorf("alert gate: save event %s: %w", key, err)
	}
	return decision, nil
}

func (g *AlertGate) window(level AlertLevel) time.Duration {
	switch level {
	case LevelP0:
		return g.WindowP0
	case LevelP1:
		return g.WindowP1
	default:
		return g.WindowP2
	}
}
