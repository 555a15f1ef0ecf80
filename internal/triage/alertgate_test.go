package triage

import (
	"context"
	"testing"
	"time"
)

type memEvents struct {
	events map[string]*AlertEvent
}

func newMemEvents() *memEvents { return &memEvents{events: make(map[string]*AlertEvent)} }

func (m *memEvents) GetByDedupKey(_ context.Context, key string) (*AlertEvent, bool, error) {
	ev, ok := m.events[key]
	if !ok {
		return nil, false, nil
	}
	cp := *ev
	return &cp, true, nil
}

func (m *memEvents) Put(_ context.Context, ev *AlertEvent) error {
	cp := *ev
	m.events[ev.DedupKey] = &cp
	return nil
}

func testGate(events AlertEventStore) (*AlertGate, *time.Time) {
	g := NewAlertGate(events, 1, 30*time.Minute, time.Hour, 4*time.Hour)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := &now
	g.now = func() time.Time { return *clock }
	return g, clock
}

func TestComputeLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		risk     int
		severity Severity
		want     AlertLevel
	}{
		{95, SeverityS1, LevelP0},
		{10, SeverityS4, LevelP0},
		{50, SeverityS3, LevelP1},
		{50, SeverityS2, LevelP2},
		{50, SeverityS1, LevelP3},
		{89, SeverityS1, LevelP3},
	}
	for _, tt := range tests {
		if got := ComputeLevel(tt.risk, tt.severity); got != tt.want {
			t.Errorf("ComputeLevel(%d, %s) = %s, want %s", tt.risk, tt.severity, got, tt.want)
		}
	}
}

func TestEligible(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		issue Issue
		risk  *RiskAssessment
		want  bool
	}{
		{"alert flag", Issue{Severity: SeverityS1}, &RiskAssessment{AlertFlag: true}, true},
		{"severity s2", Issue{Severity: SeverityS2}, nil, true},
		{"severity s4", Issue{Severity: SeverityS4}, nil, true},
		{"high risk bug", Issue{Severity: SeverityS1, IsBug: true, RiskScore: 85}, nil, true},
		{"low risk bug", Issue{Severity: SeverityS1, IsBug: true, RiskScore: 40}, nil, false},
		{"mild non-bug", Issue{Severity: SeverityS1, RiskScore: 85}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			issue := tt.issue
			if got := Eligible(&issue, tt.risk); got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDedupKey_RoomScoped(t *testing.T) {
	t.Parallel()

	if DedupKey("room-a") == DedupKey("room-b") {
		t.Error("different rooms must have different keys")
	}
	if DedupKey("room-a") != DedupKey("room-a") {
		t.Error("key must be deterministic")
	}
}

func TestAlertGate_RewordedRecurrenceSuppressed(t *testing.T) {
	t.Parallel()

	events := newMemEvents()
	g, clock := testGate(events)
	first := &Issue{RoomID: "room-a", Phenomenon: "登录接口报错500", Severity: SeverityS3}
	reworded := &Issue{RoomID: "room-a", Phenomenon: "用户登录时接口又报错了", Severity: SeverityS3}

	if d, _ := g.Decide(context.Background(), first, nil); !d.Notify {
		t.Fatal("first hit should notify")
	}

	*clock = clock.Add(10 * time.Minute)
	d, err := g.Decide(context.Background(), reworded, nil)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Notify || d.Reason != "within_window" {
		t.Errorf("got %+v, want the reworded recurrence suppressed", d)
	}
	if d.HitCount != 2 {
		t.Errorf("HitCount = %d, want 2", d.HitCount)
	}
	if len(events.events) != 1 {
		t.Errorf("events = %d, want one per room", len(events.events))
	}
}

func TestAlertGate_FirstHitNotifies(t *testing.T) {
	t.Parallel()

	g, _ := testGate(newMemEvents())
	issue := &Issue{RoomID: "room-a", Phenomenon: "登录报错", Severity: SeverityS2, RiskScore: 50}

	d, err := g.Decide(context.Background(), issue, nil)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !d.Notify || d.Level != LevelP2 || d.HitCount != 1 {
		t.Errorf("got %+v, want first-hit P2 notify", d)
	}
}

func TestAlertGate_WindowSuppresses(t *testing.T) {
	t.Parallel()

	g, clock := testGate(newMemEvents())
	issue := &Issue{RoomID: "room-a", Phenomenon: "登录报错", Severity: SeverityS2}

	if d, _ := g.Decide(context.Background(), issue, nil); !d.Notify {
		t.Fatal("first hit should notify")
	}

	*clock = clock.Add(time.Hour)
	d, err := g.Decide(context.Background(), issue, nil)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Notify || d.Reason != "within_window" {
		t.Errorf("got %+v, want within-window suppression", d)
	}
	if d.HitCount != 2 {
		t.Errorf("HitCount = %d, want 2", d.HitCount)
	}

	// Past the P2 window the recurrence notifies again.
	*clock = clock.Add(4 * time.Hour)
	if d, _ := g.Decide(context.Background(), issue, nil); !d.Notify {
		t.Error("recurrence past the window should notify")
	}
}

func TestAlertGate_EscalationCutsThrough(t *testing.T) {
	t.Parallel()

	g, clock := testGate(newMemEvents())
	mild := &Issue{RoomID: "room-a", Phenomenon: "登录报错", Severity: SeverityS2}
	severe := &Issue{RoomID: "room-a", Phenomenon: "登录报错", Severity: SeverityS4}

	if d, _ := g.Decide(context.Background(), mild, nil); !d.Notify {
		t.Fatal("first hit should notify")
	}

	*clock = clock.Add(time.Minute)
	d, err := g.Decide(context.Background(), severe, nil)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !d.Notify || !d.Escalated || d.Level != LevelP0 {
		t.Errorf("got %+v, want immediate escalated P0 notify", d)
	}
}

func TestAlertGate_LevelNeverDowngrades(t *testing.T) {
	t.Parallel()

	events := newMemEvents()
	g, clock := testGate(events)
	severe := &Issue{RoomID: "room-a", Phenomenon: "登录报错", Severity: SeverityS4}
	mild := &Issue{RoomID: "room-a", Phenomenon: "登录报错", Severity: SeverityS2}

	if _, err := g.Decide(context.Background(), severe, nil); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	*clock = clock.Add(time.Minute)
	d, err := g.Decide(context.Background(), mild, nil)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Level != LevelP0 {
		t.Errorf("Level = %s, want stored P0 retained", d.Level)
	}

	key := DedupKey("room-a")
	if ev := events.events[key]; ev.Level != LevelP0 {
		t.Errorf("stored level = %s, want P0", ev.Level)
	}
}

func TestAlertGate_MinHits(t *testing.T) {
	t.Parallel()

	g, clock := testGate(newMemEvents())
	g.MinHits = 2
	issue := &Issue{RoomID: "room-a", Phenomenon: "登录报错", Severity: SeverityS2}

	d, _ := g.Decide(context.Background(), issue, nil)
	if d.Notify || d.Reason != "below_min_hits" {
		t.Errorf("got %+v, want min-hits suppression", d)
	}

	*clock = clock.Add(time.Minute)
	if d, _ := g.Decide(context.Background(), issue, nil); !d.Notify {
		t.Error("second hit should notify")
	}
}

func TestAlertGate_EscalationBeatsMinHits(t *testing.T) {
	t.Parallel()

	g, clock := testGate(newMemEvents())
	g.MinHits = 3
	mild := &Issue{RoomID: "room-a", Phenomenon: "登录报错", Severity: SeverityS2}
	severe := &Issue{RoomID: "room-a", Phenomenon: "登录报错", Severity: SeverityS4}

	if d, _ := g.Decide(context.Background(), mild, nil); d.Notify {
		t.Fatal("first hit below min-hits must not notify")
	}

	*clock = clock.Add(time.Minute)
	d, err := g.Decide(context.Background(), severe, nil)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !d.Notify || !d.Escalated || d.Level != LevelP0 {
		t.Errorf("got %+v, want escalation to notify regardless of min-hits", d)
	}
}

func TestAlertGate_NotEligible(t *testing.T) {
	t.Parallel()

	events := newMemEvents()
	g, _ := testGate(events)
	issue := &Issue{RoomID: "room-a", Phenomenon: "一般咨询", Severity: SeverityS1}

	d, err := g.Decide(context.Background(), issue, nil)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Notify || d.Reason != "not_eligible" {
		t.Errorf("got %+v, want not-eligible", d)
	}
	if len(events.events) != 0 {
		t.Error("ineligible issues must not create events")
	}
}
