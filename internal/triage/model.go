package triage

import "time"

// Severity is the classifier's impact grade, S1 lowest to S4 highest.
type Severity string

const (
	SeverityS1 Severity = "S1"
	SeverityS2 Severity = "S2"
	SeverityS3 Severity = "S3"
	SeverityS4 Severity = "S4"
)

func severityRank(s Severity) int {
	switch s {
	case SeverityS4:
		return 4
	case SeverityS3:
		return 3
	case SeverityS2:
		return 2
	case SeverityS1:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is at or above min. Unknown grades rank lowest.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank(s) >= severityRank(min)
}

// AlertLevel is the notification priority, P0 most severe to P3 least.
type AlertLevel string

const (
	LevelP0 AlertLevel = "P0"
	LevelP1 AlertLevel = "P1"
	LevelP2 AlertLevel = "P2"
	LevelP3 AlertLevel = "P3"
)

// levelRank orders alert levels; lower is more severe.
func levelRank(l AlertLevel) int {
	switch l {
	case LevelP0:
		return 0
	case LevelP1:
		return 1
	case LevelP2:
		return 2
	default:
		return 3
	}
}

// MoreSevere reports whether l outranks other.
func (l AlertLevel) MoreSevere(other AlertLevel) bool {
	return levelRank(l) < levelRank(other)
}

// Message is a single archived chat message.
type Message struct {
	ID     string    `json:"id"`
	RoomID string    `json:"room_id"`
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	Noise  bool      `json:"noise"`
	SentAt time.Time `json:"sent_at"`
}

// RoomState is the durable per-room polling record. Created lazily on first
// sighting, mutated every tick, reset in place on rollover, never deleted.
type RoomState struct {
	RoomID          string    `json:"room_id"`
	Cursor          time.Time `json:"cursor"`
	PendingCount    int       `json:"pending_count"`
	RawPendingCount int       `json:"raw_pending_count"`
	LastProcessedAt time.Time `json:"last_processed_at"`
	LastTriggeredAt time.Time `json:"last_triggered_at"`
	NeedsFlush      bool      `json:"needs_flush"`
}

// ResetCounters zeroes both pending counters.
func (s *RoomState) ResetCounters() {
	s.PendingCount = 0
	s.RawPendingCount = 0
}

// Issue is a triaged problem record. Append-only from this subsystem's
// point of view; read back only for scoped dedup lookups.
type Issue struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"room_id"`
	Phenomenon  string    `json:"phenomenon"`
	Summary     string    `json:"summary"`
	IssueType   string    `json:"issue_type"`
	Severity    Severity  `json:"severity"`
	Category    string    `json:"category"`
	RiskScore   int       `json:"risk_score"`
	IsBug       bool      `json:"is_bug"`
	AnchorMsgID string    `json:"anchor_msg_id,omitempty"`
	DetailURL   string    `json:"detail_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AlertEvent tracks notification dedup/escalation per dedup key.
// At most one open event per key; hit count and last-sent only move forward.
type AlertEvent struct {
	ID          string     `json:"id"`
	RoomID      string     `json:"room_id"`
	DedupKey    string     `json:"dedup_key"`
	Level       AlertLevel `json:"alert_level"`
	HitCount    int        `json:"hit_count"`
	FirstSeenAt time.Time  `json:"first_seen_at"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
	LastSentAt  *time.Time `json:"last_sent_at,omitempty"`
}

// Disposition is the terminal classification of one pipeline pass.
type Disposition string

const (
	// DispositionIssue means a novel issue was recorded.
	DispositionIssue Disposition = "issue"

	// DispositionDuplicate means dedup suppressed an equivalent prior issue.
	DispositionDuplicate Disposition = "duplicate"

	// DispositionNoIssue means the pre-judge or summarizer found nothing
	// actionable; counters reset as if cleanly analyzed.
	DispositionNoIssue Disposition = "no_issue"
)

// Outcome reports what one processRoom pass did.
type Outcome struct {
	RoomID      string      `json:"room_id"`
	Disposition Disposition `json:"disposition"`
	Reason      string      `json:"reason,omitempty"`
	IssueID     string      `json:"issue_id,omitempty"`
	Phenomenon  string      `json:"phenomenon,omitempty"`
	AnchorMsgID string      `json:"anchor_msg_id,omitempty"`
	Notified    bool        `json:"notified"`
	AlertLevel  AlertLevel  `json:"alert_level,omitempty"`
}

// Notification is the payload handed to the outbound channel.
// Delivery is fire-and-forget, at-least-once.
type Notification struct {
	RoomID     string
	Phenomenon string
	Summary    string
	Reason     string
	IssueType  string
	Level      AlertLevel
	RiskScore  int
	HitCount   int
	DetailURL  string
	IssueAt    time.Time
}
