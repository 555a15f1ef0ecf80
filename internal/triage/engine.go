package triage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

const (
	// PreJudgeOverrideRaw is the raw pending count above which the issue
	// pre-check is skipped. At that volume a "no issue" verdict from a
	// single cheap question is less trustworthy than just extracting.
	PreJudgeOverrideRaw = 30

	// GlobalDedupWindow bounds how far back cross-room similarity looks.
	GlobalDedupWindow = 7 * 24 * time.Hour
)

// Engine runs one triage pass over a room: judge, extract, dedup, classify,
// score, record, and alert. It owns no scheduling; the Poller decides when
// a room is worth a pass.
type Engine struct {
	issues   IssueStore
	gate     *AlertGate
	detector *DuplicateDetector
	notifier Notifier

	judge      IssueJudge
	summarizer Summarizer
	classifier Classifier
	risk       RiskAnalyzer

	detailBaseURL string
	globalDedup   bool
	cycleStart    func() time.Time
	logger        log.Logger
	metrics       *Metrics
	now           func() time.Time
}

// EngineDeps collects the engine's collaborators.
type EngineDeps struct {
	Issues   IssueStore
	Gate     *AlertGate
	Detector *DuplicateDetector
	Notifier Notifier

	Judge      IssueJudge
	Summarizer Summarizer
	Classifier Classifier
	Risk       RiskAnalyzer

	DetailBaseURL string

	// GlobalDedup widens stage-one similarity screening to every room's
	// recent issues. When false it is limited to the room's current cycle,
	// read via CycleStart.
	GlobalDedup bool
	CycleStart  func() time.Time

	Logger  log.Logger
	Metrics *Metrics
}

// NewEngine creates a triage engine with the given dependencies.
func NewEngine(d EngineDeps) *Engine {
	lg := d.Logger
	if lg == nil {
		lg = log.Nop()
	}
	return &Engine{
		issues:        d.Issues,
		gate:          d.Gate,
		detector:      d.Detector,
		notifier:      d.Notifier,
		judge:         d.Judge,
		summarizer:    d.Summarizer,
		classifier:    d.Classifier,
		risk:          d.Risk,
		detailBaseURL: strings.TrimRight(d.DetailBaseURL, "/"),
		globalDedup:   d.GlobalDedup,
		cycleStart:    d.CycleStart,
		logger:        lg,
		metrics:       d.Metrics,
		now:           time.Now,
	}
}

// ProcessRoom triages the given candidate messages for one room. A nil
// error with a duplicate or no-issue disposition means the pass completed
// and the room's counters may be reset; an error means the pass must be
// retried later with counters intact.
func (e *Engine) ProcessRoom(ctx context.Context, roomID string, candidates []Message, state *RoomState, reason TriggerReason) (*Outcome, error) {
	L := e.logger.With("room_id", roomID, "trigger", string(reason))

	effective := make([]Message, 0, len(candidates))
	for _, m := range candidates {
		if !m.Noise {
			effective = append(effective, m)
		}
	}
	if len(effective) == 0 {
		return &Outcome{RoomID: roomID, Disposition: DispositionNoIssue, Reason: "all_noise"}, nil
	}
	contextText := buildContextText(effective)

	if state.RawPendingCount < PreJudgeOverrideRaw && e.judge != nil {
		has, why, err := e.judge.HasIssue(ctx, contextText)
		if err != nil {
			L.Warn(ctx, "issue pre-check failed, proceeding to extraction", "error", err.Error())
			e.metrics.LLMFailure("judge")
		} else if !has {
			L.Info(ctx, "no issue detected", "reason", why, "messages", len(effective))
			return &Outcome{RoomID: roomID, Disposition: DispositionNoIssue, Reason: why}, nil
		}
	}

	ext, err := e.summarizer.Summarize(ctx, contextText)
	if err != nil {
		e.metrics.LLMFailure("summarize")
		return nil, fmt.Errorf("summarize room %s: %w", roomID, err)
	}
	if ext.Phenomenon == "" {
		L.Info(ctx, "extraction produced no phenomenon", "messages", len(effective))
		return &Outcome{RoomID: roomID, Disposition: DispositionNoIssue, Reason: "empty_extraction"}, nil
	}

	var existing []*Issue
	if e.globalDedup {
		existing, err = e.issues.ListSince(ctx, e.now().Add(-GlobalDedupWindow))
	} else {
		existing, err = e.issues.ListRoomSince(ctx, roomID, e.dedupCycleStart())
	}
	if err != nil {
		return nil, fmt.Errorf("list recent issues: %w", err)
	}
	dup, derr := e.detector.Check(ctx, roomID, ext.Phenomenon, existing)
	if derr != nil {
		L.Warn(ctx, "semantic dedup unavailable, treating as new", "error", derr.Error())
		e.metrics.LLMFailure("dedup")
	}
	if dup.Duplicate {
		L.Info(ctx, "duplicate issue suppressed",
			"stage", string(dup.Stage),
			"matched_id", dup.MatchedID,
			"phenomenon", ext.Phenomenon,
		)
		e.metrics.Duplicate(dup.Stage)
		return &Outcome{
			RoomID:      roomID,
			Disposition: DispositionDuplicate,
			Reason:      string(dup.Stage),
			IssueID:     dup.MatchedID,
			Phenomenon:  ext.Phenomenon,
		}, nil
	}

	cls := e.classify(ctx, L, contextText)
	risk := e.assess(ctx, L, contextText)

	anchor := ResolveAnchor(effective, ext.ProblemQuote)
	first := resolveOptionalAnchor(effective, ext.FirstQuote)
	last := resolveOptionalAnchor(effective, ext.LastQuote)
	window := DeriveWindow(anchor, first, last, effective)

	issue := &Issue{
		ID:          ulid.Make().String(),
		RoomID:      roomID,
		Phenomenon:  ext.Phenomenon,
		Summary:     ext.Summary,
		IssueType:   cls.IssueType,
		Severity:    cls.Severity,
		Category:    cls.Category,
		RiskScore:   risk.RiskScore,
		IsBug:       cls.IsBug,
		AnchorMsgID: anchor.ID,
		CreatedAt:   e.now(),
	}
	issue.DetailURL = e.detailURL(issue, window)
	if err := e.issues.Create(ctx, issue); err != nil {
		return nil, fmt.Errorf("create issue for room %s: %w", roomID, err)
	}
	e.metrics.IssueCreated()

	outcome := &Outcome{
		RoomID:      roomID,
		Disposition: DispositionIssue,
		IssueID:     issue.ID,
		Phenomenon:  issue.Phenomenon,
		AnchorMsgID: issue.AnchorMsgID,
	}

	decision, err := e.gate.Decide(ctx, issue, risk)
	if err != nil {
		// The issue record is already durable; losing one notification is
		// preferable to reprocessing the whole window.
		L.Error(ctx, err, "alert gate failed", "issue_id", issue.ID)
		return outcome, nil
	}
	outcome.AlertLevel = decision.Level
	if !decision.Notify {
		L.Info(ctx, "alert suppressed",
			"issue_id", issue.ID,
			"level", string(decision.Level),
			"reason", decision.Reason,
			"hits", decision.HitCount,
		)
		return outcome, nil
	}

	n := &Notification{
		RoomID:     roomID,
		Phenomenon: issue.Phenomenon,
		Summary:    issue.Summary,
		Reason:     risk.Reason,
		IssueType:  issue.IssueType,
		Level:      decision.Level,
		RiskScore:  issue.RiskScore,
		HitCount:   decision.HitCount,
		DetailURL:  issue.DetailURL,
		IssueAt:    anchor.SentAt,
	}
	if err := e.notifier.Send(ctx, n); err != nil {
		L.Error(ctx, err, "notification send failed", "issue_id", issue.ID, "level", string(decision.Level))
		e.metrics.NotifyFailure()
		return outcome, nil
	}
	outcome.Notified = true
	e.metrics.AlertSent(decision.Level)
	L.Info(ctx, "alert sent",
		"issue_id", issue.ID,
		"level", string(decision.Level),
		"escalated", decision.Escalated,
		"hits", decision.HitCount,
	)
	return outcome, nil
}

// classify runs the classifier, substituting conservative defaults when it
// is unavailable.
func (e *Engine) classify(ctx context.Context, L log.Logger, text string) *Classification {
	if e.classifier != nil {
		cls, err := e.classifier.Classify(ctx, text)
		if err == nil {
			return cls
		}
		L.Warn(ctx, "classification failed, using rule-based fallback", "error", err.Error())
		e.metrics.LLMFailure("classify")
	}
	return FallbackClassification(text)
}

func (e *Engine) assess(ctx context.Context, L log.Logger, text string) *RiskAssessment {
	if e.risk == nil {
		return &RiskAssessment{}
	}
	risk, err := e.risk.Assess(ctx, text)
	if err != nil {
		L.Warn(ctx, "risk assessment failed, assuming zero risk", "error", err.Error())
		e.metrics.LLMFailure("risk")
		return &RiskAssessment{}
	}
	return risk
}

func (e *Engine) dedupCycleStart() time.Time {
	if e.cycleStart != nil {
		return e.cycleStart()
	}
	return e.now().Add(-24 * time.Hour)
}

func (e *Engine) detailURL(issue *Issue, w TimeWindow) string {
	if e.detailBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/rooms/%s/issues/%s?since=%d&until=%d",
		e.detailBaseURL, issue.RoomID, issue.ID, w.Since.Unix(), w.Until.Unix())
}

func resolveOptionalAnchor(candidates []Message, quote string) *Message {
	if strings.TrimSpace(quote) == "" {
		return nil
	}
	return ResolveAnchor(candidates, quote)
}

func buildContextText(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.SentAt.Format("15:04"))
		b.WriteString(" ")
		b.WriteString(m.Sender)
		b.WriteString(": ")
		b.WriteString(m.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// FallbackClassification is the rule-based stand-in used when the
// classifier is unreachable.
func FallbackClassification(text string) *Classification {
	lower := strings.ToLower(text)
	cls := &Classification{Category: "其他", IssueType: "咨询", Severity: SeverityS1}
	for _, kw := range []string{"报错", "异常", "失败", "error", "exception", "bug", "崩溃", "500", "502"} {
		if strings.Contains(lower, kw) {
			cls.Category = "功能异常"
			cls.IssueType = "bug"
			cls.Severity = SeverityS2
			cls.IsBug = true
			break
		}
	}
	return cls
}
