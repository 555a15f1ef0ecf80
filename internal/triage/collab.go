package triage

import "context"

// The text-intelligence collaborators are black boxes to this package.
// Each call site decides fail-open vs fail-closed explicitly: classification
// and risk failures fall back to rule-based defaults, extraction failures
// abort the pass so counters survive for a retry, and the dedup judge
// fails open so an LLM hiccup never swallows a real new problem.

// Classification is the classifier's verdict for a context window.
type Classification struct {
	Category   string
	IssueType  string
	Severity   Severity
	IsBug      bool
	Confidence float64
}

// RiskAssessment is the risk analyzer's verdict.
type RiskAssessment struct {
	RiskScore int // 0..100
	AlertFlag bool
	Reason    string
}

// Extraction is the summarizer's structured output. Placeholder values
// ("暂无", "none") are normalized away by the implementation; empty fields
// here mean genuinely absent.
type Extraction struct {
	Phenomenon   string // <=30 chars problem statement
	Summary      string // longer detail summary
	ProblemQuote string // verbatim key sentence, for anchoring
	FirstQuote   string // first occurrence of the problem
	LastQuote    string // last discussion of the problem
	Priority     string
}

// Classifier categorizes a context window. Failure is non-fatal; callers
// substitute rule-based defaults.
type Classifier interface {
	Classify(ctx context.Context, text string) (*Classification, error)
}

// RiskAnalyzer scores urgency. Failure yields zero risk, no alert.
type RiskAnalyzer interface {
	Assess(ctx context.Context, text string) (*RiskAssessment, error)
}

// Summarizer extracts the phenomenon and anchor quotes.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (*Extraction, error)
}

// IssueJudge is the cheap pre-check: does this window look like it contains
// an actionable problem at all. Treated as unreliable at high raw volume.
type IssueJudge interface {
	HasIssue(ctx context.Context, text string) (bool, string, error)
}

// DedupJudge is the semantic dedup fallback: one yes/no question against
// the room's prior phenomena.
type DedupJudge interface {
	SameIssue(ctx context.Context, phenomenon string, existing []string) (bool, error)
}
