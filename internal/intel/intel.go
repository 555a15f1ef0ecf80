package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/junxiaogit/wecom-ai-platform/internal/triage"
)

// Suite implements all five triage collaborators over one Provider. The
// prompts ask for strict JSON; replies are tolerated with surrounding prose
// because smaller models rarely return bare JSON reliably.
type Suite struct {
	provider Provider
}

// New creates a collaborator suite over the given provider.
func New(p Provider) *Suite {
	return &Suite{provider: p}
}

var _ triage.Classifier = (*Suite)(nil)
var _ triage.RiskAnalyzer = (*Suite)(nil)
var _ triage.Summarizer = (*Suite)(nil)
var _ triage.IssueJudge = (*Suite)(nil)
var _ triage.DedupJudge = (*Suite)(nil)

const classifySystem = `你是企业微信技术支持群的问题分类助手。根据聊天记录判断问题类别。
只输出 JSON,格式:
{"category":"功能异常|性能问题|使用咨询|需求建议|其他","issue_type":"bug|咨询|需求|其他","severity":"S1|S2|S3|S4","is_bug":true,"confidence":0.0}
severity 标准: S1 轻微, S2 影响部分功能, S3 影响核心功能, S4 服务不可用。`

// Classify categorizes a context window.
func (s *Suite) Classify(ctx context.Context, text string) (*triage.Classification, error) {
	reply, err := s.provider.Complete(ctx, classifySystem, text)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	var raw struct {
		Category   string  `json:"category"`
		IssueType  string  `json:"issue_type"`
		Severity   string  `json:"severity"`
		IsBug      bool    `json:"is_bug"`
		Confidence float64 `json:"confidence"`
	}
	if err := decodeJSONReply(reply, &raw); err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	sev := triage.Severity(strings.ToUpper(strings.TrimSpace(raw.Severity)))
	switch sev {
	case triage.SeverityS1, triage.SeverityS2, triage.SeverityS3, triage.SeverityS4:
	default:
		sev = triage.SeverityS1
	}
	return &triage.Classification{
		Category:   cleanField(raw.Category),
		IssueType:  cleanField(raw.IssueType),
		Severity:   sev,
		IsBug:      raw.IsBug,
		Confidence: raw.Confidence,
	}, nil
}

const riskSystem = `你是线上风险研判助手。根据聊天记录评估该问题的紧急程度。
只输出 JSON,格式:
{"risk_score":0,"alert_flag":false,"reason":"一句话说明"}
risk_score 为 0 到 100,90 以上表示需要立即处理的生产事故。`

// Assess scores urgency for a context window.
func (s *Suite) Assess(ctx context.Context, text string) (*triage.RiskAssessment, error) {
	reply, err := s.provider.Complete(ctx, riskSystem, text)
	if err != nil {
		return nil, fmt.Errorf("risk assess: %w", err)
	}
	var raw struct {
		RiskScore int    `json:"risk_score"`
		AlertFlag bool   `json:"alert_flag"`
		Reason    string `json:"reason"`
	}
	if err := decodeJSONReply(reply, &raw); err != nil {
		return nil, fmt.Errorf("risk assess: %w", err)
	}
	if raw.RiskScore < 0 {
		raw.RiskScore = 0
	}
	if raw.RiskScore > 100 {
		raw.RiskScore = 100
	}
	return &triage.RiskAssessment{
		RiskScore: raw.RiskScore,
		AlertFlag: raw.AlertFlag,
		Reason:    cleanField(raw.Reason),
	}, nil
}

const summarizeSystem = `你是技术支持群的问题提炼助手。从聊天记录中提取当前讨论的核心问题。
只输出 JSON,格式:
{"phenomenon":"30字以内的问题现象","summary":"问题详细描述","problem_quote":"最能代表该问题的原话","first_quote":"问题最早出现的原话","last_quote":"问题最近讨论的原话","priority":"高|中|低"}
如果某项无法确定,填 "暂无"。`

// Summarize extracts the phenomenon and anchor quotes.
func (s *Suite) Summarize(ctx context.Context, text string) (*triage.Extraction, error) {
	reply, err := s.provider.Complete(ctx, summarizeSystem, text)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	var raw struct {
		Phenomenon   string `json:"phenomenon"`
		Summary      string `json:"summary"`
		ProblemQuote string `json:"problem_quote"`
		FirstQuote   string `json:"first_quote"`
		LastQuote    string `json:"last_quote"`
		Priority     string `json:"priority"`
	}
	if err := decodeJSONReply(reply, &raw); err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	return &triage.Extraction{
		Phenomenon:   cleanField(raw.Phenomenon),
		Summary:      cleanField(raw.Summary),
		ProblemQuote: cleanField(raw.ProblemQuote),
		FirstQuote:   cleanField(raw.FirstQuote),
		LastQuote:    cleanField(raw.LastQuote),
		Priority:     cleanField(raw.Priority),
	}, nil
}

const judgeSystem = `你是技术支持群的问题识别助手。判断聊天记录中是否存在需要跟进的技术问题。
闲聊、通知、已解决的问题都不算。
只输出 JSON,格式:
{"has_issue":true,"reason":"一句话说明"}`

// HasIssue is the cheap pre-check before full extraction.
func (s *Suite) HasIssue(ctx context.Context, text string) (bool, string, error) {
	reply, err := s.provider.Complete(ctx, judgeSystem, text)
	if err != nil {
		return false, "", fmt.Errorf("issue judge: %w", err)
	}
	var raw struct {
		HasIssue bool   `json:"has_issue"`
		Reason   string `json:"reason"`
	}
	if err := decodeJSONReply(reply, &raw); err != nil {
		return false, "", fmt.Errorf("issue judge: %w", err)
	}
	return raw.HasIssue, cleanField(raw.Reason), nil
}

const dedupSystem = `你是问题去重助手。判断"新问题"与"已有问题列表"中的任何一条是否为同一个问题。
只回答 "是" 或 "否"。`

// SameIssue asks one yes/no question against the room's prior phenomena.
func (s *Suite) SameIssue(ctx context.Context, phenomenon string, existing []string) (bool, error) {
	var b strings.Builder
	b.WriteString("新问题: ")
	b.WriteString(phenomenon)
	b.WriteString("\n已有问题列表:\n")
	for i, e := range existing {
		fmt.Fprintf(&b, "%d. %s\n", i+1, e)
	}
	reply, err := s.provider.Complete(ctx, dedupSystem, b.String())
	if err != nil {
		return false, fmt.Errorf("dedup judge: %w", err)
	}
	return parseYesNo(reply), nil
}

// decodeJSONReply unmarshals the first JSON object embedded in reply.
// Models wrap JSON in prose and code fences often enough that strict
// parsing of the whole reply is not viable.
func decodeJSONReply(reply string, v any) error {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in reply: %.80q", reply)
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), v); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// cleanField trims a model-produced field and drops placeholder values.
func cleanField(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "暂无", "无", "none", "n/a", "null":
		return ""
	}
	return s
}

func parseYesNo(reply string) bool {
	r := strings.ToLower(strings.TrimSpace(reply))
	if strings.HasPrefix(r, "是") || strings.HasPrefix(r, "yes") {
		return true
	}
	return strings.Contains(r, "\"same\":true") || strings.Contains(r, "是同一")
}
