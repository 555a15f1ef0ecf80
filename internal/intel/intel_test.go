package intel

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/junxiaogit/wecom-ai-platform/internal/triage"
)

// scriptedProvider returns a canned reply and records the last prompt pair.
type scriptedProvider struct {
	reply      string
	err        error
	lastSystem string
	lastUser   string
}

func (p *scriptedProvider) Complete(_ context.Context, system, user string) (string, error) {
	p.lastSystem = system
	p.lastUser = user
	return p.reply, p.err
}

func TestSuite_Classify(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{reply: `根据记录判断如下:
{"category":"功能异常","issue_type":"bug","severity":"s3","is_bug":true,"confidence":0.9}
以上。`}
	got, err := New(p).Classify(context.Background(), "登录接口 500")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Category != "功能异常" || got.IssueType != "bug" || !got.IsBug {
		t.Errorf("got %+v", got)
	}
	if got.Severity != triage.SeverityS3 {
		t.Errorf("Severity = %q, want S3 normalized from lowercase", got.Severity)
	}
}

func TestSuite_Classify_UnknownSeverityFallsBack(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{reply: `{"category":"其他","issue_type":"咨询","severity":"P0","is_bug":false,"confidence":0.5}`}
	got, err := New(p).Classify(context.Background(), "text")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Severity != triage.SeverityS1 {
		t.Errorf("Severity = %q, want S1 for unrecognized values", got.Severity)
	}
}

func TestSuite_Assess_ClampsScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		reply string
		want  int
	}{
		{`{"risk_score":95,"alert_flag":true,"reason":"生产事故"}`, 95},
		{`{"risk_score":250,"alert_flag":true,"reason":"x"}`, 100},
		{`{"risk_score":-5,"alert_flag":false,"reason":"x"}`, 0},
	}
	for _, tc := range tests {
		got, err := New(&scriptedProvider{reply: tc.reply}).Assess(context.Background(), "text")
		if err != nil {
			t.Fatalf("Assess(%s): %v", tc.reply, err)
		}
		if got.RiskScore != tc.want {
			t.Errorf("RiskScore = %d, want %d", got.RiskScore, tc.want)
		}
	}
}

func TestSuite_Summarize_DropsPlaceholders(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{reply: "```json\n" +
		`{"phenomenon":"登录接口超时","summary":"多位用户反馈登录接口超时","problem_quote":"登录一直转圈","first_quote":"暂无","last_quote":"还是不行","priority":"高"}` +
		"\n```"}
	got, err := New(p).Summarize(context.Background(), "text")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got.Phenomenon != "登录接口超时" {
		t.Errorf("Phenomenon = %q", got.Phenomenon)
	}
	if got.FirstQuote != "" {
		t.Errorf("FirstQuote = %q, want placeholder dropped", got.FirstQuote)
	}
	if got.LastQuote != "还是不行" {
		t.Errorf("LastQuote = %q", got.LastQuote)
	}
}

func TestSuite_HasIssue(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{reply: `{"has_issue":false,"reason":"均为闲聊"}`}
	has, reason, err := New(p).HasIssue(context.Background(), "早上好")
	if err != nil {
		t.Fatalf("HasIssue: %v", err)
	}
	if has {
		t.Error("has = true, want false")
	}
	if reason != "均为闲聊" {
		t.Errorf("reason = %q", reason)
	}
}

func TestSuite_SameIssue_PromptAndParse(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{reply: "是,是同一个问题"}
	same, err := New(p).SameIssue(context.Background(), "登录超时", []string{"登录接口 500", "导出失败"})
	if err != nil {
		t.Fatalf("SameIssue: %v", err)
	}
	if !same {
		t.Error("same = false, want true")
	}
	for _, want := range []string{"登录超时", "1. 登录接口 500", "2. 导出失败"} {
		if !strings.Contains(p.lastUser, want) {
			t.Errorf("prompt missing %q:\n%s", want, p.lastUser)
		}
	}
}

func TestSuite_ProviderErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("upstream 429")
	s := New(&scriptedProvider{err: boom})
	if _, err := s.Classify(context.Background(), "x"); !errors.Is(err, boom) {
		t.Errorf("Classify err = %v, want wrapped upstream error", err)
	}
	if _, _, err := s.HasIssue(context.Background(), "x"); !errors.Is(err, boom) {
		t.Errorf("HasIssue err = %v, want wrapped upstream error", err)
	}
}

func TestRateLimited_CreatesSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	rl := NewRateLimited(&scriptedProvider{reply: "是"}, 100, 10)
	if _, err := rl.Complete(context.Background(), "system", "user"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "llm.call" {
		t.Fatalf("spans = %+v, want one llm.call span", spans)
	}
	attrs := make(map[string]any)
	for _, a := range spans[0].Attributes {
		attrs[string(a.Key)] = a.Value.AsInterface()
	}
	if v, ok := attrs["gen_ai.operation.name"]; !ok || v != "llm.call" {
		t.Errorf("span missing gen_ai.operation.name=llm.call, got %v", v)
	}
	if v, ok := attrs["llm.reply_chars"]; !ok || v.(int64) != int64(len("是")) {
		t.Errorf("llm.reply_chars = %v", v)
	}
}

func TestDecodeJSONReply(t *testing.T) {
	t.Parallel()

	var v struct {
		A int `json:"a"`
	}
	if err := decodeJSONReply(`prefix {"a":7} suffix`, &v); err != nil || v.A != 7 {
		t.Errorf("decode = %v, v=%+v", err, v)
	}
	if err := decodeJSONReply("no json here", &v); err == nil {
		t.Error("want error for reply without an object")
	}
	if err := decodeJSONReply(`{"a":`, &v); err == nil {
		t.Error("want error for truncated object")
	}
}

func TestParseYesNo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		reply string
		want  bool
	}{
		{"是", true},
		{" 是。", true},
		{"Yes, same issue.", true},
		{"否", false},
		{"No", false},
		{`{"same":true}`, true},
		{"这两条描述的是同一个问题", true},
		{"", false},
	}
	for _, tc := range tests {
		if got := parseYesNo(tc.reply); got != tc.want {
			t.Errorf("parseYesNo(%q) = %v, want %v", tc.reply, got, tc.want)
		}
	}
}
