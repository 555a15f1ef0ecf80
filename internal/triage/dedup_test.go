package triage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSimilarity_Identity(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"登录报错", "A", "数据导出失败", "x1"} {
		if got := Similarity(s, s); got != 1 {
			t.Errorf("Similarity(%q, %q) = %v, want 1", s, s, got)
		}
	}
}

func TestSimilarity_Symmetry(t *testing.T) {
	t.Parallel()

	a, b := "登录接口报错500", "登录接口偶发报错"
	if Similarity(a, b) != Similarity(b, a) {
		t.Errorf("Similarity not symmetric for %q / %q", a, b)
	}
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{"empty against anything", "", "登录报错", 0, 0},
		{"unrelated", "登录接口报错", "导出模板下载很慢", 0, 0.3},
		{"near duplicate", "登录接口报错500", "登录接口报错 500", 1, 1},
		{"contained", "登录报错", "用户反馈登录报错,刷新无效", 0.9, 1},
		{"punctuation and case ignored", "Export Failed!", "export failed", 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Similarity(tt.a, tt.b)
			if got < tt.min || got > tt.max {
				t.Errorf("Similarity(%q, %q) = %v, want in [%v, %v]", tt.a, tt.b, got, tt.min, tt.max)
			}
		})
	}
}

type fakeJudge struct {
	same bool
	err  error
	got  []string
}

func (f *fakeJudge) SameIssue(_ context.Context, _ string, existing []string) (bool, error) {
	f.got = existing
	return f.same, f.err
}

func testIssues() []*Issue {
	return []*Issue{
		{ID: "i-1", RoomID: "room-a", Phenomenon: "登录接口报错500", CreatedAt: time.Now()},
		{ID: "i-2", RoomID: "room-b", Phenomenon: "导出模板下载很慢", CreatedAt: time.Now()},
	}
}

func TestDuplicateDetector_SimilarityStage(t *testing.T) {
	t.Parallel()

	j := &fakeJudge{}
	d := NewDuplicateDetector(j)
	res, err := d.Check(context.Background(), "room-a", "登录接口报错 500", testIssues())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.Duplicate || res.Stage != DedupStageSimilarity || res.MatchedID != "i-1" {
		t.Errorf("got %+v, want similarity duplicate of i-1", res)
	}
	if j.got != nil {
		t.Error("judge should not run when similarity matched")
	}
}

func TestDuplicateDetector_SemanticStage(t *testing.T) {
	t.Parallel()

	j := &fakeJudge{same: true}
	d := NewDuplicateDetector(j)
	res, err := d.Check(context.Background(), "room-a", "登录之后页面白屏", testIssues())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.Duplicate || res.Stage != DedupStageSemantic {
		t.Errorf("got %+v, want semantic duplicate", res)
	}
	// Only the same room's phenomena are handed to the judge.
	if len(j.got) != 1 || j.got[0] != "登录接口报错500" {
		t.Errorf("judge saw %v, want only room-a phenomena", j.got)
	}
}

func TestDuplicateDetector_FailOpen(t *testing.T) {
	t.Parallel()

	j := &fakeJudge{err: errors.New("provider down")}
	d := NewDuplicateDetector(j)
	res, err := d.Check(context.Background(), "room-a", "登录之后页面白屏", testIssues())
	if err == nil {
		t.Fatal("expected judge error to surface")
	}
	if res.Duplicate {
		t.Error("judge failure must not mark a duplicate")
	}
}

func TestDuplicateDetector_NoJudge(t *testing.T) {
	t.Parallel()

	d := NewDuplicateDetector(nil)
	res, err := d.Check(context.Background(), "room-a", "全新的问题", testIssues())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Duplicate {
		t.Errorf("got %+v, want not duplicate", res)
	}
}
