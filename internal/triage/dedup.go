package triage

import (
	"context"
	"strings"
	"unicode"
)

// DefaultSimilarityThreshold marks two phenomena as the same issue.
const DefaultSimilarityThreshold = 0.7

// Bigrams returns the set of overlapping character pairs of the normalized
// text. Character pairs work for CJK, where word boundaries are invisible,
// and degrade gracefully for ASCII.
func Bigrams(s string) map[string]struct{} {
	runes := []rune(normalizeText(s))
	set := make(map[string]struct{}, len(runes))
	for i := 0; i+1 < len(runes); i++ {
		set[string(runes[i:i+2])] = struct{}{}
	}
	return set
}

// Similarity returns the greater of Jaccard overlap and containment of the
// two texts' bigram sets, in [0, 1]. Identical non-empty texts always score
// 1 even when too short to form a bigram.
func Similarity(a, b string) float64 {
	na, nb := normalizeText(a), normalizeText(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	sa, sb := Bigrams(a), Bigrams(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for g := range sa {
		if _, ok := sb[g]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	jaccard := float64(inter) / float64(union)
	smaller := len(sa)
	if len(sb) < smaller {
		smaller = len(sb)
	}
	containment := float64(inter) / float64(smaller)
	if containment > jaccard {
		return containment
	}
	return jaccard
}

func normalizeText(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DedupStage names which check caught a duplicate.
type DedupStage string

const (
	DedupStageSimilarity DedupStage = "similarity"
	DedupStageSemantic   DedupStage = "semantic"
)

// DedupResult reports a duplicate verdict and what it matched.
type DedupResult struct {
	Duplicate bool
	Stage     DedupStage
	MatchedID string
}

// DuplicateDetector screens a freshly extracted phenomenon against prior
// issues in two stages: cheap bigram similarity first, then a single
// semantic yes/no question against same-room phenomena. The semantic stage
// fails open so an unavailable judge never suppresses a new issue.
type DuplicateDetector struct {
	Threshold float64
	Judge     DedupJudge // optional
}

// NewDuplicateDetector returns a detector with the default threshold.
func NewDuplicateDetector(judge DedupJudge) *DuplicateDetector {
	return &DuplicateDetector{Threshold: DefaultSimilarityThreshold, Judge: judge}
}

// Check screens phenomenon against existing issues. Stage one runs over all
// of them; stage two only consults issues from roomID, the only ones the
// judge can meaningfully compare conversation context for.
func (d *DuplicateDetector) Check(ctx context.Context, roomID, phenomenon string, existing []*Issue) (DedupResult, error) {
	for i := range existing {
		if Similarity(phenomenon, existing[i].Phenomenon) >= d.Threshold {
			return DedupResult{Duplicate: true, Stage: DedupStageSimilarity, MatchedID: existing[i].ID}, nil
		}
	}
	if d.Judge == nil {
		return DedupResult{}, nil
	}
	var sameRoom []string
	var ids []string
	for i := range existing {
		if existing[i].RoomID == roomID && existing[i].Phenomenon != "" {
			sameRoom = append(sameRoom, existing[i].Phenomenon)
			ids = append(ids, existing[i].ID)
		}
	}
	if len(sameRoom) == 0 {
		return DedupResult{}, nil
	}
	same, err := d.Judge.SameIssue(ctx, phenomenon, sameRoom)
	if err != nil {
		// Fail open: treat as new and let the caller record the miss.
		return DedupResult{}, err
	}
	if same {
		return DedupResult{Duplicate: true, Stage: DedupStageSemantic, MatchedID: ids[0]}, nil
	}
	return DedupResult{}, nil
}
