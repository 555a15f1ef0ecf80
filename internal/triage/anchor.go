package triage

import (
	"strings"
	"time"
	"unicode"
)

// Anchoring maps an extracted quote back to the concrete message it came
// from, so issue records can link to a real position in the room history.
// Exact containment wins outright; otherwise overlap of meaningful tokens
// decides, and ties go to the earliest message.

const (
	anchorWindowBuffer  = 2 * time.Minute
	anchorFallbackSpan  = 5 * time.Minute
	containmentScoreMin = 100
)

// ResolveAnchor picks the candidate message best matching quote. With no
// usable quote, or no candidate scoring above zero, it falls back to the
// oldest candidate. Returns nil only when candidates is empty.
func ResolveAnchor(candidates []Message, quote string) *Message {
	if len(candidates) == 0 {
		return nil
	}
	oldest := &candidates[0]
	for i := range candidates {
		if candidates[i].SentAt.Before(oldest.SentAt) {
			oldest = &candidates[i]
		}
	}
	normQuote := normalizeAnchor(quote)
	if normQuote == "" {
		return oldest
	}

	var best *Message
	bestScore := 0
	for i := range candidates {
		m := &candidates[i]
		score := anchorScore(normalizeAnchor(m.Text), normQuote)
		if score > bestScore || (score == bestScore && score > 0 && m.SentAt.Before(best.SentAt)) {
			best = m
			bestScore = score
		}
	}
	if best == nil {
		return oldest
	}
	return best
}

func anchorScore(normText, normQuote string) int {
	if normText == "" {
		return 0
	}
	if strings.Contains(normText, normQuote) || strings.Contains(normQuote, normText) {
		return containmentScoreMin + len(normQuote)
	}
	shared := 0
	for _, tok := range anchorTokens(normQuote) {
		if strings.Contains(normText, tok) {
			shared++
		}
	}
	return 10 * shared
}

func normalizeAnchor(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// anchorTokens splits a normalized quote into overlapping character pairs
// for CJK text mixed with whole ASCII words; tokens shorter than two runes
// carry no signal and are dropped.
func anchorTokens(norm string) []string {
	runes := []rune(norm)
	if len(runes) < 2 {
		return nil
	}
	toks := make([]string, 0, len(runes)-1)
	for i := 0; i+1 < len(runes); i++ {
		toks = append(toks, string(runes[i:i+2]))
	}
	return toks
}

// TimeWindow bounds the slice of room history an issue covers.
type TimeWindow struct {
	Since time.Time
	Until time.Time
}

// DeriveWindow computes the issue's time window from the first/last quote
// anchors. Missing anchors fall back to a fixed span before the primary
// anchor and to the latest candidate message respectively. Buffers absorb
// clock skew and conversation lead-in.
func DeriveWindow(anchor *Message, first, last *Message, candidates []Message) TimeWindow {
	var w TimeWindow
	if first != nil {
		w.Since = first.SentAt.Add(-anchorWindowBuffer)
	} else {
		w.Since = anchor.SentAt.Add(-anchorFallbackSpan)
	}
	if last != nil {
		w.Until = last.SentAt.Add(anchorWindowBuffer)
	} else {
		latest := anchor.SentAt
		for i := range candidates {
			if candidates[i].SentAt.After(latest) {
				latest = candidates[i].SentAt
			}
		}
		w.Until = latest.Add(anchorWindowBuffer)
	}
	if w.Until.Before(w.Since) {
		w.Until = w.Since
	}
	return w
}
