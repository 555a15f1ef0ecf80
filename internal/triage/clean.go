package triage

import (
	"strings"
	"unicode"
)

// Chat rooms are mostly acknowledgements and pleasantries. The noise filter
// keeps them out of the effective-message count so volume triggers reflect
// substantive discussion, but noisy messages still land in storage and still
// count toward the raw threshold.

var noisePhrases = map[string]struct{}{
	"收到":   {},
	"好的":   {},
	"好":    {},
	"嗯":    {},
	"嗯嗯":   {},
	"ok":   {},
	"okay": {},
	"谢谢":   {},
	"感谢":   {},
	"辛苦了":  {},
	"辛苦":   {},
	"明白":   {},
	"了解":   {},
	"知道了":  {},
	"可以":   {},
	"没问题":  {},
	"+1":   {},
	"赞":    {},
	"thanks": {},
	"thx":    {},
	"done":   {},
	"got it": {},
}

// IsNoise reports whether a message carries no triage signal: empty or
// near-empty text, a stock acknowledgement, pure punctuation or emoji, or a
// single character repeated.
func IsNoise(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	lower := strings.ToLower(trimmed)
	if _, ok := noisePhrases[lower]; ok {
		return true
	}
	runes := []rune(trimmed)
	if len(runes) < 4 {
		// Short messages that aren't stock phrases can still matter
		// ("502?", "挂了"), but only if they contain a letter or digit.
		if !containsWord(runes) {
			return true
		}
	}
	if isRepeatedRune(runes) {
		return true
	}
	if !containsWord(runes) {
		return true
	}
	return false
}

func containsWord(runes []rune) bool {
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func isRepeatedRune(runes []rune) bool {
	if len(runes) < 3 {
		return false
	}
	first := runes[0]
	for _, r := range runes[1:] {
		if r != first {
			return false
		}
	}
	return true
}
