package triage

import (
	"strings"
	"time"
)

// TriggerReason names why a room was picked for a triage pass.
type TriggerReason string

const (
	TriggerNone            TriggerReason = ""
	TriggerHighRisk        TriggerReason = "high_risk"
	TriggerEffectiveVolume TriggerReason = "effective_volume"
	TriggerRawVolume       TriggerReason = "raw_volume"
	TriggerManual          TriggerReason = "manual"
)

// DefaultHighRiskKeywords match phrases that warrant jumping the cooldown.
var DefaultHighRiskKeywords = []string{
	"崩溃", "宕机", "严重", "紧急", "无法使用", "全部失败", "数据丢失",
	"生产事故", "线上故障", "urgent", "critical", "outage", "data loss",
}

// TriggerPolicy decides when a room's accumulated messages justify an
// expensive triage pass.
type TriggerPolicy struct {
	EffectiveThreshold int           // pending non-noise messages
	RawThreshold       int           // pending raw messages, noise included
	HighRiskMinPending int           // minimum pending for the keyword bypass
	Cooldown           time.Duration // minimum gap between passes per room

	keywords []string
	now      func() time.Time
}

// NewTriggerPolicy returns a policy with the given thresholds and the
// default high-risk keyword set.
func NewTriggerPolicy(effective, raw, highRiskMin int, cooldown time.Duration) *TriggerPolicy {
	return &TriggerPolicy{
		EffectiveThreshold: effective,
		RawThreshold:       raw,
		HighRiskMinPending: highRiskMin,
		Cooldown:           cooldown,
		keywords:           DefaultHighRiskKeywords,
		now:                time.Now,
	}
}

// SetKeywords replaces the high-risk keyword list.
func (p *TriggerPolicy) SetKeywords(kw []string) { p.keywords = kw }

// InCooldown reports whether the room is still inside its cooldown window.
func (p *TriggerPolicy) InCooldown(state *RoomState) bool {
	if state.LastTriggeredAt.IsZero() {
		return false
	}
	return p.now().Sub(state.LastTriggeredAt) < p.Cooldown
}

// Evaluate decides whether the room should be processed now. newText is the
// concatenated text of messages appended since the last decision; it is only
// consulted for the high-risk keyword bypass, which fires even during
// cooldown. Volume triggers respect the cooldown.
func (p *TriggerPolicy) Evaluate(state *RoomState, newText string) TriggerReason {
	if state.PendingCount >= p.HighRiskMinPending && p.containsHighRisk(newText) {
		return TriggerHighRisk
	}
	if p.InCooldown(state) {
		return TriggerNone
	}
	if state.PendingCount >= p.EffectiveThreshold {
		return TriggerEffectiveVolume
	}
	if state.RawPendingCount >= p.RawThreshold {
		return TriggerRawVolume
	}
	return TriggerNone
}

func (p *TriggerPolicy) containsHighRisk(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range p.keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
