package triage

import "time"

// CycleManager tracks the daily processing cycle. A cycle starts at the
// cutoff hour (local time) and runs until the next day's cutoff; messages
// older than the current cycle start are never reprocessed.
type CycleManager struct {
	cutoffHour int
	now        func() time.Time

	lastID string
}

// NewCycleManager returns a manager with the given cutoff hour (0..23).
func NewCycleManager(cutoffHour int) *CycleManager {
	return &CycleManager{cutoffHour: cutoffHour, now: time.Now}
}

// Start returns the start instant of the current cycle: today's cutoff if
// the cutoff has already passed, otherwise yesterday's.
func (c *CycleManager) Start() time.Time {
	now := c.now()
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), c.cutoffHour, 0, 0, 0, now.Location())
	if now.Before(cutoff) {
		cutoff = cutoff.AddDate(0, 0, -1)
	}
	return cutoff
}

// ID returns the current cycle's identifier, the date of its start in
// YYYY-MM-DD form. Two calls within the same cycle return the same ID.
func (c *CycleManager) ID() string {
	return c.Start().Format("2006-01-02")
}

// RolledOver reports whether the cycle has changed since the previous call.
// The first call never reports a rollover; it only primes the cached ID.
func (c *CycleManager) RolledOver() bool {
	id := c.ID()
	if c.lastID == "" {
		c.lastID = id
		return false
	}
	if id != c.lastID {
		c.lastID = id
		return true
	}
	return false
}
