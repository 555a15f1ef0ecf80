package triage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

const (
	// DefaultContextLimit caps the messages fed to one triage pass.
	DefaultContextLimit = 80

	// excludedRoomTTL is how long a skipped room stays out of rotation.
	excludedRoomTTL = 30 * time.Minute
)

// Poller drives the continuous triage loop: on every tick it discovers
// active rooms, advances per-room cursors, counts pending messages, and
// hands rooms that cross a trigger threshold to the Engine. All per-room
// state lives in RoomState records so a restart resumes where it left off.
type Poller struct {
	states   StateStore
	messages MessageStore
	engine   *Engine
	policy   *TriggerPolicy
	cycle    *CycleManager

	Interval        time.Duration
	MaxRoomsPerTick int
	ContextLimit    int
	ExcludedSenders []string
	SweepMinPending int

	logger  log.Logger
	metrics *Metrics
	now     func() time.Time

	// mu guards the maps; roomLocks serialize cursor advance and pass
	// execution per room, so a tick and an inline ingest never work the
	// same room at once. mu is never held while waiting on a room lock.
	mu        sync.Mutex
	state     map[string]*RoomState
	roomLocks map[string]*sync.Mutex
	loaded    bool
	excluded  *ttlCache
}

// PollerDeps collects the poller's collaborators.
type PollerDeps struct {
	States   StateStore
	Messages MessageStore
	Engine   *Engine
	Policy   *TriggerPolicy
	Cycle    *CycleManager
	Logger   log.Logger
	Metrics  *Metrics
}

// NewPoller creates a poller with the given dependencies and defaults.
func NewPoller(d PollerDeps) *Poller {
	lg := d.Logger
	if lg == nil {
		lg = log.Nop()
	}
	return &Poller{
		states:          d.States,
		messages:        d.Messages,
		engine:          d.Engine,
		policy:          d.Policy,
		cycle:           d.Cycle,
		Interval:        30 * time.Second,
		MaxRoomsPerTick: 5,
		ContextLimit:    DefaultContextLimit,
		SweepMinPending: 2,
		logger:          lg,
		metrics:         d.Metrics,
		now:             time.Now,
		state:           make(map[string]*RoomState),
		roomLocks:       make(map[string]*sync.Mutex),
		excluded:        newTTLCache(excludedRoomTTL),
	}
}

// Run ticks until ctx is cancelled. Tick errors are logged, never fatal.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info(ctx, "poller started",
		"interval", p.Interval.String(),
		"max_rooms_per_tick", p.MaxRoomsPerTick,
	)
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info(ctx, "poller stopped")
			return
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil {
				p.logger.Error(ctx, err, "poller tick failed")
			}
		}
	}
}

// Tick runs one polling pass: rollover bookkeeping, cursor advance, and at
// most MaxRoomsPerTick triage passes for triggered rooms.
func (p *Poller) Tick(ctx context.Context) error {
	if err := p.ensureLoaded(ctx); err != nil {
		return err
	}
	if p.cycle.RolledOver() {
		p.markRollover(ctx)
	}

	cycleStart := p.cycle.Start()
	rooms, err := p.messages.ActiveRooms(ctx, cycleStart)
	if err != nil {
		return err
	}
	// Rooms flagged at rollover carry their backlog from the previous
	// cycle and may have no messages in the current one.
	seen := make(map[string]struct{}, len(rooms))
	for _, r := range rooms {
		seen[r] = struct{}{}
	}
	p.mu.Lock()
	tracked := make([]string, 0, len(p.state))
	for roomID := range p.state {
		tracked = append(tracked, roomID)
	}
	p.mu.Unlock()
	for _, roomID := range tracked {
		if _, ok := seen[roomID]; ok {
			continue
		}
		l := p.roomLock(roomID)
		l.Lock()
		if p.roomState(roomID, cycleStart).NeedsFlush {
			rooms = append(rooms, roomID)
		}
		l.Unlock()
	}
	excluded, err := p.excludedRooms(ctx)
	if err != nil {
		p.logger.Warn(ctx, "excluded-room lookup failed, skipping exclusion", "error", err.Error())
		excluded = nil
	}

	type triggered struct {
		roomID       string
		reason       TriggerReason
		waitingSince time.Time
	}
	var due []triggered
	pending := 0

	for _, roomID := range rooms {
		if p.excluded.Has(roomID) || excluded[roomID] {
			continue
		}
		l := p.roomLock(roomID)
		l.Lock()
		st := p.roomState(roomID, cycleStart)
		newText, err := p.advanceCursor(ctx, st)
		if err != nil {
			l.Unlock()
			p.logger.Warn(ctx, "cursor advance failed", "room_id", roomID, "error", err.Error())
			continue
		}
		if st.PendingCount > 0 || st.RawPendingCount > 0 {
			pending++
		}
		reason := p.policy.Evaluate(st, newText)
		if reason == TriggerNone && st.NeedsFlush && !p.policy.InCooldown(st) {
			reason = TriggerEffectiveVolume
		}
		if reason != TriggerNone {
			due = append(due, triggered{roomID: roomID, reason: reason, waitingSince: st.LastProcessedAt})
		}
		l.Unlock()
	}
	p.metrics.Tick(pending)

	// Rooms waiting longest go first so a busy room cannot starve others.
	sort.Slice(due, func(i, j int) bool {
		return due[i].waitingSince.Before(due[j].waitingSince)
	})
	if len(due) > p.MaxRoomsPerTick {
		due = due[:p.MaxRoomsPerTick]
	}

	for _, t := range due {
		l := p.roomLock(t.roomID)
		l.Lock()
		st := p.roomState(t.roomID, cycleStart)
		// An inline ingest pass may have settled the room since collection.
		if !st.LastProcessedAt.Equal(t.waitingSince) {
			l.Unlock()
			continue
		}
		p.processRoom(ctx, st, t.reason, cycleStart)
		l.Unlock()
	}
	return nil
}

// OnNewMessages lets the ingestion path nudge the poller synchronously
// after a batch lands, so high-risk traffic is evaluated without waiting
// for the next tick.
func (p *Poller) OnNewMessages(ctx context.Context, roomID string, newText string) (*Outcome, error) {
	if err := p.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	cycleStart := p.cycle.Start()
	l := p.roomLock(roomID)
	l.Lock()
	defer l.Unlock()
	st := p.roomState(roomID, cycleStart)
	if _, err := p.advanceCursor(ctx, st); err != nil {
		return nil, err
	}
	reason := p.policy.Evaluate(st, newText)
	if reason == TriggerNone {
		return nil, nil
	}
	return p.processRoomOutcome(ctx, st, reason, cycleStart)
}

// ProcessNow forces a triage pass for one room, bypassing thresholds and
// cooldown. Used by the manual-trigger API.
func (p *Poller) ProcessNow(ctx context.Context, roomID string) (*Outcome, error) {
	if err := p.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	cycleStart := p.cycle.Start()
	l := p.roomLock(roomID)
	l.Lock()
	defer l.Unlock()
	st := p.roomState(roomID, cycleStart)
	if _, err := p.advanceCursor(ctx, st); err != nil {
		return nil, err
	}
	return p.processRoomOutcome(ctx, st, TriggerManual, cycleStart)
}

// Snapshot returns a copy of one room's state.
func (p *Poller) Snapshot(ctx context.Context, roomID string) (*RoomState, bool, error) {
	if err := p.ensureLoaded(ctx); err != nil {
		return nil, false, err
	}
	p.mu.Lock()
	st, ok := p.state[roomID]
	p.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	l := p.roomLock(roomID)
	l.Lock()
	cp := *st
	l.Unlock()
	return &cp, true, nil
}

// RunEndOfCycleSweep flushes rooms whose accumulated messages never
// reached a volume trigger before the cycle ended. Only rooms with a
// modest backlog are worth a pass; one stray message is not.
func (p *Poller) RunEndOfCycleSweep(ctx context.Context) error {
	if err := p.ensureLoaded(ctx); err != nil {
		return err
	}
	cycleStart := p.cycle.Start()

	p.mu.Lock()
	roomIDs := make([]string, 0, len(p.state))
	for roomID := range p.state {
		roomIDs = append(roomIDs, roomID)
	}
	p.mu.Unlock()
	sort.Strings(roomIDs)

	swept := 0
	for _, roomID := range roomIDs {
		l := p.roomLock(roomID)
		l.Lock()
		st := p.roomState(roomID, cycleStart)
		// Re-checked under the room lock: a pass may have settled the
		// room since the ID was collected.
		if st.PendingCount >= p.SweepMinPending && st.PendingCount < p.policy.EffectiveThreshold {
			p.processRoom(ctx, st, TriggerEffectiveVolume, cycleStart)
			swept++
		}
		l.Unlock()
	}
	p.logger.Info(ctx, "end-of-cycle sweep", "rooms", swept)
	p.metrics.Sweep(swept)
	return nil
}

func (p *Poller) processRoom(ctx context.Context, st *RoomState, reason TriggerReason, cycleStart time.Time) {
	if _, err := p.processRoomOutcome(ctx, st, reason, cycleStart); err != nil {
		p.logger.Error(ctx, err, "room triage pass failed", "room_id", st.RoomID)
	}
}

// processRoomOutcome runs one engine pass and settles the room's state:
// counters reset and the cooldown starts on any completed pass, while a
// transient failure keeps the counters so the next tick retries.
func (p *Poller) processRoomOutcome(ctx context.Context, st *RoomState, reason TriggerReason, cycleStart time.Time) (*Outcome, error) {
	start := p.now()
	since := cycleStart
	if st.NeedsFlush {
		// Flush passes analyze backlog carried over from the previous cycle.
		since = cycleStart.AddDate(0, 0, -1)
	}
	msgs, err := p.messages.RecentRoomMessages(ctx, st.RoomID, since, p.ContextLimit)
	if err != nil {
		return nil, err
	}
	candidates := make([]Message, len(msgs))
	for i, m := range msgs {
		candidates[i] = *m
	}

	outcome, err := p.engine.ProcessRoom(ctx, st.RoomID, candidates, st, reason)
	p.metrics.RoomPass(reason, p.now().Sub(start))
	now := p.now()
	if err != nil {
		// Counters survive so the same backlog triggers again after the
		// cooldown, but the cooldown still starts to avoid a hot loop.
		st.LastTriggeredAt = now
		if serr := p.states.Save(ctx, st); serr != nil {
			p.logger.Error(ctx, serr, "room state save failed", "room_id", st.RoomID)
		}
		return nil, err
	}

	st.ResetCounters()
	st.NeedsFlush = false
	st.LastProcessedAt = now
	st.LastTriggeredAt = now
	if err := p.states.Save(ctx, st); err != nil {
		p.logger.Error(ctx, err, "room state save failed", "room_id", st.RoomID)
	}
	return outcome, nil
}

// advanceCursor counts messages past the room's cursor and moves it.
// Returns the concatenated new non-noise text for keyword evaluation.
func (p *Poller) advanceCursor(ctx context.Context, st *RoomState) (string, error) {
	msgs, err := p.messages.RoomMessagesAfter(ctx, st.RoomID, st.Cursor, p.ContextLimit)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", nil
	}
	var newText string
	for _, m := range msgs {
		st.RawPendingCount++
		if !m.Noise {
			st.PendingCount++
			newText += m.Text + "\n"
		}
		if m.SentAt.After(st.Cursor) {
			st.Cursor = m.SentAt
		}
	}
	if err := p.states.Save(ctx, st); err != nil {
		p.logger.Warn(ctx, "room state save failed", "room_id", st.RoomID, "error", err.Error())
	}
	return newText, nil
}

// markRollover carries unfinished rooms across the cycle boundary: any
// room with a meaningful backlog is flagged for a flush pass, then all
// counters restart for the new cycle.
func (p *Poller) markRollover(ctx context.Context) {
	cycleStart := p.cycle.Start()

	p.mu.Lock()
	live := make([]*RoomState, 0, len(p.state))
	for _, st := range p.state {
		live = append(live, st)
	}
	p.mu.Unlock()

	var flagged int
	states := make([]*RoomState, 0, len(live))
	for _, st := range live {
		l := p.roomLock(st.RoomID)
		l.Lock()
		if st.PendingCount >= p.SweepMinPending || st.RawPendingCount >= 5 {
			st.NeedsFlush = true
			flagged++
		} else {
			st.ResetCounters()
		}
		// Flush passes read their backlog by time window, not cursor,
		// so flagged rooms lose nothing here.
		if st.Cursor.Before(cycleStart) {
			st.Cursor = cycleStart
		}
		cp := *st
		l.Unlock()
		states = append(states, &cp)
	}

	p.logger.Info(ctx, "cycle rollover", "cycle", p.cycle.ID(), "rooms_flagged", flagged)
	if err := p.states.SaveAll(ctx, states); err != nil {
		p.logger.Error(ctx, err, "rollover state save failed")
	}
}

func (p *Poller) ensureLoaded(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return nil
	}
	states, err := p.states.LoadAll(ctx)
	if err != nil {
		return err
	}
	for _, st := range states {
		p.state[st.RoomID] = st
	}
	p.loaded = true
	p.logger.Info(ctx, "room state loaded", "rooms", len(states))
	return nil
}

// roomLock returns the mutex serializing work on one room.
func (p *Poller) roomLock(roomID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.roomLocks[roomID]
	if !ok {
		l = &sync.Mutex{}
		p.roomLocks[roomID] = l
	}
	return l
}

func (p *Poller) roomState(roomID string, cycleStart time.Time) *RoomState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.state[roomID]
	if !ok {
		st = &RoomState{RoomID: roomID, Cursor: cycleStart}
		p.state[roomID] = st
	}
	return st
}

// excludedRooms resolves rooms dominated by excluded senders, fronted by
// the TTL cache so the lookup does not run on every tick.
func (p *Poller) excludedRooms(ctx context.Context) (map[string]bool, error) {
	if len(p.ExcludedSenders) == 0 {
		return nil, nil
	}
	rooms, err := p.messages.RoomsWithSenders(ctx, p.ExcludedSenders)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(rooms))
	for _, r := range rooms {
		set[r] = true
		p.excluded.Add(r)
	}
	return set, nil
}
