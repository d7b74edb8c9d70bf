// Package tracker keeps per-guild sliding windows of member joins and messages.
//
// Each guild owns its own lock, so events for different guilds never contend.
// Entries older than the retention horizon are evicted on every read and by a
// periodic sweep; both evictions are idempotent and may interleave freely.
package tracker

import (
	"context"
	"sort"
	"sync"
	"time"
)

type Kind uint8

const (
	KindJoin Kind = iota
	KindMessage
	kindCount
)

func (k Kind) String() string {
	switch k {
	case KindJoin:
		return "join"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is one recorded (timestamp, principal) pair
type Event struct {
	At          time.Time
	PrincipalID string
}

// WindowStats summarizes the events of one kind inside a window
type WindowStats struct {
	Count        int
	Distinct     int
	PerPrincipal map[string]int
}

type guildActivity struct {
	mu     sync.Mutex
	events [kindCount][]Event
}

type Options struct {
	Retention     time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
	// OnSweep, when set, is called after each background sweep
	OnSweep func(evicted int, remaining [2]int)
}

// Tracker is the activity state of one subsystem instance
type Tracker struct {
	mu     sync.RWMutex
	guilds map[string]*guildActivity

	retention     time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	onSweep       func(int, [2]int)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) *Tracker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retention <= 0 {
		opts.Retention = 2 * time.Hour
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Minute
	}

	return &Tracker{
		guilds:        make(map[string]*guildActivity),
		retention:     opts.Retention,
		sweepInterval: opts.SweepInterval,
		now:           opts.Now,
		onSweep:       opts.OnSweep,
	}
}

func (t *Tracker) Retention() time.Duration {
	return t.retention
}

// withGuild runs fn with the guild's lock held. The tracker read lock is held
// for the duration so a concurrent Sweep cannot drop the guild mid-update.
// Returns false if the guild is unknown and create is false.
func (t *Tracker) withGuild(guildID string, create bool, fn func(g *guildActivity)) bool {
	for {
		t.mu.RLock()
		if g := t.guilds[guildID]; g != nil {
			g.mu.Lock()
			fn(g)
			g.mu.Unlock()
			t.mu.RUnlock()
			return true
		}
		t.mu.RUnlock()

		if !create {
			return false
		}

		t.mu.Lock()
		if t.guilds[guildID] == nil {
			t.guilds[guildID] = &guildActivity{}
		}
		t.mu.Unlock()
	}
}

// Record appends an event, keeping the window in chronological order
func (t *Tracker) Record(guildID string, kind Kind, principalID string, at time.Time) {
	if kind >= kindCount {
		return
	}
	if at.IsZero() {
		at = t.now()
	}
	ev := Event{At: at, PrincipalID: principalID}

	t.withGuild(guildID, true, func(g *guildActivity) {
		events := g.events[kind]

		n := len(events)
		if n == 0 || !at.Before(events[n-1].At) {
			g.events[kind] = append(events, ev)
			return
		}

		// late arrival: insert after every event at or before it
		idx := sort.Search(n, func(i int) bool { return events[i].At.After(at) })
		events = append(events, Event{})
		copy(events[idx+1:], events[idx:])
		events[idx] = ev
		g.events[kind] = events
	})
}

// Count returns the number of kind events within window of now
func (t *Tracker) Count(guildID string, kind Kind, window time.Duration) int {
	return t.Stats(guildID, kind, window).Count
}

// Stats evicts stale entries then summarizes the events within window of now
func (t *Tracker) Stats(guildID string, kind Kind, window time.Duration) WindowStats {
	stats := WindowStats{PerPrincipal: make(map[string]int)}
	for _, ev := range t.Events(guildID, kind, window) {
		stats.PerPrincipal[ev.PrincipalID]++
		stats.Count++
	}
	stats.Distinct = len(stats.PerPrincipal)
	return stats
}

// Events evicts stale entries then returns a copy of the kind events within window of now
func (t *Tracker) Events(guildID string, kind Kind, window time.Duration) []Event {
	if kind >= kindCount {
		return nil
	}

	now := t.now()
	var out []Event

	t.withGuild(guildID, false, func(g *guildActivity) {
		g.evictLocked(kind, now.Add(-t.retention))

		events := g.events[kind]
		cutoff := now.Add(-window)
		start := sort.Search(len(events), func(i int) bool { return !events[i].At.Before(cutoff) })

		out = make([]Event, len(events)-start)
		copy(out, events[start:])
	})
	return out
}

// evictLocked drops events strictly older than cutoff. Caller holds g.mu.
func (g *guildActivity) evictLocked(kind Kind, cutoff time.Time) int {
	events := g.events[kind]
	idx := sort.Search(len(events), func(i int) bool { return !events[i].At.Before(cutoff) })
	if idx == 0 {
		return 0
	}
	if idx == len(events) {
		g.events[kind] = nil
		return idx
	}
	kept := make([]Event, len(events)-idx)
	copy(kept, events[idx:])
	g.events[kind] = kept
	return idx
}

// Sweep evicts events older than the retention horizon across all guilds and
// forgets guilds left empty. Returns the number of evicted events.
func (t *Tracker) Sweep() int {
	cutoff := t.now().Add(-t.retention)

	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for id, g := range t.guilds {
		g.mu.Lock()
		empty := true
		for k := Kind(0); k < kindCount; k++ {
			evicted += g.evictLocked(k, cutoff)
			if len(g.events[k]) > 0 {
				empty = false
			}
		}
		g.mu.Unlock()

		if empty {
			delete(t.guilds, id)
		}
	}
	return evicted
}

// Totals returns the number of retained events per kind across all guilds
func (t *Tracker) Totals() [2]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var totals [2]int
	for _, g := range t.guilds {
		g.mu.Lock()
		totals[KindJoin] += len(g.events[KindJoin])
		totals[KindMessage] += len(g.events[KindMessage])
		g.mu.Unlock()
	}
	return totals
}

// Guilds lists guilds that currently hold events
func (t *Tracker) Guilds() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.guilds))
	for id := range t.guilds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset forgets all activity of a guild
func (t *Tracker) Reset(guildID string) {
	t.mu.Lock()
	delete(t.guilds, guildID)
	t.mu.Unlock()
}

// Start runs the background sweep until Stop or ctx cancellation
func (t *Tracker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ticker := time.NewTicker(t.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				evicted := t.Sweep()
				if t.onSweep != nil {
					t.onSweep(evicted, t.Totals())
				}
			}
		}
	}()
}

func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}
