package stats

import (
	"sync"
	"time"

	"github.com/subzone/server/internal/core/slot"
	"github.com/subzone/server/internal/world"
)

// statKey holds each player's stat buckets in the per-player slot table.
var statKey = slot.NewKey[playerStats]()

type timerKey struct {
	scope world.Scope
	code  world.StatCode
}

// playerStats is the per-player storage: buckets keyed by scope and
// interval, plus the running duration timers. The mutex covers off-loop
// reads by the persist serializer; all mutation happens on the mainloop.
type playerStats struct {
	mu      sync.Mutex
	buckets [2]map[world.Interval]map[world.StatCode]*entry // ScopeGlobal, ScopeArena
	timers  map[timerKey]time.Time
	dirty   bool
}

func forPlayer(p *world.Player) *playerStats {
	return slot.Get(&p.Extra, statKey)
}

func (ps *playerStats) bucket(scope world.Scope, iv world.Interval) map[world.StatCode]*entry {
	if ps.buckets[scope] == nil {
		ps.buckets[scope] = make(map[world.Interval]map[world.StatCode]*entry)
	}
	m, ok := ps.buckets[scope][iv]
	if !ok {
		m = make(map[world.StatCode]*entry)
		ps.buckets[scope][iv] = m
	}
	return m
}

func (ps *playerStats) ent(scope world.Scope, iv world.Interval, code world.StatCode) *entry {
	m := ps.bucket(scope, iv)
	e, ok := m[code]
	if !ok {
		e = &entry{k: defaultKind(code)}
		m[code] = e
	}
	return e
}

// peek returns the entry without creating it.
func (ps *playerStats) peek(scope world.Scope, iv world.Interval, code world.StatCode) (*entry, bool) {
	if ps.buckets[scope] == nil {
		return nil, false
	}
	m, ok := ps.buckets[scope][iv]
	if !ok {
		return nil, false
	}
	e, ok := m[code]
	return e, ok
}

func (ps *playerStats) timerStart(scope world.Scope, code world.StatCode) (time.Time, bool) {
	t, ok := ps.timers[timerKey{scope, code}]
	return t, ok
}

func (ps *playerStats) setTimer(scope world.Scope, code world.StatCode, t time.Time) {
	if ps.timers == nil {
		ps.timers = make(map[timerKey]time.Time)
	}
	ps.timers[timerKey{scope, code}] = t
}

func (ps *playerStats) clearTimer(scope world.Scope, code world.StatCode) {
	delete(ps.timers, timerKey{scope, code})
}
