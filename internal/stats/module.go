package stats

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/subzone/server/internal/core/broker"
	"github.com/subzone/server/internal/net/packet"
	"github.com/subzone/server/internal/world"
)

// keyPlayerStats is the persist key the stat buckets are stored under.
const keyPlayerStats = 1

// baseIntervals always exist; arenas may add more via
// Stats:AdditionalIntervals.
var baseIntervals = []world.Interval{
	world.IntervalForever,
	world.IntervalReset,
	world.IntervalGame,
}

// Module is the scoring service. It implements world.Stats, mirrors the four
// client-visible score fields, and owns the score-update broadcast.
type Module struct {
	log   *zap.Logger
	root  *broker.Broker
	reg   *world.Registry
	send  world.PacketSender
	clock world.Clock
}

func New(root *broker.Broker, reg *world.Registry, send world.PacketSender, clock world.Clock, log *zap.Logger) *Module {
	return &Module{log: log, root: root, reg: reg, send: send, clock: clock}
}

// Setup publishes the service, hooks the lifecycle events that drive the
// arena time stats, and registers the persisted buckets with the bridge.
func (m *Module) Setup(persist world.Persist, cmds world.CommandDispatcher) error {
	if _, err := broker.RegisterInterface[world.Stats](m.root, m); err != nil {
		return err
	}
	broker.RegisterCallback(m.root, m.onPlayerAction)
	broker.RegisterCallback(m.root, m.onShipFreqChange)
	if persist != nil {
		m.registerPersist(persist)
	}
	if cmds != nil {
		cmds.Register("stats", m.cmdStats)
	}
	return nil
}

// ── world.Stats ────────────────────────────────────────────────

func (m *Module) Increment(p *world.Player, st world.StatCode, amount int64, scope world.Scope) {
	ps := forPlayer(p)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, sc := range expandScope(scope) {
		for _, iv := range m.intervalsFor(p) {
			ps.ent(sc, iv, st).add(amount)
		}
	}
	m.markDirty(ps, st)
}

func (m *Module) IncrementInterval(p *world.Player, st world.StatCode, amount int64, scope world.Scope, iv world.Interval) {
	ps := forPlayer(p)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, sc := range expandScope(scope) {
		ps.ent(sc, iv, st).add(amount)
	}
	m.markDirty(ps, st)
}

func (m *Module) Set(p *world.Player, st world.StatCode, value int64, scope world.Scope, iv world.Interval) {
	ps := forPlayer(p)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, sc := range expandScope(scope) {
		ps.ent(sc, iv, st).set(value)
	}
	m.markDirty(ps, st)
}

func (m *Module) TryGet(p *world.Player, st world.StatCode, scope world.Scope, iv world.Interval) (int64, bool) {
	if scope == world.ScopeAll {
		return 0, false
	}
	ps := forPlayer(p)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	e, ok := ps.peek(scope, iv, st)
	if !ok {
		// A running timer counts even before its first stop.
		if start, running := ps.timerStart(scope, st); running {
			return m.clock.Now().Sub(start).Milliseconds(), true
		}
		return 0, false
	}
	v := e.value
	if e.k == kindDuration {
		if start, running := ps.timerStart(scope, st); running {
			v += m.clock.Now().Sub(start).Milliseconds()
		}
	}
	return v, true
}

func (m *Module) StartTimer(p *world.Player, st world.StatCode, scope world.Scope) {
	ps := forPlayer(p)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, sc := range expandScope(scope) {
		if _, running := ps.timerStart(sc, st); !running {
			ps.setTimer(sc, st, m.clock.Now())
		}
	}
}

func (m *Module) StopTimer(p *world.Player, st world.StatCode, scope world.Scope) {
	ps := forPlayer(p)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	now := m.clock.Now()
	for _, sc := range expandScope(scope) {
		start, running := ps.timerStart(sc, st)
		if !running {
			continue
		}
		elapsed := now.Sub(start).Milliseconds()
		for _, iv := range m.intervalsFor(p) {
			ps.ent(sc, iv, st).add(elapsed)
		}
		ps.clearTimer(sc, st)
	}
}

func (m *Module) ResetTimer(p *world.Player, st world.StatCode, scope world.Scope) {
	ps := forPlayer(p)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	now := m.clock.Now()
	for _, sc := range expandScope(scope) {
		if _, running := ps.timerStart(sc, st); running {
			ps.setTimer(sc, st, now)
		}
	}
}

func (m *Module) ScoreResetPlayer(p *world.Player, iv world.Interval) {
	m.resetPlayer(p, iv)
	if iv == world.IntervalReset && p.Arena != nil {
		m.send.ToArena(p.Arena, nil, packet.ScoreReset(p.ID), true)
	}
}

func (m *Module) ScoreResetArena(a *world.Arena, iv world.Interval) {
	for _, p := range m.reg.ArenaPlayers(a) {
		m.resetPlayer(p, iv)
	}
	if iv == world.IntervalReset {
		m.send.ToArena(a, nil, packet.ScoreReset(-1), true)
	}
}

// resetPlayer zeroes every entry of the interval in both scopes. Running
// timers keep running: only accumulated time is cleared, so time counted
// after the reset starts from zero.
func (m *Module) resetPlayer(p *world.Player, iv world.Interval) {
	ps := forPlayer(p)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	now := m.clock.Now()
	for _, sc := range []world.Scope{world.ScopeGlobal, world.ScopeArena} {
		if ps.buckets[sc] == nil {
			continue
		}
		for code, e := range ps.buckets[sc][iv] {
			e.value = 0
			if _, running := ps.timerStart(sc, code); running {
				ps.setTimer(sc, code, now)
			}
		}
	}
	if iv == world.IntervalReset {
		p.Score = world.ScoreMirror{}
		ps.dirty = false
	}
}

// SendUpdates broadcasts a score-update packet for every dirty player,
// optionally restricted to one arena. A second call with nothing newly
// dirty sends nothing.
func (m *Module) SendUpdates(a *world.Arena, exclude *world.Player) {
	var players []*world.Player
	if a != nil {
		players = m.reg.ArenaPlayers(a)
	} else {
		players = m.reg.Snapshot()
	}
	for _, p := range players {
		if p.Status != world.StatusPlaying || p.Arena == nil {
			continue
		}
		ps := forPlayer(p)
		ps.mu.Lock()
		if !ps.dirty {
			ps.mu.Unlock()
			continue
		}
		mirror := world.ScoreMirror{
			KillPoints: int32(valueOf(ps, world.StatKillPoints)),
			FlagPoints: int32(valueOf(ps, world.StatFlagPoints)),
			Wins:       uint16(valueOf(ps, world.StatKills)),
			Losses:     uint16(valueOf(ps, world.StatDeaths)),
		}
		ps.dirty = false
		ps.mu.Unlock()

		if mirror == p.Score {
			continue
		}
		p.Score = mirror
		m.send.ToArena(p.Arena, exclude,
			packet.ScoreUpdate(p.ID, mirror.KillPoints, mirror.FlagPoints, mirror.Wins, mirror.Losses), true)
	}
}

// valueOf reads a broadcast stat from the client-visible bucket (arena
// scope, reset interval). Caller holds ps.mu.
func valueOf(ps *playerStats, code world.StatCode) int64 {
	if e, ok := ps.peek(world.ScopeArena, world.IntervalReset, code); ok {
		return e.value
	}
	return 0
}

// markDirty flags players whose client-visible score changed. Caller holds
// ps.mu.
func (m *Module) markDirty(ps *playerStats, st world.StatCode) {
	switch st {
	case world.StatKillPoints, world.StatFlagPoints, world.StatKills, world.StatDeaths:
		ps.dirty = true
	}
}

func expandScope(scope world.Scope) []world.Scope {
	switch scope {
	case world.ScopeAll:
		return []world.Scope{world.ScopeGlobal, world.ScopeArena}
	default:
		return []world.Scope{scope}
	}
}

// intervalsFor lists the intervals stats accumulate into for this player:
// the base three plus Stats:AdditionalIntervals extra ones from the arena.
func (m *Module) intervalsFor(p *world.Player) []world.Interval {
	if p.Arena == nil || p.Arena.Conf == nil {
		return baseIntervals
	}
	extra := p.Arena.Conf.GetInt("Stats", "AdditionalIntervals", 0)
	if extra <= 0 {
		return baseIntervals
	}
	ivs := make([]world.Interval, 0, len(baseIntervals)+extra)
	ivs = append(ivs, baseIntervals...)
	for i := 0; i < extra; i++ {
		ivs = append(ivs, world.IntervalGame+1+world.Interval(i))
	}
	return ivs
}

// ── lifecycle hooks ────────────────────────────────────────────

func (m *Module) onPlayerAction(ev world.PlayerActionEvent) {
	p := ev.Player
	switch ev.Action {
	case world.PlayerConnect:
		m.Set(p, world.StatLastSeen, m.clock.Now().Unix(), world.ScopeGlobal, world.IntervalForever)
	case world.PlayerEnterArena:
		m.StartTimer(p, world.StatArenaTotalTime, world.ScopeArena)
		if p.IsSpec() {
			m.StartTimer(p, world.StatArenaSpecTime, world.ScopeArena)
		}
	case world.PlayerLeaveArena:
		m.StopTimer(p, world.StatArenaTotalTime, world.ScopeArena)
		m.StopTimer(p, world.StatArenaSpecTime, world.ScopeArena)
	}
}

func (m *Module) onShipFreqChange(ev world.ShipFreqChangeEvent) {
	p := ev.Player
	switch {
	case ev.NewShip == world.ShipSpectator && ev.OldShip != world.ShipSpectator:
		m.StartTimer(p, world.StatArenaSpecTime, world.ScopeArena)
	case ev.NewShip != world.ShipSpectator && ev.OldShip == world.ShipSpectator:
		m.StopTimer(p, world.StatArenaSpecTime, world.ScopeArena)
	}
}

// ── persistence ────────────────────────────────────────────────

func (m *Module) registerPersist(persist world.Persist) {
	for _, sc := range []world.Scope{world.ScopeGlobal, world.ScopeArena} {
		for _, iv := range baseIntervals {
			sc, iv := sc, iv
			persist.RegisterPlayerData(world.PlayerDataDef{
				Key:      keyPlayerStats,
				Interval: iv,
				Scope:    sc,
				Get: func(p *world.Player) []byte {
					ps := forPlayer(p)
					ps.mu.Lock()
					defer ps.mu.Unlock()
					if ps.buckets[sc] == nil {
						return nil
					}
					return encodeBucket(ps.buckets[sc][iv])
				},
				Set: func(p *world.Player, data []byte) {
					ps := forPlayer(p)
					ps.mu.Lock()
					defer ps.mu.Unlock()
					ps.bucket(sc, iv) // force scope map
					ps.buckets[sc][iv] = decodeBucket(data)
					if sc == world.ScopeArena && iv == world.IntervalReset {
						ps.dirty = true
					}
				},
				Clear: func(p *world.Player) {
					ps := forPlayer(p)
					ps.mu.Lock()
					defer ps.mu.Unlock()
					if ps.buckets[sc] != nil {
						delete(ps.buckets[sc], iv)
					}
				},
			})
		}
	}
}

// ── commands ───────────────────────────────────────────────────

// cmdStats prints the caller's stats: ?stats [-g] [forever|game|reset].
// -g reads the global scope; the interval word defaults to reset.
func (m *Module) cmdStats(p *world.Player, args string) {
	scope := world.ScopeArena
	iv := world.IntervalReset
	for _, f := range strings.Fields(args) {
		switch strings.ToLower(f) {
		case "-g":
			scope = world.ScopeGlobal
		case "forever":
			iv = world.IntervalForever
		case "game":
			iv = world.IntervalGame
		case "reset":
			iv = world.IntervalReset
		}
	}
	chat, ref, ok := broker.GetInterface[world.Chat](m.root)
	if !ok {
		return
	}
	defer m.root.ReleaseInterface(ref)

	kp, _ := m.TryGet(p, world.StatKillPoints, scope, iv)
	fp, _ := m.TryGet(p, world.StatFlagPoints, scope, iv)
	k, _ := m.TryGet(p, world.StatKills, scope, iv)
	d, _ := m.TryGet(p, world.StatDeaths, scope, iv)
	tt, _ := m.TryGet(p, world.StatArenaTotalTime, scope, iv)
	chat.SendMessage(p, "%s stats: %d points (%d flag), %d kills, %d deaths, %s in arena",
		iv, kp+fp, fp, k, d, (time.Duration(tt) * time.Millisecond).Round(time.Second))
}
