// Package speed runs timed deathmatch rounds: kill points earned during the
// round rank the players, and the finish packet carries the top five plus
// each player's personal best.
package speed

import (
	"time"

	"go.uber.org/zap"

	"github.com/subzone/server/internal/core/broker"
	"github.com/subzone/server/internal/core/mainloop"
	"github.com/subzone/server/internal/core/slot"
	"github.com/subzone/server/internal/net/packet"
	"github.com/subzone/server/internal/world"
)

type gameState int8

const (
	stateStopped gameState = iota
	stateStarting
	stateRunning
)

type arenaSpeed struct {
	state   gameState
	startAt time.Time
	endAt   time.Time
	ranked  []*world.Player // descending by round kill points
	tokens  []*broker.CallbackToken
}

var speedKey = slot.NewKey[arenaSpeed]()

type Module struct {
	log   *zap.Logger
	root  *broker.Broker
	reg   *world.Registry
	loop  *mainloop.Loop
	clock world.Clock
}

func New(root *broker.Broker, reg *world.Registry, loop *mainloop.Loop, clock world.Clock, log *zap.Logger) *Module {
	return &Module{log: log, root: root, reg: reg, loop: loop, clock: clock}
}

func (m *Module) Name() string { return "speed" }

func (m *Module) SetupCommands(cmds world.CommandDispatcher) {
	cmds.Register("best", m.cmdBest)
	cmds.Register("speedstats", m.cmdSpeedStats)
}

func (m *Module) Attach(a *world.Arena) error {
	sp := slot.Get(&a.Extra, speedKey)
	sp.tokens = []*broker.CallbackToken{
		broker.RegisterCallback(a.Broker, func(ev world.KillEvent) { m.onKill(ev) }),
		broker.RegisterCallback(a.Broker, func(ev world.PlayerActionEvent) {
			if ev.Action == world.PlayerLeaveArena {
				m.onLeave(ev.Arena, ev.Player)
			}
		}),
	}
	m.loop.SetTimer(func() bool {
		if a.State != world.ArenaRunning {
			return false
		}
		if _, ok := slot.TryGet(&a.Extra, speedKey); !ok {
			return false
		}
		m.tick(a)
		return true
	}, time.Second, time.Second, a.TimerKey())
	return nil
}

func (m *Module) Detach(a *world.Arena) {
	sp := slot.Get(&a.Extra, speedKey)
	for _, t := range sp.tokens {
		broker.UnregisterCallback(t)
	}
	slot.Remove(&a.Extra, speedKey)
}

func (m *Module) tick(a *world.Arena) {
	sp := slot.Get(&a.Extra, speedKey)
	now := m.clock.Now()
	switch sp.state {
	case stateStopped:
		if !a.Conf.GetBool("Speed", "AutoStart", false) {
			return
		}
		if len(m.contenders(a)) >= 2 {
			sp.state = stateStarting
			sp.startAt = now.Add(a.Conf.GetTicks("Speed", "StartDelay", 1000))
		}
	case stateStarting:
		if len(m.contenders(a)) < 2 {
			sp.state = stateStopped
			return
		}
		if !now.Before(sp.startAt) {
			m.start(a, sp)
		}
	case stateRunning:
		if !now.Before(sp.endAt) {
			m.endGame(a, sp)
		}
	}
}

func (m *Module) contenders(a *world.Arena) []*world.Player {
	var out []*world.Player
	for _, p := range m.reg.ArenaPlayers(a) {
		if p.Ship.InGame() {
			out = append(out, p)
		}
	}
	return out
}

func (m *Module) start(a *world.Arena, sp *arenaSpeed) {
	sp.ranked = nil
	sp.state = stateRunning
	sp.endAt = m.clock.Now().Add(a.Conf.GetTicks("Speed", "GameDuration", 6000))

	// Fresh round: zero the round interval and ship-reset everyone so the
	// scoreboard and the field both start clean.
	m.withStats(func(st world.Stats) {
		st.ScoreResetArena(a, world.IntervalGame)
	})
	m.sendToArena(a, packet.ScoreReset(-1))
	if chat, ref, ok := broker.GetInterface[world.Chat](m.root); ok {
		chat.SendArenaMessage(a, "A speed game is starting. Go!")
		m.root.ReleaseInterface(ref)
	}
}

func (m *Module) onKill(ev world.KillEvent) {
	a := ev.Arena
	sp := slot.Get(&a.Extra, speedKey)
	if sp.state != stateRunning || ev.Killer == ev.Killed {
		return
	}
	m.rank(a, sp, ev.Killer)
}

// rank moves p to its correct slot in the descending rank list. Ties keep
// the earlier scorer ahead.
func (m *Module) rank(a *world.Arena, sp *arenaSpeed, p *world.Player) {
	score := m.roundScore(p)
	if score <= 0 {
		return
	}
	for i, q := range sp.ranked {
		if q == p {
			sp.ranked = append(sp.ranked[:i], sp.ranked[i+1:]...)
			break
		}
	}
	at := len(sp.ranked)
	for i, q := range sp.ranked {
		if score > m.roundScore(q) {
			at = i
			break
		}
	}
	sp.ranked = append(sp.ranked, nil)
	copy(sp.ranked[at+1:], sp.ranked[at:])
	sp.ranked[at] = p
}

func (m *Module) onLeave(a *world.Arena, p *world.Player) {
	sp := slot.Get(&a.Extra, speedKey)
	for i, q := range sp.ranked {
		if q == p {
			sp.ranked = append(sp.ranked[:i], sp.ranked[i+1:]...)
			return
		}
	}
}

func (m *Module) endGame(a *world.Arena, sp *arenaSpeed) {
	var top [5]packet.SpeedStatsEntry
	for i := 0; i < len(sp.ranked) && i < 5; i++ {
		top[i] = packet.SpeedStatsEntry{
			PlayerID: sp.ranked[i].ID,
			Score:    int32(m.roundScore(sp.ranked[i])),
		}
	}

	m.withStats(func(st world.Stats) {
		if len(sp.ranked) > 0 {
			st.Increment(sp.ranked[0], world.StatSpeedGamesWon, 1, world.ScopeAll)
		}
		send, sref, haveSend := broker.GetInterface[world.PacketSender](m.root)
		for _, p := range m.reg.ArenaPlayers(a) {
			score := int32(m.roundScore(p))
			best, _ := st.TryGet(p, world.StatSpeedPersonalBest, world.ScopeArena, world.IntervalForever)
			if int64(score) > best {
				best = int64(score)
				st.Set(p, world.StatSpeedPersonalBest, best, world.ScopeAll, world.IntervalForever)
			}
			if haveSend {
				send.ToPlayer(p, packet.SpeedStats(int32(best), m.rankOf(sp, p), score, top), true)
			}
		}
		if haveSend {
			m.root.ReleaseInterface(sref)
		}
	})

	if chat, ref, ok := broker.GetInterface[world.Chat](m.root); ok {
		if len(sp.ranked) > 0 {
			chat.SendArenaSoundMessage(a, world.SoundDing,
				"Speed game over. Winner: %s (%d points)", sp.ranked[0].Name, m.roundScore(sp.ranked[0]))
		} else {
			chat.SendArenaMessage(a, "Speed game over. No one scored.")
		}
		m.root.ReleaseInterface(ref)
	}

	broker.Fire(a.Broker, world.SpeedGameEndEvent{Arena: a, Ranked: sp.ranked})

	if ps, ref, ok := broker.GetInterface[world.PlayerSync](m.root); ok {
		ps.EndInterval(world.ArenaGroup(a), world.IntervalGame)
		m.root.ReleaseInterface(ref)
	}
	m.withStats(func(st world.Stats) { st.SendUpdates(a, nil) })

	sp.state = stateStopped
	sp.ranked = nil
}

// rankOf returns the 1-based rank, or 0 for an unranked player.
func (m *Module) rankOf(sp *arenaSpeed, p *world.Player) uint16 {
	for i, q := range sp.ranked {
		if q == p {
			return uint16(i + 1)
		}
	}
	return 0
}

func (m *Module) roundScore(p *world.Player) int64 {
	st, ref, ok := broker.GetInterface[world.Stats](m.root)
	if !ok {
		return 0
	}
	defer m.root.ReleaseInterface(ref)
	v, _ := st.TryGet(p, world.StatKillPoints, world.ScopeArena, world.IntervalGame)
	return v
}

// ── commands ───────────────────────────────────────────────────

func (m *Module) cmdBest(p *world.Player, args string) {
	chat, ref, ok := broker.GetInterface[world.Chat](m.root)
	if !ok {
		return
	}
	defer m.root.ReleaseInterface(ref)
	st, sref, ok := broker.GetInterface[world.Stats](m.root)
	if !ok {
		return
	}
	defer m.root.ReleaseInterface(sref)
	best, found := st.TryGet(p, world.StatSpeedPersonalBest, world.ScopeArena, world.IntervalForever)
	if !found || best == 0 {
		chat.SendMessage(p, "You have no speed game record yet.")
		return
	}
	chat.SendMessage(p, "Your best speed game: %d points.", best)
}

func (m *Module) cmdSpeedStats(p *world.Player, args string) {
	if p.Arena == nil {
		return
	}
	chat, ref, ok := broker.GetInterface[world.Chat](m.root)
	if !ok {
		return
	}
	defer m.root.ReleaseInterface(ref)
	sp := slot.Get(&p.Arena.Extra, speedKey)
	if sp.state != stateRunning {
		chat.SendMessage(p, "No speed game is running.")
		return
	}
	if rank := m.rankOf(sp, p); rank > 0 {
		chat.SendMessage(p, "Rank %d with %d points.", rank, m.roundScore(p))
	} else {
		chat.SendMessage(p, "Unranked. Score a kill to enter the board.")
	}
}

// ── helpers ────────────────────────────────────────────────────

func (m *Module) sendToArena(a *world.Arena, data []byte) {
	send, ref, ok := broker.GetInterface[world.PacketSender](m.root)
	if !ok {
		return
	}
	defer m.root.ReleaseInterface(ref)
	send.ToArena(a, nil, data, true)
}

func (m *Module) withStats(fn func(world.Stats)) {
	st, ref, ok := broker.GetInterface[world.Stats](m.root)
	if !ok {
		return
	}
	defer m.root.ReleaseInterface(ref)
	fn(st)
}
