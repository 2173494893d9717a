// Package koth runs King of the Hill: every entrant starts with a crown,
// deaths and expiry whittle the field down, and the last freq holding a
// crown takes the round.
package koth

import (
	"time"

	"go.uber.org/zap"

	"github.com/subzone/server/internal/core/broker"
	"github.com/subzone/server/internal/core/mainloop"
	"github.com/subzone/server/internal/core/slot"
	"github.com/subzone/server/internal/world"
)

type gameState int8

const (
	stateStopped gameState = iota
	stateStarting
	stateRunning
)

type arenaKoth struct {
	state   gameState
	startAt time.Time // zero while waiting for quorum
	initial int       // contenders at round start, fixes the reward base
	deaths  map[*world.Player]int
	recover map[*world.Player]int
	tokens  []*broker.CallbackToken
}

var kothKey = slot.NewKey[arenaKoth]()

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

func (m *Module) Name() string { return "koth" }

func (m *Module) SetupCommands(cmds world.CommandDispatcher) {
	cmds.Register("resetkoth", func(p *world.Player, args string) {
		if p.Arena == nil || !p.HasCap("resetkoth") {
			return
		}
		m.stop(p.Arena)
	})
}

func (m *Module) Attach(a *world.Arena) error {
	k := slot.Get(&a.Extra, kothKey)
	k.deaths = make(map[*world.Player]int)
	k.recover = make(map[*world.Player]int)
	k.tokens = []*broker.CallbackToken{
		broker.RegisterCallback(a.Broker, func(ev world.KillEvent) { m.onKill(ev) }),
		broker.RegisterCallback(a.Broker, func(ev world.PlayerActionEvent) {
			if ev.Action == world.PlayerLeaveArena {
				m.onLeave(ev.Arena, ev.Player)
			}
		}),
	}
	m.loop.SetTimer(func() bool {
		if !m.alive(a) {
			return false
		}
		m.tick(a)
		return true
	}, time.Second, time.Second, a.TimerKey())
	return nil
}

func (m *Module) alive(a *world.Arena) bool {
	if a.State != world.ArenaRunning {
		return false
	}
	_, ok := slot.TryGet(&a.Extra, kothKey)
	return ok
}

func (m *Module) Detach(a *world.Arena) {
	k := slot.Get(&a.Extra, kothKey)
	for _, t := range k.tokens {
		broker.UnregisterCallback(t)
	}
	slot.Remove(&a.Extra, kothKey)
}

func (m *Module) minPlayers(a *world.Arena) int {
	n := a.Conf.GetInt("King", "MinPlayers", 2)
	if n < 2 {
		n = 2
	}
	return n
}

// tick drives the round state machine once a second.
func (m *Module) tick(a *world.Arena) {
	k := slot.Get(&a.Extra, kothKey)
	now := m.clock.Now()
	switch k.state {
	case stateStopped:
		if a.Conf.GetBool("King", "AutoStart", false) {
			k.state = stateStarting
			k.startAt = time.Time{}
		}
	case stateStarting:
		if len(m.contenders(a)) < m.minPlayers(a) {
			if !k.startAt.IsZero() {
				k.startAt = time.Time{}
				m.announce(a, "Not enough players to start King of the Hill.")
			}
			return
		}
		if k.startAt.IsZero() {
			delay := a.Conf.GetTicks("King", "StartDelay", 1000)
			k.startAt = now.Add(delay)
			m.announce(a, "King of the Hill starts in %d seconds.", int(delay/time.Second))
			return
		}
		if !now.Before(k.startAt) {
			m.start(a, k)
		}
	case stateRunning:
		m.expireCrowns(a, k, now)
	}
}

// contenders are the in-game players eligible for a crown.
func (m *Module) contenders(a *world.Arena) []*world.Player {
	var out []*world.Player
	for _, p := range m.reg.ArenaPlayers(a) {
		if p.Ship.InGame() {
			out = append(out, p)
		}
	}
	return out
}

func (m *Module) start(a *world.Arena, k *arenaKoth) {
	players := m.contenders(a)
	expire := m.clock.Now().Add(a.Conf.GetTicks("King", "ExpireTime", 18000))
	for _, p := range players {
		p.HasCrown = true
		p.CrownExpire = expire
		broker.Fire(a.Broker, world.CrownChangeEvent{Player: p, Gained: true})
	}
	k.state = stateRunning
	k.initial = len(players)
	k.deaths = make(map[*world.Player]int)
	k.recover = make(map[*world.Player]int)
	broker.Fire(a.Broker, world.KothStartedEvent{Arena: a, Participants: players})
	m.announce(a, "King of the Hill has begun!")
}

func (m *Module) stop(a *world.Arena) {
	k := slot.Get(&a.Extra, kothKey)
	for _, p := range m.reg.ArenaPlayers(a) {
		if p.HasCrown {
			m.loseCrown(a, p)
		}
	}
	k.state = stateStopped
	k.startAt = time.Time{}
	k.deaths = make(map[*world.Player]int)
	k.recover = make(map[*world.Player]int)
}

func (m *Module) onKill(ev world.KillEvent) {
	a := ev.Arena
	k := slot.Get(&a.Extra, kothKey)
	if k.state != stateRunning {
		return
	}
	now := m.clock.Now()
	killedHadCrown := ev.Killed.Crowned(now)

	if killedHadCrown {
		k.deaths[ev.Killed]++
		if k.deaths[ev.Killed] > a.Conf.GetInt("King", "DeathCount", 0) {
			m.loseCrown(a, ev.Killed)
			k.deaths[ev.Killed] = 0
			k.recover[ev.Killed] = 0
		}
	}

	full := a.Conf.GetTicks("King", "ExpireTime", 18000)
	switch {
	case ev.Killer == ev.Killed:
		// Self-kill: no credit.
	case ev.Killer.Crowned(now):
		if killedHadCrown {
			// Taking down a fellow crown refreshes the timer in full.
			ev.Killer.CrownExpire = now.Add(full)
		} else if ev.Killer.Pos.Bounty >= int32(a.Conf.GetInt("King", "NonCrownMinimumBounty", 0)) {
			adjusted := ev.Killer.CrownExpire.Add(a.Conf.GetTicks("King", "NonCrownAdjustTime", 1500))
			if limit := now.Add(full); adjusted.After(limit) {
				adjusted = limit
			}
			ev.Killer.CrownExpire = adjusted
		}
	case killedHadCrown:
		// Any crownless killer earns credit toward a fresh crown.
		k.recover[ev.Killer]++
		if k.recover[ev.Killer] >= a.Conf.GetInt("King", "CrownRecoverKills", 4) {
			delete(k.recover, ev.Killer)
			k.deaths[ev.Killer] = 0
			ev.Killer.HasCrown = true
			ev.Killer.CrownExpire = now.Add(full)
			broker.Fire(a.Broker, world.CrownChangeEvent{Player: ev.Killer, Gained: true})
			m.message(ev.Killer, "You earned back a crown.")
		}
	}

	m.checkWin(a, k, nil)
}

func (m *Module) onLeave(a *world.Arena, p *world.Player) {
	k := slot.Get(&a.Extra, kothKey)
	delete(k.deaths, p)
	delete(k.recover, p)
	if p.HasCrown {
		m.loseCrown(a, p)
		if k.state == stateRunning {
			m.checkWin(a, k, nil)
		}
	}
}

// crownOut remembers when an expired crown would have run out, since the
// crown itself is gone by the time the tie is broken.
type crownOut struct {
	p  *world.Player
	at time.Time
}

// expireCrowns removes timed-out crowns. If the sweep empties the field the
// players it just expired share the win.
func (m *Module) expireCrowns(a *world.Arena, k *arenaKoth, now time.Time) {
	var expired []crownOut
	for _, p := range m.reg.ArenaPlayers(a) {
		if p.HasCrown && !now.Before(p.CrownExpire) {
			expired = append(expired, crownOut{p: p, at: p.CrownExpire})
			m.loseCrown(a, p)
			k.recover[p] = 0
		}
	}
	if len(expired) > 0 {
		m.checkWin(a, k, expired)
	}
}

func (m *Module) loseCrown(a *world.Arena, p *world.Player) {
	p.HasCrown = false
	p.CrownExpire = time.Time{}
	broker.Fire(a.Broker, world.CrownChangeEvent{Player: p, Gained: false})
}

// lastOutWinners narrows a simultaneous-expiry set: only the crowns that
// lasted longest count, and a tie across freqs is a shared win.
func lastOutWinners(lastOut []crownOut) []*world.Player {
	var latest time.Time
	for _, c := range lastOut {
		if c.at.After(latest) {
			latest = c.at
		}
	}
	var out []*world.Player
	for _, c := range lastOut {
		if c.at.Equal(latest) {
			out = append(out, c.p)
		}
	}
	return out
}

// checkWin ends the round when a single freq holds every remaining crown.
// lastOut breaks the zero-crowns case: the crowns that expired last win.
func (m *Module) checkWin(a *world.Arena, k *arenaKoth, lastOut []crownOut) {
	var crowned []*world.Player
	freqs := make(map[int16]bool)
	for _, p := range m.reg.ArenaPlayers(a) {
		if p.HasCrown {
			crowned = append(crowned, p)
			freqs[p.Freq] = true
		}
	}
	var winners []*world.Player
	switch {
	case len(crowned) > 0 && len(freqs) == 1:
		winners = crowned
	case len(crowned) == 0 && len(lastOut) > 0:
		winners = lastOutWinners(lastOut)
	default:
		return
	}

	points := int32(k.initial * k.initial * a.Conf.GetInt("King", "RewardFactor", 1000) / 1000)
	if jp, ref, ok := broker.GetInterface[world.Jackpot](m.root); ok {
		points += int32(jp.Get(a))
		jp.Reset(a)
		m.root.ReleaseInterface(ref)
	}
	if a.Conf.GetBool("King", "SplitPoints", false) && len(winners) > 1 {
		points /= int32(len(winners))
	}

	if st, ref, ok := broker.GetInterface[world.Stats](m.root); ok {
		for _, w := range winners {
			if points != 0 {
				st.Increment(w, world.StatFlagPoints, int64(points), world.ScopeAll)
			}
			st.Increment(w, world.StatKothGamesWon, 1, world.ScopeAll)
		}
		st.SendUpdates(a, nil)
		m.root.ReleaseInterface(ref)
	}
	if chat, ref, ok := broker.GetInterface[world.Chat](m.root); ok {
		for _, w := range winners {
			chat.SendArenaSoundMessage(a, world.SoundDing,
				"%s won King of the Hill! Reward: %d", w.Name, points)
		}
		m.root.ReleaseInterface(ref)
	}

	broker.Fire(a.Broker, world.KothWonEvent{Arena: a, Winners: winners, Points: points})

	for _, p := range crowned {
		m.loseCrown(a, p)
	}
	k.state = stateStopped
	k.startAt = time.Time{}
	k.deaths = make(map[*world.Player]int)
	k.recover = make(map[*world.Player]int)
}

func (m *Module) announce(a *world.Arena, format string, args ...any) {
	chat, ref, ok := broker.GetInterface[world.Chat](m.root)
	if !ok {
		return
	}
	defer m.root.ReleaseInterface(ref)
	chat.SendArenaMessage(a, format, args...)
}

func (m *Module) message(p *world.Player, msg string) {
	chat, ref, ok := broker.GetInterface[world.Chat](m.root)
	if !ok {
		return
	}
	defer m.root.ReleaseInterface(ref)
	chat.SendMessage(p, "%s", msg)
}
