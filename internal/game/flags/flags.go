// Package flags runs the carry-style flag game: players pick flags up,
// flags transfer on kills, and a team carrying every flag wins the round
// and drains the jackpot.
package flags

import (
	"go.uber.org/zap"

	"github.com/subzone/server/internal/core/broker"
	"github.com/subzone/server/internal/core/slot"
	"github.com/subzone/server/internal/world"
)

const neutralFreq int16 = -1

// Flag:FlagMode values.
const (
	modeCarryAll      = 0 // win by carrying every flag
	modeOwnAllDropped = 1 // warzone: win when every flag sits on the map owned by one freq
)

type flagState struct {
	carrier *world.Player // non-nil while carried
	freq    int16         // owning freq for dropped flags, -1 when neutral
	onMap   bool
	x, y    int16
}

type arenaFlags struct {
	flags   []flagState
	musicOn bool
	tokens  []*broker.CallbackToken
	ifToken *broker.InterfaceToken
}

var flagsKey = slot.NewKey[arenaFlags]()

type Module struct {
	log  *zap.Logger
	root *broker.Broker
	reg  *world.Registry
}

func New(root *broker.Broker, reg *world.Registry, log *zap.Logger) *Module {
	return &Module{log: log, root: root, reg: reg}
}

func (m *Module) Name() string { return "flags" }

// SetupCommands registers the operator commands once, globally.
func (m *Module) SetupCommands(cmds world.CommandDispatcher) {
	cmds.Register("flagreset", func(p *world.Player, args string) {
		if p.Arena == nil || !p.HasCap("flagreset") {
			return
		}
		m.resetGame(p.Arena, neutralFreq, 0)
	})
}

func (m *Module) Attach(a *world.Arena) error {
	af := slot.Get(&a.Extra, flagsKey)
	count := a.Conf.GetInt("Flag", "FlagCount", 0)
	af.flags = make([]flagState, count)
	for i := range af.flags {
		af.flags[i].freq = neutralFreq
	}
	af.tokens = []*broker.CallbackToken{
		broker.RegisterCallback(a.Broker, func(ev world.FlagTouchEvent) { m.onTouch(ev) }),
		broker.RegisterCallback(a.Broker, func(ev world.FlagDropReportEvent) { m.onDrop(ev.Arena, ev.Player, false) }),
		broker.RegisterCallback(a.Broker, func(ev world.KillEvent) { m.onKill(ev) }),
		broker.RegisterCallback(a.Broker, func(ev world.PlayerActionEvent) {
			if ev.Action == world.PlayerLeaveArena {
				m.onDrop(ev.Arena, ev.Player, true)
			}
		}),
		broker.RegisterCallback(a.Broker, func(ev world.ShipFreqChangeEvent) {
			if ev.Player.Arena != nil && ev.Player.FlagsCarried > 0 {
				m.onDrop(ev.Player.Arena, ev.Player, true)
			}
		}),
	}
	tok, err := broker.RegisterInterface[world.FlagCounter](a.Broker, m)
	if err != nil {
		return err
	}
	af.ifToken = tok
	return nil
}

// FreqFlagCount implements world.FlagCounter for the kill valuation.
func (m *Module) FreqFlagCount(a *world.Arena, freq int16) int {
	af, ok := slot.TryGet(&a.Extra, flagsKey)
	if !ok {
		return 0
	}
	return m.freqClaims(af, freq)
}

func (m *Module) Detach(a *world.Arena) {
	af := slot.Get(&a.Extra, flagsKey)
	for _, t := range af.tokens {
		broker.UnregisterCallback(t)
	}
	broker.UnregisterInterface(af.ifToken)
	slot.Remove(&a.Extra, flagsKey)
}

func (m *Module) onTouch(ev world.FlagTouchEvent) {
	a, p := ev.Arena, ev.Player
	af := slot.Get(&a.Extra, flagsKey)
	if ev.FlagID < 0 || ev.FlagID >= len(af.flags) || !p.Ship.InGame() {
		return
	}
	f := &af.flags[ev.FlagID]
	if f.carrier != nil {
		return // stale touch, someone else has it
	}
	f.carrier = p
	f.freq = p.Freq
	f.onMap = false
	p.FlagsCarried++

	m.withStats(func(st world.Stats) {
		st.Increment(p, world.StatFlagPickups, 1, world.ScopeAll)
		st.StartTimer(p, world.StatFlagCarryTime, world.ScopeArena)
	})
	broker.Fire(a.Broker, world.FlagGainEvent{
		Arena: a, Player: p, FlagID: ev.FlagID,
		HowMany: m.freqCarried(af, p.Freq),
	})
	if a.Conf.GetInt("Flag", "FlagMode", modeCarryAll) == modeOwnAllDropped {
		m.cueMusic(a, af, p.Freq)
	} else {
		m.checkWin(a, af, p.Freq)
	}
}

// onDrop lands every flag the player carries. Neutral drops (leaving,
// changing teams) lose ownership; deliberate drops keep it.
func (m *Module) onDrop(a *world.Arena, p *world.Player, neutral bool) {
	if p.FlagsCarried == 0 {
		return
	}
	af := slot.Get(&a.Extra, flagsKey)
	dropped := 0
	for id := range af.flags {
		f := &af.flags[id]
		if f.carrier != p {
			continue
		}
		f.carrier = nil
		f.onMap = true
		f.x, f.y = p.Pos.X, p.Pos.Y
		if neutral {
			f.freq = neutralFreq
		}
		dropped++
		broker.Fire(a.Broker, world.FlagLostEvent{Arena: a, Player: p, FlagID: id})
		broker.Fire(a.Broker, world.FlagOnMapEvent{Arena: a, FlagID: id, X: f.x, Y: f.y, Freq: f.freq})
	}
	p.FlagsCarried = 0
	m.withStats(func(st world.Stats) {
		code := world.StatFlagDrops
		if neutral {
			code = world.StatFlagNeutDrops
		}
		st.Increment(p, code, int64(dropped), world.ScopeAll)
		st.StopTimer(p, world.StatFlagCarryTime, world.ScopeArena)
	})
	if a.Conf.GetInt("Flag", "FlagMode", modeCarryAll) == modeOwnAllDropped {
		m.syncMusic(a, af)
		m.checkWarzoneWin(a, af)
	}
}

// onKill moves the victim's flags onto the killer.
func (m *Module) onKill(ev world.KillEvent) {
	if ev.Killed.FlagsCarried == 0 || ev.Killer == ev.Killed {
		return
	}
	a := ev.Arena
	af := slot.Get(&a.Extra, flagsKey)
	for id := range af.flags {
		f := &af.flags[id]
		if f.carrier != ev.Killed {
			continue
		}
		f.carrier = ev.Killer
		f.freq = ev.Killer.Freq
		broker.Fire(a.Broker, world.FlagLostEvent{Arena: a, Player: ev.Killed, FlagID: id})
		broker.Fire(a.Broker, world.FlagGainEvent{
			Arena: a, Player: ev.Killer, FlagID: id,
			HowMany: m.freqCarried(af, ev.Killer.Freq),
		})
	}
	ev.Killer.FlagsCarried += ev.Killed.FlagsCarried
	ev.Killed.FlagsCarried = 0
	m.withStats(func(st world.Stats) {
		st.StopTimer(ev.Killed, world.StatFlagCarryTime, world.ScopeArena)
		st.StartTimer(ev.Killer, world.StatFlagCarryTime, world.ScopeArena)
	})
	if a.Conf.GetInt("Flag", "FlagMode", modeCarryAll) == modeOwnAllDropped {
		m.syncMusic(a, af)
		m.cueMusic(a, af, ev.Killer.Freq)
	} else {
		m.checkWin(a, af, ev.Killer.Freq)
	}
}

func (m *Module) freqCarried(af *arenaFlags, freq int16) int {
	n := 0
	for i := range af.flags {
		f := &af.flags[i]
		if f.carrier != nil && f.carrier.Freq == freq {
			n++
		}
	}
	return n
}

// freqClaims counts flags either carried by freq or sitting on the map
// owned by it.
func (m *Module) freqClaims(af *arenaFlags, freq int16) int {
	n := 0
	for i := range af.flags {
		f := &af.flags[i]
		if f.carrier != nil && f.carrier.Freq == freq {
			n++
		} else if f.carrier == nil && f.onMap && f.freq == freq {
			n++
		}
	}
	return n
}

// cueMusic starts the looping victory music when freq has claimed every
// flag. In warzone mode the win itself waits until the last flag lands.
func (m *Module) cueMusic(a *world.Arena, af *arenaFlags, freq int16) {
	if af.musicOn || len(af.flags) == 0 {
		return
	}
	if !a.Conf.GetBool("Misc", "VictoryMusic", true) {
		return
	}
	if m.freqClaims(af, freq) != len(af.flags) {
		return
	}
	af.musicOn = true
	m.withChat(func(ch world.Chat) {
		ch.SendArenaSoundMessage(a, world.SoundVictoryLoop,
			"Team %d has claimed every flag!", freq)
	})
}

// syncMusic stops the music when no freq claims every flag anymore.
func (m *Module) syncMusic(a *world.Arena, af *arenaFlags) {
	if !af.musicOn || len(af.flags) == 0 {
		return
	}
	first := af.flags[0]
	owner := first.freq
	if first.carrier != nil {
		owner = first.carrier.Freq
	}
	if owner != neutralFreq && m.freqClaims(af, owner) == len(af.flags) {
		return
	}
	af.musicOn = false
	m.withChat(func(ch world.Chat) {
		ch.SendArenaSoundMessage(a, world.SoundStopMusic, "")
	})
}

// checkWarzoneWin ends the round when every flag sits on the map owned by
// the same freq.
func (m *Module) checkWarzoneWin(a *world.Arena, af *arenaFlags) {
	if len(af.flags) == 0 {
		return
	}
	owner := af.flags[0].freq
	for i := range af.flags {
		f := &af.flags[i]
		if f.carrier != nil || !f.onMap || f.freq != owner {
			return
		}
	}
	if owner == neutralFreq {
		return
	}
	m.award(a, owner)
}

// checkWin ends the round when one freq holds every flag.
func (m *Module) checkWin(a *world.Arena, af *arenaFlags, freq int16) {
	if len(af.flags) == 0 || m.freqCarried(af, freq) != len(af.flags) {
		return
	}
	m.award(a, freq)
}

// award computes the round reward for freq and resets the game.
func (m *Module) award(a *world.Arena, freq int16) {
	playing := 0
	winners := 0
	for _, q := range m.reg.ArenaPlayers(a) {
		if !q.Ship.InGame() {
			continue
		}
		playing++
		if q.Freq == freq {
			winners++
		}
	}
	reward := playing * playing * a.Conf.GetInt("Flag", "FlagReward", 0) / 1000
	if jp, ref, ok := broker.GetInterface[world.Jackpot](m.root); ok {
		reward += jp.Get(a)
		jp.Reset(a)
		m.root.ReleaseInterface(ref)
	}
	if a.Conf.GetBool("Flag", "SplitPoints", false) && winners > 1 {
		reward /= winners
	}

	m.resetGame(a, freq, int32(reward))
}

// resetGame ends the round: freq -1 is an administrative reset with no
// winner. Flags respawn neutral and the game interval closes.
func (m *Module) resetGame(a *world.Arena, freq int16, points int32) {
	af := slot.Get(&a.Extra, flagsKey)
	af.musicOn = false

	chat, chatRef, haveChat := broker.GetInterface[world.Chat](m.root)

	if freq != neutralFreq {
		m.withStats(func(st world.Stats) {
			for _, q := range m.reg.ArenaPlayers(a) {
				if !q.Ship.InGame() {
					continue
				}
				if q.Freq == freq {
					if points != 0 {
						st.Increment(q, world.StatFlagPoints, int64(points), world.ScopeAll)
					}
					st.Increment(q, world.StatFlagGamesWon, 1, world.ScopeAll)
				} else {
					st.Increment(q, world.StatFlagGamesLost, 1, world.ScopeAll)
				}
			}
		})
		if haveChat {
			chat.SendArenaSoundMessage(a, world.SoundVictoryLoop,
				"Team %d won the flag game! Reward: %d points", freq, points)
		}
	} else if haveChat {
		chat.SendArenaSoundMessage(a, world.SoundStopMusic, "Flag game reset.")
	}
	if haveChat {
		m.root.ReleaseInterface(chatRef)
	}

	for id := range af.flags {
		f := &af.flags[id]
		if f.carrier != nil {
			f.carrier.FlagsCarried = 0
			m.withStats(func(st world.Stats) {
				st.StopTimer(f.carrier, world.StatFlagCarryTime, world.ScopeArena)
			})
		}
		af.flags[id] = flagState{freq: neutralFreq}
	}

	broker.Fire(a.Broker, world.FlagResetEvent{Arena: a, Freq: freq, Points: points})

	// Close the game interval so per-game stats start over.
	if ps, ref, ok := broker.GetInterface[world.PlayerSync](m.root); ok {
		ps.EndInterval(world.ArenaGroup(a), world.IntervalGame)
		m.root.ReleaseInterface(ref)
	}
	m.withStats(func(st world.Stats) { st.SendUpdates(a, nil) })
}

func (m *Module) withStats(fn func(world.Stats)) {
	st, ref, ok := broker.GetInterface[world.Stats](m.root)
	if !ok {
		return
	}
	defer m.root.ReleaseInterface(ref)
	fn(st)
}

func (m *Module) withChat(fn func(world.Chat)) {
	ch, ref, ok := broker.GetInterface[world.Chat](m.root)
	if !ok {
		return
	}
	defer m.root.ReleaseInterface(ref)
	fn(ch)
}
