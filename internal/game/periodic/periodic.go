// Package periodic hands out timed flag rewards: every Periodic:RewardDelay
// ticks each freq holding flags is paid per the reward formula and the arena
// gets a reward packet, fragmented when the freq list exceeds one packet.
package periodic

import (
	"sort"

	"go.uber.org/zap"

	"github.com/subzone/server/internal/core/broker"
	"github.com/subzone/server/internal/core/mainloop"
	"github.com/subzone/server/internal/core/slot"
	"github.com/subzone/server/internal/net/packet"
	"github.com/subzone/server/internal/world"
)

type arenaPeriodic struct {
	timer *mainloop.Timer
}

var periodicKey = slot.NewKey[arenaPeriodic]()

type Module struct {
	log  *zap.Logger
	root *broker.Broker
	reg  *world.Registry
	loop *mainloop.Loop
}

func New(root *broker.Broker, reg *world.Registry, loop *mainloop.Loop, log *zap.Logger) *Module {
	return &Module{log: log, root: root, reg: reg, loop: loop}
}

func (m *Module) Name() string { return "periodic" }

func (m *Module) SetupCommands(cmds world.CommandDispatcher) {
	cmds.Register("periodicreward", func(p *world.Player, args string) {
		if p.Arena == nil || !p.HasCap("periodic") {
			return
		}
		m.fire(p.Arena)
	})
	cmds.Register("periodicreset", func(p *world.Player, args string) {
		if p.Arena == nil || !p.HasCap("periodic") {
			return
		}
		m.stopTimer(p.Arena)
		m.armTimer(p.Arena)
	})
	cmds.Register("periodicstop", func(p *world.Player, args string) {
		if p.Arena == nil || !p.HasCap("periodic") {
			return
		}
		m.stopTimer(p.Arena)
	})
}

func (m *Module) Attach(a *world.Arena) error {
	slot.Get(&a.Extra, periodicKey)
	m.armTimer(a)
	return nil
}

func (m *Module) Detach(a *world.Arena) {
	m.stopTimer(a)
	slot.Remove(&a.Extra, periodicKey)
}

// armTimer starts the reward cycle; a zero RewardDelay leaves it off.
func (m *Module) armTimer(a *world.Arena) {
	delay := a.Conf.GetTicks("Periodic", "RewardDelay", 0)
	if delay <= 0 {
		return
	}
	pe := slot.Get(&a.Extra, periodicKey)
	pe.timer = m.loop.SetTimer(func() bool {
		if a.State != world.ArenaRunning {
			return false
		}
		if _, ok := slot.TryGet(&a.Extra, periodicKey); !ok {
			return false
		}
		m.fire(a)
		return true
	}, delay, delay, a.TimerKey())
}

func (m *Module) stopTimer(a *world.Arena) {
	pe := slot.Get(&a.Extra, periodicKey)
	m.loop.StopTimer(pe.timer)
	pe.timer = nil
}

// fire pays one reward round.
func (m *Module) fire(a *world.Arena) {
	includeSpec := a.Conf.GetBool("Periodic", "IncludeSpectators", false)
	includeSafe := a.Conf.GetBool("Periodic", "IncludeSafeZones", false)
	rewardPoints := a.Conf.GetInt("Periodic", "RewardPoints", 0)
	split := a.Conf.GetBool("Periodic", "SplitPoints", false)

	// One pass: per-freq flag and eligible-player counts, plus the arena
	// total the negative-RewardPoints formula scales by.
	eligible := make(map[int16][]*world.Player)
	flags := make(map[int16]int)
	total := 0
	for _, p := range m.reg.ArenaPlayers(a) {
		if p.Status != world.StatusPlaying {
			continue
		}
		flags[p.Freq] += p.FlagsCarried
		if p.IsSpec() && !includeSpec {
			continue
		}
		if p.Pos.InSafe() && !includeSafe {
			continue
		}
		eligible[p.Freq] = append(eligible[p.Freq], p)
		total++
	}

	freqs := make([]int16, 0, len(eligible))
	for freq := range eligible {
		freqs = append(freqs, freq)
	}
	sort.Slice(freqs, func(i, j int) bool { return freqs[i] < freqs[j] })

	var items []packet.PeriodicRewardItem
	perFreq := make(map[int16]int)
	for _, freq := range freqs {
		points := flags[freq] * rewardPoints
		if rewardPoints < 0 {
			points = flags[freq] * -rewardPoints * total
		}
		if split {
			points /= len(eligible[freq])
		}
		if points == 0 {
			continue
		}
		if points > 32767 {
			points = 32767
		}
		perFreq[freq] = points
		items = append(items, packet.PeriodicRewardItem{Freq: freq, Points: int16(points)})
	}
	if len(items) == 0 {
		return
	}

	if send, ref, ok := broker.GetInterface[world.PacketSender](m.root); ok {
		for _, pkt := range packet.PeriodicReward(items) {
			send.ToArena(a, nil, pkt, true)
		}
		m.root.ReleaseInterface(ref)
	}

	// Only players the client saw in the reward packet get the server-side
	// points; anyone excluded above would desync otherwise.
	if st, ref, ok := broker.GetInterface[world.Stats](m.root); ok {
		for freq, points := range perFreq {
			for _, p := range eligible[freq] {
				st.Increment(p, world.StatFlagPoints, int64(points), world.ScopeAll)
			}
		}
		st.SendUpdates(a, nil)
		m.root.ReleaseInterface(ref)
	}
}
