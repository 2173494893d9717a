// Package kill turns client death reports into confirmed kills: it values
// the kill through the advisor chain, credits the scores, bleeds a share of
// the bounty into the jackpot, and fires the KillEvent other modules build
// on.
package kill

import (
	"go.uber.org/zap"

	"github.com/subzone/server/internal/core/broker"
	"github.com/subzone/server/internal/core/slot"
	"github.com/subzone/server/internal/world"
)

type Module struct {
	log  *zap.Logger
	root *broker.Broker
	reg  *world.Registry
}

func New(root *broker.Broker, reg *world.Registry, log *zap.Logger) *Module {
	return &Module{log: log, root: root, reg: reg}
}

func (m *Module) Name() string { return "kill" }

type arenaState struct {
	advToken *broker.AdvisorToken
	cbToken  *broker.CallbackToken
}

var arenaKey = slot.NewKey[arenaState]()

func (m *Module) Attach(a *world.Arena) error {
	st := slot.Get(&a.Extra, arenaKey)
	st.advToken = broker.RegisterAdvisor[world.KillAdvisor](a.Broker, rewardAdvisor{})
	st.cbToken = broker.RegisterCallback(a.Broker, func(ev world.DeathReportEvent) {
		m.onDeath(ev)
	})
	return nil
}

func (m *Module) Detach(a *world.Arena) {
	st := slot.Get(&a.Extra, arenaKey)
	broker.UnregisterAdvisor(st.advToken)
	broker.UnregisterCallback(st.cbToken)
	slot.Remove(&a.Extra, arenaKey)
}

func (m *Module) onDeath(ev world.DeathReportEvent) {
	a, killed := ev.Arena, ev.Killed
	killer, ok := m.reg.ByID(ev.KillerID)
	if !ok || killer.Arena != a || killer.Status != world.StatusPlaying {
		m.log.Debug("death report with bad killer",
			zap.Int16("killed", killed.ID),
			zap.Int16("killer", ev.KillerID),
		)
		return
	}
	if killer == killed {
		// Self-kills count a death, never a kill.
		m.creditDeath(a, killed)
		broker.Fire(a.Broker, world.KillEvent{
			Arena: a, Killer: killer, Killed: killed,
			Bounty: int32(ev.Bounty), Flags: killed.FlagsCarried,
		})
		return
	}

	bounty := int32(ev.Bounty)
	flags := killed.FlagsCarried

	var points int32
	for _, adv := range broker.Advisors[world.KillAdvisor](a.Broker) {
		points += adv.KillPoints(a, killer, killed, bounty, flags)
	}

	m.bleedJackpot(a, bounty)

	if stats, ref, ok := broker.GetInterface[world.Stats](m.root); ok {
		if killer.Freq == killed.Freq {
			stats.Increment(killer, world.StatTeamKills, 1, world.ScopeAll)
		} else {
			stats.Increment(killer, world.StatKills, 1, world.ScopeAll)
		}
		if points != 0 {
			stats.Increment(killer, world.StatKillPoints, int64(points), world.ScopeAll)
		}
		if flags > 0 {
			stats.Increment(killer, world.StatFlagKills, 1, world.ScopeAll)
		}
		stats.Increment(killed, world.StatDeaths, 1, world.ScopeAll)
		m.root.ReleaseInterface(ref)
	}

	broker.Fire(a.Broker, world.KillEvent{
		Arena: a, Killer: killer, Killed: killed,
		Bounty: bounty, Flags: flags, Points: points,
	})
}

func (m *Module) creditDeath(a *world.Arena, killed *world.Player) {
	if stats, ref, ok := broker.GetInterface[world.Stats](m.root); ok {
		stats.Increment(killed, world.StatDeaths, 1, world.ScopeAll)
		m.root.ReleaseInterface(ref)
	}
}

// bleedJackpot feeds Kill:JackpotBountyPercent (0.1% units) of the bounty
// into the arena jackpot.
func (m *Module) bleedJackpot(a *world.Arena, bounty int32) {
	pct := a.Conf.GetInt("Kill", "JackpotBountyPercent", 0)
	if pct <= 0 {
		return
	}
	jp, ref, ok := broker.GetInterface[world.Jackpot](m.root)
	if !ok {
		return
	}
	defer m.root.ReleaseInterface(ref)
	jp.Add(a, int(bounty)*pct/1000)
}

// rewardAdvisor is the stock kill valuation: the victim's bounty (or a fixed
// reward), floored for flag carriers, plus flag bonuses for the victim's
// flags, the killer's own flags, and the killer team's owned flags. Team
// kills are worth Misc:TeamKillPoints instead.
type rewardAdvisor struct{}

func (rewardAdvisor) KillPoints(a *world.Arena, killer, killed *world.Player, bounty int32, flagsCarried int) int32 {
	conf := a.Conf
	if killer.Freq == killed.Freq {
		return int32(conf.GetInt("Misc", "TeamKillPoints", 0))
	}
	points := bounty
	if fixed := conf.GetInt("Kill", "FixedKillReward", -1); fixed >= 0 {
		points = int32(fixed)
	}
	if flagsCarried > 0 {
		if min := int32(conf.GetInt("Kill", "FlagMinimumBounty", 0)); points < min {
			points = min
		}
		points += int32(flagsCarried * conf.GetInt("Kill", "PointsPerKilledFlag", 0))
	}
	points += int32(killer.FlagsCarried * conf.GetInt("Kill", "PointsPerCarriedFlag", 0))
	if per := conf.GetInt("Kill", "PointsPerTeamFlag", 0); per > 0 {
		if fc, ref, ok := broker.GetInterface[world.FlagCounter](a.Broker); ok {
			points += int32(fc.FreqFlagCount(a, killer.Freq) * per)
			a.Broker.ReleaseInterface(ref)
		}
	}
	return points
}
