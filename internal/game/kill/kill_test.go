package kill

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/subzone/server/internal/config"
	"github.com/subzone/server/internal/core/broker"
	"github.com/subzone/server/internal/world"
)

// statsRecorder records Increment calls; the rest of world.Stats is unused
// by this package.
type statsRecorder struct {
	counts map[*world.Player]map[world.StatCode]int64
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{counts: make(map[*world.Player]map[world.StatCode]int64)}
}

func (s *statsRecorder) Increment(p *world.Player, st world.StatCode, amount int64, scope world.Scope) {
	if s.counts[p] == nil {
		s.counts[p] = make(map[world.StatCode]int64)
	}
	s.counts[p][st] += amount
}

func (s *statsRecorder) IncrementInterval(p *world.Player, st world.StatCode, amount int64, scope world.Scope, iv world.Interval) {
	s.Increment(p, st, amount, scope)
}
func (s *statsRecorder) Set(*world.Player, world.StatCode, int64, world.Scope, world.Interval) {}
func (s *statsRecorder) TryGet(*world.Player, world.StatCode, world.Scope, world.Interval) (int64, bool) {
	return 0, false
}
func (s *statsRecorder) StartTimer(*world.Player, world.StatCode, world.Scope)  {}
func (s *statsRecorder) StopTimer(*world.Player, world.StatCode, world.Scope)   {}
func (s *statsRecorder) ResetTimer(*world.Player, world.StatCode, world.Scope)  {}
func (s *statsRecorder) ScoreResetPlayer(*world.Player, world.Interval)         {}
func (s *statsRecorder) ScoreResetArena(*world.Arena, world.Interval)           {}
func (s *statsRecorder) SendUpdates(*world.Arena, *world.Player)                {}

type jackpotRecorder struct {
	total int
}

func (j *jackpotRecorder) Get(*world.Arena) int        { return j.total }
func (j *jackpotRecorder) Set(_ *world.Arena, v int)   { j.total = v }
func (j *jackpotRecorder) Add(_ *world.Arena, v int)   { j.total += v }
func (j *jackpotRecorder) Reset(*world.Arena)          { j.total = 0 }

type killHarness struct {
	root    *broker.Broker
	reg     *world.Registry
	arena   *world.Arena
	stats   *statsRecorder
	jackpot *jackpotRecorder
	kills   []world.KillEvent
}

func newKillHarness(t *testing.T) *killHarness {
	t.Helper()
	log := zap.NewNop()
	root := broker.New("root", log)
	reg := world.NewRegistry(log)
	conf, err := config.LoadArenaConf(t.TempDir(), "0")
	require.NoError(t, err)
	arena := &world.Arena{Name: "0", Broker: root.NewChild("arena-0"), Conf: conf}

	h := &killHarness{root: root, reg: reg, arena: arena,
		stats: newStatsRecorder(), jackpot: &jackpotRecorder{}}
	_, err = broker.RegisterInterface[world.Stats](root, h.stats)
	require.NoError(t, err)
	_, err = broker.RegisterInterface[world.Jackpot](root, h.jackpot)
	require.NoError(t, err)

	mod := New(root, reg, log)
	require.NoError(t, mod.Attach(arena))
	broker.RegisterCallback(arena.Broker, func(ev world.KillEvent) {
		h.kills = append(h.kills, ev)
	})
	return h
}

func (h *killHarness) playing(freq int16) *world.Player {
	p := h.reg.Alloc(nil)
	p.Status = world.StatusPlaying
	p.Ship = world.ShipWarbird
	p.Freq = freq
	h.reg.SetArena(p, h.arena)
	return p
}

func (h *killHarness) report(killed *world.Player, killerID int16, bounty int16) {
	broker.Fire(h.arena.Broker, world.DeathReportEvent{
		Arena: h.arena, Killed: killed, KillerID: killerID, Bounty: bounty,
	})
}

func TestBountyKillCreditsScores(t *testing.T) {
	h := newKillHarness(t)
	killer := h.playing(0)
	victim := h.playing(1)

	h.report(victim, killer.ID, 70)

	assert.Equal(t, int64(1), h.stats.counts[killer][world.StatKills])
	assert.Equal(t, int64(70), h.stats.counts[killer][world.StatKillPoints])
	assert.Equal(t, int64(1), h.stats.counts[victim][world.StatDeaths])

	require.Len(t, h.kills, 1)
	assert.Equal(t, int32(70), h.kills[0].Points)
	assert.Same(t, killer, h.kills[0].Killer)
}

func TestFixedKillRewardOverridesBounty(t *testing.T) {
	h := newKillHarness(t)
	h.arena.Conf.Set("Kill", "FixedKillReward", "25")
	killer := h.playing(0)
	victim := h.playing(1)

	h.report(victim, killer.ID, 300)
	assert.Equal(t, int64(25), h.stats.counts[killer][world.StatKillPoints])
}

func TestFlagCarrierKillFloorAndBonus(t *testing.T) {
	h := newKillHarness(t)
	h.arena.Conf.Set("Kill", "FlagMinimumBounty", "50")
	h.arena.Conf.Set("Kill", "PointsPerKilledFlag", "10")
	killer := h.playing(0)
	victim := h.playing(1)
	victim.FlagsCarried = 3

	h.report(victim, killer.ID, 12) // below the flagger floor
	assert.Equal(t, int64(50+30), h.stats.counts[killer][world.StatKillPoints])
	assert.Equal(t, int64(1), h.stats.counts[killer][world.StatFlagKills])
}

func TestKillerFlagBonuses(t *testing.T) {
	h := newKillHarness(t)
	h.arena.Conf.Set("Kill", "PointsPerCarriedFlag", "5")
	h.arena.Conf.Set("Kill", "PointsPerTeamFlag", "2")
	_, err := broker.RegisterInterface[world.FlagCounter](h.arena.Broker, fixedFlagCount{n: 4})
	require.NoError(t, err)

	killer := h.playing(0)
	killer.FlagsCarried = 2
	victim := h.playing(1)

	// 30 bounty + 2 carried x 5 + 4 team-owned x 2.
	h.report(victim, killer.ID, 30)
	assert.Equal(t, int64(30+10+8), h.stats.counts[killer][world.StatKillPoints])
}

type fixedFlagCount struct{ n int }

func (f fixedFlagCount) FreqFlagCount(*world.Arena, int16) int { return f.n }

func TestTeamKillScoresSeparately(t *testing.T) {
	h := newKillHarness(t)
	h.arena.Conf.Set("Misc", "TeamKillPoints", "0")
	killer := h.playing(0)
	victim := h.playing(0)

	h.report(victim, killer.ID, 40)
	assert.Equal(t, int64(1), h.stats.counts[killer][world.StatTeamKills])
	assert.Zero(t, h.stats.counts[killer][world.StatKills])
	assert.Zero(t, h.stats.counts[killer][world.StatKillPoints])
}

func TestJackpotBleed(t *testing.T) {
	h := newKillHarness(t)
	h.arena.Conf.Set("Kill", "JackpotBountyPercent", "500") // 50%
	killer := h.playing(0)
	victim := h.playing(1)

	h.report(victim, killer.ID, 100)
	assert.Equal(t, 50, h.jackpot.total)
}

func TestUnknownKillerIgnored(t *testing.T) {
	h := newKillHarness(t)
	victim := h.playing(1)

	h.report(victim, 999, 100)
	assert.Empty(t, h.kills)
	assert.Empty(t, h.stats.counts)
}

func TestSelfKillCountsDeathOnly(t *testing.T) {
	h := newKillHarness(t)
	p := h.playing(0)

	h.report(p, p.ID, 100)
	assert.Equal(t, int64(1), h.stats.counts[p][world.StatDeaths])
	assert.Zero(t, h.stats.counts[p][world.StatKills])
	require.Len(t, h.kills, 1)
	assert.Zero(t, h.kills[0].Points)
}
