package koth

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/subzone/server/internal/config"
	"github.com/subzone/server/internal/core/broker"
	"github.com/subzone/server/internal/core/mainloop"
	"github.com/subzone/server/internal/core/slot"
	"github.com/subzone/server/internal/world"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type statsStub struct {
	counts map[*world.Player]map[world.StatCode]int64
}

func newStatsStub() *statsStub {
	return &statsStub{counts: make(map[*world.Player]map[world.StatCode]int64)}
}

func (s *statsStub) Increment(p *world.Player, st world.StatCode, amount int64, scope world.Scope) {
	if s.counts[p] == nil {
		s.counts[p] = make(map[world.StatCode]int64)
	}
	s.counts[p][st] += amount
}

func (s *statsStub) IncrementInterval(p *world.Player, st world.StatCode, amount int64, scope world.Scope, iv world.Interval) {
	s.Increment(p, st, amount, scope)
}
func (s *statsStub) Set(*world.Player, world.StatCode, int64, world.Scope, world.Interval) {}
func (s *statsStub) TryGet(*world.Player, world.StatCode, world.Scope, world.Interval) (int64, bool) {
	return 0, false
}
func (s *statsStub) StartTimer(*world.Player, world.StatCode, world.Scope) {}
func (s *statsStub) StopTimer(*world.Player, world.StatCode, world.Scope)  {}
func (s *statsStub) ResetTimer(*world.Player, world.StatCode, world.Scope) {}
func (s *statsStub) ScoreResetPlayer(*world.Player, world.Interval)        {}
func (s *statsStub) ScoreResetArena(*world.Arena, world.Interval)          {}
func (s *statsStub) SendUpdates(*world.Arena, *world.Player)               {}

type chatStub struct {
	personal map[*world.Player][]string
	arena    []string
}

func (c *chatStub) SendMessage(p *world.Player, format string, args ...any) {
	if c.personal == nil {
		c.personal = make(map[*world.Player][]string)
	}
	c.personal[p] = append(c.personal[p], fmt.Sprintf(format, args...))
}
func (c *chatStub) SendSoundMessage(p *world.Player, sound world.ChatSound, format string, args ...any) {
}
func (c *chatStub) SendArenaMessage(a *world.Arena, format string, args ...any) {
	c.arena = append(c.arena, fmt.Sprintf(format, args...))
}
func (c *chatStub) SendArenaSoundMessage(a *world.Arena, sound world.ChatSound, format string, args ...any) {
}

type jackpotStub struct{ points int }

func (j *jackpotStub) Get(*world.Arena) int      { return j.points }
func (j *jackpotStub) Set(_ *world.Arena, v int) { j.points = v }
func (j *jackpotStub) Add(_ *world.Arena, v int) { j.points += v }
func (j *jackpotStub) Reset(*world.Arena)        { j.points = 0 }

type kothHarness struct {
	root    *broker.Broker
	reg     *world.Registry
	arena   *world.Arena
	mod     *Module
	clock   *fakeClock
	stats   *statsStub
	chat    *chatStub
	jackpot *jackpotStub
	wins    []world.KothWonEvent
}

func newKothHarness(t *testing.T) *kothHarness {
	t.Helper()
	log := zap.NewNop()
	root := broker.New("root", log)
	reg := world.NewRegistry(log)
	loop := mainloop.New(10*time.Millisecond, 1, log)
	clock := &fakeClock{now: time.Unix(9000, 0)}
	conf, err := config.LoadArenaConf(t.TempDir(), "0")
	require.NoError(t, err)
	conf.Set("King", "AutoStart", "yes")
	arena := &world.Arena{Name: "0", State: world.ArenaRunning,
		Broker: root.NewChild("arena-0"), Conf: conf}

	h := &kothHarness{root: root, reg: reg, arena: arena,
		clock: clock, stats: newStatsStub(), chat: &chatStub{}, jackpot: &jackpotStub{}}
	_, err = broker.RegisterInterface[world.Stats](root, h.stats)
	require.NoError(t, err)
	_, err = broker.RegisterInterface[world.Chat](root, h.chat)
	require.NoError(t, err)
	_, err = broker.RegisterInterface[world.Jackpot](root, h.jackpot)
	require.NoError(t, err)

	h.mod = New(root, reg, loop, clock, log)
	require.NoError(t, h.mod.Attach(arena))
	broker.RegisterCallback(arena.Broker, func(ev world.KothWonEvent) { h.wins = append(h.wins, ev) })
	return h
}

func (h *kothHarness) playing(name string, freq int16) *world.Player {
	p := h.reg.Alloc(nil)
	p.Name = name
	p.Status = world.StatusPlaying
	p.Ship = world.ShipWarbird
	p.Freq = freq
	h.reg.SetArena(p, h.arena)
	return p
}

// startRound drives the state machine through Starting into Running.
func (h *kothHarness) startRound(t *testing.T) {
	t.Helper()
	h.mod.tick(h.arena) // Stopped -> Starting
	h.mod.tick(h.arena) // arm the countdown
	h.clock.now = h.clock.now.Add(h.arena.Conf.GetTicks("King", "StartDelay", 1000) + time.Second)
	h.mod.tick(h.arena) // Starting -> Running
	k := slot.Get(&h.arena.Extra, kothKey)
	require.Equal(t, stateRunning, k.state)
}

func (h *kothHarness) kill(killer, killed *world.Player) {
	broker.Fire(h.arena.Broker, world.KillEvent{
		Arena: h.arena, Killer: killer, Killed: killed, Bounty: 10,
	})
}

func TestNoAutoStartStaysStopped(t *testing.T) {
	h := newKothHarness(t)
	h.arena.Conf.Set("King", "AutoStart", "no")
	h.playing("a", 0)
	h.playing("b", 1)
	h.mod.tick(h.arena)
	k := slot.Get(&h.arena.Extra, kothKey)
	assert.Equal(t, stateStopped, k.state)
}

func TestRoundNeedsQuorum(t *testing.T) {
	h := newKothHarness(t)
	p := h.playing("alone", 0)
	h.mod.tick(h.arena) // Stopped -> Starting
	h.mod.tick(h.arena) // quorum fails, countdown never arms
	k := slot.Get(&h.arena.Extra, kothKey)
	assert.Equal(t, stateStarting, k.state)
	assert.True(t, k.startAt.IsZero())
	assert.False(t, p.HasCrown)
}

func TestQuorumLossCancelsCountdown(t *testing.T) {
	h := newKothHarness(t)
	h.playing("a", 0)
	b := h.playing("b", 1)
	h.mod.tick(h.arena) // Stopped -> Starting
	h.mod.tick(h.arena) // arm the countdown
	k := slot.Get(&h.arena.Extra, kothKey)
	require.False(t, k.startAt.IsZero())

	h.reg.SetArena(b, nil)
	h.mod.tick(h.arena)
	assert.True(t, k.startAt.IsZero())
	assert.Contains(t, h.chat.arena[len(h.chat.arena)-1], "Not enough players")
}

func TestStartCrownsEveryone(t *testing.T) {
	h := newKothHarness(t)
	a := h.playing("a", 0)
	b := h.playing("b", 1)
	h.startRound(t)

	assert.True(t, a.Crowned(h.clock.now))
	assert.True(t, b.Crowned(h.clock.now))
}

func TestLastFreqWithCrownsWins(t *testing.T) {
	h := newKothHarness(t)
	h.arena.Conf.Set("King", "RewardFactor", "2000")
	a := h.playing("a", 0)
	b := h.playing("b", 1)
	c := h.playing("c", 2)
	h.startRound(t)

	h.kill(a, b)
	assert.Empty(t, h.wins, "crowns on two freqs left")
	h.kill(a, c)

	require.Len(t, h.wins, 1)
	require.Len(t, h.wins[0].Winners, 1)
	assert.Same(t, a, h.wins[0].Winners[0])
	// 3 players squared times 2000 per mille.
	assert.Equal(t, int32(18), h.wins[0].Points)
	assert.Equal(t, int64(1), h.stats.counts[a][world.StatKothGamesWon])
	assert.False(t, a.HasCrown, "crowns clear after the round")
}

func TestTeammatesShareTheWin(t *testing.T) {
	h := newKothHarness(t)
	a := h.playing("a", 0)
	a2 := h.playing("a2", 0)
	b := h.playing("b", 1)
	h.startRound(t)

	h.kill(a, b)
	require.Len(t, h.wins, 1)
	assert.ElementsMatch(t, []*world.Player{a, a2}, h.wins[0].Winners)
}

func TestJackpotAndSplitPoints(t *testing.T) {
	h := newKothHarness(t)
	h.arena.Conf.Set("King", "SplitPoints", "yes")
	h.jackpot.points = 10
	a := h.playing("a", 0)
	a2 := h.playing("a2", 0)
	b := h.playing("b", 1)
	h.startRound(t)

	h.kill(a, b)
	require.Len(t, h.wins, 1)
	assert.ElementsMatch(t, []*world.Player{a, a2}, h.wins[0].Winners)
	// (3 squared times 1000 per mille, plus the jackpot) split two ways.
	assert.Equal(t, int32((9+10)/2), h.wins[0].Points)
	assert.Equal(t, h.stats.counts[a][world.StatFlagPoints], h.stats.counts[a2][world.StatFlagPoints])
	assert.Zero(t, h.jackpot.points, "jackpot drained")
}

func TestDeathCountToleratesDeaths(t *testing.T) {
	h := newKothHarness(t)
	h.arena.Conf.Set("King", "DeathCount", "1")
	a := h.playing("a", 0)
	b := h.playing("b", 1)
	h.playing("c", 2)
	h.startRound(t)

	h.kill(a, b)
	assert.True(t, b.HasCrown, "first death tolerated")
	h.kill(a, b)
	assert.False(t, b.HasCrown, "second death exceeds the allowance")
}

func TestCrownedKillRefreshesExpiry(t *testing.T) {
	h := newKothHarness(t)
	a := h.playing("a", 0)
	b := h.playing("b", 1)
	h.playing("c", 2)
	h.startRound(t)

	before := a.CrownExpire
	h.clock.now = h.clock.now.Add(time.Minute)
	h.kill(a, b)
	assert.True(t, a.CrownExpire.After(before))
}

func TestNonCrownKillAddsTime(t *testing.T) {
	h := newKothHarness(t)
	h.arena.Conf.Set("King", "NonCrownAdjustTime", "500") // 5s
	a := h.playing("a", 0)
	b := h.playing("b", 1)
	h.playing("c", 2)
	h.startRound(t)

	h.kill(a, b) // b loses the crown
	require.False(t, b.HasCrown)

	// Let the timer run down so the full-expiry ceiling stays clear.
	h.clock.now = h.clock.now.Add(30 * time.Second)
	before := a.CrownExpire
	h.kill(a, b) // crownless victim adds the adjust time only
	assert.Equal(t, before.Add(5*time.Second), a.CrownExpire)
}

func TestNonCrownKillBountyGate(t *testing.T) {
	h := newKothHarness(t)
	h.arena.Conf.Set("King", "NonCrownMinimumBounty", "50")
	a := h.playing("a", 0)
	b := h.playing("b", 1)
	h.playing("c", 2)
	h.startRound(t)

	h.kill(a, b)
	before := a.CrownExpire
	h.kill(a, b) // killer bounty 0 is below the gate
	assert.Equal(t, before, a.CrownExpire)
}

func TestCrownRecoveryCountsCrownedKills(t *testing.T) {
	h := newKothHarness(t)
	h.arena.Conf.Set("King", "CrownRecoverKills", "2")
	a := h.playing("a", 0)
	b := h.playing("b", 1)
	c := h.playing("c", 2)
	d := h.playing("d", 3)
	h.startRound(t)

	h.kill(a, b) // b loses the crown
	require.False(t, b.HasCrown)

	h.kill(b, c) // recovery kill 1 of 2
	assert.False(t, b.HasCrown)

	h.kill(b, d) // recovery kill 2 of 2
	assert.True(t, b.HasCrown)
	assert.Empty(t, h.wins, "a and b still crowned on separate freqs")
}

func TestCrownRecoveryMidRound(t *testing.T) {
	h := newKothHarness(t)
	h.arena.Conf.Set("King", "CrownRecoverKills", "1")
	a := h.playing("a", 0)
	b := h.playing("b", 1)
	c := h.playing("c", 2)
	d := h.playing("d", 3)
	h.startRound(t)

	h.kill(a, b) // b loses the crown, three remain
	require.False(t, b.HasCrown)

	h.kill(b, a) // a loses its crown; b earns one back in the same breath
	assert.True(t, b.HasCrown)
	require.NotNil(t, h.chat.personal[b])
	assert.Contains(t, h.chat.personal[b][0], "earned back a crown")

	assert.True(t, c.HasCrown)
	assert.True(t, d.HasCrown)
	assert.Empty(t, h.wins, "b, c and d still crowned on separate freqs")
}

func TestLateJoinerEarnsCrown(t *testing.T) {
	h := newKothHarness(t)
	h.arena.Conf.Set("King", "CrownRecoverKills", "2")
	h.playing("a", 0)
	b := h.playing("b", 1)
	c := h.playing("c", 2)
	h.startRound(t)

	d := h.playing("d", 3) // joined after the crowns went out
	require.False(t, d.HasCrown)

	h.kill(d, b)
	assert.False(t, d.HasCrown, "one crown kill of two")
	assert.True(t, b.CrownExpire.IsZero(), "lost crowns drop their timestamp")

	h.kill(d, c)
	assert.True(t, d.HasCrown)
	require.NotNil(t, h.chat.personal[d])
	assert.Contains(t, h.chat.personal[d][0], "earned back a crown")
	assert.Empty(t, h.wins, "a and d hold crowns on separate freqs")
}

func TestExpirySweepSharedWin(t *testing.T) {
	h := newKothHarness(t)
	a := h.playing("a", 0)
	b := h.playing("b", 1)
	h.startRound(t)

	h.clock.now = h.clock.now.Add(h.arena.Conf.GetTicks("King", "ExpireTime", 18000) + time.Second)
	h.mod.tick(h.arena)

	require.Len(t, h.wins, 1)
	assert.ElementsMatch(t, []*world.Player{a, b}, h.wins[0].Winners)
}

func TestLeaverDropsOutOfRound(t *testing.T) {
	h := newKothHarness(t)
	a := h.playing("a", 0)
	b := h.playing("b", 1)
	h.startRound(t)

	h.reg.SetArena(b, nil)
	b.Status = world.StatusLoggedIn
	broker.Fire(h.arena.Broker, world.PlayerActionEvent{
		Player: b, Action: world.PlayerLeaveArena, Arena: h.arena,
	})

	require.Len(t, h.wins, 1)
	require.Len(t, h.wins[0].Winners, 1)
	assert.Same(t, a, h.wins[0].Winners[0])
}
