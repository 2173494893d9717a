package flags

import (
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/subzone/server/internal/config"
	"github.com/subzone/server/internal/core/broker"
	"github.com/subzone/server/internal/world"
)

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
func (s *statsRecorder) StartTimer(*world.Player, world.StatCode, world.Scope) {}
func (s *statsRecorder) StopTimer(*world.Player, world.StatCode, world.Scope)  {}
func (s *statsRecorder) ResetTimer(*world.Player, world.StatCode, world.Scope) {}
func (s *statsRecorder) ScoreResetPlayer(*world.Player, world.Interval)        {}
func (s *statsRecorder) ScoreResetArena(*world.Arena, world.Interval)          {}
func (s *statsRecorder) SendUpdates(*world.Arena, *world.Player)               {}

type jackpotStub struct{ points int }

func (j *jackpotStub) Get(*world.Arena) int      { return j.points }
func (j *jackpotStub) Set(_ *world.Arena, v int) { j.points = v }
func (j *jackpotStub) Add(_ *world.Arena, v int) { j.points += v }
func (j *jackpotStub) Reset(*world.Arena)        { j.points = 0 }

type syncStub struct {
	ended []world.Interval
}

func (s *syncStub) GetPlayer(*world.Player, string, func(bool)) {}
func (s *syncStub) PutPlayer(*world.Player, string, func(bool)) {}
func (s *syncStub) GetArena(*world.Arena, func(bool))           {}
func (s *syncStub) PutArena(*world.Arena, func(bool))           {}
func (s *syncStub) EndInterval(group string, iv world.Interval) { s.ended = append(s.ended, iv) }

type flagHarness struct {
	root    *broker.Broker
	reg     *world.Registry
	arena   *world.Arena
	mod     *Module
	stats   *statsRecorder
	jackpot *jackpotStub
	sync    *syncStub
	resets  []world.FlagResetEvent
	gains   []world.FlagGainEvent
}

func newFlagHarness(t *testing.T, flagCount int) *flagHarness {
	t.Helper()
	log := zap.NewNop()
	root := broker.New("root", log)
	reg := world.NewRegistry(log)
	conf, err := config.LoadArenaConf(t.TempDir(), "0")
	require.NoError(t, err)
	conf.Set("Flag", "FlagCount", strconv.Itoa(flagCount))
	arena := &world.Arena{Name: "0", Broker: root.NewChild("arena-0"), Conf: conf}

	h := &flagHarness{root: root, reg: reg, arena: arena,
		stats: newStatsRecorder(), jackpot: &jackpotStub{}, sync: &syncStub{}}
	_, err = broker.RegisterInterface[world.Stats](root, h.stats)
	require.NoError(t, err)
	_, err = broker.RegisterInterface[world.Jackpot](root, h.jackpot)
	require.NoError(t, err)
	_, err = broker.RegisterInterface[world.PlayerSync](root, h.sync)
	require.NoError(t, err)

	h.mod = New(root, reg, log)
	require.NoError(t, h.mod.Attach(arena))
	broker.RegisterCallback(arena.Broker, func(ev world.FlagResetEvent) { h.resets = append(h.resets, ev) })
	broker.RegisterCallback(arena.Broker, func(ev world.FlagGainEvent) { h.gains = append(h.gains, ev) })
	return h
}

func (h *flagHarness) playing(freq int16) *world.Player {
	p := h.reg.Alloc(nil)
	p.Status = world.StatusPlaying
	p.Ship = world.ShipWarbird
	p.Freq = freq
	h.reg.SetArena(p, h.arena)
	return p
}

func (h *flagHarness) touch(p *world.Player, id int) {
	broker.Fire(h.arena.Broker, world.FlagTouchEvent{Arena: h.arena, Player: p, FlagID: id})
}

func TestPickupCountsAndFiresGain(t *testing.T) {
	h := newFlagHarness(t, 2)
	p := h.playing(0)

	h.touch(p, 0)
	assert.Equal(t, 1, p.FlagsCarried)
	assert.Equal(t, int64(1), h.stats.counts[p][world.StatFlagPickups])
	require.Len(t, h.gains, 1)
	assert.Equal(t, 1, h.gains[0].HowMany)
	assert.Empty(t, h.resets, "one of two flags is no win")
}

func TestDoubleTouchIgnored(t *testing.T) {
	h := newFlagHarness(t, 2)
	p1 := h.playing(0)
	p2 := h.playing(1)

	h.touch(p1, 0)
	h.touch(p2, 0)
	assert.Equal(t, 1, p1.FlagsCarried)
	assert.Zero(t, p2.FlagsCarried)
}

func TestCarryAllWinsAndPaysOut(t *testing.T) {
	h := newFlagHarness(t, 2)
	h.arena.Conf.Set("Flag", "FlagReward", "5000")
	h.jackpot.points = 100

	w1 := h.playing(0)
	w2 := h.playing(0)
	loser := h.playing(1)

	h.touch(w1, 0)
	h.touch(w2, 1)

	require.Len(t, h.resets, 1)
	assert.Equal(t, int16(0), h.resets[0].Freq)
	// 3 players squared times 5000 per mille, plus the jackpot.
	want := int32(3*3*5000/1000 + 100)
	assert.Equal(t, want, h.resets[0].Points)

	assert.Equal(t, int64(want), h.stats.counts[w1][world.StatFlagPoints])
	assert.Equal(t, int64(want), h.stats.counts[w2][world.StatFlagPoints])
	assert.Equal(t, int64(1), h.stats.counts[w1][world.StatFlagGamesWon])
	assert.Equal(t, int64(1), h.stats.counts[loser][world.StatFlagGamesLost])
	assert.Zero(t, h.jackpot.points, "jackpot drained")

	assert.Equal(t, []world.Interval{world.IntervalGame}, h.sync.ended)
	assert.Zero(t, w1.FlagsCarried, "flags respawn after the win")
}

func TestSplitPointsDividesReward(t *testing.T) {
	h := newFlagHarness(t, 1)
	h.arena.Conf.Set("Flag", "FlagReward", "8000")
	h.arena.Conf.Set("Flag", "SplitPoints", "yes")

	w1 := h.playing(0)
	h.playing(0) // second winner, carries nothing
	h.touch(w1, 0)

	require.Len(t, h.resets, 1)
	// 2 players squared times 8000 per mille, split across 2 winners.
	assert.Equal(t, int32(2*2*8000/1000/2), h.resets[0].Points)
}

func TestKillTransfersFlagsAndCanWin(t *testing.T) {
	h := newFlagHarness(t, 1)
	carrier := h.playing(1)
	killer := h.playing(0)
	h.touch(carrier, 0)

	broker.Fire(h.arena.Broker, world.KillEvent{
		Arena: h.arena, Killer: killer, Killed: carrier, Bounty: 10, Flags: 1,
	})
	assert.Zero(t, carrier.FlagsCarried)
	require.Len(t, h.resets, 1, "killer's team now holds the only flag")
	assert.Equal(t, int16(0), h.resets[0].Freq)
}

func TestLeaveArenaDropsNeutral(t *testing.T) {
	h := newFlagHarness(t, 2)
	p := h.playing(0)
	h.touch(p, 0)

	broker.Fire(h.arena.Broker, world.PlayerActionEvent{
		Player: p, Action: world.PlayerLeaveArena, Arena: h.arena,
	})
	assert.Zero(t, p.FlagsCarried)
	assert.Equal(t, int64(1), h.stats.counts[p][world.StatFlagNeutDrops])

	// The flag is back on the map with no owner; the next touch works.
	q := h.playing(1)
	h.touch(q, 0)
	assert.Equal(t, 1, q.FlagsCarried)
}

func TestAdminResetHasNoWinner(t *testing.T) {
	h := newFlagHarness(t, 2)
	p := h.playing(0)
	h.touch(p, 0)

	h.mod.resetGame(h.arena, neutralFreq, 0)
	require.Len(t, h.resets, 1)
	assert.Equal(t, int16(-1), h.resets[0].Freq)
	assert.Zero(t, p.FlagsCarried)
	assert.Zero(t, h.stats.counts[p][world.StatFlagGamesWon])
}

type arenaSound struct {
	sound world.ChatSound
	text  string
}

type chatRec struct {
	arena []arenaSound
}

func (c *chatRec) SendMessage(*world.Player, string, ...any)                       {}
func (c *chatRec) SendSoundMessage(*world.Player, world.ChatSound, string, ...any) {}
func (c *chatRec) SendArenaMessage(*world.Arena, string, ...any)                   {}
func (c *chatRec) SendArenaSoundMessage(_ *world.Arena, s world.ChatSound, format string, args ...any) {
	c.arena = append(c.arena, arenaSound{sound: s, text: fmt.Sprintf(format, args...)})
}

func (h *flagHarness) drop(p *world.Player) {
	broker.Fire(h.arena.Broker, world.FlagDropReportEvent{Arena: h.arena, Player: p})
}

func TestWarzoneWinsOnLastDrop(t *testing.T) {
	h := newFlagHarness(t, 2)
	h.arena.Conf.Set("Flag", "FlagMode", "1")
	h.arena.Conf.Set("Flag", "FlagReward", "5000")

	w1 := h.playing(0)
	w2 := h.playing(0)
	h.touch(w1, 0)
	h.touch(w2, 1)
	assert.Empty(t, h.resets, "carrying all flags is not a warzone win")

	h.drop(w1)
	assert.Empty(t, h.resets, "one flag still carried")
	h.drop(w2)

	require.Len(t, h.resets, 1)
	assert.Equal(t, int16(0), h.resets[0].Freq)
	assert.Equal(t, int32(2*2*5000/1000), h.resets[0].Points)
}

func TestWarzoneMixedOwnersNoWin(t *testing.T) {
	h := newFlagHarness(t, 2)
	h.arena.Conf.Set("Flag", "FlagMode", "1")

	a := h.playing(0)
	b := h.playing(1)
	h.touch(a, 0)
	h.touch(b, 1)
	h.drop(a)
	h.drop(b)
	assert.Empty(t, h.resets, "flags owned by different freqs")
}

func TestWarzoneVictoryMusicCueAndStop(t *testing.T) {
	h := newFlagHarness(t, 2)
	h.arena.Conf.Set("Flag", "FlagMode", "1")
	chat := &chatRec{}
	_, err := broker.RegisterInterface[world.Chat](h.root, chat)
	require.NoError(t, err)

	p := h.playing(0)
	h.touch(p, 0)
	assert.Empty(t, chat.arena, "claim not complete yet")

	h.touch(p, 1)
	require.Len(t, chat.arena, 1)
	assert.Equal(t, world.SoundVictoryLoop, chat.arena[0].sound)

	// Leaving drops the flags neutral, which breaks the claim.
	broker.Fire(h.arena.Broker, world.PlayerActionEvent{
		Player: p, Action: world.PlayerLeaveArena, Arena: h.arena,
	})
	require.Len(t, chat.arena, 2)
	assert.Equal(t, world.SoundStopMusic, chat.arena[1].sound)
	assert.Empty(t, h.resets, "neutral flags on the map are no win")
}

func TestWarzoneMusicCanBeDisabled(t *testing.T) {
	h := newFlagHarness(t, 1)
	h.arena.Conf.Set("Flag", "FlagMode", "1")
	h.arena.Conf.Set("Misc", "VictoryMusic", "no")
	chat := &chatRec{}
	_, err := broker.RegisterInterface[world.Chat](h.root, chat)
	require.NoError(t, err)

	p := h.playing(0)
	h.touch(p, 0)
	assert.Empty(t, chat.arena)
}
