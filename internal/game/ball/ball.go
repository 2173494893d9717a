// Package ball runs the soccer game: ball possession tracking, team goal
// scores, and round wins. Goals are client-reported; this module validates
// them against possession state and keeps the eight team scores.
package ball

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/subzone/server/internal/core/broker"
	"github.com/subzone/server/internal/core/slot"
	"github.com/subzone/server/internal/net/packet"
	"github.com/subzone/server/internal/world"
)

// teamCount is fixed by the wire protocol: goals credit freq modulo eight.
const teamCount = 8

// Soccer:Mode values. The mode decides which freq owns a goal tile; owned
// goals are what make steal scoring possible.
const (
	modeNone      = 0 // goals are not owned, plain absolute scoring
	modeLeftRight = 1 // two teams, goals split at the map's vertical middle
	modeTopBottom = 2 // two teams, split at the horizontal middle
	modeQuadrants = 3 // four teams, one map quadrant each
	modeSides     = 4 // four teams, one diamond edge each
)

// mapCenter splits the 1024x1024 tile grid for goal ownership.
const mapCenter = 512

type ballInfo struct {
	carrier *world.Player
	shooter *world.Player // last player to shoot it
}

type arenaBalls struct {
	scores [teamCount]int32
	balls  []ballInfo
	tokens []*broker.CallbackToken
}

var ballsKey = slot.NewKey[arenaBalls]()

type Module struct {
	log  *zap.Logger
	root *broker.Broker
	reg  *world.Registry
}

func New(root *broker.Broker, reg *world.Registry, log *zap.Logger) *Module {
	return &Module{log: log, root: root, reg: reg}
}

func (m *Module) Name() string { return "ball" }

func (m *Module) SetupCommands(cmds world.CommandDispatcher) {
	cmds.Register("score", m.cmdScore)
	cmds.Register("setscore", m.cmdSetScore)
	cmds.Register("resetgame", m.cmdResetGame)
}

func (m *Module) Attach(a *world.Arena) error {
	ab := slot.Get(&a.Extra, ballsKey)
	count := a.Conf.GetInt("Soccer", "BallCount", 1)
	ab.balls = make([]ballInfo, count)
	m.seedScores(a, ab)
	ab.tokens = []*broker.CallbackToken{
		broker.RegisterCallback(a.Broker, func(ev world.BallClaimEvent) { m.onClaim(ev) }),
		broker.RegisterCallback(a.Broker, func(ev world.BallFireEvent) { m.onFire(ev) }),
		broker.RegisterCallback(a.Broker, func(ev world.GoalReportEvent) { m.onGoal(ev) }),
		broker.RegisterCallback(a.Broker, func(ev world.PlayerActionEvent) {
			if ev.Action == world.PlayerLeaveArena {
				m.dropPossession(ev.Arena, ev.Player)
			}
		}),
	}
	return nil
}

func (m *Module) Detach(a *world.Arena) {
	ab := slot.Get(&a.Extra, ballsKey)
	for _, t := range ab.tokens {
		broker.UnregisterCallback(t)
	}
	slot.Remove(&a.Extra, ballsKey)
}

// soccerConf reads the Soccer settings this module plays by.
type soccerConf struct {
	a *world.Arena
}

func (c soccerConf) mode() int { return c.a.Conf.GetInt("Soccer", "Mode", modeNone) }

// capturePoints selects the scoring style: zero or more means steal play
// where each team starts with this many points, negative means absolute
// play won at the absolute value.
func (c soccerConf) capturePoints() int32 {
	return int32(c.a.Conf.GetInt("Soccer", "CapturePoints", -10))
}

// stealing requires owned goals, so a directionless arena always scores
// absolutely.
func (c soccerConf) stealing() bool {
	return c.capturePoints() >= 0 && c.mode() != modeNone
}

func (c soccerConf) fourTeams() bool {
	m := c.mode()
	return m == modeQuadrants || m == modeSides
}

func (m *Module) onClaim(ev world.BallClaimEvent) {
	a, p := ev.Arena, ev.Player
	ab := slot.Get(&a.Extra, ballsKey)
	if ev.BallID < 0 || ev.BallID >= len(ab.balls) || !p.Ship.InGame() {
		return
	}
	b := &ab.balls[ev.BallID]
	if b.carrier != nil {
		return
	}
	b.carrier = p
	p.BallCarried = int8(ev.BallID)
	m.withStats(func(st world.Stats) {
		st.Increment(p, world.StatBallCarries, 1, world.ScopeAll)
		st.StartTimer(p, world.StatBallCarryTime, world.ScopeArena)
	})
	broker.Fire(a.Broker, world.BallPickupEvent{Arena: a, Player: p, BallID: ev.BallID})
}

func (m *Module) onFire(ev world.BallFireEvent) {
	a, p := ev.Arena, ev.Player
	ab := slot.Get(&a.Extra, ballsKey)
	if ev.BallID < 0 || ev.BallID >= len(ab.balls) {
		return
	}
	b := &ab.balls[ev.BallID]
	if b.carrier != p {
		return
	}
	b.carrier = nil
	b.shooter = p
	p.BallCarried = -1
	m.withStats(func(st world.Stats) {
		st.StopTimer(p, world.StatBallCarryTime, world.ScopeArena)
	})
	broker.Fire(a.Broker, world.BallShootEvent{Arena: a, Player: p, BallID: ev.BallID})
}

// onGoal confirms a reported goal. Only the last shooter's report counts, so
// a stray report cannot credit someone else's shot.
func (m *Module) onGoal(ev world.GoalReportEvent) {
	a, p := ev.Arena, ev.Player
	ab := slot.Get(&a.Extra, ballsKey)
	if ev.BallID < 0 || ev.BallID >= len(ab.balls) {
		return
	}
	b := &ab.balls[ev.BallID]
	if b.shooter != p {
		return
	}
	b.shooter = nil

	c := soccerConf{a}
	team := teamOf(p.Freq)
	if c.stealing() {
		// A goal moves exactly one point from the goal's owner to the
		// scorer. An own goal, or an owner with nothing left, is null.
		owner := goalOwner(c.mode(), ev.X, ev.Y)
		if owner < 0 || owner == team || ab.scores[owner] == 0 {
			broker.Fire(a.Broker, world.BallGoalEvent{
				Arena: a, Player: p, BallID: ev.BallID, TileX: ev.X, TileY: ev.Y,
			})
			return
		}
		ab.scores[owner]--
		ab.scores[team]++
	} else {
		ab.scores[team]++
	}

	m.withStats(func(st world.Stats) {
		st.Increment(p, world.StatBallGoals, 1, world.ScopeAll)
	})
	m.sendToArena(a, packet.Goal(team, ab.scores[team]))
	broker.Fire(a.Broker, world.BallGoalEvent{
		Arena: a, Player: p, BallID: ev.BallID, TileX: ev.X, TileY: ev.Y,
	})

	m.checkWin(a, ab, team, p)
}

// goalOwner maps a goal tile to the freq defending it under mode.
func goalOwner(mode int, x, y int16) int16 {
	switch mode {
	case modeLeftRight:
		if int(x) < mapCenter {
			return 0
		}
		return 1
	case modeTopBottom:
		if int(y) < mapCenter {
			return 0
		}
		return 1
	case modeQuadrants:
		var t int16
		if int(x) >= mapCenter {
			t |= 1
		}
		if int(y) >= mapCenter {
			t |= 2
		}
		return t
	case modeSides:
		dx, dy := int(x)-mapCenter, int(y)-mapCenter
		if abs(dx) >= abs(dy) {
			if dx < 0 {
				return 0
			}
			return 1
		}
		if dy < 0 {
			return 2
		}
		return 3
	}
	return -1
}

// checkWin ends the round when the scoring goal decided it: in steal play a
// team wins by holding every point, in absolute play by reaching the target
// with the required margin.
func (m *Module) checkWin(a *world.Arena, ab *arenaBalls, team int16, scorer *world.Player) {
	if a.Conf.GetBool("Soccer", "CustomGame", false) {
		// A custom module owns the end of a custom game.
		return
	}
	c := soccerConf{a}
	if c.stealing() {
		if ab.scores[team] == 0 {
			return
		}
		for i, s := range ab.scores {
			if int16(i) != team && s != 0 {
				return
			}
		}
	} else {
		target := c.capturePoints()
		if target < 0 {
			target = -target
		}
		if target == 0 || ab.scores[team] < target {
			return
		}
		winBy := int32(a.Conf.GetInt("Soccer", "WinBy", 1))
		for i, s := range ab.scores {
			if int16(i) != team && ab.scores[team]-s < winBy {
				return
			}
		}
	}
	m.endGame(a, ab, team, scorer)
}

// endGame rewards the winning team and restarts the scores.
func (m *Module) endGame(a *world.Arena, ab *arenaBalls, team int16, scorer *world.Player) {
	playing, teams := m.census(a)

	reward := a.Conf.GetInt("Soccer", "Reward", 0)
	var points int32
	if reward < 0 {
		points = int32(-reward)
	} else {
		points = int32(playing * playing * reward / 1000)
	}
	// The reward only pays out for a real game won from live play.
	if playing < a.Conf.GetInt("Soccer", "MinPlayers", 0) ||
		teams < a.Conf.GetInt("Soccer", "MinTeams", 0) ||
		(scorer != nil && scorer.Pos.InSafe()) {
		points = 0
	}

	m.withStats(func(st world.Stats) {
		for _, q := range m.reg.ArenaPlayers(a) {
			if !q.Ship.InGame() {
				continue
			}
			if teamOf(q.Freq) == team {
				if points != 0 && !q.Pos.InSafe() {
					st.Increment(q, world.StatFlagPoints, int64(points), world.ScopeAll)
				}
				st.Increment(q, world.StatBallGamesWon, 1, world.ScopeAll)
			} else {
				st.Increment(q, world.StatBallGamesLost, 1, world.ScopeAll)
			}
		}
	})
	if chat, ref, ok := broker.GetInterface[world.Chat](m.root); ok {
		chat.SendArenaSoundMessage(a, world.SoundVictoryLoop,
			"Team %d won the soccer game! Reward: %d points", team, points)
		m.root.ReleaseInterface(ref)
	}
	m.resetScores(a, ab)
}

// census counts in-ship players and the distinct teams they fill.
func (m *Module) census(a *world.Arena) (playing, teams int) {
	var seen [teamCount]bool
	for _, q := range m.reg.ArenaPlayers(a) {
		if !q.Ship.InGame() {
			continue
		}
		playing++
		if t := teamOf(q.Freq); !seen[t] {
			seen[t] = true
			teams++
		}
	}
	return playing, teams
}

// seedScores starts a round: steal games hand every owning team its
// CapturePoints stake, absolute games start from zero.
func (m *Module) seedScores(a *world.Arena, ab *arenaBalls) {
	ab.scores = [teamCount]int32{}
	c := soccerConf{a}
	if !c.stealing() {
		return
	}
	n := 2
	if c.fourTeams() {
		n = 4
	}
	for i := 0; i < n; i++ {
		ab.scores[i] = c.capturePoints()
	}
}

func (m *Module) resetScores(a *world.Arena, ab *arenaBalls) {
	m.seedScores(a, ab)
	for i := range ab.balls {
		if ab.balls[i].carrier != nil {
			ab.balls[i].carrier.BallCarried = -1
		}
		ab.balls[i] = ballInfo{}
	}
	if ps, ref, ok := broker.GetInterface[world.PlayerSync](m.root); ok {
		ps.EndInterval(world.ArenaGroup(a), world.IntervalGame)
		m.root.ReleaseInterface(ref)
	}
	m.withStats(func(st world.Stats) { st.SendUpdates(a, nil) })
}

func (m *Module) dropPossession(a *world.Arena, p *world.Player) {
	ab := slot.Get(&a.Extra, ballsKey)
	for i := range ab.balls {
		if ab.balls[i].carrier == p {
			ab.balls[i].carrier = nil
			m.withStats(func(st world.Stats) {
				st.StopTimer(p, world.StatBallCarryTime, world.ScopeArena)
			})
		}
		if ab.balls[i].shooter == p {
			ab.balls[i].shooter = nil
		}
	}
	p.BallCarried = -1
}

// ── commands ───────────────────────────────────────────────────

func (m *Module) cmdScore(p *world.Player, args string) {
	if p.Arena == nil {
		return
	}
	ab := slot.Get(&p.Arena.Extra, ballsKey)
	chat, ref, ok := broker.GetInterface[world.Chat](m.root)
	if !ok {
		return
	}
	defer m.root.ReleaseInterface(ref)
	for i, s := range ab.scores {
		if s != 0 {
			chat.SendMessage(p, "Team %d: %d", i, s)
		}
	}
}

// cmdSetScore overwrites the team scores, first integer for team 0 and so
// on, up to all eight. Steal games manage their own point total and refuse
// the override.
func (m *Module) cmdSetScore(p *world.Player, args string) {
	if p.Arena == nil || !p.HasCap("setscore") {
		return
	}
	if (soccerConf{p.Arena}).stealing() {
		if chat, ref, ok := broker.GetInterface[world.Chat](m.root); ok {
			chat.SendMessage(p, "Scores cannot be set in a steal game.")
			m.root.ReleaseInterface(ref)
		}
		return
	}
	fields := strings.Fields(args)
	if len(fields) == 0 || len(fields) > teamCount {
		return
	}
	vals := make([]int32, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return
		}
		if v < 0 {
			v = 0
		}
		vals[i] = int32(v)
	}
	ab := slot.Get(&p.Arena.Extra, ballsKey)
	for i, v := range vals {
		if ab.scores[i] != v {
			ab.scores[i] = v
			m.sendToArena(p.Arena, packet.Goal(int16(i), v))
		}
	}
}

func (m *Module) cmdResetGame(p *world.Player, args string) {
	if p.Arena == nil || !p.HasCap("setscore") {
		return
	}
	ab := slot.Get(&p.Arena.Extra, ballsKey)
	if chat, ref, ok := broker.GetInterface[world.Chat](m.root); ok {
		chat.SendArenaSoundMessage(p.Arena, world.SoundStopMusic, "Soccer game reset.")
		m.root.ReleaseInterface(ref)
	}
	m.resetScores(p.Arena, ab)
}

// ── helpers ────────────────────────────────────────────────────

func teamOf(freq int16) int16 {
	t := freq % teamCount
	if t < 0 {
		t += teamCount
	}
	return t
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

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
