package world

import (
	"context"
	"fmt"
	"time"
)

// Contracts between subsystems, published through the broker so modules can
// find one another without import edges. External collaborators (the UDP
// layer, the chat router) implement the same interfaces from outside.

// ── Statistics ─────────────────────────────────────────────────

// Interval is a reset boundary for statistics. Values beyond Game come from
// Stats:AdditionalIntervals.
type Interval int8

const (
	IntervalForever Interval = iota
	IntervalReset
	IntervalGame
)

func (iv Interval) String() string {
	switch iv {
	case IntervalForever:
		return "forever"
	case IntervalReset:
		return "reset"
	case IntervalGame:
		return "game"
	default:
		return fmt.Sprintf("interval-%d", int8(iv))
	}
}

// Scope selects the aggregation bucket for a stat operation.
type Scope int8

const (
	ScopeGlobal Scope = iota
	ScopeArena
	ScopeAll // mutations only: both scopes
)

// StatCode identifies one tracked statistic. The numeric values are part of
// the persisted blob format; only append.
type StatCode int16

const (
	StatKillPoints StatCode = iota
	StatFlagPoints
	StatKills
	StatDeaths
	StatTeamKills
	StatFlagPickups
	StatFlagCarryTime
	StatFlagDrops
	StatFlagNeutDrops
	StatFlagKills
	StatFlagGamesWon
	StatFlagGamesLost
	StatBallCarries
	StatBallCarryTime
	StatBallGoals
	StatBallGamesWon
	StatBallGamesLost
	StatKothGamesWon
	StatSpeedGamesWon
	StatSpeedPersonalBest
	StatArenaTotalTime
	StatArenaSpecTime
	StatLastSeen // timestamp of the most recent login
)

// Stats is the scoring service (implemented by internal/stats).
type Stats interface {
	// Increment adds to a numeric or duration stat in every interval of
	// the given scope(s).
	Increment(p *Player, st StatCode, amount int64, scope Scope)
	// IncrementInterval adds in one interval only.
	IncrementInterval(p *Player, st StatCode, amount int64, scope Scope, iv Interval)
	// Set overwrites the value in one interval of the given scope(s).
	Set(p *Player, st StatCode, value int64, scope Scope, iv Interval)
	// TryGet reads one stat; scope must be Global or Arena.
	TryGet(p *Player, st StatCode, scope Scope, iv Interval) (int64, bool)

	// Duration stats. Start/Stop manage the running timer; elapsed time
	// accumulates into every interval of the scope.
	StartTimer(p *Player, st StatCode, scope Scope)
	StopTimer(p *Player, st StatCode, scope Scope)
	ResetTimer(p *Player, st StatCode, scope Scope)

	// ScoreReset zeroes the interval's kill/flag points and win/loss
	// counts, keeps running timers running as-of now, and broadcasts a
	// score-reset packet.
	ScoreResetPlayer(p *Player, iv Interval)
	ScoreResetArena(a *Arena, iv Interval)

	// SendUpdates emits a score-update packet for every player (optionally
	// restricted to one arena) whose broadcast stats are dirty.
	SendUpdates(a *Arena, exclude *Player)
}

// ── Jackpot ────────────────────────────────────────────────────

// Jackpot is the per-arena point pool that bleeds into end-of-game rewards.
type Jackpot interface {
	Get(a *Arena) int
	Set(a *Arena, points int)
	Add(a *Arena, points int)
	Reset(a *Arena)
}

// ── Flags ──────────────────────────────────────────────────────

// FlagCounter is registered on an arena's broker while a flag module is
// attached there.
type FlagCounter interface {
	// FreqFlagCount counts the flags a freq owns, carried or on the map.
	FreqFlagCount(a *Arena, freq int16) int
}

// ── Freq management ────────────────────────────────────────────

// FreqEnforcerAdvisor is polled along the local-then-global advisor chain;
// any advisor may veto. A nil errBuf means the caller does not want a
// message and advisors may skip formatting one.
type FreqEnforcerAdvisor interface {
	// GetAllowableShips returns the ships the player may use on freq; the
	// caller intersects across the chain.
	GetAllowableShips(p *Player, ship Ship, freq int16, errBuf *string) ShipMask
	CanChangeToFreq(p *Player, newFreq int16, errBuf *string) bool
	// CanEnterGame is consulted only when the player is a spectator.
	CanEnterGame(p *Player, errBuf *string) bool
	IsUnlocked(p *Player, errBuf *string) bool
}

// NopEnforcer is a permissive FreqEnforcerAdvisor for embedding; advisors
// override only the checks they care about.
type NopEnforcer struct{}

func (NopEnforcer) GetAllowableShips(*Player, Ship, int16, *string) ShipMask {
	return ShipMaskAll
}
func (NopEnforcer) CanChangeToFreq(*Player, int16, *string) bool { return true }
func (NopEnforcer) CanEnterGame(*Player, *string) bool           { return true }
func (NopEnforcer) IsUnlocked(*Player, *string) bool             { return true }

// FreqManager executes ship/freq change requests after consulting the
// enforcer chain (implemented by internal/game/freqman).
type FreqManager interface {
	// InitialFreqAndShip picks the freq and possibly-corrected ship for a
	// player entering the arena.
	InitialFreqAndShip(p *Player, requested Ship) (Ship, int16)
	RequestShipChange(p *Player, ship Ship)
	RequestFreqChange(p *Player, freq int16)
}

// ── Kill rewards ───────────────────────────────────────────────

// KillAdvisor computes the points a kill is worth; contributions from all
// advisors in the chain are summed.
type KillAdvisor interface {
	KillPoints(a *Arena, killer, killed *Player, bounty int32, flagsCarried int) int32
}

// ── Chat ───────────────────────────────────────────────────────

// ChatSound accompanies a chat message; the values match the client's sound
// table.
type ChatSound byte

const (
	SoundNone        ChatSound = 0
	SoundBeep        ChatSound = 1
	SoundVictoryLoop ChatSound = 100 // looping victory music
	SoundStopMusic   ChatSound = 101
	SoundDing        ChatSound = 26
)

// Chat is the outbound chat contract; the router itself is external.
type Chat interface {
	SendMessage(p *Player, format string, args ...any)
	SendSoundMessage(p *Player, sound ChatSound, format string, args ...any)
	SendArenaMessage(a *Arena, format string, args ...any)
	SendArenaSoundMessage(a *Arena, sound ChatSound, format string, args ...any)
}

// CommandFunc handles one chat-invoked command. args is the remainder of
// the line after the command name, trimmed.
type CommandFunc func(p *Player, args string)

// CommandDispatcher registers and routes ?commands (parsing is external).
type CommandDispatcher interface {
	Register(name string, fn CommandFunc)
	Unregister(name string)
	Dispatch(p *Player, line string) bool
}

// ── Network ────────────────────────────────────────────────────

// PacketSender sends prebuilt packets through the external UDP layer.
type PacketSender interface {
	ToPlayer(p *Player, data []byte, reliable bool)
	ToArena(a *Arena, except *Player, data []byte, reliable bool)
}

// SessionNotifier delivers lifecycle responses (login result, arena entry
// burst). The packet formats live in the external UDP layer.
type SessionNotifier interface {
	LoginResponse(p *Player, code AuthCode)
	ArenaResponse(p *Player)
	Disconnect(p *Player)
}

// ── Authentication ─────────────────────────────────────────────

type AuthCode uint8

const (
	AuthOK           AuthCode = 0
	AuthBadPassword  AuthCode = 2
	AuthArenaFull    AuthCode = 3
	AuthLockedOut    AuthCode = 4
	AuthNoPermission AuthCode = 5
	AuthServerBusy   AuthCode = 6
	AuthCustomText   AuthCode = 19
)

func (c AuthCode) OK() bool { return c == AuthOK }

// Authenticator validates credentials. Called on a worker goroutine; it may
// block on I/O.
type Authenticator interface {
	Authenticate(ctx context.Context, name, password string) AuthCode
}

// ── Persistence ────────────────────────────────────────────────

// PlayerSync is the slice of the persist bridge the lifecycle engine needs.
// All done callbacks are posted to the mainloop.
type PlayerSync interface {
	GetPlayer(p *Player, arenaGroup string, done func(ok bool))
	PutPlayer(p *Player, arenaGroup string, done func(ok bool))
	GetArena(a *Arena, done func(ok bool))
	PutArena(a *Arena, done func(ok bool))
	EndInterval(arenaGroup string, iv Interval)
}

// PlayerDataDef registers one persisted per-player blob with the bridge.
// Get serializes the current value, Set loads a stored one, Clear resets to
// empty (used when the database has no row). All three run on the mainloop.
type PlayerDataDef struct {
	Key      int
	Interval Interval
	Scope    Scope // Global or Arena
	Get      func(p *Player) []byte
	Set      func(p *Player, data []byte)
	Clear    func(p *Player)
}

// ArenaDataDef registers one persisted per-arena blob.
type ArenaDataDef struct {
	Key      int
	Interval Interval
	Get      func(a *Arena) []byte
	Set      func(a *Arena, data []byte)
	Clear    func(a *Arena)
}

// Persist is the full persist bridge: the sync operations plus data-handler
// registration. Registration happens during module setup, before any player
// connects.
type Persist interface {
	PlayerSync
	RegisterPlayerData(def PlayerDataDef)
	RegisterArenaData(def ArenaDataDef)
}

// ArenaGroup returns the score-group name an arena persists under: public
// arenas share "public", named arenas persist alone.
func ArenaGroup(a *Arena) string {
	if a == nil {
		return "global"
	}
	if a.Name == "" {
		return "public"
	}
	if a.Name[0] >= '0' && a.Name[0] <= '9' {
		return "public"
	}
	return a.Name
}

// Clock abstracts time for game modules so tests can step it.
type Clock interface {
	Now() time.Time
}

// WallClock is the production Clock.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }
