package world

import "time"

// Broker event types. Fired on the arena broker when the subject has an
// arena, otherwise on the global broker; handlers on the arena broker run
// before global ones.

// PlayerActionKind tags the lifecycle transition a PlayerActionEvent reports.
type PlayerActionKind int8

const (
	PlayerConnect PlayerActionKind = iota
	PlayerDisconnect
	PlayerPreEnterArena
	PlayerEnterArena
	PlayerEnterGame // first time leaving spectator mode in this arena
	PlayerLeaveArena
)

type PlayerActionEvent struct {
	Player *Player
	Action PlayerActionKind
	Arena  *Arena // nil for Connect/Disconnect
}

// ArenaActionKind tags arena lifecycle boundaries.
type ArenaActionKind int8

const (
	ArenaPreCreate ArenaActionKind = iota
	ArenaCreate
	ArenaConfChanged
	ArenaPreDestroy
	ArenaDestroy
)

type ArenaActionEvent struct {
	Arena  *Arena
	Action ArenaActionKind
}

// MainloopEvent fires once per tick on the global broker.
type MainloopEvent struct {
	Now time.Time
}

// KillEvent fires after a confirmed kill, before stat mutation callbacks.
type KillEvent struct {
	Arena  *Arena
	Killer *Player
	Killed *Player
	Bounty int32
	Flags  int // flags the victim carried
	Points int32
}

// ShipFreqChangeEvent fires after a ship and/or freq change is applied.
type ShipFreqChangeEvent struct {
	Player           *Player
	NewShip, OldShip Ship
	NewFreq, OldFreq int16
}

// BallGoalEvent fires when the ball module confirms a goal.
type BallGoalEvent struct {
	Arena  *Arena
	Player *Player
	BallID int
	TileX  int16
	TileY  int16
}

// BallPickupEvent and BallShootEvent track carry state changes.
type BallPickupEvent struct {
	Arena  *Arena
	Player *Player
	BallID int
}

type BallShootEvent struct {
	Arena  *Arena
	Player *Player
	BallID int
}

// FlagGainEvent fires when a player picks up a carry-mode flag.
type FlagGainEvent struct {
	Arena  *Arena
	Player *Player
	FlagID int
	// HowMany is the count of flags the team holds after this pickup.
	HowMany int
}

// FlagLostEvent fires when a carried flag is dropped or its carrier leaves.
type FlagLostEvent struct {
	Arena  *Arena
	Player *Player
	FlagID int
}

// FlagOnMapEvent fires when a flag lands on the map with an owner.
type FlagOnMapEvent struct {
	Arena  *Arena
	FlagID int
	X, Y   int16
	Freq   int16
}

// FlagResetEvent fires when a flag game ends; Freq is -1 for an
// administrative reset with no winner.
type FlagResetEvent struct {
	Arena  *Arena
	Freq   int16
	Points int32
}

// KothStartedEvent fires when a King-of-the-Hill round begins.
type KothStartedEvent struct {
	Arena        *Arena
	Participants []*Player
}

// KothWonEvent fires when a King-of-the-Hill round is decided.
type KothWonEvent struct {
	Arena   *Arena
	Winners []*Player
	Points  int32
}

// CrownChangeEvent fires when a player gains or loses the crown.
type CrownChangeEvent struct {
	Player *Player
	Gained bool
}

// SpeedGameEndEvent fires with the final ranking of a speed round.
type SpeedGameEndEvent struct {
	Arena  *Arena
	Ranked []*Player
}

// Raw client reports, fired by the network dispatcher before any game
// module has validated them. Rules modules subscribe, validate, and fire
// the confirmed events above.

// DeathReportEvent is the client's "I died" packet.
type DeathReportEvent struct {
	Arena    *Arena
	Killed   *Player
	KillerID int16
	Bounty   int16
}

// FlagTouchEvent is a claimed flag pickup.
type FlagTouchEvent struct {
	Arena  *Arena
	Player *Player
	FlagID int
}

// FlagDropReportEvent is a claimed full flag drop.
type FlagDropReportEvent struct {
	Arena  *Arena
	Player *Player
}

// BallClaimEvent is a claimed ball pickup.
type BallClaimEvent struct {
	Arena  *Arena
	Player *Player
	BallID int
}

// BallFireEvent is a claimed ball shot.
type BallFireEvent struct {
	Arena  *Arena
	Player *Player
	BallID int
	X, Y   int16
}

// GoalReportEvent is a claimed goal.
type GoalReportEvent struct {
	Arena  *Arena
	Player *Player
	BallID int
	X, Y   int16
}
