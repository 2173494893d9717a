package world

import (
	"fmt"
	"time"

	"github.com/subzone/server/internal/core/slot"
)

// PlayerStatus is the player lifecycle state (see the state machine in
// lifecycle.go). Transitions happen only on the mainloop goroutine.
type PlayerStatus int8

const (
	StatusUninitialized PlayerStatus = iota
	StatusConnected
	StatusNeedAuth
	StatusWaitAuth
	StatusNeedGlobalSync
	StatusWaitGlobalSync
	StatusDoGlobalCallbacks
	StatusSendLoginResponse
	StatusLoggedIn
	StatusDoFreqAndArenaSync
	StatusWaitArenaSync
	StatusArenaRespAndCBS
	StatusPlaying
	StatusLeavingArena
	StatusWaitArenaSync2
	StatusLeavingZone
	StatusWaitGlobalSync2
	StatusTimeWait
)

func (s PlayerStatus) String() string {
	names := [...]string{
		"Uninitialized", "Connected", "NeedAuth", "WaitAuth",
		"NeedGlobalSync", "WaitGlobalSync", "DoGlobalCallbacks",
		"SendLoginResponse", "LoggedIn", "DoFreqAndArenaSync",
		"WaitArenaSync", "ArenaRespAndCBS", "Playing", "LeavingArena",
		"WaitArenaSync2", "LeavingZone", "WaitGlobalSync2", "TimeWait",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return fmt.Sprintf("PlayerStatus(%d)", int8(s))
}

// InArena reports whether this state implies a current arena. The registry
// enforces the iff: p.Arena != nil exactly in these states.
func (s PlayerStatus) InArena() bool {
	switch s {
	case StatusDoFreqAndArenaSync, StatusWaitArenaSync, StatusArenaRespAndCBS,
		StatusPlaying, StatusLeavingArena:
		return true
	}
	return false
}

// Position status bits, matching the C2S position packet.
const (
	StatusStealth  uint8 = 1 << 0
	StatusCloak    uint8 = 1 << 1
	StatusXRadar   uint8 = 1 << 2
	StatusAntiwarp uint8 = 1 << 3
	StatusFlash    uint8 = 1 << 4
	StatusSafezone uint8 = 1 << 5
	StatusUfo      uint8 = 1 << 6
)

// Position is the last-known position snapshot reported by the client.
type Position struct {
	X, Y   int16
	Bounty int32
	Status uint8
	Time   time.Time
}

func (p Position) InSafe() bool     { return p.Status&StatusSafezone != 0 }
func (p Position) Antiwarped() bool { return p.Status&StatusAntiwarp != 0 }

// ScoreMirror mirrors the four score fields of the client's join packet.
// The score broadcaster copies dirty stat values here before emitting a
// score update, so that late-entering clients see consistent numbers.
type ScoreMirror struct {
	KillPoints int32
	FlagPoints int32
	Wins       uint16
	Losses     uint16
}

// Conn is the player's connection as seen by this core; the UDP layer owns
// the real socket and framing.
type Conn interface {
	Endpoint() string
	Send(data []byte, reliable bool)
}

// Player is the process-wide record for one connected client. Owned by the
// Registry; other subsystems hold it only inside a registry lock window or
// on the mainloop goroutine.
type Player struct {
	ID   int16
	Name string
	Conn Conn

	Status PlayerStatus
	Arena  *Arena // non-nil iff Status.InArena()

	Ship Ship
	Freq int16

	Pos          Position
	FlagsCarried int
	BallCarried  int8 // ball id, -1 when none
	HasCrown     bool
	CrownExpire  time.Time // meaningful only while HasCrown
	Banner       []byte    // 96-byte banner image, nil when unset

	Score ScoreMirror

	Caps        map[string]bool
	ConnectTime time.Time

	// Extra holds module data slots (see internal/core/slot).
	Extra slot.Table

	// Lifecycle engine bookkeeping, mainloop only.
	reqArena     string // pending arena-change request, "" when none
	reqShip      Ship   // ship requested alongside reqArena
	authName     string
	authPassword string
	authCode     AuthCode
	leaveZone    bool // after leaving the arena, leave the zone too
	syncPending  bool // async persist/auth step in flight
	enteredGame  bool // EnterGame already fired for this arena visit
}

func (p *Player) IsSpec() bool { return p.Ship == ShipSpectator }

// HasCap reports a capability such as "seeprivfreq" or "setscore".
func (p *Player) HasCap(cap string) bool { return p.Caps[cap] }

// Crowned reports whether p currently wears a live crown. The invariant is
// that CrownExpire is set only while HasCrown.
func (p *Player) Crowned(now time.Time) bool {
	return p.HasCrown && now.Before(p.CrownExpire)
}
