package freqman

import (
	"github.com/subzone/server/internal/core/broker"
	"github.com/subzone/server/internal/core/slot"
	"github.com/subzone/server/internal/world"
)

// LockSpec is an attachable module that pins an arena in spectator mode:
// nobody enters the game, changes ship, or changes freq while it is on.
type LockSpec struct{}

func NewLockSpec() *LockSpec { return &LockSpec{} }

func (*LockSpec) Name() string { return "lockspec" }

type lockSpecState struct {
	token *broker.AdvisorToken
}

var lockSpecKey = slot.NewKey[lockSpecState]()

func (*LockSpec) Attach(a *world.Arena) error {
	st := slot.Get(&a.Extra, lockSpecKey)
	st.token = broker.RegisterAdvisor[world.FreqEnforcerAdvisor](a.Broker, lockSpecEnforcer{})
	return nil
}

func (*LockSpec) Detach(a *world.Arena) {
	st := slot.Get(&a.Extra, lockSpecKey)
	broker.UnregisterAdvisor(st.token)
	slot.Remove(&a.Extra, lockSpecKey)
}

// lockSpecEnforcer answers no to every query.
type lockSpecEnforcer struct{}

func (lockSpecEnforcer) GetAllowableShips(p *world.Player, ship world.Ship, freq int16, errBuf *string) world.ShipMask {
	deny(errBuf)
	return world.ShipMaskNone
}

func (lockSpecEnforcer) CanChangeToFreq(p *world.Player, newFreq int16, errBuf *string) bool {
	deny(errBuf)
	return false
}

func (lockSpecEnforcer) CanEnterGame(p *world.Player, errBuf *string) bool {
	deny(errBuf)
	return false
}

func (lockSpecEnforcer) IsUnlocked(p *world.Player, errBuf *string) bool {
	deny(errBuf)
	return false
}

func deny(errBuf *string) {
	if errBuf != nil {
		*errBuf = "This arena is spectator-only."
	}
}
