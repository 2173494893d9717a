// Package freqman arbitrates ship and frequency changes. Every request runs
// through the freq-enforcer advisor chain (arena advisors first, then
// global) before it is applied; game modules veto or restrict by registering
// an advisor, never by patching player state directly.
package freqman

import (
	"time"

	"go.uber.org/zap"

	"github.com/subzone/server/internal/core/broker"
	"github.com/subzone/server/internal/core/slot"
	"github.com/subzone/server/internal/world"
)

// Module attaches a per-arena freq manager. Shared across arenas; each
// Attach hands the arena its own manager instance.
type Module struct {
	log   *zap.Logger
	root  *broker.Broker
	reg   *world.Registry
	clock world.Clock
}

func New(root *broker.Broker, reg *world.Registry, clock world.Clock, log *zap.Logger) *Module {
	return &Module{log: log, root: root, reg: reg, clock: clock}
}

func (m *Module) Name() string { return "freqman" }

type arenaState struct {
	fmToken   *broker.InterfaceToken
	advTokens []*broker.AdvisorToken
}

var arenaKey = slot.NewKey[arenaState]()

func (m *Module) Attach(a *world.Arena) error {
	mgr := &manager{log: m.log, root: m.root, reg: m.reg, clock: m.clock, a: a}
	tok, err := broker.RegisterInterface[world.FreqManager](a.Broker, mgr)
	if err != nil {
		return err
	}
	st := slot.Get(&a.Extra, arenaKey)
	st.fmToken = tok
	st.advTokens = []*broker.AdvisorToken{
		broker.RegisterAdvisor[world.FreqEnforcerAdvisor](a.Broker, legalShipEnforcer{a: a}),
		broker.RegisterAdvisor[world.FreqEnforcerAdvisor](a.Broker, shipChangeEnforcer{a: a, clock: m.clock}),
	}
	return nil
}

func (m *Module) Detach(a *world.Arena) {
	st := slot.Get(&a.Extra, arenaKey)
	broker.UnregisterInterface(st.fmToken)
	for _, t := range st.advTokens {
		broker.UnregisterAdvisor(t)
	}
	slot.Remove(&a.Extra, arenaKey)
}

// lastChange tracks the ship-change rate limit per player.
type lastChange struct {
	at time.Time
}

var changeKey = slot.NewKey[lastChange]()

// manager is the per-arena world.FreqManager.
type manager struct {
	log   *zap.Logger
	root  *broker.Broker
	reg   *world.Registry
	clock world.Clock
	a     *world.Arena
}

func (mg *manager) conf() confReader { return confReader{mg.a} }

// InitialFreqAndShip places an entering player: balanced freq for a playing
// ship, the spectator freq otherwise. A disallowed ship falls back to the
// best allowed one, or to spectating.
func (mg *manager) InitialFreqAndShip(p *world.Player, requested world.Ship) (world.Ship, int16) {
	c := mg.conf()
	if !requested.InGame() {
		return world.ShipSpectator, c.spectatorFreq()
	}
	var errMsg string
	if !mg.canEnterGame(p, &errMsg) {
		mg.message(p, errMsg)
		return world.ShipSpectator, c.spectatorFreq()
	}
	freq := mg.balancedFreq()
	ship := mg.fitShip(p, requested, freq, &errMsg)
	if ship == world.ShipSpectator {
		mg.message(p, errMsg)
		return world.ShipSpectator, c.spectatorFreq()
	}
	return ship, freq
}

func (mg *manager) RequestShipChange(p *world.Player, ship world.Ship) {
	if ship == p.Ship {
		return
	}
	c := mg.conf()
	oldShip, oldFreq := p.Ship, p.Freq
	var errMsg string

	if ship == world.ShipSpectator {
		p.Ship = world.ShipSpectator
		p.Freq = c.spectatorFreq()
		mg.applied(p, oldShip, oldFreq)
		return
	}

	freq := p.Freq
	if oldShip == world.ShipSpectator {
		if !mg.canEnterGame(p, &errMsg) {
			mg.message(p, errMsg)
			return
		}
		freq = mg.balancedFreq()
	}
	if got := mg.fitShip(p, ship, freq, &errMsg); got != ship {
		mg.message(p, errMsg)
		return
	}
	p.Ship = ship
	p.Freq = freq
	mg.applied(p, oldShip, oldFreq)
}

func (mg *manager) RequestFreqChange(p *world.Player, freq int16) {
	if freq == p.Freq {
		return
	}
	c := mg.conf()
	if freq < 0 || int(freq) > c.maxFreq() {
		mg.message(p, "Bad frequency.")
		return
	}
	var errMsg string
	for _, adv := range broker.Advisors[world.FreqEnforcerAdvisor](mg.a.Broker) {
		if !adv.IsUnlocked(p, &errMsg) || !adv.CanChangeToFreq(p, freq, &errMsg) {
			mg.message(p, errMsg)
			return
		}
	}

	oldShip, oldFreq := p.Ship, p.Freq
	p.Freq = freq
	// The new freq may not allow the current ship.
	if p.Ship.InGame() {
		if got := mg.fitShip(p, p.Ship, freq, &errMsg); got != p.Ship {
			p.Ship = got
			if got == world.ShipSpectator {
				mg.message(p, errMsg)
			}
		}
	}
	mg.applied(p, oldShip, oldFreq)
}

// fitShip intersects the advisor chain's allowable masks and returns the
// requested ship when permitted, an allowed substitute otherwise, or
// spectator when nothing fits.
func (mg *manager) fitShip(p *world.Player, want world.Ship, freq int16, errMsg *string) world.Ship {
	mask := world.ShipMaskAll
	for _, adv := range broker.Advisors[world.FreqEnforcerAdvisor](mg.a.Broker) {
		mask = mask.Intersect(adv.GetAllowableShips(p, want, freq, errMsg))
	}
	if mask.Has(want) {
		return want
	}
	for s := world.ShipWarbird; s <= world.ShipShark; s++ {
		if mask.Has(s) {
			return s
		}
	}
	return world.ShipSpectator
}

func (mg *manager) canEnterGame(p *world.Player, errMsg *string) bool {
	for _, adv := range broker.Advisors[world.FreqEnforcerAdvisor](mg.a.Broker) {
		if !adv.IsUnlocked(p, errMsg) || !adv.CanEnterGame(p, errMsg) {
			return false
		}
	}
	return true
}

// balancedFreq returns the least-populated team freq.
func (mg *manager) balancedFreq() int16 {
	teams := mg.conf().desiredTeams()
	counts := make([]int, teams)
	for _, q := range mg.reg.ArenaPlayers(mg.a) {
		if q.Ship.InGame() && int(q.Freq) < teams && q.Freq >= 0 {
			counts[q.Freq]++
		}
	}
	best := 0
	for i, n := range counts {
		if n < counts[best] {
			best = i
		}
	}
	return int16(best)
}

func (mg *manager) applied(p *world.Player, oldShip world.Ship, oldFreq int16) {
	if p.Ship != oldShip {
		lc := slot.Get(&p.Extra, changeKey)
		lc.at = mg.clock.Now()
	}
	broker.Fire(mg.a.Broker, world.ShipFreqChangeEvent{
		Player:  p,
		NewShip: p.Ship, OldShip: oldShip,
		NewFreq: p.Freq, OldFreq: oldFreq,
	})
}

func (mg *manager) message(p *world.Player, msg string) {
	if msg == "" {
		return
	}
	chat, ref, ok := broker.GetInterface[world.Chat](mg.root)
	if !ok {
		return
	}
	defer mg.root.ReleaseInterface(ref)
	chat.SendMessage(p, "%s", msg)
}

// confReader names the settings this package reads.
type confReader struct {
	a *world.Arena
}

func (c confReader) spectatorFreq() int16 {
	return int16(c.a.Conf.GetInt("Team", "SpectatorFrequency", 8025))
}

func (c confReader) desiredTeams() int {
	n := c.a.Conf.GetInt("Team", "DesiredTeams", 2)
	if n < 1 {
		n = 1
	}
	return n
}

func (c confReader) maxFreq() int {
	return c.a.Conf.GetInt("Team", "MaxFrequency", 9999)
}

func (c confReader) shipChangeInterval() time.Duration {
	return c.a.Conf.GetTicks("Misc", "ShipChangeInterval", 0)
}

// antiwarpShipChange answers whether an antiwarped player may still change
// ship; flag carriers have their own key.
func (c confReader) antiwarpShipChange(carrier bool) bool {
	key := "AntiwarpShipChange"
	if carrier {
		key = "AntiwarpFlagShipChange"
	}
	return c.a.Conf.GetBool("Misc", key, false)
}
