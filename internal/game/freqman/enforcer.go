package freqman

import (
	"fmt"

	"github.com/subzone/server/internal/core/slot"
	"github.com/subzone/server/internal/world"
)

// legalShipEnforcer applies the LegalShip settings: the arena-wide mask
// intersected with the per-freq mask. A freq without its own mask uses the
// Freq0Mask value, so one key can restrict every team at once.
type legalShipEnforcer struct {
	world.NopEnforcer
	a *world.Arena
}

func (e legalShipEnforcer) GetAllowableShips(p *world.Player, ship world.Ship, freq int16, errBuf *string) world.ShipMask {
	conf := e.a.Conf
	freqDefault := conf.GetInt("LegalShip", "Freq0Mask", 255)
	mask := world.ShipMask(conf.GetInt("LegalShip", "ArenaMask", 255))
	mask = mask.Intersect(world.ShipMask(conf.GetInt("LegalShip", fmt.Sprintf("Freq%dMask", freq), freqDefault)))
	if conf.GetBool("Misc", "FrequencyShipTypes", false) && freq >= 0 {
		// Freq number dictates the ship: freq 0 warbirds, freq 1 javelins, …
		mask = mask.Intersect(world.MaskOf(world.Ship(freq % 8)))
	}
	if errBuf != nil && !mask.Has(ship) && ship.InGame() {
		*errBuf = fmt.Sprintf("%s is not allowed on freq %d in this arena.", ship, freq)
	}
	return mask
}

// shipChangeEnforcer rate-limits ship swaps and pins antiwarped players to
// their current hull. It only restricts a request for a different ship; the
// chain stays permissive when other enforcers re-fit the current one.
type shipChangeEnforcer struct {
	world.NopEnforcer
	a     *world.Arena
	clock world.Clock
}

func (e shipChangeEnforcer) GetAllowableShips(p *world.Player, ship world.Ship, freq int16, errBuf *string) world.ShipMask {
	if ship == p.Ship {
		return world.ShipMaskAll
	}
	c := confReader{e.a}
	if ship.InGame() && p.Pos.Antiwarped() && !c.antiwarpShipChange(p.FlagsCarried > 0) {
		return e.refuse(p, errBuf, "You are antiwarped!")
	}
	if interval := c.shipChangeInterval(); interval > 0 {
		lc := slot.Get(&p.Extra, changeKey)
		if !lc.at.IsZero() && e.clock.Now().Sub(lc.at) < interval {
			return e.refuse(p, errBuf, "You've changed ships too recently.")
		}
	}
	return world.ShipMaskAll
}

// refuse leaves the player on the ship they have. A spectator has no ship
// to keep, so the mask comes back empty.
func (e shipChangeEnforcer) refuse(p *world.Player, errBuf *string, msg string) world.ShipMask {
	if errBuf != nil {
		*errBuf = msg
	}
	if p.Ship == world.ShipSpectator {
		return world.ShipMaskNone
	}
	return world.MaskOf(p.Ship)
}
