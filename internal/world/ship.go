package world

import "fmt"

// Ship is the client-visible ship type. The wire encoding matches the VIE
// client: 0=Warbird … 7=Shark, 8=Spectator.
type Ship int8

const (
	ShipWarbird Ship = iota
	ShipJavelin
	ShipSpider
	ShipLeviathan
	ShipTerrier
	ShipWeasel
	ShipLancaster
	ShipShark
	ShipSpectator
)

func (s Ship) String() string {
	switch s {
	case ShipWarbird:
		return "Warbird"
	case ShipJavelin:
		return "Javelin"
	case ShipSpider:
		return "Spider"
	case ShipLeviathan:
		return "Leviathan"
	case ShipTerrier:
		return "Terrier"
	case ShipWeasel:
		return "Weasel"
	case ShipLancaster:
		return "Lancaster"
	case ShipShark:
		return "Shark"
	case ShipSpectator:
		return "Spectator"
	default:
		return fmt.Sprintf("Ship(%d)", int8(s))
	}
}

// InGame reports whether the ship participates in play (not spectating).
func (s Ship) InGame() bool {
	return s >= ShipWarbird && s < ShipSpectator
}

// Valid reports whether s is a known ship slot, spectator included.
func (s Ship) Valid() bool {
	return s >= ShipWarbird && s <= ShipSpectator
}

// ShipMask is an 8-bit set over the eight playable ships. Config masks use
// bit 1 for Warbird through bit 128 for Shark; the spectator slot has no bit.
type ShipMask uint8

const (
	ShipMaskNone ShipMask = 0
	ShipMaskAll  ShipMask = 255
)

func MaskOf(ships ...Ship) ShipMask {
	var m ShipMask
	for _, s := range ships {
		if s.InGame() {
			m |= 1 << uint8(s)
		}
	}
	return m
}

func (m ShipMask) Has(s Ship) bool {
	if !s.InGame() {
		return false
	}
	return m&(1<<uint8(s)) != 0
}

func (m ShipMask) Union(o ShipMask) ShipMask     { return m | o }
func (m ShipMask) Intersect(o ShipMask) ShipMask { return m & o }
