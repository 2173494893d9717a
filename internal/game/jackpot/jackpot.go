// Package jackpot keeps the per-arena point pool that end-of-game rewards
// drain. Kills bleed into it (see internal/game/kill); flag and soccer wins
// pay it out.
package jackpot

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/subzone/server/internal/core/broker"
	"github.com/subzone/server/internal/core/slot"
	"github.com/subzone/server/internal/world"
)

// keyJackpot is the persist key for the pool value.
const keyJackpot = 2

type pool struct {
	points int
}

var poolKey = slot.NewKey[pool]()

// Module implements world.Jackpot. The pool lives in the arena's slot table
// and survives arena teardown through the game-interval arena data.
type Module struct {
	log  *zap.Logger
	root *broker.Broker
}

func New(root *broker.Broker, log *zap.Logger) *Module {
	return &Module{log: log, root: root}
}

// Setup publishes the service and registers the persisted pool blob.
func (m *Module) Setup(persist world.Persist) error {
	if _, err := broker.RegisterInterface[world.Jackpot](m.root, m); err != nil {
		return err
	}
	if persist != nil {
		persist.RegisterArenaData(world.ArenaDataDef{
			Key:      keyJackpot,
			Interval: world.IntervalGame,
			Get: func(a *world.Arena) []byte {
				v := slot.Get(&a.Extra, poolKey).points
				if v == 0 {
					return nil
				}
				var buf [4]byte
				binary.LittleEndian.PutUint32(buf[:], uint32(v))
				return buf[:]
			},
			Set: func(a *world.Arena, data []byte) {
				if len(data) >= 4 {
					slot.Get(&a.Extra, poolKey).points = int(int32(binary.LittleEndian.Uint32(data)))
				}
			},
			Clear: func(a *world.Arena) {
				slot.Get(&a.Extra, poolKey).points = 0
			},
		})
	}
	return nil
}

func (m *Module) Get(a *world.Arena) int { return slot.Get(&a.Extra, poolKey).points }

func (m *Module) Set(a *world.Arena, points int) {
	if points < 0 {
		points = 0
	}
	slot.Get(&a.Extra, poolKey).points = points
}

func (m *Module) Add(a *world.Arena, points int) {
	p := slot.Get(&a.Extra, poolKey)
	p.points += points
	if p.points < 0 {
		p.points = 0
	}
}

func (m *Module) Reset(a *world.Arena) { slot.Get(&a.Extra, poolKey).points = 0 }
