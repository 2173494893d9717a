package scripting

import (
	"go.uber.org/zap"

	"github.com/subzone/server/internal/core/broker"
	"github.com/subzone/server/internal/world"
)

// Module routes game events and chat commands into the Lua engine and feeds
// scripted kill rewards back through the advisor chain.
type Module struct {
	log    *zap.Logger
	root   *broker.Broker
	engine *Engine
}

func NewModule(root *broker.Broker, engine *Engine, log *zap.Logger) *Module {
	return &Module{log: log, root: root, engine: engine}
}

// Setup hooks the engine into the zone: a zone-wide kill advisor, event
// notifications, and one dispatcher entry per scripted command.
func (m *Module) Setup(cmds world.CommandDispatcher) {
	broker.RegisterAdvisor[world.KillAdvisor](m.root, scriptAdvisor{engine: m.engine})

	broker.RegisterCallback(m.root, func(ev world.KillEvent) {
		m.engine.OnKill(m.killContext(ev))
	})
	broker.RegisterCallback(m.root, func(ev world.FlagResetEvent) {
		if ev.Freq >= 0 {
			m.engine.OnFlagWin(ev.Arena.Name, int(ev.Freq), int(ev.Points))
		}
	})
	broker.RegisterCallback(m.root, func(ev world.BallGoalEvent) {
		m.engine.OnGoal(ev.Arena.Name, ev.Player.Name, ev.BallID)
	})

	for _, name := range m.engine.CommandNames() {
		name := name
		cmds.Register(name, func(p *world.Player, args string) {
			reply := m.engine.OnCommand(name, p.Name, args)
			if reply == "" {
				return
			}
			if chat, ref, ok := broker.GetInterface[world.Chat](m.root); ok {
				chat.SendMessage(p, "%s", reply)
				m.root.ReleaseInterface(ref)
			}
		})
	}
}

func (m *Module) killContext(ev world.KillEvent) KillContext {
	return KillContext{
		Arena:      ev.Arena.Name,
		Killer:     ev.Killer.Name,
		Killed:     ev.Killed.Name,
		KillerFreq: int(ev.Killer.Freq),
		KilledFreq: int(ev.Killed.Freq),
		Bounty:     int(ev.Bounty),
		Flags:      ev.Flags,
		Points:     int(ev.Points),
	}
}

// scriptAdvisor contributes the scripted reward on top of the built-in one.
type scriptAdvisor struct {
	engine *Engine
}

func (s scriptAdvisor) KillPoints(a *world.Arena, killer, killed *world.Player, bounty int32, flagsCarried int) int32 {
	return int32(s.engine.KillReward(KillContext{
		Arena:      a.Name,
		Killer:     killer.Name,
		Killed:     killed.Name,
		KillerFreq: int(killer.Freq),
		KilledFreq: int(killed.Freq),
		Bounty:     int(bounty),
		Flags:      flagsCarried,
	}))
}
