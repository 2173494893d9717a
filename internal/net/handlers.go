package net

import (
	"time"

	"go.uber.org/zap"

	"github.com/subzone/server/internal/core/broker"
	"github.com/subzone/server/internal/net/packet"
	"github.com/subzone/server/internal/world"
)

// InboundChat receives decoded chat lines; internal/chat implements it.
type InboundChat interface {
	Inbound(p *world.Player, kind byte, target int16, text string)
}

// Deps carries what the core handlers need. Game modules never appear here:
// they hear about client intents through broker events.
type Deps struct {
	Log       *zap.Logger
	Root      *broker.Broker
	Lifecycle *world.Lifecycle
	Chat      InboundChat
	Clock     world.Clock
}

// RegisterCoreHandlers installs the handlers for every client packet this
// core understands. Raw game reports (deaths, flag touches, goals) are fired
// as events on the arena broker; the rules modules validate them there.
func RegisterCoreHandlers(d *Dispatcher, deps Deps) {
	playing := []world.PlayerStatus{world.StatusPlaying}

	d.Register(packet.C2SLogin, []world.PlayerStatus{world.StatusConnected},
		func(p *world.Player, r *packet.Reader) {
			r.ReadC() // flags, unused
			name := r.ReadSFixed(32)
			password := r.ReadSFixed(32)
			deps.Lifecycle.Login(p, name, password)
		})

	d.Register(packet.C2SGotoArena,
		[]world.PlayerStatus{world.StatusLoggedIn, world.StatusPlaying},
		func(p *world.Player, r *packet.Reader) {
			ship := world.Ship(r.ReadC())
			name := r.ReadS()
			if !ship.Valid() {
				ship = world.ShipSpectator
			}
			deps.Lifecycle.RequestArena(p, name, ship)
		})

	d.Register(packet.C2SLeaveArena, playing,
		func(p *world.Player, r *packet.Reader) {
			deps.Lifecycle.LeaveArena(p)
		})

	d.Register(packet.C2SPosition, playing,
		func(p *world.Player, r *packet.Reader) {
			p.Pos = world.Position{
				X:      r.ReadHS(),
				Y:      r.ReadHS(),
				Bounty: r.ReadD(),
				Status: r.ReadC(),
				Time:   deps.now(),
			}
		})

	d.Register(packet.C2SDeath, playing,
		func(p *world.Player, r *packet.Reader) {
			broker.Fire(p.Arena.Broker, world.DeathReportEvent{
				Arena:    p.Arena,
				Killed:   p,
				KillerID: r.ReadHS(),
				Bounty:   r.ReadHS(),
			})
		})

	d.Register(packet.C2SChat,
		[]world.PlayerStatus{world.StatusLoggedIn, world.StatusPlaying},
		func(p *world.Player, r *packet.Reader) {
			kind := r.ReadC()
			r.ReadC() // sound, client-chosen sounds are not relayed
			target := r.ReadHS()
			text := r.ReadS()
			if deps.Chat != nil {
				deps.Chat.Inbound(p, kind, target, text)
			}
		})

	d.Register(packet.C2SSetShip, playing,
		func(p *world.Player, r *packet.Reader) {
			ship := world.Ship(r.ReadC())
			if !ship.Valid() {
				return
			}
			withFreqman(p, deps, func(fm world.FreqManager) {
				fm.RequestShipChange(p, ship)
			})
		})

	d.Register(packet.C2SSetFreq, playing,
		func(p *world.Player, r *packet.Reader) {
			freq := r.ReadHS()
			withFreqman(p, deps, func(fm world.FreqManager) {
				fm.RequestFreqChange(p, freq)
			})
		})

	d.Register(packet.C2SPickupFlag, playing,
		func(p *world.Player, r *packet.Reader) {
			broker.Fire(p.Arena.Broker, world.FlagTouchEvent{
				Arena:  p.Arena,
				Player: p,
				FlagID: int(r.ReadHS()),
			})
		})

	d.Register(packet.C2SDropFlags, playing,
		func(p *world.Player, r *packet.Reader) {
			broker.Fire(p.Arena.Broker, world.FlagDropReportEvent{
				Arena:  p.Arena,
				Player: p,
			})
		})

	d.Register(packet.C2SPickupBall, playing,
		func(p *world.Player, r *packet.Reader) {
			broker.Fire(p.Arena.Broker, world.BallClaimEvent{
				Arena:  p.Arena,
				Player: p,
				BallID: int(r.ReadC()),
			})
		})

	d.Register(packet.C2SShootBall, playing,
		func(p *world.Player, r *packet.Reader) {
			ev := world.BallFireEvent{Arena: p.Arena, Player: p}
			ev.BallID = int(r.ReadC())
			ev.X = r.ReadHS()
			ev.Y = r.ReadHS()
			broker.Fire(p.Arena.Broker, ev)
		})

	d.Register(packet.C2SGoal, playing,
		func(p *world.Player, r *packet.Reader) {
			ev := world.GoalReportEvent{Arena: p.Arena, Player: p}
			ev.BallID = int(r.ReadC())
			ev.X = r.ReadHS()
			ev.Y = r.ReadHS()
			broker.Fire(p.Arena.Broker, ev)
		})
}

func (d Deps) now() time.Time {
	if d.Clock != nil {
		return d.Clock.Now()
	}
	return time.Now()
}

// withFreqman resolves the arena's freq manager. Without one, ship and freq
// requests are applied as-is.
func withFreqman(p *world.Player, deps Deps, fn func(world.FreqManager)) {
	fm, ref, ok := broker.GetInterface[world.FreqManager](p.Arena.Broker)
	if !ok {
		deps.Log.Debug("no freq manager", zap.String("arena", p.Arena.Name))
		return
	}
	defer p.Arena.Broker.ReleaseInterface(ref)
	fn(fm)
}
