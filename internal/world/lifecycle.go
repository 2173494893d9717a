package world

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/subzone/server/internal/core/broker"
	"github.com/subzone/server/internal/core/mainloop"
)

// Lifecycle drives the player state machine. The network dispatcher feeds it
// decoded client intents (login, arena request, disconnect) on the mainloop;
// Process advances every player one step per tick. Blocking steps (auth,
// persist sync) run on the worker pool with continuations posted back.
type Lifecycle struct {
	log      *zap.Logger
	root     *broker.Broker
	loop     *mainloop.Loop
	reg      *Registry
	arenas   *Manager
	authWait time.Duration
}

func NewLifecycle(root *broker.Broker, loop *mainloop.Loop, reg *Registry, arenas *Manager, log *zap.Logger) *Lifecycle {
	return &Lifecycle{
		log:      log,
		root:     root,
		loop:     loop,
		reg:      reg,
		arenas:   arenas,
		authWait: 10 * time.Second,
	}
}

// ── Client intents (called by the dispatcher, mainloop only) ───

// Login moves a freshly connected player into the auth pipeline.
func (lc *Lifecycle) Login(p *Player, name, password string) {
	if p.Status != StatusConnected {
		lc.log.Warn("login in wrong state",
			zap.Int16("pid", p.ID),
			zap.String("status", p.Status.String()),
		)
		return
	}
	p.authName = name
	p.authPassword = password
	p.Status = StatusNeedAuth
}

// RequestArena asks to enter (or switch to) an arena. A second enter while
// the current leave sequence runs is rejected by the state check: the
// request is only recorded, and honored once the player is back in
// LoggedIn.
func (lc *Lifecycle) RequestArena(p *Player, arena string, ship Ship) {
	switch p.Status {
	case StatusLoggedIn, StatusPlaying:
		p.reqArena = arena
		p.reqShip = ship
	default:
		lc.log.Debug("arena request ignored",
			zap.Int16("pid", p.ID),
			zap.String("status", p.Status.String()),
		)
	}
}

// LeaveArena returns a playing player to the lobby without disconnecting.
func (lc *Lifecycle) LeaveArena(p *Player) {
	if p.Status == StatusPlaying {
		p.reqArena = ""
		p.Status = StatusLeavingArena
	}
}

// Disconnected starts the teardown path from any state.
func (lc *Lifecycle) Disconnected(p *Player) {
	p.leaveZone = true
	switch {
	case p.Status == StatusPlaying:
		p.Status = StatusLeavingArena
	case p.Status == StatusLoggedIn:
		p.Status = StatusLeavingZone
	case p.Status <= StatusSendLoginResponse && !p.syncPending:
		p.Status = StatusTimeWait
	}
	// Other states drain naturally; leaveZone redirects them.
}

// ── State machine ──────────────────────────────────────────────

// Process advances every player's state machine. Called once per tick.
func (lc *Lifecycle) Process() {
	for _, p := range lc.reg.Snapshot() {
		lc.processPlayer(p)
	}
}

func (lc *Lifecycle) processPlayer(p *Player) {
	switch p.Status {
	case StatusNeedAuth:
		lc.startAuth(p)

	case StatusNeedGlobalSync:
		lc.startGlobalSync(p)

	case StatusDoGlobalCallbacks:
		broker.Fire(lc.root, PlayerActionEvent{Player: p, Action: PlayerConnect})
		p.Status = StatusSendLoginResponse

	case StatusSendLoginResponse:
		lc.notify(func(n SessionNotifier) { n.LoginResponse(p, p.authCode) })
		p.authPassword = ""
		p.Status = StatusLoggedIn
		lc.log.Info("player logged in",
			zap.Int16("pid", p.ID),
			zap.String("name", p.Name),
		)

	case StatusLoggedIn:
		if p.leaveZone {
			p.Status = StatusLeavingZone
			return
		}
		if p.reqArena != "" {
			lc.startArenaEnter(p)
		}

	case StatusDoFreqAndArenaSync:
		lc.startArenaSync(p)

	case StatusArenaRespAndCBS:
		a := p.Arena
		broker.Fire(a.Broker, PlayerActionEvent{Player: p, Action: PlayerPreEnterArena, Arena: a})
		lc.notify(func(n SessionNotifier) { n.ArenaResponse(p) })
		p.Status = StatusPlaying
		broker.Fire(a.Broker, PlayerActionEvent{Player: p, Action: PlayerEnterArena, Arena: a})
		if p.Ship.InGame() && !p.enteredGame {
			p.enteredGame = true
			broker.Fire(a.Broker, PlayerActionEvent{Player: p, Action: PlayerEnterGame, Arena: a})
		}

	case StatusPlaying:
		if p.leaveZone || (p.reqArena != "" && p.reqArena != p.Arena.Name) {
			p.Status = StatusLeavingArena
		}

	case StatusLeavingArena:
		lc.startArenaLeave(p)

	case StatusLeavingZone:
		broker.Fire(lc.root, PlayerActionEvent{Player: p, Action: PlayerDisconnect})
		p.Status = StatusWaitGlobalSync2
		lc.withPersist(func(ps PlayerSync) {
			p.syncPending = true
			ps.PutPlayer(p, "global", func(bool) {
				p.syncPending = false
				p.Status = StatusTimeWait
			})
		}, func() { p.Status = StatusTimeWait })

	case StatusTimeWait:
		lc.notify(func(n SessionNotifier) { n.Disconnect(p) })
		lc.reg.Free(p)
	}
}

func (lc *Lifecycle) startAuth(p *Player) {
	p.Status = StatusWaitAuth
	auth, ref, ok := broker.GetInterface[Authenticator](lc.root)
	if !ok {
		// No authenticator module: accept as-is.
		p.Name = p.authName
		p.authCode = AuthOK
		p.Status = StatusNeedGlobalSync
		return
	}
	name, pw := p.authName, p.authPassword
	var code AuthCode
	lc.loop.RunBlocking(func() {
		ctx, cancel := context.WithTimeout(context.Background(), lc.authWait)
		defer cancel()
		code = auth.Authenticate(ctx, name, pw)
	}, func() {
		lc.root.ReleaseInterface(ref)
		p.authCode = code
		if code.OK() {
			p.Name = name
			p.Status = StatusNeedGlobalSync
			return
		}
		lc.notify(func(n SessionNotifier) { n.LoginResponse(p, code) })
		p.Status = StatusTimeWait
	})
}

func (lc *Lifecycle) startGlobalSync(p *Player) {
	p.Status = StatusWaitGlobalSync
	lc.withPersist(func(ps PlayerSync) {
		p.syncPending = true
		ps.GetPlayer(p, "global", func(bool) {
			p.syncPending = false
			p.Status = StatusDoGlobalCallbacks
		})
	}, func() { p.Status = StatusDoGlobalCallbacks })
}

func (lc *Lifecycle) startArenaEnter(p *Player) {
	name := p.reqArena
	p.reqArena = ""
	a, err := lc.arenas.FindOrCreate(name)
	if err != nil {
		lc.log.Warn("arena create failed",
			zap.String("arena", name),
			zap.Error(err),
		)
		return
	}
	if a.State != ArenaRunning {
		// Arena still initializing (or resurrecting); retry next tick.
		p.reqArena = name
		return
	}
	lc.reg.SetArena(p, a)
	p.enteredGame = false
	p.Status = StatusDoFreqAndArenaSync
}

func (lc *Lifecycle) startArenaSync(p *Player) {
	p.Status = StatusWaitArenaSync
	a := p.Arena
	finish := func() {
		if !lc.arenas.Alive(a) {
			// Arena died between schedule and run; back to the lobby.
			lc.reg.SetArena(p, nil)
			p.Status = StatusLoggedIn
			return
		}
		lc.assignFreq(p, a)
		p.Status = StatusArenaRespAndCBS
	}
	lc.withPersist(func(ps PlayerSync) {
		p.syncPending = true
		ps.GetPlayer(p, ArenaGroup(a), func(bool) {
			p.syncPending = false
			finish()
		})
	}, finish)
}

func (lc *Lifecycle) assignFreq(p *Player, a *Arena) {
	fm, ref, ok := broker.GetInterface[FreqManager](a.Broker)
	if !ok {
		p.Ship = p.reqShip
		p.Freq = 0
		return
	}
	defer a.Broker.ReleaseInterface(ref)
	p.Ship, p.Freq = fm.InitialFreqAndShip(p, p.reqShip)
}

func (lc *Lifecycle) startArenaLeave(p *Player) {
	a := p.Arena
	broker.Fire(a.Broker, PlayerActionEvent{Player: p, Action: PlayerLeaveArena, Arena: a})
	p.Status = StatusWaitArenaSync2
	done := func() {
		lc.reg.SetArena(p, nil)
		if p.leaveZone {
			p.Status = StatusLeavingZone
		} else {
			p.Status = StatusLoggedIn
		}
	}
	lc.withPersist(func(ps PlayerSync) {
		p.syncPending = true
		ps.PutPlayer(p, ArenaGroup(a), func(bool) {
			p.syncPending = false
			done()
		})
	}, done)
}

func (lc *Lifecycle) withPersist(fn func(PlayerSync), missing func()) {
	ps, ref, ok := broker.GetInterface[PlayerSync](lc.root)
	if !ok {
		missing()
		return
	}
	defer lc.root.ReleaseInterface(ref)
	fn(ps)
}

func (lc *Lifecycle) notify(fn func(SessionNotifier)) {
	n, ref, ok := broker.GetInterface[SessionNotifier](lc.root)
	if !ok {
		return
	}
	defer lc.root.ReleaseInterface(ref)
	fn(n)
}
