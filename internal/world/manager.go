package world

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/subzone/server/internal/config"
	"github.com/subzone/server/internal/core/broker"
	"github.com/subzone/server/internal/core/mainloop"
)

// Manager owns the dictionary of live arenas. Arenas are created lazily when
// a player selects them and torn down after sitting empty for a grace
// interval. All state transitions run on the mainloop goroutine; the map
// itself is lock-guarded so worker continuations can re-check liveness.
type Manager struct {
	log  *zap.Logger
	root *broker.Broker
	loop *mainloop.Loop
	reg  *Registry

	confDir     string
	idleDestroy time.Duration
	clock       Clock

	mu     sync.RWMutex
	arenas map[string]*Arena

	modules     map[string]ArenaModule
	moduleOrder []string
}

func NewManager(root *broker.Broker, loop *mainloop.Loop, reg *Registry, cfg config.ArenasConfig, log *zap.Logger) *Manager {
	return &Manager{
		log:         log,
		root:        root,
		loop:        loop,
		reg:         reg,
		confDir:     cfg.ConfDir,
		idleDestroy: cfg.IdleDestroy,
		clock:       WallClock{},
		arenas:      make(map[string]*Arena, 8),
		modules:     make(map[string]ArenaModule, 16),
	}
}

// RegisterModule makes a rules module available for arena attachment under
// its name. Registration order is attachment order.
func (m *Manager) RegisterModule(mod ArenaModule) {
	m.modules[mod.Name()] = mod
	m.moduleOrder = append(m.moduleOrder, mod.Name())
}

// Find returns a live arena by name.
func (m *Manager) Find(name string) (*Arena, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.arenas[name]
	return a, ok
}

// Running returns the arenas currently in the Running state.
func (m *Manager) Running() []*Arena {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Arena
	for _, a := range m.arenas {
		if a.State == ArenaRunning {
			out = append(out, a)
		}
	}
	return out
}

// Alive reports whether a is still the live arena of its name. Worker
// continuations guard on this before touching arena state.
func (m *Manager) Alive(a *Arena) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.arenas[a.Name] == a && a.State <= ArenaRunning
}

// FindOrCreate returns the arena, creating it in DoInit0 if needed. An
// arena caught mid-teardown is marked for resurrection and returned; the
// entering player waits in the lifecycle engine until it is Running again.
func (m *Manager) FindOrCreate(name string) (*Arena, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.arenas[name]; ok {
		if a.State > ArenaRunning {
			a.resurrect = true
		}
		return a, nil
	}
	conf, err := config.LoadArenaConf(m.confDir, name)
	if err != nil {
		return nil, err
	}
	a := &Arena{
		Name:   name,
		Broker: m.root.NewChild("arena:" + name),
		Conf:   conf,
		State:  ArenaDoInit0,
	}
	m.arenas[name] = a
	m.log.Info("arena created", zap.String("arena", name))
	return a, nil
}

// ReloadConf re-reads the arena's settings and fires ConfChanged. Valid only
// in Running.
func (m *Manager) ReloadConf(a *Arena) {
	if a.State != ArenaRunning {
		return
	}
	conf, err := config.LoadArenaConf(m.confDir, a.Name)
	if err != nil {
		m.log.Warn("arena conf reload failed",
			zap.String("arena", a.Name),
			zap.Error(err),
		)
		return
	}
	a.Conf = conf
	broker.Fire(a.Broker, ArenaActionEvent{Arena: a, Action: ArenaConfChanged})
}

// Process advances every arena's state machine one step. Called once per
// tick from the mainloop.
func (m *Manager) Process() {
	m.mu.RLock()
	snapshot := make([]*Arena, 0, len(m.arenas))
	for _, a := range m.arenas {
		snapshot = append(snapshot, a)
	}
	m.mu.RUnlock()

	for _, a := range snapshot {
		m.processArena(a)
	}
}

func (m *Manager) processArena(a *Arena) {
	switch a.State {
	case ArenaDoInit0:
		broker.Fire(a.Broker, ArenaActionEvent{Arena: a, Action: ArenaPreCreate})
		a.State = ArenaDoInit1

	case ArenaDoInit1:
		m.attachModules(a)
		a.State = ArenaDoInit2

	case ArenaDoInit2:
		if !a.syncPending {
			a.syncPending = true
			m.withPersist(func(ps PlayerSync) {
				a.Hold()
				ps.GetArena(a, func(bool) {
					a.Release()
					a.syncPending = false
				})
			}, func() { a.syncPending = false })
		}
		if a.holds == 0 && !a.syncPending {
			a.State = ArenaRunning
			broker.Fire(a.Broker, ArenaActionEvent{Arena: a, Action: ArenaCreate})
			m.log.Info("arena running", zap.String("arena", a.Name))
		}

	case ArenaRunning:
		m.checkIdle(a)

	case ArenaDoWriteData:
		if !a.syncPending {
			a.syncPending = true
			m.withPersist(func(ps PlayerSync) {
				a.Hold()
				ps.PutArena(a, func(bool) {
					a.Release()
					a.syncPending = false
				})
			}, func() { a.syncPending = false })
		}
		if a.holds == 0 && !a.syncPending {
			a.State = ArenaDoDestroy1
		}

	case ArenaDoDestroy1:
		broker.Fire(a.Broker, ArenaActionEvent{Arena: a, Action: ArenaPreDestroy})
		broker.Fire(a.Broker, ArenaActionEvent{Arena: a, Action: ArenaDestroy})
		m.detachModules(a)
		m.loop.ClearTimers(nil, a.TimerKey())
		a.State = ArenaDoDestroy2

	case ArenaDoDestroy2:
		if a.resurrect {
			a.resurrect = false
			a.emptySince = time.Time{}
			a.State = ArenaDoInit0
			return
		}
		if !a.Broker.CanDestroy() {
			m.log.Warn("arena broker still referenced at destroy",
				zap.String("arena", a.Name),
			)
		}
		a.Extra.Clear()
		a.State = ArenaDestroyed
		m.mu.Lock()
		if m.arenas[a.Name] == a {
			delete(m.arenas, a.Name)
		}
		m.mu.Unlock()
		m.log.Info("arena destroyed", zap.String("arena", a.Name))
	}
}

// checkIdle starts teardown once the arena has been empty past the grace
// interval.
func (m *Manager) checkIdle(a *Arena) {
	populated := false
	m.reg.Each(func(p *Player) {
		if p.Arena == a {
			populated = true
		}
	})
	if populated {
		a.emptySince = time.Time{}
		return
	}
	now := m.clock.Now()
	if a.emptySince.IsZero() {
		a.emptySince = now
		return
	}
	if now.Sub(a.emptySince) >= m.idleDestroy {
		a.State = ArenaDoWriteData
		m.log.Info("arena idle, destroying", zap.String("arena", a.Name))
	}
}

// attachModules attaches the modules named by Modules:AttachModules, in
// registration order. A failing module is skipped and logged; the arena
// keeps running.
func (m *Manager) attachModules(a *Arena) {
	want := make(map[string]bool)
	for _, name := range strings.Fields(a.Conf.GetStr("Modules", "AttachModules", "")) {
		want[name] = true
	}
	for _, name := range m.moduleOrder {
		if !want[name] {
			continue
		}
		mod := m.modules[name]
		if err := mod.Attach(a); err != nil {
			m.log.Warn("module attach failed",
				zap.String("arena", a.Name),
				zap.String("module", name),
				zap.Error(err),
			)
			continue
		}
		a.attached = append(a.attached, attachedModule{mod: mod})
	}
}

// detachModules detaches in reverse attach order. A panicking Detach is
// logged and the attachment is released anyway.
func (m *Manager) detachModules(a *Arena) {
	for i := len(a.attached) - 1; i >= 0; i-- {
		mod := a.attached[i].mod
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("module detach panic",
						zap.String("arena", a.Name),
						zap.String("module", mod.Name()),
						zap.Any("panic", r),
					)
				}
			}()
			mod.Detach(a)
		}()
	}
	a.attached = nil
}

// withPersist runs fn with the persist bridge if one is registered,
// otherwise runs missing.
func (m *Manager) withPersist(fn func(PlayerSync), missing func()) {
	ps, ref, ok := broker.GetInterface[PlayerSync](m.root)
	if !ok {
		missing()
		return
	}
	defer m.root.ReleaseInterface(ref)
	fn(ps)
}

// SetClock overrides the clock; tests step arena idling with it.
func (m *Manager) SetClock(c Clock) { m.clock = c }
