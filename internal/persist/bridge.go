package persist

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/subzone/server/internal/core/broker"
	"github.com/subzone/server/internal/core/mainloop"
	"github.com/subzone/server/internal/world"
)

// Bridge implements world.Persist. Serialization runs on the mainloop using
// the registered data handlers; the database round-trip runs on the worker
// pool; the done callback is posted back to the mainloop.
type Bridge struct {
	log    *zap.Logger
	root   *broker.Broker
	loop   *mainloop.Loop
	arenas *world.Manager
	store  Store

	playerDefs []world.PlayerDataDef
	arenaDefs  []world.ArenaDataDef

	timeout time.Duration
}

func NewBridge(root *broker.Broker, loop *mainloop.Loop, arenas *world.Manager, store Store, log *zap.Logger) *Bridge {
	return &Bridge{
		log:     log,
		root:    root,
		loop:    loop,
		arenas:  arenas,
		store:   store,
		timeout: 10 * time.Second,
	}
}

// Setup publishes the bridge on the global broker.
func (b *Bridge) Setup() error {
	if _, err := broker.RegisterInterface[world.Persist](b.root, b); err != nil {
		return err
	}
	_, err := broker.RegisterInterface[world.PlayerSync](b.root, b)
	return err
}

// ── registration (module setup, before any traffic) ────────────

func (b *Bridge) RegisterPlayerData(def world.PlayerDataDef) {
	b.playerDefs = append(b.playerDefs, def)
}

func (b *Bridge) RegisterArenaData(def world.ArenaDataDef) {
	b.arenaDefs = append(b.arenaDefs, def)
}

// playerDefsFor selects the handlers for one sync: the global score group
// carries global-scope data, every other group arena-scope data.
func (b *Bridge) playerDefsFor(group string) []world.PlayerDataDef {
	want := world.ScopeArena
	if group == "global" {
		want = world.ScopeGlobal
	}
	var out []world.PlayerDataDef
	for _, d := range b.playerDefs {
		if d.Scope == want {
			out = append(out, d)
		}
	}
	return out
}

// ── world.PlayerSync ───────────────────────────────────────────

func (b *Bridge) GetPlayer(p *world.Player, group string, done func(ok bool)) {
	defs := b.playerDefsFor(group)
	name := p.Name
	blobs := make([][]byte, len(defs))
	found := make([]bool, len(defs))
	ok := true
	b.loop.RunBlocking(func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		for i, d := range defs {
			data, have, err := b.store.GetPlayerData(ctx, name, group, d.Interval, d.Key)
			if err != nil {
				b.log.Error("player data load failed",
					zap.String("player", name),
					zap.String("group", group),
					zap.Error(err),
				)
				ok = false
				return
			}
			blobs[i], found[i] = data, have
		}
	}, func() {
		if ok {
			for i, d := range defs {
				if found[i] {
					d.Set(p, blobs[i])
				} else {
					d.Clear(p)
				}
			}
		}
		done(ok)
	})
}

func (b *Bridge) PutPlayer(p *world.Player, group string, done func(ok bool)) {
	defs := b.playerDefsFor(group)
	name := p.Name
	// Serialize before the worker hop; the player may change state after.
	blobs := make([][]byte, len(defs))
	for i, d := range defs {
		blobs[i] = d.Get(p)
	}
	ok := true
	b.loop.RunBlocking(func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		for i, d := range defs {
			if err := b.store.PutPlayerData(ctx, name, group, d.Interval, d.Key, blobs[i]); err != nil {
				b.log.Error("player data save failed",
					zap.String("player", name),
					zap.String("group", group),
					zap.Error(err),
				)
				ok = false
				return
			}
		}
	}, func() { done(ok) })
}

func (b *Bridge) GetArena(a *world.Arena, done func(ok bool)) {
	defs := b.arenaDefs
	group := world.ArenaGroup(a)
	blobs := make([][]byte, len(defs))
	found := make([]bool, len(defs))
	ok := true
	b.loop.RunBlocking(func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		for i, d := range defs {
			data, have, err := b.store.GetArenaData(ctx, group, d.Interval, d.Key)
			if err != nil {
				b.log.Error("arena data load failed",
					zap.String("arena", a.Name),
					zap.Error(err),
				)
				ok = false
				return
			}
			blobs[i], found[i] = data, have
		}
	}, func() {
		if ok {
			for i, d := range defs {
				if found[i] {
					d.Set(a, blobs[i])
				} else {
					d.Clear(a)
				}
			}
		}
		done(ok)
	})
}

func (b *Bridge) PutArena(a *world.Arena, done func(ok bool)) {
	defs := b.arenaDefs
	group := world.ArenaGroup(a)
	blobs := make([][]byte, len(defs))
	for i, d := range defs {
		blobs[i] = d.Get(a)
	}
	ok := true
	b.loop.RunBlocking(func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		for i, d := range defs {
			if err := b.store.PutArenaData(ctx, group, d.Interval, d.Key, blobs[i]); err != nil {
				b.log.Error("arena data save failed",
					zap.String("arena", a.Name),
					zap.Error(err),
				)
				ok = false
				return
			}
		}
	}, func() { done(ok) })
}

// EndInterval closes out an interval for a score group: live arenas in the
// group reset immediately, stored blobs are discarded so offline players
// start the interval fresh on their next load.
func (b *Bridge) EndInterval(group string, iv world.Interval) {
	if iv == world.IntervalForever {
		return // forever never ends
	}
	stats, ref, ok := broker.GetInterface[world.Stats](b.root)
	if ok {
		for _, a := range b.arenas.Running() {
			if world.ArenaGroup(a) == group {
				stats.ScoreResetArena(a, iv)
			}
		}
		b.root.ReleaseInterface(ref)
	}
	b.loop.RunBlocking(func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		if err := b.store.EndInterval(ctx, group, iv); err != nil {
			b.log.Error("end interval failed",
				zap.String("group", group),
				zap.String("interval", iv.String()),
				zap.Error(err),
			)
		}
	}, func() {})
}
