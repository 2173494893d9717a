package world

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry is the process-wide player table. Iteration happens inside a
// reader lock window; alloc/free and arena transitions take the writer lock
// and must never run while the caller already holds the reader lock.
type Registry struct {
	log *zap.Logger

	mu      sync.RWMutex
	byID    map[int16]*Player
	nextID  int16
	players []*Player // stable iteration order (join order)
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		log:  log,
		byID: make(map[int16]*Player, 64),
	}
}

// Lock takes the reader lock for an iteration window.
func (r *Registry) Lock()   { r.mu.RLock() }
func (r *Registry) Unlock() { r.mu.RUnlock() }

// Players returns the live slice; the caller must hold the reader lock and
// must not retain the slice past Unlock.
func (r *Registry) Players() []*Player { return r.players }

// Each runs fn for every player inside one reader lock window.
func (r *Registry) Each(fn func(p *Player)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.players {
		fn(p)
	}
}

// Alloc creates a fresh player in the Connected state.
func (r *Registry) Alloc(conn Conn) *Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Find a free id; ids recycle after disconnect like the original.
	for {
		r.nextID++
		if r.nextID < 0 {
			r.nextID = 1
		}
		if _, taken := r.byID[r.nextID]; !taken {
			break
		}
	}
	p := &Player{
		ID:          r.nextID,
		Conn:        conn,
		Status:      StatusConnected,
		Ship:        ShipSpectator,
		Freq:        -1,
		BallCarried: -1,
		Caps:        make(map[string]bool),
		ConnectTime: time.Now(),
	}
	r.byID[p.ID] = p
	r.players = append(r.players, p)
	endpoint := ""
	if conn != nil {
		endpoint = conn.Endpoint()
	}
	r.log.Info("player allocated",
		zap.Int16("pid", p.ID),
		zap.String("endpoint", endpoint),
	)
	return p
}

// Free removes a player. Only legal once the lifecycle reached TimeWait.
func (r *Registry) Free(p *Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.Status != StatusTimeWait {
		r.log.Error("freeing player outside TimeWait",
			zap.Int16("pid", p.ID),
			zap.String("status", p.Status.String()),
		)
	}
	delete(r.byID, p.ID)
	for i, q := range r.players {
		if q == p {
			r.players = append(r.players[:i], r.players[i+1:]...)
			break
		}
	}
	p.Extra.Clear()
	p.Status = StatusUninitialized
}

// SetArena records an arena transition under the writer lock. Must not be
// called while the caller holds the reader lock.
func (r *Registry) SetArena(p *Player, a *Arena) {
	r.mu.Lock()
	p.Arena = a
	r.mu.Unlock()
}

// Snapshot copies the player list for lock-free iteration on the mainloop.
func (r *Registry) Snapshot() []*Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Player, len(r.players))
	copy(out, r.players)
	return out
}

func (r *Registry) ByID(id int16) (*Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

func (r *Registry) ByName(name string) (*Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.players {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Count returns the number of connected players.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// ArenaPlayers collects the players whose current arena is a and whose
// lifecycle reached Playing.
func (r *Registry) ArenaPlayers(a *Arena) []*Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Player
	for _, p := range r.players {
		if p.Arena == a && p.Status == StatusPlaying {
			out = append(out, p)
		}
	}
	return out
}
