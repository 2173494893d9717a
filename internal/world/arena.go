package world

import (
	"fmt"
	"time"

	"github.com/subzone/server/internal/config"
	"github.com/subzone/server/internal/core/broker"
	"github.com/subzone/server/internal/core/slot"
)

// ArenaState drives the arena lifecycle; see Manager.processStates.
type ArenaState int8

const (
	ArenaDoInit0 ArenaState = iota // conf loaded, fire pre-create callbacks
	ArenaDoInit1                   // attach modules
	ArenaDoInit2                   // arena-scoped persistent data loading
	ArenaRunning
	ArenaDoWriteData // flush persistent data before destroy
	ArenaDoDestroy1  // fire destroy callbacks, detach modules
	ArenaDoDestroy2  // final teardown
	ArenaDestroyed
)

func (s ArenaState) String() string {
	names := [...]string{
		"DoInit0", "DoInit1", "DoInit2", "Running",
		"DoWriteData", "DoDestroy1", "DoDestroy2", "Destroyed",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return fmt.Sprintf("ArenaState(%d)", int8(s))
}

// Arena is one live game world instance. Owned by the Manager; module code
// touches it only on the mainloop goroutine.
type Arena struct {
	Name   string
	Broker *broker.Broker
	Conf   *config.ArenaConf

	State ArenaState

	// Extra holds module data slots.
	Extra slot.Table

	attached []attachedModule

	// holds blocks state advancement while async work (persist sync) is
	// in flight. Managed via Hold/Release on the mainloop.
	holds int

	// emptySince is the wall-clock time the arena last became empty; zero
	// while populated. The manager destroys idle arenas after a grace
	// interval.
	emptySince time.Time

	// resurrect postpones destruction when a player enters mid-teardown.
	resurrect bool

	// syncPending marks an async persist sync in flight for the current
	// init/teardown step.
	syncPending bool
}

type attachedModule struct {
	mod ArenaModule
}

// ArenaModule is an attachable rules module. Attach errors skip the module
// but leave the arena running; Detach panics are contained by the manager.
type ArenaModule interface {
	Name() string
	Attach(a *Arena) error
	Detach(a *Arena)
}

// Hold blocks arena state advancement until the matching Release. Used
// around worker-posted continuations so init/destroy wait for I/O.
func (a *Arena) Hold()    { a.holds++ }
func (a *Arena) Release() { a.holds-- }

// TimerKey returns the key under which modules register this arena's
// mainloop timers, so teardown can clear them in one sweep.
func (a *Arena) TimerKey() any { return a }
