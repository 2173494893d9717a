package net

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/subzone/server/internal/net/packet"
	"github.com/subzone/server/internal/world"
)

// HandlerFunc is the callback signature for packet handlers. Handlers run on
// the mainloop goroutine.
type HandlerFunc func(p *world.Player, r *packet.Reader)

type handlerEntry struct {
	fn            HandlerFunc
	allowedStates map[world.PlayerStatus]bool
}

// Dispatcher maps opcodes to handlers with state-based access control.
type Dispatcher struct {
	handlers map[byte]*handlerEntry
	log      *zap.Logger
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[byte]*handlerEntry),
		log:      log,
	}
}

// Register maps an opcode to a handler, restricted to the given player states.
func (d *Dispatcher) Register(opcode byte, states []world.PlayerStatus, fn HandlerFunc) {
	allowed := make(map[world.PlayerStatus]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}
	d.handlers[opcode] = &handlerEntry{
		fn:            fn,
		allowedStates: allowed,
	}
}

// Dispatch finds the handler for the opcode in data[0], validates the player
// state, and calls the handler. Returns an error if the player state is not
// allowed; unknown opcodes are ignored.
func (d *Dispatcher) Dispatch(p *world.Player, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty packet")
	}
	opcode := data[0]
	d.log.Debug("packet in",
		zap.Uint8("opcode", opcode),
		zap.Int("size", len(data)),
		zap.String("state", p.Status.String()),
	)

	entry, ok := d.handlers[opcode]
	if !ok {
		d.log.Debug("unknown opcode", zap.Uint8("opcode", opcode))
		return nil // silently ignore unknown opcodes
	}

	if !entry.allowedStates[p.Status] {
		d.log.Warn("opcode not allowed in state",
			zap.Uint8("opcode", opcode),
			zap.String("state", p.Status.String()),
		)
		return fmt.Errorf("opcode %d not allowed in state %s", opcode, p.Status)
	}

	return d.safeCall(entry.fn, p, packet.NewReader(data), opcode)
}

// safeCall executes a handler with panic recovery so a single bad packet
// cannot take down the mainloop.
func (d *Dispatcher) safeCall(fn HandlerFunc, p *world.Player, r *packet.Reader, opcode byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error("handler panic recovered",
				zap.Uint8("opcode", opcode),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic for opcode %d: %v", opcode, rec)
		}
	}()
	fn(p, r)
	return nil
}
