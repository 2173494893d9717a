package chat

import (
	"strings"

	"go.uber.org/zap"

	"github.com/subzone/server/internal/world"
)

// Commands implements world.CommandDispatcher. Registration and dispatch both
// happen on the mainloop, so no locking is needed.
type Commands struct {
	log      *zap.Logger
	handlers map[string]world.CommandFunc
}

func NewCommands(log *zap.Logger) *Commands {
	return &Commands{
		log:      log,
		handlers: make(map[string]world.CommandFunc),
	}
}

func (c *Commands) Register(name string, fn world.CommandFunc) {
	name = strings.ToLower(name)
	if _, dup := c.handlers[name]; dup {
		c.log.Warn("command re-registered", zap.String("name", name))
	}
	c.handlers[name] = fn
}

func (c *Commands) Unregister(name string) {
	delete(c.handlers, strings.ToLower(name))
}

// Dispatch parses "name args..." and runs the handler. Returns false when no
// such command exists.
func (c *Commands) Dispatch(p *world.Player, line string) bool {
	name, args := line, ""
	if i := strings.IndexByte(line, ' '); i >= 0 {
		name, args = line[:i], strings.TrimSpace(line[i+1:])
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	fn, ok := c.handlers[name]
	if !ok {
		return false
	}
	c.log.Debug("command",
		zap.String("name", name),
		zap.Int16("pid", p.ID),
	)
	fn(p, args)
	return true
}
