package chat

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/subzone/server/internal/net/packet"
	"github.com/subzone/server/internal/world"
)

// Message kinds on the wire, matching the client's chat type table.
const (
	MsgArena   byte = 0x00 // green server text
	MsgPublic  byte = 0x02
	MsgFreq    byte = 0x03
	MsgPrivate byte = 0x05
	MsgWarning byte = 0x06 // red server text
)

// ServerPID marks a message as coming from the server itself.
const ServerPID int16 = -1

// Router implements world.Chat for outbound messages and routes inbound
// chat lines: ?commands go to the command dispatcher, everything else is
// relayed to its audience.
type Router struct {
	log  *zap.Logger
	reg  *world.Registry
	send world.PacketSender
	cmds *Commands
}

func NewRouter(reg *world.Registry, send world.PacketSender, cmds *Commands, log *zap.Logger) *Router {
	return &Router{log: log, reg: reg, send: send, cmds: cmds}
}

// ── world.Chat ─────────────────────────────────────────────────

func (rt *Router) SendMessage(p *world.Player, format string, args ...any) {
	rt.SendSoundMessage(p, world.SoundNone, format, args...)
}

func (rt *Router) SendSoundMessage(p *world.Player, sound world.ChatSound, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	rt.send.ToPlayer(p, packet.Chat(MsgArena, byte(sound), ServerPID, text), true)
}

func (rt *Router) SendArenaMessage(a *world.Arena, format string, args ...any) {
	rt.SendArenaSoundMessage(a, world.SoundNone, format, args...)
}

func (rt *Router) SendArenaSoundMessage(a *world.Arena, sound world.ChatSound, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	rt.send.ToArena(a, nil, packet.Chat(MsgArena, byte(sound), ServerPID, text), true)
}

// ── inbound ────────────────────────────────────────────────────

// Inbound handles one decoded chat line from a client. Runs on the mainloop.
func (rt *Router) Inbound(p *world.Player, kind byte, target int16, text string) {
	if strings.HasPrefix(text, "?") {
		if !rt.cmds.Dispatch(p, text[1:]) {
			rt.SendMessage(p, "Unknown command.")
		}
		return
	}

	switch kind {
	case MsgPublic:
		if p.Arena == nil {
			return
		}
		rt.send.ToArena(p.Arena, nil, packet.Chat(MsgPublic, 0, p.ID, text), false)

	case MsgFreq:
		if p.Arena == nil {
			return
		}
		pkt := packet.Chat(MsgFreq, 0, p.ID, text)
		for _, q := range rt.reg.ArenaPlayers(p.Arena) {
			if q.Freq == p.Freq {
				rt.send.ToPlayer(q, pkt, false)
			}
		}

	case MsgPrivate:
		q, ok := rt.reg.ByID(target)
		if !ok {
			rt.SendMessage(p, "No such player.")
			return
		}
		rt.send.ToPlayer(q, packet.Chat(MsgPrivate, 0, p.ID, text), true)

	default:
		rt.log.Debug("unhandled chat kind",
			zap.Uint8("kind", kind),
			zap.Int16("pid", p.ID),
		)
	}
}
