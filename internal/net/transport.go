package net

import (
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/subzone/server/internal/core/mainloop"
	"github.com/subzone/server/internal/net/packet"
	"github.com/subzone/server/internal/world"
)

// Server is the UDP transport. It owns the socket read loop, allocates a
// player per remote endpoint, and feeds decoded packets to the dispatcher on
// the mainloop. Reliable delivery and encryption belong to the outer framing
// layer; this transport moves already-decoded game packets.
type Server struct {
	log  *zap.Logger
	loop *mainloop.Loop
	reg  *world.Registry
	lc   *world.Lifecycle
	disp *Dispatcher

	pc net.PacketConn

	mu    sync.Mutex
	conns map[string]*session
}

// session binds one remote endpoint to one player. It implements world.Conn.
type session struct {
	srv    *Server
	addr   net.Addr
	player *world.Player
}

func (s *session) Endpoint() string { return s.addr.String() }

func (s *session) Send(data []byte, reliable bool) {
	// The outer framing layer owns retransmission; here reliable and
	// unreliable packets travel the same way.
	if _, err := s.srv.pc.WriteTo(data, s.addr); err != nil {
		s.srv.log.Debug("send failed",
			zap.String("endpoint", s.addr.String()),
			zap.Error(err),
		)
	}
}

func NewServer(loop *mainloop.Loop, reg *world.Registry, lc *world.Lifecycle, disp *Dispatcher, log *zap.Logger) *Server {
	return &Server{
		log:   log,
		loop:  loop,
		reg:   reg,
		lc:    lc,
		disp:  disp,
		conns: make(map[string]*session),
	}
}

// Listen binds the UDP socket.
func (s *Server) Listen(addr string) error {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return err
	}
	s.pc = pc
	s.log.Info("listening", zap.String("addr", pc.LocalAddr().String()))
	return nil
}

// Serve reads datagrams until the socket is closed. Each datagram is handed
// to the mainloop; nothing below this point touches player state off-loop.
func (s *Server) Serve() error {
	buf := make([]byte, 2048)
	for {
		n, addr, err := s.pc.ReadFrom(buf)
		if err != nil {
			return err
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.loop.Post(func() { s.handleDatagram(addr, data) })
	}
}

func (s *Server) Close() error {
	if s.pc == nil {
		return nil
	}
	return s.pc.Close()
}

// handleDatagram runs on the mainloop.
func (s *Server) handleDatagram(addr net.Addr, data []byte) {
	key := addr.String()
	s.mu.Lock()
	sess, ok := s.conns[key]
	if !ok {
		sess = &session{srv: s, addr: addr}
		s.conns[key] = sess
	}
	s.mu.Unlock()

	if sess.player == nil {
		sess.player = s.reg.Alloc(sess)
		s.log.Info("new connection",
			zap.String("endpoint", key),
			zap.Int16("pid", sess.player.ID),
		)
	}

	if err := s.disp.Dispatch(sess.player, data); err != nil {
		s.log.Debug("dispatch rejected",
			zap.String("endpoint", key),
			zap.Error(err),
		)
	}
}

// ── world.PacketSender ─────────────────────────────────────────

func (s *Server) ToPlayer(p *world.Player, data []byte, reliable bool) {
	if p.Conn != nil {
		p.Conn.Send(data, reliable)
	}
}

func (s *Server) ToArena(a *world.Arena, except *world.Player, data []byte, reliable bool) {
	for _, p := range s.reg.ArenaPlayers(a) {
		if p == except || p.Conn == nil {
			continue
		}
		p.Conn.Send(data, reliable)
	}
}

// ── world.SessionNotifier ──────────────────────────────────────

func (s *Server) LoginResponse(p *world.Player, code world.AuthCode) {
	s.ToPlayer(p, packet.LoginResponse(byte(code)), true)
}

func (s *Server) ArenaResponse(p *world.Player) {
	s.ToPlayer(p, packet.EnteringArena(), true)
}

func (s *Server) Disconnect(p *world.Player) {
	if c, ok := p.Conn.(*session); ok {
		s.mu.Lock()
		delete(s.conns, c.addr.String())
		s.mu.Unlock()
	}
}
