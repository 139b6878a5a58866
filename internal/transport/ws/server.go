package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"delvecraft.io/internal/protocol"
	"delvecraft.io/internal/sim/dungeon"
	"delvecraft.io/internal/sim/gateway"
)

type Server struct {
	gw  *gateway.Manager
	log *log.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
}

// session is one connected agent. room/inst are nil while the agent stands
// at the entry gateway. Only the reader loop mutates position; out is the
// write side shared with Notify.
type session struct {
	agent string
	out   chan []byte
	inst  *dungeon.Instance
	room  *dungeon.RoomNode
}

func NewServer(gw *gateway.Manager, logger *log.Logger) *Server {
	return &Server{
		gw:  gw,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: map[string]*session{},
	}
}

// Notify implements gateway.Notifier by pushing a NOTICE to the agent's
// connection, if any. A full or absent queue drops the notice; eviction is
// also observable through the next act's E_DISSOLVED.
func (s *Server) Notify(agent, message string) {
	s.mu.Lock()
	sess := s.sessions[agent]
	s.mu.Unlock()
	if sess == nil {
		return
	}
	b, err := json.Marshal(protocol.NoticeMsg{
		Type:            protocol.TypeNotice,
		ProtocolVersion: protocol.Version,
		Message:         message,
	})
	if err != nil {
		return
	}
	select {
	case sess.out <- b:
	default:
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-sess.out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		reply := func(b []byte) {
			select {
			case sess.out <- b:
			case <-ctx.Done():
			}
		}
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				reply(errReply("", protocol.ErrProtoBadRequest, "undecodable frame"))
				continue
			}
			if base.Type != protocol.TypeAct {
				reply(errReply("", protocol.ErrProtoBadRequest, fmt.Sprintf("unexpected message type %q", base.Type)))
				continue
			}
			var act protocol.ActMsg
			if err := json.Unmarshal(msg, &act); err != nil {
				reply(errReply("", protocol.ErrProtoBadRequest, "malformed ACT"))
				continue
			}
			if act.ProtocolVersion != protocol.Version {
				reply(errReply(act.ID, protocol.ErrProtoBadRequest, "bad protocol_version"))
				continue
			}
			reply(s.handleAct(ctx, sess, act))
		}

		// Cleanup. Occupancy tracks live connections, so a drop also clears
		// the agent's instance tag.
		s.mu.Lock()
		delete(s.sessions, sess.agent)
		s.mu.Unlock()
		s.gw.Untag(sess.agent)
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		s.closePolicy(conn, "expected HELLO")
		return nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		s.closePolicy(conn, "bad protocol_version")
		return nil
	}
	if hello.AgentName == "" {
		hello.AgentName = "delver"
	}

	sess := &session{agent: hello.AgentName, out: make(chan []byte, 16)}
	s.mu.Lock()
	if _, taken := s.sessions[sess.agent]; taken {
		s.mu.Unlock()
		s.closePolicy(conn, "agent name in use")
		return nil
	}
	s.sessions[sess.agent] = sess
	s.mu.Unlock()

	cfg := s.gw.Config()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		AgentID:         sess.agent,
		GatewayRoomID:   gateway.GatewayRoomID,
		Directions:      directionNames(),
		Params: protocol.GatewayParams{
			MaxUnexploredExits: cfg.MaxUnexploredExits,
			MaxNewExitsPerRoom: cfg.MaxNewExitsPerRoom,
			JoinWindowSeconds:  cfg.JoinWindowSeconds,
			IdleTimeoutSeconds: cfg.IdleTimeoutSeconds,
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.mu.Lock()
		delete(s.sessions, sess.agent)
		s.mu.Unlock()
		return nil
	}
	return sess
}

func (s *Server) handleAct(ctx context.Context, sess *session, act protocol.ActMsg) []byte {
	// An instance can dissolve between acts; the agent finds itself back at
	// the gateway rather than holding a dead reference.
	if sess.inst != nil && sess.inst.Dissolved() {
		sess.inst = nil
		sess.room = nil
	}

	switch act.Verb {
	case protocol.VerbMove:
		return s.handleMove(ctx, sess, act)
	case protocol.VerbClear:
		if sess.room != nil {
			sess.room.Clear()
		}
		return s.roomReply(sess, act.ID)
	case protocol.VerbLook:
		return s.roomReply(sess, act.ID)
	default:
		return errReply(act.ID, protocol.ErrBadVerb, fmt.Sprintf("unknown verb %q", act.Verb))
	}
}

func (s *Server) handleMove(ctx context.Context, sess *session, act protocol.ActMsg) []byte {
	dir, ok := dungeon.ParseDirection(act.Direction)
	if !ok {
		return errReply(act.ID, protocol.ErrBadDirection, fmt.Sprintf("unknown direction %q", act.Direction))
	}

	if sess.inst == nil {
		room, err := s.gw.Traverse(ctx, dir, sess.agent)
		if err != nil {
			s.log.Printf("gateway traverse (%s): %v", sess.agent, err)
			return errReply(act.ID, protocol.ErrInternal, "traversal failed")
		}
		sess.inst = room.Instance()
		sess.room = room
		return s.roomReply(sess, act.ID)
	}

	room, err := sess.inst.Traverse(ctx, sess.room, dir)
	if err != nil {
		switch {
		case errors.Is(err, dungeon.ErrDissolved):
			sess.inst = nil
			sess.room = nil
			s.gw.Untag(sess.agent)
			return errReply(act.ID, protocol.ErrDissolved, "the delve has collapsed")
		case errors.Is(err, dungeon.ErrNoPassage):
			return errReply(act.ID, protocol.ErrNoPassage, "no passage that way")
		case errors.Is(err, dungeon.ErrUncleared):
			return errReply(act.ID, protocol.ErrUncleared, "the room's challenge bars the way")
		case errors.Is(err, dungeon.ErrRoomOccupied):
			return errReply(act.ID, protocol.ErrConflict, "the passage is blocked")
		default:
			return errReply(act.ID, protocol.ErrInternal, "traversal failed")
		}
	}
	sess.room = room
	return s.roomReply(sess, act.ID)
}

func (s *Server) roomReply(sess *session, ackFor string) []byte {
	m := protocol.RoomMsg{
		Type:            protocol.TypeRoom,
		ProtocolVersion: protocol.Version,
		AckFor:          ackFor,
	}
	if sess.room == nil {
		m.AtGateway = true
		m.Title = "The Entry Gateway"
		m.Description = "Four unmarked archways lead north, east, south and west."
		m.Cleared = true
	} else {
		room := sess.room
		at := room.At()
		c := room.Content()
		m.InstanceID = sess.inst.ID()
		m.X, m.Y = at.X, at.Y
		m.Depth = room.Depth()
		m.Title = c.Title
		m.Description = c.Description
		m.Challenge = c.Challenge
		m.Cleared = room.Cleared()
		for _, p := range room.Passages() {
			m.Exits = append(m.Exits, protocol.Exit{
				Direction: p.Dir.String(),
				Return:    p.Return,
				Explored:  p.Bound(),
			})
		}
		m.Occupants = s.gw.Occupants(sess.inst.ID())
	}
	b, err := json.Marshal(m)
	if err != nil {
		return errReply(ackFor, protocol.ErrInternal, "encode failed")
	}
	return b
}

func errReply(ackFor, code, message string) []byte {
	b, _ := json.Marshal(protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		AckFor:          ackFor,
		Code:            code,
		Message:         message,
	})
	return b
}

func directionNames() []string {
	out := make([]string, 0, len(dungeon.Directions))
	for _, d := range dungeon.Directions {
		out = append(out, d.String())
	}
	return out
}

func (s *Server) closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
