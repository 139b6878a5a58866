package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"delvecraft.io/internal/protocol"
	"delvecraft.io/internal/sim/dungeon"
	"delvecraft.io/internal/sim/gateway"
)

type stubFactory struct{}

func (stubFactory) GenerateRoomContent(inst *dungeon.Instance, depth int, at dungeon.Coord) dungeon.RoomContent {
	return dungeon.RoomContent{
		Title:     fmt.Sprintf("room %d,%d", at.X, at.Y),
		Challenge: "a locked door",
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *gateway.Manager) {
	t.Helper()
	cfg := gateway.Config{
		MaxUnexploredExits:        4,
		MaxNewExitsPerRoom:        3,
		JoinWindowSeconds:         60,
		IdleTimeoutSeconds:        600,
		ReaperIntervalSeconds:     30,
		GatewayResetProbability:   0.75,
		ResetSweepIntervalSeconds: 15,
		Seed:                      1,
	}
	logger := log.New(os.Stdout, "[ws-test] ", log.LstdFlags)
	srv := NewServer(nil, logger)
	gw, err := gateway.NewManager(cfg, gateway.Deps{Factory: stubFactory{}, Notifier: srv})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(gw.Close)
	srv.gw = gw
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, gw
}

func dial(t *testing.T, ts *httptest.Server, agent string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	send(t, conn, protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       agent,
	})
	var welcome protocol.WelcomeMsg
	recv(t, conn, &welcome)
	if welcome.Type != protocol.TypeWelcome || welcome.AgentID != agent {
		t.Fatalf("welcome = %+v", welcome)
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
}

func act(t *testing.T, conn *websocket.Conn, verb, direction string) protocol.RoomMsg {
	t.Helper()
	send(t, conn, protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, Verb: verb, Direction: direction})
	var room protocol.RoomMsg
	recv(t, conn, &room)
	if room.Type != protocol.TypeRoom {
		t.Fatalf("expected ROOM, got %s", room.Type)
	}
	return room
}

func TestDelveSession(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts, "delver1")

	look := act(t, conn, protocol.VerbLook, "")
	if !look.AtGateway {
		t.Fatal("fresh session not at the gateway")
	}

	origin := act(t, conn, protocol.VerbMove, "NORTH")
	if origin.AtGateway || origin.InstanceID == "" || origin.Depth != 0 {
		t.Fatalf("origin = %+v", origin)
	}
	if len(origin.Exits) == 0 {
		t.Fatal("origin room has no exits")
	}
	if len(origin.Occupants) != 1 || origin.Occupants[0] != "delver1" {
		t.Fatalf("occupants = %v", origin.Occupants)
	}

	// Outward movement is barred until the room is cleared.
	send(t, conn, protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, Verb: protocol.VerbMove, Direction: origin.Exits[0].Direction})
	var blocked protocol.ErrorMsg
	recv(t, conn, &blocked)
	if blocked.Type != protocol.TypeError || blocked.Code != protocol.ErrUncleared {
		t.Fatalf("expected %s, got %+v", protocol.ErrUncleared, blocked)
	}

	cleared := act(t, conn, protocol.VerbClear, "")
	if !cleared.Cleared {
		t.Fatal("room not cleared after CLEAR")
	}

	next := act(t, conn, protocol.VerbMove, origin.Exits[0].Direction)
	if next.Depth != 1 {
		t.Fatalf("depth after one step = %d", next.Depth)
	}
	var back *protocol.Exit
	for i := range next.Exits {
		if next.Exits[i].Return {
			back = &next.Exits[i]
		}
	}
	if back == nil {
		t.Fatal("generated room has no return passage")
	}

	// The return passage works without clearing the new room.
	home := act(t, conn, protocol.VerbMove, back.Direction)
	if home.X != 0 || home.Y != 0 {
		t.Fatalf("return passage landed at (%d,%d)", home.X, home.Y)
	}
}

func TestDissolveSendsNoticeAndRelocates(t *testing.T) {
	ts, gw := newTestServer(t)
	conn := dial(t, ts, "delver1")

	origin := act(t, conn, protocol.VerbMove, "EAST")
	if err := gw.DissolveInstance(context.Background(), origin.InstanceID, "test"); err != nil {
		t.Fatalf("dissolve: %v", err)
	}

	var notice protocol.NoticeMsg
	recv(t, conn, &notice)
	if notice.Type != protocol.TypeNotice || notice.Message == "" {
		t.Fatalf("notice = %+v", notice)
	}

	look := act(t, conn, protocol.VerbLook, "")
	if !look.AtGateway {
		t.Fatal("agent not relocated to the gateway after dissolve")
	}
}

func TestBadActsAreRejected(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts, "delver1")

	send(t, conn, protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, Verb: protocol.VerbMove, Direction: "UP"})
	var e protocol.ErrorMsg
	recv(t, conn, &e)
	if e.Code != protocol.ErrBadDirection {
		t.Fatalf("code = %s", e.Code)
	}

	send(t, conn, protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, Verb: "DANCE"})
	recv(t, conn, &e)
	if e.Code != protocol.ErrBadVerb {
		t.Fatalf("code = %s", e.Code)
	}
}

func TestMalformedFramesGetProtocolError(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts, "delver1")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var e protocol.ErrorMsg
	recv(t, conn, &e)
	if e.Type != protocol.TypeError || e.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("undecodable frame: %+v", e)
	}

	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, AgentName: "again"})
	recv(t, conn, &e)
	if e.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("non-ACT frame: %+v", e)
	}

	send(t, conn, protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: "0.0", ID: "A1", Verb: protocol.VerbLook})
	recv(t, conn, &e)
	if e.Code != protocol.ErrProtoBadRequest || e.AckFor != "A1" {
		t.Fatalf("version mismatch: %+v", e)
	}
}

func TestDuplicateAgentNameRejected(t *testing.T) {
	ts, _ := newTestServer(t)
	_ = dial(t, ts, "delver1")

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, AgentName: "delver1"})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected close for duplicate agent name")
	}
}
