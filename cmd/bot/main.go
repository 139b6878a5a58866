// A small scripted delver: enters through a random gateway direction, then
// wanders, clearing each room before pressing deeper. Useful for smoke
// testing a running server.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"delvecraft.io/internal/protocol"
)

func main() {
	var (
		url  = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name = flag.String("name", "bot", "agent name")
		wait = flag.Duration("wait", 500*time.Millisecond, "pause between acts")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       *name,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	seq := 0
	act := func(verb, direction string) {
		seq++
		msg := protocol.ActMsg{
			Type:            protocol.TypeAct,
			ProtocolVersion: protocol.Version,
			ID:              fmt.Sprintf("A%d", seq),
			Verb:            verb,
			Direction:       direction,
		}
		_ = conn.WriteJSON(msg)
	}

	directions := []string{"NORTH", "EAST", "SOUTH", "WEST"}

	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME agent_id=%s gateway=%s", w.AgentID, w.GatewayRoomID)
			act(protocol.VerbMove, directions[rng.Intn(len(directions))])

		case protocol.TypeRoom:
			var room protocol.RoomMsg
			if err := json.Unmarshal(msg, &room); err != nil {
				continue
			}
			time.Sleep(*wait)
			if room.AtGateway {
				act(protocol.VerbMove, directions[rng.Intn(len(directions))])
				continue
			}
			logger.Printf("room (%d,%d) depth=%d %q cleared=%v exits=%d", room.X, room.Y, room.Depth, room.Title, room.Cleared, len(room.Exits))
			if !room.Cleared {
				act(protocol.VerbClear, "")
				continue
			}
			if len(room.Exits) > 0 {
				exit := room.Exits[rng.Intn(len(room.Exits))]
				act(protocol.VerbMove, exit.Direction)
			}

		case protocol.TypeNotice:
			var n protocol.NoticeMsg
			if err := json.Unmarshal(msg, &n); err != nil {
				continue
			}
			logger.Printf("NOTICE: %s", n.Message)

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			logger.Printf("ERROR %s: %s", e.Code, e.Message)
			// A dead or blocked route: look around and try again.
			time.Sleep(*wait)
			act(protocol.VerbLook, "")
		}
	}
}
