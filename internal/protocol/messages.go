package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AgentName       string `json:"agent_name"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	AgentID         string        `json:"agent_id"`
	SessionID       string        `json:"session_id,omitempty"`
	GatewayRoomID   string        `json:"gateway_room_id"`
	Directions      []string      `json:"directions"`
	Params          GatewayParams `json:"params"`
}

// GatewayParams tells the client the server's branching and lifecycle tuning.
type GatewayParams struct {
	MaxUnexploredExits int     `json:"max_unexplored_exits"`
	MaxNewExitsPerRoom int     `json:"max_new_exits_per_room"`
	JoinWindowSeconds  float64 `json:"join_window_seconds"`
	IdleTimeoutSeconds float64 `json:"idle_timeout_seconds"`
}

// Act verbs.
const (
	VerbMove  = "MOVE"
	VerbClear = "CLEAR"
	VerbLook  = "LOOK"
)

// ACT (client -> server)
type ActMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
	Verb            string `json:"verb"`
	Direction       string `json:"direction,omitempty"`
}

// ROOM (server -> client): the agent's location after an accepted act, or on
// demand for LOOK. AtGateway rooms carry no coordinates or exits.
type RoomMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	AckFor          string   `json:"ack_for,omitempty"`
	AtGateway       bool     `json:"at_gateway,omitempty"`
	InstanceID      string   `json:"instance_id,omitempty"`
	X               int      `json:"x"`
	Y               int      `json:"y"`
	Depth           int      `json:"depth"`
	Title           string   `json:"title,omitempty"`
	Description     string   `json:"description,omitempty"`
	Challenge       string   `json:"challenge,omitempty"`
	Cleared         bool     `json:"cleared"`
	Exits           []Exit   `json:"exits,omitempty"`
	Occupants       []string `json:"occupants,omitempty"`
}

type Exit struct {
	Direction string `json:"direction"`
	Return    bool   `json:"return,omitempty"`
	Explored  bool   `json:"explored,omitempty"`
}

// NOTICE (server -> client): unsolicited narrative, e.g. an eviction.
type NoticeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Message         string `json:"message"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}
