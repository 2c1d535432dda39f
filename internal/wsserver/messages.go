package wsserver

import (
	"github.com/udisondev/wagerboard/internal/core"
	"github.com/udisondev/wagerboard/internal/engine"
)

// InboundMessage is the flattened wire form of the client->server half of
// the tagged union in spec §6: one JSON object per frame, discriminated by
// Type, carrying only the fields its tag uses.
type InboundMessage struct {
	Type string `json:"type"`

	PlayerID   string  `json:"player_id,omitempty"`
	Name       string  `json:"name,omitempty"`
	GameID     string  `json:"game_id,omitempty"`
	Stake      float64 `json:"stake,omitempty"`
	MinPlayers int     `json:"min_players,omitempty"`
	Bombs      int     `json:"bombs,omitempty"`
	Grid       int     `json:"grid,omitempty"`
	X          int     `json:"x,omitempty"`
	Y          int     `json:"y,omitempty"`
	Abort      bool    `json:"abort,omitempty"`
	Requester  string  `json:"requester,omitempty"`
	Want       bool    `json:"want_rematch,omitempty"`
}

// Inbound message type tags.
const (
	TypePlay           = "Play"
	TypeJoin           = "Join"
	TypeMakeMove       = "MakeMove"
	TypeLock           = "Lock"
	TypeLockComplete   = "LockComplete"
	TypeStop           = "Stop"
	TypePing           = "Ping"
	TypeRematchRequest = "RematchRequest"
	TypeRematchRespond = "RematchResponse"
)

// OutboundMessage is the flattened wire form of the server->client half.
type OutboundMessage struct {
	Type       string        `json:"type"`
	Session    *core.Session `json:"session,omitempty"`
	Message    string        `json:"message,omitempty"`
	GameID     string        `json:"game_id,omitempty"`
	InstanceID string        `json:"instance_id,omitempty"`
}

// Outbound message type tags.
const (
	TypeGameUpdate       = "GameUpdate"
	TypeError            = "Error"
	TypeRedirectToServer = "RedirectToServer"
	TypePong             = "Pong"
)

// toOutbound translates an engine.Result's reply (or a fan-out payload)
// into the wire-level tagged message.
func toOutbound(payload any) OutboundMessage {
	switch v := payload.(type) {
	case engine.GameUpdate:
		return OutboundMessage{Type: TypeGameUpdate, Session: v.Session}
	case engine.ErrorReply:
		return OutboundMessage{Type: TypeError, Message: v.Kind.String() + ": " + v.Message}
	case engine.RedirectToServer:
		return OutboundMessage{Type: TypeRedirectToServer, GameID: v.GameID, InstanceID: v.InstanceID}
	case engine.Pong:
		return OutboundMessage{Type: TypePong}
	default:
		return OutboundMessage{Type: TypeError, Message: "internal: unrecognized outbound payload"}
	}
}
