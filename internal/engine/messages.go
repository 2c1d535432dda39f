package engine

import "github.com/udisondev/wagerboard/internal/core"

// Inbound request types, one per tag of the client->server vocabulary in
// spec §6.

type PlayRequest struct {
	PlayerID   string
	Name       string
	Stake      float64
	MinPlayers int
	Bombs      int
	Grid       int
}

type JoinRequest struct {
	GameID   string
	PlayerID string
	Name     string
}

type MakeMoveRequest struct {
	GameID string
	X, Y   int
}

type LockRequest struct {
	GameID string
	X, Y   int
}

type LockCompleteRequest struct {
	GameID string
}

type StopRequest struct {
	GameID string
	Abort  bool
}

type RematchRequestMsg struct {
	GameID    string
	Requester string
}

type RematchResponseMsg struct {
	GameID   string
	PlayerID string
	Want     bool
}

// PingRequest carries the two optional fields of spec §4.4's Ping: an
// empty string means "absent."
type PingRequest struct {
	GameID   string
	PlayerID string
}

// Outbound message types, the server->client half of the tagged union.

// GameUpdate carries a cloned session snapshot; every accepted transition
// produces exactly one of these on the session's fan-out.
type GameUpdate struct {
	Session *core.Session
}

// ErrorReply is the single reply sent to the requester on a guard or
// transient failure; session state is left unchanged.
type ErrorReply struct {
	Kind    ErrorKind
	Message string
}

// RedirectToServer is a control message, not an error: the client is
// expected to retry transparently against InstanceID.
type RedirectToServer struct {
	GameID     string
	InstanceID string
}

// Pong answers Ping.
type Pong struct{}

// Result is what an Engine method hands back to the connection handler.
// Reply, if non-nil, is the single frame to send to the requester directly
// (ErrorReply, RedirectToServer, Pong, or — only for Play/Join, whose
// SubscribeGameID subscription happens after this point — GameUpdate).
// Every other in-game operation leaves Reply nil: the requester is already
// subscribed to the session's fan-out from an earlier Play/Join, so its
// GameUpdate already went out via broadcast before the method returned, and
// sending it again here would duplicate that delivery. SubscribeGameID, if
// non-empty, tells the connection handler to subscribe the sender's sink to
// that session's fan-out.
type Result struct {
	Reply           any
	SubscribeGameID string
}
