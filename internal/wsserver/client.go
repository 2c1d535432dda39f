package wsserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/udisondev/wagerboard/internal/engine"
)

// Keepalive tuning, grounded on the teacher pack's block52-pokerchain
// wsserver.Client read/write pumps.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
)

// Client is one connection's C7 handler: an inbound decode/dispatch loop
// and an outbound loop that relays whatever the connection is currently
// subscribed to on the session fan-out (C6). Per spec §4.5 it tracks a
// single current_player_id, populated lazily from the first Play or Join.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan OutboundMessage

	ctx    context.Context
	cancel context.CancelFunc

	playerID    string
	subGameID   string
	unsubscribe func()
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan OutboundMessage, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// readPump decodes inbound frames and dispatches them to the session state
// machine. A decode error is logged and the loop continues, per spec §7 —
// it never disconnects the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.teardown()
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("connection read error", "error", err)
			}
			return
		}

		var in InboundMessage
		if err := json.Unmarshal(raw, &in); err != nil {
			c.hub.log.Warn("decode failed, continuing", "error", err)
			c.reply(OutboundMessage{Type: TypeError, Message: engine.DecodeFailed.String() + ": malformed frame"})
			continue
		}

		c.dispatch(in)
	}
}

// writePump serializes and writes whatever lands on send, plus a periodic
// ping to keep the connection alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply enqueues a single frame for this connection only, dropping it
// instead of blocking if the client is a slow reader.
func (c *Client) reply(msg OutboundMessage) {
	select {
	case c.send <- msg:
	default:
	}
}

// subscribeTo swaps the connection's fan-out subscription to gameID,
// tearing down any prior one first. A connection only ever needs to watch
// one session's broadcast stream at a time.
func (c *Client) subscribeTo(gameID string) {
	if gameID == "" || gameID == c.subGameID {
		return
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
	}

	ch, unsub := c.hub.registry.Subscribe(gameID)
	c.subGameID = gameID
	c.unsubscribe = unsub

	go func() {
		for payload := range ch {
			c.reply(toOutbound(payload))
		}
	}()
}

// dispatch decodes the message's tag, calls the matching Engine method,
// applies the reply and subscription side effects, and tracks
// current_player_id per spec §4.5.
func (c *Client) dispatch(in InboundMessage) {
	var (
		result *engine.Result
		err    error
	)

	switch in.Type {
	case TypePing:
		result, err = c.hub.engine.Ping(c.ctx, engine.PingRequest{GameID: in.GameID, PlayerID: in.PlayerID})
		if in.PlayerID != "" {
			c.playerID = in.PlayerID
		}
	case TypePlay:
		result, err = c.hub.engine.Play(c.ctx, engine.PlayRequest{
			PlayerID: in.PlayerID, Name: in.Name, Stake: in.Stake,
			MinPlayers: in.MinPlayers, Bombs: in.Bombs, Grid: in.Grid,
		})
		c.playerID = in.PlayerID
	case TypeJoin:
		result, err = c.hub.engine.Join(c.ctx, engine.JoinRequest{GameID: in.GameID, PlayerID: in.PlayerID, Name: in.Name})
		c.playerID = in.PlayerID
	case TypeMakeMove:
		result, err = c.hub.engine.MakeMove(c.ctx, engine.MakeMoveRequest{GameID: in.GameID, X: in.X, Y: in.Y})
	case TypeLock:
		result, err = c.hub.engine.Lock(c.ctx, engine.LockRequest{GameID: in.GameID, X: in.X, Y: in.Y})
	case TypeLockComplete:
		result, err = c.hub.engine.LockComplete(c.ctx, engine.LockCompleteRequest{GameID: in.GameID})
	case TypeStop:
		result, err = c.hub.engine.Stop(c.ctx, engine.StopRequest{GameID: in.GameID, Abort: in.Abort})
	case TypeRematchRequest:
		result, err = c.hub.engine.RematchRequest(c.ctx, engine.RematchRequestMsg{GameID: in.GameID, Requester: in.Requester})
	case TypeRematchRespond:
		result, err = c.hub.engine.RematchResponse(c.ctx, engine.RematchResponseMsg{GameID: in.GameID, PlayerID: in.PlayerID, Want: in.Want})
	default:
		c.reply(OutboundMessage{Type: TypeError, Message: engine.DecodeFailed.String() + ": unknown message type " + in.Type})
		return
	}

	if err != nil {
		// A programmer/internal error: log and terminate this connection
		// only, per spec §7 — other sessions are unaffected.
		c.hub.log.Error("dispatch failed", "type", in.Type, "error", err)
		c.conn.Close()
		return
	}

	if result.Reply != nil {
		c.reply(toOutbound(result.Reply))
	}
	if result.SubscribeGameID != "" {
		c.subscribeTo(result.SubscribeGameID)
	}
}

// teardown implements the C7 teardown rule of spec §4.5: a disconnect
// while bound to a RUNNING session forfeits it. CleanupPlayer folds in the
// registry's own cleanup_player responsibilities (unbind, abort an owned
// WAITING session).
func (c *Client) teardown() {
	c.cancel()
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	if c.playerID == "" {
		return
	}
	c.hub.engine.CleanupPlayer(context.Background(), c.playerID)
}
