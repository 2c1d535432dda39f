// Package engine implements C8, the session state machine: the heart of
// the system. It is a Go re-expression of the original Rust game.rs /
// game_ws.rs match arms (GameMessage -> GameState transitions),
// generalized to cross-instance matchmaking via the shared directory,
// Lock/LockComplete turn hand-off, and the full REMATCH cycle the
// original never implemented.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/udisondev/wagerboard/internal/core"
	"github.com/udisondev/wagerboard/internal/discovery"
	"github.com/udisondev/wagerboard/internal/registry"
	"github.com/udisondev/wagerboard/internal/settlement"
)

// Currency is fixed for the core; multi-currency wagers are out of scope.
const Currency = "USD"

// Engine wires together the registry (C6), discovery service (C5), and
// settlement collaborator to implement every operation of spec §4.4.
type Engine struct {
	instanceID string
	registry   *registry.Registry
	discovery  *discovery.Service
	settlement settlement.Settlement
	log        *slog.Logger
}

// New builds an Engine bound to a single coordinator instance.
// settle may be nil, in which case FINISHED transitions log and skip
// settlement instead of invoking it — useful for local development without
// a ledger store wired up.
func New(instanceID string, reg *registry.Registry, disc *discovery.Service, settle settlement.Settlement, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		instanceID: instanceID,
		registry:   reg,
		discovery:  disc,
		settlement: settle,
		log:        log,
	}
}

func (e *Engine) broadcast(gameID string, s *core.Session) {
	e.registry.Publish(gameID, GameUpdate{Session: s})
}

// Ping is keep-alive plus late subscription. It never transitions state.
func (e *Engine) Ping(ctx context.Context, req PingRequest) (*Result, error) {
	result := &Result{Reply: Pong{}}

	if req.GameID != "" {
		if _, ok := e.registry.GetSession(req.GameID); ok {
			result.SubscribeGameID = req.GameID
		}
	}
	if req.PlayerID != "" && req.GameID != "" {
		if err := e.registry.BindPlayer(req.PlayerID, req.GameID); err != nil && !errors.Is(err, registry.ErrAlreadyBound) {
			e.log.Warn("ping: binding player", "player_id", req.PlayerID, "error", err)
		}
	}
	return result, nil
}

// Play is the matchmaking entry point.
func (e *Engine) Play(ctx context.Context, req PlayRequest) (*Result, error) {
	if e.registry.IsBound(req.PlayerID) {
		return &Result{Reply: ErrorReply{Kind: AlreadyInGame, Message: "player already in a game"}}, nil
	}

	entry, err := e.discovery.FindByAttrs(ctx, req.Stake, req.MinPlayers, req.Grid)
	if err != nil {
		e.log.Warn("play: directory lookup failed", "error", err)
	}

	if entry != nil && entry.InstanceID == e.instanceID {
		return e.joinLocalWaiting(ctx, entry.GameID, req.PlayerID, req.Name)
	}
	if entry != nil {
		return &Result{Reply: RedirectToServer{GameID: entry.GameID, InstanceID: entry.InstanceID}}, nil
	}

	return e.createWaiting(ctx, req)
}

func (e *Engine) createWaiting(ctx context.Context, req PlayRequest) (*Result, error) {
	board, err := core.NewBoard(req.Grid, req.Bombs)
	if err != nil {
		return &Result{Reply: ErrorReply{Kind: TransientInternal, Message: err.Error()}}, nil
	}

	gameID := uuid.NewString()
	session := &core.Session{
		GameID:     gameID,
		Stake:      req.Stake,
		State:      core.Waiting,
		Board:      board,
		MinPlayers: req.MinPlayers,
		Creator:    req.PlayerID,
		Players:    []core.Player{{ID: req.PlayerID, Name: req.Name}},
	}
	// Snapshot before the session is shared through the registry; after
	// CreateSession it may only be read under the registry's lock.
	snapshot := session.Clone()
	if err := e.registry.CreateSession(session); err != nil {
		return &Result{Reply: ErrorReply{Kind: TransientInternal, Message: err.Error()}}, nil
	}

	regErr := e.discovery.Register(ctx, discovery.DirectoryEntry{
		GameID:         gameID,
		InstanceID:     e.instanceID,
		Stake:          req.Stake,
		MinPlayers:     req.MinPlayers,
		GridSize:       req.Grid,
		CurrentPlayers: 1,
	})
	if regErr != nil {
		e.log.Error("play: advertising new session failed", "game_id", gameID, "error", regErr)
		// The session still exists locally and is usable by players who
		// Join it by id on this instance; Play matchmaking (on any
		// instance) and Join from other instances cannot find it.
	}

	if err := e.registry.BindPlayer(req.PlayerID, gameID); err != nil {
		e.log.Warn("play: binding creator", "error", err)
	}
	e.broadcast(gameID, snapshot)

	reply := any(GameUpdate{Session: snapshot})
	if regErr != nil {
		reply = ErrorReply{Kind: TransientInternal, Message: "created but not advertised: " + regErr.Error()}
	}
	return &Result{Reply: reply, SubscribeGameID: gameID}, nil
}

// joinLocalWaiting appends playerID to a locally-owned WAITING session,
// transitioning to RUNNING once the roster fills, shared by Play and Join.
func (e *Engine) joinLocalWaiting(ctx context.Context, gameID, playerID, name string) (*Result, error) {
	session, err := e.registry.Mutate(gameID, func(s *core.Session) error {
		if s.State != core.Waiting {
			return newError(WrongGameState, "session is not accepting players")
		}
		s.Players = append(s.Players, core.Player{ID: playerID, Name: name})
		if len(s.Players) == s.MinPlayers {
			s.State = core.Running
			s.TurnIdx = 0
		}
		return nil
	})
	if err != nil {
		return e.translateGuardErr(err)
	}

	if err := e.registry.BindPlayer(playerID, gameID); err != nil {
		e.log.Warn("join: binding player", "error", err)
	}

	if session.State == core.Running {
		if err := e.discovery.Remove(ctx, gameID); err != nil {
			e.log.Warn("join: removing filled session from directory", "game_id", gameID, "error", err)
		}
	} else if err := e.discovery.UpdatePlayerCount(ctx, gameID, len(session.Players)); err != nil {
		e.log.Warn("join: updating directory player count", "game_id", gameID, "error", err)
	}

	e.broadcast(gameID, session)
	return &Result{Reply: GameUpdate{Session: session}, SubscribeGameID: gameID}, nil
}

// Join is explicit join by id.
func (e *Engine) Join(ctx context.Context, req JoinRequest) (*Result, error) {
	if e.registry.IsBound(req.PlayerID) {
		return &Result{Reply: ErrorReply{Kind: AlreadyInGame, Message: "player already in a game"}}, nil
	}

	if _, ok := e.registry.GetSession(req.GameID); ok {
		return e.joinLocalWaiting(ctx, req.GameID, req.PlayerID, req.Name)
	}

	entry, err := e.discovery.FindByID(ctx, req.GameID)
	if err != nil {
		e.log.Warn("join: directory lookup failed", "error", err)
	}
	if entry == nil {
		return &Result{Reply: ErrorReply{Kind: NotJoinable, Message: "session is not accepting players"}}, nil
	}
	return &Result{Reply: RedirectToServer{GameID: entry.GameID, InstanceID: entry.InstanceID}}, nil
}

func (e *Engine) translateGuardErr(err error) (*Result, error) {
	var gameErr *Error
	if errors.As(err, &gameErr) {
		return &Result{Reply: ErrorReply{Kind: gameErr.Kind, Message: gameErr.Message}}, nil
	}
	if errors.Is(err, registry.ErrSessionNotFound) {
		return &Result{Reply: ErrorReply{Kind: NotJoinable, Message: "no such session"}}, nil
	}
	return nil, fmt.Errorf("engine: %w", err)
}

// translateStateErr is translateGuardErr's counterpart for the in-game
// operations (MakeMove, Lock, LockComplete, Stop, Rematch*): a session
// that isn't locally owned is reported the same way as a guard failure —
// WrongGameState — since spec §7 has no separate kind for "not found."
func (e *Engine) translateStateErr(err error) (*Result, error) {
	var gameErr *Error
	if errors.As(err, &gameErr) {
		return &Result{Reply: ErrorReply{Kind: gameErr.Kind, Message: gameErr.Message}}, nil
	}
	if errors.Is(err, registry.ErrSessionNotFound) {
		return &Result{Reply: ErrorReply{Kind: WrongGameState, Message: "session not found or not locally owned"}}, nil
	}
	return nil, fmt.Errorf("engine: %w", err)
}

// CleanupPlayer folds two spec responsibilities into one method, since
// both require the terminal-transition logic that belongs to the state
// machine rather than to the registry's plain data structures: the
// registry's own cleanup_player (§4.3 — unbind, abort any owned WAITING
// session) and the connection handler's teardown synthetic FINISHED
// (§4.5 — a RUNNING participant's disconnect is a forfeit).
func (e *Engine) CleanupPlayer(ctx context.Context, playerID string) {
	gameID, bound := e.registry.ActiveGameFor(playerID)
	e.registry.UnbindPlayer(playerID)

	for _, ownedID := range e.registry.SessionsOwnedByCreator(playerID) {
		session, err := e.registry.Mutate(ownedID, func(s *core.Session) error {
			if s.State != core.Waiting {
				return newError(WrongGameState, "no longer waiting")
			}
			s.State = core.Aborted
			return nil
		})
		if err != nil {
			continue
		}
		e.broadcast(ownedID, session)
		e.abortCleanup(ctx, session)
	}

	if !bound {
		return
	}

	session, ok := e.registry.GetSession(gameID)
	if !ok || session.State != core.Running {
		return
	}
	idx := session.PlayerIndex(playerID)
	if idx < 0 {
		return
	}

	finished, err := e.registry.Mutate(gameID, func(s *core.Session) error {
		if s.State != core.Running {
			return newError(WrongGameState, "no longer running")
		}
		s.LoserIdx = idx
		s.State = core.Finished
		s.Locks = nil
		return nil
	})
	if err != nil {
		return
	}
	e.broadcast(gameID, finished)
	e.finishLocked(ctx, finished)
}
