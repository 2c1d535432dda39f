package engine

import (
	"context"

	"github.com/udisondev/wagerboard/internal/core"
	"github.com/udisondev/wagerboard/internal/settlement"
)

// MakeMove reveals a cell on the session's board.
func (e *Engine) MakeMove(ctx context.Context, req MakeMoveRequest) (*Result, error) {
	session, err := e.registry.Mutate(req.GameID, func(s *core.Session) error {
		if s.State != core.Running {
			return newError(WrongGameState, "session is not running")
		}
		result, revealErr := s.Board.Reveal(req.X, req.Y)
		if revealErr != nil {
			return newError(WrongGameState, revealErr.Error())
		}
		s.Locks = nil
		if result == core.HitResult {
			s.LoserIdx = s.TurnIdx
			s.State = core.Finished
		}
		// On SAFE, turn_idx is deliberately left unchanged: advancement is
		// coupled to LockComplete, not to MakeMove.
		return nil
	})
	if err != nil {
		return e.translateStateErr(err)
	}

	e.broadcast(req.GameID, session)
	if session.State == core.Finished {
		e.finishLocked(ctx, session)
	}
	// The acting player is already subscribed to this game's fan-out (from
	// Play/Join), so the broadcast above is its only GameUpdate delivery —
	// echoing it back here would double-deliver to that one connection.
	return &Result{}, nil
}

// Lock stages a candidate cell for co-players during the current turn.
func (e *Engine) Lock(ctx context.Context, req LockRequest) (*Result, error) {
	session, err := e.registry.Mutate(req.GameID, func(s *core.Session) error {
		if s.State != core.Running {
			return newError(WrongGameState, "session is not running")
		}
		s.Locks = append(s.Locks, core.Lock{X: req.X, Y: req.Y})
		return nil
	})
	if err != nil {
		return e.translateStateErr(err)
	}

	e.broadcast(req.GameID, session)
	// See MakeMove: the acting player is already subscribed to the fan-out.
	return &Result{}, nil
}

// LockComplete commits the turn hand-off: this is the only place turn_idx
// advances.
func (e *Engine) LockComplete(ctx context.Context, req LockCompleteRequest) (*Result, error) {
	session, err := e.registry.Mutate(req.GameID, func(s *core.Session) error {
		if s.State != core.Running {
			return newError(WrongGameState, "session is not running")
		}
		s.TurnIdx = (s.TurnIdx + 1) % len(s.Players)
		s.Locks = nil
		return nil
	})
	if err != nil {
		return e.translateStateErr(err)
	}

	e.broadcast(req.GameID, session)
	// See MakeMove: the acting player is already subscribed to the fan-out.
	return &Result{}, nil
}

// Stop is explicit termination: abort=false forfeits the current turn
// holder's stake, abort=true cancels the session with no settlement.
func (e *Engine) Stop(ctx context.Context, req StopRequest) (*Result, error) {
	if req.Abort {
		session, err := e.registry.Mutate(req.GameID, func(s *core.Session) error {
			if s.State != core.Waiting && s.State != core.Running {
				return newError(WrongGameState, "session cannot be aborted from its current state")
			}
			s.State = core.Aborted
			s.Locks = nil
			return nil
		})
		if err != nil {
			return e.translateStateErr(err)
		}
		e.broadcast(req.GameID, session)
		e.abortCleanup(ctx, session)
		// See MakeMove: the acting player is already subscribed to the fan-out.
		return &Result{}, nil
	}

	session, err := e.registry.Mutate(req.GameID, func(s *core.Session) error {
		if s.State != core.Running {
			return newError(WrongGameState, "session is not running")
		}
		s.LoserIdx = s.TurnIdx
		s.State = core.Finished
		s.Locks = nil
		return nil
	})
	if err != nil {
		return e.translateStateErr(err)
	}

	e.broadcast(req.GameID, session)
	e.finishLocked(ctx, session)
	// See MakeMove: the acting player is already subscribed to the fan-out.
	return &Result{}, nil
}

// RematchRequest constructs a fresh board and asks the other participants
// to vote. A REMATCH session is deliberately not re-registered in the
// shared directory: every participant already fills the roster, so the
// "has room" predicate in discovery.FindByAttrs/FindByID would filter it
// out anyway.
func (e *Engine) RematchRequest(ctx context.Context, req RematchRequestMsg) (*Result, error) {
	session, err := e.registry.Mutate(req.GameID, func(s *core.Session) error {
		if s.State != core.Finished {
			return newError(WrongGameState, "session is not finished")
		}
		idx := s.PlayerIndex(req.Requester)
		if idx < 0 {
			return newError(WrongGameState, "requester is not a participant")
		}
		board, boardErr := core.NewBoard(s.Board.N, s.Board.HazardCount())
		if boardErr != nil {
			return newError(TransientInternal, boardErr.Error())
		}
		accepted := make([]bool, len(s.Players))
		accepted[idx] = true

		s.Board = board
		s.State = core.Rematch
		s.Accepted = accepted
		return nil
	})
	if err != nil {
		return e.translateStateErr(err)
	}

	e.broadcast(req.GameID, session)
	// See MakeMove: the acting player is already subscribed to the fan-out.
	return &Result{}, nil
}

// RematchResponse records a vote. A single decline aborts the session;
// unanimous acceptance starts a fresh RUNNING round.
func (e *Engine) RematchResponse(ctx context.Context, req RematchResponseMsg) (*Result, error) {
	session, err := e.registry.Mutate(req.GameID, func(s *core.Session) error {
		if s.State != core.Rematch {
			return newError(WrongGameState, "session is not awaiting rematch")
		}
		idx := s.PlayerIndex(req.PlayerID)
		if idx < 0 {
			return newError(WrongGameState, "player is not a participant")
		}
		if !req.Want {
			s.State = core.Aborted
			s.Accepted = nil
			return nil
		}
		s.Accepted[idx] = true
		if s.AllAccepted() {
			s.State = core.Running
			s.TurnIdx = 0
			s.Locks = nil
		}
		return nil
	})
	if err != nil {
		return e.translateStateErr(err)
	}

	e.broadcast(req.GameID, session)
	if session.State == core.Aborted {
		e.abortCleanup(ctx, session)
	}
	// See MakeMove: the acting player is already subscribed to the fan-out.
	return &Result{}, nil
}

// finishLocked runs the cleanup common to every RUNNING -> FINISHED path:
// clear active-player bindings, remove the (already absent, for a RUNNING
// session) directory entry defensively, and invoke settlement
// asynchronously exactly once.
func (e *Engine) finishLocked(ctx context.Context, session *core.Session) {
	for _, p := range session.Players {
		e.registry.UnbindPlayer(p.ID)
	}
	if err := e.discovery.Remove(ctx, session.GameID); err != nil {
		e.log.Warn("finish: removing directory entry", "game_id", session.GameID, "error", err)
	}
	e.asyncSettle(session)
}

// abortCleanup runs the cleanup for every transition into ABORTED, which
// is a dead end for the game_id: bindings clear, directory entry removed,
// fan-out torn down, and the session itself reaped from the registry so it
// does not linger in memory for the rest of the process's life.
func (e *Engine) abortCleanup(ctx context.Context, session *core.Session) {
	for _, p := range session.Players {
		e.registry.UnbindPlayer(p.ID)
	}
	if err := e.discovery.Remove(ctx, session.GameID); err != nil {
		e.log.Warn("abort: removing directory entry", "game_id", session.GameID, "error", err)
	}
	e.registry.DropFanout(session.GameID)
	e.registry.RemoveSession(session.GameID)
}

func (e *Engine) asyncSettle(session *core.Session) {
	if e.settlement == nil {
		e.log.Info("settlement not configured, skipping", "game_id", session.GameID)
		return
	}
	if len(session.Players) < 2 {
		e.log.Warn("cannot settle a session with fewer than two players", "game_id", session.GameID)
		return
	}

	update := toSettlementUpdate(session)
	go func() {
		if err := e.settlement.UpdatePlayerBalances(context.Background(), update); err != nil {
			e.log.Error("settlement failed", "game_id", session.GameID, "error", err)
		}
	}()
}

// toSettlementUpdate computes per-player deltas: the loser pays Stake,
// each other player receives Stake / (len(players) - 1), per spec §4.7.
func toSettlementUpdate(session *core.Session) settlement.Update {
	ids := make([]string, len(session.Players))
	for i, p := range session.Players {
		ids[i] = p.ID
	}
	return settlement.Update{
		GameID:       session.GameID,
		Players:      ids,
		LoserIdx:     session.LoserIdx,
		Stake:        session.Stake,
		WinningShare: session.Stake / float64(len(session.Players)-1),
		Currency:     Currency,
	}
}
