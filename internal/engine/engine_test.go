package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/wagerboard/internal/core"
	"github.com/udisondev/wagerboard/internal/discovery"
	"github.com/udisondev/wagerboard/internal/registry"
)

func newTestEngine(instanceID string) (*Engine, *fakeSettlement) {
	disc := discovery.New(newFakeRedis(), nil)
	settle := &fakeSettlement{}
	e := New(instanceID, registry.New(), disc, settle, nil)
	return e, settle
}

func TestPlay_CreatesWaitingSession(t *testing.T) {
	e, _ := newTestEngine("I1")
	ctx := context.Background()

	res, err := e.Play(ctx, PlayRequest{PlayerID: "p1", Name: "A", Stake: 1.0, MinPlayers: 2, Bombs: 3, Grid: 5})
	require.NoError(t, err)

	update, ok := res.Reply.(GameUpdate)
	require.True(t, ok)
	assert.Equal(t, core.Waiting, update.Session.State)
	assert.Equal(t, []core.Player{{ID: "p1", Name: "A"}}, update.Session.Players)
	assert.NotEmpty(t, res.SubscribeGameID)
}

func TestPlay_SecondPlayerFillsRosterAndTransitionsToRunning(t *testing.T) {
	e, _ := newTestEngine("I1")
	ctx := context.Background()

	first, err := e.Play(ctx, PlayRequest{PlayerID: "p1", Name: "A", Stake: 1.0, MinPlayers: 2, Bombs: 3, Grid: 5})
	require.NoError(t, err)
	gameID := first.Reply.(GameUpdate).Session.GameID

	second, err := e.Play(ctx, PlayRequest{PlayerID: "p2", Name: "B", Stake: 1.0, MinPlayers: 2, Bombs: 3, Grid: 5})
	require.NoError(t, err)

	update := second.Reply.(GameUpdate)
	assert.Equal(t, core.Running, update.Session.State)
	assert.Equal(t, 0, update.Session.TurnIdx)
	assert.Equal(t, gameID, update.Session.GameID)
	assert.Equal(t, gameID, second.SubscribeGameID)
}

func TestPlay_AlreadyInGameIsRejected(t *testing.T) {
	e, _ := newTestEngine("I1")
	ctx := context.Background()

	_, err := e.Play(ctx, PlayRequest{PlayerID: "p1", Name: "A", Stake: 1, MinPlayers: 2, Bombs: 3, Grid: 5})
	require.NoError(t, err)

	res, err := e.Play(ctx, PlayRequest{PlayerID: "p1", Name: "A", Stake: 2, MinPlayers: 2, Bombs: 3, Grid: 5})
	require.NoError(t, err)
	errReply, ok := res.Reply.(ErrorReply)
	require.True(t, ok)
	assert.Equal(t, AlreadyInGame, errReply.Kind)
}

func TestPlay_CrossInstanceRedirect(t *testing.T) {
	disc := discovery.New(newFakeRedis(), nil)
	settle := &fakeSettlement{}
	i1 := New("I1", registry.New(), disc, settle, nil)
	i2 := New("I2", registry.New(), disc, settle, nil)
	ctx := context.Background()

	_, err := i1.Play(ctx, PlayRequest{PlayerID: "p1", Name: "A", Stake: 1, MinPlayers: 2, Bombs: 3, Grid: 5})
	require.NoError(t, err)

	res, err := i2.Play(ctx, PlayRequest{PlayerID: "p2", Name: "B", Stake: 1, MinPlayers: 2, Bombs: 3, Grid: 5})
	require.NoError(t, err)

	redirect, ok := res.Reply.(RedirectToServer)
	require.True(t, ok, "expected RedirectToServer, got %#v", res.Reply)
	assert.Equal(t, "I1", redirect.InstanceID)
	assert.Empty(t, res.SubscribeGameID, "I2 must not touch local state for a cross-instance match")
}

func newRunningPair(t *testing.T, e *Engine) string {
	t.Helper()
	ctx := context.Background()
	first, err := e.Play(ctx, PlayRequest{PlayerID: "p1", Name: "A", Stake: 1.0, MinPlayers: 2, Bombs: 1, Grid: 2})
	require.NoError(t, err)
	gameID := first.Reply.(GameUpdate).Session.GameID

	second, err := e.Play(ctx, PlayRequest{PlayerID: "p2", Name: "B", Stake: 1.0, MinPlayers: 2, Bombs: 1, Grid: 2})
	require.NoError(t, err)
	require.Equal(t, core.Running, second.Reply.(GameUpdate).Session.State)
	return gameID
}

// revealAllCells drives MakeMove across every cell of a grid x grid board
// in row-major order through the public Engine API (never peeking at
// Board's hidden hazard set) and returns the session state after the
// first HIT, or after the whole board was exhausted with no hit. MakeMove
// no longer echoes a GameUpdate reply to the caller (that would double the
// delivery the caller already receives via the fan-out), so state is read
// back from the registry instead.
func revealAllCells(t *testing.T, e *Engine, ctx context.Context, gameID string, grid int) (last *core.Session, hit bool) {
	t.Helper()
	for x := 0; x < grid; x++ {
		for y := 0; y < grid; y++ {
			session, ok := e.registry.GetSession(gameID)
			if !ok || session.State != core.Running {
				return last, hit
			}
			res, err := e.MakeMove(ctx, MakeMoveRequest{GameID: gameID, X: x, Y: y})
			require.NoError(t, err)
			assert.Nil(t, res.Reply, "MakeMove must not echo a GameUpdate back to the already-subscribed caller")
			last, _ = e.registry.GetSession(gameID)
			if last == nil || last.State == core.Finished {
				return last, last != nil
			}
		}
	}
	return last, false
}

func TestLockComplete_IsTheOnlyPlaceTurnAdvances(t *testing.T) {
	e, _ := newTestEngine("I1")
	ctx := context.Background()

	// Retry with a fresh pair whenever the single probed cell happens to be
	// the hazard; a 2x2 board with 1 hazard has 3 safe cells, so this
	// converges quickly.
	var gameID string
	var startTurn int
	for attempt := 0; attempt < 10; attempt++ {
		gameID = newRunningPair(t, e)
		session, _ := e.registry.GetSession(gameID)
		startTurn = session.TurnIdx

		res, err := e.MakeMove(ctx, MakeMoveRequest{GameID: gameID, X: 0, Y: 0})
		require.NoError(t, err)
		assert.Nil(t, res.Reply, "MakeMove must not echo a GameUpdate back to the already-subscribed caller")
		update, _ := e.registry.GetSession(gameID)
		if update.State == core.Running {
			assert.Equal(t, startTurn, update.TurnIdx, "turn_idx must not advance on MakeMove:SAFE")
			break
		}
	}

	lcRes, err := e.LockComplete(ctx, LockCompleteRequest{GameID: gameID})
	require.NoError(t, err)
	assert.Nil(t, lcRes.Reply, "LockComplete must not echo a GameUpdate back to the already-subscribed caller")
	afterLC, _ := e.registry.GetSession(gameID)
	assert.Equal(t, (startTurn+1)%2, afterLC.TurnIdx, "turn_idx advances only on LockComplete")
}

func TestMakeMove_HitFinishesAndSettlesExactlyOnce(t *testing.T) {
	e, settle := newTestEngine("I1")
	ctx := context.Background()
	gameID := newRunningPair(t, e)

	session, _ := e.registry.GetSession(gameID)
	turnIdx := session.TurnIdx

	finished, hit := revealAllCells(t, e, ctx, gameID, session.Board.N)
	require.True(t, hit, "a 2x2 board with 1 hazard must be hit within 4 reveals")

	assert.Equal(t, core.Finished, finished.State)
	assert.Equal(t, turnIdx, finished.LoserIdx)

	assert.Eventually(t, func() bool { return settle.callCount() == 1 }, time.Second, 5*time.Millisecond)
	update := settle.last()
	assert.Equal(t, finished.LoserIdx, update.LoserIdx)
	assert.Equal(t, 1.0, update.WinningShare)

	assert.False(t, e.registry.IsBound("p1"))
	assert.False(t, e.registry.IsBound("p2"))
}

func TestStop_AbortTrueRemovesSessionWithoutSettlement(t *testing.T) {
	e, settle := newTestEngine("I1")
	ctx := context.Background()

	first, err := e.Play(ctx, PlayRequest{PlayerID: "p1", Name: "A", Stake: 1, MinPlayers: 2, Bombs: 1, Grid: 3})
	require.NoError(t, err)
	gameID := first.Reply.(GameUpdate).Session.GameID

	res, err := e.Stop(ctx, StopRequest{GameID: gameID, Abort: true})
	require.NoError(t, err)
	assert.Nil(t, res.Reply, "Stop must not echo a GameUpdate back to the already-subscribed caller")
	assert.Equal(t, 0, settle.callCount())
	assert.False(t, e.registry.IsBound("p1"))

	_, ok := e.registry.GetSession(gameID)
	assert.False(t, ok, "an ABORTED session must be reaped from the registry")
}

func TestStop_AbortFalseForfeitsCurrentTurn(t *testing.T) {
	e, settle := newTestEngine("I1")
	ctx := context.Background()
	gameID := newRunningPair(t, e)

	session, _ := e.registry.GetSession(gameID)
	res, err := e.Stop(ctx, StopRequest{GameID: gameID, Abort: false})
	require.NoError(t, err)
	assert.Nil(t, res.Reply, "Stop must not echo a GameUpdate back to the already-subscribed caller")

	finished, ok := e.registry.GetSession(gameID)
	require.True(t, ok)
	assert.Equal(t, core.Finished, finished.State)
	assert.Equal(t, session.TurnIdx, finished.LoserIdx)
	assert.Eventually(t, func() bool { return settle.callCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRematchFullCycle(t *testing.T) {
	e, _ := newTestEngine("I1")
	ctx := context.Background()
	gameID := newRunningPair(t, e)

	// Force a FINISHED state directly via Stop so the rematch test doesn't
	// depend on finding a hazard cell.
	_, err := e.Stop(ctx, StopRequest{GameID: gameID, Abort: false})
	require.NoError(t, err)

	reqRes, err := e.RematchRequest(ctx, RematchRequestMsg{GameID: gameID, Requester: "p1"})
	require.NoError(t, err)
	assert.Nil(t, reqRes.Reply, "RematchRequest must not echo a GameUpdate back to the already-subscribed caller")
	rematch, ok := e.registry.GetSession(gameID)
	require.True(t, ok)
	assert.Equal(t, core.Rematch, rematch.State)
	assert.Equal(t, []bool{true, false}, rematch.Accepted)

	respRes, err := e.RematchResponse(ctx, RematchResponseMsg{GameID: gameID, PlayerID: "p2", Want: true})
	require.NoError(t, err)
	assert.Nil(t, respRes.Reply, "RematchResponse must not echo a GameUpdate back to the already-subscribed caller")
	running, ok := e.registry.GetSession(gameID)
	require.True(t, ok)
	assert.Equal(t, core.Running, running.State)
	assert.Equal(t, 0, running.TurnIdx)
	assert.Empty(t, running.Locks)
}

func TestRematchResponse_DeclineAborts(t *testing.T) {
	e, _ := newTestEngine("I1")
	ctx := context.Background()
	gameID := newRunningPair(t, e)

	_, err := e.Stop(ctx, StopRequest{GameID: gameID, Abort: false})
	require.NoError(t, err)
	_, err = e.RematchRequest(ctx, RematchRequestMsg{GameID: gameID, Requester: "p1"})
	require.NoError(t, err)

	res, err := e.RematchResponse(ctx, RematchResponseMsg{GameID: gameID, PlayerID: "p2", Want: false})
	require.NoError(t, err)
	assert.Nil(t, res.Reply, "RematchResponse must not echo a GameUpdate back to the already-subscribed caller")

	_, ok := e.registry.GetSession(gameID)
	assert.False(t, ok, "an ABORTED session must be reaped from the registry")
}

func TestCleanupPlayer_CreatorDisconnectBeforeRosterFills(t *testing.T) {
	e, settle := newTestEngine("I1")
	ctx := context.Background()

	res, err := e.Play(ctx, PlayRequest{PlayerID: "p1", Name: "A", Stake: 1, MinPlayers: 2, Bombs: 1, Grid: 3})
	require.NoError(t, err)
	gameID := res.Reply.(GameUpdate).Session.GameID

	e.CleanupPlayer(ctx, "p1")

	_, ok := e.registry.GetSession(gameID)
	assert.False(t, ok, "an ABORTED session must be reaped from the registry")
	assert.Equal(t, 0, settle.callCount())

	found, err := e.discovery.FindByID(ctx, gameID)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestCleanupPlayer_RunningParticipantForfeits(t *testing.T) {
	e, settle := newTestEngine("I1")
	ctx := context.Background()
	gameID := newRunningPair(t, e)

	e.CleanupPlayer(ctx, "p2")

	session, ok := e.registry.GetSession(gameID)
	require.True(t, ok)
	assert.Equal(t, core.Finished, session.State)
	assert.Equal(t, 1, session.LoserIdx)
	assert.Eventually(t, func() bool { return settle.callCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPing_SubscribesToOwnedSession(t *testing.T) {
	e, _ := newTestEngine("I1")
	ctx := context.Background()

	res, err := e.Play(ctx, PlayRequest{PlayerID: "p1", Name: "A", Stake: 1, MinPlayers: 2, Bombs: 1, Grid: 3})
	require.NoError(t, err)
	gameID := res.Reply.(GameUpdate).Session.GameID

	pingRes, err := e.Ping(ctx, PingRequest{GameID: gameID, PlayerID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, Pong{}, pingRes.Reply)
	assert.Equal(t, gameID, pingRes.SubscribeGameID)
}
