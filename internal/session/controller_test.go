package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/gomoku-client/internal/clients"
	"github.com/mcdev12/gomoku-client/internal/game"
	"github.com/mcdev12/gomoku-client/internal/realtime"
)

const (
	myID   = "11111111-1111-1111-1111-111111111111"
	oppID  = "22222222-2222-2222-2222-222222222222"
	gameID = "match-1"
)

type fakeGameAPI struct {
	mu            sync.Mutex
	getResp       *game.SessionState
	getErr        error
	moveResp      *game.SessionState
	moveErr       error
	moveCalls     int
	lastPosition  int
	lastRequestID uuid.UUID
	gate          chan struct{}
}

func (f *fakeGameAPI) GetSession(_ context.Context, _ string) (*game.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getResp, f.getErr
}

func (f *fakeGameAPI) SubmitMove(_ context.Context, _, _ string, position int, requestID uuid.UUID) (*game.SessionState, error) {
	f.mu.Lock()
	f.moveCalls++
	f.lastPosition = position
	f.lastRequestID = requestID
	gate := f.gate
	resp, err := f.moveResp, f.moveErr
	f.mu.Unlock()

	if gate != nil {
		<-gate
		f.mu.Lock()
		resp, err = f.moveResp, f.moveErr
		f.mu.Unlock()
	}
	return resp, err
}

func (f *fakeGameAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.moveCalls
}

type fakeProfileAPI struct {
	profile *clients.Profile
	err     error
}

func (f *fakeProfileAPI) GetProfile(_ context.Context, _ string) (*clients.Profile, error) {
	return f.profile, f.err
}

type fakeChannel struct {
	mu         sync.Mutex
	events     chan realtime.Event
	status     realtime.Status
	joined     []string
	left       []string
	reconnects int
	resets     int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		events: make(chan realtime.Event, 16),
		status: realtime.Status{Connected: true},
	}
}

func (f *fakeChannel) Events() <-chan realtime.Event { return f.events }

func (f *fakeChannel) Status() realtime.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeChannel) JoinGame(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, id)
	return nil
}

func (f *fakeChannel) LeaveGame(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, id)
	return nil
}

func (f *fakeChannel) Reconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	return nil
}

func (f *fakeChannel) ResetAttempts() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func intPtr(v int) *int { return &v }

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

// activeState builds an authoritative snapshot with both seats filled.
func activeState(board game.Board, currentPlayer string, myTime, oppTime, seq int) *game.SessionState {
	return &game.SessionState{
		ID:              gameID,
		Player1ID:       myID,
		Player2ID:       oppID,
		CurrentPlayerID: currentPlayer,
		Board:           board,
		Status:          game.StatusActive,
		MoveSeq:         seq,
		P1Time:          intPtr(myTime),
		P2Time:          intPtr(oppTime),
	}
}

func newTestController(t *testing.T) (*Controller, *fakeGameAPI, *fakeChannel, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	games := &fakeGameAPI{}
	profiles := &fakeProfileAPI{profile: &clients.Profile{ID: oppID, Username: "rival", EloRating: 1200}}
	channel := newFakeChannel()
	controller := NewController(myID, games, profiles, channel, clock, zerolog.Nop())
	return controller, games, channel, clock
}

func loadActiveSession(t *testing.T, c *Controller, games *fakeGameAPI) {
	t.Helper()
	games.mu.Lock()
	games.getResp = activeState(game.NewBoard(), myID, 120, 120, 0)
	games.mu.Unlock()
	require.NoError(t, c.LoadSession(context.Background(), gameID))
}

func TestController_LoadSession(t *testing.T) {
	controller, games, channel, _ := newTestController(t)
	loadActiveSession(t, controller, games)

	snapshot := controller.Snapshot()
	assert.Equal(t, gameID, snapshot.ID)
	assert.Equal(t, game.StatusActive, snapshot.Status)
	assert.Equal(t, game.MarkX, snapshot.MySymbol)
	assert.Equal(t, game.MarkO, snapshot.OpponentSymbol)
	assert.True(t, snapshot.MyTurn)
	assert.Equal(t, 120, snapshot.MyTime)
	assert.Equal(t, 120, snapshot.OpponentTime)
	assert.Empty(t, snapshot.MoveHistory)

	// Then: the channel subscription was scoped and the counter reset
	channel.mu.Lock()
	assert.Equal(t, []string{gameID}, channel.joined)
	assert.Equal(t, 1, channel.resets)
	channel.mu.Unlock()

	// Then: the opponent identity is eventually resolved from the cache-backed client
	require.Eventually(t, func() bool {
		return controller.Snapshot().Opponent.Username == "rival"
	}, time.Second, 10*time.Millisecond)
}

func TestController_LoadSessionNotFound(t *testing.T) {
	controller, games, _, _ := newTestController(t)

	games.getErr = fmt.Errorf("wrapped: %w", clients.ErrSessionNotFound)
	require.ErrorIs(t, controller.LoadSession(context.Background(), gameID), ErrNotFound)

	// Given: a session the local user is not part of
	games.getErr = nil
	games.getResp = &game.SessionState{Player1ID: "someone", Player2ID: "else", Status: game.StatusActive}
	require.ErrorIs(t, controller.LoadSession(context.Background(), gameID), ErrNotFound)
}

func TestController_SubmitMoveConfirmed(t *testing.T) {
	// Given: an active session on my turn
	controller, games, _, _ := newTestController(t)
	loadActiveSession(t, controller, games)

	confirmed := game.NewBoard()
	confirmed[0] = game.MarkX
	games.mu.Lock()
	games.moveResp = activeState(confirmed, oppID, 118, 120, 1)
	games.mu.Unlock()

	// When: a move is submitted and the server confirms it
	require.NoError(t, controller.SubmitMove(context.Background(), 0))

	// Then: the confirmed state sticks with no rollback
	snapshot := controller.Snapshot()
	assert.Equal(t, game.MarkX, snapshot.Board[0])
	assert.False(t, snapshot.HasPendingMove)
	assert.False(t, snapshot.MyTurn)
	assert.Equal(t, oppID, snapshot.TurnOwner)
	assert.Equal(t, 1, snapshot.MoveSeq)
	require.Len(t, snapshot.MoveHistory, 1)
	assert.Equal(t, game.Move{Index: 0, Mark: game.MarkX}, snapshot.MoveHistory[0])

	// Then: the move call carried a correlation id
	games.mu.Lock()
	assert.NotEqual(t, uuid.Nil, games.lastRequestID)
	assert.Equal(t, 0, games.lastPosition)
	games.mu.Unlock()
}

func TestController_SubmitMoveAppliesOptimistically(t *testing.T) {
	// Given: an active session whose move call is held open
	controller, games, _, _ := newTestController(t)
	loadActiveSession(t, controller, games)

	gate := make(chan struct{})
	games.mu.Lock()
	games.gate = gate
	games.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- controller.SubmitMove(context.Background(), 5) }()

	// Then: the board shows the move and the turn flips before any response
	require.Eventually(t, func() bool { return games.calls() == 1 }, time.Second, time.Millisecond)
	snapshot := controller.Snapshot()
	assert.Equal(t, game.MarkX, snapshot.Board[5])
	assert.True(t, snapshot.HasPendingMove)
	assert.False(t, snapshot.MyTurn)

	confirmed := game.NewBoard()
	confirmed[5] = game.MarkX
	games.mu.Lock()
	games.moveResp = activeState(confirmed, oppID, 119, 120, 1)
	games.mu.Unlock()
	close(gate)
	require.NoError(t, <-done)
}

func TestController_MoveRejectionRollsBack(t *testing.T) {
	// Given: an active session on my turn
	controller, games, _, _ := newTestController(t)
	loadActiveSession(t, controller, games)

	games.mu.Lock()
	games.moveErr = fmt.Errorf("declined: %w", clients.ErrNotYourTurn)
	games.mu.Unlock()

	// When: the server rejects the move as out of turn
	err := controller.SubmitMove(context.Background(), 5)
	require.ErrorIs(t, err, clients.ErrNotYourTurn)

	// Then: the speculative mark reverts and the turn stays with the opponent
	snapshot := controller.Snapshot()
	assert.Equal(t, game.MarkEmpty, snapshot.Board[5])
	assert.False(t, snapshot.HasPendingMove)
	assert.Equal(t, oppID, snapshot.TurnOwner)

	// Then: a MoveRejected notice fires exactly once
	select {
	case notice := <-controller.Notices():
		assert.Equal(t, NoticeMoveRejected, notice.Kind)
		assert.ErrorIs(t, notice.Err, clients.ErrNotYourTurn)
	default:
		t.Fatal("expected a move rejection notice")
	}
	select {
	case notice := <-controller.Notices():
		t.Fatalf("unexpected second notice: %v", notice.Kind)
	default:
	}
}

func TestController_MoveRejectionRestoresMyTurnOnOtherErrors(t *testing.T) {
	controller, games, _, _ := newTestController(t)
	loadActiveSession(t, controller, games)

	games.mu.Lock()
	games.moveErr = fmt.Errorf("declined: %w", clients.ErrCellTaken)
	games.mu.Unlock()

	err := controller.SubmitMove(context.Background(), 5)
	require.ErrorIs(t, err, clients.ErrCellTaken)

	// Then: the turn returns to the local player
	snapshot := controller.Snapshot()
	assert.Equal(t, game.MarkEmpty, snapshot.Board[5])
	assert.Equal(t, myID, snapshot.TurnOwner)
}

func TestController_AtMostOnePendingMove(t *testing.T) {
	// Given: a move held in flight
	controller, games, _, _ := newTestController(t)
	loadActiveSession(t, controller, games)

	gate := make(chan struct{})
	games.mu.Lock()
	games.gate = gate
	games.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- controller.SubmitMove(context.Background(), 0) }()
	require.Eventually(t, func() bool { return games.calls() == 1 }, time.Second, time.Millisecond)

	// When: a second move is submitted while the first is outstanding
	require.NoError(t, controller.SubmitMove(context.Background(), 1))

	// Then: it has no observable effect on board or turn owner
	snapshot := controller.Snapshot()
	assert.Equal(t, game.MarkEmpty, snapshot.Board[1])
	assert.Equal(t, 1, games.calls())

	confirmed := game.NewBoard()
	confirmed[0] = game.MarkX
	games.mu.Lock()
	games.moveResp = activeState(confirmed, oppID, 120, 120, 1)
	games.mu.Unlock()
	close(gate)
	require.NoError(t, <-done)
}

func TestController_ServerOverridesLocalGuess(t *testing.T) {
	// Given: a speculative move still in flight
	controller, games, _, _ := newTestController(t)
	loadActiveSession(t, controller, games)

	gate := make(chan struct{})
	games.mu.Lock()
	games.gate = gate
	games.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- controller.SubmitMove(context.Background(), 5) }()
	require.Eventually(t, func() bool { return games.calls() == 1 }, time.Second, time.Millisecond)

	// When: an authoritative update disagrees with the speculative cell
	serverBoard := game.NewBoard()
	serverBoard[7] = game.MarkO
	controller.ApplyRemoteUpdate(activeState(serverBoard, myID, 120, 118, 1))

	// Then: the board equals the server board exactly, never a merge
	snapshot := controller.Snapshot()
	assert.True(t, serverBoard.Equal(snapshot.Board))
	assert.False(t, snapshot.HasPendingMove)
	assert.True(t, snapshot.MyTurn)

	// When: the late move response finally lands
	games.mu.Lock()
	games.moveErr = fmt.Errorf("declined: %w", clients.ErrNotYourTurn)
	games.mu.Unlock()
	close(gate)
	require.Error(t, <-done)

	// Then: it cannot disturb the already-reconciled state
	assert.True(t, serverBoard.Equal(controller.Snapshot().Board))
}

func TestController_StaleUpdatesDropped(t *testing.T) {
	// Given: state at move sequence 5
	controller, games, _, _ := newTestController(t)
	loadActiveSession(t, controller, games)

	current := game.NewBoard()
	current[0] = game.MarkX
	current[1] = game.MarkO
	controller.ApplyRemoteUpdate(activeState(current, myID, 100, 100, 5))

	// When: an older update arrives out of order
	stale := game.NewBoard()
	stale[0] = game.MarkX
	controller.ApplyRemoteUpdate(activeState(stale, oppID, 110, 110, 3))

	// Then: the newer state is untouched
	snapshot := controller.Snapshot()
	assert.True(t, current.Equal(snapshot.Board))
	assert.Equal(t, 5, snapshot.MoveSeq)
	assert.True(t, snapshot.MyTurn)
}

func TestController_PartialUpdateKeepsPriorValues(t *testing.T) {
	// Given: a loaded active session
	controller, games, _, _ := newTestController(t)
	loadActiveSession(t, controller, games)
	before := controller.Snapshot()

	// When: an update carries only a turn change, no board and no times
	controller.ApplyRemoteUpdate(&game.SessionState{
		Player1ID:       myID,
		Player2ID:       oppID,
		CurrentPlayerID: oppID,
	})

	// Then: board and countdowns keep their prior values
	snapshot := controller.Snapshot()
	assert.True(t, before.Board.Equal(snapshot.Board))
	assert.Equal(t, before.MyTime, snapshot.MyTime)
	assert.Equal(t, before.OpponentTime, snapshot.OpponentTime)
	assert.Equal(t, oppID, snapshot.TurnOwner)
}

func TestController_TimerDriftAndRebaseline(t *testing.T) {
	// Given: 30 seconds on my clock, my turn
	controller, games, _, clock := newTestController(t)
	games.getResp = activeState(game.NewBoard(), myID, 30, 45, 0)
	require.NoError(t, controller.LoadSession(context.Background(), gameID))

	// When: seven seconds pass locally
	clock.Advance(7 * time.Second)

	// Then: the displayed countdown ticked only for me
	snapshot := controller.Snapshot()
	assert.Equal(t, 23, snapshot.MyTime)
	assert.Equal(t, 45, snapshot.OpponentTime)

	// When: the server reports 22 seconds
	controller.ApplyRemoteUpdate(activeState(game.NewBoard(), myID, 22, 45, 0))

	// Then: the display snaps to the authoritative value
	assert.Equal(t, 22, controller.Snapshot().MyTime)
}

func TestController_TimeUpNoticeDoesNotEndMatch(t *testing.T) {
	controller, games, _, clock := newTestController(t)
	games.getResp = activeState(game.NewBoard(), myID, 3, 45, 0)
	require.NoError(t, controller.LoadSession(context.Background(), gameID))

	// When: my clock runs out locally
	clock.Advance(5 * time.Second)
	controller.tick()

	// Then: a single time-up notice fires and the session stays active
	select {
	case notice := <-controller.Notices():
		assert.Equal(t, NoticeTimeUp, notice.Kind)
		assert.Equal(t, SideMe, notice.Side)
	default:
		t.Fatal("expected a time-up notice")
	}
	assert.Equal(t, game.StatusActive, controller.Snapshot().Status)

	// When: more ticks elapse
	clock.Advance(5 * time.Second)
	controller.tick()

	// Then: the notice does not repeat
	select {
	case notice := <-controller.Notices():
		t.Fatalf("unexpected repeat notice: %v", notice.Kind)
	default:
	}
}

func TestController_CompletionSetsResult(t *testing.T) {
	// Given: an active session
	controller, games, _, clock := newTestController(t)
	loadActiveSession(t, controller, games)

	// When: the opponent wins
	finalBoard := game.NewBoard()
	finalBoard[0] = game.MarkO
	controller.ApplyRemoteCompletion(&game.SessionState{
		ID:          gameID,
		Player1ID:   myID,
		Player2ID:   oppID,
		Board:       finalBoard,
		Status:      game.StatusCompleted,
		WinnerID:    oppID,
		WinningLine: []int{0, 1, 2, 3, 4},
	})

	// Then: result, status and winning line reflect the loss
	snapshot := controller.Snapshot()
	assert.Equal(t, game.StatusCompleted, snapshot.Status)
	assert.Equal(t, game.ResultLoss, snapshot.Result)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, snapshot.WinningLine)
	assert.Empty(t, snapshot.TurnOwner)

	// Then: the end-of-match signal arrives after the settle delay
	select {
	case notice := <-controller.Notices():
		t.Fatalf("match-ended notice fired before the settle delay: %v", notice.Kind)
	default:
	}
	clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool {
		select {
		case notice := <-controller.Notices():
			return notice.Kind == NoticeMatchEnded && notice.Result == game.ResultLoss
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestController_TerminalStateIsImmutable(t *testing.T) {
	// Given: a completed session
	controller, games, _, _ := newTestController(t)
	loadActiveSession(t, controller, games)
	finalBoard := game.NewBoard()
	finalBoard[3] = game.MarkO
	controller.ApplyRemoteCompletion(&game.SessionState{
		ID:        gameID,
		Player1ID: myID,
		Player2ID: oppID,
		Board:     finalBoard,
		Status:    game.StatusCompleted,
		WinnerID:  oppID,
	})
	terminal := controller.Snapshot()

	// When: further updates and moves arrive
	other := game.NewBoard()
	other[8] = game.MarkX
	controller.ApplyRemoteUpdate(activeState(other, myID, 50, 50, 9))
	require.NoError(t, controller.SubmitMove(context.Background(), 8))
	controller.ApplyRemoteCompletion(&game.SessionState{Status: game.StatusAbandoned, WinnerID: myID})

	// Then: board, status and result never change again
	snapshot := controller.Snapshot()
	assert.True(t, terminal.Board.Equal(snapshot.Board))
	assert.Equal(t, terminal.Status, snapshot.Status)
	assert.Equal(t, terminal.Result, snapshot.Result)
	assert.Equal(t, 0, games.calls())
}

func TestController_AbandonedCompletion(t *testing.T) {
	controller, games, _, _ := newTestController(t)
	loadActiveSession(t, controller, games)

	controller.ApplyRemoteCompletion(&game.SessionState{
		ID:        gameID,
		Player1ID: myID,
		Player2ID: oppID,
		Status:    game.StatusAbandoned,
	})

	snapshot := controller.Snapshot()
	assert.Equal(t, game.StatusAbandoned, snapshot.Status)
	assert.Equal(t, game.ResultAbandoned, snapshot.Result)
}

func TestController_DrawWhenNoWinner(t *testing.T) {
	controller, games, _, _ := newTestController(t)
	loadActiveSession(t, controller, games)

	controller.ApplyRemoteCompletion(&game.SessionState{
		ID:        gameID,
		Player1ID: myID,
		Player2ID: oppID,
		Status:    game.StatusCompleted,
	})

	assert.Equal(t, game.ResultDraw, controller.Snapshot().Result)
}

func TestController_WaitingSessionActivatesWhenOpponentJoins(t *testing.T) {
	// Given: a session still waiting for a second player
	controller, games, _, _ := newTestController(t)
	games.getResp = &game.SessionState{
		ID:        gameID,
		Player1ID: myID,
		Status:    game.StatusWaiting,
		Board:     game.NewBoard(),
	}
	require.NoError(t, controller.LoadSession(context.Background(), gameID))
	require.Equal(t, game.StatusWaiting, controller.Snapshot().Status)

	// When: the first update with two participants arrives
	controller.ApplyRemoteUpdate(activeState(game.NewBoard(), myID, 120, 120, 0))

	// Then: the session is active with symbols and turn resolved
	snapshot := controller.Snapshot()
	assert.Equal(t, game.StatusActive, snapshot.Status)
	assert.True(t, snapshot.MyTurn)
	assert.Equal(t, oppID, snapshot.Opponent.ID)
}

func TestController_RunProcessesChannelEvents(t *testing.T) {
	// Given: a running controller fed by the fake channel
	controller, games, channel, _ := newTestController(t)
	loadActiveSession(t, controller, games)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		controller.Run(ctx)
		close(runDone)
	}()

	// When: a game_update event arrives on the channel
	board := game.NewBoard()
	board[10] = game.MarkO
	state := activeState(board, myID, 110, 115, 1)
	channel.events <- realtime.Event{Type: realtime.EventTypeGameUpdate, Data: mustJSON(t, state)}

	// Then: the update is applied
	require.Eventually(t, func() bool {
		return controller.Snapshot().Board[10] == game.MarkO
	}, time.Second, time.Millisecond)

	// When: the run loop stops
	cancel()
	<-runDone

	// Then: the match subscription was released
	channel.mu.Lock()
	assert.Equal(t, []string{gameID}, channel.left)
	channel.mu.Unlock()
}
