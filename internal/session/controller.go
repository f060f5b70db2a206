package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mcdev12/gomoku-client/internal/clients"
	"github.com/mcdev12/gomoku-client/internal/game"
	"github.com/mcdev12/gomoku-client/internal/realtime"
)

// GameAPI is the slice of the game service the controller consumes.
type GameAPI interface {
	GetSession(ctx context.Context, sessionID string) (*game.SessionState, error)
	SubmitMove(ctx context.Context, sessionID, playerID string, position int, requestID uuid.UUID) (*game.SessionState, error)
}

// ProfileAPI resolves opponent display identities.
type ProfileAPI interface {
	GetProfile(ctx context.Context, userID string) (*clients.Profile, error)
}

// Channel is the realtime gateway handle the controller consumes. It is
// constructor-injected and owned by the surrounding session scope.
type Channel interface {
	Events() <-chan realtime.Event
	Status() realtime.Status
	JoinGame(gameID string) error
	LeaveGame(gameID string) error
	Reconnect() error
	ResetAttempts()
}

// endOfMatchDelay lets the final board render settle before the
// end-of-match summary signal fires.
const endOfMatchDelay = 1500 * time.Millisecond

// Controller is the single source of truth for one live session. It
// arbitrates channel events, local move intents and timer ticks, and emits
// an immutable snapshot on every change. All mutation is serialized behind
// one mutex; collaborators communicate only through its public operations.
type Controller struct {
	log      zerolog.Logger
	clock    clockwork.Clock
	games    GameAPI
	profiles ProfileAPI
	channel  Channel
	userID   string

	mu          sync.Mutex
	loaded      bool
	id          string
	board       game.Board
	authBoard   game.Board
	mySymbol    game.Mark
	oppSymbol   game.Mark
	status      game.Status
	turnOwner   string
	opponentID  string
	opponent    Opponent
	winningLine []int
	result      game.Result
	moveSeq     int
	history     []game.Move
	onlineUsers int

	reconciler  *Reconciler
	rollback    Rollback
	pending     *PendingMove
	timer       *TimerSync
	timeUpFired bool

	updates chan Snapshot
	notices chan Notice
}

// NewController wires the controller to its collaborators. The channel
// handle belongs to this session scope; discard both together.
func NewController(userID string, games GameAPI, profiles ProfileAPI, channel Channel, clock clockwork.Clock, logger zerolog.Logger) *Controller {
	return &Controller{
		log:        logger.With().Str("component", "session").Logger(),
		clock:      clock,
		games:      games,
		profiles:   profiles,
		channel:    channel,
		userID:     userID,
		reconciler: NewReconciler(),
		timer:      NewTimerSync(clock),
		updates:    make(chan Snapshot, 1),
		notices:    make(chan Notice, 8),
	}
}

// Updates delivers read-only session snapshots. The channel is conflated:
// a slow consumer always sees the latest state, never a backlog.
func (c *Controller) Updates() <-chan Snapshot {
	return c.updates
}

// Notices delivers one-shot UI signals (move rejections, time-up, match
// end).
func (c *Controller) Notices() <-chan Notice {
	return c.notices
}

// LoadSession fetches the initial session state and scopes the channel
// subscription to the match. Fails with ErrNotFound when the match does
// not exist or the local user is not a participant; the caller surfaces
// that to the UI, no automatic retry.
func (c *Controller) LoadSession(ctx context.Context, matchID string) error {
	state, err := c.games.GetSession(ctx, matchID)
	if err != nil {
		if errors.Is(err, clients.ErrSessionNotFound) {
			return ErrNotFound
		}
		return err
	}
	if !state.HasParticipant(c.userID) {
		return ErrNotFound
	}

	c.mu.Lock()
	c.loaded = true
	c.id = matchID
	c.mySymbol = state.SymbolFor(c.userID)
	c.oppSymbol = c.mySymbol.Opponent()
	c.opponentID = state.OpponentOf(c.userID)
	c.opponent = Opponent{ID: c.opponentID}
	c.status = game.StatusWaiting
	c.turnOwner = ""
	c.winningLine = nil
	c.result = game.ResultNone
	c.moveSeq = 0
	c.history = nil
	c.board = game.NewBoard()
	c.authBoard = game.NewBoard()
	c.reconciler = NewReconciler()
	c.rollback = nil
	c.pending = nil
	c.timer = NewTimerSync(c.clock)
	c.timeUpFired = false
	c.channel.ResetAttempts()
	c.applyRemoteUpdateLocked(state)
	opponentID := c.opponentID
	c.mu.Unlock()

	if err := c.channel.JoinGame(matchID); err != nil {
		// Not fatal: the room is rejoined on the next connect event.
		c.log.Warn().Err(err).Str("match_id", matchID).Msg("join_game deferred")
	}
	if opponentID != "" {
		go c.fetchOpponentProfile(opponentID)
	}

	c.log.Info().
		Str("match_id", matchID).
		Str("symbol", string(c.mySymbol)).
		Msg("session loaded")
	return nil
}

// Run processes channel events and timer ticks until ctx is cancelled.
// Mutation happens one event at a time; there is no concurrent access to
// session state outside the controller.
func (c *Controller) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			matchID := c.id
			c.mu.Unlock()
			if matchID != "" {
				if err := c.channel.LeaveGame(matchID); err != nil {
					c.log.Debug().Err(err).Msg("leave_game on shutdown failed")
				}
			}
			return
		case event := <-c.channel.Events():
			c.handleEvent(event)
		case <-ticker.Chan():
			c.tick()
		}
	}
}

// handleEvent dispatches one gateway event. The switch is exhaustive over
// the event kinds the gateway emits; unknown kinds degrade to a log line.
func (c *Controller) handleEvent(event realtime.Event) {
	payload, err := realtime.ParseEventPayload(&event)
	if err != nil {
		c.log.Warn().Err(err).Str("event", string(event.Type)).Msg("discarding malformed event payload")
		return
	}

	switch event.Type {
	case realtime.EventTypeConnect:
		c.mu.Lock()
		matchID := c.id
		c.emitLocked()
		c.mu.Unlock()
		if matchID != "" {
			if err := c.channel.JoinGame(matchID); err != nil {
				c.log.Warn().Err(err).Msg("rejoin after connect failed")
			}
		}

	case realtime.EventTypeDisconnect:
		c.log.Warn().Msg("gateway disconnected")
		c.mu.Lock()
		c.emitLocked()
		c.mu.Unlock()

	case realtime.EventTypeConnectionResponse:
		if p, ok := payload.(realtime.ConnectionResponsePayload); ok {
			c.log.Debug().Str("user_id", p.UserID).Str("status", p.Status).Msg("gateway authenticated")
		}

	case realtime.EventTypeJoinedGame:
		if p, ok := payload.(realtime.RoomAckPayload); ok {
			c.log.Debug().Str("game_id", p.GameID).Msg("joined game room")
		}

	case realtime.EventTypeLeftGame:
		if p, ok := payload.(realtime.RoomAckPayload); ok {
			c.log.Debug().Str("game_id", p.GameID).Msg("left game room")
		}

	case realtime.EventTypeOnlineUsers:
		if p, ok := payload.(realtime.OnlineUsersPayload); ok {
			c.mu.Lock()
			c.onlineUsers = p.Count
			c.emitLocked()
			c.mu.Unlock()
		}

	case realtime.EventTypeGameStart, realtime.EventTypeGameUpdate:
		if state, ok := payload.(*game.SessionState); ok {
			c.ApplyRemoteUpdate(state)
		}

	case realtime.EventTypeGameOver:
		if state, ok := payload.(*game.SessionState); ok {
			c.ApplyRemoteCompletion(state)
		}

	default:
		c.log.Debug().Str("event", string(event.Type)).Msg("ignoring unknown gateway event")
	}
}

// ApplyRemoteUpdate overwrites local state from an authoritative partial
// snapshot. Absent fields keep their prior values. A pending speculative
// move is confirmed when the server board reflects it, rolled back
// otherwise; the server is always authoritative over local guesses.
func (c *Controller) ApplyRemoteUpdate(state *game.SessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyRemoteUpdateLocked(state)
}

func (c *Controller) applyRemoteUpdateLocked(state *game.SessionState) {
	if !c.loaded {
		return
	}
	if state.ID != "" && state.ID != c.id {
		c.log.Debug().Str("update_id", state.ID).Msg("ignoring update for another session")
		return
	}
	if c.status.Terminal() {
		return
	}
	if state.MoveSeq != 0 && state.MoveSeq < c.moveSeq {
		c.log.Warn().
			Int("update_seq", state.MoveSeq).
			Int("local_seq", c.moveSeq).
			Msg("dropping stale game update")
		return
	}

	if state.Status.Terminal() {
		c.applyCompletionLocked(state)
		return
	}

	// A second participant appearing moves the session out of waiting and
	// triggers the opponent identity fetch.
	if c.opponentID == "" {
		if opp := state.OpponentOf(c.userID); opp != "" {
			c.opponentID = opp
			c.opponent = Opponent{ID: opp}
			go c.fetchOpponentProfile(opp)
		}
	}

	if state.Board != nil {
		c.resolvePendingLocked(state.Board)
		c.history = append(c.history, c.authBoard.Diff(state.Board)...)
		c.authBoard = state.Board.Clone()
		c.board = state.Board.Clone()
	}

	if state.Status != "" {
		c.status = state.Status
	}
	if state.CurrentPlayerID != "" {
		c.turnOwner = state.CurrentPlayerID
	}
	if state.MoveSeq != 0 {
		c.moveSeq = state.MoveSeq
	}

	c.rebaselineTimerLocked(state)
	c.emitLocked()
}

// ApplyRemoteCompletion transitions the session into its terminal state
// from a game_over event.
func (c *Controller) ApplyRemoteCompletion(state *game.SessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded || c.status.Terminal() {
		return
	}
	if state.ID != "" && state.ID != c.id {
		return
	}
	c.applyCompletionLocked(state)
}

func (c *Controller) applyCompletionLocked(state *game.SessionState) {
	if state.Board != nil {
		c.resolvePendingLocked(state.Board)
		c.history = append(c.history, c.authBoard.Diff(state.Board)...)
		c.authBoard = state.Board.Clone()
		c.board = state.Board.Clone()
	} else if c.pending != nil {
		c.board = c.rollback(c.board)
		c.pending = nil
		c.rollback = nil
	}

	status := state.Status
	if !status.Terminal() {
		status = game.StatusCompleted
	}
	c.status = status
	c.turnOwner = ""
	c.winningLine = append([]int(nil), state.WinningLine...)
	if state.MoveSeq != 0 {
		c.moveSeq = state.MoveSeq
	}

	switch {
	case status == game.StatusAbandoned:
		c.result = game.ResultAbandoned
	case state.WinnerID == c.userID:
		c.result = game.ResultWin
	case state.WinnerID != "":
		c.result = game.ResultLoss
	default:
		c.result = game.ResultDraw
	}

	c.timer.Stop()
	result := c.result
	c.clock.AfterFunc(endOfMatchDelay, func() {
		c.notify(Notice{Kind: NoticeMatchEnded, Result: result})
	})

	c.log.Info().
		Str("match_id", c.id).
		Str("status", string(status)).
		Str("result", string(result)).
		Msg("session ended")
	c.emitLocked()
}

// SubmitMove optimistically applies the local player's move and issues the
// move call. Invalid submissions (occupied cell, not my turn, inactive
// session, move already pending) are silent no-ops: the UI guards them,
// the controller re-validates defensively.
func (c *Controller) SubmitMove(ctx context.Context, cellIndex int) error {
	c.mu.Lock()
	if !c.loaded || c.status != game.StatusActive || c.turnOwner != c.userID || c.pending != nil {
		c.mu.Unlock()
		return nil
	}

	applied, rollback, err := c.reconciler.Apply(c.board, cellIndex, c.mySymbol)
	if err != nil {
		// Occupied or out-of-bounds cells are UI affordances, not errors.
		c.mu.Unlock()
		return nil
	}

	pending := &PendingMove{
		RequestID:   uuid.New(),
		Index:       cellIndex,
		Mark:        c.mySymbol,
		ExpectedSeq: c.moveSeq + 1,
		SubmittedAt: c.clock.Now(),
	}
	c.pending = pending
	c.rollback = rollback
	c.board = applied
	c.turnOwner = c.opponentID

	me, opponent := c.timer.Remaining()
	c.timer.Baseline(me, opponent, SideOpponent)

	matchID := c.id
	c.emitLocked()
	c.mu.Unlock()

	c.log.Debug().
		Str("request_id", pending.RequestID.String()).
		Str("cell", game.CellName(cellIndex)).
		Msg("move submitted")

	state, err := c.games.SubmitMove(ctx, matchID, c.userID, cellIndex, pending.RequestID)
	c.resolveMove(pending.RequestID, state, err)
	return err
}

// resolveMove applies the move call's outcome. If the pending move was
// already resolved by a channel update racing ahead of the response, the
// response still flows through the normal update path, where the
// sequence guard makes it a no-op when stale.
func (c *Controller) resolveMove(requestID uuid.UUID, state *game.SessionState, submitErr error) {
	c.mu.Lock()
	if c.pending == nil || c.pending.RequestID != requestID {
		c.mu.Unlock()
		if state != nil {
			c.ApplyRemoteUpdate(state)
		}
		return
	}

	if submitErr != nil {
		c.board = c.rollback(c.board)
		c.pending = nil
		c.rollback = nil

		// The server knows whose turn it is; on an out-of-turn rejection
		// the speculative flip was accidentally right, so keep it.
		if errors.Is(submitErr, clients.ErrNotYourTurn) {
			c.turnOwner = c.opponentID
		} else {
			c.turnOwner = c.userID
		}
		me, opponent := c.timer.Remaining()
		c.timer.Baseline(me, opponent, c.sideOfLocked(c.turnOwner))
		c.emitLocked()
		c.mu.Unlock()

		c.log.Warn().Err(submitErr).Msg("move rejected, speculative state rolled back")
		c.notify(Notice{Kind: NoticeMoveRejected, Err: submitErr})
		return
	}

	c.applyRemoteUpdateLocked(state)
	c.mu.Unlock()
}

// Reconnect re-establishes the channel on user request, bounded by the
// configured attempt cap.
func (c *Controller) Reconnect() error {
	err := c.channel.Reconnect()
	c.mu.Lock()
	c.emitLocked()
	c.mu.Unlock()
	return err
}

// Snapshot returns the current immutable view of the session.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// tick advances the displayed countdowns and surfaces a one-shot time-up
// signal when the active side's clock runs out. The match itself only
// ends when the server says so.
func (c *Controller) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return
	}

	if c.status == game.StatusActive && !c.timeUpFired {
		if side := c.timer.Expired(); side != SideNone {
			c.timeUpFired = true
			c.log.Info().Str("side", string(side)).Msg("displayed countdown expired")
			c.notify(Notice{Kind: NoticeTimeUp, Side: side})
		}
	}
	c.emitLocked()
}

// rebaselineTimerLocked snaps the countdowns to authoritative values when
// the update carries them, otherwise keeps the displayed values and only
// re-anchors the turn owner.
func (c *Controller) rebaselineTimerLocked(state *game.SessionState) {
	owner := c.sideOfLocked(c.turnOwner)
	if c.status != game.StatusActive {
		owner = SideNone
	}

	myTime := state.TimeFor(c.userID)
	oppTime := state.TimeFor(c.opponentID)
	switch {
	case myTime != nil && oppTime != nil:
		c.timer.Baseline(*myTime, *oppTime, owner)
	case !c.timer.Baselined() && state.InitialTime() > 0:
		initial := state.InitialTime()
		c.timer.Baseline(initial, initial, owner)
	default:
		me, opponent := c.timer.Remaining()
		c.timer.Baseline(me, opponent, owner)
	}

	me, opponent := c.timer.Remaining()
	if (owner == SideMe && me > 0) || (owner == SideOpponent && opponent > 0) {
		c.timeUpFired = false
	}
}

// resolvePendingLocked settles the speculative move against an
// authoritative board: confirmed when the expected mark is present, rolled
// back otherwise. The caller overwrites the board afterwards either way;
// there is no merging.
func (c *Controller) resolvePendingLocked(authoritative game.Board) {
	if c.pending == nil {
		return
	}
	if authoritative.InBounds(c.pending.Index) && authoritative[c.pending.Index] == c.pending.Mark {
		c.reconciler.Confirm()
		c.log.Debug().
			Str("request_id", c.pending.RequestID.String()).
			Str("cell", game.CellName(c.pending.Index)).
			Msg("speculative move confirmed")
	} else {
		c.board = c.rollback(c.board)
		c.log.Warn().
			Str("request_id", c.pending.RequestID.String()).
			Str("cell", game.CellName(c.pending.Index)).
			Msg("speculative move not reflected by server, rolled back")
	}
	c.pending = nil
	c.rollback = nil
}

func (c *Controller) fetchOpponentProfile(opponentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	profile, err := c.profiles.GetProfile(ctx, opponentID)
	if err != nil {
		c.log.Warn().Err(err).Str("opponent_id", opponentID).Msg("opponent profile fetch failed")
		return
	}

	c.mu.Lock()
	if c.opponentID == opponentID {
		c.opponent = Opponent{
			ID:        profile.ID,
			Username:  profile.Username,
			AvatarURL: profile.AvatarURL,
			EloRating: profile.EloRating,
		}
		c.emitLocked()
	}
	c.mu.Unlock()
}

func (c *Controller) sideOfLocked(playerID string) Side {
	switch {
	case playerID == "":
		return SideNone
	case playerID == c.userID:
		return SideMe
	default:
		return SideOpponent
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	me, opponent := c.timer.Remaining()
	return Snapshot{
		ID:             c.id,
		Board:          c.board.Clone(),
		MySymbol:       c.mySymbol,
		OpponentSymbol: c.oppSymbol,
		Status:         c.status,
		TurnOwner:      c.turnOwner,
		MyTurn:         c.turnOwner != "" && c.turnOwner == c.userID,
		WinningLine:    append([]int(nil), c.winningLine...),
		Result:         c.result,
		MyTime:         me,
		OpponentTime:   opponent,
		MoveSeq:        c.moveSeq,
		MoveHistory:    append([]game.Move(nil), c.history...),
		Opponent:       c.opponent,
		Connection:     c.channel.Status(),
		OnlineUsers:    c.onlineUsers,
		HasPendingMove: c.pending != nil,
	}
}

// emitLocked publishes the latest snapshot, conflating with any undrained
// previous one.
func (c *Controller) emitLocked() {
	snapshot := c.snapshotLocked()
	for {
		select {
		case c.updates <- snapshot:
			return
		default:
			select {
			case <-c.updates:
			default:
			}
		}
	}
}

func (c *Controller) notify(notice Notice) {
	select {
	case c.notices <- notice:
	default:
		c.log.Warn().Str("kind", string(notice.Kind)).Msg("dropping notice, consumer not draining")
	}
}
