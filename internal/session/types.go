package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/gomoku-client/internal/game"
	"github.com/mcdev12/gomoku-client/internal/realtime"
)

var (
	ErrNotFound         = errors.New("session not found or user not a participant")
	ErrMovePending      = errors.New("a move is already awaiting confirmation")
	ErrCellOccupied     = errors.New("cell is already occupied")
	ErrCellOutOfBounds  = errors.New("cell index out of bounds")
	ErrSessionNotLoaded = errors.New("no session loaded")
)

// Side distinguishes the local player from the opponent.
type Side string

const (
	SideNone     Side = ""
	SideMe       Side = "me"
	SideOpponent Side = "opponent"
)

// PendingMove is the single speculative move awaiting server resolution.
// RequestID is generated client-side and sent with the move call so the
// submission can be correlated beyond bare board-content matching.
type PendingMove struct {
	RequestID   uuid.UUID
	Index       int
	Mark        game.Mark
	ExpectedSeq int
	SubmittedAt time.Time
}

// Opponent is the cached display identity of the other participant.
type Opponent struct {
	ID        string
	Username  string
	AvatarURL string
	EloRating int
}

// Snapshot is the immutable view of session state handed to the
// presentation layer on every change.
type Snapshot struct {
	ID             string
	Board          game.Board
	MySymbol       game.Mark
	OpponentSymbol game.Mark
	Status         game.Status
	TurnOwner      string
	MyTurn         bool
	WinningLine    []int
	Result         game.Result
	MyTime         int
	OpponentTime   int
	MoveSeq        int
	MoveHistory    []game.Move
	Opponent       Opponent
	Connection     realtime.Status
	OnlineUsers    int
	HasPendingMove bool
}

// NoticeKind names a one-shot signal surfaced to the UI layer.
type NoticeKind string

const (
	// NoticeMoveRejected fires once when the server declines a submitted
	// move; the speculative state has already been rolled back.
	NoticeMoveRejected NoticeKind = "move_rejected"

	// NoticeTimeUp fires once when a player's displayed countdown reaches
	// zero while the session is still active. Termination stays
	// server-driven.
	NoticeTimeUp NoticeKind = "time_up"

	// NoticeMatchEnded fires after the end-of-match settle delay once a
	// terminal update has been applied.
	NoticeMatchEnded NoticeKind = "match_ended"
)

// Notice is a one-shot UI signal.
type Notice struct {
	Kind   NoticeKind
	Side   Side
	Result game.Result
	Err    error
}
