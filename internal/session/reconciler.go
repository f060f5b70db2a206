package session

import (
	"fmt"

	"github.com/mcdev12/gomoku-client/internal/game"
)

// Rollback restores the board that existed before the speculative move.
// Calling it more than once returns the same restored board; the input is
// never mutated.
type Rollback func(game.Board) game.Board

// Reconciler encapsulates the optimistic-apply/rollback protocol. It holds
// a single pending token: Apply refuses to produce a second speculative
// move until the first is resolved through Confirm or the returned
// Rollback. Mismatches between the speculative board and the authoritative
// one are never merged; the server board fully overwrites local state.
type Reconciler struct {
	pending bool
}

func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Pending reports whether a speculative move is awaiting resolution.
func (r *Reconciler) Pending() bool {
	return r.pending
}

// Apply returns a new board with the candidate move applied and a rollback
// function restoring the prior cell value exactly.
func (r *Reconciler) Apply(board game.Board, index int, mark game.Mark) (game.Board, Rollback, error) {
	if r.pending {
		return nil, nil, ErrMovePending
	}
	if !board.InBounds(index) {
		return nil, nil, fmt.Errorf("%w: %d", ErrCellOutOfBounds, index)
	}
	if board[index] != game.MarkEmpty {
		return nil, nil, fmt.Errorf("%w: %s", ErrCellOccupied, game.CellName(index))
	}

	applied := board.Clone()
	applied[index] = mark
	r.pending = true

	prior := board[index]
	rolledBack := false
	rollback := func(current game.Board) game.Board {
		if !rolledBack {
			rolledBack = true
			r.pending = false
		}
		restored := current.Clone()
		if restored.InBounds(index) {
			restored[index] = prior
		}
		return restored
	}

	return applied, rollback, nil
}

// Confirm resolves the pending move without rollback, once the server
// board reflects the speculative cell.
func (r *Reconciler) Confirm() {
	r.pending = false
}
