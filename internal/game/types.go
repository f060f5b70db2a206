package game

import "fmt"

// Board geometry. The platform plays five-in-a-row on a 13x13 grid; the
// server enforces the win condition, the client only needs the dimensions
// for cell addressing and display.
const (
	BoardSize  = 13
	TotalCells = BoardSize * BoardSize
	WinLength  = 5
)

// Mark is the content of a single board cell.
type Mark string

const (
	MarkEmpty Mark = ""
	MarkX     Mark = "X"
	MarkO     Mark = "O"
)

// Opponent returns the other player's mark.
func (m Mark) Opponent() Mark {
	switch m {
	case MarkX:
		return MarkO
	case MarkO:
		return MarkX
	default:
		return MarkEmpty
	}
}

// Status is the lifecycle state of a session as reported by the server.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether no further transitions can leave this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Result is the local player's outcome, derived from the server-reported
// winner identifier.
type Result string

const (
	ResultNone      Result = ""
	ResultWin       Result = "win"
	ResultLoss      Result = "loss"
	ResultDraw      Result = "draw"
	ResultAbandoned Result = "abandoned"
)

// Move is one applied move, kept in the session's append-only history.
type Move struct {
	Index int  `json:"index"`
	Mark  Mark `json:"mark"`
}

// String renders the move as mark plus board coordinate, e.g. "X G7".
func (m Move) String() string {
	return fmt.Sprintf("%s %s", string(m.Mark), CellName(m.Index))
}

// CellName returns the display coordinate for a cell index: column letter
// followed by 1-based row number, "A1" through "M13" on the 13x13 board.
func CellName(index int) string {
	if index < 0 || index >= TotalCells {
		return "?"
	}
	col := rune('A' + index%BoardSize)
	row := index/BoardSize + 1
	return fmt.Sprintf("%c%d", col, row)
}

// Board is the ordered sequence of cell marks, row-major. The server sends
// it as a JSON array of "X"/"O"/null; null decodes to MarkEmpty.
type Board []Mark

// NewBoard returns an empty board of the standard size.
func NewBoard() Board {
	return make(Board, TotalCells)
}

// Clone returns an independent copy of the board.
func (b Board) Clone() Board {
	if b == nil {
		return nil
	}
	out := make(Board, len(b))
	copy(out, b)
	return out
}

// Equal reports whether two boards hold identical marks cell for cell.
func (b Board) Equal(other Board) bool {
	if len(b) != len(other) {
		return false
	}
	for i := range b {
		if b[i] != other[i] {
			return false
		}
	}
	return true
}

// InBounds reports whether index addresses a cell on this board.
func (b Board) InBounds(index int) bool {
	return index >= 0 && index < len(b)
}

// FilledCells returns the number of non-empty cells.
func (b Board) FilledCells() int {
	n := 0
	for _, c := range b {
		if c != MarkEmpty {
			n++
		}
	}
	return n
}

// Diff returns the moves present in other but not in b, in ascending cell
// order. Used to extend the move history from an authoritative board.
func (b Board) Diff(other Board) []Move {
	var moves []Move
	for i := range other {
		if i < len(b) && b[i] == other[i] {
			continue
		}
		if other[i] != MarkEmpty {
			moves = append(moves, Move{Index: i, Mark: other[i]})
		}
	}
	return moves
}
