package session

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// TimerSync presents smooth per-second countdowns for both players while
// authoritative remaining times arrive only on discrete server updates.
//
// On every authoritative update the countdown is re-baselined exactly from
// the server values; between updates only the turn owner's side ticks
// down. Local ticking is a display convenience, never a source of truth,
// and never ends the match.
type TimerSync struct {
	clock clockwork.Clock

	baseMe       int
	baseOpponent int
	owner        Side
	baselinedAt  time.Time
}

func NewTimerSync(clock clockwork.Clock) *TimerSync {
	return &TimerSync{clock: clock}
}

// Baseline snapshots authoritative remaining times and the turn owner,
// discarding any local drift accumulated since the previous update.
func (t *TimerSync) Baseline(me, opponent int, owner Side) {
	t.baseMe = clampNonNegative(me)
	t.baseOpponent = clampNonNegative(opponent)
	t.owner = owner
	t.baselinedAt = t.clock.Now()
}

// Baselined reports whether an authoritative baseline has been taken yet.
func (t *TimerSync) Baselined() bool {
	return !t.baselinedAt.IsZero()
}

// Stop freezes both countdowns, e.g. when the session leaves active status.
func (t *TimerSync) Stop() {
	me, opponent := t.Remaining()
	t.baseMe = me
	t.baseOpponent = opponent
	t.owner = SideNone
	t.baselinedAt = t.clock.Now()
}

// Remaining returns the displayed countdowns. The active side decreases by
// the whole seconds elapsed since the baseline, floored at zero; the
// inactive side is unchanged.
func (t *TimerSync) Remaining() (me, opponent int) {
	me, opponent = t.baseMe, t.baseOpponent
	if t.baselinedAt.IsZero() || t.owner == SideNone {
		return me, opponent
	}

	elapsed := int(t.clock.Since(t.baselinedAt) / time.Second)
	if elapsed <= 0 {
		return me, opponent
	}

	switch t.owner {
	case SideMe:
		me = clampNonNegative(me - elapsed)
	case SideOpponent:
		opponent = clampNonNegative(opponent - elapsed)
	}
	return me, opponent
}

// Expired returns the side whose displayed countdown has reached zero, or
// SideNone. Only the current turn owner can expire locally.
func (t *TimerSync) Expired() Side {
	me, opponent := t.Remaining()
	switch {
	case t.owner == SideMe && me == 0:
		return SideMe
	case t.owner == SideOpponent && opponent == 0:
		return SideOpponent
	default:
		return SideNone
	}
}

func clampNonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
