package game

// SessionState is the session snapshot as it travels on the wire, both in
// REST responses and in game_update / game_over channel payloads.
//
// Channel updates can be partial: absent fields must leave prior local
// values untouched, so everything optional is either a pointer or has a
// distinguishable zero value (nil board, empty strings).
type SessionState struct {
	ID              string `json:"id,omitempty"`
	Player1ID       string `json:"player1_id,omitempty"`
	Player2ID       string `json:"player2_id,omitempty"`
	CurrentPlayerID string `json:"current_player_id,omitempty"`
	Board           Board  `json:"board,omitempty"`
	Status          Status `json:"status,omitempty"`
	WinnerID        string `json:"winner_id,omitempty"`
	WinningLine     []int  `json:"winning_line,omitempty"`
	MoveSeq         int    `json:"move_seq,omitempty"`
	P1Time          *int   `json:"p1_time,omitempty"`
	P2Time          *int   `json:"p2_time,omitempty"`
	UpdatedAt       int64  `json:"updated_at,omitempty"`

	Settings *Settings `json:"settings,omitempty"`
}

// Settings is the per-session configuration chosen at creation time.
type Settings struct {
	Timer *TimerSettings `json:"timer,omitempty"`
}

// TimerSettings holds the initial per-player clock, used when a snapshot
// predates the first per-player time report.
type TimerSettings struct {
	Initial   int `json:"initial"`
	Increment int `json:"increment,omitempty"`
}

// InitialTime returns the configured starting clock, or 0 when the session
// carries no timer settings.
func (s *SessionState) InitialTime() int {
	if s.Settings != nil && s.Settings.Timer != nil {
		return s.Settings.Timer.Initial
	}
	return 0
}

// TimeFor returns the remaining time for the given participant, or nil if
// the payload did not carry it.
func (s *SessionState) TimeFor(playerID string) *int {
	switch playerID {
	case s.Player1ID:
		return s.P1Time
	case s.Player2ID:
		return s.P2Time
	default:
		return nil
	}
}

// SymbolFor returns the mark a participant plays. Player one always holds
// X, matching the server's move application rule.
func (s *SessionState) SymbolFor(playerID string) Mark {
	switch playerID {
	case s.Player1ID:
		return MarkX
	case s.Player2ID:
		return MarkO
	default:
		return MarkEmpty
	}
}

// OpponentOf returns the other participant's identifier, or "" when the
// session is still waiting for a second player.
func (s *SessionState) OpponentOf(playerID string) string {
	switch playerID {
	case s.Player1ID:
		return s.Player2ID
	case s.Player2ID:
		return s.Player1ID
	default:
		return ""
	}
}

// HasParticipant reports whether playerID is one of the two seats.
func (s *SessionState) HasParticipant(playerID string) bool {
	return playerID != "" && (playerID == s.Player1ID || playerID == s.Player2ID)
}
