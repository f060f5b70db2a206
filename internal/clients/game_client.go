package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mcdev12/gomoku-client/internal/game"
)

// Machine-readable rejection codes returned by the game service on move
// submission and session lookup.
const (
	codeNotFound  = "NOT_FOUND"
	codeNotActive = "NOT_ACTIVE"
	codeNotTurn   = "NOT_YOUR_TURN"
	codeBadPos    = "BAD_POS"
	codeCellTaken = "CELL_TAKEN"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionNotActive = errors.New("session is not active")
	ErrNotYourTurn      = errors.New("not your turn")
	ErrBadPosition      = errors.New("position out of range")
	ErrCellTaken        = errors.New("cell already taken")
)

// GameSummary is the session metadata record returned by the listing and
// creation endpoints (the full board lives in the live state snapshot).
type GameSummary struct {
	ID         string      `json:"id"`
	Player1ID  string      `json:"player1_id"`
	Player2ID  string      `json:"player2_id"`
	Status     game.Status `json:"status"`
	WinnerID   string      `json:"winner_id,omitempty"`
	StartedAt  string      `json:"started_at,omitempty"`
	FinishedAt string      `json:"finished_at,omitempty"`
}

// GameClient talks to the game service REST API.
type GameClient struct {
	base *BaseClient
	log  zerolog.Logger
}

func NewGameClient(baseURL string, logger zerolog.Logger) *GameClient {
	return &GameClient{
		base: NewBaseClient(baseURL),
		log:  logger.With().Str("client", "game").Logger(),
	}
}

// GetSession fetches the live state snapshot for one match.
func (c *GameClient) GetSession(ctx context.Context, sessionID string) (*game.SessionState, error) {
	body, err := c.base.Get(ctx, "/"+url.PathEscape(sessionID))
	if err != nil {
		return nil, c.mapError(err)
	}

	var state game.SessionState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}
	if state.ID == "" {
		state.ID = sessionID
	}
	return &state, nil
}

// SubmitMove posts a move and returns the updated authoritative snapshot.
// requestID travels as X-Request-ID so duplicate deliveries are traceable
// server-side.
func (c *GameClient) SubmitMove(ctx context.Context, sessionID, playerID string, position int, requestID uuid.UUID) (*game.SessionState, error) {
	payload, err := json.Marshal(map[string]any{
		"user_id":  playerID,
		"position": position,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode move: %w", err)
	}

	headers := map[string]string{"X-Request-ID": requestID.String()}
	body, err := c.base.Post(ctx, "/"+url.PathEscape(sessionID)+"/move", bytes.NewReader(payload), headers)
	if err != nil {
		c.log.Debug().
			Str("session_id", sessionID).
			Int("position", position).
			Str("request_id", requestID.String()).
			Err(err).
			Msg("move submission failed")
		return nil, c.mapError(err)
	}

	var state game.SessionState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("failed to decode move response: %w", err)
	}
	if state.ID == "" {
		state.ID = sessionID
	}
	return &state, nil
}

// CreateGame creates a fresh session. player2ID may be empty, leaving the
// session in waiting status until matchmaking fills the seat.
func (c *GameClient) CreateGame(ctx context.Context, player1ID, player2ID string) (*GameSummary, error) {
	req := map[string]any{"player1_id": player1ID}
	if player2ID != "" {
		req["player2_id"] = player2ID
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode create request: %w", err)
	}

	body, err := c.base.Post(ctx, "/", bytes.NewReader(payload), nil)
	if err != nil {
		return nil, c.mapError(err)
	}

	var summary GameSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, fmt.Errorf("failed to decode created game: %w", err)
	}
	return &summary, nil
}

// ActiveGames lists the user's in-progress sessions.
func (c *GameClient) ActiveGames(ctx context.Context, userID string) ([]GameSummary, error) {
	return c.listGames(ctx, "/active/"+url.PathEscape(userID))
}

// RecentGames lists the user's finished sessions, newest first.
func (c *GameClient) RecentGames(ctx context.Context, userID string, limit, offset int) ([]GameSummary, error) {
	endpoint := fmt.Sprintf("/recent/%s?limit=%d&offset=%d", url.PathEscape(userID), limit, offset)
	return c.listGames(ctx, endpoint)
}

func (c *GameClient) listGames(ctx context.Context, endpoint string) ([]GameSummary, error) {
	body, err := c.base.Get(ctx, endpoint)
	if err != nil {
		return nil, c.mapError(err)
	}

	var games []GameSummary
	if err := json.Unmarshal(body, &games); err != nil {
		return nil, fmt.Errorf("failed to decode game list: %w", err)
	}
	return games, nil
}

// mapError translates service error codes into the client's sentinel
// errors so callers can branch without string matching.
func (c *GameClient) mapError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.Code {
	case codeNotFound:
		return fmt.Errorf("%w: %s", ErrSessionNotFound, apiErr.Code)
	case codeNotActive:
		return fmt.Errorf("%w: %s", ErrSessionNotActive, apiErr.Code)
	case codeNotTurn:
		return fmt.Errorf("%w: %s", ErrNotYourTurn, apiErr.Code)
	case codeBadPos:
		return fmt.Errorf("%w: %s", ErrBadPosition, apiErr.Code)
	case codeCellTaken:
		return fmt.Errorf("%w: %s", ErrCellTaken, apiErr.Code)
	}
	if apiErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: status %d", ErrSessionNotFound, apiErr.StatusCode)
	}
	return err
}
