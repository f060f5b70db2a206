package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/mcdev12/gomoku-client/internal/game"
)

// EventType identifies a named gateway event.
type EventType string

const (
	// Synthesized locally on channel lifecycle transitions.
	EventTypeConnect    EventType = "connect"
	EventTypeDisconnect EventType = "disconnect"

	// Delivered by the gateway.
	EventTypeConnectionResponse EventType = "connection_response"
	EventTypeJoinedGame         EventType = "joined_game"
	EventTypeLeftGame           EventType = "left_game"
	EventTypeGameStart          EventType = "game_start"
	EventTypeGameUpdate         EventType = "game_update"
	EventTypeGameOver           EventType = "game_over"
	EventTypeOnlineUsers        EventType = "online_users_update"
)

// Event is one gateway message: a named event plus its raw payload.
type Event struct {
	Type EventType       `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Command is a client-to-gateway message scoping the event subscription.
type Command struct {
	Event EventType      `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

const (
	commandJoinGame  EventType = "join_game"
	commandLeaveGame EventType = "leave_game"
)

// ConnectionResponsePayload acknowledges a successful authenticated connect.
type ConnectionResponsePayload struct {
	Status string `json:"status"`
	UserID string `json:"user_id"`
}

// RoomAckPayload acknowledges joining or leaving a game room.
type RoomAckPayload struct {
	GameID string `json:"game_id"`
}

// OnlineUsersPayload carries the platform-wide online player count.
type OnlineUsersPayload struct {
	Count int `json:"count"`
}

// ParseEventPayload decodes an event's data into its typed payload struct.
// Unknown event types return (nil, nil) so new gateway events degrade to a
// log line instead of an error.
func ParseEventPayload(event *Event) (any, error) {
	switch event.Type {
	case EventTypeGameStart, EventTypeGameUpdate, EventTypeGameOver:
		var payload game.SessionState
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", event.Type, err)
		}
		return &payload, nil

	case EventTypeConnectionResponse:
		var payload ConnectionResponsePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", event.Type, err)
		}
		return payload, nil

	case EventTypeJoinedGame, EventTypeLeftGame:
		var payload RoomAckPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", event.Type, err)
		}
		return payload, nil

	case EventTypeOnlineUsers:
		var payload OnlineUsersPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", event.Type, err)
		}
		return payload, nil

	case EventTypeConnect, EventTypeDisconnect:
		return nil, nil

	default:
		return nil, nil
	}
}
