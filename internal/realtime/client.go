package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

var (
	ErrNotConnected   = errors.New("not connected to gateway")
	ErrNoCredentials  = errors.New("no credential token to reconnect with")
	ErrReconnectLimit = errors.New("manual reconnect attempt limit reached")
)

// Config holds tuning for the gateway channel.
type Config struct {
	// GatewayURL is the WebSocket endpoint, e.g. ws://localhost:5005/ws.
	GatewayURL string

	// MaxReconnectAttempts caps manual Reconnect calls until the counter
	// is reset by a new session load.
	MaxReconnectAttempts int

	// DialRetries bounds the transport's own retry loop inside a single
	// Connect call.
	DialRetries uint64

	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

// DefaultConfig returns the client-side channel defaults.
func DefaultConfig(gatewayURL string) Config {
	return Config{
		GatewayURL:           gatewayURL,
		MaxReconnectAttempts: 5,
		DialRetries:          2,
		WriteTimeout:         10 * time.Second,
		PingInterval:         15 * time.Second,
		MaxMessageSize:       64 * 1024,
	}
}

// Status is the channel's connectivity as shown to the player.
type Status struct {
	Connected         bool
	ReconnectAttempts int
	LatencyMs         int
}

// Client owns the lifecycle of the persistent channel to the realtime
// gateway. It is constructed per session scope and injected into the
// session controller; there is no shared global channel.
type Client struct {
	cfg   Config
	clock clockwork.Clock
	log   zerolog.Logger

	mu        sync.Mutex
	ws        *websocket.Conn
	done      chan struct{}
	token     string
	connected bool
	attempts  int

	writeMu   sync.Mutex
	latencyMs atomic.Int64

	events chan Event
}

// NewClient creates a disconnected channel handle.
func NewClient(cfg Config, clock clockwork.Clock, logger zerolog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		clock:  clock,
		log:    logger.With().Str("component", "realtime").Logger(),
		events: make(chan Event, 32),
	}
}

// Events delivers gateway events plus synthesized connect/disconnect
// transitions, in arrival order.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Status returns the current connectivity snapshot.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Connected:         c.connected,
		ReconnectAttempts: c.attempts,
		LatencyMs:         int(c.latencyMs.Load()),
	}
}

// Connect establishes the channel with the given credential token. It is
// idempotent: if the same token is already connected the existing channel
// is kept; otherwise any prior channel is torn down and a new one opened.
func (c *Client) Connect(token string) error {
	if token == "" {
		return ErrNoCredentials
	}

	c.mu.Lock()
	if c.connected && c.token == token {
		c.mu.Unlock()
		return nil
	}
	c.teardownLocked()
	c.token = token
	c.mu.Unlock()

	return c.dial(token)
}

// Disconnect tears down the channel. Always safe to call, including when
// no channel exists.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

// Reconnect re-invokes Connect with the stored token, incrementing the
// visible attempt counter. Once the configured maximum is reached further
// attempts are refused until ResetAttempts is called.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	if c.token == "" {
		c.mu.Unlock()
		return ErrNoCredentials
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.mu.Unlock()
		return fmt.Errorf("%w (%d)", ErrReconnectLimit, c.cfg.MaxReconnectAttempts)
	}
	c.attempts++
	attempt := c.attempts
	token := c.token
	c.teardownLocked()
	c.mu.Unlock()

	c.log.Info().Int("attempt", attempt).Msg("manual reconnect")
	return c.dial(token)
}

// ResetAttempts resets the manual reconnect counter, e.g. on a new
// session load.
func (c *Client) ResetAttempts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = 0
}

// JoinGame subscribes the channel to one match's event stream.
func (c *Client) JoinGame(gameID string) error {
	return c.send(Command{Event: commandJoinGame, Data: map[string]any{"game_id": gameID}})
}

// LeaveGame unsubscribes from the match's event stream.
func (c *Client) LeaveGame(gameID string) error {
	return c.send(Command{Event: commandLeaveGame, Data: map[string]any{"game_id": gameID}})
}

// dial opens the WebSocket with a bounded retry loop and starts the pumps.
func (c *Client) dial(token string) error {
	endpoint, err := url.Parse(c.cfg.GatewayURL)
	if err != nil {
		return fmt.Errorf("invalid gateway URL: %w", err)
	}
	query := endpoint.Query()
	query.Set("token", token)
	endpoint.RawQuery = query.Encode()

	var ws *websocket.Conn
	operation := func() error {
		conn, _, dialErr := websocket.DefaultDialer.Dial(endpoint.String(), nil)
		if dialErr != nil {
			return dialErr
		}
		ws = conn
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.cfg.DialRetries)
	if err := backoff.Retry(operation, policy); err != nil {
		c.log.Warn().Err(err).Str("gateway", c.cfg.GatewayURL).Msg("gateway dial failed")
		return fmt.Errorf("failed to dial gateway: %w", err)
	}

	ws.SetReadLimit(c.cfg.MaxMessageSize)
	ws.SetPongHandler(func(appData string) error {
		if sentNanos, parseErr := strconv.ParseInt(appData, 10, 64); parseErr == nil {
			rtt := c.clock.Now().UnixNano() - sentNanos
			c.latencyMs.Store(rtt / int64(time.Millisecond))
		}
		return nil
	})

	done := make(chan struct{})
	c.mu.Lock()
	c.ws = ws
	c.done = done
	c.connected = true
	c.mu.Unlock()

	go c.readPump(ws, done)
	go c.pingLoop(ws, done)

	c.log.Info().Str("gateway", c.cfg.GatewayURL).Msg("gateway connected")
	c.deliver(Event{Type: EventTypeConnect}, done)
	return nil
}

// teardownLocked closes the current channel if one exists. Caller holds mu.
func (c *Client) teardownLocked() {
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	if c.ws != nil {
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			c.clock.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.ws.Close()
		c.ws = nil
	}
	c.connected = false
	c.latencyMs.Store(0)
}

// send writes a command frame on the channel.
func (c *Client) send(cmd Command) error {
	c.mu.Lock()
	ws := c.ws
	connected := c.connected
	c.mu.Unlock()

	if !connected || ws == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd.Event, err)
	}
	return nil
}

// readPump decodes incoming frames into events until the connection drops.
func (c *Client) readPump(ws *websocket.Conn, done chan struct{}) {
	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-done:
				// Deliberate teardown, no disconnect event.
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.log.Warn().Err(err).Msg("gateway connection lost")
				}
				c.markDisconnected(done)
				c.deliver(Event{Type: EventTypeDisconnect}, done)
			}
			return
		}

		var event Event
		if err := json.Unmarshal(message, &event); err != nil {
			c.log.Warn().Err(err).Msg("discarding malformed gateway frame")
			continue
		}
		c.deliver(event, done)
	}
}

// pingLoop measures round-trip latency with timestamped pings.
func (c *Client) pingLoop(ws *websocket.Conn, done chan struct{}) {
	ticker := c.clock.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			payload := strconv.FormatInt(c.clock.Now().UnixNano(), 10)
			c.writeMu.Lock()
			err := ws.WriteControl(websocket.PingMessage, []byte(payload), time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// markDisconnected flips connectivity off if this connection is still the
// active one.
func (c *Client) markDisconnected(done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == done {
		c.done = nil
		c.connected = false
		if c.ws != nil {
			c.ws.Close()
			c.ws = nil
		}
	}
}

// deliver hands an event to the consumer, giving up if the connection is
// torn down before the consumer drains the channel.
func (c *Client) deliver(event Event, done chan struct{}) {
	select {
	case c.events <- event:
	default:
		select {
		case c.events <- event:
		case <-done:
			c.log.Warn().Str("event", string(event.Type)).Msg("dropping event on teardown")
		}
	}
}
