package hub

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the connection lifecycle state. There is exactly one physical
// socket at a time; reconnect attempts are transparent retries of the same
// logical connection, not new ones.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultInvokeTimeout    = 10 * time.Second
)

type ConnConfig struct {
	// URL of the hub websocket endpoint, e.g. ws://localhost:5038/chathub.
	URL string

	HandshakeTimeout time.Duration
	// InvokeTimeout caps how long an invocation waits for its ack.
	InvokeTimeout time.Duration
	// MaxReconnectElapsed bounds the automatic reconnect schedule. Zero means
	// retry forever; when the budget is exhausted the connection lands in a
	// terminal Disconnected state and requires an explicit Connect.
	MaxReconnectElapsed time.Duration

	Logger *zerolog.Logger
}

// Conn owns the physical connection to the hub: connect/disconnect, automatic
// reconnect, dispatch of named inbound events, and session-scoped commands.
// It is safe for concurrent use; mutation from outside happens only through
// its command methods and handler registration.
type Conn struct {
	url              string
	handshakeTimeout time.Duration
	invokeTimeout    time.Duration
	maxReconnect     time.Duration
	logger           zerolog.Logger
	events           *dispatcher

	mu      sync.Mutex
	state   State
	ws      *websocket.Conn
	pending map[string]chan error
	lastErr error
	closing bool

	writeMu sync.Mutex
}

func NewConn(cfg ConnConfig) (*Conn, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("hub URL is required")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.InvokeTimeout <= 0 {
		cfg.InvokeTimeout = defaultInvokeTimeout
	}
	logger := log.With().Str("component", "hub").Str("url", cfg.URL).Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Conn{
		url:              cfg.URL,
		handshakeTimeout: cfg.HandshakeTimeout,
		invokeTimeout:    cfg.InvokeTimeout,
		maxReconnect:     cfg.MaxReconnectElapsed,
		logger:           logger,
		events:           newDispatcher(logger),
		pending:          map[string]chan error{},
	}, nil
}

// Connect establishes the websocket. It is idempotent: a no-op while already
// Connected, Connecting, or Reconnecting. On handshake failure the state stays
// Disconnected and the error is recorded.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.closing = false
	c.mu.Unlock()

	ws, err := c.dial(ctx)
	if err != nil {
		cerr := &ConnectFailedError{URL: c.url, Err: err}
		c.mu.Lock()
		c.state = StateDisconnected
		c.lastErr = cerr
		c.mu.Unlock()
		c.logger.Warn().Err(err).Msg("hub connect failed")
		return cerr
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		_ = ws.Close()
		return nil
	}
	c.ws = ws
	c.state = StateConnected
	c.lastErr = nil
	c.mu.Unlock()

	c.logger.Info().Msg("hub connected")
	go c.readLoop(ws)
	return nil
}

// Close tears down the socket and suppresses automatic reconnect. The state
// always ends up Disconnected.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closing = true
	ws := c.ws
	c.ws = nil
	c.state = StateDisconnected
	c.failPendingLocked(errors.New("connection closed"))
	c.mu.Unlock()
	if ws != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = ws.Close()
		c.logger.Info().Msg("hub disconnected")
	}
	return nil
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) IsConnected() bool {
	return c.State() == StateConnected
}

// LastError returns the most recent reported connection-level error, or nil.
func (c *Conn) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Send submits a user turn via the ProcessMessage invocation. It fails fast
// with ErrNotConnected when the connection is not active; remote rejections
// and transport failures surface as *SendFailedError.
func (c *Conn) Send(ctx context.Context, text, sessionID string, mode AgentMode) error {
	err := c.invoke(ctx, MethodProcessMessage, ProcessMessagePayload{
		Text:      text,
		SessionID: sessionID,
		AgentMode: mode,
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotConnected) {
		return err
	}
	return &SendFailedError{SessionID: sessionID, Err: err}
}

// JoinSession binds the client to a session. Joining must precede the first
// send for that session to be meaningful server-side, but sends are not
// blocked on it.
func (c *Conn) JoinSession(ctx context.Context, sessionID string) error {
	err := c.invoke(ctx, MethodJoinSession, SessionPayload{SessionID: sessionID})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotConnected) {
		return err
	}
	return &SessionOpError{Op: "join", SessionID: sessionID, Err: err}
}

// LeaveSession unbinds from a session. Leaving is advisory cleanup; already
// sent messages are unaffected.
func (c *Conn) LeaveSession(ctx context.Context, sessionID string) error {
	err := c.invoke(ctx, MethodLeaveSession, SessionPayload{SessionID: sessionID})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotConnected) {
		return err
	}
	return &SessionOpError{Op: "leave", SessionID: sessionID, Err: err}
}

// OnStreamingStarted registers the handler for the start of an assistant
// turn, replacing any previous one. All On* registrations share the
// replace-not-stack contract: at most one handler per event name.
func (c *Conn) OnStreamingStarted(h func()) {
	if h == nil {
		c.events.register(EventStreamingStarted, nil)
		return
	}
	c.events.register(EventStreamingStarted, func(Envelope) { h() })
}

func (c *Conn) OnStreamingChunk(h func(text string)) {
	if h == nil {
		c.events.register(EventStreamingChunk, nil)
		return
	}
	c.events.register(EventStreamingChunk, func(env Envelope) {
		if p, ok := decodePayload[ChunkPayload](c.events, env); ok {
			h(p.Text)
		}
	})
}

func (c *Conn) OnStreamingCompleted(h func()) {
	if h == nil {
		c.events.register(EventStreamingCompleted, nil)
		return
	}
	c.events.register(EventStreamingCompleted, func(Envelope) { h() })
}

func (c *Conn) OnToolCall(h func(tc ToolCall)) {
	if h == nil {
		c.events.register(EventToolCall, nil)
		return
	}
	c.events.register(EventToolCall, func(env Envelope) {
		if p, ok := decodePayload[ToolCall](c.events, env); ok {
			h(p)
		}
	})
}

func (c *Conn) OnFinalResponse(h func(text string)) {
	if h == nil {
		c.events.register(EventFinalResponse, nil)
		return
	}
	c.events.register(EventFinalResponse, func(env Envelope) {
		if p, ok := decodePayload[FinalResponsePayload](c.events, env); ok {
			h(p.Text)
		}
	})
}

// RemoveHandlers drops all registered event handlers.
func (c *Conn) RemoveHandlers() {
	c.events.removeAll()
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, c.url, nil) //nolint:bodyclose
	return ws, err
}

// invoke writes one invocation envelope and waits for its ack or error reply.
func (c *Conn) invoke(ctx context.Context, method string, payload any) error {
	c.mu.Lock()
	if c.state != StateConnected || c.ws == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	ws := c.ws
	id := uuid.NewString()
	reply := make(chan error, 1)
	c.pending[id] = reply
	c.mu.Unlock()

	b, err := encodeEnvelope(method, id, payload)
	if err != nil {
		c.dropPending(id)
		return err
	}

	c.writeMu.Lock()
	err = ws.WriteMessage(websocket.TextMessage, b)
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(id)
		return errors.Wrapf(err, "write %s", method)
	}

	timer := time.NewTimer(c.invokeTimeout)
	defer timer.Stop()
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		c.dropPending(id)
		return ctx.Err()
	case <-timer.C:
		c.dropPending(id)
		return errors.Errorf("%s: timed out waiting for ack", method)
	}
}

func (c *Conn) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) failPendingLocked(err error) {
	for id, ch := range c.pending {
		ch <- err
		delete(c.pending, id)
	}
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleReadError(ws, err)
			return
		}
		env, err := decodeEnvelope(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		switch env.Type {
		case frameAck, frameError:
			c.resolvePending(env)
		default:
			c.events.dispatch(env)
		}
	}
}

func (c *Conn) resolvePending(env Envelope) {
	c.mu.Lock()
	reply, ok := c.pending[env.ID]
	delete(c.pending, env.ID)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug().Str("id", env.ID).Str("type", env.Type).Msg("reply for unknown invocation")
		return
	}
	if env.Type == frameError {
		p, _ := decodePayload[errorPayload](c.events, env)
		msg := p.Message
		if msg == "" {
			msg = "hub returned an error"
		}
		reply <- errors.New(msg)
		return
	}
	reply <- nil
}

func (c *Conn) handleReadError(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.ws != ws {
		// A stale read loop from a socket that was already replaced.
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.failPendingLocked(ErrNotConnected)
	if c.closing {
		c.state = StateDisconnected
		c.mu.Unlock()
		return
	}
	c.state = StateReconnecting
	c.lastErr = err
	c.mu.Unlock()

	c.logger.Warn().Err(err).Msg("hub connection lost, reconnecting")
	go c.reconnect()
}

// reconnect redials with exponential backoff until it succeeds, Close is
// called, or the configured budget runs out.
func (c *Conn) reconnect() {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxReconnect

	for {
		c.mu.Lock()
		if c.closing || c.state != StateReconnecting {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			c.mu.Lock()
			c.state = StateDisconnected
			c.lastErr = errors.New("reconnect attempts exhausted")
			c.mu.Unlock()
			c.logger.Error().Msg("giving up on reconnect")
			return
		}
		time.Sleep(wait)

		ctx, cancel := context.WithTimeout(context.Background(), c.handshakeTimeout)
		ws, err := c.dial(ctx)
		cancel()
		if err != nil {
			c.logger.Debug().Err(err).Msg("reconnect attempt failed")
			continue
		}

		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			_ = ws.Close()
			return
		}
		c.ws = ws
		c.state = StateConnected
		c.lastErr = nil
		c.mu.Unlock()

		c.logger.Info().Msg("hub reconnected")
		go c.readLoop(ws)
		return
	}
}
