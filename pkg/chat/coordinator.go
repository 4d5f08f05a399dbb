package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/hubchat/pkg/hub"
	"github.com/go-go-golems/hubchat/pkg/reveal"
)

// TurnState tracks one user send from submission to its single committed
// assistant reply.
type TurnState int

const (
	TurnIdle TurnState = iota
	TurnWaitingForStart
	TurnStreaming
	TurnSettled
)

func (t TurnState) String() string {
	switch t {
	case TurnIdle:
		return "idle"
	case TurnWaitingForStart:
		return "waiting-for-start"
	case TurnStreaming:
		return "streaming"
	case TurnSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// StreamClient is the slice of the hub connection the coordinator needs.
// *hub.Conn satisfies it; tests substitute a fake transport.
type StreamClient interface {
	Send(ctx context.Context, text, sessionID string, mode hub.AgentMode) error
	JoinSession(ctx context.Context, sessionID string) error
	LeaveSession(ctx context.Context, sessionID string) error
	OnStreamingStarted(h func())
	OnStreamingChunk(h func(text string))
	OnStreamingCompleted(h func())
	OnToolCall(h func(tc hub.ToolCall))
	OnFinalResponse(h func(text string))
}

type CoordinatorConfig struct {
	Client StreamClient
	Store  *Store
	Engine *reveal.Engine
	Mode   hub.AgentMode
	Logger *zerolog.Logger
}

// Coordinator binds hub streaming events to the reveal engine and the message
// log. It guarantees that every send settles with exactly one assistant
// message, whether the reply streams, arrives atomically, or fails.
type Coordinator struct {
	client StreamClient
	store  *Store
	engine *reveal.Engine
	logger zerolog.Logger

	mu           sync.Mutex
	mode         hub.AgentMode
	state        TurnState
	turnSession  string
	pendingTools []ToolCall
	thinking     bool
}

func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Client == nil {
		return nil, errors.New("coordinator client is nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("coordinator store is nil")
	}
	if cfg.Engine == nil {
		return nil, errors.New("coordinator reveal engine is nil")
	}
	mode := cfg.Mode
	if mode == "" {
		mode = hub.ModeAzureOnly
	}
	logger := log.With().Str("component", "coordinator").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	co := &Coordinator{
		client: cfg.Client,
		store:  cfg.Store,
		engine: cfg.Engine,
		logger: logger,
		mode:   mode,
	}
	// Registration replaces any previous handlers, so building a new
	// coordinator over the same connection never double-processes events.
	cfg.Client.OnStreamingStarted(co.handleStreamingStarted)
	cfg.Client.OnStreamingChunk(co.handleStreamingChunk)
	cfg.Client.OnStreamingCompleted(co.handleStreamingCompleted)
	cfg.Client.OnToolCall(co.handleToolCall)
	cfg.Client.OnFinalResponse(co.handleFinalResponse)
	return co, nil
}

// ActivateSession binds the coordinator to sessionID: it leaves the previous
// session, discards any in-progress reveal so a stale tick can never write
// into the new context, and joins the new session. Leave and join are
// independent fallible operations; failures are advisory and logged.
func (co *Coordinator) ActivateSession(ctx context.Context, sessionID string) error {
	co.mu.Lock()
	prev := co.store.ActiveID()
	co.engine.ClearText()
	co.state = TurnIdle
	co.turnSession = ""
	co.pendingTools = nil
	co.thinking = false
	co.mu.Unlock()

	if prev != "" && prev != sessionID {
		if err := co.client.LeaveSession(ctx, prev); err != nil {
			co.logger.Warn().Err(err).Str("session_id", prev).Msg("leave session failed")
		}
	}
	if err := co.store.SetActive(sessionID); err != nil {
		return err
	}
	if err := co.client.JoinSession(ctx, sessionID); err != nil {
		co.logger.Warn().Err(err).Str("session_id", sessionID).Msg("join session failed")
	}
	return nil
}

// Send submits one user turn on the active session. The user message is
// appended to the log immediately; the turn then waits for streaming events.
// If the send itself fails, a locally synthesized assistant error message is
// committed so the conversation keeps its one-outcome-per-send shape, and the
// typed error is returned.
func (co *Coordinator) Send(ctx context.Context, text string) error {
	co.mu.Lock()
	if co.state == TurnWaitingForStart || co.state == TurnStreaming {
		// The reveal buffer is owned by the in-flight turn until it settles.
		co.mu.Unlock()
		return errors.New("a turn is already in progress")
	}
	sessionID := co.store.ActiveID()
	if sessionID == "" {
		co.mu.Unlock()
		return errors.New("no active session")
	}
	mode := co.mode
	if _, err := co.store.AddUserMessage(sessionID, text); err != nil {
		co.mu.Unlock()
		return err
	}
	co.state = TurnWaitingForStart
	co.turnSession = sessionID
	co.pendingTools = nil
	co.thinking = true
	co.mu.Unlock()

	if err := co.client.Send(ctx, text, sessionID, mode); err != nil {
		co.mu.Lock()
		co.state = TurnIdle
		co.turnSession = ""
		co.thinking = false
		co.mu.Unlock()
		content := fmt.Sprintf("Sorry, your message could not be sent: %v", err)
		if _, appendErr := co.store.AddAssistantMessage(sessionID, content, nil); appendErr != nil {
			co.logger.Error().Err(appendErr).Msg("failed to append send-failure message")
		}
		return err
	}
	return nil
}

// SwitchMode changes the agent mode for subsequent sends. Switching resets
// the active conversation's turn history and the reveal buffer.
func (co *Coordinator) SwitchMode(mode hub.AgentMode) error {
	if !mode.Valid() {
		return errors.Errorf("unknown agent mode %q", string(mode))
	}
	co.mu.Lock()
	defer co.mu.Unlock()
	if mode == co.mode {
		return nil
	}
	co.mode = mode
	co.engine.ClearText()
	co.state = TurnIdle
	co.turnSession = ""
	co.pendingTools = nil
	co.thinking = false
	if id := co.store.ActiveID(); id != "" {
		if err := co.store.ResetHistory(id); err != nil {
			return err
		}
	}
	return nil
}

func (co *Coordinator) Mode() hub.AgentMode {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.mode
}

func (co *Coordinator) TurnState() TurnState {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.state
}

// IsThinking reports whether a send is awaiting its assistant reply; drives
// the "thinking" indicator.
func (co *Coordinator) IsThinking() bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.thinking
}

// PendingToolCalls returns tool calls received during the in-progress turn,
// for inline rendering before the turn settles.
func (co *Coordinator) PendingToolCalls() []ToolCall {
	co.mu.Lock()
	defer co.mu.Unlock()
	return append([]ToolCall(nil), co.pendingTools...)
}

func (co *Coordinator) handleStreamingStarted() {
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.state != TurnWaitingForStart {
		co.logger.Debug().Str("state", co.state.String()).Msg("StreamingStarted outside a pending turn, ignoring")
		return
	}
	if co.turnSession != co.store.ActiveID() {
		// The user switched sessions after sending; the reply belongs to a
		// context that is no longer visible.
		co.logger.Debug().Str("session_id", co.turnSession).Msg("StreamingStarted for inactive session, ignoring")
		return
	}
	co.engine.ClearText()
	co.state = TurnStreaming
}

func (co *Coordinator) handleStreamingChunk(text string) {
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.state != TurnStreaming || co.turnSession != co.store.ActiveID() {
		return
	}
	co.engine.AppendText(text)
}

func (co *Coordinator) handleToolCall(tc hub.ToolCall) {
	co.mu.Lock()
	defer co.mu.Unlock()
	record := ToolCall{Tool: tc.Tool, Input: tc.Input, Output: tc.Output}
	switch co.state {
	case TurnWaitingForStart, TurnStreaming:
		co.pendingTools = append(co.pendingTools, record)
	default:
		sessionID := co.store.ActiveID()
		if sessionID == "" {
			return
		}
		if err := co.store.AttachToolCall(sessionID, record); err != nil {
			co.logger.Warn().Err(err).Msg("dropping tool call")
		}
	}
}

func (co *Coordinator) handleStreamingCompleted() {
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.state != TurnStreaming {
		co.logger.Debug().Str("state", co.state.String()).Msg("StreamingCompleted outside a streaming turn, ignoring")
		return
	}
	if co.turnSession != co.store.ActiveID() {
		co.engine.ClearText()
		co.state = TurnIdle
		co.turnSession = ""
		co.pendingTools = nil
		co.thinking = false
		return
	}
	content := co.engine.FullText()
	co.commitLocked(content)
}

func (co *Coordinator) handleFinalResponse(text string) {
	co.mu.Lock()
	defer co.mu.Unlock()
	switch co.state {
	case TurnWaitingForStart:
		// Non-streaming fallback: the backend answered atomically. Commit one
		// message directly; the reveal engine's pacing is never involved.
		if co.turnSession != co.store.ActiveID() {
			co.state = TurnIdle
			co.turnSession = ""
			co.thinking = false
			return
		}
		co.commitLocked(text)
	case TurnStreaming, TurnSettled:
		// A duplicate completion signal for a turn that streamed (or already
		// settled). Exactly one assistant message per send.
		co.logger.Debug().Str("state", co.state.String()).Msg("ignoring redundant FinalResponse")
	default:
		co.logger.Debug().Msg("unsolicited FinalResponse, ignoring")
	}
}

// commitLocked materializes the single assistant message for the current
// turn, clears the transient reveal buffer, and settles the turn.
func (co *Coordinator) commitLocked(content string) {
	if _, err := co.store.AddAssistantMessage(co.turnSession, content, co.pendingTools); err != nil {
		co.logger.Error().Err(err).Str("session_id", co.turnSession).Msg("failed to commit assistant message")
	}
	co.engine.ClearText()
	co.state = TurnSettled
	co.pendingTools = nil
	co.thinking = false
}
