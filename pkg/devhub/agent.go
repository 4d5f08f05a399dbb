package devhub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/hubchat/pkg/hub"
)

// DefaultChunkDelay paces the scripted stream at roughly reading speed.
const DefaultChunkDelay = 40 * time.Millisecond

// Agent is the scripted responder behind the development hub. It exercises
// every path of the wire contract: streamed replies, interleaved tool calls,
// and the atomic onFinalResponse fallback.
type Agent struct {
	chunkDelay time.Duration
	// redundantFinal mirrors backends that emit onFinalResponse after a
	// completed stream; clients must treat it as a duplicate, not a second
	// answer.
	redundantFinal bool
	logger         zerolog.Logger
}

func NewAgent(chunkDelay time.Duration, redundantFinal bool, logger zerolog.Logger) *Agent {
	if chunkDelay <= 0 {
		chunkDelay = DefaultChunkDelay
	}
	return &Agent{
		chunkDelay:     chunkDelay,
		redundantFinal: redundantFinal,
		logger:         logger,
	}
}

// Respond generates the assistant turn for one ProcessMessage invocation and
// publishes its events to the session topic. Prompts containing "atomic"
// take the non-streamed fallback path; prompts containing "tool" interleave a
// tool call with the text chunks.
func (a *Agent) Respond(ctx context.Context, pub message.Publisher, sessionID, text string, mode hub.AgentMode) {
	reply := a.scriptReply(text, mode)

	if strings.Contains(strings.ToLower(text), "atomic") {
		a.publishEvent(pub, sessionID, hub.EventFinalResponse, hub.FinalResponsePayload{Text: reply})
		return
	}

	a.publishEvent(pub, sessionID, hub.EventStreamingStarted, nil)

	chunks := chunkWords(reply)
	emitTool := strings.Contains(strings.ToLower(text), "tool")
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			return
		}
		if emitTool && i == len(chunks)/2 {
			a.publishEvent(pub, sessionID, hub.EventToolCall, hub.ToolCall{
				Tool:   "lookup",
				Input:  text,
				Output: "3 documents matched",
			})
		}
		a.publishEvent(pub, sessionID, hub.EventStreamingChunk, hub.ChunkPayload{Text: chunk})
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.chunkDelay):
		}
	}

	a.publishEvent(pub, sessionID, hub.EventStreamingCompleted, nil)

	if a.redundantFinal {
		a.publishEvent(pub, sessionID, hub.EventFinalResponse, hub.FinalResponsePayload{Text: reply})
	}
}

func (a *Agent) scriptReply(text string, mode hub.AgentMode) string {
	switch mode {
	case hub.ModeTutorOnly:
		return fmt.Sprintf("Let's work through %q together. First, tell me what you already know about it, and we will build up from there.", text)
	case hub.ModeQuizOnly:
		return fmt.Sprintf("Quiz time! Based on %q: which of the following statements is true? (a) always (b) sometimes (c) never. Answer with a letter.", text)
	case hub.ModeHandoffOrchestration:
		return fmt.Sprintf("Routing your request %q to the best-suited agent. The tutor agent picked it up and suggests starting with the fundamentals.", text)
	default:
		return fmt.Sprintf("You said: %q. Here is a detailed answer streamed one piece at a time, so the surface can pace it for reading.", text)
	}
}

func (a *Agent) publishEvent(pub message.Publisher, sessionID, event string, data any) {
	frame, err := hub.EncodeEvent(event, data)
	if err != nil {
		a.logger.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), frame)
	if err := pub.Publish(topicForSession(sessionID), msg); err != nil {
		a.logger.Warn().Err(err).Str("event", event).Str("session_id", sessionID).Msg("failed to publish event")
	}
}

// chunkWords splits text into word-sized fragments whose concatenation is
// exactly the input.
func chunkWords(text string) []string {
	if text == "" {
		return nil
	}
	return strings.SplitAfter(text, " ")
}
