package devhub

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/hubchat/pkg/hub"
)

func collectEvents(t *testing.T, ch <-chan *message.Message, done func([]hub.Envelope) bool) []hub.Envelope {
	t.Helper()
	var events []hub.Envelope
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return events
			}
			env, err := hub.ParseEnvelope(msg.Payload)
			require.NoError(t, err)
			events = append(events, env)
			msg.Ack()
			if done(events) {
				return events
			}
		case <-deadline:
			t.Fatalf("timed out after %d events", len(events))
		}
	}
}

func subscribeAgent(t *testing.T) (*gochannel.GoChannel, <-chan *message.Message) {
	t.Helper()
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ps.Close() })
	ch, err := ps.Subscribe(context.Background(), topicForSession("s1"))
	require.NoError(t, err)
	return ps, ch
}

func TestAgentStreamedTurnEventOrder(t *testing.T) {
	ps, ch := subscribeAgent(t)
	agent := NewAgent(time.Millisecond, false, zerolog.Nop())

	go agent.Respond(context.Background(), ps, "s1", "hello", hub.ModeAzureOnly)

	events := collectEvents(t, ch, func(evs []hub.Envelope) bool {
		return evs[len(evs)-1].Type == hub.EventStreamingCompleted
	})

	require.Equal(t, hub.EventStreamingStarted, events[0].Type)
	require.Equal(t, hub.EventStreamingCompleted, events[len(events)-1].Type)

	var text strings.Builder
	for _, env := range events[1 : len(events)-1] {
		require.Equal(t, hub.EventStreamingChunk, env.Type)
		var p hub.ChunkPayload
		require.NoError(t, decodeInto(env, &p))
		text.WriteString(p.Text)
	}
	assert.Contains(t, text.String(), `You said: "hello"`)
}

func TestAgentAtomicFallback(t *testing.T) {
	ps, ch := subscribeAgent(t)
	agent := NewAgent(time.Millisecond, false, zerolog.Nop())

	go agent.Respond(context.Background(), ps, "s1", "atomic please", hub.ModeAzureOnly)

	events := collectEvents(t, ch, func(evs []hub.Envelope) bool { return len(evs) == 1 })
	require.Equal(t, hub.EventFinalResponse, events[0].Type)

	var p hub.FinalResponsePayload
	require.NoError(t, decodeInto(events[0], &p))
	assert.NotEmpty(t, p.Text)
}

func TestAgentEmitsToolCallMidStream(t *testing.T) {
	ps, ch := subscribeAgent(t)
	agent := NewAgent(time.Millisecond, false, zerolog.Nop())

	go agent.Respond(context.Background(), ps, "s1", "use a tool for this", hub.ModeAzureOnly)

	events := collectEvents(t, ch, func(evs []hub.Envelope) bool {
		return evs[len(evs)-1].Type == hub.EventStreamingCompleted
	})

	toolIdx := -1
	for i, env := range events {
		if env.Type == hub.EventToolCall {
			toolIdx = i
		}
	}
	require.GreaterOrEqual(t, toolIdx, 1, "tool call arrives after the stream starts")
	require.Less(t, toolIdx, len(events)-1, "tool call arrives before completion")

	var tc hub.ToolCall
	require.NoError(t, decodeInto(events[toolIdx], &tc))
	assert.Equal(t, "lookup", tc.Tool)
}

func TestAgentRedundantFinal(t *testing.T) {
	ps, ch := subscribeAgent(t)
	agent := NewAgent(time.Millisecond, true, zerolog.Nop())

	go agent.Respond(context.Background(), ps, "s1", "hello", hub.ModeTutorOnly)

	events := collectEvents(t, ch, func(evs []hub.Envelope) bool {
		return evs[len(evs)-1].Type == hub.EventFinalResponse
	})

	require.Equal(t, hub.EventStreamingCompleted, events[len(events)-2].Type)

	var text strings.Builder
	for _, env := range events {
		if env.Type != hub.EventStreamingChunk {
			continue
		}
		var p hub.ChunkPayload
		require.NoError(t, decodeInto(env, &p))
		text.WriteString(p.Text)
	}
	var final hub.FinalResponsePayload
	require.NoError(t, decodeInto(events[len(events)-1], &final))
	assert.Equal(t, text.String(), final.Text, "final duplicates the streamed text")
}

func TestScriptReplyVariesByMode(t *testing.T) {
	agent := NewAgent(time.Millisecond, false, zerolog.Nop())
	seen := map[string]struct{}{}
	for _, mode := range hub.Modes() {
		seen[agent.scriptReply("prompt", mode)] = struct{}{}
	}
	assert.Len(t, seen, len(hub.Modes()))
}

func TestChunkWordsConcatenation(t *testing.T) {
	for _, text := range []string{"", "one", "a b  c", "trailing space "} {
		assert.Equal(t, text, strings.Join(chunkWords(text), ""))
	}
}
