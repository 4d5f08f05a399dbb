package hub

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnvelope(t *testing.T, typ string, data any) Envelope {
	t.Helper()
	env := Envelope{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		env.Data = raw
	}
	return env
}

func TestDispatchRoutesByEventName(t *testing.T) {
	d := newDispatcher(zerolog.Nop())
	var got []string
	d.register(EventStreamingChunk, func(env Envelope) {
		payload, ok := decodePayload[ChunkPayload](d, env)
		require.True(t, ok)
		got = append(got, payload.Text)
	})

	d.dispatch(testEnvelope(t, EventStreamingChunk, ChunkPayload{Text: "a"}))
	d.dispatch(testEnvelope(t, EventStreamingCompleted, nil))
	d.dispatch(testEnvelope(t, EventStreamingChunk, ChunkPayload{Text: "b"}))

	assert.Equal(t, []string{"a", "b"}, got)
}

func TestRegisterReplacesPreviousHandler(t *testing.T) {
	d := newDispatcher(zerolog.Nop())
	first := 0
	second := 0
	d.register(EventStreamingStarted, func(Envelope) { first++ })
	d.register(EventStreamingStarted, func(Envelope) { second++ })

	d.dispatch(testEnvelope(t, EventStreamingStarted, nil))

	assert.Equal(t, 0, first, "replaced handler must not fire")
	assert.Equal(t, 1, second)
}

func TestRegisterNilUnregisters(t *testing.T) {
	d := newDispatcher(zerolog.Nop())
	calls := 0
	d.register(EventToolCall, func(Envelope) { calls++ })
	d.register(EventToolCall, nil)

	d.dispatch(testEnvelope(t, EventToolCall, ToolCall{Tool: "search"}))
	assert.Equal(t, 0, calls)
}

func TestDispatchUnknownEventIsDropped(t *testing.T) {
	d := newDispatcher(zerolog.Nop())
	require.NotPanics(t, func() {
		d.dispatch(testEnvelope(t, "SomethingNew", nil))
	})
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	d := newDispatcher(zerolog.Nop())
	d.register(EventFinalResponse, func(Envelope) { panic("boom") })

	require.NotPanics(t, func() {
		d.dispatch(testEnvelope(t, EventFinalResponse, FinalResponsePayload{Text: "x"}))
	})
}

func TestDecodePayloadMalformedData(t *testing.T) {
	d := newDispatcher(zerolog.Nop())
	env := Envelope{Type: EventStreamingChunk, Data: json.RawMessage(`{"text":12}`)}
	_, ok := decodePayload[ChunkPayload](d, env)
	assert.False(t, ok)
}
