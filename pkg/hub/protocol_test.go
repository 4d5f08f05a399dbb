package hub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEventFrameShape(t *testing.T) {
	frame, err := EncodeEvent(EventStreamingChunk, ChunkPayload{Text: "hel"})
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(frame, &raw))
	assert.JSONEq(t, `"ReceiveStreamingChunk"`, string(raw["type"]))
	assert.JSONEq(t, `{"text":"hel"}`, string(raw["data"]))
	_, hasID := raw["id"]
	assert.False(t, hasID, "events carry no invocation id")
}

func TestEncodeAckRoundTrip(t *testing.T) {
	frame, err := EncodeAck("inv-42")
	require.NoError(t, err)

	env, err := ParseEnvelope(frame)
	require.NoError(t, err)
	assert.Equal(t, "ack", env.Type)
	assert.Equal(t, "inv-42", env.ID)
	assert.Empty(t, env.Data)
}

func TestEncodeInvokeErrorCarriesMessage(t *testing.T) {
	frame, err := EncodeInvokeError("inv-7", "session not found")
	require.NoError(t, err)

	env, err := ParseEnvelope(frame)
	require.NoError(t, err)
	assert.Equal(t, "error", env.Type)
	assert.Equal(t, "inv-7", env.ID)

	var payload struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "session not found", payload.Message)
}

func TestParseEnvelopeRejectsMissingType(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{"id":"x"}`))
	require.Error(t, err)

	_, err = ParseEnvelope([]byte(`not json`))
	require.Error(t, err)
}

func TestProcessMessagePayloadFieldNames(t *testing.T) {
	b, err := json.Marshal(ProcessMessagePayload{
		Text:      "hi",
		SessionID: "s1",
		AgentMode: ModeTutorOnly,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hi","sessionId":"s1","agentMode":"TutorOnly"}`, string(b))
}
