package hub

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Wire method and event names. These are part of the hub contract and must not
// be renamed; the server matches on them verbatim.
const (
	MethodProcessMessage = "ProcessMessage"
	MethodJoinSession    = "JoinSession"
	MethodLeaveSession   = "LeaveSession"

	EventStreamingStarted   = "StreamingStarted"
	EventStreamingChunk     = "ReceiveStreamingChunk"
	EventStreamingCompleted = "StreamingCompleted"
	EventToolCall           = "onToolCall"
	EventFinalResponse      = "onFinalResponse"

	frameAck   = "ack"
	frameError = "error"
)

// Envelope is the single frame shape exchanged over the socket, both
// directions: invocations, acks, and server-pushed events.
type Envelope struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ProcessMessagePayload struct {
	Text      string    `json:"text"`
	SessionID string    `json:"sessionId"`
	AgentMode AgentMode `json:"agentMode"`
}

type SessionPayload struct {
	SessionID string `json:"sessionId"`
}

type ChunkPayload struct {
	Text string `json:"text"`
}

type FinalResponsePayload struct {
	Text string `json:"text"`
}

// ToolCall is the auxiliary tool-use record pushed by the hub while an
// assistant turn is in progress.
type ToolCall struct {
	Tool   string `json:"tool"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// EncodeEvent builds the wire frame for a server-pushed event. The server
// side of the contract lives in pkg/devhub; the frame shapes are shared here
// so both peers agree byte-for-byte.
func EncodeEvent(event string, data any) ([]byte, error) {
	return encodeEnvelope(event, "", data)
}

// EncodeAck builds the positive reply to an invocation.
func EncodeAck(id string) ([]byte, error) {
	return encodeEnvelope(frameAck, id, nil)
}

// EncodeInvokeError builds the failure reply to an invocation.
func EncodeInvokeError(id, msg string) ([]byte, error) {
	return encodeEnvelope(frameError, id, errorPayload{Message: msg})
}

// ParseEnvelope decodes a raw wire frame.
func ParseEnvelope(data []byte) (Envelope, error) {
	return decodeEnvelope(data)
}

func encodeEnvelope(typ, id string, data any) ([]byte, error) {
	env := Envelope{Type: typ, ID: id}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, errors.Wrapf(err, "marshal %s payload", typ)
		}
		env.Data = raw
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s envelope", typ)
	}
	return b, nil
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "decode envelope")
	}
	if env.Type == "" {
		return Envelope{}, errors.New("envelope missing type")
	}
	return env, nil
}
