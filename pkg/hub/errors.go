package hub

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotConnected is returned by Send/JoinSession/LeaveSession whenever the
// connection state is anything other than Connected, including while a
// reconnect attempt is in flight.
var ErrNotConnected = errors.New("hub connection is not established")

// ConnectFailedError reports a failed initial handshake. The connection stays
// Disconnected and the error is also retrievable via LastError.
type ConnectFailedError struct {
	URL string
	Err error
}

func (e *ConnectFailedError) Error() string {
	return fmt.Sprintf("connect to %s failed: %v", e.URL, e.Err)
}

func (e *ConnectFailedError) Unwrap() error { return e.Err }

// SendFailedError reports a ProcessMessage invocation that reached the wire
// but was rejected by the hub or lost to a transport failure mid-send.
type SendFailedError struct {
	SessionID string
	Err       error
}

func (e *SendFailedError) Error() string {
	return fmt.Sprintf("send to session %s failed: %v", e.SessionID, e.Err)
}

func (e *SendFailedError) Unwrap() error { return e.Err }

// SessionOpError reports a failed JoinSession or LeaveSession invocation.
type SessionOpError struct {
	Op        string // "join" or "leave"
	SessionID string
	Err       error
}

func (e *SessionOpError) Error() string {
	return fmt.Sprintf("%s session %s failed: %v", e.Op, e.SessionID, e.Err)
}

func (e *SessionOpError) Unwrap() error { return e.Err }
