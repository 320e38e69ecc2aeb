// Package rtmperr defines the typed error hierarchy shared by the
// protocol, dispatch, app-server and store layers, mirroring the
// exception hierarchy of twimp's error.py and server/errors.py.
package rtmperr

import (
	"errors"
	"fmt"

	"github.com/relaycast/rtmpcore/internal/amf0"
)

// HandshakeFailedError is returned by the handshake engine on version
// mismatch or digest verification failure. The transport is not closed by
// the engine; the caller decides.
type HandshakeFailedError struct{ Reason string }

func (e *HandshakeFailedError) Error() string { return "handshake failed: " + e.Reason }

// ChunkStreamParseError marks a malformed basic/message header or a bad
// extended timestamp; it always terminates the connection.
type ChunkStreamParseError struct{ Reason string }

func (e *ChunkStreamParseError) Error() string { return "chunk stream parse error: " + e.Reason }

// ChunkStreamValueError marks a structurally valid but semantically
// invalid chunk field, e.g. a non-positive Set Chunk Size.
type ChunkStreamValueError struct{ Reason string }

func (e *ChunkStreamValueError) Error() string { return "chunk stream value error: " + e.Reason }

// ProtocolContractError marks a peer message that violates an assumed
// invariant of the protocol layer (an onStatus with no .code, a
// wrong-sized user control message).
type ProtocolContractError struct{ Reason string }

func (e *ProtocolContractError) Error() string { return "protocol contract violated: " + e.Reason }

// UnexpectedStatusError is raised when an onStatus event's code does not
// match what a status waiter expected.
type UnexpectedStatusError struct{ Got, Want string }

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status: got %q, want %q", e.Got, e.Want)
}

// CommandResultError wraps a peer's `_error` reply to a call_remote.
type CommandResultError struct{ Info *amf0.Object }

func (e *CommandResultError) Error() string { return "remote call returned _error" }

// CallAbortedError silently aborts a remote-call handler: no reply is
// sent, the call is simply logged and dropped.
type CallAbortedError struct{ Reason string }

func (e *CallAbortedError) Error() string { return "call aborted: " + e.Reason }

// CallResultError is raised by an app's remote_* handler to reply with an
// `_error` status object instead of a `_result`. Fatal errors close the
// connection after the reply is sent.
type CallResultError struct {
	Code        string
	Level       string
	Description string
	Fatal       bool
}

func (e *CallResultError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}

// ErrorArgs builds the (null, info-object) pair sent back as the `_error`
// command's arguments.
func (e *CallResultError) ErrorArgs() (amf0.Value, amf0.Value) {
	level := e.Level
	if level == "" {
		level = "error"
	}
	o := amf0.NewObject().Set("level", amf0.String(level)).Set("code", amf0.String(e.Code)).
		Set("description", amf0.String(e.Description))
	return amf0.Null(), amf0.Obj(o)
}

func newCallResultError(code, desc string, fatal bool) *CallResultError {
	return &CallResultError{Code: code, Level: "error", Description: desc, Fatal: fatal}
}

// ConnectFailedError is the fatal CallResultError subtype returned when an
// app's connect() handler fails for any reason other than a more specific
// CallResultError.
func NewConnectFailedError(desc string) *CallResultError {
	return newCallResultError("NetConnection.Connect.Failed", desc, true)
}

// InvalidAppError is the fatal CallResultError subtype for a missing or
// unroutable app path.
func NewInvalidAppError(desc string) *CallResultError {
	return newCallResultError("NetConnection.Connect.InvalidApp", desc, true)
}

// PlayFailedError covers a generic play() failure.
func NewPlayFailedError(desc string) *CallResultError {
	return newCallResultError("NetStream.Play.Failed", desc, false)
}

// PlayNotFoundError is what a NotFoundError from an app's play() handler
// is translated into.
func NewPlayNotFoundError(desc string) *CallResultError {
	return newCallResultError("NetStream.Play.StreamNotFound", desc, false)
}

// PublishBadNameError covers a publish() call naming a stream that
// already exists or is otherwise unusable.
func NewPublishBadNameError(desc string) *CallResultError {
	return newCallResultError("NetStream.Publish.BadName", desc, false)
}

// PlayBadNameError covers a play() call refused by IP-based access control.
func NewPlayBadNameError(desc string) *CallResultError {
	return newCallResultError("NetStream.Play.BadName", desc, false)
}

// InvalidFrameNumberError is returned by the store when a frame index
// falls outside a stream's retained window.
type InvalidFrameNumberError struct{ Frame int64 }

func (e *InvalidFrameNumberError) Error() string {
	return fmt.Sprintf("invalid frame number: %d", e.Frame)
}

// NamespaceNotFoundError marks a lookup against an unregistered store
// namespace.
type NamespaceNotFoundError struct{ Namespace string }

func (e *NamespaceNotFoundError) Error() string {
	return "unknown namespace: " + e.Namespace
}

// StreamNotFoundError marks a read-mode open against a name with no
// existing stream group.
type StreamNotFoundError struct{ Name string }

func (e *StreamNotFoundError) Error() string { return "unknown stream: " + e.Name }

// StreamExistsError marks a live-mode open against a name that already
// has a live stream group.
type StreamExistsError struct{ Name string }

func (e *StreamExistsError) Error() string { return "stream already exists: " + e.Name }

// ErrNotFound is the app-level sentinel a play() handler raises to mean
// "no such stream"; the app-server protocol translates it into
// PlayNotFoundError before it reaches the wire.
var ErrNotFound = errors.New("not found")

// IsFatal reports whether err is a CallResultError (or subtype) marked
// fatal, the trigger for closing the connection after the reply is sent.
func IsFatal(err error) bool {
	var cre *CallResultError
	if errors.As(err, &cre) {
		return cre.Fatal
	}
	return false
}
