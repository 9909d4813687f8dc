// Package live defines the interface for bidirectional voice-session backends.
//
// A live session wraps a realtime speech model that accepts streamed
// microphone audio and answers with synthesised speech, rolling transcripts
// of both sides, and structured tool calls. The central abstraction is
// [Session]: a long-lived handle whose inbound traffic is delivered as a
// single ordered stream of tagged [Event] values, so that the consumer's
// state machine sees one message enum instead of a fan of transport
// callbacks.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
)

// ErrConnection indicates the remote session could not be opened or failed
// mid-stream. Implementations wrap it so callers can classify connect-path
// failures with errors.Is.
var ErrConnection = errors.New("live: connection error")

// ErrSessionClosed is returned by send methods after Close has been called.
var ErrSessionClosed = errors.New("live: session closed")

// EventKind discriminates the variants of [Event].
type EventKind int

const (
	// EventReady is the remote open-confirmation. Audio may be sent before
	// it arrives, but consumers typically treat it as the transition into
	// the steady listening state.
	EventReady EventKind = iota

	// EventInputTranscript carries a streaming transcript fragment of the
	// user's speech as recognised by the model.
	EventInputTranscript

	// EventOutputTranscript carries a streaming transcript fragment of the
	// model's spoken reply.
	EventOutputTranscript

	// EventToolCall carries a batch of one or more structured tool calls.
	// Every call must be answered exactly once via [Session.SendToolResult].
	EventToolCall

	// EventAudio carries one chunk of synthesised reply audio as raw s16le
	// PCM together with its format.
	EventAudio

	// EventTurnComplete signals the end of a conversational exchange: both
	// transcript accumulators should start fresh turns afterwards.
	EventTurnComplete

	// EventInterrupted signals that the model's reply was cut off, usually
	// because the user started speaking over it.
	EventInterrupted

	// EventError carries a session-fatal error reported by the remote side.
	EventError

	// EventClosed signals that the remote side closed the session. It is
	// the last event before the stream ends.
	EventClosed
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "READY"
	case EventInputTranscript:
		return "INPUT_TRANSCRIPT"
	case EventOutputTranscript:
		return "OUTPUT_TRANSCRIPT"
	case EventToolCall:
		return "TOOL_CALL"
	case EventAudio:
		return "AUDIO"
	case EventTurnComplete:
		return "TURN_COMPLETE"
	case EventInterrupted:
		return "INTERRUPTED"
	case EventError:
		return "ERROR"
	case EventClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Event is one inbound session message. Kind selects which payload fields
// are meaningful; the rest are zero values.
type Event struct {
	Kind EventKind

	// Text is the transcript fragment for the transcript variants.
	Text string

	// Calls is the tool-call batch for EventToolCall.
	Calls []Call

	// Audio is raw s16le PCM for EventAudio, described by SampleRate and
	// Channels.
	Audio      []byte
	SampleRate int
	Channels   int

	// Err is the failure for EventError.
	Err error
}

// Call is one structured tool invocation requested by the model.
type Call struct {
	// ID correlates the call with its result reply.
	ID string

	// Name is the tool name as declared in [Config.Tools].
	Name string

	// Args is the model-supplied argument object.
	Args map[string]any
}

// ToolDefinition declares one tool offered to the model at session open.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does.
	Description string

	// Parameters is the JSON Schema describing the tool's arguments,
	// including enums and the required-argument list.
	Parameters map[string]any
}

// Config is the open payload for a new session.
type Config struct {
	// Instructions is the system prompt. Callers embed the current date so
	// the model can resolve relative deadlines.
	Instructions string

	// Voice selects the synthesised voice for spoken replies.
	Voice string

	// Tools is the full set of tool definitions offered for the lifetime
	// of the session.
	Tools []ToolDefinition
}

// Session is an open bidirectional voice session.
//
// Sends are the hot path of the capture loop and must return quickly. The
// Events channel is closed when the session ends, after a final EventClosed
// or EventError. Callers must call Close when done; Close is idempotent.
type Session interface {
	// SendAudio forwards one wire-encoded microphone frame (base64 s16le
	// PCM as produced by the audio codec). Returns ErrSessionClosed after
	// Close.
	SendAudio(encodedFrame string) error

	// SendToolResult replies to the tool call with the given identifier.
	// Exactly one reply per call; the session does not retry.
	SendToolResult(callID, name, result string) error

	// Events returns the ordered inbound event stream. The channel is
	// closed when the session ends for any reason.
	Events() <-chan Event

	// Close terminates the session and releases its resources. Safe to
	// call more than once.
	Close() error
}

// Dialer opens sessions against a concrete realtime speech backend.
type Dialer interface {
	// Connect establishes a new session with the given configuration. The
	// returned Session accepts audio immediately. Failures wrap
	// ErrConnection.
	Connect(ctx context.Context, cfg Config) (Session, error)
}
