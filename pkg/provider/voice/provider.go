// Package voice defines the Provider interface for conversational
// speech-to-speech agent backends.
//
// A voice provider wraps a real-time agent service that accepts raw audio
// input and returns synthesised audio plus transcripts in a single stateful
// session. The central abstraction is [SessionHandle]: a bidirectional
// channel bundle carrying outbound microphone frames one way and agent
// audio, transcripts, and non-fatal errors the other way.
//
// All implementations must be safe for concurrent use.
package voice

import (
	"context"

	"github.com/stuartw843/flow-learning-hub/pkg/audio"
)

// Transcript is a speech-to-text event from the agent. Interim transcripts
// (Final == false) are revisions in flight and must not be persisted; only
// finalized transcripts are appended to module context.
type Transcript struct {
	Text  string
	Final bool
}

// SessionConfig is the opaque templated context the agent uses to condition
// its responses. It is fixed at connect time; mid-session edits to the
// module do not reach an open session.
type SessionConfig struct {
	// TemplateID selects the conversation template on the agent side.
	TemplateID string

	// Context is the module's plain-text learning content.
	Context string

	// Persona is free-text persona guidance for the agent.
	Persona string

	// Style is free-text speaking-style guidance for the agent.
	Style string
}

// SessionHandle represents an open conversational session. Callers must
// call Close when the session is no longer needed; Close is idempotent.
//
// Event channels deliver inbound events in receipt order. Both channels are
// closed when the session ends, cleanly or not; check Err afterwards.
type SessionHandle interface {
	// SendAudio delivers one captured frame to the agent. Frames sent after
	// the session has closed are silently dropped and return nil — capture
	// may emit a trailing frame after teardown has begun, which is benign.
	SendAudio(frame audio.Frame) error

	// Audio returns the channel on which the agent's synthesised audio
	// frames arrive. Consumers must drain it promptly.
	Audio() <-chan audio.Frame

	// Transcripts returns the channel on which transcript events arrive.
	Transcripts() <-chan Transcript

	// OnError registers a handler for non-fatal mid-session error events.
	// Only one handler may be active; passing nil clears it. The handler is
	// invoked from the session's receive loop and must not block.
	OnError(handler func(message string))

	// Err returns the error that terminated the session prematurely, or nil
	// if it ended cleanly. Valid after the Audio channel closes.
	Err() error

	// Close terminates the session and releases its resources. Safe to call
	// any number of times and when no session activity is pending.
	Close() error
}

// Provider is the abstraction over an agent backend: a one-shot credential
// acquisition followed by a session connect.
type Provider interface {
	// AcquireToken performs the one-shot credential request. It is
	// cancellable: when ctx is cancelled the in-flight request is abandoned
	// and the returned error wraps ctx's error.
	AcquireToken(ctx context.Context) (string, error)

	// Connect opens a session authorised by token and conditioned by cfg.
	// The returned handle is ready to accept audio immediately. The caller
	// owns the handle and must Close it.
	Connect(ctx context.Context, token string, cfg SessionConfig) (SessionHandle, error)
}
