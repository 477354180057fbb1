// Package mock provides scriptable in-memory implementations of the voice
// provider interfaces for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/stuartw843/flow-learning-hub/pkg/audio"
	"github.com/stuartw843/flow-learning-hub/pkg/provider/voice"
)

// Compile-time interface checks.
var (
	_ voice.Provider      = (*Provider)(nil)
	_ voice.SessionHandle = (*Session)(nil)
)

// Provider is a scriptable voice.Provider.
//
// TokenGate, when non-nil, makes AcquireToken block until the gate channel
// is closed or the context is cancelled — used to hold a credential request
// "in flight" while the test races Stop against Start.
type Provider struct {
	Token      string
	TokenErr   error
	TokenGate  chan struct{}
	ConnectErr error

	mu       sync.Mutex
	sessions []*Session
	tokens   int
}

// AcquireToken returns the scripted token or error, optionally waiting on
// TokenGate first.
func (p *Provider) AcquireToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	p.tokens++
	gate := p.TokenGate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", fmt.Errorf("mock provider: token: %w", ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("mock provider: token: %w", err)
	}
	if p.TokenErr != nil {
		return "", p.TokenErr
	}
	if p.Token == "" {
		return "mock-token", nil
	}
	return p.Token, nil
}

// Connect returns a fresh Session, or the scripted ConnectErr.
func (p *Provider) Connect(ctx context.Context, token string, cfg voice.SessionConfig) (voice.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("mock provider: connect: %w", err)
	}
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	s := NewSession()
	s.Token = token
	s.Config = cfg

	p.mu.Lock()
	p.sessions = append(p.sessions, s)
	p.mu.Unlock()
	return s, nil
}

// TokenRequests returns how many times AcquireToken was called.
func (p *Provider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokens
}

// Sessions returns every session Connect has produced, in order.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// Session is an in-memory voice.SessionHandle. Tests feed inbound events
// with the Push* methods and inspect outbound frames with SentFrames.
type Session struct {
	Token  string
	Config voice.SessionConfig

	audioCh     chan audio.Frame
	transcripts chan voice.Transcript

	mu           sync.Mutex
	sent         []audio.Frame
	errorHandler func(string)
	errVal       error
	closed       bool
	closeCount   int
}

// NewSession creates an open Session with buffered event channels.
func NewSession() *Session {
	return &Session{
		audioCh:     make(chan audio.Frame, 64),
		transcripts: make(chan voice.Transcript, 16),
	}
}

// SendAudio records the frame, or silently drops it when closed.
func (s *Session) SendAudio(frame audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.sent = append(s.sent, frame)
	return nil
}

// Audio returns the inbound agent-audio channel.
func (s *Session) Audio() <-chan audio.Frame { return s.audioCh }

// Transcripts returns the inbound transcript channel.
func (s *Session) Transcripts() <-chan voice.Transcript { return s.transcripts }

// OnError registers the non-fatal error handler.
func (s *Session) OnError(handler func(message string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorHandler = handler
}

// Err returns the scripted terminal error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// SetErr scripts the terminal error returned by Err.
func (s *Session) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errVal = err
}

// Close closes the event channels once and counts invocations.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.audioCh)
	close(s.transcripts)
	return nil
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CloseCount returns how many times Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// SentFrames returns a copy of every frame passed to SendAudio.
func (s *Session) SentFrames() []audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Frame, len(s.sent))
	copy(out, s.sent)
	return out
}

// PushAudio delivers an agent audio frame. No-op when closed.
func (s *Session) PushAudio(frame audio.Frame) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.audioCh <- frame
}

// PushTranscript delivers a transcript event. No-op when closed.
func (s *Session) PushTranscript(tr voice.Transcript) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.transcripts <- tr
}

// PushError invokes the registered error handler, if any.
func (s *Session) PushError(message string) {
	s.mu.Lock()
	handler := s.errorHandler
	s.mu.Unlock()
	if handler != nil {
		handler(message)
	}
}
