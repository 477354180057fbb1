// Package wsagent implements the voice.Provider interface over the agent's
// WebSocket protocol.
//
// Credential acquisition is a one-shot HTTP POST to a token endpoint
// (normally the hub server's /api/voice/token proxy). The session itself is
// a bidirectional WebSocket exchanging JSON events: outbound audio as
// base64-encoded PCM16 appends, inbound transcript / audio.delta / error
// events dispatched in receipt order by a single receive loop.
package wsagent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/stuartw843/flow-learning-hub/pkg/audio"
	"github.com/stuartw843/flow-learning-hub/pkg/provider/voice"
)

// Compile-time assertions that Provider and session satisfy the voice
// interfaces.
var (
	_ voice.Provider      = (*Provider)(nil)
	_ voice.SessionHandle = (*session)(nil)
)

const (
	// tokenTimeout caps a credential request that has no caller deadline.
	tokenTimeout = 10 * time.Second

	// audioBuf is the buffer depth of the inbound agent-audio channel.
	audioBuf = 64

	// transcriptBuf is the buffer depth of the inbound transcript channel.
	transcriptBuf = 16
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithHTTPClient overrides the HTTP client used for credential requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithAPIKey attaches a bearer credential to token requests. The hub
// server sets this when talking to the agent service directly; clients
// going through the hub's own token proxy leave it unset.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// Provider implements voice.Provider against the agent's WebSocket API.
type Provider struct {
	tokenURL   string
	wsURL      string
	apiKey     string
	httpClient *http.Client
}

// New creates a Provider that acquires tokens from tokenURL and opens
// sessions at wsURL.
func New(tokenURL, wsURL string, opts ...Option) *Provider {
	p := &Provider{
		tokenURL:   tokenURL,
		wsURL:      wsURL,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// tokenResponse is the success body of the credential endpoint.
type tokenResponse struct {
	Token string `json:"token"`
}

// tokenError is the failure body of the credential endpoint, combined with
// the HTTP status text into a human-readable error.
type tokenError struct {
	Details string `json:"details"`
}

// AcquireToken performs the one-shot credential request. Cancelling ctx
// abandons the in-flight request; the error then wraps ctx's error so
// callers can distinguish cancellation from real failures.
func (p *Provider) AcquireToken(ctx context.Context) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tokenTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, nil)
	if err != nil {
		return "", fmt.Errorf("wsagent: token request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("wsagent: token request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var te tokenError
		_ = json.Unmarshal(body, &te)
		if te.Details != "" {
			return "", fmt.Errorf("wsagent: token request failed: %s: %s", resp.Status, te.Details)
		}
		return "", fmt.Errorf("wsagent: token request failed: %s", resp.Status)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("wsagent: decode token response: %w", err)
	}
	if tr.Token == "" {
		return "", fmt.Errorf("wsagent: token response missing token")
	}
	return tr.Token, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────

type sessionStartMessage struct {
	Type        string        `json:"type"`
	Config      sessionParams `json:"config"`
	AudioFormat audioFormat   `json:"audioFormat"`
}

type sessionParams struct {
	TemplateID        string            `json:"templateId"`
	TemplateVariables templateVariables `json:"templateVariables"`
}

type templateVariables struct {
	Context string `json:"context"`
	Persona string `json:"persona"`
	Style   string `json:"style"`
}

type audioFormat struct {
	Type       string `json:"type"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
}

type audioAppendMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// ── Protocol message types (incoming) ─────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// transcript
	Text    string `json:"text,omitempty"`
	IsFinal bool   `json:"isFinal,omitempty"`

	// audio.delta
	Audio string `json:"audio,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// Connect dials the agent, sends the session.start message carrying the
// templated context, and starts the receive loop. The handle is ready to
// accept audio when Connect returns.
func (p *Provider) Connect(ctx context.Context, token string, cfg voice.SessionConfig) (voice.SessionHandle, error) {
	conn, _, err := websocket.Dial(ctx, p.wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + token},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("wsagent: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:        conn,
		audioCh:     make(chan audio.Frame, audioBuf),
		transcripts: make(chan voice.Transcript, transcriptBuf),
		ctx:         sessCtx,
		cancel:      sessCancel,
	}

	start := sessionStartMessage{
		Type: "session.start",
		Config: sessionParams{
			TemplateID: cfg.TemplateID,
			TemplateVariables: templateVariables{
				Context: cfg.Context,
				Persona: cfg.Persona,
				Style:   cfg.Style,
			},
		},
		AudioFormat: audioFormat{
			Type:       "raw",
			Encoding:   "pcm_s16le",
			SampleRate: audio.DefaultSampleRate,
		},
	}
	if err := sess.writeJSON(start); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session start failed")
		return nil, fmt.Errorf("wsagent: session start: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── session ───────────────────────────────────────────────────────────────

type session struct {
	conn        *websocket.Conn
	audioCh     chan audio.Frame
	transcripts chan voice.Transcript

	mu           sync.Mutex
	errVal       error
	closed       bool
	errorHandler func(message string)

	writeMu sync.Mutex // serialises websocket writes

	ctx    context.Context
	cancel context.CancelFunc
}

// writeJSON marshals v and writes it as a single text frame.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// SendAudio delivers one frame as an audio.append event. Frames sent after
// Close are dropped and return nil — a benign teardown race, not an error.
func (s *session) SendAudio(frame audio.Frame) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	msg := audioAppendMessage{
		Type:  "audio.append",
		Audio: base64.StdEncoding.EncodeToString(frame.Bytes()),
	}
	if err := s.writeJSON(msg); err != nil {
		// A write that lost the race with Close is the same benign drop.
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed || errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("wsagent: send audio: %w", err)
	}
	return nil
}

// Audio returns the channel on which agent audio frames arrive.
func (s *session) Audio() <-chan audio.Frame { return s.audioCh }

// Transcripts returns the channel on which transcript events arrive.
func (s *session) Transcripts() <-chan voice.Transcript { return s.transcripts }

// OnError registers a handler for non-fatal error events.
func (s *session) OnError(handler func(message string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorHandler = handler
}

// Err returns the error that terminated the session prematurely, if any.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session. Idempotent. The event channels are closed
// by the receive loop once the connection shutdown unblocks its read.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}

// receiveLoop reads server events and dispatches them in receipt order. It
// owns the event channels and closes both exactly once on exit.
func (s *session) receiveLoop() {
	defer close(s.audioCh)
	defer close(s.transcripts)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.mu.Lock()
			// A read error after Close (or local cancellation) is the
			// normal end of the session, not a failure.
			if !s.closed && !errors.Is(err, context.Canceled) {
				s.errVal = fmt.Errorf("wsagent: receive: %w", err)
			}
			s.mu.Unlock()
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue // unparseable event, skip
		}

		switch ev.Type {
		case "transcript":
			s.dispatchTranscript(voice.Transcript{Text: ev.Text, Final: ev.IsFinal})

		case "audio.delta":
			pcm, err := base64.StdEncoding.DecodeString(ev.Audio)
			if err != nil {
				continue
			}
			frame, err := audio.FrameFromBytes(pcm, audio.DefaultSampleRate)
			if err != nil || len(frame.Samples) == 0 {
				continue
			}
			s.dispatchAudio(frame)

		case "error":
			s.mu.Lock()
			handler := s.errorHandler
			s.mu.Unlock()
			if handler != nil {
				handler(ev.Message)
			}
		}
	}
}

// dispatchAudio forwards frame to the audio channel, giving up when the
// session is torn down so a slow consumer cannot wedge the receive loop.
func (s *session) dispatchAudio(frame audio.Frame) {
	select {
	case s.audioCh <- frame:
	case <-s.ctx.Done():
	}
}

func (s *session) dispatchTranscript(tr voice.Transcript) {
	select {
	case s.transcripts <- tr:
	case <-s.ctx.Done():
	}
}
