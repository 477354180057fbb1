// Package session coordinates the live voice session lifecycle: it
// acquires a credential, connects to the voice agent, wires the
// microphone into the outbound stream and the agent's audio into the
// playback scheduler, and tears everything down in a fixed order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stuartw843/flow-learning-hub/internal/module"
	"github.com/stuartw843/flow-learning-hub/internal/observe"
	"github.com/stuartw843/flow-learning-hub/internal/transcript"
	"github.com/stuartw843/flow-learning-hub/pkg/audio"
	"github.com/stuartw843/flow-learning-hub/pkg/audio/capture"
	"github.com/stuartw843/flow-learning-hub/pkg/audio/playback"
	"github.com/stuartw843/flow-learning-hub/pkg/provider/voice"
)

// Config carries the collaborators a [Controller] needs. Provider,
// Capture and NewSink are required; everything else is optional.
type Config struct {
	// Provider acquires credentials and opens agent sessions.
	Provider voice.Provider

	// Capture opens microphone devices.
	Capture capture.Context

	// NewSink constructs a fresh playback sink for each session. A new
	// sink per session keeps the playback clock from carrying stale
	// scheduling state across sessions.
	NewSink func() (playback.Sink, error)

	// Store receives debounced transcript persistence. Nil disables
	// persistence entirely.
	Store transcript.Persister

	// TemplateID selects the agent template for every session.
	TemplateID string

	// Device selects the capture device. Nil uses the system default.
	Device *capture.DeviceInfo

	// OnError receives user-visible error messages. The controller
	// keeps only the most recent message; earlier ones are replaced.
	OnError func(message string)

	// SchedulerOptions tune the playback scheduler.
	SchedulerOptions []playback.Option

	// TranscriptOptions tune transcript persistence.
	TranscriptOptions []transcript.Option

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Controller runs at most one voice session at a time. Starting while
// a session exists stops the old session first; stopping is idempotent
// and always wins over a concurrent start.
type Controller struct {
	cfg     Config
	metrics *observe.Metrics

	mu            sync.Mutex
	state         State
	gen           uint64
	cancelConnect context.CancelFunc
	lastError     string

	sessionID string
	startedAt time.Time
	sess      voice.SessionHandle
	device    capture.Device
	sched     *playback.Scheduler
	acc       *transcript.Accumulator
	pumps     *sync.WaitGroup
}

// New returns an idle controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Provider == nil {
		return nil, errors.New("session: provider is required")
	}
	if cfg.Capture == nil {
		return nil, errors.New("session: capture context is required")
	}
	if cfg.NewSink == nil {
		return nil, errors.New("session: sink constructor is required")
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Controller{cfg: cfg, metrics: metrics}, nil
}

// State reports the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID reports the ID of the current session, or "" when idle.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// LastError reports the most recent user-visible error message. It is
// cleared when a new session starts.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// Start begins a session for the given learning module. If a session
// already exists it is stopped first. Start returns once the session
// is active (or has failed); the media pumps keep running in the
// background until Stop.
func (c *Controller) Start(ctx context.Context, mod module.Module) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		if err := c.Stop(ctx); err != nil {
			return fmt.Errorf("session: stop previous session: %w", err)
		}
		c.mu.Lock()
		if c.state != StateIdle {
			c.mu.Unlock()
			return errors.New("session: controller busy")
		}
	}
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.lastError = ""
	connectCtx, cancel := context.WithCancel(ctx)
	c.cancelConnect = cancel
	sessionID := uuid.NewString()
	c.sessionID = sessionID
	c.mu.Unlock()

	log := slog.With("session_id", sessionID, "module_id", mod.ID)
	log.Info("starting voice session")
	connectStart := time.Now()

	token, err := c.cfg.Provider.AcquireToken(connectCtx)
	if err != nil {
		return c.failConnect(ctx, gen, "credential", fmt.Errorf("session: acquire credential: %w", err))
	}
	if !c.current(gen) {
		return nil
	}

	contextText, persona, style := mod.SessionVariables()
	sess, err := c.cfg.Provider.Connect(connectCtx, token, voice.SessionConfig{
		TemplateID: c.cfg.TemplateID,
		Context:    contextText,
		Persona:    persona,
		Style:      style,
	})
	if err != nil {
		return c.failConnect(ctx, gen, "connect", fmt.Errorf("session: connect: %w", err))
	}
	if !c.current(gen) {
		_ = sess.Close()
		return nil
	}

	sink, err := c.cfg.NewSink()
	if err != nil {
		_ = sess.Close()
		return c.failConnect(ctx, gen, "playback", fmt.Errorf("session: open playback: %w", err))
	}
	sched := playback.New(sink, c.cfg.SchedulerOptions...)

	enc := capture.NewEncoder(audio.DefaultSampleRate, func(frame audio.Frame) {
		// SendAudio is a no-op after session close, so a frame that
		// races teardown is dropped rather than treated as an error.
		if err := sess.SendAudio(frame); err == nil {
			c.metrics.FramesSent.Add(context.Background(), 1)
		}
	})
	device, err := c.cfg.Capture.Open(c.cfg.Device, capture.Config{
		SampleRate: audio.DefaultSampleRate,
		OnStop:     func() { c.deviceStopped(gen) },
	}, enc.Callback())
	if err != nil {
		_ = sched.Close()
		_ = sess.Close()
		return c.failConnect(ctx, gen, "capture", fmt.Errorf("session: open microphone: %w", err))
	}

	var acc *transcript.Accumulator
	if c.cfg.Store != nil {
		acc = transcript.New(c.cfg.Store, mod.ID, mod.PlainContent, c.cfg.TranscriptOptions...)
	}

	sess.OnError(func(message string) {
		// Provider-reported errors are informational; the session stays
		// up unless the stream itself ends.
		c.surface(gen, "provider", message)
	})

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		device.Close()
		_ = sched.Close()
		_ = sess.Close()
		if acc != nil {
			_ = acc.Close(context.Background())
		}
		return nil
	}
	c.state = StateActive
	c.cancelConnect = nil
	c.sess = sess
	c.device = device
	c.sched = sched
	c.acc = acc
	c.startedAt = time.Now()
	pumps := &sync.WaitGroup{}
	c.pumps = pumps
	c.mu.Unlock()
	cancel()

	pumps.Add(2)
	go func() {
		defer pumps.Done()
		c.pumpAudio(gen, sess, sched)
	}()
	go func() {
		defer pumps.Done()
		c.pumpTranscripts(sess, acc)
	}()

	c.metrics.ConnectDuration.Record(ctx, time.Since(connectStart).Seconds())
	c.metrics.ActiveSessions.Add(ctx, 1)
	log.Info("voice session active", "connect_duration", time.Since(connectStart))
	return nil
}

// Stop ends the current session and releases every resource. It is
// safe to call at any time, including concurrently with Start: the
// generation bump below makes any in-flight start abandon its work.
// Stop returns after teardown completes and the final transcript flush
// has been attempted.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	if c.cancelConnect != nil {
		c.cancelConnect()
		c.cancelConnect = nil
	}
	if c.state == StateStopping {
		c.mu.Unlock()
		return nil
	}
	if c.state != StateActive {
		c.state = StateIdle
		c.sessionID = ""
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopping
	sess, device, sched, acc, pumps := c.sess, c.device, c.sched, c.acc, c.pumps
	c.sess, c.device, c.sched, c.acc, c.pumps = nil, nil, nil, nil, nil
	sessionID, startedAt := c.sessionID, c.startedAt
	c.mu.Unlock()

	log := slog.With("session_id", sessionID)
	log.Info("stopping voice session")

	// Close the session first so its event channels drain and close
	// before anything downstream is released, then the microphone, then
	// playback. The transcript flush runs last, after the pumps have
	// delivered everything they will ever deliver.
	if err := sess.Close(); err != nil {
		log.Warn("session close failed", "error", err)
	}
	device.Close()
	if err := sched.Close(); err != nil {
		log.Warn("playback close failed", "error", err)
	}
	pumps.Wait()
	if acc != nil {
		if err := acc.Close(ctx); err != nil {
			log.Warn("transcript flush failed", "error", err)
		}
	}

	c.mu.Lock()
	c.state = StateIdle
	c.sessionID = ""
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(ctx, -1)
	c.metrics.SessionDuration.Record(ctx, time.Since(startedAt).Seconds())
	log.Info("voice session stopped", "duration", time.Since(startedAt))
	return nil
}

// Close stops any running session. It exists so the controller can sit
// in a closer list alongside other resources.
func (c *Controller) Close(ctx context.Context) error {
	return c.Stop(ctx)
}

// current reports whether gen is still the live session generation.
func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

// failConnect rolls back a failed connection attempt. When the
// generation has moved on the failure belongs to an abandoned start and
// is swallowed; a cancellation of the caller's context is likewise not
// surfaced as an error.
func (c *Controller) failConnect(ctx context.Context, gen uint64, stage string, err error) error {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return nil
	}
	c.state = StateIdle
	c.sessionID = ""
	c.cancelConnect = nil
	c.mu.Unlock()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return ctx.Err()
	}
	c.surfaceNow(stage, err.Error())
	slog.Warn("voice session start failed", "stage", stage, "error", err)
	return err
}

// surface records a user-visible error if gen is still current.
func (c *Controller) surface(gen uint64, stage, message string) {
	if !c.current(gen) {
		return
	}
	c.surfaceNow(stage, message)
}

func (c *Controller) surfaceNow(stage, message string) {
	c.mu.Lock()
	c.lastError = message
	c.mu.Unlock()
	c.metrics.RecordSessionError(context.Background(), stage)
	if c.cfg.OnError != nil {
		c.cfg.OnError(message)
	}
}

// pumpAudio feeds agent audio into the playback scheduler until the
// session's audio channel closes. If the channel closed because the
// stream failed (rather than because we stopped it), the failure is
// surfaced and the session is torn down.
func (c *Controller) pumpAudio(gen uint64, sess voice.SessionHandle, sched *playback.Scheduler) {
	for frame := range sess.Audio() {
		sched.Enqueue(frame)
		c.metrics.FramesReceived.Add(context.Background(), 1)
	}
	if err := sess.Err(); err != nil && c.current(gen) {
		c.surfaceNow("transport", err.Error())
		slog.Warn("voice stream ended", "error", err)
		go func() { _ = c.Stop(context.Background()) }()
	}
}

// pumpTranscripts forwards transcript events to the accumulator until
// the channel closes. Interim results are filtered by the accumulator.
func (c *Controller) pumpTranscripts(sess voice.SessionHandle, acc *transcript.Accumulator) {
	for tr := range sess.Transcripts() {
		if acc != nil {
			acc.Append(tr)
		}
		if tr.Final {
			c.metrics.TranscriptsFinal.Add(context.Background(), 1)
		}
	}
}

// deviceStopped handles the capture backend halting on its own, for
// example when the microphone is unplugged. A stop we initiated
// ourselves arrives with a stale generation and is ignored.
func (c *Controller) deviceStopped(gen uint64) {
	c.mu.Lock()
	stale := c.gen != gen || c.state != StateActive
	c.mu.Unlock()
	if stale {
		return
	}
	c.surfaceNow("capture", "microphone stream stopped unexpectedly")
	slog.Warn("capture device stopped while session active")
	go func() { _ = c.Stop(context.Background()) }()
}
