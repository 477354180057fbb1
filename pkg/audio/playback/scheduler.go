// Package playback provides the jitter-buffered playback scheduler of the
// voice pipeline. It converts the bursty arrival stream of agent audio
// frames into gapless, correctly ordered output scheduled against the
// playback context's monotonic clock.
//
// The central abstraction is [Sink]: the output half of a playback context.
// A Sink owns the clock ([Sink.Now]) and accepts normalised float segments
// at absolute start times ([Sink.ScheduleAt]). [DeviceSink] is the concrete
// hardware implementation; tests substitute a fake.
package playback

import (
	"sync"
	"time"

	"github.com/stuartw843/flow-learning-hub/pkg/audio"
)

const (
	// DefaultLookahead bounds how far beyond the clock a single drain pass
	// may schedule. Frames beyond the window stay buffered until a redrain.
	DefaultLookahead = 200 * time.Millisecond

	// DefaultRedrainDelay is how long the scheduler waits before draining
	// again after the look-ahead cap cut a pass short.
	DefaultRedrainDelay = 100 * time.Millisecond
)

// Sink is where scheduled audio goes. Now is the sink's monotonic clock,
// starting at zero when the sink is created. ScheduleAt must accept
// non-overlapping segments at non-decreasing start times and must not block.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	Now() time.Duration
	ScheduleAt(samples []float32, start time.Duration)
	Close() error
}

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithLookahead overrides the look-ahead scheduling window.
func WithLookahead(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.lookahead = d
		}
	}
}

// WithRedrainDelay overrides the delay before a follow-up drain pass.
func WithRedrainDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.redrainDelay = d
		}
	}
}

// Scheduler is a jitter buffer that schedules incoming frames for output in
// arrival order against the sink's clock. The scheduling cursor
// (nextPlayTime) tracks the end time of the most recently scheduled frame
// and never moves behind the clock, so scheduled segments are contiguous
// and never overlap.
//
// All exported methods are safe for concurrent use.
type Scheduler struct {
	sink         Sink
	lookahead    time.Duration
	redrainDelay time.Duration

	mu             sync.Mutex
	queue          []audio.Frame
	nextPlayTime   time.Duration
	started        bool // nextPlayTime initialised from the clock
	redrainPending bool
	redrain        *time.Timer
	closed         bool
}

// New creates a Scheduler bound to sink. The scheduler takes ownership of
// the sink: [Scheduler.Close] closes it.
func New(sink Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink:         sink,
		lookahead:    DefaultLookahead,
		redrainDelay: DefaultRedrainDelay,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue appends frame to the playback buffer and drains. Frames are
// output strictly in the order they were enqueued. Empty frames and frames
// enqueued after Close are dropped.
func (s *Scheduler) Enqueue(frame audio.Frame) {
	if len(frame.Samples) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.queue = append(s.queue, frame)
	s.drainLocked()
}

// Buffered returns the number of frames waiting to be scheduled.
func (s *Scheduler) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// NextPlayTime returns the current scheduling cursor. Zero until the first
// frame is scheduled and again after Close.
func (s *Scheduler) NextPlayTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextPlayTime
}

// drainLocked schedules buffered frames until the queue empties or the
// look-ahead cap triggers. Must be called with s.mu held. Scheduling is
// non-blocking, so the mutex doubles as the at-most-one-drain guard.
func (s *Scheduler) drainLocked() {
	now := s.sink.Now()

	if !s.started {
		s.nextPlayTime = now
		s.started = true
	}

	for len(s.queue) > 0 {
		// Cap how far ahead of real time one pass may schedule.
		if s.nextPlayTime > now+s.lookahead {
			s.scheduleRedrainLocked()
			return
		}

		frame := s.queue[0]
		s.queue = s.queue[1:]

		start := s.nextPlayTime
		if now > start {
			start = now
		}
		s.sink.ScheduleAt(audio.DecodeToFloat32(frame.Samples), start)
		s.nextPlayTime = start + frame.Duration()
	}
}

// scheduleRedrainLocked arms the redrain timer if one is not already
// pending. Must be called with s.mu held.
func (s *Scheduler) scheduleRedrainLocked() {
	if s.redrainPending {
		return
	}
	s.redrainPending = true
	s.redrain = time.AfterFunc(s.redrainDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.redrainPending = false
		if s.closed {
			return
		}
		s.drainLocked()
	})
}

// Close discards all buffered frames, resets the scheduling cursor to zero,
// and closes the sink. Segments already handed to the sink are the sink's
// concern. Close is idempotent; subsequent calls return nil.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	s.nextPlayTime = 0
	s.started = false
	if s.redrain != nil {
		s.redrain.Stop()
		s.redrain = nil
	}
	s.redrainPending = false
	sink := s.sink
	s.mu.Unlock()

	return sink.Close()
}
