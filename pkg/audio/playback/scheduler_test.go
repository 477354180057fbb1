package playback_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stuartw843/flow-learning-hub/pkg/audio"
	"github.com/stuartw843/flow-learning-hub/pkg/audio/playback"
)

// fakeSink is a Sink with a manually advanced clock that records every
// scheduled segment.
type fakeSink struct {
	mu       sync.Mutex
	now      time.Duration
	segments []segment
	closed   int
}

type segment struct {
	start   time.Duration
	samples int
}

func (f *fakeSink) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeSink) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += d
}

func (f *fakeSink) ScheduleAt(samples []float32, start time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments = append(f.segments, segment{start: start, samples: len(samples)})
}

func (f *fakeSink) Segments() []segment {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]segment, len(f.segments))
	copy(out, f.segments)
	return out
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

// frame returns a frame of n samples at the pipeline rate (16 samples = 1ms).
func frame(n int) audio.Frame {
	return audio.NewFrame(make([]int16, n), audio.DefaultSampleRate)
}

func TestScheduler_ContiguousFromFirstFrame(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{now: 7 * time.Millisecond}
	s := playback.New(sink)
	defer s.Close()

	s.Enqueue(frame(160)) // 10ms
	s.Enqueue(frame(160))

	segs := sink.Segments()
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[0].start != 7*time.Millisecond {
		t.Errorf("first segment starts at %v, want clock time 7ms", segs[0].start)
	}
	if segs[1].start != 17*time.Millisecond {
		t.Errorf("second segment starts at %v, want 17ms (end of first)", segs[1].start)
	}
}

func TestScheduler_LateFrameSnapsToClock(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	s := playback.New(sink)
	defer s.Close()

	s.Enqueue(frame(160)) // scheduled at 0, ends at 10ms

	// The stream stalls; the clock runs past the cursor.
	sink.Advance(50 * time.Millisecond)
	s.Enqueue(frame(160))

	segs := sink.Segments()
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[1].start != 50*time.Millisecond {
		t.Errorf("late segment starts at %v, want 50ms (snapped to clock, no overlap)", segs[1].start)
	}
	if got := s.NextPlayTime(); got != 60*time.Millisecond {
		t.Errorf("cursor = %v, want 60ms", got)
	}
}

func TestScheduler_LookaheadCapsBurst(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	s := playback.New(sink, playback.WithRedrainDelay(5*time.Millisecond))
	defer s.Close()

	// 300ms of audio in one burst against a 200ms look-ahead window.
	for range 30 {
		s.Enqueue(frame(160)) // 10ms each
	}

	if got := s.Buffered(); got == 0 {
		t.Fatal("look-ahead cap should leave frames buffered, got 0")
	}
	if cursor := s.NextPlayTime(); cursor > playback.DefaultLookahead+10*time.Millisecond {
		t.Errorf("cursor %v ran past the look-ahead window", cursor)
	}

	// Redrain after the clock advances picks the rest up.
	sink.Advance(150 * time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for s.Buffered() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.Buffered(); got != 0 {
		t.Fatalf("redrain left %d frames buffered", got)
	}
	if got := len(sink.Segments()); got != 30 {
		t.Errorf("got %d segments, want 30", got)
	}
}

func TestScheduler_ArrivalOrderPreserved(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	s := playback.New(sink)
	defer s.Close()

	sizes := []int{160, 320, 80, 480}
	for _, n := range sizes {
		s.Enqueue(frame(n))
	}

	segs := sink.Segments()
	if len(segs) != len(sizes) {
		t.Fatalf("got %d segments, want %d", len(segs), len(sizes))
	}
	var prevEnd time.Duration
	for i, seg := range segs {
		if seg.samples != sizes[i] {
			t.Errorf("segment %d has %d samples, want %d", i, seg.samples, sizes[i])
		}
		if seg.start != prevEnd {
			t.Errorf("segment %d starts at %v, want %v (gapless)", i, seg.start, prevEnd)
		}
		prevEnd = seg.start + time.Duration(seg.samples)*time.Second/audio.DefaultSampleRate
	}
}

func TestScheduler_EmptyFrameDropped(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	s := playback.New(sink)
	defer s.Close()

	s.Enqueue(audio.Frame{})
	if got := len(sink.Segments()); got != 0 {
		t.Errorf("empty frame produced %d segments, want 0", got)
	}
}

func TestScheduler_CloseDiscardsAndResets(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	s := playback.New(sink, playback.WithLookahead(10*time.Millisecond))

	// Overfill so frames remain buffered at Close time.
	for range 10 {
		s.Enqueue(frame(160))
	}
	before := len(sink.Segments())

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := s.Buffered(); got != 0 {
		t.Errorf("Close left %d frames buffered", got)
	}
	if got := s.NextPlayTime(); got != 0 {
		t.Errorf("cursor after Close = %v, want 0", got)
	}

	// Enqueue after Close is a no-op.
	s.Enqueue(frame(160))
	if got := len(sink.Segments()); got != before {
		t.Errorf("enqueue after Close scheduled a segment")
	}

	// Idempotent: the sink is closed exactly once.
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if sink.closed != 1 {
		t.Errorf("sink closed %d times, want 1", sink.closed)
	}
}
