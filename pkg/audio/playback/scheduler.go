// Package playback schedules inbound voice audio for gap-free sequential
// output.
//
// The [Scheduler] keeps a running "next start" position on an output clock.
// Every enqueued chunk starts at max(next, now) and advances next by the
// chunk's duration, so chunks arriving faster than real time queue
// back-to-back and chunks arriving late never start in the past. Every
// scheduled chunk is tracked as a live [Source] until it finishes or is
// stopped; [Scheduler.StopAll] halts them all at once for barge-in and
// session teardown.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/apex/pkg/audio"
)

// ErrClosed is returned by [Scheduler.Enqueue] after [Scheduler.Close].
var ErrClosed = errors.New("playback: scheduler closed")

// Clock reports the output device's current position. It must be monotonic.
type Clock interface {
	Now() time.Duration
}

// Source is one scheduled chunk. Stop is best-effort and idempotent; stopping
// a finished source is a no-op. Done is closed once the source has finished
// or been stopped.
type Source interface {
	Stop()
	Done() <-chan struct{}
}

// Output starts buffers at a position on its clock.
type Output interface {
	Clock
	Start(buf audio.Frame, at time.Duration) Source
}

// Option is a functional option for [Scheduler].
type Option func(*Scheduler)

// WithSampleRate sets the rate inbound chunks are decoded at. Defaults to
// [audio.OutputSampleRate].
func WithSampleRate(rate int) Option {
	return func(s *Scheduler) {
		if rate > 0 {
			s.rate = rate
		}
	}
}

// WithSpeakingHandler registers fn to be called whenever the speaking
// indicator flips. fn is called without the scheduler's lock held and must not
// block.
func WithSpeakingHandler(fn func(speaking bool)) Option {
	return func(s *Scheduler) {
		s.onSpeaking = fn
	}
}

// Scheduler sequences decoded chunks on an [Output]. All methods are safe for
// concurrent use; each call mutates the live set and next-start position
// atomically.
type Scheduler struct {
	out        Output
	rate       int
	onSpeaking func(bool)
	notifyMu   sync.Mutex

	mu       sync.Mutex
	next     time.Duration
	live     map[Source]struct{}
	speaking bool
	closed   bool
}

// NewScheduler returns a Scheduler writing to out.
func NewScheduler(out Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:  out,
		rate: audio.OutputSampleRate,
		live: make(map[Source]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue decodes raw little-endian PCM16 mono and schedules it. It returns
// the position the chunk was scheduled to start at.
func (s *Scheduler) Enqueue(raw []byte) (time.Duration, error) {
	buf, err := audio.DecodePCM16(raw, audio.Format{SampleRate: s.rate, Channels: 1})
	if err != nil {
		return 0, fmt.Errorf("playback: enqueue: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	startAt := max(s.next, s.out.Now())
	src := s.out.Start(buf, startAt)
	s.next = startAt + buf.Duration()
	s.live[src] = struct{}{}
	flipped := !s.speaking
	s.speaking = true
	s.mu.Unlock()

	if flipped {
		s.notify()
	}
	go s.watch(src)
	return startAt, nil
}

// watch removes src from the live set when it ends naturally.
func (s *Scheduler) watch(src Source) {
	<-src.Done()

	s.mu.Lock()
	if _, ok := s.live[src]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.live, src)
	flipped := len(s.live) == 0 && s.speaking
	if flipped {
		s.speaking = false
	}
	s.mu.Unlock()

	if flipped {
		s.notify()
	}
}

// StopAll halts every live source, clears the live set and resets the next
// start position to the clock's current time. Calling it repeatedly is safe.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	stopped := s.live
	s.live = make(map[Source]struct{})
	s.next = s.out.Now()
	flipped := s.speaking
	s.speaking = false
	s.mu.Unlock()

	for src := range stopped {
		src.Stop()
	}
	if flipped {
		s.notify()
	}
}

// Close stops all playback and rejects further chunks. It is idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.StopAll()
}

// Live returns the number of sources currently scheduled or playing.
func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// NextStart returns the position the next chunk would be scheduled at if the
// clock had not advanced past it.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Speaking reports whether any source is live.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// notify reports the current speaking state rather than the flipped value so
// concurrent flips cannot be delivered out of order.
func (s *Scheduler) notify() {
	if s.onSpeaking == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.onSpeaking(s.Speaking())
}
