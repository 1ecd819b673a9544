package playback

import (
	"sync"
	"time"

	"github.com/MrWong99/apex/pkg/audio"
)

// TimerOutput is an [Output] whose clock is wall time since construction.
// It has no device of its own: at each source's start position the buffer is
// handed to a sink (for example a WebSocket writer relaying audio to the
// browser), and the source reports done once its duration has elapsed.
type TimerOutput struct {
	epoch time.Time
	sink  func(audio.Frame)
}

var _ Output = (*TimerOutput)(nil)

// NewTimerOutput returns an output releasing buffers to sink. sink runs on a
// timer goroutine and must not block.
func NewTimerOutput(sink func(audio.Frame)) *TimerOutput {
	return &TimerOutput{epoch: time.Now(), sink: sink}
}

// Now implements [Clock].
func (o *TimerOutput) Now() time.Duration { return time.Since(o.epoch) }

// Start implements [Output].
func (o *TimerOutput) Start(buf audio.Frame, at time.Duration) Source {
	src := &timerSource{done: make(chan struct{})}

	src.mu.Lock()
	defer src.mu.Unlock()
	src.start = time.AfterFunc(max(at-o.Now(), 0), func() {
		src.mu.Lock()
		defer src.mu.Unlock()
		if src.stopped {
			return
		}
		if o.sink != nil {
			o.sink(buf)
		}
		src.end = time.AfterFunc(buf.Duration(), src.finish)
	})
	return src
}

type timerSource struct {
	mu      sync.Mutex
	start   *time.Timer
	end     *time.Timer
	stopped bool

	once sync.Once
	done chan struct{}
}

func (s *timerSource) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.start != nil {
		s.start.Stop()
	}
	if s.end != nil {
		s.end.Stop()
	}
	s.mu.Unlock()
	s.finish()
}

func (s *timerSource) Done() <-chan struct{} { return s.done }

func (s *timerSource) finish() {
	s.once.Do(func() { close(s.done) })
}
