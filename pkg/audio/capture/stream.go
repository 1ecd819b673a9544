package capture

import "sync"

// PushStream is an [InputStream] fed by a producer that pushes sample blocks,
// such as a WebSocket reader relaying browser microphone buffers. Push never
// blocks: blocks are dropped while the internal buffer is full.
type PushStream struct {
	rate int

	mu     sync.Mutex
	ch     chan []float32
	closed bool
}

var _ InputStream = (*PushStream)(nil)

// NewPushStream returns a stream delivering samples at rate Hz with room for
// buffer pending blocks.
func NewPushStream(rate, buffer int) *PushStream {
	if buffer <= 0 {
		buffer = 32
	}
	return &PushStream{rate: rate, ch: make(chan []float32, buffer)}
}

// Push queues a block. It reports false when the stream is closed or the
// block was dropped because the consumer fell behind.
func (s *PushStream) Push(block []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- block:
		return true
	default:
		return false
	}
}

// Samples implements [InputStream].
func (s *PushStream) Samples() <-chan []float32 { return s.ch }

// SampleRate implements [InputStream].
func (s *PushStream) SampleRate() int { return s.rate }

// Close implements [InputStream]. It is safe to call more than once.
func (s *PushStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// Closed reports whether Close has been called.
func (s *PushStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
