// Package capture turns a live microphone stream into fixed-size PCM16
// frames for the voice session.
//
// A [Microphone] yields an [InputStream] of floating-point sample blocks in
// whatever block size the device delivers. The [Adapter] converts those
// blocks to 16-bit PCM at 16 kHz as they arrive, re-chunks the converted
// stream into frames of exactly [audio.CaptureFrameSize] samples and hands
// each frame to a non-blocking send function in capture order.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/MrWong99/apex/pkg/audio"
)

// ErrPermissionDenied is returned by [Microphone.Open] when the user refused
// microphone access. No stream exists when this error is returned.
var ErrPermissionDenied = errors.New("capture: microphone permission denied")

// Microphone acquires a capture stream.
type Microphone interface {
	// Open requests access to the microphone. It returns
	// [ErrPermissionDenied] (possibly wrapped) when access is refused.
	Open(ctx context.Context) (InputStream, error)
}

// InputStream is an open microphone. Close releases the device and closes
// the Samples channel. Close must be idempotent.
type InputStream interface {
	// Samples delivers blocks of mono samples in [-1, 1]. The channel is
	// closed when the stream ends.
	Samples() <-chan []float32

	// SampleRate reports the device rate. Zero means [audio.InputSampleRate].
	SampleRate() int

	Close() error
}

// SendFunc receives each converted frame. It must not block.
type SendFunc func(frame audio.Frame)

// Option is a functional option for [Adapter].
type Option func(*Adapter)

// WithFrameSize overrides the number of samples per frame. Non-positive
// values are ignored.
func WithFrameSize(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.frameSize = n
		}
	}
}

// WithFrameCounter installs a callback invoked once per frame sent, used for
// metrics.
func WithFrameCounter(fn func()) Option {
	return func(a *Adapter) {
		a.onFrame = fn
	}
}

// Adapter converts an [InputStream] into outbound frames.
type Adapter struct {
	frameSize int
	onFrame   func()
}

// New returns an Adapter producing [audio.CaptureFrameSize]-sample frames
// unless overridden.
func New(opts ...Option) *Adapter {
	a := &Adapter{frameSize: audio.CaptureFrameSize}
	for _, o := range opts {
		o(a)
	}
	return a
}

// FrameSize reports the number of 16 kHz samples per outbound frame.
func (a *Adapter) FrameSize() int { return a.frameSize }

// Run forwards frames from in to send until ctx is cancelled or the stream
// ends. Samples that do not fill a whole frame when the stream ends are
// discarded. Run returns the number of frames sent. A cancelled context is
// not reported as an error.
func (a *Adapter) Run(ctx context.Context, in InputStream, send SendFunc) (int, error) {
	if in == nil || send == nil {
		return 0, fmt.Errorf("capture: run: nil stream or send function")
	}

	rate := in.SampleRate()
	if rate <= 0 {
		rate = audio.InputSampleRate
	}
	conv := &audio.FormatConverter{Target: audio.Format{SampleRate: audio.InputSampleRate, Channels: 1}}
	frameBytes := a.frameSize * 2
	frameDur := time.Duration(int64(a.frameSize) * int64(time.Second) / audio.InputSampleRate)

	var pending []byte
	sent := 0
	samples := in.Samples()
	for {
		select {
		case <-ctx.Done():
			return sent, nil
		case block, ok := <-samples:
			if !ok {
				if len(pending) > 0 {
					slog.Debug("capture: dropping partial frame at stream end", "samples", len(pending)/2)
				}
				return sent, nil
			}
			converted := conv.Convert(audio.Frame{
				Data:       audio.FloatToPCM16(block),
				SampleRate: rate,
				Channels:   1,
			})
			pending = append(pending, converted.Data...)
			if len(pending) < frameBytes {
				continue
			}
			for len(pending) >= frameBytes {
				data := make([]byte, frameBytes)
				copy(data, pending)
				pending = pending[frameBytes:]
				send(audio.Frame{
					Data:       data,
					SampleRate: audio.InputSampleRate,
					Channels:   1,
					Timestamp:  time.Duration(sent) * frameDur,
				})
				sent++
				if a.onFrame != nil {
					a.onFrame()
				}
			}
			// Release the consumed head of the buffer.
			pending = slices.Clone(pending)
		}
	}
}
