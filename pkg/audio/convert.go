// Package audio holds the PCM primitives shared by the concierge voice
// pipeline: the [Frame] type, sample-format conversion between the browser's
// floating-point capture buffers and the 16-bit wire format, and simple
// resampling for microphones that do not run at 16 kHz.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// ErrOddLength is returned by [DecodePCM16] when a payload cannot hold a whole
// number of 16-bit samples.
var ErrOddLength = errors.New("audio: odd byte count in PCM16 payload")

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// FloatToPCM16 converts floating-point samples in [-1, 1] to little-endian
// int16 PCM. Each sample is scaled by 32768 and truncated toward zero; values
// outside the int16 range are clamped, so +1.0 maps to 32767.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		putSample(out, i, FloatToInt16(s))
	}
	return out
}

// FloatToInt16 converts a single floating-point sample using the same scaling
// as [FloatToPCM16].
func FloatToInt16(s float32) int16 {
	v := float64(s) * 32768
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// DecodePCM16 wraps a raw little-endian int16 payload into a [Frame] with the
// given format. The payload is not copied.
func DecodePCM16(raw []byte, f Format) (Frame, error) {
	if len(raw)%2 != 0 {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrOddLength, len(raw))
	}
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return Frame{Data: raw, SampleRate: f.SampleRate, Channels: ch}, nil
}

// FormatConverter brings PCM frames to a target format. It logs a warning on
// the first mismatch it sees. Create one per stream: the resampling position
// carries over from frame to frame, so consecutive frames join without lost
// samples. It is not meant to be shared across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
	rs             resampler
}

// Convert returns frame in the target format. Frames that already match are
// returned unchanged. Stereo input is downmixed before resampling so only a
// single channel is interpolated.
func (c *FormatConverter) Convert(frame Frame) Frame {
	if len(frame.Data)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: odd byte count in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"format", Format{SampleRate: frame.SampleRate, Channels: frame.Channels},
			)
		})
		return Frame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}
	}

	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", Format{SampleRate: frame.SampleRate, Channels: frame.Channels},
			"to", c.Target,
		)
	})

	pcm := frame.Data
	if frame.Channels == 2 && c.Target.Channels == 1 {
		pcm = StereoToMono(pcm)
	}
	if frame.SampleRate > 0 && frame.SampleRate != c.Target.SampleRate {
		pcm = c.rs.process(pcm, frame.SampleRate, c.Target.SampleRate)
	}

	return Frame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
}

// StereoToMono averages each interleaved L/R pair into one mono sample.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sampleAt(pcm, 2*i))
		r := int32(sampleAt(pcm, 2*i+1))
		putSample(out, i, int16((l+r)/2))
	}
	return out
}

// resampler is a streaming linear interpolator for 16-bit mono PCM. The read
// position is kept as an exact fraction (pos/dst input samples from the start
// of the next block) and the last input sample is remembered so that output
// positions falling between two blocks interpolate correctly.
type resampler struct {
	src, dst int
	pos      int64
	prev     int16
}

func (r *resampler) process(pcm []byte, src, dst int) []byte {
	if r.src != src || r.dst != dst {
		*r = resampler{src: src, dst: dst}
	}
	n := int64(len(pcm) / 2)
	if n == 0 {
		return nil
	}
	d := int64(dst)
	at := func(i int64) float64 {
		if i < 0 {
			return float64(r.prev)
		}
		return float64(sampleAt(pcm, int(i)))
	}

	out := make([]byte, 0, 2*(n*d/int64(src)+1))
	for ; r.pos <= (n-1)*d; r.pos += int64(src) {
		idx := int64(-1)
		if r.pos >= 0 {
			idx = r.pos / d
		}
		frac := float64(r.pos-idx*d) / float64(d)
		v := at(idx)*(1-frac) + at(idx+1)*frac
		out = binary.LittleEndian.AppendUint16(out, uint16(int16(math.Round(v))))
	}
	r.pos -= n * d
	r.prev = sampleAt(pcm, int(n-1))
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
}

func putSample(pcm []byte, i int, v int16) {
	pcm[2*i] = byte(v)
	pcm[2*i+1] = byte(v >> 8)
}
