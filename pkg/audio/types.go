package audio

import "time"

const (
	// InputSampleRate is the rate of microphone audio sent to the voice service.
	InputSampleRate = 16000

	// OutputSampleRate is the rate of synthesised audio received from the voice service.
	OutputSampleRate = 24000

	// CaptureFrameSize is the number of samples per outbound capture frame.
	CaptureFrameSize = 4096

	// InputMIMEType labels outbound PCM for the voice service.
	InputMIMEType = "audio/pcm;rate=16000"
)

// Frame is a block of little-endian signed 16-bit PCM audio. Frames are the
// unit that flows from the microphone to the voice session and from the voice
// session to the playback scheduler.
type Frame struct {
	// Data holds interleaved int16 samples, two bytes per sample per channel.
	Data []byte

	// SampleRate in Hz (16000 for capture, 24000 for playback).
	SampleRate int

	// Channels is 1 for every stream in the concierge pipeline.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel held by the frame.
func (f Frame) Samples() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return len(f.Data) / (2 * ch)
}

// Duration returns the playback length of the frame. A frame without a valid
// sample rate has zero duration.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(f.Samples()) * int64(time.Second) / int64(f.SampleRate))
}
