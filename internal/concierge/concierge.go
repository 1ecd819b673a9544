// Package concierge implements the site's digital concierge: a text chat
// backed by the hosted text model and an optional real-time voice call.
//
// A [Controller] serves one visitor. It owns at most one voice session at a
// time and walks it through Idle → Connecting → Active → Closed, with Error
// reachable from Connecting and Active. Every terminal transition lands back
// in Idle with the text mode selected, so the visitor can always keep typing.
// Failures never escape to the caller as raw errors: they become an assistant
// message (text) or a notice (voice).
//
// State changes are published as [Event] values to the sink installed with
// [WithSink], in the order they happen.
package concierge

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/apex/internal/observe"
	"github.com/MrWong99/apex/pkg/audio"
	"github.com/MrWong99/apex/pkg/audio/capture"
	"github.com/MrWong99/apex/pkg/audio/playback"
	"github.com/MrWong99/apex/pkg/provider/live"
	"github.com/MrWong99/apex/pkg/provider/llm"
)

var (
	// ErrVoiceBusy is returned by StartVoice while a voice session exists.
	ErrVoiceBusy = errors.New("concierge: voice session already in progress")

	// ErrClosed is returned by StartVoice after Close.
	ErrClosed = errors.New("concierge: controller closed")

	// ErrVoiceUnavailable is returned by StartVoice when no voice provider
	// is configured.
	ErrVoiceUnavailable = errors.New("concierge: voice unavailable")
)

// State is the voice session state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON events.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Mode is the interaction mode shown to the visitor.
type Mode string

const (
	ModeText  Mode = "text"
	ModeVoice Mode = "voice"
)

// Message is one transcript entry.
type Message struct {
	Role llm.Role `json:"role"`
	Text string   `json:"text"`
}

// EventType discriminates [Event].
type EventType string

const (
	// EventState reports a state or mode change.
	EventState EventType = "state"
	// EventMessage carries a new transcript entry.
	EventMessage EventType = "message"
	// EventSpeaking reports the assistant starting or stopping speech.
	EventSpeaking EventType = "speaking"
	// EventNotice carries a user-visible voice notice.
	EventNotice EventType = "notice"
	// EventFlush asks the client to drop any audio it has buffered.
	EventFlush EventType = "flush"
	// EventReset reports the transcript was reset to Transcript.
	EventReset EventType = "reset"
)

// Event is a controller notification.
type Event struct {
	Type       EventType `json:"type"`
	State      State     `json:"state"`
	Mode       Mode      `json:"mode"`
	Message    *Message  `json:"message,omitempty"`
	Speaking   bool      `json:"speaking"`
	Notice     string    `json:"notice,omitempty"`
	Transcript []Message `json:"transcript,omitempty"`
}

// Snapshot is the controller's current view.
type Snapshot struct {
	State      State     `json:"state"`
	Mode       Mode      `json:"mode"`
	Speaking   bool      `json:"speaking"`
	Transcript []Message `json:"transcript"`
}

// Config holds the concierge's copy and audio parameters.
type Config struct {
	Greeting                string
	Instructions            string
	VoiceInstructions       string
	Voice                   string
	FallbackMessage         string
	VoiceUnavailableMessage string
	PermissionDeniedMessage string

	// FrameSize is the number of microphone samples per outbound frame.
	FrameSize int

	// OutputSampleRate is the rate inbound voice audio is decoded at.
	OutputSampleRate int
}

// DefaultPermissionDeniedMessage is shown when the microphone is refused.
const DefaultPermissionDeniedMessage = "Microphone access denied."

// ── Options ──────────────────────────────────────────────────────────────────

// Option is a functional option for [New].
type Option func(*Controller)

// WithLLM sets the text model. name labels metrics.
func WithLLM(p llm.Provider, name string) Option {
	return func(c *Controller) {
		c.llm = p
		c.llmName = name
	}
}

// WithLive sets the voice session provider.
func WithLive(p live.Provider) Option {
	return func(c *Controller) { c.live = p }
}

// WithMicrophone sets where voice calls capture audio from.
func WithMicrophone(m capture.Microphone) Option {
	return func(c *Controller) { c.mic = m }
}

// WithOutput sets the factory for each voice session's playback output.
func WithOutput(fn func() playback.Output) Option {
	return func(c *Controller) { c.newOutput = fn }
}

// WithSink installs the event sink. The sink is called with the controller's
// lock held: it must not block and must not call back into the Controller.
func WithSink(fn func(Event)) Option {
	return func(c *Controller) { c.sink = fn }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// ── Controller ───────────────────────────────────────────────────────────────

// Controller is one visitor's concierge. All methods are safe for concurrent
// use.
type Controller struct {
	cfg       Config
	llm       llm.Provider
	llmName   string
	live      live.Provider
	mic       capture.Microphone
	newOutput func() playback.Output
	sink      func(Event)
	metrics   *observe.Metrics
	capture   *capture.Adapter

	// sendMu serialises text turns on the shared chat.
	sendMu sync.Mutex

	mu         sync.Mutex
	state      State
	mode       Mode
	speaking   bool
	transcript []Message
	chat       llm.Chat
	epoch      uint64
	voice      *voiceSession
	closed     bool
}

// New creates a Controller in the Idle state, text mode, with the greeting
// as the first transcript entry.
func New(cfg Config, opts ...Option) *Controller {
	if cfg.PermissionDeniedMessage == "" {
		cfg.PermissionDeniedMessage = DefaultPermissionDeniedMessage
	}
	c := &Controller{
		cfg:   cfg,
		state: StateIdle,
		mode:  ModeText,
		newOutput: func() playback.Output {
			return playback.NewTimerOutput(func(audio.Frame) {})
		},
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.llmName == "" {
		c.llmName = "llm"
	}
	c.capture = capture.New(
		capture.WithFrameSize(cfg.FrameSize),
		capture.WithFrameCounter(func() { c.metrics.CaptureFrames.Add(context.Background(), 1) }),
	)
	c.transcript = c.initialTranscript()
	return c
}

func (c *Controller) initialTranscript() []Message {
	if c.cfg.Greeting == "" {
		return nil
	}
	return []Message{{Role: llm.RoleModel, Text: c.cfg.Greeting}}
}

// Snapshot returns the current state, mode and transcript.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:      c.state,
		Mode:       c.mode,
		Speaking:   c.speaking,
		Transcript: append([]Message(nil), c.transcript...),
	}
}

// Reset discards the text conversation and restores the greeting. A text
// turn in flight completes but its reply is dropped. The voice session is
// not affected.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.chat = nil
	c.transcript = c.initialTranscript()
	c.emit(Event{Type: EventReset, Transcript: append([]Message(nil), c.transcript...)})
}

// Close ends any voice session and rejects new ones.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.EndVoice()
}

// ── internals (c.mu held) ────────────────────────────────────────────────────

func (c *Controller) emit(ev Event) {
	if c.sink == nil {
		return
	}
	ev.State = c.state
	ev.Mode = c.mode
	ev.Speaking = c.speaking
	c.sink(ev)
}

func (c *Controller) setState(s State, m Mode) {
	if c.state == s && c.mode == m {
		return
	}
	c.state = s
	c.mode = m
	c.emit(Event{Type: EventState})
}

func (c *Controller) appendMessage(m Message) {
	c.transcript = append(c.transcript, m)
	c.emit(Event{Type: EventMessage, Message: &m})
}

func (c *Controller) setSpeaking(b bool) {
	if c.speaking == b {
		return
	}
	c.speaking = b
	c.emit(Event{Type: EventSpeaking})
}
