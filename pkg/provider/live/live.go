// Package live defines the Streaming Session contract: a long-lived
// bidirectional audio connection to a hosted conversational voice service.
//
// A [Provider] opens a [Session] with [Provider.Connect]. Outbound microphone
// frames are handed to [Session.Send], which never blocks; inbound events are
// delivered to the [Handler] callbacks supplied at connect time. Callbacks for
// one session are invoked sequentially from a single goroutine, in the order
// messages arrive from the network.
package live

import (
	"context"
	"errors"

	"github.com/MrWong99/apex/pkg/audio"
)

// ErrConnection reports that the session could not be opened or failed while
// running.
var ErrConnection = errors.New("live: connection error")

// Config holds the per-session parameters sent when the connection is opened.
type Config struct {
	// Instructions is the system prompt for the voice persona.
	Instructions string

	// Voice is the provider's prebuilt voice name. Empty selects the
	// provider default.
	Voice string
}

// Message is one inbound event from the remote service.
type Message struct {
	// Audio holds decoded PCM16 mono audio at [audio.OutputSampleRate].
	// Empty when the message carries no audio.
	Audio []byte

	// Interrupted reports barge-in: the remote side started a new turn and
	// all scheduled playback must stop.
	Interrupted bool

	// TurnComplete marks the end of the model's turn.
	TurnComplete bool
}

// Handler receives session lifecycle events. Nil fields are ignored.
type Handler struct {
	// OnOpen fires once the remote service acknowledged the session setup.
	OnOpen func()

	// OnMessage fires for every inbound message, in network order.
	OnMessage func(Message)

	// OnError fires when the connection fails or the service reports an
	// error. The session is unusable afterwards.
	OnError func(error)

	// OnClose fires exactly once when the connection has ended, whether the
	// remote side closed it, it failed, or Close was called.
	OnClose func()
}

// Session is an open Streaming Session.
type Session interface {
	// Send queues an outbound PCM frame (16 kHz mono). It never blocks and
	// reports whether the frame was queued. Frames sent after Close, or while
	// the outbound queue is full, are dropped.
	Send(frame audio.Frame) bool

	// Close requests graceful termination. It is idempotent and safe to call
	// from inside a Handler callback.
	Close() error
}

// Provider opens Streaming Sessions.
type Provider interface {
	// Connect dials the remote service and sends the session setup. OnOpen
	// may fire before Connect returns.
	Connect(ctx context.Context, cfg Config, h Handler) (Session, error)
}
