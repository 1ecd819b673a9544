package concierge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/apex/pkg/audio"
	"github.com/MrWong99/apex/pkg/audio/capture"
	"github.com/MrWong99/apex/pkg/audio/playback"
	"github.com/MrWong99/apex/pkg/provider/live"
)

// voiceSession is the single voice call a Controller may own. Fields other
// than the release bookkeeping are guarded by Controller.mu.
type voiceSession struct {
	sess      live.Session
	stream    capture.InputStream
	sched     *playback.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
	opened    bool
	capturing bool
	openedAt  time.Time

	releaseOnce sync.Once
}

// release stops capture and playback and closes the session and microphone.
// It must be called without Controller.mu held, after the session has been
// detached from the controller.
func (vs *voiceSession) release(c *Controller) {
	vs.releaseOnce.Do(func() {
		vs.cancel()
		if vs.sched != nil {
			vs.sched.Close()
		}
		if vs.sess != nil {
			if err := vs.sess.Close(); err != nil {
				slog.Debug("concierge: close voice session", "err", err)
			}
		}
		if vs.stream != nil {
			_ = vs.stream.Close()
		}
		if !vs.openedAt.IsZero() {
			c.metrics.LiveSessionClosed(context.Background(), time.Since(vs.openedAt))
		}
	})
}

// StartVoice moves Idle → Connecting: it asks for the microphone and opens
// the voice session. The session becomes Active once the remote side
// acknowledges it. On failure the controller returns to Idle in text mode,
// publishes a notice and returns an error wrapping capture.ErrPermissionDenied
// or live.ErrConnection.
func (c *Controller) StartVoice(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.voice != nil:
		c.mu.Unlock()
		return ErrVoiceBusy
	case c.live == nil || c.mic == nil:
		c.setState(StateIdle, ModeText)
		c.emit(Event{Type: EventNotice, Notice: c.cfg.VoiceUnavailableMessage})
		c.mu.Unlock()
		return ErrVoiceUnavailable
	}
	vctx, cancel := context.WithCancel(context.Background())
	vs := &voiceSession{ctx: vctx, cancel: cancel}
	c.voice = vs
	c.setState(StateConnecting, ModeVoice)
	c.mu.Unlock()

	stream, err := c.mic.Open(ctx)
	if err != nil {
		notice := c.cfg.VoiceUnavailableMessage
		if errors.Is(err, capture.ErrPermissionDenied) {
			notice = c.cfg.PermissionDeniedMessage
		}
		c.terminate(vs, StateIdle, notice)
		return fmt.Errorf("concierge: open microphone: %w", err)
	}

	c.mu.Lock()
	if c.voice != vs {
		// Ended while waiting for the microphone.
		c.mu.Unlock()
		_ = stream.Close()
		return nil
	}
	vs.stream = stream
	vs.sched = playback.NewScheduler(c.newOutput(),
		playback.WithSampleRate(c.cfg.OutputSampleRate),
		playback.WithSpeakingHandler(c.speakingHandler(vs)),
	)
	c.mu.Unlock()

	sess, err := c.live.Connect(ctx, live.Config{
		Instructions: c.cfg.VoiceInstructions,
		Voice:        c.cfg.Voice,
	}, c.handler(vs))
	if err != nil {
		c.terminate(vs, StateError, c.cfg.VoiceUnavailableMessage)
		if !errors.Is(err, live.ErrConnection) {
			err = fmt.Errorf("%w: %w", live.ErrConnection, err)
		}
		return fmt.Errorf("concierge: connect: %w", err)
	}

	c.mu.Lock()
	if c.voice != vs {
		// Ended or failed while connecting.
		c.mu.Unlock()
		_ = sess.Close()
		return nil
	}
	vs.sess = sess
	c.maybeStartCapture(vs)
	c.mu.Unlock()
	return nil
}

// EndVoice is the visitor hanging up: Active → Closed → Idle, text mode.
// Playback stops, the session closes and the microphone is released. It is
// idempotent and valid from any state.
func (c *Controller) EndVoice() {
	c.mu.Lock()
	vs := c.voice
	if vs == nil {
		c.setState(StateIdle, ModeText)
		c.mu.Unlock()
		return
	}
	c.detach(StateClosed, "")
	c.mu.Unlock()
	vs.release(c)
}

// SwitchToText selects text mode, ending any voice session.
func (c *Controller) SwitchToText() {
	c.EndVoice()
}

// terminate detaches vs if it is still current, passing through via on the
// way to Idle, and releases it.
func (c *Controller) terminate(vs *voiceSession, via State, notice string) {
	c.mu.Lock()
	if c.voice != vs {
		c.mu.Unlock()
		return
	}
	c.detach(via, notice)
	c.mu.Unlock()
	vs.release(c)
}

// detach drops the owned session and walks the state machine back to Idle.
// c.mu must be held.
func (c *Controller) detach(via State, notice string) {
	c.voice = nil
	c.setSpeaking(false)
	if via != StateIdle {
		c.setState(via, c.mode)
	}
	c.setState(StateIdle, ModeText)
	if notice != "" {
		c.emit(Event{Type: EventNotice, Notice: notice})
	}
}

// maybeStartCapture begins forwarding microphone frames once the session is
// both acknowledged and returned by Connect. c.mu must be held.
func (c *Controller) maybeStartCapture(vs *voiceSession) {
	if !vs.opened || vs.sess == nil || vs.capturing {
		return
	}
	vs.capturing = true
	sess, stream := vs.sess, vs.stream
	go func() {
		n, err := c.capture.Run(vs.ctx, stream, func(f audio.Frame) { sess.Send(f) })
		if err != nil {
			slog.Warn("concierge: capture stopped", "err", err, "frames", n)
		}
		if vs.ctx.Err() == nil {
			// The microphone went away on its own.
			c.terminate(vs, StateClosed, "")
		}
	}()
}

func (c *Controller) handler(vs *voiceSession) live.Handler {
	return live.Handler{
		OnOpen: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.voice != vs || vs.opened {
				return
			}
			vs.opened = true
			vs.openedAt = time.Now()
			c.metrics.LiveSessionOpened(context.Background())
			c.setState(StateActive, ModeVoice)
			c.maybeStartCapture(vs)
		},
		OnMessage: func(m live.Message) {
			c.mu.Lock()
			current := c.voice == vs && vs.sched != nil
			c.mu.Unlock()
			if !current {
				return
			}
			ctx := context.Background()
			if m.Interrupted {
				// Sources are stopped before the flush goes out so no
				// pre-interrupt audio can reach the sink after it.
				vs.sched.StopAll()
				c.metrics.PlaybackInterruptions.Add(ctx, 1)
				c.mu.Lock()
				if c.voice == vs {
					c.emit(Event{Type: EventFlush})
				}
				c.mu.Unlock()
			}
			if len(m.Audio) > 0 {
				if _, err := vs.sched.Enqueue(m.Audio); err != nil {
					if !errors.Is(err, playback.ErrClosed) {
						slog.Warn("concierge: dropping undecodable audio chunk", "err", err)
					}
					return
				}
				c.metrics.PlaybackChunks.Add(ctx, 1)
			}
		},
		OnError: func(err error) {
			slog.Warn("concierge: voice session failed", "err", err)
			c.terminate(vs, StateError, c.cfg.VoiceUnavailableMessage)
		},
		OnClose: func() {
			c.mu.Lock()
			notice := ""
			if !vs.opened {
				notice = c.cfg.VoiceUnavailableMessage
			}
			c.mu.Unlock()
			c.terminate(vs, StateIdle, notice)
		},
	}
}

func (c *Controller) speakingHandler(vs *voiceSession) func(bool) {
	return func(speaking bool) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.voice != vs {
			return
		}
		c.setSpeaking(speaking)
	}
}
