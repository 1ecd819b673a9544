package web

import (
	"cmp"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/apex/internal/concierge"
	"github.com/MrWong99/apex/pkg/audio"
	"github.com/MrWong99/apex/pkg/audio/capture"
	"github.com/MrWong99/apex/pkg/audio/playback"
)

const (
	// outboundQueue bounds messages waiting for the socket writer.
	outboundQueue = 512

	// micBuffer bounds microphone blocks waiting for the capture adapter.
	micBuffer = 64

	// textQueue bounds typed messages waiting for the text model.
	textQueue = 8

	writeTimeout = 10 * time.Second
	readLimit    = 1 << 20
)

// Client→server command types.
const (
	cmdSendText   = "send_text"
	cmdStartVoice = "start_voice"
	cmdEndVoice   = "end_voice"
	cmdSwitchText = "switch_text"
	cmdReset      = "reset"
)

// command is a JSON text frame sent by the browser.
type command struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// Microphone is "granted" or "denied"; start_voice only.
	Microphone string `json:"microphone,omitempty"`

	// SampleRate of the binary microphone frames that follow; start_voice
	// only. Zero means 16 kHz.
	SampleRate int `json:"sampleRate,omitempty"`
}

type outbound struct {
	typ  websocket.MessageType
	data []byte
}

// wsClient queues outbound traffic for one concierge socket. Enqueueing never
// blocks: messages are dropped when the writer falls behind.
type wsClient struct {
	id   string
	out  chan outbound
	text chan string
	done <-chan struct{}
	mic  *wsMicrophone
}

func (c *wsClient) enqueue(m outbound) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.out <- m:
	default:
		slog.Warn("web: concierge client too slow, dropping message", "client", c.id)
	}
}

func (c *wsClient) sendEvent(ev concierge.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("web: encode concierge event", "err", err)
		return
	}
	c.enqueue(outbound{typ: websocket.MessageText, data: data})
}

func (c *wsClient) sendAudio(f audio.Frame) {
	c.enqueue(outbound{typ: websocket.MessageBinary, data: f.Data})
}

func (c *wsClient) sendError(msg string) {
	data, _ := json.Marshal(map[string]string{"type": "error", "error": msg})
	c.enqueue(outbound{typ: websocket.MessageText, data: data})
}

// textLoop relays typed messages to the controller one at a time, in the
// order they arrived.
func (c *wsClient) textLoop(ctx context.Context, ctrl *concierge.Controller) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-c.text:
			ctrl.SendText(ctx, text)
		}
	}
}

func (c *wsClient) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, m.typ, m.data)
			cancel()
			if err != nil {
				return fmt.Errorf("web: concierge write: %w", err)
			}
		}
	}
}

// wsMicrophone is the browser's microphone as seen through the socket.
// Binary frames are pushed into the stream opened by the current call.
type wsMicrophone struct {
	defaultRate int

	mu     sync.Mutex
	denied bool
	rate   int
	stream *capture.PushStream
}

var _ capture.Microphone = (*wsMicrophone)(nil)

func (m *wsMicrophone) setPermission(granted bool, rate int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denied = !granted
	m.rate = rate
}

// Open implements capture.Microphone.
func (m *wsMicrophone) Open(context.Context) (capture.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.denied {
		return nil, capture.ErrPermissionDenied
	}
	if m.stream != nil {
		_ = m.stream.Close()
	}
	rate := cmp.Or(m.rate, m.defaultRate, audio.InputSampleRate)
	m.stream = capture.NewPushStream(rate, micBuffer)
	return m.stream, nil
}

func (m *wsMicrophone) push(samples []float32) {
	m.mu.Lock()
	s := m.stream
	m.mu.Unlock()
	if s != nil {
		s.Push(samples)
	}
}

func (m *wsMicrophone) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		_ = m.stream.Close()
		m.stream = nil
	}
}

// decodeFloat32 parses little-endian IEEE 754 samples.
func decodeFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("web: audio frame length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// handleConcierge upgrades to a WebSocket and runs one concierge controller
// for the lifetime of the socket.
func (s *Server) handleConcierge(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		slog.Warn("web: concierge upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := &wsClient{
		id:   uuid.NewString(),
		out:  make(chan outbound, outboundQueue),
		text: make(chan string, textQueue),
		done: ctx.Done(),
		mic:  &wsMicrophone{defaultRate: s.cfg.InputSampleRate},
	}
	ctrl := s.cfg.Concierge(
		concierge.WithSink(client.sendEvent),
		concierge.WithMicrophone(client.mic),
		concierge.WithOutput(func() playback.Output {
			return playback.NewTimerOutput(client.sendAudio)
		}),
	)

	log := slog.With("client", client.id)
	log.Info("concierge connected")

	snap := ctrl.Snapshot()
	client.sendEvent(concierge.Event{
		Type:       concierge.EventReset,
		State:      snap.State,
		Mode:       snap.Mode,
		Speaking:   snap.Speaking,
		Transcript: snap.Transcript,
	})

	var pending sync.WaitGroup
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return client.writeLoop(gctx, conn) })
	g.Go(func() error { return client.textLoop(gctx, ctrl) })
	g.Go(func() error {
		defer cancel()
		return s.readLoop(gctx, conn, client, ctrl, &pending)
	})
	err = g.Wait()

	ctrl.Close()
	client.mic.close()
	pending.Wait()

	if err != nil {
		log.Warn("concierge disconnected", "err", err)
		conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	log.Info("concierge disconnected")
	conn.Close(websocket.StatusNormalClosure, "")
}

// readLoop dispatches inbound frames until the socket closes. Commands that
// wait on a provider never run on this goroutine, so microphone audio keeps
// flowing: text goes to the text loop and voice setup runs on a goroutine
// tracked by pending.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, client *wsClient, ctrl *concierge.Controller, pending *sync.WaitGroup) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("web: concierge read: %w", err)
		}

		if typ == websocket.MessageBinary {
			samples, err := decodeFloat32(data)
			if err != nil {
				client.sendError(err.Error())
				continue
			}
			client.mic.push(samples)
			continue
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			client.sendError("malformed command")
			continue
		}
		switch cmd.Type {
		case cmdSendText:
			select {
			case client.text <- cmd.Text:
			default:
				client.sendError("too many pending messages")
			}
		case cmdStartVoice:
			client.mic.setPermission(cmd.Microphone != "denied", cmd.SampleRate)
			pending.Go(func() {
				if err := ctrl.StartVoice(ctx); err != nil && !errors.Is(err, context.Canceled) {
					slog.Debug("web: start voice", "client", client.id, "err", err)
				}
			})
		case cmdEndVoice:
			ctrl.EndVoice()
		case cmdSwitchText:
			ctrl.SwitchToText()
		case cmdReset:
			ctrl.Reset()
		default:
			client.sendError(fmt.Sprintf("unknown command %q", cmd.Type))
		}
	}
}
