// Package gemini implements the live.Provider interface for Google's Gemini
// Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live
// endpoint and exchanges JSON messages according to the BidiGenerateContent
// protocol. Microphone audio is transmitted as base64-encoded PCM chunks;
// synthesised audio and barge-in signals are surfaced through the
// live.Handler callbacks.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/apex/pkg/audio"
	"github.com/MrWong99/apex/pkg/provider/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const (
	defaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultVoice   = "Zephyr"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	outboundQueue = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithVoice sets the default prebuilt voice used when a session does not name
// one.
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey  string
	model   string
	voice   string
	baseURL string
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		voice:   defaultVoice,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// Connect dials Gemini Live and sends the setup message. OnOpen fires when the
// server acknowledges setup, which may happen before Connect returns.
func (p *Provider) Connect(ctx context.Context, cfg live.Config, h live.Handler) (live.Session, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, url.QueryEscape(p.apiKey),
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: gemini: dial: %w", live.ErrConnection, err)
	}
	// Audio payloads routinely exceed the 32 KiB default.
	conn.SetReadLimit(16 << 20)

	voice := cfg.Voice
	if voice == "" {
		voice = p.voice
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:    conn,
		handler: h,
		outCh:   make(chan []byte, outboundQueue),
		done:    make(chan struct{}),
		ctx:     sessCtx,
		cancel:  sessCancel,
	}

	if err := sess.sendSetup(p.model, voice, cfg.Instructions); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("%w: gemini: setup: %w", live.ErrConnection, err)
	}

	go sess.receiveLoop()
	go sess.sendLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model             string             `json:"model"`
	GenerationConfig  generationConfig   `json:"generationConfig"`
	SystemInstruction *systemInstruction `json:"systemInstruction,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *json.RawMessage `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn    *modelTurn `json:"modelTurn,omitempty"`
	TurnComplete bool       `json:"turnComplete,omitempty"`
	Interrupted  bool       `json:"interrupted,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn    *websocket.Conn
	handler live.Handler
	outCh   chan []byte

	mu          sync.Mutex
	closed      bool
	dropWarned  bool
	done        chan struct{}
	onCloseOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// sendSetup sends the initial BidiGenerateContent setup message.
func (s *session) sendSetup(model, voice, instructions string) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig: &speechConfig{
					VoiceConfig: voiceConfig{
						PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice},
					},
				},
			},
		},
	}
	if instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: instructions}},
		}
	}
	return s.writeJSON(msg)
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and dispatches them to the
// handler in arrival order. When it exits the session is closed and OnClose
// fires.
func (s *session) receiveLoop() {
	defer s.fireClose()
	defer s.Close()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// Local Close or a clean remote close is not an error.
			if s.ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			s.fireError(fmt.Errorf("%w: gemini: read: %w", live.ErrConnection, err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("gemini live: skipping malformed frame", "err", err)
			continue
		}

		if !s.handleServerMessage(&msg) {
			return
		}
	}
}

// handleServerMessage reports false when the session must stop reading.
func (s *session) handleServerMessage(msg *serverMessage) bool {
	if msg.Error != nil {
		text := "unknown error"
		if msg.Error.Message != "" {
			text = msg.Error.Message
		}
		s.fireError(fmt.Errorf("%w: gemini: %s", live.ErrConnection, text))
		return false
	}
	if msg.SetupComplete != nil && s.handler.OnOpen != nil {
		s.handler.OnOpen()
	}
	if msg.GoAway != nil {
		slog.Info("gemini live: server announced disconnect")
	}
	if msg.ServerContent != nil {
		s.handleServerContent(msg.ServerContent)
	}
	return true
}

func (s *session) handleServerContent(sc *serverContent) {
	if s.handler.OnMessage == nil {
		return
	}

	// Barge-in is delivered before any audio carried by the same message.
	if sc.Interrupted {
		s.handler.OnMessage(live.Message{Interrupted: true})
	}

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil || len(data) == 0 {
				continue
			}
			s.handler.OnMessage(live.Message{Audio: data})
		}
	}

	if sc.TurnComplete {
		s.handler.OnMessage(live.Message{TurnComplete: true})
	}
}

// sendLoop drains queued frames to the socket in order.
func (s *session) sendLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case chunk := <-s.outCh:
			msg := realtimeInputMessage{
				RealtimeInput: realtimeInput{
					MediaChunks: []inlineData{
						{MIMEType: audio.InputMIMEType, Data: base64.StdEncoding.EncodeToString(chunk)},
					},
				},
			}
			if err := s.writeJSON(msg); err != nil {
				if s.ctx.Err() == nil {
					slog.Warn("gemini live: write failed", "err", err)
				}
				return
			}
		}
	}
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

func (s *session) fireError(err error) {
	if s.handler.OnError != nil {
		s.handler.OnError(err)
	}
}

func (s *session) fireClose() {
	s.onCloseOnce.Do(func() {
		if s.handler.OnClose != nil {
			s.handler.OnClose()
		}
	})
}

// ── live.Session methods ───────────────────────────────────────────────────────

// Send queues a 16 kHz mono PCM frame for delivery. It never blocks.
func (s *session) Send(frame audio.Frame) bool {
	if len(frame.Data) == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.outCh <- frame.Data:
		return true
	default:
		if !s.dropWarned {
			s.dropWarned = true
			slog.Warn("gemini live: outbound queue full, dropping audio")
		}
		return false
	}
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()    // unblocks receiveLoop, sendLoop and keepaliveLoop
	close(s.done) // signals keepaliveLoop via done channel
	_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
