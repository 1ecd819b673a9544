package web_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/apex/internal/concierge"
	"github.com/MrWong99/apex/internal/web"
	"github.com/MrWong99/apex/pkg/provider/live"
)

type wsEvent struct {
	Type     string `json:"type"`
	State    string `json:"state"`
	Mode     string `json:"mode"`
	Speaking bool   `json:"speaking"`
	Notice   string `json:"notice"`
	Error    string `json:"error"`
	Message  *struct {
		Role string `json:"role"`
		Text string `json:"text"`
	} `json:"message"`
	Transcript []struct {
		Role string `json:"role"`
		Text string `json:"text"`
	} `json:"transcript"`
}

func dialConcierge(t *testing.T, e *env) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/concierge"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func sendCommand(t *testing.T, conn *websocket.Conn, cmd map[string]any) {
	t.Helper()
	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func sendSamples(t *testing.T, conn *websocket.Conn, samples ...float32) {
	t.Helper()
	buf := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, buf); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// next reads until a frame satisfies match. Binary frames are passed to
// match with a nil event; text frames are decoded first.
func next(t *testing.T, conn *websocket.Conn, match func(ev *wsEvent, bin []byte) bool) (*wsEvent, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if typ == websocket.MessageBinary {
			if match(nil, data) {
				return nil, data
			}
			continue
		}
		var ev wsEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if match(&ev, nil) {
			return &ev, nil
		}
	}
}

func eventOf(typ string) func(*wsEvent, []byte) bool {
	return func(ev *wsEvent, _ []byte) bool { return ev != nil && ev.Type == typ }
}

func stateIs(state, mode string) func(*wsEvent, []byte) bool {
	return func(ev *wsEvent, _ []byte) bool {
		return ev != nil && ev.Type == "state" && ev.State == state && ev.Mode == mode
	}
}

func TestConcierge_SnapshotAndText(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	conn := dialConcierge(t, e)

	ev, _ := next(t, conn, eventOf("reset"))
	if ev.State != "idle" || ev.Mode != "text" {
		t.Errorf("initial state = %s/%s", ev.State, ev.Mode)
	}
	if len(ev.Transcript) != 1 || ev.Transcript[0].Text != "Welcome to Apex." {
		t.Errorf("transcript = %+v", ev.Transcript)
	}

	sendCommand(t, conn, map[string]any{"type": "send_text", "text": "What do you do?"})
	ev, _ = next(t, conn, eventOf("message"))
	if ev.Message.Role != "user" || ev.Message.Text != "What do you do?" {
		t.Errorf("first message = %+v", ev.Message)
	}
	ev, _ = next(t, conn, eventOf("message"))
	if ev.Message.Role != "model" || ev.Message.Text != "Noted." {
		t.Errorf("reply = %+v", ev.Message)
	}

	sendCommand(t, conn, map[string]any{"type": "reset"})
	ev, _ = next(t, conn, eventOf("reset"))
	if len(ev.Transcript) != 1 {
		t.Errorf("transcript after reset = %+v", ev.Transcript)
	}
}

func TestConcierge_VoiceRoundTrip(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	conn := dialConcierge(t, e)
	next(t, conn, eventOf("reset"))

	sendCommand(t, conn, map[string]any{"type": "start_voice", "microphone": "granted", "sampleRate": 16000})
	next(t, conn, stateIs("connecting", "voice"))
	next(t, conn, stateIs("active", "voice"))

	sess := e.live.LastSession()
	if sess == nil {
		t.Fatal("no live session")
	}
	if calls := e.live.Calls(); len(calls) != 1 {
		t.Fatalf("connect calls = %d", len(calls))
	}

	sendSamples(t, conn, 0.5, -0.5, 1, -1)
	deadline := time.Now().Add(5 * time.Second)
	for len(sess.SentFrames()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("microphone frame never reached the session")
		}
		time.Sleep(5 * time.Millisecond)
	}
	frame := sess.SentFrames()[0]
	if len(frame.Data) != 8 || frame.SampleRate != 16000 {
		t.Errorf("frame = %d bytes at %d Hz", len(frame.Data), frame.SampleRate)
	}

	// 10 ms of 24 kHz audio comes back as one binary frame.
	e.live.Deliver(live.Message{Audio: make([]byte, 480)})
	_, bin := next(t, conn, func(ev *wsEvent, b []byte) bool { return ev == nil })
	if len(bin) != 480 {
		t.Errorf("audio frame = %d bytes, want 480", len(bin))
	}

	sendCommand(t, conn, map[string]any{"type": "end_voice"})
	next(t, conn, stateIs("idle", "text"))
	if sess.Closes() == 0 {
		t.Error("session was not closed")
	}
}

func TestConcierge_MicrophoneDenied(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	conn := dialConcierge(t, e)
	next(t, conn, eventOf("reset"))

	sendCommand(t, conn, map[string]any{"type": "start_voice", "microphone": "denied"})
	ev, _ := next(t, conn, eventOf("notice"))
	if ev.Notice != "Microphone access denied." {
		t.Errorf("notice = %q", ev.Notice)
	}
	if ev.State != "idle" || ev.Mode != "text" {
		t.Errorf("state = %s/%s, want idle/text", ev.State, ev.Mode)
	}
	if calls := e.live.Calls(); len(calls) != 0 {
		t.Errorf("connect calls = %d, want 0", len(calls))
	}
}

func TestConcierge_BadInput(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	conn := dialConcierge(t, e)
	next(t, conn, eventOf("reset"))

	sendCommand(t, conn, map[string]any{"type": "dance"})
	ev, _ := next(t, conn, eventOf("error"))
	if !strings.Contains(ev.Error, "dance") {
		t.Errorf("error = %q", ev.Error)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	ev, _ = next(t, conn, eventOf("error"))
	if !strings.Contains(ev.Error, "multiple of 4") {
		t.Errorf("error = %q", ev.Error)
	}

	// The socket stays usable.
	sendCommand(t, conn, map[string]any{"type": "send_text", "text": "still there?"})
	next(t, conn, func(ev *wsEvent, _ []byte) bool {
		return ev != nil && ev.Type == "message" && ev.Message.Role == "model"
	})
}

func TestConcierge_AllowedOrigins(t *testing.T) {
	t.Parallel()

	s := web.New(web.Config{
		Concierge: func(opts ...concierge.Option) *concierge.Controller {
			return concierge.New(concierge.Config{Greeting: "Welcome to Apex."}, opts...)
		},
		OriginPatterns: []string{"*.apex.example"},
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/concierge"

	tests := []struct {
		origin string
		ok     bool
	}{
		{origin: "https://www.apex.example", ok: true},
		{origin: "https://evil.example", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
				HTTPHeader: http.Header{"Origin": {tt.origin}},
			})
			if !tt.ok {
				if err == nil {
					conn.Close(websocket.StatusNormalClosure, "")
					t.Fatal("cross-origin dial accepted, want rejection")
				}
				if resp != nil && resp.StatusCode != http.StatusForbidden {
					t.Errorf("status = %d, want 403", resp.StatusCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer conn.Close(websocket.StatusNormalClosure, "")
			next(t, conn, eventOf("reset"))
		})
	}
}
