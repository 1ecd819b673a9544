// Package mock provides test doubles for the live package interfaces.
//
// Provider records Connect calls and keeps the Handler it was given so a test
// can drive the session lifecycle by hand:
//
//	p := &mock.Provider{}
//	sess, _ := p.Connect(ctx, cfg, handler)
//	p.Open()                                  // fires OnOpen
//	p.Deliver(live.Message{Audio: pcm})       // fires OnMessage
//	p.Fail(errors.New("reset by peer"))       // fires OnError
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/apex/pkg/audio"
	"github.com/MrWong99/apex/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the Config passed to Connect.
	Cfg live.Config
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a new Session.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// OpenOnConnect fires OnOpen from inside Connect, before it returns.
	OpenOnConnect bool

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	handler live.Handler
	last    *Session
}

// Ensure Provider implements live.Provider at compile time.
var _ live.Provider = (*Provider)(nil)

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.Config, h live.Handler) (live.Session, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		err := p.ConnectErr
		p.mu.Unlock()
		return nil, err
	}
	p.handler = h
	sess := p.Session
	if sess == nil {
		sess = &Session{}
	}
	p.last = sess
	open := p.OpenOnConnect
	p.mu.Unlock()

	if open && h.OnOpen != nil {
		h.OnOpen()
	}
	return sess, nil
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

// LastSession returns the session handed out by the most recent successful
// Connect, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Provider) current() live.Handler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler
}

// Open fires OnOpen on the most recent handler.
func (p *Provider) Open() {
	if h := p.current(); h.OnOpen != nil {
		h.OnOpen()
	}
}

// Deliver fires OnMessage on the most recent handler.
func (p *Provider) Deliver(msg live.Message) {
	if h := p.current(); h.OnMessage != nil {
		h.OnMessage(msg)
	}
}

// Fail fires OnError on the most recent handler.
func (p *Provider) Fail(err error) {
	if h := p.current(); h.OnError != nil {
		h.OnError(err)
	}
}

// CloseRemote fires OnClose on the most recent handler, as if the remote
// side ended the session.
func (p *Provider) CloseRemote() {
	if h := p.current(); h.OnClose != nil {
		h.OnClose()
	}
}

// Session is a mock implementation of live.Session.
type Session struct {
	mu sync.Mutex

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// Frames records a copy of every frame passed to Send before Close.
	Frames []audio.Frame

	// DroppedAfterClose counts Send calls made after Close.
	DroppedAfterClose int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Ensure Session implements live.Session at compile time.
var _ live.Session = (*Session)(nil)

// Send records the frame. Frames sent after Close are counted and dropped.
func (s *Session) Send(frame audio.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CloseCallCount > 0 {
		s.DroppedAfterClose++
		return false
	}
	cp := frame
	cp.Data = append([]byte(nil), frame.Data...)
	s.Frames = append(s.Frames, cp)
	return true
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// SentFrames returns a copy of the recorded frames.
func (s *Session) SentFrames() []audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Frame(nil), s.Frames...)
}

// Closes returns the number of Close calls.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}
