// Package mock provides an in-memory live.Session implementation for tests.
package mock

import (
	"context"
	"sync"

	"github.com/jmherbst/voxdesk/pkg/live"
)

var _ live.Dialer = (*Dialer)(nil)
var _ live.Session = (*Session)(nil)

// Dialer hands out a pre-built Session, or fails with DialErr.
type Dialer struct {
	mu      sync.Mutex
	Session *Session
	DialErr error

	// Connected is closed the first time Connect succeeds.
	Connected chan struct{}

	// Gate, when non-nil, blocks Connect until it is closed. Used to test
	// behaviour while a connection attempt is in flight.
	Gate chan struct{}

	lastConfig live.Config
}

// NewDialer creates a Dialer that returns the given session.
func NewDialer(sess *Session) *Dialer {
	return &Dialer{Session: sess, Connected: make(chan struct{})}
}

func (d *Dialer) Connect(ctx context.Context, cfg live.Config) (live.Session, error) {
	if d.Gate != nil {
		select {
		case <-d.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastConfig = cfg
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	select {
	case <-d.Connected:
	default:
		close(d.Connected)
	}
	return d.Session, nil
}

// LastConfig returns the config passed to the most recent Connect call.
func (d *Dialer) LastConfig() live.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastConfig
}

// ToolResult records one SendToolResult call.
type ToolResult struct {
	CallID string
	Name   string
	Result string
}

// Session is a scriptable live.Session. Tests push events through Emit and
// inspect what the code under test sent back.
type Session struct {
	mu     sync.Mutex
	closed bool

	events chan live.Event

	audioFrames []string
	toolResults []ToolResult

	// SendErr, when set, is returned from SendAudio and SendToolResult.
	SendErr error
}

// NewSession creates a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{events: make(chan live.Event, 64)}
}

// Emit pushes an event to the session's consumers.
func (s *Session) Emit(ev live.Event) {
	s.events <- ev
}

// Finish closes the event channel, simulating the end of the server stream.
func (s *Session) Finish() {
	close(s.events)
}

func (s *Session) SendAudio(encodedFrame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return live.ErrSessionClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.audioFrames = append(s.audioFrames, encodedFrame)
	return nil
}

func (s *Session) SendToolResult(callID, name, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return live.ErrSessionClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.toolResults = append(s.toolResults, ToolResult{CallID: callID, Name: name, Result: result})
	return nil
}

func (s *Session) Events() <-chan live.Event { return s.events }

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// AudioFrames returns a copy of all frames sent with SendAudio.
func (s *Session) AudioFrames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.audioFrames...)
}

// ToolResults returns a copy of all recorded tool results.
func (s *Session) ToolResults() []ToolResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ToolResult(nil), s.toolResults...)
}
