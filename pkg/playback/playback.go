// Package playback schedules synthesized reply audio for gapless output.
//
// Buffers are played strictly in arrival order. The Scheduler keeps a
// monotonic cursor at the end of the last scheduled buffer; each new buffer
// starts at the cursor or now, whichever is later, so buffers never overlap
// and are never scheduled into the past.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmherbst/voxdesk/pkg/audio"
)

// ErrAudioInit indicates the audio output device could not be opened.
var ErrAudioInit = errors.New("playback: audio output init failed")

// Source is one in-flight playing buffer.
type Source interface {
	// Stop halts playback of this buffer. Idempotent.
	Stop() error
}

// Output turns buffers into audible sound.
type Output interface {
	// Start schedules buf to begin playing at the given offset on the
	// output's clock. done is invoked exactly once when the buffer
	// finishes or is stopped.
	Start(buf audio.Buffer, at time.Duration, done func()) (Source, error)
	// Now reports the current position of the output clock.
	Now() time.Duration
	// Close releases the output device.
	Close() error
}

// Scheduler sequences buffers onto an Output.
type Scheduler struct {
	out Output

	mu     sync.Mutex
	cursor time.Duration
	active map[int]Source
	nextID int
	gen    int
}

// NewScheduler creates a Scheduler driving the given output.
func NewScheduler(out Output) *Scheduler {
	return &Scheduler{out: out, active: make(map[int]Source)}
}

// Enqueue schedules buf after everything already queued. Empty buffers are
// ignored.
func (s *Scheduler) Enqueue(buf audio.Buffer) error {
	if buf.Empty() {
		return nil
	}

	s.mu.Lock()
	start := s.cursor
	if now := s.out.Now(); now > start {
		start = now
	}
	s.cursor = start + buf.Duration()

	id := s.nextID
	s.nextID++
	gen := s.gen
	s.mu.Unlock()

	src, err := s.out.Start(buf, start, func() { s.remove(id) })
	if err != nil {
		return fmt.Errorf("playback: start buffer: %w", err)
	}

	s.mu.Lock()
	// StopAll may have run between Start and here; stop the straggler
	// rather than tracking it.
	if s.gen != gen {
		s.mu.Unlock()
		src.Stop()
		return nil
	}
	s.active[id] = src
	s.mu.Unlock()
	return nil
}

// remove drops a finished source from the active set. The done callback and
// StopAll can race; membership makes removal exactly-once.
func (s *Scheduler) remove(id int) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

// StopAll halts all queued and playing audio and resets the cursor, so the
// next Enqueue plays immediately. Used when the assistant is interrupted.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	sources := make([]Source, 0, len(s.active))
	for _, src := range s.active {
		sources = append(sources, src)
	}
	s.active = make(map[int]Source)
	s.cursor = 0
	s.gen++
	s.mu.Unlock()

	for _, src := range sources {
		src.Stop()
	}
}

// Pending reports how many buffers are queued or playing.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Close stops all audio and releases the output device.
func (s *Scheduler) Close() error {
	s.StopAll()
	if err := s.out.Close(); err != nil {
		return fmt.Errorf("playback: close output: %w", err)
	}
	return nil
}
