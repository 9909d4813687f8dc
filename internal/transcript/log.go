// Package transcript keeps the running conversation record of a session.
//
// Transcripts arrive from the live session as incremental deltas with no
// explicit turn boundaries. The Log coalesces consecutive deltas from the
// same speaker into one turn and relies on turn-complete signals, speaker
// changes, and system entries to decide when a turn ends.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
	SpeakerSystem    Speaker = "system"
)

// Turn is one contiguous utterance or system note.
type Turn struct {
	Speaker Speaker
	Text    string
	At      time.Time
}

// Log is an append-only conversation record. Safe for concurrent use.
type Log struct {
	mu    sync.Mutex
	turns []Turn

	// mergeable tracks, per speaker, whether the speaker's trailing turn
	// may still receive deltas. A Boundary seals all open turns.
	mergeable map[Speaker]bool

	now func() time.Time
}

// NewLog creates an empty Log.
func NewLog() *Log {
	return &Log{
		mergeable: make(map[Speaker]bool),
		now:       time.Now,
	}
}

// AppendDelta adds an incremental transcript fragment for speaker. The
// fragment extends the speaker's trailing turn when that turn is still open;
// otherwise it opens a new turn. Empty fragments are ignored.
func (l *Log) AppendDelta(speaker Speaker, text string) {
	if text == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.turns); n > 0 && l.turns[n-1].Speaker == speaker && l.mergeable[speaker] {
		l.turns[n-1].Text += text
		return
	}

	l.turns = append(l.turns, Turn{Speaker: speaker, Text: text, At: l.now()})
	l.mergeable[speaker] = true
}

// AppendSystem records an outcome line such as a mutation summary. System
// entries are complete turns and never merge with anything.
func (l *Log) AppendSystem(text string) {
	if text == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, Turn{Speaker: SpeakerSystem, Text: text, At: l.now()})
}

// Boundary seals all open turns. Subsequent deltas start new turns.
func (l *Log) Boundary() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for s := range l.mergeable {
		delete(l.mergeable, s)
	}
}

// Turns returns a snapshot of the log.
func (l *Log) Turns() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Turn(nil), l.turns...)
}

// Len reports the number of turns.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

// Clear discards all turns, ready for a fresh session.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = nil
	for s := range l.mergeable {
		delete(l.mergeable, s)
	}
}

// String renders the log one turn per line, for debug output.
func (l *Log) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var b strings.Builder
	for _, t := range l.turns {
		b.WriteString(string(t.Speaker))
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
