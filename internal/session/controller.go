// Package session owns the lifecycle of one voice interaction: it connects
// the live session, wires microphone frames in and reply audio out, routes
// transcripts and tool calls, and tears everything down again.
//
// Only one session can be active at a time (enforced by mutex). All
// exported methods are safe for concurrent use.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmherbst/voxdesk/internal/intent"
	"github.com/jmherbst/voxdesk/internal/observe"
	"github.com/jmherbst/voxdesk/internal/transcript"
	"github.com/jmherbst/voxdesk/pkg/audio"
	"github.com/jmherbst/voxdesk/pkg/capture"
	"github.com/jmherbst/voxdesk/pkg/live"
)

// State is the controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Player plays decoded reply audio. *playback.Scheduler satisfies it.
type Player interface {
	Enqueue(buf audio.Buffer) error
	StopAll()
	Close() error
}

// Capture produces encoded microphone frames. *capture.Pipeline satisfies it.
type Capture interface {
	Start() error
	Stop() error
}

// Config holds the controller's dependencies.
type Config struct {
	// Dialer opens the live speech session.
	Dialer live.Dialer

	// OpenPlayback acquires the audio output. Called once per session
	// during Connecting.
	OpenPlayback func() (Player, error)

	// OpenCapture acquires the microphone, wiring frames to sink. The
	// returned Capture is started only once the session is open.
	OpenCapture func(sink capture.Sink) (Capture, error)

	// Transcript receives conversation turns. Cleared on each start.
	Transcript *transcript.Log

	// Dispatcher executes intent calls.
	Dispatcher *intent.Dispatcher

	// Instructions overrides the default system prompt when non-empty.
	Instructions string

	// Voice selects the reply voice.
	Voice string

	// OnStatus, when set, receives short human-readable status updates
	// ("connecting", "listening", error text, "idle").
	OnStatus func(status string)

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Controller drives the session state machine
// Idle -> Connecting -> Open -> Closing -> Idle.
type Controller struct {
	cfg  Config
	log  *slog.Logger
	met  *observe.Metrics

	mu        sync.Mutex
	state     State
	gen       int // increments per Start; guards late async completions
	sess      live.Session
	player    Player
	capture   Capture
	stop      chan struct{}
	loopDone  chan struct{}
	startedAt time.Time
}

// Compile-time check that the controller can serve as a capture sink.
var _ capture.Sink = (*Controller)(nil)

// New creates a Controller. It starts in StateIdle holding no resources.
func New(cfg Config) *Controller {
	c := &Controller{cfg: cfg, log: cfg.Logger, met: cfg.Metrics}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.met == nil {
		c.met = observe.DefaultMetrics()
	}
	return c
}

// State reports the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins a new session: acquires playback and microphone, connects
// the live session, and hands off to the event loop. Returns an error if a
// session is already active or any resource acquisition fails. A Stop that
// arrives while Start is still connecting wins; Start then releases
// whatever it had acquired and returns nil.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("session: cannot start while %s", state)
	}
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.stop = make(chan struct{})
	c.loopDone = make(chan struct{})
	c.startedAt = time.Now()
	c.mu.Unlock()

	c.status("connecting")
	c.cfg.Transcript.Clear()

	player, err := c.cfg.OpenPlayback()
	if err != nil {
		return c.failStart(gen, "playback", "audio output unavailable", err)
	}
	if !c.adopt(gen, func() { c.player = player }) {
		player.Close()
		return nil
	}

	mic, err := c.cfg.OpenCapture(c)
	if err != nil {
		return c.failStart(gen, "capture", "microphone unavailable", err)
	}
	if !c.adopt(gen, func() { c.capture = mic }) {
		mic.Stop()
		return nil
	}

	sess, err := c.cfg.Dialer.Connect(ctx, live.Config{
		Instructions: c.instructions(),
		Voice:        c.cfg.Voice,
		Tools:        intent.Schema(),
	})
	if err != nil {
		return c.failStart(gen, "connect", "could not reach the assistant", err)
	}
	if !c.adopt(gen, func() { c.sess = sess }) {
		sess.Close()
		return nil
	}

	c.met.ActiveSessions.Add(ctx, 1)
	go c.eventLoop(sess)

	c.log.Info("session connecting", "voice", c.cfg.Voice)
	return nil
}

// Stop tears the session down. Safe to call in any state, including while
// Start is still connecting, and idempotent. The controller always ends in
// StateIdle; individual teardown failures are logged, never surfaced.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == StateIdle || c.state == StateClosing {
		c.mu.Unlock()
		return
	}
	wasOpen := c.state == StateOpen
	c.state = StateClosing
	sess, player, mic := c.sess, c.player, c.capture
	stop, loopDone := c.stop, c.loopDone
	startedAt := c.startedAt
	c.sess, c.player, c.capture = nil, nil, nil
	c.mu.Unlock()

	// Teardown is an explicit sequence of fallible steps. Each may fail
	// independently; all are attempted.
	if stop != nil {
		close(stop)
	}
	if mic != nil {
		if err := mic.Stop(); err != nil {
			c.log.Warn("session: capture stop error", "error", err)
		}
	}
	if sess != nil {
		if err := sess.Close(); err != nil {
			c.log.Warn("session: live session close error", "error", err)
		}
		<-loopDone
	}
	if player != nil {
		player.StopAll()
		if err := player.Close(); err != nil {
			c.log.Warn("session: playback close error", "error", err)
		}
	}

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()

	if sess != nil {
		background := context.Background()
		c.met.ActiveSessions.Add(background, -1)
		if wasOpen {
			c.met.SessionDuration.Record(background, time.Since(startedAt).Seconds())
		}
	}

	c.status("idle")
	c.log.Info("session stopped")
}

// adopt stores a freshly acquired resource, unless this Start attempt has
// been cancelled in the meantime. Returns false when the caller must
// release the resource itself.
func (c *Controller) adopt(gen int, assign func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting || c.gen != gen {
		return false
	}
	assign()
	return true
}

// failStart handles a failure during Connecting: it surfaces the error to
// the user, records it, and forces the teardown path back to Idle.
func (c *Controller) failStart(gen int, stage, msg string, err error) error {
	c.mu.Lock()
	cancelled := c.state != StateConnecting || c.gen != gen
	c.mu.Unlock()
	if cancelled {
		return nil
	}

	c.log.Error("session start failed", "stage", stage, "error", err)
	c.met.RecordSessionError(context.Background(), stage)
	c.status(msg)
	c.cfg.Transcript.AppendSystem(fmt.Sprintf("Could not start listening: %s.", msg))
	c.Stop()
	return fmt.Errorf("session: %s: %w", stage, err)
}

// eventLoop consumes the session's event stream until the stream ends or
// Stop is signalled.
func (c *Controller) eventLoop(sess live.Session) {
	c.mu.Lock()
	stop, loopDone := c.stop, c.loopDone
	c.mu.Unlock()
	defer close(loopDone)

	for {
		select {
		case <-stop:
			return
		case ev, ok := <-sess.Events():
			if !ok {
				return
			}
			c.handleEvent(sess, ev)
		}
	}
}

// handleEvent is the single dispatch point for all inbound session events.
func (c *Controller) handleEvent(sess live.Session, ev live.Event) {
	switch ev.Kind {
	case live.EventReady:
		c.onReady()

	case live.EventInputTranscript:
		c.cfg.Transcript.AppendDelta(transcript.SpeakerUser, ev.Text)

	case live.EventOutputTranscript:
		c.cfg.Transcript.AppendDelta(transcript.SpeakerAssistant, ev.Text)

	case live.EventToolCall:
		// Calls run concurrently so they never block receipt of further
		// audio or transcript messages.
		for _, call := range ev.Calls {
			go c.runIntent(sess, call)
		}

	case live.EventAudio:
		c.met.AudioFramesReceived.Add(context.Background(), 1)
		buf := audio.FromPCM16(ev.Audio, ev.SampleRate, ev.Channels)
		if player := c.currentPlayer(); player != nil {
			if err := player.Enqueue(buf); err != nil {
				c.log.Warn("session: enqueue audio error", "error", err)
			}
		}

	case live.EventTurnComplete:
		c.cfg.Transcript.Boundary()

	case live.EventInterrupted:
		if player := c.currentPlayer(); player != nil {
			player.StopAll()
		}

	case live.EventError:
		c.log.Error("session remote error", "error", ev.Err)
		c.met.RecordSessionError(context.Background(), "remote")
		c.status("session error")
		c.cfg.Transcript.AppendSystem(fmt.Sprintf("Session error: %v.", ev.Err))
		go c.Stop()

	case live.EventClosed:
		c.log.Info("session closed by remote")
		go c.Stop()
	}
}

// onReady transitions Connecting -> Open and starts the microphone framing
// loop. A ready that arrives after Stop is ignored.
func (c *Controller) onReady() {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateOpen
	mic := c.capture
	c.mu.Unlock()

	if err := mic.Start(); err != nil {
		c.log.Error("session: capture start failed", "error", err)
		c.met.RecordSessionError(context.Background(), "capture")
		c.status("microphone unavailable")
		c.cfg.Transcript.AppendSystem("Could not start listening: microphone unavailable.")
		go c.Stop()
		return
	}

	c.status("listening")
	c.log.Info("session open")
}

// runIntent executes one tool call and replies with its outcome. Results
// that complete after teardown are discarded.
func (c *Controller) runIntent(sess live.Session, call live.Call) {
	result := c.cfg.Dispatcher.Dispatch(context.Background(), call)

	err := sess.SendToolResult(call.ID, call.Name, result)
	switch {
	case errors.Is(err, live.ErrSessionClosed):
		c.log.Debug("session: tool result discarded after teardown", "call_id", call.ID)
	case err != nil:
		c.log.Warn("session: tool result send error", "call_id", call.ID, "error", err)
	}
}

// SendAudio forwards one encoded microphone frame to the live session. It
// is the capture pipeline's sink. Frames arriving while the session is not
// open are dropped silently.
func (c *Controller) SendAudio(encodedFrame string) error {
	c.mu.Lock()
	if c.state != StateOpen || c.sess == nil {
		c.mu.Unlock()
		return nil
	}
	sess := c.sess
	c.mu.Unlock()

	err := sess.SendAudio(encodedFrame)
	if errors.Is(err, live.ErrSessionClosed) {
		return nil
	}
	if err == nil {
		c.met.AudioFramesSent.Add(context.Background(), 1)
	}
	return err
}

func (c *Controller) currentPlayer() Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.player
}

func (c *Controller) status(s string) {
	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(s)
	}
}

// instructions returns the system prompt, embedding the current date so the
// model can resolve relative dates in spoken requests.
func (c *Controller) instructions() string {
	if c.cfg.Instructions != "" {
		return c.cfg.Instructions
	}
	return fmt.Sprintf(
		"You are a voice assistant for a personal operations dashboard. "+
			"You help the user create projects, tasks, skills, and financial "+
			"transactions by calling the provided tools. Keep spoken replies "+
			"short and confirm what you did. Today's date is %s. Resolve "+
			"relative dates like \"next Friday\" against it and pass dates "+
			"to tools in ISO 8601 form.",
		time.Now().Format("Monday, January 2, 2006"),
	)
}
