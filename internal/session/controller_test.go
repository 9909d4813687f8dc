package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/jmherbst/voxdesk/internal/intent"
	"github.com/jmherbst/voxdesk/internal/observe"
	"github.com/jmherbst/voxdesk/internal/store"
	storemock "github.com/jmherbst/voxdesk/internal/store/mock"
	"github.com/jmherbst/voxdesk/internal/transcript"
	"github.com/jmherbst/voxdesk/pkg/audio"
	"github.com/jmherbst/voxdesk/pkg/capture"
	"github.com/jmherbst/voxdesk/pkg/live"
	livemock "github.com/jmherbst/voxdesk/pkg/live/mock"
)

// fakePlayer records playback interactions.
type fakePlayer struct {
	mu       sync.Mutex
	buffers  []audio.Buffer
	stopped  int
	closed   bool
	openErr  error
}

func (p *fakePlayer) Enqueue(buf audio.Buffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffers = append(p.buffers, buf)
	return nil
}

func (p *fakePlayer) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped++
}

func (p *fakePlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePlayer) bufferCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffers)
}

// fakeCapture records start/stop calls.
type fakeCapture struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	startErr error
}

func (f *fakeCapture) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeCapture) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeCapture) isStarted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *fakeCapture) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// harness bundles the controller with all its fakes.
type harness struct {
	ctrl     *Controller
	dialer   *livemock.Dialer
	sess     *livemock.Session
	player   *fakePlayer
	mic      *fakeCapture
	log      *transcript.Log
	st       *storemock.Store
	statuses *statusLog
}

type statusLog struct {
	mu sync.Mutex
	ss []string
}

func (s *statusLog) add(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ss = append(s.ss, status)
}

func (s *statusLog) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ss...)
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	return m
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		sess:     livemock.NewSession(),
		player:   &fakePlayer{},
		mic:      &fakeCapture{},
		log:      transcript.NewLog(),
		st:       storemock.New(),
		statuses: &statusLog{},
	}
	h.dialer = livemock.NewDialer(h.sess)
	h.ctrl = New(Config{
		Dialer:       h.dialer,
		OpenPlayback: func() (Player, error) { return h.player, h.player.openErr },
		OpenCapture:  func(sink capture.Sink) (Capture, error) { return h.mic, nil },
		Transcript:   h.log,
		Dispatcher:   intent.NewDispatcher(h.st, h.log),
		Voice:        "Puck",
		OnStatus:     h.statuses.add,
		Metrics:      testMetrics(t),
	})
	t.Cleanup(h.ctrl.Stop)
	return h
}

func waitState(t *testing.T, c *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", c.State(), want)
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func startOpen(t *testing.T, h *harness) {
	t.Helper()
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.sess.Emit(live.Event{Kind: live.EventReady})
	waitState(t, h.ctrl, StateOpen)
}

func TestStartTransitionsToOpenOnReady(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := h.ctrl.State(); got != StateConnecting {
		t.Fatalf("state = %v, want Connecting", got)
	}

	h.sess.Emit(live.Event{Kind: live.EventReady})
	waitState(t, h.ctrl, StateOpen)
	waitFor(t, "capture start", h.mic.isStarted)

	cfg := h.dialer.LastConfig()
	if len(cfg.Tools) != 4 {
		t.Errorf("tools declared = %d, want 4", len(cfg.Tools))
	}
	if !strings.Contains(cfg.Instructions, "date") {
		t.Errorf("instructions do not mention the date: %q", cfg.Instructions)
	}
	if cfg.Voice != "Puck" {
		t.Errorf("voice = %q", cfg.Voice)
	}

	statuses := h.statuses.all()
	if len(statuses) < 2 || statuses[0] != "connecting" || statuses[len(statuses)-1] != "listening" {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestStartWhileActiveFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	startOpen(t, h)

	if err := h.ctrl.Start(context.Background()); err == nil {
		t.Error("second start succeeded")
	}
}

func TestTranscriptRouting(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	startOpen(t, h)

	h.sess.Emit(live.Event{Kind: live.EventInputTranscript, Text: "add a "})
	h.sess.Emit(live.Event{Kind: live.EventInputTranscript, Text: "task"})
	h.sess.Emit(live.Event{Kind: live.EventOutputTranscript, Text: "on it"})
	h.sess.Emit(live.Event{Kind: live.EventTurnComplete})
	h.sess.Emit(live.Event{Kind: live.EventInputTranscript, Text: "thanks"})

	waitFor(t, "transcript turns", func() bool { return h.log.Len() == 3 })
	turns := h.log.Turns()
	if turns[0].Speaker != transcript.SpeakerUser || turns[0].Text != "add a task" {
		t.Errorf("turn 0 = %+v", turns[0])
	}
	if turns[1].Speaker != transcript.SpeakerAssistant || turns[1].Text != "on it" {
		t.Errorf("turn 1 = %+v", turns[1])
	}
	// The turn-complete boundary keeps "thanks" out of the first user turn.
	if turns[2].Speaker != transcript.SpeakerUser || turns[2].Text != "thanks" {
		t.Errorf("turn 2 = %+v", turns[2])
	}
}

func TestToolCallProducesResultAndSystemTurn(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.st.Seed(store.TableProjects, store.Record{"id": "p1", "name": "Nova Launch"})
	startOpen(t, h)

	h.sess.Emit(live.Event{Kind: live.EventToolCall, Calls: []live.Call{{
		ID:   "call-1",
		Name: intent.IntentCreateTask,
		Args: map[string]any{"text": "Draft proposal", "project_name": "nova"},
	}}})

	waitFor(t, "tool result", func() bool { return len(h.sess.ToolResults()) == 1 })
	res := h.sess.ToolResults()[0]
	if res.CallID != "call-1" || res.Name != intent.IntentCreateTask {
		t.Errorf("result = %+v", res)
	}
	if !strings.Contains(res.Result, "Nova Launch") {
		t.Errorf("result text = %q", res.Result)
	}

	if len(h.st.Inserts()) != 1 {
		t.Errorf("inserts = %d, want 1", len(h.st.Inserts()))
	}

	turns := h.log.Turns()
	if len(turns) != 1 || turns[0].Speaker != transcript.SpeakerSystem {
		t.Errorf("turns = %+v", turns)
	}

	// An intent failure keeps the session open.
	if h.ctrl.State() != StateOpen {
		t.Errorf("state = %v, want Open", h.ctrl.State())
	}
}

func TestFailedIntentKeepsSessionOpen(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	startOpen(t, h)

	h.sess.Emit(live.Event{Kind: live.EventToolCall, Calls: []live.Call{{
		ID:   "call-1",
		Name: intent.IntentCreateTask,
		Args: map[string]any{"text": "Draft proposal", "project_name": "nova"},
	}}})

	waitFor(t, "tool result", func() bool { return len(h.sess.ToolResults()) == 1 })
	if !strings.Contains(h.sess.ToolResults()[0].Result, "not found") {
		t.Errorf("result = %q", h.sess.ToolResults()[0].Result)
	}
	if h.ctrl.State() != StateOpen {
		t.Errorf("state = %v, want Open", h.ctrl.State())
	}
}

func TestAudioRoutedToPlayer(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	startOpen(t, h)

	pcm := []byte{0x00, 0x40, 0x00, 0xC0}
	h.sess.Emit(live.Event{Kind: live.EventAudio, Audio: pcm, SampleRate: 24000, Channels: 1})

	waitFor(t, "enqueued buffer", func() bool { return h.player.bufferCount() == 1 })
	h.player.mu.Lock()
	buf := h.player.buffers[0]
	h.player.mu.Unlock()
	if buf.SampleRate != 24000 || buf.Frames() != 2 {
		t.Errorf("buffer = %d Hz / %d frames", buf.SampleRate, buf.Frames())
	}
}

func TestInterruptedStopsPlayback(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	startOpen(t, h)

	h.sess.Emit(live.Event{Kind: live.EventInterrupted})

	waitFor(t, "playback stop", func() bool {
		h.player.mu.Lock()
		defer h.player.mu.Unlock()
		return h.player.stopped >= 1
	})
}

func TestStopReleasesEverything(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	startOpen(t, h)

	h.ctrl.Stop()

	if !h.mic.isStopped() {
		t.Error("capture not stopped")
	}
	if !h.sess.Closed() {
		t.Error("live session not closed")
	}
	h.player.mu.Lock()
	stopped, closed := h.player.stopped, h.player.closed
	h.player.mu.Unlock()
	if stopped == 0 || !closed {
		t.Errorf("player stopped = %d, closed = %v", stopped, closed)
	}
	if h.ctrl.State() != StateIdle {
		t.Errorf("state = %v, want Idle", h.ctrl.State())
	}

	// Second stop is a no-op.
	h.ctrl.Stop()
	if h.ctrl.State() != StateIdle {
		t.Errorf("state = %v after second stop", h.ctrl.State())
	}
}

func TestStopDuringConnecting(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.dialer.Gate = make(chan struct{})

	startErr := make(chan error, 1)
	go func() { startErr <- h.ctrl.Start(context.Background()) }()

	waitState(t, h.ctrl, StateConnecting)
	h.ctrl.Stop()
	waitState(t, h.ctrl, StateIdle)

	// The dial completes after Stop already won; the session must be
	// closed immediately and the open confirmation ignored.
	close(h.dialer.Gate)

	if err := <-startErr; err != nil {
		t.Fatalf("start returned error after stop: %v", err)
	}
	waitFor(t, "late session closed", h.sess.Closed)
	if !h.mic.isStopped() {
		t.Error("capture not stopped")
	}
	if h.ctrl.State() != StateIdle {
		t.Errorf("state = %v, want Idle", h.ctrl.State())
	}
}

func TestConnectFailureTearsDown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.dialer.DialErr = errors.New("refused")

	err := h.ctrl.Start(context.Background())
	if err == nil {
		t.Fatal("start succeeded despite dial failure")
	}
	if h.ctrl.State() != StateIdle {
		t.Errorf("state = %v, want Idle", h.ctrl.State())
	}
	if !h.mic.isStopped() {
		t.Error("capture not released")
	}

	turns := h.log.Turns()
	if len(turns) != 1 || turns[0].Speaker != transcript.SpeakerSystem {
		t.Fatalf("turns = %+v", turns)
	}
	if !strings.Contains(turns[0].Text, "Could not start") {
		t.Errorf("system turn = %q", turns[0].Text)
	}
}

func TestRemoteErrorTearsDown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	startOpen(t, h)

	h.sess.Emit(live.Event{Kind: live.EventError, Err: errors.New("quota exceeded")})

	waitState(t, h.ctrl, StateIdle)
	if !h.sess.Closed() {
		t.Error("live session not closed")
	}

	found := false
	for _, turn := range h.log.Turns() {
		if turn.Speaker == transcript.SpeakerSystem && strings.Contains(turn.Text, "quota exceeded") {
			found = true
		}
	}
	if !found {
		t.Errorf("no system turn describing the error: %+v", h.log.Turns())
	}
}

func TestRemoteCloseTearsDown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	startOpen(t, h)

	h.sess.Emit(live.Event{Kind: live.EventClosed})
	waitState(t, h.ctrl, StateIdle)
}

func TestSendAudioDroppedWhenNotOpen(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if err := h.ctrl.SendAudio("AAAA"); err != nil {
		t.Errorf("send while idle = %v, want nil", err)
	}
	if len(h.sess.AudioFrames()) != 0 {
		t.Error("frame forwarded while idle")
	}

	startOpen(t, h)
	if err := h.ctrl.SendAudio("AAAA"); err != nil {
		t.Fatalf("send while open: %v", err)
	}
	waitFor(t, "forwarded frame", func() bool { return len(h.sess.AudioFrames()) == 1 })

	h.ctrl.Stop()
	if err := h.ctrl.SendAudio("BBBB"); err != nil {
		t.Errorf("send after stop = %v, want nil", err)
	}
	if len(h.sess.AudioFrames()) != 1 {
		t.Error("frame forwarded after stop")
	}
}

func TestTranscriptClearedOnStart(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.log.AppendSystem("stale entry")

	startOpen(t, h)
	if h.log.Len() != 0 {
		t.Errorf("transcript not cleared: %+v", h.log.Turns())
	}
}
