// Package capture reads microphone audio and forwards it as wire-encoded
// frames to a live session.
//
// A Pipeline owns a Device, accumulates samples into fixed-size frames at
// the wire sample rate, and hands each encoded frame to its Sink. Devices
// running at a different native rate are resampled transparently.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmherbst/voxdesk/pkg/audio"
)

var (
	// ErrPermissionDenied indicates the OS rejected microphone access.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")
	// ErrDeviceUnavailable indicates no usable input device was found.
	ErrDeviceUnavailable = errors.New("capture: input device unavailable")
)

// DefaultFrameSamples is the number of 16 kHz samples per outbound frame,
// roughly a quarter second of audio.
const DefaultFrameSamples = 4096

// Device is a mono audio input source.
type Device interface {
	// Start begins capturing. It must be called before Read.
	Start() error
	// Read blocks until the next chunk of samples is available. Samples
	// are mono float32 in [-1, 1] at the device's native rate.
	Read() ([]float32, error)
	// Stop halts capturing and releases the device. Idempotent.
	Stop() error
	// SampleRate reports the device's native sample rate in Hz.
	SampleRate() int
}

// Sink receives wire-encoded audio frames. *session.Controller and
// live.Session both satisfy it.
type Sink interface {
	SendAudio(encodedFrame string) error
}

// Pipeline frames device audio and forwards it to a Sink.
type Pipeline struct {
	device       Device
	sink         Sink
	frameSamples int
	log          *slog.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	done    chan struct{}
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithFrameSamples overrides the per-frame sample count.
func WithFrameSamples(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.frameSamples = n
		}
	}
}

// WithLogger sets the pipeline's logger.
func WithLogger(log *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.log = log }
}

// NewPipeline creates a Pipeline reading from device and writing to sink.
func NewPipeline(device Device, sink Sink, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		device:       device,
		sink:         sink,
		frameSamples: DefaultFrameSamples,
		log:          slog.Default(),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start begins capturing and framing audio. It returns once the device is
// running; framing continues on a background goroutine until Stop.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	if p.running || p.stopped {
		p.mu.Unlock()
		return fmt.Errorf("capture: pipeline already started")
	}
	p.running = true
	p.mu.Unlock()

	if err := p.device.Start(); err != nil {
		p.mu.Lock()
		p.running = false
		p.stopped = true
		p.mu.Unlock()
		// The loop goroutine never starts, so a concurrent Stop that saw
		// running=true would wait on done forever without this close. The
		// stopped flag keeps a retried Start from reaching it twice.
		close(p.done)
		return fmt.Errorf("capture: start device: %w", err)
	}

	go p.loop()
	return nil
}

// Stop halts capture. Safe to call multiple times and safe to call
// concurrently with Start. Frames read after Stop are discarded.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	wasRunning := p.running
	p.mu.Unlock()

	err := p.device.Stop()
	if wasRunning {
		<-p.done
	}
	if err != nil {
		return fmt.Errorf("capture: stop device: %w", err)
	}
	return nil
}

func (p *Pipeline) loop() {
	defer close(p.done)

	deviceRate := p.device.SampleRate()
	pending := make([]float32, 0, p.frameSamples*2)

	for {
		chunk, err := p.device.Read()
		if err != nil {
			if !p.isStopped() {
				p.log.Warn("capture read failed", "error", err)
			}
			return
		}
		if p.isStopped() {
			return
		}

		if deviceRate != audio.SampleRate {
			chunk = audio.Resample(chunk, deviceRate, audio.SampleRate)
		}
		pending = append(pending, chunk...)

		for len(pending) >= p.frameSamples {
			frame := pending[:p.frameSamples]
			pending = pending[p.frameSamples:]

			if p.isStopped() {
				return
			}
			if err := p.sink.SendAudio(audio.EncodeFrame(frame)); err != nil {
				p.log.Warn("capture frame dropped", "error", err)
			}
		}
	}
}

func (p *Pipeline) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}
