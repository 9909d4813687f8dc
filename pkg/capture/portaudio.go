package capture

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/jmherbst/voxdesk/pkg/audio"
)

var _ Device = (*PortAudioDevice)(nil)

// PortAudioDevice captures mono microphone audio through PortAudio.
// portaudio.Initialize must have been called before opening one.
type PortAudioDevice struct {
	stream *portaudio.Stream
	buf    []int16
	rate   int

	mu      sync.Mutex
	stopped bool
}

// readChunkSamples is the per-Read buffer size in frames. Kept small so the
// pipeline observes Stop promptly.
const readChunkSamples = 1024

// OpenDefaultDevice opens the system default input device at the wire rate.
func OpenDefaultDevice() (*PortAudioDevice, error) {
	return openDevice(audio.SampleRate)
}

func openDevice(sampleRate int) (*PortAudioDevice, error) {
	buf := make([]int16, readChunkSamples)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), readChunkSamples, buf)
	if err != nil {
		return nil, fmt.Errorf("capture: open stream: %w (%w)", err, classifyOpenError(err))
	}
	return &PortAudioDevice{stream: stream, buf: buf, rate: sampleRate}, nil
}

// classifyOpenError maps PortAudio open failures onto the package sentinels.
func classifyOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "denied") {
		return ErrPermissionDenied
	}
	return ErrDeviceUnavailable
}

func (d *PortAudioDevice) Start() error {
	if err := d.stream.Start(); err != nil {
		return fmt.Errorf("capture: start stream: %w (%w)", err, ErrDeviceUnavailable)
	}
	return nil
}

func (d *PortAudioDevice) Read() ([]float32, error) {
	if err := d.stream.Read(); err != nil {
		return nil, fmt.Errorf("capture: read stream: %w", err)
	}
	samples := make([]float32, len(d.buf))
	for i, s := range d.buf {
		samples[i] = audio.Int16ToFloat32(s)
	}
	return samples, nil
}

func (d *PortAudioDevice) Stop() error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()

	if err := d.stream.Stop(); err != nil {
		d.stream.Close()
		return fmt.Errorf("capture: stop stream: %w", err)
	}
	if err := d.stream.Close(); err != nil {
		return fmt.Errorf("capture: close stream: %w", err)
	}
	return nil
}

func (d *PortAudioDevice) SampleRate() int { return d.rate }
