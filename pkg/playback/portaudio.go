package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/jmherbst/voxdesk/pkg/audio"
)

var _ Output = (*PortAudioOutput)(nil)

// writeChunkSamples is the per-write block size in frames. Small blocks keep
// Stop latency low.
const writeChunkSamples = 1024

// PortAudioOutput plays buffers on the system default output device.
// portaudio.Initialize must have been called before opening one.
type PortAudioOutput struct {
	stream *portaudio.Stream
	buf    []int16
	rate   int
	epoch  time.Time

	// writeMu serializes access to the shared stream buffer.
	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// OpenDefaultOutput opens the default output device at the given rate.
func OpenDefaultOutput(sampleRate int) (*PortAudioOutput, error) {
	buf := make([]int16, writeChunkSamples)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), writeChunkSamples, buf)
	if err != nil {
		return nil, fmt.Errorf("playback: open stream: %w (%w)", err, ErrAudioInit)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("playback: start stream: %w (%w)", err, ErrAudioInit)
	}
	return &PortAudioOutput{
		stream: stream,
		buf:    buf,
		rate:   sampleRate,
		epoch:  time.Now(),
	}, nil
}

func (o *PortAudioOutput) Now() time.Duration {
	return time.Since(o.epoch)
}

// Start schedules buf at the given clock offset. Playback happens on a
// dedicated goroutine; done fires exactly once when it ends.
func (o *PortAudioOutput) Start(buf audio.Buffer, at time.Duration, done func()) (Source, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, fmt.Errorf("playback: output closed (%w)", ErrAudioInit)
	}
	o.mu.Unlock()

	samples := o.prepare(buf)
	src := &paSource{stop: make(chan struct{})}

	go func() {
		defer src.doneOnce.Do(done)

		if wait := at - o.Now(); wait > 0 {
			select {
			case <-time.After(wait):
			case <-src.stop:
				return
			}
		}
		o.write(samples, src.stop)
	}()

	return src, nil
}

// prepare downmixes and resamples a buffer to the output's mono format.
func (o *PortAudioOutput) prepare(buf audio.Buffer) []float32 {
	var samples []float32
	switch len(buf.Channels) {
	case 0:
		return nil
	case 1:
		samples = buf.Channels[0]
	default:
		interleaved := make([]float32, 0, buf.Frames()*2)
		for i := 0; i < buf.Frames(); i++ {
			interleaved = append(interleaved, buf.Channels[0][i], buf.Channels[1][i])
		}
		samples = audio.DownmixStereo(interleaved)
	}
	if buf.SampleRate != o.rate {
		samples = audio.Resample(samples, buf.SampleRate, o.rate)
	}
	return samples
}

func (o *PortAudioOutput) write(samples []float32, stop <-chan struct{}) {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	for off := 0; off < len(samples); off += writeChunkSamples {
		select {
		case <-stop:
			return
		default:
		}

		end := off + writeChunkSamples
		if end > len(samples) {
			end = len(samples)
		}
		chunk := samples[off:end]
		for i := range o.buf {
			if i < len(chunk) {
				o.buf[i] = audio.Float32ToInt16(chunk[i])
			} else {
				o.buf[i] = 0 // pad the final block with silence
			}
		}
		if err := o.stream.Write(); err != nil {
			return
		}
	}
}

func (o *PortAudioOutput) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	if err := o.stream.Stop(); err != nil {
		o.stream.Close()
		return fmt.Errorf("playback: stop stream: %w", err)
	}
	if err := o.stream.Close(); err != nil {
		return fmt.Errorf("playback: close stream: %w", err)
	}
	return nil
}

type paSource struct {
	stop     chan struct{}
	stopOnce sync.Once
	doneOnce sync.Once
}

func (s *paSource) Stop() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
