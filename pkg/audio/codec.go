// Package audio provides the PCM codec used on the voxdesk voice wire.
//
// The live session transports audio as base64-encoded 16-bit little-endian
// PCM. [EncodeFrame] turns captured float samples into that wire form and
// [DecodeFrame] turns received wire payloads back into playable [Buffer]
// values. Both directions are pure functions with no side effects.
package audio

import (
	"encoding/base64"
	"time"
)

const (
	// SampleRate is the wire sample rate for outbound microphone audio.
	SampleRate = 16000

	// FrameMIMEType tags every outbound frame with its format descriptor.
	FrameMIMEType = "audio/pcm;rate=16000"
)

// EncodeFrame converts float samples in [-1, 1] to base64-encoded s16le PCM.
// Samples outside the range are clamped. An empty input yields an empty string.
func EncodeFrame(samples []float32) string {
	if len(samples) == 0 {
		return ""
	}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := Float32ToInt16(s)
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(uint16(v) >> 8)
	}
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeFrame converts a base64-encoded s16le PCM payload into a [Buffer],
// de-interleaving by channel and rescaling to [-1, 1]. Malformed or empty
// input yields an empty Buffer rather than an error.
func DecodeFrame(data string, sampleRate, channels int) Buffer {
	if data == "" || sampleRate <= 0 || channels <= 0 {
		return Buffer{}
	}
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Buffer{}
	}
	return FromPCM16(pcm, sampleRate, channels)
}

// FromPCM16 reinterprets raw s16le PCM bytes as a [Buffer]. Trailing bytes
// that do not complete a full multi-channel sample frame are discarded.
func FromPCM16(pcm []byte, sampleRate, channels int) Buffer {
	if sampleRate <= 0 || channels <= 0 {
		return Buffer{}
	}
	frameBytes := channels * 2
	frames := len(pcm) / frameBytes
	if frames == 0 {
		return Buffer{}
	}

	chans := make([][]float32, channels)
	for c := range chans {
		chans[c] = make([]float32, frames)
	}
	for i := range frames {
		for c := range channels {
			off := i*frameBytes + c*2
			v := int16(pcm[off]) | int16(pcm[off+1])<<8
			chans[c][i] = Int16ToFloat32(v)
		}
	}
	return Buffer{Channels: chans, SampleRate: sampleRate}
}

// Buffer is a decoded block of audio: one float slice per channel, all of
// equal length, plus the sample rate they were recorded at.
type Buffer struct {
	Channels   [][]float32
	SampleRate int
}

// Empty reports whether the buffer holds no samples.
func (b Buffer) Empty() bool {
	return len(b.Channels) == 0 || len(b.Channels[0]) == 0
}

// Frames returns the per-channel sample count.
func (b Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.Empty() || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Float32ToInt16 scales a [-1, 1] float sample to the signed 16-bit range,
// clamping values outside it.
func Float32ToInt16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// Int16ToFloat32 rescales a signed 16-bit sample back to [-1, 1].
func Int16ToFloat32(v int16) float32 {
	if v < 0 {
		return float32(v) / 32768
	}
	return float32(v) / 32767
}
