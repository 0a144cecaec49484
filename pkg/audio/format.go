package audio

import (
	"fmt"
	"math"
)

// Format describes interleaved PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is the engine-wide output format: 44.1 kHz stereo.
var DefaultFormat = Format{SampleRate: 44100, Channels: 2}

// Validate reports whether the format can be rendered.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("%w: channels %d", ErrInvalidFormat, f.Channels)
	}
	return nil
}

// BytesPerFrame returns the size of one 16-bit frame in bytes.
func (f Format) BytesPerFrame() int {
	return f.Channels * 2
}

// Frames converts a duration in seconds into a whole number of frames.
func (f Format) Frames(seconds float64) int64 {
	return int64(math.Round(seconds * float64(f.SampleRate)))
}

// Buffer is decoded audio held as interleaved float32 samples in [-1, 1].
type Buffer struct {
	Format  Format
	Samples []float32
}

// Frames returns the number of sample frames in the buffer.
func (b *Buffer) Frames() int {
	if b == nil || b.Format.Channels == 0 {
		return 0
	}
	return len(b.Samples) / b.Format.Channels
}

// Duration returns the playback length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.Format.SampleRate == 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.Format.SampleRate)
}

// PCM16ToFloat32 converts little-endian signed 16-bit samples.
func PCM16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		sample := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		out[i] = float32(sample) / 32768.0
	}
	return out
}

// Float32ToPCM16 writes clipped samples into dst as little-endian 16-bit PCM.
// dst must hold at least 2*len(samples) bytes.
func Float32ToPCM16(dst []byte, samples []float32) {
	for i, s := range samples {
		v := int16(clip(s) * 32767.0)
		dst[2*i] = byte(v)
		dst[2*i+1] = byte(v >> 8)
	}
}

func clip(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// mapChannels converts interleaved samples between channel counts. Mono is
// duplicated when upmixing and channels are averaged when downmixing to mono.
func mapChannels(in []float32, from, to int) []float32 {
	if from == to {
		return in
	}
	frames := len(in) / from
	out := make([]float32, frames*to)
	for f := 0; f < frames; f++ {
		src := in[f*from : f*from+from]
		dst := out[f*to : f*to+to]
		switch {
		case from == 1:
			for c := range dst {
				dst[c] = src[0]
			}
		case to == 1:
			var sum float32
			for _, s := range src {
				sum += s
			}
			dst[0] = sum / float32(from)
		default:
			for c := range dst {
				dst[c] = src[c%from]
			}
		}
	}
	return out
}
