package audio

import (
	"fmt"
	"mime"
	"strconv"
	"strings"

	resampling "github.com/tphakala/go-audio-resampling"
)

// StreamFormat is assumed for raw PCM fragments that carry no rate or
// channel parameters.
var StreamFormat = Format{SampleRate: 48000, Channels: 2}

// ParseMIME extracts the PCM layout from a type such as
// "audio/l16;rate=48000;channels=2".
func ParseMIME(mimeType string) (Format, error) {
	f := StreamFormat
	if strings.TrimSpace(mimeType) == "" {
		return f, nil
	}

	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return Format{}, fmt.Errorf("%w: %q: %v", ErrUnsupportedMIME, mimeType, err)
	}
	switch mediaType {
	case "audio/l16", "audio/pcm", "audio/raw":
	default:
		return Format{}, fmt.Errorf("%w: %q", ErrUnsupportedMIME, mediaType)
	}

	if v, ok := params["rate"]; ok {
		if f.SampleRate, err = strconv.Atoi(v); err != nil {
			return Format{}, fmt.Errorf("%w: rate %q", ErrUnsupportedMIME, v)
		}
	}
	if v, ok := params["channels"]; ok {
		if f.Channels, err = strconv.Atoi(v); err != nil {
			return Format{}, fmt.Errorf("%w: channels %q", ErrUnsupportedMIME, v)
		}
	}
	return f, f.Validate()
}

// FormatMIME is the inverse of ParseMIME for 16-bit PCM.
func FormatMIME(f Format) string {
	return fmt.Sprintf("audio/l16;rate=%d;channels=%d", f.SampleRate, f.Channels)
}

// Decoder turns PCM16 fragments into buffers in a fixed target format. It
// keeps resampler state between calls so consecutive fragments of one
// stream join without discontinuities. A Decoder is not safe for
// concurrent use.
type Decoder struct {
	target    Format
	srcRate   int
	resampler resampling.Resampler
}

// NewDecoder creates a decoder producing buffers in target.
func NewDecoder(target Format) *Decoder {
	return &Decoder{target: target}
}

// Decode converts one fragment.
func (d *Decoder) Decode(data []byte, mimeType string) (*Buffer, error) {
	src, err := ParseMIME(mimeType)
	if err != nil {
		return nil, err
	}
	if len(data)%src.BytesPerFrame() != 0 {
		return nil, fmt.Errorf("%w: %d bytes for %d channels", ErrShortFragment, len(data), src.Channels)
	}

	samples := mapChannels(PCM16ToFloat32(data), src.Channels, d.target.Channels)
	if src.SampleRate != d.target.SampleRate {
		if samples, err = d.resample(samples, src.SampleRate); err != nil {
			return nil, err
		}
	}
	return &Buffer{Format: d.target, Samples: samples}, nil
}

// Reset drops resampler history, used when the stream restarts.
func (d *Decoder) Reset() {
	d.resampler = nil
	d.srcRate = 0
}

func (d *Decoder) resample(in []float32, srcRate int) ([]float32, error) {
	if d.resampler == nil || d.srcRate != srcRate {
		rs, err := newResampler(srcRate, d.target)
		if err != nil {
			return nil, err
		}
		d.resampler = rs
		d.srcRate = srcRate
	}
	return process(d.resampler, in, d.target.Channels)
}

func newResampler(srcRate int, target Format) (resampling.Resampler, error) {
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(target.SampleRate),
		Channels:   target.Channels,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	return rs, nil
}

func process(rs resampling.Resampler, in []float32, channels int) ([]float32, error) {
	input := make([]float64, len(in))
	for i, s := range in {
		input[i] = float64(s)
	}
	output, err := rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}
	// Keep whole frames only.
	output = output[:len(output)/channels*channels]
	out := make([]float32, len(output))
	for i, s := range output {
		out[i] = float32(s)
	}
	return out, nil
}
