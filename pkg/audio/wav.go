package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// NewWavBuffer wraps 16-bit PCM in a canonical 44-byte RIFF header.
func NewWavBuffer(pcm []byte, f Format) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(f.Channels))
	binary.Write(buf, binary.LittleEndian, uint32(f.SampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(f.SampleRate*f.BytesPerFrame()))
	binary.Write(buf, binary.LittleEndian, uint16(f.BytesPerFrame()))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// DecodeWAV reads a whole PCM WAV stream.
func DecodeWAV(r io.ReadSeeker) (*Buffer, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid wav stream", ErrUnsupportedFile)
	}

	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read wav samples: %w", err)
	}

	f := Format{SampleRate: pcm.Format.SampleRate, Channels: pcm.Format.NumChannels}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	depth := pcm.SourceBitDepth
	if depth == 0 {
		depth = int(d.BitDepth)
	}
	samples := make([]float32, len(pcm.Data))
	if depth == 8 {
		// 8-bit WAV is unsigned.
		for i, v := range pcm.Data {
			samples[i] = float32(v-128) / 128.0
		}
	} else {
		scale := float32(goaudio.IntMaxSignedValue(depth)) + 1
		for i, v := range pcm.Data {
			samples[i] = float32(v) / scale
		}
	}
	return &Buffer{Format: f, Samples: samples}, nil
}
