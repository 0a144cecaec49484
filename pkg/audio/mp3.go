package audio

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 decodes a whole MP3 stream. The decoder always yields 16-bit
// little-endian stereo.
func DecodeMP3(r io.Reader) (*Buffer, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open mp3 stream: %w", err)
	}

	pcm, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mp3 stream: %w", err)
	}
	pcm = pcm[:len(pcm)/4*4]

	return &Buffer{
		Format:  Format{SampleRate: d.SampleRate(), Channels: 2},
		Samples: PCM16ToFloat32(pcm),
	}, nil
}

// DecodeFile loads a local WAV or MP3 asset, chosen by extension.
func DecodeFile(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return DecodeWAV(bytes.NewReader(data))
	case ".mp3":
		return DecodeMP3(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
	}
}
