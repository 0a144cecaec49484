package audio

import (
	"fmt"
	"os"
	"sync"
)

// Recorder captures rendered output as 16-bit PCM. Install Observe as a
// graph tap.
type Recorder struct {
	mu     sync.Mutex
	format Format
	pcm    []byte
}

// NewRecorder creates a recorder for blocks in format f.
func NewRecorder(f Format) *Recorder {
	return &Recorder{format: f}
}

// Observe appends one rendered block.
func (r *Recorder) Observe(block []float32) {
	buf := make([]byte, len(block)*2)
	Float32ToPCM16(buf, block)
	r.mu.Lock()
	r.pcm = append(r.pcm, buf...)
	r.mu.Unlock()
}

// Len returns the number of captured bytes.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pcm)
}

// WAV returns the capture so far as a WAV file.
func (r *Recorder) WAV() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return NewWavBuffer(r.pcm, r.format)
}

// WriteFile saves the capture as a WAV file.
func (r *Recorder) WriteFile(path string) error {
	if err := os.WriteFile(path, r.WAV(), 0o644); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}
	return nil
}

// Duration returns the captured length in seconds.
func (r *Recorder) Duration() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return float64(len(r.pcm)/r.format.BytesPerFrame()) / float64(r.format.SampleRate)
}
