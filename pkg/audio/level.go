package audio

import (
	"math"
	"sync"
)

// LevelMeter tracks the loudness of rendered output. It is meant to be
// installed as a graph tap.
type LevelMeter struct {
	mu        sync.Mutex
	level     float64
	smoothing float64
}

// NewLevelMeter creates a meter whose reading decays with the given
// smoothing factor in [0, 1). Zero disables smoothing.
func NewLevelMeter(smoothing float64) *LevelMeter {
	if smoothing < 0 || smoothing >= 1 {
		smoothing = 0
	}
	return &LevelMeter{smoothing: smoothing}
}

// Observe folds one rendered block into the reading.
func (m *LevelMeter) Observe(block []float32) {
	rms := RMS(block)
	m.mu.Lock()
	m.level = m.smoothing*m.level + (1-m.smoothing)*rms
	m.mu.Unlock()
}

// Level returns the current smoothed RMS level.
func (m *LevelMeter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Reset zeroes the reading.
func (m *LevelMeter) Reset() {
	m.mu.Lock()
	m.level = 0
	m.mu.Unlock()
}

// RMS returns the root mean square of the samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}

	return math.Sqrt(sum / float64(len(samples)))
}
