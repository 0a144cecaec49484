package engine

import (
	"fmt"
	"time"

	"github.com/lokutor-ai/promptdj/pkg/session"
)

type Logger interface {
	Debug(msg string, args ...interface{})

	Info(msg string, args ...interface{})

	Warn(msg string, args ...interface{})

	Error(msg string, args ...interface{})
}

type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

type PlaybackState string

const (
	StateStopped PlaybackState = "stopped"
	StateLoading PlaybackState = "loading"
	StatePlaying PlaybackState = "playing"
	StatePaused  PlaybackState = "paused"
)

// MaxWeight is the upper bound of a prompt weight.
const MaxWeight = 2.0

// Prompt is one weighted text steering the generator. Weight 0 means
// inactive.
type Prompt struct {
	ID     string  `json:"id" yaml:"id"`
	Text   string  `json:"text" yaml:"text"`
	Weight float64 `json:"weight" yaml:"weight"`
	// CC is the MIDI controller bound to this prompt's weight.
	CC    int    `json:"cc" yaml:"cc"`
	Color string `json:"color" yaml:"color"`
}

// Validate checks identity and weight range.
func (p Prompt) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidPrompt)
	}
	// Written so NaN fails too.
	if !(p.Weight >= 0 && p.Weight <= MaxWeight) {
		return fmt.Errorf("%w: %s weight %.2f outside [0, %.0f]", ErrInvalidPrompt, p.ID, p.Weight, MaxWeight)
	}
	return nil
}

// PromptSet maps prompt id to prompt.
type PromptSet map[string]Prompt

// Clone returns an independent copy.
func (s PromptSet) Clone() PromptSet {
	out := make(PromptSet, len(s))
	for id, p := range s {
		out[id] = p
	}
	return out
}

// Validate checks every prompt and that keys match ids.
func (s PromptSet) Validate() error {
	for id, p := range s {
		if err := p.Validate(); err != nil {
			return err
		}
		if id != p.ID {
			return fmt.Errorf("%w: key %q holds prompt %q", ErrInvalidPrompt, id, p.ID)
		}
	}
	return nil
}

type EventType string

const (
	PlaybackStateChanged EventType = "PLAYBACK_STATE_CHANGED"
	// FilteredPromptEvent carries a session.FilteredPrompt
	FilteredPromptEvent EventType = "FILTERED_PROMPT"
	// ErrorEvent carries a user-facing message string
	ErrorEvent EventType = "ERROR"
	// AudioLevel carries the output RMS level (float64) while playing
	AudioLevel EventType = "AUDIO_LEVEL"
)

type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type Config struct {
	// Lookahead cushion before the first fragment of a run is heard.
	BufferTime time.Duration
	// Minimum spacing of upstream prompt pushes.
	ThrottleInterval time.Duration
	FadeIn           time.Duration
	FadeOut          time.Duration
	// How often AudioLevel events are emitted while playing. Zero disables them.
	LevelInterval time.Duration
	EventBuffer   int
	Generation    session.GenerationConfig
}

func DefaultConfig() Config {
	return Config{
		BufferTime:       2 * time.Second,
		ThrottleInterval: 200 * time.Millisecond,
		FadeIn:           100 * time.Millisecond,
		FadeOut:          100 * time.Millisecond,
		LevelInterval:    50 * time.Millisecond,
		EventBuffer:      1024,
		Generation: session.GenerationConfig{
			Temperature:  1.0,
			AudioFormat:  "pcm16",
			SampleRateHz: 44100,
		},
	}
}
