// Package session abstracts the bidirectional connection to a music
// generation backend and keeps exactly one of them alive at a time.
package session

import "context"

// WeightedPrompt is one (text, weight) pair sent upstream verbatim.
type WeightedPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

// GenerationConfig steers the generator. Zero values are omitted on the
// wire and leave the backend default in place.
type GenerationConfig struct {
	Temperature      float64 `json:"temperature,omitempty"`
	Guidance         float64 `json:"guidance,omitempty"`
	BPM              int     `json:"bpm,omitempty"`
	Density          float64 `json:"density,omitempty"`
	Brightness       float64 `json:"brightness,omitempty"`
	Scale            string  `json:"scale,omitempty"`
	MuteBass         bool    `json:"muteBass,omitempty"`
	MuteDrums        bool    `json:"muteDrums,omitempty"`
	OnlyBassAndDrums bool    `json:"onlyBassAndDrums,omitempty"`
	Seed             int     `json:"seed,omitempty"`
	TopK             int     `json:"topK,omitempty"`
	AudioFormat      string  `json:"audioFormat,omitempty"`
	SampleRateHz     int     `json:"sampleRateHz,omitempty"`
}

// Fragment is one opaque unit of encoded audio from the backend.
type Fragment struct {
	Data     []byte
	MIMEType string
}

// FilteredPrompt reports a prompt text the backend refused.
type FilteredPrompt struct {
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

// Handlers receive inbound traffic. Each session invokes them from a single
// goroutine, in arrival order. Any handler may be nil.
type Handlers struct {
	OnSetupComplete  func()
	OnFilteredPrompt func(FilteredPrompt)
	OnAudioChunks    func([]Fragment)
	OnError          func(error)
	OnClose          func(error)
}

// Session is a live handle on one generation stream.
//
// SetWeightedPrompts and SetMusicGenerationConfig block until the message
// is on the wire. Play, Pause and Stop only enqueue a control message and
// never block, so they are safe to call while holding locks.
type Session interface {
	SetWeightedPrompts(ctx context.Context, prompts []WeightedPrompt) error
	SetMusicGenerationConfig(ctx context.Context, cfg GenerationConfig) error
	Play() error
	Pause() error
	Stop() error
	Close() error
}

// Connector establishes sessions against one backend.
type Connector interface {
	Connect(ctx context.Context, h Handlers) (Session, error)
	Name() string
}
