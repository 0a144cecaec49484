package lyria

import "github.com/lokutor-ai/promptdj/pkg/session"

type setupMessage struct {
	Setup setup `json:"setup"`
}

type setup struct {
	Model string `json:"model"`
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	WeightedPrompts []session.WeightedPrompt `json:"weightedPrompts"`
}

type generationConfigMessage struct {
	MusicGenerationConfig session.GenerationConfig `json:"musicGenerationConfig"`
}

type playbackControlMessage struct {
	PlaybackControl string `json:"playbackControl"`
}

type serverMessage struct {
	SetupComplete  *struct{}       `json:"setupComplete,omitempty"`
	ServerContent  *serverContent  `json:"serverContent,omitempty"`
	FilteredPrompt *filteredPrompt `json:"filteredPrompt,omitempty"`
	Warning        string          `json:"warning,omitempty"`
}

type serverContent struct {
	AudioChunks []audioChunk `json:"audioChunks"`
}

// Data is base64 on the wire; encoding/json decodes it into bytes.
type audioChunk struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mimeType"`
}

type filteredPrompt struct {
	Text           string `json:"text"`
	FilteredReason string `json:"filteredReason"`
}
