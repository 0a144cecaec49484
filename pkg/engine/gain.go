package engine

import (
	"time"

	"github.com/lokutor-ai/promptdj/pkg/audio"
)

// GainEnvelope owns the gain node every scheduled fragment plays through.
// Fading out retires the node and installs a fresh one, so a later fade-in
// never inherits a ramp that is still in flight.
type GainEnvelope struct {
	graph   *audio.Graph
	node    *audio.Gain
	fadeIn  time.Duration
	fadeOut time.Duration
}

func NewGainEnvelope(graph *audio.Graph, fadeIn, fadeOut time.Duration) *GainEnvelope {
	return &GainEnvelope{
		graph:   graph,
		node:    graph.NewGain(),
		fadeIn:  fadeIn,
		fadeOut: fadeOut,
	}
}

// Node returns the node new fragments should be started on.
func (e *GainEnvelope) Node() *audio.Gain {
	return e.node
}

// FadeIn connects the node and ramps it from 0 to 1.
func (e *GainEnvelope) FadeIn() {
	now := e.graph.CurrentTime()
	e.node.Connect()
	e.node.CancelScheduledValues(now)
	e.node.SetValueAtTime(0, now)
	e.node.LinearRampToValueAtTime(1, now+e.fadeIn.Seconds())
}

// FadeOut ramps the node from its current value to 0, disconnects it when
// the ramp ends and replaces it. Sources scheduled past the ramp are
// discarded with the old node.
func (e *GainEnvelope) FadeOut() {
	old := e.node
	e.node = e.graph.NewGain()

	if !old.Connected() {
		old.Disconnect()
		return
	}
	now := e.graph.CurrentTime()
	end := now + e.fadeOut.Seconds()
	current := old.ValueAt(now)
	old.CancelScheduledValues(now)
	old.SetValueAtTime(current, now)
	old.LinearRampToValueAtTime(0, end)
	old.DisconnectAt(end)
}
