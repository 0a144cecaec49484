package engine

import (
	"github.com/lokutor-ai/promptdj/pkg/audio"
	"github.com/lokutor-ai/promptdj/pkg/session"
)

type scheduleResult int

const (
	// fragmentScheduled: placed on the timeline at the cursor.
	fragmentScheduled scheduleResult = iota
	// fragmentPrimed: first of a run; scheduled one lookahead ahead.
	fragmentPrimed
	// fragmentUnderrun: the cursor had fallen behind; dropped and reset.
	fragmentUnderrun
	// fragmentEmpty: decoded to nothing.
	fragmentEmpty
)

// scheduler places decoded fragments back to back on the output clock.
// Guarded by the engine lock.
type scheduler struct {
	graph      *audio.Graph
	decoder    *audio.Decoder
	bufferTime float64
	// nextStartTime is the output time at which the next fragment starts;
	// 0 means no run is in progress.
	nextStartTime float64
}

func newScheduler(graph *audio.Graph, bufferTime float64) *scheduler {
	return &scheduler{
		graph:      graph,
		decoder:    audio.NewDecoder(graph.Format()),
		bufferTime: bufferTime,
	}
}

// schedule decodes f and starts it on node. The underrun test is the exact
// comparison nextStartTime < now, with no tolerance.
func (s *scheduler) schedule(node *audio.Gain, f session.Fragment) (scheduleResult, error) {
	buf, err := s.decoder.Decode(f.Data, f.MIMEType)
	if err != nil {
		return fragmentEmpty, err
	}
	if buf.Frames() == 0 {
		return fragmentEmpty, nil
	}

	now := s.graph.CurrentTime()
	result := fragmentScheduled
	if s.nextStartTime == 0 {
		s.nextStartTime = now + s.bufferTime
		result = fragmentPrimed
	}

	if s.nextStartTime < now {
		s.reset()
		return fragmentUnderrun, nil
	}

	node.Start(buf, s.nextStartTime, false)
	s.nextStartTime += buf.Duration()
	return result, nil
}

// ahead returns how far the cursor leads the output clock.
func (s *scheduler) ahead() float64 {
	if s.nextStartTime == 0 {
		return 0
	}
	return s.nextStartTime - s.graph.CurrentTime()
}

// reset rewinds the cursor and drops resampler history.
func (s *scheduler) reset() {
	s.nextStartTime = 0
	s.decoder.Reset()
}
