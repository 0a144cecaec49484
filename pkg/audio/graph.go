package audio

import (
	"sort"
	"sync"
)

// Graph is a minimal output graph: buffer sources feed gain nodes, and
// connected gain nodes are summed into the device output. Its clock is the
// number of frames rendered so far, so CurrentTime only moves when the
// device (or a headless driver) pulls audio through Render.
type Graph struct {
	mu     sync.Mutex
	format Format
	frames int64
	gains  []*Gain
	taps   map[int]func([]float32)
	nextID int
}

// NewGraph creates a graph rendering in format f.
func NewGraph(f Format) *Graph {
	return &Graph{format: f, taps: make(map[int]func([]float32))}
}

// Format returns the fixed output format.
func (g *Graph) Format() Format {
	return g.format
}

// CurrentTime returns the output clock in seconds.
func (g *Graph) CurrentTime() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.timeOf(g.frames)
}

func (g *Graph) timeOf(frame int64) float64 {
	return float64(frame) / float64(g.format.SampleRate)
}

// NewGain creates a disconnected gain node with value 1.
func (g *Graph) NewGain() *Gain {
	return &Gain{graph: g, base: 1, disconnectAt: -1}
}

// AddTap registers fn to receive every rendered block after mixing. The
// block must not be retained. The returned func removes the tap.
func (g *Graph) AddTap(fn func(block []float32)) (remove func()) {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.taps[id] = fn
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.taps, id)
		g.mu.Unlock()
	}
}

// ActiveSources counts scheduled or playing sources on connected nodes.
func (g *Graph) ActiveSources() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, gain := range g.gains {
		n += len(gain.sources)
	}
	return n
}

// Render fills out with the next len(out)/channels frames and advances the
// clock. It is called from the device callback.
func (g *Graph) Render(out []float32) {
	g.mu.Lock()
	ch := g.format.Channels
	frames := len(out) / ch
	for i := range out {
		out[i] = 0
	}

	start := g.frames
	for _, gain := range g.gains {
		gain.mix(out[:frames*ch], start, frames, ch)
	}
	for i := range out {
		out[i] = clip(out[i])
	}

	g.frames += int64(frames)
	g.prune()

	taps := make([]func([]float32), 0, len(g.taps))
	for _, fn := range g.taps {
		taps = append(taps, fn)
	}
	g.mu.Unlock()

	for _, fn := range taps {
		fn(out)
	}
}

// Advance renders and discards the given number of seconds of output.
func (g *Graph) Advance(seconds float64) {
	frames := g.format.Frames(seconds)
	block := make([]float32, 1024*g.format.Channels)
	for frames > 0 {
		n := int64(1024)
		if frames < n {
			n = frames
		}
		g.Render(block[:n*int64(g.format.Channels)])
		frames -= n
	}
}

// prune drops finished sources and nodes whose disconnect time has passed.
func (g *Graph) prune() {
	kept := g.gains[:0]
	for _, gain := range g.gains {
		if gain.disconnectAt >= 0 && gain.disconnectAt <= g.frames {
			gain.connected = false
			gain.sources = nil
			continue
		}
		live := gain.sources[:0]
		for _, s := range gain.sources {
			if !s.finished(g.frames) {
				live = append(live, s)
			}
		}
		gain.sources = live
		kept = append(kept, gain)
	}
	for i := len(kept); i < len(g.gains); i++ {
		g.gains[i] = nil
	}
	g.gains = kept
}

type automationEvent struct {
	frame int64
	value float64
	ramp  bool
}

// Gain scales the sources started on it. Its value follows an automation
// timeline of set and linear-ramp events, like a Web Audio GainNode.
type Gain struct {
	graph        *Graph
	base         float64
	events       []automationEvent
	sources      []*Source
	connected    bool
	disconnectAt int64
}

// Connect routes the node to the output.
func (n *Gain) Connect() {
	g := n.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	if n.connected {
		return
	}
	n.connected = true
	n.disconnectAt = -1
	g.gains = append(g.gains, n)
}

// Disconnect removes the node from the output immediately, discarding all
// of its sources.
func (n *Gain) Disconnect() {
	g := n.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	n.disconnectLocked()
}

func (n *Gain) disconnectLocked() {
	g := n.graph
	n.connected = false
	n.sources = nil
	for i, gain := range g.gains {
		if gain == n {
			g.gains = append(g.gains[:i], g.gains[i+1:]...)
			break
		}
	}
}

// DisconnectAt schedules Disconnect at the given output time.
func (n *Gain) DisconnectAt(when float64) {
	g := n.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	frame := g.format.Frames(when)
	if frame <= g.frames {
		n.disconnectLocked()
		return
	}
	n.disconnectAt = frame
}

// Connected reports whether the node currently reaches the output.
func (n *Gain) Connected() bool {
	n.graph.mu.Lock()
	defer n.graph.mu.Unlock()
	return n.connected
}

// SetValueAtTime sets the gain to v from time when on.
func (n *Gain) SetValueAtTime(v, when float64) {
	n.insert(automationEvent{frame: n.graph.format.Frames(when), value: v})
}

// LinearRampToValueAtTime ramps linearly from the previous event to v,
// reaching it at time when.
func (n *Gain) LinearRampToValueAtTime(v, when float64) {
	n.insert(automationEvent{frame: n.graph.format.Frames(when), value: v, ramp: true})
}

// CancelScheduledValues removes every event at or after when.
func (n *Gain) CancelScheduledValues(when float64) {
	g := n.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	frame := g.format.Frames(when)
	kept := n.events[:0]
	for _, ev := range n.events {
		if ev.frame < frame {
			kept = append(kept, ev)
		}
	}
	n.events = kept
}

// ValueAt evaluates the automation timeline at the given time.
func (n *Gain) ValueAt(when float64) float64 {
	g := n.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	return n.valueAt(g.format.Frames(when))
}

func (n *Gain) insert(ev automationEvent) {
	g := n.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	i := sort.Search(len(n.events), func(i int) bool { return n.events[i].frame > ev.frame })
	n.events = append(n.events, automationEvent{})
	copy(n.events[i+1:], n.events[i:])
	n.events[i] = ev
}

func (n *Gain) valueAt(frame int64) float64 {
	prevFrame, prevValue := int64(0), n.base
	for _, ev := range n.events {
		if ev.frame <= frame {
			prevFrame, prevValue = ev.frame, ev.value
			continue
		}
		if ev.ramp {
			span := ev.frame - prevFrame
			if span <= 0 {
				return ev.value
			}
			return prevValue + (ev.value-prevValue)*float64(frame-prevFrame)/float64(span)
		}
		break
	}
	return prevValue
}

// Start schedules buf to begin at output time when. Times already in the
// past start on the next rendered frame. A looping source repeats until
// stopped or until its node disconnects.
func (n *Gain) Start(buf *Buffer, when float64, loop bool) *Source {
	g := n.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	start := g.format.Frames(when)
	if start < g.frames {
		start = g.frames
	}
	s := &Source{graph: g, buf: buf, start: start, loop: loop}
	n.sources = append(n.sources, s)
	return s
}

// Sources returns the number of sources still held by the node.
func (n *Gain) Sources() int {
	n.graph.mu.Lock()
	defer n.graph.mu.Unlock()
	return len(n.sources)
}

func (n *Gain) mix(out []float32, start int64, frames, ch int) {
	if len(n.sources) == 0 {
		return
	}
	limit := frames
	if n.disconnectAt >= 0 && n.disconnectAt-start < int64(limit) {
		limit = int(n.disconnectAt - start)
	}
	for i := 0; i < limit; i++ {
		frame := start + int64(i)
		gain := float32(n.valueAt(frame))
		for _, s := range n.sources {
			s.add(out[i*ch:i*ch+ch], frame, gain)
		}
	}
}

// Source is one scheduled buffer playback.
type Source struct {
	graph   *Graph
	buf     *Buffer
	start   int64
	loop    bool
	stopped bool
}

// Stop ends playback on the next rendered frame.
func (s *Source) Stop() {
	s.graph.mu.Lock()
	s.stopped = true
	s.graph.mu.Unlock()
}

// StartTime returns the scheduled start in seconds on the output clock.
func (s *Source) StartTime() float64 {
	return s.graph.timeOf(s.start)
}

func (s *Source) add(dst []float32, frame int64, gain float32) {
	if s.stopped || frame < s.start {
		return
	}
	total := int64(s.buf.Frames())
	if total == 0 {
		return
	}
	off := frame - s.start
	if off >= total {
		if !s.loop {
			return
		}
		off %= total
	}
	ch := s.buf.Format.Channels
	src := s.buf.Samples[off*int64(ch) : off*int64(ch)+int64(ch)]
	for c := range dst {
		dst[c] += src[c%ch] * gain
	}
}

func (s *Source) finished(now int64) bool {
	if s.stopped {
		return true
	}
	return !s.loop && now >= s.start+int64(s.buf.Frames())
}
