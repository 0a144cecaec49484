package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/lokutor-ai/promptdj/pkg/audio"
	"github.com/lokutor-ai/promptdj/pkg/observe"
	"github.com/lokutor-ai/promptdj/pkg/session"
)

type Option func(*Engine)

func WithLogger(l Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock sets the clock driving the throttle, lookahead and level timers.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine turns a stream of generated audio fragments into gapless output
// while steering the generator with weighted prompts.
//
// A single mutex stands in for one logical execution context: session
// callbacks, timer firings and API calls all run under it, so fragments
// are handled strictly in arrival order and a Pause racing a fragment is
// settled by the state seen when the fragment handler runs. Blocking
// upstream calls are made with the lock released and state is re-checked
// afterwards.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	logger   Logger
	clock    clock.Clock
	metrics  *observe.Metrics
	graph    *audio.Graph
	sessions *session.Manager
	mixer    *PromptMixer
	throttle *Throttle[PromptSet]
	gain     *GainEnvelope
	sched    *scheduler
	meter    *audio.LevelMeter

	ctx       context.Context
	cancel    context.CancelFunc
	events    chan Event
	removeTap func()

	state           PlaybackState
	connectionError bool
	// playGen is bumped by every Pause and Stop so an in-flight Play can
	// tell it has been superseded.
	playGen      uint64
	lookahead    *clock.Timer
	lookaheadSeq uint64
	levelQuit    chan struct{}
	closed       bool
}

// New creates a stopped engine that connects through c and schedules audio
// on graph.
func New(c session.Connector, graph *audio.Graph, cfg Config, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}

	e := &Engine{
		cfg:             cfg,
		logger:          &NoOpLogger{},
		clock:           clock.New(),
		graph:           graph,
		mixer:           NewPromptMixer(),
		meter:           audio.NewLevelMeter(0.8),
		ctx:             ctx,
		cancel:          cancel,
		events:          make(chan Event, cfg.EventBuffer),
		state:           StateStopped,
		connectionError: true,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.Discard()
	}

	e.sessions = session.NewManager(c, session.Handlers{
		OnSetupComplete:  e.handleSetupComplete,
		OnFilteredPrompt: e.handleFilteredPrompt,
		OnAudioChunks:    e.handleAudioChunks,
		OnError:          e.handleTransportFault,
		OnClose:          e.handleTransportFault,
	})
	e.sessions.OnEstablished(e.handleEstablished)
	e.throttle = NewThrottle(e.clock, cfg.ThrottleInterval, func(set PromptSet) {
		_ = e.pushPrompts(e.ctx, set)
	})
	e.gain = NewGainEnvelope(graph, cfg.FadeIn, cfg.FadeOut)
	e.sched = newScheduler(graph, cfg.BufferTime.Seconds())
	e.removeTap = graph.AddTap(e.meter.Observe)

	return e
}

// Events returns the channel of state, filter, error and level events.
func (e *Engine) Events() <-chan Event {
	return e.events
}

func (e *Engine) State() PlaybackState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ConnectionError reports whether the last session failed or has not yet
// confirmed setup.
func (e *Engine) ConnectionError() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connectionError
}

// Backend names the connector in use.
func (e *Engine) Backend() string {
	return e.sessions.Name()
}

func (e *Engine) Prompts() PromptSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mixer.Prompts()
}

// ActivePrompts returns prompts with nonzero weight whose text has not been
// filtered, ordered by id.
func (e *Engine) ActivePrompts() []Prompt {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mixer.Active()
}

func (e *Engine) FilteredPrompts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mixer.Filtered()
}

// SetPrompts replaces the prompt set and schedules a throttled upstream
// push of its active subset.
func (e *Engine) SetPrompts(set PromptSet) error {
	if err := set.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	e.mixer.Set(set)
	e.mu.Unlock()

	e.throttle.Call(set.Clone())
	return nil
}

// SetPromptWeight changes one prompt's weight in the current set.
func (e *Engine) SetPromptWeight(id string, weight float64) error {
	set := e.Prompts()
	p, ok := set[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPrompt, id)
	}
	p.Weight = weight
	set[id] = p
	return e.SetPrompts(set)
}

// pushPrompts sends the active projection of set upstream. With no active
// prompt it pauses instead; with no session yet it only keeps the set for
// the next Play.
func (e *Engine) pushPrompts(ctx context.Context, set PromptSet) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	weighted := e.mixer.Weighted(set)
	if len(weighted) == 0 {
		e.metrics.RecordPush(ctx, "empty")
		e.emit(ErrorEvent, MsgNoActivePrompts)
		e.pauseLocked()
		e.mu.Unlock()
		return ErrNoActivePrompts
	}
	s := e.sessions.Current()
	e.mu.Unlock()

	if s == nil {
		return nil
	}

	if err := s.SetWeightedPrompts(ctx, weighted); err != nil {
		e.metrics.RecordPush(ctx, "error")
		e.mu.Lock()
		if e.closed || e.sessions.Current() != s {
			// Released while the push was in flight.
			e.mu.Unlock()
			return ErrPlayAborted
		}
		e.logger.Error("failed to push prompts", "error", err)
		e.emit(ErrorEvent, err.Error())
		e.pauseLocked()
		e.mu.Unlock()
		return fmt.Errorf("failed to push prompts: %w", err)
	}
	e.metrics.RecordPush(ctx, "ok")
	e.logger.Debug("pushed prompts", "count", len(weighted))
	return nil
}

// Play acquires a session, applies the prompts and generation config, asks
// the backend to play and fades the output in. Audio becomes audible once
// the first fragment's lookahead elapses.
func (e *Engine) Play(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if e.state == StatePlaying || e.state == StateLoading {
		e.mu.Unlock()
		return nil
	}
	e.playGen++
	gen := e.playGen
	e.setState(StateLoading)
	e.mu.Unlock()

	s, err := e.sessions.Get(ctx)
	if err != nil {
		if errors.Is(err, session.ErrReleased) {
			return ErrPlayAborted
		}
		if !e.fault(gen, err) {
			return ErrPlayAborted
		}
		return fmt.Errorf("failed to connect session: %w", err)
	}

	e.mu.Lock()
	if e.playGen != gen {
		e.mu.Unlock()
		return ErrPlayAborted
	}
	// The push below already carries the latest set.
	e.throttle.Cancel()
	set := e.mixer.Prompts()
	e.mu.Unlock()

	if err := e.pushPrompts(ctx, set); err != nil {
		return err
	}

	if err := s.SetMusicGenerationConfig(ctx, e.cfg.Generation); err != nil {
		if !e.fault(gen, err) {
			return ErrPlayAborted
		}
		return fmt.Errorf("failed to set generation config: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playGen != gen {
		return ErrPlayAborted
	}
	if err := s.Play(); err != nil {
		e.faultLocked(err)
		return fmt.Errorf("failed to start playback: %w", err)
	}
	e.gain.FadeIn()
	e.logger.Info("playback requested", "backend", e.sessions.Name())
	return nil
}

// Pause suspends the session, fades out and discards everything scheduled
// past the fade.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	e.pauseLocked()
	return nil
}

func (e *Engine) pauseLocked() {
	e.playGen++
	if s := e.sessions.Current(); s != nil {
		if err := s.Pause(); err != nil {
			e.logger.Warn("session pause failed", "error", err)
		}
	}
	e.cancelLookahead()
	e.setState(StatePaused)
	e.gain.FadeOut()
	e.sched.reset()
}

// Stop ends playback from any state and releases the session. Idempotent.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	e.stopLocked()
	return nil
}

func (e *Engine) stopLocked() {
	e.playGen++
	e.cancelLookahead()
	e.throttle.Cancel()
	if s := e.sessions.Current(); s != nil {
		if err := s.Stop(); err != nil {
			e.logger.Debug("session stop failed", "error", err)
		}
	}
	e.sessions.Release()
	e.setState(StateStopped)
	e.gain.FadeOut()
	e.sched.reset()
}

// PlayPause pauses while playing, stops while loading and plays otherwise.
func (e *Engine) PlayPause(ctx context.Context) error {
	switch e.State() {
	case StatePlaying:
		return e.Pause()
	case StateLoading:
		return e.Stop()
	default:
		return e.Play(ctx)
	}
}

// Close stops playback and releases every resource.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.cancel()
	e.stopLocked()
	e.closed = true
	e.removeTap()
	e.mu.Unlock()

	e.sessions.Wait()
}

// fault reports a failure of the Play started as gen. It returns false when
// that Play has already been superseded and the error was dropped.
func (e *Engine) fault(gen uint64, err error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playGen != gen || e.closed {
		return false
	}
	e.faultLocked(err)
	return true
}

// faultLocked handles an unrecoverable transport failure. There is no
// automatic reconnect; the user has to Play again.
func (e *Engine) faultLocked(err error) {
	e.logger.Error("session failed", "backend", e.sessions.Name(), "error", err)
	e.connectionError = true
	e.stopLocked()
	e.emit(ErrorEvent, MsgConnectionError)
}

func (e *Engine) handleEstablished() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mixer.ResetFilters()
}

func (e *Engine) handleSetupComplete() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connectionError = false
	e.logger.Info("session ready", "backend", e.sessions.Name())
}

func (e *Engine) handleFilteredPrompt(p session.FilteredPrompt) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	hadActive := len(e.mixer.Active()) > 0
	if e.mixer.Filter(p.Text) {
		e.metrics.FilteredPrompts.Add(e.ctx, 1)
		e.logger.Warn("prompt filtered", "text", p.Text, "reason", p.Reason)
	}
	e.emit(FilteredPromptEvent, p)

	if hadActive && len(e.mixer.Active()) == 0 && (e.state == StatePlaying || e.state == StateLoading) {
		e.emit(ErrorEvent, MsgNoActivePrompts)
		e.pauseLocked()
	}
}

func (e *Engine) handleTransportFault(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.faultLocked(err)
}

func (e *Engine) handleAudioChunks(frags []session.Fragment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, f := range frags {
		e.handleFragmentLocked(f)
	}
}

func (e *Engine) handleFragmentLocked(f session.Fragment) {
	ctx := e.ctx
	e.metrics.FragmentsReceived.Add(ctx, 1)

	if e.closed || e.state == StatePaused || e.state == StateStopped {
		e.metrics.RecordDrop(ctx, "inactive")
		return
	}

	result, err := e.sched.schedule(e.gain.Node(), f)
	if err != nil {
		e.logger.Warn("dropping undecodable fragment", "mime", f.MIMEType, "bytes", len(f.Data), "error", err)
		e.metrics.RecordDrop(ctx, "decode")
		return
	}

	switch result {
	case fragmentEmpty:
		return
	case fragmentUnderrun:
		e.logger.Debug("underrun, rebuffering")
		e.metrics.Underruns.Add(ctx, 1)
		e.metrics.RecordDrop(ctx, "underrun")
		e.cancelLookahead()
		e.setState(StateLoading)
		return
	case fragmentPrimed:
		e.armLookahead()
	}
	e.metrics.FragmentsScheduled.Add(ctx, 1)
	e.metrics.ScheduledAhead.Record(ctx, e.sched.ahead())
}

// armLookahead moves loading to playing once the lookahead window has
// passed. Only the most recently armed timer counts.
func (e *Engine) armLookahead() {
	e.cancelLookahead()
	seq := e.lookaheadSeq
	e.lookahead = e.clock.AfterFunc(e.cfg.BufferTime, func() { e.lookaheadElapsed(seq) })
}

func (e *Engine) lookaheadElapsed(seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if seq != e.lookaheadSeq || e.closed {
		return
	}
	e.lookahead = nil
	if e.state == StateLoading {
		e.setState(StatePlaying)
	}
}

func (e *Engine) cancelLookahead() {
	if e.lookahead != nil {
		e.lookahead.Stop()
		e.lookahead = nil
	}
	e.lookaheadSeq++
}

// setState records a transition and emits it. Re-entering the current
// state is silent.
func (e *Engine) setState(s PlaybackState) {
	if e.state == s {
		return
	}
	e.logger.Debug("playback state", "from", e.state, "to", s)
	e.state = s
	e.metrics.RecordTransition(e.ctx, string(s))
	e.emit(PlaybackStateChanged, s)

	if s == StatePlaying {
		e.startLevel()
	} else {
		e.stopLevel()
	}
}

func (e *Engine) startLevel() {
	if e.cfg.LevelInterval <= 0 || e.levelQuit != nil {
		return
	}
	quit := make(chan struct{})
	e.levelQuit = quit
	ticker := e.clock.Ticker(e.cfg.LevelInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				level := e.meter.Level()
				e.mu.Lock()
				if e.levelQuit == quit {
					e.emit(AudioLevel, level)
				}
				e.mu.Unlock()
			}
		}
	}()
}

func (e *Engine) stopLevel() {
	if e.levelQuit == nil {
		return
	}
	close(e.levelQuit)
	e.levelQuit = nil
	e.meter.Reset()
}

func (e *Engine) emit(eventType EventType, data interface{}) {
	event := Event{Type: eventType, Data: data}

	// Level readings are advisory and may be dropped; everything else is
	// delivered unless the engine is closing.
	if eventType == AudioLevel {
		select {
		case e.events <- event:
		default:
		}
		return
	}

	select {
	case e.events <- event:
	case <-e.ctx.Done():
	}
}
