// Package promptdj wires the playback engine to a generation backend and an
// audio output with sensible defaults.
package promptdj

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lokutor-ai/promptdj/pkg/audio"
	"github.com/lokutor-ai/promptdj/pkg/config"
	"github.com/lokutor-ai/promptdj/pkg/engine"
	"github.com/lokutor-ai/promptdj/pkg/observe"
	"github.com/lokutor-ai/promptdj/pkg/providers/local"
	"github.com/lokutor-ai/promptdj/pkg/providers/lyria"
	"github.com/lokutor-ai/promptdj/pkg/session"
)

// localFadeIn is the fade-in used with the local backend, where the loop
// restarts audibly on every play.
const localFadeIn = 2 * time.Second

// OutputFactory opens the output that drives the graph clock.
type OutputFactory func(*audio.Graph) (audio.Output, error)

type Option func(*options)

type options struct {
	logger    *slog.Logger
	metrics   *observe.Metrics
	clock     clock.Clock
	rng       *rand.Rand
	output    OutputFactory
	connector session.Connector
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock sets the clock used by the engine, the local backend and the
// headless output.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithRand sets the source used to pick the initially active prompts.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rng = r }
}

// WithOutput replaces the sound device or headless renderer.
func WithOutput(f OutputFactory) Option {
	return func(o *options) { o.output = f }
}

// WithConnector replaces the backend chosen from the configuration.
func WithConnector(c session.Connector) Option {
	return func(o *options) { o.connector = c }
}

// Player is a high-level, ready-to-use prompt DJ: a backend connection,
// the playback engine and an audio output.
//
// Example:
//
//	p, err := promptdj.New(config.FromEnv())
//	if err != nil { ... }
//	defer p.Close()
//	_ = p.Start()
//	_ = p.PlayPause(ctx)
type Player struct {
	cfg      config.Config
	logger   *slog.Logger
	graph    *audio.Graph
	engine   *engine.Engine
	output   audio.Output
	recorder *audio.Recorder
	stopRec  func()
}

// New builds a player from cfg. The prompt palette comes from
// cfg.PresetsPath or the built-in defaults. Call Start to open the output.
func New(cfg config.Config, opts ...Option) (*Player, error) {
	o := options{
		logger:  slog.Default(),
		metrics: observe.Discard(),
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(uint64(o.clock.Now().UnixNano()), 0))
	}

	if o.connector == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	f := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	presets := config.DefaultPresets()
	if cfg.PresetsPath != "" {
		var err error
		if presets, err = config.LoadPresets(cfg.PresetsPath); err != nil {
			return nil, err
		}
	}

	ecfg := engine.DefaultConfig()
	if cfg.BufferTime > 0 {
		ecfg.BufferTime = cfg.BufferTime
	}
	ecfg.Generation.Temperature = cfg.Temperature
	ecfg.Generation.BPM = cfg.BPM
	ecfg.Generation.Seed = cfg.Seed
	ecfg.Generation.SampleRateHz = f.SampleRate

	connector := o.connector
	if connector == nil {
		if cfg.UseLocal() {
			connector = local.New(cfg.LocalAsset,
				local.WithClock(o.clock),
				local.WithLogger(o.logger.With("backend", "local")),
			)
			ecfg.FadeIn = localFadeIn
		} else {
			lopts := []lyria.Option{lyria.WithLogger(o.logger.With("backend", "lyria"))}
			if cfg.Model != "" {
				lopts = append(lopts, lyria.WithModel(cfg.Model))
			}
			if cfg.BaseURL != "" {
				lopts = append(lopts, lyria.WithBaseURL(cfg.BaseURL))
			}
			connector = lyria.New(cfg.APIKey, lopts...)
		}
	}

	graph := audio.NewGraph(f)
	eng := engine.New(connector, graph, ecfg,
		engine.WithLogger(o.logger),
		engine.WithClock(o.clock),
		engine.WithMetrics(o.metrics),
	)
	if err := eng.SetPrompts(presets.PromptSet(o.rng)); err != nil {
		eng.Close()
		return nil, err
	}

	p := &Player{
		cfg:    cfg,
		logger: o.logger,
		graph:  graph,
		engine: eng,
	}

	if cfg.RecordPath != "" {
		p.recorder = audio.NewRecorder(f)
		p.stopRec = graph.AddTap(p.recorder.Observe)
	}

	factory := o.output
	if factory == nil {
		factory = p.defaultOutput(o.clock)
	}
	out, err := factory(graph)
	if err != nil {
		p.closeRecorder()
		eng.Close()
		return nil, fmt.Errorf("failed to open output: %w", err)
	}
	p.output = out

	return p, nil
}

func (p *Player) defaultOutput(clk clock.Clock) OutputFactory {
	if p.cfg.Headless {
		return func(g *audio.Graph) (audio.Output, error) {
			return audio.NewHeadless(g, clk, 20*time.Millisecond), nil
		}
	}
	return func(g *audio.Graph) (audio.Output, error) {
		return audio.OpenDevice(g)
	}
}

// Start begins pulling audio from the graph.
func (p *Player) Start() error {
	return p.output.Start()
}

// Engine exposes the underlying engine.
func (p *Player) Engine() *engine.Engine {
	return p.engine
}

// Graph exposes the output graph.
func (p *Player) Graph() *audio.Graph {
	return p.graph
}

// Events returns the engine event stream.
func (p *Player) Events() <-chan engine.Event {
	return p.engine.Events()
}

// Backend names the generation backend in use.
func (p *Player) Backend() string {
	return p.engine.Backend()
}

func (p *Player) PlayPause(ctx context.Context) error {
	return p.engine.PlayPause(ctx)
}

func (p *Player) Stop() error {
	return p.engine.Stop()
}

func (p *Player) State() engine.PlaybackState {
	return p.engine.State()
}

// SetWeight changes one prompt's weight.
func (p *Player) SetWeight(id string, weight float64) error {
	return p.engine.SetPromptWeight(id, weight)
}

// Prompts returns the current palette ordered by controller binding.
func (p *Player) Prompts() []engine.Prompt {
	set := p.engine.Prompts()
	out := make([]engine.Prompt, 0, len(set))
	for _, prompt := range set {
		out = append(out, prompt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CC != out[j].CC {
			return out[i].CC < out[j].CC
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// IsFiltered reports whether the backend has refused text in the current
// session.
func (p *Player) IsFiltered(text string) bool {
	for _, f := range p.engine.FilteredPrompts() {
		if f == text {
			return true
		}
	}
	return false
}

// Close stops playback, closes the output and writes the recording if one
// was requested.
func (p *Player) Close() error {
	p.engine.Close()

	var errs []error
	if err := p.output.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close output: %w", err))
	}
	if err := p.closeRecorder(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (p *Player) closeRecorder() error {
	if p.recorder == nil {
		return nil
	}
	p.stopRec()
	rec := p.recorder
	p.recorder = nil

	if rec.Len() == 0 {
		return nil
	}
	if err := rec.WriteFile(p.cfg.RecordPath); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}
	p.logger.Info("recording written", "path", p.cfg.RecordPath, "seconds", rec.Duration())
	return nil
}
