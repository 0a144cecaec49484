// Package local substitutes a looping audio file for the generation
// backend, for offline use and demos.
package local

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lokutor-ai/promptdj/pkg/audio"
	"github.com/lokutor-ai/promptdj/pkg/session"
)

const defaultChunk = 250 * time.Millisecond

// Option configures a Connector.
type Option func(*Connector)

// WithClock sets the clock pacing emitted fragments.
func WithClock(c clock.Clock) Option {
	return func(cn *Connector) { cn.clock = c }
}

// WithChunkDuration sets the length of each emitted fragment.
func WithChunkDuration(d time.Duration) Option {
	return func(cn *Connector) { cn.chunk = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cn *Connector) { cn.logger = l }
}

// WithBuffer uses already decoded audio instead of reading a file.
func WithBuffer(buf *audio.Buffer) Option {
	return func(cn *Connector) {
		cn.load = func() (*audio.Buffer, error) { return buf, nil }
	}
}

// Connector opens sessions that replay one decoded asset. The asset is
// decoded once and shared by every session.
type Connector struct {
	path   string
	clock  clock.Clock
	chunk  time.Duration
	logger *slog.Logger
	load   func() (*audio.Buffer, error)

	once   sync.Once
	pcm    []byte
	format audio.Format
	err    error
}

var _ session.Connector = (*Connector)(nil)

// New creates a connector looping the WAV or MP3 file at path.
func New(path string, opts ...Option) *Connector {
	c := &Connector{
		path:   path,
		clock:  clock.New(),
		chunk:  defaultChunk,
		logger: slog.Default(),
	}
	c.load = func() (*audio.Buffer, error) { return audio.DecodeFile(c.path) }
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name implements session.Connector.
func (c *Connector) Name() string {
	return "local"
}

func (c *Connector) asset() ([]byte, audio.Format, error) {
	c.once.Do(func() {
		buf, err := c.load()
		if err != nil {
			c.err = err
			return
		}
		if buf.Frames() == 0 {
			c.err = audio.ErrUnsupportedFile
			return
		}
		c.format = buf.Format
		c.pcm = make([]byte, len(buf.Samples)*2)
		audio.Float32ToPCM16(c.pcm, buf.Samples)
		c.logger.Debug("local: asset loaded", "path", c.path, "seconds", buf.Duration())
	})
	return c.pcm, c.format, c.err
}

// Connect loads the asset and reports setup complete before returning.
func (c *Connector) Connect(ctx context.Context, h session.Handlers) (session.Session, error) {
	pcm, format, err := c.asset()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chunkBytes := int(format.Frames(c.chunk.Seconds())) * format.BytesPerFrame()
	if chunkBytes <= 0 || chunkBytes > len(pcm) {
		chunkBytes = len(pcm)
	}

	s := &Session{
		pcm:        pcm,
		mimeType:   audio.FormatMIME(format),
		chunkBytes: chunkBytes,
		interval:   c.chunk,
		clock:      c.clock,
		handlers:   h,
		logger:     c.logger,
	}
	if h.OnSetupComplete != nil {
		h.OnSetupComplete()
	}
	return s, nil
}

// Session streams the asset as PCM fragments paced in real time while
// playing. Prompt and config updates are accepted and ignored.
type Session struct {
	pcm        []byte
	mimeType   string
	chunkBytes int
	interval   time.Duration
	clock      clock.Clock
	handlers   session.Handlers
	logger     *slog.Logger

	mu     sync.Mutex
	pos    int
	quit   chan struct{}
	closed bool
}

var _ session.Session = (*Session)(nil)

func (s *Session) SetWeightedPrompts(ctx context.Context, prompts []session.WeightedPrompt) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.logger.Debug("local: ignoring weighted prompts", "count", len(prompts))
	return nil
}

func (s *Session) SetMusicGenerationConfig(ctx context.Context, cfg session.GenerationConfig) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.logger.Debug("local: ignoring generation config")
	return nil
}

// Play starts the fragment pump from the current position.
func (s *Session) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return session.ErrClosed
	}
	if s.quit != nil {
		return nil
	}
	s.quit = make(chan struct{})
	go s.pump(s.quit)
	return nil
}

// Pause halts the pump and keeps the position.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return session.ErrClosed
	}
	s.halt()
	return nil
}

// Stop halts the pump and rewinds to the start.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return session.ErrClosed
	}
	s.halt()
	s.pos = 0
	return nil
}

// Close halts the pump. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halt()
	s.closed = true
	return nil
}

func (s *Session) halt() {
	if s.quit != nil {
		close(s.quit)
		s.quit = nil
	}
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return session.ErrClosed
	}
	return nil
}

// pump emits one fragment immediately and then one per interval. It never
// holds s.mu while calling handlers, because handlers may call back into
// Pause or Stop.
func (s *Session) pump(quit chan struct{}) {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		frag, ok := s.next(quit)
		if !ok {
			return
		}
		if s.handlers.OnAudioChunks != nil {
			s.handlers.OnAudioChunks([]session.Fragment{frag})
		}

		select {
		case <-quit:
			return
		case <-ticker.C:
		}
	}
}

// next cuts the following chunk, wrapping at the end of the asset.
func (s *Session) next(quit chan struct{}) (session.Fragment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-quit:
		return session.Fragment{}, false
	default:
	}

	data := make([]byte, 0, s.chunkBytes)
	for len(data) < s.chunkBytes {
		n := copy(data[len(data):s.chunkBytes], s.pcm[s.pos:])
		data = data[:len(data)+n]
		s.pos = (s.pos + n) % len(s.pcm)
	}
	return session.Fragment{Data: data, MIMEType: s.mimeType}, true
}
