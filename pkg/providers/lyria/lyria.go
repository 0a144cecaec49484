// Package lyria speaks the Lyria RealTime music generation protocol over a
// websocket.
package lyria

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lokutor-ai/promptdj/pkg/session"
)

const (
	defaultBaseURL = "wss://generativelanguage.googleapis.com"
	endpointPath   = "/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateMusic"

	// DefaultModel is the realtime music model.
	DefaultModel = "models/lyria-realtime-exp"

	readLimit    = 10 * 1024 * 1024
	controlQueue = 16
	// closeFlush bounds how long Close waits for queued control verbs.
	closeFlush = 500 * time.Millisecond
)

// Playback control verbs.
const (
	ControlPlay  = "PLAY"
	ControlPause = "PAUSE"
	ControlStop  = "STOP"
)

// ErrControlQueueFull is returned when control messages back up behind a
// stalled connection.
var ErrControlQueueFull = errors.New("lyria: control queue full")

// Option configures a Connector.
type Option func(*Connector)

// WithModel sets the model used for new sessions.
func WithModel(model string) Option {
	return func(c *Connector) { c.model = model }
}

// WithBaseURL overrides the websocket origin, e.g. a local mock server.
func WithBaseURL(u string) Option {
	return func(c *Connector) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithLogger sets the logger used for protocol warnings.
func WithLogger(l *slog.Logger) Option {
	return func(c *Connector) { c.logger = l }
}

// Connector dials Lyria RealTime sessions.
type Connector struct {
	apiKey  string
	model   string
	baseURL string
	logger  *slog.Logger
}

var _ session.Connector = (*Connector)(nil)

// New creates a connector authenticating with apiKey.
func New(apiKey string, opts ...Option) *Connector {
	c := &Connector{
		apiKey:  apiKey,
		model:   DefaultModel,
		baseURL: defaultBaseURL,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name implements session.Connector.
func (c *Connector) Name() string {
	return "lyria"
}

// Connect dials the service and sends the setup message. Inbound traffic is
// delivered to h from a single goroutine until the session closes.
func (c *Connector) Connect(ctx context.Context, h session.Handlers) (session.Session, error) {
	u := c.baseURL + endpointPath + "?key=" + url.QueryEscape(c.apiKey)
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lyria: %w", err)
	}
	conn.SetReadLimit(readLimit)

	if err := wsjson.Write(ctx, conn, setupMessage{Setup: setup{Model: c.model}}); err != nil {
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("failed to send lyria setup: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:     conn,
		handlers: h,
		logger:   c.logger,
		ctx:      sessCtx,
		cancel:   cancel,
		control:  make(chan string, controlQueue),
		done:     make(chan struct{}),
	}

	go s.receiveLoop()
	go s.writeLoop()

	return s, nil
}

// Session is one open Lyria RealTime stream.
type Session struct {
	conn     *websocket.Conn
	handlers session.Handlers
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	control  chan string
	done     chan struct{}

	mu     sync.Mutex
	closed bool
	// shutdown is set once Close has run; closed alone may come from the
	// remote end.
	shutdown bool
}

var _ session.Session = (*Session)(nil)

// SetWeightedPrompts replaces the prompt mix.
func (s *Session) SetWeightedPrompts(ctx context.Context, prompts []session.WeightedPrompt) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	msg := clientContentMessage{ClientContent: clientContent{WeightedPrompts: prompts}}
	if err := wsjson.Write(ctx, s.conn, msg); err != nil {
		return fmt.Errorf("failed to send weighted prompts: %w", err)
	}
	return nil
}

// SetMusicGenerationConfig updates generation parameters.
func (s *Session) SetMusicGenerationConfig(ctx context.Context, cfg session.GenerationConfig) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	msg := generationConfigMessage{MusicGenerationConfig: cfg}
	if err := wsjson.Write(ctx, s.conn, msg); err != nil {
		return fmt.Errorf("failed to send generation config: %w", err)
	}
	return nil
}

// Play starts or resumes generation.
func (s *Session) Play() error { return s.enqueue(ControlPlay) }

// Pause suspends generation, keeping context.
func (s *Session) Pause() error { return s.enqueue(ControlPause) }

// Stop ends generation.
func (s *Session) Stop() error { return s.enqueue(ControlStop) }

func (s *Session) enqueue(verb string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return session.ErrClosed
	}
	select {
	case s.control <- verb:
		return nil
	default:
		return ErrControlQueueFull
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

// writeLoop serialises control verbs in the order they were issued. It
// drains the queue and exits once Close closes it.
func (s *Session) writeLoop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case verb, ok := <-s.control:
			if !ok {
				return
			}
			if err := wsjson.Write(s.ctx, s.conn, playbackControlMessage{PlaybackControl: verb}); err != nil {
				if s.ctx.Err() == nil {
					s.logger.Warn("lyria: failed to send playback control", "control", verb, "err", err)
				}
				return
			}
		}
	}
}

// receiveLoop reads server messages until the connection ends.
func (s *Session) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// Closed by us.
			if s.ctx.Err() != nil {
				return
			}
			s.markClosed()
			if websocket.CloseStatus(err) != -1 {
				if s.handlers.OnClose != nil {
					s.handlers.OnClose(err)
				}
				return
			}
			if s.handlers.OnError != nil {
				s.handlers.OnError(err)
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("lyria: skipping malformed frame", "err", err)
			continue
		}
		s.handleServerMessage(&msg)
	}
}

func (s *Session) handleServerMessage(msg *serverMessage) {
	if msg.SetupComplete != nil && s.handlers.OnSetupComplete != nil {
		s.handlers.OnSetupComplete()
	}
	if msg.FilteredPrompt != nil && s.handlers.OnFilteredPrompt != nil {
		s.handlers.OnFilteredPrompt(session.FilteredPrompt{
			Text:   msg.FilteredPrompt.Text,
			Reason: msg.FilteredPrompt.FilteredReason,
		})
	}
	if msg.ServerContent != nil && len(msg.ServerContent.AudioChunks) > 0 && s.handlers.OnAudioChunks != nil {
		chunks := make([]session.Fragment, 0, len(msg.ServerContent.AudioChunks))
		for _, c := range msg.ServerContent.AudioChunks {
			chunks = append(chunks, session.Fragment{Data: c.Data, MIMEType: c.MimeType})
		}
		s.handlers.OnAudioChunks(chunks)
	}
	if msg.Warning != "" {
		s.logger.Warn("lyria: server warning", "warning", msg.Warning)
	}
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Close flushes queued control verbs, waiting at most closeFlush, and
// terminates the session. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.closed = true
	close(s.control)
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-time.After(closeFlush):
		s.logger.Debug("lyria: dropping unsent playback controls")
	}

	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "session closed")
}
