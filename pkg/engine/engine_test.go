package engine

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lokutor-ai/promptdj/pkg/audio"
	"github.com/lokutor-ai/promptdj/pkg/session"
)

var testFormat = audio.Format{SampleRate: 8000, Channels: 1}

type fakeSession struct {
	mu      sync.Mutex
	prompts [][]session.WeightedPrompt
	configs []session.GenerationConfig
	plays   int
	pauses  int
	stops   int
	closed  bool
	pushErr error
	// onPush and onConfig run without s.mu held, so they may call back
	// into the engine.
	onPush   func() error
	onConfig func() error
}

func (s *fakeSession) SetWeightedPrompts(ctx context.Context, prompts []session.WeightedPrompt) error {
	if s.onPush != nil {
		if err := s.onPush(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pushErr != nil {
		return s.pushErr
	}
	s.prompts = append(s.prompts, prompts)
	return nil
}

func (s *fakeSession) SetMusicGenerationConfig(ctx context.Context, cfg session.GenerationConfig) error {
	if s.onConfig != nil {
		if err := s.onConfig(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append(s.configs, cfg)
	return nil
}

func (s *fakeSession) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays++
	return nil
}

func (s *fakeSession) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauses++
	return nil
}

func (s *fakeSession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) pushes() [][]session.WeightedPrompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]session.WeightedPrompt(nil), s.prompts...)
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeConnector struct {
	mu       sync.Mutex
	err      error
	onPush   func() error
	onConfig func() error
	sessions []*fakeSession
	handlers []session.Handlers
}

func (c *fakeConnector) Connect(ctx context.Context, h session.Handlers) (session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	s := &fakeSession{onPush: c.onPush, onConfig: c.onConfig}
	c.sessions = append(c.sessions, s)
	c.handlers = append(c.handlers, h)
	return s, nil
}

func (c *fakeConnector) Name() string { return "fake" }

func (c *fakeConnector) last() (*fakeSession, session.Handlers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.sessions)
	return c.sessions[n-1], c.handlers[n-1]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.LevelInterval = 0
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *fakeConnector, *clock.Mock, *audio.Graph) {
	t.Helper()
	conn := &fakeConnector{}
	mock := clock.NewMock()
	graph := audio.NewGraph(testFormat)
	e := New(conn, graph, cfg, WithClock(mock))
	t.Cleanup(e.Close)
	return e, conn, mock, graph
}

// fragment returns seconds of constant PCM16 audio in the graph format.
func fragment(seconds float64, value int16) session.Fragment {
	frames := int(testFormat.Frames(seconds))
	data := make([]byte, frames*testFormat.BytesPerFrame())
	for i := 0; i < len(data); i += 2 {
		data[i] = byte(value)
		data[i+1] = byte(value >> 8)
	}
	return session.Fragment{Data: data, MIMEType: audio.FormatMIME(testFormat)}
}

func drain(e *Engine) []Event {
	var out []Event
	for {
		select {
		case ev := <-e.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func states(events []Event) []PlaybackState {
	var out []PlaybackState
	for _, ev := range events {
		if ev.Type == PlaybackStateChanged {
			out = append(out, ev.Data.(PlaybackState))
		}
	}
	return out
}

func errorMessages(events []Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Type == ErrorEvent {
			out = append(out, ev.Data.(string))
		}
	}
	return out
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEngine_PlayPushesActivePrompts(t *testing.T) {
	e, conn, _, _ := newTestEngine(t, testConfig())

	if err := e.SetPrompts(testSet()); err != nil {
		t.Fatalf("SetPrompts failed: %v", err)
	}
	if err := e.Play(context.Background()); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	s, _ := conn.last()
	pushes := s.pushes()
	if len(pushes) != 1 {
		t.Fatalf("Expected 1 push, got %d", len(pushes))
	}
	want := []session.WeightedPrompt{
		{Text: "Bossa Nova", Weight: 1.5},
		{Text: "Drum and Bass", Weight: 0.8},
	}
	if !reflect.DeepEqual(pushes[0], want) {
		t.Errorf("Expected %v, got %v", want, pushes[0])
	}
	if len(s.configs) != 1 || s.configs[0].Temperature != 1.0 {
		t.Errorf("Expected generation config to be sent once, got %v", s.configs)
	}
	if s.plays != 1 {
		t.Errorf("Expected session Play once, got %d", s.plays)
	}
	if e.State() != StateLoading {
		t.Errorf("Expected loading, got %s", e.State())
	}
	if got := states(drain(e)); !reflect.DeepEqual(got, []PlaybackState{StateLoading}) {
		t.Errorf("Expected [loading], got %v", got)
	}
}

func TestEngine_PlayWhileLoadingIsNoop(t *testing.T) {
	e, conn, _, _ := newTestEngine(t, testConfig())
	_ = e.SetPrompts(testSet())

	if err := e.Play(context.Background()); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if err := e.Play(context.Background()); err != nil {
		t.Fatalf("second Play failed: %v", err)
	}

	s, _ := conn.last()
	if s.plays != 1 {
		t.Errorf("Expected one session Play, got %d", s.plays)
	}
	if len(conn.sessions) != 1 {
		t.Errorf("Expected one session, got %d", len(conn.sessions))
	}
}

func TestEngine_GaplessSchedulingAndLookahead(t *testing.T) {
	e, conn, mock, graph := newTestEngine(t, testConfig())
	_ = e.SetPrompts(testSet())
	_ = e.Play(context.Background())
	_, h := conn.last()

	h.OnAudioChunks([]session.Fragment{fragment(0.5, 1000), fragment(0.5, 1000)})
	h.OnAudioChunks([]session.Fragment{fragment(0.25, 1000)})

	e.mu.Lock()
	next := e.sched.nextStartTime
	sources := e.gain.Node().Sources()
	e.mu.Unlock()

	// First fragment starts one lookahead ahead; the rest follow back to back.
	if !approx(next, 2.0+0.5+0.5+0.25) {
		t.Errorf("Expected cursor at 3.25, got %v", next)
	}
	if sources != 3 {
		t.Errorf("Expected 3 scheduled sources, got %d", sources)
	}

	mock.Add(1900 * time.Millisecond)
	if e.State() != StateLoading {
		t.Fatalf("Expected loading before lookahead elapses, got %s", e.State())
	}

	mock.Add(100 * time.Millisecond)
	waitFor(t, "playing", func() bool { return e.State() == StatePlaying })

	// Rendering through the schedule plays the fragments at full gain.
	graph.Advance(2.1)
	if graph.CurrentTime() < 2.0 {
		t.Fatalf("Expected clock past 2s, got %v", graph.CurrentTime())
	}
	if got := graph.ActiveSources(); got != 3 {
		t.Errorf("Expected 3 sources still live at 2.1s, got %d", got)
	}
}

func TestEngine_UnderrunRebuffers(t *testing.T) {
	e, conn, mock, graph := newTestEngine(t, testConfig())
	_ = e.SetPrompts(testSet())
	_ = e.Play(context.Background())
	_, h := conn.last()

	h.OnAudioChunks([]session.Fragment{fragment(0.5, 1000)})
	mock.Add(2 * time.Second)
	waitFor(t, "playing", func() bool { return e.State() == StatePlaying })
	drain(e)

	// The cursor (2.5s) falls behind the clock.
	graph.Advance(3.0)

	h.OnAudioChunks([]session.Fragment{fragment(0.5, 1000)})
	if e.State() != StateLoading {
		t.Fatalf("Expected loading after underrun, got %s", e.State())
	}
	e.mu.Lock()
	next := e.sched.nextStartTime
	e.mu.Unlock()
	if next != 0 {
		t.Errorf("Expected cursor reset to 0, got %v", next)
	}

	// The next fragment primes a new run one lookahead past now.
	now := graph.CurrentTime()
	h.OnAudioChunks([]session.Fragment{fragment(0.5, 1000)})
	e.mu.Lock()
	next = e.sched.nextStartTime
	e.mu.Unlock()
	if !approx(next, now+2.0+0.5) {
		t.Errorf("Expected cursor at %v, got %v", now+2.5, next)
	}

	mock.Add(2 * time.Second)
	waitFor(t, "playing again", func() bool { return e.State() == StatePlaying })

	got := states(drain(e))
	want := []PlaybackState{StateLoading, StatePlaying}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestEngine_PauseDropsFragmentsAndSwapsGain(t *testing.T) {
	e, conn, mock, graph := newTestEngine(t, testConfig())
	_ = e.SetPrompts(testSet())
	_ = e.Play(context.Background())
	s, h := conn.last()

	h.OnAudioChunks([]session.Fragment{fragment(0.5, 1000)})
	mock.Add(2 * time.Second)
	waitFor(t, "playing", func() bool { return e.State() == StatePlaying })

	e.mu.Lock()
	old := e.gain.Node()
	e.mu.Unlock()

	if err := e.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if e.State() != StatePaused {
		t.Fatalf("Expected paused, got %s", e.State())
	}
	if s.pauses != 1 {
		t.Errorf("Expected session Pause once, got %d", s.pauses)
	}

	e.mu.Lock()
	fresh := e.gain.Node()
	next := e.sched.nextStartTime
	e.mu.Unlock()
	if fresh == old {
		t.Error("Expected a fresh gain node after pause")
	}
	if next != 0 {
		t.Errorf("Expected cursor reset, got %v", next)
	}

	h.OnAudioChunks([]session.Fragment{fragment(0.5, 1000)})
	if fresh.Sources() != 0 {
		t.Error("Expected fragments to be dropped while paused")
	}

	// The old node fades out and disconnects with everything queued on it.
	graph.Advance(0.2)
	if old.Connected() {
		t.Error("Expected old node disconnected after fade-out")
	}
	if graph.ActiveSources() != 0 {
		t.Errorf("Expected no live sources, got %d", graph.ActiveSources())
	}

	// A lookahead armed before the pause must not resume playback.
	mock.Add(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if e.State() != StatePaused {
		t.Errorf("Expected to stay paused, got %s", e.State())
	}
}

func TestEngine_StopIsIdempotent(t *testing.T) {
	e, conn, _, _ := newTestEngine(t, testConfig())
	_ = e.SetPrompts(testSet())
	_ = e.Play(context.Background())
	s, _ := conn.last()
	drain(e)

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}

	if got := states(drain(e)); !reflect.DeepEqual(got, []PlaybackState{StateStopped}) {
		t.Errorf("Expected a single stopped event, got %v", got)
	}
	waitFor(t, "session close", s.isClosed)
	if s.stops < 1 {
		t.Error("Expected session Stop")
	}
}

func TestEngine_NoActivePrompts(t *testing.T) {
	e, conn, _, _ := newTestEngine(t, testConfig())
	_ = e.SetPrompts(PromptSet{
		"A": {ID: "A", Text: "Funk", Weight: 0},
	})

	err := e.Play(context.Background())
	if !errors.Is(err, ErrNoActivePrompts) {
		t.Fatalf("Expected ErrNoActivePrompts, got %v", err)
	}
	if e.State() != StatePaused {
		t.Errorf("Expected paused, got %s", e.State())
	}

	s, _ := conn.last()
	if len(s.pushes()) != 0 {
		t.Error("Expected nothing pushed upstream")
	}
	if s.plays != 0 {
		t.Error("Expected session Play not to be called")
	}

	events := drain(e)
	if got := errorMessages(events); !reflect.DeepEqual(got, []string{MsgNoActivePrompts}) {
		t.Errorf("Expected %q, got %v", MsgNoActivePrompts, got)
	}
	if got := states(events); !reflect.DeepEqual(got, []PlaybackState{StateLoading, StatePaused}) {
		t.Errorf("Expected [loading paused], got %v", got)
	}
}

func TestEngine_ThrottleCoalescesPushes(t *testing.T) {
	e, conn, mock, _ := newTestEngine(t, testConfig())
	_ = e.SetPrompts(testSet())
	_ = e.Play(context.Background())
	s, _ := conn.last()

	// Play pushed the stored set itself and dropped the throttled copy.
	mock.Add(200 * time.Millisecond)
	if got := len(s.pushes()); got != 1 {
		t.Fatalf("Expected only the push made by Play, got %d", got)
	}

	for i := 1; i <= 5; i++ {
		if err := e.SetPromptWeight("C", 0.1*float64(i)); err != nil {
			t.Fatalf("SetPromptWeight failed: %v", err)
		}
		mock.Add(20 * time.Millisecond)
	}
	if got := len(s.pushes()); got != 1 {
		t.Fatalf("Expected no push inside the interval, got %d", got)
	}

	mock.Add(100 * time.Millisecond)
	waitFor(t, "coalesced push", func() bool { return len(s.pushes()) == 2 })

	if last := s.pushes()[1]; len(last) != 2 || !approx(last[1].Weight, 0.5) {
		t.Errorf("Expected latest weights, got %v", last)
	}

	// The next edit lands in the next slot; a duplicate of the coalesced
	// push would take that slot instead.
	mock.Add(200 * time.Millisecond)
	_ = e.SetPromptWeight("C", 0.9)
	mock.Add(200 * time.Millisecond)
	waitFor(t, "next push", func() bool { return len(s.pushes()) >= 3 })

	pushes := s.pushes()
	if len(pushes) != 3 || !approx(pushes[2][1].Weight, 0.9) {
		t.Errorf("Expected exactly one coalesced push, got %v", pushes)
	}
}

func TestEngine_PlayDropsPendingThrottledPush(t *testing.T) {
	e, conn, mock, _ := newTestEngine(t, testConfig())
	_ = e.SetPrompts(testSet())
	if err := e.Play(context.Background()); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	_ = e.Pause()
	mock.Add(550 * time.Millisecond)

	set := testSet()
	set["B"] = Prompt{ID: "B", Text: "Chillwave", Weight: 1}
	_ = e.SetPrompts(set)
	mock.Add(150 * time.Millisecond)

	// Resume while that edit is still waiting on the throttle.
	if err := e.Play(context.Background()); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	s, _ := conn.last()
	if got := len(s.pushes()); got != 2 {
		t.Fatalf("Expected resume to push once, got %d", got)
	}
	if got := s.pushes()[1]; len(got) != 3 {
		t.Errorf("Expected resume to carry the edited set, got %v", got)
	}

	// Past the throttle deadline nothing else goes out until the next edit.
	mock.Add(60 * time.Millisecond)
	set["B"] = Prompt{ID: "B", Text: "Chillwave", Weight: 0.3}
	_ = e.SetPrompts(set)
	mock.Add(200 * time.Millisecond)
	waitFor(t, "next push", func() bool { return len(s.pushes()) >= 3 })

	pushes := s.pushes()
	if len(pushes) != 3 || !approx(pushes[2][1].Weight, 0.3) {
		t.Errorf("Expected the stale throttled push to be dropped, got %v", pushes)
	}
}

func TestEngine_StopDuringPlaySetupIsAborted(t *testing.T) {
	e, conn, _, _ := newTestEngine(t, testConfig())
	_ = e.SetPrompts(testSet())
	conn.onConfig = func() error {
		_ = e.Stop()
		return session.ErrClosed
	}

	err := e.Play(context.Background())
	if !errors.Is(err, ErrPlayAborted) {
		t.Fatalf("Expected ErrPlayAborted, got %v", err)
	}
	if e.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", e.State())
	}
	events := drain(e)
	if got := errorMessages(events); len(got) != 0 {
		t.Errorf("Expected no error events, got %v", got)
	}
	if got := states(events); !reflect.DeepEqual(got, []PlaybackState{StateLoading, StateStopped}) {
		t.Errorf("Expected [loading stopped], got %v", got)
	}
}

func TestEngine_StopDuringPushIsAborted(t *testing.T) {
	e, conn, _, _ := newTestEngine(t, testConfig())
	_ = e.SetPrompts(testSet())
	conn.onPush = func() error {
		_ = e.Stop()
		return session.ErrClosed
	}

	if err := e.Play(context.Background()); !errors.Is(err, ErrPlayAborted) {
		t.Fatalf("Expected ErrPlayAborted, got %v", err)
	}
	if e.State() != StateStopped {
		t.Errorf("Expected to stay stopped, got %s", e.State())
	}
	if got := errorMessages(drain(e)); len(got) != 0 {
		t.Errorf("Expected no error events, got %v", got)
	}
}

func TestEngine_SetPromptsWithoutSession(t *testing.T) {
	e, conn, mock, _ := newTestEngine(t, testConfig())
	_ = e.SetPrompts(testSet())
	mock.Add(200 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	if len(conn.sessions) != 0 {
		t.Error("Expected prompt edits not to connect")
	}
	if e.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", e.State())
	}

	if err := e.SetPromptWeight("missing", 1); !errors.Is(err, ErrUnknownPrompt) {
		t.Errorf("Expected ErrUnknownPrompt, got %v", err)
	}
	bad := PromptSet{"A": {ID: "A", Weight: 3}}
	if err := e.SetPrompts(bad); !errors.Is(err, ErrInvalidPrompt) {
		t.Errorf("Expected ErrInvalidPrompt, got %v", err)
	}
}

func TestEngine_FilteredPrompts(t *testing.T) {
	e, conn, _, _ := newTestEngine(t, testConfig())
	_ = e.SetPrompts(PromptSet{
		"A": {ID: "A", Text: "Thrash", Weight: 1},
		"B": {ID: "B", Text: "Neo Soul", Weight: 0},
	})
	_ = e.Play(context.Background())
	_, h := conn.last()
	drain(e)

	h.OnFilteredPrompt(session.FilteredPrompt{Text: "Thrash", Reason: "blocked"})

	if e.State() != StatePaused {
		t.Fatalf("Expected paused once the only active prompt is filtered, got %s", e.State())
	}
	if got := e.FilteredPrompts(); !reflect.DeepEqual(got, []string{"Thrash"}) {
		t.Errorf("Expected [Thrash], got %v", got)
	}

	events := drain(e)
	if len(events) == 0 || events[0].Type != FilteredPromptEvent {
		t.Fatalf("Expected filtered prompt event first, got %v", events)
	}
	if got := errorMessages(events); !reflect.DeepEqual(got, []string{MsgNoActivePrompts}) {
		t.Errorf("Expected %q, got %v", MsgNoActivePrompts, got)
	}

	// Filters persist across pause and resume on the same session.
	err := e.Play(context.Background())
	if !errors.Is(err, ErrNoActivePrompts) {
		t.Errorf("Expected ErrNoActivePrompts while filtered, got %v", err)
	}

	// A new session starts with an empty registry.
	_ = e.Stop()
	if err := e.Play(context.Background()); err != nil {
		t.Fatalf("Play on new session failed: %v", err)
	}
	if got := e.FilteredPrompts(); len(got) != 0 {
		t.Errorf("Expected filters reset on new session, got %v", got)
	}
	s, _ := conn.last()
	if len(s.pushes()) != 1 || s.pushes()[0][0].Text != "Thrash" {
		t.Errorf("Expected Thrash pushed to the new session, got %v", s.pushes())
	}
}

func TestEngine_FilterNarrowsActiveSet(t *testing.T) {
	e, conn, mock, _ := newTestEngine(t, testConfig())
	_ = e.SetPrompts(testSet())
	_ = e.Play(context.Background())
	s, h := conn.last()

	h.OnFilteredPrompt(session.FilteredPrompt{Text: "Bossa Nova"})

	active := e.ActivePrompts()
	if len(active) != 1 || active[0].ID != "C" {
		t.Fatalf("Expected only C active, got %v", active)
	}
	if e.State() != StateLoading {
		t.Errorf("Expected to keep loading while C is active, got %s", e.State())
	}

	// Re-submitting the filtered text does not bring it back.
	set := testSet()
	set["A"] = Prompt{ID: "A", Text: "Bossa Nova", Weight: 2}
	_ = e.SetPrompts(set)
	mock.Add(200 * time.Millisecond)
	waitFor(t, "push", func() bool { return len(s.pushes()) == 2 })

	want := []session.WeightedPrompt{{Text: "Drum and Bass", Weight: 0.8}}
	if got := s.pushes()[1]; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestEngine_TransportFault(t *testing.T) {
	e, conn, _, _ := newTestEngine(t, testConfig())
	_ = e.SetPrompts(testSet())
	_ = e.Play(context.Background())
	s, h := conn.last()
	h.OnSetupComplete()
	if e.ConnectionError() {
		t.Fatal("Expected no connection error after setup")
	}
	drain(e)

	h.OnError(errors.New("socket reset"))

	if e.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", e.State())
	}
	if !e.ConnectionError() {
		t.Error("Expected connection error flag")
	}
	if got := errorMessages(drain(e)); !reflect.DeepEqual(got, []string{MsgConnectionError}) {
		t.Errorf("Expected %q, got %v", MsgConnectionError, got)
	}
	waitFor(t, "session close", s.isClosed)

	// Callbacks from the dead session are ignored.
	h.OnAudioChunks([]session.Fragment{fragment(0.5, 1000)})
	h.OnClose(nil)
	if got := drain(e); len(got) != 0 {
		t.Errorf("Expected stale callbacks to be ignored, got %v", got)
	}
}

func TestEngine_ConnectFailure(t *testing.T) {
	e, conn, _, _ := newTestEngine(t, testConfig())
	conn.err = errors.New("dial refused")
	_ = e.SetPrompts(testSet())

	if err := e.Play(context.Background()); err == nil {
		t.Fatal("Expected Play to fail")
	}
	if e.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", e.State())
	}
	events := drain(e)
	if got := errorMessages(events); !reflect.DeepEqual(got, []string{MsgConnectionError}) {
		t.Errorf("Expected %q, got %v", MsgConnectionError, got)
	}
	if got := states(events); !reflect.DeepEqual(got, []PlaybackState{StateLoading, StateStopped}) {
		t.Errorf("Expected [loading stopped], got %v", got)
	}
}

func TestEngine_PushFailurePauses(t *testing.T) {
	e, conn, mock, _ := newTestEngine(t, testConfig())
	_ = e.SetPrompts(testSet())
	_ = e.Play(context.Background())
	s, _ := conn.last()
	drain(e)

	s.mu.Lock()
	s.pushErr = errors.New("rejected")
	s.mu.Unlock()

	_ = e.SetPromptWeight("A", 1)
	mock.Add(200 * time.Millisecond)
	waitFor(t, "paused", func() bool { return e.State() == StatePaused })

	if got := errorMessages(drain(e)); !reflect.DeepEqual(got, []string{"rejected"}) {
		t.Errorf("Expected push error surfaced, got %v", got)
	}
}

func TestEngine_PlayPause(t *testing.T) {
	e, conn, mock, _ := newTestEngine(t, testConfig())
	_ = e.SetPrompts(testSet())
	ctx := context.Background()

	_ = e.PlayPause(ctx)
	if e.State() != StateLoading {
		t.Fatalf("Expected loading, got %s", e.State())
	}

	_ = e.PlayPause(ctx)
	if e.State() != StateStopped {
		t.Fatalf("Expected loading to stop, got %s", e.State())
	}

	_ = e.PlayPause(ctx)
	_, h := conn.last()
	h.OnAudioChunks([]session.Fragment{fragment(0.5, 1000)})
	mock.Add(2 * time.Second)
	waitFor(t, "playing", func() bool { return e.State() == StatePlaying })

	_ = e.PlayPause(ctx)
	if e.State() != StatePaused {
		t.Fatalf("Expected playing to pause, got %s", e.State())
	}

	_ = e.PlayPause(ctx)
	if e.State() != StateLoading {
		t.Fatalf("Expected paused to resume loading, got %s", e.State())
	}
	if len(conn.sessions) != 2 {
		t.Errorf("Expected pause to keep the session, got %d sessions", len(conn.sessions))
	}
}

func TestEngine_AudioLevelEvents(t *testing.T) {
	cfg := testConfig()
	cfg.LevelInterval = 50 * time.Millisecond
	e, conn, mock, graph := newTestEngine(t, cfg)
	_ = e.SetPrompts(testSet())
	_ = e.Play(context.Background())
	_, h := conn.last()

	h.OnAudioChunks([]session.Fragment{fragment(1, 16000)})
	mock.Add(2 * time.Second)
	waitFor(t, "playing", func() bool { return e.State() == StatePlaying })

	graph.Advance(2.2)
	mock.Add(50 * time.Millisecond)

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-e.Events():
			if ev.Type != AudioLevel {
				continue
			}
			if level := ev.Data.(float64); level <= 0 {
				t.Errorf("Expected positive level, got %v", level)
			}
			return
		case <-deadline:
			t.Fatal("Timed out waiting for AUDIO_LEVEL")
		}
	}
}

func TestEngine_Close(t *testing.T) {
	e, conn, _, _ := newTestEngine(t, testConfig())
	_ = e.SetPrompts(testSet())
	_ = e.Play(context.Background())
	s, _ := conn.last()

	e.Close()
	e.Close()

	if !s.isClosed() {
		t.Error("Expected session closed after Close")
	}
	if err := e.Play(context.Background()); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Expected ErrEngineClosed, got %v", err)
	}
	if err := e.SetPrompts(testSet()); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Expected ErrEngineClosed, got %v", err)
	}
}
