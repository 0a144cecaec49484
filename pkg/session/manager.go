package session

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Manager owns at most one live session. Concurrent Get calls share a
// single in-flight connect, and callbacks from sessions that have since
// been released are dropped.
type Manager struct {
	connector Connector
	handlers  Handlers
	group     singleflight.Group

	mu            sync.Mutex
	current       Session
	generation    uint64
	onEstablished func()
	closing       sync.WaitGroup
}

// NewManager creates a manager dialing through c and routing inbound
// traffic to h.
func NewManager(c Connector, h Handlers) *Manager {
	return &Manager{connector: c, handlers: h}
}

// OnEstablished registers fn to run each time a new session is connected,
// before Get returns it.
func (m *Manager) OnEstablished(fn func()) {
	m.mu.Lock()
	m.onEstablished = fn
	m.mu.Unlock()
}

// Name reports the backend in use.
func (m *Manager) Name() string {
	if m.connector == nil {
		return ""
	}
	return m.connector.Name()
}

// Get returns the current session, connecting if there is none. The
// context of the caller that starts a connect governs it for every caller
// sharing it.
func (m *Manager) Get(ctx context.Context) (Session, error) {
	if m.connector == nil {
		return nil, ErrNilConnector
	}

	m.mu.Lock()
	if m.current != nil {
		s := m.current
		m.mu.Unlock()
		return s, nil
	}
	gen := m.generation
	m.mu.Unlock()

	v, err, _ := m.group.Do(strconv.FormatUint(gen, 10), func() (interface{}, error) {
		s, err := m.connector.Connect(ctx, m.wrap(gen))
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		if m.generation != gen {
			m.mu.Unlock()
			m.closeAsync(s)
			return nil, ErrReleased
		}
		m.current = s
		fn := m.onEstablished
		m.mu.Unlock()

		if fn != nil {
			fn()
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Session), nil
}

// Current returns the established session, or nil. It never connects.
func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Release forgets the current session and closes it in the background.
// Callbacks still in flight from it are ignored from now on.
func (m *Manager) Release() {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.generation++
	m.mu.Unlock()

	if s != nil {
		m.closeAsync(s)
	}
}

// Wait blocks until every released session has finished closing.
func (m *Manager) Wait() {
	m.closing.Wait()
}

func (m *Manager) closeAsync(s Session) {
	m.closing.Add(1)
	go func() {
		defer m.closing.Done()
		_ = s.Close()
	}()
}

func (m *Manager) live(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation == gen
}

// wrap guards every handler with the generation it was issued for.
func (m *Manager) wrap(gen uint64) Handlers {
	h := m.handlers
	return Handlers{
		OnSetupComplete: func() {
			if h.OnSetupComplete != nil && m.live(gen) {
				h.OnSetupComplete()
			}
		},
		OnFilteredPrompt: func(p FilteredPrompt) {
			if h.OnFilteredPrompt != nil && m.live(gen) {
				h.OnFilteredPrompt(p)
			}
		},
		OnAudioChunks: func(chunks []Fragment) {
			if h.OnAudioChunks != nil && m.live(gen) {
				h.OnAudioChunks(chunks)
			}
		},
		OnError: func(err error) {
			if h.OnError != nil && m.live(gen) {
				h.OnError(err)
			}
		},
		OnClose: func(err error) {
			if h.OnClose != nil && m.live(gen) {
				h.OnClose(err)
			}
		},
	}
}
