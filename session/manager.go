package session

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"
	"go.pilab.hu/usersync/domain"
	"go.pilab.hu/usersync/internal/metrics"
	"go.pilab.hu/usersync/services"
)

const mirrorTimeout = 2 * time.Second

// Mirror copies each session's resolved user to shared storage.
type Mirror interface {
	Set(ctx context.Context, sessionID string, user *domain.User) error
	Delete(ctx context.Context, sessionID string) error
}

// Session bundles the ambient context of one browser session with its
// bootstrap.
type Session struct {
	ID        string
	Ambient   *Ambient
	Bootstrap *Bootstrap

	stopMirror context.CancelFunc
	mirrorDone chan struct{}
}

func (s *Session) close() {
	s.Bootstrap.Close()
	s.stopMirror()
	<-s.mirrorDone
}

// Manager keeps sessions alive while they are used and closes them after
// the idle TTL.
type Manager struct {
	reconciler services.Reconciler
	mirror     Mirror

	mu       sync.Mutex
	started  bool
	sessions *ttlcache.Cache[string, *Session]
	loops    sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMirror publishes every resolved user change to m.
func WithMirror(m Mirror) ManagerOption {
	return func(mgr *Manager) {
		mgr.mirror = m
	}
}

// NewManager creates a Manager whose sessions expire after idleTTL without
// access.
func NewManager(reconciler services.Reconciler, idleTTL time.Duration, opts ...ManagerOption) *Manager {
	m := &Manager{
		reconciler: reconciler,
		sessions: ttlcache.New(
			ttlcache.WithTTL[string, *Session](idleTTL),
		),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.sessions.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *Session]) {
		item.Value().close()
		metrics.ActiveSessionsGauge.Dec()
		log.Debug().Str("session", item.Key()).Int("reason", int(reason)).Msg("Session closed")
	})

	return m
}

// Start launches the expiry loop until Stop is called.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}
	m.started = true
	go m.sessions.Start()
}

// Stop ends the expiry loop and closes every session. It returns once the
// final mirror writes are done.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		m.sessions.Stop()
		m.started = false
	}

	// Eviction callbacks run on their own goroutines; the mirror loops end
	// only after their session is closed.
	m.sessions.DeleteAll()
	m.loops.Wait()
}

// GetOrCreate returns the session for id, creating it when absent. Access
// extends the idle TTL.
func (m *Manager) GetOrCreate(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item := m.sessions.Get(id); item != nil {
		return item.Value()
	}
	// Closes an expired session the expiry loop has not collected yet.
	m.sessions.Delete(id)

	s := m.newSession(id)
	m.sessions.Set(id, s, ttlcache.DefaultTTL)
	metrics.ActiveSessionsGauge.Inc()
	return s
}

// Get returns the session for id, if it is still alive.
func (m *Manager) Get(id string) (*Session, bool) {
	item := m.sessions.Get(id)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Remove closes and forgets the session.
func (m *Manager) Remove(id string) {
	m.sessions.Delete(id)
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	return m.sessions.Len()
}

func (m *Manager) newSession(id string) *Session {
	ambient := NewAmbient()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:         id,
		Ambient:    ambient,
		Bootstrap:  NewBootstrap(m.reconciler, ambient),
		stopMirror: cancel,
		mirrorDone: make(chan struct{}),
	}

	// Subscribe before the session is handed out so no publish is missed.
	updates := ambient.Watch(ctx)
	m.loops.Add(1)
	go m.mirrorLoop(s, updates)
	return s
}

func (m *Manager) mirrorLoop(s *Session, updates <-chan *domain.User) {
	defer m.loops.Done()
	defer close(s.mirrorDone)

	first := true
	for user := range updates {
		if m.mirror == nil {
			continue
		}
		// Nothing was mirrored yet, so an empty first value needs no delete.
		if first {
			first = false
			if user == nil {
				continue
			}
		}

		mctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		var err error
		if user == nil {
			err = m.mirror.Delete(mctx, s.ID)
		} else {
			err = m.mirror.Set(mctx, s.ID, user)
		}
		cancel()

		if err != nil {
			metrics.MirrorErrorsTotal.Inc()
			log.Warn().Err(err).Str("session", s.ID).Msg("Failed to mirror resolved user")
		}
	}
}
