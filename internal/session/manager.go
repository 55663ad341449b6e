package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/storefront/internal/backend"
	"github.com/sakif/storefront/internal/cart"
	"github.com/sakif/storefront/internal/storage"
)

// StorageFunc returns the durable storage of one visitor.
type StorageFunc func(visitorID string) storage.Storage

// ManagerConfig tunes session eviction.
type ManagerConfig struct {
	// IdleTimeout is how long a session stays cached without requests.
	IdleTimeout time.Duration
	// SweepInterval is how often idle sessions are looked for.
	SweepInterval time.Duration
}

// DefaultManagerConfig returns the production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		IdleTimeout:   30 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// Manager caches live sessions by visitor id. Evicted sessions lose nothing:
// the next request rebuilds them from storage, just like a page reload.
type Manager struct {
	storage StorageFunc
	client  *backend.Client
	locks   *cart.KeyedMutex
	config  ManagerConfig
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewManager creates an empty Manager. Call Start to run the idle sweeper.
func NewManager(st StorageFunc, client *backend.Client, cfg ManagerConfig, logger *slog.Logger) *Manager {
	return &Manager{
		storage:  st,
		client:   client,
		locks:    cart.NewKeyedMutex(),
		config:   cfg,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
}

// Get returns the session of visitorID, building it on first use.
func (m *Manager) Get(ctx context.Context, visitorID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[visitorID]
	if !ok {
		s = New(ctx, visitorID, m.storage(visitorID), m.client, m.locks, m.logger)
		m.sessions[visitorID] = s
		m.logger.Debug("session loaded", slog.String("session", visitorID), slog.Int("live", len(m.sessions)))
	}
	s.Touch(m.now())
	return s
}

// Len returns the number of cached sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep evicts sessions idle for longer than the idle timeout and returns
// how many were evicted.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.config.IdleTimeout)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
	if len(idle) > 0 {
		m.logger.Info("idle sessions evicted", slog.Int("evicted", len(idle)), slog.Int("live", m.Len()))
	}
	return len(idle)
}

// Start runs the idle sweeper in the background.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		m.logger.Info("starting session sweeper",
			slog.Duration("idleTimeout", m.config.IdleTimeout),
			slog.Duration("sweepInterval", m.config.SweepInterval),
		)
		m.wg.Add(1)
		go m.sweeper()
	})
}

// Stop halts the sweeper and drops every cached session.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.logger.Info("shutting down session manager")
		close(m.done)
		m.wg.Wait()

		m.mu.Lock()
		for id, s := range m.sessions {
			s.Close()
			delete(m.sessions, id)
		}
		m.mu.Unlock()
	})
}

func (m *Manager) sweeper() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
