package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned for unknown session IDs.
	ErrNotFound = errors.New("session not found")
	// ErrTooManySessions is returned by Create when the registry is full.
	ErrTooManySessions = errors.New("too many live sessions")
)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithIdleTimeout makes Sweep close sessions not accessed for d. Zero keeps
// sessions until they are closed explicitly.
func WithIdleTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.idleTimeout = d }
}

// WithMaxSessions caps the number of live sessions. Zero means no cap.
func WithMaxSessions(n int) RegistryOption {
	return func(r *Registry) { r.maxSessions = n }
}

type entry struct {
	session  *Session
	lastUsed time.Time
}

// Registry keeps the live sessions of a server. Sessions a client abandons
// without closing are torn down by Sweep once idle for longer than the idle
// timeout.
type Registry struct {
	deps        Dependencies
	logger      *zap.Logger
	idleTimeout time.Duration
	maxSessions int
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewRegistry creates an empty registry whose sessions share deps.
func NewRegistry(deps Dependencies, opts ...RegistryOption) *Registry {
	r := &Registry{
		deps:     deps,
		logger:   deps.Logger.Named("session_registry"),
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create starts a new Idle session.
func (r *Registry) Create() (*Session, error) {
	s := New(uuid.NewString(), r.deps)

	r.mu.Lock()
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		r.mu.Unlock()
		r.logger.Warn("session limit reached", zap.Int("max_sessions", r.maxSessions))
		return nil, ErrTooManySessions
	}
	r.sessions[s.ID()] = &entry{session: s, lastUsed: r.now()}
	r.mu.Unlock()

	r.logger.Debug("session created", zap.String("session_id", s.ID()))
	return s, nil
}

// Get looks a session up by ID and records the access.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.lastUsed = r.now()
	return e.session, nil
}

// Close tears a session down and forgets it.
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	e.session.Close(ctx)
	return nil
}

// Sweep closes every session idle for longer than the idle timeout and
// returns how many it closed.
func (r *Registry) Sweep(ctx context.Context) int {
	if r.idleTimeout <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idleTimeout)

	r.mu.Lock()
	var expired []*Session
	for id, e := range r.sessions {
		if e.lastUsed.Before(cutoff) {
			expired = append(expired, e.session)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.Close(ctx)
	}
	if len(expired) > 0 {
		r.logger.Info("closed idle sessions", zap.Int("count", len(expired)), zap.Duration("idle_timeout", r.idleTimeout))
	}
	return len(expired)
}

// Run sweeps idle sessions every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if r.idleTimeout <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(context.WithoutCancel(ctx))
		}
	}
}

// CloseAll tears every session down. Used on shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range sessions {
		e.session.Close(ctx)
	}
	if len(sessions) > 0 {
		r.logger.Info("closed live sessions", zap.Int("count", len(sessions)))
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
