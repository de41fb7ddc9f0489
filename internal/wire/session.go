package wire

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/matthewbaird/ganyclient/internal/remote"
)

// Session holds per-connection server state: the hosted remote.Session
// and the handles issued on it.
type Session struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`

	remote remote.Session

	mu      sync.Mutex
	objects map[string]remote.Object
	fields  map[string]remote.Field
	resumes map[string]remote.ResumeFunc
}

// NewSession wraps rs in a new session.
func NewSession(rs remote.Session) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.New().String(),
		CreatedAt:    now,
		LastActiveAt: now,
		remote:       rs,
		objects:      make(map[string]remote.Object),
		fields:       make(map[string]remote.Field),
		resumes:      make(map[string]remote.ResumeFunc),
	}
}

// Touch updates the last activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.LastActiveAt = time.Now()
	s.mu.Unlock()
}

// IsExpired returns true if the session has exceeded the given max age.
func (s *Session) IsExpired(maxAge time.Duration) bool {
	return time.Since(s.CreatedAt) > maxAge
}

// IsIdle returns true if the session has been idle longer than the timeout.
func (s *Session) IsIdle(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.LastActiveAt) > timeout
}

func (s *Session) putObject(o remote.Object) *ObjectRef {
	if o == nil {
		return nil
	}
	h := uuid.New().String()
	s.mu.Lock()
	s.objects[h] = o
	s.mu.Unlock()
	return &ObjectRef{Handle: h, Invid: o.Invid(), Editable: o.Editable()}
}

func (s *Session) object(h string) (remote.Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[h]
	return o, ok
}

func (s *Session) putField(f remote.Field) FieldRef {
	h := uuid.New().String()
	s.mu.Lock()
	s.fields[h] = f
	s.mu.Unlock()
	return FieldRef{Handle: h, ID: f.ID()}
}

func (s *Session) field(h string) (remote.Field, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fields[h]
	return f, ok
}

func (s *Session) putResume(fn remote.ResumeFunc) string {
	h := uuid.New().String()
	s.mu.Lock()
	s.resumes[h] = fn
	s.mu.Unlock()
	return h
}

// takeResume returns the continuation for h and forgets it. Each wizard
// step can be answered once.
func (s *Session) takeResume(h string) (remote.ResumeFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn, ok := s.resumes[h]
	delete(s.resumes, h)
	return fn, ok
}

// releaseHandles drops every object and field handle. Called when the
// transaction they were issued in ends.
func (s *Session) releaseHandles() {
	s.mu.Lock()
	n := len(s.objects) + len(s.fields)
	clear(s.objects)
	clear(s.fields)
	s.mu.Unlock()
	if n > 0 {
		glog.V(2).Infof("wire: session %s released %d handles", s.ID, n)
	}
}

// close aborts any open transaction on the hosted session.
func (s *Session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.remote.AbortTransaction(ctx); err != nil {
		glog.V(2).Infof("wire: session %s: abort on close: %v", s.ID, err)
	}
}

// Manager handles session creation, lookup, and cleanup.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxAge      time.Duration
	idleTimeout time.Duration
}

// NewManager creates a session manager with the given timeouts.
func NewManager(maxAge, idleTimeout time.Duration) *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		maxAge:      maxAge,
		idleTimeout: idleTimeout,
	}
}

// Create registers a new session hosting rs.
func (m *Manager) Create(rs remote.Session) *Session {
	s := NewSession(rs)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get retrieves a session by ID. Returns nil if not found or expired.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	if s.IsExpired(m.maxAge) || s.IsIdle(m.idleTimeout) {
		m.Remove(id)
		return nil
	}
	return s
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Remove deletes a session and aborts its transaction.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.close()
	}
}

// Cleanup removes all expired and idle sessions. Called periodically.
func (m *Manager) Cleanup() {
	var stale []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.IsExpired(m.maxAge) || s.IsIdle(m.idleTimeout) {
			delete(m.sessions, id)
			stale = append(stale, s)
		}
	}
	m.mu.Unlock()
	for _, s := range stale {
		s.close()
	}
	if len(stale) > 0 {
		glog.Infof("wire: cleaned up %d stale sessions", len(stale))
	}
}
