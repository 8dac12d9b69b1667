// Package progress tracks in-flight uploads: which pipeline stage each
// session is in, how far along it is and how long it is expected to take.
package progress

import (
	"sync"
	"time"
)

// Notifier observes applied mutations. It is called outside the registry
// lock; a session with a single writer is reported in mutation order.
type Notifier interface {
	SessionChanged(s Session)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(s Session)

func (f NotifierFunc) SessionChanged(s Session) { f(s) }

type Option func(*Registry)

// WithNotifier registers n to be told about every applied mutation.
func WithNotifier(n Notifier) Option {
	return func(r *Registry) { r.notifier = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry is the concurrent session store. One mutex covers the whole map;
// critical sections only touch session fields.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	notifier Notifier
	now      func() time.Time
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateSession registers an unowned session id in UPLOADING at 0% and
// reports whether it did. An id that is already registered is left untouched.
func (r *Registry) CreateSession(id, fileName string) bool {
	return r.CreateOwnedSession(id, fileName, "")
}

// CreateOwnedSession is CreateSession for a session readable only by owner
// and admins.
func (r *Registry) CreateOwnedSession(id, fileName, owner string) bool {
	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return false
	}
	now := r.now()
	s := &Session{
		ID:        id,
		FileName:  fileName,
		Owner:     owner,
		Stage:     StageUploading,
		Message:   "Upload received",
		StartedAt: now,
		UpdatedAt: now,
	}
	r.sessions[id] = s
	snapshot := s.clone()
	r.mu.Unlock()

	r.notify(snapshot)
	return true
}

// UpdateProgress moves a session to stage at progress percent. A non-nil
// errMsg forces FAILED whatever stage says. Unknown ids, unknown stages and
// sessions that already reached COMPLETE or FAILED are ignored. An unknown
// method leaves the recorded method unchanged.
func (r *Registry) UpdateProgress(id string, stage Stage, progress int, message string, method *Method, errMsg *string) {
	if !stage.Valid() && errMsg == nil {
		return
	}
	if method != nil && !method.Valid() {
		method = nil
	}
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok || s.Stage.Terminal() {
		r.mu.Unlock()
		return
	}
	r.apply(s, stage, progress, message, method, errMsg)
	snapshot := s.clone()
	r.mu.Unlock()

	r.notify(snapshot)
}

// CompleteSession moves the session to COMPLETE at 100% and merges
// finalData into its result.
func (r *Registry) CompleteSession(id string, finalData map[string]any) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok || s.Stage.Terminal() {
		r.mu.Unlock()
		return
	}
	r.apply(s, StageComplete, 100, "Processing complete", nil, nil)
	if len(finalData) > 0 {
		if s.Result == nil {
			s.Result = make(map[string]any, len(finalData))
		}
		for k, v := range finalData {
			s.Result[k] = v
		}
	}
	snapshot := s.clone()
	r.mu.Unlock()

	r.notify(snapshot)
}

// FailSession moves the session to FAILED at 0% and records errMsg.
func (r *Registry) FailSession(id, errMsg string) {
	r.UpdateProgress(id, StageFailed, 0, "Processing failed", nil, &errMsg)
}

// apply mutates s. Callers hold r.mu.
func (r *Registry) apply(s *Session, stage Stage, progress int, message string, method *Method, errMsg *string) {
	progress = clamp(progress)

	if errMsg != nil {
		stage = StageFailed
		e := *errMsg
		s.Error = &e
	}

	if stage == StageFailed {
		progress = 0
	} else if progress < s.Progress {
		progress = s.Progress
	}

	now := r.now()
	s.Stage = stage
	s.Progress = progress
	s.Message = message
	s.UpdatedAt = now
	if method != nil {
		m := *method
		s.Method = &m
	}

	if progress > 0 {
		elapsed := now.Sub(s.StartedAt)
		total := elapsed * 100 / time.Duration(progress)
		s.EstimatedTotal = &total
	}
}

// GetSession returns a copy of the session.
func (r *Registry) GetSession(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// CleanupSession removes the session. Removing an unknown id is a no-op.
func (r *Registry) CleanupSession(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// GetAllSessions returns copies of every session.
func (r *Registry) GetAllSessions() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.clone())
	}
	return out
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) notify(s Session) {
	if r.notifier != nil {
		r.notifier.SessionChanged(s)
	}
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
