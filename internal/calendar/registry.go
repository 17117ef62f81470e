package calendar

import (
	"sync"

	"diet-coach/internal/coach"
	"diet-coach/internal/swap"
)

// Session is everything the surfaces hold for one signed-in user.
type Session struct {
	Calendar *Calendar
	Swap     *swap.Flow
}

// Factory creates the session of a user on first use.
type Factory func(userID string) *Session

// Registry owns one Session per user, created lazily and dropped on logout.
type Registry struct {
	factory Factory

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory) *Registry {
	return &Registry{factory: factory, sessions: make(map[string]*Session)}
}

// Get returns the user's session, creating it if needed.
func (r *Registry) Get(userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok {
		s = r.factory(userID)
		r.sessions[userID] = s
	}
	return s
}

// Drop closes and forgets the user's session.
func (r *Registry) Drop(userID string) {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()
	if ok {
		s.Swap.Close()
		s.Calendar.Close()
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SessionOptions configures sessions built by CoachSessions.
type SessionOptions struct {
	Calendar Options
	Swap     swap.Options
	// OnSwapChange is told when a user's swap flow changes on its own.
	OnSwapChange func(userID string, st swap.Status)
}

// CoachSessions builds sessions backed by the coaching backend, acting as each user.
func CoachSessions(client *coach.Client, opts SessionOptions) Factory {
	return func(userID string) *Session {
		uc := client.ForUser(userID)
		cal := New(userID, uc, opts.Calendar)
		swapOpts := opts.Swap
		if opts.OnSwapChange != nil {
			swapOpts.OnChange = func(st swap.Status) { opts.OnSwapChange(userID, st) }
		}
		return &Session{Calendar: cal, Swap: swap.NewFlow(uc, cal, swapOpts)}
	}
}
