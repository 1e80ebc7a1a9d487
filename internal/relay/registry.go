package relay

import "sync"

// Registry maps recipient ids to their live session. It holds at most one
// session per recipient; registering again supersedes the previous session
// without closing it.
type Registry struct {
	mu          sync.RWMutex
	byRecipient map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byRecipient: make(map[string]*Session),
	}
}

// Register maps s.RecipientID to s and returns the session it superseded, if any.
func (r *Registry) Register(s *Session) (superseded *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.byRecipient[s.RecipientID]
	r.byRecipient[s.RecipientID] = s
	if prev == s {
		return nil
	}
	return prev
}

// Unregister removes the entry for s's recipient if it still maps to s and
// returns the recipient ids that were removed. A session that was already
// superseded removes nothing, so a late close cannot evict its successor.
func (r *Registry) Unregister(s *Session) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.byRecipient[s.RecipientID]; !ok || current != s {
		return nil
	}
	delete(r.byRecipient, s.RecipientID)
	return []string{s.RecipientID}
}

// Lookup returns the live session for recipientID.
func (r *Registry) Lookup(recipientID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byRecipient[recipientID]
	return s, ok
}

// IsConnected reports whether recipientID has a live session.
func (r *Registry) IsConnected(recipientID string) bool {
	_, ok := r.Lookup(recipientID)
	return ok
}

// RecipientOf returns the recipient id currently mapped to s.
func (r *Registry) RecipientOf(s *Session) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if current, ok := r.byRecipient[s.RecipientID]; ok && current == s {
		return s.RecipientID, true
	}
	return "", false
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRecipient)
}
