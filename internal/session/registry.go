// Package session tracks logical conversation units independently of the
// physical connections that own them. A session survives its connection for a
// bounded grace period so clients can reconnect and reclaim it.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("session not found")
	ErrGenerationInFlight = errors.New("generation already in flight")
)

// Session is a logical conversation unit with exactly one connection owner at
// a time. Ownership may transfer on reconnect but is never shared.
type Session struct {
	ID              string    `json:"session_id"`
	ConnectionID    string    `json:"connection_id,omitempty"`
	PrincipalID     string    `json:"principal_id"`
	ConversationRef string    `json:"conversation_ref,omitempty"`
	EngineRef       string    `json:"engine_ref"`
	IsActive        bool      `json:"is_active"`
	MessageCount    int       `json:"message_count"`
	UnitCount       int       `json:"unit_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// Registry maps session identifiers to session state. Orphaned sessions are
// deleted after the grace period unless the same principal reclaims them.
type Registry struct {
	mu             sync.Mutex
	sessions       map[string]*Session
	byConversation map[string]string
	graceTimers    map[string]*time.Timer
	gracePeriod    time.Duration
	onExpire       func(Session)
}

func NewRegistry(gracePeriod time.Duration) *Registry {
	if gracePeriod <= 0 {
		gracePeriod = 5 * time.Minute
	}
	return &Registry{
		sessions:       make(map[string]*Session),
		byConversation: make(map[string]string),
		graceTimers:    make(map[string]*time.Timer),
		gracePeriod:    gracePeriod,
	}
}

// SetExpireHook registers a callback invoked after a session's grace period
// lapses without a reclaim.
func (r *Registry) SetExpireHook(hook func(Session)) {
	r.mu.Lock()
	r.onExpire = hook
	r.mu.Unlock()
}

func conversationKey(principalID, conversationRef string) string {
	return principalID + "/" + conversationRef
}

// GetOrCreate is idempotent per (connectionID, conversationRef) while the
// owning connection lives. When the conversation belongs to an orphaned
// session of the same principal, ownership transfers and reclaimed is true.
// An empty conversationRef always yields a fresh, non-reclaimable session.
func (r *Registry) GetOrCreate(connectionID, principalID, conversationRef, engineRef string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conversationRef != "" {
		if id, ok := r.byConversation[conversationKey(principalID, conversationRef)]; ok {
			s := r.sessions[id]
			if s.ConnectionID == connectionID {
				return *s, false
			}
			if s.ConnectionID == "" {
				// Orphaned session, same principal: transfer ownership and
				// cancel the pending expiry.
				if t, ok := r.graceTimers[s.ID]; ok {
					t.Stop()
					delete(r.graceTimers, s.ID)
				}
				s.ConnectionID = connectionID
				return *s, true
			}
			// Conversation still owned by a different live connection; fall
			// through to a fresh session rather than sharing ownership.
		}
	}

	s := &Session{
		ID:              newSessionID(connectionID, conversationRef),
		ConnectionID:    connectionID,
		PrincipalID:     principalID,
		ConversationRef: conversationRef,
		EngineRef:       engineRef,
		CreatedAt:       time.Now().UTC(),
	}
	r.sessions[s.ID] = s
	if conversationRef != "" {
		r.byConversation[conversationKey(principalID, conversationRef)] = s.ID
	}
	return *s, false
}

func newSessionID(connectionID, conversationRef string) string {
	if conversationRef == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(connectionID+"/"+conversationRef)).String()
}

func (r *Registry) Get(sessionID string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *s, nil
}

// StartGeneration marks a generation in flight and counts the message. A
// session runs at most one generation at a time; a second start while one is
// in flight fails with ErrGenerationInFlight.
func (r *Registry) StartGeneration(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.IsActive {
		return ErrGenerationInFlight
	}
	s.IsActive = true
	s.MessageCount++
	return nil
}

// FinishGeneration clears the in-flight flag and accumulates consumed units.
// Safe to call after the session has expired.
func (r *Registry) FinishGeneration(sessionID string, units int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	s.IsActive = false
	if units > 0 {
		s.UnitCount += units
	}
}

// OrphanByConnection clears ownership of every session owned by connectionID,
// forces in-flight flags off, and starts the grace-period countdown.
func (r *Registry) OrphanByConnection(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.ConnectionID != connectionID {
			continue
		}
		s.ConnectionID = ""
		s.IsActive = false
		id := s.ID
		r.graceTimers[id] = time.AfterFunc(r.gracePeriod, func() {
			r.expire(id)
		})
	}
}

func (r *Registry) expire(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok && s.ConnectionID == "" {
		delete(r.sessions, sessionID)
		delete(r.graceTimers, sessionID)
		if s.ConversationRef != "" {
			// The conversation index may already point at a newer session
			// for the same conversation; only clear our own entry.
			key := conversationKey(s.PrincipalID, s.ConversationRef)
			if r.byConversation[key] == sessionID {
				delete(r.byConversation, key)
			}
		}
	} else {
		ok = false
	}
	hook := r.onExpire
	var expired Session
	if ok {
		expired = *s
	}
	r.mu.Unlock()

	if ok && hook != nil {
		hook(expired)
	}
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops all pending grace timers.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.graceTimers {
		t.Stop()
		delete(r.graceTimers, id)
	}
}
