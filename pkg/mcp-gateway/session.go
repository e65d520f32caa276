package mcpgateway

import (
	"errors"
	"sync"

	list "github.com/bahlo/generic-list-go"
	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when addressing a session that was never
// created or has already been destroyed. Callers must not retry.
var ErrSessionNotFound = errors.New("session not found")

// SessionID identifies one SSE stream. It is a random UUID v4.
type SessionID string

// String returns the raw id.
func (id SessionID) String() string {
	return string(id)
}

// EventKind discriminates OutboundEvent.
type EventKind int

const (
	// EventMessage carries a JSON-RPC response or notification.
	EventMessage EventKind = iota
	// EventShutdown tells the stream handler to close the connection.
	EventShutdown
)

// OutboundEvent is one entry of a session queue.
type OutboundEvent struct {
	Kind    EventKind
	Payload any
}

// MessageEvent wraps a JSON-RPC response or notification for delivery.
func MessageEvent(payload any) OutboundEvent {
	return OutboundEvent{Kind: EventMessage, Payload: payload}
}

// ShutdownEvent returns the sentinel that ends a stream.
func ShutdownEvent() OutboundEvent {
	return OutboundEvent{Kind: EventShutdown}
}

// Session is one client's delivery queue. Its queue is guarded by the owning
// registry's mutex.
type Session struct {
	id       SessionID
	registry *Registry
	queue    *list.List[OutboundEvent]
	ready    chan struct{}
	alive    bool
}

// ID returns the session identifier.
func (s *Session) ID() SessionID {
	return s.id
}

// Ready is signalled whenever the queue may have become non-empty.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Pop removes the oldest queued event.
func (s *Session) Pop() (OutboundEvent, bool) {
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()
	front := s.queue.Front()
	if front == nil {
		return OutboundEvent{}, false
	}
	s.queue.Remove(front)
	return front.Value, true
}

// Registry is the single source of truth for session liveness.
type Registry struct {
	mu       sync.Mutex
	sessions map[SessionID]*Session
	newID    func() string
	// closed is set by CloseAll; later sessions start with the sentinel.
	closed bool
}

// NewRegistry returns an empty registry issuing UUID v4 session ids.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[SessionID]*Session),
		newID:    uuid.NewString,
	}
}

// Create registers a new session with an empty queue. After CloseAll the
// session is born with the shutdown sentinel already queued, so its stream
// ends right after the endpoint event.
func (r *Registry) Create() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := SessionID(r.newID())
	for _, taken := r.sessions[id]; taken; _, taken = r.sessions[id] {
		id = SessionID(r.newID())
	}
	s := &Session{
		id:       id,
		registry: r,
		queue:    list.New[OutboundEvent](),
		ready:    make(chan struct{}, 1),
		alive:    true,
	}
	if r.closed {
		s.queue.PushBack(ShutdownEvent())
		s.ready <- struct{}{}
	}
	r.sessions[id] = s
	return s
}

// Enqueue appends ev to the session's queue and wakes its stream.
func (r *Registry) Enqueue(id SessionID, ev OutboundEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || !s.alive {
		return ErrSessionNotFound
	}
	s.queue.PushBack(ev)
	select {
	case s.ready <- struct{}{}:
	default:
	}
	return nil
}

// Destroy removes the session and drops anything still queued. It reports
// whether this call performed the removal.
func (r *Registry) Destroy(id SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.alive = false
	s.queue.Init()
	delete(r.sessions, id)
	return true
}

// Exists reports whether id names a live session.
func (r *Registry) Exists(id SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll queues the shutdown sentinel on every live session and marks the
// registry closed. It returns the number of sessions signalled.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, s := range r.sessions {
		s.queue.PushBack(ShutdownEvent())
		select {
		case s.ready <- struct{}{}:
		default:
		}
	}
	return len(r.sessions)
}
