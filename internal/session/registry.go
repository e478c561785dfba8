package session

import (
	"sync"

	"github.com/google/uuid"
)

type registryKey struct {
	studentID int64
	examID    uuid.UUID
}

// Registry holds the live attempt controllers, at most one per
// (student, exam) pair. A resume from a second device replaces the
// previous controller, which is torn down so its timer cannot fire for a
// session that no longer owns the attempt.
type Registry struct {
	mu       sync.Mutex
	sessions map[registryKey]*Controller
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[registryKey]*Controller)}
}

// Attach registers a controller, replacing and tearing down any previous
// one for the same pair. Returns the replaced controller, if any.
func (r *Registry) Attach(studentID int64, examID uuid.UUID, c *Controller) *Controller {
	k := registryKey{studentID: studentID, examID: examID}

	r.mu.Lock()
	prev := r.sessions[k]
	r.sessions[k] = c
	r.mu.Unlock()

	if prev != nil {
		prev.Teardown()
	}
	return prev
}

// Get returns the live controller for the pair, if any.
func (r *Registry) Get(studentID int64, examID uuid.UUID) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[registryKey{studentID: studentID, examID: examID}]
	return c, ok
}

// Detach tears down and removes the controller for the pair. The
// server-side assignment status is untouched; an in_progress attempt can
// be resumed later.
func (r *Registry) Detach(studentID int64, examID uuid.UUID) {
	k := registryKey{studentID: studentID, examID: examID}

	r.mu.Lock()
	c := r.sessions[k]
	delete(r.sessions, k)
	r.mu.Unlock()

	if c != nil {
		c.Teardown()
	}
}

// Len returns the number of live controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
