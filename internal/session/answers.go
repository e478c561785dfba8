package session

import "sync"

// AnswerStore is the in-memory question → answer mapping for one active
// session. It performs no validation of values against question types;
// that is a UI concern. Unanswered questions are simply absent.
type AnswerStore struct {
	mu      sync.RWMutex
	answers map[string]string
}

// NewAnswerStore creates an empty store, optionally pre-seeded with
// answers restored from the autosave buffer.
func NewAnswerStore(restored map[string]string) *AnswerStore {
	answers := make(map[string]string, len(restored))
	for k, v := range restored {
		answers[k] = v
	}
	return &AnswerStore{answers: answers}
}

// Set overwrites any prior value for the question.
func (s *AnswerStore) Set(questionID, value string) {
	s.mu.Lock()
	s.answers[questionID] = value
	s.mu.Unlock()
}

// Get returns the captured value and whether the question was answered.
func (s *AnswerStore) Get(questionID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.answers[questionID]
	return v, ok
}

// Snapshot returns a copy of the full answer mapping. Mutating the copy
// does not affect the store.
func (s *AnswerStore) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(map[string]string, len(s.answers))
	for k, v := range s.answers {
		snap[k] = v
	}
	return snap
}

// Len returns the number of answered questions.
func (s *AnswerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.answers)
}
