package httpx

import (
	"sync"

	"github.com/google/uuid"
)

// Continuation carries resource streaming state across requests. A
// resource that cannot finish its reply in one response stores
// position state here and the client fetches the next chunk with the
// continuation token.
type Continuation struct {
	Token string

	// Data is resource-defined position state.
	Data any
}

// ContinuationStore tracks live continuations for one session. Safe
// for concurrent use.
type ContinuationStore struct {
	mu   sync.Mutex
	live map[string]*Continuation
}

// NewContinuationStore creates an empty store.
func NewContinuationStore() *ContinuationStore {
	return &ContinuationStore{live: make(map[string]*Continuation)}
}

// Create registers a new continuation with a random token.
func (s *ContinuationStore) Create(data any) *Continuation {
	c := &Continuation{Token: uuid.NewString(), Data: data}
	s.mu.Lock()
	s.live[c.Token] = c
	s.mu.Unlock()
	return c
}

// Take removes and returns the continuation for token, or nil. A
// continuation is single-use; the resource re-registers if more data
// remains.
func (s *ContinuationStore) Take(token string) *Continuation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.live[token]
	delete(s.live, token)
	return c
}

// Len returns the number of live continuations.
func (s *ContinuationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Clear drops all live continuations.
func (s *ContinuationStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = make(map[string]*Continuation)
}
