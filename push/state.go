package push

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// uploadState is the mutable state of one file upload, shared between the
// request handler, the index-echo handler and the observer. The condition
// variable is signalled under the mutex that guards err, completed and
// closed, so a waiter can never miss a wakeup.
type uploadState struct {
	mu   sync.Mutex
	cond *sync.Cond

	sent      mapset.Set[string]
	err       error
	completed bool
	closed    bool
}

func newUploadState() *uploadState {
	s := &uploadState{
		sent: mapset.NewSet[string](),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *uploadState) addSent(hash string) {
	s.sent.Add(hash)
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// fail records an upload error. The first error wins; later ones are dropped.
func (s *uploadState) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// complete flips the completed flag. The transition is monotone.
func (s *uploadState) complete() {
	s.mu.Lock()
	s.completed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *uploadState) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *uploadState) isCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

func (s *uploadState) snapshot() (err error, completed, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err, s.completed, s.closed
}

// wait parks the caller on the progress condition until the next event and
// returns the state observed on wakeup.
func (s *uploadState) wait() (err error, completed, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil || s.completed || s.closed {
		return s.err, s.completed, s.closed
	}
	s.cond.Wait()
	return s.err, s.completed, s.closed
}
