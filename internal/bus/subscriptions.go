package bus

import "sync"

// subscriptions tracks desired and active topic prefixes for one client.
// Desired survives reconnects; active is cleared on every transport loss
// and rebuilt as subscribe frames are reissued.
type subscriptions struct {
	mu      sync.Mutex
	desired map[string]struct{}
	active  map[string]struct{}
}

func newSubscriptions() *subscriptions {
	return &subscriptions{
		desired: make(map[string]struct{}),
		active:  make(map[string]struct{}),
	}
}

// Add registers a desired prefix. Returns true if newly added.
func (s *subscriptions) Add(prefix string) bool {
	s.mu.Lock()
	_, exists := s.desired[prefix]
	if !exists {
		s.desired[prefix] = struct{}{}
	}
	s.mu.Unlock()
	return !exists
}

// Remove drops a desired prefix. Returns true if it was present.
func (s *subscriptions) Remove(prefix string) bool {
	s.mu.Lock()
	_, ok := s.desired[prefix]
	if ok {
		delete(s.desired, prefix)
		delete(s.active, prefix)
	}
	s.mu.Unlock()
	return ok
}

// MarkActive marks a prefix as subscribed on the current connection.
func (s *subscriptions) MarkActive(prefix string) {
	s.mu.Lock()
	s.active[prefix] = struct{}{}
	s.mu.Unlock()
}

// ClearActive forgets connection-scoped state after a transport loss.
func (s *subscriptions) ClearActive() {
	s.mu.Lock()
	for prefix := range s.active {
		delete(s.active, prefix)
	}
	s.mu.Unlock()
}

// Desired returns the prefixes that must be live on the connection.
func (s *subscriptions) Desired() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.desired))
	for prefix := range s.desired {
		out = append(out, prefix)
	}
	s.mu.Unlock()
	return out
}

// Count returns the number of desired prefixes.
func (s *subscriptions) Count() int {
	s.mu.Lock()
	count := len(s.desired)
	s.mu.Unlock()
	return count
}
