package dedup

import "sync"

// DefaultCapacity bounds every in-memory key set
const DefaultCapacity = 1000

// BoundedSet is a thread-safe set that evicts its oldest keys once capacity is exceeded
type BoundedSet struct {
	mu       sync.Mutex
	capacity int
	keys     map[string]struct{}
	order    []string
}

func NewBoundedSet(capacity int) *BoundedSet {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &BoundedSet{
		capacity: capacity,
		keys:     make(map[string]struct{}, capacity),
		order:    make([]string, 0, capacity),
	}
}

func (s *BoundedSet) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}

// Add inserts key and reports whether it was new
func (s *BoundedSet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	s.order = append(s.order, key)

	for len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.keys, oldest)
	}
	return true
}

func (s *BoundedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
