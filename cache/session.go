// Package cache holds the two score-cache tiers: a small in-memory
// session tier with a TTL, and a larger SQLite-backed durable tier
// without one. Scores are deterministic per content key, so durable
// entries never go stale; the session tier exists only to keep hot
// lookups off the database.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Stats reports the observable state of a tier.
type Stats struct {
	Size   int   `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

const (
	// DefaultSessionCapacity bounds the in-memory tier.
	DefaultSessionCapacity = 500
	// DefaultSessionTTL is measured from insertion, not last access.
	DefaultSessionTTL = 30 * time.Minute
)

type sessionEntry struct {
	key        string
	score      int
	insertedAt time.Time
}

// Session is the in-memory tier. Entries expire DefaultSessionTTL after
// insertion; overflow evicts the oldest-inserted entry. Safe for
// concurrent use.
type Session struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*list.Element
	order    *list.List // front = oldest-inserted
	hits     int64
	misses   int64
	now      func() time.Time
}

// NewSession returns a session tier with the given capacity and TTL.
// Non-positive capacity or TTL fall back to the defaults.
func NewSession(capacity int, ttl time.Duration) *Session {
	if capacity <= 0 {
		capacity = DefaultSessionCapacity
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Session{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the cached score for key, or ok=false on a miss.
// An expired entry is removed and counts as a miss.
func (s *Session) Get(key string) (score int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, found := s.entries[key]
	if !found {
		s.misses++
		return 0, false
	}
	ent := el.Value.(*sessionEntry)
	if s.now().Sub(ent.insertedAt) > s.ttl {
		s.order.Remove(el)
		delete(s.entries, key)
		s.misses++
		return 0, false
	}
	s.hits++
	return ent.score, true
}

// Set inserts or overwrites key. Re-setting an existing key refreshes
// its insertion time and moves it to the back of the eviction order.
func (s *Session) Set(key string, score int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, found := s.entries[key]; found {
		ent := el.Value.(*sessionEntry)
		ent.score = score
		ent.insertedAt = s.now()
		s.order.MoveToBack(el)
		return
	}

	for s.order.Len() >= s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*sessionEntry).key)
	}

	s.entries[key] = s.order.PushBack(&sessionEntry{
		key:        key,
		score:      score,
		insertedAt: s.now(),
	})
}

// Clear drops all entries. Counters are preserved.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*list.Element)
	s.order.Init()
}

// Size returns the number of entries currently held, expired or not.
func (s *Session) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Stats returns a snapshot of size and hit/miss counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Size: s.order.Len(), Hits: s.hits, Misses: s.misses}
}
