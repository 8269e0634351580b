package session

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultFlashTTL bounds how long an unread flash message is kept.
const DefaultFlashTTL = 10 * time.Minute

// FlashStore keeps one-shot messages per session. A message is returned by
// exactly one Pop and then discarded.
type FlashStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

func NewFlashStore(ttl time.Duration) *FlashStore {
	if ttl <= 0 {
		ttl = DefaultFlashTTL
	}
	return &FlashStore{cache: cache.New(ttl, 2*ttl)}
}

// Add queues msg for the session. Empty session IDs are ignored.
func (s *FlashStore) Add(sessionID, msg string) {
	if sessionID == "" || msg == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []string
	if v, ok := s.cache.Get(sessionID); ok {
		msgs = v.([]string)
	}
	// Copy so a slice handed out by Pop is never appended to.
	next := make([]string, len(msgs), len(msgs)+1)
	copy(next, msgs)
	next = append(next, msg)
	s.cache.Set(sessionID, next, cache.DefaultExpiration)
}

// Pop returns the queued messages in insertion order and removes them.
func (s *FlashStore) Pop(sessionID string) []string {
	if sessionID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache.Get(sessionID)
	if !ok {
		return nil
	}
	s.cache.Delete(sessionID)
	return v.([]string)
}

// Len returns the number of sessions with pending messages.
func (s *FlashStore) Len() int {
	return s.cache.ItemCount()
}
