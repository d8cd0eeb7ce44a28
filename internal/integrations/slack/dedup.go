package slackbot

import (
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DedupKey identifies one inbound message. Slack redelivers events it
// considers unacknowledged, and a mention in a DM can arrive both as
// app_mention and message; the key collapses those.
func DedupKey(channel, ts, text string) string {
	return channel + ":" + ts + ":" + strconv.FormatUint(xxhash.Sum64String(text), 16)
}

// DedupStore remembers keys it has seen. With a zero TTL it never forgets;
// otherwise entries older than the TTL are swept lazily on insert.
type DedupStore struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	seen      map[string]time.Time
	lastSweep time.Time
}

func NewDedupStore(ttl time.Duration) *DedupStore {
	return &DedupStore{
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

// FirstSeen records key and reports whether it was new. Concurrent calls
// with the same key return true exactly once.
func (s *DedupStore) FirstSeen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.ttl > 0 && now.Sub(s.lastSweep) >= s.ttl {
		for k, at := range s.seen {
			if now.Sub(at) >= s.ttl {
				delete(s.seen, k)
			}
		}
		s.lastSweep = now
	}

	if at, ok := s.seen[key]; ok && (s.ttl == 0 || now.Sub(at) < s.ttl) {
		return false
	}
	s.seen[key] = now
	return true
}

func (s *DedupStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *DedupStore) Reset() {
	s.mu.Lock()
	s.seen = make(map[string]time.Time)
	s.lastSweep = time.Time{}
	s.mu.Unlock()
}
