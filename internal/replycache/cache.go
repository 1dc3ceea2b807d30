// Package replycache memoizes agent text replies so near-duplicate inbound
// messages do not re-invoke the expensive reply pipeline. It is an
// optimization only: a cold cache produces identical behavior, just slower.
package replycache

import (
	"strings"
	"sync"
	"time"
	"unicode"
)

const (
	// DefaultTTL bounds how long a reply stays reusable.
	DefaultTTL = 5 * time.Minute
	// DefaultCapacity bounds total entries; one oldest insert is evicted
	// per overflowing Put.
	DefaultCapacity = 256

	// minInputLen skips storing replies to inputs too short to recur
	// meaningfully ("ok", "?").
	minInputLen = 5
	// maxReplyLen skips storing replies unlikely to recur verbatim.
	maxReplyLen = 1000
	// keyPrefixLen truncates the normalized input used as cache key.
	keyPrefixLen = 64
)

type entry struct {
	reply    string
	storedAt time.Time
}

// Cache is a bounded, TTL-limited reply memo keyed by agent + normalized
// input. One mutex guards both the map and the insertion-order list so the
// capacity bookkeeping cannot drift from the contents.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]entry
	order    []string // insertion order, oldest first
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

// New creates a cache with the given TTL and capacity; zero values pick
// the defaults.
func New(ttl time.Duration, capacity int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		entries:  map[string]entry{},
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
}

// Normalize folds a message to its cache form: lower-cased, punctuation
// stripped, whitespace collapsed, truncated to a bounded prefix. Two
// messages that normalize identically share a reply.
func Normalize(message string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range strings.ToLower(strings.TrimSpace(message)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace && b.Len() > 0 {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	out := strings.TrimSpace(b.String())
	if len(out) > keyPrefixLen {
		out = out[:keyPrefixLen]
	}
	return out
}

func key(agentID, message string) string {
	return agentID + "\x00" + Normalize(message)
}

// Get returns a cached reply for the agent and message, if present and
// not expired.
func (c *Cache) Get(agentID, message string) (string, bool) {
	k := key(agentID, message)
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	if !ok {
		return "", false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		c.removeLocked(k)
		return "", false
	}
	return e.reply, true
}

// Put stores a reply. Inputs judged too short and replies judged too long
// are skipped as unlikely to be reusable.
func (c *Cache) Put(agentID, message, reply string) {
	if len(strings.TrimSpace(message)) < minInputLen || len(reply) > maxReplyLen {
		return
	}
	k := key(agentID, message)
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[k]; exists {
		// Refresh in place; insertion order is unchanged, this is FIFO
		// pressure relief, not LRU.
		c.entries[k] = entry{reply: reply, storedAt: c.now()}
		return
	}
	if len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	c.entries[k] = entry{reply: reply, storedAt: c.now()}
	c.order = append(c.order, k)
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) evictOldestLocked() {
	for len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[oldest]; ok {
			delete(c.entries, oldest)
			return
		}
	}
}

func (c *Cache) removeLocked(k string) {
	delete(c.entries, k)
	for i, v := range c.order {
		if v == k {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
