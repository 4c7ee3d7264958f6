// Package session caches derived room keys so the expensive password-based
// derivation runs once per room per expiry window instead of once per
// message. Session mode trades per-message forward secrecy for throughput.
package session

import (
	"sync"
	"time"

	"github.com/star08-web/noughtchat/internal/crypto"
)

const (
	// DefaultTTL is how long a derived key is served before derivation
	// re-runs with a fresh salt.
	DefaultTTL = time.Hour
	// defaultSweepInterval is how often the background sweep drops expired
	// entries that no lookup has touched.
	defaultSweepInterval = time.Hour
)

type entry struct {
	key     []byte
	expires time.Time
}

// Cache maps room ids to derived session keys with a bounded lifetime.
// Entries are shared read-only after creation; replacement on expiry is a
// single map-slot swap, so callers already holding a key are never affected
// by eviction. Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry

	ttl        time.Duration
	iterations int
	now        func() time.Time

	sweepInterval time.Duration
	stop          chan struct{}
	done          chan struct{}
}

// NewCache returns a cache with the production TTL and iteration count.
// now is injected for testability; nil means time.Now.
func NewCache(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries:       make(map[string]*entry),
		ttl:           DefaultTTL,
		iterations:    crypto.DefaultIterations,
		now:           now,
		sweepInterval: defaultSweepInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// NewCacheWithOptions is NewCache with caller-chosen TTL and PBKDF2
// iteration count. Tests use a low count to keep derivation fast.
func NewCacheWithOptions(ttl time.Duration, iterations int, now func() time.Time) *Cache {
	c := NewCache(now)
	c.ttl = ttl
	c.iterations = iterations
	return c
}

// GetOrDerive returns the cached key for the room if present and unexpired;
// otherwise it derives a fresh key with a new random salt, stores it with an
// expiry one TTL out, and returns it.
func (c *Cache) GetOrDerive(roomId, password string) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.entries[roomId]
	c.mu.RUnlock()

	now := c.now()
	if ok && e.expires.After(now) {
		return e.key, nil
	}

	salt, err := crypto.RandomBytes(crypto.SaltSize)
	if err != nil {
		return nil, err
	}
	key, err := crypto.DeriveEncryptionKey(password, salt, c.iterations)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have derived concurrently. Keep whichever entry is
	// already live and unexpired: entries are keyed by room, not by call
	// order, so out-of-order completion settles on a single key.
	if e, ok := c.entries[roomId]; ok && e.expires.After(now) {
		return e.key, nil
	}

	c.entries[roomId] = &entry{key: key, expires: now.Add(c.ttl)}
	return key, nil
}

// Invalidate drops the cached key for a room, forcing the next GetOrDerive
// to re-derive. Used when a room is deleted.
func (c *Cache) Invalidate(roomId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, roomId)
}

// Len reports the number of live entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Run starts the periodic background sweep. Close stops it.
func (c *Cache) Run() {
	go c.sweepLoop()
}

// Close stops the background sweep and waits for it to exit.
func (c *Cache) Close() {
	close(c.stop)
	<-c.done
}

func (c *Cache) sweepLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for roomId, e := range c.entries {
		if !e.expires.After(now) {
			delete(c.entries, roomId)
		}
	}
}
