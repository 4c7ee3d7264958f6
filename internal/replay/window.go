// Package replay rejects duplicate or stale message identifiers. The window
// is local to each verifying endpoint: it protects a given observer from
// accepting the same message twice, it is not a relay-enforced guarantee.
package replay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/star08-web/noughtchat/internal/crypto"
)

// ErrReplayed means the (room, message id) pair was already accepted once
// within the window. The message is dropped, never retried.
var ErrReplayed = errors.New("message already seen")

const (
	// defaultMaxEntries is the seen-set size that triggers a sweep. Cleanup
	// is amortized over inserts rather than paid per insert.
	defaultMaxEntries = 10_000
	// defaultRetention is how old an entry must be before a sweep drops it.
	defaultRetention = time.Hour
)

type seenKey struct {
	roomId    string
	messageId string
}

// Window is a size-bounded set of recently accepted message identifiers.
// Safe for concurrent use.
type Window struct {
	mu   sync.Mutex
	seen map[seenKey]time.Time

	maxAge     time.Duration
	retention  time.Duration
	maxEntries int
	now        func() time.Time
}

// NewWindow returns a replay window with the production freshness window,
// retention horizon and size bound. now is injected for testability; nil
// means time.Now.
func NewWindow(now func() time.Time) *Window {
	if now == nil {
		now = time.Now
	}
	return &Window{
		seen:       make(map[seenKey]time.Time),
		maxAge:     crypto.DefaultMaxAge,
		retention:  defaultRetention,
		maxEntries: defaultMaxEntries,
		now:        now,
	}
}

// Check records (roomId, messageId) and succeeds if the pair has not been
// seen before and the message is inside the freshness window. Errors wrap
// ErrReplayed or crypto.ErrStale.
func (w *Window) Check(roomId, messageId string, timestamp time.Time) error {
	now := w.now()
	if age := now.Sub(timestamp); age > w.maxAge {
		return fmt.Errorf("%w: message is %s old", crypto.ErrStale, age.Truncate(time.Second))
	}

	key := seenKey{roomId: roomId, messageId: messageId}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[key]; ok {
		return fmt.Errorf("%w: room %q", ErrReplayed, roomId)
	}
	w.seen[key] = timestamp

	if len(w.seen) > w.maxEntries {
		w.sweepLocked(now)
	}
	return nil
}

// Forget drops all recorded identifiers for a room. Used when a room is
// deleted.
func (w *Window) Forget(roomId string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for key := range w.seen {
		if key.roomId == roomId {
			delete(w.seen, key)
		}
	}
}

// Len reports the number of recorded identifiers.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

func (w *Window) sweepLocked(now time.Time) {
	for key, ts := range w.seen {
		if now.Sub(ts) > w.retention {
			delete(w.seen, key)
		}
	}
}
