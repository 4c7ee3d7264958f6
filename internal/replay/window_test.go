package replay

import (
	"strconv"
	"testing"
	"time"

	"github.com/star08-web/noughtchat/internal/crypto"
	"github.com/stretchr/testify/assert"
)

func TestCheckAcceptsThenRejectsDuplicate(t *testing.T) {
	now := time.Now()
	w := NewWindow(func() time.Time { return now })

	err := w.Check("room-a", "msg-1", now)
	assert.NoError(t, err, "expected first sighting to be accepted")

	err = w.Check("room-a", "msg-1", now)
	assert.ErrorIs(t, err, ErrReplayed, "expected an identical second call to fail")
}

func TestCheckScopesByRoom(t *testing.T) {
	now := time.Now()
	w := NewWindow(func() time.Time { return now })

	assert.NoError(t, w.Check("room-a", "msg-1", now))
	assert.NoError(t, w.Check("room-b", "msg-1", now), "expected the same id in a different room to be accepted")
}

func TestCheckRejectsStaleMessage(t *testing.T) {
	now := time.Now()
	w := NewWindow(func() time.Time { return now })

	err := w.Check("room-a", "msg-1", now.Add(-6*time.Minute))
	assert.ErrorIs(t, err, crypto.ErrStale, "expected a message older than the freshness window to be rejected")
	assert.Equal(t, 0, w.Len(), "expected a stale message not to be recorded")
}

func TestForget(t *testing.T) {
	now := time.Now()
	w := NewWindow(func() time.Time { return now })

	assert.NoError(t, w.Check("room-a", "msg-1", now))
	assert.NoError(t, w.Check("room-b", "msg-1", now))

	w.Forget("room-a")
	assert.Equal(t, 1, w.Len(), "expected only room-a entries to be dropped")
	assert.NoError(t, w.Check("room-a", "msg-1", now), "expected forgotten ids to be accepted again")
}

func TestSweepOnSizeBound(t *testing.T) {
	now := time.Now()
	w := NewWindow(func() time.Time { return now })
	w.maxEntries = 4

	// Old but still inside the freshness window, so they are recorded.
	w.maxAge = 2 * time.Hour
	old := now.Add(-90 * time.Minute)
	for i := 0; i < 4; i++ {
		assert.NoError(t, w.Check("room-a", "old-"+strconv.Itoa(i), old))
	}

	// Crossing the size bound triggers the sweep, which drops everything
	// older than the retention horizon.
	assert.NoError(t, w.Check("room-a", "fresh", now))
	assert.Equal(t, 1, w.Len(), "expected the sweep to evict entries past the retention horizon")
}
