package badge

import (
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// BackupEntry is one badge's last known-good stash, kept process-wide so
// a badge that loses its on-device stash register (firmware clobbers it
// whenever another packet arrives on attribute 3) can still be recognised.
type BackupEntry struct {
	Data              []byte
	CapturedMonotonic time.Time
	FromBackup        bool
	Displaced         bool
}

// BackupCache is the process-wide stash-backup cache keyed by badge id.
// Entries are kept in an ordered map so a diagnostic dump lists badges in
// first-seen order instead of Go's randomized map order. The original
// cooperative single-thread implementation needed no locking; each badge
// here runs on its own goroutine, so the cache does.
type BackupCache struct {
	mu      sync.Mutex
	entries *orderedmap.OrderedMap[string, BackupEntry]
}

// NewBackupCache returns an empty cache.
func NewBackupCache() *BackupCache {
	return &BackupCache{entries: orderedmap.New[string, BackupEntry]()}
}

// Record stores data as the badge's latest known-good stash, captured at
// now, following a successful read or write.
func (c *BackupCache) Record(badgeID string, data []byte, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Set(badgeID, BackupEntry{Data: append([]byte(nil), data...), CapturedMonotonic: now})
}

// MarkDisplaced flags the badge's backup entry as displaced: a non-stash
// packet (mode, speed, brightness, glyphs, frames) was written to
// attribute 3, which the device's firmware is known to clobber the stash
// register on.
func (c *BackupCache) MarkDisplaced(badgeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Get(badgeID)
	if !ok {
		return
	}
	e.Displaced = true
	c.entries.Set(badgeID, e)
}

// Lookup returns the badge's backup entry with FromBackup set, for use
// when a live read comes back with no valid stash.
func (c *BackupCache) Lookup(badgeID string) (BackupEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Get(badgeID)
	if !ok {
		return BackupEntry{}, false
	}
	e.FromBackup = true
	return e, true
}
