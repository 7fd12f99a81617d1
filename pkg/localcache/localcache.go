// Package localcache buffers ProbeResults on a Worker Node's local disk so
// that a broker outage does not drop results: every result is durably
// appended before publish is attempted, and replayed on restart if the
// process died before it could be flushed (§4.3).
package localcache

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/guardantio/guardant/internal/telemetry"
	"github.com/guardantio/guardant/pkg/probe"
)

// DefaultCapacity and DefaultMaxBytes bound the cache so a prolonged outage
// degrades by dropping the oldest buffered results rather than exhausting
// disk or memory.
const (
	DefaultCapacity = 100_000
	DefaultMaxBytes = 256 * 1024 * 1024
)

// Append fsyncs the WAL once syncEvery records are unsynced or syncInterval
// has passed since the last sync (§5 Local Cache disk). The check runs only
// inside Append; there is no timer, so records written just before appends
// stop stay unsynced until the next Append or compaction.
const (
	syncInterval = 100 * time.Millisecond
	syncEvery    = 64
)

type record struct {
	ID     string       `json:"id"`
	Result probe.Result `json:"result"`
}

// Cache is a durable, capacity-bounded FIFO of not-yet-published results.
type Cache struct {
	mu       sync.Mutex
	dir      string
	walPath  string
	capacity int
	maxBytes int64

	ring     []record
	walBytes int64

	unsynced int
	lastSync time.Time
}

// Open creates (or reopens, replaying its WAL) a Cache rooted at dir.
func Open(dir string, capacity int, maxBytes int64) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	c := &Cache{
		dir:      dir,
		walPath:  filepath.Join(dir, "localcache.wal"),
		capacity: capacity,
		maxBytes: maxBytes,
		lastSync: time.Now(),
	}
	if err := c.replay(); err != nil {
		return nil, fmt.Errorf("replaying local cache: %w", err)
	}
	telemetry.LocalCacheSize.Set(float64(len(c.ring)))
	return c, nil
}

func (c *Cache) replay() error {
	f, err := os.Open(c.walPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var loaded []record
	for scanner.Scan() {
		var r record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue // tolerate a torn last line from a crash mid-write
		}
		loaded = append(loaded, r)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if len(loaded) > c.capacity {
		loaded = loaded[len(loaded)-c.capacity:]
	}
	c.ring = loaded
	return c.compactLocked()
}

// Append durably enqueues a result. If the cache is at capacity the oldest
// buffered result is dropped to make room.
func (c *Cache) Append(id string, result probe.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := record{ID: id, Result: result}
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding cache record: %w", err)
	}

	f, err := os.OpenFile(c.walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening wal: %w", err)
	}
	n, err := f.Write(append(line, '\n'))
	if err != nil {
		f.Close()
		return fmt.Errorf("appending to wal: %w", err)
	}
	c.unsynced++
	if c.unsynced >= syncEvery || time.Since(c.lastSync) >= syncInterval {
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("fsyncing wal: %w", err)
		}
		c.unsynced = 0
		c.lastSync = time.Now()
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing wal: %w", err)
	}
	c.walBytes += int64(n)

	c.ring = append(c.ring, r)
	dropped := false
	for len(c.ring) > c.capacity {
		c.ring = c.ring[1:]
		dropped = true
	}
	for c.walBytes > c.maxBytes && len(c.ring) > 1 {
		old, _ := json.Marshal(c.ring[0])
		c.walBytes -= int64(len(old) + 1)
		c.ring = c.ring[1:]
		dropped = true
	}
	if dropped || c.walBytes > c.maxBytes {
		if err := c.compactLocked(); err != nil {
			return fmt.Errorf("compacting wal: %w", err)
		}
	}
	if dropped {
		telemetry.LocalCacheDroppedTotal.Inc()
	}
	telemetry.LocalCacheSize.Set(float64(len(c.ring)))
	return nil
}

// Len returns the number of buffered, not-yet-acknowledged results.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ring)
}

// Peek returns up to n oldest buffered records without removing them.
func (c *Cache) Peek(n int) []record {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > len(c.ring) {
		n = len(c.ring)
	}
	out := make([]record, n)
	copy(out, c.ring[:n])
	return out
}

// Ack removes an acknowledged (successfully published) record and compacts
// the WAL so it never grows past what remains buffered.
func (c *Cache) Ack(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, r := range c.ring {
		if r.ID == id {
			c.ring = append(c.ring[:i], c.ring[i+1:]...)
			telemetry.LocalCacheFlushedTotal.Inc()
			telemetry.LocalCacheSize.Set(float64(len(c.ring)))
			return c.compactLocked()
		}
	}
	return nil
}

// compactLocked rewrites the WAL to hold exactly the current ring, bounding
// file size to what's still buffered instead of growing forever.
func (c *Cache) compactLocked() error {
	tmp := c.walPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	var written int64
	w := bufio.NewWriter(f)
	for _, r := range c.ring {
		line, err := json.Marshal(r)
		if err != nil {
			f.Close()
			return err
		}
		n, err := w.Write(append(line, '\n'))
		if err != nil {
			f.Close()
			return err
		}
		written += int64(n)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, c.walPath); err != nil {
		return err
	}
	c.walBytes = written
	c.unsynced = 0
	c.lastSync = time.Now()
	return nil
}
