package latent

import (
	"container/list"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nmxmxh/marionette/internal/utils"
)

// minCacheCapacity is the floor for the memory tier.
const minCacheCapacity = 100

// blobExt is the on-disk entry suffix: brotli-compressed capnp ContextBlob.
const blobExt = ".ctx.br"

// Cache is the two-tier context store. The memory tier is a bounded LRU;
// the disk tier holds one file per fingerprint, written atomically
// (temp + rename). Get promotes disk hits into memory. Pending
// computations never appear here: only completed contexts are put.
type Cache struct {
	capacity int
	dir      string
	logger   *utils.Logger

	mu        sync.Mutex
	entries   map[string]*list.Element
	lru       *list.List
	hits      uint64
	misses    uint64
	diskHits  uint64
	evictions uint64
}

type cacheEntry struct {
	key string
	ctx *Context
}

// CacheStats is a point-in-time counter snapshot.
type CacheStats struct {
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	DiskHits  uint64 `json:"disk_hits"`
	Evictions uint64 `json:"evictions"`
}

// NewCache builds a cache over dir with the given memory capacity
// (floored at 100).
func NewCache(capacity int, dir string, logger *utils.Logger) *Cache {
	if capacity < minCacheCapacity {
		capacity = minCacheCapacity
	}
	if logger == nil {
		logger = utils.DefaultLogger("context-cache")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("Cache dir unavailable", utils.String("dir", dir), utils.Err(err))
	}
	return &Cache{
		capacity: capacity,
		dir:      dir,
		logger:   logger,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// FilePath returns the disk location for a fingerprint.
func (c *Cache) FilePath(fingerprint string) string {
	return filepath.Join(c.dir, DiskKey(fingerprint)+blobExt)
}

// Get looks the fingerprint up, memory tier first.
func (c *Cache) Get(fingerprint string) (*Context, bool) {
	c.mu.Lock()
	if elem, ok := c.entries[fingerprint]; ok {
		c.lru.MoveToFront(elem)
		c.hits++
		ctx := elem.Value.(*cacheEntry).ctx.Clone()
		c.mu.Unlock()
		return ctx, true
	}
	c.mu.Unlock()

	// Disk tier. Reads happen outside the lock: decompression is slow and
	// a concurrent Put of the same key is harmless.
	path := c.FilePath(fingerprint)
	data, err := os.ReadFile(path)
	if err != nil {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}
	ctx, err := DecodeBlob(data)
	if err != nil {
		c.logger.Warn("Corrupt cache entry", utils.String("path", path), utils.Err(err))
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}
	ctx.Fingerprint = fingerprint
	ctx.CacheFile = path

	c.mu.Lock()
	c.diskHits++
	c.insertLocked(fingerprint, ctx)
	c.mu.Unlock()
	return ctx.Clone(), true
}

// Put persists the context to disk and inserts it into memory. Idempotent:
// re-putting a fingerprint refreshes recency and rewrites the same bytes.
func (c *Cache) Put(ctx *Context) error {
	if ctx == nil || ctx.Fingerprint == "" {
		return fmt.Errorf("cache put without fingerprint")
	}

	path := c.FilePath(ctx.Fingerprint)
	data, err := EncodeBlob(ctx, time.Now())
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit cache entry: %w", err)
	}

	stored := ctx.Clone()
	stored.CacheFile = path

	c.mu.Lock()
	c.insertLocked(ctx.Fingerprint, stored)
	c.mu.Unlock()

	ctx.CacheFile = path
	return nil
}

// insertLocked adds or refreshes an entry and evicts past capacity.
func (c *Cache) insertLocked(key string, ctx *Context) {
	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheEntry).ctx = ctx
		c.lru.MoveToFront(elem)
		return
	}

	elem := c.lru.PushFront(&cacheEntry{key: key, ctx: ctx})
	c.entries[key] = elem

	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
			c.evictions++
		}
	}
}

// Clear drops the memory tier. Disk entries stay until Purge.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
}

// Purge removes every disk entry.
func (c *Cache) Purge() error {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*"+blobExt))
	if err != nil {
		return err
	}
	var firstErr error
	for _, path := range matches {
		if err := os.Remove(path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats returns the counter snapshot.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Size:      c.lru.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		DiskHits:  c.diskHits,
		Evictions: c.evictions,
	}
}
