package systems

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

type HandleCacheConfig struct {
	/** @brief Soft cap on the number of entries. 0 means unbounded. */
	MaxSize int
	/** @brief Entries younger than this are never evicted for size. */
	MaxAge time.Duration
}

/** @brief What the cache knows about the raw GPU handle behind one resource name. */
type HandleEntry struct {
	Handle       uint32
	Kind         metadata.ResourceKind
	RefCount     uint32
	FirstSeen    time.Time
	LastAccessed time.Time
	Valid        bool
	Pooled       bool
	MemorySize   uint64
}

type HandleCacheStats struct {
	Entries       int
	Hits          uint64
	Misses        uint64
	Invalidations uint64
	Evictions     uint64
	MemoryBytes   uint64
}

func (s HandleCacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

/**
 * @brief Per-name cache of raw GPU handles. Safe for concurrent use.
 * Invalidated entries keep their slot so the next Cache call refills in place.
 */
type HandleCache struct {
	mu      sync.Mutex
	config  HandleCacheConfig
	entries map[string]*HandleEntry
	stats   HandleCacheStats
	now     func() time.Time
}

func NewHandleCache(config HandleCacheConfig) *HandleCache {
	return &HandleCache{
		config:  config,
		entries: make(map[string]*HandleEntry),
		now:     time.Now,
	}
}

func (hc *HandleCache) String() string {
	return fmt.Sprintf("handle-cache/%d", hc.config.MaxSize)
}

// Cache records the raw handle of resource under name and marks it valid.
func (hc *HandleCache) Cache(name string, resource metadata.ResourceHandle, memorySize uint64) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	now := hc.now()
	e, ok := hc.entries[name]
	if !ok {
		e = &HandleEntry{FirstSeen: now}
		hc.entries[name] = e
	}
	e.Handle = resource.RawID()
	e.Kind = resource.Kind
	e.LastAccessed = now
	e.Valid = true
	e.MemorySize = memorySize
	if hc.config.MaxSize > 0 && len(hc.entries) > hc.config.MaxSize {
		hc.cleanup()
	}
}

// Lookup returns the cached handle for name if the entry is valid.
func (hc *HandleCache) Lookup(name string) (uint32, bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	e, ok := hc.entries[name]
	if !ok || !e.Valid {
		hc.stats.Misses++
		return 0, false
	}
	e.LastAccessed = hc.now()
	hc.stats.Hits++
	return e.Handle, true
}

func (hc *HandleCache) Entry(name string) (HandleEntry, bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	e, ok := hc.entries[name]
	if !ok {
		return HandleEntry{}, false
	}
	return *e, true
}

func (hc *HandleCache) Retain(name string) bool {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	e, ok := hc.entries[name]
	if !ok {
		return false
	}
	e.RefCount++
	return true
}

func (hc *HandleCache) Release(name string) bool {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	e, ok := hc.entries[name]
	if !ok || e.RefCount == 0 {
		core.LogWarn("handle cache: release of '%s' without a reference", name)
		return false
	}
	e.RefCount--
	return true
}

// SetPooled marks name as backed by a pool. Pooled entries are never evicted.
func (hc *HandleCache) SetPooled(name string, pooled bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if e, ok := hc.entries[name]; ok {
		e.Pooled = pooled
	}
}

func (hc *HandleCache) Invalidate(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if e, ok := hc.entries[name]; ok && e.Valid {
		e.Valid = false
		hc.stats.Invalidations++
	}
}

func (hc *HandleCache) InvalidateAll() {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	for _, e := range hc.entries {
		if e.Valid {
			e.Valid = false
			hc.stats.Invalidations++
		}
	}
}

func (hc *HandleCache) Remove(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	delete(hc.entries, name)
}

func (hc *HandleCache) Clear() {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.entries = make(map[string]*HandleEntry)
}

// Cleanup drops unreferenced invalid entries, then evicts the least recently
// accessed entries older than MaxAge while the cache is above MaxSize.
// Returns the number of entries removed.
func (hc *HandleCache) Cleanup() int {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.cleanup()
}

func (hc *HandleCache) cleanup() int {
	removed := 0
	for name, e := range hc.entries {
		if !e.Valid && e.RefCount == 0 && !e.Pooled {
			delete(hc.entries, name)
			removed++
		}
	}
	if hc.config.MaxSize <= 0 || len(hc.entries) <= hc.config.MaxSize {
		hc.stats.Evictions += uint64(removed)
		return removed
	}

	now := hc.now()
	candidates := make([]string, 0, len(hc.entries))
	for name, e := range hc.entries {
		if e.Pooled || now.Sub(e.LastAccessed) < hc.config.MaxAge {
			continue
		}
		candidates = append(candidates, name)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := hc.entries[candidates[i]], hc.entries[candidates[j]]
		if a.LastAccessed.Equal(b.LastAccessed) {
			return candidates[i] < candidates[j]
		}
		return a.LastAccessed.Before(b.LastAccessed)
	})
	for _, name := range candidates {
		if len(hc.entries) <= hc.config.MaxSize {
			break
		}
		delete(hc.entries, name)
		removed++
	}
	hc.stats.Evictions += uint64(removed)
	return removed
}

func (hc *HandleCache) Len() int {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return len(hc.entries)
}

func (hc *HandleCache) Stats() HandleCacheStats {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	s := hc.stats
	s.Entries = len(hc.entries)
	for _, e := range hc.entries {
		s.MemoryBytes += e.MemorySize
	}
	return s
}
