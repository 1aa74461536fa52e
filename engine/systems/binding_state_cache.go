package systems

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

/** @brief Which targets are cached and how often the cache is checked against the GPU. */
type CachePolicy uint8

const (
	/** @brief Only uniform buffers. Validated every frame. */
	CachePolicyMinimal CachePolicy = iota
	/** @brief Uniform and storage buffers. */
	CachePolicyConservative
	/** @brief Buffers and textures. */
	CachePolicyBalanced
	/** @brief Every target. Never validated unless an interval is set explicitly. */
	CachePolicyAggressive
)

func (p CachePolicy) String() string {
	switch p {
	case CachePolicyMinimal:
		return "minimal"
	case CachePolicyConservative:
		return "conservative"
	case CachePolicyBalanced:
		return "balanced"
	}
	return "aggressive"
}

func CachePolicyFromString(s string) (CachePolicy, error) {
	for p := CachePolicyMinimal; p <= CachePolicyAggressive; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return CachePolicyBalanced, fmt.Errorf("string %s is not a valid CachePolicy", s)
}

func (p CachePolicy) Caches(target metadata.BindTarget) bool {
	switch target {
	case metadata.BindTargetUniformBuffer:
		return true
	case metadata.BindTargetStorageBuffer:
		return p >= CachePolicyConservative
	case metadata.BindTargetTexture:
		return p >= CachePolicyBalanced
	case metadata.BindTargetImage:
		return p == CachePolicyAggressive
	}
	return false
}

// ValidationInterval is the default number of frames between GPU validations.
func (p CachePolicy) ValidationInterval() uint64 {
	switch p {
	case CachePolicyMinimal:
		return 1
	case CachePolicyConservative:
		return 10
	case CachePolicyBalanced:
		return 60
	}
	return 0
}

/** @brief What evicts or dirties cache entries besides explicit invalidation. */
type InvalidationStrategy uint8

const (
	/** @brief Invalidated entries are dropped on the spot. */
	InvalidationStrategyImmediate InvalidationStrategy = iota
	/** @brief Entries not re-bound within FrameAgeLimit frames are marked dirty. */
	InvalidationStrategyFrameBased
	/** @brief Entries older than MaxAge are dropped at the frame boundary. */
	InvalidationStrategyTimeBased
	/** @brief Nothing happens unless asked for. */
	InvalidationStrategyManual
)

func (s InvalidationStrategy) String() string {
	switch s {
	case InvalidationStrategyImmediate:
		return "immediate"
	case InvalidationStrategyFrameBased:
		return "frame_based"
	case InvalidationStrategyTimeBased:
		return "time_based"
	}
	return "manual"
}

func InvalidationStrategyFromString(s string) (InvalidationStrategy, error) {
	for st := InvalidationStrategyImmediate; st <= InvalidationStrategyManual; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return InvalidationStrategyImmediate, fmt.Errorf("string %s is not a valid InvalidationStrategy", s)
}

/** @brief The last state applied at one (target, point). */
type BindingState struct {
	Handle         uint32
	Offset         uint64
	Size           uint64
	Active         bool
	Dirty          bool
	LastBoundFrame uint64
	LastBoundAt    time.Time
	BindCount      uint64
	StateHash      uint64
}

type BindingStateCacheConfig struct {
	Policy   CachePolicy
	Strategy InvalidationStrategy
	/** @brief K for the frame based strategy. */
	FrameAgeLimit uint64
	/** @brief Age limit for the time based strategy. */
	MaxAge time.Duration
	/** @brief Frames between GPU validations. 0 uses the policy default. */
	ValidationInterval uint64
	/** @brief Number of active slots compared against the GPU per validation. */
	SampleSlots int
}

func DefaultBindingStateCacheConfig() BindingStateCacheConfig {
	return BindingStateCacheConfig{
		Policy:        CachePolicyBalanced,
		Strategy:      InvalidationStrategyImmediate,
		FrameAgeLimit: 120,
		MaxAge:        5 * time.Second,
		SampleSlots:   4,
	}
}

type BindingStateCacheStats struct {
	Entries              int
	Hits                 uint64
	Misses               uint64
	Invalidations        uint64
	StaleRemovals        uint64
	Validations          uint64
	ValidationMismatches uint64
	AverageBindTime      time.Duration
	TimeSaved            time.Duration
}

func (s BindingStateCacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

/**
 * @brief Remembers what was last applied at each (target, point) so redundant
 * backend calls can be skipped. Not synchronized: the owner serializes access
 * on the GPU thread. One instance must not be shared by two backends.
 */
type BindingStateCache struct {
	config    BindingStateCacheConfig
	entries   map[metadata.TargetKey]*BindingState
	canonical metadata.CanonicalState
	haveCanon bool
	bindTime  core.RollingAverage
	stats     BindingStateCacheStats
	now       func() time.Time
}

func NewBindingStateCache(config BindingStateCacheConfig) *BindingStateCache {
	if config.ValidationInterval == 0 {
		config.ValidationInterval = config.Policy.ValidationInterval()
	}
	return &BindingStateCache{
		config:  config,
		entries: make(map[metadata.TargetKey]*BindingState),
		now:     time.Now,
	}
}

var onceStateCache sync.Once
var globalStateCache *BindingStateCache

// GlobalBindingStateCache is the process-wide cache used by registries that do
// not own one. Every registry using it must drive the same backend.
func GlobalBindingStateCache() *BindingStateCache {
	onceStateCache.Do(func() {
		globalStateCache = NewBindingStateCache(DefaultBindingStateCacheConfig())
	})
	return globalStateCache
}

func (c *BindingStateCache) String() string {
	return fmt.Sprintf("binding-state-cache/%s", c.config.Policy)
}

func (c *BindingStateCache) Config() BindingStateCacheConfig {
	return c.config
}

// Configure changes policy and strategy. Entries of targets the new policy
// does not cache are dropped.
func (c *BindingStateCache) Configure(config BindingStateCacheConfig) {
	if config.ValidationInterval == 0 {
		config.ValidationInterval = config.Policy.ValidationInterval()
	}
	c.config = config
	for k := range c.entries {
		if !config.Policy.Caches(k.Target) {
			delete(c.entries, k)
		}
	}
}

// IsRedundant reports whether binding (handle, offset, size) at key would
// reassert the current state. A true result counts as a hit.
func (c *BindingStateCache) IsRedundant(key metadata.TargetKey, handle uint32, offset, size uint64) bool {
	if !c.config.Policy.Caches(key.Target) {
		c.stats.Misses++
		return false
	}
	e, ok := c.entries[key]
	if !ok || !e.Active || e.Dirty || e.Handle != handle || e.Offset != offset || e.Size != size {
		c.stats.Misses++
		return false
	}
	c.stats.Hits++
	c.stats.TimeSaved += c.bindTime.Average()
	return true
}

// Record stores a successful bind of a resource of kind.
func (c *BindingStateCache) Record(key metadata.TargetKey, kind metadata.ResourceKind, handle uint32, offset, size uint64, frame uint64) {
	if !c.config.Policy.Caches(key.Target) {
		return
	}
	e, ok := c.entries[key]
	if !ok {
		e = &BindingState{}
		c.entries[key] = e
	}
	e.Handle = handle
	e.Offset = offset
	e.Size = size
	e.Active = true
	e.Dirty = false
	e.LastBoundFrame = frame
	e.LastBoundAt = c.now()
	e.BindCount++
	e.StateHash = metadata.StateHash(kind, key.Point, handle, offset, size)
}

// RecordBindTime feeds the measured duration of one backend call.
func (c *BindingStateCache) RecordBindTime(d time.Duration) {
	c.bindTime.Add(d)
}

// RecordCanonicalState remembers the global state the cache entries were applied under.
func (c *BindingStateCache) RecordCanonicalState(state metadata.CanonicalState) {
	c.canonical = state
	c.haveCanon = true
}

func (c *BindingStateCache) Get(key metadata.TargetKey) (BindingState, bool) {
	e, ok := c.entries[key]
	if !ok {
		return BindingState{}, false
	}
	return *e, true
}

func (c *BindingStateCache) invalidate(key metadata.TargetKey, e *BindingState) {
	c.stats.Invalidations++
	if c.config.Strategy == InvalidationStrategyImmediate {
		delete(c.entries, key)
		return
	}
	e.Dirty = true
}

// InvalidateOne forces the next bind at key to reach the backend.
func (c *BindingStateCache) InvalidateOne(key metadata.TargetKey) {
	if e, ok := c.entries[key]; ok {
		c.invalidate(key, e)
	}
}

func (c *BindingStateCache) InvalidateOfKind(target metadata.BindTarget) {
	for k, e := range c.entries {
		if k.Target == target {
			c.invalidate(k, e)
		}
	}
}

func (c *BindingStateCache) InvalidateAll() {
	for k, e := range c.entries {
		c.invalidate(k, e)
	}
	c.haveCanon = false
}

// Forget drops the entry at key without counting an invalidation. Used when the
// slot was explicitly unbound.
func (c *BindingStateCache) Forget(key metadata.TargetKey) {
	delete(c.entries, key)
}

func (c *BindingStateCache) Clear() {
	c.entries = make(map[metadata.TargetKey]*BindingState)
	c.haveCanon = false
}

// NextFrame applies the frame and time based strategies. Returns the number of
// entries aged out.
func (c *BindingStateCache) NextFrame(frame uint64) int {
	aged := 0
	switch c.config.Strategy {
	case InvalidationStrategyFrameBased:
		for _, e := range c.entries {
			if !e.Dirty && frame > e.LastBoundFrame && frame-e.LastBoundFrame > c.config.FrameAgeLimit {
				e.Dirty = true
				aged++
			}
		}
	case InvalidationStrategyTimeBased:
		now := c.now()
		for k, e := range c.entries {
			if now.Sub(e.LastBoundAt) > c.config.MaxAge {
				delete(c.entries, k)
				aged++
			}
		}
	}
	c.stats.StaleRemovals += uint64(aged)
	return aged
}

// ShouldValidate reports whether frame is a validation frame.
func (c *BindingStateCache) ShouldValidate(frame uint64) bool {
	return c.config.ValidationInterval > 0 && frame%c.config.ValidationInterval == 0
}

// sample returns up to SampleSlots active clean keys in a stable order.
func (c *BindingStateCache) sample() []metadata.TargetKey {
	keys := make([]metadata.TargetKey, 0, len(c.entries))
	for k, e := range c.entries {
		if e.Active && !e.Dirty {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Target != keys[j].Target {
			return keys[i].Target < keys[j].Target
		}
		return keys[i].Point < keys[j].Point
	})
	if c.config.SampleSlots > 0 && len(keys) > c.config.SampleSlots {
		keys = keys[:c.config.SampleSlots]
	}
	return keys
}

// Validate compares the canonical state and a sample of slots with what the
// backend reports. Any mismatch invalidates the whole cache and returns true.
func (c *BindingStateCache) Validate(backend renderer.BindingBackend) (bool, error) {
	c.stats.Validations++
	mismatch := false
	if c.haveCanon {
		state, err := backend.QueryCanonicalState()
		if err != nil {
			return false, &core.BackendError{Op: "QueryCanonicalState", Err: err}
		}
		if state != c.canonical {
			core.LogDebug("%s: canonical state changed from %+v to %+v", c, c.canonical, state)
			mismatch = true
		}
	}
	if !mismatch {
		for _, k := range c.sample() {
			h, err := backend.QueryCurrentBinding(k.Target, k.Point)
			if err != nil {
				return false, &core.BackendError{Op: "QueryCurrentBinding", Point: k.Point, Err: err}
			}
			if h != c.entries[k].Handle {
				core.LogDebug("%s: %s holds %d on the GPU, cached %d", c, k, h, c.entries[k].Handle)
				mismatch = true
				break
			}
		}
	}
	if mismatch {
		c.stats.ValidationMismatches++
		core.LogWarn("%s: GPU state diverged from the cache, invalidating %d entries", c, len(c.entries))
		c.InvalidateAll()
	}
	return mismatch, nil
}

func (c *BindingStateCache) Len() int {
	return len(c.entries)
}

// Keys returns every cached key in a stable order.
func (c *BindingStateCache) Keys() []metadata.TargetKey {
	keys := make([]metadata.TargetKey, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Target != keys[j].Target {
			return keys[i].Target < keys[j].Target
		}
		return keys[i].Point < keys[j].Point
	})
	return keys
}

func (c *BindingStateCache) Stats() BindingStateCacheStats {
	s := c.stats
	s.Entries = len(c.entries)
	s.AverageBindTime = c.bindTime.Average()
	return s
}

func (c *BindingStateCache) ResetStats() {
	c.stats = BindingStateCacheStats{}
	c.bindTime.Reset()
}
