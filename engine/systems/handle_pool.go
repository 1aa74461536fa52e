package systems

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

/** @brief One transient GPU object owned by a pool. */
type PooledResource struct {
	Label    string
	Handle   metadata.ResourceHandle
	InUse    bool
	LastUsed time.Time
}

type HandlePoolStats struct {
	Size     int
	InUse    int
	Created  uint64
	Reused   uint64
	Released uint64
	Dropped  uint64
}

// PoolFactory creates a fresh instance for a pool.
type PoolFactory func() (metadata.ResourceHandle, error)

// PoolDestroyer releases the GPU object of an instance dropped by the pool.
type PoolDestroyer func(metadata.ResourceHandle) error

/**
 * @brief A pool of transient resources of one kind. Acquire and Release may be
 * called from any goroutine.
 */
type HandlePool struct {
	mu      sync.Mutex
	kind    metadata.ResourceKind
	maxSize int
	factory PoolFactory
	destroy PoolDestroyer
	items   []*PooledResource
	stats   HandlePoolStats
	now     func() time.Time
}

func NewHandlePool(kind metadata.ResourceKind, maxSize int, factory PoolFactory, destroy PoolDestroyer) (*HandlePool, error) {
	if factory == nil {
		return nil, fmt.Errorf("func NewHandlePool - a factory is required for %s pools", kind)
	}
	if maxSize <= 0 {
		return nil, fmt.Errorf("func NewHandlePool - maxSize must be > 0")
	}
	return &HandlePool{
		kind:    kind,
		maxSize: maxSize,
		factory: factory,
		destroy: destroy,
		now:     time.Now,
	}, nil
}

func (p *HandlePool) String() string {
	return fmt.Sprintf("handle-pool/%s", p.kind)
}

func (p *HandlePool) Kind() metadata.ResourceKind {
	return p.kind
}

// Acquire returns an idle instance, or creates one while the pool is below its
// size limit.
func (p *HandlePool) Acquire() (metadata.ResourceHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, item := range p.items {
		if !item.InUse {
			item.InUse = true
			item.LastUsed = p.now()
			p.stats.Reused++
			return item.Handle, nil
		}
	}
	if len(p.items) >= p.maxSize {
		return metadata.ResourceHandle{}, &core.CapacityError{What: p.String(), Limit: uint64(p.maxSize), Got: uint64(len(p.items) + 1)}
	}
	h, err := p.factory()
	if err != nil {
		return metadata.ResourceHandle{}, err
	}
	if h.Kind != p.kind {
		return metadata.ResourceHandle{}, &core.TypeMismatchError{Name: p.String(), Expected: p.kind, Got: h.Kind}
	}
	p.items = append(p.items, &PooledResource{
		Label:    uuid.NewString(),
		Handle:   h,
		InUse:    true,
		LastUsed: p.now(),
	})
	p.stats.Created++
	return h, nil
}

func (p *HandlePool) Release(h metadata.ResourceHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, item := range p.items {
		if item.Handle.Equal(h) {
			if !item.InUse {
				return fmt.Errorf("%s: %s released twice", p, h)
			}
			item.InUse = false
			item.LastUsed = p.now()
			p.stats.Released++
			return nil
		}
	}
	return fmt.Errorf("%s: %s is not owned by this pool", p, h)
}

// Owns reports whether h was handed out by this pool.
func (p *HandlePool) Owns(h metadata.ResourceHandle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, item := range p.items {
		if item.Handle.Equal(h) {
			return true
		}
	}
	return false
}

// CleanupOldResources drops idle instances unused for longer than maxAge.
func (p *HandlePool) CleanupOldResources(maxAge time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	kept := p.items[:0]
	dropped := 0
	for _, item := range p.items {
		if !item.InUse && now.Sub(item.LastUsed) > maxAge {
			p.destroyItem(item)
			dropped++
			continue
		}
		kept = append(kept, item)
	}
	p.items = kept
	p.stats.Dropped += uint64(dropped)
	return dropped
}

func (p *HandlePool) destroyItem(item *PooledResource) {
	if p.destroy == nil {
		return
	}
	if err := p.destroy(item.Handle); err != nil {
		core.LogWarn("%s: failed to destroy %s (%s): %s", p, item.Handle, item.Label, err)
	}
}

// Destroy releases every instance, in use or not.
func (p *HandlePool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, item := range p.items {
		p.destroyItem(item)
	}
	p.stats.Dropped += uint64(len(p.items))
	p.items = nil
}

func (p *HandlePool) Stats() HandlePoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Size = len(p.items)
	for _, item := range p.items {
		if item.InUse {
			s.InUse++
		}
	}
	return s
}

/** @brief Identifies a pool: transient buffers of different sizes do not share a pool. */
type PoolKey struct {
	Kind metadata.ResourceKind
	Size uint64
}

/**
 * @brief The pools of one registry, created lazily through a ResourceFactory.
 */
type HandlePools struct {
	mu      sync.Mutex
	factory renderer.ResourceFactory
	maxSize int
	pools   map[PoolKey]*HandlePool
	counter uint64
}

func NewHandlePools(factory renderer.ResourceFactory, maxSize int) *HandlePools {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &HandlePools{
		factory: factory,
		maxSize: maxSize,
		pools:   make(map[PoolKey]*HandlePool),
	}
}

// Pool returns the pool for key, creating it on first use.
func (hp *HandlePools) Pool(key PoolKey) (*HandlePool, error) {
	key.Kind = key.Kind.Element()
	hp.mu.Lock()
	defer hp.mu.Unlock()
	if p, ok := hp.pools[key]; ok {
		return p, nil
	}
	if hp.factory == nil {
		return nil, fmt.Errorf("handle pools: the backend cannot create %s resources: %w", key.Kind, core.ErrUnsupported)
	}
	factory, err := hp.poolFactory(key)
	if err != nil {
		return nil, err
	}
	p, err := NewHandlePool(key.Kind, hp.maxSize, factory, hp.factory.DestroyResource)
	if err != nil {
		return nil, err
	}
	hp.pools[key] = p
	return p, nil
}

func (hp *HandlePools) poolFactory(key PoolKey) (PoolFactory, error) {
	switch {
	case key.Kind.IsBuffer():
		return func() (metadata.ResourceHandle, error) {
			hp.mu.Lock()
			hp.counter++
			name := fmt.Sprintf("pooled_%s_%d", key.Kind, hp.counter)
			hp.mu.Unlock()
			return hp.factory.CreateBuffer(metadata.BufferConfig{Name: name, Kind: key.Kind, Size: key.Size})
		}, nil
	case key.Kind.IsTexture():
		return func() (metadata.ResourceHandle, error) {
			hp.mu.Lock()
			hp.counter++
			name := fmt.Sprintf("pooled_%s_%d", key.Kind, hp.counter)
			hp.mu.Unlock()
			return hp.factory.CreateTexture(metadata.TextureConfig{
				Name:         name,
				TextureType:  key.Kind.TextureType(),
				Width:        1,
				Height:       1,
				ChannelCount: 4,
			})
		}, nil
	}
	return nil, fmt.Errorf("handle pools: %s resources cannot be pooled: %w", key.Kind, core.ErrUnsupported)
}

// Release returns h to whichever pool owns it.
func (hp *HandlePools) Release(h metadata.ResourceHandle) error {
	hp.mu.Lock()
	pools := make([]*HandlePool, 0, len(hp.pools))
	for _, p := range hp.pools {
		pools = append(pools, p)
	}
	hp.mu.Unlock()
	for _, p := range pools {
		if p.Owns(h) {
			return p.Release(h)
		}
	}
	return fmt.Errorf("handle pools: %s is not pooled", h)
}

func (hp *HandlePools) CleanupOldResources(maxAge time.Duration) int {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	n := 0
	for _, p := range hp.pools {
		n += p.CleanupOldResources(maxAge)
	}
	return n
}

func (hp *HandlePools) Destroy() {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	for _, p := range hp.pools {
		p.Destroy()
	}
	hp.pools = make(map[PoolKey]*HandlePool)
}

func (hp *HandlePools) Stats() map[PoolKey]HandlePoolStats {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	out := make(map[PoolKey]HandlePoolStats, len(hp.pools))
	for k, p := range hp.pools {
		out[k] = p.Stats()
	}
	return out
}
