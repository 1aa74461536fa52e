package systems

import (
	"fmt"

	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

// AcquireTransient takes a pooled resource matching the declaration of name
// and sets it. The instance goes back to its pool on ReleaseTransient, Clear
// or RemoveResource.
func (r *ResourceRegistry) AcquireTransient(name string) (metadata.ResourceHandle, error) {
	if !r.initialized {
		return metadata.ResourceHandle{}, core.ErrNotInitialized
	}
	b, ok := r.bindings[name]
	if !ok {
		return metadata.ResourceHandle{}, &core.UnknownResourceError{Name: name}
	}
	if h, ok := r.transient[name]; ok {
		return h, nil
	}
	pool, err := r.pools.Pool(PoolKey{Kind: b.Declaration.Kind, Size: b.Declaration.ElementSize})
	if err != nil {
		return metadata.ResourceHandle{}, err
	}
	h, err := pool.Acquire()
	if err != nil {
		return metadata.ResourceHandle{}, err
	}
	if b.Declaration.Kind.IsArray() {
		h = h.AsArray()
	}
	if err := r.Set(name, h); err != nil {
		_ = r.pools.Release(h)
		return metadata.ResourceHandle{}, err
	}
	r.transient[name] = h
	r.handleCache.SetPooled(name, true)
	return h, nil
}

// ReleaseTransient returns the pooled resource of name. The binding keeps
// referring to it until the next Set or Clear.
func (r *ResourceRegistry) ReleaseTransient(name string) error {
	h, ok := r.transient[name]
	if !ok {
		return fmt.Errorf("'%s' holds no transient resource: %w", name, core.ErrUnknownResource)
	}
	return r.releaseTransient(name, h)
}

func (r *ResourceRegistry) releaseTransient(name string, h metadata.ResourceHandle) error {
	delete(r.transient, name)
	r.handleCache.SetPooled(name, false)
	if h.Kind.IsArray() {
		h, _ = h.Element(0)
	}
	return r.pools.Release(h)
}

// Pools exposes the transient pools of the registry.
func (r *ResourceRegistry) Pools() *HandlePools {
	return r.pools
}

// SetFrameInstances registers one instance per frame in flight for name and
// sets the current one. Every NextFrame sets the next instance.
func (r *ResourceRegistry) SetFrameInstances(name string, instances ...metadata.ResourceHandle) error {
	if r.frames == nil {
		return fmt.Errorf("frame in flight: %w", core.ErrFeatureDisabled)
	}
	b, ok := r.bindings[name]
	if !ok {
		return &core.UnknownResourceError{Name: name}
	}
	if uint32(len(instances)) != r.frames.FramesInFlight() {
		return &core.CapacityError{What: fmt.Sprintf("frame instances of '%s'", name), Limit: uint64(r.frames.FramesInFlight()), Got: uint64(len(instances))}
	}
	for _, h := range instances {
		if _, err := checkResource(b.Declaration, h); err != nil {
			return err
		}
	}
	if kind := instances[0].Kind; kind.IsArray() {
		elements := make([][]metadata.ResourceHandle, 0)
		for i := 0; i < instances[0].Len(); i++ {
			perFrame := make([]metadata.ResourceHandle, 0, len(instances))
			for _, h := range instances {
				e, ok := h.Element(i)
				if !ok {
					return &core.CapacityError{What: fmt.Sprintf("elements of '%s'", name), Limit: uint64(instances[0].Len()), Got: uint64(h.Len())}
				}
				perFrame = append(perFrame, e)
			}
			elements = append(elements, perFrame)
		}
		if err := r.frames.RegisterArray(name, kind.Element(), elements); err != nil {
			return err
		}
	} else if err := r.frames.Register(name, kind, instances...); err != nil {
		return err
	}
	current, _ := r.frames.Current(name)
	return r.Set(name, current)
}

// CreateFrameInstances creates and registers one buffer per frame in flight
// for a buffer binding.
func (r *ResourceRegistry) CreateFrameInstances(name string) error {
	if r.frames == nil {
		return fmt.Errorf("frame in flight: %w", core.ErrFeatureDisabled)
	}
	if r.factory == nil {
		return fmt.Errorf("frame instances on %s: %w", r.backend.Name(), core.ErrUnsupported)
	}
	b, ok := r.bindings[name]
	if !ok {
		return &core.UnknownResourceError{Name: name}
	}
	d := b.Declaration
	kind := d.Kind.Element()
	if !kind.IsBuffer() || d.Kind.IsArray() {
		return &core.TypeMismatchError{Name: name, Expected: metadata.ResourceKindUniformBuffer, Got: d.Kind}
	}
	size := d.ElementSize
	if size == 0 {
		size = DefaultBufferSize
	}
	err := r.frames.CreateInstances(name, kind, func(frame uint32) (metadata.ResourceHandle, error) {
		h, err := r.factory.CreateBuffer(metadata.BufferConfig{Name: fmt.Sprintf("%s_%d", name, frame), Kind: kind, Size: size})
		if err == nil {
			r.owned = append(r.owned, h)
		}
		return h, err
	})
	if err != nil {
		return err
	}
	current, _ := r.frames.Current(name)
	return r.Set(name, current)
}

// GetCurrent returns the instance of name for the current frame in flight.
func (r *ResourceRegistry) GetCurrent(name string) (metadata.ResourceHandle, bool) {
	if r.frames == nil {
		return metadata.ResourceHandle{}, false
	}
	return r.frames.Current(name)
}
