package headless

import (
	"fmt"

	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

func (b *Backend) CreateBuffer(config metadata.BufferConfig) (metadata.ResourceHandle, error) {
	if config.Size == 0 {
		return metadata.ResourceHandle{}, fmt.Errorf("buffer %s: size must be greater than 0", config.Name)
	}
	if len(config.Data) > 0 && uint64(len(config.Data)) > config.Size {
		return metadata.ResourceHandle{}, &core.CapacityError{What: "buffer data", Limit: config.Size, Got: uint64(len(config.Data))}
	}
	id := b.names.Acquire(config.Name)

	var h metadata.ResourceHandle
	switch config.Kind.Element() {
	case metadata.ResourceKindUniformBuffer:
		h = metadata.NewUniformBuffer(id, 0, config.Size)
	case metadata.ResourceKindStorageBuffer:
		h = metadata.NewStorageBuffer(id, 0, config.Size)
	default:
		_ = b.names.Release(id)
		return metadata.ResourceHandle{}, &core.TypeMismatchError{Name: config.Name, Expected: metadata.ResourceKindUniformBuffer, Got: config.Kind}
	}

	b.mu.Lock()
	b.objects[id] = h
	b.mu.Unlock()
	return h, nil
}

func (b *Backend) CreateTexture(config metadata.TextureConfig) (metadata.ResourceHandle, error) {
	if config.Width == 0 || config.Height == 0 {
		return metadata.ResourceHandle{}, fmt.Errorf("texture %s: invalid dimensions %dx%d", config.Name, config.Width, config.Height)
	}
	id := b.names.Acquire(config.Name)

	h := metadata.NewTexture2D(id)
	if config.TextureType == metadata.TextureTypeCube {
		h = metadata.NewTextureCube(id)
	}
	h.Texture.Width = config.Width
	h.Texture.Height = config.Height

	b.mu.Lock()
	b.objects[id] = h
	b.mu.Unlock()
	return h, nil
}

// DestroyResource deletes every object the handle references. Deleting a bound
// object unbinds it from every point, like GL does for the current context.
func (b *Backend) DestroyResource(handle metadata.ResourceHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < handle.Len(); i++ {
		e, _ := handle.Element(i)
		id := e.RawID()
		if _, ok := b.objects[id]; !ok {
			return fmt.Errorf("destroy %s: unknown object %d", handle, id)
		}
		delete(b.objects, id)
		if err := b.names.Release(id); err != nil {
			return err
		}
		for k, s := range b.slots {
			if s.handle == id {
				delete(b.slots, k)
			}
		}
	}
	return nil
}

// Live reports the number of objects created and not yet destroyed.
func (b *Backend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}
