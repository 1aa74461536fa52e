package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

// CreateBuffer creates a host visible buffer and copies config.Data into it.
func (b *DescriptorBackend) CreateBuffer(config metadata.BufferConfig) (metadata.ResourceHandle, error) {
	var usage vk.BufferUsageFlagBits
	var h metadata.ResourceHandle
	switch config.Kind {
	case metadata.ResourceKindUniformBuffer:
		usage = vk.BufferUsageUniformBufferBit
		h = metadata.NewUniformBuffer(0, 0, config.Size)
	case metadata.ResourceKindStorageBuffer:
		usage = vk.BufferUsageStorageBufferBit
		h = metadata.NewStorageBuffer(0, 0, config.Size)
	default:
		return h, &core.TypeMismatchError{Name: config.Name, Expected: metadata.ResourceKindUniformBuffer, Got: config.Kind}
	}
	if config.Size == 0 {
		return h, fmt.Errorf("buffer '%s' has size 0", config.Name)
	}
	if uint64(len(config.Data)) > config.Size {
		return h, &core.CapacityError{What: "buffer '" + config.Name + "' data", Limit: config.Size, Got: uint64(len(config.Data))}
	}
	if b.context == nil {
		return h, fmt.Errorf("CreateBuffer on %s: %w", b.Name(), core.ErrUnsupported)
	}

	obj := &vulkanObject{handle: h, owned: true}
	err := b.locks.SafeCall(BufferManagement, func() error {
		return b.allocateBuffer(obj, usage, config)
	})
	if err != nil {
		return metadata.ResourceHandle{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	h = b.register(obj, config.Name)
	core.LogDebug("%s: created buffer '%s' (%d bytes) as %d", b.Name(), config.Name, config.Size, h.RawID())
	return h, nil
}

func (b *DescriptorBackend) allocateBuffer(obj *vulkanObject, usage vk.BufferUsageFlagBits, config metadata.BufferConfig) error {
	dev := b.context.Device.LogicalDevice
	res := vk.CreateBuffer(dev, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Usage:       vk.BufferUsageFlags(usage),
		Size:        vk.DeviceSize(config.Size),
		SharingMode: vk.SharingModeExclusive,
	}, b.context.Allocator, &obj.buffer)
	if err := vkCheck("CreateBuffer", 0, res); err != nil {
		return err
	}

	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(dev, obj.buffer, &memReqs)
	memReqs.Deref()

	index := b.context.FindMemoryIndex(memReqs.MemoryTypeBits,
		uint32(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if index < 0 {
		vk.DestroyBuffer(dev, obj.buffer, b.context.Allocator)
		return fmt.Errorf("no host visible memory for buffer '%s': %w", config.Name, core.ErrBackendFailure)
	}

	err := b.locks.SafeCall(MemoryManagement, func() error {
		res := vk.AllocateMemory(dev, &vk.MemoryAllocateInfo{
			SType:           vk.StructureTypeMemoryAllocateInfo,
			AllocationSize:  memReqs.Size,
			MemoryTypeIndex: uint32(index),
		}, b.context.Allocator, &obj.memory)
		return vkCheck("AllocateMemory", 0, res)
	})
	if err != nil {
		vk.DestroyBuffer(dev, obj.buffer, b.context.Allocator)
		return err
	}
	if err := vkCheck("BindBufferMemory", 0, vk.BindBufferMemory(dev, obj.buffer, obj.memory, 0)); err != nil {
		b.destroyObject(obj)
		return err
	}

	if len(config.Data) > 0 {
		var data unsafe.Pointer
		if err := vkCheck("MapMemory", 0, vk.MapMemory(dev, obj.memory, 0, vk.DeviceSize(len(config.Data)), 0, &data)); err != nil {
			b.destroyObject(obj)
			return err
		}
		if n := vk.Memcopy(data, config.Data); n != len(config.Data) {
			core.LogWarn("buffer '%s': copied %d of %d bytes", config.Name, n, len(config.Data))
		}
		vk.UnmapMemory(dev, obj.memory)
	}
	return nil
}

// CreateTexture is not available, textures come from RegisterTexture.
func (b *DescriptorBackend) CreateTexture(config metadata.TextureConfig) (metadata.ResourceHandle, error) {
	// TODO: upload texture pixels through a staging buffer and a transfer queue.
	return metadata.ResourceHandle{}, fmt.Errorf("CreateTexture '%s' on %s: %w", config.Name, b.Name(), core.ErrUnsupported)
}

// DestroyResource forgets every element of handle and frees the objects the
// backend created. Slots holding them are unbound.
func (b *DescriptorBackend) DestroyResource(handle metadata.ResourceHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < handle.Len(); i++ {
		e, _ := handle.Element(i)
		id := e.RawID()
		obj, err := b.object(id)
		if err != nil {
			return err
		}
		for k, s := range b.slots {
			if s.handle == id {
				b.set(k, slot{})
			}
		}
		b.destroyObject(obj)
		delete(b.objects, id)
		if err := b.names.Release(id); err != nil {
			core.LogWarn("%s: %s", b.Name(), err)
		}
	}
	return nil
}

func (b *DescriptorBackend) destroyObject(obj *vulkanObject) {
	if !obj.owned || b.context == nil {
		return
	}
	dev := b.context.Device.LogicalDevice
	if obj.buffer != vk.NullBuffer {
		vk.DestroyBuffer(dev, obj.buffer, b.context.Allocator)
		obj.buffer = vk.NullBuffer
	}
	if obj.memory != vk.NullDeviceMemory {
		vk.FreeMemory(dev, obj.memory, b.context.Allocator)
		obj.memory = vk.NullDeviceMemory
	}
}
