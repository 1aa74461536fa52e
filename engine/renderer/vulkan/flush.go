package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

// Flush writes every descriptor of the current frame's set that changed
// since that set was last written, then moves to the next frame.
func (b *DescriptorBackend) Flush() error {
	return b.locks.SafeCall(DescriptorManagement, func() error {
		b.mu.Lock()
		defer b.mu.Unlock()

		frame := b.frameIndex
		writes := b.pendingWrites(frame)
		if len(writes) > 0 && b.update != nil {
			b.update(writes)
		}
		b.flushes++
		b.writes += uint64(len(writes))
		core.LogDebug("%s: frame %d flushed %d descriptor writes", b.Name(), frame, len(writes))

		b.frameIndex = (frame + 1) % b.frames
		return nil
	})
}

func (b *DescriptorBackend) pendingWrites(frame uint32) []vk.WriteDescriptorSet {
	var writes []vk.WriteDescriptorSet
	for binding := range b.table.Bindings {
		state := &b.state.DescriptorStates[binding]
		if !state.stale(frame) {
			continue
		}
		state.Generations[frame] = state.Generation

		key, r, ok := b.table.Point(uint32(binding))
		if !ok {
			continue
		}
		s, bound := b.slots[key]
		if !bound {
			state.IDs[frame] = 0
			continue
		}
		obj, ok := b.objects[s.handle]
		if !ok {
			continue
		}
		state.IDs[frame] = s.handle

		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          b.state.DescriptorSets[frame],
			DstBinding:      uint32(binding),
			DescriptorCount: 1,
			DescriptorType:  r.DescriptorType,
		}
		switch key.Target {
		case metadata.BindTargetUniformBuffer, metadata.BindTargetStorageBuffer:
			size := vk.DeviceSize(vk.WholeSize)
			if s.size > 0 {
				size = vk.DeviceSize(s.size)
			}
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: obj.buffer,
				Offset: vk.DeviceSize(s.offset),
				Range:  size,
			}}
		case metadata.BindTargetTexture:
			write.PImageInfo = []vk.DescriptorImageInfo{{
				Sampler:     obj.sampler,
				ImageView:   obj.view,
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			}}
		case metadata.BindTargetImage:
			write.PImageInfo = []vk.DescriptorImageInfo{{
				ImageView:   obj.view,
				ImageLayout: vk.ImageLayoutGeneral,
			}}
		}
		writes = append(writes, write)
	}
	return writes
}

// Stats returns the number of flushes and of descriptor writes submitted.
func (b *DescriptorBackend) Stats() (flushes, writes uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushes, b.writes
}
