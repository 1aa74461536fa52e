package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

/**
 * @brief One target's range of bindings in the binding table set. Point p of
 * the target is binding Base+p.
 */
type VulkanBindingRange struct {
	Target         metadata.BindTarget
	Base           uint32
	Count          uint32
	DescriptorType vk.DescriptorType
}

/**
 * @brief The configuration of the single descriptor set every binding point
 * is written into: uniform buffers first, then storage buffers, textures and
 * storage images.
 */
type VulkanDescriptorSetConfig struct {
	Ranges []VulkanBindingRange
	/** @brief The layout bindings, one descriptor per binding point. */
	Bindings []vk.DescriptorSetLayoutBinding
}

func NewBindingTableConfig() *VulkanDescriptorSetConfig {
	c := &VulkanDescriptorSetConfig{}
	base := uint32(0)
	for _, r := range []VulkanBindingRange{
		{Target: metadata.BindTargetUniformBuffer, Count: VULKAN_MAX_UNIFORM_BUFFERS, DescriptorType: vk.DescriptorTypeUniformBuffer},
		{Target: metadata.BindTargetStorageBuffer, Count: VULKAN_MAX_STORAGE_BUFFERS, DescriptorType: vk.DescriptorTypeStorageBuffer},
		{Target: metadata.BindTargetTexture, Count: VULKAN_MAX_TEXTURES, DescriptorType: vk.DescriptorTypeCombinedImageSampler},
		{Target: metadata.BindTargetImage, Count: VULKAN_MAX_IMAGES, DescriptorType: vk.DescriptorTypeStorageImage},
	} {
		r.Base = base
		c.Ranges = append(c.Ranges, r)
		for i := uint32(0); i < r.Count; i++ {
			c.Bindings = append(c.Bindings, vk.DescriptorSetLayoutBinding{
				Binding:         base + i,
				DescriptorType:  r.DescriptorType,
				DescriptorCount: 1,
				StageFlags:      vk.ShaderStageFlags(vk.ShaderStageAllGraphics | vk.ShaderStageComputeBit),
			})
		}
		base += r.Count
	}
	return c
}

func (c *VulkanDescriptorSetConfig) Range(target metadata.BindTarget) (VulkanBindingRange, bool) {
	for _, r := range c.Ranges {
		if r.Target == target {
			return r, true
		}
	}
	return VulkanBindingRange{}, false
}

// Binding maps a binding point of target onto the binding table.
func (c *VulkanDescriptorSetConfig) Binding(target metadata.BindTarget, point uint32) (uint32, error) {
	r, ok := c.Range(target)
	if !ok {
		return 0, fmt.Errorf("target %s has no bindings", target)
	}
	if point >= r.Count {
		return 0, fmt.Errorf("%s point %d is outside the binding table (%d points)", target, point, r.Count)
	}
	return r.Base + point, nil
}

// Point is the inverse of Binding.
func (c *VulkanDescriptorSetConfig) Point(binding uint32) (metadata.TargetKey, VulkanBindingRange, bool) {
	for _, r := range c.Ranges {
		if binding >= r.Base && binding < r.Base+r.Count {
			return metadata.TargetKey{Target: r.Target, Point: binding - r.Base}, r, true
		}
	}
	return metadata.TargetKey{}, VulkanBindingRange{}, false
}

// PoolSizes returns the descriptor counts a pool needs for sets sets.
func (c *VulkanDescriptorSetConfig) PoolSizes(sets uint32) []vk.DescriptorPoolSize {
	sizes := make([]vk.DescriptorPoolSize, 0, len(c.Ranges))
	for _, r := range c.Ranges {
		sizes = append(sizes, vk.DescriptorPoolSize{
			Type:            r.DescriptorType,
			DescriptorCount: r.Count * sets,
		})
	}
	return sizes
}

/**
 * @brief Represents a state for a given descriptor. This is used
 * to determine when a descriptor needs updating. There is a state
 * per frame (with a max of 3).
 */
type VulkanDescriptorState struct {
	/** @brief The generation of the latest bind. 0 means never bound. */
	Generation uint32
	/** @brief The generation written into each frame's set. */
	Generations [VULKAN_MAX_FRAMES_IN_FLIGHT]uint32
	/** @brief The object written, per frame. */
	IDs [VULKAN_MAX_FRAMES_IN_FLIGHT]uint32
}

func (s *VulkanDescriptorState) touch() {
	s.Generation++
}

func (s *VulkanDescriptorState) stale(frame uint32) bool {
	return s.Generation != 0 && s.Generations[frame] != s.Generation
}

/**
 * @brief The descriptor sets of the binding table, one per frame, and the
 * state of every descriptor in them.
 */
type VulkanShaderDescriptorSetState struct {
	DescriptorSets   [VULKAN_MAX_FRAMES_IN_FLIGHT]vk.DescriptorSet
	DescriptorStates [VULKAN_BINDING_TABLE_SIZE]VulkanDescriptorState
}
