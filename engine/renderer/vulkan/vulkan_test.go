package vulkan

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	batches [][]vk.WriteDescriptorSet
}

func (c *capture) update(writes []vk.WriteDescriptorSet) {
	c.batches = append(c.batches, append([]vk.WriteDescriptorSet(nil), writes...))
}

func newRecorder(t *testing.T, frames uint32) (*DescriptorBackend, *capture) {
	t.Helper()
	c := &capture{}
	b, err := NewRecorder(frames, c.update)
	require.NoError(t, err)
	return b, c
}

func TestBindingTableLayout(t *testing.T) {
	cfg := NewBindingTableConfig()
	require.Len(t, cfg.Bindings, int(VULKAN_BINDING_TABLE_SIZE))

	binding, err := cfg.Binding(metadata.BindTargetUniformBuffer, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), binding)
	binding, _ = cfg.Binding(metadata.BindTargetStorageBuffer, 0)
	assert.Equal(t, uint32(VULKAN_MAX_UNIFORM_BUFFERS), binding)
	binding, _ = cfg.Binding(metadata.BindTargetTexture, 3)
	assert.Equal(t, uint32(VULKAN_MAX_UNIFORM_BUFFERS+VULKAN_MAX_STORAGE_BUFFERS+3), binding)
	assert.Equal(t, vk.DescriptorTypeCombinedImageSampler, cfg.Bindings[binding].DescriptorType)

	_, err = cfg.Binding(metadata.BindTargetImage, VULKAN_MAX_IMAGES)
	assert.Error(t, err)
	_, err = cfg.Binding(metadata.BindTargetNone, 0)
	assert.Error(t, err)

	key, r, ok := cfg.Point(VULKAN_BINDING_TABLE_SIZE - 1)
	require.True(t, ok)
	assert.Equal(t, metadata.TargetKey{Target: metadata.BindTargetImage, Point: VULKAN_MAX_IMAGES - 1}, key)
	assert.Equal(t, vk.DescriptorTypeStorageImage, r.DescriptorType)
	_, _, ok = cfg.Point(VULKAN_BINDING_TABLE_SIZE)
	assert.False(t, ok)

	sizes := cfg.PoolSizes(2)
	require.Len(t, sizes, 4)
	assert.Equal(t, vk.DescriptorTypeUniformBuffer, sizes[0].Type)
	assert.Equal(t, uint32(2*VULKAN_MAX_UNIFORM_BUFFERS), sizes[0].DescriptorCount)
}

func TestVulkanResults(t *testing.T) {
	assert.Equal(t, "VK_ERROR_DEVICE_LOST", VulkanResultString(vk.ErrorDeviceLost, false))
	assert.Equal(t, "VK_ERROR", VulkanResultString(vk.Result(-9999), false))
	assert.NoError(t, vkCheck("CreateBuffer", 0, vk.Success))
	assert.NoError(t, vkCheck("CreateBuffer", 0, vk.Incomplete))

	err := vkCheck("AllocateMemory", 4, vk.ErrorOutOfDeviceMemory)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrBackendFailure))
	var be *core.BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "AllocateMemory", be.Op)
	assert.Equal(t, uint32(4), be.Point)
	assert.Equal(t, VulkanError(vk.ErrorOutOfDeviceMemory), be.Err)
}

func TestNewRecorderFrames(t *testing.T) {
	_, err := NewRecorder(0, nil)
	assert.Error(t, err)
	_, err = NewRecorder(VULKAN_MAX_FRAMES_IN_FLIGHT+1, nil)
	assert.Error(t, err)

	b, err := NewRecorder(2, nil)
	require.NoError(t, err)
	assert.Equal(t, "vulkan/recorder", b.Name())
	assert.False(t, b.Capabilities().Has(metadata.CapInvalidateBuffer))
	assert.True(t, b.Capabilities().Has(metadata.CapMultiBind))
	assert.Equal(t, uint32(VULKAN_MAX_TEXTURES), b.Limits().MaxTextureUnits)
}

func TestFlushWritesEveryFrameOnce(t *testing.T) {
	b, c := newRecorder(t, 2)
	ub, err := b.RegisterBuffer("camera", metadata.ResourceKindUniformBuffer, vk.NullBuffer, 1024)
	require.NoError(t, err)
	tex := b.RegisterTexture("albedo", metadata.TextureType2d, vk.NullImageView, vk.NullSampler, 64, 64)
	assert.NotEqual(t, ub.RawID(), tex.RawID())
	assert.Equal(t, uint32(64), tex.Texture.Width)

	require.NoError(t, b.BindUniformBuffer(1, ub.RawID(), 256, 128))
	require.NoError(t, b.BindTexture(2, tex.RawID(), metadata.TextureType2d))

	require.NoError(t, b.Flush())
	require.Len(t, c.batches, 1)
	writes := c.batches[0]
	require.Len(t, writes, 2)
	assert.Equal(t, uint32(1), writes[0].DstBinding)
	assert.Equal(t, vk.DescriptorTypeUniformBuffer, writes[0].DescriptorType)
	require.Len(t, writes[0].PBufferInfo, 1)
	assert.Equal(t, vk.DeviceSize(256), writes[0].PBufferInfo[0].Offset)
	assert.Equal(t, vk.DeviceSize(128), writes[0].PBufferInfo[0].Range)
	assert.Equal(t, uint32(VULKAN_MAX_UNIFORM_BUFFERS+VULKAN_MAX_STORAGE_BUFFERS+2), writes[1].DstBinding)
	require.Len(t, writes[1].PImageInfo, 1)
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, writes[1].PImageInfo[0].ImageLayout)
	assert.Equal(t, uint32(1), b.Frame())

	// The second frame's set has not seen the binds yet.
	require.NoError(t, b.Flush())
	require.Len(t, c.batches, 2)
	assert.Len(t, c.batches[1], 2)
	assert.Equal(t, uint32(0), b.Frame())

	// Both sets are current now.
	require.NoError(t, b.Flush())
	assert.Len(t, c.batches, 2)

	flushes, total := b.Stats()
	assert.Equal(t, uint64(3), flushes)
	assert.Equal(t, uint64(4), total)
}

func TestFlushWholeBufferAndImage(t *testing.T) {
	b, c := newRecorder(t, 1)
	sb, err := b.RegisterBuffer("particles", metadata.ResourceKindStorageBuffer, vk.NullBuffer, 4096)
	require.NoError(t, err)
	tex := b.RegisterTexture("target", metadata.TextureType2d, vk.NullImageView, vk.NullSampler, 16, 16)

	require.NoError(t, b.BindStorageBuffer(0, sb.RawID(), 0, 0))
	require.NoError(t, b.BindImage(1, metadata.ImageRef{ID: tex.RawID(), Access: metadata.ImageAccessWrite}))
	require.NoError(t, b.Flush())

	require.Len(t, c.batches, 1)
	writes := c.batches[0]
	require.Len(t, writes, 2)
	assert.Equal(t, vk.DescriptorTypeStorageBuffer, writes[0].DescriptorType)
	assert.Equal(t, vk.DeviceSize(vk.WholeSize), writes[0].PBufferInfo[0].Range)
	assert.Equal(t, vk.DescriptorTypeStorageImage, writes[1].DescriptorType)
	assert.Equal(t, vk.ImageLayoutGeneral, writes[1].PImageInfo[0].ImageLayout)
}

func TestMultiBindAndRebind(t *testing.T) {
	b, c := newRecorder(t, 1)
	a, _ := b.RegisterBuffer("a", metadata.ResourceKindUniformBuffer, vk.NullBuffer, 256)
	d, _ := b.RegisterBuffer("b", metadata.ResourceKindUniformBuffer, vk.NullBuffer, 256)

	require.NoError(t, b.MultiBindUniformBuffers(4, []metadata.BufferBinding{
		{Handle: a.RawID()},
		{Handle: d.RawID()},
	}))
	require.NoError(t, b.Flush())
	require.Len(t, c.batches[0], 2)
	assert.Equal(t, uint32(4), c.batches[0][0].DstBinding)
	assert.Equal(t, uint32(5), c.batches[0][1].DstBinding)

	require.NoError(t, b.BindUniformBuffer(5, a.RawID(), 0, 0))
	require.NoError(t, b.Flush())
	require.Len(t, c.batches, 2)
	require.Len(t, c.batches[1], 1)
	assert.Equal(t, uint32(5), c.batches[1][0].DstBinding)

	h, err := b.QueryCurrentBinding(metadata.BindTargetUniformBuffer, 5)
	require.NoError(t, err)
	assert.Equal(t, a.RawID(), h)
}

func TestUnbindForgetsWithoutWriting(t *testing.T) {
	b, c := newRecorder(t, 1)
	ub, _ := b.RegisterBuffer("camera", metadata.ResourceKindUniformBuffer, vk.NullBuffer, 256)
	tex := b.RegisterTexture("albedo", metadata.TextureType2d, vk.NullImageView, vk.NullSampler, 1, 1)
	require.NoError(t, b.BindUniformBuffer(0, ub.RawID(), 0, 0))
	require.NoError(t, b.ActivateTextureUnit(3))
	require.NoError(t, b.BindTextureToActiveUnit(tex.RawID(), metadata.TextureType2d))
	require.NoError(t, b.Flush())
	require.Len(t, c.batches, 1)

	h, _ := b.QueryCurrentBinding(metadata.BindTargetTexture, 3)
	assert.Equal(t, tex.RawID(), h)

	require.NoError(t, b.UnbindOne(metadata.BindTargetUniformBuffer, 0))
	require.NoError(t, b.UnbindAllOfKind(metadata.BindTargetTexture))
	h, _ = b.QueryCurrentBinding(metadata.BindTargetUniformBuffer, 0)
	assert.Equal(t, uint32(0), h)
	h, _ = b.QueryCurrentBinding(metadata.BindTargetTexture, 3)
	assert.Equal(t, uint32(0), h)

	require.NoError(t, b.Flush())
	assert.Len(t, c.batches, 1)
}

func TestDestroyResourceUnbinds(t *testing.T) {
	b, _ := newRecorder(t, 1)
	ub, _ := b.RegisterBuffer("camera", metadata.ResourceKindUniformBuffer, vk.NullBuffer, 256)
	require.NoError(t, b.BindUniformBuffer(2, ub.RawID(), 0, 0))

	require.NoError(t, b.DestroyResource(ub))
	h, _ := b.QueryCurrentBinding(metadata.BindTargetUniformBuffer, 2)
	assert.Equal(t, uint32(0), h)

	err := b.BindUniformBuffer(2, ub.RawID(), 0, 0)
	assert.True(t, errors.Is(err, core.ErrUnknownResource))
	assert.Error(t, b.DestroyResource(ub))
}

func TestBindErrors(t *testing.T) {
	b, _ := newRecorder(t, 1)
	ub, _ := b.RegisterBuffer("camera", metadata.ResourceKindUniformBuffer, vk.NullBuffer, 512)
	tex := b.RegisterTexture("albedo", metadata.TextureType2d, vk.NullImageView, vk.NullSampler, 1, 1)

	err := b.BindUniformBuffer(VULKAN_MAX_UNIFORM_BUFFERS, ub.RawID(), 0, 0)
	assert.True(t, errors.Is(err, core.ErrCapacityExceeded))
	err = b.MultiBindTextures(VULKAN_MAX_TEXTURES-1, []uint32{tex.RawID(), tex.RawID()})
	assert.True(t, errors.Is(err, core.ErrCapacityExceeded))

	assert.Error(t, b.BindUniformBuffer(0, ub.RawID(), 100, 0))
	err = b.BindUniformBuffer(0, ub.RawID(), 256, 512)
	assert.True(t, errors.Is(err, core.ErrCapacityExceeded))

	err = b.BindUniformBuffer(0, tex.RawID(), 0, 0)
	assert.True(t, errors.Is(err, core.ErrTypeMismatch))
	err = b.BindTexture(0, ub.RawID(), metadata.TextureType2d)
	assert.True(t, errors.Is(err, core.ErrTypeMismatch))

	_, err = b.RegisterBuffer("bad", metadata.ResourceKindTexture2D, vk.NullBuffer, 16)
	assert.True(t, errors.Is(err, core.ErrTypeMismatch))

	assert.True(t, errors.Is(b.InvalidateBuffer(ub.RawID()), core.ErrUnsupported))
	_, err = b.CreateBuffer(metadata.BufferConfig{Name: "x", Kind: metadata.ResourceKindUniformBuffer, Size: 64})
	assert.True(t, errors.Is(err, core.ErrUnsupported))
	_, err = b.CreateBuffer(metadata.BufferConfig{Name: "x", Kind: metadata.ResourceKindUniformBuffer, Size: 4, Data: make([]byte, 8)})
	assert.True(t, errors.Is(err, core.ErrCapacityExceeded))
	_, err = b.CreateTexture(metadata.TextureConfig{Name: "albedo"})
	assert.True(t, errors.Is(err, core.ErrUnsupported))

	// Unbinding the null handle is always allowed.
	assert.NoError(t, b.BindUniformBuffer(0, 0, 0, 0))
}

func TestCanonicalState(t *testing.T) {
	b, _ := newRecorder(t, 1)
	require.NoError(t, b.UseProgram(9))
	state, err := b.QueryCanonicalState()
	require.NoError(t, err)
	assert.Equal(t, metadata.CanonicalState{Program: 9}, state)
	b.Shutdown()
}
