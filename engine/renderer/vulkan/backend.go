package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

type Config struct {
	ApplicationName string `toml:"application_name"`
	/** @brief Number of binding table sets, one written per frame. */
	FramesInFlight uint32 `toml:"frames_in_flight"`
	/** @brief Loads vkGetInstanceProcAddr through an initialized GLFW. */
	UseGLFW bool `toml:"use_glfw"`
	/** @brief Enables the validation layers and the debug report callback. */
	Debug bool `toml:"debug"`
}

/** @brief Submits a batch of descriptor writes. */
type UpdateFunc func(writes []vk.WriteDescriptorSet)

// A GPU object known to the backend, created by it or registered.
type vulkanObject struct {
	handle  metadata.ResourceHandle
	buffer  vk.Buffer
	memory  vk.DeviceMemory
	view    vk.ImageView
	sampler vk.Sampler
	owned   bool
}

type slot struct {
	handle uint32
	offset uint64
	size   uint64
	image  metadata.ImageRef
}

/**
 * @brief A binding backend that records binds as descriptor writes into a
 * binding table set and submits them on Flush. Point p of a target is
 * binding Base+p of set 0, see VulkanDescriptorSetConfig.
 */
type DescriptorBackend struct {
	mu      sync.Mutex
	locks   *VulkanLockPool
	context *VulkanContext
	table   *VulkanDescriptorSetConfig
	state   VulkanShaderDescriptorSetState
	update  UpdateFunc
	limits  metadata.Limits

	frames     uint32
	frameIndex uint32

	slots      map[metadata.TargetKey]slot
	activeUnit uint32
	program    uint32

	names   *core.IDAllocator
	objects map[uint32]*vulkanObject

	flushes uint64
	writes  uint64
}

func newDescriptorBackend(frames uint32, update UpdateFunc, limits metadata.Limits) (*DescriptorBackend, error) {
	if frames == 0 || frames > VULKAN_MAX_FRAMES_IN_FLIGHT {
		return nil, fmt.Errorf("frames in flight must be between 1 and %d, got %d", VULKAN_MAX_FRAMES_IN_FLIGHT, frames)
	}
	return &DescriptorBackend{
		locks:   NewVulkanLockPool(),
		table:   NewBindingTableConfig(),
		update:  update,
		limits:  limits,
		frames:  frames,
		slots:   make(map[metadata.TargetKey]slot),
		names:   core.NewIDAllocator(),
		objects: make(map[uint32]*vulkanObject),
	}, nil
}

// New creates a device and a binding table with one set per frame in flight.
func New(config Config) (*DescriptorBackend, error) {
	if config.FramesInFlight == 0 {
		config.FramesInFlight = 2
	}
	vc, err := NewContext(config.ApplicationName, config.UseGLFW, config.Debug)
	if err != nil {
		return nil, err
	}
	dev := vc.Device.LogicalDevice
	b, err := newDescriptorBackend(config.FramesInFlight, func(writes []vk.WriteDescriptorSet) {
		vk.UpdateDescriptorSets(dev, uint32(len(writes)), writes, 0, nil)
	}, vc.Device.Limits())
	if err != nil {
		vc.Destroy()
		return nil, err
	}
	sets, err := vc.CreateBindingTable(b.table, b.frames)
	if err != nil {
		vc.Destroy()
		return nil, err
	}
	copy(b.state.DescriptorSets[:], sets)
	b.context = vc
	return b, nil
}

// NewRecorder creates a backend without a device. Writes go to update and
// objects must be registered.
func NewRecorder(frames uint32, update UpdateFunc) (*DescriptorBackend, error) {
	return newDescriptorBackend(frames, update, metadata.Limits{
		MaxUniformBufferBindings:     VULKAN_MAX_UNIFORM_BUFFERS,
		MaxStorageBufferBindings:     VULKAN_MAX_STORAGE_BUFFERS,
		MaxTextureUnits:              VULKAN_MAX_TEXTURES,
		MaxImageUnits:                VULKAN_MAX_IMAGES,
		UniformBufferOffsetAlignment: VULKAN_DEFAULT_OFFSET_ALIGNMENT,
		StorageBufferOffsetAlignment: VULKAN_DEFAULT_OFFSET_ALIGNMENT,
	})
}

func (b *DescriptorBackend) Name() string {
	if b.context == nil {
		return "vulkan/recorder"
	}
	return "vulkan"
}

func (b *DescriptorBackend) String() string {
	return fmt.Sprintf("%s (%d frames)", b.Name(), b.frames)
}

// Descriptor writes can hold ranges, arrays and images. There is no way to
// orphan a buffer.
func (b *DescriptorBackend) Capabilities() metadata.Capabilities {
	return metadata.CapNamedBuffer | metadata.CapBindRange | metadata.CapMultiBind | metadata.CapTextureStorage | metadata.CapBindTextureUnit | metadata.CapBindImages
}

func (b *DescriptorBackend) Limits() metadata.Limits {
	return b.limits
}

// DescriptorSet returns the set written for frame.
func (b *DescriptorBackend) DescriptorSet(frame uint32) vk.DescriptorSet {
	return b.state.DescriptorSets[frame%b.frames]
}

// Frame returns the index of the set the next Flush writes.
func (b *DescriptorBackend) Frame() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frameIndex
}

func (b *DescriptorBackend) register(obj *vulkanObject, name string) metadata.ResourceHandle {
	id := b.names.Acquire(name)
	obj.handle = withID(obj.handle, id)
	b.objects[id] = obj
	return obj.handle
}

func withID(h metadata.ResourceHandle, id uint32) metadata.ResourceHandle {
	switch h.Kind {
	case metadata.ResourceKindUniformBuffer, metadata.ResourceKindStorageBuffer:
		h.Buffer.ID = id
	case metadata.ResourceKindImage2D:
		h.Image.ID = id
	default:
		h.Texture.ID = id
	}
	return h
}

// RegisterBuffer makes a buffer created elsewhere bindable.
func (b *DescriptorBackend) RegisterBuffer(name string, kind metadata.ResourceKind, buffer vk.Buffer, size uint64) (metadata.ResourceHandle, error) {
	var h metadata.ResourceHandle
	switch kind {
	case metadata.ResourceKindUniformBuffer:
		h = metadata.NewUniformBuffer(0, 0, size)
	case metadata.ResourceKindStorageBuffer:
		h = metadata.NewStorageBuffer(0, 0, size)
	default:
		return h, &core.TypeMismatchError{Name: name, Expected: metadata.ResourceKindUniformBuffer, Got: kind}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.register(&vulkanObject{handle: h, buffer: buffer}, name), nil
}

// RegisterTexture makes a sampled image view bindable as a texture and, with
// a general layout, as a storage image.
func (b *DescriptorBackend) RegisterTexture(name string, textureType metadata.TextureType, view vk.ImageView, sampler vk.Sampler, width, height uint32) metadata.ResourceHandle {
	h := metadata.NewTexture2D(0)
	if textureType == metadata.TextureTypeCube {
		h = metadata.NewTextureCube(0)
	}
	h.Texture.Width = width
	h.Texture.Height = height
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.register(&vulkanObject{handle: h, view: view, sampler: sampler}, name)
}

func (b *DescriptorBackend) object(handle uint32) (*vulkanObject, error) {
	obj, ok := b.objects[handle]
	if !ok {
		return nil, fmt.Errorf("object %d is not known to %s: %w", handle, b.Name(), core.ErrUnknownResource)
	}
	return obj, nil
}

func (b *DescriptorBackend) checkPoint(target metadata.BindTarget, point uint32, count int) error {
	limit := b.limits.MaxPoints(target)
	if uint64(point)+uint64(count) > uint64(limit) {
		return &core.CapacityError{What: target.String() + " binding point", Limit: uint64(limit), Got: uint64(point) + uint64(count)}
	}
	return nil
}

func (b *DescriptorBackend) checkBuffer(target metadata.BindTarget, handle uint32, offset, size uint64) error {
	if handle == 0 {
		return nil
	}
	obj, err := b.object(handle)
	if err != nil {
		return err
	}
	if !obj.handle.Kind.IsBuffer() {
		return &core.TypeMismatchError{Name: fmt.Sprint(handle), Expected: metadata.ResourceKindUniformBuffer, Got: obj.handle.Kind}
	}
	align := b.limits.UniformBufferOffsetAlignment
	if target == metadata.BindTargetStorageBuffer {
		align = b.limits.StorageBufferOffsetAlignment
	}
	if !metadata.IsAligned(offset, align) {
		return fmt.Errorf("offset %d is not aligned to %d", offset, align)
	}
	if total := obj.handle.Buffer.Size; total > 0 && offset+size > total {
		return &core.CapacityError{What: "buffer range", Limit: total, Got: offset + size}
	}
	return nil
}

func (b *DescriptorBackend) checkTexture(handle uint32) error {
	if handle == 0 {
		return nil
	}
	obj, err := b.object(handle)
	if err != nil {
		return err
	}
	if !obj.handle.Kind.IsTexture() {
		return &core.TypeMismatchError{Name: fmt.Sprint(handle), Expected: metadata.ResourceKindTexture2D, Got: obj.handle.Kind}
	}
	return nil
}

// set records s at key and marks its descriptor for every frame.
func (b *DescriptorBackend) set(key metadata.TargetKey, s slot) {
	if s.handle == 0 {
		delete(b.slots, key)
	} else {
		b.slots[key] = s
	}
	binding, err := b.table.Binding(key.Target, key.Point)
	if err != nil {
		return
	}
	b.state.DescriptorStates[binding].touch()
}

func (b *DescriptorBackend) UseProgram(program uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.program = program
	return nil
}

func (b *DescriptorBackend) bindBuffer(target metadata.BindTarget, point, handle uint32, offset, size uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkPoint(target, point, 1); err != nil {
		return err
	}
	if err := b.checkBuffer(target, handle, offset, size); err != nil {
		return err
	}
	b.set(metadata.TargetKey{Target: target, Point: point}, slot{handle: handle, offset: offset, size: size})
	return nil
}

func (b *DescriptorBackend) BindUniformBuffer(point, handle uint32, offset, size uint64) error {
	return b.bindBuffer(metadata.BindTargetUniformBuffer, point, handle, offset, size)
}

func (b *DescriptorBackend) BindStorageBuffer(point, handle uint32, offset, size uint64) error {
	return b.bindBuffer(metadata.BindTargetStorageBuffer, point, handle, offset, size)
}

func (b *DescriptorBackend) BindTexture(unit, handle uint32, textureType metadata.TextureType) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkPoint(metadata.BindTargetTexture, unit, 1); err != nil {
		return err
	}
	if err := b.checkTexture(handle); err != nil {
		return err
	}
	b.set(metadata.TargetKey{Target: metadata.BindTargetTexture, Point: unit}, slot{handle: handle})
	return nil
}

func (b *DescriptorBackend) ActivateTextureUnit(unit uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkPoint(metadata.BindTargetTexture, unit, 1); err != nil {
		return err
	}
	b.activeUnit = unit
	return nil
}

func (b *DescriptorBackend) BindTextureToActiveUnit(handle uint32, textureType metadata.TextureType) error {
	b.mu.Lock()
	unit := b.activeUnit
	b.mu.Unlock()
	return b.BindTexture(unit, handle, textureType)
}

func (b *DescriptorBackend) BindImage(unit uint32, image metadata.ImageRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkPoint(metadata.BindTargetImage, unit, 1); err != nil {
		return err
	}
	if err := b.checkTexture(image.ID); err != nil {
		return err
	}
	b.set(metadata.TargetKey{Target: metadata.BindTargetImage, Point: unit}, slot{handle: image.ID, image: image})
	return nil
}

func (b *DescriptorBackend) multiBindBuffers(target metadata.BindTarget, first uint32, items []metadata.BufferBinding) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkPoint(target, first, len(items)); err != nil {
		return err
	}
	for _, it := range items {
		if err := b.checkBuffer(target, it.Handle, it.Offset, it.Size); err != nil {
			return err
		}
	}
	for i, it := range items {
		b.set(metadata.TargetKey{Target: target, Point: first + uint32(i)}, slot{handle: it.Handle, offset: it.Offset, size: it.Size})
	}
	return nil
}

func (b *DescriptorBackend) MultiBindUniformBuffers(first uint32, items []metadata.BufferBinding) error {
	return b.multiBindBuffers(metadata.BindTargetUniformBuffer, first, items)
}

func (b *DescriptorBackend) MultiBindStorageBuffers(first uint32, items []metadata.BufferBinding) error {
	return b.multiBindBuffers(metadata.BindTargetStorageBuffer, first, items)
}

func (b *DescriptorBackend) MultiBindTextures(first uint32, handles []uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkPoint(metadata.BindTargetTexture, first, len(handles)); err != nil {
		return err
	}
	for _, h := range handles {
		if err := b.checkTexture(h); err != nil {
			return err
		}
	}
	for i, h := range handles {
		b.set(metadata.TargetKey{Target: metadata.BindTargetTexture, Point: first + uint32(i)}, slot{handle: h})
	}
	return nil
}

// UnbindOne forgets the binding. The descriptor keeps its last write since
// nothing can be written in its place without the null descriptor feature.
func (b *DescriptorBackend) UnbindOne(target metadata.BindTarget, point uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkPoint(target, point, 1); err != nil {
		return err
	}
	b.set(metadata.TargetKey{Target: target, Point: point}, slot{})
	return nil
}

func (b *DescriptorBackend) UnbindAllOfKind(target metadata.BindTarget) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.slots {
		if k.Target == target {
			b.set(k, slot{})
		}
	}
	return nil
}

func (b *DescriptorBackend) QueryCurrentBinding(target metadata.BindTarget, point uint32) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkPoint(target, point, 1); err != nil {
		return 0, err
	}
	return b.slots[metadata.TargetKey{Target: target, Point: point}].handle, nil
}

// QueryCanonicalState reports the pipeline id set by UseProgram. Vulkan has
// no vertex array object.
func (b *DescriptorBackend) QueryCanonicalState() (metadata.CanonicalState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return metadata.CanonicalState{Program: b.program}, nil
}

func (b *DescriptorBackend) InvalidateBuffer(handle uint32) error {
	return fmt.Errorf("InvalidateBuffer on %s: %w", b.Name(), core.ErrUnsupported)
}

// Shutdown destroys owned objects and the device.
func (b *DescriptorBackend) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, obj := range b.objects {
		b.destroyObject(obj)
		delete(b.objects, id)
	}
	b.slots = make(map[metadata.TargetKey]slot)
	if b.context != nil {
		b.context.Destroy()
		b.context = nil
	}
}
