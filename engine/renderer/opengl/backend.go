package opengl

import (
	"fmt"

	"github.com/go-gl/gl/v4.6-core/gl"
	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

type Config struct {
	/** @brief Disables direct state access even on a 4.5+ context. */
	ForceFallback bool `toml:"force_fallback"`
	/** @brief Drains glGetError after every call and reports failures. */
	CheckErrors bool `toml:"check_errors"`
}

/**
 * @brief A binding backend over the GL context current on the calling
 * thread. Every method must be called from that thread.
 */
type Backend struct {
	version      string
	major, minor int32
	dsa          bool
	checkErrors  bool
	caps         metadata.Capabilities
	limits       metadata.Limits

	activeUnit uint32
	// unitTypes remembers the texture target bound at each unit so queries
	// and unbinds address the right target.
	unitTypes map[uint32]metadata.TextureType
	objects   map[uint32]metadata.ResourceHandle
}

// New loads the GL entry points of the current context and queries its limits.
func New(config Config) (*Backend, error) {
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize OpenGL: %w", err)
	}
	b := &Backend{
		checkErrors: config.CheckErrors,
		unitTypes:   make(map[uint32]metadata.TextureType),
		objects:     make(map[uint32]metadata.ResourceHandle),
	}
	b.version = gl.GoStr(gl.GetString(gl.VERSION))
	gl.GetIntegerv(gl.MAJOR_VERSION, &b.major)
	gl.GetIntegerv(gl.MINOR_VERSION, &b.minor)

	b.dsa = !config.ForceFallback && (b.major > 4 || (b.major == 4 && b.minor >= 5))
	b.caps = metadata.CapsFallback
	if b.dsa {
		b.caps = metadata.CapsDSA
	}
	b.limits = queryLimits()
	if err := b.check("Init", 0); err != nil {
		return nil, err
	}
	core.LogInfo("OpenGL %s, direct state access: %t", b.version, b.dsa)
	core.LogDebug("OpenGL limits: %+v", b.limits)
	return b, nil
}

func getInt(pname uint32) int32 {
	var v int32
	gl.GetIntegerv(pname, &v)
	return v
}

func queryLimits() metadata.Limits {
	return metadata.Limits{
		MaxUniformBufferBindings:     uint32(getInt(gl.MAX_UNIFORM_BUFFER_BINDINGS)),
		MaxStorageBufferBindings:     uint32(getInt(gl.MAX_SHADER_STORAGE_BUFFER_BINDINGS)),
		MaxTextureUnits:              uint32(getInt(gl.MAX_COMBINED_TEXTURE_IMAGE_UNITS)),
		MaxImageUnits:                uint32(getInt(gl.MAX_IMAGE_UNITS)),
		UniformBufferOffsetAlignment: uint64(getInt(gl.UNIFORM_BUFFER_OFFSET_ALIGNMENT)),
		StorageBufferOffsetAlignment: uint64(getInt(gl.SHADER_STORAGE_BUFFER_OFFSET_ALIGNMENT)),
	}
}

func (b *Backend) Name() string {
	if b.dsa {
		return "opengl/dsa"
	}
	return "opengl/fallback"
}

func (b *Backend) String() string {
	return fmt.Sprintf("%s (%s)", b.Name(), b.version)
}

func (b *Backend) Capabilities() metadata.Capabilities {
	return b.caps
}

func (b *Backend) Limits() metadata.Limits {
	return b.limits
}

func (b *Backend) checkPoint(target metadata.BindTarget, point uint32, count int) error {
	limit := b.limits.MaxPoints(target)
	if uint64(point)+uint64(count) > uint64(limit) {
		return &core.CapacityError{What: target.String() + " binding point", Limit: uint64(limit), Got: uint64(point) + uint64(count)}
	}
	return nil
}

func (b *Backend) checkAlignment(target metadata.BindTarget, offset uint64) error {
	align := b.limits.UniformBufferOffsetAlignment
	if target == metadata.BindTargetStorageBuffer {
		align = b.limits.StorageBufferOffsetAlignment
	}
	if !metadata.IsAligned(offset, align) {
		return fmt.Errorf("offset %d is not aligned to %d", offset, align)
	}
	return nil
}

// bufferSize returns the size of a buffer object, asking the driver for
// buffers this backend did not create.
func (b *Backend) bufferSize(handle uint32) (uint64, error) {
	if h, ok := b.objects[handle]; ok && h.Kind.IsBuffer() {
		return h.Buffer.Size, nil
	}
	if !b.dsa {
		return 0, fmt.Errorf("size of foreign buffer %d is unknown without direct state access", handle)
	}
	var size int32
	gl.GetNamedBufferParameteriv(handle, gl.BUFFER_SIZE, &size)
	if err := b.check("GetNamedBufferParameteriv", 0); err != nil {
		return 0, err
	}
	return uint64(size), nil
}

func (b *Backend) UseProgram(program uint32) error {
	gl.UseProgram(program)
	return b.check("UseProgram", 0)
}

func (b *Backend) bindBuffer(target metadata.BindTarget, point, handle uint32, offset, size uint64) error {
	glTarget, err := bufferTarget(target)
	if err != nil {
		return err
	}
	if err := b.checkPoint(target, point, 1); err != nil {
		return err
	}
	if offset == 0 && size == 0 {
		gl.BindBufferBase(glTarget, point, handle)
		return b.check("BindBufferBase", point)
	}
	if err := b.checkAlignment(target, offset); err != nil {
		return err
	}
	if size == 0 {
		total, err := b.bufferSize(handle)
		if err != nil {
			return err
		}
		if total <= offset {
			return fmt.Errorf("offset %d is past the end of buffer %d (%d bytes)", offset, handle, total)
		}
		size = total - offset
	}
	o, s := bufferRange(offset, size, 0)
	gl.BindBufferRange(glTarget, point, handle, o, s)
	return b.check("BindBufferRange", point)
}

func (b *Backend) BindUniformBuffer(point, handle uint32, offset, size uint64) error {
	return b.bindBuffer(metadata.BindTargetUniformBuffer, point, handle, offset, size)
}

func (b *Backend) BindStorageBuffer(point, handle uint32, offset, size uint64) error {
	return b.bindBuffer(metadata.BindTargetStorageBuffer, point, handle, offset, size)
}

func (b *Backend) BindTexture(unit, handle uint32, textureType metadata.TextureType) error {
	if !b.dsa {
		return fmt.Errorf("BindTexture on %s: %w", b.Name(), core.ErrUnsupported)
	}
	if err := b.checkPoint(metadata.BindTargetTexture, unit, 1); err != nil {
		return err
	}
	gl.BindTextureUnit(unit, handle)
	if err := b.check("BindTextureUnit", unit); err != nil {
		return err
	}
	b.unitTypes[unit] = textureType
	return nil
}

func (b *Backend) ActivateTextureUnit(unit uint32) error {
	if err := b.checkPoint(metadata.BindTargetTexture, unit, 1); err != nil {
		return err
	}
	gl.ActiveTexture(gl.TEXTURE0 + unit)
	if err := b.check("ActiveTexture", unit); err != nil {
		return err
	}
	b.activeUnit = unit
	return nil
}

func (b *Backend) BindTextureToActiveUnit(handle uint32, textureType metadata.TextureType) error {
	gl.BindTexture(textureTarget(textureType), handle)
	if err := b.check("BindTexture", b.activeUnit); err != nil {
		return err
	}
	b.unitTypes[b.activeUnit] = textureType
	return nil
}

func (b *Backend) BindImage(unit uint32, image metadata.ImageRef) error {
	if err := b.checkPoint(metadata.BindTargetImage, unit, 1); err != nil {
		return err
	}
	layered := image.Layer < 0
	layer := image.Layer
	if layered {
		layer = 0
	}
	gl.BindImageTexture(unit, image.ID, image.Level, layered, layer, imageAccess(image.Access), imageFormat(image.Format))
	return b.check("BindImageTexture", unit)
}

func (b *Backend) multiBindBuffers(target metadata.BindTarget, first uint32, items []metadata.BufferBinding) error {
	if !b.dsa {
		return fmt.Errorf("BindBuffersRange on %s: %w", b.Name(), core.ErrUnsupported)
	}
	if len(items) == 0 {
		return nil
	}
	glTarget, err := bufferTarget(target)
	if err != nil {
		return err
	}
	if err := b.checkPoint(target, first, len(items)); err != nil {
		return err
	}
	// Resolve every range before touching state; BindBuffersRange has no
	// whole-buffer shorthand.
	buffers := make([]uint32, len(items))
	offsets := make([]int, len(items))
	sizes := make([]int, len(items))
	for i, it := range items {
		if err := b.checkAlignment(target, it.Offset); err != nil {
			return err
		}
		size := it.Size
		if size == 0 && it.Handle != 0 {
			total, err := b.bufferSize(it.Handle)
			if err != nil {
				return err
			}
			if total <= it.Offset {
				return fmt.Errorf("offset %d is past the end of buffer %d (%d bytes)", it.Offset, it.Handle, total)
			}
			size = total - it.Offset
		}
		buffers[i] = it.Handle
		offsets[i], sizes[i] = bufferRange(it.Offset, size, 0)
	}
	gl.BindBuffersRange(glTarget, first, int32(len(items)), &buffers[0], &offsets[0], &sizes[0])
	return b.check("BindBuffersRange", first)
}

func (b *Backend) MultiBindUniformBuffers(first uint32, items []metadata.BufferBinding) error {
	return b.multiBindBuffers(metadata.BindTargetUniformBuffer, first, items)
}

func (b *Backend) MultiBindStorageBuffers(first uint32, items []metadata.BufferBinding) error {
	return b.multiBindBuffers(metadata.BindTargetStorageBuffer, first, items)
}

func (b *Backend) MultiBindTextures(first uint32, handles []uint32) error {
	if !b.dsa {
		return fmt.Errorf("BindTextures on %s: %w", b.Name(), core.ErrUnsupported)
	}
	if len(handles) == 0 {
		return nil
	}
	if err := b.checkPoint(metadata.BindTargetTexture, first, len(handles)); err != nil {
		return err
	}
	gl.BindTextures(first, int32(len(handles)), &handles[0])
	if err := b.check("BindTextures", first); err != nil {
		return err
	}
	for i, h := range handles {
		t := metadata.TextureType2d
		if obj, ok := b.objects[h]; ok {
			t = obj.Texture.TextureType
		}
		b.unitTypes[first+uint32(i)] = t
	}
	return nil
}

func (b *Backend) UnbindOne(target metadata.BindTarget, point uint32) error {
	if err := b.checkPoint(target, point, 1); err != nil {
		return err
	}
	switch target {
	case metadata.BindTargetUniformBuffer, metadata.BindTargetStorageBuffer:
		glTarget, _ := bufferTarget(target)
		gl.BindBufferBase(glTarget, point, 0)
	case metadata.BindTargetTexture:
		if b.dsa {
			gl.BindTextureUnit(point, 0)
		} else {
			gl.ActiveTexture(gl.TEXTURE0 + point)
			gl.BindTexture(textureTarget(b.unitTypes[point]), 0)
			gl.ActiveTexture(gl.TEXTURE0 + b.activeUnit)
		}
		delete(b.unitTypes, point)
	case metadata.BindTargetImage:
		gl.BindImageTexture(point, 0, 0, false, 0, gl.READ_ONLY, gl.RGBA8)
	default:
		return fmt.Errorf("cannot unbind target %s", target)
	}
	return b.check("Unbind", point)
}

func (b *Backend) UnbindAllOfKind(target metadata.BindTarget) error {
	count := b.limits.MaxPoints(target)
	if count == 0 {
		return nil
	}
	if !b.dsa {
		for p := uint32(0); p < count; p++ {
			if err := b.UnbindOne(target, p); err != nil {
				return err
			}
		}
		return nil
	}
	// A nil array unbinds the whole range.
	switch target {
	case metadata.BindTargetUniformBuffer, metadata.BindTargetStorageBuffer:
		glTarget, _ := bufferTarget(target)
		gl.BindBuffersBase(glTarget, 0, int32(count), nil)
	case metadata.BindTargetTexture:
		gl.BindTextures(0, int32(count), nil)
		b.unitTypes = make(map[uint32]metadata.TextureType)
	case metadata.BindTargetImage:
		gl.BindImageTextures(0, int32(count), nil)
	default:
		return fmt.Errorf("cannot unbind target %s", target)
	}
	return b.check("UnbindAll", 0)
}

func (b *Backend) QueryCurrentBinding(target metadata.BindTarget, point uint32) (uint32, error) {
	if err := b.checkPoint(target, point, 1); err != nil {
		return 0, err
	}
	var v int32
	if target == metadata.BindTargetTexture {
		// Texture bindings are only queryable through the active unit.
		gl.ActiveTexture(gl.TEXTURE0 + point)
		gl.GetIntegerv(textureBindingQuery(b.unitTypes[point]), &v)
		gl.ActiveTexture(gl.TEXTURE0 + b.activeUnit)
	} else {
		gl.GetIntegeri_v(bindingQuery(target), point, &v)
	}
	if err := b.check("Query", point); err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func (b *Backend) QueryCanonicalState() (metadata.CanonicalState, error) {
	state := metadata.CanonicalState{
		Program:     uint32(getInt(gl.CURRENT_PROGRAM)),
		VertexArray: uint32(getInt(gl.VERTEX_ARRAY_BINDING)),
	}
	return state, b.check("QueryCanonicalState", 0)
}

func (b *Backend) InvalidateBuffer(handle uint32) error {
	if !b.caps.Has(metadata.CapInvalidateBuffer) {
		return fmt.Errorf("InvalidateBuffer on %s: %w", b.Name(), core.ErrUnsupported)
	}
	gl.InvalidateBufferData(handle)
	return b.check("InvalidateBufferData", 0)
}
