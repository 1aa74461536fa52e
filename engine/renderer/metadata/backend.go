package metadata

import (
	"fmt"
	"strings"
)

type BackendType uint8

const (
	BackendHeadless BackendType = iota
	BackendOpenGL
	BackendVulkan
)

func (b BackendType) String() string {
	switch b {
	case BackendOpenGL:
		return "opengl"
	case BackendVulkan:
		return "vulkan"
	}
	return "headless"
}

func BackendTypeFromString(s string) (BackendType, error) {
	switch strings.ToLower(s) {
	case "headless", "":
		return BackendHeadless, nil
	case "opengl", "gl":
		return BackendOpenGL, nil
	case "vulkan", "vk":
		return BackendVulkan, nil
	}
	return BackendHeadless, fmt.Errorf("string %s is not a valid BackendType", s)
}

/** @brief Optional features a binding backend advertises up front. */
type Capabilities uint32

const (
	/** @brief Buffers can be modified by handle without binding them first. */
	CapNamedBuffer Capabilities = 1 << iota
	/** @brief A sub range of a buffer can be bound. */
	CapBindRange
	/** @brief Contiguous points of one target can be bound with a single call. */
	CapMultiBind
	/** @brief Immutable texture storage is available. */
	CapTextureStorage
	/** @brief Textures can be bound to a unit directly, without an active unit. */
	CapBindTextureUnit
	/** @brief Storage images can be bound. */
	CapBindImages
	/** @brief Buffer contents can be orphaned. */
	CapInvalidateBuffer
)

/** @brief Everything a direct-state-access capable backend provides. */
const CapsDSA = CapNamedBuffer | CapBindRange | CapMultiBind | CapTextureStorage | CapBindTextureUnit | CapBindImages | CapInvalidateBuffer

/** @brief The minimum a fallback backend provides. */
const CapsFallback = CapBindRange | CapBindImages

func (c Capabilities) Has(f Capabilities) bool {
	return c&f == f
}

func (c Capabilities) String() string {
	names := []string{}
	for _, f := range []struct {
		c Capabilities
		n string
	}{
		{CapNamedBuffer, "NamedBuffer"},
		{CapBindRange, "BindRange"},
		{CapMultiBind, "MultiBind"},
		{CapTextureStorage, "TextureStorage"},
		{CapBindTextureUnit, "BindTextureUnit"},
		{CapBindImages, "BindImages"},
		{CapInvalidateBuffer, "InvalidateBuffer"},
	} {
		if c.Has(f.c) {
			names = append(names, f.n)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

/** @brief Implementation limits queried from the backend. */
type Limits struct {
	MaxUniformBufferBindings     uint32
	MaxStorageBufferBindings     uint32
	MaxTextureUnits              uint32
	MaxImageUnits                uint32
	UniformBufferOffsetAlignment uint64
	StorageBufferOffsetAlignment uint64
}

// MaxPoints returns the number of binding points available for target.
func (l Limits) MaxPoints(target BindTarget) uint32 {
	switch target {
	case BindTargetUniformBuffer:
		return l.MaxUniformBufferBindings
	case BindTargetStorageBuffer:
		return l.MaxStorageBufferBindings
	case BindTargetTexture:
		return l.MaxTextureUnits
	case BindTargetImage:
		return l.MaxImageUnits
	}
	return 0
}

// DefaultLimits are the minimums guaranteed by a GL 4.6 core context.
func DefaultLimits() Limits {
	return Limits{
		MaxUniformBufferBindings:     84,
		MaxStorageBufferBindings:     8,
		MaxTextureUnits:              80,
		MaxImageUnits:                8,
		UniformBufferOffsetAlignment: 256,
		StorageBufferOffsetAlignment: 256,
	}
}

/** @brief One element of a multi-bind buffer call. */
type BufferBinding struct {
	Handle uint32
	Offset uint64
	/** @brief 0 binds the whole buffer. */
	Size uint64
}

/** @brief The global backend state points used to validate the binding state cache. */
type CanonicalState struct {
	Program     uint32
	VertexArray uint32
}
