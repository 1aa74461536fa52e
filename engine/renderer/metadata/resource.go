package metadata

import "fmt"

/** @brief The closed set of resource kinds a shader can bind. */
type ResourceKind uint8

const (
	/** @brief No resource. Used by empty handles. */
	ResourceKindNone ResourceKind = iota
	ResourceKindUniformBuffer
	ResourceKindStorageBuffer
	ResourceKindTexture2D
	ResourceKindTextureCube
	ResourceKindImage2D
	ResourceKindUniformBufferArray
	ResourceKindStorageBufferArray
	ResourceKindTexture2DArray
	ResourceKindTextureCubeArray
)

var resourceKindNames = [...]string{
	ResourceKindNone:               "None",
	ResourceKindUniformBuffer:      "UniformBuffer",
	ResourceKindStorageBuffer:      "StorageBuffer",
	ResourceKindTexture2D:          "Texture2D",
	ResourceKindTextureCube:        "TextureCube",
	ResourceKindImage2D:            "Image2D",
	ResourceKindUniformBufferArray: "UniformBufferArray",
	ResourceKindStorageBufferArray: "StorageBufferArray",
	ResourceKindTexture2DArray:     "Texture2DArray",
	ResourceKindTextureCubeArray:   "TextureCubeArray",
}

func (k ResourceKind) String() string {
	if int(k) < len(resourceKindNames) {
		return resourceKindNames[k]
	}
	return fmt.Sprintf("ResourceKind(%d)", uint8(k))
}

// ResourceKindFromString is the inverse of String. Matching is exact.
func ResourceKindFromString(s string) (ResourceKind, error) {
	for i, n := range resourceKindNames {
		if n == s && i != int(ResourceKindNone) {
			return ResourceKind(i), nil
		}
	}
	return ResourceKindNone, fmt.Errorf("string %s is not a valid ResourceKind", s)
}

func (k ResourceKind) IsArray() bool {
	switch k {
	case ResourceKindUniformBufferArray, ResourceKindStorageBufferArray, ResourceKindTexture2DArray, ResourceKindTextureCubeArray:
		return true
	}
	return false
}

// Element returns the single form of an array kind, or the kind itself.
func (k ResourceKind) Element() ResourceKind {
	switch k {
	case ResourceKindUniformBufferArray:
		return ResourceKindUniformBuffer
	case ResourceKindStorageBufferArray:
		return ResourceKindStorageBuffer
	case ResourceKindTexture2DArray:
		return ResourceKindTexture2D
	case ResourceKindTextureCubeArray:
		return ResourceKindTextureCube
	}
	return k
}

// Array returns the array form of a single kind. Image2D has no array form and
// is returned unchanged.
func (k ResourceKind) Array() ResourceKind {
	switch k {
	case ResourceKindUniformBuffer:
		return ResourceKindUniformBufferArray
	case ResourceKindStorageBuffer:
		return ResourceKindStorageBufferArray
	case ResourceKindTexture2D:
		return ResourceKindTexture2DArray
	case ResourceKindTextureCube:
		return ResourceKindTextureCubeArray
	}
	return k
}

func (k ResourceKind) Target() BindTarget {
	switch k.Element() {
	case ResourceKindUniformBuffer:
		return BindTargetUniformBuffer
	case ResourceKindStorageBuffer:
		return BindTargetStorageBuffer
	case ResourceKindTexture2D, ResourceKindTextureCube:
		return BindTargetTexture
	case ResourceKindImage2D:
		return BindTargetImage
	}
	return BindTargetNone
}

func (k ResourceKind) IsBuffer() bool {
	t := k.Target()
	return t == BindTargetUniformBuffer || t == BindTargetStorageBuffer
}

func (k ResourceKind) IsTexture() bool {
	return k.Target() == BindTargetTexture
}

// TextureType is only meaningful for texture kinds.
func (k ResourceKind) TextureType() TextureType {
	if k.Element() == ResourceKindTextureCube {
		return TextureTypeCube
	}
	return TextureType2d
}

/**
 * @brief The binding namespace a kind lives in. Binding points are only unique
 * within a target (uniform buffer 0 and texture unit 0 are different slots).
 * Targets are ordered the way bindings are emitted within a group.
 */
type BindTarget uint8

const (
	BindTargetNone BindTarget = iota
	BindTargetUniformBuffer
	BindTargetStorageBuffer
	BindTargetTexture
	BindTargetImage
)

var AllBindTargets = []BindTarget{BindTargetUniformBuffer, BindTargetStorageBuffer, BindTargetTexture, BindTargetImage}

func (t BindTarget) String() string {
	switch t {
	case BindTargetUniformBuffer:
		return "uniform_buffer"
	case BindTargetStorageBuffer:
		return "storage_buffer"
	case BindTargetTexture:
		return "texture"
	case BindTargetImage:
		return "image"
	}
	return "none"
}

/** @brief A reference to a GPU buffer, optionally restricted to a range. */
type BufferRef struct {
	/** @brief Raw GPU id. 0 means no object. */
	ID uint32
	/** @brief Offset in bytes into the buffer. */
	Offset uint64
	/** @brief Size in bytes of the bound range. 0 binds the whole buffer. */
	Size uint64
}

/** @brief A reference to a GPU texture object. */
type TextureRef struct {
	ID          uint32
	TextureType TextureType
	Width       uint32
	Height      uint32
}

type ImageAccess uint8

const (
	ImageAccessReadWrite ImageAccess = iota
	ImageAccessRead
	ImageAccessWrite
)

/** @brief A reference to one level/layer of a texture bound as a storage image. */
type ImageRef struct {
	ID    uint32
	Level int32
	// Layer -1 binds every layer of an array or cube texture.
	Layer  int32
	Access ImageAccess
	// Format is backend specific (e.g. a GL internal format enum).
	Format uint32
}

/**
 * @brief A tagged union over the concrete GPU objects a binding can hold.
 * Kind selects which of the fields is meaningful. The zero value is the empty
 * (unbound) handle.
 */
type ResourceHandle struct {
	Kind     ResourceKind
	Buffer   BufferRef
	Texture  TextureRef
	Image    ImageRef
	Buffers  []BufferRef
	Textures []TextureRef
}

func NewUniformBuffer(id uint32, offset, size uint64) ResourceHandle {
	return ResourceHandle{Kind: ResourceKindUniformBuffer, Buffer: BufferRef{ID: id, Offset: offset, Size: size}}
}

func NewStorageBuffer(id uint32, offset, size uint64) ResourceHandle {
	return ResourceHandle{Kind: ResourceKindStorageBuffer, Buffer: BufferRef{ID: id, Offset: offset, Size: size}}
}

func NewTexture2D(id uint32) ResourceHandle {
	return ResourceHandle{Kind: ResourceKindTexture2D, Texture: TextureRef{ID: id, TextureType: TextureType2d}}
}

func NewTextureCube(id uint32) ResourceHandle {
	return ResourceHandle{Kind: ResourceKindTextureCube, Texture: TextureRef{ID: id, TextureType: TextureTypeCube}}
}

func NewImage2D(ref ImageRef) ResourceHandle {
	return ResourceHandle{Kind: ResourceKindImage2D, Image: ref}
}

func NewUniformBufferArray(buffers ...BufferRef) ResourceHandle {
	return ResourceHandle{Kind: ResourceKindUniformBufferArray, Buffers: append([]BufferRef(nil), buffers...)}
}

func NewStorageBufferArray(buffers ...BufferRef) ResourceHandle {
	return ResourceHandle{Kind: ResourceKindStorageBufferArray, Buffers: append([]BufferRef(nil), buffers...)}
}

func NewTexture2DArray(ids ...uint32) ResourceHandle {
	h := ResourceHandle{Kind: ResourceKindTexture2DArray}
	for _, id := range ids {
		h.Textures = append(h.Textures, TextureRef{ID: id, TextureType: TextureType2d})
	}
	return h
}

func NewTextureCubeArray(ids ...uint32) ResourceHandle {
	h := ResourceHandle{Kind: ResourceKindTextureCubeArray}
	for _, id := range ids {
		h.Textures = append(h.Textures, TextureRef{ID: id, TextureType: TextureTypeCube})
	}
	return h
}

func (h ResourceHandle) IsEmpty() bool {
	return h.Kind == ResourceKindNone
}

// Len is the number of elements: 1 for single kinds, the slice length for
// arrays, 0 for the empty handle.
func (h ResourceHandle) Len() int {
	switch {
	case h.Kind == ResourceKindNone:
		return 0
	case h.Kind == ResourceKindUniformBufferArray || h.Kind == ResourceKindStorageBufferArray:
		return len(h.Buffers)
	case h.Kind == ResourceKindTexture2DArray || h.Kind == ResourceKindTextureCubeArray:
		return len(h.Textures)
	}
	return 1
}

// Element returns element i as a single-kind handle.
func (h ResourceHandle) Element(i int) (ResourceHandle, bool) {
	if i < 0 || i >= h.Len() {
		return ResourceHandle{}, false
	}
	if !h.Kind.IsArray() {
		return h, true
	}
	e := ResourceHandle{Kind: h.Kind.Element()}
	if h.Kind.IsBuffer() {
		e.Buffer = h.Buffers[i]
	} else {
		e.Texture = h.Textures[i]
	}
	return e, true
}

// AsArray wraps a single handle into its one-element array form.
func (h ResourceHandle) AsArray() ResourceHandle {
	if h.Kind.IsArray() || h.Kind == ResourceKindNone || h.Kind == ResourceKindImage2D {
		return h
	}
	a := ResourceHandle{Kind: h.Kind.Array()}
	if h.Kind.IsBuffer() {
		a.Buffers = []BufferRef{h.Buffer}
	} else {
		a.Textures = []TextureRef{h.Texture}
	}
	return a
}

// RawID is the GPU id of the first element, 0 if there is none.
func (h ResourceHandle) RawID() uint32 {
	e, ok := h.Element(0)
	if !ok {
		return 0
	}
	switch e.Kind.Target() {
	case BindTargetUniformBuffer, BindTargetStorageBuffer:
		return e.Buffer.ID
	case BindTargetTexture:
		return e.Texture.ID
	case BindTargetImage:
		return e.Image.ID
	}
	return 0
}

// Equal compares kind and every referenced object.
func (h ResourceHandle) Equal(o ResourceHandle) bool {
	if h.Kind != o.Kind || h.Len() != o.Len() {
		return false
	}
	switch {
	case h.Kind == ResourceKindNone:
		return true
	case h.Kind.IsArray() && h.Kind.IsBuffer():
		for i := range h.Buffers {
			if h.Buffers[i] != o.Buffers[i] {
				return false
			}
		}
		return true
	case h.Kind.IsArray():
		for i := range h.Textures {
			if h.Textures[i] != o.Textures[i] {
				return false
			}
		}
		return true
	case h.Kind.IsBuffer():
		return h.Buffer == o.Buffer
	case h.Kind.IsTexture():
		return h.Texture == o.Texture
	}
	return h.Image == o.Image
}

func (h ResourceHandle) String() string {
	if h.Kind.IsArray() {
		return fmt.Sprintf("%s[%d]{first=%d}", h.Kind, h.Len(), h.RawID())
	}
	return fmt.Sprintf("%s{id=%d}", h.Kind, h.RawID())
}
