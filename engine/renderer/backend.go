package renderer

import "github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"

/**
 * @brief The narrow capability the binding core drives to talk to a GPU API.
 * Every operation reports failure through its error; the caller treats errors
 * as diagnostics and retries on the next apply.
 */
type BindingBackend interface {
	Name() string
	Capabilities() metadata.Capabilities
	Limits() metadata.Limits

	// UseProgram makes program current. The binding core only calls it to track
	// canonical state; program creation is out of its hands.
	UseProgram(program uint32) error

	// BindUniformBuffer binds handle at point. A size of 0 binds the whole buffer.
	// After success QueryCurrentBinding(BindTargetUniformBuffer, point) returns handle.
	BindUniformBuffer(point, handle uint32, offset, size uint64) error
	BindStorageBuffer(point, handle uint32, offset, size uint64) error
	// BindTexture binds directly to unit. Requires CapBindTextureUnit.
	BindTexture(unit, handle uint32, textureType metadata.TextureType) error
	// ActivateTextureUnit and BindTextureToActiveUnit are the fallback pair.
	ActivateTextureUnit(unit uint32) error
	BindTextureToActiveUnit(handle uint32, textureType metadata.TextureType) error
	// BindImage requires CapBindImages.
	BindImage(unit uint32, image metadata.ImageRef) error

	// The multi-bind calls require CapMultiBind. They either bind every item
	// starting at first or leave prior state intact.
	MultiBindUniformBuffers(first uint32, items []metadata.BufferBinding) error
	MultiBindStorageBuffers(first uint32, items []metadata.BufferBinding) error
	MultiBindTextures(first uint32, handles []uint32) error

	UnbindOne(target metadata.BindTarget, point uint32) error
	UnbindAllOfKind(target metadata.BindTarget) error

	// QueryCurrentBinding returns the raw handle bound at point, 0 for none.
	QueryCurrentBinding(target metadata.BindTarget, point uint32) (uint32, error)
	QueryCanonicalState() (metadata.CanonicalState, error)

	// InvalidateBuffer orphans the contents of handle. Requires CapInvalidateBuffer.
	InvalidateBuffer(handle uint32) error
}

/**
 * @brief Optionally implemented by backends that can create the GPU objects
 * used for default and pooled resources.
 */
type ResourceFactory interface {
	CreateBuffer(config metadata.BufferConfig) (metadata.ResourceHandle, error)
	CreateTexture(config metadata.TextureConfig) (metadata.ResourceHandle, error)
	DestroyResource(handle metadata.ResourceHandle) error
}

/**
 * @brief Implemented by backends that record binds and submit them later
 * (descriptor writes). Called once per frame after every registry applied.
 */
type Flusher interface {
	Flush() error
}
