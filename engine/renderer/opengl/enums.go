package opengl

import (
	"fmt"

	"github.com/go-gl/gl/v4.6-core/gl"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

func bufferTarget(target metadata.BindTarget) (uint32, error) {
	switch target {
	case metadata.BindTargetUniformBuffer:
		return gl.UNIFORM_BUFFER, nil
	case metadata.BindTargetStorageBuffer:
		return gl.SHADER_STORAGE_BUFFER, nil
	}
	return 0, fmt.Errorf("%s is not a buffer target", target)
}

// bindingQuery is the indexed query returning the buffer bound at a point.
func bindingQuery(target metadata.BindTarget) uint32 {
	switch target {
	case metadata.BindTargetUniformBuffer:
		return gl.UNIFORM_BUFFER_BINDING
	case metadata.BindTargetStorageBuffer:
		return gl.SHADER_STORAGE_BUFFER_BINDING
	case metadata.BindTargetImage:
		return gl.IMAGE_BINDING_NAME
	}
	return 0
}

func textureTarget(t metadata.TextureType) uint32 {
	if t == metadata.TextureTypeCube {
		return gl.TEXTURE_CUBE_MAP
	}
	return gl.TEXTURE_2D
}

func textureBindingQuery(t metadata.TextureType) uint32 {
	if t == metadata.TextureTypeCube {
		return gl.TEXTURE_BINDING_CUBE_MAP
	}
	return gl.TEXTURE_BINDING_2D
}

func imageAccess(a metadata.ImageAccess) uint32 {
	switch a {
	case metadata.ImageAccessRead:
		return gl.READ_ONLY
	case metadata.ImageAccessWrite:
		return gl.WRITE_ONLY
	}
	return gl.READ_WRITE
}

// imageFormat defaults an unset format to RGBA8.
func imageFormat(format uint32) uint32 {
	if format == 0 {
		return gl.RGBA8
	}
	return format
}

/** @brief Sized internal and client formats for a channel count. */
func pixelFormats(channels uint8) (internal, format uint32, err error) {
	switch channels {
	case 1:
		return gl.R8, gl.RED, nil
	case 2:
		return gl.RG8, gl.RG, nil
	case 3:
		return gl.RGB8, gl.RGB, nil
	case 4:
		return gl.RGBA8, gl.RGBA, nil
	}
	return 0, 0, fmt.Errorf("unsupported channel count %d", channels)
}

// bufferRange returns the arguments of a ranged bind. A zero size binds the
// remaining bytes of the buffer after offset.
func bufferRange(offset, size, bufferSize uint64) (int, int) {
	if size == 0 && bufferSize > offset {
		size = bufferSize - offset
	}
	return int(offset), int(size)
}
