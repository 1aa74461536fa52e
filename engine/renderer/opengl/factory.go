package opengl

import (
	"fmt"

	"github.com/go-gl/gl/v4.6-core/gl"
	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

func (b *Backend) CreateBuffer(config metadata.BufferConfig) (metadata.ResourceHandle, error) {
	if config.Size == 0 {
		return metadata.ResourceHandle{}, fmt.Errorf("buffer %s: size must be greater than 0", config.Name)
	}
	if uint64(len(config.Data)) > config.Size {
		return metadata.ResourceHandle{}, &core.CapacityError{What: "buffer data", Limit: config.Size, Got: uint64(len(config.Data))}
	}
	var newHandle func(id uint32, offset, size uint64) metadata.ResourceHandle
	switch config.Kind.Element() {
	case metadata.ResourceKindUniformBuffer:
		newHandle = metadata.NewUniformBuffer
	case metadata.ResourceKindStorageBuffer:
		newHandle = metadata.NewStorageBuffer
	default:
		return metadata.ResourceHandle{}, &core.TypeMismatchError{Name: config.Name, Expected: metadata.ResourceKindUniformBuffer, Got: config.Kind}
	}

	// Storage sized to config.Size; initial data only covers its prefix.
	data := config.Data
	if uint64(len(data)) < config.Size {
		data = make([]byte, config.Size)
		copy(data, config.Data)
	}

	var id uint32
	if b.dsa {
		gl.CreateBuffers(1, &id)
		gl.NamedBufferStorage(id, int(config.Size), gl.Ptr(data), gl.DYNAMIC_STORAGE_BIT)
	} else {
		target, _ := bufferTarget(config.Kind.Target())
		gl.GenBuffers(1, &id)
		gl.BindBuffer(target, id)
		gl.BufferData(target, int(config.Size), gl.Ptr(data), gl.DYNAMIC_DRAW)
		gl.BindBuffer(target, 0)
	}
	if err := b.check("CreateBuffer", 0); err != nil {
		if id != 0 {
			gl.DeleteBuffers(1, &id)
		}
		return metadata.ResourceHandle{}, err
	}

	h := newHandle(id, 0, config.Size)
	b.objects[id] = h
	core.LogDebug("created %s buffer '%s' (%d bytes) as %d", config.Kind, config.Name, config.Size, id)
	return h, nil
}

func (b *Backend) CreateTexture(config metadata.TextureConfig) (metadata.ResourceHandle, error) {
	if config.Width == 0 || config.Height == 0 {
		return metadata.ResourceHandle{}, fmt.Errorf("texture %s: invalid dimensions %dx%d", config.Name, config.Width, config.Height)
	}
	internal, format, err := pixelFormats(config.ChannelCount)
	if err != nil {
		return metadata.ResourceHandle{}, fmt.Errorf("texture %s: %w", config.Name, err)
	}
	faces := 1
	if config.TextureType == metadata.TextureTypeCube {
		faces = 6
	}
	faceSize := int(config.Width) * int(config.Height) * int(config.ChannelCount)
	if len(config.Pixels) > 0 && len(config.Pixels) < faceSize*faces {
		return metadata.ResourceHandle{}, fmt.Errorf("texture %s: expected %d bytes of pixels, got %d", config.Name, faceSize*faces, len(config.Pixels))
	}
	target := textureTarget(config.TextureType)
	w, h := int32(config.Width), int32(config.Height)

	var id uint32
	if b.dsa {
		gl.CreateTextures(target, 1, &id)
		gl.TextureStorage2D(id, 1, internal, w, h)
		gl.TextureParameteri(id, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
		gl.TextureParameteri(id, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
		if len(config.Pixels) > 0 {
			gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
			if faces == 1 {
				gl.TextureSubImage2D(id, 0, 0, 0, w, h, format, gl.UNSIGNED_BYTE, gl.Ptr(config.Pixels))
			} else {
				// Cube maps are uploaded as six layers.
				gl.TextureSubImage3D(id, 0, 0, 0, 0, w, h, 6, format, gl.UNSIGNED_BYTE, gl.Ptr(config.Pixels))
			}
		}
	} else {
		gl.GenTextures(1, &id)
		gl.ActiveTexture(gl.TEXTURE0 + b.activeUnit)
		gl.BindTexture(target, id)
		gl.TexParameteri(target, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
		gl.TexParameteri(target, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
		gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
		for face := 0; face < faces; face++ {
			faceTarget := target
			if faces == 6 {
				faceTarget = gl.TEXTURE_CUBE_MAP_POSITIVE_X + uint32(face)
			}
			var pixels interface{}
			if len(config.Pixels) > 0 {
				pixels = config.Pixels[face*faceSize : (face+1)*faceSize]
			}
			gl.TexImage2D(faceTarget, 0, int32(internal), w, h, 0, format, gl.UNSIGNED_BYTE, gl.Ptr(pixels))
		}
		gl.BindTexture(target, 0)
	}
	if err := b.check("CreateTexture", 0); err != nil {
		if id != 0 {
			gl.DeleteTextures(1, &id)
		}
		return metadata.ResourceHandle{}, err
	}

	handle := metadata.NewTexture2D(id)
	if config.TextureType == metadata.TextureTypeCube {
		handle = metadata.NewTextureCube(id)
	}
	handle.Texture.Width = config.Width
	handle.Texture.Height = config.Height
	b.objects[id] = handle
	core.LogDebug("created %s texture '%s' (%dx%d) as %d", config.TextureType, config.Name, config.Width, config.Height, id)
	return handle, nil
}

// DestroyResource deletes the buffers or textures the handle references.
// Only objects created by this backend can be destroyed.
func (b *Backend) DestroyResource(handle metadata.ResourceHandle) error {
	for i := 0; i < handle.Len(); i++ {
		e, _ := handle.Element(i)
		id := e.RawID()
		obj, ok := b.objects[id]
		if !ok {
			return fmt.Errorf("destroy %s: unknown object %d", handle, id)
		}
		if obj.Kind.IsBuffer() {
			gl.DeleteBuffers(1, &id)
		} else {
			gl.DeleteTextures(1, &id)
		}
		delete(b.objects, id)
	}
	return b.check("DestroyResource", 0)
}
