package metadata

import (
	"image/color"

	"golang.org/x/image/colornames"
)

const (
	/** @brief The default texture name. */
	DEFAULT_TEXTURE_NAME string = "default"
	/** @brief The default diffuse texture name. */
	DEFAULT_DIFFUSE_TEXTURE_NAME string = "default_DIFF"
	/** @brief The default specular texture name. */
	DEFAULT_SPECULAR_TEXTURE_NAME string = "default_SPEC"
	/** @brief The default normal texture name. */
	DEFAULT_NORMAL_TEXTURE_NAME string = "default_NORM"
	/** @brief The default cube texture name. */
	DEFAULT_CUBE_TEXTURE_NAME string = "default_CUBE"
)

/**
 * @brief Represents various types of textures.
 */
type TextureType int

const (
	/** @brief A standard two-dimensional texture. */
	TextureType2d TextureType = iota
	/** @brief A cube texture, used for cubemaps. */
	TextureTypeCube
)

func (t TextureType) String() string {
	if t == TextureTypeCube {
		return "cube"
	}
	return "2d"
}

/**
 * @brief The description of a texture to be created by a resource factory.
 */
type TextureConfig struct {
	/** @brief The texture Name. */
	Name        string
	TextureType TextureType
	Width       uint32
	Height      uint32
	/** @brief The number of channels in Pixels. */
	ChannelCount uint8
	/** @brief Raw pixels, row major. Cube textures hold six faces back to back. May be nil. */
	Pixels []uint8
}

/**
 * @brief The description of a buffer to be created by a resource factory.
 */
type BufferConfig struct {
	Name string
	Kind ResourceKind
	Size uint64
	/** @brief Initial contents. May be nil. */
	Data []byte
}

func fill(pixels []uint8, c color.RGBA) {
	for i := 0; i+3 < len(pixels); i += 4 {
		pixels[i+0] = c.R
		pixels[i+1] = c.G
		pixels[i+2] = c.B
		pixels[i+3] = c.A
	}
}

func solid(name string, dim uint32, c color.RGBA) TextureConfig {
	pixels := make([]uint8, dim*dim*4)
	fill(pixels, c)
	return TextureConfig{
		Name:         name,
		TextureType:  TextureType2d,
		Width:        dim,
		Height:       dim,
		ChannelCount: 4,
		Pixels:       pixels,
	}
}

// CheckerboardTexture builds the default 256x256 blue/white checkerboard.
// Generated in code so the defaults carry no asset dependency.
func CheckerboardTexture() TextureConfig {
	const texDimension = uint32(256)
	const channels = uint32(4)
	pixels := make([]uint8, texDimension*texDimension*channels)
	fill(pixels, colornames.White)

	for row := uint32(0); row < texDimension; row++ {
		for col := uint32(0); col < texDimension; col++ {
			if (row%2 == 0) != (col%2 == 0) {
				continue
			}
			indexBpp := ((row * texDimension) + col) * channels
			pixels[indexBpp+0] = colornames.Blue.R
			pixels[indexBpp+1] = colornames.Blue.G
			pixels[indexBpp+2] = colornames.Blue.B
		}
	}
	return TextureConfig{
		Name:         DEFAULT_TEXTURE_NAME,
		TextureType:  TextureType2d,
		Width:        texDimension,
		Height:       texDimension,
		ChannelCount: uint8(channels),
		Pixels:       pixels,
	}
}

// DefaultTextures returns the textures created for default resources:
// checkerboard, white diffuse, black specular, a +Z normal map and a black cube.
func DefaultTextures() []TextureConfig {
	up := color.RGBA{R: 128, G: 128, B: 255, A: 255}

	cube := TextureConfig{
		Name:         DEFAULT_CUBE_TEXTURE_NAME,
		TextureType:  TextureTypeCube,
		Width:        1,
		Height:       1,
		ChannelCount: 4,
		Pixels:       make([]uint8, 6*4),
	}
	fill(cube.Pixels, colornames.Black)

	return []TextureConfig{
		CheckerboardTexture(),
		solid(DEFAULT_DIFFUSE_TEXTURE_NAME, 16, colornames.White),
		solid(DEFAULT_SPECULAR_TEXTURE_NAME, 16, colornames.Black),
		solid(DEFAULT_NORMAL_TEXTURE_NAME, 16, up),
		cube,
	}
}
