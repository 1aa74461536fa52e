package loaders

import (
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

/** @brief Decodes an image file into the pixels of a 2D texture config. */
type TextureLoader struct {
	FlipY bool
}

// Load returns a Resource whose Data is a *metadata.TextureConfig with RGBA pixels.
func (tl *TextureLoader) Load(path string) (*Resource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	if tl.FlipY {
		flipRows(rgba)
	}

	return &Resource{
		Name:     ShaderName(path),
		FullPath: path,
		Type:     ResourceTypeImage,
		DataSize: uint64(len(rgba.Pix)),
		Data: &metadata.TextureConfig{
			Name:         ShaderName(path),
			TextureType:  metadata.TextureType2d,
			Width:        uint32(b.Dx()),
			Height:       uint32(b.Dy()),
			ChannelCount: 4,
			Pixels:       rgba.Pix,
		},
	}, nil
}

func flipRows(img *image.RGBA) {
	h := img.Bounds().Dy()
	row := make([]uint8, img.Stride)
	for y := 0; y < h/2; y++ {
		top := img.Pix[y*img.Stride : (y+1)*img.Stride]
		bottom := img.Pix[(h-1-y)*img.Stride : (h-y)*img.Stride]
		copy(row, top)
		copy(top, bottom)
		copy(bottom, row)
	}
}
