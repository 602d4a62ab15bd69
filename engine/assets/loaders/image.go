package loaders

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageData is a decoded image as tightly packed RGBA8 pixels.
type ImageData struct {
	Width  uint32
	Height uint32
	Pixels []byte
}

type ImageParams struct {
	FlipY bool
	// MaxSize downscales the image so that neither side exceeds it. Zero keeps
	// the original size.
	MaxSize int
}

type ImageLoader struct{}

func (il *ImageLoader) Load(path string, params any) (*Resource, error) {
	var p ImageParams
	if typed, ok := params.(*ImageParams); ok && typed != nil {
		p = *typed
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	src, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	data := ToRGBA(src, p)
	return &Resource{
		Name:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		FullPath: path,
		Type:     ResourceTypeImage,
		DataSize: uint64(len(data.Pixels)),
		Data:     data,
	}, nil
}

func (il *ImageLoader) Unload(*Resource) error {
	return nil
}

// ToRGBA converts src to packed RGBA8, scaling it down and flipping it as
// requested by p.
func ToRGBA(src image.Image, p ImageParams) *ImageData {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if p.MaxSize > 0 && (w > p.MaxSize || h > p.MaxSize) {
		if w >= h {
			h = max(1, h*p.MaxSize/w)
			w = p.MaxSize
		} else {
			w = max(1, w*p.MaxSize/h)
			h = p.MaxSize
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	} else {
		draw.BiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	}

	if p.FlipY {
		row := make([]byte, dst.Stride)
		for y := 0; y < h/2; y++ {
			top := dst.Pix[y*dst.Stride : (y+1)*dst.Stride]
			bottom := dst.Pix[(h-1-y)*dst.Stride : (h-y)*dst.Stride]
			copy(row, top)
			copy(top, bottom)
			copy(bottom, row)
		}
	}
	return &ImageData{Width: uint32(w), Height: uint32(h), Pixels: dst.Pix}
}
