package imaging

import (
	"fmt"
	"image"

	"github.com/mchmarny/dermai/pkg/tensor"
	"golang.org/x/image/draw"
)

const (
	DefaultSize      = 224
	DefaultClipLimit = 2.0
	DefaultTiles     = 8

	channels = 3
)

// Preprocessor turns raw images into fixed-size RGB tensors scaled to [0,1].
// The zero value is not usable; use NewPreprocessor.
type Preprocessor struct {
	Size int

	// Equalize enables CLAHE on the luma channel after resizing.
	Equalize  bool
	ClipLimit float64
	Tiles     int
}

// NewPreprocessor returns a preprocessor producing size x size tensors
// without contrast enhancement.
func NewPreprocessor(size int) *Preprocessor {
	if size <= 0 {
		size = DefaultSize
	}
	return &Preprocessor{
		Size:      size,
		ClipLimit: DefaultClipLimit,
		Tiles:     DefaultTiles,
	}
}

// WithEqualization returns a copy of p with CLAHE enabled.
func (p *Preprocessor) WithEqualization(clipLimit float64, tiles int) *Preprocessor {
	c := *p
	c.Equalize = true
	if clipLimit > 0 {
		c.ClipLimit = clipLimit
	}
	if tiles > 0 {
		c.Tiles = tiles
	}
	return &c
}

// Shape is the tensor shape produced by p.
func (p *Preprocessor) Shape() tensor.Shape {
	return tensor.Shape{Height: p.Size, Width: p.Size, Channels: channels}
}

// Prepare converts img to RGB, resizes it and applies the optional
// contrast enhancement. The returned raster is what gets stored when
// processed copies are written.
func (p *Preprocessor) Prepare(img image.Image) (*image.RGBA, error) {
	rgb, err := ToRGBA(img)
	if err != nil {
		return nil, err
	}

	out := rgb
	if rgb.Bounds().Dx() != p.Size || rgb.Bounds().Dy() != p.Size {
		out = image.NewRGBA(image.Rect(0, 0, p.Size, p.Size))
		// CatmullRom widens its support when shrinking, which averages
		// over the covered source area.
		draw.CatmullRom.Scale(out, out.Bounds(), rgb, rgb.Bounds(), draw.Src, nil)
	}

	if p.Equalize {
		EqualizeLuminance(out, p.ClipLimit, p.Tiles)
	}
	return out, nil
}

// Process runs the full pipeline on a decoded image.
func (p *Preprocessor) Process(img image.Image) (*tensor.Tensor, error) {
	rgb, err := p.Prepare(img)
	if err != nil {
		return nil, err
	}
	return ToTensor(rgb), nil
}

// ProcessBytes decodes and processes an in-memory payload.
func (p *Preprocessor) ProcessBytes(b []byte) (*tensor.Tensor, error) {
	img, err := DecodeBytes(b)
	if err != nil {
		return nil, err
	}
	return p.Process(img)
}

// ProcessFile decodes and processes the image at path.
func (p *Preprocessor) ProcessFile(path string) (*tensor.Tensor, error) {
	img, err := DecodeFile(path)
	if err != nil {
		return nil, err
	}
	t, err := p.Process(img)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ToTensor scales the RGB channels of img linearly from [0,255] to [0,1].
func ToTensor(img *image.RGBA) *tensor.Tensor {
	b := img.Bounds()
	t := tensor.New(b.Dy(), b.Dx(), channels)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			o := img.PixOffset(x, y)
			t.Data[i] = float32(img.Pix[o]) / 255
			t.Data[i+1] = float32(img.Pix[o+1]) / 255
			t.Data[i+2] = float32(img.Pix[o+2]) / 255
			i += channels
		}
	}
	return t
}
