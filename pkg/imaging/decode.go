package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	// ErrDecode is returned when the payload is not a supported raster image.
	ErrDecode = errors.New("unable to decode image")

	// ErrUnsupportedChannelLayout is returned when a decoded image cannot be
	// converted to 3-channel RGB.
	ErrUnsupportedChannelLayout = errors.New("unsupported channel layout")
)

// Decode reads a raster image from r.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, format, nil
}

// DecodeBytes decodes an in-memory image payload.
func DecodeBytes(b []byte) (image.Image, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	img, _, err := Decode(bytes.NewReader(b))
	return img, err
}

// DecodeFile decodes the image stored at path.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// ToRGBA converts any decoded image to an opaque RGBA raster anchored at (0,0).
// Alpha is dropped; the result carries three meaningful channels.
func ToRGBA(img image.Image) (*image.RGBA, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrUnsupportedChannelLayout)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty bounds %v", ErrUnsupportedChannelLayout, b)
	}
	if p, ok := img.(*image.Paletted); ok && len(p.Palette) == 0 {
		return nil, fmt.Errorf("%w: paletted image without palette", ErrUnsupportedChannelLayout)
	}

	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.Opaque, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst, nil
}
