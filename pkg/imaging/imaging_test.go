package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/mchmarny/dermai/pkg/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradientImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / max(1, w-1)),
				G: uint8(y * 255 / max(1, h-1)),
				B: 128,
				A: 255,
			})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestProcessBytes_ShapeAndRange(t *testing.T) {
	p := NewPreprocessor(32)
	out, err := p.ProcessBytes(encodePNG(t, gradientImage(100, 60)))
	require.NoError(t, err)
	require.NoError(t, out.Check(tensor.Shape{Height: 32, Width: 32, Channels: 3}))

	for _, v := range out.Data {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
}

func TestProcessBytes_Deterministic(t *testing.T) {
	p := NewPreprocessor(24).WithEqualization(2.0, 4)
	b := encodePNG(t, gradientImage(50, 50))

	a, err := p.ProcessBytes(b)
	require.NoError(t, err)
	c, err := p.ProcessBytes(b)
	require.NoError(t, err)
	assert.Equal(t, a.Data, c.Data)
}

func TestProcessBytes_DecodeError(t *testing.T) {
	p := NewPreprocessor(32)
	_, err := p.ProcessBytes([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrDecode)

	_, err = p.ProcessBytes(nil)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestProcessFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lesion.png")
	require.NoError(t, os.WriteFile(path, encodePNG(t, gradientImage(20, 20)), 0600))

	p := NewPreprocessor(16)
	out, err := p.ProcessFile(path)
	require.NoError(t, err)
	assert.Equal(t, 16, out.Width)

	_, err = p.ProcessFile(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

func TestToTensor_Scaling(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 255, G: 0, B: 51, A: 255})
	out := ToTensor(img)
	assert.Equal(t, float32(1), out.Data[0])
	assert.Equal(t, float32(0), out.Data[1])
	assert.InDelta(t, 0.2, out.Data[2], 1e-6)
}

func TestToRGBA_GrayAndEmpty(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 4, 4))
	g.SetGray(1, 1, color.Gray{Y: 200})
	rgb, err := ToRGBA(g)
	require.NoError(t, err)
	o := rgb.PixOffset(1, 1)
	assert.Equal(t, []uint8{200, 200, 200, 255}, rgb.Pix[o:o+4])

	_, err = ToRGBA(image.NewRGBA(image.Rectangle{}))
	assert.ErrorIs(t, err, ErrUnsupportedChannelLayout)
	_, err = ToRGBA(nil)
	assert.ErrorIs(t, err, ErrUnsupportedChannelLayout)
}

func lumaStdDev(img *image.RGBA) float64 {
	var sum, sq float64
	n := 0
	for i := 0; i < len(img.Pix); i += 4 {
		y, _, _ := color.RGBToYCbCr(img.Pix[i], img.Pix[i+1], img.Pix[i+2])
		sum += float64(y)
		sq += float64(y) * float64(y)
		n++
	}
	mean := sum / float64(n)
	return math.Sqrt(sq/float64(n) - mean*mean)
}

func TestEqualizeLuminance_IncreasesContrast(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := uint8(100 + (x+y)%20)
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	before := lumaStdDev(img)
	EqualizeLuminance(img, 2.0, 2)
	assert.Greater(t, lumaStdDev(img), before)
}

func TestEqualizeLuminance_KeepsNeutralChroma(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			v := uint8(x * 16)
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	EqualizeLuminance(img, 2.0, 4)
	for i := 0; i < len(img.Pix); i += 4 {
		assert.InDelta(t, img.Pix[i], img.Pix[i+1], 1)
		assert.InDelta(t, img.Pix[i], img.Pix[i+2], 1)
	}
}

func TestAugmentation_Deterministic(t *testing.T) {
	p := NewPreprocessor(16)
	src, err := p.Process(gradientImage(16, 16))
	require.NoError(t, err)

	aug := DefaultAugmentation()
	a := aug.Apply(src, rand.New(rand.NewPCG(7, 1)))
	b := aug.Apply(src, rand.New(rand.NewPCG(7, 1)))
	assert.Equal(t, a.Data, b.Data)
	assert.Equal(t, src.Shape, a.Shape)

	for _, v := range a.Data {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
}

func TestAugmentation_DoesNotMutateInput(t *testing.T) {
	src := ToTensor(gradientImage(8, 8))
	orig := src.Clone()
	DefaultAugmentation().Apply(src, rand.New(rand.NewPCG(1, 2)))
	assert.Equal(t, orig.Data, src.Data)
}

func TestAugmentation_Disabled(t *testing.T) {
	src := ToTensor(gradientImage(8, 8))
	out := Augmentation{}.Apply(src, rand.New(rand.NewPCG(1, 2)))
	assert.Equal(t, src.Data, out.Data)
}

func TestFlip_Involution(t *testing.T) {
	src := ToTensor(gradientImage(5, 3))
	x := src.Clone()
	flip(x, true)
	assert.Equal(t, src.At(0, 0, 0), x.At(0, 4, 0))
	flip(x, true)
	assert.Equal(t, src.Data, x.Data)

	flip(x, false)
	assert.Equal(t, src.At(0, 1, 1), x.At(2, 1, 1))
	flip(x, false)
	assert.Equal(t, src.Data, x.Data)
}

func TestAffine_Identity(t *testing.T) {
	src := ToTensor(gradientImage(6, 6))
	out := affine(src, 0, 0, 0, 1)
	for i := range src.Data {
		assert.InDelta(t, src.Data[i], out.Data[i], 1e-6)
	}
}
