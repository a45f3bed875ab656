package imaging

import (
	"math"
	"math/rand/v2"

	"github.com/mchmarny/dermai/pkg/tensor"
)

// Augmentation holds the random transform ranges applied to training samples.
type Augmentation struct {
	FlipHorizontal bool    `yaml:"flipHorizontal"`
	FlipVertical   bool    `yaml:"flipVertical"`
	Brightness     float64 `yaml:"brightness"`
	ContrastLow    float64 `yaml:"contrastLow"`
	ContrastHigh   float64 `yaml:"contrastHigh"`
	RotationDeg    float64 `yaml:"rotationDeg"`
	Shift          float64 `yaml:"shift"`
	Zoom           float64 `yaml:"zoom"`
}

// DefaultAugmentation returns the light augmentation used for training.
func DefaultAugmentation() Augmentation {
	return Augmentation{
		FlipHorizontal: true,
		FlipVertical:   true,
		Brightness:     0.1,
		ContrastLow:    0.9,
		ContrastHigh:   1.1,
		RotationDeg:    20,
		Shift:          0.1,
		Zoom:           0.1,
	}
}

// Apply returns an augmented copy of t. The input is not modified.
func (a Augmentation) Apply(t *tensor.Tensor, rng *rand.Rand) *tensor.Tensor {
	out := t.Clone()

	if a.FlipHorizontal && rng.Float64() < 0.5 {
		flip(out, true)
	}
	if a.FlipVertical && rng.Float64() < 0.5 {
		flip(out, false)
	}

	if a.RotationDeg > 0 || a.Shift > 0 || a.Zoom > 0 {
		theta := uniform(rng, -a.RotationDeg, a.RotationDeg) * math.Pi / 180
		dx := uniform(rng, -a.Shift, a.Shift) * float64(t.Width)
		dy := uniform(rng, -a.Shift, a.Shift) * float64(t.Height)
		zoom := uniform(rng, 1-a.Zoom, 1+a.Zoom)
		out = affine(out, theta, dx, dy, zoom)
	}

	if a.Brightness > 0 {
		delta := float32(uniform(rng, -a.Brightness, a.Brightness))
		for i := range out.Data {
			out.Data[i] = clamp01(out.Data[i] + delta)
		}
	}

	if a.ContrastHigh > a.ContrastLow && a.ContrastLow > 0 {
		adjustContrast(out, float32(uniform(rng, a.ContrastLow, a.ContrastHigh)))
	}
	return out
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + rng.Float64()*(hi-lo)
}

func flip(t *tensor.Tensor, horizontal bool) {
	h, w := t.Height, t.Width
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sy, sx := y, w-1-x
			if !horizontal {
				sy, sx = h-1-y, x
			}
			if sy*w+sx <= y*w+x {
				continue
			}
			for c := 0; c < t.Channels; c++ {
				i, j := t.Index(y, x, c), t.Index(sy, sx, c)
				t.Data[i], t.Data[j] = t.Data[j], t.Data[i]
			}
		}
	}
}

// affine resamples t under rotation, translation and zoom about the image
// center. Samples falling outside are filled from the nearest edge pixel.
func affine(t *tensor.Tensor, theta, dx, dy, zoom float64) *tensor.Tensor {
	out := tensor.New(t.Height, t.Width, t.Channels)
	cx, cy := float64(t.Width-1)/2, float64(t.Height-1)/2
	cos, sin := math.Cos(theta), math.Sin(theta)

	for y := 0; y < t.Height; y++ {
		for x := 0; x < t.Width; x++ {
			px := (float64(x) - cx - dx) / zoom
			py := (float64(y) - cy - dy) / zoom
			sx := cos*px + sin*py + cx
			sy := -sin*px + cos*py + cy
			for c := 0; c < t.Channels; c++ {
				out.Set(y, x, c, bilinear(t, sx, sy, c))
			}
		}
	}
	return out
}

func bilinear(t *tensor.Tensor, x, y float64, c int) float32 {
	x = math.Max(0, math.Min(x, float64(t.Width-1)))
	y = math.Max(0, math.Min(y, float64(t.Height-1)))
	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, t.Width-1), min(y0+1, t.Height-1)
	fx, fy := float32(x-float64(x0)), float32(y-float64(y0))

	top := t.At(y0, x0, c)*(1-fx) + t.At(y0, x1, c)*fx
	bot := t.At(y1, x0, c)*(1-fx) + t.At(y1, x1, c)*fx
	return top*(1-fy) + bot*fy
}

func adjustContrast(t *tensor.Tensor, factor float32) {
	n := t.Height * t.Width
	for c := 0; c < t.Channels; c++ {
		var sum float32
		for i := c; i < len(t.Data); i += t.Channels {
			sum += t.Data[i]
		}
		mean := sum / float32(n)
		for i := c; i < len(t.Data); i += t.Channels {
			t.Data[i] = clamp01((t.Data[i]-mean)*factor + mean)
		}
	}
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
