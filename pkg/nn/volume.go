package nn

import (
	"math"
	"math/rand/v2"

	"github.com/mchmarny/dermai/pkg/tensor"
)

// Volume is a float64 activation map in height, width, channel order.
type Volume struct {
	H, W, C int
	Data    []float64
}

func newVolume(h, w, c int) *Volume {
	return &Volume{H: h, W: w, C: c, Data: make([]float64, h*w*c)}
}

func (v *Volume) shape() tensor.Shape {
	return tensor.Shape{Height: v.H, Width: v.W, Channels: v.C}
}

func fromTensor(t *tensor.Tensor) *Volume {
	return &Volume{H: t.Height, W: t.Width, C: t.Channels, Data: t.Float64()}
}

// Param is a named, row-major weight matrix.
type Param struct {
	Name  string
	Rows  int
	Cols  int
	Value []float64
}

func newParam(name string, rows, cols int) *Param {
	return &Param{Name: name, Rows: rows, Cols: cols, Value: make([]float64, rows*cols)}
}

// heInit fills p with N(0, 2/fanIn) samples.
func (p *Param) heInit(rng *rand.Rand, fanIn int) {
	std := math.Sqrt(2 / float64(fanIn))
	for i := range p.Value {
		p.Value[i] = rng.NormFloat64() * std
	}
}

// Grads holds one gradient buffer per parameter.
type Grads map[*Param][]float64

// NewGrads allocates zeroed gradient buffers for params.
func NewGrads(params []*Param) Grads {
	g := make(Grads, len(params))
	for _, p := range params {
		g[p] = make([]float64, len(p.Value))
	}
	return g
}

// Add accumulates o into g for every parameter both share.
func (g Grads) Add(o Grads) {
	for p, dst := range g {
		src, ok := o[p]
		if !ok {
			continue
		}
		for i := range dst {
			dst[i] += src[i]
		}
	}
}

// Pass carries per-forward state. A nil Pass means inference.
type Pass struct {
	Training bool
	Rng      *rand.Rand
}

func (p *Pass) training() bool {
	return p != nil && p.Training
}
