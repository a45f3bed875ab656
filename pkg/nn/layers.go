package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/mchmarny/dermai/pkg/tensor"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	KindConv    = "conv2d"
	KindReLU    = "relu"
	KindPool    = "global_avg_pool"
	KindDense   = "dense"
	KindDropout = "dropout"
)

// Layer is one differentiable stage of a Network. Layers hold only
// parameters; per-call state lives in the cache returned by Forward, so a
// layer can serve concurrent forward passes.
type Layer interface {
	Kind() string
	OutShape(in tensor.Shape) tensor.Shape
	Forward(in *Volume, pass *Pass) (*Volume, any)

	// Backward accumulates parameter gradients into g and, when needInput is
	// set, returns the gradient with respect to the layer input.
	Backward(cache any, grad *Volume, g Grads, needInput bool) *Volume
	Params() []*Param
}

// Conv2D is a square convolution with zero padding, computed as an
// im2col matrix product.
type Conv2D struct {
	InC, OutC, K, Stride, Pad int

	W *Param // (K*K*InC) x OutC
	B *Param // 1 x OutC
}

func NewConv2D(name string, inC, outC, k, stride int) *Conv2D {
	kk := k * k * inC
	return &Conv2D{
		InC: inC, OutC: outC, K: k, Stride: stride, Pad: k / 2,
		W: newParam(name+".w", kk, outC),
		B: newParam(name+".b", 1, outC),
	}
}

func (c *Conv2D) Kind() string { return KindConv }

func (c *Conv2D) Params() []*Param { return []*Param{c.W, c.B} }

func (c *Conv2D) OutShape(in tensor.Shape) tensor.Shape {
	return tensor.Shape{
		Height:   (in.Height+2*c.Pad-c.K)/c.Stride + 1,
		Width:    (in.Width+2*c.Pad-c.K)/c.Stride + 1,
		Channels: c.OutC,
	}
}

type convCache struct {
	in  tensor.Shape
	col *mat.Dense
}

func (c *Conv2D) Forward(in *Volume, _ *Pass) (*Volume, any) {
	s := c.OutShape(in.shape())
	rows := s.Height * s.Width
	col := mat.NewDense(rows, c.W.Rows, c.im2col(in, s))

	var out mat.Dense
	out.Mul(col, mat.NewDense(c.W.Rows, c.W.Cols, c.W.Value))

	data := out.RawMatrix().Data
	for r := 0; r < rows; r++ {
		floats.Add(data[r*c.OutC:(r+1)*c.OutC], c.B.Value)
	}
	return &Volume{H: s.Height, W: s.Width, C: c.OutC, Data: data}, &convCache{in: in.shape(), col: col}
}

func (c *Conv2D) Backward(cache any, grad *Volume, g Grads, needInput bool) *Volume {
	cc := cache.(*convCache)
	rows := grad.H * grad.W
	dy := mat.NewDense(rows, c.OutC, grad.Data)

	if gw, ok := g[c.W]; ok {
		var dw mat.Dense
		dw.Mul(cc.col.T(), dy)
		floats.Add(gw, dw.RawMatrix().Data)
	}
	if gb, ok := g[c.B]; ok {
		for r := 0; r < rows; r++ {
			floats.Add(gb, grad.Data[r*c.OutC:(r+1)*c.OutC])
		}
	}
	if !needInput {
		return nil
	}

	var dcol mat.Dense
	dcol.Mul(dy, mat.NewDense(c.W.Rows, c.W.Cols, c.W.Value).T())
	return c.col2im(dcol.RawMatrix().Data, cc.in, grad.H, grad.W)
}

func (c *Conv2D) im2col(in *Volume, s tensor.Shape) []float64 {
	kk := c.W.Rows
	col := make([]float64, s.Height*s.Width*kk)
	for oy := 0; oy < s.Height; oy++ {
		for ox := 0; ox < s.Width; ox++ {
			row := col[(oy*s.Width+ox)*kk:]
			i := 0
			for ky := 0; ky < c.K; ky++ {
				iy := oy*c.Stride + ky - c.Pad
				for kx := 0; kx < c.K; kx++ {
					ix := ox*c.Stride + kx - c.Pad
					if iy >= 0 && iy < in.H && ix >= 0 && ix < in.W {
						o := (iy*in.W + ix) * in.C
						copy(row[i:i+c.InC], in.Data[o:o+c.InC])
					}
					i += c.InC
				}
			}
		}
	}
	return col
}

func (c *Conv2D) col2im(dcol []float64, in tensor.Shape, oh, ow int) *Volume {
	kk := c.W.Rows
	dx := newVolume(in.Height, in.Width, in.Channels)
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			row := dcol[(oy*ow+ox)*kk:]
			i := 0
			for ky := 0; ky < c.K; ky++ {
				iy := oy*c.Stride + ky - c.Pad
				for kx := 0; kx < c.K; kx++ {
					ix := ox*c.Stride + kx - c.Pad
					if iy >= 0 && iy < in.Height && ix >= 0 && ix < in.Width {
						o := (iy*in.Width + ix) * in.Channels
						floats.Add(dx.Data[o:o+c.InC], row[i:i+c.InC])
					}
					i += c.InC
				}
			}
		}
	}
	return dx
}

// ReLU is the rectified linear activation.
type ReLU struct{}

func (ReLU) Kind() string                          { return KindReLU }
func (ReLU) Params() []*Param                      { return nil }
func (ReLU) OutShape(in tensor.Shape) tensor.Shape { return in }

func (ReLU) Forward(in *Volume, _ *Pass) (*Volume, any) {
	out := &Volume{H: in.H, W: in.W, C: in.C, Data: make([]float64, len(in.Data))}
	for i, v := range in.Data {
		if v > 0 {
			out.Data[i] = v
		}
	}
	return out, out
}

func (ReLU) Backward(cache any, grad *Volume, _ Grads, needInput bool) *Volume {
	if !needInput {
		return nil
	}
	out := cache.(*Volume)
	dx := &Volume{H: grad.H, W: grad.W, C: grad.C, Data: make([]float64, len(grad.Data))}
	for i, v := range out.Data {
		if v > 0 {
			dx.Data[i] = grad.Data[i]
		}
	}
	return dx
}

// GlobalAvgPool averages each channel over the spatial dimensions.
type GlobalAvgPool struct{}

func (GlobalAvgPool) Kind() string     { return KindPool }
func (GlobalAvgPool) Params() []*Param { return nil }

func (GlobalAvgPool) OutShape(in tensor.Shape) tensor.Shape {
	return tensor.Shape{Height: 1, Width: 1, Channels: in.Channels}
}

func (GlobalAvgPool) Forward(in *Volume, _ *Pass) (*Volume, any) {
	out := newVolume(1, 1, in.C)
	n := float64(in.H * in.W)
	for i := 0; i < in.H*in.W; i++ {
		floats.Add(out.Data, in.Data[i*in.C:(i+1)*in.C])
	}
	floats.Scale(1/n, out.Data)
	return out, in.shape()
}

func (GlobalAvgPool) Backward(cache any, grad *Volume, _ Grads, needInput bool) *Volume {
	if !needInput {
		return nil
	}
	in := cache.(tensor.Shape)
	dx := newVolume(in.Height, in.Width, in.Channels)
	n := float64(in.Height * in.Width)
	for i := 0; i < in.Height*in.Width; i++ {
		floats.AddScaled(dx.Data[i*in.Channels:(i+1)*in.Channels], 1/n, grad.Data)
	}
	return dx
}

// Dense is a fully connected layer over the flattened input.
type Dense struct {
	In, Out int

	W *Param // In x Out
	B *Param // 1 x Out
}

func NewDense(name string, in, out int) *Dense {
	return &Dense{
		In: in, Out: out,
		W: newParam(name+".w", in, out),
		B: newParam(name+".b", 1, out),
	}
}

func (d *Dense) Kind() string     { return KindDense }
func (d *Dense) Params() []*Param { return []*Param{d.W, d.B} }

func (d *Dense) OutShape(_ tensor.Shape) tensor.Shape {
	return tensor.Shape{Height: 1, Width: 1, Channels: d.Out}
}

func (d *Dense) Forward(in *Volume, _ *Pass) (*Volume, any) {
	x := mat.NewDense(1, d.In, in.Data)
	var y mat.Dense
	y.Mul(x, mat.NewDense(d.In, d.Out, d.W.Value))
	data := y.RawMatrix().Data
	floats.Add(data, d.B.Value)
	return &Volume{H: 1, W: 1, C: d.Out, Data: data}, in
}

func (d *Dense) Backward(cache any, grad *Volume, g Grads, needInput bool) *Volume {
	in := cache.(*Volume)
	dy := mat.NewDense(1, d.Out, grad.Data)

	if gw, ok := g[d.W]; ok {
		var dw mat.Dense
		dw.Mul(mat.NewDense(1, d.In, in.Data).T(), dy)
		floats.Add(gw, dw.RawMatrix().Data)
	}
	if gb, ok := g[d.B]; ok {
		floats.Add(gb, grad.Data)
	}
	if !needInput {
		return nil
	}

	var dx mat.Dense
	dx.Mul(dy, mat.NewDense(d.In, d.Out, d.W.Value).T())
	return &Volume{H: in.H, W: in.W, C: in.C, Data: dx.RawMatrix().Data}
}

// Dropout zeroes activations with probability Rate during training and
// rescales the survivors. It is the identity at inference.
type Dropout struct {
	Rate float64
}

func (Dropout) Kind() string                          { return KindDropout }
func (Dropout) Params() []*Param                      { return nil }
func (Dropout) OutShape(in tensor.Shape) tensor.Shape { return in }

func (d Dropout) Forward(in *Volume, pass *Pass) (*Volume, any) {
	if !pass.training() || d.Rate <= 0 {
		return in, nil
	}
	keep := 1 - d.Rate
	mask := make([]float64, len(in.Data))
	out := &Volume{H: in.H, W: in.W, C: in.C, Data: make([]float64, len(in.Data))}
	for i, v := range in.Data {
		if pass.Rng.Float64() < keep {
			mask[i] = 1 / keep
			out.Data[i] = v * mask[i]
		}
	}
	return out, mask
}

func (Dropout) Backward(cache any, grad *Volume, _ Grads, needInput bool) *Volume {
	if !needInput {
		return nil
	}
	mask, ok := cache.([]float64)
	if !ok {
		return grad
	}
	dx := &Volume{H: grad.H, W: grad.W, C: grad.C, Data: make([]float64, len(grad.Data))}
	floats.MulTo(dx.Data, grad.Data, mask)
	return dx
}

func initLayer(l Layer, rng *rand.Rand) {
	switch v := l.(type) {
	case *Conv2D:
		v.W.heInit(rng, v.W.Rows)
	case *Dense:
		v.W.heInit(rng, v.In)
	}
}

func layerName(prefix string, i int) string {
	return fmt.Sprintf("%s.%d", prefix, i)
}
