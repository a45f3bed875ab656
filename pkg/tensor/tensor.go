package tensor

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned when a tensor does not have the expected shape.
var ErrShapeMismatch = errors.New("shape mismatch")

// Shape is a height, width, channels triple.
type Shape struct {
	Height   int `json:"height" yaml:"height"`
	Width    int `json:"width" yaml:"width"`
	Channels int `json:"channels" yaml:"channels"`
}

// Size returns the number of elements in a tensor of this shape.
func (s Shape) Size() int {
	return s.Height * s.Width * s.Channels
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Height, s.Width, s.Channels)
}

// Tensor is a dense float32 image tensor in height, width, channel order.
type Tensor struct {
	Shape
	Data []float32
}

// New allocates a zeroed tensor.
func New(h, w, c int) *Tensor {
	s := Shape{Height: h, Width: w, Channels: c}
	return &Tensor{Shape: s, Data: make([]float32, s.Size())}
}

// Index returns the flat offset of (y, x, c).
func (t *Tensor) Index(y, x, c int) int {
	return (y*t.Width+x)*t.Channels + c
}

func (t *Tensor) At(y, x, c int) float32 {
	return t.Data[t.Index(y, x, c)]
}

func (t *Tensor) Set(y, x, c int, v float32) {
	t.Data[t.Index(y, x, c)] = v
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{Shape: t.Shape, Data: make([]float32, len(t.Data))}
	copy(out.Data, t.Data)
	return out
}

// Check verifies the tensor has shape want and a consistent backing slice.
func (t *Tensor) Check(want Shape) error {
	if t == nil {
		return fmt.Errorf("%w: nil tensor", ErrShapeMismatch)
	}
	if t.Shape != want {
		return fmt.Errorf("%w: got %s, want %s", ErrShapeMismatch, t.Shape, want)
	}
	if len(t.Data) != want.Size() {
		return fmt.Errorf("%w: %d elements for shape %s", ErrShapeMismatch, len(t.Data), want)
	}
	return nil
}

// Float64 returns the data widened to float64.
func (t *Tensor) Float64() []float64 {
	out := make([]float64, len(t.Data))
	for i, v := range t.Data {
		out[i] = float64(v)
	}
	return out
}
