package nn

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/mchmarny/dermai/pkg/tensor"
)

// Architecture describes a backbone of stride-2 3x3 conv+ReLU blocks
// followed by a pooled dense classification head.
type Architecture struct {
	Input            tensor.Shape `json:"input" yaml:"input"`
	BackboneChannels []int        `json:"backbone_channels" yaml:"backboneChannels"`
	HeadUnits        int          `json:"head_units" yaml:"headUnits"`
	Dropout          float64      `json:"dropout" yaml:"dropout"`
	Classes          int          `json:"classes" yaml:"classes"`
}

// DefaultArchitecture returns the canonical 224x224 seven-class network.
func DefaultArchitecture() Architecture {
	return Architecture{
		Input:            tensor.Shape{Height: 224, Width: 224, Channels: 3},
		BackboneChannels: []int{16, 32, 64, 64, 128},
		HeadUnits:        256,
		Dropout:          0.3,
		Classes:          7,
	}
}

func (a Architecture) Validate() error {
	switch {
	case a.Input.Height <= 0 || a.Input.Width <= 0 || a.Input.Channels <= 0:
		return fmt.Errorf("invalid input shape: %s", a.Input)
	case len(a.BackboneChannels) == 0:
		return errors.New("backbone requires at least one block")
	case a.HeadUnits <= 0:
		return fmt.Errorf("invalid head units: %d", a.HeadUnits)
	case a.Dropout < 0 || a.Dropout >= 1:
		return fmt.Errorf("dropout must be in [0,1): %v", a.Dropout)
	case a.Classes < 2:
		return fmt.Errorf("at least two classes required: %d", a.Classes)
	}
	for i, c := range a.BackboneChannels {
		if c <= 0 {
			return fmt.Errorf("invalid channels for block %d: %d", i, c)
		}
	}
	return nil
}

// Network is a backbone plus head. Weights are only written by training;
// Predict treats them as read-only and is safe for concurrent use.
type Network struct {
	Arch     Architecture
	Backbone []Layer
	Head     []Layer
}

// Build constructs a network with He-initialized weights drawn from seed.
func Build(arch Architecture, seed uint64) (*Network, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	n := &Network{Arch: arch}

	in := arch.Input.Channels
	for i, out := range arch.BackboneChannels {
		n.Backbone = append(n.Backbone,
			NewConv2D(layerName("backbone", 2*i), in, out, 3, 2),
			ReLU{},
		)
		in = out
	}

	n.Head = []Layer{
		GlobalAvgPool{},
		NewDense("head.1", in, arch.HeadUnits),
		ReLU{},
		Dropout{Rate: arch.Dropout},
		NewDense("head.4", arch.HeadUnits, arch.Classes),
	}

	rng := rand.New(rand.NewPCG(seed, 0x9e3779b9))
	for _, l := range n.Layers() {
		initLayer(l, rng)
	}
	return n, nil
}

// Layers returns backbone then head layers.
func (n *Network) Layers() []Layer {
	out := make([]Layer, 0, len(n.Backbone)+len(n.Head))
	out = append(out, n.Backbone...)
	return append(out, n.Head...)
}

// Params returns every parameter in layer order.
func (n *Network) Params() []*Param {
	return collect(n.Layers())
}

// BackboneParams returns the backbone parameters in layer order.
func (n *Network) BackboneParams() []*Param {
	return collect(n.Backbone)
}

// Boundary is the index of the first trainable layer when the last
// unfrozen backbone layers are trainable along with the head.
func (n *Network) Boundary(unfrozen int) int {
	unfrozen = max(0, min(unfrozen, len(n.Backbone)))
	return len(n.Backbone) - unfrozen
}

// TrainableParams returns the parameters of layers at or after Boundary(unfrozen).
func (n *Network) TrainableParams(unfrozen int) []*Param {
	return collect(n.Layers()[n.Boundary(unfrozen):])
}

func collect(layers []Layer) []*Param {
	var out []*Param
	for _, l := range layers {
		out = append(out, l.Params()...)
	}
	return out
}

// Predict returns the class probability vector for one input.
func (n *Network) Predict(x *tensor.Tensor) ([]float64, error) {
	if err := x.Check(n.Arch.Input); err != nil {
		return nil, err
	}
	v := fromTensor(x)
	for _, l := range n.Layers() {
		v, _ = l.Forward(v, nil)
	}
	return Softmax(v.Data), nil
}

// Backprop runs a training forward pass on x, accumulates the cross-entropy
// gradients of every layer from index stop upward into g, and returns the
// loss and predicted probabilities.
func (n *Network) Backprop(x *tensor.Tensor, label, stop int, pass *Pass, g Grads) (float64, []float64, error) {
	if err := x.Check(n.Arch.Input); err != nil {
		return 0, nil, err
	}
	if label < 0 || label >= n.Arch.Classes {
		return 0, nil, fmt.Errorf("label out of range: %d", label)
	}

	layers := n.Layers()
	caches := make([]any, len(layers))
	v := fromTensor(x)
	for i, l := range layers {
		v, caches[i] = l.Forward(v, pass)
	}

	probs := Softmax(v.Data)
	loss := CrossEntropy(probs, label)

	grad := &Volume{H: 1, W: 1, C: len(probs), Data: make([]float64, len(probs))}
	copy(grad.Data, probs)
	grad.Data[label]--

	for i := len(layers) - 1; i >= stop; i-- {
		grad = layers[i].Backward(caches[i], grad, g, i > stop)
	}
	return loss, probs, nil
}

// Snapshot copies all parameter values keyed by name.
func (n *Network) Snapshot() map[string][]float64 {
	out := make(map[string][]float64)
	for _, p := range n.Params() {
		v := make([]float64, len(p.Value))
		copy(v, p.Value)
		out[p.Name] = v
	}
	return out
}

// Restore loads parameter values from a snapshot. Parameters missing from
// the snapshot are an error unless partial is set.
func (n *Network) Restore(s map[string][]float64, params []*Param, partial bool) error {
	if params == nil {
		params = n.Params()
	}
	for _, p := range params {
		v, ok := s[p.Name]
		if !ok {
			if partial {
				continue
			}
			return fmt.Errorf("missing parameter %s", p.Name)
		}
		if len(v) != len(p.Value) {
			return fmt.Errorf("parameter %s has %d values, want %d", p.Name, len(v), len(p.Value))
		}
		copy(p.Value, v)
	}
	return nil
}
