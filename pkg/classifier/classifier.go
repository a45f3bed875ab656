package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/mchmarny/dermai/pkg/lesion"
	"github.com/mchmarny/dermai/pkg/nn"
	"github.com/mchmarny/dermai/pkg/tensor"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// ErrArtifactMissing is returned when no trained artifact exists at the
// configured path.
var ErrArtifactMissing = errors.New("model artifact missing")

// ErrNonFiniteOutput is returned when the network produces NaN or infinite
// probabilities.
var ErrNonFiniteOutput = errors.New("non-finite model output")

// Classifier is a loaded, immutable lesion classifier. It is safe for
// concurrent use.
type Classifier struct {
	net   *nn.Network
	runID string
}

// New wraps a network whose outputs follow the lesion category order.
func New(net *nn.Network) (*Classifier, error) {
	if net == nil {
		return nil, errors.New("network required")
	}
	if net.Arch.Classes != lesion.Count {
		return nil, fmt.Errorf("network has %d outputs, expected %d", net.Arch.Classes, lesion.Count)
	}
	return &Classifier{net: net}, nil
}

// Load reads the artifact at path.
func Load(path string) (*Classifier, error) {
	a, err := nn.LoadArtifact(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactMissing, path)
		}
		return nil, err
	}
	if err := lesion.ValidOrdering(a.Categories); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}

	net, err := a.Network()
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}
	c, err := New(net)
	if err != nil {
		return nil, err
	}
	c.runID = a.RunID
	return c, nil
}

// InputShape is the tensor shape Predict accepts.
func (c *Classifier) InputShape() tensor.Shape {
	return c.net.Arch.Input
}

// Network returns the underlying network. Callers must not modify it.
func (c *Classifier) Network() *nn.Network {
	return c.net
}

// RunID identifies the training run that produced the loaded weights.
func (c *Classifier) RunID() string {
	return c.runID
}

// Predict classifies one preprocessed image.
func (c *Classifier) Predict(x *tensor.Tensor) (*lesion.Prediction, error) {
	probs, err := c.net.Predict(x)
	if err != nil {
		return nil, err
	}
	return NewPrediction(probs)
}

// PredictBatch classifies each input independently. Results are identical
// to calling Predict on each input in turn.
func (c *Classifier) PredictBatch(ctx context.Context, xs []*tensor.Tensor, workers int) ([]*lesion.Prediction, error) {
	out := make([]*lesion.Prediction, len(xs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, workers))
	for i, x := range xs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := c.Predict(x)
			if err != nil {
				return fmt.Errorf("input %d: %w", i, err)
			}
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// NewPrediction derives the predicted category, confidence and image risk
// score from a probability vector in category order.
func NewPrediction(probs []float64) (*lesion.Prediction, error) {
	if len(probs) != lesion.Count {
		return nil, fmt.Errorf("expected %d probabilities, got %d", lesion.Count, len(probs))
	}
	for i, p := range probs {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, fmt.Errorf("%w: probability %d is %v", ErrNonFiniteOutput, i, p)
		}
	}
	idx := nn.Argmax(probs)
	cat, err := lesion.ByIndex(idx)
	if err != nil {
		return nil, err
	}
	return &lesion.Prediction{
		Probabilities: probs,
		Predicted:     cat,
		Confidence:    probs[idx],
		RiskScore:     RiskScore(probs),
	}, nil
}

// RiskScore is the probability-weighted sum of category risk weights,
// clamped to [0,1].
func RiskScore(probs []float64) float64 {
	s := floats.Dot(probs, lesion.RiskWeights())
	return min(1, max(0, s))
}
