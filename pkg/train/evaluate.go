package train

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mchmarny/dermai/pkg/lesion"
	"github.com/mchmarny/dermai/pkg/nn"
	"github.com/mchmarny/dermai/pkg/tensor"
	"golang.org/x/sync/errgroup"
)

// Model produces a class probability vector for one input.
type Model interface {
	Predict(x *tensor.Tensor) ([]float64, error)
}

// Evaluation summarizes model performance on one partition.
type Evaluation struct {
	Samples   int     `json:"samples" yaml:"samples"`
	Loss      float64 `json:"loss" yaml:"loss"`
	Accuracy  float64 `json:"accuracy" yaml:"accuracy"`
	Confusion [][]int `json:"confusion" yaml:"confusion"`
	// Recall is in class index order; NaN-free, classes with no samples report 0.
	Recall []float64 `json:"recall" yaml:"recall"`
	// PerCategory is keyed by category code when the model has the
	// canonical lesion outputs.
	PerCategory map[string]float64 `json:"per_category_recall,omitempty" yaml:"perCategoryRecall,omitempty"`
}

// MarshalJSON writes a non-finite loss as null.
func (e Evaluation) MarshalJSON() ([]byte, error) {
	type plain Evaluation
	return json.Marshal(struct {
		plain
		Loss *float64 `json:"loss"`
	}{plain(e), finite(e.Loss)})
}

// UnmarshalJSON reads a null loss back as NaN.
func (e *Evaluation) UnmarshalJSON(b []byte) error {
	type plain Evaluation
	aux := struct {
		*plain
		Loss *float64 `json:"loss"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	e.Loss = orNaN(aux.Loss)
	return nil
}

// Evaluate runs m over every example of src without augmentation. Examples
// are predicted in parallel and aggregated in index order.
func Evaluate(ctx context.Context, m Model, src Source, workers int) (*Evaluation, error) {
	n := src.Len()
	if n == 0 {
		return nil, ErrEmptyPartition
	}
	probs := make([][]float64, n)
	labels := make([]int, n)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, workers))
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			x, label, err := src.Example(i)
			if err != nil {
				return err
			}
			p, err := m.Predict(x)
			if err != nil {
				return fmt.Errorf("example %d: %w", i, err)
			}
			probs[i], labels[i] = p, label
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summarize(probs, labels)
}

func summarize(probs [][]float64, labels []int) (*Evaluation, error) {
	classes := len(probs[0])
	ev := &Evaluation{
		Samples:   len(probs),
		Confusion: make([][]int, classes),
		Recall:    make([]float64, classes),
	}
	for i := range ev.Confusion {
		ev.Confusion[i] = make([]int, classes)
	}

	correct := 0
	for i, p := range probs {
		label := labels[i]
		if len(p) != classes || label < 0 || label >= classes {
			return nil, fmt.Errorf("example %d: label %d outside %d classes", i, label, len(p))
		}
		pred := nn.Argmax(p)
		ev.Confusion[label][pred]++
		if pred == label {
			correct++
		}
		ev.Loss += nn.CrossEntropy(p, label)
	}
	ev.Loss /= float64(len(probs))
	ev.Accuracy = float64(correct) / float64(len(probs))

	for c, row := range ev.Confusion {
		total := 0
		for _, v := range row {
			total += v
		}
		if total > 0 {
			ev.Recall[c] = float64(row[c]) / float64(total)
		}
	}
	if classes == lesion.Count {
		ev.PerCategory = make(map[string]float64, classes)
		for i, code := range lesion.Codes() {
			ev.PerCategory[code] = ev.Recall[i]
		}
	}
	return ev, nil
}
