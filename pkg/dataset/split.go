package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/mchmarny/dermai/pkg/lesion"
)

const (
	DefaultSeed            = 42
	DefaultTrainRatio      = 0.7
	DefaultValidationRatio = 0.5

	seedStream = 0x5eed
)

// SplitOptions configures the stratified split.
type SplitOptions struct {
	Seed uint64

	// TrainRatio is the share of each category kept for training.
	TrainRatio float64

	// ValidationRatio is the share of the held-out remainder assigned to
	// validation; the rest becomes the test partition.
	ValidationRatio float64

	AllowMissingCategories bool
}

// DefaultSplitOptions returns a 70/15/15 split with seed 42.
func DefaultSplitOptions() SplitOptions {
	return SplitOptions{
		Seed:            DefaultSeed,
		TrainRatio:      DefaultTrainRatio,
		ValidationRatio: DefaultValidationRatio,
	}
}

// Partitions holds the three disjoint sample sets.
type Partitions struct {
	Train      []lesion.Sample `json:"train" yaml:"train"`
	Validation []lesion.Sample `json:"validation" yaml:"validation"`
	Test       []lesion.Sample `json:"test" yaml:"test"`
}

// Len returns the total number of samples across partitions.
func (p *Partitions) Len() int {
	return len(p.Train) + len(p.Validation) + len(p.Test)
}

// PartitionSummary is the per-category count of each partition.
type PartitionSummary struct {
	Train      map[string]int `json:"train" yaml:"train"`
	Validation map[string]int `json:"validation" yaml:"validation"`
	Test       map[string]int `json:"test" yaml:"test"`
}

func (p *Partitions) Summary() *PartitionSummary {
	return &PartitionSummary{
		Train:      Distribution(p.Train),
		Validation: Distribution(p.Validation),
		Test:       Distribution(p.Test),
	}
}

// Split partitions samples into train, validation and test sets, stratified
// by category. The same seed, ratios and input produce identical membership
// and order.
func Split(samples []lesion.Sample, opt SplitOptions) (*Partitions, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	if opt.TrainRatio <= 0 || opt.TrainRatio >= 1 {
		return nil, fmt.Errorf("train ratio must be in (0,1): %v", opt.TrainRatio)
	}
	if opt.ValidationRatio <= 0 || opt.ValidationRatio >= 1 {
		return nil, fmt.Errorf("validation ratio must be in (0,1): %v", opt.ValidationRatio)
	}

	groups := make(map[string][]lesion.Sample, lesion.Count)
	for _, s := range samples {
		if _, ok := lesion.Lookup(s.Label); !ok {
			return nil, fmt.Errorf("sample %s has unknown category %q", s.ImageID, s.Label)
		}
		groups[s.Label] = append(groups[s.Label], s)
	}

	var missing []string
	for _, code := range lesion.Codes() {
		if len(groups[code]) == 0 {
			missing = append(missing, code)
		}
	}
	if len(missing) > 0 && !opt.AllowMissingCategories {
		return nil, fmt.Errorf("%w: %s", ErrCategoryMissing, strings.Join(missing, ","))
	}

	rng := rand.New(rand.NewPCG(opt.Seed, seedStream))
	parts := &Partitions{}
	rest := make(map[string][]lesion.Sample, lesion.Count)

	// first cut: train vs held-out, per category
	for _, code := range lesion.Codes() {
		g := groups[code]
		if len(g) == 0 {
			continue
		}
		slices.SortFunc(g, func(a, b lesion.Sample) int { return strings.Compare(a.ImageID, b.ImageID) })
		rng.Shuffle(len(g), func(i, j int) { g[i], g[j] = g[j], g[i] })

		n := heldOut(len(g), 1-opt.TrainRatio, 2)
		parts.Train = append(parts.Train, g[:len(g)-n]...)
		rest[code] = g[len(g)-n:]
	}

	// second cut: validation vs test, per category
	for _, code := range lesion.Codes() {
		g := rest[code]
		if len(g) == 0 {
			continue
		}
		rng.Shuffle(len(g), func(i, j int) { g[i], g[j] = g[j], g[i] })

		n := heldOut(len(g), 1-opt.ValidationRatio, 1)
		parts.Validation = append(parts.Validation, g[:len(g)-n]...)
		parts.Test = append(parts.Test, g[len(g)-n:]...)
	}

	for _, p := range [][]lesion.Sample{parts.Train, parts.Validation, parts.Test} {
		rng.Shuffle(len(p), func(i, j int) { p[i], p[j] = p[j], p[i] })
	}

	switch {
	case len(parts.Train) == 0:
		return nil, fmt.Errorf("%w: train", ErrEmptyPartition)
	case len(parts.Validation) == 0:
		return nil, fmt.Errorf("%w: validation", ErrEmptyPartition)
	case len(parts.Test) == 0:
		return nil, fmt.Errorf("%w: test", ErrEmptyPartition)
	}
	return parts, nil
}

// heldOut returns how many of n samples go to the second side of a cut.
// When n allows it, at least want samples are held out and at least one
// remains on the first side.
func heldOut(n int, frac float64, want int) int {
	if n <= 1 {
		return 0
	}
	k := int(math.Round(float64(n) * frac))
	if n > want && k < want {
		k = want
	}
	if k < 1 {
		k = 1
	}
	if k > n-1 {
		k = n - 1
	}
	return k
}
