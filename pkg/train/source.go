package train

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/mchmarny/dermai/pkg/imaging"
	"github.com/mchmarny/dermai/pkg/lesion"
	"github.com/mchmarny/dermai/pkg/tensor"
	"golang.org/x/sync/errgroup"
)

// Source provides labeled, preprocessed examples by index. Example must be
// safe for concurrent use.
type Source interface {
	Len() int
	Example(i int) (*tensor.Tensor, int, error)
}

// FileSource preprocesses partition samples from disk on demand.
type FileSource struct {
	samples []lesion.Sample
	prep    *imaging.Preprocessor
}

// NewFileSource returns a source over samples using prep.
func NewFileSource(samples []lesion.Sample, prep *imaging.Preprocessor) *FileSource {
	return &FileSource{samples: samples, prep: prep}
}

func (s *FileSource) Len() int { return len(s.samples) }

func (s *FileSource) Example(i int) (*tensor.Tensor, int, error) {
	sample := s.samples[i]
	c, ok := lesion.Lookup(sample.Label)
	if !ok {
		return nil, 0, fmt.Errorf("sample %s: unknown label %q", sample.ImageID, sample.Label)
	}
	t, err := s.prep.ProcessFile(sample.Path)
	if err != nil {
		return nil, 0, fmt.Errorf("sample %s: %w", sample.ImageID, err)
	}
	return t, c.Index, nil
}

// MemorySource serves already preprocessed tensors.
type MemorySource struct {
	X      []*tensor.Tensor
	Labels []int
}

func (s *MemorySource) Len() int { return len(s.X) }

func (s *MemorySource) Example(i int) (*tensor.Tensor, int, error) {
	return s.X[i], s.Labels[i], nil
}

// loader reads a source in batches, loading the examples of each batch in
// parallel. Augmentation randomness is keyed by epoch and sample index so
// batches are reproducible regardless of worker scheduling.
type loader struct {
	src     Source
	batch   int
	workers int
	seed    uint64
	shuffle bool
	aug     *imaging.Augmentation
}

func (l *loader) order(epoch int) []int {
	idx := make([]int, l.src.Len())
	for i := range idx {
		idx[i] = i
	}
	if l.shuffle {
		rng := rand.New(rand.NewPCG(l.seed, uint64(epoch)))
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	}
	return idx
}

// each calls fn with every batch of the epoch. offset is the position of the
// first example of the batch within the epoch order.
func (l *loader) each(ctx context.Context, epoch int, fn func(xs []*tensor.Tensor, labels []int, offset int) error) error {
	order := l.order(epoch)
	for start := 0; start < len(order); start += l.batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids := order[start:min(start+l.batch, len(order))]
		xs := make([]*tensor.Tensor, len(ids))
		labels := make([]int, len(ids))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(l.workers)
		for k, id := range ids {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				x, label, err := l.src.Example(id)
				if err != nil {
					return err
				}
				if l.aug != nil {
					x = l.aug.Apply(x, sampleRand(l.seed, epoch, id))
				}
				xs[k], labels[k] = x, label
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if err := fn(xs, labels, start); err != nil {
			return err
		}
	}
	return nil
}

func sampleRand(seed uint64, epoch, i int) *rand.Rand {
	return rand.New(rand.NewPCG(seed^(uint64(epoch)*0x9e3779b97f4a7c15), uint64(i)))
}
