package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mchmarny/dermai/pkg/lesion"
	"github.com/mchmarny/dermai/pkg/nn"
	"github.com/mchmarny/dermai/pkg/tensor"
	"golang.org/x/sync/errgroup"
)

const dropoutSalt = 0xd20d

var (
	// ErrEmptyPartition is returned before any epoch runs when a partition
	// has no examples.
	ErrEmptyPartition = errors.New("empty partition")

	// ErrAlreadyUnfrozen is returned by Unfreeze outside the feature
	// extraction phase.
	ErrAlreadyUnfrozen = errors.New("backbone already unfrozen")

	// ErrFinished is returned when fitting after training completed.
	ErrFinished = errors.New("training already finished")
)

// Observer receives every completed epoch.
type Observer interface {
	ObserveEpoch(rec EpochRecord)
}

// Trainer fits a network in two phases: head only with a frozen backbone,
// then the head plus the last backbone layers at a lower learning rate.
type Trainer struct {
	// Checkpoint is the artifact path written on every fine tuning
	// improvement and at the end of Run. Empty disables persistence.
	Checkpoint string
	RunID      string
	Logger     *slog.Logger
	Observer   Observer

	net      *nn.Network
	cfg      Config
	phase    Phase
	unfrozen int
	boundary int
	params   []*nn.Param
	opt      *nn.Adam
	epoch    int
	history  *History
}

// New returns a trainer in the feature extraction phase.
func New(net *nn.Network, cfg Config) (*Trainer, error) {
	if net == nil {
		return nil, errors.New("network required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid training config: %w", err)
	}
	t := &Trainer{
		net:     net,
		cfg:     cfg,
		phase:   FeatureExtraction,
		history: &History{},
	}
	t.setTrainable(0, cfg.FeatureExtraction.LearningRate)
	return t, nil
}

// Phase returns the current training phase.
func (t *Trainer) Phase() Phase {
	return t.phase
}

// LearningRate returns the current optimizer learning rate.
func (t *Trainer) LearningRate() float64 {
	return t.opt.LR
}

// TrainableParams returns the parameters updated in the current phase.
func (t *Trainer) TrainableParams() []*nn.Param {
	return t.params
}

// History returns the records collected so far.
func (t *Trainer) History() *History {
	return t.history
}

// Unfreeze makes the last n backbone layers trainable and switches to the
// fine tuning learning rate with a fresh optimizer.
func (t *Trainer) Unfreeze(n int) error {
	if t.phase != FeatureExtraction {
		return ErrAlreadyUnfrozen
	}
	if n < 0 {
		return fmt.Errorf("invalid unfreeze layers: %d", n)
	}
	t.phase = FineTuning
	t.setTrainable(n, t.cfg.FineTuning.LearningRate)
	t.logger().Info("backbone unfrozen",
		"layers", t.unfrozen,
		"trainable_params", len(t.params),
		"lr", t.opt.LR)
	return nil
}

func (t *Trainer) setTrainable(n int, lr float64) {
	t.unfrozen = min(n, len(t.net.Backbone))
	t.boundary = t.net.Boundary(t.unfrozen)
	t.params = t.net.TrainableParams(t.unfrozen)
	t.opt = nn.NewAdam(lr)
}

func (t *Trainer) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// Run executes both phases, evaluates test when given, writes the
// checkpoint and its history, and leaves the trainer in the Done phase.
func (t *Trainer) Run(ctx context.Context, train, val, test Source) (*History, error) {
	if err := checkSources(train, val); err != nil {
		return nil, err
	}
	if test != nil && test.Len() == 0 {
		return nil, fmt.Errorf("test: %w", ErrEmptyPartition)
	}
	t.history.RunID = t.RunID
	t.history.StartedAt = time.Now().UTC()

	if _, err := t.Fit(ctx, train, val); err != nil {
		return nil, err
	}
	if t.cfg.FineTuning.Epochs > 0 {
		if err := t.Unfreeze(t.cfg.UnfreezeLayers); err != nil {
			return nil, err
		}
		if _, err := t.Fit(ctx, train, val); err != nil {
			return nil, err
		}
	}
	t.phase = Done

	if test != nil {
		ev, err := Evaluate(ctx, t.net, test, t.cfg.Workers)
		if err != nil {
			return nil, fmt.Errorf("evaluating test partition: %w", err)
		}
		t.history.Test = ev
		t.logger().Info("test evaluation",
			"samples", ev.Samples,
			"loss", ev.Loss,
			"accuracy", ev.Accuracy)
	}
	t.history.FinishedAt = time.Now().UTC()

	if t.Checkpoint != "" {
		if err := t.save(); err != nil {
			return nil, err
		}
		if err := t.history.WriteFile(HistoryPath(t.Checkpoint)); err != nil {
			return nil, err
		}
	}
	return t.history, nil
}

func checkSources(train, val Source) error {
	if train == nil || train.Len() == 0 {
		return fmt.Errorf("train: %w", ErrEmptyPartition)
	}
	if val == nil || val.Len() == 0 {
		return fmt.Errorf("validation: %w", ErrEmptyPartition)
	}
	return nil
}

// Fit trains the current phase until its epoch budget is spent or
// validation loss stops improving, then restores the best weights.
func (t *Trainer) Fit(ctx context.Context, train, val Source) (*PhaseResult, error) {
	if t.phase == Done {
		return nil, ErrFinished
	}
	if err := checkSources(train, val); err != nil {
		return nil, err
	}

	pc := t.cfg.phase(t.phase)
	log := t.logger().With("phase", t.phase.String())
	ld := &loader{
		src:     train,
		batch:   t.cfg.BatchSize,
		workers: t.cfg.Workers,
		seed:    t.cfg.Seed,
		shuffle: t.cfg.Shuffle,
		aug:     t.cfg.Augmentation,
	}

	res := &PhaseResult{Phase: t.phase.String()}
	bestLoss := math.Inf(1)
	var best map[string][]float64
	stale, decayStale := 0, 0

	for e := 1; e <= pc.Epochs; e++ {
		t.epoch++
		lr := t.opt.LR

		loss, acc, err := t.trainEpoch(ctx, ld)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", e, err)
		}
		ev, err := Evaluate(ctx, t.net, val, t.cfg.Workers)
		if err != nil {
			return nil, fmt.Errorf("epoch %d validation: %w", e, err)
		}

		rec := EpochRecord{
			Phase:        t.phase.String(),
			Epoch:        e,
			Loss:         loss,
			Accuracy:     acc,
			ValLoss:      ev.Loss,
			ValAccuracy:  ev.Accuracy,
			LearningRate: lr,
		}
		res.Epochs = e

		if ev.Loss < bestLoss-t.cfg.MinDelta {
			rec.Improved = true
			bestLoss, res.BestEpoch = ev.Loss, e
			v := ev.Loss
			res.BestValLoss = &v
			best = t.net.Snapshot()
			stale, decayStale = 0, 0
			if t.phase == FineTuning && t.Checkpoint != "" {
				if err := t.save(); err != nil {
					return nil, err
				}
			}
		} else {
			stale++
			decayStale++
		}

		t.history.Epochs = append(t.history.Epochs, rec)
		if t.Observer != nil {
			t.Observer.ObserveEpoch(rec)
		}
		log.Info("epoch complete",
			"epoch", e,
			"loss", loss,
			"accuracy", acc,
			"val_loss", ev.Loss,
			"val_accuracy", ev.Accuracy,
			"lr", lr,
			"improved", rec.Improved)

		if stale >= pc.Patience {
			res.Stopped = true
			log.Info("early stopping", "epoch", e, "best_epoch", res.BestEpoch)
			break
		}
		if decayStale >= pc.DecayPatience {
			next := max(t.opt.LR*pc.DecayFactor, t.cfg.MinLR)
			if next < t.opt.LR {
				log.Debug("reducing learning rate", "from", t.opt.LR, "to", next)
				t.opt.LR = next
			}
			decayStale = 0
		}
	}

	if best != nil {
		if err := t.net.Restore(best, t.params, false); err != nil {
			return nil, fmt.Errorf("restoring best weights: %w", err)
		}
	}
	t.history.Phases = append(t.history.Phases, res)
	return res, nil
}

func (t *Trainer) trainEpoch(ctx context.Context, ld *loader) (float64, float64, error) {
	var loss float64
	var correct, seen int
	err := ld.each(ctx, t.epoch, func(xs []*tensor.Tensor, labels []int, offset int) error {
		l, c, err := t.step(xs, labels, offset)
		if err != nil {
			return err
		}
		loss += l
		correct += c
		seen += len(xs)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return loss / float64(seen), float64(correct) / float64(seen), nil
}

// step computes per-sample gradients across workers, each over a contiguous
// slice of the batch, sums them in worker order and applies one update.
func (t *Trainer) step(xs []*tensor.Tensor, labels []int, offset int) (float64, int, error) {
	n := len(xs)
	w := min(t.cfg.Workers, n)
	chunk := (n + w - 1) / w

	grads := make([]nn.Grads, w)
	losses := make([]float64, w)
	hits := make([]int, w)

	var g errgroup.Group
	for k := 0; k < w; k++ {
		grads[k] = nn.NewGrads(t.params)
		lo, hi := k*chunk, min(n, (k+1)*chunk)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				pass := &nn.Pass{Training: true, Rng: sampleRand(t.cfg.Seed^dropoutSalt, t.epoch, offset+i)}
				l, probs, err := t.net.Backprop(xs[i], labels[i], t.boundary, pass, grads[k])
				if err != nil {
					return err
				}
				losses[k] += l
				if nn.Argmax(probs) == labels[i] {
					hits[k]++
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	total := grads[0]
	var loss float64
	var correct int
	for k := range w {
		if k > 0 {
			total.Add(grads[k])
		}
		loss += losses[k]
		correct += hits[k]
	}
	t.opt.Step(t.params, total, 1/float64(n))
	return loss, correct, nil
}

func (t *Trainer) save() error {
	if t.net.Arch.Classes != lesion.Count {
		return fmt.Errorf("checkpoint requires %d outputs, network has %d", lesion.Count, t.net.Arch.Classes)
	}
	a := nn.NewArtifact(t.net, lesion.Codes(), t.RunID)
	if err := a.Save(t.Checkpoint); err != nil {
		return fmt.Errorf("error writing checkpoint: %w", err)
	}
	t.logger().Debug("checkpoint saved", "path", t.Checkpoint)
	return nil
}
