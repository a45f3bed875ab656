package train

import (
	"errors"
	"fmt"

	"github.com/mchmarny/dermai/pkg/imaging"
)

const (
	defaultBatchSize = 32
	defaultWorkers   = 4
	defaultSeed      = 42
	defaultUnfreeze  = 4
	defaultMinLR     = 1e-7
)

// PhaseConfig controls one training phase.
type PhaseConfig struct {
	Epochs        int     `yaml:"epochs"`
	LearningRate  float64 `yaml:"learningRate"`
	Patience      int     `yaml:"patience"`
	DecayFactor   float64 `yaml:"decayFactor"`
	DecayPatience int     `yaml:"decayPatience"`
}

func (p PhaseConfig) validate(name string, allowZeroEpochs bool) error {
	switch {
	case p.Epochs < 0 || (p.Epochs == 0 && !allowZeroEpochs):
		return fmt.Errorf("%s: invalid epochs: %d", name, p.Epochs)
	case p.LearningRate <= 0:
		return fmt.Errorf("%s: learning rate must be positive: %v", name, p.LearningRate)
	case p.Patience < 1:
		return fmt.Errorf("%s: patience must be at least 1: %d", name, p.Patience)
	case p.DecayFactor <= 0 || p.DecayFactor > 1:
		return fmt.Errorf("%s: decay factor must be in (0,1]: %v", name, p.DecayFactor)
	case p.DecayPatience < 1:
		return fmt.Errorf("%s: decay patience must be at least 1: %d", name, p.DecayPatience)
	}
	return nil
}

// Config holds the training hyperparameters.
type Config struct {
	BatchSize      int     `yaml:"batchSize"`
	Workers        int     `yaml:"workers"`
	Seed           uint64  `yaml:"seed"`
	UnfreezeLayers int     `yaml:"unfreezeLayers"`
	MinLR          float64 `yaml:"minLR"`
	// MinDelta is the smallest validation loss decrease counted as improvement.
	MinDelta float64 `yaml:"minDelta"`
	Shuffle  bool    `yaml:"shuffle"`

	FeatureExtraction PhaseConfig `yaml:"featureExtraction"`
	FineTuning        PhaseConfig `yaml:"fineTuning"`

	// Augmentation is applied to training batches only. Nil disables it.
	Augmentation *imaging.Augmentation `yaml:"augmentation,omitempty"`
}

// DefaultConfig returns the canonical two-phase schedule.
func DefaultConfig() Config {
	aug := imaging.DefaultAugmentation()
	return Config{
		BatchSize:      defaultBatchSize,
		Workers:        defaultWorkers,
		Seed:           defaultSeed,
		UnfreezeLayers: defaultUnfreeze,
		MinLR:          defaultMinLR,
		Shuffle:        true,
		FeatureExtraction: PhaseConfig{
			Epochs:        10,
			LearningRate:  1e-3,
			Patience:      3,
			DecayFactor:   0.5,
			DecayPatience: 2,
		},
		FineTuning: PhaseConfig{
			Epochs:        10,
			LearningRate:  1e-5,
			Patience:      5,
			DecayFactor:   0.5,
			DecayPatience: 3,
		},
		Augmentation: &aug,
	}
}

// Validate checks the configuration for values training cannot run with.
func (c Config) Validate() error {
	switch {
	case c.BatchSize < 1:
		return fmt.Errorf("invalid batch size: %d", c.BatchSize)
	case c.Workers < 1:
		return fmt.Errorf("invalid workers: %d", c.Workers)
	case c.UnfreezeLayers < 0:
		return fmt.Errorf("invalid unfreeze layers: %d", c.UnfreezeLayers)
	case c.MinLR < 0:
		return errors.New("min learning rate must not be negative")
	case c.MinDelta < 0:
		return errors.New("min delta must not be negative")
	}
	if err := c.FeatureExtraction.validate("feature extraction", false); err != nil {
		return err
	}
	return c.FineTuning.validate("fine tuning", true)
}

func (c Config) phase(p Phase) PhaseConfig {
	if p == FineTuning {
		return c.FineTuning
	}
	return c.FeatureExtraction
}
