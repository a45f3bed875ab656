package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mchmarny/dermai/pkg/data"
	"github.com/mchmarny/dermai/pkg/dataset"
	"github.com/mchmarny/dermai/pkg/imaging"
	"github.com/mchmarny/dermai/pkg/nn"
	"github.com/mchmarny/dermai/pkg/train"
	"gopkg.in/yaml.v3"
)

const (
	FileName = "config.yaml"

	dirMode  = 0700
	fileMode = 0600

	artifactFileName = "model.bin"
	backboneFileName = "backbone.bin"
)

// Config is the application configuration file.
type Config struct {
	Data  Data         `yaml:"data"`
	Split Split        `yaml:"split"`
	Image Image        `yaml:"image"`
	Model Model        `yaml:"model"`
	Train train.Config `yaml:"train"`
}

// Data locates the dataset and the record store.
type Data struct {
	Metadata    string `yaml:"metadata"`
	Images      string `yaml:"images"`
	ImageExt    string `yaml:"imageExt"`
	Splits      string `yaml:"splits"`
	Processed   string `yaml:"processed,omitempty"`
	Database    string `yaml:"database"`
	MetricsFile string `yaml:"metricsFile,omitempty"`
}

// Split configures the stratified partitioning.
type Split struct {
	Seed            uint64  `yaml:"seed"`
	TrainRatio      float64 `yaml:"trainRatio"`
	ValidationRatio float64 `yaml:"validationRatio"`
}

// Image configures preprocessing.
type Image struct {
	Size      int     `yaml:"size"`
	ClipLimit float64 `yaml:"clipLimit"`
	Tiles     int     `yaml:"tiles"`
	// Equalize applies CLAHE when loading images for training and inference.
	// Processed copies are always equalized.
	Equalize bool `yaml:"equalize"`
}

// Model configures the network and its artifact.
type Model struct {
	Artifact         string  `yaml:"artifact"`
	Backbone         string  `yaml:"backbone"`
	BackboneURL      string  `yaml:"backboneURL,omitempty"`
	BackboneChannels []int   `yaml:"backboneChannels"`
	HeadUnits        int     `yaml:"headUnits"`
	Dropout          float64 `yaml:"dropout"`
	InitSeed         uint64  `yaml:"initSeed"`
}

// Default returns the configuration with all paths rooted at dir.
func Default(dir string) *Config {
	arch := nn.DefaultArchitecture()
	split := dataset.DefaultSplitOptions()
	return &Config{
		Data: Data{
			Metadata: filepath.Join(dir, "dataset", "HAM10000_metadata.csv"),
			Images:   filepath.Join(dir, "dataset", "images"),
			ImageExt: dataset.DefaultImageExt,
			Splits:   filepath.Join(dir, "splits"),
			Database: filepath.Join(dir, data.DataFileName),
		},
		Split: Split{
			Seed:            split.Seed,
			TrainRatio:      split.TrainRatio,
			ValidationRatio: split.ValidationRatio,
		},
		Image: Image{
			Size:      imaging.DefaultSize,
			ClipLimit: imaging.DefaultClipLimit,
			Tiles:     imaging.DefaultTiles,
		},
		Model: Model{
			Artifact:         filepath.Join(dir, artifactFileName),
			Backbone:         filepath.Join(dir, backboneFileName),
			BackboneChannels: arch.BackboneChannels,
			HeadUnits:        arch.HeadUnits,
			Dropout:          arch.Dropout,
			InitSeed:         split.Seed,
		},
		Train: train.DefaultConfig(),
	}
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config required")
	}
	switch {
	case c.Split.TrainRatio <= 0 || c.Split.TrainRatio >= 1:
		return fmt.Errorf("split.trainRatio must be in (0,1): %v", c.Split.TrainRatio)
	case c.Split.ValidationRatio <= 0 || c.Split.ValidationRatio >= 1:
		return fmt.Errorf("split.validationRatio must be in (0,1): %v", c.Split.ValidationRatio)
	case c.Image.Size <= 0:
		return fmt.Errorf("image.size must be positive: %d", c.Image.Size)
	case c.Image.ClipLimit <= 0:
		return fmt.Errorf("image.clipLimit must be positive: %v", c.Image.ClipLimit)
	case c.Image.Tiles <= 0:
		return fmt.Errorf("image.tiles must be positive: %d", c.Image.Tiles)
	case c.Model.Artifact == "":
		return errors.New("model.artifact required")
	}
	if err := c.Architecture().Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if err := c.Train.Validate(); err != nil {
		return fmt.Errorf("train: %w", err)
	}
	return nil
}

// SplitOptions converts the split section.
func (c *Config) SplitOptions() dataset.SplitOptions {
	return dataset.SplitOptions{
		Seed:            c.Split.Seed,
		TrainRatio:      c.Split.TrainRatio,
		ValidationRatio: c.Split.ValidationRatio,
	}
}

// Architecture returns the network shape for the configured image size.
func (c *Config) Architecture() nn.Architecture {
	a := nn.DefaultArchitecture()
	a.Input.Height, a.Input.Width = c.Image.Size, c.Image.Size
	a.BackboneChannels = append([]int(nil), c.Model.BackboneChannels...)
	a.HeadUnits = c.Model.HeadUnits
	a.Dropout = c.Model.Dropout
	return a
}

// Preprocessor returns the configured inference/training preprocessor.
func (c *Config) Preprocessor() *imaging.Preprocessor {
	p := imaging.NewPreprocessor(c.Image.Size)
	if c.Image.Equalize {
		return p.WithEqualization(c.Image.ClipLimit, c.Image.Tiles)
	}
	return p
}

// Save writes c to dirPath/config.yaml.
func Save(dirPath string, c *Config) error {
	if dirPath == "" {
		return errors.New("config directory required")
	}
	return SaveFile(filepath.Join(dirPath, FileName), c)
}

// SaveFile writes c to path.
func SaveFile(path string, c *Config) error {
	if c == nil {
		return errors.New("config required")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, b, fileMode); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// ReadOrCreate reads the config from dirPath or creates it with defaults.
func ReadOrCreate(dirPath string) (*Config, error) {
	if dirPath == "" {
		return nil, errors.New("config directory required")
	}

	if _, err := os.Stat(dirPath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dirPath, dirMode); err != nil {
			return nil, fmt.Errorf("failed to create dir %s: %w", dirPath, err)
		}
	}

	path := filepath.Join(dirPath, FileName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Debug("creating default config", "path", path)
		if err := Save(dirPath, Default(dirPath)); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}
	return Load(path)
}

// Load reads the config file at path. Values missing from the file keep
// their defaults, with paths rooted at the file's directory.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	c := Default(filepath.Dir(path))
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("error unmarshalling config file %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return c, nil
}

// GetOrCreateHomeDir returns the named directory under the user home.
// The create flag is set to true if the directory was created.
func GetOrCreateHomeDir(name string) (path string, created bool, err error) {
	if name == "" {
		return "", false, errors.New("name cannot be empty")
	}

	if !strings.HasPrefix(name, ".") {
		name = "." + name
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("failed to get user home dir: %w", err)
	}

	dir := filepath.Join(home, name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		slog.Debug("creating dir", "dir", dir)
		if err := os.Mkdir(dir, dirMode); err != nil {
			return "", false, fmt.Errorf("failed to create dir %s: %w", dir, err)
		}
		created = true
	}
	return dir, created, nil
}
