package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mchmarny/dermai/pkg/lesion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	dir := t.TempDir()
	c1, err := ReadOrCreate(dir)
	require.NoError(t, err)
	require.NotNil(t, c1)
	assert.Equal(t, filepath.Join(dir, "model.bin"), c1.Model.Artifact)

	c1.Split.Seed = 7
	c1.Image.Equalize = true
	c1.Train.BatchSize = 16

	require.NoError(t, Save(dir, c1))

	c2, err := ReadOrCreate(dir)
	require.NoError(t, err)
	assert.Equal(t, c1, c2)
}

func TestReadOrCreate_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "app")
	_, err := ReadOrCreate(dir)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, FileName))
	assert.NoError(t, err)
}

func TestReadOrCreate_EmptyDir(t *testing.T) {
	_, err := ReadOrCreate("")
	assert.Error(t, err)
	assert.Error(t, Save("", Default("x")))
	assert.Error(t, SaveFile(filepath.Join(t.TempDir(), FileName), nil))
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("image:\n  size: 64\ntrain:\n  batchSize: 4\n"), 0600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 64, c.Image.Size)
	assert.Equal(t, 4, c.Train.BatchSize)
	assert.Equal(t, 0.7, c.Split.TrainRatio)
	assert.Equal(t, 1e-5, c.Train.FineTuning.LearningRate)
	assert.Equal(t, filepath.Join(dir, "backbone.bin"), c.Model.Backbone)

	a := c.Architecture()
	assert.Equal(t, 64, a.Input.Height)
	assert.Equal(t, lesion.Count, a.Classes)
	assert.Equal(t, 64, c.Preprocessor().Size)
	assert.False(t, c.Preprocessor().Equalize)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	require.NoError(t, os.WriteFile(path, []byte("split:\n  trainRatio: 1.5\n"), 0600))
	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("image: [\n"), 0600))
	_, err = Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"train ratio", func(c *Config) { c.Split.TrainRatio = 0 }},
		{"validation ratio", func(c *Config) { c.Split.ValidationRatio = 1 }},
		{"size", func(c *Config) { c.Image.Size = 0 }},
		{"clip", func(c *Config) { c.Image.ClipLimit = 0 }},
		{"tiles", func(c *Config) { c.Image.Tiles = -1 }},
		{"artifact", func(c *Config) { c.Model.Artifact = "" }},
		{"head", func(c *Config) { c.Model.HeadUnits = 0 }},
		{"train", func(c *Config) { c.Train.Workers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default(t.TempDir())
			require.NoError(t, c.Validate())
			tt.mod(c)
			assert.Error(t, c.Validate())
		})
	}

	var c *Config
	assert.Error(t, c.Validate())
}

func TestSplitOptionsAndEqualization(t *testing.T) {
	c := Default(t.TempDir())
	c.Split.Seed = 9
	opt := c.SplitOptions()
	assert.Equal(t, uint64(9), opt.Seed)
	assert.Equal(t, 0.5, opt.ValidationRatio)

	c.Image.Equalize = true
	p := c.Preprocessor()
	assert.True(t, p.Equalize)
	assert.Equal(t, 2.0, p.ClipLimit)
	assert.Equal(t, 8, p.Tiles)
}

func TestGetOrCreateHomeDir(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir, created, err := GetOrCreateHomeDir("dermai")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, ".dermai", filepath.Base(dir))

	_, created, err = GetOrCreateHomeDir(".dermai")
	require.NoError(t, err)
	assert.False(t, created)

	_, _, err = GetOrCreateHomeDir("")
	assert.Error(t, err)
}
