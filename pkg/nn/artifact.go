package nn

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	artifactFormat = 1

	dirMode  = 0700
	fileMode = 0600
)

// ErrNonFiniteWeights is returned when an artifact carries NaN or infinite
// parameters.
var ErrNonFiniteWeights = errors.New("non-finite weights")

// Artifact is the serialized form of a trained network: architecture,
// weights and the category ordering of its outputs.
type Artifact struct {
	Format     int
	Arch       Architecture
	Categories []string
	Params     map[string][]float64
	CreatedAt  time.Time
	RunID      string
}

// NewArtifact captures the current weights of n.
func NewArtifact(n *Network, categories []string, runID string) *Artifact {
	return &Artifact{
		Format:     artifactFormat,
		Arch:       n.Arch,
		Categories: append([]string(nil), categories...),
		Params:     n.Snapshot(),
		CreatedAt:  time.Now().UTC(),
		RunID:      runID,
	}
}

// Network rebuilds the network described by the artifact.
func (a *Artifact) Network() (*Network, error) {
	if a.Format != artifactFormat {
		return nil, fmt.Errorf("unsupported artifact format: %d", a.Format)
	}
	if len(a.Categories) != a.Arch.Classes {
		return nil, fmt.Errorf("artifact has %d categories for %d outputs", len(a.Categories), a.Arch.Classes)
	}
	if err := checkFinite(a.Params); err != nil {
		return nil, err
	}
	n, err := Build(a.Arch, 0)
	if err != nil {
		return nil, fmt.Errorf("building network from artifact: %w", err)
	}
	if err := n.Restore(a.Params, nil, false); err != nil {
		return nil, fmt.Errorf("restoring artifact weights: %w", err)
	}
	return n, nil
}

// Encode writes the artifact as zstd-compressed gob.
func (a *Artifact) Encode(w io.Writer) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating compressor: %w", err)
	}
	if err := gob.NewEncoder(zw).Encode(a); err != nil {
		zw.Close()
		return fmt.Errorf("encoding artifact: %w", err)
	}
	return zw.Close()
}

// DecodeArtifact reads an artifact written by Encode.
func DecodeArtifact(r io.Reader) (*Artifact, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating decompressor: %w", err)
	}
	defer zr.Close()

	var a Artifact
	if err := gob.NewDecoder(zr).Decode(&a); err != nil {
		return nil, fmt.Errorf("decoding artifact: %w", err)
	}
	return &a, nil
}

// Save writes the artifact to path through a temporary file in the same
// directory, so readers never observe a partial file.
func (a *Artifact) Save(path string) (retErr error) {
	if path == "" {
		return errors.New("artifact path required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("creating artifact dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp artifact: %w", err)
	}
	defer func() {
		if retErr != nil {
			os.Remove(tmp.Name())
		}
	}()

	if err := a.Encode(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("setting artifact mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("moving artifact into place: %w", err)
	}
	return nil
}

// LoadArtifact reads the artifact stored at path. A missing file yields an
// error matching os.ErrNotExist.
func LoadArtifact(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening artifact %s: %w", path, err)
	}
	defer f.Close()

	a, err := DecodeArtifact(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// LoadBackbone copies pretrained backbone weights from the artifact at path
// into n. Only backbone parameters are read; the head keeps its weights.
func LoadBackbone(n *Network, path string) error {
	a, err := LoadArtifact(path)
	if err != nil {
		return err
	}
	if err := checkFinite(a.Params); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := n.Restore(a.Params, n.BackboneParams(), false); err != nil {
		return fmt.Errorf("loading backbone weights from %s: %w", path, err)
	}
	return nil
}

func checkFinite(params map[string][]float64) error {
	for name, vals := range params {
		for i, v := range vals {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: %s[%d]=%v", ErrNonFiniteWeights, name, i, v)
			}
		}
	}
	return nil
}
