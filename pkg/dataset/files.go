package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mchmarny/dermai/pkg/imaging"
	"github.com/mchmarny/dermai/pkg/lesion"
	"golang.org/x/sync/errgroup"
)

const (
	TrainFile      = "train.csv"
	ValidationFile = "val.csv"
	TestFile       = "test.csv"

	dirMode  = 0700
	fileMode = 0600
)

// WritePartitions writes train.csv, val.csv and test.csv into dir.
func WritePartitions(dir string, p *Partitions) error {
	if p == nil {
		return errors.New("partitions required")
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("creating splits dir %s: %w", dir, err)
	}
	for name, list := range map[string][]lesion.Sample{
		TrainFile:      p.Train,
		ValidationFile: p.Validation,
		TestFile:       p.Test,
	} {
		if err := writePartition(filepath.Join(dir, name), list); err != nil {
			return err
		}
	}
	return nil
}

func writePartition(path string, list []lesion.Sample) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fileMode)
	if err != nil {
		return fmt.Errorf("creating partition file %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{pathColumn, labelColumn}); err != nil {
		return fmt.Errorf("writing partition header: %w", err)
	}
	for _, s := range list {
		if err := w.Write([]string{s.Path, s.Label}); err != nil {
			return fmt.Errorf("writing partition row %s: %w", s.ImageID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing partition file %s: %w", path, err)
	}
	return nil
}

// ReadPartitions loads the three partition files from dir.
func ReadPartitions(dir string) (*Partitions, error) {
	var p Partitions
	for name, dst := range map[string]*[]lesion.Sample{
		TrainFile:      &p.Train,
		ValidationFile: &p.Validation,
		TestFile:       &p.Test,
	} {
		list, err := ReadPartitionFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		*dst = list
	}
	return &p, nil
}

// ReadPartitionFile loads one path,label partition file.
func ReadPartitionFile(path string) ([]lesion.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening partition file %s: %w", path, err)
	}
	defer f.Close()

	list, err := ReadPartition(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return list, nil
}

// ReadPartition parses a path,label CSV stream.
func ReadPartition(r io.Reader) ([]lesion.Sample, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading partition header: %w", err)
	}
	cols := columnIndex(header)
	pc, ok := cols[pathColumn]
	if !ok {
		return nil, fmt.Errorf("partition missing %q column", pathColumn)
	}
	lc, ok := cols[labelColumn]
	if !ok {
		return nil, fmt.Errorf("partition missing %q column", labelColumn)
	}

	var list []lesion.Sample
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading partition line %d: %w", line, err)
		}
		if _, ok := lesion.Lookup(row[lc]); !ok {
			return nil, fmt.Errorf("partition line %d: unknown category %q", line, row[lc])
		}
		base := filepath.Base(row[pc])
		list = append(list, lesion.Sample{
			ImageID: strings.TrimSuffix(base, filepath.Ext(base)),
			Label:   row[lc],
			Path:    row[pc],
		})
	}
	return list, nil
}

// WriteProcessed stores a resized, contrast-enhanced PNG copy of every sample
// under dir and returns partitions pointing at those copies.
func WriteProcessed(ctx context.Context, p *Partitions, dir string, prep *imaging.Preprocessor, workers int) (*Partitions, error) {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("creating processed dir %s: %w", dir, err)
	}

	out := &Partitions{
		Train:      make([]lesion.Sample, len(p.Train)),
		Validation: make([]lesion.Sample, len(p.Validation)),
		Test:       make([]lesion.Sample, len(p.Test)),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, workers))

	for _, pair := range [][2][]lesion.Sample{
		{p.Train, out.Train},
		{p.Validation, out.Validation},
		{p.Test, out.Test},
	} {
		src, dst := pair[0], pair[1]
		for i := range src {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				s := src[i]
				target := filepath.Join(dir, s.ImageID+".png")
				if err := writeProcessed(s.Path, target, prep); err != nil {
					return err
				}
				s.Path = target
				dst[i] = s
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func writeProcessed(src, dst string, prep *imaging.Preprocessor) (retErr error) {
	img, err := imaging.DecodeFile(src)
	if err != nil {
		return err
	}
	rgb, err := prep.Prepare(img)
	if err != nil {
		return fmt.Errorf("%s: %w", src, err)
	}

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fileMode)
	if err != nil {
		return fmt.Errorf("creating processed image %s: %w", dst, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && retErr == nil {
			retErr = fmt.Errorf("closing processed image %s: %w", dst, cerr)
		}
	}()

	if err := png.Encode(f, rgb); err != nil {
		return fmt.Errorf("encoding processed image %s: %w", dst, err)
	}
	return nil
}
