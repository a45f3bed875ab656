package dataset

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mchmarny/dermai/pkg/lesion"
)

// DefaultImageExt is the extension of dataset image files.
const DefaultImageExt = ".jpg"

// IndexReport summarizes metadata filtering.
type IndexReport struct {
	Rows       int            `json:"rows" yaml:"rows"`
	Kept       int            `json:"kept" yaml:"kept"`
	Unknown    int            `json:"unknown_category" yaml:"unknownCategory"`
	Missing    int            `json:"missing_image" yaml:"missingImage"`
	Duplicates int            `json:"duplicates" yaml:"duplicates"`
	ByCategory map[string]int `json:"by_category" yaml:"byCategory"`
}

// BuildIndex resolves metadata rows to labeled image samples. Rows with an
// unknown category code or without an image file under imagesDir are dropped.
func BuildIndex(records []Record, imagesDir, ext string) ([]lesion.Sample, *IndexReport) {
	if ext == "" {
		ext = DefaultImageExt
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	rep := &IndexReport{
		Rows:       len(records),
		ByCategory: make(map[string]int),
	}
	seen := make(map[string]bool, len(records))
	samples := make([]lesion.Sample, 0, len(records))

	for _, r := range records {
		if _, ok := lesion.Lookup(r.Code); !ok {
			slog.Debug("dropping sample with unknown category", "image_id", r.ImageID, "code", r.Code)
			rep.Unknown++
			continue
		}
		if seen[r.ImageID] {
			rep.Duplicates++
			continue
		}

		p := filepath.Join(imagesDir, r.ImageID+ext)
		if _, err := os.Stat(p); err != nil {
			slog.Debug("image not found, dropping sample", "image_id", r.ImageID, "path", p)
			rep.Missing++
			continue
		}

		seen[r.ImageID] = true
		samples = append(samples, lesion.Sample{ImageID: r.ImageID, Label: r.Code, Path: p})
		rep.ByCategory[r.Code]++
	}

	rep.Kept = len(samples)
	if rep.Missing > 0 {
		slog.Warn("images not found", "missing", rep.Missing, "dir", imagesDir)
	}
	slog.Info("dataset indexed",
		"rows", rep.Rows, "kept", rep.Kept, "missing", rep.Missing,
		"unknown", rep.Unknown, "duplicates", rep.Duplicates)
	return samples, rep
}

// Distribution counts samples per category code.
func Distribution(samples []lesion.Sample) map[string]int {
	m := make(map[string]int)
	for _, s := range samples {
		m[s.Label]++
	}
	return m
}
