package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	idColumn    = "image_id"
	codeColumn  = "dx"
	pathColumn  = "path"
	labelColumn = "label"
)

var (
	// ErrNoSamples is returned when no usable sample remains after filtering.
	ErrNoSamples = errors.New("no usable samples")

	// ErrCategoryMissing is returned when a category has no samples at all.
	ErrCategoryMissing = errors.New("category absent from source data")

	// ErrEmptyPartition is returned when a split produces an empty partition.
	ErrEmptyPartition = errors.New("empty partition")
)

// Record is one metadata row.
type Record struct {
	ImageID string
	Code    string
}

// ReadMetadataFile reads the metadata table at path.
func ReadMetadataFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening metadata %s: %w", path, err)
	}
	defer f.Close()
	return ReadMetadata(f)
}

// ReadMetadata reads a CSV table with at least the image_id and dx columns.
// A "label" column is accepted in place of dx.
func ReadMetadata(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading metadata header: %w", err)
	}

	cols := columnIndex(header)
	idCol, ok := cols[idColumn]
	if !ok {
		return nil, fmt.Errorf("metadata missing %q column (header: %s)", idColumn, strings.Join(header, ","))
	}
	codeCol, ok := cols[codeColumn]
	if !ok {
		if codeCol, ok = cols[labelColumn]; !ok {
			return nil, fmt.Errorf("metadata missing %q column (header: %s)", codeColumn, strings.Join(header, ","))
		}
	}

	var list []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading metadata line %d: %w", line, err)
		}
		if idCol >= len(row) || codeCol >= len(row) {
			return nil, fmt.Errorf("metadata line %d: expected at least %d fields, got %d", line, max(idCol, codeCol)+1, len(row))
		}
		list = append(list, Record{
			ImageID: strings.TrimSpace(row[idCol]),
			Code:    strings.TrimSpace(row[codeCol]),
		})
	}
	return list, nil
}

func columnIndex(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, h := range header {
		m[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	return m
}
