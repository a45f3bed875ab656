package dataset

import (
	"os"
	"path/filepath"
	"strings"
)

// VerifyReport describes whether a dataset is ready for training.
type VerifyReport struct {
	MetadataPath   string          `json:"metadata_path" yaml:"metadataPath"`
	MetadataFound  bool            `json:"metadata_found" yaml:"metadataFound"`
	ImagesDir      string          `json:"images_dir" yaml:"imagesDir"`
	ImagesDirFound bool            `json:"images_dir_found" yaml:"imagesDirFound"`
	Rows           int             `json:"rows" yaml:"rows"`
	ImageFiles     int             `json:"image_files" yaml:"imageFiles"`
	Available      int             `json:"available" yaml:"available"`
	ByCategory     map[string]int  `json:"by_category,omitempty" yaml:"byCategory,omitempty"`
	Artifacts      map[string]bool `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	Errors         []string        `json:"errors,omitempty" yaml:"errors,omitempty"`
	Ready          bool            `json:"ready" yaml:"ready"`
}

// Verify checks the metadata file, the image directory and the presence of
// the listed artifact files. The report is Ready when at least one
// referenced image is present.
func Verify(metadataPath, imagesDir, ext string, artifacts ...string) *VerifyReport {
	if ext == "" {
		ext = DefaultImageExt
	}
	rep := &VerifyReport{
		MetadataPath: metadataPath,
		ImagesDir:    imagesDir,
		Artifacts:    make(map[string]bool, len(artifacts)),
	}

	for _, a := range artifacts {
		_, err := os.Stat(a)
		rep.Artifacts[a] = err == nil
	}

	if fi, err := os.Stat(imagesDir); err == nil && fi.IsDir() {
		rep.ImagesDirFound = true
		entries, err := os.ReadDir(imagesDir)
		if err != nil {
			rep.Errors = append(rep.Errors, err.Error())
		}
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ext) {
				rep.ImageFiles++
			}
		}
	} else {
		rep.Errors = append(rep.Errors, "images directory not found")
	}

	records, err := ReadMetadataFile(metadataPath)
	if err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		return rep
	}
	rep.MetadataFound = true
	rep.Rows = len(records)

	if !rep.ImagesDirFound {
		return rep
	}

	samples, _ := BuildIndex(records, imagesDir, ext)
	rep.Available = len(samples)
	rep.ByCategory = Distribution(samples)
	rep.Ready = rep.Available > 0
	return rep
}
