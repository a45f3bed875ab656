package lesion

import (
	"errors"
	"fmt"
)

// ErrValidation is matched by every symptom input validation failure.
var ErrValidation = errors.New("validation error")

// ValidationError describes a single invalid input field.
type ValidationError struct {
	Field string
	Value int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %d (must be 0 or 1)", e.Field, e.Value)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Sample is a labeled image in the dataset index.
type Sample struct {
	ImageID string `json:"image_id" yaml:"imageID"`
	Label   string `json:"label" yaml:"label"`
	Path    string `json:"path" yaml:"path"`
}

// Prediction is the output of one classifier inference.
type Prediction struct {
	Probabilities []float64 `json:"probabilities" yaml:"probabilities"`
	Predicted     Category  `json:"predicted" yaml:"predicted"`
	Confidence    float64   `json:"confidence" yaml:"confidence"`
	RiskScore     float64   `json:"image_risk_score" yaml:"imageRiskScore"`
}

// ByCode returns the probabilities keyed by category code.
func (p *Prediction) ByCode() map[string]float64 {
	out := make(map[string]float64, len(p.Probabilities))
	for i, v := range p.Probabilities {
		if i < Count {
			out[categories[i].Code] = v
		}
	}
	return out
}

// Symptoms is the questionnaire part of an assessment request.
// Duration is recorded but does not contribute to the score.
type Symptoms struct {
	Duration string `json:"duration" yaml:"duration"`
	Pain     int    `json:"pain" yaml:"pain"`
	Itching  int    `json:"itching" yaml:"itching"`
	Bleeding int    `json:"bleeding" yaml:"bleeding"`
}

// Validate checks that every flag is 0 or 1.
func (s Symptoms) Validate() error {
	for _, f := range []struct {
		name string
		val  int
	}{
		{"pain", s.Pain},
		{"itching", s.Itching},
		{"bleeding", s.Bleeding},
	} {
		if f.val != 0 && f.val != 1 {
			return &ValidationError{Field: f.name, Value: f.val}
		}
	}
	return nil
}

// Fusion is the combined result of image and symptom scoring.
type Fusion struct {
	ImageScore     float64 `json:"image_score" yaml:"imageScore"`
	SymptomScore   float64 `json:"symptom_score" yaml:"symptomScore"`
	GlobalScore    float64 `json:"global_score" yaml:"globalScore"`
	RiskTier       string  `json:"risk_tier" yaml:"riskTier"`
	Recommendation string  `json:"recommendation_text" yaml:"recommendationText"`
}
