package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/mchmarny/dermai/pkg/lesion"
)

const (
	painWeight     = 0.3
	itchingWeight  = 0.2
	bleedingWeight = 0.4

	imageWeight   = 0.6
	symptomWeight = 0.4

	lowUpper      = 0.33
	moderateUpper = 0.66
)

// ErrNonFiniteScore is returned by CheckScore for NaN or infinite scores.
var ErrNonFiniteScore = errors.New("non-finite score")

// Tier is a discrete risk level.
type Tier int

const (
	Low Tier = iota
	Moderate
	High
)

var recommendations = [...]string{
	Low:      "monitor lesion evolution",
	Moderate: "advise dermatological consultation",
	High:     "advise urgent dermatological consultation",
}

func (t Tier) String() string {
	switch t {
	case Low:
		return "low"
	case Moderate:
		return "moderate"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// Recommendation is the advice associated with the tier.
func (t Tier) Recommendation() string {
	if t < Low || t > High {
		return ""
	}
	return recommendations[t]
}

// SymptomScore weights the symptom flags. Duration does not contribute.
// Inputs are expected to have passed Symptoms.Validate.
func SymptomScore(s lesion.Symptoms) float64 {
	return Clamp(painWeight*float64(s.Pain) + itchingWeight*float64(s.Itching) + bleedingWeight*float64(s.Bleeding))
}

// Fuse combines the image and symptom scores into the global score.
func Fuse(image, symptom float64) float64 {
	return imageWeight*Clamp(image) + symptomWeight*Clamp(symptom)
}

// Classify maps a global score to its tier. Each upper bound is inclusive.
func Classify(global float64) Tier {
	switch {
	case global <= lowUpper:
		return Low
	case global <= moderateUpper:
		return Moderate
	default:
		return High
	}
}

// Assess runs symptom scoring, fusion and tiering for a validated request.
func Assess(imageScore float64, s lesion.Symptoms) lesion.Fusion {
	image := Clamp(imageScore)
	symptom := SymptomScore(s)
	global := Fuse(image, symptom)
	tier := Classify(global)
	return lesion.Fusion{
		ImageScore:     image,
		SymptomScore:   symptom,
		GlobalScore:    global,
		RiskTier:       tier.String(),
		Recommendation: tier.Recommendation(),
	}
}

// Clamp limits v to [0,1]. NaN passes through; reject it with CheckScore
// before scoring.
func Clamp(v float64) float64 {
	return min(1, max(0, v))
}

// CheckScore returns ErrNonFiniteScore when v is NaN or infinite.
func CheckScore(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %v", ErrNonFiniteScore, v)
	}
	return nil
}
