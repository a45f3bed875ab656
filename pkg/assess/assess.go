package assess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mchmarny/dermai/pkg/data"
	"github.com/mchmarny/dermai/pkg/imaging"
	"github.com/mchmarny/dermai/pkg/lesion"
	"github.com/mchmarny/dermai/pkg/scoring"
	"github.com/mchmarny/dermai/pkg/tensor"
)

// Predictor classifies a preprocessed image.
type Predictor interface {
	Predict(x *tensor.Tensor) (*lesion.Prediction, error)
}

// Recorder persists completed assessments.
type Recorder interface {
	SaveAssessment(ctx context.Context, a *data.Assessment) error
}

// Observer is notified of every assessment outcome.
type Observer interface {
	ObserveAssessment(tier string, elapsed time.Duration)
	ObserveFailure(stage string)
}

// Request is one image plus the symptom questionnaire. Image takes
// precedence over ImagePath when both are set.
type Request struct {
	Image     []byte
	ImagePath string
	Symptoms  lesion.Symptoms
}

// Response is the assessment result returned to the caller.
type Response struct {
	ID            string `json:"id,omitempty" yaml:"id,omitempty"`
	lesion.Fusion `yaml:",inline"`
	Predicted     string             `json:"predicted" yaml:"predicted"`
	Label         string             `json:"predicted_label" yaml:"predictedLabel"`
	Confidence    float64            `json:"confidence" yaml:"confidence"`
	Probabilities map[string]float64 `json:"per_category_probabilities" yaml:"perCategoryProbabilities"`
}

// Assessor runs the per-request pipeline: validate, preprocess, classify,
// score symptoms, fuse and tier. Any failure stops the pipeline before
// fusion, so partial results are never returned or recorded.
type Assessor struct {
	prep      *imaging.Preprocessor
	predictor Predictor
	recorder  Recorder
	observer  Observer
	modelRun  string
	logger    *slog.Logger
}

// Option configures an Assessor.
type Option func(*Assessor)

// WithRecorder saves every successful assessment.
func WithRecorder(r Recorder) Option {
	return func(a *Assessor) {
		a.recorder = r
	}
}

// WithObserver reports outcomes to o.
func WithObserver(o Observer) Option {
	return func(a *Assessor) {
		a.observer = o
	}
}

// WithModelRun tags saved assessments with the training run of the model.
func WithModelRun(id string) Option {
	return func(a *Assessor) {
		a.modelRun = id
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assessor) {
		if l != nil {
			a.logger = l
		}
	}
}

// New returns an Assessor over prep and predictor.
func New(prep *imaging.Preprocessor, predictor Predictor, opts ...Option) (*Assessor, error) {
	if prep == nil {
		return nil, errors.New("preprocessor required")
	}
	if predictor == nil {
		return nil, errors.New("predictor required")
	}
	a := &Assessor{
		prep:      prep,
		predictor: predictor,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Assess evaluates one request.
func (a *Assessor) Assess(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if err := req.Symptoms.Validate(); err != nil {
		a.failed("validate")
		return nil, err
	}

	x, err := a.preprocess(req)
	if err != nil {
		a.failed("preprocess")
		return nil, err
	}

	pred, err := a.predictor.Predict(x)
	if err != nil {
		a.failed("predict")
		return nil, fmt.Errorf("error classifying image: %w", err)
	}
	if err := scoring.CheckScore(pred.RiskScore); err != nil {
		a.failed("predict")
		return nil, fmt.Errorf("error scoring image: %w", err)
	}

	res := &Response{
		Fusion:        scoring.Assess(pred.RiskScore, req.Symptoms),
		Predicted:     pred.Predicted.Code,
		Label:         pred.Predicted.Label,
		Confidence:    pred.Confidence,
		Probabilities: pred.ByCode(),
	}

	if a.recorder != nil {
		rec := &data.Assessment{
			ImagePath:  req.ImagePath,
			Symptoms:   req.Symptoms,
			Predicted:  res.Predicted,
			Confidence: res.Confidence,
			Fusion:     res.Fusion,
			ModelRun:   a.modelRun,
		}
		if err := a.recorder.SaveAssessment(ctx, rec); err != nil {
			a.failed("record")
			return nil, fmt.Errorf("error saving assessment: %w", err)
		}
		res.ID = rec.ID
	}

	elapsed := time.Since(start)
	if a.observer != nil {
		a.observer.ObserveAssessment(res.RiskTier, elapsed)
	}
	a.logger.Debug("assessment complete",
		"predicted", res.Predicted,
		"image_score", res.ImageScore,
		"symptom_score", res.SymptomScore,
		"global_score", res.GlobalScore,
		"tier", res.RiskTier,
		"elapsed", elapsed.String())
	return res, nil
}

func (a *Assessor) preprocess(req Request) (*tensor.Tensor, error) {
	switch {
	case len(req.Image) > 0:
		return a.prep.ProcessBytes(req.Image)
	case req.ImagePath != "":
		return a.prep.ProcessFile(req.ImagePath)
	default:
		return nil, fmt.Errorf("%w: image required", lesion.ErrValidation)
	}
}

func (a *Assessor) failed(stage string) {
	if a.observer != nil {
		a.observer.ObserveFailure(stage)
	}
}
