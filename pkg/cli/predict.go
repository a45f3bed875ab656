package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/mchmarny/dermai/pkg/assess"
	"github.com/mchmarny/dermai/pkg/classifier"
	"github.com/mchmarny/dermai/pkg/lesion"
	"github.com/mchmarny/dermai/pkg/scoring"
	"github.com/mchmarny/dermai/pkg/tensor"
	"github.com/urfave/cli/v3"
)

var (
	predictCmd = &cli.Command{
		Name:      "predict",
		Usage:     "Classify one or more lesion images",
		ArgsUsage: "IMAGE [IMAGE...]",
		Flags: []cli.Flag{
			workersFlag,
		},
		Action: cmdPredict,
	}

	imageFlag = &cli.StringFlag{
		Name:     "image",
		Usage:    "Path to the lesion image",
		Required: true,
	}

	painFlag = &cli.IntFlag{
		Name:  "pain",
		Usage: "Lesion is painful [0, 1]",
	}

	itchingFlag = &cli.IntFlag{
		Name:  "itching",
		Usage: "Lesion itches [0, 1]",
	}

	bleedingFlag = &cli.IntFlag{
		Name:  "bleeding",
		Usage: "Lesion bleeds [0, 1]",
	}

	durationFlag = &cli.StringFlag{
		Name:  "duration",
		Usage: "How long the lesion has been present (recorded only)",
	}

	saveFlag = &cli.BoolFlag{
		Name:  "save",
		Usage: "Record the assessment in the store",
	}

	assessCmd = &cli.Command{
		Name:  "assess",
		Usage: "Assess lesion risk from an image and symptoms",
		Flags: []cli.Flag{
			imageFlag,
			painFlag,
			itchingFlag,
			bleedingFlag,
			durationFlag,
			saveFlag,
		},
		Action: cmdAssess,
	}

	imageScoreFlag = &cli.FloatFlag{
		Name:  "image-score",
		Usage: "Image risk score to fuse with the symptom score [0-1]",
	}

	scoreCmd = &cli.Command{
		Name:  "score",
		Usage: "Score symptoms without an image, optionally fused with a known image score",
		Flags: []cli.Flag{
			painFlag,
			itchingFlag,
			bleedingFlag,
			durationFlag,
			imageScoreFlag,
		},
		Action: cmdScore,
	}
)

// SymptomResult is the score output when no image score is given.
type SymptomResult struct {
	Symptoms     lesion.Symptoms `json:"symptoms" yaml:"symptoms"`
	SymptomScore float64         `json:"symptom_score" yaml:"symptomScore"`
}

// PredictionResult is the predict output for one image.
type PredictionResult struct {
	Image         string             `json:"image" yaml:"image"`
	Predicted     string             `json:"predicted" yaml:"predicted"`
	Label         string             `json:"predicted_label" yaml:"predictedLabel"`
	Confidence    float64            `json:"confidence" yaml:"confidence"`
	RiskScore     float64            `json:"image_risk_score" yaml:"imageRiskScore"`
	Probabilities map[string]float64 `json:"per_category_probabilities" yaml:"perCategoryProbabilities"`
}

func cmdPredict(ctx context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd).Config

	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return errors.New("at least one image required")
	}

	c, err := classifier.Load(cfg.Model.Artifact)
	if err != nil {
		return err
	}

	prep := cfg.Preprocessor()
	xs := make([]*tensor.Tensor, len(paths))
	for i, p := range paths {
		if xs[i], err = prep.ProcessFile(p); err != nil {
			return err
		}
	}

	workers := cfg.Train.Workers
	if cmd.IsSet(workersFlag.Name) {
		workers = cmd.Int(workersFlag.Name)
	}

	preds, err := c.PredictBatch(ctx, xs, workers)
	if err != nil {
		return fmt.Errorf("classifying images: %w", err)
	}

	out := make([]*PredictionResult, len(preds))
	for i, p := range preds {
		out[i] = &PredictionResult{
			Image:         filepath.Base(paths[i]),
			Predicted:     p.Predicted.Code,
			Label:         p.Predicted.Label,
			Confidence:    p.Confidence,
			RiskScore:     p.RiskScore,
			Probabilities: p.ByCode(),
		}
	}
	return encode(cmd, out)
}

func cmdAssess(ctx context.Context, cmd *cli.Command) error {
	app := getConfig(cmd)
	cfg := app.Config

	// reject bad questionnaire input before loading the model
	symptoms := symptomsFromFlags(cmd)
	if err := symptoms.Validate(); err != nil {
		app.Metrics.ObserveFailure("validate")
		return err
	}

	c, err := classifier.Load(cfg.Model.Artifact)
	if err != nil {
		return err
	}

	opts := []assess.Option{
		assess.WithObserver(app.Metrics),
		assess.WithModelRun(c.RunID()),
	}
	if cmd.Bool(saveFlag.Name) {
		store, err := app.getStore()
		if err != nil {
			return err
		}
		opts = append(opts, assess.WithRecorder(store))
	}

	a, err := assess.New(cfg.Preprocessor(), c, opts...)
	if err != nil {
		return err
	}

	res, err := a.Assess(ctx, assess.Request{
		ImagePath: cmd.String(imageFlag.Name),
		Symptoms:  symptoms,
	})
	if err != nil {
		return err
	}
	return encode(cmd, res)
}

func symptomsFromFlags(cmd *cli.Command) lesion.Symptoms {
	return lesion.Symptoms{
		Duration: cmd.String(durationFlag.Name),
		Pain:     cmd.Int(painFlag.Name),
		Itching:  cmd.Int(itchingFlag.Name),
		Bleeding: cmd.Int(bleedingFlag.Name),
	}
}

func cmdScore(_ context.Context, cmd *cli.Command) error {
	symptoms := symptomsFromFlags(cmd)
	if err := symptoms.Validate(); err != nil {
		return err
	}

	if !cmd.IsSet(imageScoreFlag.Name) {
		return encode(cmd, &SymptomResult{
			Symptoms:     symptoms,
			SymptomScore: scoring.SymptomScore(symptoms),
		})
	}

	v := cmd.Float(imageScoreFlag.Name)
	if err := scoring.CheckScore(v); err != nil || v < 0 || v > 1 {
		return fmt.Errorf("%w: image score %v must be in [0, 1]", lesion.ErrValidation, v)
	}
	return encode(cmd, scoring.Assess(v, symptoms))
}
