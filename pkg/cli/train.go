package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mchmarny/dermai/pkg/classifier"
	"github.com/mchmarny/dermai/pkg/dataset"
	"github.com/mchmarny/dermai/pkg/nn"
	"github.com/mchmarny/dermai/pkg/train"
	"github.com/urfave/cli/v3"
)

var (
	workersFlag = &cli.IntFlag{
		Name:  "workers",
		Usage: "Parallel workers (overrides config)",
	}

	batchSizeFlag = &cli.IntFlag{
		Name:  "batch-size",
		Usage: "Training batch size (overrides config)",
	}

	featureEpochsFlag = &cli.IntFlag{
		Name:  "feature-epochs",
		Usage: "Max epochs with a frozen backbone (overrides config)",
	}

	fineTuneEpochsFlag = &cli.IntFlag{
		Name:  "fine-tune-epochs",
		Usage: "Max fine tuning epochs, 0 skips fine tuning (overrides config)",
	}

	unfreezeFlag = &cli.IntFlag{
		Name:  "unfreeze",
		Usage: "Backbone layers to unfreeze for fine tuning (overrides config)",
	}

	noRecordFlag = &cli.BoolFlag{
		Name:  "no-record",
		Usage: "Do not record the run in the store",
	}

	trainCmd = &cli.Command{
		Name:  "train",
		Usage: "Train the classifier from the partition files",
		Flags: []cli.Flag{
			workersFlag,
			batchSizeFlag,
			featureEpochsFlag,
			fineTuneEpochsFlag,
			unfreezeFlag,
			noRecordFlag,
		},
		Action: cmdTrain,
	}

	partitionFlag = &cli.StringFlag{
		Name:  "partition",
		Usage: "Partition file to evaluate (default: the test partition)",
	}

	evaluateCmd = &cli.Command{
		Name:  "evaluate",
		Usage: "Evaluate the trained model on a partition file",
		Flags: []cli.Flag{
			partitionFlag,
			workersFlag,
		},
		Action: cmdEvaluate,
	}
)

func cmdTrain(ctx context.Context, cmd *cli.Command) error {
	start := time.Now()
	app := getConfig(cmd)
	cfg := app.Config

	tc := cfg.Train
	if cmd.IsSet(workersFlag.Name) {
		tc.Workers = cmd.Int(workersFlag.Name)
	}
	if cmd.IsSet(batchSizeFlag.Name) {
		tc.BatchSize = cmd.Int(batchSizeFlag.Name)
	}
	if cmd.IsSet(featureEpochsFlag.Name) {
		tc.FeatureExtraction.Epochs = cmd.Int(featureEpochsFlag.Name)
	}
	if cmd.IsSet(fineTuneEpochsFlag.Name) {
		tc.FineTuning.Epochs = cmd.Int(fineTuneEpochsFlag.Name)
	}
	if cmd.IsSet(unfreezeFlag.Name) {
		tc.UnfreezeLayers = cmd.Int(unfreezeFlag.Name)
	}

	parts, err := dataset.ReadPartitions(cfg.Data.Splits)
	if err != nil {
		return fmt.Errorf("reading partitions (run partition first): %w", err)
	}

	net, err := nn.Build(cfg.Architecture(), cfg.Model.InitSeed)
	if err != nil {
		return fmt.Errorf("building network: %w", err)
	}
	if err := loadBackbone(net, cfg.Model.Backbone); err != nil {
		return err
	}

	t, err := train.New(net, tc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Model.Artifact), dirMode); err != nil {
		return fmt.Errorf("creating artifact dir: %w", err)
	}
	t.Checkpoint = cfg.Model.Artifact
	t.RunID = uuid.NewString()
	t.Logger = slog.Default().With("run", t.RunID)
	t.Observer = app.Metrics

	prep := cfg.Preprocessor()
	slog.Info("training started",
		"run", t.RunID,
		"train", len(parts.Train),
		"validation", len(parts.Validation),
		"test", len(parts.Test),
		"params", len(net.Params()))

	h, err := t.Run(ctx,
		train.NewFileSource(parts.Train, prep),
		train.NewFileSource(parts.Validation, prep),
		train.NewFileSource(parts.Test, prep))
	if err != nil {
		return fmt.Errorf("training: %w", err)
	}
	slog.Info("training finished", "run", h.RunID, "artifact", cfg.Model.Artifact, "duration", since(start))

	if !cmd.Bool(noRecordFlag.Name) {
		store, err := app.getStore()
		if err != nil {
			return err
		}
		run, err := store.SaveRun(ctx, cfg.Model.Artifact, h)
		if err != nil {
			return fmt.Errorf("recording run: %w", err)
		}
		return encode(cmd, run)
	}
	return encode(cmd, h.Phases)
}

// loadBackbone copies pretrained weights into net when the file exists.
func loadBackbone(net *nn.Network, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Info("no pretrained backbone, using initialized weights", "path", path)
		return nil
	}
	if err := nn.LoadBackbone(net, path); err != nil {
		return err
	}
	slog.Info("pretrained backbone loaded", "path", path)
	return nil
}

func cmdEvaluate(ctx context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd).Config

	c, err := classifier.Load(cfg.Model.Artifact)
	if err != nil {
		return err
	}

	path := cmd.String(partitionFlag.Name)
	if path == "" {
		path = filepath.Join(cfg.Data.Splits, dataset.TestFile)
	}
	samples, err := dataset.ReadPartitionFile(path)
	if err != nil {
		return err
	}

	workers := cfg.Train.Workers
	if cmd.IsSet(workersFlag.Name) {
		workers = cmd.Int(workersFlag.Name)
	}

	ev, err := train.Evaluate(ctx, c.Network(), train.NewFileSource(samples, cfg.Preprocessor()), workers)
	if err != nil {
		return fmt.Errorf("evaluating %s: %w", path, err)
	}
	slog.Info("evaluation finished", "partition", path, "samples", ev.Samples, "accuracy", ev.Accuracy)
	return encode(cmd, ev)
}
