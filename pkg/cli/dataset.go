package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mchmarny/dermai/pkg/dataset"
	"github.com/mchmarny/dermai/pkg/train"
	"github.com/urfave/cli/v3"
)

var (
	verifyCmd = &cli.Command{
		Name:   "verify",
		Usage:  "Check the dataset and model artifacts are in place",
		Action: cmdVerify,
	}

	processedFlag = &cli.StringFlag{
		Name:  "processed",
		Usage: "Write resized, contrast-enhanced copies into this dir and reference them",
	}

	seedFlag = &cli.Uint64Flag{
		Name:  "seed",
		Usage: "Split seed (overrides config)",
	}

	partitionCmd = &cli.Command{
		Name:  "partition",
		Usage: "Split the dataset metadata into stratified train, validation and test files",
		Flags: []cli.Flag{
			processedFlag,
			seedFlag,
		},
		Action: cmdPartition,
	}
)

func cmdVerify(_ context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd).Config
	rep := dataset.Verify(cfg.Data.Metadata, cfg.Data.Images, cfg.Data.ImageExt,
		cfg.Model.Artifact,
		train.HistoryPath(cfg.Model.Artifact),
		cfg.Model.Backbone)

	if err := encode(cmd, rep); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if !rep.Ready {
		return errors.New("dataset not ready: no usable images")
	}
	return nil
}

func cmdPartition(ctx context.Context, cmd *cli.Command) error {
	start := time.Now()
	cfg := getConfig(cmd).Config

	records, err := dataset.ReadMetadataFile(cfg.Data.Metadata)
	if err != nil {
		return err
	}

	samples, idx := dataset.BuildIndex(records, cfg.Data.Images, cfg.Data.ImageExt)

	opt := cfg.SplitOptions()
	if cmd.IsSet(seedFlag.Name) {
		opt.Seed = cmd.Uint64(seedFlag.Name)
	}

	parts, err := dataset.Split(samples, opt)
	if err != nil {
		return fmt.Errorf("splitting dataset: %w", err)
	}

	processed := cfg.Data.Processed
	if v := cmd.String(processedFlag.Name); v != "" {
		processed = v
	}
	if processed != "" {
		prep := cfg.Preprocessor().WithEqualization(cfg.Image.ClipLimit, cfg.Image.Tiles)
		if parts, err = dataset.WriteProcessed(ctx, parts, processed, prep, cfg.Train.Workers); err != nil {
			return fmt.Errorf("writing processed images: %w", err)
		}
		slog.Info("processed images written", "dir", processed, "count", parts.Len())
	}

	if err := dataset.WritePartitions(cfg.Data.Splits, parts); err != nil {
		return err
	}
	slog.Info("partitions written",
		"dir", cfg.Data.Splits,
		"train", len(parts.Train),
		"validation", len(parts.Validation),
		"test", len(parts.Test),
		"duration", since(start))

	return encode(cmd, struct {
		Index      *dataset.IndexReport      `json:"index" yaml:"index"`
		Partitions *dataset.PartitionSummary `json:"partitions" yaml:"partitions"`
	}{idx, parts.Summary()})
}
