package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mchmarny/dermai/pkg/net"
	"github.com/mchmarny/dermai/pkg/nn"
	"github.com/urfave/cli/v3"
)

var (
	urlFlag = &cli.StringFlag{
		Name:  "url",
		Usage: "Backbone weights URL (overrides config)",
	}

	sha256Flag = &cli.StringFlag{
		Name:  "sha256",
		Usage: "Expected hex SHA-256 digest of the download",
	}

	fetchBackboneCmd = &cli.Command{
		Name:  "fetch-backbone",
		Usage: "Download pretrained backbone weights",
		Flags: []cli.Flag{
			urlFlag,
			sha256Flag,
		},
		Action: cmdFetchBackbone,
	}
)

// FetchResult describes a downloaded backbone.
type FetchResult struct {
	URL    string `json:"url" yaml:"url"`
	Path   string `json:"path" yaml:"path"`
	SHA256 string `json:"sha256" yaml:"sha256"`
}

func cmdFetchBackbone(ctx context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd).Config

	url := cfg.Model.BackboneURL
	if v := cmd.String(urlFlag.Name); v != "" {
		url = v
	}
	if url == "" {
		return errors.New("backbone URL required: set --url or model.backboneURL")
	}
	path := cfg.Model.Backbone
	if path == "" {
		return errors.New("model.backbone path not configured")
	}

	digest, err := net.Download(ctx, url, path, cmd.String(sha256Flag.Name))
	if err != nil {
		return err
	}

	// the weights must fit the configured architecture
	n, err := nn.Build(cfg.Architecture(), cfg.Model.InitSeed)
	if err != nil {
		return fmt.Errorf("building network: %w", err)
	}
	if err := nn.LoadBackbone(n, path); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			slog.Debug("error removing invalid backbone", "path", path, "error", rmErr)
		}
		return fmt.Errorf("downloaded backbone is not usable: %w", err)
	}
	slog.Info("backbone saved", "path", path, "sha256", digest)

	return encode(cmd, &FetchResult{URL: url, Path: path, SHA256: digest})
}
