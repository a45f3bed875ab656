package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mchmarny/dermai/pkg/config"
	"github.com/mchmarny/dermai/pkg/data"
	"github.com/mchmarny/dermai/pkg/logging"
	"github.com/mchmarny/dermai/pkg/metrics"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	appName      = "dermai"
	appConfigKey = "app-config"
	dirMode      = 0700

	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	version = "v0.0.1-default"
	commit  = ""
	date    = ""

	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "Path to the config file (default: ~/.dermai/config.yaml)",
	}

	dbFlag = &cli.StringFlag{
		Name:  "db",
		Usage: "Record store: sqlite file path or postgres:// URL",
	}

	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Prints verbose logs (optional, default: false)",
	}

	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level [debug, info, warn, error]",
		Value: "info",
	}

	formatFlag = &cli.StringFlag{
		Name:  "format",
		Usage: "Output format [json, yaml]",
		Value: formatJSON,
	}

	metricsFileFlag = &cli.StringFlag{
		Name:  "metrics-file",
		Usage: "Write prometheus metrics to this textfile on exit",
	}
)

// Execute creates and runs the CLI application.
func Execute() {
	logging.SetDefaultCLILogger("info")

	if err := newApp().Run(context.Background(), os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

type appConfig struct {
	Config  *config.Config
	Format  string
	Metrics *metrics.Metrics

	store *data.Store
}

// getStore opens the record store on first use.
func (a *appConfig) getStore() (*data.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := data.Open(a.Config.Data.Database)
	if err != nil {
		return nil, fmt.Errorf("opening record store: %w", err)
	}
	a.store = s
	return s, nil
}

func (a *appConfig) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Debug("error closing store", "error", err)
		}
		a.store = nil
	}
}

func getConfig(cmd *cli.Command) *appConfig {
	return cmd.Root().Metadata[appConfigKey].(*appConfig)
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:                  appName,
		Version:               fmt.Sprintf("%s (%s - %s)", version, commit, date),
		Usage:                 "Skin lesion risk assessment from an image and a symptom questionnaire",
		EnableShellCompletion: true,
		HideHelpCommand:       true,
		Metadata:              map[string]any{},
		Flags: []cli.Flag{
			configFlag,
			dbFlag,
			debugFlag,
			logLevelFlag,
			formatFlag,
			metricsFileFlag,
		},
		Commands: []*cli.Command{
			verifyCmd,
			partitionCmd,
			trainCmd,
			evaluateCmd,
			predictCmd,
			assessCmd,
			scoreCmd,
			historyCmd,
			runsCmd,
			stateCmd,
			fetchBackboneCmd,
			resetCmd,
		},
		Before: before,
		After:  after,
	}
}

func before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	level := cmd.String(logLevelFlag.Name)
	if cmd.Bool(debugFlag.Name) {
		level = "debug"
	}
	logging.SetDefaultCLILogger(level)

	cfg, err := loadConfig(cmd.String(configFlag.Name))
	if err != nil {
		return ctx, err
	}
	if v := cmd.String(dbFlag.Name); v != "" {
		cfg.Data.Database = v
	}
	if v := cmd.String(metricsFileFlag.Name); v != "" {
		cfg.Data.MetricsFile = v
	}

	format := formatJSON
	switch f := cmd.String(formatFlag.Name); f {
	case formatJSON:
	case formatYAML, "yml":
		format = formatYAML
	default:
		return ctx, fmt.Errorf("unsupported output format: %s", f)
	}

	cmd.Metadata[appConfigKey] = &appConfig{
		Config:  cfg,
		Format:  format,
		Metrics: metrics.New(),
	}
	return ctx, nil
}

func after(_ context.Context, cmd *cli.Command) error {
	a, ok := cmd.Metadata[appConfigKey].(*appConfig)
	if !ok {
		return nil
	}
	a.close()

	if p := a.Config.Data.MetricsFile; p != "" {
		if err := a.Metrics.WriteTextfile(p); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
		slog.Debug("metrics written", "path", p)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	dir, created, err := config.GetOrCreateHomeDir(appName)
	if err != nil {
		return nil, err
	}
	if created {
		slog.Info("created config dir", "path", dir)
	}
	return config.ReadOrCreate(dir)
}

func encode(cmd *cli.Command, v any) error {
	var w io.Writer = os.Stdout
	if cmd.Root().Writer != nil {
		w = cmd.Root().Writer
	}
	if getConfig(cmd).Format == formatYAML {
		e := yaml.NewEncoder(w)
		defer e.Close()
		return e.Encode(v)
	}
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(v)
}

func since(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
