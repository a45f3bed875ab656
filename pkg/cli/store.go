package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mchmarny/dermai/pkg/data"
	"github.com/mchmarny/dermai/pkg/scoring"
	"github.com/mchmarny/dermai/pkg/train"
	"github.com/urfave/cli/v3"
)

var (
	limitFlag = &cli.IntFlag{
		Name:  "limit",
		Usage: "Max number of records to list",
		Value: 20,
	}

	riskFlag = &cli.StringFlag{
		Name:  "risk",
		Usage: "Only list assessments with this risk level [low, moderate, high]",
	}

	assessmentIDFlag = &cli.StringFlag{
		Name:  "id",
		Usage: "Show the assessment with this ID",
	}

	statsFlag = &cli.BoolFlag{
		Name:  "stats",
		Usage: "Show the number of saved assessments per risk level",
	}

	historyCmd = &cli.Command{
		Name:  "history",
		Usage: "List saved assessments",
		Flags: []cli.Flag{
			riskFlag,
			limitFlag,
			assessmentIDFlag,
			statsFlag,
		},
		Action: cmdHistory,
		Commands: []*cli.Command{
			{
				Name:      "delete",
				Usage:     "Delete a saved assessment",
				ArgsUsage: "ID",
				Action:    cmdHistoryDelete,
			},
		},
	}

	runIDFlag = &cli.StringFlag{
		Name:  "id",
		Usage: "Show the epochs of this training run",
	}

	historyFileFlag = &cli.BoolFlag{
		Name:  "history-file",
		Usage: "Show the training history saved next to the model artifact",
	}

	runsCmd = &cli.Command{
		Name:  "runs",
		Usage: "List recorded training runs",
		Flags: []cli.Flag{
			runIDFlag,
			limitFlag,
			historyFileFlag,
		},
		Action: cmdRuns,
	}

	stateCmd = &cli.Command{
		Name:   "state",
		Usage:  "Show record store row counts and schema version",
		Action: cmdState,
	}

	yesFlag = &cli.BoolFlag{
		Name:  "yes",
		Usage: "Skip the confirmation prompt",
	}

	resetCmd = &cli.Command{
		Name:   "reset",
		Usage:  "Delete all recorded assessments and runs and start fresh",
		Flags:  []cli.Flag{yesFlag},
		Action: cmdReset,
	}
)

func cmdHistory(ctx context.Context, cmd *cli.Command) error {
	risk := strings.ToLower(cmd.String(riskFlag.Name))
	if risk != "" && !validTier(risk) {
		return fmt.Errorf("invalid risk level: %s", risk)
	}

	store, err := getConfig(cmd).getStore()
	if err != nil {
		return err
	}

	if cmd.Bool(statsFlag.Name) {
		counts, err := store.RiskCounts(ctx)
		if err != nil {
			return err
		}
		return encode(cmd, counts)
	}

	if id := cmd.String(assessmentIDFlag.Name); id != "" {
		a, err := store.GetAssessment(ctx, id)
		if err != nil {
			return err
		}
		return encode(cmd, a)
	}

	list, err := store.ListAssessments(ctx, risk, cmd.Int(limitFlag.Name))
	if err != nil {
		return err
	}
	return encode(cmd, list)
}

func cmdHistoryDelete(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return errors.New("assessment ID required")
	}
	store, err := getConfig(cmd).getStore()
	if err != nil {
		return err
	}
	if err := store.DeleteAssessment(ctx, id); err != nil {
		return err
	}
	slog.Info("assessment deleted", "id", id)
	return nil
}

func validTier(s string) bool {
	for _, t := range []scoring.Tier{scoring.Low, scoring.Moderate, scoring.High} {
		if t.String() == s {
			return true
		}
	}
	return false
}

func cmdRuns(ctx context.Context, cmd *cli.Command) error {
	app := getConfig(cmd)
	if cmd.Bool(historyFileFlag.Name) {
		h, err := train.ReadHistory(train.HistoryPath(app.Config.Model.Artifact))
		if err != nil {
			return err
		}
		return encode(cmd, h)
	}

	store, err := app.getStore()
	if err != nil {
		return err
	}

	if id := cmd.String(runIDFlag.Name); id != "" {
		epochs, err := store.RunEpochs(ctx, id)
		if err != nil {
			return err
		}
		return encode(cmd, epochs)
	}

	runs, err := store.ListRuns(ctx, cmd.Int(limitFlag.Name))
	if err != nil {
		return err
	}
	return encode(cmd, runs)
}

func cmdState(ctx context.Context, cmd *cli.Command) error {
	store, err := getConfig(cmd).getStore()
	if err != nil {
		return err
	}
	state, err := store.GetDataState(ctx)
	if err != nil {
		return err
	}
	return encode(cmd, state)
}

func cmdReset(_ context.Context, cmd *cli.Command) error {
	app := getConfig(cmd)
	dsn := app.Config.Data.Database
	if data.IsPostgres(dsn) {
		return errors.New("reset only supports the local sqlite store")
	}

	if !cmd.Bool(yesFlag.Name) {
		ok, err := confirm(cmd.Root().ErrWriter, cmd.Root().Reader,
			fmt.Sprintf("This will permanently delete all data in %s", dsn))
		if err != nil {
			return err
		}
		if !ok {
			slog.Info("reset aborted")
			return nil
		}
	}

	// close the DB before deleting the file
	app.close()

	if err := os.Remove(dsn); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting database: %w", err)
	}
	slog.Info("database deleted", "path", dsn)

	if err := data.Init(dsn); err != nil {
		return fmt.Errorf("re-initializing database: %w", err)
	}
	slog.Info("database re-initialized", "path", dsn)
	return nil
}

func confirm(w io.Writer, r io.Reader, msg string) (bool, error) {
	if w == nil {
		w = os.Stderr
	}
	if r == nil {
		r = os.Stdin
	}
	fmt.Fprintln(w, msg)
	fmt.Fprint(w, "Are you sure? [y/N]: ")

	answer, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("reading input: %w", err)
	}
	return strings.ToLower(strings.TrimSpace(answer)) == "y", nil
}
