package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/mchmarny/dermai/pkg/train"
)

const (
	insertRunSQL = `INSERT INTO training_run (
			id, artifact, started_at, finished_at, epochs, best_val_loss, test_loss, test_accuracy
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	insertEpochSQL = `INSERT INTO training_epoch (
			run_id, seq, phase, epoch, loss, accuracy, val_loss, val_accuracy, lr, improved
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectRunsSQL = `SELECT
			id, artifact, started_at, finished_at, epochs, best_val_loss, test_loss, test_accuracy
		FROM training_run
		ORDER BY started_at DESC
		LIMIT ?
	`

	selectEpochsSQL = `SELECT
			phase, epoch, loss, accuracy, val_loss, val_accuracy, lr, improved
		FROM training_epoch
		WHERE run_id = ?
		ORDER BY seq
	`
)

// Run is a stored training run summary.
type Run struct {
	ID           string    `json:"id" yaml:"id"`
	Artifact     string    `json:"artifact" yaml:"artifact"`
	StartedAt    time.Time `json:"started_at" yaml:"startedAt"`
	FinishedAt   time.Time `json:"finished_at" yaml:"finishedAt"`
	Epochs       int       `json:"epochs" yaml:"epochs"`
	BestValLoss  *float64  `json:"best_val_loss,omitempty" yaml:"bestValLoss,omitempty"`
	TestLoss     *float64  `json:"test_loss,omitempty" yaml:"testLoss,omitempty"`
	TestAccuracy *float64  `json:"test_accuracy,omitempty" yaml:"testAccuracy,omitempty"`
}

// SaveRun records a finished training history and its epochs in one
// transaction and returns the stored summary.
func (s *Store) SaveRun(ctx context.Context, artifact string, h *train.History) (*Run, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, errors.New("nil history")
	}

	r := &Run{
		ID:          h.RunID,
		Artifact:    artifact,
		StartedAt:   h.StartedAt,
		FinishedAt:  h.FinishedAt,
		Epochs:      len(h.Epochs),
		BestValLoss: bestValLoss(h),
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if h.Test != nil {
		r.TestLoss = finitePtr(h.Test.Loss)
		r.TestAccuracy = finitePtr(h.Test.Accuracy)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error starting run tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.q(insertRunSQL),
		r.ID, r.Artifact, formatTime(r.StartedAt), formatTime(r.FinishedAt),
		r.Epochs, r.BestValLoss, r.TestLoss, r.TestAccuracy,
	); err != nil {
		rollbackTransaction(tx)
		return nil, fmt.Errorf("error inserting run %s: %w", r.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, s.q(insertEpochSQL))
	if err != nil {
		rollbackTransaction(tx)
		return nil, fmt.Errorf("error preparing epoch insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range h.Epochs {
		improved := 0
		if e.Improved {
			improved = 1
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, i, e.Phase, e.Epoch,
			nullFloat(e.Loss), nullFloat(e.Accuracy), nullFloat(e.ValLoss), nullFloat(e.ValAccuracy),
			e.LearningRate, improved,
		); err != nil {
			rollbackTransaction(tx)
			return nil, fmt.Errorf("error inserting epoch %d of run %s: %w", i, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing run tx: %w", err)
	}
	return r, nil
}

// bestValLoss is the lowest validation loss of the last completed phase.
func bestValLoss(h *train.History) *float64 {
	if len(h.Phases) == 0 {
		return nil
	}
	return h.Phases[len(h.Phases)-1].BestValLoss
}

// nullFloat stores NaN and infinite values as NULL.
func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v) && !math.IsInf(v, 0)}
}

func finitePtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func nanIfNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// ListRuns returns the most recent training runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.q(selectRunsSQL), limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("error querying runs: %w", err)
	}
	defer rows.Close()

	list := make([]*Run, 0)
	for rows.Next() {
		var r Run
		var started, finished string
		var bestLoss, testLoss, testAcc sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.Artifact, &started, &finished, &r.Epochs, &bestLoss, &testLoss, &testAcc); err != nil {
			return nil, fmt.Errorf("error scanning run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		if bestLoss.Valid {
			r.BestValLoss = &bestLoss.Float64
		}
		if testLoss.Valid {
			r.TestLoss = &testLoss.Float64
		}
		if testAcc.Valid {
			r.TestAccuracy = &testAcc.Float64
		}
		list = append(list, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return list, nil
}

// RunEpochs returns the epoch records of a run in training order.
func (s *Store) RunEpochs(ctx context.Context, runID string) ([]train.EpochRecord, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.q(selectEpochsSQL), runID)
	if err != nil {
		return nil, fmt.Errorf("error querying epochs of run %s: %w", runID, err)
	}
	defer rows.Close()

	list := make([]train.EpochRecord, 0)
	for rows.Next() {
		var e train.EpochRecord
		var loss, acc, valLoss, valAcc sql.NullFloat64
		var improved int
		if err := rows.Scan(&e.Phase, &e.Epoch, &loss, &acc, &valLoss, &valAcc, &e.LearningRate, &improved); err != nil {
			return nil, fmt.Errorf("error scanning epoch: %w", err)
		}
		e.Loss, e.Accuracy = nanIfNull(loss), nanIfNull(acc)
		e.ValLoss, e.ValAccuracy = nanIfNull(valLoss), nanIfNull(valAcc)
		e.Improved = improved == 1
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating epochs: %w", err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return list, nil
}
