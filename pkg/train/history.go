package train

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"
)

const historySuffix = ".history.json"

// EpochRecord is one row of the training history.
type EpochRecord struct {
	Phase        string  `json:"phase" yaml:"phase"`
	Epoch        int     `json:"epoch" yaml:"epoch"`
	Loss         float64 `json:"loss" yaml:"loss"`
	Accuracy     float64 `json:"accuracy" yaml:"accuracy"`
	ValLoss      float64 `json:"val_loss" yaml:"valLoss"`
	ValAccuracy  float64 `json:"val_accuracy" yaml:"valAccuracy"`
	LearningRate float64 `json:"lr" yaml:"lr"`
	Improved     bool    `json:"improved" yaml:"improved"`
}

// MarshalJSON writes non-finite losses and accuracies as null.
func (r EpochRecord) MarshalJSON() ([]byte, error) {
	type plain EpochRecord
	return json.Marshal(struct {
		plain
		Loss        *float64 `json:"loss"`
		Accuracy    *float64 `json:"accuracy"`
		ValLoss     *float64 `json:"val_loss"`
		ValAccuracy *float64 `json:"val_accuracy"`
	}{plain(r), finite(r.Loss), finite(r.Accuracy), finite(r.ValLoss), finite(r.ValAccuracy)})
}

// UnmarshalJSON reads null losses and accuracies back as NaN.
func (r *EpochRecord) UnmarshalJSON(b []byte) error {
	type plain EpochRecord
	aux := struct {
		*plain
		Loss        *float64 `json:"loss"`
		Accuracy    *float64 `json:"accuracy"`
		ValLoss     *float64 `json:"val_loss"`
		ValAccuracy *float64 `json:"val_accuracy"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	r.Loss, r.Accuracy = orNaN(aux.Loss), orNaN(aux.Accuracy)
	r.ValLoss, r.ValAccuracy = orNaN(aux.ValLoss), orNaN(aux.ValAccuracy)
	return nil
}

// PhaseResult summarizes a completed phase. BestValLoss is nil when no
// epoch produced a finite validation loss.
type PhaseResult struct {
	Phase       string   `json:"phase" yaml:"phase"`
	Epochs      int      `json:"epochs" yaml:"epochs"`
	BestEpoch   int      `json:"best_epoch" yaml:"bestEpoch"`
	BestValLoss *float64 `json:"best_val_loss,omitempty" yaml:"bestValLoss,omitempty"`
	Stopped     bool     `json:"early_stopped" yaml:"earlyStopped"`
}

// History records a full training run.
type History struct {
	RunID      string         `json:"run_id" yaml:"runID"`
	StartedAt  time.Time      `json:"started_at" yaml:"startedAt"`
	FinishedAt time.Time      `json:"finished_at" yaml:"finishedAt"`
	Phases     []*PhaseResult `json:"phases" yaml:"phases"`
	Epochs     []EpochRecord  `json:"epochs" yaml:"epochs"`
	Test       *Evaluation    `json:"test,omitempty" yaml:"test,omitempty"`
}

// HistoryPath returns the history file stored next to an artifact.
func HistoryPath(artifact string) string {
	return artifact + historySuffix
}

// WriteFile saves the history as indented JSON.
func (h *History) WriteFile(path string) error {
	b, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling history: %w", err)
	}
	if err := os.WriteFile(path, b, 0600); err != nil {
		return fmt.Errorf("error writing history %s: %w", path, err)
	}
	return nil
}

// ReadHistory loads a history file.
func ReadHistory(path string) (*History, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading history %s: %w", path, err)
	}
	var h History
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, fmt.Errorf("error parsing history %s: %w", path, err)
	}
	return &h, nil
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
