package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mchmarny/dermai/pkg/lesion"
)

const (
	insertAssessmentSQL = `INSERT INTO assessment (
			id, created_at, image_path, duration, pain, itching, bleeding,
			predicted, confidence, image_score, symptom_score, global_score,
			risk_level, recommendation, model_run
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectAssessmentColumns = `SELECT
			id, created_at, image_path, duration, pain, itching, bleeding,
			predicted, confidence, image_score, symptom_score, global_score,
			risk_level, recommendation, model_run
		FROM assessment
	`

	selectAssessmentSQL = selectAssessmentColumns + `WHERE id = ?`

	selectAssessmentsSQL = selectAssessmentColumns + `WHERE risk_level = COALESCE(?, risk_level)
		ORDER BY created_at DESC
		LIMIT ?
	`

	selectRiskCountsSQL = `SELECT risk_level, COUNT(*) FROM assessment GROUP BY risk_level`

	deleteAssessmentSQL = `DELETE FROM assessment WHERE id = ?`
)

// Assessment is a stored assessment result.
type Assessment struct {
	ID         string          `json:"id" yaml:"id"`
	CreatedAt  time.Time       `json:"created_at" yaml:"createdAt"`
	ImagePath  string          `json:"image_path" yaml:"imagePath"`
	Symptoms   lesion.Symptoms `json:"symptoms" yaml:"symptoms"`
	Predicted  string          `json:"predicted" yaml:"predicted"`
	Confidence float64         `json:"confidence" yaml:"confidence"`
	Fusion     lesion.Fusion   `json:"result" yaml:"result"`
	ModelRun   string          `json:"model_run,omitempty" yaml:"modelRun,omitempty"`
}

// SaveAssessment inserts a. A missing ID or timestamp is generated.
func (s *Store) SaveAssessment(ctx context.Context, a *Assessment) error {
	if err := s.check(); err != nil {
		return err
	}
	if a == nil {
		return errors.New("nil assessment")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.q(insertAssessmentSQL),
		a.ID, formatTime(a.CreatedAt), a.ImagePath, a.Symptoms.Duration,
		a.Symptoms.Pain, a.Symptoms.Itching, a.Symptoms.Bleeding,
		a.Predicted, a.Confidence,
		a.Fusion.ImageScore, a.Fusion.SymptomScore, a.Fusion.GlobalScore,
		a.Fusion.RiskTier, a.Fusion.Recommendation, a.ModelRun,
	)
	if err != nil {
		return fmt.Errorf("error inserting assessment %s: %w", a.ID, err)
	}
	return nil
}

// GetAssessment returns the assessment with id or ErrNotFound.
func (s *Store) GetAssessment(ctx context.Context, id string) (*Assessment, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	a, err := scanAssessment(s.db.QueryRowContext(ctx, s.q(selectAssessmentSQL), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("assessment %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return a, nil
}

// DeleteAssessment removes the assessment with id or returns ErrNotFound.
func (s *Store) DeleteAssessment(ctx context.Context, id string) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.q(deleteAssessmentSQL), id)
	if err != nil {
		return fmt.Errorf("error deleting assessment %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking deleted rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("assessment %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListAssessments returns the most recent assessments, newest first,
// optionally restricted to one risk level.
func (s *Store) ListAssessments(ctx context.Context, riskLevel string, limit int) ([]*Assessment, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var level any
	if riskLevel != "" {
		level = riskLevel
	}

	rows, err := s.db.QueryContext(ctx, s.q(selectAssessmentsSQL), level, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("error querying assessments: %w", err)
	}
	defer rows.Close()

	list := make([]*Assessment, 0)
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assessments: %w", err)
	}
	return list, nil
}

// RiskCounts returns the number of stored assessments per risk level.
func (s *Store) RiskCounts(ctx context.Context) (map[string]int64, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, selectRiskCountsSQL)
	if err != nil {
		return nil, fmt.Errorf("error querying risk counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var level string
		var n int64
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("error scanning risk count: %w", err)
		}
		out[level] = n
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row scanner) (*Assessment, error) {
	var a Assessment
	var created string
	err := row.Scan(
		&a.ID, &created, &a.ImagePath, &a.Symptoms.Duration,
		&a.Symptoms.Pain, &a.Symptoms.Itching, &a.Symptoms.Bleeding,
		&a.Predicted, &a.Confidence,
		&a.Fusion.ImageScore, &a.Fusion.SymptomScore, &a.Fusion.GlobalScore,
		&a.Fusion.RiskTier, &a.Fusion.Recommendation, &a.ModelRun,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("error scanning assessment: %w", err)
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &a, nil
}
