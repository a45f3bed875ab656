package data

import (
	"context"
	"fmt"
)

var stateQueries = map[string]string{
	"assessment":     "SELECT COUNT(*) FROM assessment",
	"training_run":   "SELECT COUNT(*) FROM training_run",
	"training_epoch": "SELECT COUNT(*) FROM training_epoch",
	"schema_version": "SELECT COALESCE(MAX(version), 0) FROM schema_version",
}

// GetDataState returns row counts per table and the applied schema version.
func (s *Store) GetDataState(ctx context.Context) (map[string]int64, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(stateQueries))
	for k, q := range stateQueries {
		var n int64
		if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
			return nil, fmt.Errorf("error querying %s state: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}
