package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDataState_Empty(t *testing.T) {
	s := setupTestStore(t)
	state, err := s.GetDataState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), state["assessment"])
	assert.Equal(t, int64(0), state["training_run"])
	assert.Equal(t, int64(0), state["training_epoch"])
	assert.Equal(t, int64(2), state["schema_version"])
}

func TestGetDataState_Counts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAssessment(ctx, testAssessment("high", time.Now())))
	require.NoError(t, s.SaveAssessment(ctx, testAssessment("low", time.Now())))
	_, err := s.SaveRun(ctx, "model.bin", testHistory())
	require.NoError(t, err)

	state, err := s.GetDataState(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), state["assessment"])
	assert.Equal(t, int64(1), state["training_run"])
	assert.Equal(t, int64(3), state["training_epoch"])
}

func TestGetDataState_NotInitialized(t *testing.T) {
	var s *Store
	_, err := s.GetDataState(context.Background())
	assert.ErrorIs(t, err, ErrDBNotInitialized)
}
