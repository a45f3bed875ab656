package scoring

import (
	"math"
	"testing"

	"github.com/mchmarny/dermai/pkg/lesion"
	"github.com/stretchr/testify/assert"
)

func TestSymptomScore(t *testing.T) {
	tests := []struct {
		p, i, b int
		want    float64
	}{
		{0, 0, 0, 0},
		{1, 0, 0, 0.3},
		{0, 1, 0, 0.2},
		{0, 0, 1, 0.4},
		{1, 1, 0, 0.5},
		{1, 0, 1, 0.7},
		{0, 1, 1, 0.6},
		{1, 1, 1, 0.9},
	}
	for _, tt := range tests {
		s := lesion.Symptoms{Pain: tt.p, Itching: tt.i, Bleeding: tt.b, Duration: "3 weeks"}
		assert.InDelta(t, tt.want, SymptomScore(s), 1e-12, "%+v", tt)
	}
}

func TestFuse(t *testing.T) {
	assert.InDelta(t, 0.50, Fuse(0.7, 0.2), 1e-12)
	assert.Equal(t, 0.0, Fuse(0, 0))
	assert.InDelta(t, 1.0, Fuse(1, 1), 1e-12)
	assert.InDelta(t, 1.0, Fuse(3, 2), 1e-12)

	prev := -1.0
	for i := 0; i <= 10; i++ {
		v := Fuse(float64(i)/10, 0.5)
		assert.Greater(t, v, prev)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
		prev = v
	}
}

func TestClassify_Boundaries(t *testing.T) {
	tests := []struct {
		score float64
		tier  Tier
		name  string
	}{
		{0, Low, "low"},
		{0.33, Low, "low"},
		{0.3301, Moderate, "moderate"},
		{0.66, Moderate, "moderate"},
		{0.6601, High, "high"},
		{1, High, "high"},
	}
	for _, tt := range tests {
		got := Classify(tt.score)
		assert.Equal(t, tt.tier, got, "score %v", tt.score)
		assert.Equal(t, tt.name, got.String())
	}
}

func TestTier_Recommendation(t *testing.T) {
	assert.Equal(t, "monitor lesion evolution", Low.Recommendation())
	assert.Equal(t, "advise dermatological consultation", Moderate.Recommendation())
	assert.Equal(t, "advise urgent dermatological consultation", High.Recommendation())
	assert.Empty(t, Tier(7).Recommendation())
	assert.Equal(t, "unknown", Tier(-1).String())
}

func TestAssess_EndToEnd(t *testing.T) {
	f := Assess(0.78, lesion.Symptoms{Pain: 1, Bleeding: 1})
	assert.InDelta(t, 0.78, f.ImageScore, 1e-12)
	assert.InDelta(t, 0.7, f.SymptomScore, 1e-12)
	assert.InDelta(t, 0.748, f.GlobalScore, 1e-12)
	assert.Equal(t, "high", f.RiskTier)
	assert.Equal(t, "advise urgent dermatological consultation", f.Recommendation)
}

func TestAssess_ClampsImageScore(t *testing.T) {
	f := Assess(-0.5, lesion.Symptoms{})
	assert.Equal(t, 0.0, f.ImageScore)
	assert.Equal(t, "low", f.RiskTier)
}

func TestCheckScore(t *testing.T) {
	assert.NoError(t, CheckScore(0))
	assert.NoError(t, CheckScore(0.748))
	assert.NoError(t, CheckScore(-0.5))
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		assert.ErrorIs(t, CheckScore(v), ErrNonFiniteScore, v)
	}
}
