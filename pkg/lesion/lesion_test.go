package lesion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategories_Order(t *testing.T) {
	assert.Equal(t, []string{"akiec", "bcc", "bkl", "df", "mel", "nv", "vasc"}, Codes())
	for i, c := range Categories() {
		assert.Equal(t, i, c.Index)
		assert.GreaterOrEqual(t, c.RiskWeight, 0.0)
		assert.LessOrEqual(t, c.RiskWeight, 1.0)
	}
}

func TestCategories_ReturnsCopy(t *testing.T) {
	cats := Categories()
	cats[0].RiskWeight = 42
	w := RiskWeights()
	assert.Equal(t, 0.6, w[0])

	c, ok := Lookup("akiec")
	require.True(t, ok)
	assert.Equal(t, 0.6, c.RiskWeight)
}

func TestLookup(t *testing.T) {
	c, ok := Lookup("mel")
	require.True(t, ok)
	assert.Equal(t, 0.95, c.RiskWeight)

	c, ok = Lookup("nv")
	require.True(t, ok)
	assert.Equal(t, 0.1, c.RiskWeight)

	_, ok = Lookup("MEL")
	assert.False(t, ok)
	_, ok = Lookup("")
	assert.False(t, ok)
}

func TestByIndex(t *testing.T) {
	c, err := ByIndex(4)
	require.NoError(t, err)
	assert.Equal(t, "mel", c.Code)

	_, err = ByIndex(Count)
	assert.Error(t, err)
	_, err = ByIndex(-1)
	assert.Error(t, err)
}

func TestValidOrdering(t *testing.T) {
	assert.NoError(t, ValidOrdering(Codes()))
	assert.Error(t, ValidOrdering([]string{"nv", "mel"}))
	assert.Error(t, ValidOrdering([]string{"nv", "mel", "bkl", "bcc", "akiec", "vasc", "df"}))
}

func TestSymptoms_Validate(t *testing.T) {
	assert.NoError(t, Symptoms{Pain: 1, Itching: 0, Bleeding: 1}.Validate())
	assert.NoError(t, Symptoms{Duration: "3 weeks"}.Validate())

	err := Symptoms{Pain: 2}.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "pain", ve.Field)

	err = Symptoms{Bleeding: -1}.Validate()
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "bleeding", ve.Field)
}

func TestPrediction_ByCode(t *testing.T) {
	p := &Prediction{Probabilities: []float64{0, 0, 0, 0, 0.8, 0.2, 0}}
	m := p.ByCode()
	assert.Equal(t, 0.8, m["mel"])
	assert.Equal(t, 0.2, m["nv"])
	assert.Len(t, m, Count)
}
