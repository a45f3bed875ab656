package nn

import (
	"bytes"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/mchmarny/dermai/pkg/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallArch() Architecture {
	return Architecture{
		Input:            tensor.Shape{Height: 6, Width: 6, Channels: 3},
		BackboneChannels: []int{2, 3},
		HeadUnits:        4,
		Classes:          3,
	}
}

func randomInput(s tensor.Shape, seed uint64) *tensor.Tensor {
	rng := rand.New(rand.NewPCG(seed, 1))
	t := tensor.New(s.Height, s.Width, s.Channels)
	for i := range t.Data {
		t.Data[i] = rng.Float32()
	}
	return t
}

func TestSoftmax(t *testing.T) {
	p := Softmax([]float64{1, 2, 3})
	assert.InDelta(t, 1, p[0]+p[1]+p[2], 1e-12)
	assert.Greater(t, p[2], p[1])

	p = Softmax([]float64{1000, 1000})
	assert.InDelta(t, 0.5, p[0], 1e-12)
	assert.False(t, math.IsNaN(p[1]))
}

func TestCrossEntropyAndArgmax(t *testing.T) {
	assert.InDelta(t, -math.Log(0.25), CrossEntropy([]float64{0.25, 0.75}, 0), 1e-12)
	assert.False(t, math.IsInf(CrossEntropy([]float64{0, 1}, 0), 1))
	assert.Equal(t, 1, Argmax([]float64{0.1, 0.7, 0.2}))
	assert.Equal(t, -1, Argmax(nil))
}

func TestBuild_Shapes(t *testing.T) {
	n, err := Build(DefaultArchitecture(), 1)
	require.NoError(t, err)
	assert.Len(t, n.Backbone, 10)
	assert.Len(t, n.Head, 5)

	s := n.Arch.Input
	for _, l := range n.Backbone {
		s = l.OutShape(s)
	}
	assert.Equal(t, tensor.Shape{Height: 7, Width: 7, Channels: 128}, s)
}

func TestBuild_Invalid(t *testing.T) {
	a := smallArch()
	a.BackboneChannels = nil
	_, err := Build(a, 1)
	assert.Error(t, err)

	a = smallArch()
	a.Dropout = 1
	_, err = Build(a, 1)
	assert.Error(t, err)

	a = smallArch()
	a.Classes = 1
	_, err = Build(a, 1)
	assert.Error(t, err)
}

func TestPredict(t *testing.T) {
	n, err := Build(smallArch(), 3)
	require.NoError(t, err)

	x := randomInput(n.Arch.Input, 1)
	p, err := n.Predict(x)
	require.NoError(t, err)
	require.Len(t, p, 3)

	sum := 0.0
	for _, v := range p {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-9)

	again, err := n.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, p, again)

	_, err = n.Predict(tensor.New(5, 6, 3))
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestBuild_SeedDeterminism(t *testing.T) {
	a, err := Build(smallArch(), 9)
	require.NoError(t, err)
	b, err := Build(smallArch(), 9)
	require.NoError(t, err)
	c, err := Build(smallArch(), 10)
	require.NoError(t, err)

	assert.Equal(t, a.Snapshot(), b.Snapshot())
	assert.NotEqual(t, a.Snapshot(), c.Snapshot())
}

func TestBoundaryAndTrainable(t *testing.T) {
	n, err := Build(smallArch(), 1)
	require.NoError(t, err)

	assert.Equal(t, 4, n.Boundary(0))
	assert.Equal(t, 2, n.Boundary(2))
	assert.Equal(t, 0, n.Boundary(30))
	assert.Equal(t, 4, n.Boundary(-1))

	assert.Len(t, n.TrainableParams(0), 4)  // two dense layers
	assert.Len(t, n.TrainableParams(2), 6)  // plus last conv
	assert.Len(t, n.TrainableParams(30), 8) // everything
	assert.Len(t, n.BackboneParams(), 4)
}

func TestBackprop_NumericalGradient(t *testing.T) {
	n, err := Build(smallArch(), 5)
	require.NoError(t, err)
	x := randomInput(n.Arch.Input, 2)
	label := 1

	params := n.Params()
	g := NewGrads(params)
	_, _, err = n.Backprop(x, label, 0, nil, g)
	require.NoError(t, err)

	lossAt := func() float64 {
		p, err := n.Predict(x)
		require.NoError(t, err)
		return CrossEntropy(p, label)
	}

	const eps = 1e-6
	for _, p := range params {
		for _, i := range []int{0, len(p.Value) / 2, len(p.Value) - 1} {
			orig := p.Value[i]
			p.Value[i] = orig + eps
			up := lossAt()
			p.Value[i] = orig - eps
			down := lossAt()
			p.Value[i] = orig

			numeric := (up - down) / (2 * eps)
			assert.InDelta(t, numeric, g[p][i], 1e-5, "%s[%d]", p.Name, i)
		}
	}
}

func TestBackprop_StopsAtBoundary(t *testing.T) {
	n, err := Build(smallArch(), 5)
	require.NoError(t, err)
	x := randomInput(n.Arch.Input, 2)

	params := n.TrainableParams(0)
	g := NewGrads(params)
	_, _, err = n.Backprop(x, 0, n.Boundary(0), nil, g)
	require.NoError(t, err)

	nonZero := false
	for _, v := range g[params[len(params)-1]] {
		if v != 0 {
			nonZero = true
		}
	}
	assert.True(t, nonZero)
	for _, p := range n.BackboneParams() {
		_, ok := g[p]
		assert.False(t, ok)
	}

	_, _, err = n.Backprop(x, 3, 0, nil, g)
	assert.Error(t, err)
}

func TestAdam_ReducesLoss(t *testing.T) {
	n, err := Build(smallArch(), 11)
	require.NoError(t, err)
	x := randomInput(n.Arch.Input, 4)

	params := n.Params()
	opt := NewAdam(1e-2)
	first := 0.0
	last := 0.0
	for i := 0; i < 50; i++ {
		g := NewGrads(params)
		loss, _, err := n.Backprop(x, 2, 0, nil, g)
		require.NoError(t, err)
		if i == 0 {
			first = loss
		}
		last = loss
		opt.Step(params, g, 1)
	}
	assert.Less(t, last, first)
}

func TestDropout(t *testing.T) {
	in := &Volume{H: 1, W: 1, C: 1000, Data: make([]float64, 1000)}
	for i := range in.Data {
		in.Data[i] = 1
	}
	d := Dropout{Rate: 0.3}

	out, cache := d.Forward(in, nil)
	assert.Equal(t, in, out)
	assert.Nil(t, cache)

	pass := &Pass{Training: true, Rng: rand.New(rand.NewPCG(1, 1))}
	out, _ = d.Forward(in, pass)
	zeros := 0
	for _, v := range out.Data {
		if v == 0 {
			zeros++
		} else {
			assert.InDelta(t, 1/0.7, v, 1e-12)
		}
	}
	assert.InDelta(t, 300, zeros, 60)
}

func TestGrads_Add(t *testing.T) {
	p := newParam("p", 1, 2)
	a := NewGrads([]*Param{p})
	b := NewGrads([]*Param{p})
	a[p][0], b[p][0], b[p][1] = 1, 2, 3
	a.Add(b)
	assert.Equal(t, []float64{3, 3}, a[p])
}

func TestArtifact_RoundTrip(t *testing.T) {
	n, err := Build(smallArch(), 21)
	require.NoError(t, err)
	cats := []string{"a", "b", "c"}

	path := filepath.Join(t.TempDir(), "models", "model.bin")
	require.NoError(t, NewArtifact(n, cats, "run-1").Save(path))

	a, err := LoadArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, cats, a.Categories)
	assert.Equal(t, "run-1", a.RunID)

	loaded, err := a.Network()
	require.NoError(t, err)

	x := randomInput(n.Arch.Input, 8)
	want, err := n.Predict(x)
	require.NoError(t, err)
	got, err := loaded.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestArtifact_Errors(t *testing.T) {
	_, err := LoadArtifact(filepath.Join(t.TempDir(), "missing.bin"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = DecodeArtifact(bytes.NewReader([]byte("junk")))
	assert.Error(t, err)

	n, err := Build(smallArch(), 1)
	require.NoError(t, err)
	a := NewArtifact(n, []string{"a"}, "")
	_, err = a.Network()
	assert.Error(t, err)

	a = NewArtifact(n, []string{"a", "b", "c"}, "")
	a.Format = 99
	_, err = a.Network()
	assert.Error(t, err)

	assert.Error(t, a.Save(""))
}

func TestArtifact_NonFiniteWeights(t *testing.T) {
	n, err := Build(smallArch(), 1)
	require.NoError(t, err)

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		a := NewArtifact(n, []string{"a", "b", "c"}, "")
		for name := range a.Params {
			a.Params[name][0] = v
			break
		}
		_, err = a.Network()
		assert.ErrorIs(t, err, ErrNonFiniteWeights, v)

		path := filepath.Join(t.TempDir(), "backbone.bin")
		require.NoError(t, a.Save(path))
		dst, err := Build(smallArch(), 2)
		require.NoError(t, err)
		assert.ErrorIs(t, LoadBackbone(dst, path), ErrNonFiniteWeights, v)
	}
}

func TestLoadBackbone(t *testing.T) {
	src, err := Build(smallArch(), 31)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "backbone.bin")
	require.NoError(t, NewArtifact(src, []string{"a", "b", "c"}, "").Save(path))

	dst, err := Build(smallArch(), 32)
	require.NoError(t, err)
	headBefore := dst.Head[1].Params()[0].Value[0]

	require.NoError(t, LoadBackbone(dst, path))
	assert.Equal(t, src.BackboneParams()[0].Value, dst.BackboneParams()[0].Value)
	assert.Equal(t, headBefore, dst.Head[1].Params()[0].Value[0])

	assert.Error(t, LoadBackbone(dst, filepath.Join(t.TempDir(), "none.bin")))
}
