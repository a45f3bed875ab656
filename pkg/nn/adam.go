package nn

import "math"

// Adam implements the Adam optimizer over a fixed parameter set.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	step int
	m, v map[*Param][]float64
}

// NewAdam returns an optimizer with the usual moment decay rates.
func NewAdam(lr float64) *Adam {
	return &Adam{
		LR:    lr,
		Beta1: 0.9,
		Beta2: 0.999,
		Eps:   1e-7,
		m:     make(map[*Param][]float64),
		v:     make(map[*Param][]float64),
	}
}

// Step applies scaled gradients g to params.
func (a *Adam) Step(params []*Param, g Grads, scale float64) {
	a.step++
	c1 := 1 - math.Pow(a.Beta1, float64(a.step))
	c2 := 1 - math.Pow(a.Beta2, float64(a.step))

	for _, p := range params {
		grad, ok := g[p]
		if !ok {
			continue
		}
		m, v := a.m[p], a.v[p]
		if m == nil {
			m = make([]float64, len(p.Value))
			v = make([]float64, len(p.Value))
			a.m[p], a.v[p] = m, v
		}
		for i := range p.Value {
			gi := grad[i] * scale
			m[i] = a.Beta1*m[i] + (1-a.Beta1)*gi
			v[i] = a.Beta2*v[i] + (1-a.Beta2)*gi*gi
			p.Value[i] -= a.LR * (m[i] / c1) / (math.Sqrt(v[i]/c2) + a.Eps)
		}
	}
}
