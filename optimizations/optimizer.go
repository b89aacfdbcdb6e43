// Package optimizations implements the in-place parameter update rules
// and gradient clipping used by the training loop.
package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Optimizer applies one update step to the parameter list using the
// matching gradient list. The learning rate is passed per step because
// the training loop rescales it for variable-length windows.
type Optimizer interface {
	Step(params, grads []*mat.Dense, lr float64)
}

// SGD is plain stochastic gradient descent: p -= lr * g.
type SGD struct{}

func (SGD) Step(params, grads []*mat.Dense, lr float64) {
	for i, p := range params {
		g := grads[i]
		pr, pc := p.Dims()
		for r := 0; r < pr; r++ {
			for c := 0; c < pc; c++ {
				p.Set(r, c, p.At(r, c)-lr*g.At(r, c))
			}
		}
	}
}

// AdamW keeps first and second moment estimates per parameter and
// applies decoupled weight decay:
// p -= lr * (mhat/(sqrt(vhat)+eps) + wd*p) with bias correction.
type AdamW struct {
	Beta1, Beta2, Eps, WeightDecay float64

	m, v []*mat.Dense
	t    int
}

func NewAdamW(params []*mat.Dense, beta1, beta2, eps, weightDecay float64) *AdamW {
	a := &AdamW{Beta1: beta1, Beta2: beta2, Eps: eps, WeightDecay: weightDecay}
	a.m = make([]*mat.Dense, len(params))
	a.v = make([]*mat.Dense, len(params))
	for i, p := range params {
		r, c := p.Dims()
		a.m[i] = mat.NewDense(r, c, nil)
		a.v[i] = mat.NewDense(r, c, nil)
	}
	return a
}

func (a *AdamW) Step(params, grads []*mat.Dense, lr float64) {
	a.t++
	c1 := 1.0 / (1.0 - math.Pow(a.Beta1, float64(a.t)))
	c2 := 1.0 / (1.0 - math.Pow(a.Beta2, float64(a.t)))
	for i, p := range params {
		g := grads[i]
		m, v := a.m[i], a.v[i]
		pr, pc := p.Dims()
		if gr, gc := g.Dims(); gr != pr || gc != pc {
			panic("optimizations: grad shape mismatch")
		}
		for r := 0; r < pr; r++ {
			for c := 0; c < pc; c++ {
				gij := g.At(r, c)
				mij := a.Beta1*m.At(r, c) + (1.0-a.Beta1)*gij
				vij := a.Beta2*v.At(r, c) + (1.0-a.Beta2)*gij*gij
				mhat := mij * c1
				vhat := vij * c2
				update := mhat/(math.Sqrt(vhat)+a.Eps) + a.WeightDecay*p.At(r, c)
				m.Set(r, c, mij)
				v.Set(r, c, vij)
				p.Set(r, c, p.At(r, c)-lr*update)
			}
		}
	}
}

// ClipGradNorm rescales the gradient list so its global L2 norm does
// not exceed maxNorm. Returns the scale applied (1.0 when untouched).
// Clipping every step is the only exploding-gradient mitigation the
// trainer carries.
func ClipGradNorm(grads []*mat.Dense, maxNorm float64) float64 {
	if maxNorm <= 0 {
		return 1.0
	}
	sum := 0.0
	for _, g := range grads {
		n := mat.Norm(g, 2)
		sum += n * n
	}
	gn := math.Sqrt(sum)
	if gn <= maxNorm || gn == 0 {
		return 1.0
	}
	s := maxNorm / gn
	for _, g := range grads {
		g.Scale(s, g)
	}
	return s
}
