package rnn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// CellKind selects the recurrent cell. It is fixed at construction; the
// only place the trainer branches on it afterwards is the hidden-state
// shape (LSTM carries a paired state).
type CellKind int

const (
	RNNTanh CellKind = iota
	RNNReLU
	LSTM
	GRU
)

// ParseCellKind maps the configuration surface names onto cell kinds.
func ParseCellKind(s string) (CellKind, error) {
	switch s {
	case "RNN_TANH":
		return RNNTanh, nil
	case "RNN_RELU":
		return RNNReLU, nil
	case "LSTM":
		return LSTM, nil
	case "GRU":
		return GRU, nil
	}
	return 0, fmt.Errorf("rnn: unknown cell kind %q", s)
}

func (k CellKind) String() string {
	switch k {
	case RNNTanh:
		return "RNN_TANH"
	case RNNReLU:
		return "RNN_RELU"
	case LSTM:
		return "LSTM"
	case GRU:
		return "GRU"
	}
	return fmt.Sprintf("CellKind(%d)", int(k))
}

// gates is the number of gate blocks in the concatenated weight layout:
// input, forget, cell, output for LSTM; reset, update, candidate for GRU.
func (k CellKind) gates() int {
	switch k {
	case LSTM:
		return 4
	case GRU:
		return 3
	}
	return 1
}

// Cell is one recurrent layer. Gate weights are stored concatenated
// along the columns (in x gates*hid and hid x gates*hid), with separate
// input and hidden biases; the GRU candidate gate needs the hidden-side
// bias inside its reset product, so the two cannot be merged.
type Cell struct {
	Kind     CellKind
	In, Hid  int
	Wih, Whh *mat.Dense
	Bih, Bhh *mat.Dense

	dWih, dWhh, dBih, dBhh *mat.Dense
}

// NewCell initializes a cell with uniform(-1/sqrt(hid), 1/sqrt(hid))
// weights.
func NewCell(kind CellKind, in, hid int, rng *rand.Rand) *Cell {
	g := kind.gates()
	k := 1.0 / math.Sqrt(float64(hid))
	return &Cell{
		Kind: kind,
		In:   in,
		Hid:  hid,
		Wih:  uniformDense(in, g*hid, k, rng),
		Whh:  uniformDense(hid, g*hid, k, rng),
		Bih:  uniformDense(1, g*hid, k, rng),
		Bhh:  uniformDense(1, g*hid, k, rng),
		dWih: mat.NewDense(in, g*hid, nil),
		dWhh: mat.NewDense(hid, g*hid, nil),
		dBih: mat.NewDense(1, g*hid, nil),
		dBhh: mat.NewDense(1, g*hid, nil),
	}
}

// stepCache records the intermediates of one time step that the
// backward pass needs.
type stepCache struct {
	x, hPrev *mat.Dense
	h        *mat.Dense // new hidden (activation output for RNN cells)

	// GRU
	r, z, n, ah *mat.Dense // ah is the hidden-side candidate pre-activation

	// LSTM
	i, f, g, o         *mat.Dense
	cPrev, cNew, tanhC *mat.Dense
}

// step advances the cell by one time step. cPrev is only consulted for
// LSTM cells and cNew is nil for every other kind.
func (c *Cell) step(x, hPrev, cPrev *mat.Dense) (hNew, cNew *mat.Dense, sc *stepCache) {
	preI := affine(x, c.Wih, c.Bih)
	preH := affine(hPrev, c.Whh, c.Bhh)
	sc = &stepCache{x: x, hPrev: hPrev}

	switch c.Kind {
	case RNNTanh, RNNReLU:
		pre := addDense(preI, preH)
		if c.Kind == RNNTanh {
			applyInPlace(pre, math.Tanh)
		} else {
			applyInPlace(pre, func(v float64) float64 { return math.Max(0, v) })
		}
		sc.h = pre
		return pre, nil, sc

	case LSTM:
		pre := addDense(preI, preH)
		i := gateCopy(pre, 0, c.Hid)
		f := gateCopy(pre, 1, c.Hid)
		g := gateCopy(pre, 2, c.Hid)
		o := gateCopy(pre, 3, c.Hid)
		applyInPlace(i, sigmoid)
		applyInPlace(f, sigmoid)
		applyInPlace(g, math.Tanh)
		applyInPlace(o, sigmoid)

		cNew = mulElemDense(f, cPrev)
		cNew.Add(cNew, mulElemDense(i, g))
		tanhC := mat.DenseCopyOf(cNew)
		applyInPlace(tanhC, math.Tanh)
		hNew = mulElemDense(o, tanhC)

		sc.i, sc.f, sc.g, sc.o = i, f, g, o
		sc.cPrev, sc.cNew, sc.tanhC = cPrev, cNew, tanhC
		sc.h = hNew
		return hNew, cNew, sc

	case GRU:
		r := addDense(gateView(preI, 0, c.Hid), gateView(preH, 0, c.Hid))
		z := addDense(gateView(preI, 1, c.Hid), gateView(preH, 1, c.Hid))
		applyInPlace(r, sigmoid)
		applyInPlace(z, sigmoid)
		ah := gateCopy(preH, 2, c.Hid)
		n := mulElemDense(r, ah)
		n.Add(n, gateView(preI, 2, c.Hid))
		applyInPlace(n, math.Tanh)

		// h' = (1-z)*n + z*hPrev
		hNew = mat.DenseCopyOf(n)
		hNew.Sub(hNew, mulElemDense(z, n))
		hNew.Add(hNew, mulElemDense(z, hPrev))

		sc.r, sc.z, sc.n, sc.ah = r, z, n, ah
		sc.h = hNew
		return hNew, nil, sc
	}
	panic("rnn: unreachable cell kind")
}

// stepBack accumulates the parameter gradients of one time step and
// returns the gradients flowing into the step's inputs. dc is the
// gradient on the LSTM cell state arriving from the future (nil for the
// final step and for non-LSTM kinds).
func (c *Cell) stepBack(sc *stepCache, dh, dc *mat.Dense) (dx, dhPrev, dcPrev *mat.Dense) {
	rows, _ := dh.Dims()
	g := c.Kind.gates()
	dPreI := mat.NewDense(rows, g*c.Hid, nil)
	dPreH := mat.NewDense(rows, g*c.Hid, nil)

	switch c.Kind {
	case RNNTanh, RNNReLU:
		da := mat.NewDense(rows, c.Hid, nil)
		if c.Kind == RNNTanh {
			da.Apply(func(i, j int, v float64) float64 {
				h := sc.h.At(i, j)
				return v * (1 - h*h)
			}, dh)
		} else {
			da.Apply(func(i, j int, v float64) float64 {
				if sc.h.At(i, j) > 0 {
					return v
				}
				return 0
			}, dh)
		}
		gateView(dPreI, 0, c.Hid).Copy(da)
		gateView(dPreH, 0, c.Hid).Copy(da)

	case LSTM:
		if dc == nil {
			dc = mat.NewDense(rows, c.Hid, nil)
		}
		// h' = o * tanh(c'); c' = f*cPrev + i*g
		dcTotal := mat.DenseCopyOf(dc)
		dcTotal.Apply(func(i, j int, v float64) float64 {
			tc := sc.tanhC.At(i, j)
			return v + dh.At(i, j)*sc.o.At(i, j)*(1-tc*tc)
		}, dcTotal)

		daO := mat.NewDense(rows, c.Hid, nil)
		daO.Apply(func(i, j int, _ float64) float64 {
			o := sc.o.At(i, j)
			return dh.At(i, j) * sc.tanhC.At(i, j) * o * (1 - o)
		}, daO)
		daF := mat.NewDense(rows, c.Hid, nil)
		daF.Apply(func(i, j int, _ float64) float64 {
			f := sc.f.At(i, j)
			return dcTotal.At(i, j) * sc.cPrev.At(i, j) * f * (1 - f)
		}, daF)
		daI := mat.NewDense(rows, c.Hid, nil)
		daI.Apply(func(i, j int, _ float64) float64 {
			in := sc.i.At(i, j)
			return dcTotal.At(i, j) * sc.g.At(i, j) * in * (1 - in)
		}, daI)
		daG := mat.NewDense(rows, c.Hid, nil)
		daG.Apply(func(i, j int, _ float64) float64 {
			gg := sc.g.At(i, j)
			return dcTotal.At(i, j) * sc.i.At(i, j) * (1 - gg*gg)
		}, daG)

		gateView(dPreI, 0, c.Hid).Copy(daI)
		gateView(dPreI, 1, c.Hid).Copy(daF)
		gateView(dPreI, 2, c.Hid).Copy(daG)
		gateView(dPreI, 3, c.Hid).Copy(daO)
		dPreH.Copy(dPreI)

		dcPrev = mulElemDense(dcTotal, sc.f)

	case GRU:
		// h' = (1-z)*n + z*hPrev
		dn := mat.NewDense(rows, c.Hid, nil)
		dn.Apply(func(i, j int, _ float64) float64 {
			return dh.At(i, j) * (1 - sc.z.At(i, j))
		}, dn)
		daZ := mat.NewDense(rows, c.Hid, nil)
		daZ.Apply(func(i, j int, _ float64) float64 {
			z := sc.z.At(i, j)
			return dh.At(i, j) * (sc.hPrev.At(i, j) - sc.n.At(i, j)) * z * (1 - z)
		}, daZ)

		daN := mat.NewDense(rows, c.Hid, nil)
		daN.Apply(func(i, j int, _ float64) float64 {
			n := sc.n.At(i, j)
			return dn.At(i, j) * (1 - n*n)
		}, daN)
		daR := mat.NewDense(rows, c.Hid, nil)
		daR.Apply(func(i, j int, _ float64) float64 {
			r := sc.r.At(i, j)
			return daN.At(i, j) * sc.ah.At(i, j) * r * (1 - r)
		}, daR)

		gateView(dPreI, 0, c.Hid).Copy(daR)
		gateView(dPreI, 1, c.Hid).Copy(daZ)
		gateView(dPreI, 2, c.Hid).Copy(daN)
		gateView(dPreH, 0, c.Hid).Copy(daR)
		gateView(dPreH, 1, c.Hid).Copy(daZ)
		gateView(dPreH, 2, c.Hid).Copy(mulElemDense(daN, sc.r))
	}

	// Shared tail: parameter gradients and input gradients.
	var tmp mat.Dense
	tmp.Mul(sc.x.T(), dPreI)
	c.dWih.Add(c.dWih, &tmp)
	var tmp2 mat.Dense
	tmp2.Mul(sc.hPrev.T(), dPreH)
	c.dWhh.Add(c.dWhh, &tmp2)
	addColSums(c.dBih, dPreI)
	addColSums(c.dBhh, dPreH)

	dx = mat.NewDense(rows, c.In, nil)
	dx.Mul(dPreI, c.Wih.T())
	dhPrev = mat.NewDense(rows, c.Hid, nil)
	dhPrev.Mul(dPreH, c.Whh.T())
	if c.Kind == GRU {
		// direct path h' <- z*hPrev
		dhPrev.Apply(func(i, j int, v float64) float64 {
			return v + dh.At(i, j)*sc.z.At(i, j)
		}, dhPrev)
	}
	return dx, dhPrev, dcPrev
}

func (c *Cell) zeroGrads() {
	c.dWih.Zero()
	c.dWhh.Zero()
	c.dBih.Zero()
	c.dBhh.Zero()
}

// ---------- small matrix helpers ----------

func sigmoid(v float64) float64 { return 1.0 / (1.0 + math.Exp(-v)) }

func applyInPlace(m *mat.Dense, f func(float64) float64) {
	m.Apply(func(_, _ int, v float64) float64 { return f(v) }, m)
}

// affine computes x*W + b with b broadcast over rows.
func affine(x, w, b *mat.Dense) *mat.Dense {
	var o mat.Dense
	o.Mul(x, w)
	rows, cols := o.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			o.Set(i, j, o.At(i, j)+b.At(0, j))
		}
	}
	return &o
}

func addDense(a, b mat.Matrix) *mat.Dense {
	var o mat.Dense
	o.Add(a, b)
	return &o
}

func mulElemDense(a, b mat.Matrix) *mat.Dense {
	var o mat.Dense
	o.MulElem(a, b)
	return &o
}

// gateView returns the writable column block of gate g.
func gateView(m *mat.Dense, g, hid int) *mat.Dense {
	rows, _ := m.Dims()
	return m.Slice(0, rows, g*hid, (g+1)*hid).(*mat.Dense)
}

func gateCopy(m *mat.Dense, g, hid int) *mat.Dense {
	return mat.DenseCopyOf(gateView(m, g, hid))
}

// addColSums accumulates the column sums of src into the 1-row dst.
func addColSums(dst, src *mat.Dense) {
	rows, cols := src.Dims()
	for j := 0; j < cols; j++ {
		s := dst.At(0, j)
		for i := 0; i < rows; i++ {
			s += src.At(i, j)
		}
		dst.Set(0, j, s)
	}
}

func uniformDense(r, c int, k float64, rng *rand.Rand) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * k
	}
	return mat.NewDense(r, c, data)
}
