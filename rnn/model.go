// Package rnn implements the recurrent word-level language model the
// trainer drives: an embedding layer, a stack of RNN/LSTM/GRU cells and
// a linear decoder, with full backpropagation through one window of
// time steps. The trainer only depends on the Network contract, so the
// model is swappable.
package rnn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Network is the forward-step contract between the model and the
// training orchestration. Forward consumes one (seq x batch) window of
// token ids plus the carried hidden state and returns scores with one
// row per flattened window position (all batch columns at step 0, then
// step 1, ...) over the vocabulary, together with the new hidden state.
type Network interface {
	Forward(input [][]int, h Hidden) (*mat.Dense, Hidden)
	Backward(dOut *mat.Dense)
	Parameters() []*mat.Dense
	Grads() []*mat.Dense
	ZeroGrads()
	Train()
	Eval()
	InitHidden(batch int) Hidden
}

// Model is the reference Network implementation.
type Model struct {
	Kind    CellKind
	Vocab   int
	Emsize  int
	Nhid    int
	Layers  int
	Dropout float64
	Tied    bool

	Emb   *mat.Dense // vocab x emsize
	Cells []*Cell
	DecW  *mat.Dense // nhid x vocab; nil when tied (decoder reuses Emb transposed)
	DecB  *mat.Dense // 1 x vocab

	dEmb, dDecW, dDecB *mat.Dense

	training bool
	rng      *rand.Rand
	cache    *fwdCache
}

var _ Network = (*Model)(nil)

// New constructs a model. Weight tying shares the embedding matrix with
// the decoder and therefore requires emsize == nhid.
func New(kind CellKind, vocab, emsize, nhid, nlayers int, dropout float64, tied bool, rng *rand.Rand) (*Model, error) {
	if vocab <= 0 || emsize <= 0 || nhid <= 0 || nlayers <= 0 {
		return nil, fmt.Errorf("rnn: non-positive dimension in (vocab=%d emsize=%d nhid=%d nlayers=%d)",
			vocab, emsize, nhid, nlayers)
	}
	if tied && emsize != nhid {
		return nil, fmt.Errorf("rnn: tied weights require emsize == nhid, got %d != %d", emsize, nhid)
	}
	m := &Model{
		Kind:    kind,
		Vocab:   vocab,
		Emsize:  emsize,
		Nhid:    nhid,
		Layers:  nlayers,
		Dropout: dropout,
		Tied:    tied,
		Emb:     uniformDense(vocab, emsize, 0.1, rng),
		DecB:    mat.NewDense(1, vocab, nil),
		dEmb:    mat.NewDense(vocab, emsize, nil),
		dDecB:   mat.NewDense(1, vocab, nil),
		rng:     rng,
	}
	if !tied {
		m.DecW = uniformDense(nhid, vocab, 0.1, rng)
		m.dDecW = mat.NewDense(nhid, vocab, nil)
	}
	m.Cells = make([]*Cell, nlayers)
	in := emsize
	for l := 0; l < nlayers; l++ {
		m.Cells[l] = NewCell(kind, in, nhid, rng)
		in = nhid
	}
	return m, nil
}

// Train enables dropout.
func (m *Model) Train() { m.training = true }

// Eval disables dropout.
func (m *Model) Eval() { m.training = false }

// fwdCache holds everything Backward needs from the last Forward call.
type fwdCache struct {
	ids        [][]int
	seq, batch int
	steps      [][]*stepCache // [layer][t]
	inMask     []*mat.Dense   // per t; nil when dropout is inactive
	layMask    [][]*mat.Dense // [layer-1][t], input masks of layers 1..L-1
	outMask    []*mat.Dense   // per t, top-layer output
	decIn      []*mat.Dense   // per t, decoder input after output dropout
}

// Forward runs the model over one window. The carried hidden state is
// read, never written; callers repackage the returned state before the
// next window to sever it from this window's backward graph.
func (m *Model) Forward(input [][]int, h Hidden) (*mat.Dense, Hidden) {
	seq := len(input)
	if seq == 0 {
		panic("rnn: empty input window")
	}
	batch := len(input[0])
	if len(h.H) != m.Layers {
		panic(fmt.Sprintf("rnn: hidden state has %d layers, model has %d", len(h.H), m.Layers))
	}
	if hr, _ := h.H[0].Dims(); hr != batch {
		panic(fmt.Sprintf("rnn: hidden batch %d does not match input batch %d", hr, batch))
	}

	c := &fwdCache{
		ids:     input,
		seq:     seq,
		batch:   batch,
		steps:   make([][]*stepCache, m.Layers),
		inMask:  make([]*mat.Dense, seq),
		layMask: make([][]*mat.Dense, 0, m.Layers),
		outMask: make([]*mat.Dense, seq),
		decIn:   make([]*mat.Dense, seq),
	}
	for l := range c.steps {
		c.steps[l] = make([]*stepCache, seq)
	}
	if m.Layers > 1 {
		c.layMask = make([][]*mat.Dense, m.Layers-1)
		for l := range c.layMask {
			c.layMask[l] = make([]*mat.Dense, seq)
		}
	}

	// Embed and drop the input.
	xs := make([]*mat.Dense, seq)
	for t := 0; t < seq; t++ {
		x := m.embed(input[t])
		c.inMask[t] = m.dropMask(batch, m.Emsize)
		maskInPlace(x, c.inMask[t])
		xs[t] = x
	}

	// Run the stack, layer by layer across the whole window.
	hs := append([]*mat.Dense(nil), h.H...)
	var cs []*mat.Dense
	if m.Kind == LSTM {
		cs = append([]*mat.Dense(nil), h.C...)
	}
	for l := 0; l < m.Layers; l++ {
		cell := m.Cells[l]
		for t := 0; t < seq; t++ {
			var cPrev *mat.Dense
			if m.Kind == LSTM {
				cPrev = cs[l]
			}
			hNew, cNew, sc := cell.step(xs[t], hs[l], cPrev)
			c.steps[l][t] = sc
			hs[l] = hNew
			if m.Kind == LSTM {
				cs[l] = cNew
			}
			if l < m.Layers-1 {
				mask := m.dropMask(batch, m.Nhid)
				c.layMask[l][t] = mask
				xs[t] = maskCopy(hNew, mask)
			} else {
				mask := m.dropMask(batch, m.Nhid)
				c.outMask[t] = mask
				c.decIn[t] = maskCopy(hNew, mask)
			}
		}
	}

	// Decode every step into the flattened score matrix.
	out := mat.NewDense(seq*batch, m.Vocab, nil)
	for t := 0; t < seq; t++ {
		view := out.Slice(t*batch, (t+1)*batch, 0, m.Vocab).(*mat.Dense)
		if m.Tied {
			view.Mul(c.decIn[t], m.Emb.T())
		} else {
			view.Mul(c.decIn[t], m.DecW)
		}
		for i := 0; i < batch; i++ {
			for j := 0; j < m.Vocab; j++ {
				view.Set(i, j, view.At(i, j)+m.DecB.At(0, j))
			}
		}
	}

	m.cache = c
	next := Hidden{H: hs}
	if m.Kind == LSTM {
		next.C = cs
	}
	return out, next
}

// Backward accumulates parameter gradients for the window of the most
// recent Forward call. Gradients on the window's initial hidden state
// are dropped, which is what truncates backpropagation at the window
// boundary.
func (m *Model) Backward(dOut *mat.Dense) {
	c := m.cache
	if c == nil {
		panic("rnn: Backward called before Forward")
	}
	seq, batch := c.seq, c.batch

	// Decoder.
	dAbove := make([]*mat.Dense, seq)
	for t := 0; t < seq; t++ {
		dY := dOut.Slice(t*batch, (t+1)*batch, 0, m.Vocab).(*mat.Dense)
		if m.Tied {
			var tmp mat.Dense
			tmp.Mul(dY.T(), c.decIn[t])
			m.dEmb.Add(m.dEmb, &tmp)
		} else {
			var tmp mat.Dense
			tmp.Mul(c.decIn[t].T(), dY)
			m.dDecW.Add(m.dDecW, &tmp)
		}
		addColSums(m.dDecB, dY)

		dTop := mat.NewDense(batch, m.Nhid, nil)
		if m.Tied {
			dTop.Mul(dY, m.Emb)
		} else {
			dTop.Mul(dY, m.DecW.T())
		}
		maskInPlace(dTop, c.outMask[t])
		dAbove[t] = dTop
	}

	// Backprop through time, top layer first.
	for l := m.Layers - 1; l >= 0; l-- {
		cell := m.Cells[l]
		var dhNext, dcNext *mat.Dense
		dBelow := make([]*mat.Dense, seq)
		for t := seq - 1; t >= 0; t-- {
			dh := dAbove[t]
			if dhNext != nil {
				dh = addDense(dh, dhNext)
			}
			dx, dhPrev, dcPrev := cell.stepBack(c.steps[l][t], dh, dcNext)
			dhNext, dcNext = dhPrev, dcPrev
			dBelow[t] = dx
		}
		if l > 0 {
			for t := 0; t < seq; t++ {
				maskInPlace(dBelow[t], c.layMask[l-1][t])
			}
			dAbove = dBelow
		} else {
			for t := 0; t < seq; t++ {
				maskInPlace(dBelow[t], c.inMask[t])
				for b := 0; b < batch; b++ {
					id := c.ids[t][b]
					for j := 0; j < m.Emsize; j++ {
						m.dEmb.Set(id, j, m.dEmb.At(id, j)+dBelow[t].At(b, j))
					}
				}
			}
		}
	}
}

// Parameters returns every trainable matrix in a fixed order shared by
// all worker replicas; Grads returns the matching gradient matrices.
func (m *Model) Parameters() []*mat.Dense {
	ps := []*mat.Dense{m.Emb}
	for _, c := range m.Cells {
		ps = append(ps, c.Wih, c.Whh, c.Bih, c.Bhh)
	}
	if !m.Tied {
		ps = append(ps, m.DecW)
	}
	return append(ps, m.DecB)
}

func (m *Model) Grads() []*mat.Dense {
	gs := []*mat.Dense{m.dEmb}
	for _, c := range m.Cells {
		gs = append(gs, c.dWih, c.dWhh, c.dBih, c.dBhh)
	}
	if !m.Tied {
		gs = append(gs, m.dDecW)
	}
	return append(gs, m.dDecB)
}

func (m *Model) ZeroGrads() {
	m.dEmb.Zero()
	m.dDecB.Zero()
	if m.dDecW != nil {
		m.dDecW.Zero()
	}
	for _, c := range m.Cells {
		c.zeroGrads()
	}
}

// embed gathers the embedding rows for one time step.
func (m *Model) embed(row []int) *mat.Dense {
	x := mat.NewDense(len(row), m.Emsize, nil)
	for b, id := range row {
		if id < 0 || id >= m.Vocab {
			panic(fmt.Sprintf("rnn: token id %d outside vocabulary of %d", id, m.Vocab))
		}
		x.SetRow(b, m.Emb.RawRowView(id))
	}
	return x
}

// dropMask returns an inverted-dropout mask, or nil when dropout is
// inactive (eval mode or zero probability).
func (m *Model) dropMask(rows, cols int) *mat.Dense {
	if !m.training || m.Dropout <= 0 {
		return nil
	}
	scale := 1.0 / (1.0 - m.Dropout)
	data := make([]float64, rows*cols)
	for i := range data {
		if m.rng.Float64() >= m.Dropout {
			data[i] = scale
		}
	}
	return mat.NewDense(rows, cols, data)
}

func maskInPlace(x, mask *mat.Dense) {
	if mask != nil {
		x.MulElem(x, mask)
	}
}

func maskCopy(x, mask *mat.Dense) *mat.Dense {
	if mask == nil {
		return x
	}
	return mulElemDense(x, mask)
}
