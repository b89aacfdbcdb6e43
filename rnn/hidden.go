package rnn

import "gonum.org/v1/gonum/mat"

// Hidden is the recurrent state carried between consecutive windows of
// one training or evaluation pass. H holds one batch x nhid matrix per
// layer. C is only populated for LSTM cells, which carry a second state
// tensor; for every other cell kind it is nil. The two shapes form a
// closed union: simple state (H only) or paired state (H and C).
type Hidden struct {
	H []*mat.Dense
	C []*mat.Dense
}

// Repackage returns a state holding the same numeric values with all
// links to the producing computation removed. Carrying the repackaged
// state into the next window keeps the backward pass from tracing
// beyond one window's worth of steps.
func Repackage(h Hidden) Hidden {
	out := Hidden{H: make([]*mat.Dense, len(h.H))}
	for i, m := range h.H {
		out.H[i] = mat.DenseCopyOf(m)
	}
	if h.C != nil {
		out.C = make([]*mat.Dense, len(h.C))
		for i, m := range h.C {
			out.C[i] = mat.DenseCopyOf(m)
		}
	}
	return out
}

// InitHidden returns an all-zero state for the given batch width.
// Called at the start of every pass; hidden state never survives an
// epoch boundary.
func (m *Model) InitHidden(batch int) Hidden {
	h := Hidden{H: make([]*mat.Dense, m.Layers)}
	for l := 0; l < m.Layers; l++ {
		h.H[l] = mat.NewDense(batch, m.Nhid, nil)
	}
	if m.Kind == LSTM {
		h.C = make([]*mat.Dense, m.Layers)
		for l := 0; l < m.Layers; l++ {
			h.C[l] = mat.NewDense(batch, m.Nhid, nil)
		}
	}
	return h
}
