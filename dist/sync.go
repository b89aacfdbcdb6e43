package dist

import (
	"log"

	"gonum.org/v1/gonum/mat"

	"github.com/aaron276h/rnnlm/rnn"
)

// Synced wraps a network so every backward pass ends with a gradient
// all-reduce across the worker group: each worker's local gradients are
// replaced by the group mean before the optimizer reads them. Forward
// and every other method are unchanged, so the wrapper is a drop-in
// replacement for the wrapped network.
type Synced struct {
	rnn.Network

	group *Group
	buf   []float64
}

// Wrap attaches a network to a worker group. Replicas are assumed to
// hold identical parameter lists (guaranteed by the shared seed), so
// flattened gradient buffers line up element for element.
func Wrap(net rnn.Network, g *Group) *Synced {
	size := 0
	for _, p := range net.Parameters() {
		r, c := p.Dims()
		size += r * c
	}
	return &Synced{Network: net, group: g, buf: make([]float64, size)}
}

// Backward runs the wrapped backward pass and then the synchronous
// all-reduce barrier. A failed peer is fatal: the job has no partial
// failure recovery, so the only remedy is restarting every worker.
func (s *Synced) Backward(dOut *mat.Dense) {
	s.Network.Backward(dOut)

	off := 0
	grads := s.Network.Grads()
	for _, g := range grads {
		raw := g.RawMatrix()
		off += copy(s.buf[off:], raw.Data)
	}
	if err := s.group.AllReduceMean(s.buf); err != nil {
		log.Fatalf("dist: gradient synchronization failed: %v", err)
	}
	off = 0
	for _, g := range grads {
		raw := g.RawMatrix()
		off += copy(raw.Data, s.buf[off:off+len(raw.Data)])
	}
}
