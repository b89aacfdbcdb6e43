package dist

import (
	"math"
	"testing"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/aaron276h/rnnlm/rnn"
)

// stubNet exposes fixed gradients so the wrapper's averaging is
// observable without running a real backward pass.
type stubNet struct {
	params []*mat.Dense
	grads  []*mat.Dense
}

func (s *stubNet) Forward(input [][]int, h rnn.Hidden) (*mat.Dense, rnn.Hidden) {
	return mat.NewDense(1, 1, nil), h
}
func (s *stubNet) Backward(dOut *mat.Dense)      {}
func (s *stubNet) Parameters() []*mat.Dense      { return s.params }
func (s *stubNet) Grads() []*mat.Dense           { return s.grads }
func (s *stubNet) ZeroGrads()                    {}
func (s *stubNet) Train()                        {}
func (s *stubNet) Eval()                         {}
func (s *stubNet) InitHidden(batch int) rnn.Hidden { return rnn.Hidden{} }

func newStubNet(scale float64) *stubNet {
	return &stubNet{
		params: []*mat.Dense{mat.NewDense(2, 2, nil), mat.NewDense(1, 3, nil)},
		grads: []*mat.Dense{
			mat.NewDense(2, 2, []float64{1 * scale, 2 * scale, 3 * scale, 4 * scale}),
			mat.NewDense(1, 3, []float64{5 * scale, 6 * scale, 7 * scale}),
		},
	}
}

func TestSyncedBackwardAveragesGradients(t *testing.T) {
	const (
		world = 2
		port  = 43217
	)

	nets := make([]*stubNet, world)
	var eg errgroup.Group
	for rank := 0; rank < world; rank++ {
		rank := rank
		eg.Go(func() error {
			g, err := Join(Config{MasterAddr: "127.0.0.1", MasterPort: port, Rank: rank, WorldSize: world})
			if err != nil {
				return err
			}
			defer g.Close()

			// Rank 0 holds g, rank 1 holds 3g: the mean is 2g.
			net := newStubNet(float64(1 + 2*rank))
			nets[rank] = net
			Wrap(net, g).Backward(nil)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatalf("worker failed: %v", err)
	}

	base := []float64{1, 2, 3, 4, 5, 6, 7}
	for rank := 0; rank < world; rank++ {
		flat := append(
			append([]float64(nil), nets[rank].grads[0].RawMatrix().Data...),
			nets[rank].grads[1].RawMatrix().Data...)
		for i, b := range base {
			if math.Abs(flat[i]-2*b) > 1e-12 {
				t.Fatalf("rank %d grad[%d]=%g, want %g", rank, i, flat[i], 2*b)
			}
		}
	}
}
