package rnn

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/aaron276h/rnnlm/utils"
)

func finiteDiffCheck(t *testing.T, name string, param *mat.Dense, grad *mat.Dense,
	forward func() float64, i, j int) {

	eps := 1e-5
	w0 := param.At(i, j)

	param.Set(i, j, w0+eps)
	lp := forward()

	param.Set(i, j, w0-eps)
	lm := forward()

	param.Set(i, j, w0)

	numGrad := (lp - lm) / (2.0 * eps)
	anaGrad := grad.At(i, j)

	if math.Abs(numGrad-anaGrad) > 1e-4*(1.0+math.Abs(anaGrad)) {
		t.Fatalf("%s[%d,%d] grad mismatch: num=%.6g ana=%.6g",
			name, i, j, numGrad, anaGrad)
	}
}

// paramNames mirrors the order of Parameters and Grads.
func paramNames(m *Model) []string {
	names := []string{"Emb"}
	for l := range m.Cells {
		names = append(names,
			fmt.Sprintf("Wih%d", l), fmt.Sprintf("Whh%d", l),
			fmt.Sprintf("Bih%d", l), fmt.Sprintf("Bhh%d", l))
	}
	if !m.Tied {
		names = append(names, "DecW")
	}
	return append(names, "DecB")
}

func gradCheckModel(t *testing.T, kind CellKind, tied bool) {
	rng := rand.New(rand.NewSource(1111))
	const (
		vocab  = 7
		emsize = 3
		nhid   = 3
		layers = 2
		batch  = 2
	)
	m, err := New(kind, vocab, emsize, nhid, layers, 0, tied, rng)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.Train()

	input := [][]int{{1, 4}, {2, 0}, {6, 3}}
	target := []int{2, 0, 6, 3, 5, 1}

	forward := func() float64 {
		scores, _ := m.Forward(input, m.InitHidden(batch))
		loss, _ := utils.CrossEntropy(scores, target)
		return loss
	}

	m.ZeroGrads()
	scores, _ := m.Forward(input, m.InitHidden(batch))
	_, dOut := utils.CrossEntropy(scores, target)
	m.Backward(dOut)

	params := m.Parameters()
	grads := m.Grads()
	names := paramNames(m)
	if len(params) != len(grads) || len(params) != len(names) {
		t.Fatalf("parameter list length %d, grads %d, names %d", len(params), len(grads), len(names))
	}

	for k := range params {
		r, c := params[k].Dims()
		finiteDiffCheck(t, names[k], params[k], grads[k], forward, 0, 0)
		finiteDiffCheck(t, names[k], params[k], grads[k], forward, r-1, c-1)
		finiteDiffCheck(t, names[k], params[k], grads[k], forward, r/2, c/2)
	}
}

func TestGradCheckRNNTanh(t *testing.T) { gradCheckModel(t, RNNTanh, false) }
func TestGradCheckRNNReLU(t *testing.T) { gradCheckModel(t, RNNReLU, false) }
func TestGradCheckLSTM(t *testing.T)    { gradCheckModel(t, LSTM, false) }
func TestGradCheckGRU(t *testing.T)     { gradCheckModel(t, GRU, false) }
func TestGradCheckTied(t *testing.T)    { gradCheckModel(t, LSTM, true) }

func TestTiedRequiresMatchingDims(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, err := New(LSTM, 10, 4, 6, 1, 0, true, rng); err == nil {
		t.Fatal("tied weights with emsize != nhid accepted")
	}
}

func TestParseCellKind(t *testing.T) {
	cases := map[string]CellKind{
		"RNN_TANH": RNNTanh,
		"RNN_RELU": RNNReLU,
		"LSTM":     LSTM,
		"GRU":      GRU,
	}
	for s, want := range cases {
		got, err := ParseCellKind(s)
		if err != nil {
			t.Fatalf("ParseCellKind(%q): %v", s, err)
		}
		if got != want {
			t.Fatalf("ParseCellKind(%q)=%v, want %v", s, got, want)
		}
	}
	if _, err := ParseCellKind("BIDIRECTIONAL"); err == nil {
		t.Fatal("unknown cell kind accepted")
	}
}

func TestForwardShape(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	m, err := New(GRU, 13, 4, 5, 2, 0, false, rng)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.Eval()

	input := [][]int{{1, 2, 3}, {4, 5, 6}}
	scores, h := m.Forward(input, m.InitHidden(3))
	r, c := scores.Dims()
	if r != 2*3 || c != 13 {
		t.Fatalf("scores are %dx%d, want 6x13", r, c)
	}
	if len(h.H) != 2 {
		t.Fatalf("returned state has %d layers, want 2", len(h.H))
	}
	if hr, hc := h.H[0].Dims(); hr != 3 || hc != 5 {
		t.Fatalf("returned state is %dx%d, want 3x5", hr, hc)
	}
}

func TestEvalIsDeterministicUnderDropout(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	m, err := New(LSTM, 9, 3, 4, 2, 0.5, false, rng)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.Eval()

	input := [][]int{{0, 1}, {2, 3}}
	a, _ := m.Forward(input, m.InitHidden(2))
	b, _ := m.Forward(input, m.InitHidden(2))
	if !mat.EqualApprox(a, b, 0) {
		t.Fatal("eval-mode forward is not deterministic")
	}
}

func TestStateCarryChangesPrediction(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	m, err := New(LSTM, 9, 3, 4, 1, 0, false, rng)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.Eval()

	input := [][]int{{2}}
	fresh, carried := m.InitHidden(1), Hidden{}
	_, carried = m.Forward([][]int{{7}}, fresh)
	carried = Repackage(carried)

	a, _ := m.Forward(input, m.InitHidden(1))
	b, _ := m.Forward(input, carried)
	if mat.EqualApprox(a, b, 1e-12) {
		t.Fatal("carried state has no effect on the forward pass")
	}
}
