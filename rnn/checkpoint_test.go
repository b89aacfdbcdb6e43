package rnn

import (
	"math/rand"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestCheckpointRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	m, err := New(LSTM, 11, 4, 4, 2, 0.2, true, rng)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	path := filepath.Join(t.TempDir(), "model.pt")
	if err := Save(path, m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Kind != m.Kind || loaded.Vocab != m.Vocab || loaded.Emsize != m.Emsize ||
		loaded.Nhid != m.Nhid || loaded.Layers != m.Layers || loaded.Tied != m.Tied {
		t.Fatalf("loaded shape %+v does not match saved shape", loaded)
	}

	mp, lp := m.Parameters(), loaded.Parameters()
	if len(mp) != len(lp) {
		t.Fatalf("loaded %d parameters, saved %d", len(lp), len(mp))
	}
	for k := range mp {
		if !mat.EqualApprox(mp[k], lp[k], 0) {
			t.Fatalf("parameter %d differs after round trip", k)
		}
	}

	// The two models must agree step for step in eval mode.
	m.Eval()
	loaded.Eval()
	input := [][]int{{3, 9}, {0, 5}}
	a, _ := m.Forward(input, m.InitHidden(2))
	b, _ := loaded.Forward(input, loaded.InitHidden(2))
	if !mat.EqualApprox(a, b, 1e-12) {
		t.Fatal("loaded model disagrees with the saved model")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.pt"), rand.New(rand.NewSource(1))); err == nil {
		t.Fatal("loading a missing checkpoint succeeded")
	}
}
