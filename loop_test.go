package main

import (
	"math/rand"
	"testing"

	exprand "golang.org/x/exp/rand"

	"github.com/aaron276h/rnnlm/optimizations"
	"github.com/aaron276h/rnnlm/params"
	"github.com/aaron276h/rnnlm/rnn"
	"github.com/aaron276h/rnnlm/stream"
)

// Training on a short repeating pattern must drive the loss well below
// the uniform baseline within a few epochs.
func TestTrainingReducesLoss(t *testing.T) {
	cfg := &params.TrainingConfig{
		BatchSize:   4,
		BPTT:        4,
		Clip:        0.25,
		LogInterval: 1 << 30,
		Rank:        0,
		WorldSize:   1,
	}

	ids := make([]int, 400)
	for i := range ids {
		ids[i] = i % 5
	}
	data, err := stream.Batchify(ids, cfg.BatchSize)
	if err != nil {
		t.Fatalf("Batchify: %v", err)
	}

	rng := rand.New(rand.NewSource(1111))
	model, err := rnn.New(rnn.LSTM, 5, 8, 8, 1, 0, false, rng)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	before := evaluate(model, data, cfg)

	st := &TrainingState{LR: 1.0}
	seqRng := exprand.New(exprand.NewSource(1111))
	for epoch := 1; epoch <= 5; epoch++ {
		trainEpoch(model, data, st, cfg, optimizations.SGD{}, seqRng, epoch)
	}

	after := evaluate(model, data, cfg)
	if after >= before*0.95 {
		t.Fatalf("loss did not improve: before %g, after %g", before, after)
	}
}
