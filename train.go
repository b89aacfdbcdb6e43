package main

import (
	"fmt"
	"strings"
	"time"

	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aaron276h/rnnlm/dist"
	"github.com/aaron276h/rnnlm/optimizations"
	"github.com/aaron276h/rnnlm/params"
	"github.com/aaron276h/rnnlm/rnn"
	"github.com/aaron276h/rnnlm/stream"
	"github.com/aaron276h/rnnlm/utils"
)

// TrainingState is the mutable cross-epoch state owned by the epoch
// controller. It is threaded explicitly through the loops rather than
// living on the optimizer or in a package variable.
type TrainingState struct {
	LR          float64
	BestValLoss float64
	Epoch       int
}

// drawSeqLen draws the epoch's stochastic window length: the nominal
// window with probability 0.95 and half of it otherwise, jittered by a
// normal with sigma 5 and floored at 5 to exclude degenerate windows.
// Drawn once per epoch, not per step.
func drawSeqLen(rng *exprand.Rand, bptt int) int {
	eff := float64(bptt)
	if rng.Float64() >= 0.95 {
		eff /= 2
	}
	n := distuv.Normal{Mu: eff, Sigma: 5, Src: rng}
	s := int(n.Rand())
	if s < 5 {
		s = 5
	}
	return s
}

// trainEpoch runs one training pass over this worker's partition of the
// batched stream.
//
// The drawn window length scales the learning rate for the epoch
// (shorter windows contribute proportionally smaller gradients); the
// offset grid and the slice length both use the nominal window so that
// all ranks stay on the same grid and cover the stream exactly once.
func trainEpoch(net rnn.Network, data *stream.Batch, st *TrainingState, cfg *params.TrainingConfig,
	opt optimizations.Optimizer, rng *exprand.Rand, epoch int) {

	seqLen := drawSeqLen(rng, cfg.BPTT)
	lrStep := st.LR * float64(seqLen) / float64(cfg.BPTT)

	net.Train()
	hidden := net.InitHidden(cfg.BatchSize)
	part := dist.Partitioner{Rank: cfg.Rank, WorldSize: cfg.WorldSize, Window: cfg.BPTT}
	nbatches := data.Rows() / (cfg.BPTT * cfg.WorldSize)

	totalLoss := 0.0
	start := time.Now()
	batch := 0
	for i := range part.Offsets(data.Rows() - 1) {
		input, target, ok := data.Window(i, cfg.BPTT)
		if !ok {
			break
		}
		// Sever the carried state from the previous window before the
		// forward pass; backprop must not trace past the window start.
		hidden = rnn.Repackage(hidden)
		net.ZeroGrads()
		out, next := net.Forward(input, hidden)
		hidden = next
		loss, dOut := utils.CrossEntropy(out, target)
		net.Backward(dOut)
		optimizations.ClipGradNorm(net.Grads(), cfg.Clip)
		opt.Step(net.Parameters(), net.Grads(), lrStep)

		totalLoss += loss
		if batch%cfg.LogInterval == 0 && batch > 0 {
			cur := totalLoss / float64(cfg.LogInterval)
			elapsed := time.Since(start)
			fmt.Printf("| epoch %3d | %5d/%5d batches | lr %02.2f | ms/batch %5.2f | loss %5.2f | ppl %8.2f\n",
				epoch, batch, nbatches, st.LR,
				float64(elapsed.Milliseconds())/float64(cfg.LogInterval),
				cur, utils.Perplexity(cur))
			totalLoss = 0
			start = time.Now()
		}
		batch++
	}
}

// runEpochs is the epoch controller: train, validate, then either
// checkpoint (on strict improvement) or anneal the learning rate by a
// factor of 4 for the remaining epochs. Terminal after the configured
// epoch count.
func runEpochs(st *TrainingState, epochs int,
	train func(st *TrainingState, epoch int),
	eval func() float64,
	save func() error) error {

	for epoch := 1; epoch <= epochs; epoch++ {
		st.Epoch = epoch
		start := time.Now()
		train(st, epoch)
		valLoss := eval()
		fmt.Println(strings.Repeat("-", 89))
		fmt.Printf("| end of epoch %3d | time: %5.2fs | valid loss %5.2f | valid ppl %8.2f\n",
			epoch, time.Since(start).Seconds(), valLoss, utils.Perplexity(valLoss))
		fmt.Println(strings.Repeat("-", 89))

		if valLoss < st.BestValLoss {
			if err := save(); err != nil {
				return fmt.Errorf("checkpoint: %w", err)
			}
			st.BestValLoss = valLoss
		} else {
			st.LR /= 4.0
		}
	}
	return nil
}
