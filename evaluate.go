package main

import (
	"github.com/aaron276h/rnnlm/dist"
	"github.com/aaron276h/rnnlm/params"
	"github.com/aaron276h/rnnlm/rnn"
	"github.com/aaron276h/rnnlm/stream"
	"github.com/aaron276h/rnnlm/utils"
)

// evaluate runs an inference pass over this worker's partition of the
// batched stream and returns the mean loss normalized by the per-worker
// share of the targets, so values are comparable across world sizes.
// The window size is fixed at the nominal value: evaluation is
// deterministic.
func evaluate(net rnn.Network, data *stream.Batch, cfg *params.TrainingConfig) float64 {
	net.Eval()
	hidden := net.InitHidden(data.Width())
	part := dist.Partitioner{Rank: cfg.Rank, WorldSize: cfg.WorldSize, Window: cfg.BPTT}

	total := 0.0
	for i := range part.Offsets(data.Rows() - 1) {
		input, target, ok := data.Window(i, cfg.BPTT)
		if !ok {
			break
		}
		out, next := net.Forward(input, hidden)
		total += float64(len(input)) * utils.CrossEntropyLoss(out, target)
		hidden = rnn.Repackage(next)
	}
	return total / (float64(data.Rows()-1) / float64(cfg.WorldSize))
}
