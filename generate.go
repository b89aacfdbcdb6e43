package main

import (
	"fmt"
	"math/rand"

	"github.com/aaron276h/rnnlm/corpus"
	"github.com/aaron276h/rnnlm/params"
	"github.com/aaron276h/rnnlm/rnn"
	"github.com/aaron276h/rnnlm/utils"
)

// runGenerate samples words from the saved checkpoint, one token per
// forward step with batch width 1, and prints them twenty per line.
func runGenerate(cfg *params.TrainingConfig, corp *corpus.Corpus, rng *rand.Rand,
	words int, temperature float64) error {

	if temperature < 1e-3 {
		return fmt.Errorf("temperature has to be greater or equal 1e-3, got %g", temperature)
	}

	model, err := rnn.Load(cfg.Save, rng)
	if err != nil {
		return fmt.Errorf("load checkpoint %s: %w", cfg.Save, err)
	}
	model.Eval()

	h := model.InitHidden(1)
	tok := rng.Intn(corp.Dict.Len())

	for i := 0; i < words; i++ {
		logits, next := model.Forward([][]int{{tok}}, h)
		h = rnn.Repackage(next)
		tok = utils.SampleLogits(logits.RawRowView(0), temperature, rng)

		word := corp.Dict.Idx2Word[tok]
		if word == "<eos>" {
			fmt.Println()
		} else if (i+1)%20 == 0 {
			fmt.Printf("%s\n", word)
		} else {
			fmt.Printf("%s ", word)
		}
	}
	fmt.Println()
	return nil
}
