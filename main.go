// Command rnnlm trains a recurrent word-level language model over one
// or more cooperating workers and selects the best checkpoint by
// held-out loss.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"strings"

	"github.com/klauspost/cpuid/v2"
	exprand "golang.org/x/exp/rand"

	"github.com/aaron276h/rnnlm/corpus"
	"github.com/aaron276h/rnnlm/dist"
	"github.com/aaron276h/rnnlm/optimizations"
	"github.com/aaron276h/rnnlm/params"
	"github.com/aaron276h/rnnlm/rnn"
	"github.com/aaron276h/rnnlm/stream"
	"github.com/aaron276h/rnnlm/utils"
)

var (
	generateFlag bool
	wordsFlag    int
	tempFlag     float64
)

func bindFlags(cfg *params.TrainingConfig) {
	flag.StringVar(&cfg.Data, "data", cfg.Data, "location of the data corpus")
	flag.StringVar(&cfg.Cell, "model", cfg.Cell, "type of recurrent net (RNN_TANH, RNN_RELU, LSTM, GRU)")
	flag.IntVar(&cfg.Emsize, "emsize", cfg.Emsize, "size of word embeddings")
	flag.IntVar(&cfg.Nhid, "nhid", cfg.Nhid, "number of hidden units per layer")
	flag.IntVar(&cfg.Nlayers, "nlayers", cfg.Nlayers, "number of layers")
	flag.Float64Var(&cfg.LR, "lr", cfg.LR, "initial learning rate")
	flag.Float64Var(&cfg.Clip, "clip", cfg.Clip, "gradient clipping")
	flag.IntVar(&cfg.Epochs, "epochs", cfg.Epochs, "upper epoch limit")
	flag.IntVar(&cfg.BatchSize, "batch_size", cfg.BatchSize, "batch size")
	flag.IntVar(&cfg.BPTT, "bptt", cfg.BPTT, "sequence length")
	flag.Float64Var(&cfg.Dropout, "dropout", cfg.Dropout, "dropout applied to layers (0 = no dropout)")
	flag.BoolVar(&cfg.Tied, "tied", cfg.Tied, "tie the word embedding and softmax weights")
	flag.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
	flag.IntVar(&cfg.LogInterval, "log-interval", cfg.LogInterval, "report interval")
	flag.StringVar(&cfg.Save, "save", cfg.Save, "path to save the best model")
	flag.StringVar(&cfg.Optimizer, "optimizer", cfg.Optimizer, "parameter update rule (sgd, adamw)")
	flag.IntVar(&cfg.Rank, "rank", cfg.Rank, "rank of worker")
	flag.IntVar(&cfg.WorldSize, "world_size", cfg.WorldSize, "number of workers")
	flag.StringVar(&cfg.MasterAddr, "master_addr", cfg.MasterAddr, "rendezvous address of rank 0")
	flag.IntVar(&cfg.MasterPort, "master_port", cfg.MasterPort, "rendezvous port of rank 0")
	flag.BoolVar(&cfg.BPE, "bpe", cfg.BPE, "encode the corpus with a subword tokenizer")
	flag.StringVar(&cfg.BPEPath, "bpe_tok", cfg.BPEPath, "tokenizer file (trained on demand)")
	flag.IntVar(&cfg.BPEVocabSize, "bpe_vocab", cfg.BPEVocabSize, "subword vocabulary size")

	flag.BoolVar(&generateFlag, "generate", false, "sample text from the saved checkpoint instead of training")
	flag.IntVar(&wordsFlag, "words", 200, "number of words to generate")
	flag.Float64Var(&tempFlag, "temperature", 1.0, "generation temperature (higher is more diverse)")
}

func main() {
	cfg := &params.Config
	bindFlags(cfg)
	flag.Parse()

	kind, err := rnn.ParseCellKind(cfg.Cell)
	if err != nil {
		log.Fatalf("rnnlm: %v", err)
	}

	// The shared seed keeps every worker's parameter replica identical
	// at startup; only gradients are synchronized afterwards.
	rng := rand.New(rand.NewSource(cfg.Seed))

	fmt.Printf("| cpu: %s | avx2 %v | avx512f %v |\n",
		cpuid.CPU.BrandName, cpuid.CPU.Supports(cpuid.AVX2), cpuid.CPU.Supports(cpuid.AVX512F))

	var corp *corpus.Corpus
	if cfg.BPE {
		corp, err = corpus.LoadBPE(cfg.Data, cfg.BPEPath, cfg.BPEVocabSize)
	} else {
		corp, err = corpus.Load(cfg.Data)
	}
	if err != nil {
		log.Fatalf("rnnlm: %v", err)
	}
	fmt.Printf("| corpus: %d train / %d valid / %d test tokens, vocab %d |\n",
		len(corp.Train), len(corp.Valid), len(corp.Test), corp.Dict.Len())

	if generateFlag {
		if err := runGenerate(cfg, corp, rng, wordsFlag, tempFlag); err != nil {
			log.Fatalf("rnnlm: %v", err)
		}
		return
	}

	trainData, err := stream.Batchify(corp.Train, cfg.BatchSize)
	if err != nil {
		log.Fatalf("rnnlm: %v", err)
	}
	valData, err := stream.Batchify(corp.Valid, params.EvalBatchSize)
	if err != nil {
		log.Fatalf("rnnlm: %v", err)
	}
	testData, err := stream.Batchify(corp.Test, params.EvalBatchSize)
	if err != nil {
		log.Fatalf("rnnlm: %v", err)
	}

	model, err := rnn.New(kind, corp.Dict.Len(), cfg.Emsize, cfg.Nhid, cfg.Nlayers,
		cfg.Dropout, cfg.Tied, rng)
	if err != nil {
		log.Fatalf("rnnlm: %v", err)
	}

	var net rnn.Network = model
	if cfg.WorldSize > 1 {
		group, err := dist.Join(dist.Config{
			MasterAddr: cfg.MasterAddr,
			MasterPort: cfg.MasterPort,
			Rank:       cfg.Rank,
			WorldSize:  cfg.WorldSize,
		})
		if err != nil {
			log.Fatalf("rnnlm: %v", err)
		}
		defer group.Close()
		net = dist.Wrap(model, group)
		fmt.Printf("| distributed training: rank %d of %d |\n", cfg.Rank, cfg.WorldSize)
	}

	var opt optimizations.Optimizer
	switch cfg.Optimizer {
	case "sgd":
		opt = optimizations.SGD{}
	case "adamw":
		opt = optimizations.NewAdamW(model.Parameters(),
			cfg.AdamBeta1, cfg.AdamBeta2, cfg.AdamEps, cfg.WeightDecay)
	default:
		log.Fatalf("rnnlm: unknown optimizer %q", cfg.Optimizer)
	}

	st := &TrainingState{LR: cfg.LR, BestValLoss: math.Inf(1)}
	seqRng := exprand.New(exprand.NewSource(uint64(cfg.Seed)))

	err = runEpochs(st, cfg.Epochs,
		func(st *TrainingState, epoch int) {
			trainEpoch(net, trainData, st, cfg, opt, seqRng, epoch)
		},
		func() float64 { return evaluate(net, valData, cfg) },
		func() error { return rnn.Save(cfg.Save, model) },
	)
	if err != nil {
		log.Fatalf("rnnlm: %v", err)
	}

	testLoss := evaluate(net, testData, cfg)
	fmt.Println(strings.Repeat("=", 89))
	fmt.Printf("| end of training | test loss %5.2f | test ppl %8.2f\n",
		testLoss, utils.Perplexity(testLoss))
	fmt.Println(strings.Repeat("=", 89))
}
