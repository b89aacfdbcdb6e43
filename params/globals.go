package params

// TrainingConfig collects every knob of the trainer. Defaults live in
// Config below and main binds flags over them.
type TrainingConfig struct {
	// Data and model architecture
	Data    string // corpus directory holding train.txt/valid.txt/test.txt
	Cell    string // recurrent cell kind: RNN_TANH, RNN_RELU, LSTM, GRU
	Emsize  int    // word embedding width
	Nhid    int    // hidden units per layer
	Nlayers int    // stacked recurrent layers
	Dropout float64
	Tied    bool // tie embedding and decoder weights (needs Emsize == Nhid)

	// Optimization
	LR        float64 // initial learning rate
	Clip      float64 // gradient norm clip threshold (<=0 disables)
	Epochs    int
	BatchSize int
	BPTT      int    // nominal window size (truncated backprop depth)
	Optimizer string // "sgd" or "adamw"

	// AdamW parameters (ignored by sgd)
	AdamBeta1   float64
	AdamBeta2   float64
	AdamEps     float64
	WeightDecay float64

	// Bookkeeping
	Seed        int64
	LogInterval int
	Save        string // checkpoint path

	// Distributed worker group
	Rank       int
	WorldSize  int
	MasterAddr string
	MasterPort int

	// Corpus mode
	BPE          bool   // encode with a trained subword tokenizer instead of the word dictionary
	BPEPath      string // tokenizer.json location (trained on demand)
	BPEVocabSize int
}

// Config holds the defaults, sized for wikitext-2 scale corpora.
var Config = TrainingConfig{
	Data:    "./data/wikitext-2",
	Cell:    "LSTM",
	Emsize:  200,
	Nhid:    200,
	Nlayers: 2,
	Dropout: 0.2,
	Tied:    false,

	LR:        20,
	Clip:      0.25,
	Epochs:    40,
	BatchSize: 20,
	BPTT:      35,
	Optimizer: "sgd",

	AdamBeta1:   0.9,
	AdamBeta2:   0.999,
	AdamEps:     1e-8,
	WeightDecay: 0.01,

	Seed:        1111,
	LogInterval: 200,
	Save:        "model.gob",

	Rank:       0,
	WorldSize:  1,
	MasterAddr: "localhost",
	MasterPort: 13245,

	BPE:          false,
	BPEPath:      "tokenizer.json",
	BPEVocabSize: 8192,
}

// EvalBatchSize is the fixed batch width for validation and test streams;
// evaluation is deterministic so the width only affects speed.
const EvalBatchSize = 10
