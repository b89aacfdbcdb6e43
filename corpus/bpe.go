package corpus

import (
	"fmt"
	"os"
	"path/filepath"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/models"
	"github.com/sugarme/tokenizer/normalizers"
	"github.com/sugarme/tokenizer/pretokenizers"
	"github.com/sugarme/tokenizer/trainers"
)

// LoadBPE is the subword alternative to Load: it trains a BPE tokenizer
// on the training split (or reloads one from tokPath) and encodes all
// three splits with it. The dictionary then maps subword pieces rather
// than whole words, which keeps the vocabulary bounded on open-ended
// corpora.
func LoadBPE(dir, tokPath string, vocabSize int) (*Corpus, error) {
	trainPath := filepath.Join(dir, "train.txt")
	t, err := trainOrLoadTokenizer(trainPath, tokPath, vocabSize)
	if err != nil {
		return nil, err
	}

	c := &Corpus{Dict: NewDictionary()}
	vocab := t.GetVocab(true)
	id2tok := make([]string, len(vocab))
	tok2id := make(map[string]int, len(vocab))
	for tok, id := range vocab {
		tok2id[tok] = id
		id2tok[id] = tok
	}
	c.Dict.Word2Idx = tok2id
	c.Dict.Idx2Word = id2tok

	if c.Train, err = encodeFile(t, trainPath); err != nil {
		return nil, err
	}
	if c.Valid, err = encodeFile(t, filepath.Join(dir, "valid.txt")); err != nil {
		return nil, err
	}
	if c.Test, err = encodeFile(t, filepath.Join(dir, "test.txt")); err != nil {
		return nil, err
	}
	return c, nil
}

func trainOrLoadTokenizer(corpusPath, tokPath string, vocabSize int) (*tk.Tokenizer, error) {
	if _, err := os.Stat(tokPath); err == nil {
		return tk.FromFile(tokPath)
	}

	bpe := models.NewBPE()
	t := tk.NewTokenizer(bpe)
	t.WithNormalizer(normalizers.NewSequence(
		normalizers.NewNFKC(),
		normalizers.NewLowercase(),
	))
	t.WithPreTokenizer(pretokenizers.NewWhitespaceSplit())

	tr := trainers.NewBpeTrainer()
	tr.VocabSize = vocabSize
	tr.SpecialTokens = []string{eosToken, "<unk>"}

	if err := t.Train(tr, []string{corpusPath}); err != nil {
		return nil, fmt.Errorf("corpus: train tokenizer: %w", err)
	}
	if dir := filepath.Dir(tokPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("corpus: %w", err)
		}
	}
	if err := t.Save(tokPath); err != nil {
		return nil, fmt.Errorf("corpus: save tokenizer: %w", err)
	}
	return t, nil
}

func encodeFile(t *tk.Tokenizer, path string) ([]int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: %w", err)
	}
	enc, err := t.EncodeSingle(string(raw))
	if err != nil {
		return nil, fmt.Errorf("corpus: encode %s: %w", path, err)
	}
	ids := make([]int, len(enc.Ids))
	for i, v := range enc.Ids {
		ids[i] = int(v)
	}
	return ids, nil
}
