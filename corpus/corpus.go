// Package corpus loads the train/valid/test splits of a word-level
// language modeling corpus as flat token-index streams.
package corpus

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const eosToken = "<eos>"

// Dictionary maps words to dense token ids in first-seen order.
type Dictionary struct {
	Word2Idx map[string]int
	Idx2Word []string
}

func NewDictionary() *Dictionary {
	return &Dictionary{Word2Idx: make(map[string]int)}
}

// Add interns word and returns its id.
func (d *Dictionary) Add(word string) int {
	if id, ok := d.Word2Idx[word]; ok {
		return id
	}
	id := len(d.Idx2Word)
	d.Idx2Word = append(d.Idx2Word, word)
	d.Word2Idx[word] = id
	return id
}

// Len reports the vocabulary size.
func (d *Dictionary) Len() int { return len(d.Idx2Word) }

// Corpus exposes the three splits as immutable token streams over one
// shared dictionary.
type Corpus struct {
	Dict  *Dictionary
	Train []int
	Valid []int
	Test  []int
}

// Load reads train.txt, valid.txt and test.txt from dir. Each line is
// split on spaces and terminated with an <eos> token; the dictionary is
// built from all three splits so every stream is fully in-vocabulary.
func Load(dir string) (*Corpus, error) {
	c := &Corpus{Dict: NewDictionary()}
	var err error
	if c.Train, err = c.tokenize(filepath.Join(dir, "train.txt")); err != nil {
		return nil, err
	}
	if c.Valid, err = c.tokenize(filepath.Join(dir, "valid.txt")); err != nil {
		return nil, err
	}
	if c.Test, err = c.tokenize(filepath.Join(dir, "test.txt")); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Corpus) tokenize(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: %w", err)
	}
	defer f.Close()

	var ids []int
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for sc.Scan() {
		for _, w := range strings.Fields(sc.Text()) {
			ids = append(ids, c.Dict.Add(w))
		}
		ids = append(ids, c.Dict.Add(eosToken))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("corpus: scan %s: %w", path, err)
	}
	return ids, nil
}
