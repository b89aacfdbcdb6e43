package corpus

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCorpus(t *testing.T, train, valid, test string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{
		"train.txt": train,
		"valid.txt": valid,
		"test.txt":  test,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestDictionaryInternsInOrder(t *testing.T) {
	d := NewDictionary()
	if id := d.Add("the"); id != 0 {
		t.Fatalf("first word got id %d, want 0", id)
	}
	if id := d.Add("cat"); id != 1 {
		t.Fatalf("second word got id %d, want 1", id)
	}
	if id := d.Add("the"); id != 0 {
		t.Fatalf("repeated word got id %d, want 0", id)
	}
	if d.Len() != 2 {
		t.Fatalf("Len()=%d, want 2", d.Len())
	}
	if d.Idx2Word[1] != "cat" {
		t.Fatalf("Idx2Word[1]=%q, want cat", d.Idx2Word[1])
	}
}

func TestLoadSharesDictionaryAcrossSplits(t *testing.T) {
	dir := writeCorpus(t,
		"the cat sat\non the mat\n",
		"the dog sat\n",
		"a cat\n")
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Two lines, three words each, plus one <eos> per line.
	if len(c.Train) != 8 {
		t.Fatalf("train stream has %d tokens, want 8", len(c.Train))
	}
	if len(c.Valid) != 4 || len(c.Test) != 3 {
		t.Fatalf("valid/test streams have %d/%d tokens, want 4/3", len(c.Valid), len(c.Test))
	}

	// "the" appears in every split and must map to one id.
	theID, ok := c.Dict.Word2Idx["the"]
	if !ok {
		t.Fatal("the is not in the dictionary")
	}
	if c.Train[0] != theID || c.Valid[0] != theID {
		t.Fatal("splits disagree on the id of a shared word")
	}

	// Every stream must be in-vocabulary.
	for _, stream := range [][]int{c.Train, c.Valid, c.Test} {
		for _, id := range stream {
			if id < 0 || id >= c.Dict.Len() {
				t.Fatalf("token id %d outside vocabulary of size %d", id, c.Dict.Len())
			}
		}
	}
}

func TestLoadAppendsEOSPerLine(t *testing.T) {
	dir := writeCorpus(t, "a b\nc\n", "x\n", "y\n")
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	eos, ok := c.Dict.Word2Idx["<eos>"]
	if !ok {
		t.Fatal("<eos> is not in the dictionary")
	}
	if c.Train[2] != eos || c.Train[4] != eos {
		t.Fatalf("train stream %v does not end each line with <eos> id %d", c.Train, eos)
	}
}

func TestLoadMissingSplit(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "train.txt"), []byte("a\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("loading with missing splits succeeded")
	}
}
