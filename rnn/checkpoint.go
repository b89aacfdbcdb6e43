package rnn

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math/rand"
	"os"

	"gonum.org/v1/gonum/mat"
)

// Checkpoints are gob snapshots of the raw weight data. A write fully
// replaces the previous snapshot; the epoch controller decides when.

type matData struct {
	R, C int
	Data []float64
}

type cellData struct {
	Wih, Whh, Bih, Bhh matData
}

type modelData struct {
	Kind    int
	Vocab   int
	Emsize  int
	Nhid    int
	Layers  int
	Dropout float64
	Tied    bool

	Emb   matData
	Cells []cellData
	DecW  matData
	DecB  matData
}

func packMat(m *mat.Dense) matData {
	if m == nil {
		return matData{}
	}
	r, c := m.Dims()
	raw := mat.DenseCopyOf(m).RawMatrix()
	return matData{R: r, C: c, Data: append([]float64(nil), raw.Data...)}
}

func unpackMat(d matData) *mat.Dense {
	if d.R == 0 {
		return nil
	}
	return mat.NewDense(d.R, d.C, append([]float64(nil), d.Data...))
}

// Save persists the full model snapshot to path, overwriting any
// previous snapshot.
func Save(path string, m *Model) error {
	data := modelData{
		Kind:    int(m.Kind),
		Vocab:   m.Vocab,
		Emsize:  m.Emsize,
		Nhid:    m.Nhid,
		Layers:  m.Layers,
		Dropout: m.Dropout,
		Tied:    m.Tied,
		Emb:     packMat(m.Emb),
		DecW:    packMat(m.DecW),
		DecB:    packMat(m.DecB),
	}
	data.Cells = make([]cellData, len(m.Cells))
	for i, c := range m.Cells {
		data.Cells[i] = cellData{
			Wih: packMat(c.Wih),
			Whh: packMat(c.Whh),
			Bih: packMat(c.Bih),
			Bhh: packMat(c.Bhh),
		}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&data); err != nil {
		return fmt.Errorf("rnn: encode checkpoint: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("rnn: write checkpoint: %w", err)
	}
	return nil
}

// Load reconstructs a model from a snapshot written by Save. rng seeds
// the dropout stream of the restored model.
func Load(path string, rng *rand.Rand) (*Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rnn: read checkpoint: %w", err)
	}
	var data modelData
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&data); err != nil {
		return nil, fmt.Errorf("rnn: decode checkpoint: %w", err)
	}

	m, err := New(CellKind(data.Kind), data.Vocab, data.Emsize, data.Nhid,
		data.Layers, data.Dropout, data.Tied, rng)
	if err != nil {
		return nil, err
	}
	m.Emb = unpackMat(data.Emb)
	m.DecW = unpackMat(data.DecW)
	m.DecB = unpackMat(data.DecB)
	for i, cd := range data.Cells {
		c := m.Cells[i]
		c.Wih = unpackMat(cd.Wih)
		c.Whh = unpackMat(cd.Whh)
		c.Bih = unpackMat(cd.Bih)
		c.Bhh = unpackMat(cd.Bhh)
	}
	return m, nil
}
