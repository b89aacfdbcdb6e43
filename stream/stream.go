// Package stream reshapes a flat token-index sequence into the batched
// form the trainer consumes: a rows x width matrix whose columns are
// independent contiguous slices of the original stream.
//
// With the alphabet as the stream and width 4:
//
//	a g m s
//	b h n t
//	c i o u
//	d j p v
//	e k q w
//	f l r x
//
// Columns are treated as causally independent during training; nothing
// flows between them.
package stream

import "fmt"

// Batch is an immutable rows x width arrangement of token indices.
// Storage is column major, so column k is the k-th contiguous run of the
// truncated source stream.
type Batch struct {
	data  []int
	rows  int
	width int
}

// Batchify splits ids into width contiguous equal-length runs and arranges
// them as columns. The trailing len(ids) mod width tokens are dropped;
// that truncation is silent and intended. It fails when width is not
// positive or the stream is shorter than one token per column.
func Batchify(ids []int, width int) (*Batch, error) {
	if width <= 0 {
		return nil, fmt.Errorf("stream: batch width %d must be positive", width)
	}
	if len(ids) < width {
		return nil, fmt.Errorf("stream: %d tokens cannot fill %d columns", len(ids), width)
	}
	rows := len(ids) / width
	data := make([]int, rows*width)
	copy(data, ids[:rows*width])
	return &Batch{data: data, rows: rows, width: width}, nil
}

// Rows reports the number of time steps in the batch.
func (b *Batch) Rows() int { return b.rows }

// Width reports the number of parallel columns.
func (b *Batch) Width() int { return b.width }

// At returns the token at time step i in column j.
func (b *Batch) At(i, j int) int {
	if i < 0 || i >= b.rows || j < 0 || j >= b.width {
		panic(fmt.Sprintf("stream: index (%d,%d) out of range %dx%d", i, j, b.rows, b.width))
	}
	return b.data[j*b.rows+i]
}

// Window slices one training step starting at offset i with nominal
// length w, clamped to the usable range. The input is seq rows of width
// tokens; the target is the input shifted one step forward, flattened
// row major (all columns at step 0, then step 1, ...) to match the row
// order of the model's output scores. ok is false once i is at or past
// the last usable row, which is the normal end-of-pass signal rather
// than an error.
func (b *Batch) Window(i, w int) (input [][]int, target []int, ok bool) {
	seq := b.rows - 1 - i
	if seq <= 0 {
		return nil, nil, false
	}
	if w < seq {
		seq = w
	}
	if seq <= 0 {
		return nil, nil, false
	}
	input = make([][]int, seq)
	target = make([]int, 0, seq*b.width)
	for t := 0; t < seq; t++ {
		row := make([]int, b.width)
		for j := 0; j < b.width; j++ {
			row[j] = b.At(i+t, j)
			target = append(target, b.At(i+1+t, j))
		}
		input[t] = row
	}
	return input, target, true
}
