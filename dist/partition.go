// Package dist partitions training steps across a fixed worker group
// and synchronizes gradients between the workers once per step.
package dist

import "iter"

// Partitioner assigns disjoint window offsets to one worker of a
// fixed-size group. Rank r owns offsets r*W, r*W + W*world, ... so the
// union over all ranks is the plain sequential offset grid 0, W, 2W, …
// with no overlap and no gap. A single worker degenerates to the
// sequential grid.
type Partitioner struct {
	Rank      int
	WorldSize int
	Window    int
}

// First is the first offset owned by this rank.
func (p Partitioner) First() int { return p.Window * p.Rank }

// Stride is the distance between consecutive owned offsets.
func (p Partitioner) Stride() int { return p.Window * p.WorldSize }

// Offsets yields this rank's offsets below limit, in order. The
// sequence is finite and can be ranged over any number of times.
func (p Partitioner) Offsets(limit int) iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := p.First(); i < limit; i += p.Stride() {
			if !yield(i) {
				return
			}
		}
	}
}
