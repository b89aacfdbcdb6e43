package dist

import "testing"

func TestPartitionUnionIsSequentialGrid(t *testing.T) {
	const (
		window = 35
		world  = 4
		limit  = 1000
	)
	seen := map[int]int{}
	for rank := 0; rank < world; rank++ {
		p := Partitioner{Rank: rank, WorldSize: world, Window: window}
		for off := range p.Offsets(limit) {
			if prev, dup := seen[off]; dup {
				t.Fatalf("offset %d owned by both rank %d and rank %d", off, prev, rank)
			}
			seen[off] = rank
		}
	}
	for off := 0; off < limit; off += window {
		if _, ok := seen[off]; !ok {
			t.Fatalf("offset %d owned by no rank", off)
		}
	}
	if len(seen) != (limit+window-1)/window {
		t.Fatalf("got %d offsets total, want %d", len(seen), (limit+window-1)/window)
	}
}

func TestPartitionSingleWorkerIsSequential(t *testing.T) {
	p := Partitioner{Rank: 0, WorldSize: 1, Window: 10}
	want := 0
	for off := range p.Offsets(95) {
		if off != want {
			t.Fatalf("got offset %d, want %d", off, want)
		}
		want += 10
	}
	if want != 100 {
		t.Fatalf("walked to %d, want 100", want)
	}
}

func TestPartitionFirstAndStride(t *testing.T) {
	p := Partitioner{Rank: 2, WorldSize: 3, Window: 7}
	if p.First() != 14 {
		t.Fatalf("First()=%d, want 14", p.First())
	}
	if p.Stride() != 21 {
		t.Fatalf("Stride()=%d, want 21", p.Stride())
	}
}

func TestPartitionRankPastLimitYieldsNothing(t *testing.T) {
	p := Partitioner{Rank: 5, WorldSize: 6, Window: 35}
	for off := range p.Offsets(100) {
		t.Fatalf("unexpected offset %d for a rank whose first window starts past the data", off)
	}
}
