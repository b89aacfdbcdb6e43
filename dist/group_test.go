package dist

import (
	"math"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestJoinValidation(t *testing.T) {
	if _, err := Join(Config{Rank: 0, WorldSize: 0}); err == nil {
		t.Fatal("world size 0 accepted")
	}
	if _, err := Join(Config{Rank: 2, WorldSize: 2}); err == nil {
		t.Fatal("rank outside the world accepted")
	}
	if _, err := Join(Config{Rank: -1, WorldSize: 2}); err == nil {
		t.Fatal("negative rank accepted")
	}
}

func TestAllReduceMeanSingleWorkerIsNoop(t *testing.T) {
	g, err := Join(Config{Rank: 0, WorldSize: 1})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	defer g.Close()

	buf := []float64{1, 2, 3}
	if err := g.AllReduceMean(buf); err != nil {
		t.Fatalf("AllReduceMean: %v", err)
	}
	for i, v := range []float64{1, 2, 3} {
		if buf[i] != v {
			t.Fatalf("buf[%d]=%g, want %g", i, buf[i], v)
		}
	}
}

// runWorker joins a loopback group, reduces its buffer twice, and
// returns the buffer after the second round.
func runWorker(rank, world, port int, rounds [][]float64) ([]float64, error) {
	g, err := Join(Config{MasterAddr: "127.0.0.1", MasterPort: port, Rank: rank, WorldSize: world})
	if err != nil {
		return nil, err
	}
	defer g.Close()

	var buf []float64
	for _, round := range rounds {
		buf = append([]float64(nil), round...)
		if err := g.AllReduceMean(buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func TestAllReduceMeanLoopback(t *testing.T) {
	const (
		world = 3
		port  = 43117
	)

	// Two rounds over the same group: values 1,2,3 per worker scaled
	// by (rank+1), so the mean of round k is k * (1+2+3)/3 = 2k per
	// element times the base pattern.
	results := make([][]float64, world)
	var eg errgroup.Group
	for rank := 0; rank < world; rank++ {
		rank := rank
		eg.Go(func() error {
			scale := float64(rank + 1)
			rounds := [][]float64{
				{1 * scale, 2 * scale, 3 * scale},
				{10 * scale, 20 * scale, 30 * scale},
			}
			out, err := runWorker(rank, world, port, rounds)
			if err != nil {
				return err
			}
			results[rank] = out
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatalf("worker failed: %v", err)
	}

	// Mean scale over ranks is (1+2+3)/3 = 2, so the second round's
	// reduced buffer is {20, 40, 60} on every worker.
	want := []float64{20, 40, 60}
	for rank := 0; rank < world; rank++ {
		for i := range want {
			if math.Abs(results[rank][i]-want[i]) > 1e-12 {
				t.Fatalf("rank %d buf[%d]=%g, want %g", rank, i, results[rank][i], want[i])
			}
		}
	}
}
