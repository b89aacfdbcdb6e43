package dist

import (
	"encoding/gob"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config is the externally supplied rendezvous for forming the worker
// group: every worker must know the same address, port and world size,
// plus its own rank, before the first synchronized step.
type Config struct {
	MasterAddr string
	MasterPort int
	Rank       int
	WorldSize  int
}

// Group is a fixed-size set of peer workers. Membership is established
// once at startup; there is no join or leave afterwards, and a stalled
// peer blocks the whole group. Rank 0 acts as the reduction root.
type Group struct {
	rank  int
	world int

	// On rank 0, one entry per non-zero rank; on other ranks a single
	// entry holding the connection to rank 0.
	conns []net.Conn
	encs  []*gob.Encoder
	decs  []*gob.Decoder
}

const dialRetryDelay = 500 * time.Millisecond

// dialAttempts bounds how long workers wait for rank 0 to come up.
// Once the group is formed there are no timeouts at all.
const dialAttempts = 240

// Join forms the worker group. Rank 0 listens on the rendezvous port
// and accepts world-1 peers, each identifying itself with its rank;
// other ranks dial with retry until rank 0 is up. Join blocks until
// every member has connected.
func Join(cfg Config) (*Group, error) {
	if cfg.WorldSize < 1 {
		return nil, fmt.Errorf("dist: world size %d must be >= 1", cfg.WorldSize)
	}
	if cfg.Rank < 0 || cfg.Rank >= cfg.WorldSize {
		return nil, fmt.Errorf("dist: rank %d outside [0,%d)", cfg.Rank, cfg.WorldSize)
	}
	g := &Group{rank: cfg.Rank, world: cfg.WorldSize}
	if cfg.WorldSize == 1 {
		return g, nil
	}

	if cfg.Rank == 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.MasterPort))
		if err != nil {
			return nil, fmt.Errorf("dist: rendezvous listen: %w", err)
		}
		defer ln.Close()

		g.conns = make([]net.Conn, cfg.WorldSize-1)
		g.encs = make([]*gob.Encoder, cfg.WorldSize-1)
		g.decs = make([]*gob.Decoder, cfg.WorldSize-1)
		for n := 0; n < cfg.WorldSize-1; n++ {
			conn, err := ln.Accept()
			if err != nil {
				return nil, fmt.Errorf("dist: rendezvous accept: %w", err)
			}
			dec := gob.NewDecoder(conn)
			var peer int
			if err := dec.Decode(&peer); err != nil {
				return nil, fmt.Errorf("dist: peer handshake: %w", err)
			}
			if peer < 1 || peer >= cfg.WorldSize || g.conns[peer-1] != nil {
				return nil, fmt.Errorf("dist: bad or duplicate peer rank %d", peer)
			}
			g.conns[peer-1] = conn
			g.encs[peer-1] = gob.NewEncoder(conn)
			g.decs[peer-1] = dec
		}
		return g, nil
	}

	target := fmt.Sprintf("%s:%d", cfg.MasterAddr, cfg.MasterPort)
	var conn net.Conn
	var err error
	for attempt := 0; attempt < dialAttempts; attempt++ {
		conn, err = net.Dial("tcp", target)
		if err == nil {
			break
		}
		time.Sleep(dialRetryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("dist: rendezvous dial %s: %w", target, err)
	}
	enc := gob.NewEncoder(conn)
	if err := enc.Encode(cfg.Rank); err != nil {
		return nil, fmt.Errorf("dist: peer handshake: %w", err)
	}
	g.conns = []net.Conn{conn}
	g.encs = []*gob.Encoder{enc}
	g.decs = []*gob.Decoder{gob.NewDecoder(conn)}
	return g, nil
}

// Rank reports this worker's rank.
func (g *Group) Rank() int { return g.rank }

// WorldSize reports the group size.
func (g *Group) WorldSize() int { return g.world }

// AllReduceMean replaces buf on every worker with the element-wise mean
// of all workers' buffers. It is a synchronous rendezvous: every worker
// must call it with an equal-length buffer before any returns. Errors
// are fatal to the job; the group cannot re-form.
func (g *Group) AllReduceMean(buf []float64) error {
	if g.world == 1 {
		return nil
	}

	if g.rank == 0 {
		incoming := make([][]float64, len(g.conns))
		var eg errgroup.Group
		for n := range g.conns {
			n := n
			eg.Go(func() error {
				if err := g.decs[n].Decode(&incoming[n]); err != nil {
					return fmt.Errorf("dist: recv from peer %d: %w", n+1, err)
				}
				if len(incoming[n]) != len(buf) {
					return fmt.Errorf("dist: peer %d sent %d values, want %d",
						n+1, len(incoming[n]), len(buf))
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
		inv := 1.0 / float64(g.world)
		for i := range buf {
			s := buf[i]
			for _, v := range incoming {
				s += v[i]
			}
			buf[i] = s * inv
		}
		for n := range g.conns {
			n := n
			eg.Go(func() error {
				if err := g.encs[n].Encode(buf); err != nil {
					return fmt.Errorf("dist: send to peer %d: %w", n+1, err)
				}
				return nil
			})
		}
		return eg.Wait()
	}

	if err := g.encs[0].Encode(buf); err != nil {
		return fmt.Errorf("dist: send to root: %w", err)
	}
	var reduced []float64
	if err := g.decs[0].Decode(&reduced); err != nil {
		return fmt.Errorf("dist: recv from root: %w", err)
	}
	if len(reduced) != len(buf) {
		return fmt.Errorf("dist: root sent %d values, want %d", len(reduced), len(buf))
	}
	copy(buf, reduced)
	return nil
}

// Close tears the group down. Only called on job exit; the group is not
// reusable afterwards.
func (g *Group) Close() error {
	var first error
	for _, c := range g.conns {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
