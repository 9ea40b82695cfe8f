package memcomm

import (
	"context"
	"fmt"
	"testing"

	"github.com/grailbio/kmerdist/collective"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// run invokes body once per rank, each on its own goroutine, and waits.
func run(t *testing.T, comms []collective.Comm, body func(c collective.Comm) error) {
	g := errgroup.Group{}
	for _, c := range comms {
		c := c
		g.Go(func() error { return body(c) })
	}
	require.NoError(t, g.Wait())
}

func TestAllReduce(t *testing.T) {
	for _, p := range []int{1, 2, 5} {
		comms := New(p)
		run(t, comms, func(c collective.Comm) error {
			local := []uint64{uint64(c.Rank()), 1, 0}
			if err := c.AllReduceUint64(context.Background(), local); err != nil {
				return err
			}
			want := []uint64{uint64(p * (p - 1) / 2), uint64(p), 0}
			assert.Equal(t, want, local, "p=%d rank=%d", p, c.Rank())
			return nil
		})
	}
}

func TestAllToAllTranspose(t *testing.T) {
	const p = 4
	comms := New(p)
	run(t, comms, func(c collective.Comm) error {
		send := make([]int64, p)
		for dst := range send {
			send[dst] = int64(c.Rank()*100 + dst)
		}
		recv, err := c.AllToAll(context.Background(), send)
		if err != nil {
			return err
		}
		for src := range recv {
			// recv[src] is what src sent to us.
			assert.Equal(t, int64(src*100+c.Rank()), recv[src])
		}
		return nil
	})
}

func TestAllToAllv(t *testing.T) {
	const p = 3
	comms := New(p)
	run(t, comms, func(c collective.Comm) error {
		send := make([][]byte, p)
		for dst := range send {
			send[dst] = []byte(fmt.Sprintf("%d->%d", c.Rank(), dst))
		}
		recv, err := c.AllToAllv(context.Background(), send)
		if err != nil {
			return err
		}
		for src := range recv {
			assert.Equal(t, fmt.Sprintf("%d->%d", src, c.Rank()), string(recv[src]))
		}
		// Received buffers must not alias the sender's.
		recv[0][0] = 'x'
		return nil
	})
}

func TestSequencedCollectives(t *testing.T) {
	// Several rounds back to back; each round's result feeds the next.
	const p = 4
	comms := New(p)
	run(t, comms, func(c collective.Comm) error {
		ctx := context.Background()
		v := []uint64{1}
		for round := 0; round < 10; round++ {
			if err := c.AllReduceUint64(ctx, v); err != nil {
				return err
			}
		}
		// Each round multiplies by p.
		want := uint64(1)
		for round := 0; round < 10; round++ {
			want *= p
		}
		assert.Equal(t, want, v[0])
		return nil
	})
}

func TestCancelPoisonsAllRanks(t *testing.T) {
	const p = 3
	comms := New(p)
	cancelled, cancel := context.WithCancel(context.Background())
	g := errgroup.Group{}
	for _, c := range comms {
		c := c
		g.Go(func() error {
			ctx := context.Background()
			if c.Rank() == 0 {
				// Rank 0 never shows up for the collective; its context is
				// cancelled while the others wait.
				<-cancelled.Done()
				_, err := c.AllToAll(cancelled, make([]int64, p))
				return err
			}
			_, err := c.AllToAll(ctx, make([]int64, p))
			return err
		})
	}
	cancel()
	err := g.Wait()
	require.Error(t, err)

	// The communicator is unusable afterwards.
	assert.Error(t, comms[1].AllReduceUint64(context.Background(), []uint64{1}))
}
