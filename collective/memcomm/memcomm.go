// Package memcomm implements collective.Comm for P ranks running as
// goroutines inside one process.  Each collective is a rendezvous: the last
// rank to arrive combines the P contributions and releases the others.  The
// collective discipline (same operations, same order, on every rank) is
// identical to a multi-process MPI deployment; only the transport differs.
package memcomm

import (
	"context"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/kmerdist/collective"
)

type opKind int

const (
	opAllReduce opKind = iota
	opAllToAll
	opAllToAllv
)

var opName = map[opKind]string{
	opAllReduce: "allreduce",
	opAllToAll:  "alltoall",
	opAllToAllv: "alltoallv",
}

// round is one in-flight collective.
type round struct {
	kind opKind
	ins  []interface{}
	n    int
	// done is closed once outs and err are final, either by the last
	// arriver or by a rank that failed while waiting.
	done   chan struct{}
	closed bool
	outs   []interface{}
	err    error
}

type hub struct {
	size int
	mu   sync.Mutex
	cur  *round
	// err, once set, fails this and every subsequent collective on every
	// rank: a collective failure is not recoverable.
	err error
}

type comm struct {
	hub  *hub
	rank int
}

// New returns the P linked endpoints of a fresh communicator.
func New(p int) []collective.Comm {
	if p <= 0 {
		log.Panicf("memcomm: nonpositive size %d", p)
	}
	h := &hub{size: p}
	comms := make([]collective.Comm, p)
	for i := range comms {
		comms[i] = &comm{hub: h, rank: i}
	}
	return comms
}

func (c *comm) Rank() int { return c.rank }
func (c *comm) Size() int { return c.hub.size }

// exchange runs one collective round.  combine is invoked exactly once per
// round, by the last-arriving rank, with the P contributions in rank order.
func (c *comm) exchange(ctx context.Context, kind opKind, in interface{},
	combine func(ins []interface{}) []interface{}) (interface{}, error) {
	h := c.hub
	h.mu.Lock()
	if h.err == nil {
		if err := ctx.Err(); err != nil {
			// A rank that cannot enter a collective fails it for every
			// rank, including those already waiting in the current round.
			h.err = errors.E(err, "collective failed:", opName[kind])
			if h.cur != nil && !h.cur.closed {
				h.cur.err = h.err
				h.cur.closed = true
				close(h.cur.done)
			}
			h.cur = nil
		}
	}
	if h.err != nil {
		err := h.err
		h.mu.Unlock()
		return nil, err
	}
	r := h.cur
	if r == nil {
		r = &round{
			kind: kind,
			ins:  make([]interface{}, h.size),
			done: make(chan struct{}),
		}
		h.cur = r
	}
	if r.kind != kind {
		log.Panicf("memcomm: rank %d entered %s while a %s is in flight; collectives must be entered in the same order on every rank",
			c.rank, opName[kind], opName[r.kind])
	}
	if r.ins[c.rank] != nil {
		log.Panicf("memcomm: rank %d entered %s twice in one round", c.rank, opName[kind])
	}
	r.ins[c.rank] = in
	r.n++
	last := r.n == h.size
	if last {
		h.cur = nil
	}
	h.mu.Unlock()

	if last {
		outs := combine(r.ins)
		h.mu.Lock()
		if !r.closed {
			r.outs = outs
			r.closed = true
			close(r.done)
		}
		h.mu.Unlock()
	} else {
		select {
		case <-r.done:
		case <-ctx.Done():
			// This rank cannot complete the collective, so no rank can.
			// Poison the hub and release the waiters.
			err := errors.E(ctx.Err(), "collective failed:", opName[kind])
			h.mu.Lock()
			if h.err == nil {
				h.err = err
			}
			if !r.closed {
				r.err = h.err
				r.closed = true
				close(r.done)
			}
			h.mu.Unlock()
			<-r.done
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.outs[c.rank], nil
}

func (c *comm) AllReduceUint64(ctx context.Context, inout []uint64) error {
	out, err := c.exchange(ctx, opAllReduce, inout, func(ins []interface{}) []interface{} {
		sum := make([]uint64, len(inout))
		for _, in := range ins {
			v := in.([]uint64)
			if len(v) != len(sum) {
				log.Panicf("memcomm: allreduce length mismatch: %d vs %d", len(v), len(sum))
			}
			for i, x := range v {
				sum[i] += x
			}
		}
		outs := make([]interface{}, len(ins))
		for i := range outs {
			outs[i] = sum
		}
		return outs
	})
	if err != nil {
		return err
	}
	copy(inout, out.([]uint64))
	return nil
}

func (c *comm) AllToAll(ctx context.Context, send []int64) ([]int64, error) {
	if len(send) != c.hub.size {
		log.Panicf("memcomm: alltoall with %d entries on a size-%d communicator", len(send), c.hub.size)
	}
	out, err := c.exchange(ctx, opAllToAll, send, func(ins []interface{}) []interface{} {
		outs := make([]interface{}, len(ins))
		for dst := range ins {
			recv := make([]int64, len(ins))
			for src, in := range ins {
				recv[src] = in.([]int64)[dst]
			}
			outs[dst] = recv
		}
		return outs
	})
	if err != nil {
		return nil, err
	}
	return out.([]int64), nil
}

func (c *comm) AllToAllv(ctx context.Context, send [][]byte) ([][]byte, error) {
	if len(send) != c.hub.size {
		log.Panicf("memcomm: alltoallv with %d buckets on a size-%d communicator", len(send), c.hub.size)
	}
	out, err := c.exchange(ctx, opAllToAllv, send, func(ins []interface{}) []interface{} {
		outs := make([]interface{}, len(ins))
		for dst := range ins {
			recv := make([][]byte, len(ins))
			for src, in := range ins {
				// Copy: received buffers must not alias the sender's.
				recv[src] = append([]byte(nil), in.([][]byte)[dst]...)
			}
			outs[dst] = recv
		}
		return outs
	})
	if err != nil {
		return nil, err
	}
	return out.([][]byte), nil
}
