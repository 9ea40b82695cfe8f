// Package dist implements the distributed counting map: minimizer-partition
// super-mers are shuffled to their owning rank over an all-to-all exchange
// and expanded into a local count table.  Each rank runs the same pipeline
// over its shard of reads:
//
//	c := dist.NewCounter(opts, comm)
//	for each local read { c.Add(codes) }
//	c.Count(ctx)
//	c.Each(func(k, n) { ... })
//
// Every rank must call Count; the collectives inside require all ranks to
// participate even when a rank holds no reads.
package dist

import (
	"context"

	"github.com/grailbio/base/log"
	"github.com/grailbio/kmerdist/balance"
	"github.com/grailbio/kmerdist/collective"
	"github.com/grailbio/kmerdist/kmer"
	"github.com/grailbio/kmerdist/supermer"
)

// Stats accumulates one rank's pipeline counters.
type Stats struct {
	Reads      uint64 // reads accepted by Add
	ShortReads uint64 // reads below K bases, dropped
	Supermers  uint64 // super-mers extracted locally
	Kmers      uint64 // k-mers those super-mers cover

	BytesSent     uint64 // wire bytes bucketed for other ranks (incl. self)
	BytesReceived uint64

	RecvSupermers uint64 // super-mers received in the exchange
	RecvKmers     uint64 // k-mers they expanded to
	Filtered      uint64 // expansions rejected by the predicate
	Distinct      uint64 // distinct k-mers in the final table
}

// smRef is one extracted super-mer, with bases stashed in Counter.arena so
// the originating read need not stay alive.
type smRef struct {
	min kmer.Mmer
	off int
	n   int // base count
}

// Counter is one rank's end of the distributed counting map.  Not
// thread-safe: the rank is single-threaded from the pipeline's perspective.
type Counter struct {
	opts Opts
	comm collective.Comm

	ext   *supermer.Extractor
	hist  balance.Histogram
	arena []kmer.Code
	sms   []smRef

	tbl     countTable
	counted bool
	stats   Stats
}

// NewCounter validates opts and returns a counter bound to one rank of
// comm.
func NewCounter(opts Opts, comm collective.Comm) (*Counter, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Counter{
		opts: opts,
		comm: comm,
		ext:  supermer.NewExtractor(opts.K, opts.M),
		hist: balance.NewHistogram(opts.M),
	}, nil
}

// Add extracts the super-mers of one read and feeds the load histogram.
// bases must contain only codes in [0,4); reads containing ambiguous bases
// must be split or dropped by the caller.  Reads shorter than K contribute
// nothing.  Add must not be called after Count.
func (c *Counter) Add(bases []kmer.Code) {
	if c.counted {
		log.Panicf("Add after Count")
	}
	if len(bases) < c.opts.K {
		c.stats.ShortReads++
		return
	}
	c.stats.Reads++
	c.ext.Extract(bases, func(s supermer.Supermer) {
		off := len(c.arena)
		c.arena = append(c.arena, s.Bases...)
		c.sms = append(c.sms, smRef{min: s.Min, off: off, n: len(s.Bases)})
		nk := uint64(s.NumKmers(c.opts.K))
		c.hist.Add(s.Min, nk)
		c.stats.Supermers++
		c.stats.Kmers += nk
	})
}

// Count runs the collective phases: histogram all-reduce, binning, the
// two-stage all-to-all exchange, and local expansion into the count table.
// All ranks must call Count the same number of times (once), in the same
// global order relative to any other collectives on comm.  Any error is a
// collective failure and is fatal to the run.
func (c *Counter) Count(ctx context.Context) error {
	if c.counted {
		log.Panicf("Count called twice")
	}
	c.counted = true
	p := c.comm.Size()

	// Phase 1: global minimizer mass.
	if err := c.hist.AllReduce(ctx, c.comm); err != nil {
		return err
	}

	// Phase 2: binning.  Identical on every rank; no communication.
	rm := balance.Bin(c.opts.Mode, c.hist, p)
	load := balance.Loads(c.hist, rm, p)
	balance.LogLoads(c.comm.Rank(), load)

	// Phase 3: stable partition into per-destination wire buffers.  Sizes
	// are counted first so each bucket is allocated exactly once.
	sendBytes := make([]int64, p)
	for _, sm := range c.sms {
		sendBytes[rm.Owner(sm.min)] += int64(supermer.WireLen(sm.n))
	}
	send := make([][]byte, p)
	for dst, n := range sendBytes {
		send[dst] = make([]byte, 0, n)
		c.stats.BytesSent += uint64(n)
	}
	for _, sm := range c.sms {
		dst := rm.Owner(sm.min)
		send[dst] = supermer.AppendWire(send[dst], supermer.Supermer{
			Min:   sm.min,
			Bases: c.arena[sm.off : sm.off+sm.n],
		})
	}
	c.sms, c.arena, c.hist = nil, nil, nil // consumed

	// Phase 4: sizes exchange, then the payload exchange.
	recvBytes, err := c.comm.AllToAll(ctx, sendBytes)
	if err != nil {
		return err
	}
	recv, err := c.comm.AllToAllv(ctx, send)
	if err != nil {
		return err
	}
	for src, buf := range recv {
		if int64(len(buf)) != recvBytes[src] {
			log.Panicf("rank %d: exchange mismatch from rank %d: announced %d bytes, got %d",
				c.comm.Rank(), src, recvBytes[src], len(buf))
		}
		c.stats.BytesReceived += uint64(len(buf))
	}

	// Phase 5: reserve, then expand and aggregate.  Addition is
	// commutative, so the source order of the received buckets is
	// irrelevant.
	total := 0
	for _, buf := range recv {
		nSup, nKmers := supermer.WireKmerCount(buf, c.opts.K)
		c.stats.RecvSupermers += uint64(nSup)
		total += nKmers
	}
	c.stats.RecvKmers = uint64(total)
	c.tbl.reserve(total)

	kMask := kmer.KmerMask(c.opts.K)
	pred := c.opts.Predicate
	for _, buf := range recv {
		rd := supermer.NewWireReader(buf)
		for {
			codes, ok := rd.Next()
			if !ok {
				break
			}
			if len(codes) < c.opts.K {
				// Cannot happen from a correct extractor; drop it rather
				// than poison the table.
				log.Error.Printf("rank %d: received supermer of %d bases, below k=%d; discarded",
					c.comm.Rank(), len(codes), c.opts.K)
				continue
			}
			kv := kmer.PackKmer(codes, c.opts.K)
			c.insert(kv, pred)
			for _, code := range codes[c.opts.K:] {
				kv = kv.Next(code, kMask)
				c.insert(kv, pred)
			}
		}
	}
	c.stats.Distinct = uint64(c.tbl.n)
	return nil
}

func (c *Counter) insert(kv kmer.Kmer, pred func(kmer.Kmer) bool) {
	if pred != nil && !pred(kv) {
		c.stats.Filtered++
		return
	}
	c.tbl.incr(kv)
}

// Each iterates the local table as (packed k-mer, count) pairs.  After
// Count, for every k-mer whose minimizer this rank owns, the count is that
// k-mer's global occurrence count; k-mers owned elsewhere are absent.
func (c *Counter) Each(f func(k kmer.Kmer, count uint64)) {
	if !c.counted {
		log.Panicf("Each before Count")
	}
	c.tbl.each(f)
}

// Get returns the local count of k, zero if absent locally.
func (c *Counter) Get(k kmer.Kmer) uint64 { return c.tbl.get(k) }

// UniqueSize returns the number of distinct k-mers in the local table.
func (c *Counter) UniqueSize() int { return c.tbl.n }

// Stats returns this rank's pipeline counters.
func (c *Counter) Stats() Stats { return c.stats }
