// Package balance decides which rank owns each minimizer.  Each rank tallies
// the k-mer mass of its local minimizers into a dense histogram, the
// histograms are sum-reduced so every rank sees the global mass, and every
// rank then runs the identical, deterministic binning over the result.  No
// further communication is needed: identical input plus identical algorithm
// yields an identical minimizer-to-rank map everywhere.
package balance

import (
	"context"
	"encoding/binary"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/kmerdist/collective"
	"github.com/grailbio/kmerdist/kmer"
	"github.com/spaolacci/murmur3"
)

// Mode selects the binning policy.
type Mode int

const (
	// GreedyBinning assigns minimizers to ranks by descending global mass,
	// each to the currently least-loaded rank (LPT).  Default.
	GreedyBinning Mode = iota
	// HashMod assigns minimizer v to rank murmur3(v) mod P.  Cheap
	// fallback; even only when the mass is roughly uniform.
	HashMod
)

func (m Mode) String() string {
	if m == HashMod {
		return "hash-mod"
	}
	return "greedy-binning"
}

// ParseMode converts a -load-balance flag value.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "greedy-binning":
		return GreedyBinning, true
	case "hash-mod":
		return HashMod, true
	}
	return 0, false
}

// Histogram counts k-mer occurrences per minimizer value.  Index is the
// packed m-mer; length is 4^M.
type Histogram []uint64

// NewHistogram returns a zeroed histogram for minimizer length m.
func NewHistogram(m int) Histogram {
	return make(Histogram, kmer.NumMmers(m))
}

// Add records n k-mers whose minimizer is min.
func (h Histogram) Add(min kmer.Mmer, n uint64) { h[min] += n }

// Total returns the summed mass.  After AllReduce it equals the global
// number of k-mer occurrences.
func (h Histogram) Total() uint64 {
	var t uint64
	for _, v := range h {
		t += v
	}
	return t
}

// AllReduce replaces the local tallies with the global ones, identically on
// every rank.
func (h Histogram) AllReduce(ctx context.Context, comm collective.Comm) error {
	return comm.AllReduceUint64(ctx, h)
}

// RankMap assigns an owning rank to every minimizer value.
type RankMap []int32

// Owner returns the rank owning minimizer min.
func (rm RankMap) Owner(min kmer.Mmer) int { return int(rm[min]) }

// Bin computes the minimizer-to-rank map for the given mode.
func Bin(mode Mode, h Histogram, p int) RankMap {
	if mode == HashMod {
		return HashModBin(len(h), p)
	}
	return GreedyBin(h, p)
}

// GreedyBin is LPT makespan minimization over identical machines: walk the
// minimizers by strictly decreasing global mass (ties by ascending
// minimizer) and give each to the currently least-loaded rank (ties to the
// lowest rank id).  Zero-mass minimizers are dealt round-robin so tie-breaks
// do not pile them all on rank 0.
func GreedyBin(h Histogram, p int) RankMap {
	order := make([]int, len(h))
	for i := range order {
		order[i] = i
	}
	// SliceStable over the pre-ordered indices leaves equal-mass
	// minimizers in ascending index order, making the permutation, and
	// hence the map, byte-identical on every rank.
	sort.SliceStable(order, func(i, j int) bool {
		return h[order[i]] > h[order[j]]
	})

	rm := make(RankMap, len(h))
	load := make([]uint64, p)
	rr := 0
	for _, min := range order {
		if h[min] == 0 {
			rm[min] = int32(rr)
			rr = (rr + 1) % p
			continue
		}
		argmin := 0
		for r := 1; r < p; r++ {
			if load[r] < load[argmin] {
				argmin = r
			}
		}
		rm[min] = int32(argmin)
		load[argmin] += h[min]
	}
	return rm
}

// HashModBin ignores the histogram and buckets minimizer v to
// murmur3(v) mod p.
func HashModBin(nMin, p int) RankMap {
	rm := make(RankMap, nMin)
	var buf [4]byte
	for v := range rm {
		binary.LittleEndian.PutUint32(buf[:], uint32(v))
		rm[v] = int32(murmur3.Sum32(buf[:]) % uint32(p))
	}
	return rm
}

// Loads returns the per-rank k-mer mass implied by the map.
func Loads(h Histogram, rm RankMap, p int) []uint64 {
	load := make([]uint64, p)
	for min, v := range h {
		load[rm[min]] += v
	}
	return load
}

// LogLoads reports the balance quality once, from rank 0.
func LogLoads(rank int, load []uint64) {
	if rank != 0 {
		return
	}
	var max, total uint64
	for _, l := range load {
		if l > max {
			max = l
		}
		total += l
	}
	mean := float64(total) / float64(len(load))
	skew := 0.0
	if mean > 0 {
		skew = float64(max) / mean
	}
	log.Printf("binning: %d ranks, total %d kmers, max load %d, mean %.1f, skew %.3f",
		len(load), total, max, mean, skew)
}
